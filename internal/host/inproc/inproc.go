// Package inproc is a host.Host that lives in the same process as the plugin.
// It drives the plugin the way the browser runtime does: it allocates
// instance ids, fires the lifecycle trampolines and delivers messages.
// Callers serialize access, as the real host does.
package inproc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/zot/xwalk-lua/internal/host"
	"github.com/zot/xwalk-lua/internal/trampoline"
)

// ErrNoReply is returned when a sync delivery did not produce exactly one reply.
var ErrNoReply = errors.New("sync message produced no reply")

// ErrShutdown is returned for deliveries after shutdown.
var ErrShutdown = errors.New("extension is shut down")

// Posted is a message the extension posted to an instance.
type Posted struct {
	Instance int32
	Message  string
}

// Host is an in-process host.Host.
type Host struct {
	vars       map[string]string
	preload    func(library string) error
	preloaded  []string
	table      *trampoline.Table
	nextID     int32
	live       map[int32]bool
	mu         sync.Mutex
	sink       func(instance int32, message string)
	posted     []Posted
	replies    []string
	inSync     bool
	isShutdown bool

	Name       string
	JavaScript string

	created, destroyed uintptr
	shutdown           host.ShutdownHandler
	onMessage          host.MessageHandler
	onSyncMessage      host.SyncMessageHandler
}

var _ host.Host = (*Host)(nil)

// New creates a host. extensionPath, if not empty, is published JSON-quoted as
// the extension_path runtime variable.
func New(extensionPath string) *Host {
	h := &Host{
		vars:  make(map[string]string),
		table: trampoline.NewTable(0),
		live:  make(map[int32]bool),
	}
	if extensionPath != "" {
		quoted, _ := json.Marshal(extensionPath)
		h.vars[host.ExtensionPathVariable] = string(quoted)
	}
	return h
}

// SetRuntimeVariable sets a raw runtime variable.
func (h *Host) SetRuntimeVariable(name, value string) {
	h.vars[name] = value
}

// SetPreloader replaces the library preloader, which otherwise only records names.
func (h *Host) SetPreloader(fn func(library string) error) {
	h.preload = fn
}

// Preloaded returns the libraries the plugin asked to preload.
func (h *Host) Preloaded() []string {
	return h.preloaded
}

// SetSink routes posted messages to fn instead of recording them.
func (h *Host) SetSink(fn func(instance int32, message string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sink = fn
}

// Posted returns the recorded posted messages.
func (h *Host) Posted() []Posted {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Posted(nil), h.posted...)
}

// Trampolines returns the in-process trampoline table.
func (h *Host) Trampolines() trampoline.Factory {
	return h.table
}

// TrampolineTable exposes the table for callers that invoke pointers directly.
func (h *Host) TrampolineTable() *trampoline.Table {
	return h.table
}

// Preload records library and runs the preloader, if any.
func (h *Host) Preload(library string) error {
	h.preloaded = append(h.preloaded, library)
	if h.preload != nil {
		return h.preload(library)
	}
	return nil
}

// RuntimeVariable returns a runtime variable.
func (h *Host) RuntimeVariable(name string) (string, bool) {
	v, ok := h.vars[name]
	return v, ok
}

func (h *Host) SetExtensionName(name string) { h.Name = name }
func (h *Host) SetJavaScriptAPI(api string)  { h.JavaScript = api }

func (h *Host) RegisterInstanceCallbacks(created, destroyed uintptr) {
	h.created, h.destroyed = created, destroyed
}

func (h *Host) RegisterShutdownCallback(fn host.ShutdownHandler) { h.shutdown = fn }
func (h *Host) RegisterMessageHandler(fn host.MessageHandler)    { h.onMessage = fn }
func (h *Host) RegisterSyncMessageHandler(fn host.SyncMessageHandler) {
	h.onSyncMessage = fn
}

// InstanceCallbacks returns the registered lifecycle pointers.
func (h *Host) InstanceCallbacks() (created, destroyed uintptr) {
	return h.created, h.destroyed
}

// Ready reports whether the plugin registered its message entry points.
func (h *Host) Ready() bool {
	return h.onMessage != nil && h.onSyncMessage != nil && !h.isShutdown
}

// PostMessage delivers a message from the extension to JavaScript.
func (h *Host) PostMessage(instance int32, message string) {
	h.mu.Lock()
	sink := h.sink
	if sink == nil {
		h.posted = append(h.posted, Posted{instance, message})
	}
	h.mu.Unlock()
	if sink != nil {
		sink(instance, message)
	}
}

// SetSyncReply records the reply for the sync message being delivered.
func (h *Host) SetSyncReply(instance int32, reply string) {
	if !h.inSync {
		return
	}
	h.replies = append(h.replies, reply)
}

// NextInstance returns the id the next CreateInstance allocates.
func (h *Host) NextInstance() int32 {
	return h.nextID
}

// CreateInstance allocates an instance id and fires the instance-created
// trampoline.
func (h *Host) CreateInstance() (int32, error) {
	if h.isShutdown {
		return 0, ErrShutdown
	}
	id := h.nextID
	h.nextID++
	h.live[id] = true
	h.table.Invoke(h.created, id)
	return id, nil
}

// DestroyInstance fires the instance-destroyed trampoline for a live instance.
func (h *Host) DestroyInstance(instance int32) {
	if h.isShutdown || !h.live[instance] {
		return
	}
	delete(h.live, instance)
	h.table.Invoke(h.destroyed, instance)
}

// Live returns the number of live instances.
func (h *Host) Live() int {
	return len(h.live)
}

// Send delivers an async message.
func (h *Host) Send(instance int32, message string) error {
	if h.isShutdown {
		return ErrShutdown
	}
	if h.onMessage == nil {
		return fmt.Errorf("no message handler registered")
	}
	h.onMessage(instance, message)
	return nil
}

// SendSync delivers a sync message and returns the reply. It fails unless the
// plugin replied exactly once.
func (h *Host) SendSync(instance int32, message string) (string, error) {
	if h.isShutdown {
		return "", ErrShutdown
	}
	if h.onSyncMessage == nil {
		return "", fmt.Errorf("no sync message handler registered")
	}
	h.replies = h.replies[:0]
	h.inSync = true
	h.onSyncMessage(instance, message)
	h.inSync = false
	if len(h.replies) != 1 {
		return "", fmt.Errorf("%w: got %d replies", ErrNoReply, len(h.replies))
	}
	return h.replies[0], nil
}

// Shutdown destroys live instances and runs the shutdown callback once.
func (h *Host) Shutdown() {
	if h.isShutdown {
		return
	}
	for id := range h.live {
		h.DestroyInstance(id)
	}
	h.isShutdown = true
	if h.shutdown != nil {
		h.shutdown()
	}
}
