// Package relay delivers host messages to registered handlers and hands their
// results back to the host.
package relay

import (
	"fmt"

	"github.com/zot/xwalk-lua/internal/registry"
)

// Logger is a verbosity-leveled logger, such as *config.Config.
type Logger interface {
	Log(level int, format string, args ...interface{})
}

// Replier is the part of the host a relay writes to.
type Replier interface {
	PostMessage(instance int32, message string)
	SetSyncReply(instance int32, reply string)
}

// Relay converts host message deliveries into handler invocations.
// The host serializes calls, so Relay does no locking.
type Relay struct {
	registry *registry.Registry
	host     Replier
	log      Logger
}

// New creates a relay over reg. host may be nil until the plugin is wired to
// a host; PostMessage fails until then.
func New(reg *registry.Registry, host Replier, log Logger) *Relay {
	return &Relay{registry: reg, host: host, log: log}
}

// SetHost attaches the host messaging interface.
func (r *Relay) SetHost(host Replier) {
	r.host = host
}

// Log logs a message via the configured logger.
func (r *Relay) Log(level int, format string, args ...interface{}) {
	if r.log != nil {
		r.log.Log(level, format, args...)
	}
}

// OnMessage handles a fire-and-forget message. Messages for instances without
// a handler are dropped.
func (r *Relay) OnMessage(instance int32, payload string) {
	h, ok := r.registry.MessageHandler(instance)
	if !ok {
		r.Log(3, "relay: dropped message for instance %d (no handler)", instance)
		return
	}
	r.Log(3, "relay: message for instance %d: %s", instance, payload)
	result := r.invoke(h, instance, payload)
	if result.Kind == registry.Failed {
		r.Log(0, "relay: message handler for instance %d failed: %v", instance, result.Err)
	}
}

// OnSyncMessage handles a synchronous message. The host is given exactly one
// reply per call, "" whenever there is no usable result.
func (r *Relay) OnSyncMessage(instance int32, payload string) {
	reply := ""
	defer func() {
		r.Log(3, "relay: sync reply for instance %d: %s", instance, reply)
		if r.host != nil {
			r.host.SetSyncReply(instance, reply)
		}
	}()

	h, ok := r.registry.SyncMessageHandler(instance)
	if !ok {
		r.Log(2, "relay: no sync handler for instance %d", instance)
		return
	}
	r.Log(3, "relay: sync message for instance %d: %s", instance, payload)
	result := r.invoke(h, instance, payload)
	switch result.Kind {
	case registry.Failed:
		r.Log(0, "relay: sync handler for instance %d failed: %v", instance, result.Err)
	case registry.NoValue:
		r.Log(2, "relay: sync handler for instance %d returned no value", instance)
	}
	reply = result.Reply()
}

// invoke calls h, turning a panic into a Failed result.
func (r *Relay) invoke(h registry.Handler, instance int32, payload string) (result registry.Result) {
	defer func() {
		if p := recover(); p != nil {
			result = registry.Failure(fmt.Errorf("panic: %v", p))
		}
	}()
	return h.Invoke(instance, payload)
}

// PostMessage forwards a message from the extension to JavaScript.
func (r *Relay) PostMessage(instance int32, message string) bool {
	if r.host == nil {
		r.Log(0, "relay: PostMessage for instance %d before the host is attached", instance)
		return false
	}
	if instance < 0 {
		r.Log(2, "relay: PostMessage for negative instance %d", instance)
		return false
	}
	r.Log(3, "relay: post to instance %d: %s", instance, message)
	r.host.PostMessage(instance, message)
	return true
}
