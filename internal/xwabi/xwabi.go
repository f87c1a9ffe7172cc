// Package xwabi implements host.Host over the Crosswalk extension C ABI.
//
// The host hands the plugin a get_interface function; every interface it
// returns is a C struct of function pointers, read here as a pointer array
// and bound to Go function values with purego.
package xwabi

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/zot/xwalk-lua/internal/config"
	"github.com/zot/xwalk-lua/internal/host"
	"github.com/zot/xwalk-lua/internal/plugin"
	"github.com/zot/xwalk-lua/internal/trampoline"
)

// Interface names, as the host's get_interface expects them.
const (
	CoreInterface          = "XW_CoreInterface_1"
	MessagingInterface     = "XW_MessagingInterface_1"
	SyncMessagingInterface = "XW_Internal_SyncMessagingInterface_1"
	RuntimeInterface       = "XW_Internal_RuntimeInterface_1"
)

// runtimeVariableSize is the buffer handed to GetRuntimeVariableString.
const runtimeVariableSize = 4096

// Function table sizes, in pointers.
const (
	coreFuncs          = 6
	messagingFuncs     = 2
	syncMessagingFuncs = 2
	runtimeFuncs       = 1
)

type coreInterface struct {
	setExtensionName          func(extension int32, name string)
	setJavaScriptAPI          func(extension int32, api string)
	registerInstanceCallbacks func(extension int32, created, destroyed uintptr)
	registerShutdownCallback  func(extension int32, shutdown uintptr)
}

type messagingInterface struct {
	register    func(extension int32, handler uintptr)
	postMessage func(instance int32, message string)
}

type syncMessagingInterface struct {
	register     func(extension int32, handler uintptr)
	setSyncReply func(instance int32, reply string)
}

type runtimeInterface struct {
	getRuntimeVariableString func(extension int32, key string, value uintptr, valueLen uint32)
}

// Host is the native host for one extension handle.
type Host struct {
	extension    int32
	getInterface func(name string) uintptr

	core      *coreInterface
	messaging *messagingInterface
	sync      *syncMessagingInterface
	runtime   *runtimeInterface

	// native callbacks handed to the host; purego never frees them
	shutdownCallback uintptr
	messageCallback  uintptr
	syncCallback     uintptr
}

var _ host.Host = (*Host)(nil)

// New binds the host interfaces reachable through getInterface. The core,
// messaging and sync messaging interfaces are required.
func New(extension int32, getInterface uintptr) (*Host, error) {
	if getInterface == 0 {
		return nil, fmt.Errorf("get_interface is NULL")
	}
	h := &Host{extension: extension}
	purego.RegisterFunc(&h.getInterface, getInterface)

	if fns, err := h.table(CoreInterface, coreFuncs, true); err != nil {
		return nil, err
	} else {
		h.core = &coreInterface{}
		purego.RegisterFunc(&h.core.setExtensionName, fns[0])
		purego.RegisterFunc(&h.core.setJavaScriptAPI, fns[1])
		purego.RegisterFunc(&h.core.registerInstanceCallbacks, fns[2])
		purego.RegisterFunc(&h.core.registerShutdownCallback, fns[3])
	}
	if fns, err := h.table(MessagingInterface, messagingFuncs, true); err != nil {
		return nil, err
	} else {
		h.messaging = &messagingInterface{}
		purego.RegisterFunc(&h.messaging.register, fns[0])
		purego.RegisterFunc(&h.messaging.postMessage, fns[1])
	}
	if fns, err := h.table(SyncMessagingInterface, syncMessagingFuncs, true); err != nil {
		return nil, err
	} else {
		h.sync = &syncMessagingInterface{}
		purego.RegisterFunc(&h.sync.register, fns[0])
		purego.RegisterFunc(&h.sync.setSyncReply, fns[1])
	}
	if fns, err := h.table(RuntimeInterface, runtimeFuncs, false); err != nil {
		return nil, err
	} else if fns != nil {
		h.runtime = &runtimeInterface{}
		purego.RegisterFunc(&h.runtime.getRuntimeVariableString, fns[0])
	}
	return h, nil
}

// table returns the first n function pointers of interface name.
func (h *Host) table(name string, n int, required bool) ([]uintptr, error) {
	ptr := h.getInterface(name)
	if ptr == 0 {
		if required {
			return nil, fmt.Errorf("host does not provide %s", name)
		}
		return nil, nil
	}
	fns := unsafe.Slice((*uintptr)(unsafe.Pointer(ptr)), n)
	for i, fn := range fns {
		if fn == 0 {
			return nil, fmt.Errorf("%s: function %d is NULL", name, i)
		}
	}
	return fns, nil
}

func (h *Host) SetExtensionName(name string) {
	h.core.setExtensionName(h.extension, name)
}

func (h *Host) SetJavaScriptAPI(api string) {
	h.core.setJavaScriptAPI(h.extension, api)
}

func (h *Host) RegisterInstanceCallbacks(created, destroyed uintptr) {
	h.core.registerInstanceCallbacks(h.extension, created, destroyed)
}

func (h *Host) RegisterShutdownCallback(fn host.ShutdownHandler) {
	h.shutdownCallback = purego.NewCallback(func(extension int32) {
		fn()
	})
	h.core.registerShutdownCallback(h.extension, h.shutdownCallback)
}

func (h *Host) RegisterMessageHandler(fn host.MessageHandler) {
	h.messageCallback = purego.NewCallback(func(instance int32, message uintptr) {
		fn(instance, goString(message))
	})
	h.messaging.register(h.extension, h.messageCallback)
}

func (h *Host) RegisterSyncMessageHandler(fn host.SyncMessageHandler) {
	h.syncCallback = purego.NewCallback(func(instance int32, message uintptr) {
		fn(instance, goString(message))
	})
	h.sync.register(h.extension, h.syncCallback)
}

func (h *Host) PostMessage(instance int32, message string) {
	h.messaging.postMessage(instance, message)
}

func (h *Host) SetSyncReply(instance int32, reply string) {
	h.sync.setSyncReply(instance, reply)
}

// RuntimeVariable reads a runtime variable into a fixed buffer. An empty
// value is reported as unset.
func (h *Host) RuntimeVariable(name string) (string, bool) {
	if h.runtime == nil {
		return "", false
	}
	buf := make([]byte, runtimeVariableSize)
	h.runtime.getRuntimeVariableString(h.extension, name, uintptr(unsafe.Pointer(&buf[0])), uint32(len(buf)))
	runtime.KeepAlive(buf)
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	if n == 0 {
		return "", false
	}
	return string(buf[:n]), true
}

// Trampolines returns the purego-backed factory.
func (h *Host) Trampolines() trampoline.Factory {
	return trampoline.Native{}
}

// Preload opens library with global symbol visibility. The handle stays open
// for the life of the process.
func (h *Host) Preload(library string) error {
	if _, err := purego.Dlopen(library, purego.RTLD_LAZY|purego.RTLD_GLOBAL); err != nil {
		return fmt.Errorf("could not load %s: %w", library, err)
	}
	return nil
}

// goString copies a NUL-terminated C string.
func goString(p uintptr) string {
	if p == 0 {
		return ""
	}
	ptr := (*byte)(unsafe.Pointer(p))
	n := 0
	for *(*byte)(unsafe.Add(unsafe.Pointer(ptr), n)) != 0 {
		n++
	}
	return string(unsafe.Slice(ptr, n))
}

var (
	loadedMu sync.Mutex
	loaded   []*plugin.Plugin
)

// Initialize is the body of XW_Initialize. It returns host.OK or host.Error.
func Initialize(extension int32, getInterface uintptr) int32 {
	cfg, err := config.LoadEnv()
	if err != nil {
		cfg = config.DefaultConfig()
		cfg.Log(0, "xwalk-lua: bad configuration: %v", err)
		return host.Error
	}

	h, err := New(extension, getInterface)
	if err != nil {
		cfg.Log(0, "xwalk-lua: %v", err)
		return host.Error
	}

	p := plugin.New(cfg)
	if err := p.Initialize(h); err != nil {
		return host.Error
	}

	// the host holds raw pointers into this plugin for the rest of the process
	loadedMu.Lock()
	loaded = append(loaded, p)
	loadedMu.Unlock()
	return host.OK
}
