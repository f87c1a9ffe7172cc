// Package host describes the browser-extension runtime that loads the plugin.
// The native implementation lives in internal/xwabi; internal/host/inproc
// implements the same contract in process.
package host

import "github.com/zot/xwalk-lua/internal/trampoline"

// Status codes returned from plugin initialization.
const (
	OK    int32 = 0
	Error int32 = -1
)

// ExtensionPathVariable is the runtime variable holding the plugin's own path,
// JSON-quoted.
const ExtensionPathVariable = "extension_path"

// MessageHandler receives an async message for an instance.
type MessageHandler func(instance int32, payload string)

// SyncMessageHandler receives a sync message for an instance. It must call
// SetSyncReply exactly once for that instance before returning.
type SyncMessageHandler func(instance int32, payload string)

// ShutdownHandler runs once when the host unloads the extension.
type ShutdownHandler func()

// Messenger sends data back toward JavaScript.
type Messenger interface {
	PostMessage(instance int32, message string)
	SetSyncReply(instance int32, reply string)
}

// Host is the set of host interfaces a plugin consumes during initialization.
type Host interface {
	Messenger

	SetExtensionName(name string)
	SetJavaScriptAPI(api string)

	// RegisterInstanceCallbacks hands native function pointers of shape
	// void(int32) to the host. Either may be zero.
	RegisterInstanceCallbacks(created, destroyed uintptr)
	RegisterShutdownCallback(fn ShutdownHandler)
	RegisterMessageHandler(fn MessageHandler)
	RegisterSyncMessageHandler(fn SyncMessageHandler)

	// RuntimeVariable returns a host runtime variable as the raw string the
	// host stores (JSON-encoded for paths).
	RuntimeVariable(name string) (string, bool)

	// Trampolines returns the factory that builds native function pointers
	// this host can call.
	Trampolines() trampoline.Factory

	// Preload loads a shared library with global symbol visibility.
	Preload(library string) error
}
