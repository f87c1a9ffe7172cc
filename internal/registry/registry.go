package registry

import "fmt"

// LifecycleHandler is notified when an instance is created or destroyed.
type LifecycleHandler interface {
	Notify(instance int32) error
	Release()
}

// LifecycleFunc adapts a Go function to LifecycleHandler.
type LifecycleFunc func(instance int32) error

// Notify calls f.
func (f LifecycleFunc) Notify(instance int32) error {
	return f(instance)
}

// Release does nothing.
func (f LifecycleFunc) Release() {}

// Registry is the state one plugin load owns. It is created by the bootstrap,
// written while the extension script loads, and read-only afterwards.
type Registry struct {
	name       string
	javaScript string

	Async *Table
	Sync  *Table

	// simple-mode handlers serving every instance without its own entry
	globalAsync Handler
	globalSync  Handler

	created   LifecycleHandler
	destroyed LifecycleHandler
}

// New creates a registry whose tables accept ids in [0, maxInstances),
// or any non-negative id when maxInstances is 0.
func New(maxInstances int) *Registry {
	return &Registry{
		Async: NewTable("message", maxInstances),
		Sync:  NewTable("sync-message", maxInstances),
	}
}

// SetExtensionName sets the extension name once.
func (r *Registry) SetExtensionName(name string) error {
	return setOnce(&r.name, name, "extension name")
}

// SetJavaScriptAPI sets the JavaScript API source once.
func (r *Registry) SetJavaScriptAPI(api string) error {
	return setOnce(&r.javaScript, api, "JavaScript API")
}

func setOnce(dst *string, value, what string) error {
	if *dst != "" {
		return fmt.Errorf("%s: %w", what, ErrAlreadySet)
	}
	if value == "" {
		return fmt.Errorf("%s: %w", what, ErrMissing)
	}
	*dst = value
	return nil
}

// ExtensionName returns the extension name, or "" if unset.
func (r *Registry) ExtensionName() string {
	return r.name
}

// JavaScriptAPI returns the JavaScript API source, or "" if unset.
func (r *Registry) JavaScriptAPI() string {
	return r.javaScript
}

// Identified reports whether both identity strings are set.
func (r *Registry) Identified() bool {
	return r.name != "" && r.javaScript != ""
}

// SetGlobalMessageHandler installs the handler used for async messages to
// instances without their own handler.
func (r *Registry) SetGlobalMessageHandler(h Handler) error {
	return setHandlerOnce(&r.globalAsync, h, "global message handler")
}

// SetGlobalSyncMessageHandler installs the handler used for sync messages to
// instances without their own handler.
func (r *Registry) SetGlobalSyncMessageHandler(h Handler) error {
	return setHandlerOnce(&r.globalSync, h, "global sync-message handler")
}

func setHandlerOnce(dst *Handler, h Handler, what string) error {
	if h == nil {
		return fmt.Errorf("%s: %w", what, ErrMissing)
	}
	if *dst != nil {
		return fmt.Errorf("%s: %w", what, ErrAlreadySet)
	}
	*dst = h
	return nil
}

// MessageHandler returns the async handler for instance, falling back to the
// global handler.
func (r *Registry) MessageHandler(instance int32) (Handler, bool) {
	if h, ok := r.Async.Lookup(instance); ok {
		return h, true
	}
	return r.globalAsync, r.globalAsync != nil
}

// SyncMessageHandler returns the sync handler for instance, falling back to the
// global handler.
func (r *Registry) SyncMessageHandler(instance int32) (Handler, bool) {
	if h, ok := r.Sync.Lookup(instance); ok {
		return h, true
	}
	return r.globalSync, r.globalSync != nil
}

// HasGlobalHandlers reports which global handlers are installed.
func (r *Registry) HasGlobalHandlers() (async, sync bool) {
	return r.globalAsync != nil, r.globalSync != nil
}

// SetInstanceCreated sets the instance-created callable once.
func (r *Registry) SetInstanceCreated(h LifecycleHandler) error {
	return setLifecycleOnce(&r.created, h, "instance-created callback")
}

// SetInstanceDestroyed sets the instance-destroyed callable once.
func (r *Registry) SetInstanceDestroyed(h LifecycleHandler) error {
	return setLifecycleOnce(&r.destroyed, h, "instance-destroyed callback")
}

func setLifecycleOnce(dst *LifecycleHandler, h LifecycleHandler, what string) error {
	if h == nil {
		return fmt.Errorf("%s: %w", what, ErrMissing)
	}
	if *dst != nil {
		return fmt.Errorf("%s: %w", what, ErrAlreadySet)
	}
	*dst = h
	return nil
}

// InstanceCreated returns the instance-created callable, or nil.
func (r *Registry) InstanceCreated() LifecycleHandler {
	return r.created
}

// InstanceDestroyed returns the instance-destroyed callable, or nil.
func (r *Registry) InstanceDestroyed() LifecycleHandler {
	return r.destroyed
}

// Release drops every handler reference the registry owns.
func (r *Registry) Release() {
	r.Async.Release()
	r.Sync.Release()
	for _, h := range []*Handler{&r.globalAsync, &r.globalSync} {
		if *h != nil {
			(*h).Release()
			*h = nil
		}
	}
	for _, h := range []*LifecycleHandler{&r.created, &r.destroyed} {
		if *h != nil {
			(*h).Release()
			*h = nil
		}
	}
}
