// Package plugin sequences one load of the extension plugin: preload, start
// Lua, import the script, verify its identity, and wire everything to the host.
package plugin

import (
	"errors"
	"fmt"

	"github.com/zot/xwalk-lua/internal/config"
	"github.com/zot/xwalk-lua/internal/host"
	"github.com/zot/xwalk-lua/internal/lua"
	"github.com/zot/xwalk-lua/internal/registry"
	"github.com/zot/xwalk-lua/internal/relay"
	"github.com/zot/xwalk-lua/internal/trampoline"
)

// ErrIdentityMissing is returned when the script did not set both the
// extension name and the JavaScript API.
var ErrIdentityMissing = errors.New("extension name or JavaScript API not set")

// State is a bootstrap stage.
type State int

const (
	Unloaded State = iota
	LibraryPreloaded
	InterpreterRunning
	ModuleImported
	IdentitySet
	CallbacksRegistered
	Active
	Stopped
	Failed
)

var stateNames = map[State]string{
	Unloaded:            "unloaded",
	LibraryPreloaded:    "library-preloaded",
	InterpreterRunning:  "interpreter-running",
	ModuleImported:      "module-imported",
	IdentitySet:         "identity-set",
	CallbacksRegistered: "callbacks-registered",
	Active:              "active",
	Stopped:             "stopped",
	Failed:              "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Plugin is one load of the extension.
type Plugin struct {
	config   *config.Config
	state    State
	location Location

	registry *registry.Registry
	relay    *relay.Relay
	runtime  *lua.Runtime

	created   uintptr
	destroyed uintptr
}

// New creates an unloaded plugin.
func New(cfg *config.Config) *Plugin {
	return &Plugin{config: cfg, state: Unloaded}
}

// Log logs a message via the config.
func (p *Plugin) Log(level int, format string, args ...interface{}) {
	p.config.Log(level, format, args...)
}

// State returns the current bootstrap stage.
func (p *Plugin) State() State {
	return p.state
}

// Registry returns the registration state, nil before the interpreter starts.
func (p *Plugin) Registry() *registry.Registry {
	return p.registry
}

// Runtime returns the Lua runtime, nil before the interpreter starts.
func (p *Plugin) Runtime() *lua.Runtime {
	return p.runtime
}

// Relay returns the message relay, nil before the interpreter starts.
func (p *Plugin) Relay() *relay.Relay {
	return p.relay
}

// Location returns where the script was found.
func (p *Plugin) Location() Location {
	return p.location
}

// LifecyclePointers returns the instance-created and instance-destroyed
// trampolines handed to the host.
func (p *Plugin) LifecyclePointers() (created, destroyed uintptr) {
	return p.created, p.destroyed
}

func (p *Plugin) advance(s State) {
	p.Log(2, "plugin: %s -> %s", p.state, s)
	p.state = s
}

// fail moves to Failed, tears down whatever was started, and returns err.
func (p *Plugin) fail(err error) error {
	p.Log(0, "plugin: initialization failed in state %s: %v", p.state, err)
	p.state = Failed
	p.teardown()
	return err
}

// Initialize runs the bootstrap against h. On success the host may deliver
// lifecycle and message events until it calls the shutdown callback.
func (p *Plugin) Initialize(h host.Host) error {
	if p.state != Unloaded {
		return fmt.Errorf("plugin already initialized (state %s)", p.state)
	}

	for _, lib := range p.config.Lua.Preload {
		if err := h.Preload(lib); err != nil {
			return p.fail(fmt.Errorf("preloading %s: %w", lib, err))
		}
		p.Log(1, "plugin: preloaded %s", lib)
	}
	p.advance(LibraryPreloaded)

	p.registry = registry.New(p.config.Extension.MaxInstances)
	p.relay = relay.New(p.registry, nil, p.config)
	p.runtime = lua.NewRuntime(p.config, p.registry, p.relay)
	p.advance(InterpreterRunning)

	loc, err := Locate(p.config, h)
	if err != nil {
		return p.fail(err)
	}
	p.location = loc
	for _, dir := range loc.Dirs {
		p.runtime.AddSearchDir(dir)
	}
	if err := p.runtime.Import(loc.Module); err != nil {
		return p.fail(err)
	}
	p.advance(ModuleImported)

	if !p.registry.Identified() {
		return p.fail(ErrIdentityMissing)
	}
	h.SetExtensionName(p.registry.ExtensionName())
	h.SetJavaScriptAPI(p.registry.JavaScriptAPI())
	p.advance(IdentitySet)

	factory := h.Trampolines()
	if p.created, err = factory.New(trampoline.Bind("instance-created", notifier(p.registry.InstanceCreated()), p.config)); err != nil {
		return p.fail(fmt.Errorf("instance-created trampoline: %w", err))
	}
	if p.destroyed, err = factory.New(trampoline.Bind("instance-destroyed", notifier(p.registry.InstanceDestroyed()), p.config)); err != nil {
		return p.fail(fmt.Errorf("instance-destroyed trampoline: %w", err))
	}
	h.RegisterInstanceCallbacks(p.created, p.destroyed)
	h.RegisterShutdownCallback(p.Shutdown)

	p.relay.SetHost(h)
	h.RegisterMessageHandler(p.relay.OnMessage)
	h.RegisterSyncMessageHandler(p.relay.OnSyncMessage)
	p.advance(CallbacksRegistered)

	p.advance(Active)
	p.Log(1, "plugin: extension %q active (module %s)", p.registry.ExtensionName(), loc.Module)
	return nil
}

// notifier keeps a nil lifecycle handler a nil interface for trampoline.Bind.
func notifier(h registry.LifecycleHandler) trampoline.Notifier {
	if h == nil {
		return nil
	}
	return h
}

// Shutdown releases the script's handlers and closes the interpreter.
// Only the first call has any effect.
func (p *Plugin) Shutdown() {
	if p.state == Stopped {
		return
	}
	p.Log(1, "plugin: shutting down")
	p.teardown()
	p.state = Stopped
	p.config.Sync()
}

func (p *Plugin) teardown() {
	if p.registry != nil {
		p.registry.Release()
	}
	if p.runtime != nil {
		p.runtime.Shutdown()
	}
}
