package lua

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
	"github.com/zot/xwalk-lua/internal/registry"
)

// Callable is a Lua value registered as a handler. It implements both
// registry.Handler and registry.LifecycleHandler; the registry owns it and
// releases it at shutdown.
type Callable struct {
	runtime  *Runtime
	fn       lua.LValue
	name     string
	released bool
}

var (
	_ registry.Handler          = (*Callable)(nil)
	_ registry.LifecycleHandler = (*Callable)(nil)
)

// NewCallable wraps fn, which must be a function or have a __call metamethod.
func (r *Runtime) NewCallable(name string, fn lua.LValue) (*Callable, error) {
	if !r.isCallable(fn) {
		return nil, fmt.Errorf("%s: %s is not callable", name, fn.Type())
	}
	return &Callable{runtime: r, fn: fn, name: name}, nil
}

func (r *Runtime) isCallable(v lua.LValue) bool {
	if v == nil || v == lua.LNil {
		return false
	}
	if _, ok := v.(*lua.LFunction); ok {
		return true
	}
	return r.State.GetMetaField(v, "__call") != lua.LNil
}

// Name describes the callable in log messages.
func (c *Callable) Name() string {
	return c.name
}

// Invoke calls the handler with (instance, payload). A string result is the
// reply text, nil is NoValue, and any other result or a raised error is Failed.
func (c *Callable) Invoke(instance int32, payload string) registry.Result {
	if err := c.usable(); err != nil {
		return registry.Failure(err)
	}
	L := c.runtime.State
	L.Push(c.fn)
	L.Push(lua.LNumber(instance))
	L.Push(lua.LString(payload))
	if err := L.PCall(2, 1, nil); err != nil {
		return registry.Failure(fmt.Errorf("%s: %w", c.name, err))
	}
	ret := L.Get(-1)
	L.Pop(1)

	switch v := ret.(type) {
	case *lua.LNilType:
		return registry.Nothing()
	case lua.LString:
		return registry.Text(string(v))
	default:
		return registry.Failuref("%s returned %s, want string", c.name, ret.Type())
	}
}

// Notify calls a lifecycle callable with the instance id, discarding results.
func (c *Callable) Notify(instance int32) error {
	if err := c.usable(); err != nil {
		return err
	}
	L := c.runtime.State
	L.Push(c.fn)
	L.Push(lua.LNumber(instance))
	if err := L.PCall(1, 0, nil); err != nil {
		return fmt.Errorf("%s: %w", c.name, err)
	}
	return nil
}

// Release drops the reference to the Lua value.
func (c *Callable) Release() {
	c.released = true
	c.fn = lua.LNil
}

func (c *Callable) usable() error {
	if c.released {
		return fmt.Errorf("%s: handler released", c.name)
	}
	if c.runtime.closed {
		return fmt.Errorf("%s: %w", c.name, ErrClosed)
	}
	return nil
}
