package lua

import (
	"encoding/json"
	"math"

	lua "github.com/yuin/gopher-lua"
)

// ModuleName is the name scripts require to reach the registration API.
const ModuleName = "xwalk"

// registerXWalkModule installs the xwalk module as a preloaded module and a
// global. Every registration function returns a boolean and never raises.
func (r *Runtime) registerXWalkModule() {
	L := r.State
	mod := L.NewTable()

	L.SetFuncs(mod, map[string]lua.LGFunction{
		"SetExtensionName": r.luaSetExtensionName,
		"SetJavaScriptAPI": r.luaSetJavaScriptAPI,
		"PostMessage":      r.luaPostMessage,

		"SetMessageCallback":           r.luaSetMessageCallback,
		"SetSyncMessageCallback":       r.luaSetSyncMessageCallback,
		"SetInstanceCreatedCallback":   r.luaSetInstanceCreatedCallback,
		"SetInstanceDestroyedCallback": r.luaSetInstanceDestroyedCallback,

		"Log":        r.luaLog,
		"JSONEncode": r.luaJSONEncode,
		"JSONDecode": r.luaJSONDecode,
	})

	L.SetField(r.loaded, ModuleName, mod)
	L.SetGlobal(ModuleName, mod)
}

// ok pushes a boolean result.
func ok(L *lua.LState, success bool) int {
	L.Push(lua.LBool(success))
	return 1
}

// argString returns argument n if it is a string.
func argString(L *lua.LState, n int) (string, bool) {
	s, isString := L.Get(n).(lua.LString)
	return string(s), isString
}

// argInstance returns argument n if it is an integral number that fits an int32.
func argInstance(L *lua.LState, n int) (int32, bool) {
	num, isNumber := L.Get(n).(lua.LNumber)
	if !isNumber {
		return 0, false
	}
	f := float64(num)
	if f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, false
	}
	return int32(f), true
}

// xwalk.SetExtensionName(name) -> bool
func (r *Runtime) luaSetExtensionName(L *lua.LState) int {
	name, isString := argString(L, 1)
	if !isString {
		r.Log(0, "xwalk.SetExtensionName: expected a string, got %s", L.Get(1).Type())
		return ok(L, false)
	}
	if err := r.registry.SetExtensionName(name); err != nil {
		r.Log(2, "xwalk.SetExtensionName: %v", err)
		return ok(L, false)
	}
	r.Log(1, "xwalk: extension name %q", name)
	return ok(L, true)
}

// xwalk.SetJavaScriptAPI(source) -> bool
func (r *Runtime) luaSetJavaScriptAPI(L *lua.LState) int {
	api, isString := argString(L, 1)
	if !isString {
		r.Log(0, "xwalk.SetJavaScriptAPI: expected a string, got %s", L.Get(1).Type())
		return ok(L, false)
	}
	if err := r.registry.SetJavaScriptAPI(api); err != nil {
		r.Log(2, "xwalk.SetJavaScriptAPI: %v", err)
		return ok(L, false)
	}
	r.Log(2, "xwalk: JavaScript API set (%d bytes)", len(api))
	return ok(L, true)
}

// xwalk.PostMessage(instance, text) -> bool
func (r *Runtime) luaPostMessage(L *lua.LState) int {
	instance, isInstance := argInstance(L, 1)
	text, isString := argString(L, 2)
	if !isInstance || !isString {
		r.Log(0, "xwalk.PostMessage: expected (instance, string), got (%s, %s)", L.Get(1).Type(), L.Get(2).Type())
		return ok(L, false)
	}
	if r.relay == nil {
		return ok(L, false)
	}
	return ok(L, r.relay.PostMessage(instance, text))
}

// xwalk.SetMessageCallback(instance, fn) or xwalk.SetMessageCallback(fn) -> bool
func (r *Runtime) luaSetMessageCallback(L *lua.LState) int {
	return r.setMessageCallback(L, false)
}

// xwalk.SetSyncMessageCallback(instance, fn) or xwalk.SetSyncMessageCallback(fn) -> bool
func (r *Runtime) luaSetSyncMessageCallback(L *lua.LState) int {
	return r.setMessageCallback(L, true)
}

// setMessageCallback registers a per-instance handler, or the global handler
// when the only argument is callable.
func (r *Runtime) setMessageCallback(L *lua.LState, sync bool) int {
	what := "SetMessageCallback"
	table := r.registry.Async
	setGlobal := r.registry.SetGlobalMessageHandler
	if sync {
		what = "SetSyncMessageCallback"
		table = r.registry.Sync
		setGlobal = r.registry.SetGlobalSyncMessageHandler
	}

	if L.GetTop() == 1 && r.isCallable(L.Get(1)) {
		handler, _ := r.NewCallable(what, L.Get(1))
		if err := setGlobal(handler); err != nil {
			r.Log(2, "xwalk.%s: %v", what, err)
			return ok(L, false)
		}
		r.Log(2, "xwalk: global %s handler registered", table.Name())
		return ok(L, true)
	}

	instance, isInstance := argInstance(L, 1)
	if !isInstance {
		r.Log(0, "xwalk.%s: expected an instance id, got %s", what, L.Get(1).Type())
		return ok(L, false)
	}
	handler, err := r.NewCallable(what, L.Get(2))
	if err != nil {
		r.Log(0, "xwalk.%s: %v", what, err)
		return ok(L, false)
	}
	if err := table.Register(instance, handler); err != nil {
		r.Log(2, "xwalk.%s: %v", what, err)
		return ok(L, false)
	}
	r.Log(2, "xwalk: %s handler registered for instance %d", table.Name(), instance)
	return ok(L, true)
}

// xwalk.SetInstanceCreatedCallback(fn) -> bool
func (r *Runtime) luaSetInstanceCreatedCallback(L *lua.LState) int {
	handler, err := r.NewCallable("SetInstanceCreatedCallback", L.Get(1))
	if err != nil {
		r.Log(0, "xwalk.SetInstanceCreatedCallback: %v", err)
		return ok(L, false)
	}
	if err := r.registry.SetInstanceCreated(handler); err != nil {
		r.Log(2, "xwalk.SetInstanceCreatedCallback: %v", err)
		return ok(L, false)
	}
	return ok(L, true)
}

// xwalk.SetInstanceDestroyedCallback(fn) -> bool
func (r *Runtime) luaSetInstanceDestroyedCallback(L *lua.LState) int {
	handler, err := r.NewCallable("SetInstanceDestroyedCallback", L.Get(1))
	if err != nil {
		r.Log(0, "xwalk.SetInstanceDestroyedCallback: %v", err)
		return ok(L, false)
	}
	if err := r.registry.SetInstanceDestroyed(handler); err != nil {
		r.Log(2, "xwalk.SetInstanceDestroyedCallback: %v", err)
		return ok(L, false)
	}
	return ok(L, true)
}

// xwalk.Log([level,] message)
func (r *Runtime) luaLog(L *lua.LState) int {
	level := 0
	msgArg := 1
	if L.GetTop() >= 2 {
		if n, isNumber := L.Get(1).(lua.LNumber); isNumber {
			level = int(n)
			msgArg = 2
		}
	}
	r.Log(level, "[lua] %s", L.ToStringMeta(L.Get(msgArg)).String())
	return ok(L, true)
}

// xwalk.JSONEncode(value) -> string | nil, err
func (r *Runtime) luaJSONEncode(L *lua.LState) int {
	val, err := LuaToGo(L.Get(1))
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	data, err := json.Marshal(val)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LString(data))
	return 1
}

// xwalk.JSONDecode(string) -> value | nil, err
func (r *Runtime) luaJSONDecode(L *lua.LState) int {
	str, isString := argString(L, 1)
	if !isString {
		L.Push(lua.LNil)
		L.Push(lua.LString("JSONDecode expects a string"))
		return 2
	}
	var val interface{}
	if err := json.Unmarshal([]byte(str), &val); err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(GoToLua(L, val))
	return 1
}
