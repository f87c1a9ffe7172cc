package lua

import (
	"errors"
	"fmt"
	"math"
	"sort"

	lua "github.com/yuin/gopher-lua"
)

// GoToLua converts a decoded JSON value to Lua.
func GoToLua(L *lua.LState, val any) lua.LValue {
	switch v := val.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return v
	case bool:
		return lua.LBool(v)
	case int:
		return lua.LNumber(float64(v))
	case int32:
		return lua.LNumber(float64(v))
	case int64:
		return lua.LNumber(float64(v))
	case float64:
		return lua.LNumber(v)
	case string:
		return lua.LString(v)
	case []any:
		tbl := L.NewTable()
		for i, item := range v {
			L.RawSetInt(tbl, i+1, GoToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			L.SetField(tbl, k, GoToLua(L, v[k]))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", v))
	}
}

// maxDepth bounds table nesting in LuaToGo.
const maxDepth = 1000

// LuaToGo converts a Lua value to Go. A table whose keys are exactly the
// integers 1..n (or close to it) becomes a slice; any other table becomes a
// map with its keys stringified. Cyclic tables are an error.
func LuaToGo(val lua.LValue) (interface{}, error) {
	return luaToGo(val, make(map[*lua.LTable]bool), 0)
}

func luaToGo(val lua.LValue, path map[*lua.LTable]bool, depth int) (interface{}, error) {
	switch v := val.(type) {
	case lua.LBool:
		return bool(v), nil
	case lua.LNumber:
		return float64(v), nil
	case lua.LString:
		return string(v), nil
	case *lua.LTable:
		if path[v] {
			return nil, errors.New("cycle")
		}
		if depth >= maxDepth {
			return nil, fmt.Errorf("nesting deeper than %d", maxDepth)
		}
		path[v] = true
		defer delete(path, v)
		if n, isArr := arrayLen(v); isArr {
			arr := make([]interface{}, n)
			for i := 1; i <= n; i++ {
				item, err := luaToGo(v.RawGetInt(i), path, depth+1)
				if err != nil {
					return nil, err
				}
				arr[i-1] = item
			}
			return arr, nil
		}
		m := make(map[string]interface{})
		var err error
		v.ForEach(func(key, value lua.LValue) {
			if err != nil {
				return
			}
			var name string
			switch k := key.(type) {
			case lua.LString:
				name = string(k)
			case lua.LNumber:
				name = k.String()
			default:
				return
			}
			m[name], err = luaToGo(value, path, depth+1)
		})
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, nil
	}
}

// arrayLen returns the largest key of tbl when every key is a positive
// integer and the largest is at most twice the key count. Sparse tables
// encode as objects.
func arrayLen(tbl *lua.LTable) (int, bool) {
	count, maxN := 0, 0
	array := true
	tbl.ForEach(func(key, _ lua.LValue) {
		if !array {
			return
		}
		n, isNumber := key.(lua.LNumber)
		if !isNumber || float64(n) != math.Trunc(float64(n)) || n < 1 || n > math.MaxInt32 {
			array = false
			return
		}
		count++
		if int(n) > maxN {
			maxN = int(n)
		}
	})
	if !array || count == 0 || maxN > 2*count {
		return 0, false
	}
	return maxN, true
}
