// Package lua hosts the extension script in a gopher-lua state and exposes the
// xwalk registration module to it.
//
// The runtime does no threading of its own. The host serializes every call
// into the plugin, and each of those calls may touch the Lua state directly.
package lua

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/zot/xwalk-lua/internal/config"
	"github.com/zot/xwalk-lua/internal/registry"
	"github.com/zot/xwalk-lua/internal/relay"
)

// ErrClosed is returned for calls into a runtime after Shutdown.
var ErrClosed = errors.New("lua runtime is shut down")

// ErrModuleNotFound is returned when no search directory holds a module.
var ErrModuleNotFound = errors.New("module not found")

// Runtime is one Lua state running one extension script.
type Runtime struct {
	State *lua.LState

	config     *config.Config
	registry   *registry.Registry
	relay      *relay.Relay
	loaded     *lua.LTable // require cache keyed by module name
	searchPath []string
	closed     bool
}

// NewRuntime creates a Lua state with the standard libraries, a search-path
// aware require, and the xwalk module installed.
func NewRuntime(cfg *config.Config, reg *registry.Registry, rel *relay.Relay) *Runtime {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	r := &Runtime{
		State:    L,
		config:   cfg,
		registry: reg,
		relay:    rel,
		loaded:   L.NewTable(),
	}
	if cfg != nil {
		r.searchPath = append(r.searchPath, cfg.Lua.Path...)
	}

	// Load standard libraries
	for _, open := range []lua.LGFunction{lua.OpenBase, lua.OpenTable, lua.OpenString, lua.OpenMath, lua.OpenOs, lua.OpenIo, lua.OpenCoroutine} {
		L.Push(L.NewFunction(open))
		L.Call(0, 0)
	}

	r.registerRequire()
	r.registerXWalkModule()

	return r
}

// Log logs a message via the config.
func (r *Runtime) Log(level int, format string, args ...interface{}) {
	r.config.Log(level, format, args...)
}

// AddSearchDir appends dir to the module search path, ignoring duplicates.
func (r *Runtime) AddSearchDir(dir string) {
	dir = filepath.Clean(dir)
	for _, d := range r.searchPath {
		if filepath.Clean(d) == dir {
			return
		}
	}
	r.searchPath = append(r.searchPath, dir)
	r.updatePackagePath()
}

// SearchPath returns the module search directories in lookup order.
func (r *Runtime) SearchPath() []string {
	return append([]string(nil), r.searchPath...)
}

// Import requires module, running its top-level code. Registration calls the
// script makes while loading take effect immediately.
func (r *Runtime) Import(module string) error {
	if r.closed {
		return ErrClosed
	}
	L := r.State
	L.Push(L.GetGlobal("require"))
	L.Push(lua.LString(module))
	if err := L.PCall(1, 0, nil); err != nil {
		return fmt.Errorf("importing %s: %w", module, err)
	}
	r.Log(1, "lua: imported module %s", module)
	return nil
}

// DoString runs a chunk of Lua code.
func (r *Runtime) DoString(code string) error {
	if r.closed {
		return ErrClosed
	}
	return r.State.DoString(code)
}

// Closed reports whether Shutdown has run.
func (r *Runtime) Closed() bool {
	return r.closed
}

// Shutdown closes the Lua state. Calling it again does nothing.
func (r *Runtime) Shutdown() {
	if r.closed {
		return
	}
	r.closed = true
	r.State.Close()
	r.Log(1, "lua: runtime shut down")
}

// registerRequire replaces require with a loader that searches the runtime's
// search path for name.lua and name/init.lua, with dots mapped to directories.
func (r *Runtime) registerRequire() {
	L := r.State
	loaded := r.loaded

	requireFn := L.NewFunction(func(L *lua.LState) int {
		modName := L.CheckString(1)

		// Check if already loaded by module name (handles circularity)
		if cached := L.GetField(loaded, modName); cached != lua.LNil {
			L.Push(cached)
			return 1
		}

		path, err := r.findModule(modName)
		if err != nil {
			L.RaiseError("error loading module '%s': %v", modName, err)
			return 0
		}

		chunk, err := L.LoadFile(path)
		if err != nil {
			L.RaiseError("error loading module '%s': %v", modName, err)
			return 0
		}

		// Mark as loaded BEFORE executing (handles circular dependencies)
		L.SetField(loaded, modName, lua.LTrue)

		L.Push(chunk)
		L.Push(lua.LString(modName))
		if err := L.PCall(1, 1, nil); err != nil {
			// Unmark on error (allows retry)
			L.SetField(loaded, modName, lua.LNil)
			L.RaiseError("error loading module '%s': %v", modName, err)
			return 0
		}

		result := L.Get(-1)
		L.Pop(1)
		if result == lua.LNil {
			result = lua.LTrue
		}
		L.SetField(loaded, modName, result)
		r.Log(2, "lua: loaded %s from %s", modName, path)
		L.Push(result)
		return 1
	})

	L.SetGlobal("require", requireFn)

	pkg := L.NewTable()
	L.SetField(pkg, "loaded", loaded)
	L.SetGlobal("package", pkg)
	r.updatePackagePath()
}

// updatePackagePath mirrors the search path into package.path for scripts
// that inspect it.
func (r *Runtime) updatePackagePath() {
	L := r.State
	pkg, ok := L.GetGlobal("package").(*lua.LTable)
	if !ok {
		return
	}
	patterns := make([]string, 0, 2*len(r.searchPath))
	for _, dir := range r.searchPath {
		patterns = append(patterns, filepath.Join(dir, "?.lua"), filepath.Join(dir, "?", "init.lua"))
	}
	L.SetField(pkg, "path", lua.LString(strings.Join(patterns, ";")))
}

// findModule returns the first file on the search path providing modName.
func (r *Runtime) findModule(modName string) (string, error) {
	rel := strings.ReplaceAll(modName, ".", string(filepath.Separator))
	var tried []string
	for _, dir := range r.searchPath {
		for _, candidate := range []string{
			filepath.Join(dir, rel+".lua"),
			filepath.Join(dir, rel, "init.lua"),
		} {
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, nil
			}
			tried = append(tried, candidate)
		}
	}
	if len(tried) == 0 {
		return "", fmt.Errorf("%w: empty search path", ErrModuleNotFound)
	}
	return "", fmt.Errorf("%w: tried %s", ErrModuleNotFound, strings.Join(tried, ", "))
}
