package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/zot/xwalk-lua/internal/config"
	"github.com/zot/xwalk-lua/internal/host"
)

// ErrNoExtensionPath is returned when the host does not provide extension_path.
var ErrNoExtensionPath = errors.New("runtime variable 'extension_path' not set")

// libraryExtensions are the shared-library suffixes stripped from a plugin
// file name to get its module name.
var libraryExtensions = []string{".so", ".dylib", ".dll"}

// Location says where to find the extension script.
type Location struct {
	Module string
	Dirs   []string
}

// UnquotePath removes the JSON quoting the host adds to path variables.
// Values that do not decode as a JSON string lose their first and last byte
// when those are quotes, and are otherwise returned unchanged.
func UnquotePath(raw string) string {
	raw = strings.TrimSpace(raw)
	var s string
	if err := json.Unmarshal([]byte(raw), &s); err == nil {
		return s
	}
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		return raw[1 : len(raw)-1]
	}
	return raw
}

// ModuleNameFromLibrary derives the Lua module name from a plugin library
// path: "/ext/libecho.so" -> "echo".
func ModuleNameFromLibrary(path string) string {
	name := filepath.Base(path)
	for _, ext := range libraryExtensions {
		if strings.HasSuffix(name, ext) {
			name = strings.TrimSuffix(name, ext)
			break
		}
	}
	return strings.TrimPrefix(name, "lib")
}

// Locate resolves the script module for the configured mode.
func Locate(cfg *config.Config, h host.Host) (Location, error) {
	switch cfg.Extension.Mode {
	case config.ModeEnv:
		if len(cfg.Lua.Path) == 0 {
			return Location{}, fmt.Errorf("env mode: XWALK_LUA_PATH is empty")
		}
		if cfg.Extension.Module == "" {
			return Location{}, fmt.Errorf("env mode: no module name configured")
		}
		return Location{Module: cfg.Extension.Module, Dirs: cfg.Lua.Path}, nil
	default:
		raw, ok := h.RuntimeVariable(host.ExtensionPathVariable)
		if !ok {
			return Location{}, ErrNoExtensionPath
		}
		path := UnquotePath(raw)
		if path == "" {
			return Location{}, ErrNoExtensionPath
		}
		module := ModuleNameFromLibrary(path)
		if module == "" {
			return Location{}, fmt.Errorf("cannot derive a module name from %s", path)
		}
		return Location{Module: module, Dirs: []string{filepath.Dir(path)}}, nil
	}
}
