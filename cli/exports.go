// This file re-exports the development host for wrapper projects.

package cli

import (
	"github.com/zot/xwalk-lua/internal/devhost"
	"github.com/zot/xwalk-lua/internal/plugin"
)

// Re-export host and plugin types
type (
	Server       = devhost.Server
	ServerStatus = devhost.Status
	Plugin       = plugin.Plugin
	PluginState  = plugin.State
)

// Re-export constructors
var (
	NewServer     = devhost.New
	NewPlugin     = plugin.New
	ExtensionPath = devhost.ExtensionPath
)
