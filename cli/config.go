// This file re-exports config types from internal/config for public API.

package cli

import (
	"github.com/zot/xwalk-lua/internal/config"
)

// Re-export config types for public API
type (
	Config          = config.Config
	ExtensionConfig = config.ExtensionConfig
	LuaConfig       = config.LuaConfig
	LoggingConfig   = config.LoggingConfig
	DevConfig       = config.DevConfig
	Duration        = config.Duration
)

// Re-export config functions for public API
var (
	DefaultConfig = config.DefaultConfig
	Load          = config.Load
)
