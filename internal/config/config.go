// Package config handles configuration loading from CLI flags, environment variables, and TOML files.
package config

import (
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Script location modes.
const (
	ModePath = "path" // module derived from the host's extension_path runtime variable
	ModeEnv  = "env"  // module found on the XWALK_LUA_PATH search path
)

// DefaultMaxInstances matches the instance table size of the classic plugin.
const DefaultMaxInstances = 64

// Config holds all configuration settings for the plugin and the development host.
type Config struct {
	Extension ExtensionConfig `toml:"extension"`
	Lua       LuaConfig       `toml:"lua"`
	Logging   LoggingConfig   `toml:"logging"`
	Dev       DevConfig       `toml:"dev"`

	logger *logger
}

// ExtensionConfig holds settings for locating and hosting the extension script.
type ExtensionConfig struct {
	Mode         string `toml:"mode"`          // "path" or "env"
	Module       string `toml:"module"`        // module name used in env mode
	Script       string `toml:"-"`             // script file (dev host only, CLI)
	MaxInstances int    `toml:"max_instances"` // 0 = unbounded
}

// LuaConfig holds Lua runtime settings.
type LuaConfig struct {
	Path    []string `toml:"path"`    // extra module search directories
	Preload []string `toml:"preload"` // shared libraries loaded RTLD_GLOBAL before the interpreter starts
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Verbosity int    `toml:"verbosity"` // 0=errors, 1=lifecycle, 2=registrations/messages, 3=payloads
	File      string `toml:"file"`      // empty = stderr
}

// DevConfig holds development host settings.
type DevConfig struct {
	Host     string   `toml:"host"`
	Port     int      `toml:"port"`
	Watch    bool     `toml:"watch"`
	Debounce Duration `toml:"debounce"`
}

// verbosityCounter implements flag.Value for counting -v flags.
type verbosityCounter int

func (v *verbosityCounter) String() string {
	return fmt.Sprintf("%d", *v)
}

func (v *verbosityCounter) Set(string) error {
	*v++
	return nil
}

func (v *verbosityCounter) IsBoolFlag() bool {
	return true
}

// expandVerbosityFlags preprocesses args to expand -vvv into -v -v -v.
func expandVerbosityFlags(args []string) []string {
	result := make([]string, 0, len(args))
	for _, arg := range args {
		if len(arg) > 2 && arg[0] == '-' && arg[1] == 'v' {
			allV := true
			for _, c := range arg[1:] {
				if c != 'v' {
					allV = false
					break
				}
			}
			if allV {
				for range arg[1:] {
					result = append(result, "-v")
				}
				continue
			}
		}
		result = append(result, arg)
	}
	return result
}

// Duration is a time.Duration that can be unmarshaled from TOML strings.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// DefaultConfig returns a Config with all default values.
func DefaultConfig() *Config {
	return &Config{
		Extension: ExtensionConfig{
			Mode:         ModePath,
			Module:       "extension",
			MaxInstances: DefaultMaxInstances,
		},
		Dev: DevConfig{
			Host:     "127.0.0.1",
			Port:     8090,
			Debounce: Duration(100 * time.Millisecond),
		},
		logger: &logger{},
	}
}

// LoadEnv loads configuration for the shared-library build, which has no argv.
// Priority: env vars > TOML file > defaults
func LoadEnv() (*Config, error) {
	cfg := DefaultConfig()
	if path := os.Getenv("XWALK_LUA_CONFIG"); path != "" {
		if err := cfg.loadTOML(path); err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load loads configuration from CLI flags, environment variables, and TOML file.
// Priority: CLI flags > env vars > TOML file > defaults
func Load(args []string) (*Config, error) {
	cfg := DefaultConfig()

	args = expandVerbosityFlags(args)

	fs := flag.NewFlagSet("xwalk-lua", flag.ContinueOnError)
	configPath := fs.String("config", "", "TOML config file")

	// Extension flags
	script := fs.String("script", "", "Lua extension script to load")
	module := fs.String("module", "", "Module name to require (env mode)")
	maxInstances := fs.Int("max-instances", -1, "Instance id limit (0 = unbounded)")

	// Lua flags
	luaPath := fs.String("lua-path", "", "Extra Lua search directories, "+string(os.PathListSeparator)+"-separated")

	// Dev host flags
	host := fs.String("host", "", "Development host listen address")
	port := fs.Int("port", 0, "Development host listen port")
	watch := fs.Bool("watch", false, "Reload the extension when the script changes")

	// Logging flags
	logFile := fs.String("log-file", "", "Write logs to file instead of stderr")
	var verbosity verbosityCounter
	fs.Var(&verbosity, "v", "Verbosity level (use -v, -vv, or -vvv)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	path := *configPath
	if path == "" {
		path = os.Getenv("XWALK_LUA_CONFIG")
	}
	if path == "" {
		path = "xwalk-lua.toml"
	}
	if err := cfg.loadTOML(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	cfg.applyEnv()

	if *script != "" {
		cfg.Extension.Script = *script
	}
	if fs.NArg() > 0 && cfg.Extension.Script == "" {
		cfg.Extension.Script = fs.Arg(0)
	}
	if *module != "" {
		cfg.Extension.Module = *module
	}
	if *maxInstances >= 0 {
		cfg.Extension.MaxInstances = *maxInstances
	}
	if *luaPath != "" {
		cfg.Lua.Path = append(cfg.Lua.Path, filepath.SplitList(*luaPath)...)
	}
	if *host != "" {
		cfg.Dev.Host = *host
	}
	if *port != 0 {
		cfg.Dev.Port = *port
	}
	if *watch {
		cfg.Dev.Watch = true
	}
	if *logFile != "" {
		cfg.Logging.File = *logFile
	}
	if verbosity > 0 {
		cfg.Logging.Verbosity = int(verbosity)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadTOML loads configuration from a TOML file.
func (c *Config) loadTOML(path string) error {
	_, err := toml.DecodeFile(path, c)
	return err
}

// applyEnv applies environment variable overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("XWALK_LUA_MODE"); v != "" {
		c.Extension.Mode = v
	}
	if v := os.Getenv("XWALK_LUA_MODULE"); v != "" {
		c.Extension.Module = v
	}
	if v := os.Getenv("XWALK_LUA_MAX_INSTANCES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Extension.MaxInstances = n
		}
	}
	if v := os.Getenv("XWALK_LUA_PATH"); v != "" {
		c.Lua.Path = append(c.Lua.Path, filepath.SplitList(v)...)
	}
	if v := os.Getenv("XWALK_LUA_PRELOAD"); v != "" {
		c.Lua.Preload = append(c.Lua.Preload, filepath.SplitList(v)...)
	}
	if v := os.Getenv("XWALK_LUA_VERBOSITY"); v != "" {
		if verbosity, err := strconv.Atoi(v); err == nil {
			c.Logging.Verbosity = verbosity
		}
	}
	if v := os.Getenv("XWALK_LUA_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
}

func (c *Config) validate() error {
	c.Extension.Mode = strings.ToLower(strings.TrimSpace(c.Extension.Mode))
	switch c.Extension.Mode {
	case ModePath, ModeEnv:
	default:
		return fmt.Errorf("unknown extension mode %q (want %q or %q)", c.Extension.Mode, ModePath, ModeEnv)
	}
	if c.Extension.MaxInstances < 0 {
		return fmt.Errorf("max_instances must not be negative")
	}
	if c.Extension.MaxInstances > math.MaxInt32 {
		return fmt.Errorf("max_instances %d exceeds %d", c.Extension.MaxInstances, math.MaxInt32)
	}
	return nil
}

// Verbosity returns the configured verbosity level.
func (c *Config) Verbosity() int {
	return c.Logging.Verbosity
}
