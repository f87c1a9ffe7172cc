// Package cli provides the command-line interface for the xwalk-lua
// development host. It exports Run() and RunWithHooks() so wrapper projects
// can add commands.
package cli

import (
	"fmt"
	"io"
	"os"
)

// Version is the xwalk-lua release.
const Version = "0.1.0"

// Hooks allows extending the CLI with additional commands.
type Hooks struct {
	// BeforeDispatch is called before command dispatch.
	// Return (handled=true, exitCode) to skip normal dispatch.
	BeforeDispatch func(command string, args []string) (handled bool, exitCode int)

	// CustomHelp returns additional help text to append.
	CustomHelp func() string

	// CustomVersion returns version info to append (optional).
	CustomVersion func() string
}

// Run executes the CLI with the given arguments.
// Returns exit code (0 = success, non-zero = error).
func Run(args []string) int {
	return RunWithHooks(args, nil)
}

// RunWithHooks executes CLI with extension hooks.
func RunWithHooks(args []string, hooks *Hooks) int {
	return run(args, hooks, os.Stdin, os.Stdout, os.Stderr)
}

func run(args []string, hooks *Hooks, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printHelp(stdout, hooks)
		return 1
	}

	command := args[0]
	cmdArgs := args[1:]

	// Let hooks intercept first
	if hooks != nil && hooks.BeforeDispatch != nil {
		if handled, code := hooks.BeforeDispatch(command, cmdArgs); handled {
			return code
		}
	}

	switch command {
	case "serve":
		return runServe(cmdArgs, stdout, stderr)
	case "check":
		return runCheck(cmdArgs, stdout, stderr)
	case "mcp":
		return runMCP(cmdArgs, stdin, stdout, stderr)
	case "help", "-h", "--help":
		printHelp(stdout, hooks)
		return 0
	case "version", "--version":
		printVersion(stdout, hooks)
		return 0
	default:
		// a bare script or flag means serve
		if len(command) > 0 && command[0] == '-' || isScript(command) {
			return runServe(args, stdout, stderr)
		}
		fmt.Fprintf(stderr, "Unknown command: %s\n", command)
		printHelp(stderr, hooks)
		return 1
	}
}

func printHelp(w io.Writer, hooks *Hooks) {
	fmt.Fprintln(w, `xwalk-lua development host

Usage: xwalk-lua-dev [command] [options] script.lua

Commands:
  serve           Serve the extension to a browser page (default)
  check           Load the extension and report what it registered
  mcp             Host the extension and serve MCP tools for it on stdio
  help            Show this help
  version         Show the version

Options:
  --config        TOML config file (default: xwalk-lua.toml)
  --script        Lua extension script (or give it as the argument)
  --host          Listen address (default: 127.0.0.1)
  --port          Listen port (default: 8090)
  --watch         Reload the extension when Lua files change
  --lua-path      Extra Lua search directories
  --max-instances Instance id limit (0 = unbounded)
  --log-file      Write logs to a file instead of stderr
  -v, -vv, -vvv   Verbosity

Examples:
  xwalk-lua-dev serve --watch extensions/example/example.lua
  xwalk-lua-dev check extensions/example/example.lua`)

	if hooks != nil && hooks.CustomHelp != nil {
		fmt.Fprintln(w, hooks.CustomHelp())
	}
}

func printVersion(w io.Writer, hooks *Hooks) {
	fmt.Fprintf(w, "xwalk-lua v%s\n", Version)
	if hooks != nil && hooks.CustomVersion != nil {
		fmt.Fprintln(w, hooks.CustomVersion())
	}
}
