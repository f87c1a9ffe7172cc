package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const echoScript = `
local xwalk = require("xwalk")
xwalk.SetExtensionName("echo")
xwalk.SetJavaScriptAPI("exports.ping = function() {};")
xwalk.SetInstanceCreatedCallback(function(instance)
  xwalk.SetSyncMessageCallback(instance, function(i, m) return m end)
end)
xwalk.SetMessageCallback(function(i, m) end)
`

func script(t *testing.T, code string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "echo.lua")
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCLI(args []string, hooks *Hooks) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, hooks, strings.NewReader(""), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// TestHelpAndVersion verifies the informational commands
func TestHelpAndVersion(t *testing.T) {
	code, out, _ := runCLI([]string{"help"}, &Hooks{CustomHelp: func() string { return "extra help" }})
	if code != 0 || !strings.Contains(out, "check") || !strings.Contains(out, "extra help") {
		t.Errorf("help = %d %q", code, out)
	}
	code, out, _ = runCLI([]string{"version"}, nil)
	if code != 0 || !strings.Contains(out, Version) {
		t.Errorf("version = %d %q", code, out)
	}
}

// TestUnknownCommand verifies unknown commands fail with help on stderr
func TestUnknownCommand(t *testing.T) {
	code, _, errOut := runCLI([]string{"frobnicate"}, nil)
	if code != 1 || !strings.Contains(errOut, "Unknown command: frobnicate") {
		t.Errorf("unknown = %d %q", code, errOut)
	}
}

// TestHooksIntercept verifies BeforeDispatch can handle a command
func TestHooksIntercept(t *testing.T) {
	var seen []string
	hooks := &Hooks{BeforeDispatch: func(command string, args []string) (bool, int) {
		seen = append(seen, command)
		return command == "custom", 7
	}}
	if code, _, _ := runCLI([]string{"custom", "x"}, hooks); code != 7 {
		t.Errorf("custom code = %d, want 7", code)
	}
	if code, _, _ := runCLI([]string{"version"}, hooks); code != 0 {
		t.Errorf("version code = %d", code)
	}
	if len(seen) != 2 {
		t.Errorf("hook saw %v", seen)
	}
}

// TestCheck verifies check reports what a working script registered
func TestCheck(t *testing.T) {
	code, out, errOut := runCLI([]string{"check", script(t, echoScript)}, nil)
	if code != 0 {
		t.Fatalf("check = %d, stderr %q", code, errOut)
	}
	for _, want := range []string{
		"extension:  echo",
		"module:     echo",
		"lifecycle:  created=yes destroyed=no",
		"async=0 sync=1 global-async=yes global-sync=no",
		"OK",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("check output missing %q:\n%s", want, out)
		}
	}
}

// TestCheckFailures verifies check exits 1 for missing and broken scripts
func TestCheckFailures(t *testing.T) {
	if code, _, errOut := runCLI([]string{"check"}, nil); code != 1 || !strings.Contains(errOut, "no script") {
		t.Errorf("no script = %d %q", code, errOut)
	}
	code, _, errOut := runCLI([]string{"check", script(t, `xwalk.SetExtensionName("only-name")`)}, nil)
	if code != 1 || !strings.Contains(errOut, "FAIL") {
		t.Errorf("incomplete script = %d %q", code, errOut)
	}
}

// TestServeBrokenScript verifies serve without --watch refuses a script that fails to load
func TestServeBrokenScript(t *testing.T) {
	code, _, errOut := runCLI([]string{"serve", "--port", "0", script(t, `error("nope")`)}, nil)
	if code != 1 || !strings.Contains(errOut, "nope") {
		t.Errorf("serve = %d %q", code, errOut)
	}
}

// TestMCPEndsWithInput verifies the mcp command returns when stdin closes
func TestMCPEndsWithInput(t *testing.T) {
	code, _, errOut := runCLI([]string{"mcp", script(t, echoScript)}, nil)
	if code != 0 {
		t.Errorf("mcp = %d %q", code, errOut)
	}
}

// TestCheckShippedExtension verifies the sample extension in the repository loads
func TestCheckShippedExtension(t *testing.T) {
	code, out, errOut := runCLI([]string{"check", filepath.Join("..", "extensions", "example", "example.lua")}, nil)
	if code != 0 {
		t.Fatalf("check = %d, stderr %q", code, errOut)
	}
	if !strings.Contains(out, "extension:  example") || !strings.Contains(out, "async=1 sync=1") {
		t.Errorf("check output:\n%s", out)
	}
}
