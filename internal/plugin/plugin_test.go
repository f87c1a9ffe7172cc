package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/zot/xwalk-lua/internal/config"
	"github.com/zot/xwalk-lua/internal/host/inproc"
	"github.com/zot/xwalk-lua/internal/trampoline"
	"go.uber.org/zap"
)

const echoScript = `
local xwalk = require("xwalk")

created = {}
destroyed = {}

local function onMessage(instance, message)
  xwalk.PostMessage(instance, "echo:" .. message)
end

local function onSync(instance, message)
  return message
end

xwalk.SetExtensionName("echo")
xwalk.SetJavaScriptAPI("exports.echo = function(m) { return extension.internal.sendSyncMessage(m); };")
xwalk.SetInstanceCreatedCallback(function(instance)
  created[#created + 1] = instance
  xwalk.SetMessageCallback(instance, onMessage)
  xwalk.SetSyncMessageCallback(instance, onSync)
end)
xwalk.SetInstanceDestroyedCallback(function(instance)
  destroyed[#destroyed + 1] = instance
end)
`

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.SetLogger(zap.NewNop())
	return cfg
}

// writeExtension writes module.lua in a temp dir and returns the matching plugin library path
func writeExtension(t *testing.T, module, code string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, module+".lua"), []byte(code), 0o644); err != nil {
		t.Fatal(err)
	}
	return filepath.Join(dir, "lib"+module+".so")
}

func loadPlugin(t *testing.T, code string) (*Plugin, *inproc.Host) {
	t.Helper()
	h := inproc.New(writeExtension(t, "echo", code))
	p := New(testConfig())
	if err := p.Initialize(h); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(h.Shutdown)
	return p, h
}

// TestBootstrapActive verifies a complete script reaches Active and is wired to the host
func TestBootstrapActive(t *testing.T) {
	p, h := loadPlugin(t, echoScript)

	if p.State() != Active {
		t.Fatalf("state = %s, want active", p.State())
	}
	if h.Name != "echo" {
		t.Errorf("host name = %q, want echo", h.Name)
	}
	if h.JavaScript == "" {
		t.Error("host JavaScript API not set")
	}
	if !h.Ready() {
		t.Error("message handlers not registered with host")
	}
	created, destroyed := h.InstanceCallbacks()
	if created == 0 || destroyed == 0 || created == destroyed {
		t.Errorf("lifecycle pointers = %#x, %#x", created, destroyed)
	}
	if p.Location().Module != "echo" {
		t.Errorf("module = %q, want echo", p.Location().Module)
	}
}

// TestEndToEndMessaging verifies lifecycle, async and sync paths through the host
func TestEndToEndMessaging(t *testing.T) {
	p, h := loadPlugin(t, echoScript)

	id, err := h.CreateInstance()
	if err != nil {
		t.Fatal(err)
	}
	reply, err := h.SendSync(id, "ping")
	if err != nil {
		t.Fatalf("SendSync failed: %v", err)
	}
	if reply != "ping" {
		t.Errorf("reply = %q, want ping", reply)
	}

	if err := h.Send(id, "hello"); err != nil {
		t.Fatal(err)
	}
	posted := h.Posted()
	if len(posted) != 1 || posted[0] != (inproc.Posted{Instance: id, Message: "echo:hello"}) {
		t.Errorf("posted = %v", posted)
	}

	// an instance the script never registered replies "" and drops async messages
	reply, err = h.SendSync(99, "ping")
	if err != nil || reply != "" {
		t.Errorf("unregistered reply = %q, %v; want empty reply", reply, err)
	}
	h.Send(99, "dropped")
	if len(h.Posted()) != 1 {
		t.Error("message to unregistered instance produced output")
	}

	h.DestroyInstance(id)
	destroyed := p.Runtime().State.GetGlobal("destroyed").String()
	if destroyed == "nil" {
		t.Error("destroyed table missing")
	}
}

// TestLifecycleTrampolineArgument verifies the created trampoline passes 7 exactly once
func TestLifecycleTrampolineArgument(t *testing.T) {
	p, h := loadPlugin(t, echoScript)
	created, _ := h.InstanceCallbacks()

	// extra trampolines must not disturb the plugin's
	for i := 0; i < 3; i++ {
		h.TrampolineTable().New(func(int32) { t.Error("unrelated trampoline called") })
	}
	h.TrampolineTable().Invoke(created, 7)

	L := p.Runtime().State
	if err := L.DoString(`count = #created; first = created[1]`); err != nil {
		t.Fatal(err)
	}
	if L.GetGlobal("count").String() != "1" || L.GetGlobal("first").String() != "7" {
		t.Errorf("created calls: count=%v first=%v", L.GetGlobal("count"), L.GetGlobal("first"))
	}
	if _, ok := p.Registry().Sync.Lookup(7); !ok {
		t.Error("instance-created callback did not register the sync handler")
	}
}

// TestBootstrapFailsWithoutIdentity verifies a script that only sets handlers fails to load
func TestBootstrapFailsWithoutIdentity(t *testing.T) {
	h := inproc.New(writeExtension(t, "partial", `
		xwalk.SetSyncMessageCallback(0, function(i, m) return m end)
	`))
	p := New(testConfig())
	err := p.Initialize(h)
	if !errors.Is(err, ErrIdentityMissing) {
		t.Fatalf("error = %v, want ErrIdentityMissing", err)
	}
	if p.State() != Failed {
		t.Errorf("state = %s, want failed", p.State())
	}
	if h.Ready() {
		t.Error("failed plugin registered message handlers")
	}
	if !p.Runtime().Closed() {
		t.Error("failed plugin left the interpreter running")
	}
}

// TestBootstrapFailures verifies each load-time failure aborts initialization
func TestBootstrapFailures(t *testing.T) {
	t.Run("missing extension_path", func(t *testing.T) {
		p := New(testConfig())
		if err := p.Initialize(inproc.New("")); !errors.Is(err, ErrNoExtensionPath) {
			t.Errorf("error = %v, want ErrNoExtensionPath", err)
		}
	})

	t.Run("missing module", func(t *testing.T) {
		p := New(testConfig())
		h := inproc.New(filepath.Join(t.TempDir(), "libghost.so"))
		if err := p.Initialize(h); err == nil {
			t.Error("expected error for missing module")
		}
		if p.State() != Failed {
			t.Errorf("state = %s", p.State())
		}
	})

	t.Run("raising module", func(t *testing.T) {
		p := New(testConfig())
		h := inproc.New(writeExtension(t, "boom", `error("cannot start")`))
		if err := p.Initialize(h); err == nil {
			t.Error("expected error for raising module")
		}
	})

	t.Run("preload failure", func(t *testing.T) {
		cfg := testConfig()
		cfg.Lua.Preload = []string{"libmissing.so"}
		p := New(cfg)
		h := inproc.New(writeExtension(t, "echo", echoScript))
		h.SetPreloader(func(string) error { return errors.New("not found") })
		if err := p.Initialize(h); err == nil {
			t.Fatal("expected preload error")
		}
		if p.State() != Failed || p.Runtime() != nil {
			t.Errorf("state = %s, runtime started = %v", p.State(), p.Runtime() != nil)
		}
	})

	t.Run("trampoline allocation", func(t *testing.T) {
		p := New(testConfig())
		h := &limitedHost{Host: inproc.New(writeExtension(t, "echo", echoScript)), table: trampoline.NewTable(1)}
		err := p.Initialize(h)
		if !errors.Is(err, trampoline.ErrAllocation) {
			t.Errorf("error = %v, want ErrAllocation", err)
		}
	})
}

// limitedHost swaps in a trampoline table that runs out of slots
type limitedHost struct {
	*inproc.Host
	table *trampoline.Table
}

func (h *limitedHost) Trampolines() trampoline.Factory {
	return h.table
}

// TestPreloadOrder verifies configured libraries are preloaded before import
func TestPreloadOrder(t *testing.T) {
	cfg := testConfig()
	cfg.Lua.Preload = []string{"liba.so", "libb.so"}
	h := inproc.New(writeExtension(t, "echo", echoScript))
	p := New(cfg)
	if err := p.Initialize(h); err != nil {
		t.Fatal(err)
	}
	defer h.Shutdown()
	got := h.Preloaded()
	if len(got) != 2 || got[0] != "liba.so" || got[1] != "libb.so" {
		t.Errorf("preloaded = %v", got)
	}
}

// TestEnvMode verifies the script is found on the configured search path
func TestEnvMode(t *testing.T) {
	lib := writeExtension(t, "envext", echoScript)
	cfg := testConfig()
	cfg.Extension.Mode = config.ModeEnv
	cfg.Extension.Module = "envext"
	cfg.Lua.Path = []string{filepath.Dir(lib)}

	p := New(cfg)
	h := inproc.New("")
	if err := p.Initialize(h); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer h.Shutdown()
	if h.Name != "echo" {
		t.Errorf("name = %q", h.Name)
	}
}

// TestShutdownIdempotent verifies shutdown closes the interpreter once
func TestShutdownIdempotent(t *testing.T) {
	p, h := loadPlugin(t, echoScript)
	id, _ := h.CreateInstance()
	h.Shutdown()
	if p.State() != Stopped {
		t.Errorf("state = %s, want stopped", p.State())
	}
	p.Shutdown()
	if !p.Runtime().Closed() {
		t.Error("runtime still open")
	}
	if p.Registry().Sync.Len() != 0 {
		t.Error("handlers not released")
	}
	if _, err := h.SendSync(id, "x"); !errors.Is(err, inproc.ErrShutdown) {
		t.Errorf("SendSync after shutdown error = %v", err)
	}
}

// TestInitializeTwice verifies a plugin cannot be bootstrapped twice
func TestInitializeTwice(t *testing.T) {
	p, h := loadPlugin(t, echoScript)
	if err := p.Initialize(h); err == nil {
		t.Error("second Initialize should fail")
	}
}

// TestUnquotePath verifies JSON unquoting with the byte-strip fallback
func TestUnquotePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`"/usr/lib/ext/libecho.so"`, "/usr/lib/ext/libecho.so"},
		{`"C:\\ext\\libecho.dll"`, `C:\ext\libecho.dll`},
		{`"/bad\escape"`, `/bad\escape`},
		{"/plain/path", "/plain/path"},
		{`""`, ""},
	}
	for _, tt := range tests {
		if got := UnquotePath(tt.in); got != tt.want {
			t.Errorf("UnquotePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestModuleNameFromLibrary verifies prefix and suffix stripping
func TestModuleNameFromLibrary(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/ext/libecho.so", "echo"},
		{"/ext/libecho.dylib", "echo"},
		{"echo.dll", "echo"},
		{"/ext/library.so", "rary"},
		{"/ext/plain", "plain"},
	}
	for _, tt := range tests {
		if got := ModuleNameFromLibrary(tt.in); got != tt.want {
			t.Errorf("ModuleNameFromLibrary(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestStateString verifies state names used in logs
func TestStateString(t *testing.T) {
	if Active.String() != "active" || Failed.String() != "failed" || State(99).String() != "State(99)" {
		t.Errorf("unexpected state names: %s %s %s", Active, Failed, State(99))
	}
}
