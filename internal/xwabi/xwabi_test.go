package xwabi

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/zot/xwalk-lua/internal/host"
)

// TestGoString verifies NUL-terminated strings are copied up to the terminator
func TestGoString(t *testing.T) {
	buf := []byte("ping\x00pong\x00")
	if got := goString(uintptr(unsafe.Pointer(&buf[0]))); got != "ping" {
		t.Errorf("goString = %q, want ping", got)
	}
	empty := []byte{0}
	if got := goString(uintptr(unsafe.Pointer(&empty[0]))); got != "" {
		t.Errorf("goString(empty) = %q", got)
	}
	if got := goString(0); got != "" {
		t.Errorf("goString(NULL) = %q", got)
	}
}

// TestTable verifies interface tables are read as pointer arrays and validated
func TestTable(t *testing.T) {
	full := [2]uintptr{0x10, 0x20}
	holed := [2]uintptr{0x10, 0}
	h := &Host{getInterface: func(name string) uintptr {
		switch name {
		case MessagingInterface:
			return uintptr(unsafe.Pointer(&full))
		case SyncMessagingInterface:
			return uintptr(unsafe.Pointer(&holed))
		}
		return 0
	}}

	fns, err := h.table(MessagingInterface, messagingFuncs, true)
	if err != nil {
		t.Fatalf("table failed: %v", err)
	}
	if fns[0] != 0x10 || fns[1] != 0x20 {
		t.Errorf("fns = %#v", fns)
	}
	if _, err := h.table(SyncMessagingInterface, syncMessagingFuncs, true); err == nil {
		t.Error("expected error for NULL function pointer")
	}
	if _, err := h.table(CoreInterface, coreFuncs, true); err == nil {
		t.Error("expected error for missing required interface")
	}
	if fns, err := h.table(RuntimeInterface, runtimeFuncs, false); err != nil || fns != nil {
		t.Errorf("optional missing interface = %v, %v", fns, err)
	}
}

// TestRuntimeVariableWithoutInterface verifies a missing runtime interface reads as unset
func TestRuntimeVariableWithoutInterface(t *testing.T) {
	h := &Host{}
	if v, ok := h.RuntimeVariable("extension_path"); ok || v != "" {
		t.Errorf("RuntimeVariable = %q, %v", v, ok)
	}
}

// TestNewRejectsNullGetInterface verifies a NULL get_interface fails cleanly
func TestNewRejectsNullGetInterface(t *testing.T) {
	if _, err := New(1, 0); err == nil {
		t.Error("expected error")
	}
}

type sent struct {
	instance int32
	text     string
}

// fakeXWalk is a host built from native callbacks laid out like the
// Crosswalk interface structs.
type fakeXWalk struct {
	extensionPath string

	core      [coreFuncs]uintptr
	messaging [messagingFuncs]uintptr
	sync      [syncMessagingFuncs]uintptr
	runtime   [runtimeFuncs]uintptr

	getInterface uintptr

	name, api          string
	created, destroyed uintptr
	shutdown           uintptr
	message, syncMsg   uintptr
	posts, replies     []sent
}

func newFakeXWalk(extensionPath string) *fakeXWalk {
	f := &fakeXWalk{extensionPath: extensionPath}
	noop := purego.NewCallback(func(extension int32) {})
	f.core = [coreFuncs]uintptr{
		purego.NewCallback(func(extension int32, name uintptr) { f.name = goString(name) }),
		purego.NewCallback(func(extension int32, api uintptr) { f.api = goString(api) }),
		purego.NewCallback(func(extension int32, created, destroyed uintptr) {
			f.created, f.destroyed = created, destroyed
		}),
		purego.NewCallback(func(extension int32, shutdown uintptr) { f.shutdown = shutdown }),
		noop,
		noop,
	}
	f.messaging = [messagingFuncs]uintptr{
		purego.NewCallback(func(extension int32, handler uintptr) { f.message = handler }),
		purego.NewCallback(func(instance int32, message uintptr) {
			f.posts = append(f.posts, sent{instance, goString(message)})
		}),
	}
	f.sync = [syncMessagingFuncs]uintptr{
		purego.NewCallback(func(extension int32, handler uintptr) { f.syncMsg = handler }),
		purego.NewCallback(func(instance int32, reply uintptr) {
			f.replies = append(f.replies, sent{instance, goString(reply)})
		}),
	}
	f.runtime = [runtimeFuncs]uintptr{
		purego.NewCallback(func(extension int32, key, value uintptr, size uint32) {
			if goString(key) != host.ExtensionPathVariable || size == 0 {
				return
			}
			buf := unsafe.Slice((*byte)(unsafe.Pointer(value)), size)
			n := copy(buf[:size-1], f.extensionPath)
			buf[n] = 0
		}),
	}
	f.getInterface = purego.NewCallback(func(name uintptr) uintptr {
		switch goString(name) {
		case CoreInterface:
			return uintptr(unsafe.Pointer(&f.core[0]))
		case MessagingInterface:
			return uintptr(unsafe.Pointer(&f.messaging[0]))
		case SyncMessagingInterface:
			return uintptr(unsafe.Pointer(&f.sync[0]))
		case RuntimeInterface:
			return uintptr(unsafe.Pointer(&f.runtime[0]))
		}
		return 0
	})
	return f
}

// call invokes a registered native callback with an instance and C string.
func call(fn uintptr, instance int32, message string) {
	buf := append([]byte(message), 0)
	purego.SyscallN(fn, uintptr(instance), uintptr(unsafe.Pointer(&buf[0])))
	runtime.KeepAlive(buf)
}

// TestInitializeOverNativeInterfaces drives XW_Initialize against native
// interface tables and checks each sync delivery gets exactly one reply.
func TestInitializeOverNativeInterfaces(t *testing.T) {
	dir := t.TempDir()
	script := `
local xwalk = require("xwalk")
xwalk.SetExtensionName("echo")
xwalk.SetJavaScriptAPI("exports.ping = function() {};")
xwalk.SetInstanceCreatedCallback(function(instance)
  xwalk.SetMessageCallback(instance, function(i, m) xwalk.PostMessage(i, "echo:" .. m) end)
  xwalk.SetSyncMessageCallback(instance, function(i, m)
    if m == "boom" then error("boom") end
    return "sync:" .. m
  end)
end)
`
	if err := os.WriteFile(filepath.Join(dir, "echo.lua"), []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("XWALK_LUA_CONFIG", "")
	t.Setenv("XWALK_LUA_MODE", "path")
	t.Setenv("XWALK_LUA_LOG_FILE", filepath.Join(dir, "xwalk.log"))

	f := newFakeXWalk(`"` + filepath.Join(dir, "libecho.so") + `"`)
	if rc := Initialize(5, f.getInterface); rc != host.OK {
		t.Fatalf("Initialize = %d, want %d", rc, host.OK)
	}
	if f.name != "echo" || f.api != "exports.ping = function() {};" {
		t.Errorf("identity = %q, %q", f.name, f.api)
	}
	if f.created == 0 || f.destroyed == 0 || f.shutdown == 0 || f.message == 0 || f.syncMsg == 0 {
		t.Fatalf("callbacks not registered: %+v", f)
	}

	purego.SyscallN(f.created, 3)
	call(f.message, 3, "hi")
	if len(f.posts) != 1 || f.posts[0] != (sent{3, "echo:hi"}) {
		t.Errorf("posts = %v", f.posts)
	}

	deliveries := []struct {
		instance int32
		message  string
		reply    string
	}{
		{3, "ping", "sync:ping"},
		{3, "boom", ""},
		{9, "nobody", ""},
	}
	for i, d := range deliveries {
		call(f.syncMsg, d.instance, d.message)
		if len(f.replies) != i+1 {
			t.Fatalf("after %d deliveries got %d replies", i+1, len(f.replies))
		}
		if got := f.replies[i]; got != (sent{d.instance, d.reply}) {
			t.Errorf("reply %d = %v, want {%d %q}", i, got, d.instance, d.reply)
		}
	}

	purego.SyscallN(f.shutdown, 5)
	runtime.KeepAlive(f)
}

// TestInitializeWithoutExtensionPath verifies a host lacking extension_path fails
func TestInitializeWithoutExtensionPath(t *testing.T) {
	t.Setenv("XWALK_LUA_CONFIG", "")
	t.Setenv("XWALK_LUA_MODE", "path")
	t.Setenv("XWALK_LUA_LOG_FILE", filepath.Join(t.TempDir(), "xwalk.log"))

	f := newFakeXWalk("")
	if rc := Initialize(6, f.getInterface); rc != host.Error {
		t.Errorf("Initialize = %d, want %d", rc, host.Error)
	}
	if f.name != "" {
		t.Errorf("name set on failure: %q", f.name)
	}
	runtime.KeepAlive(f)
}
