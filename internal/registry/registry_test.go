package registry

import (
	"errors"
	"math"
	"testing"
)

type countingHandler struct {
	reply    string
	calls    int
	released int
}

func (h *countingHandler) Invoke(instance int32, payload string) Result {
	h.calls++
	return Text(h.reply)
}

func (h *countingHandler) Release() {
	h.released++
}

// TestTableRejectsOutOfRange verifies ids outside [0, limit) are never stored
func TestTableRejectsOutOfRange(t *testing.T) {
	table := NewTable("message", 64)
	for _, id := range []int32{-1, -64, 64, 65, 1 << 20} {
		err := table.Register(id, &countingHandler{})
		if !errors.Is(err, ErrOutOfRange) {
			t.Errorf("Register(%d) error = %v, want ErrOutOfRange", id, err)
		}
		if _, ok := table.Lookup(id); ok {
			t.Errorf("Lookup(%d) found a handler after rejected registration", id)
		}
	}
	if table.Len() != 0 {
		t.Errorf("Len = %d, want 0", table.Len())
	}
}

// TestTableHugeLimit verifies a limit wider than int32 does not wrap
func TestTableHugeLimit(t *testing.T) {
	table := NewTable("message", math.MaxInt)
	if !table.InRange(64) || !table.InRange(math.MaxInt32-1) {
		t.Error("large ids rejected by an oversized limit")
	}
	if table.InRange(-1) {
		t.Error("negative id accepted")
	}
}

// TestTableBoundaries verifies the first and last valid ids are accepted
func TestTableBoundaries(t *testing.T) {
	table := NewTable("message", 64)
	for _, id := range []int32{0, 63} {
		if err := table.Register(id, &countingHandler{}); err != nil {
			t.Errorf("Register(%d) failed: %v", id, err)
		}
	}
	if got := table.Instances(); len(got) != 2 || got[0] != 0 || got[1] != 63 {
		t.Errorf("Instances = %v, want [0 63]", got)
	}
}

// TestTableUnbounded verifies a zero limit removes the ceiling but not the sign check
func TestTableUnbounded(t *testing.T) {
	table := NewTable("message", 0)
	if err := table.Register(100000, &countingHandler{}); err != nil {
		t.Errorf("Register(100000) failed: %v", err)
	}
	if err := table.Register(-1, &countingHandler{}); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Register(-1) error = %v, want ErrOutOfRange", err)
	}
}

// TestTableWriteOnce verifies the first registration stays in effect
func TestTableWriteOnce(t *testing.T) {
	table := NewTable("sync-message", 64)
	first := &countingHandler{reply: "first"}
	second := &countingHandler{reply: "second"}

	if err := table.Register(3, first); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	if err := table.Register(3, second); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("second Register error = %v, want ErrAlreadyRegistered", err)
	}

	h, ok := table.Lookup(3)
	if !ok {
		t.Fatal("Lookup(3) found nothing")
	}
	if got := h.Invoke(3, "x").Text; got != "first" {
		t.Errorf("handler reply = %q, want first", got)
	}
}

// TestTableRelease verifies Release drops every reference once
func TestTableRelease(t *testing.T) {
	table := NewTable("message", 0)
	a, b := &countingHandler{}, &countingHandler{}
	table.Register(1, a)
	table.Register(2, b)
	table.Release()
	table.Release()
	if a.released != 1 || b.released != 1 {
		t.Errorf("released counts = %d, %d, want 1, 1", a.released, b.released)
	}
	if table.Len() != 0 {
		t.Errorf("Len after Release = %d", table.Len())
	}
}

// TestIdentityWriteOnce verifies name and API text keep their first value
func TestIdentityWriteOnce(t *testing.T) {
	r := New(64)
	if r.Identified() {
		t.Fatal("new registry should not be identified")
	}
	if err := r.SetExtensionName("echo"); err != nil {
		t.Fatalf("SetExtensionName failed: %v", err)
	}
	if err := r.SetExtensionName("other"); !errors.Is(err, ErrAlreadySet) {
		t.Errorf("second SetExtensionName error = %v, want ErrAlreadySet", err)
	}
	if err := r.SetJavaScriptAPI(""); !errors.Is(err, ErrMissing) {
		t.Errorf("empty SetJavaScriptAPI error = %v, want ErrMissing", err)
	}
	if err := r.SetJavaScriptAPI("exports.x = 1;"); err != nil {
		t.Fatalf("SetJavaScriptAPI failed: %v", err)
	}
	if err := r.SetJavaScriptAPI("exports.y = 2;"); !errors.Is(err, ErrAlreadySet) {
		t.Errorf("second SetJavaScriptAPI error = %v, want ErrAlreadySet", err)
	}
	if r.ExtensionName() != "echo" || r.JavaScriptAPI() != "exports.x = 1;" {
		t.Errorf("identity = %q / %q", r.ExtensionName(), r.JavaScriptAPI())
	}
	if !r.Identified() {
		t.Error("registry should be identified")
	}
}

// TestGlobalHandlerFallback verifies simple-mode handlers serve unregistered instances
func TestGlobalHandlerFallback(t *testing.T) {
	r := New(64)
	global := &countingHandler{reply: "global"}
	own := &countingHandler{reply: "own"}

	if _, ok := r.SyncMessageHandler(1); ok {
		t.Fatal("expected no handler before registration")
	}
	if err := r.SetGlobalSyncMessageHandler(global); err != nil {
		t.Fatal(err)
	}
	if err := r.SetGlobalSyncMessageHandler(own); !errors.Is(err, ErrAlreadySet) {
		t.Errorf("second global handler error = %v, want ErrAlreadySet", err)
	}
	r.Sync.Register(2, own)

	h, _ := r.SyncMessageHandler(1)
	if got := h.Invoke(1, "").Text; got != "global" {
		t.Errorf("instance 1 reply = %q, want global", got)
	}
	h, _ = r.SyncMessageHandler(2)
	if got := h.Invoke(2, "").Text; got != "own" {
		t.Errorf("instance 2 reply = %q, want own", got)
	}
	if _, ok := r.MessageHandler(1); ok {
		t.Error("async lookup should not use the sync global handler")
	}
	if async, sync := r.HasGlobalHandlers(); async || !sync {
		t.Errorf("HasGlobalHandlers = %v, %v; want false, true", async, sync)
	}
}

// TestLifecycleWriteOnce verifies lifecycle callables are write-once and released
func TestLifecycleWriteOnce(t *testing.T) {
	r := New(64)
	var calls []int32
	created := LifecycleFunc(func(instance int32) error {
		calls = append(calls, instance)
		return nil
	})
	if err := r.SetInstanceCreated(created); err != nil {
		t.Fatal(err)
	}
	if err := r.SetInstanceCreated(created); !errors.Is(err, ErrAlreadySet) {
		t.Errorf("second SetInstanceCreated error = %v, want ErrAlreadySet", err)
	}
	if err := r.SetInstanceDestroyed(nil); !errors.Is(err, ErrMissing) {
		t.Errorf("nil SetInstanceDestroyed error = %v, want ErrMissing", err)
	}
	r.InstanceCreated().Notify(4)
	if len(calls) != 1 || calls[0] != 4 {
		t.Errorf("calls = %v, want [4]", calls)
	}
	r.Release()
	if r.InstanceCreated() != nil {
		t.Error("Release should drop lifecycle callables")
	}
}

// TestResultReply verifies only Ok results produce reply text
func TestResultReply(t *testing.T) {
	tests := []struct {
		result Result
		want   string
	}{
		{Text("pong"), "pong"},
		{Text(""), ""},
		{Nothing(), ""},
		{Failuref("boom %d", 1), ""},
	}
	for _, tt := range tests {
		if got := tt.result.Reply(); got != tt.want {
			t.Errorf("%v.Reply() = %q, want %q", tt.result.Kind, got, tt.want)
		}
	}
}
