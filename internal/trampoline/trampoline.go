// Package trampoline turns Go closures into native function pointers of the
// shape void(int32), the form the host requires for instance lifecycle
// callbacks. The host passes no user data, so every pointer is a distinct
// callable bound to one closure when it is created.
package trampoline

import (
	"errors"
	"fmt"
	"sync"
)

// ErrAllocation is returned when no further trampolines can be created.
var ErrAllocation = errors.New("cannot allocate trampoline")

// Func is the Go side of a trampoline.
type Func func(instance int32)

// Factory creates trampolines. Pointers are never released; their lifetime is
// the process's.
type Factory interface {
	New(fn Func) (uintptr, error)
}

// Logger is a verbosity-leveled logger, such as *config.Config.
type Logger interface {
	Log(level int, format string, args ...interface{})
}

// Notifier is the callable a trampoline is bound to.
type Notifier interface {
	Notify(instance int32) error
}

// Bind returns the closure a trampoline runs for target. Failures and panics
// are logged; the host has no channel for them. A nil target logs that the
// callback was never set.
func Bind(name string, target Notifier, log Logger) Func {
	return func(instance int32) {
		defer func() {
			if p := recover(); p != nil {
				logf(log, 0, "%s callback for instance %d panicked: %v", name, instance, p)
			}
		}()
		if target == nil {
			logf(log, 1, "%s callback not set (instance %d)", name, instance)
			return
		}
		logf(log, 2, "%s callback for instance %d", name, instance)
		if err := target.Notify(instance); err != nil {
			logf(log, 0, "%s callback for instance %d failed: %v", name, instance, err)
		}
	}
}

func logf(log Logger, level int, format string, args ...interface{}) {
	if log != nil {
		log.Log(level, format, args...)
	}
}

// Table is an in-process Factory. Pointers are opaque ids resolved by Invoke,
// which stands in for the host calling the native pointer.
type Table struct {
	mu    sync.RWMutex
	funcs map[uintptr]Func
	next  uintptr
	limit int
}

// NewTable creates a Table holding at most limit trampolines (0 = no limit).
func NewTable(limit int) *Table {
	return &Table{
		funcs: make(map[uintptr]Func),
		next:  0x1000,
		limit: limit,
	}
}

// New binds fn to a fresh pointer.
func (t *Table) New(fn Func) (uintptr, error) {
	if fn == nil {
		return 0, fmt.Errorf("nil trampoline function: %w", ErrAllocation)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.limit > 0 && len(t.funcs) >= t.limit {
		return 0, fmt.Errorf("%d trampolines in use: %w", len(t.funcs), ErrAllocation)
	}
	ptr := t.next
	t.next += 0x10
	t.funcs[ptr] = fn
	return ptr, nil
}

// Invoke calls the trampoline at ptr. Zero or unknown pointers are ignored and
// reported as false.
func (t *Table) Invoke(ptr uintptr, instance int32) bool {
	t.mu.RLock()
	fn, ok := t.funcs[ptr]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	fn(instance)
	return true
}

// Len returns the number of trampolines created.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.funcs)
}
