// Package registry holds the state an extension script registers with the plugin:
// its identity strings, per-instance message handlers and lifecycle callables.
// Everything is write-once. A script cannot replace another's handler.
package registry

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrOutOfRange is returned for instance ids the table does not accept.
	ErrOutOfRange = errors.New("instance id out of range")
	// ErrAlreadyRegistered is returned when a table slot is already taken.
	ErrAlreadyRegistered = errors.New("handler already registered")
	// ErrAlreadySet is returned when a write-once value is set twice.
	ErrAlreadySet = errors.New("already set")
	// ErrMissing is returned when a required argument is absent.
	ErrMissing = errors.New("missing value")
)

// Handler is a registered message handler. Implementations own whatever
// foreign reference they wrap until Release is called.
type Handler interface {
	Invoke(instance int32, payload string) Result
	Release()
}

// HandlerFunc adapts a Go function to Handler.
type HandlerFunc func(instance int32, payload string) Result

// Invoke calls f.
func (f HandlerFunc) Invoke(instance int32, payload string) Result {
	return f(instance, payload)
}

// Release does nothing; Go functions hold no foreign references.
func (f HandlerFunc) Release() {}

// Table maps instance ids to handlers. Slots are write-once and never removed
// before Release.
type Table struct {
	name     string
	limit    int32
	handlers map[int32]Handler
}

// NewTable creates a table accepting ids in [0, limit). A limit of 0 accepts
// any non-negative id. Limits beyond the int32 range are clamped.
func NewTable(name string, limit int) *Table {
	if limit > math.MaxInt32 {
		limit = math.MaxInt32
	}
	return &Table{
		name:     name,
		limit:    int32(limit),
		handlers: make(map[int32]Handler),
	}
}

// Name returns the table's name, used in log messages.
func (t *Table) Name() string {
	return t.name
}

// InRange reports whether instance is a valid key for this table.
func (t *Table) InRange(instance int32) bool {
	if instance < 0 {
		return false
	}
	return t.limit <= 0 || instance < t.limit
}

// Register stores handler for instance, taking ownership of it.
// The handler is not stored when an error is returned.
func (t *Table) Register(instance int32, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("%s table: %w", t.name, ErrMissing)
	}
	if !t.InRange(instance) {
		return fmt.Errorf("%s table: instance %d: %w", t.name, instance, ErrOutOfRange)
	}
	if _, ok := t.handlers[instance]; ok {
		return fmt.Errorf("%s table: instance %d: %w", t.name, instance, ErrAlreadyRegistered)
	}
	t.handlers[instance] = handler
	return nil
}

// Lookup returns the handler for instance, if any.
func (t *Table) Lookup(instance int32) (Handler, bool) {
	if !t.InRange(instance) {
		return nil, false
	}
	h, ok := t.handlers[instance]
	return h, ok
}

// Len returns the number of registered handlers.
func (t *Table) Len() int {
	return len(t.handlers)
}

// Instances returns the registered instance ids in ascending order.
func (t *Table) Instances() []int32 {
	ids := make([]int32, 0, len(t.handlers))
	for id := range t.handlers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Release releases every handler and empties the table.
func (t *Table) Release() {
	for id, h := range t.handlers {
		h.Release()
		delete(t.handlers, id)
	}
}
