package trampoline

import (
	"fmt"

	"github.com/ebitengine/purego"
)

// Native creates real C-callable function pointers with purego.NewCallback.
// purego keeps a fixed pool of callback slots and never frees them, which
// matches a trampoline's process lifetime.
type Native struct{}

// New binds fn to a fresh native callback. Exhausting purego's callback pool
// is reported as ErrAllocation.
func (Native) New(fn Func) (ptr uintptr, err error) {
	if fn == nil {
		return 0, fmt.Errorf("nil trampoline function: %w", ErrAllocation)
	}
	defer func() {
		if p := recover(); p != nil {
			ptr, err = 0, fmt.Errorf("%v: %w", p, ErrAllocation)
		}
	}()
	return purego.NewCallback(func(instance int32) {
		fn(instance)
	}), nil
}
