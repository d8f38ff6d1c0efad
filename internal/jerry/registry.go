package jerry

import (
	"sort"

	"github.com/ctagard/jerry-coverage/internal/errors"
)

// Acknowledger sends the release acknowledgement for a byte code pointer.
// The engine frees the byte code only after receiving it.
type Acknowledger interface {
	SendFreeByteCodeCp(cp uint32) error
}

// FunctionRegistry owns every committed function of a session, keyed by
// compressed pointer.
type FunctionRegistry struct {
	functions map[uint32]*Function
}

// NewFunctionRegistry creates an empty registry.
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{
		functions: make(map[uint32]*Function),
	}
}

// Get returns the committed function for cp.
func (r *FunctionRegistry) Get(cp uint32) (*Function, bool) {
	f, ok := r.functions[cp]
	return f, ok
}

// Len returns the number of committed functions.
func (r *FunctionRegistry) Len() int {
	return len(r.functions)
}

// Commit takes ownership of the functions of a completed parse unit.
func (r *FunctionRegistry) Commit(pending map[uint32]*Function) {
	for cp, f := range pending {
		r.functions[cp] = f
	}
}

// Release removes the function for cp and acknowledges the release exactly
// once. Releasing an unknown pointer fails without sending anything.
func (r *FunctionRegistry) Release(cp uint32, ack Acknowledger) error {
	if _, ok := r.functions[cp]; !ok {
		return errors.UnknownCp(cp)
	}
	delete(r.functions, cp)
	return ack.SendFreeByteCodeCp(cp)
}

// Pointers returns the committed compressed pointers in ascending order.
func (r *FunctionRegistry) Pointers() []uint32 {
	cps := make([]uint32, 0, len(r.functions))
	for cp := range r.functions {
		cps = append(cps, cp)
	}
	sort.Slice(cps, func(i, j int) bool { return cps[i] < cps[j] })
	return cps
}
