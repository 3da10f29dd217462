package httpclient

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps operation names to operations. It stands in for generated
// code: declare operations once, register them, and call them by name.
type Registry struct {
	mu  sync.RWMutex
	ops map[string]*Operation
}

// NewRegistry creates a registry pre-populated with ops.
func NewRegistry(ops ...*Operation) (*Registry, error) {
	r := &Registry{ops: make(map[string]*Operation, len(ops))}
	for _, op := range ops {
		if err := r.Register(op); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds op. Registering two operations with the same name fails.
func (r *Registry) Register(op *Operation) error {
	if op == nil {
		return &ConstructionError{Err: fmt.Errorf("nil operation")}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ops == nil {
		r.ops = make(map[string]*Operation)
	}
	if _, exists := r.ops[op.Name()]; exists {
		return &ConstructionError{Operation: op.Name(), Err: fmt.Errorf("operation already registered")}
	}
	r.ops[op.Name()] = op
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(ops ...*Operation) {
	for _, op := range ops {
		if err := r.Register(op); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the operation registered under name.
func (r *Registry) Lookup(name string) (*Operation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.ops[name]
	return op, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
