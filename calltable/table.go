package calltable

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/wippyai/icall-bridge/abi"
	"github.com/wippyai/icall-bridge/errors"
	"go.uber.org/zap"
)

// Pointer is a registered native function together with its signature.
// It is only valid for the generation it was resolved in.
type Pointer struct {
	fn         reflect.Value
	Identifier Identifier
	Signature  abi.Signature
	Address    uintptr
	Generation uint64
}

// NewPointer wraps a Go function, deriving its signature
func NewPointer(fn any) (Pointer, error) {
	if fn == nil {
		return Pointer{}, errors.InvalidInput(errors.PhaseRegister, "function cannot be nil")
	}
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func {
		return Pointer{}, errors.New(errors.PhaseRegister, errors.KindInvalidInput).
			Detail("handler must be a function, got %T", fn).
			Build()
	}
	if rv.IsNil() {
		return Pointer{}, errors.InvalidInput(errors.PhaseRegister, "function cannot be nil")
	}
	sig, err := abi.SignatureOf(rv.Type())
	if err != nil {
		return Pointer{}, err
	}
	return Pointer{
		fn:        rv,
		Signature: sig,
		Address:   rv.Pointer(),
	}, nil
}

// IsZero reports whether p holds no function
func (p Pointer) IsZero() bool {
	return !p.fn.IsValid()
}

// Value returns the function as a reflect.Value
func (p Pointer) Value() reflect.Value {
	return p.fn
}

// Func returns the function as registered
func (p Pointer) Func() any {
	if !p.fn.IsValid() {
		return nil
	}
	return p.fn.Interface()
}

func (p Pointer) String() string {
	return fmt.Sprintf("%s %s @%#x gen=%d", p.Identifier, p.Signature, p.Address, p.Generation)
}

// Entry is one registration in the table
type Entry struct {
	Identifier Identifier
	Pointer    Pointer
}

// Table maps identifiers to native functions. Registration order is kept.
type Table struct {
	entries    map[Identifier]*Entry
	order      []Identifier
	generation uint64
	sealed     bool
	mu         sync.RWMutex
}

// New creates an empty table at generation 1
func New() *Table {
	return &Table{
		entries:    make(map[Identifier]*Entry),
		generation: 1,
	}
}

// Register adds a Go function under id
func (t *Table) Register(id Identifier, fn any) error {
	p, err := NewPointer(fn)
	if err != nil {
		if e, ok := err.(*errors.Error); ok && e.Identifier == "" {
			e.Identifier = string(id)
		}
		return err
	}
	return t.RegisterPointer(id, p)
}

// RegisterPointer adds an already wrapped function under id
func (t *Table) RegisterPointer(id Identifier, p Pointer) error {
	if !id.Valid() {
		return errors.New(errors.PhaseRegister, errors.KindInvalidInput).
			Identifier(string(id)).
			Detail("invalid identifier").
			Build()
	}
	if p.IsZero() {
		return errors.New(errors.PhaseRegister, errors.KindInvalidInput).
			Identifier(string(id)).
			Detail("function cannot be nil").
			Build()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sealed {
		return errors.Sealed(string(id))
	}
	if _, exists := t.entries[id]; exists {
		return errors.DuplicateIdentifier(string(id))
	}

	p.Identifier = id
	p.Generation = t.generation
	t.entries[id] = &Entry{Identifier: id, Pointer: p}
	t.order = append(t.order, id)

	Logger().Debug("internal call registered",
		zap.String("id", string(id)),
		zap.Stringer("signature", p.Signature),
		zap.Uint64("generation", t.generation))
	return nil
}

// Resolve returns the pointer registered under id
func (t *Table) Resolve(id Identifier) (Pointer, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[id]
	if !ok {
		return Pointer{}, errors.UnknownIdentifier(string(id))
	}
	return e.Pointer, nil
}

// Has reports whether id is registered
func (t *Table) Has(id Identifier) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.entries[id]
	return ok
}

// Seal rejects further registrations until the next Reset
func (t *Table) Seal() {
	t.mu.Lock()
	t.sealed = true
	t.mu.Unlock()
}

// Sealed reports whether the table is sealed
func (t *Table) Sealed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sealed
}

// Reset drops every registration, unseals the table and starts a new
// generation. Pointers resolved before the reset keep their old generation.
func (t *Table) Reset() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	dropped := len(t.entries)
	t.entries = make(map[Identifier]*Entry)
	t.order = nil
	t.sealed = false
	t.generation++

	Logger().Debug("call table reset",
		zap.Int("dropped", dropped),
		zap.Uint64("generation", t.generation))
	return t.generation
}

// Generation returns the current generation number
func (t *Table) Generation() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.generation
}

// Len returns the number of registrations
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Entries returns the registrations in registration order
func (t *Table) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Entry, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.entries[id])
	}
	return out
}

// Classes returns the distinct class parts of registered identifiers, sorted
func (t *Table) Classes() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := make(map[string]bool)
	var classes []string
	for _, id := range t.order {
		class, _ := id.Split()
		if !seen[class] {
			seen[class] = true
			classes = append(classes, class)
		}
	}
	sort.Strings(classes)
	return classes
}
