package bridge

import (
	"context"
	"reflect"
	"sync/atomic"

	"github.com/wippyai/icall-bridge/abi"
	"github.com/wippyai/icall-bridge/calltable"
	"github.com/wippyai/icall-bridge/errors"
)

// Slot caches one internal call as a typed Go function. It is bound once
// per generation while the bridge is Resolving and read without locks
// afterwards.
type Slot[F any] struct {
	id     calltable.Identifier
	bridge *Bridge
	cell   atomic.Pointer[binding[F]]
}

type binding[F any] struct {
	fn         F
	generation uint64
}

// NewSlot creates a slot for id and adds it to the initializers of b
func NewSlot[F any](b *Bridge, id string) (*Slot[F], error) {
	if !calltable.Identifier(id).Valid() {
		return nil, errors.New(errors.PhaseBind, errors.KindInvalidInput).
			Identifier(id).
			Detail("invalid identifier").
			Build()
	}
	if _, err := abi.SignatureOf(reflect.TypeFor[F]()); err != nil {
		return nil, errors.New(errors.PhaseBind, errors.KindSignatureMismatch).
			Identifier(id).
			Cause(err).
			Build()
	}
	s := &Slot[F]{id: calltable.Identifier(id), bridge: b}
	if err := b.AddInitializer(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Identifier returns the internal call the slot binds
func (s *Slot[F]) Identifier() string {
	return string(s.id)
}

// Initialize binds the slot. A second bind in the same generation fails.
func (s *Slot[F]) Initialize(r *Resolver) error {
	if cur := s.cell.Load(); cur != nil && cur.generation == r.Generation() {
		return errors.New(errors.PhaseBind, errors.KindInvalidState).
			Identifier(string(s.id)).
			Detail("slot already bound in generation %d", cur.generation).
			Build()
	}
	fn, err := Bind[F](r, string(s.id))
	if err != nil {
		return err
	}
	s.cell.Store(&binding[F]{fn: fn, generation: r.Generation()})
	return nil
}

// Unload keeps the old binding so that later use reports StaleSlot
func (s *Slot[F]) Unload(context.Context) error {
	return nil
}

func (s *Slot[F]) discard(generation uint64) {
	if cur := s.cell.Load(); cur != nil && cur.generation == generation {
		s.cell.CompareAndSwap(cur, nil)
	}
}

// Bound reports whether the slot holds a function of the current generation
func (s *Slot[F]) Bound() bool {
	cur := s.cell.Load()
	return cur != nil && cur.generation == s.bridge.Generation() && s.bridge.State() == StateReady
}

// Get returns the bound function. It fails with StaleSlot when the binding
// belongs to an unloaded generation and NotReady when nothing is bound.
// The function must not be used after the bridge unloads; Call enforces
// that.
func (s *Slot[F]) Get() (F, error) {
	var zero F
	cur := s.cell.Load()
	gen := s.bridge.Generation()
	if cur != nil && cur.generation != gen {
		return zero, errors.StaleSlot(string(s.id), cur.generation, gen)
	}
	if state := s.bridge.State(); cur == nil || state != StateReady {
		return zero, errors.NotReady(errors.PhaseInvoke, "slot "+string(s.id), state.String())
	}
	return cur.fn, nil
}

// Call runs fn with the bound function while holding the reload barrier
func (s *Slot[F]) Call(fn func(F) error) error {
	release, err := s.bridge.Acquire()
	if err != nil {
		if _, stale := s.Get(); stale != nil {
			return stale
		}
		return err
	}
	defer release()

	f, err := s.Get()
	if err != nil {
		return err
	}
	return fn(f)
}
