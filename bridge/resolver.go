package bridge

import (
	"context"

	"github.com/wippyai/icall-bridge/abi"
	"github.com/wippyai/icall-bridge/calltable"
	"github.com/wippyai/icall-bridge/errors"
	"github.com/wippyai/icall-bridge/layout"
	"github.com/wippyai/icall-bridge/thunk"
	"go.uber.org/zap"
)

// Resolver is handed to initializers while the bridge is Resolving.
// It must not be kept past Initialize.
type Resolver struct {
	bridge     *Bridge
	ctx        context.Context
	generation uint64
}

// Context returns the context passed to Load
func (r *Resolver) Context() context.Context {
	return r.ctx
}

// Generation returns the generation being loaded
func (r *Resolver) Generation() uint64 {
	return r.generation
}

// Bridge returns the bridge being loaded
func (r *Resolver) Bridge() *Bridge {
	return r.bridge
}

// Logger returns the bridge logger annotated with the load session
func (r *Resolver) Logger() *zap.Logger {
	return r.bridge.logger.With(
		zap.String("session", r.bridge.Session()),
		zap.Uint64("generation", r.generation))
}

// Layouts returns the layouts declared for this generation
func (r *Resolver) Layouts() *layout.Registry {
	return r.bridge.layouts
}

// Resolve looks up an internal call
func (r *Resolver) Resolve(id string) (calltable.Pointer, error) {
	return r.bridge.table.Resolve(calltable.Identifier(id))
}

// Required reports whether id was declared by a manifest. Load resolves
// those itself and reports them missing or mismatched, so initializers
// need not report them again.
func (r *Resolver) Required(id string) bool {
	return r.bridge.requires(id)
}

// CheckLayouts verifies every struct type in sig on both sides
func (r *Resolver) CheckLayouts(sig abi.Signature) error {
	for _, name := range sig.Structs() {
		if err := r.bridge.layouts.Check(name); err != nil {
			return err
		}
	}
	return nil
}

// Compile resolves id and prepares it to be called with flat values
func (r *Resolver) Compile(id string) (*thunk.Raw, error) {
	p, err := r.Resolve(id)
	if err != nil {
		return nil, err
	}
	if err := r.CheckLayouts(p.Signature); err != nil {
		return nil, err
	}
	return thunk.Compile(p, r.bridge.layouts)
}

// Bind resolves id and converts it to the function type F
func Bind[F any](r *Resolver, id string) (F, error) {
	var zero F
	p, err := r.Resolve(id)
	if err != nil {
		return zero, err
	}
	fn, err := thunk.Bind[F](p)
	if err != nil {
		return zero, err
	}
	if err := r.CheckLayouts(p.Signature); err != nil {
		return zero, errors.New(errors.PhaseBind, errors.KindLayoutMismatch).
			Identifier(id).
			Cause(err).
			Build()
	}
	return fn, nil
}
