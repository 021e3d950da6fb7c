package thunk

import (
	"errors"
	"testing"

	"github.com/wippyai/icall-bridge/calltable"
	bridgeerrors "github.com/wippyai/icall-bridge/errors"
)

type vecA struct{ X, Y, Z float32 }

func (vecA) ABIName() string { return "MyVec3" }

type vecB struct{ X, Y, Z float32 }

func (vecB) ABIName() string { return "MyVec3" }

type unaryFn func(float32) float32

func resolve(t *testing.T, fn any) calltable.Pointer {
	t.Helper()
	table := calltable.New()
	if err := table.Register("Test.Class.Fn", fn); err != nil {
		t.Fatalf("Register: %v", err)
	}
	p, err := table.Resolve("Test.Class.Fn")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return p
}

func TestBindMatching(t *testing.T) {
	p := resolve(t, func(x int32) int32 { return x + 1 })

	fn, err := Bind[func(int32) int32](p)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if got := fn(9); got != 10 {
		t.Errorf("fn(9) = %d, want 10", got)
	}

	pf := resolve(t, func(x float32) float32 { return x + 1.0 })
	ff, err := Bind[func(float32) float32](pf)
	if err != nil {
		t.Fatalf("Bind float: %v", err)
	}
	if got := ff(9.0); got != 10.0 {
		t.Errorf("ff(9.0) = %v, want 10.0", got)
	}
}

func TestBindMismatch(t *testing.T) {
	p := resolve(t, func(v float32) float32 { return v - 10 })

	tests := []struct {
		name string
		bind func() error
	}{
		{"wider param", func() error { _, err := Bind[func(float64) float32](p); return err }},
		{"wider result", func() error { _, err := Bind[func(float32) float64](p); return err }},
		{"extra param", func() error { _, err := Bind[func(float32, float32) float32](p); return err }},
		{"no result", func() error { _, err := Bind[func(float32)](p); return err }},
		{"not a func", func() error { _, err := Bind[int](p); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.bind()
			if !errors.Is(err, bridgeerrors.ErrSignatureMismatch) {
				t.Fatalf("Bind = %v, want signature mismatch", err)
			}
			var be *bridgeerrors.Error
			if errors.As(err, &be) && be.Identifier != "Test.Class.Fn" {
				t.Errorf("Identifier = %q", be.Identifier)
			}
		})
	}
}

func TestBindNamedFuncType(t *testing.T) {
	p := resolve(t, unaryFn(func(v float32) float32 { return v * 2 }))

	fn, err := Bind[func(float32) float32](p)
	if err != nil {
		t.Fatal(err)
	}
	if got := fn(4); got != 8 {
		t.Errorf("fn(4) = %v", got)
	}

	named, err := Bind[unaryFn](p)
	if err != nil {
		t.Fatal(err)
	}
	if got := named(5); got != 10 {
		t.Errorf("named(5) = %v", got)
	}
}

func TestBindAdaptsSameLayoutName(t *testing.T) {
	p := resolve(t, func(v vecA) vecA { return vecA{X: v.Z, Y: v.Y, Z: v.X} })

	fn, err := Bind[func(vecB) vecB](p)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if got := fn(vecB{X: 1, Y: 2, Z: 3}); got != (vecB{X: 3, Y: 2, Z: 1}) {
		t.Errorf("got %+v", got)
	}
}

func TestBindEmptyPointer(t *testing.T) {
	if _, err := Bind[func()](calltable.Pointer{}); err == nil {
		t.Error("empty pointer should fail")
	}
}
