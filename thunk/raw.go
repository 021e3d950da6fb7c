package thunk

import (
	"fmt"
	"reflect"

	"github.com/tetratelabs/wazero/api"
	icall "github.com/wippyai/icall-bridge"
	"github.com/wippyai/icall-bridge/abi"
	"github.com/wippyai/icall-bridge/calltable"
	"github.com/wippyai/icall-bridge/errors"
	"github.com/wippyai/icall-bridge/layout"
)

// LayoutSource looks up struct descriptors by type name
type LayoutSource interface {
	Lookup(name string) (*layout.Descriptor, bool)
}

// Raw is a trampoline over the flat value stack.
// The stack holds the parameters on entry and the result on return.
type Raw struct {
	ptr     calltable.Pointer
	params  []api.ValueType
	results []api.ValueType
	fast    func(stack []uint64)
	layouts []*layout.Descriptor // per parameter, nil for primitives
	retDesc *layout.Descriptor
}

// Compile prepares a trampoline for p. Struct types in the signature must
// be known to layouts.
func Compile(p calltable.Pointer, layouts LayoutSource) (*Raw, error) {
	if p.IsZero() {
		return nil, errors.New(errors.PhaseBind, errors.KindInvalidInput).
			Identifier(string(p.Identifier)).
			Detail("empty pointer").
			Build()
	}

	r := &Raw{ptr: p}
	r.params, r.results = p.Signature.Flat()

	lookup := func(t abi.Type) (*layout.Descriptor, error) {
		if layouts != nil {
			if d, ok := layouts.Lookup(t.Struct); ok {
				return d, nil
			}
		}
		return nil, errors.New(errors.PhaseBind, errors.KindLayoutMismatch).
			Identifier(string(p.Identifier)).
			TypeName(t.Struct).
			Detail("no layout declared").
			Build()
	}

	r.layouts = make([]*layout.Descriptor, len(p.Signature.Params))
	for i, t := range p.Signature.Params {
		if t.Kind != abi.KindStruct {
			continue
		}
		d, err := lookup(t)
		if err != nil {
			return nil, err
		}
		r.layouts[i] = d
	}
	if p.Signature.Result.Kind == abi.KindStruct {
		d, err := lookup(p.Signature.Result)
		if err != nil {
			return nil, err
		}
		r.retDesc = d
	}

	r.fast = fastPath(p.Func())
	return r, nil
}

// Pointer returns the pointer the trampoline calls
func (r *Raw) Pointer() calltable.Pointer {
	return r.ptr
}

// Params returns the flat parameter types
func (r *Raw) Params() []api.ValueType {
	return r.params
}

// Results returns the flat result types
func (r *Raw) Results() []api.ValueType {
	return r.results
}

// Fast reports whether the trampoline avoids reflection
func (r *Raw) Fast() bool {
	return r.fast != nil
}

// CheckFlat verifies that a caller's flat types match the trampoline
func (r *Raw) CheckFlat(params, results []api.ValueType) error {
	if equalTypes(params, r.params) && equalTypes(results, r.results) {
		return nil
	}
	return errors.SignatureMismatch(string(r.ptr.Identifier),
		flatString(params, results),
		flatString(r.params, r.results)+" for "+r.ptr.Signature.String())
}

// Call runs the native function. mem may be nil when no struct crosses.
// A panic in the callee is returned as an error.
func (r *Raw) Call(mem icall.Memory, stack []uint64) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Callee(string(r.ptr.Identifier), rec)
		}
	}()

	if need := max(len(r.params), len(r.results)); len(stack) < need {
		return errors.New(errors.PhaseInvoke, errors.KindInvalidInput).
			Identifier(string(r.ptr.Identifier)).
			Detail("stack holds %d values, need %d", len(stack), need).
			Build()
	}
	if r.fast != nil {
		r.fast(stack)
		return nil
	}
	return r.general(mem, stack)
}

func (r *Raw) general(mem icall.Memory, stack []uint64) error {
	fn := r.ptr.Value()
	ft := fn.Type()
	sig := r.ptr.Signature

	slot := 0
	var retAddr uint32
	if r.retDesc != nil {
		retAddr = uint32(stack[0])
		slot = 1
	}

	args := make([]reflect.Value, len(sig.Params))
	for i, t := range sig.Params {
		if t.Kind == abi.KindStruct {
			if mem == nil {
				return r.noMemory(t.Struct)
			}
			v := reflect.New(ft.In(i))
			if err := layout.Load(mem, uint32(stack[slot]), r.layouts[i], v.Interface()); err != nil {
				return err
			}
			args[i] = v.Elem()
		} else {
			args[i] = abi.Lift(t.Kind, stack[slot], ft.In(i))
		}
		slot++
	}

	out := fn.Call(args)

	switch {
	case r.retDesc != nil:
		if mem == nil {
			return r.noMemory(sig.Result.Struct)
		}
		return layout.Store(mem, retAddr, r.retDesc, out[0].Interface())
	case sig.Result.Kind != abi.KindVoid:
		stack[0] = abi.Lower(sig.Result.Kind, out[0])
	}
	return nil
}

func (r *Raw) noMemory(typeName string) error {
	return errors.New(errors.PhaseInvoke, errors.KindInvalidInput).
		Identifier(string(r.ptr.Identifier)).
		TypeName(typeName).
		Detail("struct crosses by address but caller has no memory").
		Build()
}

// fastPath returns a reflection-free trampoline for common signatures
func fastPath(fn any) func(stack []uint64) {
	switch f := fn.(type) {
	case func():
		return func([]uint64) { f() }
	case func(float32) float32:
		return func(s []uint64) { s[0] = api.EncodeF32(f(api.DecodeF32(s[0]))) }
	case func(float32, float32) float32:
		return func(s []uint64) { s[0] = api.EncodeF32(f(api.DecodeF32(s[0]), api.DecodeF32(s[1]))) }
	case func(float64) float64:
		return func(s []uint64) { s[0] = api.EncodeF64(f(api.DecodeF64(s[0]))) }
	case func(float64, float64) float64:
		return func(s []uint64) { s[0] = api.EncodeF64(f(api.DecodeF64(s[0]), api.DecodeF64(s[1]))) }
	case func(int32) int32:
		return func(s []uint64) { s[0] = api.EncodeI32(f(api.DecodeI32(s[0]))) }
	case func(int32, int32) int32:
		return func(s []uint64) { s[0] = api.EncodeI32(f(api.DecodeI32(s[0]), api.DecodeI32(s[1]))) }
	case func(int32):
		return func(s []uint64) { f(api.DecodeI32(s[0])) }
	case func(int64) int64:
		return func(s []uint64) { s[0] = api.EncodeI64(f(int64(s[0]))) }
	case func(uint32) uint32:
		return func(s []uint64) { s[0] = api.EncodeU32(f(uint32(s[0]))) }
	}
	return nil
}

func equalTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func flatString(params, results []api.ValueType) string {
	return fmt.Sprintf("%s -> %s", valueTypeNames(params), valueTypeNames(results))
}

func valueTypeNames(types []api.ValueType) string {
	s := "["
	for i, t := range types {
		if i > 0 {
			s += " "
		}
		s += api.ValueTypeName(t)
	}
	return s + "]"
}
