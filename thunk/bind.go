package thunk

import (
	"reflect"

	"github.com/wippyai/icall-bridge/abi"
	"github.com/wippyai/icall-bridge/calltable"
	"github.com/wippyai/icall-bridge/errors"
)

// Bind returns the function behind p as type F.
// F must be a function type whose signature equals p's signature.
func Bind[F any](p calltable.Pointer) (F, error) {
	var zero F
	ft := reflect.TypeOf((*F)(nil)).Elem()

	want, err := abi.SignatureOf(ft)
	if err != nil {
		return zero, errors.New(errors.PhaseBind, errors.KindSignatureMismatch).
			Identifier(string(p.Identifier)).
			Actual(p.Signature.String()).
			Detail("slot type %s", ft).
			Cause(err).
			Build()
	}
	if p.IsZero() {
		return zero, errors.New(errors.PhaseBind, errors.KindInvalidInput).
			Identifier(string(p.Identifier)).
			Detail("empty pointer").
			Build()
	}
	if !want.Equal(p.Signature) {
		return zero, errors.SignatureMismatch(string(p.Identifier), want.String(), p.Signature.String())
	}

	fv := p.Value()
	if fv.Type() == ft {
		return fv.Interface().(F), nil
	}
	if fv.Type().ConvertibleTo(ft) {
		return fv.Convert(ft).Interface().(F), nil
	}

	// Same ABI signature but distinct Go struct types, e.g. two declarations
	// sharing a layout name. Adapt through reflection.
	adapted, err := adapt(fv, ft)
	if err != nil {
		return zero, err
	}
	return adapted.Interface().(F), nil
}

func adapt(fv reflect.Value, ft reflect.Type) (reflect.Value, error) {
	src := fv.Type()
	for i := 0; i < ft.NumIn(); i++ {
		if !ft.In(i).ConvertibleTo(src.In(i)) {
			return reflect.Value{}, errors.New(errors.PhaseBind, errors.KindSignatureMismatch).
				Expected(ft.String()).
				Actual(src.String()).
				Detail("parameter %d: %s does not convert to %s", i, ft.In(i), src.In(i)).
				Build()
		}
	}
	if ft.NumOut() == 1 && !src.Out(0).ConvertibleTo(ft.Out(0)) {
		return reflect.Value{}, errors.New(errors.PhaseBind, errors.KindSignatureMismatch).
			Expected(ft.String()).
			Actual(src.String()).
			Detail("result: %s does not convert to %s", src.Out(0), ft.Out(0)).
			Build()
	}
	return reflect.MakeFunc(ft, func(args []reflect.Value) []reflect.Value {
		in := make([]reflect.Value, len(args))
		for i, a := range args {
			in[i] = a.Convert(src.In(i))
		}
		out := fv.Call(in)
		for i := range out {
			out[i] = out[i].Convert(ft.Out(i))
		}
		return out
	}), nil
}
