package abi

import (
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/wippyai/icall-bridge/errors"
)

// Lift decodes a flat stack value of kind k into a new value of Go type t
func Lift(k Kind, raw uint64, t reflect.Type) reflect.Value {
	v := reflect.New(t).Elem()
	switch k {
	case KindBool:
		v.SetBool(uint32(raw) != 0)
	case KindS8, KindS16, KindS32:
		v.SetInt(int64(int32(uint32(raw))))
	case KindU8, KindU16, KindU32:
		v.SetUint(uint64(uint32(raw)))
	case KindS64:
		v.SetInt(int64(raw))
	case KindU64:
		v.SetUint(raw)
	case KindF32:
		v.SetFloat(float64(math.Float32frombits(uint32(raw))))
	case KindF64:
		v.SetFloat(math.Float64frombits(raw))
	}
	return v
}

// Lower encodes a Go value of kind k as a flat stack value
func Lower(k Kind, v reflect.Value) uint64 {
	switch k {
	case KindBool:
		if v.Bool() {
			return 1
		}
		return 0
	case KindS8, KindS16, KindS32:
		return uint64(uint32(int32(v.Int())))
	case KindU8, KindU16, KindU32:
		return uint64(uint32(v.Uint()))
	case KindS64:
		return uint64(v.Int())
	case KindU64:
		return v.Uint()
	case KindF32:
		return uint64(math.Float32bits(float32(v.Float())))
	case KindF64:
		return math.Float64bits(v.Float())
	}
	return 0
}

// LiftValue decodes a flat stack value into the canonical Go type for k
func LiftValue(k Kind, raw uint64) any {
	t := k.GoType()
	if t == nil {
		return nil
	}
	return Lift(k, raw, t).Interface()
}

// LowerValue encodes v, which must be a Go value of kind k
func LowerValue(k Kind, v any) (uint64, error) {
	if v == nil {
		return 0, errors.InvalidInput(errors.PhaseInvoke, fmt.Sprintf("nil argument for %s", k))
	}
	rv := reflect.ValueOf(v)
	got, ok := KindOf(rv.Type())
	if !ok || got != k {
		return 0, errors.New(errors.PhaseInvoke, errors.KindSignatureMismatch).
			Expected(k.String()).
			Actual(rv.Type().String()).
			Build()
	}
	return Lower(k, rv), nil
}

// ParseValue converts text into the canonical Go value for k
func ParseValue(k Kind, s string) (any, error) {
	var (
		v   any
		err error
	)
	switch k {
	case KindBool:
		v, err = strconv.ParseBool(s)
	case KindS8:
		var n int64
		n, err = strconv.ParseInt(s, 0, 8)
		v = int8(n)
	case KindU8:
		var n uint64
		n, err = strconv.ParseUint(s, 0, 8)
		v = uint8(n)
	case KindS16:
		var n int64
		n, err = strconv.ParseInt(s, 0, 16)
		v = int16(n)
	case KindU16:
		var n uint64
		n, err = strconv.ParseUint(s, 0, 16)
		v = uint16(n)
	case KindS32:
		var n int64
		n, err = strconv.ParseInt(s, 0, 32)
		v = int32(n)
	case KindU32:
		var n uint64
		n, err = strconv.ParseUint(s, 0, 32)
		v = uint32(n)
	case KindS64:
		v, err = strconv.ParseInt(s, 0, 64)
	case KindU64:
		v, err = strconv.ParseUint(s, 0, 64)
	case KindF32:
		var f float64
		f, err = strconv.ParseFloat(s, 32)
		v = float32(f)
	case KindF64:
		v, err = strconv.ParseFloat(s, 64)
	default:
		return nil, errors.Unsupported(errors.PhaseParse, fmt.Sprintf("parse %s value", k))
	}
	if err != nil {
		return nil, errors.ParseFailed(fmt.Sprintf("%s value %q", k, s), err)
	}
	return v, nil
}
