package abi

import (
	"reflect"
	"testing"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"
)

func TestKindSizeAlign(t *testing.T) {
	tests := []struct {
		kind  Kind
		size  uint32
		align uint32
		vt    api.ValueType
	}{
		{KindBool, 1, 1, api.ValueTypeI32},
		{KindS8, 1, 1, api.ValueTypeI32},
		{KindU16, 2, 2, api.ValueTypeI32},
		{KindS32, 4, 4, api.ValueTypeI32},
		{KindU64, 8, 8, api.ValueTypeI64},
		{KindF32, 4, 4, api.ValueTypeF32},
		{KindF64, 8, 8, api.ValueTypeF64},
		{KindStruct, 0, 1, api.ValueTypeI32},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := tt.kind.Size(); got != tt.size {
				t.Errorf("Size = %d, want %d", got, tt.size)
			}
			if got := tt.kind.Align(); got != tt.align {
				t.Errorf("Align = %d, want %d", got, tt.align)
			}
			if got := tt.kind.ValueType(); got != tt.vt {
				t.Errorf("ValueType = %v, want %v", got, tt.vt)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		name string
		want Kind
		ok   bool
	}{
		{"f32", KindF32, true},
		{"float", KindF32, true},
		{"double", KindF64, true},
		{"s64", KindS64, true},
		{"ulong", KindU64, true},
		{"void", KindVoid, true},
		{"struct", KindVoid, false},
		{"MyVec3", KindVoid, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseKind(tt.name)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ParseKind(%q) = %v, %v; want %v, %v", tt.name, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	type Meters float32

	tests := []struct {
		value any
		want  Kind
		ok    bool
	}{
		{true, KindBool, true},
		{int8(0), KindS8, true},
		{uint32(0), KindU32, true},
		{int64(0), KindS64, true},
		{Meters(0), KindF32, true},
		{float64(0), KindF64, true},
		{struct{ X float32 }{}, KindStruct, true},
		{0, KindVoid, false},
		{uintptr(0), KindVoid, false},
		{"s", KindVoid, false},
	}

	for _, tt := range tests {
		t.Run(reflect.TypeOf(tt.value).String(), func(t *testing.T) {
			got, ok := KindOf(reflect.TypeOf(tt.value))
			if ok != tt.ok || got != tt.want {
				t.Errorf("KindOf = %v, %v; want %v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestKindOfWIT(t *testing.T) {
	for k := KindBool; k <= KindF64; k++ {
		got, ok := KindOfWIT(WITType(k))
		if !ok || got != k {
			t.Errorf("KindOfWIT(WITType(%v)) = %v, %v", k, got, ok)
		}
	}

	record := &wit.TypeDef{Kind: &wit.Record{Fields: []wit.Field{{Name: "x", Type: wit.F32{}}}}}
	if got, ok := KindOfWIT(record); !ok || got != KindStruct {
		t.Errorf("record = %v, %v; want struct", got, ok)
	}

	if _, ok := KindOfWIT(wit.String{}); ok {
		t.Error("string should not map to a kind")
	}
	if WITType(KindStruct) != nil {
		t.Error("struct has no WIT primitive")
	}
}

func TestAlignTo(t *testing.T) {
	tests := []struct {
		offset, align, want uint32
	}{
		{0, 4, 0},
		{1, 4, 4},
		{4, 4, 4},
		{5, 8, 8},
		{9, 1, 9},
		{7, 0, 7},
	}
	for _, tt := range tests {
		if got := AlignTo(tt.offset, tt.align); got != tt.want {
			t.Errorf("AlignTo(%d, %d) = %d, want %d", tt.offset, tt.align, got, tt.want)
		}
	}
}
