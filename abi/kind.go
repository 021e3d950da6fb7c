package abi

import (
	"reflect"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"
)

// Kind is the shape of a single value at the boundary
type Kind uint8

const (
	KindVoid Kind = iota
	KindBool
	KindS8
	KindU8
	KindS16
	KindU16
	KindS32
	KindU32
	KindS64
	KindU64
	KindF32
	KindF64
	KindStruct
)

var kindNames = [...]string{
	KindVoid:   "void",
	KindBool:   "bool",
	KindS8:     "s8",
	KindU8:     "u8",
	KindS16:    "s16",
	KindU16:    "u16",
	KindS32:    "s32",
	KindU32:    "u32",
	KindS64:    "s64",
	KindU64:    "u64",
	KindF32:    "f32",
	KindF64:    "f64",
	KindStruct: "struct",
}

// managed spellings accepted in manifests alongside the WIT names
var kindAliases = map[string]Kind{
	"sbyte":  KindS8,
	"byte":   KindU8,
	"short":  KindS16,
	"ushort": KindU16,
	"int":    KindS32,
	"uint":   KindU32,
	"long":   KindS64,
	"ulong":  KindU64,
	"float":  KindF32,
	"double": KindF64,
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// IsPrimitive reports whether k is a single scalar value
func (k Kind) IsPrimitive() bool {
	return k >= KindBool && k <= KindF64
}

// Size is the byte size of k inside a struct. Zero for void and struct.
func (k Kind) Size() uint32 {
	switch k {
	case KindBool, KindS8, KindU8:
		return 1
	case KindS16, KindU16:
		return 2
	case KindS32, KindU32, KindF32:
		return 4
	case KindS64, KindU64, KindF64:
		return 8
	}
	return 0
}

// Align is the natural alignment of k, equal to its size for primitives
func (k Kind) Align() uint32 {
	if s := k.Size(); s > 0 {
		return s
	}
	return 1
}

// ValueType is the flat wazero type carrying k. Struct kinds travel as an i32 address.
func (k Kind) ValueType() api.ValueType {
	switch k {
	case KindS64, KindU64:
		return api.ValueTypeI64
	case KindF32:
		return api.ValueTypeF32
	case KindF64:
		return api.ValueTypeF64
	}
	return api.ValueTypeI32
}

// ParseKind resolves a WIT primitive name or a managed alias
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name && Kind(k) != KindStruct {
			return Kind(k), true
		}
	}
	k, ok := kindAliases[name]
	return k, ok
}

// KindOf maps a Go type to its kind. Platform sized integers are rejected.
func KindOf(t reflect.Type) (Kind, bool) {
	switch t.Kind() {
	case reflect.Bool:
		return KindBool, true
	case reflect.Int8:
		return KindS8, true
	case reflect.Uint8:
		return KindU8, true
	case reflect.Int16:
		return KindS16, true
	case reflect.Uint16:
		return KindU16, true
	case reflect.Int32:
		return KindS32, true
	case reflect.Uint32:
		return KindU32, true
	case reflect.Int64:
		return KindS64, true
	case reflect.Uint64:
		return KindU64, true
	case reflect.Float32:
		return KindF32, true
	case reflect.Float64:
		return KindF64, true
	case reflect.Struct:
		return KindStruct, true
	}
	return KindVoid, false
}

// GoType returns the canonical Go type for a primitive kind
func (k Kind) GoType() reflect.Type {
	switch k {
	case KindBool:
		return reflect.TypeOf(false)
	case KindS8:
		return reflect.TypeOf(int8(0))
	case KindU8:
		return reflect.TypeOf(uint8(0))
	case KindS16:
		return reflect.TypeOf(int16(0))
	case KindU16:
		return reflect.TypeOf(uint16(0))
	case KindS32:
		return reflect.TypeOf(int32(0))
	case KindU32:
		return reflect.TypeOf(uint32(0))
	case KindS64:
		return reflect.TypeOf(int64(0))
	case KindU64:
		return reflect.TypeOf(uint64(0))
	case KindF32:
		return reflect.TypeOf(float32(0))
	case KindF64:
		return reflect.TypeOf(float64(0))
	}
	return nil
}

// KindOfWIT maps a WIT type to its kind. Records map to KindStruct.
func KindOfWIT(t wit.Type) (Kind, bool) {
	switch typ := t.(type) {
	case wit.Bool:
		return KindBool, true
	case wit.S8:
		return KindS8, true
	case wit.U8:
		return KindU8, true
	case wit.S16:
		return KindS16, true
	case wit.U16:
		return KindU16, true
	case wit.S32:
		return KindS32, true
	case wit.U32:
		return KindU32, true
	case wit.S64:
		return KindS64, true
	case wit.U64:
		return KindU64, true
	case wit.F32:
		return KindF32, true
	case wit.F64:
		return KindF64, true
	case *wit.TypeDef:
		switch kind := typ.Kind.(type) {
		case *wit.Record:
			return KindStruct, true
		case wit.Type:
			return KindOfWIT(kind)
		}
	}
	return KindVoid, false
}

// WITType returns the WIT primitive for k, or nil when k has none
func WITType(k Kind) wit.Type {
	switch k {
	case KindBool:
		return wit.Bool{}
	case KindS8:
		return wit.S8{}
	case KindU8:
		return wit.U8{}
	case KindS16:
		return wit.S16{}
	case KindU16:
		return wit.U16{}
	case KindS32:
		return wit.S32{}
	case KindU32:
		return wit.U32{}
	case KindS64:
		return wit.S64{}
	case KindU64:
		return wit.U64{}
	case KindF32:
		return wit.F32{}
	case KindF64:
		return wit.F64{}
	}
	return nil
}

// AlignTo rounds offset up to a multiple of align, which must be a power of two
func AlignTo(offset, align uint32) uint32 {
	if align == 0 {
		return offset
	}
	return (offset + align - 1) &^ (align - 1)
}
