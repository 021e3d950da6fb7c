package imagegen

import (
	"github.com/tetratelabs/wazero/api"
	"github.com/wippyai/icall-bridge/manifest"
)

// Identifiers of the internal calls the example image imports
const (
	ExampleClass         = "Example.Managed.ExampleClass"
	ExampleInternalCall  = ExampleClass + ".TestInternalCall"
	ExampleLengthSquared = ExampleClass + ".LengthSquared"
	ExampleSplat         = ExampleClass + ".Splat"

	// ExampleVecAddress is where VecLength builds its vector
	ExampleVecAddress = 16

	// ExampleMessage is the text Log reports, stored at ExampleMessageAddress
	ExampleMessage        = "Hello from managed code"
	ExampleMessageAddress = 64
)

var (
	i32 = api.ValueTypeI32
	f32 = api.ValueTypeF32
)

// Example builds the managed image used by tests and the demo host.
// Its imports live in namespace ns.
//
// Exports:
//
//	StaticMethod(f32) f32           TestInternalCall(v - 10)
//	VecLength(f32, f32, f32) f32    LengthSquared of a vector built in memory
//	LengthOf(MyVec3*) f32           LengthSquared of a caller supplied vector
//	MakeVec(MyVec3*, f32)           Splat into a caller supplied return area
//	Log(i32)                        ExampleMessage at the given message level
//	Trap()                          unreachable
func Example(ns string) []byte {
	m := New().Memory(1, "memory")

	internal := m.Import(ns, ExampleInternalCall, []api.ValueType{f32}, []api.ValueType{f32})
	lengthSq := m.Import(ns, ExampleLengthSquared, []api.ValueType{i32}, []api.ValueType{f32})
	splat := m.Import(ns, ExampleSplat, []api.ValueType{i32, f32}, nil)
	message := m.Import(ns, manifest.MessageImport, []api.ValueType{i32, i32, i32}, nil)
	m.Data(ExampleMessageAddress, []byte(ExampleMessage))

	m.Func("StaticMethod", []api.ValueType{f32}, []api.ValueType{f32}, NewCode().
		LocalGet(0).
		F32Const(10).
		F32Sub().
		Call(internal))

	m.Func("VecLength", []api.ValueType{f32, f32, f32}, []api.ValueType{f32}, NewCode().
		I32Const(ExampleVecAddress).LocalGet(0).F32Store(0).
		I32Const(ExampleVecAddress).LocalGet(1).F32Store(4).
		I32Const(ExampleVecAddress).LocalGet(2).F32Store(8).
		I32Const(ExampleVecAddress).
		Call(lengthSq))

	m.Func("LengthOf", []api.ValueType{i32}, []api.ValueType{f32}, NewCode().
		LocalGet(0).
		Call(lengthSq))

	m.Func("MakeVec", []api.ValueType{i32, f32}, nil, NewCode().
		LocalGet(0).
		LocalGet(1).
		Call(splat))

	m.Func("Log", []api.ValueType{i32}, nil, NewCode().
		LocalGet(0).
		I32Const(ExampleMessageAddress).
		I32Const(int32(len(ExampleMessage))).
		Call(message))

	m.Func("Trap", nil, nil, NewCode().Unreachable())

	return m.Encode()
}
