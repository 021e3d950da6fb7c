package layout

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/wippyai/icall-bridge/abi"
	bridgeerrors "github.com/wippyai/icall-bridge/errors"
)

// sliceMemory is a flat byte slice standing in for managed memory
type sliceMemory []byte

func (m sliceMemory) check(offset, length uint32) error {
	if uint64(offset)+uint64(length) > uint64(len(m)) {
		return bridgeerrors.OutOfBounds(bridgeerrors.PhaseInvoke, nil, offset, length, uint32(len(m)))
	}
	return nil
}

func (m sliceMemory) Read(offset, length uint32) ([]byte, error) {
	if err := m.check(offset, length); err != nil {
		return nil, err
	}
	return m[offset : offset+length], nil
}

func (m sliceMemory) Write(offset uint32, data []byte) error {
	if err := m.check(offset, uint32(len(data))); err != nil {
		return err
	}
	copy(m[offset:], data)
	return nil
}

func (m sliceMemory) ReadU8(offset uint32) (uint8, error)       { b, err := m.Read(offset, 1); return b[0], err }
func (m sliceMemory) ReadU16(offset uint32) (uint16, error)     { return 0, nil }
func (m sliceMemory) ReadU32(offset uint32) (uint32, error)     { return 0, nil }
func (m sliceMemory) ReadU64(offset uint32) (uint64, error)     { return 0, nil }
func (m sliceMemory) WriteU8(offset uint32, value uint8) error   { return m.Write(offset, []byte{value}) }
func (m sliceMemory) WriteU16(offset uint32, value uint16) error { return nil }
func (m sliceMemory) WriteU32(offset uint32, value uint32) error { return nil }
func (m sliceMemory) WriteU64(offset uint32, value uint64) error { return nil }

type allKinds struct {
	B   bool
	I8  int8
	I16 int16
	U32 uint32
	I64 int64
	F32 float32
	F64 float64
}

// managedVec has the managed field names and a different Go type
type managedVec struct {
	Z float32 `abi:"z"`
	X float32 `abi:"x"`
	Y float32 `abi:"y"`
}

func TestEncodeDecode(t *testing.T) {
	d, err := FromGo(reflect.TypeOf(allKinds{}))
	if err != nil {
		t.Fatal(err)
	}
	in := allKinds{B: true, I8: -3, I16: -300, U32: math.MaxUint32, I64: -1 << 40, F32: -2500, F64: math.E}

	buf, err := Encode(d, in)
	if err != nil {
		t.Fatal(err)
	}
	if uint32(len(buf)) != d.Size {
		t.Errorf("len = %d, want %d", len(buf), d.Size)
	}

	var out allKinds
	if err := Decode(d, buf, &out); err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Errorf("decoded %+v, want %+v", out, in)
	}

	m, err := DecodeMap(d, buf)
	if err != nil {
		t.Fatal(err)
	}
	if m["I8"] != int8(-3) || m["F32"] != float32(-2500) || m["B"] != true {
		t.Errorf("DecodeMap = %v", m)
	}
}

func TestEncodeByFieldName(t *testing.T) {
	native, _ := FromGo(reflect.TypeOf(MyVec3{}))
	buf, err := Encode(native, &managedVec{X: 1, Y: 2, Z: 3})
	if err != nil {
		t.Fatal(err)
	}

	var v MyVec3
	if err := Decode(native, buf, &v); err != nil {
		t.Fatal(err)
	}
	if v != (MyVec3{X: 1, Y: 2, Z: 3}) {
		t.Errorf("v = %+v", v)
	}
}

func TestCodecErrors(t *testing.T) {
	native, _ := FromGo(reflect.TypeOf(MyVec3{}))

	if _, err := Encode(native, mixed{}); !errors.Is(err, bridgeerrors.ErrLayoutMismatch) {
		t.Errorf("wrong struct = %v", err)
	}
	if _, err := Encode(native, 3); !errors.Is(err, bridgeerrors.ErrLayoutMismatch) {
		t.Errorf("non-struct = %v", err)
	}
	var v MyVec3
	if err := Decode(native, make([]byte, 4), &v); err == nil {
		t.Error("short buffer should fail")
	}
	if err := Decode(native, make([]byte, 12), v); err == nil {
		t.Error("non-pointer should fail")
	}
	var nilVec *MyVec3
	if _, err := Encode(native, nilVec); err == nil {
		t.Error("nil pointer should fail")
	}
}

func TestStoreLoad(t *testing.T) {
	d, _ := FromGo(reflect.TypeOf(MyVec3{}))
	mem := make(sliceMemory, 64)

	if err := Store(mem, 16, d, MyVec3{X: 1.5, Y: -2, Z: 40}); err != nil {
		t.Fatal(err)
	}
	var out MyVec3
	if err := Load(mem, 16, d, &out); err != nil {
		t.Fatal(err)
	}
	if out != (MyVec3{X: 1.5, Y: -2, Z: 40}) {
		t.Errorf("out = %+v", out)
	}

	if err := Store(mem, 60, d, out); !errors.Is(err, &bridgeerrors.Error{Kind: bridgeerrors.KindOutOfBounds}) {
		t.Errorf("store past end = %v", err)
	}
}

func TestEncodeText(t *testing.T) {
	d, _ := NewBuilder("V").Field("X", abi.KindF32).Field("N", abi.KindS16).Build()

	buf, err := EncodeText(d, map[string]string{"x": "2.5", "N": "-4"})
	if err != nil {
		t.Fatal(err)
	}
	m, _ := DecodeMap(d, buf)
	if m["X"] != float32(2.5) || m["N"] != int16(-4) {
		t.Errorf("m = %v", m)
	}

	if _, err := EncodeText(d, map[string]string{"Q": "1"}); err == nil {
		t.Error("unknown field should fail")
	}
	if _, err := EncodeText(d, map[string]string{"X": "abc"}); err == nil {
		t.Error("bad value should fail")
	}
}
