package imagegen

// Code builds a function body one instruction at a time
type Code struct {
	w writer
}

// NewCode starts an empty body
func NewCode() *Code {
	return &Code{}
}

func (c *Code) op(b byte) *Code {
	c.w.byte(b)
	return c
}

func (c *Code) LocalGet(idx uint32) *Code {
	c.w.byte(opLocalGet)
	c.w.u32(idx)
	return c
}

func (c *Code) Call(funcIdx uint32) *Code {
	c.w.byte(opCall)
	c.w.u32(funcIdx)
	return c
}

func (c *Code) I32Const(v int32) *Code {
	c.w.byte(opI32Const)
	c.w.s64(int64(v))
	return c
}

func (c *Code) I64Const(v int64) *Code {
	c.w.byte(opI64Const)
	c.w.s64(v)
	return c
}

func (c *Code) F32Const(v float32) *Code {
	c.w.byte(opF32Const)
	c.w.f32(v)
	return c
}

func (c *Code) F64Const(v float64) *Code {
	c.w.byte(opF64Const)
	c.w.f64(v)
	return c
}

// F32Load loads from the address on the stack plus offset
func (c *Code) F32Load(offset uint32) *Code {
	return c.memarg(opF32Load, 2, offset)
}

// F32Store stores to the address below the value plus offset
func (c *Code) F32Store(offset uint32) *Code {
	return c.memarg(opF32Store, 2, offset)
}

func (c *Code) I32Load(offset uint32) *Code {
	return c.memarg(opI32Load, 2, offset)
}

func (c *Code) I32Store(offset uint32) *Code {
	return c.memarg(opI32Store, 2, offset)
}

func (c *Code) memarg(op byte, align, offset uint32) *Code {
	c.w.byte(op)
	c.w.u32(align)
	c.w.u32(offset)
	return c
}

func (c *Code) I32Add() *Code { return c.op(opI32Add) }
func (c *Code) I32Sub() *Code { return c.op(opI32Sub) }
func (c *Code) I32Mul() *Code { return c.op(opI32Mul) }
func (c *Code) I64Add() *Code { return c.op(opI64Add) }
func (c *Code) F32Add() *Code { return c.op(opF32Add) }
func (c *Code) F32Sub() *Code { return c.op(opF32Sub) }
func (c *Code) F32Mul() *Code { return c.op(opF32Mul) }
func (c *Code) F64Add() *Code { return c.op(opF64Add) }
func (c *Code) F64Sub() *Code { return c.op(opF64Sub) }
func (c *Code) F64Mul() *Code { return c.op(opF64Mul) }
func (c *Code) Drop() *Code   { return c.op(opDrop) }
func (c *Code) Unreachable() *Code {
	return c.op(opUnreachable)
}

const (
	opUnreachable byte = 0x00
	opEnd         byte = 0x0b
	opCall        byte = 0x10
	opDrop        byte = 0x1a
	opLocalGet    byte = 0x20
	opI32Load     byte = 0x28
	opF32Load     byte = 0x2a
	opI32Store    byte = 0x36
	opF32Store    byte = 0x38
	opI32Const    byte = 0x41
	opI64Const    byte = 0x42
	opF32Const    byte = 0x43
	opF64Const    byte = 0x44
	opI32Add      byte = 0x6a
	opI32Sub      byte = 0x6b
	opI32Mul      byte = 0x6c
	opI64Add      byte = 0x7c
	opF32Add      byte = 0x92
	opF32Sub      byte = 0x93
	opF32Mul      byte = 0x94
	opF64Add      byte = 0xa0
	opF64Sub      byte = 0xa1
	opF64Mul      byte = 0xa2
)
