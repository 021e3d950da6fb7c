package main

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// MyVec3 is the native side of Example.Managed.ExampleClass+MyVec3
type MyVec3 struct {
	X, Y, Z float32
}

func (MyVec3) ABIName() string { return "Example.Managed.ExampleClass+MyVec3" }

// exampleClass provides the internal calls of Example.Managed.ExampleClass
type exampleClass struct {
	log   *zap.Logger
	calls *atomic.Int64
}

func (h *exampleClass) ClassName() string { return "Example.Managed.ExampleClass" }

func (h *exampleClass) TestInternalCall(v float32) float32 {
	h.calls.Add(1)
	h.log.Debug("TestInternalCall", zap.Float32("value", v))
	return v - 10
}

func (h *exampleClass) LengthSquared(v MyVec3) float32 {
	h.calls.Add(1)
	h.log.Debug("LengthSquared", zap.Float32("x", v.X), zap.Float32("y", v.Y), zap.Float32("z", v.Z))
	return v.X*v.X + v.Y*v.Y + v.Z*v.Z
}

func (h *exampleClass) Splat(v float32) MyVec3 {
	h.calls.Add(1)
	h.log.Debug("Splat", zap.Float32("value", v))
	return MyVec3{v, v, v}
}
