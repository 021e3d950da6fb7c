package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
	"github.com/wippyai/icall-bridge/abi"
	"github.com/wippyai/icall-bridge/bridge"
	"github.com/wippyai/icall-bridge/errors"
	"github.com/wippyai/icall-bridge/layout"
)

// Instance is a running managed image. It runs one call chain at a time:
// a native callee may call back into the instance that invoked it, but a
// call from another goroutine while the instance is busy fails with
// KindInvalidState. Use one instance per goroutine.
type Instance struct {
	image      *Image
	module     api.Module
	bridge     *bridge.Bridge
	generation uint64
	memory     *Memory
	scratch    *ScratchAllocator

	// depth counts active calls, callees counts native callees running on
	// their behalf. A call may nest only while every active call is
	// inside a callee.
	depth   atomic.Int32
	callees atomic.Int32
	closed  atomic.Bool
}

type instanceKey struct{}

// calleeOf returns the instance whose guest code invoked a host function
func calleeOf(ctx context.Context) *Instance {
	inst, _ := ctx.Value(instanceKey{}).(*Instance)
	return inst
}

func (i *Instance) enter() bool {
	for {
		d := i.depth.Load()
		if d > 0 && i.callees.Load() < d {
			return false
		}
		if i.depth.CompareAndSwap(d, d+1) {
			return true
		}
	}
}

// Generation returns the load generation the instance is linked to
func (i *Instance) Generation() uint64 {
	return i.generation
}

// Memory returns the instance memory, or nil if the image has none
func (i *Instance) Memory() *Memory {
	return i.memory
}

// Call invokes a managed method.
//
// Primitive arguments must have the Go type of their kind (float32 for
// f32, int32 for s32 and so on). A struct argument may be a Go struct
// matching the layout, a map of field name to text, or the raw bytes of
// the struct. A struct result is returned as a map of field name to value.
func (i *Instance) Call(ctx context.Context, method string, args ...any) (any, error) {
	release, err := i.bridge.Acquire()
	if err != nil {
		if gen := i.bridge.Generation(); gen != i.generation {
			return nil, errors.StaleSlot(method, i.generation, gen)
		}
		return nil, err
	}
	defer release()

	if gen := i.bridge.Generation(); gen != i.generation {
		return nil, errors.StaleSlot(method, i.generation, gen)
	}

	if i.closed.Load() {
		return nil, errors.New(errors.PhaseInvoke, errors.KindInvalidState).
			Identifier(method).
			Detail("instance is closed").
			Build()
	}
	if !i.enter() {
		return nil, errors.New(errors.PhaseInvoke, errors.KindInvalidState).
			Identifier(method).
			Detail("instance is busy with a call from another goroutine").
			Build()
	}
	defer i.depth.Add(-1)

	sig, export, err := i.image.Method(method)
	if err != nil {
		return nil, err
	}
	fn := i.module.ExportedFunction(export)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseInvoke, "export", export)
	}
	if len(args) != len(sig.Params) {
		return nil, errors.New(errors.PhaseInvoke, errors.KindSignatureMismatch).
			Identifier(method).
			Expected(sig.String()).
			Actual(fmt.Sprintf("%d arguments", len(args))).
			Build()
	}

	// Nested calls allocate above the caller's scratch values.
	if i.scratch != nil {
		mark := i.scratch.Mark()
		defer i.scratch.Release(mark)
	}
	stack := make([]uint64, 0, len(sig.Params)+1)

	var (
		retAddr uint32
		retDesc *layout.Descriptor
	)
	if sig.Result.Kind == abi.KindStruct {
		retDesc, err = i.layout(sig.Result.Struct)
		if err != nil {
			return nil, err
		}
		retAddr, err = i.alloc(retDesc)
		if err != nil {
			return nil, err
		}
		stack = append(stack, uint64(retAddr))
	}

	for n, p := range sig.Params {
		if p.Kind == abi.KindStruct {
			addr, err := i.lowerStruct(p.Struct, args[n])
			if err != nil {
				return nil, withPath(err, method, fmt.Sprintf("param%d", n))
			}
			stack = append(stack, uint64(addr))
			continue
		}
		raw, err := abi.LowerValue(p.Kind, args[n])
		if err != nil {
			return nil, withPath(err, method, fmt.Sprintf("param%d", n))
		}
		stack = append(stack, raw)
	}

	results, err := fn.Call(context.WithValue(ctx, instanceKey{}, i), stack...)
	if err != nil {
		err = errors.New(errors.PhaseInvoke, errors.KindCallee).
			Identifier(method).
			Cause(err).
			Build()
		i.image.engine.trap(method, err)
		return nil, err
	}

	switch {
	case retDesc != nil:
		data, err := i.memory.Read(retAddr, retDesc.Size)
		if err != nil {
			return nil, err
		}
		return layout.DecodeMap(retDesc, data)
	case sig.Result.Kind == abi.KindVoid:
		return nil, nil
	default:
		return abi.LiftValue(sig.Result.Kind, results[0]), nil
	}
}

func withPath(err error, path ...string) error {
	if e, ok := err.(*errors.Error); ok && len(e.Path) == 0 {
		e.Path = path
	}
	return err
}

// layout returns the managed layout of a struct, falling back to the native one
func (i *Instance) layout(name string) (*layout.Descriptor, error) {
	reg := i.bridge.Layouts()
	if d, ok := reg.Managed(name); ok {
		return d, nil
	}
	if d, ok := reg.Lookup(name); ok {
		return d, nil
	}
	return nil, errors.NotFound(errors.PhaseInvoke, "layout", name)
}

func (i *Instance) alloc(d *layout.Descriptor) (uint32, error) {
	if i.scratch == nil {
		return 0, errors.New(errors.PhaseInvoke, errors.KindAllocation).
			TypeName(d.TypeName).
			Detail("image has no memory for struct values").
			Build()
	}
	return i.scratch.Alloc(d.Size, d.Align)
}

func (i *Instance) lowerStruct(name string, arg any) (uint32, error) {
	d, err := i.layout(name)
	if err != nil {
		return 0, err
	}

	var data []byte
	switch v := arg.(type) {
	case []byte:
		if uint32(len(v)) != d.Size {
			return 0, errors.New(errors.PhaseInvoke, errors.KindLayoutMismatch).
				TypeName(name).
				Expected(fmt.Sprintf("%d bytes", d.Size)).
				Actual(fmt.Sprintf("%d bytes", len(v))).
				Build()
		}
		data = v
	case map[string]string:
		data, err = layout.EncodeText(d, v)
	default:
		data, err = layout.Encode(d, v)
	}
	if err != nil {
		return 0, err
	}

	addr, err := i.alloc(d)
	if err != nil {
		return 0, err
	}
	if err := i.memory.Write(addr, data); err != nil {
		return 0, err
	}
	return addr, nil
}

// Close closes the instance
func (i *Instance) Close(ctx context.Context) error {
	i.image.forget(i)
	return i.close(ctx)
}

func (i *Instance) close(ctx context.Context) error {
	if !i.closed.CompareAndSwap(false, true) {
		return nil
	}
	return i.module.Close(ctx)
}
