// Package icall bridges a native Go host and a managed image.
//
// The managed side declares internal calls: entry points whose
// implementation lives in the host. The host registers those entry points
// by identifier before the image loads, and the managed side resolves them
// into typed, cached slots during load. Value types that cross the boundary
// must have the same byte layout on both sides, and the managed side may
// attach attribute metadata to its types for the host to read.
//
// # Architecture Overview
//
//	icall/              Root package with Memory and Allocator interfaces
//	├── abi/            Primitive kinds, signatures and flat value types
//	├── layout/         Struct layout descriptors and copy in/out codecs
//	├── calltable/      Identifier to function pointer table
//	├── thunk/          Signature-checked binding and raw call trampolines
//	├── metadata/       Attribute records declared on managed types
//	├── manifest/       TOML description of a managed image
//	├── bridge/         Lifecycle, cached slots and the reload barrier
//	├── engine/         wazero host for managed images
//	├── errors/         Structured error types
//	└── cmd/icallhost/  Command line host with an interactive mode
//
// # Quick Start
//
//	b := bridge.New(bridge.WithLogger(log))
//	_ = b.Begin()
//	_ = b.Register("Example.Managed.ExampleClass.TestInternalCall",
//	    func(v float32) float32 { return v - 10 })
//
//	slot, _ := bridge.NewSlot[func(float32) float32](b,
//	    "Example.Managed.ExampleClass.TestInternalCall")
//	if err := b.Load(ctx); err != nil {
//	    log.Fatal("load failed", zap.Error(err))
//	}
//
//	fn, _ := slot.Get()
//	fmt.Println(fn(50)) // 40
//
// # Lifecycle
//
// A bridge moves through Unloaded, Registering, Resolving and Ready. Any
// registration or resolution failure moves it to LoadFailed instead, and
// no slot is left half bound. Unload tears everything down and Reload
// waits for in-flight calls before doing so.
//
// # Thread Safety
//
// Registration is single-threaded. Once Ready, slots, layouts and
// attributes are read-only and safe for concurrent use.
package icall
