// Package thunk turns a resolved call table pointer into something callable.
//
// Bind produces a typed Go function for a native caller. The requested
// function type's signature must equal the registered one exactly, or
// binding fails with a signature mismatch before anything is cached.
//
// Compile produces a Raw trampoline for callers that speak the flat
// value-stack convention, such as a wazero host module. Common primitive
// signatures take a fast path with no reflection. Struct parameters arrive
// as addresses into managed memory and are copied in and out through their
// layout descriptors.
package thunk
