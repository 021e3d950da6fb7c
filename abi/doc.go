// Package abi describes the values that cross the bridge.
//
// A Kind is one primitive (bool, sized integers, f32, f64), a struct passed
// by address, or void. A Signature is the ordered parameter kinds plus a
// result kind. Signatures are compared structurally and render as
// "(f32, f32) -> f32", which is also the form ParseSignature accepts.
//
// Each signature also has a flat form in wazero value types. Primitives
// map to one value each, struct parameters become an i32 address, and a
// struct result becomes a leading i32 parameter pointing at the return area.
package abi
