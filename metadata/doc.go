// Package metadata stores attribute records that the managed side declares
// on its types, such as [Custom(Value = -2500.0)] on ExampleClass.
//
// Records are gathered by a Builder while an image loads and frozen into a
// Store. A Store is read-only and safe for concurrent lookups. Looking up a
// type with no attributes returns an empty, non-nil slice.
package metadata
