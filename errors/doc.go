// Package errors provides structured error types for the icall bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the internal call identifier or type name involved, the
// expected and actual shapes for mismatches, and the cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseBind, errors.KindSignatureMismatch).
//		Identifier("Example.Managed.ExampleClass.TestInternalCall").
//		Expected("(f32) -> f32").
//		Actual("(f64) -> f64").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.UnknownIdentifier("Example.Managed.ExampleClass.Missing")
//	err := errors.LayoutMismatch("MyVec3", "field \"Y\": native offset 8, managed 4")
//
// Sentinels such as ErrUnknownIdentifier match any error of the same kind
// through errors.Is, whatever its phase. A failed load returns a *LoadError
// that wraps every individual failure.
package errors
