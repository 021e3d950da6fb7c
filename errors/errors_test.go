package errors

import (
	"errors"
	"strings"
	"testing"

	"go.uber.org/multierr"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "signature mismatch",
			err: &Error{
				Phase:      PhaseBind,
				Kind:       KindSignatureMismatch,
				Identifier: "Example.Managed.ExampleClass.TestInternalCall",
				Expected:   "(f32) -> f32",
				Actual:     "(f64) -> f64",
			},
			contains: []string{"[bind]", "signature_mismatch", "ExampleClass.TestInternalCall", "expected (f32) -> f32", "got (f64) -> f64"},
		},
		{
			name: "layout with path",
			err: &Error{
				Phase:    PhaseLayout,
				Kind:     KindLayoutMismatch,
				TypeName: "MyVec3",
				Path:     []string{"MyVec3", "Y"},
				Detail:   "offset 8 != 4",
			},
			contains: []string{"[layout]", "layout_mismatch at MyVec3.Y", "type MyVec3", " - offset 8 != 4"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseResolve,
				Kind:  KindUnknownIdentifier,
			},
			contains: []string{"[resolve]", "unknown_identifier"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseInvoke,
				Kind:   KindAllocation,
				Detail: "scratch full",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[invoke]", "allocation: scratch full", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseParse,
		Kind:  KindInvalidInput,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is did not reach cause")
	}
}

func TestError_Is(t *testing.T) {
	err := UnknownIdentifier("A.B")

	if !err.Is(&Error{Phase: PhaseResolve, Kind: KindUnknownIdentifier}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseBind, Kind: KindUnknownIdentifier}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseResolve, Kind: KindDuplicateIdentifier}) {
		t.Error("Is should not match different kind")
	}
	if !errors.Is(err, ErrUnknownIdentifier) {
		t.Error("sentinel without phase should match on kind")
	}
	if errors.Is(err, ErrDuplicateIdentifier) {
		t.Error("sentinel of another kind should not match")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseBind, KindSignatureMismatch).
		Path("slot").
		Identifier("A.B").
		TypeName("MyVec3").
		Expected("(s32)").
		Actual("(s64)").
		Value(42).
		Cause(cause).
		Detail("expected %s, got %s", "s32", "s64").
		Build()

	if err.Phase != PhaseBind {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseBind)
	}
	if err.Kind != KindSignatureMismatch {
		t.Errorf("Kind = %v, want %v", err.Kind, KindSignatureMismatch)
	}
	if len(err.Path) != 1 || err.Path[0] != "slot" {
		t.Errorf("Path = %v, want [slot]", err.Path)
	}
	if err.Identifier != "A.B" || err.TypeName != "MyVec3" {
		t.Errorf("Identifier=%q TypeName=%q", err.Identifier, err.TypeName)
	}
	if err.Expected != "(s32)" || err.Actual != "(s64)" {
		t.Errorf("Expected=%q Actual=%q", err.Expected, err.Actual)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "expected s32, got s64" {
		t.Errorf("Detail = %v, want 'expected s32, got s64'", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		name  string
		err   *Error
		phase Phase
		kind  Kind
	}{
		{"DuplicateIdentifier", DuplicateIdentifier("A.B"), PhaseRegister, KindDuplicateIdentifier},
		{"UnknownIdentifier", UnknownIdentifier("A.B"), PhaseResolve, KindUnknownIdentifier},
		{"SignatureMismatch", SignatureMismatch("A.B", "()", "(f32)"), PhaseBind, KindSignatureMismatch},
		{"LayoutMismatch", LayoutMismatch("V", "size"), PhaseLayout, KindLayoutMismatch},
		{"StaleSlot", StaleSlot("A.B", 1, 2), PhaseInvoke, KindStaleSlot},
		{"NotReady", NotReady(PhaseMetadata, "lookup", "unloaded"), PhaseMetadata, KindNotReady},
		{"InvalidState", InvalidState("load", "ready"), PhaseLoad, KindInvalidState},
		{"Sealed", Sealed("A.B"), PhaseRegister, KindSealed},
		{"Callee", Callee("A.B", "boom"), PhaseInvoke, KindCallee},
		{"Unsupported", Unsupported(PhaseBind, "variadic"), PhaseBind, KindUnsupported},
		{"OutOfBounds", OutOfBounds(PhaseInvoke, nil, 10, 8, 16), PhaseInvoke, KindOutOfBounds},
		{"AllocationFailed", AllocationFailed(PhaseInvoke, 64, 8), PhaseInvoke, KindAllocation},
		{"NotFound", NotFound(PhaseInvoke, "method", "Run"), PhaseInvoke, KindNotFound},
		{"InvalidInput", InvalidInput(PhaseParse, "bad"), PhaseParse, KindInvalidInput},
		{"ParseFailed", ParseFailed("manifest", errors.New("x")), PhaseParse, KindInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Phase != tt.phase {
				t.Errorf("Phase = %v, want %v", tt.err.Phase, tt.phase)
			}
			if tt.err.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", tt.err.Kind, tt.kind)
			}
			if tt.err.Error() == "" {
				t.Error("empty message")
			}
		})
	}

	t.Run("Callee keeps error cause", func(t *testing.T) {
		cause := errors.New("inner")
		if err := Callee("A.B", cause); !errors.Is(err, cause) {
			t.Error("Callee should wrap a panicked error")
		}
	})

	t.Run("StaleSlot mentions generations", func(t *testing.T) {
		msg := StaleSlot("A.B", 3, 4).Error()
		if !strings.Contains(msg, "generation 3") || !strings.Contains(msg, "generation 4") {
			t.Errorf("message %q", msg)
		}
	})
}

func TestUnresolvedCallsError(t *testing.T) {
	t.Run("split at last dot", func(t *testing.T) {
		err := NewUnresolvedCallsError([]string{"Example.Managed.ExampleClass.TestInternalCall"})
		if len(err.Calls) != 1 {
			t.Fatalf("expected 1 call, got %d", len(err.Calls))
		}
		if err.Calls[0].Class != "Example.Managed.ExampleClass" {
			t.Errorf("class = %q", err.Calls[0].Class)
		}
		if err.Calls[0].Member != "TestInternalCall" {
			t.Errorf("member = %q", err.Calls[0].Member)
		}
	})

	t.Run("grouped by class", func(t *testing.T) {
		err := NewUnresolvedCallsError([]string{
			"Game.Physics.Step",
			"Game.Audio.Play",
			"Game.Physics.Raycast",
			"Orphan",
		})
		msg := err.Error()
		for _, want := range []string{"unresolved 4", "Game.Physics:", "Game.Audio:", "- Raycast", "<global>:"} {
			if !strings.Contains(msg, want) {
				t.Errorf("message %q missing %q", msg, want)
			}
		}
		if strings.Count(msg, "Game.Physics:") != 1 {
			t.Errorf("class should appear once: %q", msg)
		}
	})

	t.Run("empty", func(t *testing.T) {
		msg := NewUnresolvedCallsError(nil).Error()
		if !strings.Contains(msg, "no calls specified") {
			t.Errorf("empty error should have specific message, got: %s", msg)
		}
	})

	t.Run("errors.Is", func(t *testing.T) {
		err := NewUnresolvedCallsError([]string{"A.B"})
		if !errors.Is(err, &UnresolvedCallsError{}) {
			t.Error("errors.Is should match UnresolvedCallsError")
		}
		if !errors.Is(err, ErrUnknownIdentifier) {
			t.Error("errors.Is should match ErrUnknownIdentifier")
		}
	})
}

func TestLoadError(t *testing.T) {
	var combined error
	combined = multierr.Append(combined, DuplicateIdentifier("A.B"))
	combined = multierr.Append(combined, LayoutMismatch("V", "size: native 16, managed 12"))
	combined = multierr.Append(combined, NewUnresolvedCallsError([]string{"A.C"}))

	err := NewLoadError(7, combined)
	if len(err.Failures) != 3 {
		t.Fatalf("Failures = %d, want 3", len(err.Failures))
	}

	msg := err.Error()
	if !strings.Contains(msg, "generation 7") || !strings.Contains(msg, "3 error(s)") {
		t.Errorf("message %q", msg)
	}

	for _, target := range []error{ErrDuplicateIdentifier, ErrLayoutMismatch, ErrUnknownIdentifier, &LoadError{}} {
		if !errors.Is(err, target) {
			t.Errorf("errors.Is(%v) = false", target)
		}
	}
	if errors.Is(err, ErrSignatureMismatch) {
		t.Error("unexpected signature mismatch")
	}

	var le *Error
	if !As(err, &le) || le.Kind != KindDuplicateIdentifier {
		t.Errorf("As found %v", le)
	}

	kinds := err.Kinds()
	want := []Kind{KindDuplicateIdentifier, KindLayoutMismatch, KindUnknownIdentifier}
	if len(kinds) != len(want) {
		t.Fatalf("Kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("Kinds[%d] = %v, want %v", i, kinds[i], want[i])
		}
	}
}
