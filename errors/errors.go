package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/multierr"
)

// Phase indicates where in the bridge lifecycle the error occurred
type Phase string

const (
	PhaseRegister Phase = "register" // internal call registration
	PhaseResolve  Phase = "resolve"  // identifier lookup
	PhaseBind     Phase = "bind"     // signature check and slot binding
	PhaseLayout   Phase = "layout"   // struct layout construction and agreement
	PhaseMetadata Phase = "metadata" // attribute declaration and lookup
	PhaseLoad     Phase = "load"     // image loading and state transitions
	PhaseInvoke   Phase = "invoke"   // calls across the boundary
	PhaseParse    Phase = "parse"    // manifest and signature parsing
)

// Kind categorizes the error
type Kind string

const (
	KindDuplicateIdentifier Kind = "duplicate_identifier"
	KindUnknownIdentifier   Kind = "unknown_identifier"
	KindSignatureMismatch   Kind = "signature_mismatch"
	KindLayoutMismatch      Kind = "layout_mismatch"
	KindStaleSlot           Kind = "stale_slot"
	KindNotReady            Kind = "not_ready"
	KindInvalidState        Kind = "invalid_state"
	KindSealed              Kind = "sealed"
	KindInvalidInput        Kind = "invalid_input"
	KindUnsupported         Kind = "unsupported"
	KindOutOfBounds         Kind = "out_of_bounds"
	KindNotFound            Kind = "not_found"
	KindCallee              Kind = "callee"
	KindAllocation          Kind = "allocation"
)

// Sentinels for errors.Is. They carry no phase and match any error of the same kind.
var (
	ErrDuplicateIdentifier = &Error{Kind: KindDuplicateIdentifier}
	ErrUnknownIdentifier   = &Error{Kind: KindUnknownIdentifier}
	ErrSignatureMismatch   = &Error{Kind: KindSignatureMismatch}
	ErrLayoutMismatch      = &Error{Kind: KindLayoutMismatch}
	ErrStaleSlot           = &Error{Kind: KindStaleSlot}
	ErrNotReady            = &Error{Kind: KindNotReady}
	ErrInvalidState        = &Error{Kind: KindInvalidState}
	ErrSealed              = &Error{Kind: KindSealed}
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value      any
	Cause      error
	Phase      Phase
	Kind       Kind
	Identifier string
	TypeName   string
	Expected   string
	Actual     string
	Detail     string
	Path       []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	if e.Phase != "" {
		b.WriteByte('[')
		b.WriteString(string(e.Phase))
		b.WriteString("] ")
	}
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	subject := e.Identifier != "" || e.TypeName != ""
	if subject {
		b.WriteString(": ")
		if e.Identifier != "" {
			b.WriteString(e.Identifier)
		} else {
			b.WriteString("type ")
			b.WriteString(e.TypeName)
		}
	}

	sep := func() {
		if subject {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
			subject = true
		}
	}

	if e.Expected != "" || e.Actual != "" {
		sep()
		b.WriteString("expected ")
		b.WriteString(orNone(e.Expected))
		b.WriteString(", got ")
		b.WriteString(orNone(e.Actual))
	}

	if e.Detail != "" {
		sep()
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

func orNone(s string) string {
	if s == "" {
		return "<none>"
	}
	return s
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target without a phase matches on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase != "" && t.Phase != e.Phase {
		return false
	}
	return e.Kind == t.Kind
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Identifier sets the internal call identifier
func (b *Builder) Identifier(id string) *Builder {
	b.err.Identifier = id
	return b
}

// TypeName sets the struct type name
func (b *Builder) TypeName(name string) *Builder {
	b.err.TypeName = name
	return b
}

// Expected sets the shape the caller asked for
func (b *Builder) Expected(s string) *Builder {
	b.err.Expected = s
	return b
}

// Actual sets the shape that was found
func (b *Builder) Actual(s string) *Builder {
	b.err.Actual = s
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// DuplicateIdentifier reports a second registration of the same identifier
func DuplicateIdentifier(id string) *Error {
	return &Error{
		Phase:      PhaseRegister,
		Kind:       KindDuplicateIdentifier,
		Identifier: id,
		Detail:     "identifier already registered",
	}
}

// UnknownIdentifier reports a resolve of an identifier nobody registered
func UnknownIdentifier(id string) *Error {
	return &Error{
		Phase:      PhaseResolve,
		Kind:       KindUnknownIdentifier,
		Identifier: id,
		Detail:     "no internal call registered",
	}
}

// SignatureMismatch reports a slot whose declared type disagrees with the registered pointer
func SignatureMismatch(id, expected, actual string) *Error {
	return &Error{
		Phase:      PhaseBind,
		Kind:       KindSignatureMismatch,
		Identifier: id,
		Expected:   expected,
		Actual:     actual,
	}
}

// LayoutMismatch reports a struct whose native and managed layouts disagree
func LayoutMismatch(typeName, detail string) *Error {
	return &Error{
		Phase:    PhaseLayout,
		Kind:     KindLayoutMismatch,
		TypeName: typeName,
		Detail:   detail,
	}
}

// StaleSlot reports a slot bound in a generation that has since been unloaded
func StaleSlot(id string, bound, current uint64) *Error {
	return &Error{
		Phase:      PhaseInvoke,
		Kind:       KindStaleSlot,
		Identifier: id,
		Detail:     fmt.Sprintf("bound in generation %d, bridge is at generation %d", bound, current),
		Value:      bound,
	}
}

// NotReady reports an operation that needs a Ready bridge
func NotReady(phase Phase, what, state string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotReady,
		Detail: fmt.Sprintf("%s requires state ready, bridge is %s", what, state),
	}
}

// InvalidState reports a lifecycle transition that is not allowed
func InvalidState(op, state string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidState,
		Detail: fmt.Sprintf("%s not allowed in state %s", op, state),
	}
}

// Sealed reports a registration attempted after the table was sealed
func Sealed(id string) *Error {
	return &Error{
		Phase:      PhaseRegister,
		Kind:       KindSealed,
		Identifier: id,
		Detail:     "call table is sealed",
	}
}

// Callee reports a panic raised by a native callee
func Callee(id string, recovered any) *Error {
	e := &Error{
		Phase:      PhaseInvoke,
		Kind:       KindCallee,
		Identifier: id,
		Value:      recovered,
		Detail:     fmt.Sprintf("callee panicked: %v", recovered),
	}
	if err, ok := recovered.(error); ok {
		e.Cause = err
	}
	return e
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, offset, length, size uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("range [%d, %d) exceeds memory size %d", offset, uint64(offset)+uint64(length), size),
		Value:  offset,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size, align uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes (align %d)", size, align),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// ParseFailed creates a parsing error
func ParseFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindInvalidInput,
		Detail: "parse " + what,
		Cause:  cause,
	}
}

// UnresolvedCall is a single internal call the managed side needs and the host lacks
type UnresolvedCall struct {
	Class  string // e.g., "Example.Managed.ExampleClass"
	Member string // e.g., "TestInternalCall"
}

// UnresolvedCallsError lists every internal call an image imports that has no registration
type UnresolvedCallsError struct {
	Calls []UnresolvedCall
}

// NewUnresolvedCallsError creates an error from full identifiers
func NewUnresolvedCallsError(ids []string) *UnresolvedCallsError {
	result := &UnresolvedCallsError{
		Calls: make([]UnresolvedCall, 0, len(ids)),
	}
	for _, id := range ids {
		class, member := splitIdentifier(id)
		result.Calls = append(result.Calls, UnresolvedCall{
			Class:  class,
			Member: member,
		})
	}
	return result
}

func splitIdentifier(id string) (class, member string) {
	i := strings.LastIndexByte(id, '.')
	if i < 0 {
		return "", id
	}
	return id[:i], id[i+1:]
}

func (e *UnresolvedCallsError) Error() string {
	if len(e.Calls) == 0 {
		return "[resolve] unknown_identifier: no calls specified"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("unresolved %d internal call(s):\n", len(e.Calls)))

	byClass := make(map[string][]string)
	var classOrder []string
	for _, c := range e.Calls {
		if _, exists := byClass[c.Class]; !exists {
			classOrder = append(classOrder, c.Class)
		}
		byClass[c.Class] = append(byClass[c.Class], c.Member)
	}

	for _, class := range classOrder {
		b.WriteString("\n  ")
		if class == "" {
			b.WriteString("<global>")
		} else {
			b.WriteString(class)
		}
		b.WriteString(":\n")
		for _, member := range byClass[class] {
			b.WriteString("    - ")
			b.WriteString(member)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type.
// It also matches unknown identifier errors of any phase.
func (e *UnresolvedCallsError) Is(target error) bool {
	switch t := target.(type) {
	case *UnresolvedCallsError:
		return true
	case *Error:
		return t.Kind == KindUnknownIdentifier && (t.Phase == "" || t.Phase == PhaseResolve)
	}
	return false
}

// LoadError is the single result of a failed load. It wraps every
// registration and resolution failure of one load generation.
type LoadError struct {
	Generation uint64
	Failures   []error
}

// NewLoadError splits a combined error into its individual failures
func NewLoadError(generation uint64, err error) *LoadError {
	return &LoadError{
		Generation: generation,
		Failures:   multierr.Errors(err),
	}
}

func (e *LoadError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("[load] generation %d failed with %d error(s)", e.Generation, len(e.Failures)))
	for _, f := range e.Failures {
		b.WriteString("\n  - ")
		b.WriteString(strings.ReplaceAll(f.Error(), "\n", "\n    "))
	}
	return b.String()
}

// Unwrap exposes every failure to errors.Is and errors.As
func (e *LoadError) Unwrap() []error {
	return e.Failures
}

// Is reports whether target matches this error type
func (e *LoadError) Is(target error) bool {
	_, ok := target.(*LoadError)
	return ok
}

// Kinds returns the distinct kinds among the failures, sorted
func (e *LoadError) Kinds() []Kind {
	seen := make(map[Kind]bool)
	for _, f := range e.Failures {
		var se *Error
		if As(f, &se) {
			seen[se.Kind] = true
		}
		if _, ok := f.(*UnresolvedCallsError); ok {
			seen[KindUnknownIdentifier] = true
		}
	}
	kinds := make([]Kind, 0, len(seen))
	for k := range seen {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Is is errors.Is from the standard library, re-exported so callers need one import
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As is errors.As from the standard library
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
