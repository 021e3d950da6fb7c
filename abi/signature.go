package abi

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/tetratelabs/wazero/api"
	"github.com/wippyai/icall-bridge/errors"
)

// Type is a parameter or result type. Struct types carry their layout name.
type Type struct {
	Kind   Kind
	Struct string
}

// Prim returns the type for a primitive kind
func Prim(k Kind) Type {
	return Type{Kind: k}
}

// StructOf returns a by-address struct type with the given layout name
func StructOf(name string) Type {
	return Type{Kind: KindStruct, Struct: name}
}

func (t Type) String() string {
	if t.Kind == KindStruct {
		return t.Struct
	}
	return t.Kind.String()
}

// Void is the result type of a function without a result
var Void = Type{Kind: KindVoid}

// Signature is the ordered parameter types and result type of an internal call
type Signature struct {
	Params []Type
	Result Type
}

// Sig is shorthand for building a signature from primitive kinds
func Sig(result Kind, params ...Kind) Signature {
	s := Signature{Result: Prim(result)}
	for _, p := range params {
		s.Params = append(s.Params, Prim(p))
	}
	return s
}

func (s Signature) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range s.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.String())
	}
	b.WriteByte(')')
	if s.Result.Kind != KindVoid {
		b.WriteString(" -> ")
		b.WriteString(s.Result.String())
	}
	return b.String()
}

// Equal compares parameter types in order and the result type
func (s Signature) Equal(o Signature) bool {
	if len(s.Params) != len(o.Params) || s.Result != o.Result {
		return false
	}
	for i := range s.Params {
		if s.Params[i] != o.Params[i] {
			return false
		}
	}
	return true
}

// Structs returns the distinct struct names used by s
func (s Signature) Structs() []string {
	var names []string
	seen := make(map[string]bool)
	add := func(t Type) {
		if t.Kind == KindStruct && !seen[t.Struct] {
			seen[t.Struct] = true
			names = append(names, t.Struct)
		}
	}
	for _, p := range s.Params {
		add(p)
	}
	add(s.Result)
	return names
}

// Flat returns the wazero parameter and result types that carry s
func (s Signature) Flat() (params, results []api.ValueType) {
	params = make([]api.ValueType, 0, len(s.Params)+1)
	if s.Result.Kind == KindStruct {
		params = append(params, api.ValueTypeI32)
	}
	for _, p := range s.Params {
		params = append(params, p.Kind.ValueType())
	}
	if s.Result.Kind.IsPrimitive() {
		results = []api.ValueType{s.Result.Kind.ValueType()}
	}
	return params, results
}

// FlatSignature builds a primitive-only signature from wazero value types
func FlatSignature(params, results []api.ValueType) (Signature, error) {
	var s Signature
	for _, vt := range params {
		k, err := kindOfValueType(vt)
		if err != nil {
			return Signature{}, err
		}
		s.Params = append(s.Params, Prim(k))
	}
	switch len(results) {
	case 0:
	case 1:
		k, err := kindOfValueType(results[0])
		if err != nil {
			return Signature{}, err
		}
		s.Result = Prim(k)
	default:
		return Signature{}, errors.Unsupported(errors.PhaseBind, fmt.Sprintf("%d results", len(results)))
	}
	return s, nil
}

func kindOfValueType(vt api.ValueType) (Kind, error) {
	switch vt {
	case api.ValueTypeI32:
		return KindS32, nil
	case api.ValueTypeI64:
		return KindS64, nil
	case api.ValueTypeF32:
		return KindF32, nil
	case api.ValueTypeF64:
		return KindF64, nil
	}
	return KindVoid, errors.Unsupported(errors.PhaseBind, "value type "+api.ValueTypeName(vt))
}

// ParseSignature parses the form produced by Signature.String.
// A result of "void" is the same as no result.
func ParseSignature(s string) (Signature, error) {
	src := strings.TrimSpace(s)
	if !strings.HasPrefix(src, "(") {
		return Signature{}, errors.InvalidInput(errors.PhaseParse, fmt.Sprintf("signature %q must start with '('", s))
	}
	closeIdx := strings.IndexByte(src, ')')
	if closeIdx < 0 {
		return Signature{}, errors.InvalidInput(errors.PhaseParse, fmt.Sprintf("signature %q has no ')'", s))
	}

	var sig Signature
	if inner := strings.TrimSpace(src[1:closeIdx]); inner != "" {
		for i, part := range strings.Split(inner, ",") {
			t, err := parseType(strings.TrimSpace(part))
			if err != nil {
				return Signature{}, errors.Wrap(errors.PhaseParse, errors.KindInvalidInput, err, fmt.Sprintf("signature %q parameter %d", s, i))
			}
			if t.Kind == KindVoid {
				return Signature{}, errors.InvalidInput(errors.PhaseParse, fmt.Sprintf("signature %q: void parameter", s))
			}
			sig.Params = append(sig.Params, t)
		}
	}

	rest := strings.TrimSpace(src[closeIdx+1:])
	if rest == "" {
		return sig, nil
	}
	ret, ok := strings.CutPrefix(rest, "->")
	if !ok {
		return Signature{}, errors.InvalidInput(errors.PhaseParse, fmt.Sprintf("signature %q: unexpected %q", s, rest))
	}
	t, err := parseType(strings.TrimSpace(ret))
	if err != nil {
		return Signature{}, errors.Wrap(errors.PhaseParse, errors.KindInvalidInput, err, fmt.Sprintf("signature %q result", s))
	}
	sig.Result = t
	return sig, nil
}

// ParseType parses a single parameter or result type as written in a
// signature: a primitive kind name or a struct layout name.
func ParseType(name string) (Type, error) {
	return parseType(strings.TrimSpace(name))
}

func parseType(name string) (Type, error) {
	if name == "" {
		return Type{}, errors.InvalidInput(errors.PhaseParse, "empty type")
	}
	if k, ok := ParseKind(name); ok {
		return Prim(k), nil
	}
	if !validStructName(name) {
		return Type{}, errors.InvalidInput(errors.PhaseParse, fmt.Sprintf("invalid type name %q", name))
	}
	return StructOf(name), nil
}

func validStructName(name string) bool {
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		switch r {
		case '_', '.', '+', '`':
			continue
		}
		return false
	}
	return true
}

// Namer lets a Go struct declare the layout name its managed counterpart uses
type Namer interface {
	ABIName() string
}

var namerType = reflect.TypeOf((*Namer)(nil)).Elem()

// TypeNameOf returns the layout name of a Go struct type
func TypeNameOf(t reflect.Type) string {
	if t.Implements(namerType) {
		return reflect.Zero(t).Interface().(Namer).ABIName()
	}
	if reflect.PointerTo(t).Implements(namerType) {
		return reflect.New(t).Interface().(Namer).ABIName()
	}
	return t.Name()
}

// SignatureOf derives the signature of a Go function type
func SignatureOf(ft reflect.Type) (Signature, error) {
	if ft.Kind() != reflect.Func {
		return Signature{}, errors.InvalidInput(errors.PhaseBind, fmt.Sprintf("%s is not a function type", ft))
	}
	if ft.IsVariadic() {
		return Signature{}, errors.Unsupported(errors.PhaseBind, fmt.Sprintf("variadic function %s", ft))
	}
	if ft.NumOut() > 1 {
		return Signature{}, errors.Unsupported(errors.PhaseBind, fmt.Sprintf("function %s has %d results", ft, ft.NumOut()))
	}

	var sig Signature
	for i := 0; i < ft.NumIn(); i++ {
		t, err := typeOf(ft.In(i))
		if err != nil {
			err.Path = []string{fmt.Sprintf("param%d", i)}
			return Signature{}, err
		}
		sig.Params = append(sig.Params, t)
	}
	if ft.NumOut() == 1 {
		t, err := typeOf(ft.Out(0))
		if err != nil {
			err.Path = []string{"result"}
			return Signature{}, err
		}
		sig.Result = t
	}
	return sig, nil
}

func typeOf(t reflect.Type) (Type, *errors.Error) {
	k, ok := KindOf(t)
	if !ok {
		return Type{}, errors.New(errors.PhaseBind, errors.KindUnsupported).
			Detail("Go type %s cannot cross the boundary", t).
			Build()
	}
	if k == KindStruct {
		return StructOf(TypeNameOf(t)), nil
	}
	return Prim(k), nil
}
