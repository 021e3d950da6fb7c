package layout

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/wippyai/icall-bridge/abi"
	"github.com/wippyai/icall-bridge/errors"
)

var goCache sync.Map // reflect.Type -> *Descriptor

// FromGo builds the native descriptor of a Go struct type.
//
// Fields are taken in declaration order. A field tagged `abi:"name"` is
// renamed, `abi:",offset=N"` pins it, and blank fields named "_" are
// padding. The result is checked against the offsets the Go compiler
// actually chose, so a struct that cannot be copied byte for byte is
// rejected here rather than corrupted later.
func FromGo(t reflect.Type) (*Descriptor, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if cached, ok := goCache.Load(t); ok {
		return cached.(*Descriptor), nil
	}
	if t.Kind() != reflect.Struct {
		return nil, errors.InvalidInput(errors.PhaseLayout, fmt.Sprintf("%s is not a struct", t))
	}

	name := abi.TypeNameOf(t)
	b := NewBuilder(name)
	goOffsets := make([]uintptr, 0, t.NumField())
	padded := false

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.Name == "_" {
			padded = true
			continue
		}
		if !sf.IsExported() {
			return nil, errors.New(errors.PhaseLayout, errors.KindUnsupported).
				TypeName(name).
				Path(name, sf.Name).
				Detail("unexported field cannot be copied").
				Build()
		}
		kind, ok := abi.KindOf(sf.Type)
		if !ok || !kind.IsPrimitive() {
			return nil, errors.New(errors.PhaseLayout, errors.KindUnsupported).
				TypeName(name).
				Path(name, sf.Name).
				Detail("field type %s is not a primitive", sf.Type).
				Build()
		}

		fieldName, offset, pinned, err := parseTag(sf)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseLayout, errors.KindInvalidInput, err, fmt.Sprintf("%s.%s tag", name, sf.Name))
		}
		if pinned {
			b.PinnedField(fieldName, kind, offset)
		} else {
			b.Field(fieldName, kind)
		}
		goOffsets = append(goOffsets, sf.Offset)
	}
	if padded {
		b.DeclaredSize(uint32(t.Size()))
	}

	d, err := b.Build()
	if err != nil {
		return nil, err
	}

	for i, f := range d.Fields {
		if uintptr(f.Offset) != goOffsets[i] {
			return nil, errors.New(errors.PhaseLayout, errors.KindLayoutMismatch).
				TypeName(name).
				Path(name, f.Name).
				Detail("Go places field at offset %d, layout expects %d", goOffsets[i], f.Offset).
				Build()
		}
	}
	if uintptr(d.Size) != t.Size() {
		return nil, errors.New(errors.PhaseLayout, errors.KindLayoutMismatch).
			TypeName(name).
			Detail("Go size %d, layout size %d", t.Size(), d.Size).
			Build()
	}

	d.goType = t
	actual, _ := goCache.LoadOrStore(t, d)
	return actual.(*Descriptor), nil
}

// FromValue is FromGo on the dynamic type of v
func FromValue(v any) (*Descriptor, error) {
	if v == nil {
		return nil, errors.InvalidInput(errors.PhaseLayout, "nil value has no layout")
	}
	return FromGo(reflect.TypeOf(v))
}

func parseTag(sf reflect.StructField) (name string, offset uint32, pinned bool, err error) {
	name = sf.Name
	tag, ok := sf.Tag.Lookup("abi")
	if !ok {
		return name, 0, false, nil
	}
	parts := strings.Split(tag, ",")
	if parts[0] != "" {
		name = parts[0]
	}
	for _, opt := range parts[1:] {
		key, value, _ := strings.Cut(strings.TrimSpace(opt), "=")
		switch key {
		case "offset":
			n, perr := strconv.ParseUint(value, 0, 32)
			if perr != nil {
				return "", 0, false, perr
			}
			offset, pinned = uint32(n), true
		default:
			return "", 0, false, fmt.Errorf("unknown abi tag option %q", key)
		}
	}
	return name, offset, pinned, nil
}

func toKebabCase(s string) string {
	var result strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				result.WriteByte('-')
			}
			result.WriteRune(unicode.ToLower(r))
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}
