package layout

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/wippyai/icall-bridge/abi"
	"github.com/wippyai/icall-bridge/errors"
)

// Field is one primitive member of a struct
type Field struct {
	Name   string
	Kind   abi.Kind
	Offset uint32
	Pinned bool
}

// Size returns the byte size of the field
func (f Field) Size() uint32 {
	return f.Kind.Size()
}

// End returns the offset one past the last byte of the field
func (f Field) End() uint32 {
	return f.Offset + f.Kind.Size()
}

// Descriptor is the byte layout of one struct type
type Descriptor struct {
	TypeName string
	Fields   []Field
	Size     uint32
	Align    uint32

	goType reflect.Type
}

// GoType returns the Go struct the descriptor was built from, if any
func (d *Descriptor) GoType() reflect.Type {
	return d.goType
}

// Field returns the field with the given name
func (d *Descriptor) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if fieldNamesMatch(f.Name, name) {
			return f, true
		}
	}
	return Field{}, false
}

func (d *Descriptor) String() string {
	var b strings.Builder
	b.WriteString(d.TypeName)
	b.WriteByte('{')
	for i, f := range d.Fields {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %s @%d", f.Name, f.Kind, f.Offset)
	}
	fmt.Fprintf(&b, "} size=%d align=%d", d.Size, d.Align)
	return b.String()
}

type fieldSpec struct {
	name   string
	kind   abi.Kind
	offset uint32
	pinned bool
}

// Builder declares a layout field by field
type Builder struct {
	name   string
	fields []fieldSpec
	size   uint32
}

// NewBuilder starts a layout for the named type
func NewBuilder(typeName string) *Builder {
	return &Builder{name: typeName}
}

// Field appends a field placed by natural alignment
func (b *Builder) Field(name string, kind abi.Kind) *Builder {
	b.fields = append(b.fields, fieldSpec{name: name, kind: kind})
	return b
}

// PinnedField appends a field at an explicit offset
func (b *Builder) PinnedField(name string, kind abi.Kind, offset uint32) *Builder {
	b.fields = append(b.fields, fieldSpec{name: name, kind: kind, offset: offset, pinned: true})
	return b
}

// DeclaredSize sets a minimum total size, as for a struct with trailing padding
func (b *Builder) DeclaredSize(size uint32) *Builder {
	b.size = size
	return b
}

// Build computes offsets and validates the declaration
func (b *Builder) Build() (*Descriptor, error) {
	if b.name == "" {
		return nil, errors.InvalidInput(errors.PhaseLayout, "layout needs a type name")
	}

	d := &Descriptor{
		TypeName: b.name,
		Fields:   make([]Field, 0, len(b.fields)),
		Align:    1,
	}
	seen := make(map[string]bool, len(b.fields))
	cursor := uint32(0)

	for _, spec := range b.fields {
		fail := errors.New(errors.PhaseLayout, errors.KindInvalidInput).TypeName(b.name).Path(b.name, spec.name)
		if spec.name == "" {
			return nil, fail.Detail("field without a name").Build()
		}
		if seen[strings.ToLower(spec.name)] {
			return nil, fail.Detail("field declared twice").Build()
		}
		seen[strings.ToLower(spec.name)] = true

		if !spec.kind.IsPrimitive() {
			return nil, errors.New(errors.PhaseLayout, errors.KindUnsupported).
				TypeName(b.name).
				Path(b.name, spec.name).
				Detail("field kind %s is not a primitive", spec.kind).
				Build()
		}

		align := spec.kind.Align()
		offset := abi.AlignTo(cursor, align)
		if spec.pinned {
			if spec.offset%align != 0 {
				return nil, fail.Detail("pinned offset %d is not aligned to %d", spec.offset, align).Build()
			}
			if spec.offset < cursor {
				return nil, fail.Detail("pinned offset %d overlaps previous field ending at %d", spec.offset, cursor).Build()
			}
			offset = spec.offset
		}

		d.Fields = append(d.Fields, Field{
			Name:   spec.name,
			Kind:   spec.kind,
			Offset: offset,
			Pinned: spec.pinned,
		})
		cursor = offset + spec.kind.Size()
		if align > d.Align {
			d.Align = align
		}
	}

	if b.size > 0 && b.size < cursor {
		return nil, errors.New(errors.PhaseLayout, errors.KindInvalidInput).
			TypeName(b.name).
			Detail("declared size %d is smaller than field extent %d", b.size, cursor).
			Build()
	}
	d.Size = abi.AlignTo(max(cursor, b.size), d.Align)
	return d, nil
}

// fieldNamesMatch matches case-insensitively and across PascalCase and kebab-case
func fieldNamesMatch(a, b string) bool {
	if strings.EqualFold(a, b) {
		return true
	}
	return toKebabCase(a) == strings.ToLower(b) || strings.ToLower(a) == toKebabCase(b)
}
