package layout

import (
	"github.com/wippyai/icall-bridge/abi"
	"github.com/wippyai/icall-bridge/errors"
	"go.bytecodealliance.org/wit"
)

// FromWIT builds the managed descriptor of a WIT record using the
// Canonical ABI record rule. Only primitive fields are accepted.
func FromWIT(typeName string, r *wit.Record) (*Descriptor, error) {
	if typeName == "" {
		return nil, errors.InvalidInput(errors.PhaseLayout, "layout needs a type name")
	}
	d := &Descriptor{
		TypeName: typeName,
		Fields:   make([]Field, 0, len(r.Fields)),
		Align:    1,
	}

	offset := uint32(0)
	for _, field := range r.Fields {
		kind, ok := abi.KindOfWIT(field.Type)
		if !ok || !kind.IsPrimitive() {
			return nil, errors.New(errors.PhaseLayout, errors.KindUnsupported).
				TypeName(typeName).
				Path(typeName, field.Name).
				Detail("WIT field type is not a primitive").
				Build()
		}

		offset = abi.AlignTo(offset, kind.Align())
		d.Fields = append(d.Fields, Field{Name: field.Name, Kind: kind, Offset: offset})

		if kind.Align() > d.Align {
			d.Align = kind.Align()
		}
		offset += kind.Size()
	}

	d.Size = abi.AlignTo(offset, d.Align)
	return d, nil
}

// Record converts a descriptor back to a WIT record, dropping pinned offsets
func Record(d *Descriptor) *wit.Record {
	r := &wit.Record{Fields: make([]wit.Field, 0, len(d.Fields))}
	for _, f := range d.Fields {
		r.Fields = append(r.Fields, wit.Field{Name: toKebabCase(f.Name), Type: abi.WITType(f.Kind)})
	}
	return r
}
