package layout

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"strings"
	"sync"

	icall "github.com/wippyai/icall-bridge"
	"github.com/wippyai/icall-bridge/abi"
	"github.com/wippyai/icall-bridge/errors"
)

type planKey struct {
	desc   *Descriptor
	goType reflect.Type
}

type planField struct {
	goIndex int
	field   Field
}

var plans sync.Map // planKey -> []planField

// planFor maps descriptor fields onto the fields of a Go struct. The Go
// struct does not have to be the one the descriptor came from, only to
// carry a field of the same kind for every descriptor field.
func planFor(d *Descriptor, t reflect.Type) ([]planField, error) {
	key := planKey{desc: d, goType: t}
	if cached, ok := plans.Load(key); ok {
		return cached.([]planField), nil
	}

	plan := make([]planField, 0, len(d.Fields))
	for _, f := range d.Fields {
		sf, ok := findGoField(t, f.Name)
		if !ok {
			return nil, errors.New(errors.PhaseLayout, errors.KindLayoutMismatch).
				TypeName(d.TypeName).
				Path(d.TypeName, f.Name).
				Detail("Go type %s has no matching field", t).
				Build()
		}
		kind, ok := abi.KindOf(sf.Type)
		if !ok || kind != f.Kind {
			return nil, errors.New(errors.PhaseLayout, errors.KindLayoutMismatch).
				TypeName(d.TypeName).
				Path(d.TypeName, f.Name).
				Expected(f.Kind.String()).
				Actual(sf.Type.String()).
				Build()
		}
		plan = append(plan, planField{goIndex: sf.Index[0], field: f})
	}

	actual, _ := plans.LoadOrStore(key, plan)
	return actual.([]planField), nil
}

// findGoField matches by: 1) abi:"name" tag, 2) case-insensitive, 3) kebab-to-Pascal.
func findGoField(t reflect.Type, name string) (reflect.StructField, bool) {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		if tag, ok := sf.Tag.Lookup("abi"); ok {
			if tagName, _, _ := strings.Cut(tag, ","); tagName != "" {
				if fieldNamesMatch(tagName, name) {
					return sf, true
				}
				continue
			}
		}
		if fieldNamesMatch(sf.Name, name) {
			return sf, true
		}
	}
	return reflect.StructField{}, false
}

func structValue(d *Descriptor, v any) (reflect.Value, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return reflect.Value{}, errors.InvalidInput(errors.PhaseLayout, fmt.Sprintf("nil %s", rv.Type()))
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return reflect.Value{}, errors.New(errors.PhaseLayout, errors.KindLayoutMismatch).
			TypeName(d.TypeName).
			Expected("struct").
			Actual(fmt.Sprintf("%T", v)).
			Build()
	}
	return rv, nil
}

// Encode copies the fields of a Go struct into a new buffer laid out by d
func Encode(d *Descriptor, v any) ([]byte, error) {
	buf := make([]byte, d.Size)
	if err := EncodeInto(d, buf, v); err != nil {
		return nil, err
	}
	return buf, nil
}

// EncodeInto copies the fields of a Go struct into buf. Padding bytes are left as they are.
func EncodeInto(d *Descriptor, buf []byte, v any) error {
	if uint32(len(buf)) < d.Size {
		return errors.OutOfBounds(errors.PhaseLayout, []string{d.TypeName}, 0, d.Size, uint32(len(buf)))
	}
	rv, err := structValue(d, v)
	if err != nil {
		return err
	}
	plan, err := planFor(d, rv.Type())
	if err != nil {
		return err
	}
	for _, p := range plan {
		writeRaw(buf, p.field.Offset, p.field.Kind, abi.Lower(p.field.Kind, rv.Field(p.goIndex)))
	}
	return nil
}

// Decode copies a buffer laid out by d into the Go struct out points to
func Decode(d *Descriptor, data []byte, out any) error {
	if uint32(len(data)) < d.Size {
		return errors.OutOfBounds(errors.PhaseLayout, []string{d.TypeName}, 0, d.Size, uint32(len(data)))
	}
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.InvalidInput(errors.PhaseLayout, fmt.Sprintf("decode %s needs a non-nil pointer, got %T", d.TypeName, out))
	}
	rv, err := structValue(d, out)
	if err != nil {
		return err
	}
	plan, err := planFor(d, rv.Type())
	if err != nil {
		return err
	}
	for _, p := range plan {
		dst := rv.Field(p.goIndex)
		raw := readRaw(data, p.field.Offset, p.field.Kind)
		dst.Set(abi.Lift(p.field.Kind, raw, dst.Type()))
	}
	return nil
}

// DecodeMap decodes a buffer into field values keyed by field name
func DecodeMap(d *Descriptor, data []byte) (map[string]any, error) {
	if uint32(len(data)) < d.Size {
		return nil, errors.OutOfBounds(errors.PhaseLayout, []string{d.TypeName}, 0, d.Size, uint32(len(data)))
	}
	out := make(map[string]any, len(d.Fields))
	for _, f := range d.Fields {
		out[f.Name] = abi.LiftValue(f.Kind, readRaw(data, f.Offset, f.Kind))
	}
	return out, nil
}

// EncodeText parses "name=value" pairs for each field. Missing fields are zero.
func EncodeText(d *Descriptor, fields map[string]string) ([]byte, error) {
	buf := make([]byte, d.Size)
	for name, text := range fields {
		f, ok := d.Field(name)
		if !ok {
			return nil, errors.New(errors.PhaseLayout, errors.KindNotFound).
				TypeName(d.TypeName).
				Path(d.TypeName, name).
				Detail("no such field").
				Build()
		}
		v, err := abi.ParseValue(f.Kind, text)
		if err != nil {
			return nil, err
		}
		raw, err := abi.LowerValue(f.Kind, v)
		if err != nil {
			return nil, err
		}
		writeRaw(buf, f.Offset, f.Kind, raw)
	}
	return buf, nil
}

// Store encodes v and writes it to memory at addr
func Store(mem icall.Memory, addr uint32, d *Descriptor, v any) error {
	buf, err := Encode(d, v)
	if err != nil {
		return err
	}
	return mem.Write(addr, buf)
}

// Load reads d.Size bytes at addr and decodes them into out
func Load(mem icall.Memory, addr uint32, d *Descriptor, out any) error {
	data, err := mem.Read(addr, d.Size)
	if err != nil {
		return err
	}
	return Decode(d, data, out)
}

func writeRaw(buf []byte, off uint32, k abi.Kind, raw uint64) {
	switch k.Size() {
	case 1:
		buf[off] = byte(raw)
	case 2:
		binary.LittleEndian.PutUint16(buf[off:], uint16(raw))
	case 4:
		binary.LittleEndian.PutUint32(buf[off:], uint32(raw))
	case 8:
		binary.LittleEndian.PutUint64(buf[off:], raw)
	}
}

// readRaw returns the flat stack form, sign-extending narrow signed kinds
func readRaw(buf []byte, off uint32, k abi.Kind) uint64 {
	switch k {
	case abi.KindS8:
		return uint64(uint32(int32(int8(buf[off]))))
	case abi.KindS16:
		return uint64(uint32(int32(int16(binary.LittleEndian.Uint16(buf[off:])))))
	}
	switch k.Size() {
	case 1:
		return uint64(buf[off])
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf[off:]))
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf[off:]))
	case 8:
		return binary.LittleEndian.Uint64(buf[off:])
	}
	return 0
}
