package metadata

import (
	"fmt"
	"math"
	"sort"

	"github.com/wippyai/icall-bridge/errors"
)

// Record is one attribute instance: its name and literal field values.
// Field values are bool, int64, float64 or string.
type Record struct {
	Owner  string
	Name   string
	Fields map[string]any
}

// Float32 returns a numeric field as float32
func (r Record) Float32(field string) (float32, bool) {
	f, ok := r.Float64(field)
	return float32(f), ok
}

// Float64 returns a numeric field as float64
func (r Record) Float64(field string) (float64, bool) {
	switch v := r.Fields[field].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Int64 returns an integer field
func (r Record) Int64(field string) (int64, bool) {
	switch v := r.Fields[field].(type) {
	case int64:
		return v, true
	case float64:
		if v == math.Trunc(v) && v >= math.MinInt64 && v < math.MaxInt64 {
			return int64(v), true
		}
	}
	return 0, false
}

// String returns a string field
func (r Record) String(field string) (string, bool) {
	s, ok := r.Fields[field].(string)
	return s, ok
}

// Bool returns a boolean field
func (r Record) Bool(field string) (bool, bool) {
	b, ok := r.Fields[field].(bool)
	return b, ok
}

// FieldNames returns the field names, sorted
func (r Record) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (r Record) clone() Record {
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	r.Fields = fields
	return r
}

// normalize converts a literal to one of the stored kinds
func normalize(v any) (any, error) {
	switch x := v.(type) {
	case bool, string, int64, float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return nil, fmt.Errorf("value %d overflows int64", x)
		}
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("value %d overflows int64", x)
		}
		return int64(x), nil
	}
	return nil, errors.Unsupported(errors.PhaseMetadata, fmt.Sprintf("attribute value of type %T", v))
}
