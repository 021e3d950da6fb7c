package layout

import (
	"sort"
	"sync"

	"github.com/wippyai/icall-bridge/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Compare reports the first difference between a native and a managed
// descriptor as a layout mismatch. Field names match case-insensitively.
func Compare(native, managed *Descriptor) error {
	name := native.TypeName
	mismatch := func(path []string, format string, args ...any) error {
		return errors.New(errors.PhaseLayout, errors.KindLayoutMismatch).
			TypeName(name).
			Path(path...).
			Detail(format, args...).
			Build()
	}

	if native.TypeName != managed.TypeName {
		return mismatch(nil, "native type %q compared with managed type %q", native.TypeName, managed.TypeName)
	}
	if len(native.Fields) != len(managed.Fields) {
		return mismatch(nil, "field count: native %d, managed %d", len(native.Fields), len(managed.Fields))
	}
	for i, nf := range native.Fields {
		mf := managed.Fields[i]
		path := []string{name, nf.Name}
		if !fieldNamesMatch(nf.Name, mf.Name) {
			return mismatch(path, "field %d: native %q, managed %q", i, nf.Name, mf.Name)
		}
		if nf.Kind != mf.Kind {
			return mismatch(path, "kind: native %s, managed %s", nf.Kind, mf.Kind)
		}
		if nf.Offset != mf.Offset {
			return mismatch(path, "offset: native %d, managed %d", nf.Offset, mf.Offset)
		}
	}
	if native.Size != managed.Size {
		return mismatch(nil, "size: native %d, managed %d", native.Size, managed.Size)
	}
	if native.Align != managed.Align {
		return mismatch(nil, "align: native %d, managed %d", native.Align, managed.Align)
	}
	return nil
}

// Registry holds native and managed descriptors by type name
type Registry struct {
	mu      sync.RWMutex
	native  map[string]*Descriptor
	managed map[string]*Descriptor
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		native:  make(map[string]*Descriptor),
		managed: make(map[string]*Descriptor),
	}
}

// DeclareNative records the host's view of a type
func (r *Registry) DeclareNative(d *Descriptor) error {
	return r.declare(r.native, "native", d)
}

// DeclareManaged records the managed image's view of a type
func (r *Registry) DeclareManaged(d *Descriptor) error {
	return r.declare(r.managed, "managed", d)
}

func (r *Registry) declare(side map[string]*Descriptor, sideName string, d *Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := side[d.TypeName]; ok {
		if prev == d {
			return nil
		}
		return errors.New(errors.PhaseLayout, errors.KindDuplicateIdentifier).
			TypeName(d.TypeName).
			Detail("%s layout declared twice", sideName).
			Build()
	}
	side[d.TypeName] = d
	Logger().Debug("layout declared",
		zap.String("type", d.TypeName),
		zap.String("side", sideName),
		zap.Uint32("size", d.Size),
		zap.Uint32("align", d.Align))
	return nil
}

// Verify compares every type declared on both sides. With strict set, a
// type declared on only one side is also a mismatch.
func (r *Registry) Verify(strict bool) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs error
	for _, name := range sortedKeys(r.native) {
		managed, ok := r.managed[name]
		if !ok {
			if strict {
				errs = multierr.Append(errs, errors.LayoutMismatch(name, "no managed declaration"))
			}
			continue
		}
		errs = multierr.Append(errs, Compare(r.native[name], managed))
	}
	if strict {
		for _, name := range sortedKeys(r.managed) {
			if _, ok := r.native[name]; !ok {
				errs = multierr.Append(errs, errors.LayoutMismatch(name, "no native declaration"))
			}
		}
	}
	return errs
}

// Check verifies that a type used by a signature is declared natively and
// agrees with its managed declaration, if there is one
func (r *Registry) Check(name string) error {
	r.mu.RLock()
	native, hasNative := r.native[name]
	managed, hasManaged := r.managed[name]
	r.mu.RUnlock()

	if !hasNative {
		return errors.LayoutMismatch(name, "no native declaration")
	}
	if hasManaged {
		return Compare(native, managed)
	}
	return nil
}

// Lookup returns the descriptor for name, preferring the native one
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.native[name]; ok {
		return d, true
	}
	d, ok := r.managed[name]
	return d, ok
}

// Native returns the host's descriptor for name
func (r *Registry) Native(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.native[name]
	return d, ok
}

// Managed returns the managed image's descriptor for name
func (r *Registry) Managed(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.managed[name]
	return d, ok
}

// Names returns every declared type name, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make(map[string]*Descriptor, len(r.native)+len(r.managed))
	for k, v := range r.managed {
		all[k] = v
	}
	for k, v := range r.native {
		all[k] = v
	}
	return sortedKeys(all)
}

// Len returns the number of distinct type names
func (r *Registry) Len() int {
	return len(r.Names())
}

// Reset drops every declaration
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.native = make(map[string]*Descriptor)
	r.managed = make(map[string]*Descriptor)
}

func sortedKeys(m map[string]*Descriptor) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
