package metadata

import (
	"fmt"
	"sort"

	"github.com/wippyai/icall-bridge/abi"
	"github.com/wippyai/icall-bridge/errors"
	"go.uber.org/multierr"
)

// Declaration is one attribute as written on a managed type
type Declaration struct {
	Owner  string
	Name   string
	Fields map[string]any
}

// Builder gathers attribute records and type members. Errors are
// collected and reported by Build.
type Builder struct {
	records map[string][]Record
	members map[string][]Member
	order   []string
	errs    error
}

// NewBuilder creates an empty builder
func NewBuilder() *Builder {
	return &Builder{
		records: make(map[string][]Record),
		members: make(map[string][]Member),
	}
}

// Declare records one attribute on owner. An attribute name may appear
// once per owner.
func (b *Builder) Declare(owner, name string, fields map[string]any) *Builder {
	if owner == "" || name == "" {
		b.errs = multierr.Append(b.errs, errors.InvalidInput(errors.PhaseMetadata,
			fmt.Sprintf("attribute needs an owner and a name, got %q on %q", name, owner)))
		return b
	}
	for _, existing := range b.records[owner] {
		if existing.Name == name {
			b.errs = multierr.Append(b.errs, errors.New(errors.PhaseMetadata, errors.KindDuplicateIdentifier).
				TypeName(owner).
				Detail("attribute %q declared twice", name).
				Build())
			return b
		}
	}

	rec := Record{Owner: owner, Name: name, Fields: make(map[string]any, len(fields))}
	for k, v := range fields {
		nv, err := normalize(v)
		if err != nil {
			b.errs = multierr.Append(b.errs, errors.New(errors.PhaseMetadata, errors.KindInvalidInput).
				TypeName(owner).
				Path(name, k).
				Cause(err).
				Build())
			return b
		}
		rec.Fields[k] = nv
	}

	if _, ok := b.records[owner]; !ok {
		b.order = append(b.order, owner)
	}
	b.records[owner] = append(b.records[owner], rec)
	return b
}

// Scan declares every attribute in decls
func (b *Builder) Scan(decls []Declaration) *Builder {
	for _, d := range decls {
		b.Declare(d.Owner, d.Name, d.Fields)
	}
	return b
}

// DeclareMember records one member of a managed type. A member name may
// appear once per owner; overloads are not distinguished.
func (b *Builder) DeclareMember(m Member) *Builder {
	if m.Owner == "" || m.Name == "" {
		b.errs = multierr.Append(b.errs, errors.InvalidInput(errors.PhaseMetadata,
			fmt.Sprintf("member needs an owner and a name, got %q on %q", m.Name, m.Owner)))
		return b
	}
	if _, ok := memberKindNames[m.Kind]; !ok {
		b.errs = multierr.Append(b.errs, errors.New(errors.PhaseMetadata, errors.KindInvalidInput).
			TypeName(m.Owner).
			Detail("member %q has no kind", m.Name).
			Build())
		return b
	}
	if m.Kind != MemberMethod && m.Type.Kind == abi.KindVoid {
		b.errs = multierr.Append(b.errs, errors.New(errors.PhaseMetadata, errors.KindInvalidInput).
			TypeName(m.Owner).
			Detail("%s %q has no type", m.Kind, m.Name).
			Build())
		return b
	}
	for _, existing := range b.members[m.Owner] {
		if existing.Name == m.Name {
			b.errs = multierr.Append(b.errs, errors.New(errors.PhaseMetadata, errors.KindDuplicateIdentifier).
				TypeName(m.Owner).
				Detail("member %q declared twice", m.Name).
				Build())
			return b
		}
	}
	b.members[m.Owner] = append(b.members[m.Owner], m.clone())
	return b
}

// ScanMembers declares every member in ms
func (b *Builder) ScanMembers(ms []Member) *Builder {
	for _, m := range ms {
		b.DeclareMember(m)
	}
	return b
}

// Build freezes the records into a Store
func (b *Builder) Build() (*Store, error) {
	if b.errs != nil {
		return nil, b.errs
	}
	s := &Store{
		byOwner: make(map[string][]Record, len(b.records)),
		members: make(map[string][]Member, len(b.members)),
	}
	for owner, recs := range b.records {
		frozen := make([]Record, len(recs))
		for i, r := range recs {
			frozen[i] = r.clone()
		}
		s.byOwner[owner] = frozen
	}
	for owner, ms := range b.members {
		frozen := make([]Member, len(ms))
		for i, m := range ms {
			frozen[i] = m.clone()
		}
		s.members[owner] = frozen
	}
	return s, nil
}

// Store is a read-only set of attribute records and type members keyed
// by owner type. Attributes on a member are keyed by the member's Path.
type Store struct {
	byOwner map[string][]Record
	members map[string][]Member
}

// Lookup returns the records declared on owner in declaration order.
// It never returns nil.
func (s *Store) Lookup(owner string) []Record {
	if s == nil {
		return []Record{}
	}
	recs := s.byOwner[owner]
	out := make([]Record, len(recs))
	for i, r := range recs {
		out[i] = r.clone()
	}
	return out
}

// Find returns the named attribute on owner
func (s *Store) Find(owner, name string) (Record, bool) {
	if s == nil {
		return Record{}, false
	}
	for _, r := range s.byOwner[owner] {
		if r.Name == name {
			return r.clone(), true
		}
	}
	return Record{}, false
}

// Has reports whether owner carries the named attribute
func (s *Store) Has(owner, name string) bool {
	_, ok := s.Find(owner, name)
	return ok
}

// Owners returns every type with at least one attribute, sorted
func (s *Store) Owners() []string {
	if s == nil {
		return nil
	}
	owners := make([]string, 0, len(s.byOwner))
	for o := range s.byOwner {
		owners = append(owners, o)
	}
	sort.Strings(owners)
	return owners
}

// Len returns the total number of records
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, recs := range s.byOwner {
		n += len(recs)
	}
	return n
}

// Members returns the members of owner in declaration order. It never
// returns nil.
func (s *Store) Members(owner string) []Member {
	return s.filter(owner, 0)
}

// Methods returns the methods of owner in declaration order
func (s *Store) Methods(owner string) []Member {
	return s.filter(owner, MemberMethod)
}

// Fields returns the fields of owner in declaration order
func (s *Store) Fields(owner string) []Member {
	return s.filter(owner, MemberField)
}

// Properties returns the properties of owner in declaration order
func (s *Store) Properties(owner string) []Member {
	return s.filter(owner, MemberProperty)
}

// Member returns the named member of owner
func (s *Store) Member(owner, name string) (Member, bool) {
	if s == nil {
		return Member{}, false
	}
	for _, m := range s.members[owner] {
		if m.Name == name {
			return m.clone(), true
		}
	}
	return Member{}, false
}

func (s *Store) filter(owner string, kind MemberKind) []Member {
	out := []Member{}
	if s == nil {
		return out
	}
	for _, m := range s.members[owner] {
		if kind == 0 || m.Kind == kind {
			out = append(out, m.clone())
		}
	}
	return out
}
