// Package manifest reads the TOML description of a managed image: the
// types it declares, the attributes on them, the internal calls it needs
// from the host and the methods it exports.
package manifest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/wippyai/icall-bridge/abi"
	"github.com/wippyai/icall-bridge/calltable"
	"github.com/wippyai/icall-bridge/errors"
	"github.com/wippyai/icall-bridge/layout"
	"github.com/wippyai/icall-bridge/metadata"
	"go.bytecodealliance.org/wit"
	"go.uber.org/multierr"
)

// FileName is the conventional manifest name next to an image
const FileName = "icall.toml"

// DefaultNamespace is the wasm import module that internal calls come from
const DefaultNamespace = "icall"

// MessageImport is the import through which an image reports a message
// to the host. It takes (level i32, ptr i32, len i32), the text being
// UTF-8 in the image memory. The host provides it; it is never
// registered as an internal call.
const MessageImport = "Bridge.Message"

// Managed message levels
const (
	MessageInfo    = 1
	MessageWarning = 2
	MessageError   = 4
)

// Image describes one managed image
type Image struct {
	Name          string       `toml:"name"`
	Module        string       `toml:"module"`
	Namespace     string       `toml:"namespace"`
	Types         []TypeDecl   `toml:"types"`
	InternalCalls []CallDecl   `toml:"internal_calls"`
	Methods       []MethodDecl `toml:"methods"`

	dir string
}

// TypeDecl is a managed type. Types with fields cross the boundary by
// address; types without fields only carry attributes and members.
type TypeDecl struct {
	Name       string          `toml:"name"`
	Fields     []FieldDecl     `toml:"fields"`
	Size       uint32          `toml:"size"`
	Attributes []AttributeDecl `toml:"attributes"`
	Members    []MemberDecl    `toml:"members"`
}

// MemberDecl describes a method, field or property of a managed type.
// Members are metadata only; the host calls into the image through
// [[methods]].
type MemberDecl struct {
	Name       string          `toml:"name"`
	Kind       string          `toml:"kind"`
	Static     bool            `toml:"static"`
	Signature  string          `toml:"signature"`
	Type       string          `toml:"type"`
	Attributes []AttributeDecl `toml:"attributes"`

	kind metadata.MemberKind
	sig  abi.Signature
	typ  abi.Type
}

// FieldDecl is one struct field. Kind is a WIT primitive name or managed alias.
type FieldDecl struct {
	Name   string  `toml:"name"`
	Kind   string  `toml:"kind"`
	Offset *uint32 `toml:"offset"`
}

// AttributeDecl is one attribute instance with literal field values
type AttributeDecl struct {
	Name   string         `toml:"name"`
	Fields map[string]any `toml:"fields"`
}

// CallDecl is an internal call the image expects the host to provide
type CallDecl struct {
	ID        string `toml:"id"`
	Signature string `toml:"signature"`

	sig abi.Signature
}

// Sig returns the parsed signature. Valid after Parse or Validate.
func (c CallDecl) Sig() abi.Signature {
	return c.sig
}

// MethodDecl is a managed method the host may call
type MethodDecl struct {
	Name      string `toml:"name"`
	Export    string `toml:"export"`
	Signature string `toml:"signature"`

	sig abi.Signature
}

// Sig returns the parsed signature. Valid after Parse or Validate.
func (m MethodDecl) Sig() abi.Signature {
	return m.sig
}

// Load reads and validates a manifest file
func Load(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	img, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	img.dir = filepath.Dir(path)
	return img, nil
}

// Parse decodes and validates a manifest. Unknown keys are rejected.
func Parse(data []byte) (*Image, error) {
	var img Image
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(&img); err != nil {
		return nil, errors.ParseFailed("manifest", err)
	}
	if img.Namespace == "" {
		img.Namespace = DefaultNamespace
	}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	return &img, nil
}

// Validate checks names, kinds and signatures, collecting every problem
func (m *Image) Validate() error {
	var errs error
	invalid := func(format string, args ...any) {
		errs = multierr.Append(errs, errors.InvalidInput(errors.PhaseParse, fmt.Sprintf(format, args...)))
	}

	if m.Name == "" {
		invalid("image name is required")
	}

	structs := make(map[string]bool)
	types := make(map[string]bool)
	for i, t := range m.Types {
		if t.Name == "" {
			invalid("types[%d]: name is required", i)
			continue
		}
		if types[t.Name] {
			invalid("type %q declared twice", t.Name)
		}
		types[t.Name] = true
		if len(t.Fields) > 0 {
			structs[t.Name] = true
		}
		for _, f := range t.Fields {
			if f.Name == "" {
				invalid("type %q: field without a name", t.Name)
			}
			if k, ok := abi.ParseKind(f.Kind); !ok || !k.IsPrimitive() {
				invalid("type %q field %q: unknown kind %q", t.Name, f.Name, f.Kind)
			}
		}
		for _, a := range t.Attributes {
			if a.Name == "" {
				invalid("type %q: attribute without a name", t.Name)
			}
		}
	}

	checkStructs := func(where string, sig abi.Signature) {
		for _, name := range sig.Structs() {
			if !structs[name] {
				invalid("%s: struct %q is not declared with fields", where, name)
			}
		}
	}

	for i := range m.Types {
		t := &m.Types[i]
		if t.Name == "" {
			continue
		}
		members := make(map[string]bool)
		for j := range t.Members {
			md := &t.Members[j]
			if md.Name == "" {
				invalid("type %q: members[%d]: name is required", t.Name, j)
				continue
			}
			if members[md.Name] {
				invalid("type %q: member %q declared twice", t.Name, md.Name)
			}
			members[md.Name] = true
			for _, a := range md.Attributes {
				if a.Name == "" {
					invalid("member %s.%s: attribute without a name", t.Name, md.Name)
				}
			}

			kind, ok := metadata.ParseMemberKind(md.Kind)
			if !ok {
				invalid("member %s.%s: unknown member kind %q", t.Name, md.Name, md.Kind)
				continue
			}
			md.kind = kind
			where := "member " + t.Name + "." + md.Name
			if kind == metadata.MemberMethod {
				sig, err := abi.ParseSignature(md.Signature)
				if err != nil {
					errs = multierr.Append(errs, err)
					continue
				}
				md.sig = sig
				checkStructs(where, sig)
				continue
			}
			typ, err := abi.ParseType(md.Type)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			if typ.Kind == abi.KindVoid {
				invalid("%s: %s cannot be void", where, kind)
				continue
			}
			md.typ = typ
			checkStructs(where, abi.Signature{Result: typ})
		}
	}

	calls := make(map[string]bool)
	for i := range m.InternalCalls {
		c := &m.InternalCalls[i]
		if !calltable.Identifier(c.ID).Valid() {
			invalid("internal_calls[%d]: invalid id %q", i, c.ID)
			continue
		}
		if c.ID == MessageImport {
			invalid("internal_calls[%d]: %q is provided by the host", i, c.ID)
			continue
		}
		if calls[c.ID] {
			invalid("internal call %q declared twice", c.ID)
		}
		calls[c.ID] = true
		sig, err := abi.ParseSignature(c.Signature)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		c.sig = sig
		checkStructs("internal call "+c.ID, sig)
	}

	methods := make(map[string]bool)
	for i := range m.Methods {
		md := &m.Methods[i]
		if md.Name == "" {
			invalid("methods[%d]: name is required", i)
			continue
		}
		if md.Export == "" {
			md.Export = md.Name
		}
		if methods[md.Name] {
			invalid("method %q declared twice", md.Name)
		}
		methods[md.Name] = true
		sig, err := abi.ParseSignature(md.Signature)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		md.sig = sig
		checkStructs("method "+md.Name, sig)
	}

	return errs
}

// ModulePath resolves the wasm file relative to the manifest
func (m *Image) ModulePath() string {
	if m.Module == "" || filepath.IsAbs(m.Module) {
		return m.Module
	}
	return filepath.Join(m.dir, m.Module)
}

// Call returns the declaration for an internal call id
func (m *Image) Call(id string) (CallDecl, bool) {
	for _, c := range m.InternalCalls {
		if c.ID == id {
			return c, true
		}
	}
	return CallDecl{}, false
}

// Method returns a method by name or export name
func (m *Image) Method(name string) (MethodDecl, bool) {
	for _, md := range m.Methods {
		if md.Name == name || md.Export == name {
			return md, true
		}
	}
	return MethodDecl{}, false
}

// Record returns the WIT record for a struct type
func (t TypeDecl) Record() (*wit.Record, error) {
	r := &wit.Record{Fields: make([]wit.Field, 0, len(t.Fields))}
	for _, f := range t.Fields {
		k, ok := abi.ParseKind(f.Kind)
		if !ok || !k.IsPrimitive() {
			return nil, errors.New(errors.PhaseParse, errors.KindUnsupported).
				TypeName(t.Name).
				Path(t.Name, f.Name).
				Detail("kind %q", f.Kind).
				Build()
		}
		r.Fields = append(r.Fields, wit.Field{Name: f.Name, Type: abi.WITType(k)})
	}
	return r, nil
}

func (t TypeDecl) explicit() bool {
	if t.Size > 0 {
		return true
	}
	for _, f := range t.Fields {
		if f.Offset != nil {
			return true
		}
	}
	return false
}

// Layout returns the managed descriptor of a struct type. Types without
// explicit placement use the WIT record rule; pinned offsets or a declared
// size go through the layout builder.
func (t TypeDecl) Layout() (*layout.Descriptor, error) {
	if !t.explicit() {
		r, err := t.Record()
		if err != nil {
			return nil, err
		}
		return layout.FromWIT(t.Name, r)
	}

	b := layout.NewBuilder(t.Name).DeclaredSize(t.Size)
	for _, f := range t.Fields {
		k, _ := abi.ParseKind(f.Kind)
		if f.Offset != nil {
			b.PinnedField(f.Name, k, *f.Offset)
		} else {
			b.Field(f.Name, k)
		}
	}
	return b.Build()
}

// Layouts returns the managed descriptors of every struct type
func (m *Image) Layouts() ([]*layout.Descriptor, error) {
	var (
		out  []*layout.Descriptor
		errs error
	)
	for _, t := range m.Types {
		if len(t.Fields) == 0 {
			continue
		}
		d, err := t.Layout()
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		out = append(out, d)
	}
	return out, errs
}

// Declarations returns every attribute as a metadata declaration.
// Attributes on a member are owned by "Type.Member".
func (m *Image) Declarations() []metadata.Declaration {
	var decls []metadata.Declaration
	add := func(owner string, attrs []AttributeDecl) {
		for _, a := range attrs {
			decls = append(decls, metadata.Declaration{
				Owner:  owner,
				Name:   a.Name,
				Fields: a.Fields,
			})
		}
	}
	for _, t := range m.Types {
		add(t.Name, t.Attributes)
		for _, md := range t.Members {
			add(t.Name+"."+md.Name, md.Attributes)
		}
	}
	return decls
}

// Members returns the members of every type. Valid after Parse or Validate.
func (m *Image) Members() []metadata.Member {
	var out []metadata.Member
	for _, t := range m.Types {
		for _, md := range t.Members {
			out = append(out, metadata.Member{
				Owner:     t.Name,
				Name:      md.Name,
				Kind:      md.kind,
				Static:    md.Static,
				Signature: md.sig,
				Type:      md.typ,
			})
		}
	}
	return out
}
