package metadata

import (
	"fmt"

	"github.com/wippyai/icall-bridge/abi"
)

// MemberKind says what a member of a managed type is
type MemberKind int

const (
	MemberMethod MemberKind = iota + 1
	MemberField
	MemberProperty
)

var memberKindNames = map[MemberKind]string{
	MemberMethod:   "method",
	MemberField:    "field",
	MemberProperty: "property",
}

func (k MemberKind) String() string {
	if s, ok := memberKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("MemberKind(%d)", int(k))
}

// ParseMemberKind maps "method", "field" or "property" to a kind
func ParseMemberKind(s string) (MemberKind, bool) {
	for k, name := range memberKindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// Member is a method, field or property of a managed type. Methods carry
// a signature; fields and properties carry a value type.
type Member struct {
	Owner     string
	Name      string
	Kind      MemberKind
	Static    bool
	Signature abi.Signature
	Type      abi.Type
}

// Path is the owner name under which attributes on the member are
// declared: "Owner.Name".
func (m Member) Path() string {
	return m.Owner + "." + m.Name
}

func (m Member) String() string {
	prefix := ""
	if m.Static {
		prefix = "static "
	}
	if m.Kind == MemberMethod {
		return prefix + m.Name + m.Signature.String()
	}
	return fmt.Sprintf("%s%s %s: %s", prefix, m.Kind, m.Name, m.Type)
}

func (m Member) clone() Member {
	if m.Signature.Params != nil {
		m.Signature.Params = append([]abi.Type(nil), m.Signature.Params...)
	}
	return m
}
