package calltable

import (
	"strings"
	"unicode"
)

// Identifier is a fully qualified internal call name, "Namespace.Class.Member"
type Identifier string

// Join builds an identifier from a class name and a member name
func Join(class, member string) Identifier {
	if class == "" {
		return Identifier(member)
	}
	return Identifier(class + "." + member)
}

// Split returns the class and member parts, split at the last dot
func (id Identifier) Split() (class, member string) {
	s := string(id)
	i := strings.LastIndexByte(s, '.')
	if i < 0 {
		return "", s
	}
	return s[:i], s[i+1:]
}

// Valid reports whether id is non-empty, has no whitespace and no empty segments
func (id Identifier) Valid() bool {
	if id == "" {
		return false
	}
	for _, part := range strings.Split(string(id), ".") {
		if part == "" {
			return false
		}
		if strings.IndexFunc(part, unicode.IsSpace) >= 0 {
			return false
		}
	}
	return true
}

func (id Identifier) String() string {
	return string(id)
}
