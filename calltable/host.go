package calltable

import (
	"reflect"
	"sort"

	"github.com/wippyai/icall-bridge/errors"
)

// Host is the interface for struct-based groups of internal calls.
// All exported methods (except ClassName) are registered under
// "<ClassName>.<MethodName>".
type Host interface {
	// ClassName returns the managed class, e.g. "Example.Managed.ExampleClass".
	ClassName() string
}

// ExplicitRegistrar allows hosts to provide exact member names
// when the Go method name differs from the managed one.
type ExplicitRegistrar interface {
	InternalCalls() map[string]any
}

// RegisterHost registers every internal call a host provides.
// Registration stops at the first error.
func (t *Table) RegisterHost(h Host) error {
	class := h.ClassName()
	if class == "" {
		return errors.InvalidInput(errors.PhaseRegister, "class name cannot be empty")
	}

	if er, ok := h.(ExplicitRegistrar); ok {
		calls := er.InternalCalls()
		members := make([]string, 0, len(calls))
		for name := range calls {
			members = append(members, name)
		}
		sort.Strings(members)
		for _, name := range members {
			if err := t.Register(Join(class, name), calls[name]); err != nil {
				return err
			}
		}
		return nil
	}

	rv := reflect.ValueOf(h)
	rt := rv.Type()

	// Method order is lexicographic, so registration order is stable.
	for i := 0; i < rt.NumMethod(); i++ {
		method := rt.Method(i)
		if !method.IsExported() || method.Name == "ClassName" {
			continue
		}
		if err := t.Register(Join(class, method.Name), rv.Method(i).Interface()); err != nil {
			return err
		}
	}
	return nil
}
