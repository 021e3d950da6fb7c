// Package imagegen assembles small core WebAssembly modules in memory.
// It covers the instructions needed to exercise internal calls: locals,
// constants, arithmetic, linear memory and direct calls.
package imagegen

import (
	"bytes"

	"github.com/tetratelabs/wazero/api"
)

const (
	magic   = 0x6d736100 // \0asm
	version = 1

	sectionType     byte = 1
	sectionImport   byte = 2
	sectionFunction byte = 3
	sectionMemory   byte = 5
	sectionExport   byte = 7
	sectionCode     byte = 10
	sectionData     byte = 11

	kindFunc   byte = 0x00
	kindMemory byte = 0x02
	funcForm   byte = 0x60
)

type funcType struct {
	params  []api.ValueType
	results []api.ValueType
}

type importFunc struct {
	module, name string
	typeIdx      uint32
}

type dataSegment struct {
	offset uint32
	data   []byte
}

type definedFunc struct {
	export  string
	typeIdx uint32
	body    []byte
}

// Module is a core module under construction. Imports must be added
// before functions, since they come first in the function index space.
type Module struct {
	types       []funcType
	imports     []importFunc
	funcs       []definedFunc
	memoryPages uint32
	memoryName  string
	data        []dataSegment
}

// New creates an empty module
func New() *Module {
	return &Module{}
}

func (m *Module) typeIndex(params, results []api.ValueType) uint32 {
	for i, t := range m.types {
		if bytes.Equal(t.params, params) && bytes.Equal(t.results, results) {
			return uint32(i)
		}
	}
	m.types = append(m.types, funcType{params: params, results: results})
	return uint32(len(m.types) - 1)
}

// Import adds an imported function and returns its function index
func (m *Module) Import(module, name string, params, results []api.ValueType) uint32 {
	if len(m.funcs) > 0 {
		panic("imagegen: imports must be added before functions")
	}
	m.imports = append(m.imports, importFunc{
		module:  module,
		name:    name,
		typeIdx: m.typeIndex(params, results),
	})
	return uint32(len(m.imports) - 1)
}

// Func adds a function, exported under export unless it is empty, and
// returns its function index
func (m *Module) Func(export string, params, results []api.ValueType, code *Code) uint32 {
	m.funcs = append(m.funcs, definedFunc{
		export:  export,
		typeIdx: m.typeIndex(params, results),
		body:    code.w.bytes(),
	})
	return uint32(len(m.imports) + len(m.funcs) - 1)
}

// Memory declares one linear memory of pages, exported as name
func (m *Module) Memory(pages uint32, name string) *Module {
	m.memoryPages = pages
	m.memoryName = name
	return m
}

// Data places bytes in memory 0 at offset when the module is instantiated
func (m *Module) Data(offset uint32, data []byte) *Module {
	m.data = append(m.data, dataSegment{offset: offset, data: append([]byte(nil), data...)})
	return m
}

// Encode returns the binary module
func (m *Module) Encode() []byte {
	var w writer
	w.u32le(magic)
	w.u32le(version)

	if len(m.types) > 0 {
		var sec writer
		sec.u32(uint32(len(m.types)))
		for _, t := range m.types {
			sec.byte(funcForm)
			writeValueTypes(&sec, t.params)
			writeValueTypes(&sec, t.results)
		}
		w.section(sectionType, &sec)
	}

	if len(m.imports) > 0 {
		var sec writer
		sec.u32(uint32(len(m.imports)))
		for _, imp := range m.imports {
			sec.name(imp.module)
			sec.name(imp.name)
			sec.byte(kindFunc)
			sec.u32(imp.typeIdx)
		}
		w.section(sectionImport, &sec)
	}

	if len(m.funcs) > 0 {
		var sec writer
		sec.u32(uint32(len(m.funcs)))
		for _, f := range m.funcs {
			sec.u32(f.typeIdx)
		}
		w.section(sectionFunction, &sec)
	}

	if m.memoryPages > 0 {
		var sec writer
		sec.u32(1)
		sec.byte(0x00) // no maximum
		sec.u32(m.memoryPages)
		w.section(sectionMemory, &sec)
	}

	var exports writer
	count := uint32(0)
	for i, f := range m.funcs {
		if f.export == "" {
			continue
		}
		exports.name(f.export)
		exports.byte(kindFunc)
		exports.u32(uint32(len(m.imports) + i))
		count++
	}
	if m.memoryPages > 0 && m.memoryName != "" {
		exports.name(m.memoryName)
		exports.byte(kindMemory)
		exports.u32(0)
		count++
	}
	if count > 0 {
		var sec writer
		sec.u32(count)
		sec.raw(exports.bytes())
		w.section(sectionExport, &sec)
	}

	if len(m.funcs) > 0 {
		var sec writer
		sec.u32(uint32(len(m.funcs)))
		for _, f := range m.funcs {
			var body writer
			body.u32(0) // no locals beyond parameters
			body.raw(f.body)
			body.byte(opEnd)
			sec.u32(uint32(len(body.bytes())))
			sec.raw(body.bytes())
		}
		w.section(sectionCode, &sec)
	}

	if len(m.data) > 0 {
		var sec writer
		sec.u32(uint32(len(m.data)))
		for _, d := range m.data {
			sec.u32(0) // active, memory 0
			sec.byte(opI32Const)
			sec.s64(int64(int32(d.offset)))
			sec.byte(opEnd)
			sec.u32(uint32(len(d.data)))
			sec.raw(d.data)
		}
		w.section(sectionData, &sec)
	}

	return w.bytes()
}

func writeValueTypes(w *writer, types []api.ValueType) {
	w.u32(uint32(len(types)))
	for _, t := range types {
		w.byte(t)
	}
}
