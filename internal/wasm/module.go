// Package wasm is the Module Model (spec §4.1): a mutable, in-memory
// representation of a WebAssembly module that supports parsing,
// structural mutation, and reserialization. Every other splicer package
// operates on a *Module rather than on raw bytes.
package wasm

import (
	"fmt"

	"github.com/bytecodealliance/spidermonkey-embedding-splicer/api"
)

// Index is a 0-based index into one of a module's spaces (types, funcs,
// tables, memories, globals).
type Index = uint32

// ValueType is a WebAssembly binary-format value type byte. Unlike
// api.NumericType, it carries the exact on-wire encoding.
type ValueType = byte

const (
	ValueTypeI32 ValueType = 0x7f
	ValueTypeI64 ValueType = 0x7e
	ValueTypeF32 ValueType = 0x7d
	ValueTypeF64 ValueType = 0x7c
)

// NumericTypeToValueType converts an api.NumericType to its on-wire
// ValueType byte.
func NumericTypeToValueType(t api.NumericType) ValueType {
	switch t {
	case api.I32:
		return ValueTypeI32
	case api.I64:
		return ValueTypeI64
	case api.F32:
		return ValueTypeF32
	case api.F64:
		return ValueTypeF64
	default:
		panic(fmt.Sprintf("wasm: unknown api.NumericType %v", t))
	}
}

// ValueTypeName returns the WebAssembly text format name of vt.
func ValueTypeName(vt ValueType) string {
	switch vt {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	default:
		return fmt.Sprintf("%#x", vt)
	}
}

// ExternType classifies imports and exports by the kind of entity they
// target.
//
// See https://webassembly.github.io/spec/core/binary/modules.html#binary-importdesc
type ExternType = byte

const (
	ExternTypeFunc   ExternType = 0x00
	ExternTypeTable  ExternType = 0x01
	ExternTypeMemory ExternType = 0x02
	ExternTypeGlobal ExternType = 0x03
)

// ExternTypeName returns the text format field name of et.
func ExternTypeName(et ExternType) string {
	switch et {
	case ExternTypeFunc:
		return "func"
	case ExternTypeTable:
		return "table"
	case ExternTypeMemory:
		return "memory"
	case ExternTypeGlobal:
		return "global"
	default:
		return fmt.Sprintf("%#x", et)
	}
}

// SectionID identifies a top-level module section.
type SectionID = byte

const (
	SectionIDCustom SectionID = iota
	SectionIDType
	SectionIDImport
	SectionIDFunction
	SectionIDTable
	SectionIDMemory
	SectionIDGlobal
	SectionIDExport
	SectionIDStart
	SectionIDElement
	SectionIDCode
	SectionIDData
)

// FunctionType is an entry in the type section: an ordered parameter
// list and an ordered (0 or 1 for everything this tool emits) result
// list.
type FunctionType struct {
	Params  []ValueType
	Results []ValueType
}

// String renders a stable signature key, e.g. "i32i64_f64" or
// "null_null" when either side is empty.
func (ft *FunctionType) String() string {
	ps := valueTypesKey(ft.Params)
	rs := valueTypesKey(ft.Results)
	return ps + "_" + rs
}

func valueTypesKey(vts []ValueType) string {
	if len(vts) == 0 {
		return "null"
	}
	s := ""
	for _, vt := range vts {
		s += ValueTypeName(vt)
	}
	return s
}

// Equal reports whether ft and other describe the same signature.
func (ft *FunctionType) Equal(other *FunctionType) bool {
	return ft.String() == other.String()
}

// Limits is a resizable-limits pair used by tables and memories.
type Limits struct {
	Min uint32
	Max *uint32
}

// TableType describes a table's element type and size limits. This
// splicer only ever encounters funcref tables (the main indirect-call
// table), so ElemType is carried but never interpreted beyond
// round-tripping it.
type TableType struct {
	ElemType byte
	Limits   Limits
}

// MemoryType describes linear memory size limits.
type MemoryType struct {
	Limits Limits
}

// GlobalType describes a global's value type and mutability.
type GlobalType struct {
	ValType ValueType
	Mutable bool
}

// ConstExpr is a constant initializer expression (used by globals, table
// offsets, and data offsets). The splicer never synthesizes new ones; it
// only round-trips whatever the engine module already has, so it is
// stored as the already-encoded instruction bytes (including the
// trailing end opcode).
type ConstExpr struct {
	Bytes []byte
}

// Global is a module-defined (non-imported) global.
type Global struct {
	Type *GlobalType
	Init ConstExpr
}

// Import is one import-section entry. Exactly one of DescFunc/DescTable/
// DescMem/DescGlobal is meaningful, selected by Type.
type Import struct {
	Module string
	Name   string
	Type   ExternType

	DescFunc   Index // type index, when Type == ExternTypeFunc
	DescTable  *TableType
	DescMem    *MemoryType
	DescGlobal *GlobalType
}

// Export is one export-section entry, targeting an index in the space
// named by Type.
type Export struct {
	Name  string
	Type  ExternType
	Index Index
}

// Code is one code-section entry: a local function's declared extra
// locals and its instruction bytes. Body is kept as raw, already-encoded
// instruction bytes (not including the size prefix, including the
// trailing 0x0B end opcode) for every function the splicer does not need
// to inspect -- which is almost all of them, since the engine module's
// own JS-runtime code is opaque payload as far as this tool is
// concerned. DecodeFunctionBody/EncodeFunctionBody (instr.go) convert Body to and from
// the structured *FunctionBody tree on demand, used only for the
// template exports and coreabi_get_import.
type Code struct {
	Locals []LocalGroup
	Body   []byte
}

// LocalGroup is a run-length-encoded group of same-typed locals declared
// by a function, beyond its parameters.
type LocalGroup struct {
	Count uint32
	Type  ValueType
}

// ElementSegment is an active element segment initializing a table with
// an ordered list of (possibly absent, for the "null" funcref case)
// function indices. This splicer only ever appends to the main function
// table's single segment (spec Invariant 3/4).
type ElementSegment struct {
	TableIndex Index
	Offset     ConstExpr
	// Members holds one *Index per table slot; nil entries are "no
	// function" (ref.null) slots.
	Members []*Index
}

// DataSegment is an active data segment.
type DataSegment struct {
	MemoryIndex Index
	Offset      ConstExpr
	Init        []byte
}

// CustomSection is a named, opaque custom section. The only one the
// splicer inspects by name is "component-type:bindings", which the
// Orchestrator deletes (spec Invariant 6).
type CustomSection struct {
	Name string
	Data []byte
}

// Module is the full in-memory graph of a WebAssembly module.
type Module struct {
	TypeSection     []*FunctionType
	ImportSection   []*Import
	FunctionSection []Index // type indices, parallel to CodeSection
	TableSection    []*TableType
	MemorySection   []*MemoryType
	GlobalSection   []*Global
	ExportSection   []*Export
	StartSection    *Index
	ElementSection  []*ElementSegment
	CodeSection     []*Code
	DataSection     []*DataSegment
	CustomSections  []*CustomSection
}

// NumImportedFunctions returns how many ImportSection entries are
// functions; these occupy the low end of the function index space ahead
// of FunctionSection entries.
func (m *Module) NumImportedFunctions() int {
	n := 0
	for _, i := range m.ImportSection {
		if i.Type == ExternTypeFunc {
			n++
		}
	}
	return n
}

// FunctionTypeIndex returns the type index of the function at the given
// function-index-space index (imports first, then locals).
func (m *Module) FunctionTypeIndex(fidx Index) (Index, error) {
	i := int(fidx)
	for _, imp := range m.ImportSection {
		if imp.Type != ExternTypeFunc {
			continue
		}
		if i == 0 {
			return imp.DescFunc, nil
		}
		i--
	}
	if i < len(m.FunctionSection) {
		return m.FunctionSection[i], nil
	}
	return 0, fmt.Errorf("wasm: function index %d out of range", fidx)
}

// CodeIndex converts a function-index-space index into a CodeSection
// index, or ok=false if fidx refers to an imported function (which has
// no Code entry).
func (m *Module) CodeIndex(fidx Index) (idx int, ok bool) {
	imported := m.NumImportedFunctions()
	if int(fidx) < imported {
		return 0, false
	}
	return int(fidx) - imported, true
}
