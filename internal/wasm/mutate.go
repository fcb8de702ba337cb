package wasm

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/bytecodealliance/spidermonkey-embedding-splicer/splicererr"
)

// FindExportFunc returns the function index an export named name targets.
func (m *Module) FindExportFunc(name string) (Index, bool) {
	for _, e := range m.ExportSection {
		if e.Name == name && e.Type == ExternTypeFunc {
			return e.Index, true
		}
	}
	return 0, false
}

// FindExport returns the export entry named name, if any.
func (m *Module) FindExport(name string) (*Export, bool) {
	for _, e := range m.ExportSection {
		if e.Name == name {
			return e, true
		}
	}
	return nil, false
}

// DeleteExport removes the export named name, if present. It is not an
// error for name to be absent -- callers that require presence check
// FindExport first.
func (m *Module) DeleteExport(name string) {
	out := m.ExportSection[:0]
	for _, e := range m.ExportSection {
		if e.Name != name {
			out = append(out, e)
		}
	}
	m.ExportSection = out
}

// AddExport appends a new function export.
func (m *Module) AddExport(name string, fidx Index) {
	m.ExportSection = append(m.ExportSection, &Export{Name: name, Type: ExternTypeFunc, Index: fidx})
}

// FindImportFunc returns the import-section index of the function import
// (module, name), if present.
func (m *Module) FindImportFunc(module, name string) (Index, bool) {
	idx := Index(0)
	for _, imp := range m.ImportSection {
		if imp.Type != ExternTypeFunc {
			continue
		}
		if imp.Module == module && imp.Name == name {
			return idx, true
		}
		idx++
	}
	return 0, false
}

// DeleteImportFunc removes the function import (module, name) from the
// import section. This shifts the function index of every import and
// local function declared after it; callers that need the net result to
// look like "this id is now local" rather than "every later id moved"
// use ReplaceImportedFuncWithLocal, which calls this and then renumbers
// every surviving reference.
func (m *Module) DeleteImportFunc(module, name string) (typeIdx Index, err error) {
	pos := -1
	for i, imp := range m.ImportSection {
		if imp.Type == ExternTypeFunc && imp.Module == module && imp.Name == name {
			pos = i
			typeIdx = imp.DescFunc
			break
		}
	}
	if pos == -1 {
		return 0, errors.Wrapf(splicererr.StubTargetMissing, "%s#%s", module, name)
	}
	m.ImportSection = append(m.ImportSection[:pos], m.ImportSection[pos+1:]...)
	return typeIdx, nil
}

// AddFunctionType interns a function type, returning its index. Equal
// signatures are deduplicated by structural comparison (ft.Equal), the
// way a real encoder minimizes the type section.
func (m *Module) AddFunctionType(params, results []ValueType) Index {
	ft := &FunctionType{Params: params, Results: results}
	for i, existing := range m.TypeSection {
		if existing.Equal(ft) {
			return Index(i)
		}
	}
	m.TypeSection = append(m.TypeSection, ft)
	return Index(len(m.TypeSection) - 1)
}

// AddImportedFunc ensures an imported function (module, name) with the
// given signature exists, adding it (at the end of the import section,
// ahead of no locals since it is always processed before any local
// function insertion in this tool's pipeline) if it does not, and
// returns its function-index-space index.
func (m *Module) AddImportedFunc(module, name string, params, results []ValueType) Index {
	if idx, ok := m.rawImportFuncIndex(module, name); ok {
		return idx
	}
	typeIdx := m.AddFunctionType(params, results)
	m.ImportSection = append(m.ImportSection, &Import{
		Module: module, Name: name, Type: ExternTypeFunc, DescFunc: typeIdx,
	})
	return Index(m.NumImportedFunctions() - 1)
}

func (m *Module) rawImportFuncIndex(module, name string) (Index, bool) {
	idx := Index(0)
	for _, imp := range m.ImportSection {
		if imp.Type != ExternTypeFunc {
			continue
		}
		if imp.Module == module && imp.Name == name {
			return idx, true
		}
		idx++
	}
	return 0, false
}

// AddLocalFunction appends a finished FunctionBuilder's function to the
// module, returning its function-index-space index.
func (m *Module) AddLocalFunction(b *FunctionBuilder) Index {
	ft, code := b.Finish()
	typeIdx := m.AddFunctionType(ft.Params, ft.Results)
	m.FunctionSection = append(m.FunctionSection, typeIdx)
	m.CodeSection = append(m.CodeSection, code)
	return Index(m.NumImportedFunctions() + len(m.FunctionSection) - 1)
}

// MainFunctionTable returns the index of the module's single indirect
// call table (spec §3: "the main function table"). WebAssembly 1.0
// modules have at most one table, so the first (and only) table entry is
// always it.
func (m *Module) MainFunctionTable() (Index, error) {
	if len(m.TableSection) == 0 {
		return 0, errors.New("wasm: module has no table")
	}
	return 0, nil
}

// GrowMainTable grows the main table's initial/maximum limits by n and
// appends n function ids (in order) to its element segment, satisfying
// spec Invariant 3/4. It returns the table's initial size *before*
// growth, which the Import Synthesizer needs as import_fn_table_start_idx.
func (m *Module) GrowMainTable(fids []Index) (startIdx uint32, err error) {
	tidx, err := m.MainFunctionTable()
	if err != nil {
		return 0, err
	}
	table := m.TableSection[tidx]
	startIdx = table.Limits.Min

	table.Limits.Min += uint32(len(fids))
	if table.Limits.Max != nil {
		max := *table.Limits.Max + uint32(len(fids))
		table.Limits.Max = &max
	}

	seg, err := m.mainElementSegment(tidx)
	if err != nil {
		return 0, err
	}
	for _, fid := range fids {
		fid := fid
		seg.Members = append(seg.Members, &fid)
	}
	return startIdx, nil
}

func (m *Module) mainElementSegment(tableIdx Index) (*ElementSegment, error) {
	for _, seg := range m.ElementSection {
		if seg.TableIndex == tableIdx {
			return seg, nil
		}
	}
	if len(m.ElementSection) > 0 {
		return m.ElementSection[0], nil
	}
	return nil, errors.New("wasm: no element segment targets the main table")
}

// Code returns the Code entry for the local function at function-index-
// space index fidx.
func (m *Module) Code(fidx Index) (*Code, error) {
	idx, ok := m.CodeIndex(fidx)
	if !ok {
		return nil, fmt.Errorf("wasm: function %d is imported, has no Code entry", fidx)
	}
	if idx < 0 || idx >= len(m.CodeSection) {
		return nil, fmt.Errorf("wasm: function index %d out of range", fidx)
	}
	return m.CodeSection[idx], nil
}

// DeleteCustomSection removes the custom section named name, if present.
func (m *Module) DeleteCustomSection(name string) {
	out := m.CustomSections[:0]
	for _, cs := range m.CustomSections {
		if cs.Name != name {
			out = append(out, cs)
		}
	}
	m.CustomSections = out
}

// DeleteFunctionAndExport removes the export named name (if present). The
// local function it targeted is not removed: its Code entry and its slot
// in the function index space stay in the module, unexported.
func (m *Module) DeleteFunctionAndExport(name string) {
	m.DeleteExport(name)
}
