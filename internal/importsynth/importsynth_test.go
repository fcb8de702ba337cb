package importsynth

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bytecodealliance/spidermonkey-embedding-splicer/api"
	"github.com/bytecodealliance/spidermonkey-embedding-splicer/internal/wasm"
)

// testModule builds a minimal engine module exposing the template exports
// the Import Synthesizer requires: a coreabi_sample_i32 whose entry block
// contains one nested prelude block (referencing the vp param, local 2,
// and one scratch local, local 3), a coreabi_get_import with a table-index
// gate constant in range, and placeholder cabi_realloc/coreabi_to_bigint64/
// coreabi_from_bigint64 bodies (never structurally inspected by the
// synthesizer beyond their export-name lookup).
func testModule() *wasm.Module {
	i32, i64 := wasm.ValueTypeI32, wasm.ValueTypeI64
	placeholder := &wasm.FunctionType{Results: []wasm.ValueType{i32}}

	sampleBody := &wasm.FunctionBody{
		Entry: &wasm.Block{Instrs: []wasm.Instr{
			{
				Op: wasm.OpBlock,
				Then: &wasm.Block{ID: 1, Instrs: []wasm.Instr{
					{Op: wasm.OpLocalGet, Local: 2}, // vp: kept verbatim
					{Op: wasm.OpLocalTee, Local: 3}, // scratch: remapped to tmp
					{Op: wasm.OpBrIf, Label: 0},
					{Op: wasm.OpLocalGet, Local: 3}, // scratch: remapped to tmp
				}},
			},
		}},
	}

	getImportBody := &wasm.FunctionBody{
		Entry: &wasm.Block{Instrs: []wasm.Instr{
			{Op: wasm.OpI32Const, I32: 3393},
		}},
	}

	m := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{placeholder},
		FunctionSection: []wasm.Index{0, 0, 0, 0, 0},
		CodeSection: []*wasm.Code{
			{Body: wasm.EncodeFunctionBody(sampleBody)},
			{Body: wasm.EncodeFunctionBody(getImportBody)},
			{Locals: []wasm.LocalGroup{{Count: 1, Type: i32}}, Body: []byte{byte(wasm.OpI32Const), 0, byte(wasm.OpEnd)}}, // cabi_realloc
			{Body: []byte{byte(wasm.OpLocalGet), 0, byte(wasm.OpI32WrapI64), byte(wasm.OpEnd)}},                         // coreabi_from_bigint64
			{Body: []byte{byte(wasm.OpLocalGet), 0, byte(wasm.OpEnd)}},                                                  // coreabi_to_bigint64
		},
		ExportSection: []*wasm.Export{
			{Name: "coreabi_sample_i32", Type: wasm.ExternTypeFunc, Index: 0},
			{Name: "coreabi_get_import", Type: wasm.ExternTypeFunc, Index: 1},
			{Name: "cabi_realloc", Type: wasm.ExternTypeFunc, Index: 2},
			{Name: "coreabi_from_bigint64", Type: wasm.ExternTypeFunc, Index: 3},
			{Name: "coreabi_to_bigint64", Type: wasm.ExternTypeFunc, Index: 4},
		},
		TableSection: []*wasm.TableType{{ElemType: 0x70, Limits: wasm.Limits{Min: 3393}}},
		ElementSection: []*wasm.ElementSegment{
			{TableIndex: 0, Offset: wasm.ConstExpr{Bytes: []byte{0x41, 0x00, 0x0B}}, Members: make([]*wasm.Index, 3393)},
		},
	}
	_ = i64
	return m
}

func i64Ptr(v api.NumericType) *api.NumericType { return &v }

func TestSynthesizeSimpleImportNoRet(t *testing.T) {
	m := testModule()
	imports := []api.ImportDecl{
		{Module: "host", Name: "log", Sig: api.AbiSignature{Params: []api.NumericType{api.I32}}},
	}
	err := Synthesize(m, imports, false)
	require.NoError(t, err)

	// the trampoline was appended as a new local function and wired into
	// the table.
	require.Len(t, m.CodeSection, 6)
	require.Equal(t, uint32(3394), m.TableSection[0].Limits.Min)
	require.NotNil(t, m.ElementSection[0].Members[3393])

	// the new import now exists.
	_, ok := m.FindImportFunc("host", "log")
	require.True(t, ok)

	// template exports are gone; cabi_realloc stays exported.
	for _, name := range append([]string{"coreabi_get_import", "coreabi_from_bigint64", "coreabi_to_bigint64"}, coreabiSampleNames...) {
		_, ok := m.FindExport(name)
		require.False(t, ok, "%s should have been deleted", name)
	}
	_, ok = m.FindExport("cabi_realloc")
	require.True(t, ok, "cabi_realloc should remain exported")
}

func TestSynthesizeRetptrImport(t *testing.T) {
	m := testModule()
	size := int32(16)
	imports := []api.ImportDecl{
		{
			Module: "host", Name: "get-config",
			Sig:             api.AbiSignature{Params: []api.NumericType{api.I32}, Retptr: true},
			RetptrAllocSize: &size,
		},
	}
	err := Synthesize(m, imports, false)
	require.NoError(t, err)
	require.Len(t, m.CodeSection, 6)
}

func TestSynthesizeI64ReturnImport(t *testing.T) {
	m := testModule()
	imports := []api.ImportDecl{
		{Module: "host", Name: "now", Sig: api.AbiSignature{Ret: i64Ptr(api.I64)}},
	}
	err := Synthesize(m, imports, false)
	require.NoError(t, err)
	require.Len(t, m.CodeSection, 6)
}

func TestSynthesizeMissingTemplateExportErrors(t *testing.T) {
	m := testModule()
	m.DeleteExport("cabi_realloc")
	err := Synthesize(m, []api.ImportDecl{{Module: "host", Name: "log"}}, false)
	require.Error(t, err)
}

func TestSynthesizeDebugFallbackWhenPreludeMissing(t *testing.T) {
	m := testModule()
	// corrupt coreabi_sample_i32's body so its entry has no leading block.
	m.CodeSection[0].Body = []byte{byte(wasm.OpI32Const), 0, byte(wasm.OpEnd)}

	err := Synthesize(m, []api.ImportDecl{{Module: "host", Name: "log"}}, true)
	require.NoError(t, err)

	// nothing was touched: no new import, table unchanged, templates still exported.
	_, ok := m.FindImportFunc("host", "log")
	require.False(t, ok)
	require.Equal(t, uint32(3393), m.TableSection[0].Limits.Min)
	_, ok = m.FindExport("coreabi_get_import")
	require.True(t, ok)
}
