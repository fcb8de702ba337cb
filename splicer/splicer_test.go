package splicer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bytecodealliance/spidermonkey-embedding-splicer/api"
	"github.com/bytecodealliance/spidermonkey-embedding-splicer/internal/wasm"
	"github.com/bytecodealliance/spidermonkey-embedding-splicer/internal/wasm/binary"
)

// testEngine builds a minimal but complete engine module satisfying the
// contract spec §6 demands of the splicer's input: every template export
// the Import/Export Synthesizers require, a linear memory, a main table,
// one WASI import to stub, and one overridden world export to drop.
func testEngine() *wasm.Module {
	i32 := wasm.ValueTypeI32
	placeholder := &wasm.FunctionType{Results: []wasm.ValueType{i32}}
	wasiRandomGet := &wasm.FunctionType{Params: []wasm.ValueType{i32, i32}, Results: []wasm.ValueType{i32}}
	runFn := &wasm.FunctionType{}

	sampleBody := &wasm.FunctionBody{
		Entry: &wasm.Block{Instrs: []wasm.Instr{
			{
				Op: wasm.OpBlock,
				Then: &wasm.Block{ID: 1, Instrs: []wasm.Instr{
					{Op: wasm.OpLocalGet, Local: 2},
					{Op: wasm.OpLocalTee, Local: 3},
					{Op: wasm.OpBrIf, Label: 0},
					{Op: wasm.OpLocalGet, Local: 3},
				}},
			},
		}},
	}
	getImportBody := &wasm.FunctionBody{
		Entry: &wasm.Block{Instrs: []wasm.Instr{{Op: wasm.OpI32Const, I32: 3393}}},
	}
	trivial := []byte{byte(wasm.OpI32Const), 0, byte(wasm.OpEnd)}

	m := &wasm.Module{
		TypeSection: []*wasm.FunctionType{placeholder, wasiRandomGet, runFn},
		ImportSection: []*wasm.Import{
			{Module: "wasi_snapshot_preview1", Name: "random_get", Type: wasm.ExternTypeFunc, DescFunc: 1},
		},
		FunctionSection: []wasm.Index{0, 0, 0, 0, 0, 0, 0, 2},
		CodeSection: []*wasm.Code{
			{Body: wasm.EncodeFunctionBody(sampleBody)}, // 1: coreabi_sample_i32 (fid 1, after the one import)
			{Body: wasm.EncodeFunctionBody(getImportBody)},
			{Body: trivial}, // cabi_realloc
			{Body: trivial}, // coreabi_from_bigint64
			{Body: trivial}, // coreabi_to_bigint64
			{Body: trivial}, // call
			{Body: trivial}, // post_call
			{Body: trivial}, // wasi:cli/run's body
		},
		ExportSection: []*wasm.Export{
			{Name: "coreabi_sample_i32", Type: wasm.ExternTypeFunc, Index: 1},
			{Name: "coreabi_get_import", Type: wasm.ExternTypeFunc, Index: 2},
			{Name: "cabi_realloc", Type: wasm.ExternTypeFunc, Index: 3},
			{Name: "coreabi_from_bigint64", Type: wasm.ExternTypeFunc, Index: 4},
			{Name: "coreabi_to_bigint64", Type: wasm.ExternTypeFunc, Index: 5},
			{Name: "call", Type: wasm.ExternTypeFunc, Index: 6},
			{Name: "post_call", Type: wasm.ExternTypeFunc, Index: 7},
			{Name: "wasi:cli/run@0.2.0#run", Type: wasm.ExternTypeFunc, Index: 8},
		},
		MemorySection: []*wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
		TableSection:  []*wasm.TableType{{ElemType: 0x70, Limits: wasm.Limits{Min: 3393}}},
		ElementSection: []*wasm.ElementSegment{
			{TableIndex: 0, Offset: wasm.ConstExpr{Bytes: []byte{0x41, 0x00, 0x0B}}, Members: make([]*wasm.Index, 3393)},
		},
		CustomSections: []*wasm.CustomSection{
			{Name: "component-type:bindings", Data: []byte{0x01, 0x02}},
		},
	}
	return m
}

func TestSpliceEndToEnd(t *testing.T) {
	m := testEngine()
	engine := binary.EncodeModule(m)

	opts := Options{
		Imports: []api.ImportDecl{
			{Module: "host", Name: "log", Sig: api.AbiSignature{Params: []api.NumericType{api.I32}}},
		},
		Exports: []api.ExportDecl{
			{Name: "run"},
		},
		Features:   api.NewFeatureSet(),
		SourceName: "./source.js",
	}
	result, err := Splice(engine, opts)
	require.NoError(t, err)
	require.NotEmpty(t, result.Wasm)
	require.Contains(t, result.Script, "$initBindings")
	require.Contains(t, result.Script, "export_run")

	out, err := binary.DecodeModule(result.Wasm)
	require.NoError(t, err)

	_, ok := out.FindExport("wasi:cli/run@0.2.0#run")
	require.False(t, ok, "overridden export should be dropped")
	_, ok = out.FindExport("run")
	require.True(t, ok, "synthesized export should be present")
	_, ok = out.FindExport("cabi_post_run")
	require.True(t, ok)
	_, ok = out.FindExport("cabi_realloc")
	require.True(t, ok, "cabi_realloc survives per invariant 5")
	for _, name := range []string{"call", "post_call", "coreabi_get_import", "coreabi_sample_i32", "coreabi_from_bigint64", "coreabi_to_bigint64"} {
		_, ok := out.FindExport(name)
		require.False(t, ok, "%s should have been removed", name)
	}
	for _, cs := range out.CustomSections {
		require.NotEqual(t, "component-type:bindings", cs.Name)
	}
	_, ok = out.FindImportFunc("wasi_snapshot_preview1", "random_get")
	require.False(t, ok, "random_get should have been stubbed")
	_, ok = out.FindImportFunc("host", "log")
	require.True(t, ok, "the synthesized import should be present")
}

func TestStubWasiStandalone(t *testing.T) {
	m := testEngine()
	engine := binary.EncodeModule(m)

	out, err := StubWasi(engine, api.NewFeatureSet(), 42)
	require.NoError(t, err)

	decoded, err := binary.DecodeModule(out)
	require.NoError(t, err)
	_, ok := decoded.FindImportFunc("wasi_snapshot_preview1", "random_get")
	require.False(t, ok)

	// template exports are untouched by StubWasi alone.
	_, ok = decoded.FindExport("coreabi_get_import")
	require.True(t, ok)
}

func TestStubWasiIsIdempotent(t *testing.T) {
	m := testEngine()
	engine := binary.EncodeModule(m)

	once, err := StubWasi(engine, api.NewFeatureSet(), 42)
	require.NoError(t, err)

	twice, err := StubWasi(once, api.NewFeatureSet(), 42)
	require.NoError(t, err, "re-stubbing an already-stubbed module must be a no-op, not an error")
	require.Equal(t, once, twice)
}

func TestSpliceRejectsMalformedBinary(t *testing.T) {
	_, err := Splice([]byte{0x00, 0x01, 0x02}, Options{})
	require.Error(t, err)
}
