package main

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/bytecodealliance/spidermonkey-embedding-splicer/internal/wasm"
	"github.com/bytecodealliance/spidermonkey-embedding-splicer/internal/wasm/binary"
)

// bareEngine is a module with no WASI imports and no template exports --
// enough to exercise stub-wasi's file-handling path without needing the
// full engine contract.
func bareEngine() []byte {
	return binary.EncodeModule(&wasm.Module{})
}

// templatedEngine mirrors splicer_test.go's fixture: every template
// export the pipeline needs, a memory, and a main table.
func templatedEngine() []byte {
	i32 := wasm.ValueTypeI32
	placeholder := &wasm.FunctionType{Results: []wasm.ValueType{i32}}
	trivial := []byte{byte(wasm.OpI32Const), 0, byte(wasm.OpEnd)}
	sampleBody := &wasm.FunctionBody{
		Entry: &wasm.Block{Instrs: []wasm.Instr{
			{Op: wasm.OpBlock, Then: &wasm.Block{ID: 1, Instrs: []wasm.Instr{
				{Op: wasm.OpLocalGet, Local: 2},
				{Op: wasm.OpLocalTee, Local: 3},
				{Op: wasm.OpBrIf, Label: 0},
				{Op: wasm.OpLocalGet, Local: 3},
			}}},
		}},
	}
	getImportBody := &wasm.FunctionBody{
		Entry: &wasm.Block{Instrs: []wasm.Instr{{Op: wasm.OpI32Const, I32: 3393}}},
	}

	m := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{placeholder},
		FunctionSection: []wasm.Index{0, 0, 0, 0, 0, 0, 0},
		CodeSection: []*wasm.Code{
			{Body: wasm.EncodeFunctionBody(sampleBody)},
			{Body: wasm.EncodeFunctionBody(getImportBody)},
			{Body: trivial}, // cabi_realloc
			{Body: trivial}, // coreabi_from_bigint64
			{Body: trivial}, // coreabi_to_bigint64
			{Body: trivial}, // call
			{Body: trivial}, // post_call
		},
		ExportSection: []*wasm.Export{
			{Name: "coreabi_sample_i32", Type: wasm.ExternTypeFunc, Index: 0},
			{Name: "coreabi_get_import", Type: wasm.ExternTypeFunc, Index: 1},
			{Name: "cabi_realloc", Type: wasm.ExternTypeFunc, Index: 2},
			{Name: "coreabi_from_bigint64", Type: wasm.ExternTypeFunc, Index: 3},
			{Name: "coreabi_to_bigint64", Type: wasm.ExternTypeFunc, Index: 4},
			{Name: "call", Type: wasm.ExternTypeFunc, Index: 5},
			{Name: "post_call", Type: wasm.ExternTypeFunc, Index: 6},
		},
		MemorySection: []*wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
		TableSection:  []*wasm.TableType{{ElemType: 0x70, Limits: wasm.Limits{Min: 3393}}},
		ElementSection: []*wasm.ElementSegment{
			{TableIndex: 0, Offset: wasm.ConstExpr{Bytes: []byte{0x41, 0x00, 0x0B}}, Members: make([]*wasm.Index, 3393)},
		},
	}
	return binary.EncodeModule(m)
}

func TestStubWasiCmdWritesOutputFile(t *testing.T) {
	appFs = afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(appFs, "in.wasm", bareEngine(), 0o644))

	cmd := newRootCmd()
	cmd.SetArgs([]string{"stub-wasi", "--input", "in.wasm", "--output", "out.wasm"})
	require.NoError(t, cmd.Execute())

	exists, err := afero.Exists(appFs, "out.wasm")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestStubWasiCmdMissingInputErrors(t *testing.T) {
	appFs = afero.NewMemMapFs()

	cmd := newRootCmd()
	cmd.SetArgs([]string{"stub-wasi", "--input", "missing.wasm", "--output", "out.wasm"})
	require.Error(t, cmd.Execute())
}

func TestSpliceBindingsCmdWritesComponentAndScript(t *testing.T) {
	appFs = afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(appFs, "engine.wasm", templatedEngine(), 0o644))

	cmd := newRootCmd()
	cmd.SetArgs([]string{"splice-bindings", "--input", "engine.wasm", "--out-dir", "out"})
	require.NoError(t, cmd.Execute())

	wasmExists, err := afero.Exists(appFs, "out/component.wasm")
	require.NoError(t, err)
	require.True(t, wasmExists)

	script, err := afero.ReadFile(appFs, "out/initializer.js")
	require.NoError(t, err)
	require.Contains(t, string(script), "$initBindings")
}

// emptyWorldDoc is a minimal resolved-WIT-JSON document with one world
// that has no imports or exports -- the only shape loadWorld's plain
// encoding/json decode can populate, since wit.World.Imports/Exports are
// keyed on the WorldItem interface and have no concrete type to decode
// into without the upstream tool's own decoder.
const emptyWorldDoc = `{"Worlds":[{"Name":"demo"}]}`

func TestSpliceBindingsCmdUsesWitPathAndWorldName(t *testing.T) {
	appFs = afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(appFs, "engine.wasm", templatedEngine(), 0o644))
	require.NoError(t, afero.WriteFile(appFs, "world.json", []byte(emptyWorldDoc), 0o644))

	cmd := newRootCmd()
	cmd.SetArgs([]string{
		"splice-bindings", "--input", "engine.wasm", "--out-dir", "out",
		"--wit-path", "world.json", "--world-name", "demo",
	})
	require.NoError(t, cmd.Execute())

	wasmExists, err := afero.Exists(appFs, "out/component.wasm")
	require.NoError(t, err)
	require.True(t, wasmExists)
}

func TestSpliceBindingsCmdWitPathUnknownWorldNameErrors(t *testing.T) {
	appFs = afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(appFs, "engine.wasm", templatedEngine(), 0o644))
	require.NoError(t, afero.WriteFile(appFs, "world.json", []byte(emptyWorldDoc), 0o644))

	cmd := newRootCmd()
	cmd.SetArgs([]string{
		"splice-bindings", "--input", "engine.wasm", "--out-dir", "out",
		"--wit-path", "world.json", "--world-name", "nope",
	})
	require.Error(t, cmd.Execute())
}

func TestSpliceBindingsCmdRequiresInputAndOutDir(t *testing.T) {
	appFs = afero.NewMemMapFs()

	cmd := newRootCmd()
	cmd.SetArgs([]string{"splice-bindings"})
	require.Error(t, cmd.Execute())
}

func TestFeaturesFlagAcceptsCommaSeparatedList(t *testing.T) {
	v := newFeaturesValue()
	require.NoError(t, v.Set("clocks,random"))
	require.Len(t, v.set, 2)
}

func TestFeaturesFlagRejectsUnknownFeature(t *testing.T) {
	v := newFeaturesValue()
	require.Error(t, v.Set("bogus"))
}
