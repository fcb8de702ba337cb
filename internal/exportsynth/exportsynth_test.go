package exportsynth

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bytecodealliance/spidermonkey-embedding-splicer/api"
	"github.com/bytecodealliance/spidermonkey-embedding-splicer/internal/wasm"
)

func testModule() *wasm.Module {
	i32 := wasm.ValueTypeI32
	placeholder := &wasm.FunctionType{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{i32}}
	noop := &wasm.Code{Body: []byte{byte(wasm.OpI32Const), 0, byte(wasm.OpEnd)}}

	return &wasm.Module{
		TypeSection:     []*wasm.FunctionType{placeholder},
		FunctionSection: []wasm.Index{0, 0, 0},
		CodeSection:     []*wasm.Code{noop, noop, noop},
		ExportSection: []*wasm.Export{
			{Name: "call", Type: wasm.ExternTypeFunc, Index: 0},
			{Name: "post_call", Type: wasm.ExternTypeFunc, Index: 1},
			{Name: "cabi_realloc", Type: wasm.ExternTypeFunc, Index: 2},
		},
	}
}

func numPtr(t api.NumericType) *api.NumericType { return &t }

func TestSynthesizeNoParamsNoRet(t *testing.T) {
	m := testModule()
	err := Synthesize(m, []api.ExportDecl{{Name: "run"}})
	require.NoError(t, err)

	_, ok := m.FindExportFunc("run")
	require.True(t, ok)
	_, ok = m.FindExportFunc("cabi_post_run")
	require.True(t, ok)
	_, ok = m.FindExportFunc("call")
	require.False(t, ok)
	_, ok = m.FindExportFunc("post_call")
	require.False(t, ok)
	require.Len(t, m.CodeSection, 5)
}

func TestSynthesizePackedParamsWithScalarReturn(t *testing.T) {
	m := testModule()
	err := Synthesize(m, []api.ExportDecl{
		{Name: "add", Sig: api.AbiSignature{
			Params: []api.NumericType{api.I32, api.I64, api.F32},
			Ret:    numPtr(api.I32),
		}},
	})
	require.NoError(t, err)

	fid, ok := m.FindExportFunc("add")
	require.True(t, ok)
	code, err := m.Code(fid)
	require.NoError(t, err)
	body, err := wasm.DecodeFunctionBody(code.Body)
	require.NoError(t, err)
	require.NotEmpty(t, body.Entry.Instrs)
}

func TestSynthesizeParamptrExport(t *testing.T) {
	m := testModule()
	err := Synthesize(m, []api.ExportDecl{
		{Name: "write-record", Sig: api.AbiSignature{
			Params:   []api.NumericType{api.I32},
			Paramptr: true,
		}},
	})
	require.NoError(t, err)
	_, ok := m.FindExportFunc("write-record")
	require.True(t, ok)
}

func TestSynthesizeRetptrExport(t *testing.T) {
	m := testModule()
	err := Synthesize(m, []api.ExportDecl{
		{Name: "big-result", Sig: api.AbiSignature{Retptr: true}},
	})
	require.NoError(t, err)
	_, ok := m.FindExportFunc("big-result")
	require.True(t, ok)
	_, ok = m.FindExportFunc("cabi_post_big-result")
	require.True(t, ok)
}

func TestPackedLayoutNaturalAlignment(t *testing.T) {
	offsets, size := packedLayout([]api.NumericType{api.I32, api.I64, api.F32})
	require.Equal(t, []uint32{0, 8, 16}, offsets)
	require.Equal(t, uint32(20), size)
}

func TestSynthesizeMissingCallExportErrors(t *testing.T) {
	m := testModule()
	m.DeleteExport("call")
	err := Synthesize(m, []api.ExportDecl{{Name: "run"}})
	require.Error(t, err)
}
