package waistub

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bytecodealliance/spidermonkey-embedding-splicer/api"
	"github.com/bytecodealliance/spidermonkey-embedding-splicer/internal/wasm"
)

func testModule() *wasm.Module {
	i32 := wasm.ValueTypeI32
	i64 := wasm.ValueTypeI64
	m := &wasm.Module{
		TypeSection: []*wasm.FunctionType{
			{Params: nil, Results: []wasm.ValueType{i32}},                       // 0: random_get-ish placeholder
			{Params: []wasm.ValueType{i32, i64, i32}, Results: []wasm.ValueType{i32}}, // 1: clock_time_get
			{Params: []wasm.ValueType{i32, i32}, Results: []wasm.ValueType{i32}},      // 2: fd_fdstat_get
			{Params: []wasm.ValueType{i32, i32, i32, i32}, Results: []wasm.ValueType{i32}}, // 3: fd_write
		},
		ImportSection: []*wasm.Import{
			{Module: moduleName, Name: nameRandomGet, Type: wasm.ExternTypeFunc, DescFunc: 0},
			{Module: moduleName, Name: nameClockTimeGet, Type: wasm.ExternTypeFunc, DescFunc: 1},
			{Module: moduleName, Name: nameFdFdstatGet, Type: wasm.ExternTypeFunc, DescFunc: 2},
			{Module: moduleName, Name: nameFdWrite, Type: wasm.ExternTypeFunc, DescFunc: 3},
		},
		TableSection: []*wasm.TableType{{ElemType: 0x70, Limits: wasm.Limits{Min: 0}}},
		ElementSection: []*wasm.ElementSegment{
			{TableIndex: 0, Offset: wasm.ConstExpr{Bytes: []byte{0x41, 0x00, 0x0B}}},
		},
	}
	return m
}

func TestStubDefaultFeaturesStubsEverything(t *testing.T) {
	m := testModule()
	err := Stub(m, api.NewFeatureSet(), 1234)
	require.NoError(t, err)

	for _, name := range []string{nameRandomGet, nameClockTimeGet, nameFdFdstatGet, nameFdWrite} {
		_, ok := m.FindImportFunc(moduleName, name)
		require.False(t, ok, "%s should no longer be imported", name)
	}
	require.Len(t, m.CodeSection, 4)
}

func TestStubClocksFeatureLeavesClockTimeGetImported(t *testing.T) {
	m := testModule()
	err := Stub(m, api.NewFeatureSet(api.Clocks), 1234)
	require.NoError(t, err)

	_, ok := m.FindImportFunc(moduleName, nameClockTimeGet)
	require.True(t, ok, "clock_time_get should remain imported under the Clocks feature")

	_, ok = m.FindImportFunc(moduleName, nameRandomGet)
	require.False(t, ok, "random_get is always trapped regardless of features")
}

func TestStubStdioFeatureLeavesFdWriteImported(t *testing.T) {
	m := testModule()
	err := Stub(m, api.NewFeatureSet(api.Stdio), 1234)
	require.NoError(t, err)

	_, ok := m.FindImportFunc(moduleName, nameFdWrite)
	require.True(t, ok)
	_, ok = m.FindImportFunc(moduleName, nameFdFdstatGet)
	require.True(t, ok)
}
