package scriptgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bytecodealliance/spidermonkey-embedding-splicer/api"
	"github.com/bytecodealliance/spidermonkey-embedding-splicer/internal/resolver"
)

func numPtr(t api.NumericType) *api.NumericType { return &t }

func TestGenerateBareImportAndExport(t *testing.T) {
	imports := []api.ImportDecl{
		{Module: resolver.RootModuleName, Name: "log-message", Sig: api.AbiSignature{Params: []api.NumericType{api.I32}}},
	}
	exports := []api.ExportDecl{
		{Name: "run"},
	}

	script, err := Generate(imports, exports, "./source.js")
	require.NoError(t, err)
	require.Contains(t, script, "$import_logMessage")
	require.Contains(t, script, "export function import_logMessage(arg0)")
	require.Contains(t, script, "const run = $source_mod.run;")
	require.Contains(t, script, "export function export_run()")
}

func TestGenerateInterfaceScopedBindings(t *testing.T) {
	imports := []api.ImportDecl{
		{Module: "wasi:io/streams@0.2.0", Name: "write", Sig: api.AbiSignature{Params: []api.NumericType{api.I32, api.I32}, Ret: numPtr(api.I32)}},
	}
	exports := []api.ExportDecl{
		{Name: "read", InterfaceName: "wasi:io/streams@0.2.0", Sig: api.AbiSignature{Ret: numPtr(api.I64)}},
	}

	script, err := Generate(imports, exports, "./source.js")
	require.NoError(t, err)
	require.Contains(t, script, "$import_streams_0_2_0$write")
	require.Contains(t, script, "getInterfaceExport($source_mod, 'streams_0_2_0', 'wasi:io/streams@0.2.0')")
	require.Contains(t, script, "read: streams_0_2_0$read")
	require.Contains(t, script, "export function export_streams_0_2_0$read()")
	require.Contains(t, script, "return BigInt($ret);")
}

func TestGenerateInterfaceAliasMatchesOriginalImplementation(t *testing.T) {
	// interface_name_from_string in bindgen.rs takes only the substring
	// after the last '/' before camel-casing, so "test:demo/x@1.2.3"
	// aliases to "x_1_2_3", not a camel-casing of the whole qualified id.
	exports := []api.ExportDecl{
		{Name: "y", InterfaceName: "test:demo/x@1.2.3"},
	}
	script, err := Generate(nil, exports, "./source.js")
	require.NoError(t, err)
	require.Contains(t, script, "getInterfaceExport($source_mod, 'x_1_2_3', 'test:demo/x@1.2.3')")
}

func TestGenerateAliasCollisionWithBareExportIsSuppressed(t *testing.T) {
	exports := []api.ExportDecl{
		{Name: "streams"},
		{Name: "read", InterfaceName: "streams"},
	}

	script, err := Generate(nil, exports, "./source.js")
	require.NoError(t, err)
	require.Contains(t, script, "getInterfaceExport($source_mod, null, 'streams')")
}

func TestGenerateParamptrArgumentIsSinglePointer(t *testing.T) {
	exports := []api.ExportDecl{
		{Name: "write-record", Sig: api.AbiSignature{Params: []api.NumericType{api.I32}, Paramptr: true}},
	}
	script, err := Generate(nil, exports, "./source.js")
	require.NoError(t, err)
	require.Contains(t, script, "export function export_writeRecord(arg0)")
}

func TestGenerateF32ResultIsRounded(t *testing.T) {
	imports := []api.ImportDecl{
		{Module: resolver.RootModuleName, Name: "scale", Sig: api.AbiSignature{Ret: numPtr(api.F32)}},
	}
	script, err := Generate(imports, nil, "./source.js")
	require.NoError(t, err)
	require.Contains(t, script, "return $f32($ret);")
}

func TestGenerateProducesParseableScript(t *testing.T) {
	imports := []api.ImportDecl{
		{Module: resolver.RootModuleName, Name: "get-random-bytes", Sig: api.AbiSignature{Ret: numPtr(api.I32)}},
	}
	exports := []api.ExportDecl{
		{Name: "init"},
		{Name: "handle", InterfaceName: "wasi:http/incoming-handler@0.2.0"},
	}
	script, err := Generate(imports, exports, "./my-app.js")
	require.NoError(t, err)
	require.True(t, strings.Contains(script, "$initBindings"))
}

func TestGenerateDuplicateBindingNameErrors(t *testing.T) {
	exports := []api.ExportDecl{
		{Name: "x", InterfaceName: "a:foo/bar"},
		{Name: "x", InterfaceName: "a-foo/bar"},
	}
	_, err := Generate(nil, exports, "./source.js")
	require.Error(t, err)
}
