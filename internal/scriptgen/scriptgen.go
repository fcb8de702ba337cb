// Package scriptgen implements the Script Generator (spec §4.6): it emits
// the companion JavaScript initializer that SpiderMonkey loads alongside
// the spliced core module. The script binds the engine's memory and
// realloc export, wraps every host import with a lifting/lowering
// trampoline, and destructures/validates every export the user's source
// module must provide.
package scriptgen

import (
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/dop251/goja"
	"github.com/pkg/errors"

	"github.com/bytecodealliance/spidermonkey-embedding-splicer/api"
	"github.com/bytecodealliance/spidermonkey-embedding-splicer/internal/resolver"
	"github.com/bytecodealliance/spidermonkey-embedding-splicer/splicererr"
)

// Generate renders the companion script for a component whose user source
// module is imported under sourceName (spec §4.6 step 1), then parses the
// result with goja as a build-time self-check.
func Generate(imports []api.ImportDecl, exports []api.ExportDecl, sourceName string) (string, error) {
	importViews := make([]importView, len(imports))
	for i, decl := range imports {
		importViews[i] = newImportView(decl)
	}

	exportGroups, err := groupExports(exports)
	if err != nil {
		return "", err
	}

	data := struct {
		SourceName  string
		Intrinsics  string
		Imports     []importView
		ExportDecls bool
		Groups      []exportGroup
	}{
		SourceName:  sourceName,
		Intrinsics:  intrinsicsSnippet,
		Imports:     importViews,
		ExportDecls: len(exports) > 0,
		Groups:      exportGroups,
	}

	var out strings.Builder
	if err := scriptTemplate.Execute(&out, data); err != nil {
		return "", errors.Wrap(err, "rendering script template")
	}
	script := out.String()

	if _, err := goja.Compile(sourceName+"_bindings.js", script, false); err != nil {
		return "", errors.Wrapf(splicererr.ModelCorrupt, "generated script failed to parse: %v", err)
	}
	return script, nil
}

// importView is the per-import render model: the binding name, its
// argument list, and the coercions its wrapper applies going in and out.
type importView struct {
	BindingName string
	Args        []string
	RetCoerce   string // name of the JS function applied to the result, or "" for none
}

func newImportView(decl api.ImportDecl) importView {
	name := bindingName(decl.Name, decl.Module)
	args := make([]string, len(decl.Sig.Params))
	if decl.Sig.Paramptr {
		args = []string{"arg0"}
	} else {
		for i := range decl.Sig.Params {
			args[i] = argName(i)
		}
	}
	return importView{
		BindingName: name,
		Args:        args,
		RetCoerce:   retCoercion(decl.Sig),
	}
}

// exportGroup is either one bare export (InterfaceName == "") or a set of
// exports sharing an interface namespace, rendered as one destructured
// object (spec §4.6 step 5).
type exportGroup struct {
	InterfaceName string // "" for the bare-function group
	Alias         string // populated only when an alias was installed
	Items         []exportItem
}

type exportItem struct {
	ExportName  string // the field read off the source module or interface object
	BindingName string
	Args        []string
	RetCoerce   string
}

// groupExports mirrors EsmBindgen::render_export_imports: bare exports
// each get their own destructuring statement, interface exports are
// grouped and destructured together, and an interface alias is installed
// when it does not collide with a bare export name or another alias.
func groupExports(exports []api.ExportDecl) ([]exportGroup, error) {
	order := make([]string, 0, len(exports))
	byIface := make(map[string][]api.ExportDecl)
	for _, decl := range exports {
		key := decl.InterfaceName
		if _, seen := byIface[key]; !seen {
			order = append(order, key)
		}
		byIface[key] = append(byIface[key], decl)
	}
	sort.Strings(order)

	bareNames := make(map[string]struct{})
	for _, decl := range byIface[""] {
		bareNames[lowerCamel(decl.Name)] = struct{}{}
	}

	installedAliases := make(map[string]struct{})
	groups := make([]exportGroup, 0, len(order))
	for _, key := range order {
		decls := byIface[key]
		if key == "" {
			for _, decl := range decls {
				groups = append(groups, exportGroup{Items: []exportItem{newExportItem(decl)}})
			}
			continue
		}

		alias := interfaceAlias(key)
		if _, collides := bareNames[alias]; collides {
			alias = ""
		}
		if _, collides := installedAliases[alias]; alias != "" && collides {
			alias = ""
		}
		if alias != "" {
			installedAliases[alias] = struct{}{}
		}

		items := make([]exportItem, len(decls))
		for i, decl := range decls {
			items[i] = newExportItem(decl)
		}
		groups = append(groups, exportGroup{InterfaceName: key, Alias: alias, Items: items})
	}

	seen := make(map[string]struct{})
	for _, g := range groups {
		for _, it := range g.Items {
			if _, dup := seen[it.BindingName]; dup {
				return nil, errors.Wrapf(splicererr.ModelCorrupt, "duplicate export binding name %q", it.BindingName)
			}
			seen[it.BindingName] = struct{}{}
		}
	}
	return groups, nil
}

// newExportItem builds one destructuring/call target. exportName is the
// camelCase property read off the source module or interface object --
// JS source code convention, distinct from the kebab-case name the
// resulting wasm component export itself carries (spec §4.5).
func newExportItem(decl api.ExportDecl) exportItem {
	exportName := lowerCamel(decl.Name)
	name := bindingName(decl.Name, decl.InterfaceName)
	var args []string
	if decl.Sig.Paramptr {
		args = []string{"arg0"}
	} else {
		args = make([]string, len(decl.Sig.Params))
		for i := range decl.Sig.Params {
			args[i] = argName(i)
		}
	}
	return exportItem{
		ExportName:  exportName,
		BindingName: name,
		Args:        args,
		RetCoerce:   retCoercion(decl.Sig),
	}
}

func argName(i int) string {
	return "arg" + strconv.Itoa(i)
}

// retCoercion returns the name of the JS function the generated wrapper
// applies to a direct result value so it round-trips through the JS/wasm
// numeric boundary correctly: f32 results must be rounded to float32
// precision ("$f32"), i64 results must be BigInt ("BigInt"). i32 and f64
// results, retptr results and void results get "" (no coercion): retptr
// results are raw i32 pointers and this splicer never interprets what
// they point to.
func retCoercion(sig api.AbiSignature) string {
	if !sig.HasRet() {
		return ""
	}
	switch *sig.Ret {
	case api.F32:
		return "$f32"
	case api.I64:
		return "BigInt"
	default:
		return ""
	}
}

// bindingName implements spec §4.6's binding name rule: interface-scoped
// names get `<alias>$<lowerCamel(name)>`, bare names are just
// lowerCamel(name). ifaceKey is "" or resolver.RootModuleName for a bare
// name, any other value for an interface id.
func bindingName(name, ifaceKey string) string {
	if ifaceKey == "" || ifaceKey == resolver.RootModuleName {
		return lowerCamel(name)
	}
	return interfaceAlias(ifaceKey) + "$" + lowerCamel(name)
}

// interfaceAlias implements spec §4.6's interface alias rule: take the
// substring after the last '/', split off any "@version" suffix,
// lower-camel-case the head, and if a version was present re-append
// "_<version with dots replaced by underscores>". An id with no '/' at
// all (never produced by this resolver, but handled the same way the
// original treats a bare name) is used whole as the head.
func interfaceAlias(ifaceID string) string {
	name := ifaceID
	if idx := strings.LastIndex(ifaceID, "/"); idx >= 0 {
		name = ifaceID[idx+1:]
	}
	head, version, hasVersion := name, "", false
	if idx := strings.LastIndex(name, "@"); idx >= 0 {
		head, version, hasVersion = name[:idx], name[idx+1:], true
	}
	alias := lowerCamel(head)
	if hasVersion {
		alias += "_" + strings.ReplaceAll(version, ".", "_")
	}
	return alias
}

// lowerCamel converts a WIT identifier to lowerCamelCase, splitting on
// '-', '/', and ':' word boundaries ("get-random-bytes" ->
// "getRandomBytes", "wasi:io/streams" -> "wasiIoStreams"). No dependency
// in this module's stack offers identifier case conversion; this is a
// small, self-contained string transform, not a concern worth a library
// (see DESIGN.md).
func lowerCamel(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '-' || r == '/' || r == ':'
	})
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 {
			b.WriteString(p)
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

const intrinsicsSnippet = `
function $f32(v) {
    return Math.fround(v);
}

const $utf8Decoder = new TextDecoder('utf-8');
const $utf8Encoder = new TextEncoder();

function $utf8Decode(ptr, len) {
    return $utf8Decoder.decode(new Uint8Array($memory.buffer, ptr, len));
}

function $utf8Encode(str) {
    const bytes = $utf8Encoder.encode(str);
    const ptr = $realloc(0, 0, 1, bytes.length);
    new Uint8Array($memory.buffer, ptr, bytes.length).set(bytes);
    return [ptr, bytes.length];
}
`

var scriptTemplate = template.Must(template.New("bindings.js").Parse(`
import * as $source_mod from '{{.SourceName}}';

let $memory, $realloc{{range .Imports}}, $import_{{.BindingName}}{{end}};
export function $initBindings (_memory, _realloc{{range .Imports}}, _{{.BindingName}}{{end}}) {
    $memory = _memory;
    $realloc = _realloc;{{range .Imports}}
    $import_{{.BindingName}} = _{{.BindingName}};{{end}}
}
{{if .ExportDecls}}
class BindingsError extends Error {
    constructor (path, type, helpContext, help) {
        super(` + "`" + `"{{.SourceName}}" source does not export a "${path}" ${type} as expected by the world.${
            help ? ` + "`" + `\n\n  Try defining it${helpContext}:\n\n${'    ' + help.split('\n').map(ln => ` + "`" + `  ${ln}` + "`" + `).join('\n')}\n` + "`" + ` : ''
        }` + "`" + `);
    }
}
function getInterfaceExport (mod, exportNameOrAlias, exportId) {
    if (typeof mod[exportId] === 'object')
        return mod[exportId];
    if (exportNameOrAlias && typeof mod[exportNameOrAlias] === 'object')
        return mod[exportNameOrAlias];
    if (!exportNameOrAlias)
        throw new BindingsError(exportId, 'interface', ' by its qualified interface name', ` + "`" + `const obj = {};\n\nexport { obj as '${exportId}' }\n` + "`" + `);
    else
        throw new BindingsError(exportNameOrAlias, 'interface', exportId && exportNameOrAlias ? ' by its alias' : ' by name', ` + "`" + `export const ${exportNameOrAlias} = {};` + "`" + `);
}
function verifyInterfaceFn (fn, exportName, ifaceProp, interfaceExportAlias) {
    if (typeof fn !== 'function') {
        if (!interfaceExportAlias)
            throw new BindingsError(exportName, ` + "`" + `${ifaceProp} function` + "`" + `, ' on the exported interface object', ` + "`" + `const obj = {\n\t${ifaceProp} () {\n\n}\n};\n\nexport { obj as '${exportName}' }\n` + "`" + `);
        else
            throw new BindingsError(exportName, ` + "`" + `${ifaceProp} function` + "`" + `, ` + "`" + ` on the interface alias "${interfaceExportAlias}"` + "`" + `, ` + "`" + `export const ${interfaceExportAlias} = {\n\t${ifaceProp} () {\n\n}\n};` + "`" + `);
    }
}
{{end}}
{{range .Groups}}{{$g := .}}{{if eq .InterfaceName ""}}{{range .Items}}
const {{.BindingName}} = $source_mod.{{.ExportName}};
if (typeof {{.BindingName}} !== 'function')
    throw new BindingsError('{{.ExportName}}', 'function', '', ` + "`" + `export function {{.ExportName}} () {};\n` + "`" + `);
{{end}}{{else}}
const { {{range $i, $it := .Items}}{{if $i}}, {{end}}{{$it.ExportName}}: {{$it.BindingName}}{{end}} } = getInterfaceExport($source_mod, {{if $g.Alias}}'{{$g.Alias}}'{{else}}null{{end}}, '{{$g.InterfaceName}}');
{{range .Items}}verifyInterfaceFn({{.BindingName}}, '{{$g.InterfaceName}}', '{{.ExportName}}', {{if $g.Alias}}'{{$g.Alias}}'{{else}}null{{end}});
{{end}}{{end}}{{end}}
{{.Intrinsics}}
{{range .Imports}}
export function import_{{.BindingName}}({{range $i, $a := .Args}}{{if $i}}, {{end}}{{$a}}{{end}}) {
    const $ret = $import_{{.BindingName}}({{range $i, $a := .Args}}{{if $i}}, {{end}}{{$a}}{{end}});
    {{if .RetCoerce}}return {{.RetCoerce}}($ret);{{else}}return $ret;{{end}}
}
{{end}}
{{range .Groups}}{{range .Items}}
export function export_{{.BindingName}}({{range $i, $a := .Args}}{{if $i}}, {{end}}{{$a}}{{end}}) {
    const $ret = {{.BindingName}}({{range $i, $a := .Args}}{{if $i}}, {{end}}{{$a}}{{end}});
    {{if .RetCoerce}}return {{.RetCoerce}}($ret);{{else}}return $ret;{{end}}
}
{{end}}{{end}}
`))
