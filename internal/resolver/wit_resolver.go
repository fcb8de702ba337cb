package resolver

import (
	"sort"

	"github.com/bytecodealliance/wasm-tools-go/wit"

	"github.com/bytecodealliance/spidermonkey-embedding-splicer/api"
)

// WitResolver adapts an already-resolved *wit.Resolve/*wit.World pair (the
// upstream WIT parser's output, entirely out of this module's scope) into
// the splicer's flat ImportDecl/ExportDecl catalog.
//
// Only WIT's primitive numeric types, bool, and char flatten directly to
// a single NumericType; string, list, record, variant, and every other
// aggregate kind fall back to paramptr/retptr (spec.md §9's open
// question on record-layout generality is deliberately left unresolved
// here — a decl that needs more than natural-alignment scalar packing
// arrives pre-flattened from a fuller resolver implementation).
type WitResolver struct {
	World *wit.World
}

var _ Resolver = (*WitResolver)(nil)

// Resolve implements Resolver. Import and export declaration order is the
// lexical order of the WIT item name (direct function name, or
// "<interface-id>#<function-name>" for interface-scoped items) — the wit
// package's World.Imports/Exports are Go maps, so some deterministic
// order must be imposed, and the lexical order is the simplest one that
// does not depend on anything outside the World itself.
func (r *WitResolver) Resolve() ([]api.ImportDecl, []api.ExportDecl, error) {
	imports, err := r.imports()
	if err != nil {
		return nil, nil, err
	}
	exports, err := r.exports()
	if err != nil {
		return nil, nil, err
	}
	return imports, exports, nil
}

type namedFunc struct {
	sortKey       string
	moduleName    string // import module / "" for exports
	fieldName     string
	interfaceName string
	isInterface   bool
	fn            *wit.Function
}

func (r *WitResolver) collect(items map[string]wit.WorldItem) []namedFunc {
	var out []namedFunc
	for name, item := range items {
		switch v := item.(type) {
		case *wit.Function:
			out = append(out, namedFunc{
				sortKey:    name,
				moduleName: RootModuleName,
				fieldName:  v.Name,
				fn:         v,
			})
		case *wit.Interface:
			ifaceID := name
			if v.Name != nil {
				ifaceID = interfaceID(v, name)
			}
			for fname, fn := range v.Functions {
				out = append(out, namedFunc{
					sortKey:       ifaceID + "#" + fname,
					moduleName:    ifaceID,
					fieldName:     fn.Name,
					interfaceName: ifaceID,
					isInterface:   true,
					fn:            fn,
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].sortKey < out[j].sortKey })
	return out
}

func interfaceID(iface *wit.Interface, fallback string) string {
	if iface.Package != nil {
		pkg := iface.Package.Name.String()
		if iface.Name != nil {
			return pkg + "/" + *iface.Name
		}
	}
	return fallback
}

func (r *WitResolver) imports() ([]api.ImportDecl, error) {
	var out []api.ImportDecl
	for _, nf := range r.collect(r.World.Imports) {
		sig, err := functionSignature(nf.fn)
		if err != nil {
			return nil, err
		}
		if sig.Retptr {
			// a lowered import receives its result pointer as a trailing i32 param
			sig.Params = append(sig.Params, api.I32)
		}
		out = append(out, api.ImportDecl{
			Module: nf.moduleName,
			Name:   nf.fieldName,
			Sig:    sig,
		})
	}
	return out, nil
}

func (r *WitResolver) exports() ([]api.ExportDecl, error) {
	var out []api.ExportDecl
	for _, nf := range r.collect(r.World.Exports) {
		sig, err := functionSignature(nf.fn)
		if err != nil {
			return nil, err
		}
		out = append(out, api.ExportDecl{
			Name:          nf.fieldName,
			Sig:           sig,
			InterfaceName: nf.interfaceName,
		})
	}
	return out, nil
}

// functionSignature lowers a WIT function to the splicer's AbiSignature,
// falling back to paramptr/retptr whenever a parameter or result is not a
// plain numeric/bool/char scalar.
func functionSignature(fn *wit.Function) (api.AbiSignature, error) {
	sig := api.AbiSignature{}

	allParamsSimple := true
	for _, p := range fn.Params {
		nt, ok := tryNumericType(p.Type)
		if !ok {
			allParamsSimple = false
			continue
		}
		sig.Params = append(sig.Params, nt)
	}
	if !allParamsSimple {
		sig.Paramptr = true
		sig.Params = []api.NumericType{api.I32}
	}

	switch len(fn.Results) {
	case 0:
		// no return value
	case 1:
		if nt, ok := tryNumericType(fn.Results[0].Type); ok {
			sig.Ret = &nt
		} else {
			sig.Retptr = true
			sig.Retsize = uint32(fn.Results[0].Type.Size())
		}
	default:
		sig.Retptr = true
		sig.Retsize = naturallyPackedSize(fn.Results)
	}

	return sig, nil
}

// tryNumericType reports the NumericType a WIT type flattens to, if it is
// one of the scalar kinds this splicer can marshal directly.
func tryNumericType(t wit.Type) (api.NumericType, bool) {
	switch t.(type) {
	case wit.Bool, wit.S8, wit.U8, wit.S16, wit.U16, wit.S32, wit.U32, wit.Char:
		return api.I32, true
	case wit.S64, wit.U64:
		return api.I64, true
	case wit.Float32:
		return api.F32, true
	case wit.Float64:
		return api.F64, true
	default:
		return 0, false
	}
}

// naturallyPackedSize computes the byte size of a sequence of results
// packed with natural scalar alignment, the same record layout the
// Export Synthesizer assumes for multi-value returns (spec §4.5, §9).
func naturallyPackedSize(results []wit.Param) uint32 {
	var offset uint32
	for _, r := range results {
		align := uint32(r.Type.Align())
		if align == 0 {
			align = 4
		}
		if rem := offset % align; rem != 0 {
			offset += align - rem
		}
		offset += uint32(r.Type.Size())
	}
	return offset
}
