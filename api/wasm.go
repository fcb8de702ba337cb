// Package api includes the value types shared between the splicer's
// internal packages and its callers: the four WebAssembly numeric types,
// the abstract and canonical-ABI function signatures the interface
// resolver produces, and the feature flags that gate WASI stubbing.
package api

import "fmt"

// NumericType is one of the four WebAssembly numeric value types. Params
// and results are expressed uniformly as NumericType; there is no
// reference-type support because the splicer never rewrites anything but
// i32/i64/f32/f64 (spec Non-goals).
type NumericType byte

const (
	// I32 is a 32-bit integer.
	I32 NumericType = iota
	// I64 is a 64-bit integer.
	I64
	// F32 is a 32-bit float.
	F32
	// F64 is a 64-bit float.
	F64
)

// String implements fmt.Stringer.
func (t NumericType) String() string {
	switch t {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	default:
		return fmt.Sprintf("unknown(%#x)", byte(t))
	}
}

// Size returns the natural byte width of t: 4 for i32/f32, 8 for i64/f64.
// Used when packing export arguments into a linear-memory buffer
// (spec §4.5 step 3).
func (t NumericType) Size() uint32 {
	switch t {
	case I32, F32:
		return 4
	default:
		return 8
	}
}

// AbiSignature is an ordered function signature as produced by the
// interface resolver: either the abstract WIT-level shape or its
// canonical-ABI-lowered core-wasm shape, depending on who constructed it.
type AbiSignature struct {
	// Params is the ordered list of parameter types.
	Params []NumericType
	// Ret is the single optional result type. The canonical ABI only
	// ever produces 0 or 1 core results for the shapes this splicer
	// handles (anything wider is carried via Retptr).
	Ret *NumericType
	// Paramptr indicates the parameters are passed indirectly through a
	// single i32 pointer into linear memory (a pre-flattened record).
	Paramptr bool
	// Retptr indicates the result travels through an i32 pointer into
	// linear memory. For an import, that pointer is the last entry of
	// Params; for an export, it is the function's i32 return value.
	Retptr bool
	// Retsize is the byte size of the pointed-to return tuple. Zero when
	// Retptr is false.
	Retsize uint32
}

// HasRet reports whether the signature produces a direct (non-retptr)
// result.
func (s AbiSignature) HasRet() bool {
	return s.Ret != nil
}

// ImportDecl describes one host function the resulting component must
// import, in resolver declaration order (spec §4.2: "Declaration order is
// authoritative").
type ImportDecl struct {
	Module   string
	Name     string
	Sig      AbiSignature
	// RetptrAllocSize, when non-nil, is the byte size to pass to
	// cabi_realloc when this import's signature sets Retptr.
	RetptrAllocSize *int32
}

// ExportDecl describes one function the resulting component must export.
type ExportDecl struct {
	Name string
	Sig  AbiSignature
	// InterfaceName is the interface this export belongs to, or "" for a
	// bare world-level export. Used by the script generator to group
	// sibling exports into one destructured interface object (spec §4.6).
	InterfaceName string
}

// Feature is a WASI capability the host build actually provides. The
// stubber consults only Clocks (clock_res_get, clock_time_get) and Stdio
// (fd_fdstat_get, fd_write): when one of those is present, its imports in
// internal/waistub's allow-list are left untouched instead of stubbed.
// Random and Http change nothing there; random_get is trapped either way.
type Feature int

const (
	Stdio Feature = iota
	Clocks
	Random
	Http
)

// String implements fmt.Stringer.
func (f Feature) String() string {
	switch f {
	case Stdio:
		return "stdio"
	case Clocks:
		return "clocks"
	case Random:
		return "random"
	case Http:
		return "http"
	default:
		return fmt.Sprintf("feature(%d)", int(f))
	}
}

// ParseFeature parses the --features CLI value into a Feature, the Go
// counterpart of the original Rust `impl FromStr for Features`.
func ParseFeature(s string) (Feature, error) {
	switch s {
	case "stdio":
		return Stdio, nil
	case "clocks":
		return Clocks, nil
	case "random":
		return Random, nil
	case "http":
		return Http, nil
	default:
		return 0, fmt.Errorf("unrecognized feature string %q", s)
	}
}

// FeatureSet is a small set of Features, queried by internal/waistub.
type FeatureSet map[Feature]struct{}

// NewFeatureSet builds a FeatureSet from a list of Features.
func NewFeatureSet(features ...Feature) FeatureSet {
	fs := make(FeatureSet, len(features))
	for _, f := range features {
		fs[f] = struct{}{}
	}
	return fs
}

// Has reports whether f is enabled.
func (fs FeatureSet) Has(f Feature) bool {
	_, ok := fs[f]
	return ok
}
