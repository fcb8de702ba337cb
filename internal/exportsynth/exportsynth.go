// Package exportsynth implements the Export Synthesizer (spec §4.5): for
// every declared export it builds a thin core-wasm wrapper that packs its
// arguments into linear memory (or passes them through a single pointer
// when the resolver already flattened them), calls the engine's generic
// "call" dispatcher, and unpacks the result -- plus a paired
// "cabi_post_<name>" wrapper around "post_call" for the Component Model's
// post-return cleanup convention.
package exportsynth

import (
	"github.com/pkg/errors"

	"github.com/bytecodealliance/spidermonkey-embedding-splicer/api"
	"github.com/bytecodealliance/spidermonkey-embedding-splicer/internal/wasm"
	"github.com/bytecodealliance/spidermonkey-embedding-splicer/splicererr"
)

const (
	exportCall        = "call"
	exportPostCall    = "post_call"
	exportCabiRealloc = "cabi_realloc"
)

// Synthesize builds one export wrapper and one cabi_post_<name> wrapper
// per decl, in order, then removes the now fully-wrapped "call"/
// "post_call" exports (spec §4.5, final paragraph).
func Synthesize(m *wasm.Module, exports []api.ExportDecl) error {
	callFid, ok := m.FindExportFunc(exportCall)
	if !ok {
		return errors.Wrapf(splicererr.TemplateMissing, "missing export %s", exportCall)
	}
	postCallFid, ok := m.FindExportFunc(exportPostCall)
	if !ok {
		return errors.Wrapf(splicererr.TemplateMissing, "missing export %s", exportPostCall)
	}
	reallocFid, ok := m.FindExportFunc(exportCabiRealloc)
	if !ok {
		return errors.Wrapf(splicererr.TemplateMissing, "missing export %s", exportCabiRealloc)
	}

	for k, decl := range exports {
		fid := synthExportWrapper(m, decl, int32(k), callFid, reallocFid)
		m.AddExport(decl.Name, fid)

		postFid := synthPostWrapper(m, decl, int32(k), postCallFid)
		m.AddExport("cabi_post_"+decl.Name, postFid)
	}

	m.DeleteExport(exportCall)
	m.DeleteExport(exportPostCall)
	return nil
}

// synthExportWrapper builds the wrapper described by spec §4.5 steps 1-5.
func synthExportWrapper(m *wasm.Module, decl api.ExportDecl, ordinal int32, callFid, reallocFid wasm.Index) wasm.Index {
	params := make([]wasm.ValueType, len(decl.Sig.Params))
	for i, t := range decl.Sig.Params {
		params[i] = wasm.NumericTypeToValueType(t)
	}
	var results []wasm.ValueType
	switch {
	case decl.Sig.Retptr:
		results = []wasm.ValueType{wasm.ValueTypeI32}
	case decl.Sig.HasRet():
		results = []wasm.ValueType{wasm.NumericTypeToValueType(*decl.Sig.Ret)}
	}

	b := wasm.NewFunctionBuilder(params, results)
	args := make([]wasm.Index, len(params))
	for i := range params {
		args[i] = b.ParamLocal(i)
	}

	s := b.Body()
	s.I32Const(ordinal)

	switch {
	case len(decl.Sig.Params) == 0:
		s.I32Const(0)
	case decl.Sig.Paramptr:
		s.LocalGet(args[0])
	default:
		argPtr := b.AddLocal(wasm.ValueTypeI32)
		offsets, size := packedLayout(decl.Sig.Params)
		s.I32Const(0)
		s.I32Const(0)
		s.I32Const(4)
		s.I32Const(int32(size))
		s.Call(reallocFid)
		s.LocalTee(argPtr)
		for i, t := range decl.Sig.Params {
			s.LocalGet(args[i])
			storeOp, align := storeShape(t)
			s.Store(storeOp, wasm.MemArg{Align: align, Offset: offsets[i]})
			s.LocalGet(argPtr)
		}
	}

	s.Call(callFid)

	switch {
	case decl.Sig.Retptr:
		// the result pointer is already on the stack; it is the return value.
	case !decl.Sig.HasRet():
		s.Drop()
	default:
		retPtr := b.AddLocal(wasm.ValueTypeI32)
		s.LocalTee(retPtr)
		loadOp, align := loadShape(*decl.Sig.Ret)
		s.Load(loadOp, wasm.MemArg{Align: align, Offset: 0})
	}

	return m.AddLocalFunction(b)
}

// synthPostWrapper builds the cabi_post_<name> wrapper (spec §4.5 step 7).
func synthPostWrapper(m *wasm.Module, decl api.ExportDecl, ordinal int32, postCallFid wasm.Index) wasm.Index {
	var params []wasm.ValueType
	if decl.Sig.HasRet() {
		params = []wasm.ValueType{wasm.NumericTypeToValueType(*decl.Sig.Ret)}
	}
	b := wasm.NewFunctionBuilder(params, nil)
	s := b.Body()
	s.I32Const(ordinal)
	s.Call(postCallFid)
	return m.AddLocalFunction(b)
}

// storeShape returns the store opcode and the alignment exponent
// (log2 of the natural byte width) for a numeric type.
func storeShape(t api.NumericType) (wasm.Op, uint32) {
	switch t {
	case api.I32:
		return wasm.OpI32Store, 2
	case api.I64:
		return wasm.OpI64Store, 3
	case api.F32:
		return wasm.OpF32Store, 2
	default:
		return wasm.OpF64Store, 3
	}
}

// loadShape is storeShape's counterpart for the direct-return load.
func loadShape(t api.NumericType) (wasm.Op, uint32) {
	switch t {
	case api.I32:
		return wasm.OpI32Load, 2
	case api.I64:
		return wasm.OpI64Load, 3
	case api.F32:
		return wasm.OpF32Load, 2
	default:
		return wasm.OpF64Load, 3
	}
}

// packedLayout computes each parameter's byte offset within the argument
// buffer, naturally aligned per field (i32/f32 to 4 bytes, i64/f64 to 8
// bytes) -- the same rule the canonical ABI applies to a record composed
// only of numeric fields (spec §4.5 step 3).
func packedLayout(params []api.NumericType) (offsets []uint32, size uint32) {
	offsets = make([]uint32, len(params))
	var off uint32
	for i, t := range params {
		width := t.Size()
		if rem := off % width; rem != 0 {
			off += width - rem
		}
		offsets[i] = off
		off += width
	}
	return offsets, off
}
