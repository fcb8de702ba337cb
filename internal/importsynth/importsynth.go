// Package importsynth implements the Import Synthesizer (spec §4.4), the
// hardest of the splicer's components: for each resolved import it clones
// the SpiderMonkey native-callback prelude out of the engine's
// "coreabi_sample_i32" template, appends the NaN-box argument-marshalling
// sequence for the import's signature, and wires the result into the main
// indirect-call table so JS::NewFunction can hand out a callable reference
// to it through the patched "coreabi_get_import" gate.
package importsynth

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bytecodealliance/spidermonkey-embedding-splicer/api"
	"github.com/bytecodealliance/spidermonkey-embedding-splicer/internal/wasm"
	"github.com/bytecodealliance/spidermonkey-embedding-splicer/splicererr"
)

const (
	exportCoreabiGetImport    = "coreabi_get_import"
	exportCabiRealloc         = "cabi_realloc"
	exportCoreabiFromBigInt64 = "coreabi_from_bigint64"
	exportCoreabiToBigInt64   = "coreabi_to_bigint64"
)

// coreabiSampleNames are the four type-specialized template exports; only
// coreabi_sample_i32's body is actually read (its prelude block is
// identical across all four by construction), but all four are deleted
// once synthesis is done (spec §4.4 final paragraph).
var coreabiSampleNames = []string{
	"coreabi_sample_i32", "coreabi_sample_i64", "coreabi_sample_f32", "coreabi_sample_f64",
}

// int32ResultTag is SpiderMonkey's Int32 NaN-box tag for little-endian
// 64-bit builds (spec §4.4 step 4d).
const int32ResultTag = int64(-545460846592)

// bigIntResultTag is SpiderMonkey's BigInt/Object NaN-box tag, used when
// storing a lowered i64 return value back as a JS::Value (spec §4.4
// step 6, the i64 case).
const bigIntResultTag = int64(-511101108224)

// int32PayloadTag is the high 32 bits of a JS::Value that holds an int32
// payload in its low 32 bits (spec §4.4 step 4b, f32/f64 case).
const int32PayloadTag = int64(0xFFFFFF81)

// gateConstLow/gateConstHigh bound the coreabi_get_import table-index
// constant search (spec §4.4: "in (1000, 5000)").
const (
	gateConstLow  = 1000
	gateConstHigh = 5000
)

// Synthesize builds one native JS-callback trampoline per import, in
// order, appends them to the main function table, and patches
// coreabi_get_import to index into the newly grown region. imports must
// already be in the resolver's declaration order (spec §4.2).
func Synthesize(m *wasm.Module, imports []api.ImportDecl, debug bool) error {
	// Check the template shape before touching the module at all: the
	// debug fallback (spec §4.4 "Debug failure mode") must leave the
	// module completely untouched -- no host imports registered, no
	// table growth, no export deletions -- not a partially-spliced one.
	sampleFid, ok := m.FindExportFunc(coreabiSampleNames[0])
	if !ok {
		return errors.Wrapf(splicererr.TemplateMissing, "missing export %s", coreabiSampleNames[0])
	}
	prelude, vpArg, ok, err := extractPrelude(m, sampleFid)
	if err != nil {
		return err
	}
	if !ok {
		if !debug {
			return errors.Wrap(splicererr.TemplateMissing, "coreabi_sample_i32 has no nested prelude block")
		}
		logrus.Warn("importsynth: coreabi_sample_i32 has no nested prelude block; skipping import synthesis for this debug build")
		return nil
	}

	// Reserve every host import's function-index-space slot up front: in
	// the raw binary format, imports always precede locals, so adding any
	// new import shifts every already-exported local function (the
	// templates looked up just below) before their indices can be
	// trusted.
	specs := make([]wasm.ImportFuncSpec, len(imports))
	for i, decl := range imports {
		params := make([]wasm.ValueType, len(decl.Sig.Params))
		for j, t := range decl.Sig.Params {
			params[j] = wasm.NumericTypeToValueType(t)
		}
		var results []wasm.ValueType
		if decl.Sig.HasRet() {
			results = []wasm.ValueType{wasm.NumericTypeToValueType(*decl.Sig.Ret)}
		}
		specs[i] = wasm.ImportFuncSpec{Module: decl.Module, Name: decl.Name, Params: params, Results: results}
	}
	importFids, err := m.ReserveImportedFuncs(specs)
	if err != nil {
		return errors.Wrap(err, "importsynth: reserving import slots")
	}

	reallocFid, ok := m.FindExportFunc(exportCabiRealloc)
	if !ok {
		return errors.Wrapf(splicererr.TemplateMissing, "missing export %s", exportCabiRealloc)
	}
	fromBigInt64Fid, ok := m.FindExportFunc(exportCoreabiFromBigInt64)
	if !ok {
		return errors.Wrapf(splicererr.TemplateMissing, "missing export %s", exportCoreabiFromBigInt64)
	}
	toBigInt64Fid, ok := m.FindExportFunc(exportCoreabiToBigInt64)
	if !ok {
		return errors.Wrapf(splicererr.TemplateMissing, "missing export %s", exportCoreabiToBigInt64)
	}
	getImportFid, ok := m.FindExportFunc(exportCoreabiGetImport)
	if !ok {
		return errors.Wrapf(splicererr.TemplateMissing, "missing export %s", exportCoreabiGetImport)
	}

	tableIdx, err := m.MainFunctionTable()
	if err != nil {
		return errors.Wrap(err, "importsynth")
	}
	importFnTableStartIdx := m.TableSection[tableIdx].Limits.Min

	newFids := make([]wasm.Index, 0, len(imports))
	for i, decl := range imports {
		fid := synthOneImport(m, decl, importFids[i], prelude, vpArg, reallocFid, fromBigInt64Fid, toBigInt64Fid)
		newFids = append(newFids, fid)
	}

	if _, err := m.GrowMainTable(newFids); err != nil {
		return errors.Wrap(err, "importsynth: growing main table")
	}

	if err := patchCoreabiGetImport(m, getImportFid, importFnTableStartIdx); err != nil {
		return err
	}

	m.DeleteExport(exportCoreabiToBigInt64)
	m.DeleteExport(exportCoreabiFromBigInt64)
	m.DeleteExport(exportCoreabiGetImport)
	for _, name := range coreabiSampleNames {
		m.DeleteExport(name)
	}
	return nil
}

// extractPrelude reads coreabi_sample_i32's single nested block out of its
// entry sequence, returning it along with the template's `vp` parameter
// local index (always parameter 2 of the SpiderMonkey native-callback
// ABI). ok is false when the expected shape is absent (spec §4.4 "Debug
// failure mode").
func extractPrelude(m *wasm.Module, sampleFid wasm.Index) (prelude *wasm.Block, vpArg wasm.Index, ok bool, err error) {
	code, err := m.Code(sampleFid)
	if err != nil {
		return nil, 0, false, errors.Wrap(err, "importsynth: coreabi_sample_i32")
	}
	body, err := wasm.DecodeFunctionBody(code.Body)
	if err != nil {
		return nil, 0, false, errors.Wrap(err, "importsynth: decoding coreabi_sample_i32")
	}
	if len(body.Entry.Instrs) == 0 || body.Entry.Instrs[0].Op != wasm.OpBlock {
		return nil, 0, false, nil
	}
	return body.Entry.Instrs[0].Then, 2, true, nil
}

// synthOneImport builds the native-callback trampoline for a single
// import declaration and returns its new function index. The function is
// not yet wired into the table; the caller batches that after every
// import has been synthesized.
func synthOneImport(
	m *wasm.Module,
	decl api.ImportDecl,
	importFid wasm.Index,
	prelude *wasm.Block,
	vpArg wasm.Index,
	reallocFid, fromBigInt64Fid, toBigInt64Fid wasm.Index,
) wasm.Index {
	b := wasm.NewFunctionBuilder([]wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32, wasm.ValueTypeI32}, []wasm.ValueType{wasm.ValueTypeI32})
	ctxArg := b.ParamLocal(0)
	newVpArg := b.ParamLocal(2)
	tmpLocal := b.AddLocal(wasm.ValueTypeI64)

	s := b.Body()
	s.Block(nil, func(blk *wasm.SeqBuilder) {
		clonePrelude(blk, prelude, vpArg, newVpArg, tmpLocal)
	})

	// step 4a
	if decl.Sig.HasRet() {
		s.LocalGet(newVpArg)
		if *decl.Sig.Ret == api.I64 {
			s.LocalGet(ctxArg)
		}
	}

	var retptrLocal wasm.Index
	if decl.Sig.Retptr {
		retptrLocal = b.AddLocal(wasm.ValueTypeI32)
	}

	// step 4b
	for i, ty := range decl.Sig.Params {
		if decl.Sig.Retptr && i == len(decl.Sig.Params)-1 {
			break
		}
		s.LocalGet(newVpArg)
		s.I32Const(16 + 8*int32(i))
		s.Binop(wasm.OpI32Add)
		switch ty {
		case api.I32:
			s.Load(wasm.OpI64Load, wasm.MemArg{Align: 3, Offset: 0})
			s.Unop(wasm.OpI32WrapI64)
		case api.I64:
			s.Call(fromBigInt64Fid)
		case api.F32:
			loadNumberOrInt(s, tmpLocal, wasm.ValueTypeF32, true)
		case api.F64:
			loadNumberOrInt(s, tmpLocal, wasm.ValueTypeF64, false)
		}
	}

	// step 4c
	if decl.Sig.Retptr {
		s.LocalGet(newVpArg)
		s.I32Const(0)
		s.I32Const(0)
		s.I32Const(4)
		size := int32(0)
		if decl.RetptrAllocSize != nil {
			size = *decl.RetptrAllocSize
		}
		s.I32Const(size)
		s.Call(reallocFid)
		s.LocalTee(retptrLocal)
		emitInt32ResultIntoVp(s)
		s.LocalGet(retptrLocal)
	}

	// step 5
	s.Call(importFid)

	// step 6
	switch {
	case !decl.Sig.HasRet():
		// nothing
	case *decl.Sig.Ret == api.I32:
		emitInt32ResultIntoVp(s)
	case *decl.Sig.Ret == api.I64:
		s.Call(toBigInt64Fid)
		s.Unop(wasm.OpI64ExtendI32U)
		s.I64Const(bigIntResultTag)
		s.Binop(wasm.OpI64Or)
		s.Store(wasm.OpI64Store, wasm.MemArg{Align: 3, Offset: 0})
	case *decl.Sig.Ret == api.F32:
		s.Unop(wasm.OpF64PromoteF32)
		s.Store(wasm.OpF64Store, wasm.MemArg{Align: 3, Offset: 0})
	case *decl.Sig.Ret == api.F64:
		s.Store(wasm.OpF64Store, wasm.MemArg{Align: 3, Offset: 0})
	}

	// step 7
	s.I32Const(1)

	return m.AddLocalFunction(b)
}

// loadNumberOrInt emits the f32/f64 argument load (spec §4.4 step 4b):
// load the JS::Value's raw 64 bits, tee into tmp, then branch on whether
// the high word is SpiderMonkey's int32-payload tag.
func loadNumberOrInt(s *wasm.SeqBuilder, tmp wasm.Index, result wasm.ValueType, demoteToF32 bool) {
	s.Load(wasm.OpI64Load, wasm.MemArg{Align: 3, Offset: 0})
	s.LocalTee(tmp)
	s.I64Const(32)
	s.Binop(wasm.OpI64ShrU)
	s.I64Const(int32PayloadTag)
	s.Binop(wasm.OpI64Eq)
	rt := result
	s.IfElse(&rt,
		func(then *wasm.SeqBuilder) {
			then.LocalGet(tmp)
			then.Unop(wasm.OpI32WrapI64)
			if demoteToF32 {
				then.Unop(wasm.OpF32ConvertI32S)
			} else {
				then.Unop(wasm.OpF64ConvertI32S)
			}
		},
		func(elseB *wasm.SeqBuilder) {
			elseB.LocalGet(tmp)
			elseB.Unop(wasm.OpF64ReinterpretI64)
			if demoteToF32 {
				elseB.Unop(wasm.OpF32DemoteF64)
			}
		},
	)
}

// emitInt32ResultIntoVp appends the "int32-result-into-vp" sequence
// (spec §4.4 step 4d), assuming vp (or a retptr destined to be the return
// value) is already on the stack under the i32 value being boxed.
func emitInt32ResultIntoVp(s *wasm.SeqBuilder) {
	s.Unop(wasm.OpI64ExtendI32U)
	s.I64Const(int32ResultTag)
	s.Binop(wasm.OpI64Or)
	s.Store(wasm.OpI64Store, wasm.MemArg{Align: 3, Offset: 0})
}

// clonePrelude copies the template's prelude instructions into blk,
// retargeting every reference to the template's vp local to newVp
// verbatim, every reference to any other template local to tmp, and every
// br_if targeting the prelude's own enclosing block to depth 0 -- the
// enclosing block being synthesized here (spec §4.4 step 3).
func clonePrelude(blk *wasm.SeqBuilder, prelude *wasm.Block, templateVp, newVp, tmp wasm.Index) {
	for _, in := range prelude.Instrs {
		switch in.Op {
		case wasm.OpLocalGet:
			if in.Local == templateVp {
				blk.LocalGet(newVp)
			} else {
				blk.LocalGet(tmp)
			}
		case wasm.OpLocalSet:
			if in.Local == templateVp {
				blk.LocalSet(newVp)
			} else {
				blk.LocalSet(tmp)
			}
		case wasm.OpLocalTee:
			if in.Local == templateVp {
				blk.LocalTee(newVp)
			} else {
				blk.LocalTee(tmp)
			}
		case wasm.OpBrIf:
			blk.BrIf(0)
		default:
			blk.Instr(in)
		}
	}
}

// patchCoreabiGetImport retargets the hard-coded table-index constant in
// coreabi_get_import to compute start+idx instead (spec §4.4, final
// paragraph before the export deletions).
func patchCoreabiGetImport(m *wasm.Module, fid, startIdx wasm.Index) error {
	code, err := m.Code(fid)
	if err != nil {
		return errors.Wrap(err, "importsynth: coreabi_get_import")
	}
	body, err := wasm.DecodeFunctionBody(code.Body)
	if err != nil {
		return errors.Wrap(err, "importsynth: decoding coreabi_get_import")
	}
	if len(body.Entry.Instrs) == 0 {
		return errors.Wrap(splicererr.TemplateMissing, "coreabi_get_import has an empty body")
	}
	argIdx := wasm.Index(0)

	found := -1
	for i, in := range body.Entry.Instrs {
		if in.Op == wasm.OpI32Const && in.I32 > gateConstLow && in.I32 < gateConstHigh {
			found = i
			break
		}
	}
	if found == -1 {
		return errors.Wrapf(splicererr.TemplateMissing, "coreabi_get_import: no table-index constant in (%d, %d)", gateConstLow, gateConstHigh)
	}

	patched := make([]wasm.Instr, 0, len(body.Entry.Instrs)+2)
	patched = append(patched, body.Entry.Instrs[:found]...)
	patched = append(patched, wasm.Instr{Op: wasm.OpLocalGet, Local: argIdx})
	patched = append(patched, wasm.Instr{Op: wasm.OpI32Const, I32: int32(startIdx)})
	patched = append(patched, wasm.Instr{Op: wasm.OpI32Add})
	patched = append(patched, body.Entry.Instrs[found+1:]...)
	body.Entry.Instrs = patched

	code.Body = wasm.EncodeFunctionBody(body)
	return nil
}
