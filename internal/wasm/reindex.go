package wasm

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/bytecodealliance/spidermonkey-embedding-splicer/internal/leb128"
	"github.com/bytecodealliance/spidermonkey-embedding-splicer/splicererr"
)

// ReplaceImportedFuncWithLocal removes the function import (module, name)
// and installs build's result as a local function occupying a fresh slot
// at the end of the function index space, then renumbers every surviving
// reference to a function index throughout the module (exports, the main
// table's element segment, the start function, and every `call`
// instruction in every function body, including ones this splicer never
// otherwise decodes) so that the net effect, as spec §4.3 describes it,
// is "rebinding the function id's kind from imported to local" rather
// than a plain index-shifting delete+append.
//
// build receives the import's own function type and returns the
// FunctionBuilder for its replacement body.
func (m *Module) ReplaceImportedFuncWithLocal(module, name string, build func(ft *FunctionType) *FunctionBuilder) error {
	oldIdx, ok := m.rawImportFuncIndex(module, name)
	if !ok {
		return errors.Wrapf(splicererr.StubTargetMissing, "%s#%s", module, name)
	}
	typeIdx, err := m.DeleteImportFunc(module, name)
	if err != nil {
		return err
	}
	ft := m.TypeSection[typeIdx]

	b := build(ft)
	newFinalIdx := m.AddLocalFunction(b)

	// remap is keyed by pre-replacement indices, which span the same range
	// 0..newFinalIdx: the import count dropped by one and the local count
	// grew by one. Every old index after oldIdx moves down by one.
	remap := make(map[Index]Index, newFinalIdx+1)
	for i := Index(0); i <= newFinalIdx; i++ {
		switch {
		case i < oldIdx:
			remap[i] = i
		case i == oldIdx:
			remap[i] = newFinalIdx
		default:
			remap[i] = i - 1
		}
	}

	return m.renumberFunctions(remap)
}

// ImportFuncSpec names one function import to reserve via
// ReserveImportedFuncs.
type ImportFuncSpec struct {
	Module, Name    string
	Params, Results []ValueType
}

// ReserveImportedFuncs ensures every spec is present as a function
// import, adding whichever are missing in a single batch, and returns
// each spec's resulting function-index-space index in order.
//
// All function imports necessarily occupy the low end of the function
// index space, ahead of every local function (spec §3). So unlike
// AddImportedFunc (used when no local function has been given out an
// index yet), appending new imports here shifts every existing local
// function's index up by the number of new imports -- this is exactly
// the renumbering the Import Synthesizer needs before it can look up the
// engine's template exports and start emitting `call`s to them, since it
// runs on a module whose locals (coreabi_sample_i32, cabi_realloc, the
// engine's own code) already have fixed export-visible indices.
func (m *Module) ReserveImportedFuncs(specs []ImportFuncSpec) ([]Index, error) {
	fids := make([]Index, len(specs))
	var newSpecs []ImportFuncSpec
	var newPositions []int
	for i, spec := range specs {
		if idx, ok := m.rawImportFuncIndex(spec.Module, spec.Name); ok {
			fids[i] = idx
		} else {
			newPositions = append(newPositions, i)
			newSpecs = append(newSpecs, spec)
		}
	}
	if len(newSpecs) == 0 {
		return fids, nil
	}

	oldImportCount := Index(m.NumImportedFunctions())
	shift := Index(len(newSpecs))
	totalOld := oldImportCount + Index(len(m.FunctionSection))

	remap := make(map[Index]Index, totalOld)
	for i := Index(0); i < totalOld; i++ {
		if i < oldImportCount {
			remap[i] = i
		} else {
			remap[i] = i + shift
		}
	}
	if err := m.renumberFunctions(remap); err != nil {
		return nil, err
	}

	for j, spec := range newSpecs {
		typeIdx := m.AddFunctionType(spec.Params, spec.Results)
		m.ImportSection = append(m.ImportSection, &Import{
			Module: spec.Module, Name: spec.Name, Type: ExternTypeFunc, DescFunc: typeIdx,
		})
		fids[newPositions[j]] = oldImportCount + Index(j)
	}
	return fids, nil
}

// renumberFunctions applies remap (old function index -> new function
// index) to every function-index reference in the module: func exports,
// the start section, every element segment, and every `call` instruction
// in every function body.
func (m *Module) renumberFunctions(remap map[Index]Index) error {
	for _, e := range m.ExportSection {
		if e.Type == ExternTypeFunc {
			if nv, ok := remap[e.Index]; ok {
				e.Index = nv
			}
		}
	}
	if m.StartSection != nil {
		if nv, ok := remap[*m.StartSection]; ok {
			m.StartSection = &nv
		}
	}
	for _, seg := range m.ElementSection {
		for i, fid := range seg.Members {
			if fid == nil {
				continue
			}
			if nv, ok := remap[*fid]; ok {
				seg.Members[i] = &nv
			}
		}
	}
	for _, code := range m.CodeSection {
		rewritten, err := rewriteCallTargets(code.Body, remap)
		if err != nil {
			return errors.Wrap(splicererr.ModelCorrupt, err.Error())
		}
		code.Body = rewritten
	}
	return nil
}

// rewriteCallTargets walks body (a raw, already-encoded Code.Body blob)
// one instruction at a time using only each opcode's immediate *shape*
// -- never its meaning -- and rewrites the operand of every `call`
// (0x10) instruction whose target is in remap. This lets the module's
// opaque, never-structurally-decoded function bodies still be kept
// consistent after a function index changes, without this splicer having
// to understand what any of those functions actually do.
//
// Supported shapes cover the WebAssembly MVP instruction set, reference
// types (table.get/set), and the 0xFC bulk-memory/table prefix block.
// SIMD (0xFD) and threads/atomics (0xFE) prefixed instructions are not
// supported and produce an error; no engine build this tool has targeted
// has required them in code reachable from a WASI import.
func rewriteCallTargets(body []byte, remap map[Index]Index) ([]byte, error) {
	out := make([]byte, 0, len(body))
	pos := 0
	for pos < len(body) {
		op := body[pos]
		switch {
		case op == 0x10: // call
			v, n, err := leb128.LoadUint32(body[pos+1:])
			if err != nil {
				return nil, err
			}
			nv := v
			if mapped, ok := remap[v]; ok {
				nv = mapped
			}
			// Re-encode canonically and let the operand grow or shrink
			// as needed: it is appended to a fresh buffer, not patched
			// in place, so every later instruction simply shifts along
			// with it instead of needing its own width to stay fixed.
			out = append(out, op)
			out = append(out, leb128.EncodeUint32(nv)...)
			pos += 1 + int(n)

		default:
			next, err := skipImmediate(body, pos)
			if err != nil {
				return nil, err
			}
			out = append(out, body[pos:next]...)
			pos = next
		}
	}
	return out, nil
}

// skipImmediate returns the stream position immediately after the
// instruction whose opcode byte is at buf[opPos], having consumed only
// its immediate operand(s) (not any nested block body -- callers of
// rewriteCallTargets process the flat, already-linear instruction stream
// and treat block/loop/if/else/end as having no immediate effect beyond
// the block type byte, since nesting never changes the byte-shape
// decisions this walk needs to make).
func skipImmediate(buf []byte, opPos int) (int, error) {
	op := buf[opPos]
	pos := opPos + 1
	switch {
	case op == 0x00, op == 0x01, op == 0x05, op == 0x0B, op == 0x0F,
		op == 0x1A, op == 0x1B:
		return pos, nil

	case op == 0x02, op == 0x03, op == 0x04: // block, loop, if: blocktype
		if pos >= len(buf) {
			return 0, fmt.Errorf("wasm: truncated block type")
		}
		b := buf[pos]
		pos++
		if b != blockTypeEmpty && b != ValueTypeI32 && b != ValueTypeI64 && b != ValueTypeF32 && b != ValueTypeF64 {
			// A non-empty, non-valuetype byte here means an s33 type
			// index (multi-value block type); consume the rest of its
			// LEB128 encoding.
			_, n, err := leb128.LoadInt64(buf[pos-1:])
			if err != nil {
				return 0, err
			}
			pos = pos - 1 + int(n)
		}
		return pos, nil

	case op == 0x0C, op == 0x0D: // br, br_if: labelidx
		return skipU32(buf, pos)

	case op == 0x0E: // br_table: vec(labelidx) + labelidx
		n, newPos, err := readU32(buf, pos)
		if err != nil {
			return 0, err
		}
		pos = newPos
		for i := uint32(0); i < n; i++ {
			if pos, err = skipU32(buf, pos); err != nil {
				return 0, err
			}
		}
		return skipU32(buf, pos)

	case op == 0x10, op == 0x11: // call, call_indirect
		var err error
		if pos, err = skipU32(buf, pos); err != nil {
			return 0, err
		}
		if op == 0x11 {
			return skipU32(buf, pos) // tableidx
		}
		return pos, nil

	case op >= 0x20 && op <= 0x24: // local/global get/set/tee
		return skipU32(buf, pos)

	case op == 0x25 || op == 0x26: // table.get, table.set
		return skipU32(buf, pos)

	case op == 0x1C: // select t*
		n, newPos, err := readU32(buf, pos)
		if err != nil {
			return 0, err
		}
		return newPos + int(n), nil

	case op >= 0x28 && op <= 0x3E: // loads/stores: align, offset
		var err error
		if pos, err = skipU32(buf, pos); err != nil {
			return 0, err
		}
		return skipU32(buf, pos)

	case op == 0x3F || op == 0x40: // memory.size, memory.grow: reserved byte
		return pos + 1, nil

	case op == 0x41: // i32.const
		return skipI32(buf, pos)
	case op == 0x42: // i64.const
		return skipI64(buf, pos)
	case op == 0x43: // f32.const
		return pos + 4, nil
	case op == 0x44: // f64.const
		return pos + 8, nil

	case op >= 0x45 && op <= 0xC4: // comparisons/arithmetic/conversions
		return pos, nil

	case op == 0xFC:
		return skipMiscPrefixed(buf, pos)

	default:
		return 0, fmt.Errorf("wasm: opcode %#x has no known instruction shape (SIMD/atomics are unsupported)", op)
	}
}

// skipMiscPrefixed handles the 0xFC-prefixed saturating truncation and
// bulk-memory/table instruction block.
func skipMiscPrefixed(buf []byte, pos int) (int, error) {
	sub, newPos, err := readU32(buf, pos)
	if err != nil {
		return 0, err
	}
	pos = newPos
	switch sub {
	case 0, 1, 2, 3, 4, 5, 6, 7: // trunc_sat variants: no immediate
		return pos, nil
	case 8: // memory.init: dataidx, memidx(reserved)
		if pos, err = skipU32(buf, pos); err != nil {
			return 0, err
		}
		return pos + 1, nil
	case 9: // data.drop: dataidx
		return skipU32(buf, pos)
	case 10: // memory.copy: two reserved bytes
		return pos + 2, nil
	case 11: // memory.fill: one reserved byte
		return pos + 1, nil
	case 12: // table.init: elemidx, tableidx
		if pos, err = skipU32(buf, pos); err != nil {
			return 0, err
		}
		return skipU32(buf, pos)
	case 13: // elem.drop: elemidx
		return skipU32(buf, pos)
	case 14: // table.copy: tableidx x2
		if pos, err = skipU32(buf, pos); err != nil {
			return 0, err
		}
		return skipU32(buf, pos)
	case 15, 16, 17: // table.grow/size/fill: tableidx
		return skipU32(buf, pos)
	default:
		return 0, fmt.Errorf("wasm: unknown 0xFC sub-opcode %d", sub)
	}
}

func readU32(buf []byte, pos int) (uint32, int, error) {
	v, n, err := leb128.LoadUint32(buf[pos:])
	if err != nil {
		return 0, 0, err
	}
	return v, pos + int(n), nil
}

func skipU32(buf []byte, pos int) (int, error) {
	_, n, err := leb128.LoadUint32(buf[pos:])
	if err != nil {
		return 0, err
	}
	return pos + int(n), nil
}

func skipI32(buf []byte, pos int) (int, error) {
	_, n, err := leb128.LoadInt32(buf[pos:])
	if err != nil {
		return 0, err
	}
	return pos + int(n), nil
}

func skipI64(buf []byte, pos int) (int, error) {
	_, n, err := leb128.LoadInt64(buf[pos:])
	if err != nil {
		return 0, err
	}
	return pos + int(n), nil
}
