package wasm

import (
	"fmt"

	"github.com/bytecodealliance/spidermonkey-embedding-splicer/internal/leb128"
)

// Op is a WebAssembly instruction opcode.
type Op byte

// The subset of core WebAssembly opcodes this splicer ever needs to read
// or write. Everything else encountered while decoding a known function
// body (coreabi_sample_* and coreabi_get_import, both small,
// compiler-generated trampolines per spec §4.4) is rejected with an
// "unsupported opcode" error rather than guessed at -- the rest of the engine
// module's code is never structurally decoded at all, see Code.Body's
// doc comment.
const (
	OpUnreachable Op = 0x00
	OpNop         Op = 0x01
	OpBlock       Op = 0x02
	OpLoop        Op = 0x03
	OpIf          Op = 0x04
	OpElse        Op = 0x05
	OpEnd         Op = 0x0B
	OpBr          Op = 0x0C
	OpBrIf        Op = 0x0D
	OpReturn      Op = 0x0F
	OpCall        Op = 0x10
	OpDrop        Op = 0x1A

	OpLocalGet  Op = 0x20
	OpLocalSet  Op = 0x21
	OpLocalTee  Op = 0x22
	OpGlobalGet Op = 0x23
	OpGlobalSet Op = 0x24

	OpI32Load Op = 0x28
	OpI64Load Op = 0x29
	OpF32Load Op = 0x2A
	OpF64Load Op = 0x2B

	OpI32Store Op = 0x36
	OpI64Store Op = 0x37
	OpF32Store Op = 0x38
	OpF64Store Op = 0x39

	OpI32Const Op = 0x41
	OpI64Const Op = 0x42
	OpF32Const Op = 0x43
	OpF64Const Op = 0x44

	OpI64Eq   Op = 0x51
	OpI32Add  Op = 0x6A
	OpI64Or   Op = 0x84
	OpI64ShrU Op = 0x88

	OpI32WrapI64        Op = 0xA7
	OpI64ExtendI32U      Op = 0xAD
	OpF32ConvertI32S     Op = 0xB2
	OpF32DemoteF64       Op = 0xB6
	OpF64ConvertI32S     Op = 0xB7
	OpF64PromoteF32      Op = 0xBB
	OpF64ReinterpretI64  Op = 0xBF
)

// blockTypeEmpty is the encoded block type byte meaning "no result".
const blockTypeEmpty = 0x40

// MemArg is the alignment/offset pair carried by load and store
// instructions.
type MemArg struct {
	Align  uint32
	Offset uint32
}

// Instr is one instruction in a structured function body. Block/Loop/If
// carry nested sequences; every other field is only meaningful for the
// Op that uses it.
type Instr struct {
	Op Op

	Local     Index // local.get/set/tee
	Global    Index // global.get/set
	FuncIndex Index // call

	I32 int32
	I64 int64
	F32 float32
	F64 float64

	Mem MemArg // loads/stores

	Label Index // br/br_if: relative block depth, innermost = 0

	// ResultType is nil for an empty block type, otherwise the single
	// result value type. Only meaningful for Block/Loop/If.
	ResultType *ValueType
	Then       *Block // Block/Loop body, or If's then-branch
	Else       *Block // If's else-branch; nil if the if has no else
}

// Block is a named instruction sequence: a function's implicit entry
// sequence, or the body of a block/loop/if branch.
type Block struct {
	ID     int
	Instrs []Instr
}

// FunctionBody is a local function's structured instruction tree,
// decoded on demand from a Code.Body blob.
type FunctionBody struct {
	Entry *Block
}

// DecodeFunctionBody structurally decodes raw (a Code.Body blob,
// including its trailing end opcode) into a FunctionBody tree. This is
// used only for the handful of small, known-shape functions the Import
// Synthesizer must read (coreabi_sample_i32's prelude, coreabi_get_import's
// gate constant) -- never for arbitrary engine code.
func DecodeFunctionBody(raw []byte) (*FunctionBody, error) {
	d := &instrDecoder{buf: raw, nextID: 1}
	entry := &Block{ID: 0}
	body, term, err := d.decodeSeq()
	if err != nil {
		return nil, err
	}
	if term != OpEnd {
		return nil, fmt.Errorf("wasm: function body did not end with `end`")
	}
	entry.Instrs = body
	if d.pos != len(raw) {
		return nil, fmt.Errorf("wasm: %d trailing bytes after function body", len(raw)-d.pos)
	}
	return &FunctionBody{Entry: entry}, nil
}

type instrDecoder struct {
	buf    []byte
	pos    int
	nextID int
}

func (d *instrDecoder) u8() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, fmt.Errorf("wasm: unexpected end of instruction stream")
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *instrDecoder) u32() (uint32, error) {
	v, n, err := leb128.LoadUint32(d.buf[d.pos:])
	if err != nil {
		return 0, err
	}
	d.pos += int(n)
	return v, nil
}

func (d *instrDecoder) i32() (int32, error) {
	v, n, err := leb128.LoadInt32(d.buf[d.pos:])
	if err != nil {
		return 0, err
	}
	d.pos += int(n)
	return v, nil
}

func (d *instrDecoder) i64() (int64, error) {
	v, n, err := leb128.LoadInt64(d.buf[d.pos:])
	if err != nil {
		return 0, err
	}
	d.pos += int(n)
	return v, nil
}

func (d *instrDecoder) blockType() (*ValueType, error) {
	b, err := d.u8()
	if err != nil {
		return nil, err
	}
	if b == blockTypeEmpty {
		return nil, nil
	}
	switch b {
	case ValueTypeI32, ValueTypeI64, ValueTypeF32, ValueTypeF64:
		vt := b
		return &vt, nil
	default:
		return nil, fmt.Errorf("wasm: unsupported block type %#x", b)
	}
}

// decodeSeq decodes instructions until an `end` (0x0B) or `else` (0x05)
// opcode, returning which one it hit.
func (d *instrDecoder) decodeSeq() ([]Instr, Op, error) {
	var out []Instr
	for {
		op, err := d.u8()
		if err != nil {
			return nil, 0, err
		}
		switch Op(op) {
		case OpEnd, OpElse:
			return out, Op(op), nil
		}
		instr, err := d.decodeOne(Op(op))
		if err != nil {
			return nil, 0, err
		}
		out = append(out, instr)
	}
}

func (d *instrDecoder) decodeOne(op Op) (Instr, error) {
	switch op {
	case OpUnreachable, OpNop, OpReturn, OpDrop,
		OpI64Eq, OpI32Add, OpI64Or, OpI64ShrU,
		OpI32WrapI64, OpI64ExtendI32U, OpF32ConvertI32S, OpF32DemoteF64,
		OpF64ConvertI32S, OpF64PromoteF32, OpF64ReinterpretI64:
		return Instr{Op: op}, nil

	case OpLocalGet, OpLocalSet, OpLocalTee:
		idx, err := d.u32()
		return Instr{Op: op, Local: idx}, err

	case OpGlobalGet, OpGlobalSet:
		idx, err := d.u32()
		return Instr{Op: op, Global: idx}, err

	case OpCall:
		idx, err := d.u32()
		return Instr{Op: op, FuncIndex: idx}, err

	case OpBr, OpBrIf:
		idx, err := d.u32()
		return Instr{Op: op, Label: idx}, err

	case OpI32Const:
		v, err := d.i32()
		return Instr{Op: op, I32: v}, err

	case OpI64Const:
		v, err := d.i64()
		return Instr{Op: op, I64: v}, err

	case OpF32Const:
		if d.pos+4 > len(d.buf) {
			return Instr{}, fmt.Errorf("wasm: truncated f32.const")
		}
		v := decodeF32(d.buf[d.pos : d.pos+4])
		d.pos += 4
		return Instr{Op: op, F32: v}, nil

	case OpF64Const:
		if d.pos+8 > len(d.buf) {
			return Instr{}, fmt.Errorf("wasm: truncated f64.const")
		}
		v := decodeF64(d.buf[d.pos : d.pos+8])
		d.pos += 8
		return Instr{Op: op, F64: v}, nil

	case OpI32Load, OpI64Load, OpF32Load, OpF64Load,
		OpI32Store, OpI64Store, OpF32Store, OpF64Store:
		align, err := d.u32()
		if err != nil {
			return Instr{}, err
		}
		offset, err := d.u32()
		if err != nil {
			return Instr{}, err
		}
		return Instr{Op: op, Mem: MemArg{Align: align, Offset: offset}}, nil

	case OpBlock, OpLoop:
		rt, err := d.blockType()
		if err != nil {
			return Instr{}, err
		}
		body, term, err := d.decodeSeq()
		if err != nil {
			return Instr{}, err
		}
		if term != OpEnd {
			return Instr{}, fmt.Errorf("wasm: block/loop must terminate with `end`")
		}
		blk := &Block{ID: d.nextID, Instrs: body}
		d.nextID++
		return Instr{Op: op, ResultType: rt, Then: blk}, nil

	case OpIf:
		rt, err := d.blockType()
		if err != nil {
			return Instr{}, err
		}
		thenBody, term, err := d.decodeSeq()
		if err != nil {
			return Instr{}, err
		}
		thenBlk := &Block{ID: d.nextID, Instrs: thenBody}
		d.nextID++
		var elseBlk *Block
		if term == OpElse {
			elseBody, term2, err := d.decodeSeq()
			if err != nil {
				return Instr{}, err
			}
			if term2 != OpEnd {
				return Instr{}, fmt.Errorf("wasm: if/else must terminate with `end`")
			}
			elseBlk = &Block{ID: d.nextID, Instrs: elseBody}
			d.nextID++
		}
		return Instr{Op: op, ResultType: rt, Then: thenBlk, Else: elseBlk}, nil

	default:
		return Instr{}, fmt.Errorf("wasm: unsupported opcode %#x while decoding a template function", op)
	}
}

// EncodeFunctionBody serializes fb back into a Code.Body blob, including
// the trailing end opcode.
func EncodeFunctionBody(fb *FunctionBody) []byte {
	out := encodeSeq(fb.Entry.Instrs)
	out = append(out, byte(OpEnd))
	return out
}

func encodeSeq(instrs []Instr) []byte {
	var out []byte
	for _, in := range instrs {
		out = append(out, encodeInstr(in)...)
	}
	return out
}

func encodeInstr(in Instr) []byte {
	out := []byte{byte(in.Op)}
	switch in.Op {
	case OpLocalGet, OpLocalSet, OpLocalTee:
		out = append(out, leb128.EncodeUint32(in.Local)...)
	case OpGlobalGet, OpGlobalSet:
		out = append(out, leb128.EncodeUint32(in.Global)...)
	case OpCall:
		out = append(out, leb128.EncodeUint32(in.FuncIndex)...)
	case OpBr, OpBrIf:
		out = append(out, leb128.EncodeUint32(in.Label)...)
	case OpI32Const:
		out = append(out, leb128.EncodeInt32(in.I32)...)
	case OpI64Const:
		out = append(out, leb128.EncodeInt64(in.I64)...)
	case OpF32Const:
		out = append(out, encodeF32(in.F32)...)
	case OpF64Const:
		out = append(out, encodeF64(in.F64)...)
	case OpI32Load, OpI64Load, OpF32Load, OpF64Load,
		OpI32Store, OpI64Store, OpF32Store, OpF64Store:
		out = append(out, leb128.EncodeUint32(in.Mem.Align)...)
		out = append(out, leb128.EncodeUint32(in.Mem.Offset)...)
	case OpBlock, OpLoop:
		out = append(out, encodeBlockType(in.ResultType)...)
		out = append(out, encodeSeq(in.Then.Instrs)...)
		out = append(out, byte(OpEnd))
	case OpIf:
		out = append(out, encodeBlockType(in.ResultType)...)
		out = append(out, encodeSeq(in.Then.Instrs)...)
		if in.Else != nil {
			out = append(out, byte(OpElse))
			out = append(out, encodeSeq(in.Else.Instrs)...)
		}
		out = append(out, byte(OpEnd))
	}
	return out
}

func encodeBlockType(rt *ValueType) []byte {
	if rt == nil {
		return []byte{blockTypeEmpty}
	}
	return []byte{*rt}
}
