package wasm

// FunctionBuilder incrementally constructs a new local function's
// structured instruction tree, the way the original Rust implementation
// used walrus's FunctionBuilder (spec §4.4/§4.5 both build one new local
// function per import/export).
type FunctionBuilder struct {
	params      []ValueType
	results     []ValueType
	extraLocals []ValueType
	entry       *Block
	nextBlockID int
}

// NewFunctionBuilder starts building a function with the given parameter
// and result types. Parameters occupy local indices 0..len(params)-1.
func NewFunctionBuilder(params, results []ValueType) *FunctionBuilder {
	return &FunctionBuilder{
		params:      params,
		results:     results,
		entry:       &Block{ID: 0},
		nextBlockID: 1,
	}
}

// ParamLocal returns the local index of the i-th parameter.
func (b *FunctionBuilder) ParamLocal(i int) Index { return Index(i) }

// AddLocal declares an additional scratch local of type vt, returning
// its index.
func (b *FunctionBuilder) AddLocal(vt ValueType) Index {
	idx := Index(len(b.params) + len(b.extraLocals))
	b.extraLocals = append(b.extraLocals, vt)
	return idx
}

// Body returns a SeqBuilder appending to the function's entry sequence.
func (b *FunctionBuilder) Body() *SeqBuilder {
	return &SeqBuilder{blk: b.entry, alloc: b}
}

// Finish returns the FunctionType and Code entry for the function built
// so far. The caller (Module.AddLocalFunction) is responsible for
// registering the type and appending the Code/FunctionSection entries,
// keeping FunctionBuilder itself free of any Module reference.
func (b *FunctionBuilder) Finish() (*FunctionType, *Code) {
	ft := &FunctionType{Params: append([]ValueType{}, b.params...), Results: append([]ValueType{}, b.results...)}
	var locals []LocalGroup
	for _, vt := range b.extraLocals {
		if n := len(locals); n > 0 && locals[n-1].Type == vt {
			locals[n-1].Count++
		} else {
			locals = append(locals, LocalGroup{Count: 1, Type: vt})
		}
	}
	body := &FunctionBody{Entry: b.entry}
	code := &Code{Locals: locals, Body: EncodeFunctionBody(body)}
	return ft, code
}

// SeqBuilder appends instructions to one instruction sequence (the
// function entry, or a nested block/loop/if branch).
type SeqBuilder struct {
	blk   *Block
	alloc *FunctionBuilder
}

func (s *SeqBuilder) push(i Instr) *SeqBuilder {
	s.blk.Instrs = append(s.blk.Instrs, i)
	return s
}

// Instr appends a fully-formed instruction verbatim. Used when cloning
// instructions harvested from a template function (spec §4.4 step 3).
func (s *SeqBuilder) Instr(i Instr) *SeqBuilder { return s.push(i) }

func (s *SeqBuilder) LocalGet(idx Index) *SeqBuilder { return s.push(Instr{Op: OpLocalGet, Local: idx}) }
func (s *SeqBuilder) LocalSet(idx Index) *SeqBuilder { return s.push(Instr{Op: OpLocalSet, Local: idx}) }
func (s *SeqBuilder) LocalTee(idx Index) *SeqBuilder { return s.push(Instr{Op: OpLocalTee, Local: idx}) }

func (s *SeqBuilder) I32Const(v int32) *SeqBuilder { return s.push(Instr{Op: OpI32Const, I32: v}) }
func (s *SeqBuilder) I64Const(v int64) *SeqBuilder { return s.push(Instr{Op: OpI64Const, I64: v}) }

func (s *SeqBuilder) Load(op Op, mem MemArg) *SeqBuilder  { return s.push(Instr{Op: op, Mem: mem}) }
func (s *SeqBuilder) Store(op Op, mem MemArg) *SeqBuilder { return s.push(Instr{Op: op, Mem: mem}) }

// Unop/Binop append a no-immediate numeric instruction (conversions,
// comparisons, arithmetic).
func (s *SeqBuilder) Unop(op Op) *SeqBuilder  { return s.push(Instr{Op: op}) }
func (s *SeqBuilder) Binop(op Op) *SeqBuilder { return s.push(Instr{Op: op}) }

func (s *SeqBuilder) Call(fidx Index) *SeqBuilder { return s.push(Instr{Op: OpCall, FuncIndex: fidx}) }

func (s *SeqBuilder) Br(label Index) *SeqBuilder   { return s.push(Instr{Op: OpBr, Label: label}) }
func (s *SeqBuilder) BrIf(label Index) *SeqBuilder { return s.push(Instr{Op: OpBrIf, Label: label}) }

func (s *SeqBuilder) Drop() *SeqBuilder        { return s.push(Instr{Op: OpDrop}) }
func (s *SeqBuilder) Unreachable() *SeqBuilder { return s.push(Instr{Op: OpUnreachable}) }

// Block appends a nested `block` and invokes fn to populate its body.
func (s *SeqBuilder) Block(resultType *ValueType, fn func(*SeqBuilder)) *Block {
	blk := &Block{ID: s.alloc.nextBlockID}
	s.alloc.nextBlockID++
	fn(&SeqBuilder{blk: blk, alloc: s.alloc})
	s.push(Instr{Op: OpBlock, ResultType: resultType, Then: blk})
	return blk
}

// IfElse appends a nested `if`/`else` and invokes thenFn/elseFn to
// populate each branch. elseFn may be nil for an if with no else.
func (s *SeqBuilder) IfElse(resultType *ValueType, thenFn, elseFn func(*SeqBuilder)) {
	thenBlk := &Block{ID: s.alloc.nextBlockID}
	s.alloc.nextBlockID++
	thenFn(&SeqBuilder{blk: thenBlk, alloc: s.alloc})

	var elseBlk *Block
	if elseFn != nil {
		elseBlk = &Block{ID: s.alloc.nextBlockID}
		s.alloc.nextBlockID++
		elseFn(&SeqBuilder{blk: elseBlk, alloc: s.alloc})
	}
	s.push(Instr{Op: OpIf, ResultType: resultType, Then: thenBlk, Else: elseBlk})
}
