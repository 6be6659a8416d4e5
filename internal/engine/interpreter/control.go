package interpreter

import (
	"github.com/gowasm/gowasm/internal/wasm"
	"github.com/gowasm/gowasm/internal/wasmruntime"
)

// sigKind classifies what interrupted a straight-line run of execInstrs.
type sigKind int

const (
	// sigNone means the instruction list ran to completion (fell through
	// the last instruction) with its values left on the stack.
	sigNone sigKind = iota
	// sigBranch means a br/br_if/br_table/return/br_on_null/br_on_non_null
	// unwound some number of enclosing labels; depth counts how many more
	// enclosing control constructs (beyond the one handling this signal)
	// still need to unwind before reaching the target.
	sigBranch
)

type signal struct {
	kind  sigKind
	depth int
}

// labelEntry is one active structured-control label: the stack height the
// construct was entered at (before its own params) and how many values a
// branch to it carries. Mirrors the validator's ctrlFrame, computed fresh
// at run time since Instruction carries no precomputed arity.
type labelEntry struct {
	base  int
	arity int
}

// blockTypes resolves a BlockType against module's type section the same
// way the validator's blockSig does, minus error checking (already
// validated).
func blockTypes(module *wasm.Module, bt wasm.BlockType) (params, results []wasm.ValueType) {
	switch {
	case bt.Empty:
		return nil, nil
	case bt.HasTypeIndex:
		ft := &module.TypeSection[bt.TypeIndex]
		return ft.Params, ft.Results
	default:
		return nil, []wasm.ValueType{bt.ValueType}
	}
}

// execInstrs runs a structured instruction list (a function body or a
// block's Then/Else), stopping early if one of its instructions yields a
// non-sigNone signal.
func (ce *callEngine) execInstrs(fr *frame, instrs []wasm.Instruction) signal {
	for i := range instrs {
		if sig := ce.execOne(fr, &instrs[i]); sig.kind != sigNone {
			return sig
		}
	}
	return signal{kind: sigNone}
}

// doBranch implements the value-stack side effect shared by every branch
// instruction: the label's arity worth of values, already sitting on top
// of the stack, are kept and everything between the label's entry height
// and here is discarded.
func (fr *frame) doBranch(depth wasm.Index) signal {
	target := fr.labels[len(fr.labels)-1-int(depth)]
	fr.truncateTo(target.base, target.arity)
	return signal{kind: sigBranch, depth: int(depth)}
}

// unwind turns a signal returned by a nested execInstrs into what this
// control construct's caller should see: absorbed (sigNone) if it targeted
// this construct, otherwise propagated with depth decremented by one level.
func unwind(sig signal) signal {
	if sig.kind == sigBranch {
		if sig.depth == 0 {
			return signal{kind: sigNone}
		}
		return signal{kind: sigBranch, depth: sig.depth - 1}
	}
	return sig
}

func (ce *callEngine) execOne(fr *frame, ins *wasm.Instruction) signal {
	switch ins.Opcode {
	case wasm.OpcodeUnreachable:
		panic(wasmruntime.ErrRuntimeUnreachable)
	case wasm.OpcodeNop, wasm.OpcodeElse, wasm.OpcodeEnd:
		return signal{kind: sigNone}

	case wasm.OpcodeBlock:
		return ce.execBlock(fr, ins)
	case wasm.OpcodeLoop:
		return ce.execLoop(fr, ins)
	case wasm.OpcodeIf:
		return ce.execIf(fr, ins)
	case wasm.OpcodeTryTable:
		return ce.execTryTable(fr, ins)

	case wasm.OpcodeBr:
		return fr.doBranch(ins.ImmIndex)
	case wasm.OpcodeBrIf:
		cond := fr.popI32()
		if cond == 0 {
			return signal{kind: sigNone}
		}
		return fr.doBranch(ins.ImmIndex)
	case wasm.OpcodeBrTable:
		idx := fr.popI32()
		target := ins.ImmDefault
		if int(idx) < len(ins.ImmTargets) {
			target = ins.ImmTargets[idx]
		}
		return fr.doBranch(target)
	case wasm.OpcodeReturn:
		return fr.doBranch(wasm.Index(len(fr.labels) - 1))

	case wasm.OpcodeThrow:
		return ce.execThrow(fr, ins)
	case wasm.OpcodeThrowRef:
		exc := decodeExnRef(fr.pop().lo)
		if exc == nil {
			panic(wasmruntime.ErrRuntimeUnreachable)
		}
		panic(exc)

	case wasm.OpcodeCall:
		fn := fr.module.Functions[ins.ImmIndex]
		ce.invoke(fr, fn)
		return signal{kind: sigNone}
	case wasm.OpcodeCallIndirect:
		ce.execCallIndirect(fr, ins)
		return signal{kind: sigNone}
	case wasm.OpcodeCallRef:
		ce.execCallRef(fr, ins)
		return signal{kind: sigNone}
	case wasm.OpcodeReturnCall:
		fn := fr.module.Functions[ins.ImmIndex]
		ce.invoke(fr, fn)
		return fr.doBranch(wasm.Index(len(fr.labels) - 1))
	case wasm.OpcodeReturnCallIndirect:
		ce.execCallIndirect(fr, ins)
		return fr.doBranch(wasm.Index(len(fr.labels) - 1))

	case wasm.OpcodeDrop:
		fr.pop()
		return signal{kind: sigNone}
	case wasm.OpcodeSelect, wasm.OpcodeSelectT:
		cond := fr.popI32()
		b := fr.pop()
		a := fr.pop()
		if cond != 0 {
			fr.push(a)
		} else {
			fr.push(b)
		}
		return signal{kind: sigNone}

	case wasm.OpcodeLocalGet:
		fr.push(fr.locals[ins.ImmIndex])
		return signal{kind: sigNone}
	case wasm.OpcodeLocalSet:
		fr.locals[ins.ImmIndex] = fr.pop()
		return signal{kind: sigNone}
	case wasm.OpcodeLocalTee:
		fr.locals[ins.ImmIndex] = fr.stack[len(fr.stack)-1]
		return signal{kind: sigNone}
	case wasm.OpcodeGlobalGet:
		g := fr.module.Globals[ins.ImmIndex]
		fr.push(value{lo: g.Val, hi: g.ValHi})
		return signal{kind: sigNone}
	case wasm.OpcodeGlobalSet:
		g := fr.module.Globals[ins.ImmIndex]
		v := fr.pop()
		g.Val, g.ValHi = v.lo, v.hi
		return signal{kind: sigNone}

	case wasm.OpcodeRefNull:
		fr.push(value{})
		return signal{kind: sigNone}
	case wasm.OpcodeRefIsNull:
		fr.pushBool(fr.pop().lo == 0)
		return signal{kind: sigNone}
	case wasm.OpcodeRefFunc:
		fn := fr.module.Functions[ins.ImmIndex]
		fr.push(value{lo: uint64(wasm.FuncRef(fn))})
		return signal{kind: sigNone}
	case wasm.OpcodeRefAsNonNull:
		if fr.stack[len(fr.stack)-1].lo == 0 {
			panic(wasmruntime.ErrRuntimeNullFunctionReference)
		}
		return signal{kind: sigNone}
	case wasm.OpcodeBrOnNull:
		v := fr.pop()
		if v.lo == 0 {
			return fr.doBranch(ins.ImmIndex)
		}
		fr.push(v)
		return signal{kind: sigNone}
	case wasm.OpcodeBrOnNonNull:
		v := fr.pop()
		if v.lo != 0 {
			fr.push(v)
			return fr.doBranch(ins.ImmIndex)
		}
		return signal{kind: sigNone}

	case wasm.OpcodeI32Const:
		fr.pushI32(uint32(ins.ImmI32))
		return signal{kind: sigNone}
	case wasm.OpcodeI64Const:
		fr.pushI64(uint64(ins.ImmI64))
		return signal{kind: sigNone}
	case wasm.OpcodeF32Const:
		fr.push(value{lo: uint64(ins.ImmF32)})
		return signal{kind: sigNone}
	case wasm.OpcodeF64Const:
		fr.push(value{lo: ins.ImmF64})
		return signal{kind: sigNone}

	case wasm.OpcodeMiscPrefix:
		return ce.execMisc(fr, ins)
	case wasm.OpcodeVecPrefix:
		return ce.execVec(fr, ins)
	case wasm.OpcodeAtomicPrefix:
		return ce.execAtomic(fr, ins)
	}

	if ce.execTable(fr, ins) {
		return signal{kind: sigNone}
	}
	if ce.execMemOp(fr, ins) {
		return signal{kind: sigNone}
	}
	ce.execNumeric(fr, ins)
	return signal{kind: sigNone}
}

func (ce *callEngine) execBlock(fr *frame, ins *wasm.Instruction) signal {
	params, results := blockTypes(fr.module.Source, ins.ImmBlockType)
	base := len(fr.stack) - len(params)
	fr.labels = append(fr.labels, labelEntry{base: base, arity: len(results)})
	sig := ce.execInstrs(fr, ins.Block.Then)
	fr.labels = fr.labels[:len(fr.labels)-1]
	return unwind(sig)
}

func (ce *callEngine) execLoop(fr *frame, ins *wasm.Instruction) signal {
	params, _ := blockTypes(fr.module.Source, ins.ImmBlockType)
	base := len(fr.stack) - len(params)
	fr.labels = append(fr.labels, labelEntry{base: base, arity: len(params)})
	for {
		sig := ce.execInstrs(fr, ins.Block.Then)
		if sig.kind == sigBranch && sig.depth == 0 {
			continue // br targeted this loop: re-enter at the top
		}
		fr.labels = fr.labels[:len(fr.labels)-1]
		return unwind(sig)
	}
}

func (ce *callEngine) execIf(fr *frame, ins *wasm.Instruction) signal {
	cond := fr.popI32()
	params, results := blockTypes(fr.module.Source, ins.ImmBlockType)
	base := len(fr.stack) - len(params)
	fr.labels = append(fr.labels, labelEntry{base: base, arity: len(results)})
	var sig signal
	if cond != 0 {
		sig = ce.execInstrs(fr, ins.Block.Then)
	} else {
		sig = ce.execInstrs(fr, ins.Block.Else)
	}
	fr.labels = fr.labels[:len(fr.labels)-1]
	return unwind(sig)
}

func (ce *callEngine) execThrow(fr *frame, ins *wasm.Instruction) signal {
	tag := fr.module.Tags[ins.ImmIndex]
	args := make([]uint64, len(tag.Type.Params))
	for i := len(args) - 1; i >= 0; i-- {
		args[i] = fr.pop().lo
	}
	panic(&exception{tagIdx: ins.ImmIndex, tag: tag, args: args})
}

// catchMatches resolves the clause's tag in the catching frame's instance and
// compares tag identity, so a tag imported under a different index still
// matches its own throws.
func catchMatches(fr *frame, c wasm.CatchClause, exc *exception) bool {
	switch c.Kind {
	case wasm.CatchKindCatch, wasm.CatchKindCatchRef:
		return fr.module.Tags[c.Tag] == exc.tag
	case wasm.CatchKindCatchAll, wasm.CatchKindCatchAllRef:
		return true
	}
	return false
}

func isRefCatch(k wasm.CatchKind) bool {
	return k == wasm.CatchKindCatchRef || k == wasm.CatchKindCatchAllRef
}

func (ce *callEngine) execTryTable(fr *frame, ins *wasm.Instruction) signal {
	params, results := blockTypes(fr.module.Source, ins.ImmBlockType)
	base := len(fr.stack) - len(params)
	savedLen := len(fr.labels)
	fr.labels = append(fr.labels, labelEntry{base: base, arity: len(results)})

	var sig signal
	func() {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			exc, ok := r.(*exception)
			if !ok {
				panic(r)
			}
			fr.labels = fr.labels[:savedLen+1]
			for _, c := range ins.Block.Catches {
				if !catchMatches(fr, c, exc) {
					continue
				}
				fr.stack = fr.stack[:base]
				if c.Kind == wasm.CatchKindCatch || c.Kind == wasm.CatchKindCatchRef {
					for _, a := range exc.args {
						fr.push(value{lo: a})
					}
				}
				if isRefCatch(c.Kind) {
					fr.push(value{lo: encodeExnRef(exc)})
				}
				sig = fr.doBranch(c.Label)
				return
			}
			panic(r)
		}()
		sig = ce.execInstrs(fr, ins.Block.Then)
	}()

	fr.labels = fr.labels[:savedLen]
	return unwind(sig)
}

// invoke calls fn with its declared parameter count popped off fr's stack
// (in argument order), pushing its results back.
func (ce *callEngine) invoke(fr *frame, fn *wasm.FunctionInstance) {
	params := fr.popN(len(fn.Type.Params))
	results := ce.callFunction(fn, params)
	for _, r := range results {
		fr.push(r)
	}
}

func (ce *callEngine) execCallIndirect(fr *frame, ins *wasm.Instruction) {
	tbl := fr.module.Tables[ins.ImmIndex2]
	idx := fr.popI32()
	if int(idx) >= len(tbl.References) {
		panic(wasmruntime.ErrRuntimeUndefinedElement)
	}
	ref := tbl.References[idx]
	if ref == 0 {
		panic(wasmruntime.ErrRuntimeUninitializedElement)
	}
	fn := wasm.DerefFuncRef(ref)
	if fn.TypeID != fr.module.TypeIDs[ins.ImmIndex] {
		panic(wasmruntime.ErrRuntimeIndirectCallTypeMismatch)
	}
	ce.invoke(fr, fn)
}

func (ce *callEngine) execCallRef(fr *frame, ins *wasm.Instruction) {
	ref := fr.pop().lo
	if ref == 0 {
		panic(wasmruntime.ErrRuntimeNullFunctionReference)
	}
	fn := wasm.DerefFuncRef(wasm.Reference(ref))
	ce.invoke(fr, fn)
}
