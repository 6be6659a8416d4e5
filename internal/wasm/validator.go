package wasm

import (
	"fmt"

	"github.com/gowasm/gowasm/api"
	"github.com/gowasm/gowasm/internal/leb128"
)

// unknown is the polymorphic "bottom type" pushed in place of a concrete
// value type once a control frame has gone unreachable (after unreachable,
// br, br_table, return or throw): it matches any type a subsequent pop
// asks for, per spec.md's polymorphic stack typing rule.
const unknown ValueType = 0

// Validate checks every module-defined function body, global initializer,
// and element/data segment offset against the structural typing rules:
// control-frame nesting, branch target arity, constant-expression
// restriction, and (for try_table) catch-clause shape. It does not check
// import/export resolution; that's Instantiate's job.
func Validate(m *Module, features api.CoreFeatures) error {
	for i := range m.TypeSection {
		m.TypeSection[i].Finalize()
		for _, s := range m.TypeSection[i].Supertypes {
			// Supertypes must refer strictly backwards: to an earlier group,
			// or to an earlier member of this entry's own group.
			if int(s) >= len(m.TypeSection) || s >= Index(i) {
				return fmt.Errorf("type[%d]: unknown type %d", i, s)
			}
		}
	}
	AssignTypeIDs(m)

	if len(m.FunctionSection) != len(m.CodeSection) {
		return fmt.Errorf("function and code section have inconsistent lengths")
	}
	declared := declaredFunctionRefs(m)
	for i, typeIdx := range m.FunctionSection {
		if int(typeIdx) >= len(m.TypeSection) {
			return fmt.Errorf("unknown type %d", typeIdx)
		}
		ft := &m.TypeSection[typeIdx]
		code := &m.CodeSection[i]
		if code.GoFunc != nil {
			continue // host functions have no wasm body to type-check
		}
		v := &funcValidator{module: m, features: features, declared: declared, locals: append(append([]ValueType{}, ft.Params...), code.LocalTypes...)}
		v.pushCtrl(OpcodeBlock, nil, ft.Results)
		if err := v.validateBody(code.Body); err != nil {
			return fmt.Errorf("function[%d]: %w", i, err)
		}
		if err := v.popCtrl(); err != nil {
			return fmt.Errorf("function[%d]: %w", i, err)
		}
	}

	for i, tag := range m.TagSection {
		if int(tag.Type) >= len(m.TypeSection) {
			return fmt.Errorf("tag[%d]: unknown type: %d", i, tag.Type)
		}
		if len(m.TypeSection[tag.Type].Results) != 0 {
			return fmt.Errorf("tag[%d]: non-empty tag result type", i)
		}
	}

	for i, g := range m.GlobalSection {
		if err := validateConstExpr(m, g.Init, g.Type.ValType); err != nil {
			return fmt.Errorf("global[%d] init_expr: %w", i, err)
		}
	}
	for i, e := range m.ElementSegment_() {
		if e.Mode == ElementModeActive {
			if err := validateConstExpr(m, e.OffsetExpr, ValueTypeI32); err != nil {
				return fmt.Errorf("element[%d] offset: %w", i, err)
			}
		}
	}
	for i, d := range m.DataSection {
		if d.Mode == DataModeActive {
			if err := validateConstExpr(m, d.OffsetExpr, ValueTypeI32); err != nil {
				return fmt.Errorf("data[%d] offset: %w", i, err)
			}
		}
	}
	return nil
}

// ElementSegment_ exists only to keep Validate readable without repeating
// m.ElementSection in two call sites with different receiver expressions.
func (m *Module) ElementSegment_() []ElementSegment { return m.ElementSection }

// validateConstExpr checks a constant expression used as a global
// initializer or segment offset: only const, global.get (of an imported
// immutable global), ref.null and ref.func are permitted, per spec.md's
// constant-expression restriction.
func validateConstExpr(m *Module, ce ConstantExpression, want ValueType) error {
	switch ce.Opcode {
	case OpcodeI32Const:
		return typeMismatch(want, ValueTypeI32)
	case OpcodeI64Const:
		return typeMismatch(want, ValueTypeI64)
	case OpcodeF32Const:
		return typeMismatch(want, ValueTypeF32)
	case OpcodeF64Const:
		return typeMismatch(want, ValueTypeF64)
	case OpcodeGlobalGet:
		idx, _, err := leb128.LoadUint32(ce.Data)
		if err != nil {
			return err
		}
		if idx >= m.ImportGlobalCount() {
			return fmt.Errorf("unknown global %d", idx)
		}
		gt, err := (&funcValidator{module: m}).globalType(idx)
		if err != nil {
			return err
		}
		if gt.Mutable {
			return fmt.Errorf("constant expression required")
		}
		return typeMismatch(want, gt.ValType)
	case OpcodeRefNull, OpcodeRefFunc:
		return nil
	default:
		return fmt.Errorf("invalid opcode for constant expression: %#x", ce.Opcode)
	}
}

func typeMismatch(want, got ValueType) error {
	if want != unknown && got != unknown && want != got {
		return fmt.Errorf("type mismatch: expected %s, got %s", api.ValueTypeName(want), api.ValueTypeName(got))
	}
	return nil
}

type ctrlFrame struct {
	opcode      Opcode
	startTypes  []ValueType // params visible to a branch that targets this frame (loop) or block's own params
	labelTypes  []ValueType // types a branch targeting this frame must supply
	endTypes    []ValueType // types left on the stack when the frame falls through normally
	height      int         // value-stack height when the frame was entered
	unreachable bool
}

type funcValidator struct {
	module     *Module
	features   api.CoreFeatures
	declared   map[Index]struct{}
	locals     []ValueType
	valueStack []ValueType
	ctrlStack  []ctrlFrame
}

// declaredFunctionRefs collects every function index appearing in a
// reference-producing context outside function bodies: element segments of
// any mode, ref.func global initializers, and exports. Only these may be the
// operand of ref.func inside a body.
func declaredFunctionRefs(m *Module) map[Index]struct{} {
	declared := map[Index]struct{}{}
	for i := range m.ElementSection {
		seg := &m.ElementSection[i]
		for _, fidx := range seg.Init {
			declared[fidx] = struct{}{}
		}
		for _, e := range seg.Exprs {
			if e.Opcode == OpcodeRefFunc {
				if fidx, _, err := leb128.LoadUint32(e.Data); err == nil {
					declared[fidx] = struct{}{}
				}
			}
		}
	}
	for i := range m.GlobalSection {
		if init := &m.GlobalSection[i].Init; init.Opcode == OpcodeRefFunc {
			if fidx, _, err := leb128.LoadUint32(init.Data); err == nil {
				declared[fidx] = struct{}{}
			}
		}
	}
	for i := range m.ExportSection {
		if exp := &m.ExportSection[i]; exp.Type == ExternTypeFunc {
			declared[exp.Index] = struct{}{}
		}
	}
	return declared
}

func (v *funcValidator) push(t ValueType) { v.valueStack = append(v.valueStack, t) }

func (v *funcValidator) pop(want ValueType) (ValueType, error) {
	top := &v.ctrlStack[len(v.ctrlStack)-1]
	if len(v.valueStack) == top.height {
		if top.unreachable {
			return unknown, nil
		}
		return unknown, fmt.Errorf("type mismatch: value stack underflow")
	}
	got := v.valueStack[len(v.valueStack)-1]
	v.valueStack = v.valueStack[:len(v.valueStack)-1]
	if err := typeMismatch(want, got); err != nil {
		return unknown, err
	}
	return got, nil
}

func (v *funcValidator) popAny() (ValueType, error) { return v.pop(unknown) }

func (v *funcValidator) pushCtrl(op Opcode, start, label []ValueType) {
	v.ctrlStack = append(v.ctrlStack, ctrlFrame{
		opcode: op, startTypes: start, labelTypes: label, endTypes: label, height: len(v.valueStack),
	})
	v.valueStack = append(v.valueStack, start...)
}

func (v *funcValidator) popCtrl() error {
	top := v.ctrlStack[len(v.ctrlStack)-1]
	for i := len(top.endTypes) - 1; i >= 0; i-- {
		if _, err := v.pop(top.endTypes[i]); err != nil {
			return err
		}
	}
	if len(v.valueStack) != top.height {
		return fmt.Errorf("type mismatch: extra values on stack at end of block")
	}
	v.ctrlStack = v.ctrlStack[:len(v.ctrlStack)-1]
	return nil
}

func (v *funcValidator) setUnreachable() {
	top := &v.ctrlStack[len(v.ctrlStack)-1]
	v.valueStack = v.valueStack[:top.height]
	top.unreachable = true
}

func (v *funcValidator) labelTypesAt(depth Index) ([]ValueType, error) {
	if int(depth) >= len(v.ctrlStack) {
		return nil, fmt.Errorf("unknown label %d", depth)
	}
	frame := v.ctrlStack[len(v.ctrlStack)-1-int(depth)]
	if frame.opcode == OpcodeLoop {
		return frame.startTypes, nil
	}
	return frame.labelTypes, nil
}

func (v *funcValidator) blockSig(bt BlockType) (params, results []ValueType, err error) {
	switch {
	case bt.Empty:
		return nil, nil, nil
	case bt.HasTypeIndex:
		if int(bt.TypeIndex) >= len(v.module.TypeSection) {
			return nil, nil, fmt.Errorf("unknown type %d", bt.TypeIndex)
		}
		ft := &v.module.TypeSection[bt.TypeIndex]
		return ft.Params, ft.Results, nil
	default:
		return nil, []ValueType{bt.ValueType}, nil
	}
}

// simpleSig gives a pop/push type signature for every core-spec numeric
// opcode in [0x45, 0xc4] that takes no immediate: comparisons, arithmetic,
// bitwise/shift ops and conversions. Opcode.go documents this byte range as
// round-tripping through the decoder opaquely; the validator still needs an
// exact signature for each one, so literal byte values are used directly
// rather than adding a named constant per opcode.
func simpleSig(op Opcode) (pop, push []ValueType, ok bool) {
	i32, i64, f32, f64 := ValueTypeI32, ValueTypeI64, ValueTypeF32, ValueTypeF64
	switch op {
	// i32 comparisons
	case 0x45: // i32.eqz
		return []ValueType{i32}, []ValueType{i32}, true
	case 0x46, 0x47, 0x48, 0x49, 0x4a, 0x4b, 0x4c, 0x4d, 0x4e, 0x4f:
		return []ValueType{i32, i32}, []ValueType{i32}, true
	// i64 comparisons
	case 0x50: // i64.eqz
		return []ValueType{i64}, []ValueType{i32}, true
	case 0x51, 0x52, 0x53, 0x54, 0x55, 0x56, 0x57, 0x58, 0x59, 0x5a:
		return []ValueType{i64, i64}, []ValueType{i32}, true
	// f32/f64 comparisons
	case 0x5b, 0x5c, 0x5d, 0x5e, 0x5f, 0x60:
		return []ValueType{f32, f32}, []ValueType{i32}, true
	case 0x61, 0x62, 0x63, 0x64, 0x65, 0x66:
		return []ValueType{f64, f64}, []ValueType{i32}, true
	// i32 unary/binary arithmetic
	case 0x67, 0x68, 0x69: // clz/ctz/popcnt
		return []ValueType{i32}, []ValueType{i32}, true
	case OpcodeI32Add, OpcodeI32Sub, OpcodeI32Mul, OpcodeI32DivS, OpcodeI32DivU,
		OpcodeI32RemS, OpcodeI32RemU,
		0x71, 0x72, 0x73, 0x74, 0x75, 0x76, 0x77, 0x78: // and/or/xor/shl/shr_s/shr_u/rotl/rotr
		return []ValueType{i32, i32}, []ValueType{i32}, true
	// i64 unary/binary arithmetic
	case 0x79, 0x7a, 0x7b: // clz/ctz/popcnt
		return []ValueType{i64}, []ValueType{i64}, true
	case OpcodeI64Add, OpcodeI64Sub, OpcodeI64Mul,
		0x7f, 0x80, 0x81, 0x82, 0x83, 0x84, 0x85, 0x86, 0x87, 0x88, 0x89, 0x8a:
		return []ValueType{i64, i64}, []ValueType{i64}, true
	// f32 unary/binary arithmetic
	case 0x8b, 0x8c, 0x8d, 0x8e, 0x8f, 0x90, 0x91: // abs/neg/ceil/floor/trunc/nearest/sqrt
		return []ValueType{f32}, []ValueType{f32}, true
	case OpcodeF32Add, OpcodeF32Sub, OpcodeF32Mul, OpcodeF32Div, 0x96, 0x97, 0x98: // min/max/copysign
		return []ValueType{f32, f32}, []ValueType{f32}, true
	// f64 unary/binary arithmetic
	case 0x99, 0x9a, 0x9b, 0x9c, 0x9d, 0x9e, 0x9f:
		return []ValueType{f64}, []ValueType{f64}, true
	case OpcodeF64Add, OpcodeF64Sub, OpcodeF64Mul, OpcodeF64Div, 0xa4, 0xa5, 0xa6:
		return []ValueType{f64, f64}, []ValueType{f64}, true
	// conversions
	case OpcodeI32WrapI64:
		return []ValueType{i64}, []ValueType{i32}, true
	case 0xa8, 0xa9: // i32.trunc_f32_s/u
		return []ValueType{f32}, []ValueType{i32}, true
	case 0xaa, 0xab: // i32.trunc_f64_s/u
		return []ValueType{f64}, []ValueType{i32}, true
	case OpcodeI64ExtendI32S, OpcodeI64ExtendI32U:
		return []ValueType{i32}, []ValueType{i64}, true
	case 0xae, 0xaf: // i64.trunc_f32_s/u
		return []ValueType{f32}, []ValueType{i64}, true
	case 0xb0, 0xb1: // i64.trunc_f64_s/u
		return []ValueType{f64}, []ValueType{i64}, true
	case 0xb2, 0xb3: // f32.convert_i32_s/u
		return []ValueType{i32}, []ValueType{f32}, true
	case 0xb4, 0xb5: // f32.convert_i64_s/u
		return []ValueType{i64}, []ValueType{f32}, true
	case 0xb6: // f32.demote_f64
		return []ValueType{f64}, []ValueType{f32}, true
	case 0xb7, 0xb8: // f64.convert_i32_s/u
		return []ValueType{i32}, []ValueType{f64}, true
	case 0xb9, 0xba: // f64.convert_i64_s/u
		return []ValueType{i64}, []ValueType{f64}, true
	case 0xbb: // f64.promote_f32
		return []ValueType{f32}, []ValueType{f64}, true
	case 0xbc: // i32.reinterpret_f32
		return []ValueType{f32}, []ValueType{i32}, true
	case 0xbd: // i64.reinterpret_f64
		return []ValueType{f64}, []ValueType{i64}, true
	case 0xbe: // f32.reinterpret_i32
		return []ValueType{i32}, []ValueType{f32}, true
	case 0xbf: // f64.reinterpret_i64
		return []ValueType{i64}, []ValueType{f64}, true
	case OpcodeI32Extend8S, OpcodeI32Extend16S:
		return []ValueType{i32}, []ValueType{i32}, true
	case OpcodeI64Extend8S, OpcodeI64Extend16S, OpcodeI64Extend32S:
		return []ValueType{i64}, []ValueType{i64}, true
	default:
		return nil, nil, false
	}
}

// memNaturalAlign returns log2 of the access width in bytes for each plain
// memory load/store opcode: the largest alignment exponent its memarg may
// declare.
func memNaturalAlign(op Opcode) (uint32, bool) {
	switch op {
	case OpcodeI32Load8S, OpcodeI32Load8U, OpcodeI64Load8S, OpcodeI64Load8U,
		OpcodeI32Store8, OpcodeI64Store8:
		return 0, true
	case OpcodeI32Load16S, OpcodeI32Load16U, OpcodeI64Load16S, OpcodeI64Load16U,
		OpcodeI32Store16, OpcodeI64Store16:
		return 1, true
	case OpcodeI32Load, OpcodeF32Load, OpcodeI64Load32S, OpcodeI64Load32U,
		OpcodeI32Store, OpcodeF32Store, OpcodeI64Store32:
		return 2, true
	case OpcodeI64Load, OpcodeF64Load, OpcodeI64Store, OpcodeF64Store:
		return 3, true
	}
	return 0, false
}

// atomicNaturalAlign is memNaturalAlign for the 0xFE atomic opcodes that
// carry a memarg.
func atomicNaturalAlign(op OpcodeAtomic) (uint32, bool) {
	switch op {
	case OpcodeAtomicMemoryNotify, OpcodeAtomicMemoryWait32, OpcodeAtomicI32Load,
		OpcodeAtomicI32Store, OpcodeAtomicI32RmwAdd, OpcodeAtomicI32RmwCmpxchg:
		return 2, true
	case OpcodeAtomicMemoryWait64, OpcodeAtomicI64Load, OpcodeAtomicI64Store,
		OpcodeAtomicI64RmwAdd, OpcodeAtomicI64RmwCmpxchg:
		return 3, true
	}
	return 0, false
}

func checkAlign(align, natural uint32) error {
	if align > natural {
		return fmt.Errorf("alignment must not be larger than natural")
	}
	return nil
}

func (v *funcValidator) validateBody(body []Instruction) error {
	for i := range body {
		if err := v.validateOne(&body[i]); err != nil {
			return err
		}
	}
	return nil
}

func (v *funcValidator) validateOne(ins *Instruction) error {
	if natural, ok := memNaturalAlign(ins.Opcode); ok {
		if err := checkAlign(ins.ImmAlign, natural); err != nil {
			return err
		}
	}
	switch ins.Opcode {
	case OpcodeUnreachable:
		v.setUnreachable()
		return nil
	case OpcodeNop:
		return nil

	case OpcodeBlock, OpcodeLoop, OpcodeIf:
		params, results, err := v.blockSig(ins.ImmBlockType)
		if err != nil {
			return err
		}
		if ins.Opcode == OpcodeIf {
			if _, err := v.pop(ValueTypeI32); err != nil {
				return err
			}
		}
		for _, p := range params {
			if _, err := v.pop(p); err != nil {
				return err
			}
		}
		label := results
		if ins.Opcode == OpcodeLoop {
			label = params
		}
		v.pushCtrl(ins.Opcode, params, label)
		v.ctrlStack[len(v.ctrlStack)-1].endTypes = results
		if err := v.validateBody(ins.Block.Then); err != nil {
			return err
		}
		if ins.Opcode == OpcodeIf && ins.Block.Else != nil {
			// Re-open the frame at the same param height for the else arm.
			thenEnd := v.ctrlStack[len(v.ctrlStack)-1]
			if err := v.popCtrl(); err != nil {
				return err
			}
			v.pushCtrl(ins.Opcode, params, label)
			v.ctrlStack[len(v.ctrlStack)-1].endTypes = thenEnd.endTypes
			if err := v.validateBody(ins.Block.Else); err != nil {
				return err
			}
		} else if ins.Opcode == OpcodeIf && !valueTypesEqual(params, results) {
			// An if with no else falls through with its params unchanged, so
			// the signature must be an identity to type-check.
			return fmt.Errorf("type mismatch: else is missing")
		}
		return v.popCtrl()

	case OpcodeTryTable:
		params, results, err := v.blockSig(ins.ImmBlockType)
		if err != nil {
			return err
		}
		for _, p := range params {
			if _, err := v.pop(p); err != nil {
				return err
			}
		}
		v.pushCtrl(ins.Opcode, params, results)
		v.ctrlStack[len(v.ctrlStack)-1].endTypes = results
		for _, c := range ins.Block.Catches {
			if c.Kind == CatchKindCatch || c.Kind == CatchKindCatchRef {
				if c.Tag >= v.module.ImportTagCount()+Index(len(v.module.TagSection)) {
					return fmt.Errorf("unknown tag: %d", c.Tag)
				}
			}
			if _, err := v.labelTypesAt(c.Label); err != nil {
				return err
			}
		}
		if err := v.validateBody(ins.Block.Then); err != nil {
			return err
		}
		return v.popCtrl()

	case OpcodeElse, OpcodeEnd:
		return nil // consumed structurally by the Block container, not walked as leaves

	case OpcodeBr:
		label, err := v.labelTypesAt(ins.ImmIndex)
		if err != nil {
			return err
		}
		for i := len(label) - 1; i >= 0; i-- {
			if _, err := v.pop(label[i]); err != nil {
				return err
			}
		}
		v.setUnreachable()
		return nil

	case OpcodeBrIf:
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		label, err := v.labelTypesAt(ins.ImmIndex)
		if err != nil {
			return err
		}
		for i := len(label) - 1; i >= 0; i-- {
			if _, err := v.pop(label[i]); err != nil {
				return err
			}
		}
		for _, t := range label {
			v.push(t)
		}
		return nil

	case OpcodeBrTable:
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		defLabel, err := v.labelTypesAt(ins.ImmDefault)
		if err != nil {
			return err
		}
		for _, tgt := range ins.ImmTargets {
			label, err := v.labelTypesAt(tgt)
			if err != nil {
				return err
			}
			if len(label) != len(defLabel) {
				return fmt.Errorf("br_table target arity mismatch")
			}
		}
		for i := len(defLabel) - 1; i >= 0; i-- {
			if _, err := v.pop(defLabel[i]); err != nil {
				return err
			}
		}
		v.setUnreachable()
		return nil

	case OpcodeReturn:
		fn := v.ctrlStack[0]
		for i := len(fn.labelTypes) - 1; i >= 0; i-- {
			if _, err := v.pop(fn.labelTypes[i]); err != nil {
				return err
			}
		}
		v.setUnreachable()
		return nil

	case OpcodeThrow:
		tt, err := v.tagType(ins.ImmIndex)
		if err != nil {
			return err
		}
		for i := len(tt.Params) - 1; i >= 0; i-- {
			if _, err := v.pop(tt.Params[i]); err != nil {
				return err
			}
		}
		v.setUnreachable()
		return nil
	case OpcodeThrowRef:
		if _, err := v.pop(ValueTypeExnref); err != nil {
			return err
		}
		v.setUnreachable()
		return nil

	case OpcodeCall:
		return v.validateCall(ins.ImmIndex)
	case OpcodeCallIndirect:
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		return v.validateCallSig(ins.ImmIndex)
	case OpcodeReturnCall:
		if err := v.validateCall(ins.ImmIndex); err != nil {
			return err
		}
		v.setUnreachable()
		return nil
	case OpcodeReturnCallIndirect:
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		if err := v.validateCallSig(ins.ImmIndex); err != nil {
			return err
		}
		v.setUnreachable()
		return nil
	case OpcodeCallRef:
		if _, err := v.pop(ValueTypeFuncref); err != nil {
			return err
		}
		return v.validateCallSig(ins.ImmIndex)

	case OpcodeDrop:
		_, err := v.popAny()
		return err
	case OpcodeSelect:
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		b, err := v.popAny()
		if err != nil {
			return err
		}
		if _, err := v.pop(b); err != nil {
			return err
		}
		v.push(b)
		return nil
	case OpcodeSelectT:
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		if _, err := v.pop(ins.ImmValType); err != nil {
			return err
		}
		if _, err := v.pop(ins.ImmValType); err != nil {
			return err
		}
		v.push(ins.ImmValType)
		return nil

	case OpcodeLocalGet:
		if int(ins.ImmIndex) >= len(v.locals) {
			return fmt.Errorf("unknown local %d", ins.ImmIndex)
		}
		v.push(v.locals[ins.ImmIndex])
		return nil
	case OpcodeLocalSet:
		if int(ins.ImmIndex) >= len(v.locals) {
			return fmt.Errorf("unknown local %d", ins.ImmIndex)
		}
		_, err := v.pop(v.locals[ins.ImmIndex])
		return err
	case OpcodeLocalTee:
		if int(ins.ImmIndex) >= len(v.locals) {
			return fmt.Errorf("unknown local %d", ins.ImmIndex)
		}
		t := v.locals[ins.ImmIndex]
		if _, err := v.pop(t); err != nil {
			return err
		}
		v.push(t)
		return nil
	case OpcodeGlobalGet:
		t, err := v.globalType(ins.ImmIndex)
		if err != nil {
			return err
		}
		v.push(t.ValType)
		return nil
	case OpcodeGlobalSet:
		t, err := v.globalType(ins.ImmIndex)
		if err != nil {
			return err
		}
		if !t.Mutable {
			return fmt.Errorf("global %d is immutable", ins.ImmIndex)
		}
		_, err = v.pop(t.ValType)
		return err

	case OpcodeTableGet:
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		tt, err := v.tableType(ins.ImmIndex)
		if err != nil {
			return err
		}
		v.push(tt.ElemType)
		return nil
	case OpcodeTableSet:
		tt, err := v.tableType(ins.ImmIndex)
		if err != nil {
			return err
		}
		if _, err := v.pop(tt.ElemType); err != nil {
			return err
		}
		_, err = v.pop(ValueTypeI32)
		return err

	case OpcodeRefNull:
		v.push(ins.ImmValType)
		return nil
	case OpcodeRefIsNull:
		if _, err := v.popAny(); err != nil {
			return err
		}
		v.push(ValueTypeI32)
		return nil
	case OpcodeRefFunc:
		if int(ins.ImmIndex) >= int(v.module.FunctionDefinitionCount()) {
			return fmt.Errorf("unknown function %d", ins.ImmIndex)
		}
		if _, ok := v.declared[ins.ImmIndex]; !ok {
			return fmt.Errorf("undeclared function reference: %d", ins.ImmIndex)
		}
		v.push(ValueTypeFuncref)
		return nil
	case OpcodeRefAsNonNull:
		t, err := v.popAny()
		if err != nil {
			return err
		}
		v.push(t)
		return nil
	case OpcodeBrOnNull:
		t, err := v.popAny()
		if err != nil {
			return err
		}
		label, err := v.labelTypesAt(ins.ImmIndex)
		if err != nil {
			return err
		}
		for i := len(label) - 1; i >= 0; i-- {
			if _, err := v.pop(label[i]); err != nil {
				return err
			}
		}
		for _, lt := range label {
			v.push(lt)
		}
		// The non-null reference passes through on fallthrough; only the
		// taken branch consumes it.
		v.push(t)
		return nil
	case OpcodeBrOnNonNull:
		if _, err := v.popAny(); err != nil {
			return err
		}
		label, err := v.labelTypesAt(ins.ImmIndex)
		if err != nil {
			return err
		}
		// The taken branch carries the label types with the non-null
		// reference as the last one; the fallthrough keeps only the values
		// beneath it, since the null reference is consumed either way.
		carried := label
		if len(carried) > 0 {
			carried = carried[:len(carried)-1]
		}
		for i := len(carried) - 1; i >= 0; i-- {
			if _, err := v.pop(carried[i]); err != nil {
				return err
			}
		}
		for _, lt := range carried {
			v.push(lt)
		}
		return nil

	case OpcodeI32Const:
		v.push(ValueTypeI32)
		return nil
	case OpcodeI64Const:
		v.push(ValueTypeI64)
		return nil
	case OpcodeF32Const:
		v.push(ValueTypeF32)
		return nil
	case OpcodeF64Const:
		v.push(ValueTypeF64)
		return nil

	case OpcodeMemorySize:
		v.push(ValueTypeI32)
		return nil
	case OpcodeMemoryGrow:
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		v.push(ValueTypeI32)
		return nil

	case OpcodeI32Load, OpcodeI32Load8S, OpcodeI32Load8U, OpcodeI32Load16S, OpcodeI32Load16U:
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		v.push(ValueTypeI32)
		return nil
	case OpcodeI64Load, OpcodeI64Load8S, OpcodeI64Load8U, OpcodeI64Load16S, OpcodeI64Load16U, OpcodeI64Load32S, OpcodeI64Load32U:
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		v.push(ValueTypeI64)
		return nil
	case OpcodeF32Load:
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		v.push(ValueTypeF32)
		return nil
	case OpcodeF64Load:
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		v.push(ValueTypeF64)
		return nil
	case OpcodeI32Store, OpcodeI32Store8, OpcodeI32Store16:
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		_, err := v.pop(ValueTypeI32)
		return err
	case OpcodeI64Store, OpcodeI64Store8, OpcodeI64Store16, OpcodeI64Store32:
		if _, err := v.pop(ValueTypeI64); err != nil {
			return err
		}
		_, err := v.pop(ValueTypeI32)
		return err
	case OpcodeF32Store:
		if _, err := v.pop(ValueTypeF32); err != nil {
			return err
		}
		_, err := v.pop(ValueTypeI32)
		return err
	case OpcodeF64Store:
		if _, err := v.pop(ValueTypeF64); err != nil {
			return err
		}
		_, err := v.pop(ValueTypeI32)
		return err

	case OpcodeMiscPrefix:
		return v.validateMisc(ins)
	case OpcodeVecPrefix:
		return v.validateVec(ins)
	case OpcodeAtomicPrefix:
		return v.validateAtomic(ins)
	}

	if pop, push, ok := simpleSig(ins.Opcode); ok {
		for i := len(pop) - 1; i >= 0; i-- {
			if _, err := v.pop(pop[i]); err != nil {
				return err
			}
		}
		for _, t := range push {
			v.push(t)
		}
		return nil
	}
	return fmt.Errorf("unknown opcode: %#x", ins.Opcode)
}

func (v *funcValidator) validateCall(funcIdx Index) error {
	if int(funcIdx) >= int(v.module.FunctionDefinitionCount()) {
		return fmt.Errorf("unknown function %d", funcIdx)
	}
	ft := v.module.TypeOfFunction(funcIdx)
	for i := len(ft.Params) - 1; i >= 0; i-- {
		if _, err := v.pop(ft.Params[i]); err != nil {
			return err
		}
	}
	for _, r := range ft.Results {
		v.push(r)
	}
	return nil
}

func (v *funcValidator) validateCallSig(typeIdx Index) error {
	if int(typeIdx) >= len(v.module.TypeSection) {
		return fmt.Errorf("unknown type %d", typeIdx)
	}
	ft := &v.module.TypeSection[typeIdx]
	for i := len(ft.Params) - 1; i >= 0; i-- {
		if _, err := v.pop(ft.Params[i]); err != nil {
			return err
		}
	}
	for _, r := range ft.Results {
		v.push(r)
	}
	return nil
}

func (v *funcValidator) globalType(idx Index) (*GlobalType, error) {
	importCount := v.module.ImportGlobalCount()
	if idx < importCount {
		var seen Index
		for i := range v.module.ImportSection {
			imp := &v.module.ImportSection[i]
			if imp.Type == ExternTypeGlobal {
				if seen == idx {
					return &imp.DescGlobal, nil
				}
				seen++
			}
		}
	}
	local := idx - importCount
	if int(local) >= len(v.module.GlobalSection) {
		return nil, fmt.Errorf("unknown global %d", idx)
	}
	return &v.module.GlobalSection[local].Type, nil
}

func (v *funcValidator) tableType(idx Index) (*TableType, error) {
	importCount := v.module.ImportTableCount()
	if idx < importCount {
		var seen Index
		for i := range v.module.ImportSection {
			imp := &v.module.ImportSection[i]
			if imp.Type == ExternTypeTable {
				if seen == idx {
					return &imp.DescTable, nil
				}
				seen++
			}
		}
	}
	local := idx - importCount
	if int(local) >= len(v.module.TableSection) {
		return nil, fmt.Errorf("unknown table %d", idx)
	}
	return &v.module.TableSection[local], nil
}

func (v *funcValidator) tagType(idx Index) (*FunctionType, error) {
	importCount := v.module.ImportTagCount()
	if idx < importCount {
		var seen Index
		for i := range v.module.ImportSection {
			imp := &v.module.ImportSection[i]
			if imp.Type == ExternTypeTag {
				if seen == idx {
					if int(imp.DescTag) >= len(v.module.TypeSection) {
						return nil, fmt.Errorf("unknown type %d", imp.DescTag)
					}
					return &v.module.TypeSection[imp.DescTag], nil
				}
				seen++
			}
		}
	}
	local := idx - importCount
	if int(local) >= len(v.module.TagSection) {
		return nil, fmt.Errorf("unknown tag: %d", idx)
	}
	typeIdx := v.module.TagSection[local].Type
	if int(typeIdx) >= len(v.module.TypeSection) {
		return nil, fmt.Errorf("unknown type %d", typeIdx)
	}
	return &v.module.TypeSection[typeIdx], nil
}

// validateMisc checks the 0xFC-prefixed (trunc_sat, bulk-memory) opcodes.
func (v *funcValidator) validateMisc(ins *Instruction) error {
	switch ins.Misc {
	case OpcodeMiscI32TruncSatF32S, OpcodeMiscI32TruncSatF32U:
		if _, err := v.pop(ValueTypeF32); err != nil {
			return err
		}
		v.push(ValueTypeI32)
		return nil
	case OpcodeMiscI32TruncSatF64S, OpcodeMiscI32TruncSatF64U:
		if _, err := v.pop(ValueTypeF64); err != nil {
			return err
		}
		v.push(ValueTypeI32)
		return nil
	case OpcodeMiscI64TruncSatF32S, OpcodeMiscI64TruncSatF32U:
		if _, err := v.pop(ValueTypeF32); err != nil {
			return err
		}
		v.push(ValueTypeI64)
		return nil
	case OpcodeMiscI64TruncSatF64S, OpcodeMiscI64TruncSatF64U:
		if _, err := v.pop(ValueTypeF64); err != nil {
			return err
		}
		v.push(ValueTypeI64)
		return nil
	case OpcodeMiscMemoryInit, OpcodeMiscMemoryCopy, OpcodeMiscMemoryFill:
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		_, err := v.pop(ValueTypeI32)
		return err
	case OpcodeMiscDataDrop, OpcodeMiscElemDrop:
		return nil
	case OpcodeMiscTableInit, OpcodeMiscTableCopy:
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		_, err := v.pop(ValueTypeI32)
		return err
	case OpcodeMiscTableGrow:
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		tt, err := v.tableType(ins.ImmIndex)
		if err != nil {
			return err
		}
		if _, err := v.pop(tt.ElemType); err != nil {
			return err
		}
		v.push(ValueTypeI32)
		return nil
	case OpcodeMiscTableSize:
		v.push(ValueTypeI32)
		return nil
	case OpcodeMiscTableFill:
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		tt, err := v.tableType(ins.ImmIndex)
		if err != nil {
			return err
		}
		if _, err := v.pop(tt.ElemType); err != nil {
			return err
		}
		_, err = v.pop(ValueTypeI32)
		return err
	case OpcodeMiscI64Add128, OpcodeMiscI64Sub128:
		for i := 0; i < 4; i++ {
			if _, err := v.pop(ValueTypeI64); err != nil {
				return err
			}
		}
		v.push(ValueTypeI64)
		v.push(ValueTypeI64)
		return nil
	case OpcodeMiscI64MulWideS, OpcodeMiscI64MulWideU:
		if _, err := v.pop(ValueTypeI64); err != nil {
			return err
		}
		if _, err := v.pop(ValueTypeI64); err != nil {
			return err
		}
		v.push(ValueTypeI64)
		v.push(ValueTypeI64)
		return nil
	}
	return fmt.Errorf("unknown misc opcode: %d", ins.Misc)
}

// validateVec checks the representative SIMD subset (see DESIGN.md); any
// other 0xFD opcode is rejected here rather than silently mis-executed.
func (v *funcValidator) validateVec(ins *Instruction) error {
	switch ins.Vec {
	case OpcodeVecV128Const:
		v.push(ValueTypeV128)
		return nil
	case OpcodeVecV128Load:
		if err := checkAlign(ins.ImmAlign, 4); err != nil {
			return err
		}
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		v.push(ValueTypeV128)
		return nil
	case OpcodeVecV128Store:
		if err := checkAlign(ins.ImmAlign, 4); err != nil {
			return err
		}
		if _, err := v.pop(ValueTypeV128); err != nil {
			return err
		}
		_, err := v.pop(ValueTypeI32)
		return err
	case OpcodeVecI32x4Splat:
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		v.push(ValueTypeV128)
		return nil
	case OpcodeVecI64x2Splat:
		if _, err := v.pop(ValueTypeI64); err != nil {
			return err
		}
		v.push(ValueTypeV128)
		return nil
	case OpcodeVecF32x4Splat:
		if _, err := v.pop(ValueTypeF32); err != nil {
			return err
		}
		v.push(ValueTypeV128)
		return nil
	case OpcodeVecF64x2Splat:
		if _, err := v.pop(ValueTypeF64); err != nil {
			return err
		}
		v.push(ValueTypeV128)
		return nil
	case OpcodeVecI32x4ExtractLane:
		if _, err := v.pop(ValueTypeV128); err != nil {
			return err
		}
		v.push(ValueTypeI32)
		return nil
	case OpcodeVecI32x4ReplaceLane:
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		_, err := v.pop(ValueTypeV128)
		if err != nil {
			return err
		}
		v.push(ValueTypeV128)
		return nil
	case OpcodeVecI8x16Shuffle, OpcodeVecI8x16Swizzle,
		OpcodeVecI32x4Add, OpcodeVecI32x4Sub, OpcodeVecI32x4Mul,
		OpcodeVecF32x4Add, OpcodeVecF32x4Sub, OpcodeVecF32x4Mul:
		if _, err := v.pop(ValueTypeV128); err != nil {
			return err
		}
		if _, err := v.pop(ValueTypeV128); err != nil {
			return err
		}
		v.push(ValueTypeV128)
		return nil
	}
	return fmt.Errorf("unsupported SIMD opcode: %#x (representative subset only)", ins.Vec)
}

// validateAtomic checks the representative atomics subset (see DESIGN.md).
func (v *funcValidator) validateAtomic(ins *Instruction) error {
	if natural, ok := atomicNaturalAlign(ins.Atomic); ok {
		if err := checkAlign(ins.ImmAlign, natural); err != nil {
			return err
		}
	}
	switch ins.Atomic {
	case OpcodeAtomicFence:
		return nil
	case OpcodeAtomicMemoryNotify:
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		v.push(ValueTypeI32)
		return nil
	case OpcodeAtomicMemoryWait32:
		if _, err := v.pop(ValueTypeI64); err != nil {
			return err
		}
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		v.push(ValueTypeI32)
		return nil
	case OpcodeAtomicMemoryWait64:
		if _, err := v.pop(ValueTypeI64); err != nil {
			return err
		}
		if _, err := v.pop(ValueTypeI64); err != nil {
			return err
		}
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		v.push(ValueTypeI32)
		return nil
	case OpcodeAtomicI32Load:
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		v.push(ValueTypeI32)
		return nil
	case OpcodeAtomicI64Load:
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		v.push(ValueTypeI64)
		return nil
	case OpcodeAtomicI32Store:
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		_, err := v.pop(ValueTypeI32)
		return err
	case OpcodeAtomicI64Store:
		if _, err := v.pop(ValueTypeI64); err != nil {
			return err
		}
		_, err := v.pop(ValueTypeI32)
		return err
	case OpcodeAtomicI32RmwAdd:
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		v.push(ValueTypeI32)
		return nil
	case OpcodeAtomicI64RmwAdd:
		if _, err := v.pop(ValueTypeI64); err != nil {
			return err
		}
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		v.push(ValueTypeI64)
		return nil
	case OpcodeAtomicI32RmwCmpxchg:
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		v.push(ValueTypeI32)
		return nil
	case OpcodeAtomicI64RmwCmpxchg:
		if _, err := v.pop(ValueTypeI64); err != nil {
			return err
		}
		if _, err := v.pop(ValueTypeI64); err != nil {
			return err
		}
		if _, err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		v.push(ValueTypeI64)
		return nil
	}
	return fmt.Errorf("unsupported atomic opcode: %#x (representative subset only)", ins.Atomic)
}
