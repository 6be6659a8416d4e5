package interpreter

import (
	"testing"

	"github.com/gowasm/gowasm/internal/leb128"
	"github.com/gowasm/gowasm/internal/testing/require"
	"github.com/gowasm/gowasm/internal/wasm"
)

// callIndirectModule is the §8 S3 scenario: a funcref table of size 10 with
// $f (returning 11) and $g (returning 22) written at offset 1, dispatched by
// func[0] through call_indirect.
func callIndirectModule() *wasm.Module {
	return &wasm.Module{
		TypeSection: []wasm.FunctionType{
			{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{i32}},
			{Results: []wasm.ValueType{i32}},
		},
		FunctionSection: []wasm.Index{0, 1, 1},
		TableSection:    []wasm.TableType{{ElemType: wasm.ValueTypeFuncref, Min: 10}},
		ElementSection: []wasm.ElementSegment{{
			Type: wasm.ValueTypeFuncref, Mode: wasm.ElementModeActive,
			OffsetExpr: wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: leb128.EncodeInt32(1)},
			Init:       []wasm.Index{1, 2},
		}},
		CodeSection: []wasm.Code{
			{Body: []wasm.Instruction{
				{Opcode: wasm.OpcodeLocalGet, ImmIndex: 0},
				{Opcode: wasm.OpcodeCallIndirect, ImmIndex: 1, ImmIndex2: 0},
			}},
			{Body: []wasm.Instruction{{Opcode: wasm.OpcodeI32Const, ImmI32: 11}}},
			{Body: []wasm.Instruction{{Opcode: wasm.OpcodeI32Const, ImmI32: 22}}},
		},
	}
}

func TestCallIndirect(t *testing.T) {
	inst := buildInstance(t, callIndirectModule())

	callExpectingError(t, inst, 0, "uninitialized element", 0)
	require.Equal(t, []uint64{11}, call(t, inst, 0, 1))
	require.Equal(t, []uint64{22}, call(t, inst, 0, 2))
	callExpectingError(t, inst, 0, "undefined element", 100)
}

func TestCallIndirect_TypeMismatch(t *testing.T) {
	m := callIndirectModule()
	// Redirect the dispatch to expect (i32) -> i32, which neither table
	// entry has.
	m.CodeSection[0].Body[1].ImmIndex = 0
	m.CodeSection[0].Body = append([]wasm.Instruction{
		{Opcode: wasm.OpcodeI32Const, ImmI32: 9},
	}, m.CodeSection[0].Body...)
	inst := buildInstance(t, m)
	callExpectingError(t, inst, 0, "indirect call type mismatch", 1)
}

func TestTableOps(t *testing.T) {
	// tableModule: table of 3, func[0] get(i), func[1] set(i) writing a null,
	// func[2] size(), func[3] grow(n), func[4] fill(dst, n).
	tableModule := func(max *uint32) *wasm.Module {
		return &wasm.Module{
			TypeSection: []wasm.FunctionType{
				{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{wasm.ValueTypeExternref}},
				{Params: []wasm.ValueType{i32}},
				{Results: []wasm.ValueType{i32}},
				{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{i32}},
				{Params: []wasm.ValueType{i32, i32}},
			},
			FunctionSection: []wasm.Index{0, 1, 2, 3, 4},
			TableSection:    []wasm.TableType{{ElemType: wasm.ValueTypeExternref, Min: 3, Max: max}},
			CodeSection: []wasm.Code{
				{Body: []wasm.Instruction{
					{Opcode: wasm.OpcodeLocalGet, ImmIndex: 0},
					{Opcode: wasm.OpcodeTableGet, ImmIndex: 0},
				}},
				{Body: []wasm.Instruction{
					{Opcode: wasm.OpcodeLocalGet, ImmIndex: 0},
					{Opcode: wasm.OpcodeRefNull, ImmValType: wasm.ValueTypeExternref},
					{Opcode: wasm.OpcodeTableSet, ImmIndex: 0},
				}},
				{Body: []wasm.Instruction{
					{Opcode: wasm.OpcodeMiscPrefix, Misc: wasm.OpcodeMiscTableSize, ImmIndex: 0},
				}},
				{Body: []wasm.Instruction{
					{Opcode: wasm.OpcodeRefNull, ImmValType: wasm.ValueTypeExternref},
					{Opcode: wasm.OpcodeLocalGet, ImmIndex: 0},
					{Opcode: wasm.OpcodeMiscPrefix, Misc: wasm.OpcodeMiscTableGrow, ImmIndex: 0},
				}},
				{Body: []wasm.Instruction{
					{Opcode: wasm.OpcodeLocalGet, ImmIndex: 0},
					{Opcode: wasm.OpcodeRefNull, ImmValType: wasm.ValueTypeExternref},
					{Opcode: wasm.OpcodeLocalGet, ImmIndex: 1},
					{Opcode: wasm.OpcodeMiscPrefix, Misc: wasm.OpcodeMiscTableFill, ImmIndex: 0},
				}},
			},
		}
	}

	t.Run("get/set bounds", func(t *testing.T) {
		inst := buildInstance(t, tableModule(nil))
		require.Equal(t, []uint64{0}, call(t, inst, 0, 0))
		callExpectingError(t, inst, 0, "out of bounds table access", 3)
		callExpectingError(t, inst, 1, "out of bounds table access", 3)
	})

	t.Run("grow returns previous size", func(t *testing.T) {
		inst := buildInstance(t, tableModule(nil))
		require.Equal(t, []uint64{3}, call(t, inst, 3, 2))
		require.Equal(t, []uint64{5}, call(t, inst, 2))
	})

	t.Run("grow past max returns -1", func(t *testing.T) {
		max := uint32(4)
		inst := buildInstance(t, tableModule(&max))
		require.Equal(t, []uint64{uint64(uint32(0xffffffff))}, call(t, inst, 3, 2))
		require.Equal(t, []uint64{3}, call(t, inst, 2))
	})

	t.Run("fill bounds", func(t *testing.T) {
		inst := buildInstance(t, tableModule(nil))
		call(t, inst, 4, 0, 3)
		callExpectingError(t, inst, 4, "out of bounds table access", 2, 2)
	})
}

func TestTableInit_ElemDrop(t *testing.T) {
	// A passive element segment holding func[2]; func[0] runs table.init.
	m := &wasm.Module{
		TypeSection: []wasm.FunctionType{
			{Results: []wasm.ValueType{i32}},
			{Params: []wasm.ValueType{i32, i32, i32}},
			{},
		},
		FunctionSection: []wasm.Index{1, 2, 0},
		TableSection:    []wasm.TableType{{ElemType: wasm.ValueTypeFuncref, Min: 2}},
		ElementSection: []wasm.ElementSegment{{
			Type: wasm.ValueTypeFuncref, Mode: wasm.ElementModePassive, Init: []wasm.Index{2},
		}},
		CodeSection: []wasm.Code{
			// init(dst, src, n)
			{Body: []wasm.Instruction{
				{Opcode: wasm.OpcodeLocalGet, ImmIndex: 0},
				{Opcode: wasm.OpcodeLocalGet, ImmIndex: 1},
				{Opcode: wasm.OpcodeLocalGet, ImmIndex: 2},
				{Opcode: wasm.OpcodeMiscPrefix, Misc: wasm.OpcodeMiscTableInit, ImmIndex: 0, ImmIndex2: 0},
			}},
			// drop()
			{Body: []wasm.Instruction{
				{Opcode: wasm.OpcodeMiscPrefix, Misc: wasm.OpcodeMiscElemDrop, ImmIndex: 0},
			}},
			// target() -> 33
			{Body: []wasm.Instruction{{Opcode: wasm.OpcodeI32Const, ImmI32: 33}}},
		},
	}

	t.Run("init installs the segment's ref", func(t *testing.T) {
		inst := buildInstance(t, m)
		call(t, inst, 0, 0, 0, 1)
		require.NotEqual(t, wasm.Reference(0), inst.Tables[0].References[0])
	})

	t.Run("init after drop traps unless zero length", func(t *testing.T) {
		inst := buildInstance(t, m)
		call(t, inst, 1)
		callExpectingError(t, inst, 0, "out of bounds table access", 0, 0, 1)
		call(t, inst, 0, 0, 0, 0)
	})

	t.Run("init out of bounds traps", func(t *testing.T) {
		inst := buildInstance(t, m)
		callExpectingError(t, inst, 0, "out of bounds table access", 0, 0, 2)
		callExpectingError(t, inst, 0, "out of bounds table access", 2, 0, 1)
	})
}
