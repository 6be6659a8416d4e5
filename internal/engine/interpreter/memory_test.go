package interpreter

import (
	"testing"

	"github.com/gowasm/gowasm/internal/leb128"
	"github.com/gowasm/gowasm/internal/testing/require"
	"github.com/gowasm/gowasm/internal/wasm"
)

func withMemory(min uint32, max *uint32) func(*wasm.Module) {
	return func(m *wasm.Module) {
		m.MemorySection = []wasm.MemoryType{{Min: min, Max: max}}
	}
}

func maxPages(n uint32) *uint32 { return &n }

// TestMemory_TrapPreservesContents is the §8 S1 scenario: a partially
// out-of-bounds i64 store traps without writing any byte, so a subsequent
// i32 load at the same address reads zero.
func TestMemory_TrapPreservesContents(t *testing.T) {
	m := &wasm.Module{
		TypeSection: []wasm.FunctionType{
			{Params: []wasm.ValueType{i64}},
			{Results: []wasm.ValueType{i32}},
		},
		FunctionSection: []wasm.Index{0, 1},
		MemorySection:   []wasm.MemoryType{{Min: 1}},
		CodeSection: []wasm.Code{
			// store(v): i64.store align=4 at 65532.
			{Body: []wasm.Instruction{
				{Opcode: wasm.OpcodeI32Const, ImmI32: 65532},
				{Opcode: wasm.OpcodeLocalGet, ImmIndex: 0},
				{Opcode: wasm.OpcodeI64Store, ImmAlign: 2},
			}},
			// load(): i32.load at 65532.
			{Body: []wasm.Instruction{
				{Opcode: wasm.OpcodeI32Const, ImmI32: 65532},
				{Opcode: wasm.OpcodeI32Load, ImmAlign: 2},
			}},
		},
	}
	inst := buildInstance(t, m)

	callExpectingError(t, inst, 0, "out of bounds memory access", 0xffffffffffffffff)
	require.Equal(t, []uint64{0}, call(t, inst, 1))
}

// TestMemory_GrowSemantics is the §8 S2 scenario on a (0 10) memory.
func TestMemory_GrowSemantics(t *testing.T) {
	inst := buildInstance(t, singleFunc([]wasm.ValueType{i32}, []wasm.ValueType{i32}, nil, []wasm.Instruction{
		{Opcode: wasm.OpcodeLocalGet, ImmIndex: 0},
		{Opcode: wasm.OpcodeMemoryGrow},
	}, withMemory(0, maxPages(10))))

	for _, step := range []struct{ delta, expected uint32 }{
		{0, 0},
		{1, 0},
		{1, 1},
		{2, 2},
		{6, 4},
		{0, 10},
		{1, 0xffffffff},
	} {
		require.Equal(t, []uint64{uint64(step.expected)}, call(t, inst, 0, uint64(step.delta)))
	}
}

func TestMemory_LoadStore(t *testing.T) {
	t.Run("store then load round trips narrow widths", func(t *testing.T) {
		m := &wasm.Module{
			TypeSection:     []wasm.FunctionType{{Params: []wasm.ValueType{i64}, Results: []wasm.ValueType{i64, i64}}},
			FunctionSection: []wasm.Index{0},
			MemorySection:   []wasm.MemoryType{{Min: 1}},
			CodeSection: []wasm.Code{{Body: []wasm.Instruction{
				{Opcode: wasm.OpcodeI32Const, ImmI32: 8},
				{Opcode: wasm.OpcodeLocalGet, ImmIndex: 0},
				{Opcode: wasm.OpcodeI64Store8},
				{Opcode: wasm.OpcodeI32Const, ImmI32: 8},
				{Opcode: wasm.OpcodeI64Load8S},
				{Opcode: wasm.OpcodeI32Const, ImmI32: 8},
				{Opcode: wasm.OpcodeI64Load8U},
			}}},
		}
		inst := buildInstance(t, m)
		require.Equal(t, []uint64{0xffffffffffffffff, 0xff}, call(t, inst, 0, 0xff))
	})

	t.Run("static offset added to base", func(t *testing.T) {
		m := &wasm.Module{
			TypeSection:     []wasm.FunctionType{{Results: []wasm.ValueType{i32}}},
			FunctionSection: []wasm.Index{0},
			MemorySection:   []wasm.MemoryType{{Min: 1}},
			DataSection: []wasm.DataSegment{{
				Mode:       wasm.DataModeActive,
				OffsetExpr: wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: leb128.EncodeInt32(100)},
				Init:       []byte{0x2a},
			}},
			CodeSection: []wasm.Code{{Body: []wasm.Instruction{
				{Opcode: wasm.OpcodeI32Const, ImmI32: 90},
				{Opcode: wasm.OpcodeI32Load8U, ImmOffset: 10},
			}}},
		}
		inst := buildInstance(t, m)
		require.Equal(t, []uint64{0x2a}, call(t, inst, 0))
	})

	t.Run("base plus offset past end traps without wrapping", func(t *testing.T) {
		// base 0xffffffff + offset 8 overflows u32 but not the u33-wide
		// effective address, which must trap rather than alias low memory.
		inst := buildInstance(t, singleFunc(nil, []wasm.ValueType{i32}, nil, []wasm.Instruction{
			{Opcode: wasm.OpcodeI32Const, ImmI32: -1},
			{Opcode: wasm.OpcodeI32Load, ImmOffset: 8},
		}, withMemory(1, nil)))
		callExpectingError(t, inst, 0, "out of bounds memory access")
	})

	t.Run("memory.size reflects growth", func(t *testing.T) {
		inst := buildInstance(t, singleFunc(nil, []wasm.ValueType{i32, i32}, nil, []wasm.Instruction{
			{Opcode: wasm.OpcodeMemorySize},
			{Opcode: wasm.OpcodeI32Const, ImmI32: 2},
			{Opcode: wasm.OpcodeMemoryGrow},
			{Opcode: wasm.OpcodeDrop},
			{Opcode: wasm.OpcodeMemorySize},
		}, withMemory(1, nil)))
		require.Equal(t, []uint64{1, 3}, call(t, inst, 0))
	})
}

func TestBulkMemory(t *testing.T) {
	// passiveDataModule has a passive segment {1,2,3} and exports-by-index:
	// func[0] init(dst, src, n), func[1] drop(), func[2] load8(addr).
	passiveDataModule := func() *wasm.Module {
		one := uint32(1)
		return &wasm.Module{
			TypeSection: []wasm.FunctionType{
				{Params: []wasm.ValueType{i32, i32, i32}},
				{},
				{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{i32}},
			},
			FunctionSection: []wasm.Index{0, 1, 2},
			MemorySection:   []wasm.MemoryType{{Min: 1}},
			DataCountSection: &one,
			DataSection:      []wasm.DataSegment{{Mode: wasm.DataModePassive, Init: []byte{1, 2, 3}}},
			CodeSection: []wasm.Code{
				{Body: []wasm.Instruction{
					{Opcode: wasm.OpcodeLocalGet, ImmIndex: 0},
					{Opcode: wasm.OpcodeLocalGet, ImmIndex: 1},
					{Opcode: wasm.OpcodeLocalGet, ImmIndex: 2},
					{Opcode: wasm.OpcodeMiscPrefix, Misc: wasm.OpcodeMiscMemoryInit, ImmIndex: 0},
				}},
				{Body: []wasm.Instruction{
					{Opcode: wasm.OpcodeMiscPrefix, Misc: wasm.OpcodeMiscDataDrop, ImmIndex: 0},
				}},
				{Body: []wasm.Instruction{
					{Opcode: wasm.OpcodeLocalGet, ImmIndex: 0},
					{Opcode: wasm.OpcodeI32Load8U},
				}},
			},
		}
	}

	t.Run("memory.init copies from a passive segment", func(t *testing.T) {
		inst := buildInstance(t, passiveDataModule())
		call(t, inst, 0, 10, 1, 2) // dst=10 src=1 n=2
		require.Equal(t, []uint64{2}, call(t, inst, 2, 10))
		require.Equal(t, []uint64{3}, call(t, inst, 2, 11))
	})

	t.Run("memory.init from dropped segment traps", func(t *testing.T) {
		inst := buildInstance(t, passiveDataModule())
		call(t, inst, 1)
		callExpectingError(t, inst, 0, "out of bounds memory access", 0, 0, 1)
		// A zero-length init against a dropped segment is allowed.
		call(t, inst, 0, 0, 0, 0)
	})

	t.Run("memory.init source out of bounds traps", func(t *testing.T) {
		inst := buildInstance(t, passiveDataModule())
		callExpectingError(t, inst, 0, "out of bounds memory access", 0, 2, 2)
	})

	t.Run("memory.fill and memory.copy", func(t *testing.T) {
		m := &wasm.Module{
			TypeSection: []wasm.FunctionType{
				{Params: []wasm.ValueType{i32, i32, i32}},
				{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{i32}},
			},
			FunctionSection: []wasm.Index{0, 0, 1},
			MemorySection:   []wasm.MemoryType{{Min: 1}},
			CodeSection: []wasm.Code{
				{Body: []wasm.Instruction{
					{Opcode: wasm.OpcodeLocalGet, ImmIndex: 0},
					{Opcode: wasm.OpcodeLocalGet, ImmIndex: 1},
					{Opcode: wasm.OpcodeLocalGet, ImmIndex: 2},
					{Opcode: wasm.OpcodeMiscPrefix, Misc: wasm.OpcodeMiscMemoryFill},
				}},
				{Body: []wasm.Instruction{
					{Opcode: wasm.OpcodeLocalGet, ImmIndex: 0},
					{Opcode: wasm.OpcodeLocalGet, ImmIndex: 1},
					{Opcode: wasm.OpcodeLocalGet, ImmIndex: 2},
					{Opcode: wasm.OpcodeMiscPrefix, Misc: wasm.OpcodeMiscMemoryCopy},
				}},
				{Body: []wasm.Instruction{
					{Opcode: wasm.OpcodeLocalGet, ImmIndex: 0},
					{Opcode: wasm.OpcodeI32Load8U},
				}},
			},
		}
		inst := buildInstance(t, m)

		call(t, inst, 0, 5, 0x7e, 3)  // fill [5,8) with 0x7e
		call(t, inst, 1, 100, 4, 5)   // copy [4,9) to [100,105)
		require.Equal(t, []uint64{0}, call(t, inst, 2, 100))
		require.Equal(t, []uint64{0x7e}, call(t, inst, 2, 101))
		require.Equal(t, []uint64{0x7e}, call(t, inst, 2, 103))
		require.Equal(t, []uint64{0}, call(t, inst, 2, 104))

		// Overlapping copy behaves like memmove.
		call(t, inst, 1, 6, 5, 2)
		require.Equal(t, []uint64{0x7e}, call(t, inst, 2, 6))
		require.Equal(t, []uint64{0x7e}, call(t, inst, 2, 7))

		callExpectingError(t, inst, 0, "out of bounds memory access", 65535, 0, 2)
		callExpectingError(t, inst, 1, "out of bounds memory access", 65535, 0, 2)
	})
}
