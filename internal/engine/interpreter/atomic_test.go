package interpreter

import (
	"testing"

	"github.com/gowasm/gowasm/internal/testing/require"
	"github.com/gowasm/gowasm/internal/wasm"
)

func withSharedMemory(m *wasm.Module) {
	max := uint32(1)
	m.MemorySection = []wasm.MemoryType{{Min: 1, Max: &max, IsMaxEncoded: true, IsShared: true}}
}

func TestAtomic_Alignment(t *testing.T) {
	t.Run("i32.atomic.load on unaligned address traps", func(t *testing.T) {
		inst := buildInstance(t, singleFunc([]wasm.ValueType{i32}, []wasm.ValueType{i32}, nil, []wasm.Instruction{
			{Opcode: wasm.OpcodeLocalGet, ImmIndex: 0},
			{Opcode: wasm.OpcodeAtomicPrefix, Atomic: wasm.OpcodeAtomicI32Load, ImmAlign: 2},
		}, withSharedMemory))

		require.Equal(t, []uint64{0}, call(t, inst, 0, 4))
		callExpectingError(t, inst, 0, "unaligned atomic", 2)
		callExpectingError(t, inst, 0, "unaligned atomic", 3)
	})

	t.Run("i64.atomic.store alignment is 8", func(t *testing.T) {
		inst := buildInstance(t, singleFunc([]wasm.ValueType{i32}, nil, nil, []wasm.Instruction{
			{Opcode: wasm.OpcodeLocalGet, ImmIndex: 0},
			{Opcode: wasm.OpcodeI64Const, ImmI64: 1},
			{Opcode: wasm.OpcodeAtomicPrefix, Atomic: wasm.OpcodeAtomicI64Store, ImmAlign: 3},
		}, withSharedMemory))

		call(t, inst, 0, 8)
		callExpectingError(t, inst, 0, "unaligned atomic", 4)
	})
}

func TestAtomic_Rmw(t *testing.T) {
	t.Run("rmw add returns the old value", func(t *testing.T) {
		inst := buildInstance(t, singleFunc([]wasm.ValueType{i32}, []wasm.ValueType{i32}, nil, []wasm.Instruction{
			{Opcode: wasm.OpcodeI32Const, ImmI32: 0},
			{Opcode: wasm.OpcodeLocalGet, ImmIndex: 0},
			{Opcode: wasm.OpcodeAtomicPrefix, Atomic: wasm.OpcodeAtomicI32RmwAdd, ImmAlign: 2},
		}, withSharedMemory))

		require.Equal(t, []uint64{0}, call(t, inst, 0, 5))
		require.Equal(t, []uint64{5}, call(t, inst, 0, 3))
		require.Equal(t, []uint64{8}, call(t, inst, 0, 0))
	})

	t.Run("cmpxchg stores only on match", func(t *testing.T) {
		// cmpxchg(expected, replacement) at address 0, returns the old value.
		inst := buildInstance(t, singleFunc([]wasm.ValueType{i32, i32}, []wasm.ValueType{i32}, nil, []wasm.Instruction{
			{Opcode: wasm.OpcodeI32Const, ImmI32: 0},
			{Opcode: wasm.OpcodeLocalGet, ImmIndex: 0},
			{Opcode: wasm.OpcodeLocalGet, ImmIndex: 1},
			{Opcode: wasm.OpcodeAtomicPrefix, Atomic: wasm.OpcodeAtomicI32RmwCmpxchg, ImmAlign: 2},
		}, withSharedMemory))

		require.Equal(t, []uint64{0}, call(t, inst, 0, 0, 11)) // matched: 0 -> 11
		require.Equal(t, []uint64{11}, call(t, inst, 0, 9, 22)) // mismatch: stays 11
		require.Equal(t, []uint64{11}, call(t, inst, 0, 11, 33))
		require.Equal(t, []uint64{33}, call(t, inst, 0, 0, 0))
	})
}

func TestAtomic_WaitNotify(t *testing.T) {
	t.Run("wait32 returns not-equal on compare failure", func(t *testing.T) {
		// wait32(addr=0, expected, timeout=-1)
		inst := buildInstance(t, singleFunc([]wasm.ValueType{i32}, []wasm.ValueType{i32}, nil, []wasm.Instruction{
			{Opcode: wasm.OpcodeI32Const, ImmI32: 0},
			{Opcode: wasm.OpcodeLocalGet, ImmIndex: 0},
			{Opcode: wasm.OpcodeI64Const, ImmI64: -1},
			{Opcode: wasm.OpcodeAtomicPrefix, Atomic: wasm.OpcodeAtomicMemoryWait32, ImmAlign: 2},
		}, withSharedMemory))

		require.Equal(t, []uint64{1}, call(t, inst, 0, 7)) // memory[0] == 0 != 7
		// On match, a single-threaded engine reads as timed-out rather than
		// parking forever.
		require.Equal(t, []uint64{2}, call(t, inst, 0, 0))
	})

	t.Run("notify wakes zero waiters", func(t *testing.T) {
		inst := buildInstance(t, singleFunc(nil, []wasm.ValueType{i32}, nil, []wasm.Instruction{
			{Opcode: wasm.OpcodeI32Const, ImmI32: 0},
			{Opcode: wasm.OpcodeI32Const, ImmI32: 10},
			{Opcode: wasm.OpcodeAtomicPrefix, Atomic: wasm.OpcodeAtomicMemoryNotify, ImmAlign: 2},
		}, withSharedMemory))
		require.Equal(t, []uint64{0}, call(t, inst, 0))
	})

	t.Run("wait64 unaligned traps", func(t *testing.T) {
		inst := buildInstance(t, singleFunc(nil, []wasm.ValueType{i32}, nil, []wasm.Instruction{
			{Opcode: wasm.OpcodeI32Const, ImmI32: 4},
			{Opcode: wasm.OpcodeI64Const, ImmI64: 0},
			{Opcode: wasm.OpcodeI64Const, ImmI64: -1},
			{Opcode: wasm.OpcodeAtomicPrefix, Atomic: wasm.OpcodeAtomicMemoryWait64, ImmAlign: 3},
		}, withSharedMemory))
		callExpectingError(t, inst, 0, "unaligned atomic")
	})
}

func TestAtomic_Fence(t *testing.T) {
	inst := buildInstance(t, singleFunc(nil, nil, nil, []wasm.Instruction{
		{Opcode: wasm.OpcodeAtomicPrefix, Atomic: wasm.OpcodeAtomicFence},
	}))
	call(t, inst, 0)
}
