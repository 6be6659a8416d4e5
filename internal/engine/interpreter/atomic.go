package interpreter

import (
	"github.com/gowasm/gowasm/internal/wasm"
	"github.com/gowasm/gowasm/internal/wasmruntime"
)

// checkAtomicAlign enforces the threads proposal's natural-alignment
// requirement (distinct from a plain load/store's declared-but-unenforced
// align hint): addr must be a multiple of size.
func checkAtomicAlign(addr uint64, size uint64) {
	if addr%size != 0 {
		panic(wasmruntime.ErrRuntimeUnalignedAtomic)
	}
}

// execAtomic dispatches 0xFE-prefixed threads-proposal instructions. This
// engine is single-threaded internally, so every atomic access is already
// exclusive: the representative subset implements the same value semantics
// a real multi-threaded store would, minus any actual blocking or
// cross-agent notification (see DESIGN.md's atomic.wait decision).
func (ce *callEngine) execAtomic(fr *frame, ins *wasm.Instruction) signal {
	switch ins.Atomic {
	case wasm.OpcodeAtomicFence:
		// No-op: there is only one agent, so no memory order to enforce.

	case wasm.OpcodeAtomicMemoryNotify:
		fr.popI32() // count, ignored: nothing is ever parked waiting
		addr := effectiveAddr(fr, ins)
		checkAtomicAlign(addr, 4)
		if addr+4 > uint64(len(fr.memory().Buffer)) {
			panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
		}
		fr.pushI32(0) // no waiters were ever parked to wake

	case wasm.OpcodeAtomicMemoryWait32:
		timeout := fr.popI64()
		_ = timeout
		expected := fr.popI32()
		addr := effectiveAddr(fr, ins)
		checkAtomicAlign(addr, 4)
		actual := loadAt32(fr, addr)
		if actual != expected {
			fr.pushI32(1) // "not-equal"
		} else {
			fr.pushI32(2) // never actually parked, so always reads as "timed-out"
		}
	case wasm.OpcodeAtomicMemoryWait64:
		timeout := fr.popI64()
		_ = timeout
		expected := fr.popI64()
		addr := effectiveAddr(fr, ins)
		checkAtomicAlign(addr, 8)
		actual := loadAt64(fr, addr)
		if actual != expected {
			fr.pushI32(1)
		} else {
			fr.pushI32(2)
		}

	case wasm.OpcodeAtomicI32Load:
		addr := effectiveAddr(fr, ins)
		checkAtomicAlign(addr, 4)
		fr.pushI32(loadAt32(fr, addr))
	case wasm.OpcodeAtomicI64Load:
		addr := effectiveAddr(fr, ins)
		checkAtomicAlign(addr, 8)
		fr.pushI64(loadAt64(fr, addr))
	case wasm.OpcodeAtomicI32Store:
		v := fr.popI32()
		addr := effectiveAddr(fr, ins)
		checkAtomicAlign(addr, 4)
		storeAt32(fr, addr, v)
	case wasm.OpcodeAtomicI64Store:
		v := fr.popI64()
		addr := effectiveAddr(fr, ins)
		checkAtomicAlign(addr, 8)
		storeAt64(fr, addr, v)

	case wasm.OpcodeAtomicI32RmwAdd:
		v := fr.popI32()
		addr := effectiveAddr(fr, ins)
		checkAtomicAlign(addr, 4)
		old := loadAt32(fr, addr)
		storeAt32(fr, addr, old+v)
		fr.pushI32(old)
	case wasm.OpcodeAtomicI64RmwAdd:
		v := fr.popI64()
		addr := effectiveAddr(fr, ins)
		checkAtomicAlign(addr, 8)
		old := loadAt64(fr, addr)
		storeAt64(fr, addr, old+v)
		fr.pushI64(old)

	case wasm.OpcodeAtomicI32RmwCmpxchg:
		repl := fr.popI32()
		expected := fr.popI32()
		addr := effectiveAddr(fr, ins)
		checkAtomicAlign(addr, 4)
		old := loadAt32(fr, addr)
		if old == expected {
			storeAt32(fr, addr, repl)
		}
		fr.pushI32(old)
	case wasm.OpcodeAtomicI64RmwCmpxchg:
		repl := fr.popI64()
		expected := fr.popI64()
		addr := effectiveAddr(fr, ins)
		checkAtomicAlign(addr, 8)
		old := loadAt64(fr, addr)
		if old == expected {
			storeAt64(fr, addr, repl)
		}
		fr.pushI64(old)

	default:
		panic(wasmruntime.ErrRuntimeUnreachable)
	}
	return signal{kind: sigNone}
}
