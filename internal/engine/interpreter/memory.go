package interpreter

import (
	"context"
	"github.com/gowasm/gowasm/api"
	"github.com/gowasm/gowasm/internal/wasm"
	"github.com/gowasm/gowasm/internal/wasmruntime"
)

// execMemOp handles every plain (non-atomic, non-SIMD) memory load/store and
// memory.size/memory.grow. Returns false if ins isn't one of those, leaving
// it for execNumeric to handle.
func (ce *callEngine) execMemOp(fr *frame, ins *wasm.Instruction) bool {
	switch ins.Opcode {
	case wasm.OpcodeMemorySize:
		fr.pushI32(fr.memory().PageSize())
		return true
	case wasm.OpcodeMemoryGrow:
		delta := fr.popI32()
		prev, ok := fr.memory().GrowPages(delta)
		if !ok {
			fr.pushI32(0xffffffff)
			return true
		}
		fr.pushI32(prev)
		return true

	case wasm.OpcodeI32Load:
		fr.pushI32(mustLoad32(fr, ins))
		return true
	case wasm.OpcodeI32Load8S:
		fr.pushI32(uint32(int32(int8(mustLoad8(fr, ins)))))
		return true
	case wasm.OpcodeI32Load8U:
		fr.pushI32(uint32(mustLoad8(fr, ins)))
		return true
	case wasm.OpcodeI32Load16S:
		fr.pushI32(uint32(int32(int16(mustLoad16(fr, ins)))))
		return true
	case wasm.OpcodeI32Load16U:
		fr.pushI32(uint32(mustLoad16(fr, ins)))
		return true
	case wasm.OpcodeI64Load:
		fr.pushI64(mustLoad64(fr, ins))
		return true
	case wasm.OpcodeI64Load8S:
		fr.pushI64(uint64(int64(int8(mustLoad8(fr, ins)))))
		return true
	case wasm.OpcodeI64Load8U:
		fr.pushI64(uint64(mustLoad8(fr, ins)))
		return true
	case wasm.OpcodeI64Load16S:
		fr.pushI64(uint64(int64(int16(mustLoad16(fr, ins)))))
		return true
	case wasm.OpcodeI64Load16U:
		fr.pushI64(uint64(mustLoad16(fr, ins)))
		return true
	case wasm.OpcodeI64Load32S:
		fr.pushI64(uint64(int64(int32(mustLoad32(fr, ins)))))
		return true
	case wasm.OpcodeI64Load32U:
		fr.pushI64(uint64(mustLoad32(fr, ins)))
		return true
	case wasm.OpcodeF32Load:
		fr.pushF32(api.DecodeF32(uint64(mustLoad32(fr, ins))))
		return true
	case wasm.OpcodeF64Load:
		fr.pushF64(api.DecodeF64(mustLoad64(fr, ins)))
		return true

	case wasm.OpcodeI32Store:
		v := fr.popI32()
		mustStore32(fr, ins, v)
		return true
	case wasm.OpcodeI32Store8:
		v := fr.popI32()
		mustStore8(fr, ins, byte(v))
		return true
	case wasm.OpcodeI32Store16:
		v := fr.popI32()
		mustStore16(fr, ins, uint16(v))
		return true
	case wasm.OpcodeI64Store:
		v := fr.popI64()
		mustStore64(fr, ins, v)
		return true
	case wasm.OpcodeI64Store8:
		v := fr.popI64()
		mustStore8(fr, ins, byte(v))
		return true
	case wasm.OpcodeI64Store16:
		v := fr.popI64()
		mustStore16(fr, ins, uint16(v))
		return true
	case wasm.OpcodeI64Store32:
		v := fr.popI64()
		mustStore32(fr, ins, uint32(v))
		return true
	case wasm.OpcodeF32Store:
		v := fr.popF32()
		mustStore32(fr, ins, uint32(api.EncodeF32(v)))
		return true
	case wasm.OpcodeF64Store:
		v := fr.popF64()
		mustStore64(fr, ins, api.EncodeF64(v))
		return true
	}
	return false
}

// effectiveAddr computes base+offset in unsigned 33-bit-range arithmetic
// (as a uint64, which never wraps for any i32 base and u32 offset), per
// spec.md §4.4.
func effectiveAddr(fr *frame, ins *wasm.Instruction) uint64 {
	base := uint64(fr.popI32())
	return base + uint64(ins.ImmOffset)
}

func mustLoad8(fr *frame, ins *wasm.Instruction) byte {
	return loadAt8(fr, effectiveAddr(fr, ins))
}

func mustLoad16(fr *frame, ins *wasm.Instruction) uint16 {
	return loadAt16(fr, effectiveAddr(fr, ins))
}

func mustLoad32(fr *frame, ins *wasm.Instruction) uint32 {
	return loadAt32(fr, effectiveAddr(fr, ins))
}

func mustLoad64(fr *frame, ins *wasm.Instruction) uint64 {
	return loadAt64(fr, effectiveAddr(fr, ins))
}

func mustStore8(fr *frame, ins *wasm.Instruction, v byte) {
	storeAt8(fr, effectiveAddr(fr, ins), v)
}

func mustStore16(fr *frame, ins *wasm.Instruction, v uint16) {
	storeAt16(fr, effectiveAddr(fr, ins), v)
}

func mustStore32(fr *frame, ins *wasm.Instruction, v uint32) {
	storeAt32(fr, effectiveAddr(fr, ins), v)
}

func mustStore64(fr *frame, ins *wasm.Instruction, v uint64) {
	storeAt64(fr, effectiveAddr(fr, ins), v)
}

// loadAt*/storeAt* access memory at an address already computed by
// effectiveAddr, for callers (atomic.go) that check the address's alignment
// before touching memory.
func loadAt8(fr *frame, addr uint64) byte {
	if addr >= uint64(len(fr.memory().Buffer)) {
		panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
	}
	return fr.memory().Buffer[addr]
}

func loadAt16(fr *frame, addr uint64) uint16 {
	v, ok := fr.memory().ReadUint16Le(context.Background(), uint32(addr))
	if !ok || addr+2 > uint64(len(fr.memory().Buffer)) {
		panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
	}
	return v
}

func loadAt32(fr *frame, addr uint64) uint32 {
	if addr+4 > uint64(len(fr.memory().Buffer)) {
		panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
	}
	v, _ := fr.memory().ReadUint32Le(context.Background(), uint32(addr))
	return v
}

func loadAt64(fr *frame, addr uint64) uint64 {
	if addr+8 > uint64(len(fr.memory().Buffer)) {
		panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
	}
	v, _ := fr.memory().ReadUint64Le(context.Background(), uint32(addr))
	return v
}

func storeAt8(fr *frame, addr uint64, v byte) {
	if addr >= uint64(len(fr.memory().Buffer)) {
		panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
	}
	fr.memory().Buffer[addr] = v
}

func storeAt16(fr *frame, addr uint64, v uint16) {
	if addr+2 > uint64(len(fr.memory().Buffer)) {
		panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
	}
	fr.memory().WriteUint16Le(context.Background(), uint32(addr), v)
}

func storeAt32(fr *frame, addr uint64, v uint32) {
	if addr+4 > uint64(len(fr.memory().Buffer)) {
		panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
	}
	fr.memory().WriteUint32Le(context.Background(), uint32(addr), v)
}

func storeAt64(fr *frame, addr uint64, v uint64) {
	if addr+8 > uint64(len(fr.memory().Buffer)) {
		panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
	}
	fr.memory().WriteUint64Le(context.Background(), uint32(addr), v)
}

// execMemoryBulk handles the bulk-memory subset of the 0xFC misc opcodes:
// memory.init, data.drop, memory.copy, memory.fill.
func (ce *callEngine) execMemoryBulk(fr *frame, ins *wasm.Instruction) bool {
	switch ins.Misc {
	case wasm.OpcodeMiscMemoryInit:
		n, src, dst := fr.popI32(), fr.popI32(), fr.popI32()
		segIdx := ins.ImmIndex
		if fr.module.DroppedData[segIdx] {
			if n != 0 {
				panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
			}
			return true
		}
		data := fr.module.Source.DataSection[segIdx].Init
		if uint64(src)+uint64(n) > uint64(len(data)) || uint64(dst)+uint64(n) > uint64(len(fr.memory().Buffer)) {
			panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
		}
		copy(fr.memory().Buffer[dst:dst+n], data[src:src+n])
		return true
	case wasm.OpcodeMiscDataDrop:
		fr.module.DroppedData[ins.ImmIndex] = true
		return true
	case wasm.OpcodeMiscMemoryCopy:
		n, src, dst := fr.popI32(), fr.popI32(), fr.popI32()
		buf := fr.memory().Buffer
		if uint64(src)+uint64(n) > uint64(len(buf)) || uint64(dst)+uint64(n) > uint64(len(buf)) {
			panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
		}
		copy(buf[dst:dst+n], buf[src:src+n]) // Go's copy handles overlap correctly, same as memmove
		return true
	case wasm.OpcodeMiscMemoryFill:
		n, val, dst := fr.popI32(), fr.popI32(), fr.popI32()
		buf := fr.memory().Buffer
		if uint64(dst)+uint64(n) > uint64(len(buf)) {
			panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
		}
		b := byte(val)
		for i := uint32(0); i < n; i++ {
			buf[dst+i] = b
		}
		return true
	}
	return false
}
