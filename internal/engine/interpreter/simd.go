package interpreter

import (
	"encoding/binary"

	"github.com/gowasm/gowasm/api"
	"github.com/gowasm/gowasm/internal/wasm"
	"github.com/gowasm/gowasm/internal/wasmruntime"
)

// v128 bytes are carried across the operand stack as the two halves of a
// value, lo holding lanes 0-7 and hi lanes 8-15, each little-endian: this is
// this engine's own internal encoding (the representative SIMD subset never
// has to interoperate with a flattened bytecode from elsewhere).
func v128FromBytes(b [16]byte) value {
	return value{lo: binary.LittleEndian.Uint64(b[0:8]), hi: binary.LittleEndian.Uint64(b[8:16])}
}

func v128ToBytes(v value) [16]byte {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], v.lo)
	binary.LittleEndian.PutUint64(b[8:16], v.hi)
	return b
}

func i32x4Lanes(b [16]byte) (lanes [4]uint32) {
	for i := range lanes {
		lanes[i] = binary.LittleEndian.Uint32(b[i*4 : i*4+4])
	}
	return
}

func i32x4FromLanes(lanes [4]uint32) [16]byte {
	var b [16]byte
	for i, l := range lanes {
		binary.LittleEndian.PutUint32(b[i*4:i*4+4], l)
	}
	return b
}

func f32x4Lanes(b [16]byte) (lanes [4]float32) {
	u := i32x4Lanes(b)
	for i, w := range u {
		lanes[i] = api.DecodeF32(uint64(w))
	}
	return
}

func f32x4FromLanes(lanes [4]float32) [16]byte {
	var u [4]uint32
	for i, f := range lanes {
		u[i] = uint32(api.EncodeF32(f))
	}
	return i32x4FromLanes(u)
}

// execVec dispatches 0xFD-prefixed SIMD instructions. This is a
// representative subset; an opcode outside it cannot occur since validation
// already rejected it at module load.
func (ce *callEngine) execVec(fr *frame, ins *wasm.Instruction) signal {
	switch ins.Vec {
	case wasm.OpcodeVecV128Const:
		fr.push(v128FromBytes(ins.ImmV128))

	case wasm.OpcodeVecV128Load:
		addr := effectiveAddr(fr, ins)
		buf := fr.memory().Buffer
		if addr+16 > uint64(len(buf)) {
			panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
		}
		var b [16]byte
		copy(b[:], buf[addr:addr+16])
		fr.push(v128FromBytes(b))
	case wasm.OpcodeVecV128Store:
		v := fr.pop()
		addr := effectiveAddr(fr, ins)
		buf := fr.memory().Buffer
		if addr+16 > uint64(len(buf)) {
			panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
		}
		b := v128ToBytes(v)
		copy(buf[addr:addr+16], b[:])

	case wasm.OpcodeVecI8x16Shuffle:
		b2 := v128ToBytes(fr.pop())
		b1 := v128ToBytes(fr.pop())
		var out [16]byte
		for i, sel := range ins.ImmLanes {
			if sel < 16 {
				out[i] = b1[sel]
			} else {
				out[i] = b2[sel-16]
			}
		}
		fr.push(v128FromBytes(out))

	case wasm.OpcodeVecI8x16Swizzle:
		// Selector lanes at or beyond 16 (including "negative" byte values)
		// select zero rather than trapping.
		sel := v128ToBytes(fr.pop())
		src := v128ToBytes(fr.pop())
		var out [16]byte
		for i, s := range sel {
			if s < 16 {
				out[i] = src[s]
			}
		}
		fr.push(v128FromBytes(out))

	case wasm.OpcodeVecI32x4Splat:
		x := fr.popI32()
		fr.push(v128FromBytes(i32x4FromLanes([4]uint32{x, x, x, x})))
	case wasm.OpcodeVecI64x2Splat:
		x := fr.popI64()
		var b [16]byte
		binary.LittleEndian.PutUint64(b[0:8], x)
		binary.LittleEndian.PutUint64(b[8:16], x)
		fr.push(v128FromBytes(b))
	case wasm.OpcodeVecF32x4Splat:
		x := fr.popF32()
		fr.push(v128FromBytes(f32x4FromLanes([4]float32{x, x, x, x})))
	case wasm.OpcodeVecF64x2Splat:
		x := fr.popF64()
		fr.push(value{lo: api.EncodeF64(x), hi: api.EncodeF64(x)})

	case wasm.OpcodeVecI32x4ExtractLane:
		lanes := i32x4Lanes(v128ToBytes(fr.pop()))
		fr.pushI32(lanes[ins.ImmLaneIdx])
	case wasm.OpcodeVecI32x4ReplaceLane:
		x := fr.popI32()
		lanes := i32x4Lanes(v128ToBytes(fr.pop()))
		lanes[ins.ImmLaneIdx] = x
		fr.push(v128FromBytes(i32x4FromLanes(lanes)))

	case wasm.OpcodeVecI32x4Add:
		b, a := i32x4Lanes(v128ToBytes(fr.pop())), i32x4Lanes(v128ToBytes(fr.pop()))
		var out [4]uint32
		for i := range out {
			out[i] = a[i] + b[i]
		}
		fr.push(v128FromBytes(i32x4FromLanes(out)))
	case wasm.OpcodeVecI32x4Sub:
		b, a := i32x4Lanes(v128ToBytes(fr.pop())), i32x4Lanes(v128ToBytes(fr.pop()))
		var out [4]uint32
		for i := range out {
			out[i] = a[i] - b[i]
		}
		fr.push(v128FromBytes(i32x4FromLanes(out)))
	case wasm.OpcodeVecI32x4Mul:
		b, a := i32x4Lanes(v128ToBytes(fr.pop())), i32x4Lanes(v128ToBytes(fr.pop()))
		var out [4]uint32
		for i := range out {
			out[i] = a[i] * b[i]
		}
		fr.push(v128FromBytes(i32x4FromLanes(out)))

	case wasm.OpcodeVecF32x4Add:
		b, a := f32x4Lanes(v128ToBytes(fr.pop())), f32x4Lanes(v128ToBytes(fr.pop()))
		var out [4]float32
		for i := range out {
			out[i] = a[i] + b[i]
		}
		fr.push(v128FromBytes(f32x4FromLanes(out)))
	case wasm.OpcodeVecF32x4Sub:
		b, a := f32x4Lanes(v128ToBytes(fr.pop())), f32x4Lanes(v128ToBytes(fr.pop()))
		var out [4]float32
		for i := range out {
			out[i] = a[i] - b[i]
		}
		fr.push(v128FromBytes(f32x4FromLanes(out)))
	case wasm.OpcodeVecF32x4Mul:
		b, a := f32x4Lanes(v128ToBytes(fr.pop())), f32x4Lanes(v128ToBytes(fr.pop()))
		var out [4]float32
		for i := range out {
			out[i] = a[i] * b[i]
		}
		fr.push(v128FromBytes(f32x4FromLanes(out)))

	default:
		panic(wasmruntime.ErrRuntimeUnreachable)
	}
	return signal{kind: sigNone}
}
