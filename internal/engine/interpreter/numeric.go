package interpreter

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/gowasm/gowasm/api"
	"github.com/gowasm/gowasm/internal/moremath"
	"github.com/gowasm/gowasm/internal/wasm"
	"github.com/gowasm/gowasm/internal/wasmruntime"
)

// execNumeric dispatches every opcode in [0x45, 0xc4]: comparisons, integer
// and float arithmetic, bitwise/shift/rotate, and the conversion/reinterpret
// family, per spec.md §4.4. validator.go's simpleSig is this switch's type
// oracle; only the byte values matter here, since opcode.go leaves this
// range's middle mostly unnamed.
func (ce *callEngine) execNumeric(fr *frame, ins *wasm.Instruction) {
	switch ins.Opcode {
	case wasm.OpcodeI32Eqz:
		fr.pushBool(fr.popI32() == 0)
	case wasm.OpcodeI32Eq:
		b, a := fr.popI32(), fr.popI32()
		fr.pushBool(a == b)
	case wasm.OpcodeI32Ne:
		b, a := fr.popI32(), fr.popI32()
		fr.pushBool(a != b)
	case 0x48: // i32.lt_s
		b, a := int32(fr.popI32()), int32(fr.popI32())
		fr.pushBool(a < b)
	case 0x49: // i32.lt_u
		b, a := fr.popI32(), fr.popI32()
		fr.pushBool(a < b)
	case 0x4a: // i32.gt_s
		b, a := int32(fr.popI32()), int32(fr.popI32())
		fr.pushBool(a > b)
	case 0x4b: // i32.gt_u
		b, a := fr.popI32(), fr.popI32()
		fr.pushBool(a > b)
	case 0x4c: // i32.le_s
		b, a := int32(fr.popI32()), int32(fr.popI32())
		fr.pushBool(a <= b)
	case 0x4d: // i32.le_u
		b, a := fr.popI32(), fr.popI32()
		fr.pushBool(a <= b)
	case 0x4e: // i32.ge_s
		b, a := int32(fr.popI32()), int32(fr.popI32())
		fr.pushBool(a >= b)
	case 0x4f: // i32.ge_u
		b, a := fr.popI32(), fr.popI32()
		fr.pushBool(a >= b)

	case 0x50: // i64.eqz
		fr.pushBool(fr.popI64() == 0)
	case 0x51: // i64.eq
		b, a := fr.popI64(), fr.popI64()
		fr.pushBool(a == b)
	case 0x52: // i64.ne
		b, a := fr.popI64(), fr.popI64()
		fr.pushBool(a != b)
	case 0x53: // i64.lt_s
		b, a := int64(fr.popI64()), int64(fr.popI64())
		fr.pushBool(a < b)
	case 0x54: // i64.lt_u
		b, a := fr.popI64(), fr.popI64()
		fr.pushBool(a < b)
	case 0x55: // i64.gt_s
		b, a := int64(fr.popI64()), int64(fr.popI64())
		fr.pushBool(a > b)
	case 0x56: // i64.gt_u
		b, a := fr.popI64(), fr.popI64()
		fr.pushBool(a > b)
	case 0x57: // i64.le_s
		b, a := int64(fr.popI64()), int64(fr.popI64())
		fr.pushBool(a <= b)
	case 0x58: // i64.le_u
		b, a := fr.popI64(), fr.popI64()
		fr.pushBool(a <= b)
	case 0x59: // i64.ge_s
		b, a := int64(fr.popI64()), int64(fr.popI64())
		fr.pushBool(a >= b)
	case 0x5a: // i64.ge_u
		b, a := fr.popI64(), fr.popI64()
		fr.pushBool(a >= b)

	case 0x5b: // f32.eq
		b, a := fr.popF32(), fr.popF32()
		fr.pushBool(a == b)
	case 0x5c: // f32.ne
		b, a := fr.popF32(), fr.popF32()
		fr.pushBool(a != b)
	case 0x5d: // f32.lt
		b, a := fr.popF32(), fr.popF32()
		fr.pushBool(a < b)
	case 0x5e: // f32.gt
		b, a := fr.popF32(), fr.popF32()
		fr.pushBool(a > b)
	case 0x5f: // f32.le
		b, a := fr.popF32(), fr.popF32()
		fr.pushBool(a <= b)
	case 0x60: // f32.ge
		b, a := fr.popF32(), fr.popF32()
		fr.pushBool(a >= b)
	case 0x61: // f64.eq
		b, a := fr.popF64(), fr.popF64()
		fr.pushBool(a == b)
	case 0x62: // f64.ne
		b, a := fr.popF64(), fr.popF64()
		fr.pushBool(a != b)
	case 0x63: // f64.lt
		b, a := fr.popF64(), fr.popF64()
		fr.pushBool(a < b)
	case 0x64: // f64.gt
		b, a := fr.popF64(), fr.popF64()
		fr.pushBool(a > b)
	case 0x65: // f64.le
		b, a := fr.popF64(), fr.popF64()
		fr.pushBool(a <= b)
	case 0x66: // f64.ge
		b, a := fr.popF64(), fr.popF64()
		fr.pushBool(a >= b)

	case 0x67: // i32.clz
		fr.pushI32(uint32(bits.LeadingZeros32(fr.popI32())))
	case 0x68: // i32.ctz
		fr.pushI32(uint32(bits.TrailingZeros32(fr.popI32())))
	case 0x69: // i32.popcnt
		fr.pushI32(uint32(bits.OnesCount32(fr.popI32())))
	case wasm.OpcodeI32Add:
		b, a := fr.popI32(), fr.popI32()
		fr.pushI32(a + b)
	case wasm.OpcodeI32Sub:
		b, a := fr.popI32(), fr.popI32()
		fr.pushI32(a - b)
	case wasm.OpcodeI32Mul:
		b, a := fr.popI32(), fr.popI32()
		fr.pushI32(a * b)
	case wasm.OpcodeI32DivS:
		b, a := int32(fr.popI32()), int32(fr.popI32())
		if b == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		}
		if a == math.MinInt32 && b == -1 {
			panic(wasmruntime.ErrRuntimeIntegerOverflow)
		}
		fr.pushI32(uint32(a / b))
	case wasm.OpcodeI32DivU:
		b, a := fr.popI32(), fr.popI32()
		if b == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		}
		fr.pushI32(a / b)
	case wasm.OpcodeI32RemS:
		b, a := int32(fr.popI32()), int32(fr.popI32())
		if b == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		}
		if a == math.MinInt32 && b == -1 {
			fr.pushI32(0)
		} else {
			fr.pushI32(uint32(a % b))
		}
	case wasm.OpcodeI32RemU:
		b, a := fr.popI32(), fr.popI32()
		if b == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		}
		fr.pushI32(a % b)
	case 0x71: // i32.and
		b, a := fr.popI32(), fr.popI32()
		fr.pushI32(a & b)
	case 0x72: // i32.or
		b, a := fr.popI32(), fr.popI32()
		fr.pushI32(a | b)
	case 0x73: // i32.xor
		b, a := fr.popI32(), fr.popI32()
		fr.pushI32(a ^ b)
	case 0x74: // i32.shl
		b, a := fr.popI32(), fr.popI32()
		fr.pushI32(a << (b % 32))
	case 0x75: // i32.shr_s
		b, a := fr.popI32(), int32(fr.popI32())
		fr.pushI32(uint32(a >> (b % 32)))
	case 0x76: // i32.shr_u
		b, a := fr.popI32(), fr.popI32()
		fr.pushI32(a >> (b % 32))
	case 0x77: // i32.rotl
		b, a := fr.popI32(), fr.popI32()
		fr.pushI32(bits.RotateLeft32(a, int(b)))
	case 0x78: // i32.rotr
		b, a := fr.popI32(), fr.popI32()
		fr.pushI32(bits.RotateLeft32(a, -int(b)))

	case 0x79: // i64.clz
		fr.pushI64(uint64(bits.LeadingZeros64(fr.popI64())))
	case 0x7a: // i64.ctz
		fr.pushI64(uint64(bits.TrailingZeros64(fr.popI64())))
	case 0x7b: // i64.popcnt
		fr.pushI64(uint64(bits.OnesCount64(fr.popI64())))
	case wasm.OpcodeI64Add:
		b, a := fr.popI64(), fr.popI64()
		fr.pushI64(a + b)
	case wasm.OpcodeI64Sub:
		b, a := fr.popI64(), fr.popI64()
		fr.pushI64(a - b)
	case wasm.OpcodeI64Mul:
		b, a := fr.popI64(), fr.popI64()
		fr.pushI64(a * b)
	case 0x7f: // i64.div_s
		b, a := int64(fr.popI64()), int64(fr.popI64())
		if b == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		}
		if a == math.MinInt64 && b == -1 {
			panic(wasmruntime.ErrRuntimeIntegerOverflow)
		}
		fr.pushI64(uint64(a / b))
	case 0x80: // i64.div_u
		b, a := fr.popI64(), fr.popI64()
		if b == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		}
		fr.pushI64(a / b)
	case 0x81: // i64.rem_s
		b, a := int64(fr.popI64()), int64(fr.popI64())
		if b == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		}
		if a == math.MinInt64 && b == -1 {
			fr.pushI64(0)
		} else {
			fr.pushI64(uint64(a % b))
		}
	case 0x82: // i64.rem_u
		b, a := fr.popI64(), fr.popI64()
		if b == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		}
		fr.pushI64(a % b)
	case 0x83: // i64.and
		b, a := fr.popI64(), fr.popI64()
		fr.pushI64(a & b)
	case 0x84: // i64.or
		b, a := fr.popI64(), fr.popI64()
		fr.pushI64(a | b)
	case 0x85: // i64.xor
		b, a := fr.popI64(), fr.popI64()
		fr.pushI64(a ^ b)
	case 0x86: // i64.shl
		b, a := fr.popI64(), fr.popI64()
		fr.pushI64(a << (b % 64))
	case 0x87: // i64.shr_s
		b, a := fr.popI64(), int64(fr.popI64())
		fr.pushI64(uint64(a >> (b % 64)))
	case 0x88: // i64.shr_u
		b, a := fr.popI64(), fr.popI64()
		fr.pushI64(a >> (b % 64))
	case 0x89: // i64.rotl
		b, a := fr.popI64(), fr.popI64()
		fr.pushI64(bits.RotateLeft64(a, int(b)))
	case 0x8a: // i64.rotr
		b, a := fr.popI64(), fr.popI64()
		fr.pushI64(bits.RotateLeft64(a, -int(b)))

	case 0x8b: // f32.abs
		fr.pushF32(float32(math.Abs(float64(fr.popF32()))))
	case 0x8c: // f32.neg
		fr.pushF32(-fr.popF32())
	case 0x8d: // f32.ceil
		fr.pushF32(float32(math.Ceil(float64(fr.popF32()))))
	case 0x8e: // f32.floor
		fr.pushF32(float32(math.Floor(float64(fr.popF32()))))
	case 0x8f: // f32.trunc
		fr.pushF32(float32(math.Trunc(float64(fr.popF32()))))
	case 0x90: // f32.nearest
		fr.pushF32(moremath.WasmCompatNearestF32(fr.popF32()))
	case 0x91: // f32.sqrt
		fr.pushF32(float32(math.Sqrt(float64(fr.popF32()))))
	case wasm.OpcodeF32Add:
		b, a := fr.popF32(), fr.popF32()
		fr.pushF32(a + b)
	case wasm.OpcodeF32Sub:
		b, a := fr.popF32(), fr.popF32()
		fr.pushF32(a - b)
	case wasm.OpcodeF32Mul:
		b, a := fr.popF32(), fr.popF32()
		fr.pushF32(a * b)
	case wasm.OpcodeF32Div:
		b, a := fr.popF32(), fr.popF32()
		fr.pushF32(a / b)
	case 0x96: // f32.min
		b, a := fr.popF32(), fr.popF32()
		fr.pushF32(float32(moremath.WasmCompatMin(float64(a), float64(b))))
	case 0x97: // f32.max
		b, a := fr.popF32(), fr.popF32()
		fr.pushF32(float32(moremath.WasmCompatMax(float64(a), float64(b))))
	case 0x98: // f32.copysign
		b, a := fr.popF32(), fr.popF32()
		fr.pushF32(float32(math.Copysign(float64(a), float64(b))))

	case 0x99: // f64.abs
		fr.pushF64(math.Abs(fr.popF64()))
	case 0x9a: // f64.neg
		fr.pushF64(-fr.popF64())
	case 0x9b: // f64.ceil
		fr.pushF64(math.Ceil(fr.popF64()))
	case 0x9c: // f64.floor
		fr.pushF64(math.Floor(fr.popF64()))
	case 0x9d: // f64.trunc
		fr.pushF64(math.Trunc(fr.popF64()))
	case 0x9e: // f64.nearest
		fr.pushF64(moremath.WasmCompatNearestF64(fr.popF64()))
	case 0x9f: // f64.sqrt
		fr.pushF64(math.Sqrt(fr.popF64()))
	case wasm.OpcodeF64Add:
		b, a := fr.popF64(), fr.popF64()
		fr.pushF64(a + b)
	case wasm.OpcodeF64Sub:
		b, a := fr.popF64(), fr.popF64()
		fr.pushF64(a - b)
	case wasm.OpcodeF64Mul:
		b, a := fr.popF64(), fr.popF64()
		fr.pushF64(a * b)
	case wasm.OpcodeF64Div:
		b, a := fr.popF64(), fr.popF64()
		fr.pushF64(a / b)
	case 0xa4: // f64.min
		b, a := fr.popF64(), fr.popF64()
		fr.pushF64(moremath.WasmCompatMin(a, b))
	case 0xa5: // f64.max
		b, a := fr.popF64(), fr.popF64()
		fr.pushF64(moremath.WasmCompatMax(a, b))
	case 0xa6: // f64.copysign
		b, a := fr.popF64(), fr.popF64()
		fr.pushF64(math.Copysign(a, b))

	case wasm.OpcodeI32WrapI64:
		fr.pushI32(uint32(fr.popI64()))
	case 0xa8: // i32.trunc_f32_s
		fr.pushI32(uint32(truncToI32S(float64(fr.popF32()))))
	case 0xa9: // i32.trunc_f32_u
		fr.pushI32(truncToI32U(float64(fr.popF32())))
	case 0xaa: // i32.trunc_f64_s
		fr.pushI32(uint32(truncToI32S(fr.popF64())))
	case 0xab: // i32.trunc_f64_u
		fr.pushI32(truncToI32U(fr.popF64()))
	case wasm.OpcodeI64ExtendI32S:
		fr.pushI64(uint64(int64(int32(fr.popI32()))))
	case wasm.OpcodeI64ExtendI32U:
		fr.pushI64(uint64(fr.popI32()))
	case 0xae: // i64.trunc_f32_s
		fr.pushI64(uint64(truncToI64S(float64(fr.popF32()))))
	case 0xaf: // i64.trunc_f32_u
		fr.pushI64(truncToI64U(float64(fr.popF32())))
	case 0xb0: // i64.trunc_f64_s
		fr.pushI64(uint64(truncToI64S(fr.popF64())))
	case 0xb1: // i64.trunc_f64_u
		fr.pushI64(truncToI64U(fr.popF64()))
	case 0xb2: // f32.convert_i32_s
		fr.pushF32(float32(int32(fr.popI32())))
	case 0xb3: // f32.convert_i32_u
		fr.pushF32(float32(fr.popI32()))
	case 0xb4: // f32.convert_i64_s
		fr.pushF32(float32(int64(fr.popI64())))
	case 0xb5: // f32.convert_i64_u
		fr.pushF32(float32(fr.popI64()))
	case 0xb6: // f32.demote_f64
		fr.pushF32(float32(fr.popF64()))
	case 0xb7: // f64.convert_i32_s
		fr.pushF64(float64(int32(fr.popI32())))
	case 0xb8: // f64.convert_i32_u
		fr.pushF64(float64(fr.popI32()))
	case 0xb9: // f64.convert_i64_s
		fr.pushF64(float64(int64(fr.popI64())))
	case 0xba: // f64.convert_i64_u
		fr.pushF64(float64(fr.popI64()))
	case 0xbb: // f64.promote_f32
		fr.pushF64(float64(fr.popF32()))
	case 0xbc: // i32.reinterpret_f32
		fr.pushI32(uint32(api.EncodeF32(fr.popF32())))
	case 0xbd: // i64.reinterpret_f64
		fr.pushI64(api.EncodeF64(fr.popF64()))
	case 0xbe: // f32.reinterpret_i32
		fr.pushF32(api.DecodeF32(uint64(fr.popI32())))
	case 0xbf: // f64.reinterpret_i64
		fr.pushF64(api.DecodeF64(fr.popI64()))

	case wasm.OpcodeI32Extend8S:
		fr.pushI32(uint32(int32(int8(fr.popI32()))))
	case wasm.OpcodeI32Extend16S:
		fr.pushI32(uint32(int32(int16(fr.popI32()))))
	case wasm.OpcodeI64Extend8S:
		fr.pushI64(uint64(int64(int8(fr.popI64()))))
	case wasm.OpcodeI64Extend16S:
		fr.pushI64(uint64(int64(int16(fr.popI64()))))
	case wasm.OpcodeI64Extend32S:
		fr.pushI64(uint64(int64(int32(fr.popI64()))))

	default:
		panic(fmt.Errorf("BUG: unhandled numeric opcode 0x%x", ins.Opcode))
	}
}

// truncToI32S/truncToI32U/truncToI64S/truncToI64U implement the non-saturating
// trunc family's range check (spec.md §4.4): NaN or a magnitude outside the
// target's range traps rather than producing an implementation-defined bit
// pattern, unlike Go's float-to-int conversion.
func truncToI32S(f float64) int32 {
	if math.IsNaN(f) {
		panic(wasmruntime.ErrRuntimeInvalidConversionToInteger)
	}
	t := math.Trunc(f)
	if t < math.MinInt32 || t >= math.MaxInt32+1 {
		panic(wasmruntime.ErrRuntimeIntegerOverflow)
	}
	return int32(t)
}

func truncToI32U(f float64) uint32 {
	if math.IsNaN(f) {
		panic(wasmruntime.ErrRuntimeInvalidConversionToInteger)
	}
	t := math.Trunc(f)
	if t < 0 || t >= math.MaxUint32+1 {
		panic(wasmruntime.ErrRuntimeIntegerOverflow)
	}
	return uint32(t)
}

func truncToI64S(f float64) int64 {
	if math.IsNaN(f) {
		panic(wasmruntime.ErrRuntimeInvalidConversionToInteger)
	}
	t := math.Trunc(f)
	if t < math.MinInt64 || t >= math.MaxInt64 {
		panic(wasmruntime.ErrRuntimeIntegerOverflow)
	}
	return int64(t)
}

func truncToI64U(f float64) uint64 {
	if math.IsNaN(f) {
		panic(wasmruntime.ErrRuntimeInvalidConversionToInteger)
	}
	t := math.Trunc(f)
	if t < 0 || t >= math.MaxUint64 {
		panic(wasmruntime.ErrRuntimeIntegerOverflow)
	}
	return uint64(t)
}

// truncSatToI32S/etc. implement the saturating trunc_sat family (the
// non-trapping float-to-int conversion opcodes): NaN saturates to 0, out-of-range saturates
// to the nearest representable bound, instead of trapping.
func truncSatToI32S(f float64) uint32 {
	if math.IsNaN(f) {
		return 0
	}
	t := math.Trunc(f)
	switch {
	case t < math.MinInt32:
		var m int32 = math.MinInt32
		return uint32(m)
	case t >= math.MaxInt32+1:
		return uint32(int32(math.MaxInt32))
	}
	return uint32(int32(t))
}

func truncSatToI32U(f float64) uint32 {
	if math.IsNaN(f) {
		return 0
	}
	t := math.Trunc(f)
	switch {
	case t < 0:
		return 0
	case t >= math.MaxUint32+1:
		return math.MaxUint32
	}
	return uint32(t)
}

func truncSatToI64S(f float64) uint64 {
	if math.IsNaN(f) {
		return 0
	}
	t := math.Trunc(f)
	switch {
	case t < math.MinInt64:
		var m int64 = math.MinInt64
		return uint64(m)
	case t >= math.MaxInt64:
		return uint64(int64(math.MaxInt64))
	}
	return uint64(int64(t))
}

func truncSatToI64U(f float64) uint64 {
	if math.IsNaN(f) {
		return 0
	}
	t := math.Trunc(f)
	switch {
	case t < 0:
		return 0
	case t >= math.MaxUint64:
		return math.MaxUint64
	}
	return uint64(t)
}

// execMisc dispatches 0xFC-prefixed instructions: trunc_sat, wide-arithmetic,
// bulk-memory (delegated to execMemoryBulk) and bulk-table (delegated to
// execTableBulk).
func (ce *callEngine) execMisc(fr *frame, ins *wasm.Instruction) signal {
	switch ins.Misc {
	case wasm.OpcodeMiscI32TruncSatF32S:
		fr.pushI32(truncSatToI32S(float64(fr.popF32())))
		return signal{kind: sigNone}
	case wasm.OpcodeMiscI32TruncSatF32U:
		fr.pushI32(truncSatToI32U(float64(fr.popF32())))
		return signal{kind: sigNone}
	case wasm.OpcodeMiscI32TruncSatF64S:
		fr.pushI32(truncSatToI32S(fr.popF64()))
		return signal{kind: sigNone}
	case wasm.OpcodeMiscI32TruncSatF64U:
		fr.pushI32(truncSatToI32U(fr.popF64()))
		return signal{kind: sigNone}
	case wasm.OpcodeMiscI64TruncSatF32S:
		fr.pushI64(truncSatToI64S(float64(fr.popF32())))
		return signal{kind: sigNone}
	case wasm.OpcodeMiscI64TruncSatF32U:
		fr.pushI64(truncSatToI64U(float64(fr.popF32())))
		return signal{kind: sigNone}
	case wasm.OpcodeMiscI64TruncSatF64S:
		fr.pushI64(truncSatToI64S(fr.popF64()))
		return signal{kind: sigNone}
	case wasm.OpcodeMiscI64TruncSatF64U:
		fr.pushI64(truncSatToI64U(fr.popF64()))
		return signal{kind: sigNone}

	case wasm.OpcodeMiscI64Add128:
		bHi, bLo, aHi, aLo := fr.popI64(), fr.popI64(), fr.popI64(), fr.popI64()
		lo, carry := bits.Add64(aLo, bLo, 0)
		hi, _ := bits.Add64(aHi, bHi, carry)
		fr.pushI64(lo)
		fr.pushI64(hi)
		return signal{kind: sigNone}
	case wasm.OpcodeMiscI64Sub128:
		bHi, bLo, aHi, aLo := fr.popI64(), fr.popI64(), fr.popI64(), fr.popI64()
		lo, borrow := bits.Sub64(aLo, bLo, 0)
		hi, _ := bits.Sub64(aHi, bHi, borrow)
		fr.pushI64(lo)
		fr.pushI64(hi)
		return signal{kind: sigNone}
	case wasm.OpcodeMiscI64MulWideS:
		b, a := int64(fr.popI64()), int64(fr.popI64())
		hi, lo := bits.Mul64(uint64(a), uint64(b))
		// Correct the unsigned widening multiply for signed operands: subtract
		// b if a was negative, and a if b was negative (standard widemul fixup).
		if a < 0 {
			hi -= uint64(b)
		}
		if b < 0 {
			hi -= uint64(a)
		}
		fr.pushI64(lo)
		fr.pushI64(hi)
		return signal{kind: sigNone}
	case wasm.OpcodeMiscI64MulWideU:
		b, a := fr.popI64(), fr.popI64()
		hi, lo := bits.Mul64(a, b)
		fr.pushI64(lo)
		fr.pushI64(hi)
		return signal{kind: sigNone}

	case wasm.OpcodeMiscMemoryInit, wasm.OpcodeMiscDataDrop, wasm.OpcodeMiscMemoryCopy, wasm.OpcodeMiscMemoryFill:
		ce.execMemoryBulk(fr, ins)
		return signal{kind: sigNone}
	case wasm.OpcodeMiscTableInit, wasm.OpcodeMiscElemDrop, wasm.OpcodeMiscTableCopy,
		wasm.OpcodeMiscTableGrow, wasm.OpcodeMiscTableSize, wasm.OpcodeMiscTableFill:
		ce.execTableBulk(fr, ins)
		return signal{kind: sigNone}
	}
	panic(fmt.Errorf("BUG: unhandled misc opcode %d", ins.Misc))
}
