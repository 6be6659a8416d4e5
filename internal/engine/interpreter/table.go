package interpreter

import (
	"github.com/gowasm/gowasm/internal/wasm"
	"github.com/gowasm/gowasm/internal/wasmruntime"
)

// execTable handles the two plain table opcodes, table.get and table.set.
// Returns false for anything else, leaving it for execMemOp/execNumeric.
func (ce *callEngine) execTable(fr *frame, ins *wasm.Instruction) bool {
	switch ins.Opcode {
	case wasm.OpcodeTableGet:
		tbl := fr.module.Tables[ins.ImmIndex]
		idx := fr.popI32()
		if int(idx) >= len(tbl.References) {
			panic(wasmruntime.ErrRuntimeOutOfBoundsTableAccess)
		}
		fr.pushI64(uint64(tbl.References[idx]))
		return true
	case wasm.OpcodeTableSet:
		tbl := fr.module.Tables[ins.ImmIndex]
		ref := fr.pop().lo
		idx := fr.popI32()
		if int(idx) >= len(tbl.References) {
			panic(wasmruntime.ErrRuntimeOutOfBoundsTableAccess)
		}
		tbl.References[idx] = wasm.Reference(ref)
		return true
	}
	return false
}

// execTableBulk handles the bulk-table subset of the 0xFC misc opcodes:
// table.init, elem.drop, table.copy, table.grow, table.size, table.fill.
func (ce *callEngine) execTableBulk(fr *frame, ins *wasm.Instruction) {
	switch ins.Misc {
	case wasm.OpcodeMiscTableInit:
		n, src, dst := fr.popI32(), fr.popI32(), fr.popI32()
		segIdx := ins.ImmIndex
		tbl := fr.module.Tables[ins.ImmIndex2]
		if fr.module.DroppedElem[segIdx] {
			if n != 0 {
				panic(wasmruntime.ErrRuntimeOutOfBoundsTableAccess)
			}
			return
		}
		seg := &fr.module.Source.ElementSection[segIdx]
		refs, err := wasm.ElemSegmentRefs(fr.module, seg)
		if err != nil {
			panic(wasmruntime.ErrRuntimeOutOfBoundsTableAccess)
		}
		if uint64(src)+uint64(n) > uint64(len(refs)) || uint64(dst)+uint64(n) > uint64(len(tbl.References)) {
			panic(wasmruntime.ErrRuntimeOutOfBoundsTableAccess)
		}
		copy(tbl.References[dst:dst+n], refs[src:src+n])
	case wasm.OpcodeMiscElemDrop:
		fr.module.DroppedElem[ins.ImmIndex] = true
	case wasm.OpcodeMiscTableCopy:
		n, src, dst := fr.popI32(), fr.popI32(), fr.popI32()
		dstTbl := fr.module.Tables[ins.ImmIndex]
		srcTbl := fr.module.Tables[ins.ImmIndex2]
		if uint64(src)+uint64(n) > uint64(len(srcTbl.References)) || uint64(dst)+uint64(n) > uint64(len(dstTbl.References)) {
			panic(wasmruntime.ErrRuntimeOutOfBoundsTableAccess)
		}
		copy(dstTbl.References[dst:dst+n], srcTbl.References[src:src+n])
	case wasm.OpcodeMiscTableGrow:
		delta := fr.popI32()
		val := wasm.Reference(fr.pop().lo)
		tbl := fr.module.Tables[ins.ImmIndex]
		prev := len(tbl.References)
		newLen := uint64(prev) + uint64(delta)
		if tbl.Type.Max != nil && newLen > uint64(*tbl.Type.Max) {
			fr.pushI32(0xffffffff)
			return
		}
		grown := make([]wasm.Reference, newLen)
		copy(grown, tbl.References)
		for i := prev; i < len(grown); i++ {
			grown[i] = val
		}
		tbl.References = grown
		fr.pushI32(uint32(prev))
	case wasm.OpcodeMiscTableSize:
		tbl := fr.module.Tables[ins.ImmIndex]
		fr.pushI32(uint32(len(tbl.References)))
	case wasm.OpcodeMiscTableFill:
		n, val, dst := fr.popI32(), wasm.Reference(fr.pop().lo), fr.popI32()
		tbl := fr.module.Tables[ins.ImmIndex]
		if uint64(dst)+uint64(n) > uint64(len(tbl.References)) {
			panic(wasmruntime.ErrRuntimeOutOfBoundsTableAccess)
		}
		for i := uint32(0); i < n; i++ {
			tbl.References[dst+i] = val
		}
	}
}
