package binary

import (
	"bytes"
	"encoding/binary"

	"github.com/gowasm/gowasm/internal/leb128"
	"github.com/gowasm/gowasm/internal/wasm"
)

// EncodeModule serializes m back into the binary format. It is the inverse
// of DecodeModule for every in-scope section: DecodeModule(EncodeModule(m))
// reproduces m field-for-field, minus custom sections (the name section is
// producer metadata and not re-emitted).
func EncodeModule(m *wasm.Module) []byte {
	var out bytes.Buffer
	out.Write(magic)
	out.Write(version)

	if len(m.TypeSection) > 0 {
		writeSection(&out, sectionIDType, encodeTypeSection(m))
	}
	if len(m.ImportSection) > 0 {
		writeSection(&out, sectionIDImport, encodeImportSection(m.ImportSection))
	}
	if len(m.FunctionSection) > 0 {
		writeSection(&out, sectionIDFunction, encodeIndexVector(m.FunctionSection))
	}
	if len(m.TableSection) > 0 {
		writeSection(&out, sectionIDTable, encodeTableSection(m.TableSection))
	}
	if len(m.MemorySection) > 0 {
		writeSection(&out, sectionIDMemory, encodeMemorySection(m.MemorySection))
	}
	if len(m.TagSection) > 0 {
		writeSection(&out, sectionIDTag, encodeTagSection(m.TagSection))
	}
	if len(m.GlobalSection) > 0 {
		writeSection(&out, sectionIDGlobal, encodeGlobalSection(m.GlobalSection))
	}
	if len(m.ExportSection) > 0 {
		writeSection(&out, sectionIDExport, encodeExportSection(m.ExportSection))
	}
	if m.StartSection != nil {
		writeSection(&out, sectionIDStart, leb128.EncodeUint32(*m.StartSection))
	}
	if len(m.ElementSection) > 0 {
		writeSection(&out, sectionIDElement, encodeElementSection(m.ElementSection))
	}
	if m.DataCountSection != nil {
		writeSection(&out, sectionIDDataCount, leb128.EncodeUint32(*m.DataCountSection))
	}
	if len(m.CodeSection) > 0 {
		writeSection(&out, sectionIDCode, encodeCodeSection(m.CodeSection))
	}
	if len(m.DataSection) > 0 {
		writeSection(&out, sectionIDData, encodeDataSection(m.DataSection))
	}
	return out.Bytes()
}

func writeSection(out *bytes.Buffer, id sectionID, payload []byte) {
	out.WriteByte(id)
	out.Write(leb128.EncodeUint32(uint32(len(payload))))
	out.Write(payload)
}

func encodeIndexVector(v []wasm.Index) []byte {
	var b bytes.Buffer
	b.Write(leb128.EncodeUint32(uint32(len(v))))
	for _, idx := range v {
		b.Write(leb128.EncodeUint32(idx))
	}
	return b.Bytes()
}

func encodeName(b *bytes.Buffer, s string) {
	b.Write(leb128.EncodeUint32(uint32(len(s))))
	b.WriteString(s)
}

func encodeValueTypes(b *bytes.Buffer, types []wasm.ValueType) {
	b.Write(leb128.EncodeUint32(uint32(len(types))))
	for _, t := range types {
		b.WriteByte(t)
	}
}

func encodeTypeSection(m *wasm.Module) []byte {
	groups := m.RecGroups
	if len(groups) == 0 {
		// In-memory modules carry no group structure: every type is its own
		// singleton group, matching what the decoder would have produced
		// for plain functypes.
		for i := range m.TypeSection {
			groups = append(groups, wasm.RecGroup{Start: wasm.Index(i), End: wasm.Index(i + 1)})
		}
	}

	var b bytes.Buffer
	b.Write(leb128.EncodeUint32(uint32(len(groups))))
	for _, g := range groups {
		ft := &m.TypeSection[g.Start]
		if g.End-g.Start == 1 && !ft.Final && len(ft.Supertypes) == 0 {
			encodeSubType(&b, ft)
			continue
		}
		b.WriteByte(0x4e)
		b.Write(leb128.EncodeUint32(uint32(g.End - g.Start)))
		for i := g.Start; i < g.End; i++ {
			encodeSubType(&b, &m.TypeSection[i])
		}
	}
	return b.Bytes()
}

func encodeSubType(b *bytes.Buffer, ft *wasm.FunctionType) {
	if ft.Final || len(ft.Supertypes) > 0 {
		if ft.Final {
			b.WriteByte(0x4f)
		} else {
			b.WriteByte(0x50)
		}
		b.Write(leb128.EncodeUint32(uint32(len(ft.Supertypes))))
		for _, s := range ft.Supertypes {
			b.Write(leb128.EncodeUint32(s))
		}
	}
	b.WriteByte(0x60)
	encodeValueTypes(b, ft.Params)
	encodeValueTypes(b, ft.Results)
}

func encodeLimits(b *bytes.Buffer, min uint32, max *uint32, shared bool) {
	var flag byte
	if max != nil {
		flag |= 0x01
	}
	if shared {
		flag |= 0x02
	}
	b.WriteByte(flag)
	b.Write(leb128.EncodeUint32(min))
	if max != nil {
		b.Write(leb128.EncodeUint32(*max))
	}
}

func encodeTableType(b *bytes.Buffer, t wasm.TableType) {
	b.WriteByte(t.ElemType)
	encodeLimits(b, t.Min, t.Max, false)
}

func encodeTableSection(tables []wasm.TableType) []byte {
	var b bytes.Buffer
	b.Write(leb128.EncodeUint32(uint32(len(tables))))
	for _, t := range tables {
		encodeTableType(&b, t)
	}
	return b.Bytes()
}

func encodeMemoryType(b *bytes.Buffer, t wasm.MemoryType) {
	encodeLimits(b, t.Min, t.Max, t.IsShared)
}

func encodeMemorySection(mems []wasm.MemoryType) []byte {
	var b bytes.Buffer
	b.Write(leb128.EncodeUint32(uint32(len(mems))))
	for _, t := range mems {
		encodeMemoryType(&b, t)
	}
	return b.Bytes()
}

func encodeTagSection(tags []wasm.Tag) []byte {
	var b bytes.Buffer
	b.Write(leb128.EncodeUint32(uint32(len(tags))))
	for _, t := range tags {
		b.WriteByte(0x00) // tag attribute
		b.Write(leb128.EncodeUint32(t.Type))
	}
	return b.Bytes()
}

func encodeGlobalType(b *bytes.Buffer, t wasm.GlobalType) {
	b.WriteByte(t.ValType)
	if t.Mutable {
		b.WriteByte(0x01)
	} else {
		b.WriteByte(0x00)
	}
}

func encodeConstantExpression(b *bytes.Buffer, ce wasm.ConstantExpression) {
	b.WriteByte(ce.Opcode)
	b.Write(ce.Data)
	b.WriteByte(wasm.OpcodeEnd)
}

func encodeGlobalSection(globals []wasm.Global) []byte {
	var b bytes.Buffer
	b.Write(leb128.EncodeUint32(uint32(len(globals))))
	for _, g := range globals {
		encodeGlobalType(&b, g.Type)
		encodeConstantExpression(&b, g.Init)
	}
	return b.Bytes()
}

func encodeImportSection(imports []wasm.Import) []byte {
	var b bytes.Buffer
	b.Write(leb128.EncodeUint32(uint32(len(imports))))
	for _, imp := range imports {
		encodeName(&b, imp.Module)
		encodeName(&b, imp.Name)
		switch imp.Type {
		case wasm.ExternTypeFunc:
			b.WriteByte(wasm.ExternTypeFunc)
			b.Write(leb128.EncodeUint32(imp.DescFunc))
		case wasm.ExternTypeTable:
			b.WriteByte(wasm.ExternTypeTable)
			encodeTableType(&b, imp.DescTable)
		case wasm.ExternTypeMemory:
			b.WriteByte(wasm.ExternTypeMemory)
			encodeMemoryType(&b, imp.DescMemory)
		case wasm.ExternTypeGlobal:
			b.WriteByte(wasm.ExternTypeGlobal)
			encodeGlobalType(&b, imp.DescGlobal)
		case wasm.ExternTypeTag:
			b.WriteByte(0x04)
			b.WriteByte(0x00)
			b.Write(leb128.EncodeUint32(imp.DescTag))
		}
	}
	return b.Bytes()
}

func encodeExportSection(exports []wasm.Export) []byte {
	var b bytes.Buffer
	b.Write(leb128.EncodeUint32(uint32(len(exports))))
	for _, exp := range exports {
		encodeName(&b, exp.Name)
		if exp.Type == wasm.ExternTypeTag {
			b.WriteByte(0x04)
		} else {
			b.WriteByte(exp.Type)
		}
		b.Write(leb128.EncodeUint32(exp.Index))
	}
	return b.Bytes()
}

// elementFlag recovers the segment's encoding flag from its decoded shape,
// choosing the lowest flag that reproduces it: 0 for the common
// active-table-0-funcref-index form, 2 for an explicit table index, 1/3 for
// passive/declarative, +4 for expression-form initializers.
func elementFlag(seg *wasm.ElementSegment) uint32 {
	var flag uint32
	if seg.Exprs != nil {
		flag |= 0x4
	}
	switch seg.Mode {
	case wasm.ElementModeActive:
		if seg.TableIndex != 0 {
			flag |= 0x2
		}
	case wasm.ElementModePassive:
		flag |= 0x1
	case wasm.ElementModeDeclarative:
		flag |= 0x3
	}
	return flag
}

func encodeElementSection(segs []wasm.ElementSegment) []byte {
	var b bytes.Buffer
	b.Write(leb128.EncodeUint32(uint32(len(segs))))
	for i := range segs {
		seg := &segs[i]
		flag := elementFlag(seg)
		b.Write(leb128.EncodeUint32(flag))
		if seg.Mode == wasm.ElementModeActive {
			if flag&0x2 != 0 {
				b.Write(leb128.EncodeUint32(seg.TableIndex))
			}
			encodeConstantExpression(&b, seg.OffsetExpr)
		}
		if flag >= 1 && flag <= 3 {
			if seg.Exprs != nil {
				b.WriteByte(seg.Type)
			} else {
				b.WriteByte(0x00) // elemkind: funcref
			}
		} else if flag >= 5 {
			b.WriteByte(seg.Type)
		}
		if seg.Exprs != nil {
			b.Write(leb128.EncodeUint32(uint32(len(seg.Exprs))))
			for _, e := range seg.Exprs {
				encodeConstantExpression(&b, e)
			}
		} else {
			b.Write(leb128.EncodeUint32(uint32(len(seg.Init))))
			for _, idx := range seg.Init {
				b.Write(leb128.EncodeUint32(idx))
			}
		}
	}
	return b.Bytes()
}

func encodeDataSection(segs []wasm.DataSegment) []byte {
	var b bytes.Buffer
	b.Write(leb128.EncodeUint32(uint32(len(segs))))
	for i := range segs {
		seg := &segs[i]
		switch {
		case seg.Mode == wasm.DataModePassive:
			b.Write(leb128.EncodeUint32(1))
		case seg.MemoryIndex != 0:
			b.Write(leb128.EncodeUint32(2))
			b.Write(leb128.EncodeUint32(seg.MemoryIndex))
			encodeConstantExpression(&b, seg.OffsetExpr)
		default:
			b.Write(leb128.EncodeUint32(0))
			encodeConstantExpression(&b, seg.OffsetExpr)
		}
		b.Write(leb128.EncodeUint32(uint32(len(seg.Init))))
		b.Write(seg.Init)
	}
	return b.Bytes()
}

func encodeCodeSection(codes []wasm.Code) []byte {
	var b bytes.Buffer
	b.Write(leb128.EncodeUint32(uint32(len(codes))))
	for i := range codes {
		body := encodeCodeEntry(&codes[i])
		b.Write(leb128.EncodeUint32(uint32(len(body))))
		b.Write(body)
	}
	return b.Bytes()
}

// encodeCodeEntry serializes one code-section entry: the locals prelude
// (run-length compressed, as the format requires) followed by the body.
func encodeCodeEntry(c *wasm.Code) []byte {
	var b bytes.Buffer

	type localRun struct {
		count uint32
		typ   wasm.ValueType
	}
	var runs []localRun
	for _, lt := range c.LocalTypes {
		if n := len(runs); n > 0 && runs[n-1].typ == lt {
			runs[n-1].count++
		} else {
			runs = append(runs, localRun{count: 1, typ: lt})
		}
	}
	b.Write(leb128.EncodeUint32(uint32(len(runs))))
	for _, run := range runs {
		b.Write(leb128.EncodeUint32(run.count))
		b.WriteByte(run.typ)
	}

	encodeInstructions(&b, c.Body)
	b.WriteByte(wasm.OpcodeEnd)
	return b.Bytes()
}

func encodeInstructions(b *bytes.Buffer, instrs []wasm.Instruction) {
	for i := range instrs {
		encodeInstruction(b, &instrs[i])
	}
}

func encodeBlockType(b *bytes.Buffer, bt wasm.BlockType) {
	switch {
	case bt.Empty:
		b.WriteByte(0x40)
	case bt.HasTypeIndex:
		b.Write(leb128.EncodeInt64(int64(bt.TypeIndex)))
	default:
		b.WriteByte(bt.ValueType)
	}
}

func encodeMemArg(b *bytes.Buffer, ins *wasm.Instruction) {
	b.Write(leb128.EncodeUint32(ins.ImmAlign))
	b.Write(leb128.EncodeUint32(ins.ImmOffset))
}

func encodeInstruction(b *bytes.Buffer, ins *wasm.Instruction) {
	b.WriteByte(ins.Opcode)
	switch ins.Opcode {
	case wasm.OpcodeBlock, wasm.OpcodeLoop:
		encodeBlockType(b, ins.ImmBlockType)
		encodeInstructions(b, ins.Block.Then)
		b.WriteByte(wasm.OpcodeEnd)

	case wasm.OpcodeIf:
		encodeBlockType(b, ins.ImmBlockType)
		encodeInstructions(b, ins.Block.Then)
		if ins.Block.Else != nil {
			b.WriteByte(wasm.OpcodeElse)
			encodeInstructions(b, ins.Block.Else)
		}
		b.WriteByte(wasm.OpcodeEnd)

	case wasm.OpcodeTryTable:
		encodeBlockType(b, ins.ImmBlockType)
		b.Write(leb128.EncodeUint32(uint32(len(ins.Block.Catches))))
		for _, c := range ins.Block.Catches {
			b.WriteByte(byte(c.Kind))
			if c.Kind == wasm.CatchKindCatch || c.Kind == wasm.CatchKindCatchRef {
				b.Write(leb128.EncodeUint32(c.Tag))
			}
			b.Write(leb128.EncodeUint32(c.Label))
		}
		encodeInstructions(b, ins.Block.Then)
		b.WriteByte(wasm.OpcodeEnd)

	case wasm.OpcodeThrow, wasm.OpcodeBr, wasm.OpcodeBrIf, wasm.OpcodeCall,
		wasm.OpcodeLocalGet, wasm.OpcodeLocalSet, wasm.OpcodeLocalTee,
		wasm.OpcodeGlobalGet, wasm.OpcodeGlobalSet, wasm.OpcodeRefFunc,
		wasm.OpcodeCallRef, wasm.OpcodeBrOnNull, wasm.OpcodeBrOnNonNull,
		wasm.OpcodeReturnCall, wasm.OpcodeTableGet, wasm.OpcodeTableSet:
		b.Write(leb128.EncodeUint32(ins.ImmIndex))

	case wasm.OpcodeBrTable:
		b.Write(leb128.EncodeUint32(uint32(len(ins.ImmTargets))))
		for _, t := range ins.ImmTargets {
			b.Write(leb128.EncodeUint32(t))
		}
		b.Write(leb128.EncodeUint32(ins.ImmDefault))

	case wasm.OpcodeCallIndirect, wasm.OpcodeReturnCallIndirect:
		b.Write(leb128.EncodeUint32(ins.ImmIndex))
		b.Write(leb128.EncodeUint32(ins.ImmIndex2))

	case wasm.OpcodeRefNull:
		b.WriteByte(ins.ImmValType)

	case wasm.OpcodeSelectT:
		b.Write(leb128.EncodeUint32(1))
		b.WriteByte(ins.ImmValType)

	case wasm.OpcodeI32Const:
		b.Write(leb128.EncodeInt32(ins.ImmI32))
	case wasm.OpcodeI64Const:
		b.Write(leb128.EncodeInt64(ins.ImmI64))
	case wasm.OpcodeF32Const:
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], ins.ImmF32)
		b.Write(buf[:])
	case wasm.OpcodeF64Const:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], ins.ImmF64)
		b.Write(buf[:])

	case wasm.OpcodeMemorySize, wasm.OpcodeMemoryGrow:
		b.WriteByte(0x00)

	case wasm.OpcodeI32Load, wasm.OpcodeI64Load, wasm.OpcodeF32Load, wasm.OpcodeF64Load,
		wasm.OpcodeI32Load8S, wasm.OpcodeI32Load8U, wasm.OpcodeI32Load16S, wasm.OpcodeI32Load16U,
		wasm.OpcodeI64Load8S, wasm.OpcodeI64Load8U, wasm.OpcodeI64Load16S, wasm.OpcodeI64Load16U,
		wasm.OpcodeI64Load32S, wasm.OpcodeI64Load32U,
		wasm.OpcodeI32Store, wasm.OpcodeI64Store, wasm.OpcodeF32Store, wasm.OpcodeF64Store,
		wasm.OpcodeI32Store8, wasm.OpcodeI32Store16, wasm.OpcodeI64Store8, wasm.OpcodeI64Store16,
		wasm.OpcodeI64Store32:
		encodeMemArg(b, ins)

	case wasm.OpcodeMiscPrefix:
		b.Write(leb128.EncodeUint32(ins.Misc))
		switch ins.Misc {
		case wasm.OpcodeMiscMemoryInit, wasm.OpcodeMiscTableInit:
			b.Write(leb128.EncodeUint32(ins.ImmIndex))
			b.WriteByte(0x00)
		case wasm.OpcodeMiscDataDrop, wasm.OpcodeMiscElemDrop, wasm.OpcodeMiscTableGrow,
			wasm.OpcodeMiscTableSize, wasm.OpcodeMiscTableFill:
			b.Write(leb128.EncodeUint32(ins.ImmIndex))
		case wasm.OpcodeMiscMemoryCopy:
			b.WriteByte(0x00)
			b.WriteByte(0x00)
		case wasm.OpcodeMiscMemoryFill:
			b.WriteByte(0x00)
		case wasm.OpcodeMiscTableCopy:
			b.Write(leb128.EncodeUint32(ins.ImmIndex))
			b.Write(leb128.EncodeUint32(ins.ImmIndex2))
		}

	case wasm.OpcodeVecPrefix:
		b.Write(leb128.EncodeUint32(ins.Vec))
		switch ins.Vec {
		case wasm.OpcodeVecV128Const:
			b.Write(ins.ImmV128[:])
		case wasm.OpcodeVecI8x16Shuffle:
			b.Write(ins.ImmLanes[:])
		case wasm.OpcodeVecV128Load, wasm.OpcodeVecV128Store:
			encodeMemArg(b, ins)
		case wasm.OpcodeVecI32x4ExtractLane, wasm.OpcodeVecI32x4ReplaceLane:
			b.WriteByte(ins.ImmLaneIdx)
		}

	case wasm.OpcodeAtomicPrefix:
		b.Write(leb128.EncodeUint32(ins.Atomic))
		if ins.Atomic == wasm.OpcodeAtomicFence {
			b.WriteByte(0x00)
		} else {
			encodeMemArg(b, ins)
		}
	}
}
