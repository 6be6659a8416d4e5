// Package binary decodes and encodes the WebAssembly binary module format:
// https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-format%E2%91%A0
//
// Decode produces an internal/wasm Module; Encode is its inverse for the
// sections this engine round-trips, used to satisfy spec.md's testable
// property that decode(encode(m)) ≡ m.
package binary

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"unicode/utf8"

	"github.com/gowasm/gowasm/internal/leb128"
	"github.com/gowasm/gowasm/internal/wasm"
)

// magic is the 4-byte "\0asm" preamble every module begins with.
var magic = []byte{0x00, 0x61, 0x73, 0x6d}

// version is the only binary format version this engine accepts.
var version = []byte{0x01, 0x00, 0x00, 0x00}

// sectionID identifies one of the thirteen well-known sections, see spec.md
// §6.
type sectionID = byte

const (
	sectionIDCustom sectionID = iota
	sectionIDType
	sectionIDImport
	sectionIDFunction
	sectionIDTable
	sectionIDMemory
	sectionIDGlobal
	sectionIDExport
	sectionIDStart
	sectionIDElement
	sectionIDCode
	sectionIDData
	sectionIDDataCount
	sectionIDTag
)

// sectionRank gives each non-custom section its position in the canonical
// section order. Ids are mostly already ascending, but the tag section (id 13,
// assigned late by the exception-handling proposal) sorts between memory and
// global, so ordering can't compare raw ids.
var sectionRank = map[sectionID]int{
	sectionIDType:      1,
	sectionIDImport:    2,
	sectionIDFunction:  3,
	sectionIDTable:     4,
	sectionIDMemory:    5,
	sectionIDTag:       6,
	sectionIDGlobal:    7,
	sectionIDExport:    8,
	sectionIDStart:     9,
	sectionIDElement:   10,
	sectionIDDataCount: 11,
	sectionIDCode:      12,
	sectionIDData:      13,
}

// reader tracks position so error messages and "unexpected end" detection
// don't need every call site to pass around a remaining-bytes count.
type reader struct {
	*bytes.Reader
}

func (r *reader) readByte() (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, io.ErrUnexpectedEOF
	}
	return b, nil
}

func (r *reader) readBytes(n uint32) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	return buf, nil
}

func (r *reader) readU32() (uint32, error) {
	v, _, err := leb128.DecodeUint32(r)
	return v, err
}

func (r *reader) readU64() (uint64, error) {
	v, _, err := leb128.DecodeUint64(r)
	return v, err
}

func (r *reader) readI32() (int32, error) {
	v, _, err := leb128.DecodeInt32(r)
	return v, err
}

func (r *reader) readI64() (int64, error) {
	v, _, err := leb128.DecodeInt64(r)
	return v, err
}

func (r *reader) readF32() (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, io.ErrUnexpectedEOF
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (r *reader) readF64() (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, io.ErrUnexpectedEOF
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// readZeroByte reads the single-byte reserved immediate required after
// call_indirect's table index and memory.size/grow's memory index.
func (r *reader) readZeroByte() error {
	b, err := r.readByte()
	if err != nil {
		return err
	}
	if b != 0x00 {
		return fmt.Errorf("zero byte expected")
	}
	return nil
}

// readName decodes a length-prefixed UTF-8 string.
func (r *reader) readName() (string, error) {
	n, err := r.readU32()
	if err != nil {
		return "", err
	}
	b, err := r.readBytes(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("malformed UTF-8 encoding")
	}
	return string(b), nil
}

// DecodeModule parses a full binary module, computing its content hash as
// Module.ID for use as the engine's compiled-code cache key.
func DecodeModule(data []byte) (*wasm.Module, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("unexpected end of magic header")
	}
	if !bytes.Equal(data[:4], magic) {
		return nil, fmt.Errorf("magic header not detected")
	}
	if !bytes.Equal(data[4:8], version) {
		return nil, fmt.Errorf("unknown binary version")
	}

	r := &reader{bytes.NewReader(data[8:])}
	m := &wasm.Module{ID: sha256.Sum256(data)}

	lastRank := 0
	var sawDataCount bool
	var dataCount uint32
	for {
		id, err := r.readByte()
		if err == io.ErrUnexpectedEOF {
			break // clean EOF between sections
		} else if err != nil {
			return nil, err
		}

		size, err := r.readU32()
		if err != nil {
			return nil, fmt.Errorf("malformed section size: %w", err)
		}
		payload, err := r.readBytes(size)
		if err != nil {
			return nil, fmt.Errorf("section size mismatch: %w", err)
		}
		sr := &reader{bytes.NewReader(payload)}

		if id != sectionIDCustom {
			rank, known := sectionRank[id]
			if !known {
				return nil, fmt.Errorf("malformed section id: %d", id)
			}
			// Non-custom sections appear at most once, in canonical order.
			if rank <= lastRank {
				return nil, fmt.Errorf("unexpected content after last section")
			}
			lastRank = rank
		}

		switch id {
		case sectionIDCustom:
			name, err := sr.readName()
			if err != nil {
				return nil, err
			}
			if name == "name" {
				ns, err := decodeNameSection(sr)
				if err != nil {
					return nil, err
				}
				m.NameSection = ns
			}
			continue // custom sections never affect ordering
		case sectionIDType:
			if m.TypeSection, m.RecGroups, err = decodeTypeSection(sr); err != nil {
				return nil, err
			}
		case sectionIDImport:
			if m.ImportSection, err = decodeImportSection(sr); err != nil {
				return nil, err
			}
		case sectionIDFunction:
			if m.FunctionSection, err = decodeIndexVector(sr); err != nil {
				return nil, err
			}
		case sectionIDTable:
			if m.TableSection, err = decodeTableSection(sr); err != nil {
				return nil, err
			}
		case sectionIDMemory:
			if m.MemorySection, err = decodeMemorySection(sr); err != nil {
				return nil, err
			}
		case sectionIDTag:
			if m.TagSection, err = decodeTagSection(sr); err != nil {
				return nil, err
			}
		case sectionIDGlobal:
			if m.GlobalSection, err = decodeGlobalSection(sr); err != nil {
				return nil, err
			}
		case sectionIDExport:
			if m.ExportSection, err = decodeExportSection(sr); err != nil {
				return nil, err
			}
		case sectionIDStart:
			idx, err := sr.readU32()
			if err != nil {
				return nil, err
			}
			m.StartSection = &idx
		case sectionIDElement:
			if m.ElementSection, err = decodeElementSection(sr); err != nil {
				return nil, err
			}
		case sectionIDDataCount:
			if dataCount, err = sr.readU32(); err != nil {
				return nil, err
			}
			sawDataCount = true
			m.DataCountSection = &dataCount
		case sectionIDCode:
			if m.CodeSection, err = decodeCodeSection(sr); err != nil {
				return nil, err
			}
		case sectionIDData:
			if m.DataSection, err = decodeDataSection(sr); err != nil {
				return nil, err
			}
		}
		if sr.Len() != 0 {
			return nil, fmt.Errorf("section size mismatch")
		}
	}

	if len(m.FunctionSection) != len(m.CodeSection) {
		return nil, fmt.Errorf("function and code section have inconsistent lengths")
	}
	if sawDataCount && int(dataCount) != len(m.DataSection) {
		return nil, fmt.Errorf("data count and data section have inconsistent lengths")
	}
	if !sawDataCount {
		for _, c := range m.CodeSection {
			for i := range c.Body {
				op := c.Body[i].Opcode
				if op == wasm.OpcodeMiscPrefix {
					switch c.Body[i].Misc {
					case wasm.OpcodeMiscMemoryInit, wasm.OpcodeMiscDataDrop:
						return nil, fmt.Errorf("data count section required")
					}
				}
			}
		}
	}
	return m, nil
}

func decodeIndexVector(r *reader) ([]wasm.Index, error) {
	n, err := r.readU32()
	if err != nil {
		return nil, err
	}
	out := make([]wasm.Index, n)
	for i := range out {
		if out[i], err = r.readU32(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func decodeValueType(r *reader) (wasm.ValueType, error) {
	b, err := r.readByte()
	if err != nil {
		return 0, err
	}
	switch b {
	case wasm.ValueTypeI32, wasm.ValueTypeI64, wasm.ValueTypeF32, wasm.ValueTypeF64,
		wasm.ValueTypeV128, wasm.ValueTypeFuncref, wasm.ValueTypeExternref, wasm.ValueTypeExnref:
		return b, nil
	case 0x63, 0x64: // (ref null ht) / (ref ht)
		// Typed references are flattened to their representative top type;
		// nullability and the concrete index are not retained. See
		// DESIGN.md's typed-reference decision.
		ht, _, err := leb128.DecodeInt33AsInt64(r)
		if err != nil {
			return 0, err
		}
		if ht >= 0 {
			return wasm.ValueTypeFuncref, nil // concrete index: a function type
		}
		switch byte(ht & 0x7f) {
		case wasm.ValueTypeFuncref:
			return wasm.ValueTypeFuncref, nil
		case wasm.ValueTypeExternref:
			return wasm.ValueTypeExternref, nil
		case wasm.ValueTypeExnref:
			return wasm.ValueTypeExnref, nil
		}
		return 0, fmt.Errorf("invalid heap type: %#x", byte(ht&0x7f))
	default:
		return 0, fmt.Errorf("invalid value type: %#x", b)
	}
}

// decodeTypeSection decodes the type section's vector of recursion groups:
// each entry is either a rec declaration (0x4e, a vec of subtypes) or a
// single subtype forming a singleton group.
func decodeTypeSection(r *reader) (types []wasm.FunctionType, groups []wasm.RecGroup, err error) {
	n, err := r.readU32()
	if err != nil {
		return nil, nil, err
	}
	for i := uint32(0); i < n; i++ {
		b, err := r.readByte()
		if err != nil {
			return nil, nil, err
		}
		if b == 0x4e { // rec: vec(subtype)
			count, err := r.readU32()
			if err != nil {
				return nil, nil, err
			}
			start := wasm.Index(len(types))
			for j := uint32(0); j < count; j++ {
				first, err := r.readByte()
				if err != nil {
					return nil, nil, err
				}
				ft, err := decodeSubType(r, first)
				if err != nil {
					return nil, nil, err
				}
				types = append(types, ft)
			}
			groups = append(groups, wasm.RecGroup{Start: start, End: start + wasm.Index(count)})
			continue
		}
		ft, err := decodeSubType(r, b)
		if err != nil {
			return nil, nil, err
		}
		types = append(types, ft)
		groups = append(groups, wasm.RecGroup{Start: wasm.Index(len(types) - 1), End: wasm.Index(len(types))})
	}
	return types, groups, nil
}

// decodeSubType decodes one subtype whose first byte has already been read:
// an optional sub (0x50) / sub-final (0x4f) wrapper carrying a supertype
// index vector, then the composite type, which must be a functype (struct
// and array composites belong to the gc proposal's heap, out of scope
// here).
func decodeSubType(r *reader, first byte) (wasm.FunctionType, error) {
	var supers []wasm.Index
	var final bool
	b := first
	if b == 0x50 || b == 0x4f {
		final = b == 0x4f
		count, err := r.readU32()
		if err != nil {
			return wasm.FunctionType{}, err
		}
		if count > 0 {
			supers = make([]wasm.Index, count)
			for i := range supers {
				if supers[i], err = r.readU32(); err != nil {
					return wasm.FunctionType{}, err
				}
			}
		}
		if b, err = r.readByte(); err != nil {
			return wasm.FunctionType{}, err
		}
	}
	if b != 0x60 {
		return wasm.FunctionType{}, fmt.Errorf("malformed function type: expected 0x60, got %#x", b)
	}
	pn, err := r.readU32()
	if err != nil {
		return wasm.FunctionType{}, err
	}
	params := make([]wasm.ValueType, pn)
	for j := range params {
		if params[j], err = decodeValueType(r); err != nil {
			return wasm.FunctionType{}, err
		}
	}
	rn, err := r.readU32()
	if err != nil {
		return wasm.FunctionType{}, err
	}
	results := make([]wasm.ValueType, rn)
	for j := range results {
		if results[j], err = decodeValueType(r); err != nil {
			return wasm.FunctionType{}, err
		}
	}
	return wasm.FunctionType{Params: params, Results: results, Supertypes: supers, Final: final}, nil
}

func decodeLimits(r *reader) (min uint32, max *uint32, shared bool, err error) {
	flag, err := r.readByte()
	if err != nil {
		return 0, nil, false, err
	}
	if min, err = r.readU32(); err != nil {
		return 0, nil, false, err
	}
	switch flag {
	case 0x00:
	case 0x01:
		var m uint32
		if m, err = r.readU32(); err != nil {
			return 0, nil, false, err
		}
		max = &m
	case 0x02: // shared, no max (threads proposal allows this in some encoders)
		shared = true
	case 0x03:
		shared = true
		var m uint32
		if m, err = r.readU32(); err != nil {
			return 0, nil, false, err
		}
		max = &m
	default:
		return 0, nil, false, fmt.Errorf("malformed limits flag: %#x", flag)
	}
	return min, max, shared, nil
}

func decodeTableType(r *reader) (wasm.TableType, error) {
	elemByte, err := r.readByte()
	if err != nil {
		return wasm.TableType{}, err
	}
	var elem wasm.RefType
	switch elemByte {
	case wasm.ValueTypeFuncref, wasm.ValueTypeExternref:
		elem = elemByte
	default:
		return wasm.TableType{}, fmt.Errorf("invalid table element type: %#x", elemByte)
	}
	min, max, _, err := decodeLimits(r)
	if err != nil {
		return wasm.TableType{}, err
	}
	return wasm.TableType{ElemType: elem, Min: min, Max: max}, nil
}

func decodeTableSection(r *reader) ([]wasm.TableType, error) {
	n, err := r.readU32()
	if err != nil {
		return nil, err
	}
	out := make([]wasm.TableType, n)
	for i := range out {
		if out[i], err = decodeTableType(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func decodeMemoryType(r *reader) (wasm.MemoryType, error) {
	min, max, shared, err := decodeLimits(r)
	if err != nil {
		return wasm.MemoryType{}, err
	}
	if min > wasm.MemoryLimitPages || (max != nil && *max > wasm.MemoryLimitPages) {
		return wasm.MemoryType{}, fmt.Errorf("memory size out of bounds")
	}
	return wasm.MemoryType{Min: min, Max: max, IsMaxEncoded: max != nil, IsShared: shared}, nil
}

func decodeMemorySection(r *reader) ([]wasm.MemoryType, error) {
	n, err := r.readU32()
	if err != nil {
		return nil, err
	}
	if n > 1 {
		return nil, fmt.Errorf("multiple memories")
	}
	out := make([]wasm.MemoryType, n)
	for i := range out {
		if out[i], err = decodeMemoryType(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func decodeTagSection(r *reader) ([]wasm.Tag, error) {
	n, err := r.readU32()
	if err != nil {
		return nil, err
	}
	out := make([]wasm.Tag, n)
	for i := range out {
		if err = r.readZeroByte(); err != nil { // tag attribute, always 0
			return nil, err
		}
		if out[i].Type, err = r.readU32(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func decodeGlobalType(r *reader) (wasm.GlobalType, error) {
	vt, err := decodeValueType(r)
	if err != nil {
		return wasm.GlobalType{}, err
	}
	mb, err := r.readByte()
	if err != nil {
		return wasm.GlobalType{}, err
	}
	var mutable bool
	switch mb {
	case 0x00:
	case 0x01:
		mutable = true
	default:
		return wasm.GlobalType{}, fmt.Errorf("malformed mutability: %#x", mb)
	}
	return wasm.GlobalType{ValType: vt, Mutable: mutable}, nil
}

func decodeGlobalSection(r *reader) ([]wasm.Global, error) {
	n, err := r.readU32()
	if err != nil {
		return nil, err
	}
	out := make([]wasm.Global, n)
	for i := range out {
		gt, err := decodeGlobalType(r)
		if err != nil {
			return nil, err
		}
		init, err := decodeConstantExpression(r)
		if err != nil {
			return nil, err
		}
		out[i] = wasm.Global{Type: gt, Init: init}
	}
	return out, nil
}

func decodeImportSection(r *reader) ([]wasm.Import, error) {
	n, err := r.readU32()
	if err != nil {
		return nil, err
	}
	var funcIdx, tableIdx, memIdx, globalIdx, tagIdx wasm.Index
	out := make([]wasm.Import, n)
	for i := range out {
		mod, err := r.readName()
		if err != nil {
			return nil, err
		}
		name, err := r.readName()
		if err != nil {
			return nil, err
		}
		kind, err := r.readByte()
		if err != nil {
			return nil, err
		}
		imp := wasm.Import{Module: mod, Name: name}
		switch kind {
		case wasm.ExternTypeFunc:
			imp.Type = wasm.ExternTypeFunc
			if imp.DescFunc, err = r.readU32(); err != nil {
				return nil, err
			}
			imp.IndexInModule = funcIdx
			funcIdx++
		case wasm.ExternTypeTable:
			imp.Type = wasm.ExternTypeTable
			if imp.DescTable, err = decodeTableType(r); err != nil {
				return nil, err
			}
			imp.IndexInModule = tableIdx
			tableIdx++
		case wasm.ExternTypeMemory:
			imp.Type = wasm.ExternTypeMemory
			if imp.DescMemory, err = decodeMemoryType(r); err != nil {
				return nil, err
			}
			imp.IndexInModule = memIdx
			memIdx++
		case wasm.ExternTypeGlobal:
			imp.Type = wasm.ExternTypeGlobal
			if imp.DescGlobal, err = decodeGlobalType(r); err != nil {
				return nil, err
			}
			imp.IndexInModule = globalIdx
			globalIdx++
		case 0x04: // tag, exception-handling proposal
			imp.Type = wasm.ExternTypeTag
			if err = r.readZeroByte(); err != nil {
				return nil, err
			}
			if imp.DescTag, err = r.readU32(); err != nil {
				return nil, err
			}
			imp.IndexInModule = tagIdx
			tagIdx++
		default:
			return nil, fmt.Errorf("malformed import kind: %#x", kind)
		}
		out[i] = imp
	}
	return out, nil
}

func decodeExportSection(r *reader) ([]wasm.Export, error) {
	n, err := r.readU32()
	if err != nil {
		return nil, err
	}
	out := make([]wasm.Export, n)
	for i := range out {
		name, err := r.readName()
		if err != nil {
			return nil, err
		}
		kind, err := r.readByte()
		if err != nil {
			return nil, err
		}
		var typ wasm.ExternType
		switch kind {
		case wasm.ExternTypeFunc, wasm.ExternTypeTable, wasm.ExternTypeMemory, wasm.ExternTypeGlobal:
			typ = kind
		case 0x04:
			typ = wasm.ExternTypeTag
		default:
			return nil, fmt.Errorf("malformed export kind: %#x", kind)
		}
		idx, err := r.readU32()
		if err != nil {
			return nil, err
		}
		out[i] = wasm.Export{Name: name, Type: typ, Index: idx}
	}
	return out, nil
}

// decodeConstantExpression decodes a restricted, single-instruction
// constant expression (spec.md §4.2 "Constant expressions") followed by its
// terminating `end`. Exactly one instruction is accepted; anything other
// than `end` after it is rejected. It is kept as its opcode and the raw
// immediate Data for the validator/instantiator to re-evaluate.
func decodeConstantExpression(r *reader) (wasm.ConstantExpression, error) {
	op, err := r.readByte()
	if err != nil {
		return wasm.ConstantExpression{}, err
	}
	// startPos marks the first byte of the immediate, after the opcode, so
	// Data holds only the immediate (what evalConstExpr's leb128 readers
	// expect), not the opcode byte itself.
	startPos := r.Size() - int64(r.Len())
	switch op {
	case wasm.OpcodeI32Const:
		if _, err = r.readI32(); err != nil {
			return wasm.ConstantExpression{}, err
		}
	case wasm.OpcodeI64Const:
		if _, err = r.readI64(); err != nil {
			return wasm.ConstantExpression{}, err
		}
	case wasm.OpcodeF32Const:
		if _, err = r.readF32(); err != nil {
			return wasm.ConstantExpression{}, err
		}
	case wasm.OpcodeF64Const:
		if _, err = r.readF64(); err != nil {
			return wasm.ConstantExpression{}, err
		}
	case wasm.OpcodeGlobalGet:
		if _, err = r.readU32(); err != nil {
			return wasm.ConstantExpression{}, err
		}
	case wasm.OpcodeRefNull:
		if _, err = decodeValueType(r); err != nil {
			return wasm.ConstantExpression{}, err
		}
	case wasm.OpcodeRefFunc:
		if _, err = r.readU32(); err != nil {
			return wasm.ConstantExpression{}, err
		}
	default:
		return wasm.ConstantExpression{}, fmt.Errorf("constant expression required")
	}
	consumed := (r.Size() - int64(r.Len())) - startPos
	end, err := r.readByte()
	if err != nil {
		return wasm.ConstantExpression{}, err
	}
	if end != wasm.OpcodeEnd {
		return wasm.ConstantExpression{}, fmt.Errorf("END opcode expected")
	}
	// Re-slice the original payload bytes for this expression's immediate.
	full := make([]byte, consumed)
	if _, err = r.ReadAt(full, startPos); err != nil {
		return wasm.ConstantExpression{}, err
	}
	return wasm.ConstantExpression{Opcode: op, Data: full}, nil
}

func decodeElementSection(r *reader) ([]wasm.ElementSegment, error) {
	n, err := r.readU32()
	if err != nil {
		return nil, err
	}
	out := make([]wasm.ElementSegment, n)
	for i := range out {
		flag, err := r.readU32()
		if err != nil {
			return nil, err
		}
		seg := wasm.ElementSegment{Type: wasm.ValueTypeFuncref}
		useExprs := flag&0x4 != 0
		switch flag {
		case 0, 4:
			seg.Mode = wasm.ElementModeActive
			if seg.OffsetExpr, err = decodeConstantExpression(r); err != nil {
				return nil, err
			}
		case 1, 5:
			seg.Mode = wasm.ElementModePassive
		case 2, 6:
			seg.Mode = wasm.ElementModeActive
			if seg.TableIndex, err = r.readU32(); err != nil {
				return nil, err
			}
			if seg.OffsetExpr, err = decodeConstantExpression(r); err != nil {
				return nil, err
			}
		case 3, 7:
			seg.Mode = wasm.ElementModeDeclarative
		default:
			return nil, fmt.Errorf("malformed element segment flag: %#x", flag)
		}
		if flag >= 1 && flag <= 3 {
			if useExprs {
				if seg.Type, err = decodeValueType(r); err != nil {
					return nil, err
				}
			} else {
				kind, err := r.readByte()
				if err != nil {
					return nil, err
				}
				if kind != 0x00 {
					return nil, fmt.Errorf("malformed elemkind")
				}
				seg.Type = wasm.ValueTypeFuncref
			}
		} else if flag >= 5 {
			if seg.Type, err = decodeValueType(r); err != nil {
				return nil, err
			}
		}
		count, err := r.readU32()
		if err != nil {
			return nil, err
		}
		if useExprs {
			seg.Exprs = make([]wasm.ConstantExpression, count)
			for j := range seg.Exprs {
				if seg.Exprs[j], err = decodeConstantExpression(r); err != nil {
					return nil, err
				}
			}
		} else {
			seg.Init = make([]wasm.Index, count)
			for j := range seg.Init {
				if seg.Init[j], err = r.readU32(); err != nil {
					return nil, err
				}
			}
		}
		out[i] = seg
	}
	return out, nil
}

func decodeDataSection(r *reader) ([]wasm.DataSegment, error) {
	n, err := r.readU32()
	if err != nil {
		return nil, err
	}
	out := make([]wasm.DataSegment, n)
	for i := range out {
		flag, err := r.readU32()
		if err != nil {
			return nil, err
		}
		seg := wasm.DataSegment{}
		switch flag {
		case 0:
			seg.Mode = wasm.DataModeActive
			if seg.OffsetExpr, err = decodeConstantExpression(r); err != nil {
				return nil, err
			}
		case 1:
			seg.Mode = wasm.DataModePassive
		case 2:
			seg.Mode = wasm.DataModeActive
			if seg.MemoryIndex, err = r.readU32(); err != nil {
				return nil, err
			}
			if seg.OffsetExpr, err = decodeConstantExpression(r); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("malformed data segment flag: %#x", flag)
		}
		blen, err := r.readU32()
		if err != nil {
			return nil, err
		}
		if seg.Init, err = r.readBytes(blen); err != nil {
			return nil, err
		}
		out[i] = seg
	}
	return out, nil
}

const maxLocals = uint64(1) << 32

func decodeCodeSection(r *reader) ([]wasm.Code, error) {
	n, err := r.readU32()
	if err != nil {
		return nil, err
	}
	out := make([]wasm.Code, n)
	for i := range out {
		size, err := r.readU32()
		if err != nil {
			return nil, err
		}
		body, err := r.readBytes(size)
		if err != nil {
			return nil, fmt.Errorf("unexpected end of section or function: %w", err)
		}
		br := &reader{bytes.NewReader(body)}

		localCount, err := br.readU32()
		if err != nil {
			return nil, err
		}
		type localRun struct {
			cnt uint32
			vt  wasm.ValueType
		}
		var runs []localRun
		var total uint64
		for j := uint32(0); j < localCount; j++ {
			cnt, err := br.readU32()
			if err != nil {
				return nil, err
			}
			vt, err := decodeValueType(br)
			if err != nil {
				return nil, err
			}
			total += uint64(cnt)
			if total >= maxLocals {
				return nil, fmt.Errorf("too many locals")
			}
			runs = append(runs, localRun{cnt, vt})
		}
		var locals []wasm.ValueType
		for _, run := range runs {
			for k := uint32(0); k < run.cnt; k++ {
				locals = append(locals, run.vt)
			}
		}

		instrs, err := decodeInstructions(br, true)
		if err != nil {
			return nil, err
		}
		if br.Len() != 0 {
			return nil, fmt.Errorf("function size mismatch")
		}
		out[i] = wasm.Code{LocalTypes: locals, Body: instrs}
	}
	return out, nil
}

// decodeInstructions decodes a flat instruction sequence up to (and
// including consuming) a terminating `end` (or, for an `if`, an `else`
// too). topLevel is true for a function body, where only `end` may
// terminate.
func decodeInstructions(r *reader, topLevel bool) ([]wasm.Instruction, error) {
	var out []wasm.Instruction
	for {
		op, err := r.readByte()
		if err != nil {
			return nil, fmt.Errorf("unexpected end of section or function: %w", err)
		}
		if op == wasm.OpcodeEnd {
			return out, nil
		}
		if op == wasm.OpcodeElse && !topLevel {
			out = append(out, wasm.Instruction{Opcode: op})
			return out, nil
		}
		ins, err := decodeInstruction(r, op)
		if err != nil {
			return nil, err
		}
		out = append(out, ins)
	}
}

func decodeBlockType(r *reader) (wasm.BlockType, error) {
	v, _, err := leb128.DecodeInt33AsInt64(r)
	if err != nil {
		return wasm.BlockType{}, err
	}
	if v == -0x40 {
		return wasm.BlockType{Empty: true}, nil
	}
	if v < 0 {
		switch byte(v & 0x7f) {
		case wasm.ValueTypeI32, wasm.ValueTypeI64, wasm.ValueTypeF32, wasm.ValueTypeF64,
			wasm.ValueTypeV128, wasm.ValueTypeFuncref, wasm.ValueTypeExternref, wasm.ValueTypeExnref:
			return wasm.BlockType{ValueType: byte(v & 0x7f)}, nil
		}
		return wasm.BlockType{}, fmt.Errorf("inline function type")
	}
	return wasm.BlockType{HasTypeIndex: true, TypeIndex: wasm.Index(v)}, nil
}

func decodeMemArg(r *reader) (align, offset uint32, err error) {
	a, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed memop flags: %w", err)
	}
	// An alignment exponent of 32 or more can never be natural for any
	// access width; the validator rejects the in-range excess (a >
	// log2(width)) with the same message.
	if a >= 32 {
		return 0, 0, fmt.Errorf("malformed memop flags")
	}
	o, n, err := leb128.DecodeUint64(r)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed memop flags: %w", err)
	}
	if n > 5 || o > math.MaxUint32 {
		return 0, 0, fmt.Errorf("malformed memop flags")
	}
	return a, uint32(o), nil
}

// decodeInstruction decodes one instruction, already having consumed its
// leading opcode byte (op). Control instructions recurse into
// decodeInstructions for their nested body.
func decodeInstruction(r *reader, op byte) (wasm.Instruction, error) {
	ins := wasm.Instruction{Opcode: op}
	switch op {
	case wasm.OpcodeUnreachable, wasm.OpcodeNop, wasm.OpcodeReturn, wasm.OpcodeDrop,
		wasm.OpcodeSelect, wasm.OpcodeThrowRef, wasm.OpcodeRefAsNonNull:
		return ins, nil

	case wasm.OpcodeTableGet, wasm.OpcodeTableSet:
		idx, err := r.readU32()
		if err != nil {
			return ins, err
		}
		ins.ImmIndex = idx
		return ins, nil

	case wasm.OpcodeI32Load, wasm.OpcodeI64Load, wasm.OpcodeF32Load, wasm.OpcodeF64Load,
		wasm.OpcodeI32Load8S, wasm.OpcodeI32Load8U, wasm.OpcodeI32Load16S, wasm.OpcodeI32Load16U,
		wasm.OpcodeI64Load8S, wasm.OpcodeI64Load8U, wasm.OpcodeI64Load16S, wasm.OpcodeI64Load16U,
		wasm.OpcodeI64Load32S, wasm.OpcodeI64Load32U,
		wasm.OpcodeI32Store, wasm.OpcodeI64Store, wasm.OpcodeF32Store, wasm.OpcodeF64Store,
		wasm.OpcodeI32Store8, wasm.OpcodeI32Store16, wasm.OpcodeI64Store8, wasm.OpcodeI64Store16,
		wasm.OpcodeI64Store32:
		align, offset, err := decodeMemArg(r)
		if err != nil {
			return ins, err
		}
		ins.ImmAlign, ins.ImmOffset = align, offset
		return ins, nil

	case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
		bt, err := decodeBlockType(r)
		if err != nil {
			return ins, err
		}
		ins.ImmBlockType = bt
		then, err := decodeInstructions(r, false)
		if err != nil {
			return ins, err
		}
		blk := &wasm.Block{Type: bt}
		if op == wasm.OpcodeIf && len(then) > 0 && then[len(then)-1].Opcode == wasm.OpcodeElse {
			blk.Then = then[:len(then)-1]
			elseBody, err := decodeInstructions(r, true)
			if err != nil {
				return ins, err
			}
			blk.Else = elseBody
		} else {
			blk.Then = then
		}
		ins.Block = blk
		return ins, nil

	case wasm.OpcodeTryTable:
		bt, err := decodeBlockType(r)
		if err != nil {
			return ins, err
		}
		ins.ImmBlockType = bt
		nc, err := r.readU32()
		if err != nil {
			return ins, err
		}
		catches := make([]wasm.CatchClause, nc)
		for i := range catches {
			kind, err := r.readByte()
			if err != nil {
				return ins, err
			}
			var cc wasm.CatchClause
			switch kind {
			case 0x00:
				cc.Kind = wasm.CatchKindCatch
				if cc.Tag, err = r.readU32(); err != nil {
					return ins, err
				}
			case 0x01:
				cc.Kind = wasm.CatchKindCatchRef
				if cc.Tag, err = r.readU32(); err != nil {
					return ins, err
				}
			case 0x02:
				cc.Kind = wasm.CatchKindCatchAll
			case 0x03:
				cc.Kind = wasm.CatchKindCatchAllRef
			default:
				return ins, fmt.Errorf("malformed catch clause: %#x", kind)
			}
			if cc.Label, err = r.readU32(); err != nil {
				return ins, err
			}
			catches[i] = cc
		}
		then, err := decodeInstructions(r, true)
		if err != nil {
			return ins, err
		}
		ins.Block = &wasm.Block{Type: bt, Then: then, Catches: catches}
		return ins, nil

	case wasm.OpcodeThrow, wasm.OpcodeBr, wasm.OpcodeBrIf, wasm.OpcodeCall,
		wasm.OpcodeLocalGet, wasm.OpcodeLocalSet, wasm.OpcodeLocalTee,
		wasm.OpcodeGlobalGet, wasm.OpcodeGlobalSet, wasm.OpcodeRefFunc,
		wasm.OpcodeCallRef, wasm.OpcodeBrOnNull, wasm.OpcodeBrOnNonNull,
		wasm.OpcodeReturnCall:
		idx, err := r.readU32()
		if err != nil {
			return ins, err
		}
		ins.ImmIndex = idx
		return ins, nil

	case wasm.OpcodeRefNull:
		vt, err := decodeValueType(r)
		if err != nil {
			return ins, err
		}
		ins.ImmValType = vt
		return ins, nil

	case wasm.OpcodeSelectT:
		n, err := r.readU32()
		if err != nil {
			return ins, err
		}
		if n != 1 {
			return ins, fmt.Errorf("malformed select with type count %d", n)
		}
		vt, err := decodeValueType(r)
		if err != nil {
			return ins, err
		}
		ins.ImmValType = vt
		return ins, nil

	case wasm.OpcodeBrTable:
		n, err := r.readU32()
		if err != nil {
			return ins, err
		}
		targets := make([]wasm.Index, n)
		for i := range targets {
			if targets[i], err = r.readU32(); err != nil {
				return ins, err
			}
		}
		def, err := r.readU32()
		if err != nil {
			return ins, err
		}
		ins.ImmTargets, ins.ImmDefault = targets, def
		return ins, nil

	case wasm.OpcodeCallIndirect, wasm.OpcodeReturnCallIndirect:
		typeIdx, err := r.readU32()
		if err != nil {
			return ins, err
		}
		tableIdx, err := r.readU32()
		if err != nil {
			return ins, err
		}
		ins.ImmIndex, ins.ImmIndex2 = typeIdx, tableIdx
		return ins, nil

	case wasm.OpcodeI32Const:
		v, err := r.readI32()
		if err != nil {
			return ins, err
		}
		ins.ImmI32 = v
		return ins, nil
	case wasm.OpcodeI64Const:
		v, err := r.readI64()
		if err != nil {
			return ins, err
		}
		ins.ImmI64 = v
		return ins, nil
	case wasm.OpcodeF32Const:
		v, err := r.readF32()
		if err != nil {
			return ins, err
		}
		ins.ImmF32 = v
		return ins, nil
	case wasm.OpcodeF64Const:
		v, err := r.readF64()
		if err != nil {
			return ins, err
		}
		ins.ImmF64 = v
		return ins, nil

	case wasm.OpcodeMemorySize, wasm.OpcodeMemoryGrow:
		if err := r.readZeroByte(); err != nil {
			return ins, err
		}
		return ins, nil

	case wasm.OpcodeMiscPrefix:
		misc, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return ins, err
		}
		ins.Misc = misc
		switch misc {
		case wasm.OpcodeMiscMemoryInit, wasm.OpcodeMiscTableInit:
			if ins.ImmIndex, err = r.readU32(); err != nil {
				return ins, err
			}
			if err = r.readZeroByte(); err != nil {
				return ins, err
			}
		case wasm.OpcodeMiscDataDrop, wasm.OpcodeMiscElemDrop, wasm.OpcodeMiscTableGrow,
			wasm.OpcodeMiscTableSize, wasm.OpcodeMiscTableFill:
			if ins.ImmIndex, err = r.readU32(); err != nil {
				return ins, err
			}
		case wasm.OpcodeMiscMemoryCopy:
			if err = r.readZeroByte(); err != nil {
				return ins, err
			}
			if err = r.readZeroByte(); err != nil {
				return ins, err
			}
		case wasm.OpcodeMiscMemoryFill:
			if err = r.readZeroByte(); err != nil {
				return ins, err
			}
		case wasm.OpcodeMiscTableCopy:
			if ins.ImmIndex, err = r.readU32(); err != nil {
				return ins, err
			}
			if ins.ImmIndex2, err = r.readU32(); err != nil {
				return ins, err
			}
		default: // trunc_sat family: no immediate
		}
		return ins, nil

	case wasm.OpcodeAtomicPrefix:
		a, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return ins, err
		}
		ins.Atomic = a
		if a == wasm.OpcodeAtomicFence {
			if err = r.readZeroByte(); err != nil {
				return ins, err
			}
			return ins, nil
		}
		align, offset, err := decodeMemArg(r)
		if err != nil {
			return ins, err
		}
		ins.ImmAlign, ins.ImmOffset = align, offset
		return ins, nil

	case wasm.OpcodeVecPrefix:
		v, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return ins, err
		}
		ins.Vec = v
		switch {
		case v == wasm.OpcodeVecV128Const:
			var b [16]byte
			buf, err := r.readBytes(16)
			if err != nil {
				return ins, err
			}
			copy(b[:], buf)
			ins.ImmV128 = b
		case v == wasm.OpcodeVecI8x16Shuffle:
			buf, err := r.readBytes(16)
			if err != nil {
				return ins, err
			}
			var lanes [16]byte
			copy(lanes[:], buf)
			for _, l := range lanes {
				if l >= 32 {
					return ins, fmt.Errorf("invalid lane index")
				}
			}
			ins.ImmLanes = lanes
		case v >= wasm.OpcodeVecI32x4ExtractLane && v <= wasm.OpcodeVecI32x4ReplaceLane,
			v == wasm.OpcodeVecV128Load, v == wasm.OpcodeVecV128Store:
			if v == wasm.OpcodeVecV128Load || v == wasm.OpcodeVecV128Store {
				align, offset, err := decodeMemArg(r)
				if err != nil {
					return ins, err
				}
				ins.ImmAlign, ins.ImmOffset = align, offset
			} else {
				lane, err := r.readByte()
				if err != nil {
					return ins, err
				}
				if lane >= 4 { // i32x4 lane count
					return ins, fmt.Errorf("invalid lane index")
				}
				ins.ImmLaneIdx = lane
			}
		default: // splat/arithmetic: no immediate
		}
		return ins, nil

	default:
		if op >= 0x45 && op <= 0xc4 {
			return ins, nil // opaque numeric opcode, no immediate
		}
		if op >= wasm.OpcodeRefNull && op <= wasm.OpcodeBrOnNonNull {
			return ins, nil
		}
		return ins, fmt.Errorf("illegal opcode: %#x", op)
	}
}

func decodeNameSection(r *reader) (*wasm.NameSection, error) {
	ns := &wasm.NameSection{}
	for r.Len() > 0 {
		subID, err := r.readByte()
		if err != nil {
			return nil, err
		}
		size, err := r.readU32()
		if err != nil {
			return nil, err
		}
		payload, err := r.readBytes(size)
		if err != nil {
			return nil, err
		}
		sr := &reader{bytes.NewReader(payload)}
		switch subID {
		case 0: // module name
			if ns.ModuleName, err = sr.readName(); err != nil {
				return nil, err
			}
		case 1: // function names
			n, err := sr.readU32()
			if err != nil {
				return nil, err
			}
			for i := uint32(0); i < n; i++ {
				idx, err := sr.readU32()
				if err != nil {
					return nil, err
				}
				name, err := sr.readName()
				if err != nil {
					return nil, err
				}
				ns.FunctionNames = append(ns.FunctionNames, struct {
					Index wasm.Index
					Name  string
				}{idx, name})
			}
		case 2: // local names
			n, err := sr.readU32()
			if err != nil {
				return nil, err
			}
			for i := uint32(0); i < n; i++ {
				fidx, err := sr.readU32()
				if err != nil {
					return nil, err
				}
				ln, err := sr.readU32()
				if err != nil {
					return nil, err
				}
				var nm wasm.NameMap
				for j := uint32(0); j < ln; j++ {
					lidx, err := sr.readU32()
					if err != nil {
						return nil, err
					}
					name, err := sr.readName()
					if err != nil {
						return nil, err
					}
					nm = append(nm, struct {
						Index wasm.Index
						Name  string
					}{lidx, name})
				}
				ns.LocalNames = append(ns.LocalNames, struct {
					Index   wasm.Index
					NameMap wasm.NameMap
				}{fidx, nm})
			}
		}
		// unknown subsection ids are skipped, already consumed via readBytes.
	}
	return ns, nil
}
