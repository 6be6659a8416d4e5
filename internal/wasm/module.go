package wasm

import "crypto/sha256"

// ModuleID uniquely identifies a decoded Module by the hash of its binary,
// used to key the engine's per-module compiled-code cache.
type ModuleID = [sha256.Size]byte

// Module is the decoder's output: every section of a WebAssembly binary,
// normalized into Go structures. It has no behavior of its own; Validate
// checks it, and Instantiate (together with the Store) gives it behavior.
type Module struct {
	TypeSection []FunctionType
	// RecGroups partitions TypeSection into recursion groups, in order.
	// Empty for modules built in memory (host modules, tests), where every
	// type is treated as its own singleton group.
	RecGroups []RecGroup

	ImportSection   []Import
	FunctionSection []Index // indexes TypeSection, one per module-defined function
	TableSection    []TableType
	MemorySection   []MemoryType
	GlobalSection   []Global
	TagSection      []Tag
	ExportSection   []Export
	StartSection    *Index
	ElementSection  []ElementSegment
	CodeSection     []Code
	DataSection     []DataSegment
	DataCountSection *uint32
	NameSection     *NameSection

	// ID is the sha256 of the original binary, computed once at decode
	// time and used as the engine's compiled-code cache key.
	ID ModuleID

	// TypeIDs gives each entry of TypeSection a process-wide equivalence
	// id via internal/wasm's isorecursive type-group equivalence, used by
	// call_indirect/call_ref's dynamic signature check.
	TypeIDs []FunctionTypeID
}

// ImportFuncCount returns how many entries of ImportSection are functions.
func (m *Module) ImportFuncCount() (n Index) {
	for _, i := range m.ImportSection {
		if i.Type == ExternTypeFunc {
			n++
		}
	}
	return
}

// ImportTableCount returns how many entries of ImportSection are tables.
func (m *Module) ImportTableCount() (n Index) {
	for _, i := range m.ImportSection {
		if i.Type == ExternTypeTable {
			n++
		}
	}
	return
}

// ImportMemoryCount returns how many entries of ImportSection are memories.
func (m *Module) ImportMemoryCount() (n Index) {
	for _, i := range m.ImportSection {
		if i.Type == ExternTypeMemory {
			n++
		}
	}
	return
}

// ImportGlobalCount returns how many entries of ImportSection are globals.
func (m *Module) ImportGlobalCount() (n Index) {
	for _, i := range m.ImportSection {
		if i.Type == ExternTypeGlobal {
			n++
		}
	}
	return
}

// ImportTagCount returns how many entries of ImportSection are tags.
func (m *Module) ImportTagCount() (n Index) {
	for _, i := range m.ImportSection {
		if i.Type == ExternTypeTag {
			n++
		}
	}
	return
}

// TypeOfFunction resolves funcIdx (in the combined import+module-defined
// function index space) to its FunctionType.
func (m *Module) TypeOfFunction(funcIdx Index) *FunctionType {
	importCount := m.ImportFuncCount()
	var typeIdx Index
	if funcIdx < importCount {
		var seen Index
		for _, imp := range m.ImportSection {
			if imp.Type == ExternTypeFunc {
				if seen == funcIdx {
					typeIdx = imp.DescFunc
					break
				}
				seen++
			}
		}
	} else {
		typeIdx = m.FunctionSection[funcIdx-importCount]
	}
	return &m.TypeSection[typeIdx]
}

// FunctionDefinitionCount is the total size of the function index space:
// imported functions plus module-defined ones.
func (m *Module) FunctionDefinitionCount() Index {
	return m.ImportFuncCount() + Index(len(m.FunctionSection))
}

// Code is the post-decode body of one module-defined function: its local
// declarations and a structured instruction tree, rather than a raw byte
// stream walked with a program counter. Traversal-based execution over
// this nested form is a deliberate simplification from a flattened
// register-stack bytecode, see SPEC_FULL.md's "Decisions on dropped
// scope".
type Code struct {
	LocalTypes []ValueType
	Body       []Instruction
	// GoFunc is set instead of Body for a host-defined function backed by
	// Go code rather than Wasm bytecode.
	GoFunc interface{}
}

// Instruction is one node of a function body's structured instruction
// tree. Block, Loop, If and TryTable carry their nested body in Block;
// every other opcode is a leaf carrying only its immediate.
type Instruction struct {
	Opcode Opcode
	// Misc/Vec/Atomic hold the second opcode byte for 0xFC/0xFD/0xFE
	// prefixed instructions; at most one is meaningful, selected by Opcode.
	Misc, Vec, Atomic uint32

	// Imm* hold whichever immediate(s) this opcode takes. Not every field
	// applies to every opcode; which ones do is determined during decode
	// and checked during validation.
	ImmIndex      Index   // local/global/function/table/memory/tag/data/elem index
	ImmIndex2     Index   // second index, e.g. call_indirect's table index
	ImmI32        int32
	ImmI64        int64
	ImmF32        uint32 // raw bits
	ImmF64        uint64 // raw bits
	ImmV128       [16]byte
	ImmAlign      uint32
	ImmOffset     uint32
	ImmLaneIdx    byte
	ImmLanes      [16]byte // i8x16.shuffle's 16 lane indices
	ImmValType    ValueType // select t*'s explicit result type(s), ref.null's type
	ImmBlockType  BlockType
	ImmTargets    []Index // br_table's label vector
	ImmDefault    Index   // br_table's default label

	Block *Block
}

// Block is the nested body of a structured control instruction.
type Block struct {
	Type BlockType
	Then []Instruction
	// Else holds an if's else-branch body, nil if absent.
	Else []Instruction
	// Catches holds a try_table's catch clauses, evaluated in order
	// against a propagating exception.
	Catches []CatchClause
}

// CatchKind distinguishes try_table's four catch-clause forms.
type CatchKind byte

const (
	CatchKindCatch CatchKind = iota
	CatchKindCatchRef
	CatchKindCatchAll
	CatchKindCatchAllRef
)

// CatchClause is one entry of a try_table's catch-clause list.
type CatchClause struct {
	Kind  CatchKind
	Tag   Index // meaningless for CatchAll/CatchAllRef
	Label Index
}
