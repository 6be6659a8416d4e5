// Package wasm implements the WebAssembly core module IR: the types the
// binary decoder produces, the validator that checks them, the store that
// holds instantiated state, and the instantiation algorithm that wires a
// decoded Module and its imports into a running ModuleInstance.
package wasm

import (
	"strings"

	"github.com/gowasm/gowasm/api"
)

// ValueType is reused directly from the public api package: the decoder,
// validator and store all speak the same value-type vocabulary an embedder
// does, so there is no separate internal enum to keep in sync.
type ValueType = api.ValueType

const (
	ValueTypeI32       = api.ValueTypeI32
	ValueTypeI64       = api.ValueTypeI64
	ValueTypeF32       = api.ValueTypeF32
	ValueTypeF64       = api.ValueTypeF64
	ValueTypeV128      = api.ValueTypeV128
	ValueTypeFuncref   = api.ValueTypeFuncref
	ValueTypeExternref = api.ValueTypeExternref
	ValueTypeExnref    = api.ValueTypeExnref
)

// RefType narrows ValueType to the three reference types, used where a
// field only ever holds a reference type (table element type, catch binding
// type) and accepting every ValueType would be misleading.
type RefType = ValueType

// Index is a 0-based index into one of a module's index spaces (types,
// functions, tables, memories, globals, elements, data, tags).
type Index = uint32

// FunctionType is a function signature, either declared in a module's type
// section or used as the static expectation side of a dynamic call check
// (call_indirect, call_ref). ParamNumInUint64/ResultNumInUint64 precompute
// how many uint64 stack slots the signature occupies, since v128 operands
// take two slots and every other value type takes one.
type FunctionType struct {
	Params, Results                   []ValueType
	ParamNumInUint64, ResultNumInUint64 int

	// Supertypes lists the type indices this entry declares as supertypes
	// (the function-references/gc sub form); nil for a plain functype.
	Supertypes []Index
	// Final marks an explicitly-final sub declaration (0x4f). It is carried
	// for round-trip fidelity but does not participate in equivalence,
	// since no subtype matching exists without typed references (see
	// DESIGN.md).
	Final bool

	// string memoizes String() since it's used as a map key during type
	// equivalence checks and signature lookups.
	string string
}

// RecGroup delimits one recursion group: the half-open range
// [Start, End) of TypeSection entries decoded from a single rec
// declaration. A bare functype forms a singleton group.
type RecGroup struct {
	Start, End Index
}

// Finalize computes the derived fields after Params/Results are set. Called
// once after decoding, since every other use of a FunctionType reads these
// fields many times.
func (t *FunctionType) Finalize() {
	t.ParamNumInUint64 = slotCount(t.Params)
	t.ResultNumInUint64 = slotCount(t.Results)
	t.string = t.buildString()
}

func slotCount(types []ValueType) int {
	n := 0
	for _, t := range types {
		if t == ValueTypeV128 {
			n += 2
		} else {
			n++
		}
	}
	return n
}

func (t *FunctionType) buildString() string {
	var sb strings.Builder
	for i, p := range t.Params {
		if i > 0 {
			sb.WriteByte('_')
		}
		sb.WriteString(api.ValueTypeName(p))
	}
	sb.WriteString("_")
	for i, r := range t.Results {
		if i > 0 {
			sb.WriteByte('_')
		}
		sb.WriteString(api.ValueTypeName(r))
	}
	return sb.String()
}

// String returns a stable textual signature usable as a map key.
func (t *FunctionType) String() string {
	if t.string == "" {
		t.string = t.buildString()
	}
	return t.string
}

// EqualsSignature reports whether t has exactly the given params/results,
// used by the validator's block-type and call-site checks.
func (t *FunctionType) EqualsSignature(params, results []ValueType) bool {
	return valueTypesEqual(t.Params, params) && valueTypesEqual(t.Results, results)
}

func valueTypesEqual(a, b []ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// GlobalType describes a global's value type and mutability.
type GlobalType struct {
	ValType ValueType
	Mutable bool
}

// TableType describes a table's element type and size limits.
type TableType struct {
	ElemType RefType
	Min      uint32
	Max      *uint32
}

// MemoryType describes a memory's size limits, in 64KiB pages.
type MemoryType struct {
	Min, Cap uint32
	Max      *uint32
	IsMaxEncoded bool
	// Is64 marks a memory64-proposal memory addressed with i64 rather than
	// i32 pointers. Accepted for validation but not exercised by the
	// representative executor, see DESIGN.md.
	Is64 bool
	// IsShared marks a memory usable by atomic instructions across threads.
	IsShared bool
}

const (
	// MemoryPageSize is 64KiB, the unit memory limits and memory.grow/size
	// are expressed in.
	MemoryPageSize = uint64(65536)
	// MemoryLimitPages is the maximum number of pages any memory may have,
	// fixed by the spec at 2^16 (4GiB of linear address space).
	MemoryLimitPages = uint32(65536)
)

// ExternType distinguishes the four kinds of import/export.
type ExternType = api.ExternType

const (
	ExternTypeFunc   = api.ExternTypeFunc
	ExternTypeTable  = api.ExternTypeTable
	ExternTypeMemory = api.ExternTypeMemory
	ExternTypeGlobal = api.ExternTypeGlobal
	// ExternTypeTag is this engine's extension to api.ExternType for the
	// exception-handling proposal's importable/exportable tags. It uses a
	// value outside api's 0x00-0x03 range so it never collides with a
	// genuine externtype byte from the binary format (tags are encoded
	// with their own 0x04 discriminant in the import/export sections,
	// translated to this constant at decode time).
	ExternTypeTag ExternType = 0x7f
)

// Import records one entry of the import section: which module/name pair
// it resolves against, and which index space the new element lands in.
type Import struct {
	Type       ExternType
	Module, Name string
	// DescFunc/DescTable/DescMemory/DescGlobal/DescTag hold the imported
	// item's expected shape, exactly one populated depending on Type.
	DescFunc   Index
	DescTable  TableType
	DescMemory MemoryType
	DescGlobal GlobalType
	DescTag    Index
	// IndexInModule is this import's position within its extern type's
	// combined index space (imports first, then module-defined items).
	IndexInModule Index
}

// Export records one entry of the export section.
type Export struct {
	Type  ExternType
	Name  string
	Index Index
}

// Global is a module-defined global, with the constant expression that
// initializes it.
type Global struct {
	Type Export2GlobalType
	Init ConstantExpression
}

// Export2GlobalType exists only so Global.Type reads naturally;
// it is GlobalType by another name.
type Export2GlobalType = GlobalType

// Tag is a module-defined exception tag (the exception-handling proposal),
// referencing a function type for its payload shape.
type Tag struct {
	Type Index
}

// ConstantExpression is a restricted instruction sequence usable where the
// spec requires a compile-time-evaluable value: global initializers and
// active/declared element and data segment offsets.
type ConstantExpression struct {
	Opcode Opcode
	Data   []byte
}

// ElementSegment is one entry of the element section.
type ElementSegment struct {
	Type   RefType
	Init   []Index // function indices, used when Type == ValueTypeFuncref and OpcodeRefFunc-only
	Exprs  []ConstantExpression // general init expressions, used otherwise
	Mode   ElementMode
	TableIndex Index
	OffsetExpr ConstantExpression
}

// ElementMode distinguishes active (written at instantiation), passive
// (available to table.init) and declarative (validation-only) segments.
type ElementMode byte

const (
	ElementModeActive ElementMode = iota
	ElementModePassive
	ElementModeDeclarative
)

// DataSegment is one entry of the data section.
type DataSegment struct {
	Init       []byte
	Mode       DataMode
	MemoryIndex Index
	OffsetExpr ConstantExpression
}

// DataMode distinguishes active (written at instantiation) and passive
// (available to memory.init) data segments.
type DataMode byte

const (
	DataModeActive DataMode = iota
	DataModePassive
)

// NameSection holds the optional "name" custom section's decoded contents.
type NameSection struct {
	ModuleName    string
	FunctionNames NameMap
	LocalNames    IndirectNameMap
}

// NameMap associates an index with a name.
type NameMap []struct {
	Index Index
	Name  string
}

// IndirectNameMap associates an index with a NameMap, used for locals
// (indexed first by function, then by local).
type IndirectNameMap []struct {
	Index   Index
	NameMap NameMap
}

func (n NameMap) find(idx Index) (string, bool) {
	for _, e := range n {
		if e.Index == idx {
			return e.Name, true
		}
	}
	return "", false
}
