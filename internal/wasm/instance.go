package wasm

import (
	"context"
	"unsafe"
)

// Engine compiles Modules into a reusable, cacheable representation keyed
// by ModuleID, and creates a ModuleEngine (the per-instantiation view) from
// that compiled representation. internal/engine/interpreter is this
// engine's only Engine implementation.
type Engine interface {
	// NewModuleEngine compiles (or reuses a cached compilation of) module
	// and binds it to the given instance's imported functions.
	NewModuleEngine(module *Module, instance *ModuleInstance) (ModuleEngine, error)
	// CompiledModuleCount reports how many distinct modules are cached.
	CompiledModuleCount() uint32
	// DeleteCompiledModule evicts module's cached compilation.
	DeleteCompiledModule(module *Module)
}

// ModuleEngine is the executable view of one module instantiation: it owns
// nothing the Store doesn't also reference, but knows how to run a given
// function index against that state.
type ModuleEngine interface {
	// Call invokes the module-defined or imported function at funcIdx with
	// params on the operand convention described by its FunctionType,
	// returning its results or propagating a trap/exception as a panic
	// recovered at this call's boundary.
	Call(ctx context.Context, m *ModuleInstance, funcIdx Index, params []uint64) ([]uint64, error)
}

// TagInstance is an instantiated exception tag: its payload signature.
type TagInstance struct {
	Type *FunctionType
}

// GlobalInstance is an instantiated global variable.
type GlobalInstance struct {
	Type GlobalType
	Val  uint64
	ValHi uint64 // high 64 bits, used only when Type.ValType == ValueTypeV128
}

// TableInstance is an instantiated table: a slice of opaque references,
// each either 0 (null) or an index into the owning instance's function
// instances (for funcref tables) encoded by the store.
type TableInstance struct {
	References []Reference
	Type       TableType
}

// Reference is a table/externref-typed value: 0 represents null, any other
// value is engine-defined (for funcref tables, the address of a
// *FunctionInstance, see FuncRef/DerefFuncRef; for externref tables, an
// opaque caller-supplied handle).
type Reference = uintptr

// FuncRef encodes fn's address as a table/call_indirect Reference. fn stays
// reachable for as long as any Reference derived from it might be
// dereferenced, since it is also held live by its owning ModuleInstance's
// Functions slice for the lifetime of that instance.
func FuncRef(fn *FunctionInstance) Reference {
	return Reference(unsafe.Pointer(fn))
}

// DerefFuncRef recovers the *FunctionInstance a non-null Reference produced
// by FuncRef encodes.
func DerefFuncRef(ref Reference) *FunctionInstance {
	return (*FunctionInstance)(unsafe.Pointer(ref))
}

// MemoryInstance is an instantiated linear memory.
type MemoryInstance struct {
	Buffer []byte
	Min, Cap uint32
	Max      *uint32
	Shared   bool
}

// PageSize returns the memory's current size in 64KiB pages.
func (m *MemoryInstance) PageSize() uint32 {
	return uint32(uint64(len(m.Buffer)) / MemoryPageSize)
}

// GrowPages extends the memory by delta pages, zero-filling the new bytes,
// and returns the previous size in pages, or false if the grow would exceed
// Max or the spec-wide MemoryLimitPages ceiling.
func (m *MemoryInstance) GrowPages(delta uint32) (previousPages uint32, ok bool) {
	previousPages = m.PageSize()
	newPages := previousPages + delta
	if newPages < previousPages || newPages > MemoryLimitPages {
		return 0, false
	}
	if m.Max != nil && newPages > *m.Max {
		return 0, false
	}
	newBuf := make([]byte, uint64(newPages)*MemoryPageSize)
	copy(newBuf, m.Buffer)
	m.Buffer = newBuf
	return previousPages, true
}

// FunctionInstance is one callable function within a ModuleInstance,
// either module-defined (Code set) or a host function wired in through a
// HostModuleBuilder (GoFunc set).
type FunctionInstance struct {
	Type       *FunctionType
	TypeID     FunctionTypeID
	Code       *Code
	Module     *ModuleInstance
	Idx        Index
	Name       string
	DebugName  string
}

// ExceptionInstance is a live, in-flight thrown exception: the tag that
// identifies it and its payload values, propagated via panic/recover
// independent from trap propagation (spec.md §7: "Exceptions are never
// silently converted to traps or vice versa").
type ExceptionInstance struct {
	Tag  *TagInstance
	TagIdx Index
	Args []uint64
}

func (e *ExceptionInstance) Error() string { return "wasm exception" }

// ModuleInstance is a module's state after Instantiate: its own and its
// imports' tables/memories/globals/tags, its callable functions, and its
// exports resolved to concrete instances.
type ModuleInstance struct {
	ModuleName string
	Exports    map[string]Export
	Functions  []*FunctionInstance
	Tables     []*TableInstance
	Memories   []*MemoryInstance
	Globals    []*GlobalInstance
	Tags       []*TagInstance
	TypeIDs    []FunctionTypeID
	Engine     ModuleEngine
	Source     *Module

	// DroppedElem/DroppedData record which element/data segments elem.drop
	// or data.drop (or an active segment's one-time use at instantiation)
	// has retired; table.init/memory.init reject a dropped segment index.
	DroppedElem []bool
	DroppedData []bool

	// store backs CloseWithExitCode's Namespace de-registration.
	store *Store
}

// LookupFunction resolves name to a function instance, or nil if name isn't
// exported as a function. ExportedFunction (api.Module) wraps this for
// embedders; internal callers needing the concrete *FunctionInstance (the
// interpreter's call_indirect/call_ref, the instantiator) use this directly.
func (m *ModuleInstance) LookupFunction(name string) *FunctionInstance {
	exp, ok := m.Exports[name]
	if !ok || exp.Type != ExternTypeFunc {
		return nil
	}
	return m.Functions[exp.Index]
}

// Store is the shared runtime state a collection of ModuleInstances is
// instantiated into: the module registry used to resolve cross-module
// imports, and the compiled-code Engine they share.
type Store struct {
	Engine    Engine
	Namespace *Namespace
}

// NewStore creates a Store backed by the given compiled-code Engine.
func NewStore(engine Engine) *Store {
	return &Store{Engine: engine, Namespace: NewNamespace()}
}
