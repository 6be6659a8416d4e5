// Package interpreter is this engine's only Engine implementation: a
// tree-walking interpreter that executes a Module's structured Instruction
// tree directly, rather than first lowering it to a flattened register-stack
// bytecode. See SPEC_FULL.md's "Decisions on dropped scope" for why this
// engine trades the lowering pass for a simpler recursive walk.
package interpreter

import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	"github.com/gowasm/gowasm/api"
	"github.com/gowasm/gowasm/internal/buildoptions"
	"github.com/gowasm/gowasm/internal/wasm"
	"github.com/gowasm/gowasm/internal/wasmdebug"
	"github.com/gowasm/gowasm/internal/wasmruntime"
)

// callStackCeiling bounds recursion depth so a runaway Wasm call chain
// panics with a catchable trap instead of exhausting the Go stack.
const callStackCeiling = buildoptions.CallStackCeiling

// engine caches one compiled representation per distinct Module (keyed by
// its content hash) and hands out a moduleEngine for each instantiation.
// Compilation here is trivial, since the interpreter walks the decoded tree
// directly, but the cache still dedups repeated instantiation of the same
// bytes and gives CompiledModuleCount/DeleteCompiledModule something to
// report against.
type engine struct {
	mu       sync.Mutex
	compiled map[wasm.ModuleID]*wasm.Module
}

// NewEngine returns the interpreter's Engine implementation.
func NewEngine() wasm.Engine {
	return &engine{compiled: map[wasm.ModuleID]*wasm.Module{}}
}

// NewModuleEngine implements the same method as documented on wasm.Engine.
func (e *engine) NewModuleEngine(module *wasm.Module, instance *wasm.ModuleInstance) (wasm.ModuleEngine, error) {
	e.mu.Lock()
	if _, ok := e.compiled[module.ID]; !ok {
		e.compiled[module.ID] = module
	}
	e.mu.Unlock()
	return &moduleEngine{module: module}, nil
}

// CompiledModuleCount implements the same method as documented on wasm.Engine.
func (e *engine) CompiledModuleCount() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return uint32(len(e.compiled))
}

// DeleteCompiledModule implements the same method as documented on wasm.Engine.
func (e *engine) DeleteCompiledModule(module *wasm.Module) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.compiled, module.ID)
}

// moduleEngine is the per-instantiation executable view: just enough to
// cross the public uint64-slot calling convention into the interpreter's
// internal two-word value representation and back.
type moduleEngine struct {
	module *wasm.Module
}

// Call implements the same method as documented on wasm.ModuleEngine.
func (me *moduleEngine) Call(ctx context.Context, m *wasm.ModuleInstance, funcIdx wasm.Index, params []uint64) (results []uint64, err error) {
	fn := m.Functions[funcIdx]

	ce := &callEngine{ctx: ctx}
	defer func() {
		if r := recover(); r != nil {
			if exc, ok := r.(*exception); ok {
				r = wasmruntime.NewUncaughtException(exc.tag, exc.args)
			}
			builder := wasmdebug.NewErrorBuilder()
			for i := len(ce.frames) - 1; i >= 0; i-- {
				f := ce.frames[i]
				builder.AddFrame(wasmdebug.FuncName(f.Module.ModuleName, f.Name, f.Idx), f.Type.Params, f.Type.Results)
			}
			err = builder.FromRecovered(r)
		}
	}()

	resultVals := ce.callFunction(fn, valuesFromSlots(fn.Type.Params, params))
	return slotsFromValues(fn.Type.Results, resultVals), nil
}

// value is the interpreter's operand representation: every value occupies
// one slot regardless of type, with hi meaningful only for v128. This
// avoids the manual uint64-slot packing the public Call boundary uses for
// v128 (see FunctionType.ParamNumInUint64) anywhere inside the interpreter.
type value struct {
	lo, hi uint64
}

func valuesFromSlots(types []wasm.ValueType, slots []uint64) []value {
	vs := make([]value, len(types))
	si := 0
	for i, t := range types {
		if t == wasm.ValueTypeV128 {
			vs[i] = value{lo: slots[si], hi: slots[si+1]}
			si += 2
		} else {
			vs[i] = value{lo: slots[si]}
			si++
		}
	}
	return vs
}

func slotsFromValues(types []wasm.ValueType, vs []value) []uint64 {
	slots := make([]uint64, 0, len(types))
	for i, t := range types {
		slots = append(slots, vs[i].lo)
		if t == wasm.ValueTypeV128 {
			slots = append(slots, vs[i].hi)
		}
	}
	return slots
}

// exception is the panic value carrying a thrown tag instance as it
// propagates looking for a try_table catch clause, kept distinct from a
// wasmruntime sentinel trap so recover sites can tell them apart: traps are
// never caught by try_table, only exceptions are.
type exception struct {
	tagIdx wasm.Index
	tag    *wasm.TagInstance
	args   []uint64
}

func encodeExnRef(exc *exception) uint64 {
	if exc == nil {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(exc)))
}

func decodeExnRef(v uint64) *exception {
	if v == 0 {
		return nil
	}
	return (*exception)(unsafe.Pointer(uintptr(v)))
}

// callEngine tracks the active call chain for stack-overflow detection and
// for rendering a wasm-side stack trace when a trap or uncaught exception
// unwinds a Call.
type callEngine struct {
	ctx    context.Context
	frames []*wasm.FunctionInstance
}

func (ce *callEngine) pushFrame(fn *wasm.FunctionInstance) {
	if len(ce.frames) >= callStackCeiling {
		panic(wasmruntime.ErrRuntimeCallStackOverflow)
	}
	ce.frames = append(ce.frames, fn)
}

func (ce *callEngine) popFrame() {
	ce.frames = ce.frames[:len(ce.frames)-1]
}

// callFunction dispatches to a Go-backed or Wasm-defined function. Frames
// are pushed before, and popped only after, a normal (non-panicking)
// return: a panic leaves the frame in place so the top-level Call's
// recover can read the whole in-flight chain.
func (ce *callEngine) callFunction(fn *wasm.FunctionInstance, params []value) []value {
	ce.pushFrame(fn)
	var results []value
	if fn.Code.GoFunc != nil {
		results = ce.callHostFunc(fn, params)
	} else {
		results = ce.callWasmFunc(fn, params)
	}
	ce.popFrame()
	return results
}

func (ce *callEngine) callHostFunc(fn *wasm.FunctionInstance, params []value) []value {
	in := slotsFromValues(fn.Type.Params, params)
	out := wasm.CallGoFunc(ce.ctx, fn.Module, fn.Code.GoFunc, in, fn.Type.ResultNumInUint64)
	return valuesFromSlots(fn.Type.Results, out)
}

func (ce *callEngine) callWasmFunc(fn *wasm.FunctionInstance, params []value) []value {
	locals := make([]value, len(fn.Type.Params)+len(fn.Code.LocalTypes))
	copy(locals, params)
	fr := &frame{locals: locals, module: fn.Module}

	// The function body is itself an implicit label (spec.md §4.2's
	// initial control frame): `return`, and a `br`/`br_table` whose depth
	// reaches past every nested block, both target it.
	fr.labels = append(fr.labels, labelEntry{base: 0, arity: len(fn.Type.Results)})
	sig := ce.execInstrs(fr, fn.Code.Body)
	if sig.kind == sigBranch && sig.depth != 0 {
		panic(fmt.Errorf("BUG: branch depth %d escaped function body", sig.depth))
	}
	resultCount := len(fn.Type.Results)
	return fr.stack[len(fr.stack)-resultCount:]
}

// frame is one Wasm function activation: its locals and its operand stack.
// Nested blocks within the same function share this stack; the control
// helpers in control.go restore the correct height on every branch or
// fallthrough.
type frame struct {
	locals []value
	stack  []value
	module *wasm.ModuleInstance
	// labels is the active structured-control label stack for this
	// function activation; see control.go's labelEntry and doBranch.
	labels []labelEntry
}

func (fr *frame) push(v value) { fr.stack = append(fr.stack, v) }

func (fr *frame) pop() value {
	v := fr.stack[len(fr.stack)-1]
	fr.stack = fr.stack[:len(fr.stack)-1]
	return v
}

func (fr *frame) popN(n int) []value {
	v := fr.stack[len(fr.stack)-n:]
	fr.stack = fr.stack[:len(fr.stack)-n]
	return v
}

// truncateTo discards everything between base and the top keep values,
// implementing the stack-height restoration every control construct's end
// or branch performs (a block/loop/if leaves exactly its result, or for a
// loop branch its param, arity on the stack).
func (fr *frame) truncateTo(base, keep int) {
	top := len(fr.stack)
	copy(fr.stack[base:], fr.stack[top-keep:top])
	fr.stack = fr.stack[:base+keep]
}

func (fr *frame) popI32() uint32    { return uint32(fr.pop().lo) }
func (fr *frame) popI64() uint64    { return fr.pop().lo }
func (fr *frame) popF32() float32   { return api.DecodeF32(fr.pop().lo) }
func (fr *frame) popF64() float64   { return api.DecodeF64(fr.pop().lo) }
func (fr *frame) pushI32(v uint32)  { fr.push(value{lo: uint64(v)}) }
func (fr *frame) pushI64(v uint64)  { fr.push(value{lo: v}) }
func (fr *frame) pushF32(v float32) { fr.push(value{lo: api.EncodeF32(v)}) }
func (fr *frame) pushF64(v float64) { fr.push(value{lo: api.EncodeF64(v)}) }

func (fr *frame) pushBool(b bool) {
	if b {
		fr.pushI32(1)
	} else {
		fr.pushI32(0)
	}
}

func (fr *frame) memory() *wasm.MemoryInstance { return fr.module.Memories[0] }
