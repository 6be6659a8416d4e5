// Package gowasm is a WebAssembly runtime: it decodes, validates,
// instantiates and interprets WebAssembly modules, with no platform-specific
// dependencies.
//
// Ex. Here's how to run a factorial function in a compiled module:
//
//	ctx := context.Background()
//	r := gowasm.NewRuntime()
//	defer r.Close(ctx) // This closes everything this Runtime created.
//
//	mod, _ := r.InstantiateModuleFromBinary(ctx, facWasm)
//	results, _ := mod.ExportedFunction("fac").Call(ctx, 7)
package gowasm

import (
	"context"
	"fmt"
	"sync"

	"github.com/gowasm/gowasm/api"
	"github.com/gowasm/gowasm/internal/engine/interpreter"
	"github.com/gowasm/gowasm/internal/wasm"
	"github.com/gowasm/gowasm/internal/wasm/binary"
)

// Runtime allows embedding of WebAssembly modules.
//
// The below is an example of basic initialization:
//
//	ctx := context.Background()
//	r := gowasm.NewRuntime()
//	defer r.Close(ctx) // This closes everything this Runtime created.
//
//	mod, _ := r.InstantiateModuleFromBinary(ctx, source)
//
// # Notes
//
//   - This is an interface for decoupling, not third-party implementations.
//     All implementations are in gowasm.
type Runtime interface {
	// NewHostModuleBuilder lets you create modules out of functions defined
	// in Go.
	//
	// Ex. Below defines and instantiates a module named "env" with one
	// function:
	//
	//	ctx := context.Background()
	//	hello := func() {
	//		println("hello!")
	//	}
	//	_, err := r.NewHostModuleBuilder("env").
	//		NewFunctionBuilder().WithFunc(hello).Export("hello").
	//		Instantiate(ctx)
	NewHostModuleBuilder(moduleName string) HostModuleBuilder

	// CompileModule decodes the WebAssembly binary (%.wasm) and validates it
	// against the runtime's enabled core features, returning a CompiledModule
	// ready to instantiate, possibly several times.
	//
	// There are two errors distinguishable by message here: a malformed
	// binary fails decoding, and a well-formed binary that breaks the type or
	// structural rules fails validation.
	CompileModule(ctx context.Context, source []byte) (CompiledModule, error)

	// InstantiateModule instantiates the module or errs on import resolution
	// ("unknown import", "incompatible import type"), a trapping active
	// segment write, or a trapping start function.
	//
	// Ex.
	//	mod, err := r.InstantiateModule(ctx, compiled, gowasm.NewModuleConfig().WithName("prod"))
	InstantiateModule(ctx context.Context, compiled CompiledModule, config *ModuleConfig) (api.Module, error)

	// InstantiateModuleFromBinary is a convenience that composes
	// CompileModule and InstantiateModule with the default ModuleConfig.
	InstantiateModuleFromBinary(ctx context.Context, source []byte) (api.Module, error)

	// Module returns the module instantiated or registered under the given
	// name, or nil if there is none.
	Module(moduleName string) api.Module

	// CloseWithExitCode closes every module this Runtime instantiated,
	// releasing their names for reuse.
	CloseWithExitCode(ctx context.Context, exitCode uint32) error

	// Closer closes this runtime by delegating to CloseWithExitCode with an
	// exit code of zero.
	api.Closer
}

// NewRuntime returns a runtime with the default configuration.
func NewRuntime() Runtime {
	return NewRuntimeWithConfig(NewRuntimeConfig())
}

// NewRuntimeWithConfig returns a runtime with the given configuration.
func NewRuntimeWithConfig(rconfig *RuntimeConfig) Runtime {
	config := rconfig.clone()
	var engine wasm.Engine
	if config.compilationCache != nil {
		engine = config.compilationCache.(*compilationCache).engine
	} else {
		engine = interpreter.NewEngine()
	}
	return &runtime{
		store:                 wasm.NewStore(engine),
		enabledFeatures:       config.enabledFeatures,
		memoryLimitPages:      config.memoryLimitPages,
		memoryCapacityFromMax: config.memoryCapacityFromMax,
	}
}

// runtime allows decoupling of public interfaces from internal
// representation.
type runtime struct {
	store                 *wasm.Store
	enabledFeatures       api.CoreFeatures
	memoryLimitPages      uint32
	memoryCapacityFromMax bool

	// moduleMux guards modules, the instances Close must tear down.
	moduleMux sync.Mutex
	modules   []*wasm.ModuleInstance
}

// CompiledModule is a WebAssembly module ready to be instantiated
// (Runtime.InstantiateModule) as an api.Module.
//
// In WebAssembly terminology, this is a decoded and validated module: gowasm
// avoids the name "Module" for both the pre- and post-instantiation object,
// as the conflation has caused confusion.
type CompiledModule interface {
	// Name returns the module name decoded from the custom name section, or
	// the name a HostModuleBuilder was created with. Possibly empty.
	Name() string

	// Close releases the compiled code cached for this module. Modules
	// already instantiated from it are unaffected.
	api.Closer
}

type compiledModule struct {
	module *wasm.Module
	engine wasm.Engine
	// closeWithModule marks builder-internal compilations whose lifetime is
	// tied to the single module instantiated from them.
	closeWithModule bool
}

// Name implements CompiledModule.Name.
func (c *compiledModule) Name() string {
	if ns := c.module.NameSection; ns != nil {
		return ns.ModuleName
	}
	return ""
}

// Close implements CompiledModule.Close.
func (c *compiledModule) Close(context.Context) error {
	c.engine.DeleteCompiledModule(c.module)
	return nil
}

// CompileModule implements Runtime.CompileModule.
func (r *runtime) CompileModule(_ context.Context, source []byte) (CompiledModule, error) {
	module, err := binary.DecodeModule(source)
	if err != nil {
		return nil, err
	}

	sizer := binary.NewMemorySizer(r.memoryLimitPages, r.memoryCapacityFromMax)
	for i := range module.MemorySection {
		mt := &module.MemorySection[i]
		mt.Min, mt.Cap, _ = sizer(mt.Min, mt.Max)
		if mt.Min > r.memoryLimitPages || (mt.Max != nil && *mt.Max > r.memoryLimitPages) {
			return nil, fmt.Errorf("memory[%d]: size exceeds limit of %d pages", i, r.memoryLimitPages)
		}
	}

	if err = wasm.Validate(module, r.enabledFeatures); err != nil {
		return nil, err
	}
	return &compiledModule{module: module, engine: r.store.Engine}, nil
}

// InstantiateModule implements Runtime.InstantiateModule.
func (r *runtime) InstantiateModule(ctx context.Context, compiled CompiledModule, config *ModuleConfig) (api.Module, error) {
	cm, ok := compiled.(*compiledModule)
	if !ok {
		panic(fmt.Errorf("unsupported wasm.CompiledModule implementation: %#v", compiled))
	}
	if config == nil {
		config = NewModuleConfig()
	}

	name := cm.Name()
	if config.nameSet {
		name = config.name
	}

	mod, err := wasm.Instantiate(ctx, r.store, cm.module, wasm.InstantiateConfig{ModuleName: name}, r.enabledFeatures)
	if err != nil {
		return nil, err
	}

	r.moduleMux.Lock()
	r.modules = append(r.modules, mod)
	r.moduleMux.Unlock()

	for _, fnName := range config.startFunctions {
		fn := mod.ExportedFunction(fnName)
		if fn == nil {
			continue
		}
		if _, err = fn.Call(ctx); err != nil {
			_ = mod.Close(ctx)
			return nil, fmt.Errorf("module[%s] function[%s] failed: %w", name, fnName, err)
		}
	}

	if cm.closeWithModule {
		_ = cm.Close(ctx)
	}
	return mod, nil
}

// InstantiateModuleFromBinary implements Runtime.InstantiateModuleFromBinary.
func (r *runtime) InstantiateModuleFromBinary(ctx context.Context, source []byte) (api.Module, error) {
	compiled, err := r.CompileModule(ctx, source)
	if err != nil {
		return nil, err
	}
	return r.InstantiateModule(ctx, compiled, NewModuleConfig())
}

// Module implements Runtime.Module.
func (r *runtime) Module(moduleName string) api.Module {
	mod, ok := r.store.Namespace.Module(moduleName)
	if !ok {
		return nil
	}
	return mod
}

// Close implements api.Closer.
func (r *runtime) Close(ctx context.Context) error {
	return r.CloseWithExitCode(ctx, 0)
}

// CloseWithExitCode implements Runtime.CloseWithExitCode.
func (r *runtime) CloseWithExitCode(ctx context.Context, exitCode uint32) (err error) {
	r.moduleMux.Lock()
	modules := r.modules
	r.modules = nil
	r.moduleMux.Unlock()
	for _, mod := range modules {
		if e := mod.CloseWithExitCode(ctx, exitCode); e != nil && err == nil {
			err = e
		}
	}
	return
}
