package gowasm

import (
	"github.com/gowasm/gowasm/api"
	"github.com/gowasm/gowasm/internal/wasm"
)

// RuntimeConfig controls runtime behavior, with the default implementation as
// NewRuntimeConfig.
//
// Ex. To explicitly limit to WebAssembly Core Specification 1.0 features as
// opposed to accepting the default-enabled proposals:
//
//	rConfig = gowasm.NewRuntimeConfig().WithCoreFeatures(api.CoreFeaturesV1)
//
// # Notes
//
//   - RuntimeConfig is immutable: each With* method returns a copy, so the
//     source config can be shared and further derived from safely.
type RuntimeConfig struct {
	enabledFeatures       api.CoreFeatures
	memoryLimitPages      uint32
	memoryCapacityFromMax bool
	compilationCache      CompilationCache
}

// NewRuntimeConfig returns a RuntimeConfig with the engine's full feature set
// enabled: WebAssembly Core 2.0 plus the post-2.0 proposals this engine
// implements (exception handling, function references, tail calls, threads
// and wide arithmetic).
func NewRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		enabledFeatures:  api.CoreFeaturesV2Plus,
		memoryLimitPages: wasm.MemoryLimitPages,
	}
}

// clone returns a copy for the immutable With* pattern.
func (c *RuntimeConfig) clone() *RuntimeConfig {
	cp := *c
	return &cp
}

// WithCoreFeatures sets the WebAssembly Core specification features this
// runtime accepts during Runtime.CompileModule. Defaults to
// api.CoreFeaturesV2Plus.
//
// Ex. To reject modules using any post-1.0 feature:
//
//	rConfig = gowasm.NewRuntimeConfig().WithCoreFeatures(api.CoreFeaturesV1)
func (c *RuntimeConfig) WithCoreFeatures(features api.CoreFeatures) *RuntimeConfig {
	ret := c.clone()
	ret.enabledFeatures = features
	return ret
}

// WithMemoryLimitPages reduces the maximum number of pages (65536 bytes per
// page) a module's memory may reach from the specification ceiling of 65536
// pages (4GiB) to a lower value.
//
// # Notes
//
//   - If a module declares a max beyond this limit, it fails to compile.
//   - "memory.grow" past this limit returns -1, per the specification.
//   - Zero is invalid and reverts to the specification ceiling.
func (c *RuntimeConfig) WithMemoryLimitPages(memoryLimitPages uint32) *RuntimeConfig {
	ret := c.clone()
	if memoryLimitPages == 0 || memoryLimitPages > wasm.MemoryLimitPages {
		memoryLimitPages = wasm.MemoryLimitPages
	}
	ret.memoryLimitPages = memoryLimitPages
	return ret
}

// WithMemoryCapacityFromMax pre-allocates each memory's backing buffer at its
// declared max instead of its min, trading idle memory for never reallocating
// on "memory.grow". Defaults to false.
func (c *RuntimeConfig) WithMemoryCapacityFromMax(memoryCapacityFromMax bool) *RuntimeConfig {
	ret := c.clone()
	ret.memoryCapacityFromMax = memoryCapacityFromMax
	return ret
}

// WithCompilationCache shares compiled-module state between multiple
// Runtimes. See NewCompilationCache.
func (c *RuntimeConfig) WithCompilationCache(cache CompilationCache) *RuntimeConfig {
	ret := c.clone()
	ret.compilationCache = cache
	return ret
}

// ModuleConfig configures how a compiled module is instantiated, with the
// default implementation as NewModuleConfig.
//
// # Notes
//
//   - ModuleConfig is mutable: each With* method returns the same instance
//     for chaining, and the config must not be reused concurrently.
type ModuleConfig struct {
	name           string
	nameSet        bool
	startFunctions []string
}

// NewModuleConfig returns a ModuleConfig that registers the module under its
// source-declared name (the custom name section's module name, possibly
// empty) and calls only the module's declared start function.
func NewModuleConfig() *ModuleConfig {
	return &ModuleConfig{}
}

// WithName overrides the name this module is registered under, making its
// exports importable by later modules via that name. An empty name leaves the
// module anonymous and unregistered.
//
// If the source was binary format, the default is what was decoded from the
// custom name section.
func (c *ModuleConfig) WithName(name string) *ModuleConfig {
	c.name = name
	c.nameSet = true
	return c
}

// WithStartFunctions configures exported functions to call, in order, after
// the module is instantiated and its declared start function (if any) has
// run. Functions that are not exported are skipped. Defaults to none.
func (c *ModuleConfig) WithStartFunctions(startFunctions ...string) *ModuleConfig {
	c.startFunctions = startFunctions
	return c
}
