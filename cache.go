package gowasm

import (
	"context"

	"github.com/gowasm/gowasm/api"
	"github.com/gowasm/gowasm/internal/engine/interpreter"
	"github.com/gowasm/gowasm/internal/wasm"
)

// CompilationCache reduces time spent compiling the same modules into
// multiple runtimes: every Runtime configured with the same cache
// (RuntimeConfig.WithCompilationCache) shares one engine, so a module
// compiled by one runtime is reused when another runtime compiles the same
// binary (identified by its content hash).
//
// # Notes
//
//   - The cache may be used in multiple runtimes concurrently.
//   - Instantiated module state (memories, tables, globals) is never shared;
//     only the compiled representation is.
type CompilationCache interface {
	api.Closer
}

// NewCompilationCache returns a cache to be passed to
// RuntimeConfig.WithCompilationCache.
//
// Ex.
//
//	cache := gowasm.NewCompilationCache()
//	defer cache.Close(ctx)
//	config := gowasm.NewRuntimeConfig().WithCompilationCache(cache)
//
//	foo := gowasm.NewRuntimeWithConfig(config)
//	bar := gowasm.NewRuntimeWithConfig(config)
func NewCompilationCache() CompilationCache {
	return &compilationCache{engine: interpreter.NewEngine()}
}

// compilationCache implements CompilationCache.
type compilationCache struct {
	engine wasm.Engine
}

// Close implements api.Closer. Runtimes sharing this cache must be closed
// first; their module instances hold references into the shared engine.
func (c *compilationCache) Close(context.Context) error {
	return nil
}
