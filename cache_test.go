package gowasm

import (
	"testing"

	"github.com/gowasm/gowasm/internal/testing/require"
	"github.com/gowasm/gowasm/internal/wasm"
)

// TestCompilationCache ensures runtimes configured with the same cache share
// one engine, and runtimes without a cache don't.
func TestCompilationCache(t *testing.T) {
	t.Run("shared engine", func(t *testing.T) {
		cache := NewCompilationCache()
		defer cache.Close(testCtx)
		config := NewRuntimeConfig().WithCompilationCache(cache)

		foo := NewRuntimeWithConfig(config).(*runtime)
		defer foo.Close(testCtx)
		bar := NewRuntimeWithConfig(config).(*runtime)
		defer bar.Close(testCtx)

		require.Same(t, foo.store.Engine, bar.store.Engine)
	})

	t.Run("compilation shared between runtimes", func(t *testing.T) {
		cache := NewCompilationCache()
		defer cache.Close(testCtx)
		config := NewRuntimeConfig().WithCompilationCache(cache)

		foo := NewRuntimeWithConfig(config)
		defer foo.Close(testCtx)
		bar := NewRuntimeWithConfig(config)
		defer bar.Close(testCtx)

		bin := addBinary(t)
		engine := foo.(*runtime).store.Engine

		fooMod, err := foo.InstantiateModuleFromBinary(testCtx, bin)
		require.NoError(t, err)
		require.Equal(t, uint32(1), engine.CompiledModuleCount())

		// The same bytes compiled in the second runtime hit the cache: the
		// compiled count stays at one.
		barMod, err := bar.InstantiateModuleFromBinary(testCtx, bin)
		require.NoError(t, err)
		require.Equal(t, uint32(1), engine.CompiledModuleCount())

		// Both instances execute independently.
		results, err := fooMod.ExportedFunction("add").Call(testCtx, 1, 2)
		require.NoError(t, err)
		require.Equal(t, []uint64{3}, results)
		results, err = barMod.ExportedFunction("add").Call(testCtx, 10, 20)
		require.NoError(t, err)
		require.Equal(t, []uint64{30}, results)
	})

	t.Run("uncached runtimes have distinct engines", func(t *testing.T) {
		foo := NewRuntime().(*runtime)
		defer foo.Close(testCtx)
		bar := NewRuntime().(*runtime)
		defer bar.Close(testCtx)

		require.NotSame(t, foo.store.Engine, bar.store.Engine)
	})
}

// TestCompiledModule_Close evicts the module from the engine cache without
// touching other compiled modules.
func TestCompiledModule_Close(t *testing.T) {
	r := NewRuntime()
	defer r.Close(testCtx)

	compiled, err := r.CompileModule(testCtx, addBinary(t))
	require.NoError(t, err)

	mod, err := r.InstantiateModule(testCtx, compiled, NewModuleConfig())
	require.NoError(t, err)

	var engine wasm.Engine = r.(*runtime).store.Engine
	require.Equal(t, uint32(1), engine.CompiledModuleCount())

	require.NoError(t, compiled.Close(testCtx))
	require.Zero(t, engine.CompiledModuleCount())

	// Already-instantiated modules keep working after the cache eviction.
	results, err := mod.ExportedFunction("add").Call(testCtx, 2, 2)
	require.NoError(t, err)
	require.Equal(t, []uint64{4}, results)
}
