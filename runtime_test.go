package gowasm

import (
	"testing"

	"github.com/gowasm/gowasm/internal/testing/require"
)

// sectionEntry frames one section: its id, LEB-encodable-as-one-byte size,
// and payload. Test payloads are all well under 128 bytes.
func sectionEntry(id byte, payload ...byte) []byte {
	return append([]byte{id, byte(len(payload))}, payload...)
}

// buildBinary prepends the preamble to the given sections.
func buildBinary(t *testing.T, sections ...[]byte) []byte {
	t.Helper()
	bin := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	for _, s := range sections {
		bin = append(bin, s...)
	}
	return bin
}

// addBinary is (module (func (export "add") (param i32 i32) (result i32)
// local.get 0 local.get 1 i32.add)).
func addBinary(t *testing.T) []byte {
	return buildBinary(t,
		sectionEntry(1, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f),
		sectionEntry(3, 0x01, 0x00),
		sectionEntry(7, 0x01, 0x03, 'a', 'd', 'd', 0x00, 0x00),
		sectionEntry(10, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b),
	)
}

func TestRuntime_CompileModule(t *testing.T) {
	r := NewRuntime()
	defer r.Close(testCtx)

	t.Run("empty module", func(t *testing.T) {
		m, err := r.CompileModule(testCtx, buildBinary(t))
		require.NoError(t, err)
		require.Equal(t, "", m.Name())
	})

	t.Run("add module", func(t *testing.T) {
		m, err := r.CompileModule(testCtx, addBinary(t))
		require.NoError(t, err)
		require.NoError(t, m.Close(testCtx))
	})
}

func TestRuntime_CompileModule_Errors(t *testing.T) {
	r := NewRuntime()
	defer r.Close(testCtx)

	tests := []struct {
		name        string
		source      []byte
		expectedErr string
	}{
		{
			name:        "nothing",
			source:      []byte{},
			expectedErr: "unexpected end",
		},
		{
			name:        "wrong magic",
			source:      []byte{0x00, 0x61, 0x73, 0x00, 0x01, 0x00, 0x00, 0x00},
			expectedErr: "magic header not detected",
		},
		{
			name:        "wrong version",
			source:      []byte{0x00, 0x61, 0x73, 0x6d, 0x02, 0x00, 0x00, 0x00},
			expectedErr: "unknown binary version",
		},
		{
			name: "invalid body",
			// A function typed () -> i32 whose body is empty underflows the
			// type stack at the implicit end.
			source: buildBinary(t,
				sectionEntry(1, 0x01, 0x60, 0x00, 0x01, 0x7f),
				sectionEntry(3, 0x01, 0x00),
				sectionEntry(10, 0x01, 0x02, 0x00, 0x0b),
			),
			expectedErr: "type mismatch",
		},
	}

	for _, tt := range tests {
		tc := tt

		t.Run(tc.name, func(t *testing.T) {
			_, err := r.CompileModule(testCtx, tc.source)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.expectedErr)
		})
	}
}

func TestRuntime_InstantiateModule(t *testing.T) {
	r := NewRuntime()
	defer r.Close(testCtx)

	compiled, err := r.CompileModule(testCtx, addBinary(t))
	require.NoError(t, err)

	mod, err := r.InstantiateModule(testCtx, compiled, NewModuleConfig().WithName("math"))
	require.NoError(t, err)
	require.Equal(t, "math", mod.Name())

	results, err := mod.ExportedFunction("add").Call(testCtx, 2, 3)
	require.NoError(t, err)
	require.Equal(t, []uint64{5}, results)
}

// TestRuntime_InstantiateModule_SameCompiledTwice exercises repeated
// instantiation of one compiled module under different names, each with
// independent state.
func TestRuntime_InstantiateModule_SameCompiledTwice(t *testing.T) {
	r := NewRuntime()
	defer r.Close(testCtx)

	// (module (memory 1) (func (export "bump") (result i32) ...)): loads a
	// counter from address 0, increments, stores it back.
	bin := buildBinary(t,
		sectionEntry(1, 0x01, 0x60, 0x00, 0x01, 0x7f),
		sectionEntry(3, 0x01, 0x00),
		sectionEntry(5, 0x01, 0x00, 0x01),
		sectionEntry(7, 0x01, 0x04, 'b', 'u', 'm', 'p', 0x00, 0x00),
		sectionEntry(10, 0x01, 0x14, 0x00,
			0x41, 0x00, // i32.const 0
			0x41, 0x00, // i32.const 0
			0x28, 0x02, 0x00, // i32.load
			0x41, 0x01, // i32.const 1
			0x6a,             // i32.add
			0x36, 0x02, 0x00, // i32.store
			0x41, 0x00, // i32.const 0
			0x28, 0x02, 0x00, // i32.load
			0x0b),
	)

	compiled, err := r.CompileModule(testCtx, bin)
	require.NoError(t, err)

	one, err := r.InstantiateModule(testCtx, compiled, NewModuleConfig().WithName("one"))
	require.NoError(t, err)
	two, err := r.InstantiateModule(testCtx, compiled, NewModuleConfig().WithName("two"))
	require.NoError(t, err)

	for want := uint64(1); want <= 3; want++ {
		results, err := one.ExportedFunction("bump").Call(testCtx)
		require.NoError(t, err)
		require.Equal(t, []uint64{want}, results)
	}

	// The second instance's memory was untouched by the first's calls.
	results, err := two.ExportedFunction("bump").Call(testCtx)
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, results)
}

func TestRuntime_InstantiateModule_Imports(t *testing.T) {
	r := NewRuntime()
	defer r.Close(testCtx)

	// (module (import "env" "inc" (func (param i32) (result i32)))
	//         (func (export "call_inc") (param i32) (result i32) local.get 0 call 0))
	importing := buildBinary(t,
		sectionEntry(1, 0x01, 0x60, 0x01, 0x7f, 0x01, 0x7f),
		sectionEntry(2, 0x01, 0x03, 'e', 'n', 'v', 0x03, 'i', 'n', 'c', 0x00, 0x00),
		sectionEntry(3, 0x01, 0x00),
		sectionEntry(7, 0x01, 0x08, 'c', 'a', 'l', 'l', '_', 'i', 'n', 'c', 0x00, 0x01),
		sectionEntry(10, 0x01, 0x06, 0x00, 0x20, 0x00, 0x10, 0x00, 0x0b),
	)

	t.Run("unknown import", func(t *testing.T) {
		_, err := r.InstantiateModuleFromBinary(testCtx, importing)
		require.Error(t, err)
		require.Contains(t, err.Error(), "unknown import")
	})

	t.Run("resolves against host module", func(t *testing.T) {
		_, err := r.NewHostModuleBuilder("env").
			NewFunctionBuilder().
			WithFunc(func(x uint32) uint32 { return x + 1 }).
			Export("inc").
			Instantiate(testCtx)
		require.NoError(t, err)

		mod, err := r.InstantiateModuleFromBinary(testCtx, importing)
		require.NoError(t, err)

		results, err := mod.ExportedFunction("call_inc").Call(testCtx, 41)
		require.NoError(t, err)
		require.Equal(t, []uint64{42}, results)
	})
}

func TestRuntime_InstantiateModule_ErrorOnStart(t *testing.T) {
	r := NewRuntime()
	defer r.Close(testCtx)

	// (module (func unreachable) (start 0))
	bin := buildBinary(t,
		sectionEntry(1, 0x01, 0x60, 0x00, 0x00),
		sectionEntry(3, 0x01, 0x00),
		sectionEntry(8, 0x00),
		sectionEntry(10, 0x01, 0x03, 0x00, 0x00, 0x0b),
	)

	_, err := r.InstantiateModuleFromBinary(testCtx, bin)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unreachable")
}

// TestRuntime_Close unregisters every instantiated module, freeing names.
func TestRuntime_Close(t *testing.T) {
	r := NewRuntime()

	_, err := r.NewHostModuleBuilder("env").Instantiate(testCtx)
	require.NoError(t, err)
	require.NotNil(t, r.Module("env"))

	require.NoError(t, r.Close(testCtx))
	require.Nil(t, r.Module("env"))
}
