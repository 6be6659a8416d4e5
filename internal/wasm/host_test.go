package wasm

import (
	"context"
	"testing"

	"github.com/gowasm/gowasm/api"
	"github.com/gowasm/gowasm/internal/testing/require"
)

func TestNewHostModule(t *testing.T) {
	i32 := ValueTypeI32

	t.Run("functions in insertion order", func(t *testing.T) {
		fns := map[string]*HostFunc{
			"two": {ExportName: "two", Code: Code{GoFunc: func() uint32 { return 2 }}},
			"one": {ExportName: "one", Code: Code{GoFunc: func() uint32 { return 1 }}},
		}
		m, err := NewHostModule("env", []string{"two", "one"}, fns, nil, api.CoreFeaturesV2Plus)
		require.NoError(t, err)

		require.Equal(t, 2, len(m.FunctionSection))
		require.Equal(t, "two", m.ExportSection[0].Name)
		require.Equal(t, "one", m.ExportSection[1].Name)
		require.Equal(t, "env", m.NameSection.ModuleName)
	})

	t.Run("explicit signature wins over reflection", func(t *testing.T) {
		fns := map[string]*HostFunc{
			"f": {
				ExportName: "f",
				ParamTypes: []ValueType{i32}, ResultTypes: []ValueType{i32},
				Code: Code{GoFunc: api.GoFunc(func(context.Context, []uint64) {})},
			},
		}
		m, err := NewHostModule("env", []string{"f"}, fns, nil, api.CoreFeaturesV2Plus)
		require.NoError(t, err)
		require.Equal(t, []ValueType{i32}, m.TypeSection[0].Params)
		require.Equal(t, []ValueType{i32}, m.TypeSection[0].Results)
	})

	t.Run("memory export", func(t *testing.T) {
		m, err := NewHostModule("env", nil, nil, map[string]*Memory{"memory": {Min: 1, Cap: 1, Max: 2, IsMaxEncoded: true}}, api.CoreFeaturesV2Plus)
		require.NoError(t, err)
		require.Equal(t, 1, len(m.MemorySection))
		require.Equal(t, uint32(1), m.MemorySection[0].Min)
		require.Equal(t, uint32(2), *m.MemorySection[0].Max)
		require.Equal(t, ExternTypeMemory, m.ExportSection[0].Type)
	})

	t.Run("distinct modules get distinct IDs", func(t *testing.T) {
		a, err := NewHostModule("a", nil, nil, nil, api.CoreFeaturesV2Plus)
		require.NoError(t, err)
		b, err := NewHostModule("b", nil, nil, nil, api.CoreFeaturesV2Plus)
		require.NoError(t, err)
		require.NotEqual(t, a.ID, b.ID)
	})
}

func TestGoReflectFuncSignature(t *testing.T) {
	i32, i64, f32, f64 := ValueTypeI32, ValueTypeI64, ValueTypeF32, ValueTypeF64

	tests := []struct {
		name            string
		fn              interface{}
		expectedParams  []ValueType
		expectedResults []ValueType
		expectedErr     string
	}{
		{
			name:           "all scalar kinds",
			fn:             func(uint32, int32, uint64, int64, float32, float64) {},
			expectedParams: []ValueType{i32, i32, i64, i64, f32, f64},
		},
		{
			name:            "context skipped",
			fn:              func(context.Context, uint32) uint32 { return 0 },
			expectedParams:  []ValueType{i32},
			expectedResults: []ValueType{i32},
		},
		{
			name:            "context and module skipped",
			fn:              func(context.Context, api.Module, uint64) float64 { return 0 },
			expectedParams:  []ValueType{i64},
			expectedResults: []ValueType{f64},
		},
		{
			name:           "uintptr is externref",
			fn:             func(uintptr) {},
			expectedParams: []ValueType{ValueTypeExternref},
		},
		{
			name:        "unsupported param",
			fn:          func(string) {},
			expectedErr: "unsupported type: string",
		},
		{
			name:        "unsupported result",
			fn:          func() []byte { return nil },
			expectedErr: "unsupported type: slice",
		},
		{
			name:        "not a function",
			fn:          42,
			expectedErr: "not a function",
		},
	}

	for _, tt := range tests {
		tc := tt

		t.Run(tc.name, func(t *testing.T) {
			params, results, err := GoReflectFuncSignature(tc.fn)
			if tc.expectedErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.expectedErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expectedParams, params)
			require.Equal(t, tc.expectedResults, results)
		})
	}
}

func TestCallGoFunc(t *testing.T) {
	ctx := context.Background()

	t.Run("api.GoFunction", func(t *testing.T) {
		fn := api.GoFunc(func(_ context.Context, stack []uint64) {
			stack[0] = stack[0] + stack[1]
		})
		out := CallGoFunc(ctx, nil, fn, []uint64{2, 3}, 1)
		require.Equal(t, []uint64{5}, out)
	})

	t.Run("reflective func", func(t *testing.T) {
		fn := func(_ context.Context, x int32, y float64) float64 {
			return float64(x) + y
		}
		out := CallGoFunc(ctx, nil, fn, []uint64{api.EncodeI32(2), api.EncodeF64(0.5)}, 1)
		require.Equal(t, []uint64{api.EncodeF64(2.5)}, out)
	})

	t.Run("more results than params", func(t *testing.T) {
		fn := func() (uint32, uint32) { return 7, 8 }
		out := CallGoFunc(ctx, nil, fn, nil, 2)
		require.Equal(t, []uint64{7, 8}, out)
	})
}
