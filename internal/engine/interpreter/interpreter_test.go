package interpreter

import (
	"context"
	"errors"
	"testing"

	"github.com/gowasm/gowasm/api"
	"github.com/gowasm/gowasm/internal/testing/require"
	"github.com/gowasm/gowasm/internal/wasm"
	"github.com/gowasm/gowasm/internal/wasmruntime"
)

var testCtx = context.Background()

// buildInstance validates and instantiates m into a fresh store backed by
// this engine.
func buildInstance(t *testing.T, m *wasm.Module) *wasm.ModuleInstance {
	t.Helper()
	require.NoError(t, wasm.Validate(m, api.CoreFeaturesV2Plus))
	inst, err := wasm.Instantiate(testCtx, wasm.NewStore(NewEngine()), m, wasm.InstantiateConfig{}, api.CoreFeaturesV2Plus)
	require.NoError(t, err)
	return inst
}

// singleFunc builds a module whose only function has the given shape,
// optionally post-processed by mutate (to add memory, tables, more
// functions).
func singleFunc(params, results, locals []wasm.ValueType, body []wasm.Instruction, mutate ...func(*wasm.Module)) *wasm.Module {
	m := &wasm.Module{
		TypeSection:     []wasm.FunctionType{{Params: params, Results: results}},
		FunctionSection: []wasm.Index{0},
		CodeSection:     []wasm.Code{{LocalTypes: locals, Body: body}},
	}
	for _, fn := range mutate {
		fn(m)
	}
	return m
}

func call(t *testing.T, inst *wasm.ModuleInstance, funcIdx wasm.Index, params ...uint64) []uint64 {
	t.Helper()
	results, err := inst.Engine.Call(testCtx, inst, funcIdx, params)
	require.NoError(t, err)
	return results
}

func callExpectingError(t *testing.T, inst *wasm.ModuleInstance, funcIdx wasm.Index, expectedErr string, params ...uint64) error {
	t.Helper()
	_, err := inst.Engine.Call(testCtx, inst, funcIdx, params)
	require.Error(t, err)
	require.Contains(t, err.Error(), expectedErr)
	return err
}

const (
	i32 = wasm.ValueTypeI32
	i64 = wasm.ValueTypeI64
	f32 = wasm.ValueTypeF32
	f64 = wasm.ValueTypeF64
)

func TestControl_BlockAndBranch(t *testing.T) {
	t.Run("br exits block with its result", func(t *testing.T) {
		inst := buildInstance(t, singleFunc(nil, []wasm.ValueType{i32}, nil, []wasm.Instruction{
			{
				Opcode:       wasm.OpcodeBlock,
				ImmBlockType: wasm.BlockType{ValueType: i32},
				Block: &wasm.Block{Type: wasm.BlockType{ValueType: i32}, Then: []wasm.Instruction{
					{Opcode: wasm.OpcodeI32Const, ImmI32: 7},
					{Opcode: wasm.OpcodeBr, ImmIndex: 0},
					{Opcode: wasm.OpcodeUnreachable}, // skipped by the branch
				}},
			},
		}))
		require.Equal(t, []uint64{7}, call(t, inst, 0))
	})

	t.Run("nested br unwinds multiple labels", func(t *testing.T) {
		inst := buildInstance(t, singleFunc(nil, []wasm.ValueType{i32}, nil, []wasm.Instruction{
			{
				Opcode:       wasm.OpcodeBlock,
				ImmBlockType: wasm.BlockType{ValueType: i32},
				Block: &wasm.Block{Type: wasm.BlockType{ValueType: i32}, Then: []wasm.Instruction{
					{
						Opcode:       wasm.OpcodeBlock,
						ImmBlockType: wasm.BlockType{Empty: true},
						Block: &wasm.Block{Type: wasm.BlockType{Empty: true}, Then: []wasm.Instruction{
							{Opcode: wasm.OpcodeI32Const, ImmI32: 3},
							{Opcode: wasm.OpcodeBr, ImmIndex: 1},
						}},
					},
					{Opcode: wasm.OpcodeI32Const, ImmI32: 9}, // skipped
				}},
			},
		}))
		require.Equal(t, []uint64{3}, call(t, inst, 0))
	})

	t.Run("loop iterates until br_if fails", func(t *testing.T) {
		// Sums 1..n with local 1 as accumulator, local 0 counting down.
		inst := buildInstance(t, singleFunc([]wasm.ValueType{i32}, []wasm.ValueType{i32}, []wasm.ValueType{i32}, []wasm.Instruction{
			{
				Opcode:       wasm.OpcodeLoop,
				ImmBlockType: wasm.BlockType{Empty: true},
				Block: &wasm.Block{Type: wasm.BlockType{Empty: true}, Then: []wasm.Instruction{
					{Opcode: wasm.OpcodeLocalGet, ImmIndex: 1},
					{Opcode: wasm.OpcodeLocalGet, ImmIndex: 0},
					{Opcode: wasm.OpcodeI32Add},
					{Opcode: wasm.OpcodeLocalSet, ImmIndex: 1},
					{Opcode: wasm.OpcodeLocalGet, ImmIndex: 0},
					{Opcode: wasm.OpcodeI32Const, ImmI32: 1},
					{Opcode: wasm.OpcodeI32Sub},
					{Opcode: wasm.OpcodeLocalTee, ImmIndex: 0},
					{Opcode: wasm.OpcodeBrIf, ImmIndex: 0},
				}},
			},
			{Opcode: wasm.OpcodeLocalGet, ImmIndex: 1},
		}))
		require.Equal(t, []uint64{15}, call(t, inst, 0, 5))
		require.Equal(t, []uint64{1}, call(t, inst, 0, 1))
	})

	t.Run("if else", func(t *testing.T) {
		inst := buildInstance(t, singleFunc([]wasm.ValueType{i32}, []wasm.ValueType{i32}, nil, []wasm.Instruction{
			{Opcode: wasm.OpcodeLocalGet, ImmIndex: 0},
			{
				Opcode:       wasm.OpcodeIf,
				ImmBlockType: wasm.BlockType{ValueType: i32},
				Block: &wasm.Block{
					Type: wasm.BlockType{ValueType: i32},
					Then: []wasm.Instruction{{Opcode: wasm.OpcodeI32Const, ImmI32: 100}},
					Else: []wasm.Instruction{{Opcode: wasm.OpcodeI32Const, ImmI32: 200}},
				},
			},
		}))
		require.Equal(t, []uint64{100}, call(t, inst, 0, 1))
		require.Equal(t, []uint64{200}, call(t, inst, 0, 0))
	})

	t.Run("br_table", func(t *testing.T) {
		// Nested blocks return 10/20/30 for index 0/1/out-of-range.
		inner := &wasm.Block{Type: wasm.BlockType{Empty: true}, Then: []wasm.Instruction{
			{Opcode: wasm.OpcodeLocalGet, ImmIndex: 0},
			{Opcode: wasm.OpcodeBrTable, ImmTargets: []wasm.Index{0, 1}, ImmDefault: 2},
		}}
		middle := &wasm.Block{Type: wasm.BlockType{Empty: true}, Then: []wasm.Instruction{
			{Opcode: wasm.OpcodeBlock, ImmBlockType: wasm.BlockType{Empty: true}, Block: inner},
			{Opcode: wasm.OpcodeI32Const, ImmI32: 10},
			{Opcode: wasm.OpcodeReturn},
		}}
		inst := buildInstance(t, singleFunc([]wasm.ValueType{i32}, []wasm.ValueType{i32}, nil, []wasm.Instruction{
			{
				Opcode:       wasm.OpcodeBlock,
				ImmBlockType: wasm.BlockType{Empty: true},
				Block: &wasm.Block{Type: wasm.BlockType{Empty: true}, Then: []wasm.Instruction{
					{Opcode: wasm.OpcodeBlock, ImmBlockType: wasm.BlockType{Empty: true}, Block: middle},
					{Opcode: wasm.OpcodeI32Const, ImmI32: 20},
					{Opcode: wasm.OpcodeReturn},
				}},
			},
			{Opcode: wasm.OpcodeI32Const, ImmI32: 30},
		}))
		require.Equal(t, []uint64{10}, call(t, inst, 0, 0))
		require.Equal(t, []uint64{20}, call(t, inst, 0, 1))
		require.Equal(t, []uint64{30}, call(t, inst, 0, 2))
		require.Equal(t, []uint64{30}, call(t, inst, 0, 100))
	})

	t.Run("return with multiple results", func(t *testing.T) {
		inst := buildInstance(t, singleFunc(nil, []wasm.ValueType{i32, i32}, nil, []wasm.Instruction{
			{Opcode: wasm.OpcodeI32Const, ImmI32: 1},
			{Opcode: wasm.OpcodeI32Const, ImmI32: 2},
			{Opcode: wasm.OpcodeReturn},
		}))
		require.Equal(t, []uint64{1, 2}, call(t, inst, 0))
	})

	t.Run("unreachable traps", func(t *testing.T) {
		inst := buildInstance(t, singleFunc(nil, nil, nil, []wasm.Instruction{
			{Opcode: wasm.OpcodeUnreachable},
		}))
		callExpectingError(t, inst, 0, "unreachable")
	})

	t.Run("select", func(t *testing.T) {
		inst := buildInstance(t, singleFunc([]wasm.ValueType{i32}, []wasm.ValueType{i32}, nil, []wasm.Instruction{
			{Opcode: wasm.OpcodeI32Const, ImmI32: 11},
			{Opcode: wasm.OpcodeI32Const, ImmI32: 22},
			{Opcode: wasm.OpcodeLocalGet, ImmIndex: 0},
			{Opcode: wasm.OpcodeSelect},
		}))
		require.Equal(t, []uint64{11}, call(t, inst, 0, 1))
		require.Equal(t, []uint64{22}, call(t, inst, 0, 0))
	})
}

func TestCalls(t *testing.T) {
	t.Run("call between functions", func(t *testing.T) {
		// func[0] doubles via func[1] (add).
		m := &wasm.Module{
			TypeSection: []wasm.FunctionType{
				{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{i32}},
				{Params: []wasm.ValueType{i32, i32}, Results: []wasm.ValueType{i32}},
			},
			FunctionSection: []wasm.Index{0, 1},
			CodeSection: []wasm.Code{
				{Body: []wasm.Instruction{
					{Opcode: wasm.OpcodeLocalGet, ImmIndex: 0},
					{Opcode: wasm.OpcodeLocalGet, ImmIndex: 0},
					{Opcode: wasm.OpcodeCall, ImmIndex: 1},
				}},
				{Body: []wasm.Instruction{
					{Opcode: wasm.OpcodeLocalGet, ImmIndex: 0},
					{Opcode: wasm.OpcodeLocalGet, ImmIndex: 1},
					{Opcode: wasm.OpcodeI32Add},
				}},
			},
		}
		inst := buildInstance(t, m)
		require.Equal(t, []uint64{42}, call(t, inst, 0, 21))
	})

	t.Run("infinite recursion traps instead of exhausting the Go stack", func(t *testing.T) {
		inst := buildInstance(t, singleFunc(nil, nil, nil, []wasm.Instruction{
			{Opcode: wasm.OpcodeCall, ImmIndex: 0},
		}))
		callExpectingError(t, inst, 0, "callstack overflow")
	})

	t.Run("call_ref", func(t *testing.T) {
		m := &wasm.Module{
			TypeSection: []wasm.FunctionType{
				{Results: []wasm.ValueType{i32}},
			},
			FunctionSection: []wasm.Index{0, 0},
			CodeSection: []wasm.Code{
				{Body: []wasm.Instruction{
					{Opcode: wasm.OpcodeRefFunc, ImmIndex: 1},
					{Opcode: wasm.OpcodeCallRef, ImmIndex: 0},
				}},
				{Body: []wasm.Instruction{
					{Opcode: wasm.OpcodeI32Const, ImmI32: 77},
				}},
			},
			// func 1 must be declared in a reference-producing context.
			ElementSection: []wasm.ElementSegment{{
				Type: wasm.ValueTypeFuncref, Mode: wasm.ElementModeDeclarative, Init: []wasm.Index{1},
			}},
		}
		inst := buildInstance(t, m)
		require.Equal(t, []uint64{77}, call(t, inst, 0))
	})

	t.Run("call_ref on null traps", func(t *testing.T) {
		inst := buildInstance(t, singleFunc(nil, []wasm.ValueType{i32}, nil, []wasm.Instruction{
			{Opcode: wasm.OpcodeRefNull, ImmValType: wasm.ValueTypeFuncref},
			{Opcode: wasm.OpcodeCallRef, ImmIndex: 0},
		}))
		callExpectingError(t, inst, 0, "null function reference")
	})
}

func TestReferences(t *testing.T) {
	t.Run("ref.is_null", func(t *testing.T) {
		inst := buildInstance(t, singleFunc(nil, []wasm.ValueType{i32, i32}, nil, []wasm.Instruction{
			{Opcode: wasm.OpcodeRefNull, ImmValType: wasm.ValueTypeExternref},
			{Opcode: wasm.OpcodeRefIsNull},
			{Opcode: wasm.OpcodeRefFunc, ImmIndex: 0},
			{Opcode: wasm.OpcodeRefIsNull},
		}, func(m *wasm.Module) {
			m.ElementSection = []wasm.ElementSegment{{
				Type: wasm.ValueTypeFuncref, Mode: wasm.ElementModeDeclarative, Init: []wasm.Index{0},
			}}
		}))
		require.Equal(t, []uint64{1, 0}, call(t, inst, 0))
	})

	t.Run("ref.as_non_null traps on null", func(t *testing.T) {
		inst := buildInstance(t, singleFunc(nil, nil, nil, []wasm.Instruction{
			{Opcode: wasm.OpcodeRefNull, ImmValType: wasm.ValueTypeFuncref},
			{Opcode: wasm.OpcodeRefAsNonNull},
			{Opcode: wasm.OpcodeDrop},
		}))
		callExpectingError(t, inst, 0, "null function reference")
	})

	t.Run("br_on_null", func(t *testing.T) {
		// Returns 1 when given ref is null (branch taken), 0 otherwise.
		body := func(refProducer wasm.Instruction) []wasm.Instruction {
			return []wasm.Instruction{
				{
					Opcode:       wasm.OpcodeBlock,
					ImmBlockType: wasm.BlockType{Empty: true},
					Block: &wasm.Block{Type: wasm.BlockType{Empty: true}, Then: []wasm.Instruction{
						refProducer,
						{Opcode: wasm.OpcodeBrOnNull, ImmIndex: 0},
						{Opcode: wasm.OpcodeDrop}, // the non-null ref passes through
						{Opcode: wasm.OpcodeI32Const, ImmI32: 0},
						{Opcode: wasm.OpcodeReturn},
					}},
				},
				{Opcode: wasm.OpcodeI32Const, ImmI32: 1},
			}
		}

		null := buildInstance(t, singleFunc(nil, []wasm.ValueType{i32}, nil,
			body(wasm.Instruction{Opcode: wasm.OpcodeRefNull, ImmValType: wasm.ValueTypeFuncref})))
		require.Equal(t, []uint64{1}, call(t, null, 0))

		nonNull := buildInstance(t, singleFunc(nil, []wasm.ValueType{i32}, nil,
			body(wasm.Instruction{Opcode: wasm.OpcodeRefFunc, ImmIndex: 0}),
			func(m *wasm.Module) {
				m.ElementSection = []wasm.ElementSegment{{
					Type: wasm.ValueTypeFuncref, Mode: wasm.ElementModeDeclarative, Init: []wasm.Index{0},
				}}
			}))
		require.Equal(t, []uint64{0}, call(t, nonNull, 0))
	})

	t.Run("br_on_non_null", func(t *testing.T) {
		// The taken branch carries the non-null reference as the block's
		// result; the null fallthrough consumes it and substitutes a null.
		body := func(refProducer wasm.Instruction) []wasm.Instruction {
			return []wasm.Instruction{
				{
					Opcode:       wasm.OpcodeBlock,
					ImmBlockType: wasm.BlockType{ValueType: wasm.ValueTypeFuncref},
					Block: &wasm.Block{Type: wasm.BlockType{ValueType: wasm.ValueTypeFuncref}, Then: []wasm.Instruction{
						refProducer,
						{Opcode: wasm.OpcodeBrOnNonNull, ImmIndex: 0},
						{Opcode: wasm.OpcodeRefNull, ImmValType: wasm.ValueTypeFuncref},
					}},
				},
				{Opcode: wasm.OpcodeRefIsNull},
			}
		}

		nonNull := buildInstance(t, singleFunc(nil, []wasm.ValueType{i32}, nil,
			body(wasm.Instruction{Opcode: wasm.OpcodeRefFunc, ImmIndex: 0}),
			func(m *wasm.Module) {
				m.ElementSection = []wasm.ElementSegment{{
					Type: wasm.ValueTypeFuncref, Mode: wasm.ElementModeDeclarative, Init: []wasm.Index{0},
				}}
			}))
		require.Equal(t, []uint64{0}, call(t, nonNull, 0))

		null := buildInstance(t, singleFunc(nil, []wasm.ValueType{i32}, nil,
			body(wasm.Instruction{Opcode: wasm.OpcodeRefNull, ImmValType: wasm.ValueTypeFuncref})))
		require.Equal(t, []uint64{1}, call(t, null, 0))
	})
}

// exceptionModule builds the §8 S4 module: a tag of (param i32), a thrower,
// and a catcher wrapping it in try_table.
func exceptionModule(catches []wasm.CatchClause) *wasm.Module {
	return &wasm.Module{
		TypeSection: []wasm.FunctionType{
			{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{i32}}, // func type
			{Params: []wasm.ValueType{i32}},                                 // tag type
		},
		TagSection:      []wasm.Tag{{Type: 1}},
		FunctionSection: []wasm.Index{0, 0},
		CodeSection: []wasm.Code{
			// func[0]: throws its argument.
			{Body: []wasm.Instruction{
				{Opcode: wasm.OpcodeLocalGet, ImmIndex: 0},
				{Opcode: wasm.OpcodeThrow, ImmIndex: 0},
			}},
			// func[1]: calls func[0] inside try_table; a catch at the block
			// label leaves the payload as the result.
			{Body: []wasm.Instruction{
				{
					Opcode:       wasm.OpcodeBlock,
					ImmBlockType: wasm.BlockType{ValueType: i32},
					Block: &wasm.Block{Type: wasm.BlockType{ValueType: i32}, Then: []wasm.Instruction{
						{
							Opcode:       wasm.OpcodeTryTable,
							ImmBlockType: wasm.BlockType{Empty: true},
							Block: &wasm.Block{
								Type:    wasm.BlockType{Empty: true},
								Catches: catches,
								Then: []wasm.Instruction{
									{Opcode: wasm.OpcodeLocalGet, ImmIndex: 0},
									{Opcode: wasm.OpcodeCall, ImmIndex: 0},
									{Opcode: wasm.OpcodeReturn},
								},
							},
						},
						{Opcode: wasm.OpcodeUnreachable},
					}},
				},
			}},
		},
	}
}

func TestExceptions(t *testing.T) {
	t.Run("try_table catches thrown i32", func(t *testing.T) {
		inst := buildInstance(t, exceptionModule([]wasm.CatchClause{
			{Kind: wasm.CatchKindCatch, Tag: 0, Label: 1},
		}))
		require.Equal(t, []uint64{5}, call(t, inst, 1, 5))
		require.Equal(t, []uint64{10}, call(t, inst, 1, 10))
	})

	t.Run("uncaught exception reaches the host", func(t *testing.T) {
		inst := buildInstance(t, exceptionModule(nil))
		err := callExpectingError(t, inst, 0, "uncaught wasm exception", 5)

		var excErr *wasmruntime.Error
		require.True(t, errors.As(err, &excErr))
		require.Equal(t, []uint64{5}, excErr.Args)
	})

	t.Run("catch on a different tag does not match", func(t *testing.T) {
		m := exceptionModule([]wasm.CatchClause{
			{Kind: wasm.CatchKindCatch, Tag: 1, Label: 1},
		})
		// A second tag the catch clause names, never thrown.
		m.TagSection = append(m.TagSection, wasm.Tag{Type: 1})
		inst := buildInstance(t, m)
		callExpectingError(t, inst, 1, "uncaught wasm exception", 5)
	})

	t.Run("catch_all matches any tag but carries no values", func(t *testing.T) {
		// catch_all jumps to a label expecting nothing; rebuild the catcher
		// so the landing pad pushes its own marker value.
		m := exceptionModule(nil)
		m.CodeSection[1] = wasm.Code{Body: []wasm.Instruction{
			{
				Opcode:       wasm.OpcodeBlock,
				ImmBlockType: wasm.BlockType{Empty: true},
				Block: &wasm.Block{Type: wasm.BlockType{Empty: true}, Then: []wasm.Instruction{
					{
						Opcode:       wasm.OpcodeTryTable,
						ImmBlockType: wasm.BlockType{Empty: true},
						Block: &wasm.Block{
							Type:    wasm.BlockType{Empty: true},
							Catches: []wasm.CatchClause{{Kind: wasm.CatchKindCatchAll, Label: 1}},
							Then: []wasm.Instruction{
								{Opcode: wasm.OpcodeLocalGet, ImmIndex: 0},
								{Opcode: wasm.OpcodeCall, ImmIndex: 0},
								{Opcode: wasm.OpcodeReturn},
							},
						},
					},
					{Opcode: wasm.OpcodeUnreachable},
				}},
			},
			{Opcode: wasm.OpcodeI32Const, ImmI32: -1},
		}}
		inst := buildInstance(t, m)
		require.Equal(t, []uint64{uint64(uint32(0xffffffff))}, call(t, inst, 1, 5))
	})

	t.Run("catch_ref exposes an exnref that throw_ref rethrows", func(t *testing.T) {
		m := exceptionModule(nil)
		m.CodeSection[1] = wasm.Code{Body: []wasm.Instruction{
			{
				Opcode:       wasm.OpcodeBlock,
				ImmBlockType: wasm.BlockType{ValueType: wasm.ValueTypeExnref},
				Block: &wasm.Block{Type: wasm.BlockType{ValueType: wasm.ValueTypeExnref}, Then: []wasm.Instruction{
					{
						Opcode:       wasm.OpcodeTryTable,
						ImmBlockType: wasm.BlockType{Empty: true},
						Block: &wasm.Block{
							Type:    wasm.BlockType{Empty: true},
							Catches: []wasm.CatchClause{{Kind: wasm.CatchKindCatchAllRef, Label: 1}},
							Then: []wasm.Instruction{
								{Opcode: wasm.OpcodeLocalGet, ImmIndex: 0},
								{Opcode: wasm.OpcodeCall, ImmIndex: 0},
								{Opcode: wasm.OpcodeReturn},
							},
						},
					},
					{Opcode: wasm.OpcodeUnreachable},
				}},
			},
			{Opcode: wasm.OpcodeThrowRef},
			{Opcode: wasm.OpcodeI32Const, ImmI32: 0},
		}}
		inst := buildInstance(t, m)

		// Caught once, rethrown, then uncaught: the original payload must
		// survive the round trip.
		err := callExpectingError(t, inst, 1, "uncaught wasm exception", 9)
		var excErr *wasmruntime.Error
		require.True(t, errors.As(err, &excErr))
		require.Equal(t, []uint64{9}, excErr.Args)
	})

	t.Run("traps are not catchable", func(t *testing.T) {
		m := singleFunc(nil, nil, nil, []wasm.Instruction{
			{
				Opcode:       wasm.OpcodeTryTable,
				ImmBlockType: wasm.BlockType{Empty: true},
				Block: &wasm.Block{
					Type:    wasm.BlockType{Empty: true},
					Catches: []wasm.CatchClause{{Kind: wasm.CatchKindCatchAll, Label: 0}},
					Then: []wasm.Instruction{
						{Opcode: wasm.OpcodeUnreachable},
					},
				},
			},
		})
		inst := buildInstance(t, m)
		callExpectingError(t, inst, 0, "unreachable")
	})
}
