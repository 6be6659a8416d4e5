package wasm

import (
	"context"
	"crypto/sha256"
	"fmt"
	"reflect"
	"strings"

	"github.com/gowasm/gowasm/api"
)

// HostFunc is a host-defined (Go) function staged by a HostModuleBuilder
// before it is folded into a synthetic Module via NewHostModule. Unlike a
// module-defined FunctionInstance, it carries its export/parameter/result
// names directly since a host function has no binary-format name section
// to read them from.
type HostFunc struct {
	ExportName  string
	Name        string
	ParamNames  []string
	ResultNames []string
	ParamTypes  []ValueType
	ResultTypes []ValueType
	Code        Code
}

// Memory is a staged memory export for a HostModuleBuilder, mirroring
// MemoryType but with the builder-friendly zero-value-means-absent Max
// encoding used by ExportMemory/ExportMemoryWithMax.
type Memory struct {
	Min, Cap, Max uint32
	IsMaxEncoded  bool
}

// Validate checks limits are internally consistent and within spec.md's
// MemoryLimitPages ceiling.
func (m *Memory) Validate(memoryLimitPages uint32) error {
	if m.Min > memoryLimitPages {
		return fmt.Errorf("minimum memory size of %d pages exceeds limit of %d pages", m.Min, memoryLimitPages)
	}
	if m.IsMaxEncoded && m.Max > memoryLimitPages {
		return fmt.Errorf("maximum memory size of %d pages exceeds limit of %d pages", m.Max, memoryLimitPages)
	}
	if m.IsMaxEncoded && m.Max < m.Min {
		return fmt.Errorf("maximum memory size of %d pages is less than minimum %d pages", m.Max, m.Min)
	}
	return nil
}

// NewHostModule synthesizes a Module whose FunctionSection/CodeSection are
// entirely Go-backed (Code.GoFunc set, Body nil) so the rest of the
// pipeline (Validate, Instantiate, the interpreter) treats host and guest
// functions identically except at the call boundary.
func NewHostModule(moduleName string, exportNames []string, nameToHostFunc map[string]*HostFunc, nameToMemory map[string]*Memory, features api.CoreFeatures) (*Module, error) {
	m := &Module{NameSection: &NameSection{ModuleName: moduleName}}

	for _, name := range exportNames {
		hf := nameToHostFunc[name]
		if hf.ParamTypes == nil && hf.ResultTypes == nil && hf.Code.GoFunc != nil {
			params, results, err := GoReflectFuncSignature(hf.Code.GoFunc)
			if err != nil {
				return nil, fmt.Errorf("func[%s] %w", name, err)
			}
			hf.ParamTypes, hf.ResultTypes = params, results
		}
		typeIdx := Index(len(m.TypeSection))
		ft := FunctionType{Params: hf.ParamTypes, Results: hf.ResultTypes}
		ft.Finalize()
		m.TypeSection = append(m.TypeSection, ft)
		m.FunctionSection = append(m.FunctionSection, typeIdx)
		m.CodeSection = append(m.CodeSection, hf.Code)

		fnIdx := Index(len(m.FunctionSection) - 1)
		m.ExportSection = append(m.ExportSection, Export{Name: hf.ExportName, Type: ExternTypeFunc, Index: fnIdx})

		fnName := hf.Name
		if fnName == "" {
			fnName = hf.ExportName
		}
		m.NameSection.FunctionNames = append(m.NameSection.FunctionNames, struct {
			Index Index
			Name  string
		}{fnIdx, fnName})
	}

	for name, mem := range nameToMemory {
		var max *uint32
		if mem.IsMaxEncoded {
			v := mem.Max
			max = &v
		}
		m.MemorySection = append(m.MemorySection, MemoryType{Min: mem.Min, Cap: mem.Cap, Max: max, IsMaxEncoded: mem.IsMaxEncoded})
		m.ExportSection = append(m.ExportSection, Export{Name: name, Type: ExternTypeMemory, Index: Index(len(m.MemorySection) - 1)})
	}

	// A host module has no source bytes to hash, so derive its engine cache
	// key from its identity: the module name plus export names in order.
	m.ID = sha256.Sum256([]byte("host:" + moduleName + ":" + strings.Join(exportNames, "\x00")))
	return m, nil
}

// GoReflectFuncSignature infers a host function's Wasm signature from its
// Go func value's parameter/result types via reflection, the same
// convenience a reflective HostFunctionBuilder.WithFunc offers: a leading
// context.Context and/or api.Module parameter are recognized and skipped,
// every other parameter/result must be one of the scalar kinds with a
// direct ValueType mapping.
func GoReflectFuncSignature(fn interface{}) (params, results []ValueType, err error) {
	switch fn.(type) {
	case api.GoFunction, api.GoModuleFunction:
		return nil, nil, nil // signature supplied explicitly by the caller
	}
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func {
		return nil, nil, fmt.Errorf("not a function: %T", fn)
	}
	rt := rv.Type()

	pi := 0
	if pi < rt.NumIn() && rt.In(pi).Implements(contextType) {
		pi++
	}
	if pi < rt.NumIn() && rt.In(pi).Implements(moduleType) {
		pi++
	}
	for ; pi < rt.NumIn(); pi++ {
		vt, err := goKindToValueType(rt.In(pi).Kind())
		if err != nil {
			return nil, nil, fmt.Errorf("param[%d]: %w", pi, err)
		}
		params = append(params, vt)
	}
	for ri := 0; ri < rt.NumOut(); ri++ {
		vt, err := goKindToValueType(rt.Out(ri).Kind())
		if err != nil {
			return nil, nil, fmt.Errorf("result[%d]: %w", ri, err)
		}
		results = append(results, vt)
	}
	return params, results, nil
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	moduleType  = reflect.TypeOf((*api.Module)(nil)).Elem()
)

func goKindToValueType(k reflect.Kind) (ValueType, error) {
	switch k {
	case reflect.Int32, reflect.Uint32:
		return ValueTypeI32, nil
	case reflect.Int64, reflect.Uint64:
		return ValueTypeI64, nil
	case reflect.Float32:
		return ValueTypeF32, nil
	case reflect.Float64:
		return ValueTypeF64, nil
	case reflect.Uintptr:
		return ValueTypeExternref, nil
	default:
		return 0, fmt.Errorf("unsupported type: %s", k)
	}
}

// CallGoFunc invokes a Code.GoFunc value against params, for use by an
// Engine implementation that needs to cross from Wasm into a host-defined
// function: fn is either api.GoFunction, api.GoModuleFunction, or a plain Go
// func adapted via reflection, and resultCount is the callee's result
// arity (its encoded slot count, same convention as FunctionType's
// ParamNumInUint64/ResultNumInUint64).
func CallGoFunc(ctx context.Context, mod api.Module, fn interface{}, params []uint64, resultCount int) []uint64 {
	n := len(params)
	if resultCount > n {
		n = resultCount
	}
	stack := make([]uint64, n)
	copy(stack, params)
	switch f := fn.(type) {
	case api.GoModuleFunction:
		f.Call(ctx, mod, stack)
	case api.GoFunction:
		f.Call(ctx, stack)
	default:
		reflectCall(ctx, mod, fn, stack)
	}
	return stack[:resultCount]
}

// reflectCall invokes a host function implemented as a plain Go func
// (inferred signature, as opposed to api.GoFunction) against a uint64
// operand stack using the same encode/decode convention as api.EncodeI32
// et al.
func reflectCall(ctx context.Context, mod api.Module, fn interface{}, stack []uint64) {
	rv := reflect.ValueOf(fn)
	rt := rv.Type()
	var in []reflect.Value
	pi, si := 0, 0
	if pi < rt.NumIn() && rt.In(pi).Implements(contextType) {
		in = append(in, reflect.ValueOf(ctx))
		pi++
	}
	if pi < rt.NumIn() && rt.In(pi).Implements(moduleType) {
		in = append(in, reflect.ValueOf(mod))
		pi++
	}
	for ; pi < rt.NumIn(); pi, si = pi+1, si+1 {
		in = append(in, decodeGoValue(rt.In(pi).Kind(), stack[si]))
	}
	out := rv.Call(in)
	for i, o := range out {
		stack[i] = encodeGoValue(o)
	}
}

func decodeGoValue(k reflect.Kind, v uint64) reflect.Value {
	switch k {
	case reflect.Int32:
		return reflect.ValueOf(int32(v))
	case reflect.Uint32:
		return reflect.ValueOf(uint32(v))
	case reflect.Int64:
		return reflect.ValueOf(int64(v))
	case reflect.Uint64:
		return reflect.ValueOf(v)
	case reflect.Float32:
		return reflect.ValueOf(api.DecodeF32(v))
	case reflect.Float64:
		return reflect.ValueOf(api.DecodeF64(v))
	case reflect.Uintptr:
		return reflect.ValueOf(api.DecodeExternref(v))
	default:
		panic(fmt.Sprintf("unsupported type: %s", k))
	}
}

func encodeGoValue(v reflect.Value) uint64 {
	switch v.Kind() {
	case reflect.Int32:
		return uint64(uint32(v.Int()))
	case reflect.Uint32:
		return uint64(uint32(v.Uint()))
	case reflect.Int64:
		return uint64(v.Int())
	case reflect.Uint64:
		return v.Uint()
	case reflect.Float32:
		return api.EncodeF32(float32(v.Float()))
	case reflect.Float64:
		return api.EncodeF64(v.Float())
	case reflect.Uintptr:
		return api.EncodeExternref(uintptr(v.Uint()))
	default:
		panic(fmt.Sprintf("unsupported type: %s", v.Kind()))
	}
}
