package wasm

import (
	"context"
	"fmt"
	"reflect"

	"github.com/gowasm/gowasm/api"
)

// ModuleInstance implements api.Module directly rather than through a
// wrapper type at the embedder boundary: the internal representation and
// the public handle an embedder holds are the same object.
var _ api.Module = (*ModuleInstance)(nil)

func (m *ModuleInstance) Name() string { return m.ModuleName }

func (m *ModuleInstance) String() string { return fmt.Sprintf("Module[%s]", m.ModuleName) }

func (m *ModuleInstance) Memory() api.Memory {
	if len(m.Memories) == 0 {
		return nil
	}
	return m.Memories[0]
}

func (m *ModuleInstance) ExportedMemory(name string) api.Memory {
	exp, ok := m.Exports[name]
	if !ok || exp.Type != ExternTypeMemory {
		return nil
	}
	return m.Memories[exp.Index]
}

func (m *ModuleInstance) ExportedGlobal(name string) api.Global {
	exp, ok := m.Exports[name]
	if !ok || exp.Type != ExternTypeGlobal {
		return nil
	}
	adapter := &globalAdapter{m.Globals[exp.Index]}
	if !adapter.g.Type.Mutable {
		// Embedding only api.Global hides Set, so a cast to api.MutableGlobal fails.
		return struct{ api.Global }{adapter}
	}
	return adapter
}

func (m *ModuleInstance) ExportedFunction(name string) api.Function {
	fn := m.LookupFunction(name)
	if fn == nil {
		return nil
	}
	return &functionAdapter{fn}
}

func (m *ModuleInstance) Close(ctx context.Context) error {
	return m.CloseWithExitCode(ctx, 0)
}

func (m *ModuleInstance) CloseWithExitCode(ctx context.Context, exitCode uint32) error {
	if m.ModuleName != "" && m.store != nil {
		m.store.Namespace.Unregister(m.ModuleName)
	}
	return nil
}

// globalAdapter implements api.Global/api.MutableGlobal over a *GlobalInstance.
type globalAdapter struct{ g *GlobalInstance }

var (
	_ api.Global        = (*globalAdapter)(nil)
	_ api.MutableGlobal = (*globalAdapter)(nil)
)

func (g *globalAdapter) String() string { return fmt.Sprintf("global(%v)", g.g.Val) }
func (g *globalAdapter) Type() api.ValueType { return g.g.Type.ValType }
func (g *globalAdapter) Get(context.Context) uint64 { return g.g.Val }
func (g *globalAdapter) Set(_ context.Context, v uint64) { g.g.Val = v }

// functionAdapter implements api.Function/api.FunctionDefinition over a
// *FunctionInstance.
type functionAdapter struct{ fn *FunctionInstance }

var (
	_ api.Function           = (*functionAdapter)(nil)
	_ api.FunctionDefinition = (*functionAdapter)(nil)
)

func (f *functionAdapter) Definition() api.FunctionDefinition { return f }

func (f *functionAdapter) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	return f.fn.Module.Engine.Call(ctx, f.fn.Module, f.fn.Idx, params)
}

func (f *functionAdapter) ModuleName() string { return f.fn.Module.ModuleName }
func (f *functionAdapter) Index() uint32      { return f.fn.Idx }
func (f *functionAdapter) Name() string       { return f.fn.Name }

func (f *functionAdapter) DebugName() string {
	if f.fn.Name != "" {
		return f.fn.Module.ModuleName + "." + f.fn.Name
	}
	return fmt.Sprintf("%s.$%d", f.fn.Module.ModuleName, f.fn.Idx)
}

func (f *functionAdapter) Import() (moduleName, name string, isImport bool) {
	return "", "", false
}

func (f *functionAdapter) ExportNames() (names []string) {
	for n, exp := range f.fn.Module.Exports {
		if exp.Type == ExternTypeFunc && exp.Index == f.fn.Idx {
			names = append(names, n)
		}
	}
	return
}

func (f *functionAdapter) GoFunc() *reflect.Value {
	if f.fn.Code == nil || f.fn.Code.GoFunc == nil {
		return nil
	}
	v := reflect.ValueOf(f.fn.Code.GoFunc)
	return &v
}

func (f *functionAdapter) ParamTypes() []api.ValueType  { return f.fn.Type.Params }
func (f *functionAdapter) ParamNames() []string          { return nil }
func (f *functionAdapter) ResultTypes() []api.ValueType { return f.fn.Type.Results }

// MemoryInstance implements api.Memory directly.
var _ api.Memory = (*MemoryInstance)(nil)

func (m *MemoryInstance) Size(context.Context) uint32 { return uint32(len(m.Buffer)) }

func (m *MemoryInstance) Grow(_ context.Context, delta uint32) (uint32, bool) {
	return m.GrowPages(delta)
}

func (m *MemoryInstance) inBounds(offset, byteCount uint64) bool {
	return offset+byteCount <= uint64(len(m.Buffer))
}

func (m *MemoryInstance) ReadByte(_ context.Context, offset uint32) (byte, bool) {
	if !m.inBounds(uint64(offset), 1) {
		return 0, false
	}
	return m.Buffer[offset], true
}

func (m *MemoryInstance) ReadUint16Le(_ context.Context, offset uint32) (uint16, bool) {
	if !m.inBounds(uint64(offset), 2) {
		return 0, false
	}
	return uint16(m.Buffer[offset]) | uint16(m.Buffer[offset+1])<<8, true
}

func (m *MemoryInstance) ReadUint32Le(_ context.Context, offset uint32) (uint32, bool) {
	if !m.inBounds(uint64(offset), 4) {
		return 0, false
	}
	return uint32(m.Buffer[offset]) | uint32(m.Buffer[offset+1])<<8 |
		uint32(m.Buffer[offset+2])<<16 | uint32(m.Buffer[offset+3])<<24, true
}

func (m *MemoryInstance) ReadFloat32Le(ctx context.Context, offset uint32) (float32, bool) {
	v, ok := m.ReadUint32Le(ctx, offset)
	if !ok {
		return 0, false
	}
	return api.DecodeF32(uint64(v)), true
}

func (m *MemoryInstance) ReadUint64Le(_ context.Context, offset uint32) (uint64, bool) {
	if !m.inBounds(uint64(offset), 8) {
		return 0, false
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(m.Buffer[int(offset)+i]) << (8 * i)
	}
	return v, true
}

func (m *MemoryInstance) ReadFloat64Le(ctx context.Context, offset uint32) (float64, bool) {
	v, ok := m.ReadUint64Le(ctx, offset)
	if !ok {
		return 0, false
	}
	return api.DecodeF64(v), true
}

func (m *MemoryInstance) Read(_ context.Context, offset, byteCount uint32) ([]byte, bool) {
	if !m.inBounds(uint64(offset), uint64(byteCount)) {
		return nil, false
	}
	return m.Buffer[offset : offset+byteCount], true
}

func (m *MemoryInstance) WriteByte(_ context.Context, offset uint32, v byte) bool {
	if !m.inBounds(uint64(offset), 1) {
		return false
	}
	m.Buffer[offset] = v
	return true
}

func (m *MemoryInstance) WriteUint16Le(_ context.Context, offset uint32, v uint16) bool {
	if !m.inBounds(uint64(offset), 2) {
		return false
	}
	m.Buffer[offset], m.Buffer[offset+1] = byte(v), byte(v>>8)
	return true
}

func (m *MemoryInstance) WriteUint32Le(_ context.Context, offset, v uint32) bool {
	if !m.inBounds(uint64(offset), 4) {
		return false
	}
	m.Buffer[offset] = byte(v)
	m.Buffer[offset+1] = byte(v >> 8)
	m.Buffer[offset+2] = byte(v >> 16)
	m.Buffer[offset+3] = byte(v >> 24)
	return true
}

func (m *MemoryInstance) WriteFloat32Le(ctx context.Context, offset uint32, v float32) bool {
	return m.WriteUint32Le(ctx, offset, uint32(api.EncodeF32(v)))
}

func (m *MemoryInstance) WriteUint64Le(_ context.Context, offset uint32, v uint64) bool {
	if !m.inBounds(uint64(offset), 8) {
		return false
	}
	for i := 0; i < 8; i++ {
		m.Buffer[int(offset)+i] = byte(v >> (8 * i))
	}
	return true
}

func (m *MemoryInstance) WriteFloat64Le(ctx context.Context, offset uint32, v float64) bool {
	return m.WriteUint64Le(ctx, offset, api.EncodeF64(v))
}

func (m *MemoryInstance) Write(_ context.Context, offset uint32, v []byte) bool {
	if !m.inBounds(uint64(offset), uint64(len(v))) {
		return false
	}
	copy(m.Buffer[offset:], v)
	return true
}
