package wasm

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gowasm/gowasm/api"
	"github.com/gowasm/gowasm/internal/leb128"
)

// InstantiateConfig carries the knobs Instantiate needs beyond the Module
// and Store themselves: the name to register the new instance under.
type InstantiateConfig struct {
	// ModuleName registers the new instance in the Store's Namespace under
	// this name, making it visible to subsequent modules' imports.
	ModuleName string
}

// Instantiate runs the linker: resolves m's imports against s.Namespace,
// allocates local store entities, evaluates initializer expressions,
// writes active element/data segments, and (if present) calls the start
// function. Per spec.md §4.3, side effects from segments already written
// persist even if a later segment or the start function traps.
func Instantiate(ctx context.Context, s *Store, m *Module, cfg InstantiateConfig, features api.CoreFeatures) (*ModuleInstance, error) {
	inst := &ModuleInstance{
		ModuleName: cfg.ModuleName,
		Exports:    map[string]Export{},
		TypeIDs:    m.TypeIDs,
		Source:     m,
		store:      s,
	}

	if err := resolveImports(s, m, inst); err != nil {
		return nil, err
	}

	// Functions are allocated before globals/elements/data so a ref.func in
	// a constant expression can take the address of any module-defined
	// function, matching the core spec's instantiation order (4.5.4): all
	// functions exist before any initializer expression runs.
	importFuncCount := m.ImportFuncCount()
	for i, typeIdx := range m.FunctionSection {
		code := &m.CodeSection[i]
		idx := importFuncCount + Index(i)
		inst.Functions = append(inst.Functions, &FunctionInstance{
			Type: &m.TypeSection[typeIdx], TypeID: m.TypeIDs[typeIdx],
			Code: code, Module: inst, Idx: idx,
		})
	}
	if name, ok := m.NameSection, m.NameSection != nil; ok {
		for _, e := range name.FunctionNames {
			if int(e.Index) >= int(importFuncCount) && int(e.Index-importFuncCount) < len(inst.Functions) {
				inst.Functions[e.Index].Name = e.Name
			}
		}
	}

	for _, t := range m.TableSection {
		inst.Tables = append(inst.Tables, &TableInstance{
			Type:       t,
			References: make([]Reference, t.Min),
		})
	}

	for _, mt := range m.MemorySection {
		capPages := mt.Cap
		if capPages < mt.Min {
			capPages = mt.Min
		}
		inst.Memories = append(inst.Memories, &MemoryInstance{
			Buffer: make([]byte, uint64(mt.Min)*MemoryPageSize, uint64(capPages)*MemoryPageSize),
			Min:    mt.Min, Max: mt.Max, Shared: mt.IsShared,
		})
	}

	for _, g := range m.GlobalSection {
		v, vHi, err := evalConstExpr(inst, g.Init)
		if err != nil {
			return nil, err
		}
		inst.Globals = append(inst.Globals, &GlobalInstance{Type: g.Type, Val: v, ValHi: vHi})
	}

	for _, tag := range m.TagSection {
		inst.Tags = append(inst.Tags, &TagInstance{Type: &m.TypeSection[tag.Type]})
	}

	inst.DroppedElem = make([]bool, len(m.ElementSection))
	inst.DroppedData = make([]bool, len(m.DataSection))

	engine, err := s.Engine.NewModuleEngine(m, inst)
	if err != nil {
		return nil, err
	}
	inst.Engine = engine

	for _, exp := range m.ExportSection {
		inst.Exports[exp.Name] = exp
	}

	if err := writeElementSegments(inst, m); err != nil {
		return nil, err
	}
	if err := writeDataSegments(inst, m); err != nil {
		return nil, err
	}

	if cfg.ModuleName != "" {
		if err := s.Namespace.Register(cfg.ModuleName, inst); err != nil {
			return nil, err
		}
	}

	if m.StartSection != nil {
		if _, err := engine.Call(ctx, inst, *m.StartSection, nil); err != nil {
			return inst, fmt.Errorf("start function failed: %w", err)
		}
	}
	return inst, nil
}

// resolveImports looks up every import against s.Namespace, type-checks it
// (spec.md §4.3), and populates inst's Functions/Tables/Memories/Globals/
// Tags with the resolved instances before any module-defined entity is
// appended, so the combined import-then-local index space lines up with
// the decoder's index assignment.
func resolveImports(s *Store, m *Module, inst *ModuleInstance) error {
	byModule := map[string]*ModuleInstance{}
	for _, imp := range m.ImportSection {
		exporter, ok := byModule[imp.Module]
		if !ok {
			exporter, ok = s.Namespace.Module(imp.Module)
			if !ok {
				return fmt.Errorf("unknown import: module %q not instantiated", imp.Module)
			}
			byModule[imp.Module] = exporter
		}
		exp, ok := exporter.Exports[imp.Name]
		if !ok {
			return fmt.Errorf("unknown import: %s.%s", imp.Module, imp.Name)
		}
		if exp.Type != imp.Type {
			return fmt.Errorf("incompatible import type: %s.%s", imp.Module, imp.Name)
		}
		switch imp.Type {
		case ExternTypeFunc:
			fn := exporter.Functions[exp.Index]
			expectedID := m.TypeIDs[imp.DescFunc]
			if fn.TypeID != expectedID {
				return fmt.Errorf("incompatible import type: func %s.%s: signature mismatch", imp.Module, imp.Name)
			}
			inst.Functions = append(inst.Functions, fn)
		case ExternTypeTable:
			tbl := exporter.Tables[exp.Index]
			if tbl.Type.ElemType != imp.DescTable.ElemType {
				return fmt.Errorf("incompatible import type: table %s.%s: element type mismatch", imp.Module, imp.Name)
			}
			if err := checkLimits(tbl.Type.Min, tbl.Type.Max, imp.DescTable.Min, imp.DescTable.Max); err != nil {
				return fmt.Errorf("incompatible import type: table %s.%s: %w", imp.Module, imp.Name, err)
			}
			inst.Tables = append(inst.Tables, tbl)
		case ExternTypeMemory:
			mem := exporter.Memories[exp.Index]
			if err := checkLimits(mem.Min, mem.Max, imp.DescMemory.Min, imp.DescMemory.Max); err != nil {
				return fmt.Errorf("incompatible import type: memory %s.%s: %w", imp.Module, imp.Name, err)
			}
			if imp.DescMemory.IsShared && (!mem.Shared || (mem.Max == nil) != (imp.DescMemory.Max == nil)) {
				return fmt.Errorf("incompatible import type: memory %s.%s: shared mismatch", imp.Module, imp.Name)
			}
			inst.Memories = append(inst.Memories, mem)
		case ExternTypeGlobal:
			g := exporter.Globals[exp.Index]
			if g.Type.ValType != imp.DescGlobal.ValType || g.Type.Mutable != imp.DescGlobal.Mutable {
				return fmt.Errorf("incompatible import type: global %s.%s", imp.Module, imp.Name)
			}
			inst.Globals = append(inst.Globals, g)
		case ExternTypeTag:
			inst.Tags = append(inst.Tags, exporter.Tags[exp.Index])
		}
	}
	return nil
}

// checkLimits implements spec.md §4.3's table/memory limit subtyping:
// required.min <= actual.min, and required.max is either absent or
// actual.max <= required.max.
func checkLimits(actualMin uint32, actualMax *uint32, requiredMin uint32, requiredMax *uint32) error {
	if actualMin < requiredMin {
		return fmt.Errorf("minimum size mismatch")
	}
	if requiredMax != nil {
		if actualMax == nil || *actualMax > *requiredMax {
			return fmt.Errorf("maximum size mismatch")
		}
	}
	return nil
}

// evalConstExpr evaluates a restricted constant expression (spec.md §4.2)
// against an instance whose imported globals (but not yet its own
// module-defined globals beyond those already appended) are visible,
// returning the low 64 bits and, for v128, the high 64 bits.
func evalConstExpr(inst *ModuleInstance, ce ConstantExpression) (lo, hi uint64, err error) {
	switch ce.Opcode {
	case OpcodeI32Const:
		v, _, err := leb128.LoadInt32(ce.Data)
		return uint64(uint32(v)), 0, err
	case OpcodeI64Const:
		v, _, err := leb128.LoadInt64(ce.Data)
		return uint64(v), 0, err
	case OpcodeF32Const:
		return uint64(binary.LittleEndian.Uint32(ce.Data)), 0, nil
	case OpcodeF64Const:
		return binary.LittleEndian.Uint64(ce.Data), 0, nil
	case OpcodeGlobalGet:
		idx, _, err := leb128.LoadUint32(ce.Data)
		if err != nil {
			return 0, 0, err
		}
		if int(idx) >= len(inst.Globals) {
			return 0, 0, fmt.Errorf("unknown global: %d", idx)
		}
		g := inst.Globals[idx]
		return g.Val, g.ValHi, nil
	case OpcodeRefNull:
		return 0, 0, nil
	case OpcodeRefFunc:
		idx, _, err := leb128.LoadUint32(ce.Data)
		if err != nil {
			return 0, 0, err
		}
		return uint64(FuncRef(inst.Functions[idx])), 0, nil
	default:
		return 0, 0, fmt.Errorf("constant expression required")
	}
}

// ElemSegmentRefs evaluates seg's initializer expressions (or function
// indices) against inst, giving the reference vector a passive segment's
// table.init, or an active segment's instantiation-time write, installs.
// Exported for internal/engine/interpreter's table.init.
func ElemSegmentRefs(inst *ModuleInstance, seg *ElementSegment) ([]Reference, error) {
	if seg.Exprs != nil {
		refs := make([]Reference, len(seg.Exprs))
		for i, e := range seg.Exprs {
			v, _, err := evalConstExpr(inst, e)
			if err != nil {
				return nil, err
			}
			refs[i] = Reference(v)
		}
		return refs, nil
	}
	refs := make([]Reference, len(seg.Init))
	for i, fidx := range seg.Init {
		refs[i] = FuncRef(inst.Functions[fidx])
	}
	return refs, nil
}

// writeElementSegments installs active element segments into their target
// table; passive and declarative segments are skipped here. Per spec.md §4.3, segments
// already written remain visible even if a later one traps.
func writeElementSegments(inst *ModuleInstance, m *Module) error {
	for segIdx, seg := range m.ElementSection {
		if seg.Mode != ElementModeActive {
			continue
		}
		refs, err := ElemSegmentRefs(inst, &seg)
		if err != nil {
			return err
		}
		if int(seg.TableIndex) >= len(inst.Tables) {
			return fmt.Errorf("unknown table: %d", seg.TableIndex)
		}
		off, _, err := evalConstExpr(inst, seg.OffsetExpr)
		if err != nil {
			return err
		}
		tbl := inst.Tables[seg.TableIndex]
		offset := uint32(off)
		if uint64(offset)+uint64(len(refs)) > uint64(len(tbl.References)) {
			return fmt.Errorf("out of bounds table access")
		}
		copy(tbl.References[offset:], refs)
		// An active segment is used exactly once, at instantiation; mark it
		// dropped so a later table.init against the same index fails like
		// it would against an explicitly elem.drop'd passive segment.
		inst.DroppedElem[segIdx] = true
	}
	return nil
}

// writeDataSegments installs active data segments into their target
// memory, same partial-commit semantics as writeElementSegments.
func writeDataSegments(inst *ModuleInstance, m *Module) error {
	for segIdx, seg := range m.DataSection {
		if seg.Mode != DataModeActive {
			continue
		}
		if int(seg.MemoryIndex) >= len(inst.Memories) {
			return fmt.Errorf("unknown memory: %d", seg.MemoryIndex)
		}
		off, _, err := evalConstExpr(inst, seg.OffsetExpr)
		if err != nil {
			return err
		}
		mem := inst.Memories[seg.MemoryIndex]
		offset := uint32(off)
		if uint64(offset)+uint64(len(seg.Init)) > uint64(len(mem.Buffer)) {
			return fmt.Errorf("out of bounds memory access")
		}
		copy(mem.Buffer[offset:], seg.Init)
		inst.DroppedData[segIdx] = true
	}
	return nil
}
