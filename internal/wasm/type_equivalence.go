package wasm

import (
	"strconv"
	"strings"
	"sync"
)

// FunctionTypeID is a process-wide identifier assigned to a structurally
// distinct type-section entry. call_indirect and call_ref both need to
// compare a dynamic callee's signature against a static expectation in
// O(1); compare-by-id does that without re-walking both signatures on every
// call, and without per-module caches that would float call_ref across
// module instances differently.
//
// Equivalence is isorecursive with the recursion group as the unit
// (spec.md §3): two entries are equivalent iff their whole groups are
// structurally identical after α-renaming intra-group indices, at the same
// position. The canonicalization below realizes this with an arena-style
// walk (group-local positions, no language-level recursion): intra-group
// supertype references are rewritten to group-relative positions, and
// cross-group references to the already-assigned id of the referenced
// entry — since supertypes always refer backwards, this plays the role of
// the assumption set a general cyclic walk would need.
type FunctionTypeID uint32

type typeIDAllocator struct {
	mux sync.Mutex
	// idsByGroupKey maps a recursion group's canonical form to the ids of
	// its members, in group order.
	idsByGroupKey map[string][]FunctionTypeID
	next          FunctionTypeID
}

var globalTypeIDs = &typeIDAllocator{idsByGroupKey: map[string][]FunctionTypeID{}}

// AssignTypeIDs resolves an id for every entry of m.TypeSection, populating
// m.TypeIDs in the same order. Structurally identical recursion groups
// across different modules receive the same member ids; the same signature
// inside differently-shaped groups does not.
func AssignTypeIDs(m *Module) {
	ids := make([]FunctionTypeID, len(m.TypeSection))
	groups := m.RecGroups
	if len(groups) == 0 {
		// Modules built in memory (host modules, tests) have no group
		// structure: every type is its own singleton group.
		for i := range m.TypeSection {
			groups = append(groups, RecGroup{Start: Index(i), End: Index(i + 1)})
		}
	}

	globalTypeIDs.mux.Lock()
	defer globalTypeIDs.mux.Unlock()
	for _, g := range groups {
		key := recGroupKey(m, g, ids)
		members, ok := globalTypeIDs.idsByGroupKey[key]
		if !ok {
			members = make([]FunctionTypeID, g.End-g.Start)
			for i := range members {
				members[i] = globalTypeIDs.next
				globalTypeIDs.next++
			}
			globalTypeIDs.idsByGroupKey[key] = members
		}
		copy(ids[g.Start:g.End], members)
	}
	m.TypeIDs = ids
}

// recGroupKey canonicalizes one recursion group. ids carries the ids
// already assigned to earlier groups, which is all a well-formed supertype
// reference can point at outside its own group.
func recGroupKey(m *Module, g RecGroup, ids []FunctionTypeID) string {
	var sb strings.Builder
	for i := g.Start; i < g.End; i++ {
		ft := &m.TypeSection[i]
		if i > g.Start {
			sb.WriteByte(';')
		}
		for _, s := range ft.Supertypes {
			switch {
			case s >= g.Start && s < g.End:
				// Intra-group: α-renamed to the group-local position.
				sb.WriteString("r")
				sb.WriteString(strconv.FormatUint(uint64(s-g.Start), 10))
			case int(s) < len(ids) && s < g.Start:
				sb.WriteString("t")
				sb.WriteString(strconv.FormatUint(uint64(ids[s]), 10))
			default:
				// Forward or out-of-range reference: invalid per the
				// subtype rules; keep the raw index so the key stays
				// deterministic until validation rejects the module.
				sb.WriteString("x")
				sb.WriteString(strconv.FormatUint(uint64(s), 10))
			}
			sb.WriteByte('|')
		}
		sb.WriteString(ft.String())
	}
	return sb.String()
}
