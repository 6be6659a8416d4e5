package binary

import "github.com/gowasm/gowasm/internal/wasm"

// MemorySizer chooses the cap (initially allocated pages, <= max) a memory
// instance is given. Cap may equal max to avoid ever reallocating on grow,
// at the cost of allocating memory that may never be used.
type MemorySizer func(minPages uint32, maxPages *uint32) (min, capacity, max uint32)

// NewMemorySizer returns the MemorySizer a Runtime uses to size host-module
// memories: cap defaults to min, and max defaults to limitPages when the
// module doesn't declare one, unless capFromMax requests pre-allocating to
// the declared max.
func NewMemorySizer(limitPages uint32, capFromMax bool) MemorySizer {
	return func(minPages uint32, maxPages *uint32) (min, capacity, max uint32) {
		min = minPages
		capacity = minPages
		if maxPages != nil {
			max = *maxPages
			// Only a declared max pre-allocates; an absent one would mean
			// reserving the whole 4GiB limit up front.
			if capFromMax {
				capacity = max
			}
		} else {
			max = limitPages
		}
		return
	}
}

// DefaultMemoryLimitPages is the spec-wide ceiling on memory size absent an
// explicit RuntimeConfig override: 2^16 pages (4GiB).
const DefaultMemoryLimitPages = wasm.MemoryLimitPages
