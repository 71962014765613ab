package policy

import (
	"sort"

	"github.com/coldstore/coldstore/pkg/types"
)

// The priority policy decides which catalog entries a mirror should hold.
// The origin uses it to compute desired sets and mirrors use it to pick
// eviction victims, so the ordering must be total: two independent
// evaluations over the same input always produce the same set.

// Less reports whether entry a ranks strictly ahead of entry b.
// Ordering: popularity descending, then byte size ascending (more items fit
// a fixed capacity), then creation time descending (prefer newer), then ID.
func Less(a, b *types.CatalogEntry) bool {
	if a.Downloads != b.Downloads {
		return a.Downloads > b.Downloads
	}
	if a.Size != b.Size {
		return a.Size < b.Size
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Rank returns the entries sorted best-first. The input slice is not
// modified.
func Rank(entries []*types.CatalogEntry) []*types.CatalogEntry {
	ranked := make([]*types.CatalogEntry, len(entries))
	copy(ranked, entries)
	sort.Slice(ranked, func(i, j int) bool {
		return Less(ranked[i], ranked[j])
	})
	return ranked
}

// Select returns the n most desirable entries. When fewer than n entries
// are offered, all of them are returned (still ranked).
func Select(entries []*types.CatalogEntry, n int) []*types.CatalogEntry {
	if n < 0 {
		n = 0
	}
	ranked := Rank(entries)
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
