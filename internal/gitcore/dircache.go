package gitcore

import (
	"fmt"
	"sort"
)

// DirCacheBuilder accumulates DirCacheEntry values in any order and produces
// a sorted, validated DirCache on Finish. This mirrors how Git itself stages
// a tree: entries arrive one at a time as files are added, and the cache is
// only required to be ordered once something needs to read it back.
type DirCacheBuilder struct {
	entries []DirCacheEntry
}

// NewDirCacheBuilder returns an empty builder.
func NewDirCacheBuilder() *DirCacheBuilder {
	return &DirCacheBuilder{}
}

// Add stages an entry. Entries may be added in any order; duplicates (same
// path and stage) are only detected at Finish.
func (b *DirCacheBuilder) Add(entry DirCacheEntry) {
	b.entries = append(b.entries, entry)
}

// Finish sorts the accumulated entries under the path-stage comparator and
// validates that no (path, stage) pair repeats, returning the completed
// immutable DirCache.
func (b *DirCacheBuilder) Finish() (*DirCache, error) {
	entries := make([]DirCacheEntry, len(b.entries))
	copy(entries, b.entries)

	sort.SliceStable(entries, func(i, j int) bool {
		return dirCacheEntryLess(entries[i], entries[j])
	})

	for i := 1; i < len(entries); i++ {
		if entries[i-1].Path == entries[i].Path && entries[i-1].Stage == entries[i].Stage {
			return nil, newErr(KindCorruptObject, fmt.Sprintf("duplicate dir-cache entry for path %q at stage %d", entries[i].Path, entries[i].Stage))
		}
		if !dirCacheEntryLess(entries[i-1], entries[i]) {
			return nil, newErr(KindCorruptObject, fmt.Sprintf("dir-cache entries not strictly increasing at %q", entries[i].Path))
		}
	}

	byPath := make(map[string]*DirCacheEntry, len(entries))
	for i := range entries {
		if entries[i].Stage == 0 {
			byPath[entries[i].Path] = &entries[i]
		}
	}

	return &DirCache{
		Version: 2,
		Entries: entries,
		ByPath:  byPath,
	}, nil
}

// dirCacheEntryLess orders two flat dir-cache entries by raw path bytes,
// breaking ties by merge stage. Flat entries are always plain file paths, so
// the tree-walk's trailing-slash projection (pathLess in treewalk.go) does
// not apply here; it only matters once a subtree boundary is synthesized
// during iteration.
func dirCacheEntryLess(a, b DirCacheEntry) bool {
	if a.Path != b.Path {
		return a.Path < b.Path
	}
	return a.Stage < b.Stage
}
