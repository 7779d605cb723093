package gitcore

import (
	"bytes"
	"fmt"
	"strings"
)

// treeIterator is the protocol every tree source implements so TreeWalk can
// merge an arbitrary number of them in lockstep. CanonicalTreeIterator walks
// a parsed Tree object; DirCacheIterator projects the flat dir-cache onto the
// same virtual-tree shape so the two can be compared entry for entry.
type treeIterator interface {
	eof() bool
	currentPathBytes() []byte
	currentMode() string
	currentID() Hash
	advance() error
	createSubtreeIterator(store *Store) (treeIterator, error)
	back(n int) error
	reset()
}

func isTreeMode(mode string) bool { return mode == "40000" || mode == "040000" }

// pathLess implements Git's "path with trailing slash" ordering: a subtree's
// name is compared as if it carried a trailing '/', so that among siblings
// "a." sorts before the subtree "a", which in turn sorts before "a0b". This
// is what keeps tree object entries and dir-cache path components comparable
// even though only the latter spells out the slash explicitly.
func pathLess(aName string, aIsTree bool, bName string, bIsTree bool) bool {
	return pathCompare(aName, aIsTree, bName, bIsTree) < 0
}

func pathCompare(aName string, aIsTree bool, bName string, bIsTree bool) int {
	a := []byte(aName)
	b := []byte(bName)
	if aIsTree {
		a = append(a, '/')
	}
	if bIsTree {
		b = append(b, '/')
	}
	return bytes.Compare(a, b)
}

// CanonicalTreeIterator walks the entries of a parsed tree object in the
// order they were stored, which is required to already satisfy pathLess.
type CanonicalTreeIterator struct {
	tree *Tree
	pos  int
}

// NewCanonicalTreeIterator returns an iterator positioned at tree's first entry.
func NewCanonicalTreeIterator(tree *Tree) *CanonicalTreeIterator {
	return &CanonicalTreeIterator{tree: tree}
}

func (it *CanonicalTreeIterator) eof() bool { return it.pos >= len(it.tree.Entries) }

func (it *CanonicalTreeIterator) currentPathBytes() []byte {
	if it.eof() {
		return nil
	}
	return []byte(it.tree.Entries[it.pos].Name)
}

func (it *CanonicalTreeIterator) currentMode() string {
	if it.eof() {
		return ""
	}
	return it.tree.Entries[it.pos].Mode
}

func (it *CanonicalTreeIterator) currentID() Hash {
	if it.eof() {
		return ""
	}
	return it.tree.Entries[it.pos].ID
}

func (it *CanonicalTreeIterator) advance() error {
	if it.eof() {
		return newErr(KindUnexpectedInput, "canonical tree iterator: advance past eof")
	}
	it.pos++
	return nil
}

func (it *CanonicalTreeIterator) createSubtreeIterator(store *Store) (treeIterator, error) {
	if it.eof() || !it.tree.Entries[it.pos].IsTree() {
		return nil, newErr(KindUnexpectedInput, "canonical tree iterator: current entry is not a tree")
	}
	sub, err := store.ParseTree(it.tree.Entries[it.pos].ID)
	if err != nil {
		return nil, err
	}
	return NewCanonicalTreeIterator(sub), nil
}

func (it *CanonicalTreeIterator) back(n int) error {
	if it.pos-n < 0 {
		return newErr(KindUnexpectedInput, "canonical tree iterator: back out of range")
	}
	it.pos -= n
	return nil
}

func (it *CanonicalTreeIterator) reset() { it.pos = 0 }

// DirCacheIterator projects a flat, path-sorted slice of stage-0 dir-cache
// entries onto a virtual tree rooted at prefix. Multiple entries sharing the
// next path component are grouped into one subtree entry; descending into it
// (createSubtreeIterator) narrows both prefix and the [ptr,end) range.
type DirCacheIterator struct {
	entries     []DirCacheEntry
	prefix      string
	ptr         int
	end         int
	groupStarts []int
}

// NewDirCacheIterator returns an iterator over the root of cache's stage-0 entries.
func NewDirCacheIterator(cache *DirCache) *DirCacheIterator {
	entries := make([]DirCacheEntry, 0, len(cache.Entries))
	for _, e := range cache.Entries {
		if e.Stage == 0 {
			entries = append(entries, e)
		}
	}
	return &DirCacheIterator{entries: entries, prefix: "", ptr: 0, end: len(entries)}
}

func newDirCacheIteratorRange(entries []DirCacheEntry, prefix string, start, end int) *DirCacheIterator {
	return &DirCacheIterator{entries: entries, prefix: prefix, ptr: start, end: end}
}

func (it *DirCacheIterator) eof() bool { return it.ptr >= it.end }

func (it *DirCacheIterator) relPath() string {
	return it.entries[it.ptr].Path[len(it.prefix):]
}

func (it *DirCacheIterator) currentName() string {
	rel := it.relPath()
	if i := strings.IndexByte(rel, '/'); i >= 0 {
		return rel[:i]
	}
	return rel
}

func (it *DirCacheIterator) currentIsTree() bool {
	return strings.IndexByte(it.relPath(), '/') >= 0
}

func (it *DirCacheIterator) currentPathBytes() []byte {
	if it.eof() {
		return nil
	}
	return []byte(it.currentName())
}

func (it *DirCacheIterator) currentMode() string {
	if it.eof() {
		return ""
	}
	if it.currentIsTree() {
		return "40000"
	}
	return fmt.Sprintf("%06o", it.entries[it.ptr].Mode)
}

func (it *DirCacheIterator) currentID() Hash {
	if it.eof() || it.currentIsTree() {
		// The dir cache never records a subtree's object id: it only knows
		// about blobs. Callers that need a tree id for an unmodified
		// subtree must recompute or look it up via the paired commit tree.
		return ZeroHash
	}
	return it.entries[it.ptr].Hash
}

// groupEnd returns the exclusive end of the run of entries sharing the
// current top-level path component (and tree-ness) at this iterator's level.
func (it *DirCacheIterator) groupEnd() int {
	name := it.currentName()
	isTree := it.currentIsTree()
	j := it.ptr + 1
	for j < it.end {
		rel := it.entries[j].Path[len(it.prefix):]
		n, t := rel, false
		if i := strings.IndexByte(rel, '/'); i >= 0 {
			n, t = rel[:i], true
		}
		if n != name || t != isTree {
			break
		}
		j++
	}
	return j
}

func (it *DirCacheIterator) advance() error {
	if it.eof() {
		return newErr(KindUnexpectedInput, "dir-cache iterator: advance past eof")
	}
	it.groupStarts = append(it.groupStarts, it.ptr)
	it.ptr = it.groupEnd()
	return nil
}

// back rewinds n advances. This is the operation EnterSubtree relies on to
// step back onto a subtree entry that Next has already advanced past,
// and the one place where the DirCacheIterator and CanonicalTreeIterator
// semantics genuinely diverge: a dir-cache group's width isn't known until
// groupEnd scans for it, so back must replay from recorded group starts
// rather than simply subtracting an offset.
func (it *DirCacheIterator) back(n int) error {
	if n > len(it.groupStarts) {
		return newErr(KindUnexpectedInput, "dir-cache iterator: back insufficient history")
	}
	idx := len(it.groupStarts) - n
	it.ptr = it.groupStarts[idx]
	it.groupStarts = it.groupStarts[:idx]
	return nil
}

func (it *DirCacheIterator) reset() {
	if len(it.groupStarts) > 0 {
		it.ptr = it.groupStarts[0]
	}
	it.groupStarts = nil
}

func (it *DirCacheIterator) createSubtreeIterator(_ *Store) (treeIterator, error) {
	if it.eof() || !it.currentIsTree() {
		return nil, newErr(KindUnexpectedInput, "dir-cache iterator: current entry is not a tree")
	}
	name := it.currentName()
	end := it.groupEnd()
	return newDirCacheIteratorRange(it.entries, it.prefix+name+"/", it.ptr, end), nil
}

// emptyTreeIterator fills a source slot when a particular source has no
// entry at all under the directory currently being walked.
type emptyTreeIterator struct{}

func (emptyTreeIterator) eof() bool                { return true }
func (emptyTreeIterator) currentPathBytes() []byte { return nil }
func (emptyTreeIterator) currentMode() string      { return "" }
func (emptyTreeIterator) currentID() Hash          { return "" }
func (emptyTreeIterator) advance() error {
	return newErr(KindUnexpectedInput, "empty tree iterator: advance past eof")
}
func (emptyTreeIterator) createSubtreeIterator(*Store) (treeIterator, error) {
	return nil, newErr(KindUnexpectedInput, "empty tree iterator: cannot descend")
}
func (emptyTreeIterator) back(n int) error {
	if n == 0 {
		return nil
	}
	return newErr(KindUnexpectedInput, "empty tree iterator: back insufficient history")
}
func (emptyTreeIterator) reset() {}

// FilterAction is the disposition a Filter assigns to a path during a TreeWalk.
type FilterAction int

const (
	// FilterInclude yields the entry and, for a tree in recursive mode, descends into it.
	FilterInclude FilterAction = iota
	// FilterExclude skips the entry (and its subtree, if any) entirely.
	FilterExclude
	// FilterShallow yields a tree entry without descending into it, letting
	// the caller expand it later if it turns out to matter.
	FilterShallow
)

// Filter decides whether a path belongs in a TreeWalk's output.
type Filter interface {
	Decide(path string, isTree bool) FilterAction
}

// FilterFunc adapts a plain function to the Filter interface.
type FilterFunc func(path string, isTree bool) FilterAction

// Decide calls f.
func (f FilterFunc) Decide(path string, isTree bool) FilterAction { return f(path, isTree) }

// AndFilter requires every sub-filter to include a path; if any excludes it,
// the path is excluded, and if none excludes it but at least one says
// shallow, the result is shallow.
type AndFilter struct{ Filters []Filter }

// Decide implements Filter.
func (f AndFilter) Decide(path string, isTree bool) FilterAction {
	result := FilterInclude
	for _, sub := range f.Filters {
		switch sub.Decide(path, isTree) {
		case FilterExclude:
			return FilterExclude
		case FilterShallow:
			result = FilterShallow
		}
	}
	return result
}

// ShouldRecurse implements RecursiveFilter: descent is needed if any
// sub-filter that cares about it says so.
func (f AndFilter) ShouldRecurse(path string) bool {
	for _, sub := range f.Filters {
		if rf, ok := sub.(RecursiveFilter); ok && rf.ShouldRecurse(path) {
			return true
		}
	}
	return false
}

// OrFilter includes a path if any sub-filter includes it.
type OrFilter struct{ Filters []Filter }

// Decide implements Filter.
func (f OrFilter) Decide(path string, isTree bool) FilterAction {
	best := FilterExclude
	for _, sub := range f.Filters {
		switch sub.Decide(path, isTree) {
		case FilterInclude:
			return FilterInclude
		case FilterShallow:
			best = FilterShallow
		}
	}
	return best
}

// RecursiveFilter is implemented by filters that sometimes need a TreeWalk
// to descend into a subtree even when the walk itself was built non-recursive
// (descent the filter needs to see inside a directory it targets). A filter
// that never needs this need not implement it; TreeWalk treats a filter
// without this method as always satisfied by the walk's own recursive flag.
type RecursiveFilter interface {
	ShouldRecurse(path string) bool
}

// ShouldRecurse implements RecursiveFilter, mirroring AndFilter's.
func (f OrFilter) ShouldRecurse(path string) bool {
	for _, sub := range f.Filters {
		if rf, ok := sub.(RecursiveFilter); ok && rf.ShouldRecurse(path) {
			return true
		}
	}
	return false
}

// PathPrefixFilter restricts a walk to one or more path prefixes. A
// directory that is itself an ancestor of a prefix is included (and
// descended into, so the walk can keep narrowing); everything else outside
// every prefix is excluded outright.
type PathPrefixFilter struct{ Prefixes []string }

// Decide implements Filter.
func (f PathPrefixFilter) Decide(path string, isTree bool) FilterAction {
	for _, prefix := range f.Prefixes {
		switch {
		case path == prefix:
			return FilterInclude
		case strings.HasPrefix(path, prefix+"/"):
			return FilterInclude
		case isTree && strings.HasPrefix(prefix, path+"/"):
			return FilterInclude
		}
	}
	return FilterExclude
}

// ShouldRecurse implements RecursiveFilter: a prefix filter needs descent
// into path exactly when one of its target prefixes crosses path's subtree
// boundary, i.e. path is a strict ancestor directory of that prefix.
func (f PathPrefixFilter) ShouldRecurse(path string) bool {
	for _, prefix := range f.Prefixes {
		if strings.HasPrefix(prefix, path+"/") {
			return true
		}
	}
	return false
}

// TreeWalkSourceEntry is one source's (mode, id) at the current TreeWalk position.
type TreeWalkSourceEntry struct {
	Mode string
	ID   Hash
}

// TreeWalkEntry is one merged position across every TreeWalk source. Entries
// is parallel to the sources passed to NewTreeWalk; a nil slot means that
// source has nothing at this path.
type TreeWalkEntry struct {
	Path    string
	Mode    string
	IsTree  bool
	Entries []*TreeWalkSourceEntry

	// PostChildren is set exactly once per subtree in a post-order walk: on
	// the revisit emitted after every child of that subtree has been
	// yielded. It is always false on the entry's first (pre-order) visit.
	PostChildren bool
}

type twFrame struct {
	path    string
	sources []treeIterator

	// set when this frame just descended into a subtree, so that popping
	// back out knows which source slots to advance past the directory, and
	// what entry to re-emit if the walk is running post-order.
	descendMatched []int
	descendEntry   *TreeWalkEntry
}

// TreeWalk merges any number of sorted tree sources (canonical tree objects,
// dir-cache projections, or a mix) into a single path-ordered sequence.
type TreeWalk struct {
	store     *Store
	recursive bool
	postOrder bool
	filter    Filter
	frames    []*twFrame

	// lastFrame/lastMatched/lastEntry remember a subtree entry yielded
	// without descending, so EnterSubtree can still step into it. Valid only
	// between that Next call and the following one.
	lastFrame   *twFrame
	lastMatched []int
	lastEntry   *TreeWalkEntry
}

// NewTreeWalk builds a walk over sources, all rooted at "". recursive
// controls whether matching subtrees are descended into automatically;
// postOrder controls whether a descended directory is re-emitted after its
// children (like a post-order tree traversal) in addition to when first
// reached. filter may be nil, meaning include everything.
func NewTreeWalk(store *Store, sources []treeIterator, recursive, postOrder bool, filter Filter) *TreeWalk {
	return &TreeWalk{
		store:     store,
		recursive: recursive,
		postOrder: postOrder,
		filter:    filter,
		frames:    []*twFrame{{path: "", sources: sources}},
	}
}

// NewTreeWalkFromTrees is a convenience constructor over already-parsed tree objects.
func NewTreeWalkFromTrees(store *Store, trees []*Tree, recursive, postOrder bool, filter Filter) *TreeWalk {
	sources := make([]treeIterator, len(trees))
	for i, t := range trees {
		if t == nil {
			sources[i] = emptyTreeIterator{}
			continue
		}
		sources[i] = NewCanonicalTreeIterator(t)
	}
	return NewTreeWalk(store, sources, recursive, postOrder, filter)
}

func allSourcesEOF(sources []treeIterator) bool {
	for _, s := range sources {
		if s != nil && !s.eof() {
			return false
		}
	}
	return true
}

// selectMin finds the lexicographically smallest (name, isTree) among every
// non-eof source, and returns the indices of sources positioned there.
func selectMin(sources []treeIterator) (name string, isTree bool, matched []int) {
	for i, s := range sources {
		if s == nil || s.eof() {
			continue
		}
		n := string(s.currentPathBytes())
		t := isTreeMode(s.currentMode())
		switch {
		case len(matched) == 0:
			name, isTree, matched = n, t, []int{i}
		case pathLess(n, t, name, isTree):
			name, isTree, matched = n, t, []int{i}
		case n == name && t == isTree:
			matched = append(matched, i)
		}
	}
	return name, isTree, matched
}

// Next returns the next merged entry, or (nil, nil) once every source is
// exhausted at every depth.
func (w *TreeWalk) Next() (*TreeWalkEntry, error) {
	w.lastFrame, w.lastMatched, w.lastEntry = nil, nil, nil
	for len(w.frames) > 0 {
		frame := w.frames[len(w.frames)-1]

		if allSourcesEOF(frame.sources) {
			w.frames = w.frames[:len(w.frames)-1]
			if len(w.frames) == 0 {
				return nil, nil
			}
			parent := w.frames[len(w.frames)-1]
			for _, idx := range parent.descendMatched {
				if err := parent.sources[idx].advance(); err != nil {
					return nil, err
				}
			}
			entry := parent.descendEntry
			parent.descendMatched = nil
			parent.descendEntry = nil
			if w.postOrder && entry != nil {
				revisit := *entry
				revisit.PostChildren = true
				return &revisit, nil
			}
			continue
		}

		name, isTree, matched := selectMin(frame.sources)
		path := name
		if frame.path != "" {
			path = frame.path + name
		}

		entry := &TreeWalkEntry{Path: path, IsTree: isTree, Entries: make([]*TreeWalkSourceEntry, len(frame.sources))}
		for _, idx := range matched {
			s := frame.sources[idx]
			se := &TreeWalkSourceEntry{Mode: s.currentMode(), ID: s.currentID()}
			entry.Entries[idx] = se
			if entry.Mode == "" {
				entry.Mode = se.Mode
			}
		}

		action := FilterInclude
		if w.filter != nil {
			action = w.filter.Decide(path, isTree)
		}

		if action == FilterExclude {
			for _, idx := range matched {
				if err := frame.sources[idx].advance(); err != nil {
					return nil, err
				}
			}
			continue
		}

		descend := w.recursive
		if !descend && w.filter != nil {
			if rf, ok := w.filter.(RecursiveFilter); ok {
				descend = rf.ShouldRecurse(path)
			}
		}

		if isTree && descend && action != FilterShallow {
			subSources := make([]treeIterator, len(frame.sources))
			for i := range subSources {
				subSources[i] = emptyTreeIterator{}
			}
			for _, idx := range matched {
				sub, err := frame.sources[idx].createSubtreeIterator(w.store)
				if err != nil {
					return nil, err
				}
				subSources[idx] = sub
			}

			frame.descendMatched = matched
			frame.descendEntry = entry
			w.frames = append(w.frames, &twFrame{path: path + "/", sources: subSources})

			// A recursive walk reports leaves only. In post-order mode the
			// subtree is reported both before and after its children, with
			// PostChildren set only on the revisit.
			if w.postOrder {
				return entry, nil
			}
			continue
		}

		w.lastFrame, w.lastMatched, w.lastEntry = frame, matched, entry
		for _, idx := range matched {
			if err := frame.sources[idx].advance(); err != nil {
				return nil, err
			}
		}
		return entry, nil
	}
	return nil, nil
}

// EnterSubtree descends into the subtree entry most recently yielded by Next
// without automatic descent (non-recursive mode, or a FilterShallow
// decision). The next Next call yields that subtree's first child. Calling
// this when the last entry was not a subtree, or after the walk has moved
// on, is an error.
func (w *TreeWalk) EnterSubtree() error {
	if w.lastEntry == nil || !w.lastEntry.IsTree {
		return newErr(KindUnexpectedInput, "tree walk: no subtree at current position")
	}
	frame := w.lastFrame

	subSources := make([]treeIterator, len(frame.sources))
	for i := range subSources {
		subSources[i] = emptyTreeIterator{}
	}
	// Next already advanced the matched sources past the subtree; step each
	// one back onto it so createSubtreeIterator sees the right entry, and so
	// the eventual pop back out of the subtree re-advances them.
	for _, idx := range w.lastMatched {
		if err := frame.sources[idx].back(1); err != nil {
			return err
		}
		sub, err := frame.sources[idx].createSubtreeIterator(w.store)
		if err != nil {
			return err
		}
		subSources[idx] = sub
	}

	frame.descendMatched = w.lastMatched
	frame.descendEntry = w.lastEntry
	w.frames = append(w.frames, &twFrame{path: w.lastEntry.Path + "/", sources: subSources})
	w.lastFrame, w.lastMatched, w.lastEntry = nil, nil, nil
	return nil
}

// SetPostOrder toggles post-order revisits. It is read each time a subtree
// is entered and each time one is left, so a subtree entered before the
// toggle is affected when it is left. The setting is walk state, not frame state: it survives
// Reset.
func (w *TreeWalk) SetPostOrder(on bool) { w.postOrder = on }

// Reset rewinds the walk back to its starting sources and frame.
func (w *TreeWalk) Reset(sources []treeIterator) {
	for _, s := range sources {
		if s != nil {
			s.reset()
		}
	}
	w.frames = []*twFrame{{path: "", sources: sources}}
	w.lastFrame, w.lastMatched, w.lastEntry = nil, nil, nil
}
