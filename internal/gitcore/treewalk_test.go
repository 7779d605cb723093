package gitcore

import "testing"

func regularEntry(path string, hash byte) DirCacheEntry {
	var h [20]byte
	h[19] = hash
	id, _ := NewHashFromBytes(h)
	return DirCacheEntry{Path: path, Mode: 0o100644, Hash: id}
}

func buildCache(t *testing.T, paths ...string) *DirCache {
	t.Helper()
	b := NewDirCacheBuilder()
	for i, p := range paths {
		b.Add(regularEntry(p, byte(i+1)))
	}
	cache, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return cache
}

// TestTreeWalk_NonRecursiveSubtreeSynthesis: {a., a/b, a/c, a/d, a0b}
// walked non-recursively must yield exactly "a.", "a" (tree), "a0b".
func TestTreeWalk_NonRecursiveSubtreeSynthesis(t *testing.T) {
	cache := buildCache(t, "a.", "a/b", "a/c", "a/d", "a0b")
	it := NewDirCacheIterator(cache)

	walk := NewTreeWalk(nil, []treeIterator{it}, false, false, nil)

	var gotPaths []string
	var gotIsTree []bool
	for {
		e, err := walk.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if e == nil {
			break
		}
		gotPaths = append(gotPaths, e.Path)
		gotIsTree = append(gotIsTree, e.IsTree)
	}

	wantPaths := []string{"a.", "a", "a0b"}
	wantIsTree := []bool{false, true, false}
	if len(gotPaths) != len(wantPaths) {
		t.Fatalf("paths: got %v, want %v", gotPaths, wantPaths)
	}
	for i := range wantPaths {
		if gotPaths[i] != wantPaths[i] || gotIsTree[i] != wantIsTree[i] {
			t.Errorf("entry %d: got (%q, tree=%v), want (%q, tree=%v)", i, gotPaths[i], gotIsTree[i], wantPaths[i], wantIsTree[i])
		}
	}
}

// TestTreeWalk_RecursiveSubtreeExpansion is the recursive counterpart: the
// same dir-cache yields every leaf, descending into the synthesized "a" tree.
func TestTreeWalk_RecursiveSubtreeExpansion(t *testing.T) {
	cache := buildCache(t, "a.", "a/b", "a/c", "a/d", "a0b")
	it := NewDirCacheIterator(cache)

	walk := NewTreeWalk(nil, []treeIterator{it}, true, false, nil)

	var got []string
	for {
		e, err := walk.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if e == nil {
			break
		}
		got = append(got, e.Path)
	}

	want := []string{"a.", "a/b", "a/c", "a/d", "a0b"}
	if len(got) != len(want) {
		t.Fatalf("paths: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

// TestTreeWalk_PostOrderRevisit: {a, b/c, b/d, q} with post-order
// enabled re-yields "b" a second time, with PostChildren set only then.
func TestTreeWalk_PostOrderRevisit(t *testing.T) {
	cache := buildCache(t, "a", "b/c", "b/d", "q")
	it := NewDirCacheIterator(cache)

	walk := NewTreeWalk(nil, []treeIterator{it}, true, true, nil)

	type seen struct {
		path   string
		isTree bool
	}
	var got []seen
	var postFlags []bool
	for {
		e, err := walk.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if e == nil {
			break
		}
		got = append(got, seen{e.Path, e.IsTree})
		postFlags = append(postFlags, e.PostChildren)
	}

	wantPaths := []seen{
		{"a", false},
		{"b", true},
		{"b/c", false},
		{"b/d", false},
		{"b", true},
		{"q", false},
	}
	wantPost := []bool{false, false, false, false, true, false}

	if len(got) != len(wantPaths) {
		t.Fatalf("entries: got %v, want %v", got, wantPaths)
	}
	for i := range wantPaths {
		if got[i] != wantPaths[i] {
			t.Errorf("entry %d: got %+v, want %+v", i, got[i], wantPaths[i])
		}
		if postFlags[i] != wantPost[i] {
			t.Errorf("entry %d PostChildren: got %v, want %v", i, postFlags[i], wantPost[i])
		}
	}
}

// TestDirCacheIterator_BackStepAcrossSeparators: successive paths
// sharing a long common prefix but split by different separators must yield
// sibling top-level entries, and back(1) from the second must return to the
// first.
func TestDirCacheIterator_BackStepAcrossSeparators(t *testing.T) {
	cache := buildCache(t, "git-gui/po/fr.po", "git_remote_helpers/git/repo.py")
	it := NewDirCacheIterator(cache)

	if it.eof() {
		t.Fatal("iterator at eof before first advance")
	}
	first := string(it.currentPathBytes())
	if first != "git-gui" {
		t.Fatalf("first top-level name: got %q, want %q", first, "git-gui")
	}

	if err := it.advance(); err != nil {
		t.Fatalf("advance: %v", err)
	}
	second := string(it.currentPathBytes())
	if second != "git_remote_helpers" {
		t.Fatalf("second top-level name: got %q, want %q", second, "git_remote_helpers")
	}

	if err := it.back(1); err != nil {
		t.Fatalf("back(1): %v", err)
	}
	if got := string(it.currentPathBytes()); got != "git-gui" {
		t.Fatalf("after back(1): got %q, want %q", got, "git-gui")
	}

	if err := it.advance(); err != nil {
		t.Fatalf("re-advance: %v", err)
	}
	if got := string(it.currentPathBytes()); got != "git_remote_helpers" {
		t.Fatalf("re-advance: got %q, want %q", got, "git_remote_helpers")
	}
}

func TestPathPrefixFilter_ShouldRecurse(t *testing.T) {
	f := PathPrefixFilter{Prefixes: []string{"a/b/c"}}
	if !f.ShouldRecurse("a") {
		t.Error("expected ShouldRecurse(\"a\") to cross into the prefix")
	}
	if !f.ShouldRecurse("a/b") {
		t.Error("expected ShouldRecurse(\"a/b\") to cross into the prefix")
	}
	if f.ShouldRecurse("a/b/c") {
		t.Error("did not expect ShouldRecurse at the prefix itself")
	}
	if f.ShouldRecurse("x") {
		t.Error("did not expect ShouldRecurse outside the prefix tree")
	}
}

func TestTreeWalk_PathPrefixFilterExcludesOutsidePrefix(t *testing.T) {
	cache := buildCache(t, "a/x", "b/y", "c/z")
	it := NewDirCacheIterator(cache)

	walk := NewTreeWalk(nil, []treeIterator{it}, true, false, PathPrefixFilter{Prefixes: []string{"b"}})

	var got []string
	for {
		e, err := walk.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if e == nil {
			break
		}
		got = append(got, e.Path)
	}

	want := []string{"b/y"}
	if len(got) != len(want) {
		t.Fatalf("paths: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

// TestTreeWalk_EnterSubtree drives a non-recursive walk and descends into a
// yielded subtree on demand, which must produce that subtree's children
// before resuming with the parent's next sibling.
func TestTreeWalk_EnterSubtree(t *testing.T) {
	cache := buildCache(t, "a.", "a/b", "a/c", "a0b")
	it := NewDirCacheIterator(cache)

	walk := NewTreeWalk(nil, []treeIterator{it}, false, false, nil)

	var got []string
	for {
		e, err := walk.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if e == nil {
			break
		}
		got = append(got, e.Path)
		if e.IsTree {
			if err := walk.EnterSubtree(); err != nil {
				t.Fatalf("EnterSubtree(%q): %v", e.Path, err)
			}
		}
	}

	want := []string{"a.", "a", "a/b", "a/c", "a0b"}
	if len(got) != len(want) {
		t.Fatalf("paths: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTreeWalk_EnterSubtreeOnFileFails(t *testing.T) {
	cache := buildCache(t, "plain")
	walk := NewTreeWalk(nil, []treeIterator{NewDirCacheIterator(cache)}, false, false, nil)

	e, err := walk.Next()
	if err != nil || e == nil {
		t.Fatalf("Next: %v, %v", e, err)
	}
	if err := walk.EnterSubtree(); err == nil {
		t.Fatal("EnterSubtree on a file entry must fail")
	}
}

// TestTreeWalk_MultiSourceMerge walks two dir-cache sources with partially
// overlapping paths: tied paths report both sources, unmatched paths leave
// the other source's slot nil.
func TestTreeWalk_MultiSourceMerge(t *testing.T) {
	left := NewDirCacheIterator(buildCache(t, "common", "only-left"))
	right := NewDirCacheIterator(buildCache(t, "common", "only-right"))

	walk := NewTreeWalk(nil, []treeIterator{left, right}, true, false, nil)

	type row struct {
		path string
		inL  bool
		inR  bool
	}
	var got []row
	for {
		e, err := walk.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if e == nil {
			break
		}
		got = append(got, row{e.Path, e.Entries[0] != nil, e.Entries[1] != nil})
	}

	want := []row{
		{"common", true, true},
		{"only-left", true, false},
		{"only-right", false, true},
	}
	if len(got) != len(want) {
		t.Fatalf("rows: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

// TestTreeWalk_PostOrderSurvivesReset toggles post-order on, resets the walk,
// and verifies the revisit behavior is still in effect afterward.
func TestTreeWalk_PostOrderSurvivesReset(t *testing.T) {
	cache := buildCache(t, "d/x", "f")
	it := NewDirCacheIterator(cache)

	walk := NewTreeWalk(nil, []treeIterator{it}, true, false, nil)
	walk.SetPostOrder(true)
	walk.Reset([]treeIterator{it})

	var revisits int
	for {
		e, err := walk.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if e == nil {
			break
		}
		if e.PostChildren {
			revisits++
			if e.Path != "d" {
				t.Errorf("post-children revisit of %q, want %q", e.Path, "d")
			}
		}
	}
	if revisits != 1 {
		t.Errorf("revisits = %d, want 1", revisits)
	}
}

func TestCompositeFilters(t *testing.T) {
	include := FilterFunc(func(string, bool) FilterAction { return FilterInclude })
	exclude := FilterFunc(func(string, bool) FilterAction { return FilterExclude })
	shallow := FilterFunc(func(string, bool) FilterAction { return FilterShallow })

	tests := []struct {
		name   string
		filter Filter
		want   FilterAction
	}{
		{"and all include", AndFilter{[]Filter{include, include}}, FilterInclude},
		{"and short-circuits on exclude", AndFilter{[]Filter{exclude, include}}, FilterExclude},
		{"and weakens to shallow", AndFilter{[]Filter{include, shallow}}, FilterShallow},
		{"or short-circuits on include", OrFilter{[]Filter{include, exclude}}, FilterInclude},
		{"or all exclude", OrFilter{[]Filter{exclude, exclude}}, FilterExclude},
		{"or keeps best shallow", OrFilter{[]Filter{exclude, shallow}}, FilterShallow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Decide("p", false); got != tt.want {
				t.Errorf("Decide = %v, want %v", got, tt.want)
			}
		})
	}
}
