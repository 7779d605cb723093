package gitcore

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
)

// newTestStore builds an in-memory object store with the minimal on-disk
// shape OpenStore requires, so merge-base tests can insert real commit
// objects and round-trip them through Store.ParseCommit exactly like a
// caller would.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	fs := afero.NewMemMapFs()
	gitDir := "/repo/.git"
	for _, dir := range []string{"objects", "refs"} {
		if err := fs.MkdirAll(gitDir+"/"+dir, 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
	}
	if err := afero.WriteFile(fs, gitDir+"/HEAD", []byte("ref: refs/heads/main\n"), 0o644); err != nil {
		t.Fatalf("WriteFile HEAD: %v", err)
	}
	store, err := openStoreAt(fs, gitDir)
	if err != nil {
		t.Fatalf("openStoreAt: %v", err)
	}
	return store
}

const testTreeID = Hash("4b825dc642cb6eb9a060e54bf8d69288fbee4904")

// commitBuilder creates commit objects with deterministic, strictly
// increasing committer timestamps so merge-base tests can assert on pop
// order without relying on wall-clock time.
type commitBuilder struct {
	store *Store
	t     *testing.T
	next  int64
}

func newCommitBuilder(t *testing.T, store *Store) *commitBuilder {
	return &commitBuilder{store: store, t: t, next: 1700000000}
}

func (b *commitBuilder) commit(msg string, parents ...Hash) Hash {
	b.t.Helper()
	when := time.Unix(b.next, 0).UTC()
	b.next++

	body := fmt.Sprintf("tree %s\n", testTreeID)
	for _, p := range parents {
		body += fmt.Sprintf("parent %s\n", p)
	}
	body += fmt.Sprintf("author Test User <test@example.com> %d +0000\n", when.Unix())
	body += fmt.Sprintf("committer Test User <test@example.com> %d +0000\n", when.Unix())
	body += "\n" + msg + "\n"

	id, err := b.store.Insert(CommitObject, strings.NewReader(body))
	if err != nil {
		b.t.Fatalf("Insert commit %q: %v", msg, err)
	}
	return id
}

func collectMergeBases(t *testing.T, gen *MergeBaseGenerator) []Hash {
	t.Helper()
	var out []Hash
	for {
		c, err := gen.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if c == nil {
			break
		}
		out = append(out, c.Hash)
	}
	return out
}

func TestMergeBaseGenerator_DivergedBranches(t *testing.T) {
	// A <- B <- C and A <- D <- E, diverging at A.
	store := newTestStore(t)
	cb := newCommitBuilder(t, store)

	a := cb.commit("A")
	b := cb.commit("B", a)
	c := cb.commit("C", b)
	d := cb.commit("D", a)
	e := cb.commit("E", d)

	walk := NewRevWalk(store)
	gen, err := walk.MergeBase(c, e)
	if err != nil {
		t.Fatalf("MergeBase: %v", err)
	}

	bases := collectMergeBases(t, gen)
	if len(bases) != 1 || bases[0] != a {
		t.Fatalf("bases: got %v, want [%s]", bases, a)
	}
}

func TestMergeBaseGenerator_SingleStart(t *testing.T) {
	store := newTestStore(t)
	cb := newCommitBuilder(t, store)
	a := cb.commit("A")

	walk := NewRevWalk(store)
	gen, err := walk.MergeBase(a)
	if err != nil {
		t.Fatalf("MergeBase: %v", err)
	}

	bases := collectMergeBases(t, gen)
	if len(bases) != 1 || bases[0] != a {
		t.Fatalf("bases: got %v, want [%s]", bases, a)
	}
}

func TestMergeBaseGenerator_NoStarts(t *testing.T) {
	store := newTestStore(t)
	walk := NewRevWalk(store)
	gen, err := walk.MergeBase()
	if err != nil {
		t.Fatalf("MergeBase: %v", err)
	}
	bases := collectMergeBases(t, gen)
	if len(bases) != 0 {
		t.Fatalf("bases: got %v, want none", bases)
	}
}

func TestMergeBaseGenerator_OneIsAncestorOfOther(t *testing.T) {
	// Linear history A <- B <- C: merge-base of B and C is B itself.
	store := newTestStore(t)
	cb := newCommitBuilder(t, store)

	a := cb.commit("A")
	b := cb.commit("B", a)
	c := cb.commit("C", b)

	walk := NewRevWalk(store)
	gen, err := walk.MergeBase(b, c)
	if err != nil {
		t.Fatalf("MergeBase: %v", err)
	}

	bases := collectMergeBases(t, gen)
	if len(bases) != 1 || bases[0] != b {
		t.Fatalf("bases: got %v, want [%s]", bases, b)
	}
}

func TestMergeBaseGenerator_OctopusThreeWay(t *testing.T) {
	// Three branches sharing a single root: merge-base of all three is the root.
	store := newTestStore(t)
	cb := newCommitBuilder(t, store)

	root := cb.commit("root")
	x := cb.commit("x", root)
	y := cb.commit("y", root)
	z := cb.commit("z", root)

	walk := NewRevWalk(store)
	gen, err := walk.MergeBase(x, y, z)
	if err != nil {
		t.Fatalf("MergeBase: %v", err)
	}

	bases := collectMergeBases(t, gen)
	if len(bases) != 1 || bases[0] != root {
		t.Fatalf("bases: got %v, want [%s]", bases, root)
	}
}

func TestMergeBaseGenerator_DuplicateStartRejected(t *testing.T) {
	store := newTestStore(t)
	cb := newCommitBuilder(t, store)
	a := cb.commit("A")

	aCommit, err := store.ParseCommit(a)
	if err != nil {
		t.Fatalf("ParseCommit: %v", err)
	}

	_, err = NewMergeBaseGenerator(NewRevWalk(store), []*Commit{aCommit, aCommit})
	if KindOf(err) != KindStaleState {
		t.Fatalf("err: got %v, want StaleState", err)
	}
}

func TestMergeBaseGenerator_TipReachableThroughMerge(t *testing.T) {
	// Diamond history:
	//
	//     A
	//    / \
	//   B   C
	//    \ /
	//     M
	//
	// merge-base of {B, M} must be B (M's ancestor set fully contains B's):
	// M pops first and carries its bit down both parent edges to B, C and A;
	// B then holds the full branch mask, is reported, and marks A, so A is
	// not reported as a second base.
	store := newTestStore(t)
	cb := newCommitBuilder(t, store)

	a := cb.commit("A")
	b := cb.commit("B", a)
	c := cb.commit("C", a)
	m := cb.commit("M", b, c)

	walk := NewRevWalk(store)
	gen, err := walk.MergeBase(b, m)
	if err != nil {
		t.Fatalf("MergeBase: %v", err)
	}

	bases := collectMergeBases(t, gen)
	if len(bases) != 1 || bases[0] != b {
		t.Fatalf("bases: got %v, want [%s]", bases, b)
	}
}
