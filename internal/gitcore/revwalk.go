package gitcore

import "container/heap"

// Flag is a scratch bitset attached to a Commit by a graph walk (merge-base,
// ahead/behind, etc). Bits only carry meaning within the walk that set them;
// nothing persists them past a single computation.
type Flag uint32

const (
	// FlagInQueue marks a commit that has already been pushed onto a
	// MergeBaseGenerator's priority queue, so a later propagate pass
	// doesn't push it a second time.
	FlagInQueue Flag = 1 << 28
	// FlagMergeBase marks a merge-base reported by a MergeBaseGenerator and,
	// by propagation, every ancestor of one; a commit carrying it is never
	// reported.
	FlagMergeBase Flag = 1 << 30
	// FlagPopped marks a commit that has already been popped off the
	// priority queue once, so a late-arriving carry knows it must be
	// re-injected rather than left to surface naturally.
	FlagPopped Flag = 1 << 29
)

// maxBranchFlags bounds how many starting commits a single merge-base (or
// similar) computation can track at once: each gets its own bit below the
// reserved high bits.
const maxBranchFlags = 28

// FlagPool hands out distinct single-bit Flags, one per input branch tip,
// for algorithms that need to track which subset of starting commits can
// reach a given commit in the graph.
type FlagPool struct {
	next int
}

// Alloc reserves and returns the next unused branch flag.
func (p *FlagPool) Alloc() (Flag, error) {
	if p.next >= maxBranchFlags {
		return 0, newErr(KindStaleState, "flag pool exhausted")
	}
	f := Flag(1) << uint(p.next)
	p.next++
	return f, nil
}

// Release returns the n most recently allocated flags to the pool. Callers
// must release in the reverse order they were allocated (the pool has no
// notion of which specific bits are in use, only how many are outstanding);
// a walk that allocates a block of flags and is done with all of them before
// allocating more satisfies this trivially.
func (p *FlagPool) Release(n int) {
	p.next -= n
	if p.next < 0 {
		p.next = 0
	}
}

// RevWalk holds the state shared across a commit-graph walk: the store
// commits are parsed from, and the flag bits allocated so far.
type RevWalk struct {
	store *Store
	flags FlagPool
}

// NewRevWalk returns a walk backed by store.
func NewRevWalk(store *Store) *RevWalk {
	return &RevWalk{store: store}
}

func (w *RevWalk) parseCommit(id Hash) (*Commit, error) {
	return w.store.ParseCommit(id)
}

// MergeBase parses each of ids as a commit and returns a generator that
// lazily yields their minimal common ancestors. See NewMergeBaseGenerator
// for the algorithm and its correctness invariants.
func (w *RevWalk) MergeBase(ids ...Hash) (*MergeBaseGenerator, error) {
	commits := make([]*Commit, len(ids))
	for i, id := range ids {
		c, err := w.parseCommit(id)
		if err != nil {
			return nil, err
		}
		commits[i] = c
	}
	return NewMergeBaseGenerator(w, commits)
}

// pqEntry wraps a Commit for the date-ordered priority queue: time is
// snapshotted at push time (a commit's committer date never changes once
// parsed) and seq breaks ties in insertion order.
type pqEntry struct {
	commit *Commit
	time   int64
	seq    int64
}

// commitPQ is a max-heap ordered by committer time, newest first, with ties
// broken by the order entries were pushed.
type commitPQ []*pqEntry

func (pq commitPQ) Len() int { return len(pq) }
func (pq commitPQ) Less(i, j int) bool {
	if pq[i].time != pq[j].time {
		return pq[i].time > pq[j].time
	}
	return pq[i].seq < pq[j].seq
}
func (pq commitPQ) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i] }
func (pq *commitPQ) Push(x any)   { *pq = append(*pq, x.(*pqEntry)) }
func (pq *commitPQ) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return item
}

// MergeBaseGenerator yields the minimal set of common ancestors of the
// commits it was constructed with, using a flag-carry algorithm: each
// starting commit is assigned a distinct branch bit, those bits
// are propagated down every ancestor via a depth-first sweep on each pop,
// and a commit that ends up carrying every branch bit is a merge-base
// candidate, filtered for minimality as ancestors of an already-reported
// base are marked so they are never themselves reported.
type MergeBaseGenerator struct {
	walk       *RevWalk
	queue      commitPQ
	requeued   []*Commit
	branchMask Flag
	nextSeq    int64

	// single holds the sole starting commit when fewer than two were
	// supplied; no graph walk is needed in that case.
	single    *Commit
	singleSet bool
}

// NewMergeBaseGenerator builds a generator over starts. If starts has fewer
// than two elements, Next simply yields that one commit (or nothing). Passing
// the same starting commit twice is a caller error (StaleState): a walk's
// bookkeeping assumes every starting commit is distinct.
func NewMergeBaseGenerator(walk *RevWalk, starts []*Commit) (*MergeBaseGenerator, error) {
	if len(starts) == 0 {
		return &MergeBaseGenerator{}, nil
	}

	seen := make(map[Hash]bool, len(starts))
	for _, c := range starts {
		if seen[c.Hash] {
			return nil, newErr(KindStaleState, "duplicate starting commit passed to merge-base generator: "+string(c.Hash))
		}
		seen[c.Hash] = true
	}

	if len(starts) == 1 {
		return &MergeBaseGenerator{single: starts[0], singleSet: true}, nil
	}

	g := &MergeBaseGenerator{walk: walk}

	flags := make([]Flag, len(starts))
	for i := range starts {
		f, err := walk.flags.Alloc()
		if err != nil {
			return nil, err
		}
		flags[i] = f
	}
	// Flags keep their meaning for the lifetime of this generator; the pool
	// bookkeeping is released immediately so a later, unrelated walk can
	// reuse the same bit positions once this one is done with them.
	walk.flags.Release(len(starts))

	for i, c := range starts {
		c.Flags |= flags[i] | FlagInQueue
		g.branchMask |= flags[i]
	}

	for _, c := range starts {
		g.push(c)
	}

	return g, nil
}

func (g *MergeBaseGenerator) push(c *Commit) {
	g.nextSeq++
	heap.Push(&g.queue, &pqEntry{commit: c, time: c.Committer.When.Unix(), seq: g.nextSeq})
}

// Next returns the next merge-base, or (nil, nil) once every candidate has
// been reported.
func (g *MergeBaseGenerator) Next() (*Commit, error) {
	if g.singleSet {
		c := g.single
		g.single = nil
		g.singleSet = false
		return c, nil
	}

	for {
		var c *Commit
		if n := len(g.requeued); n > 0 {
			c = g.requeued[n-1]
			g.requeued = g.requeued[:n-1]
		} else if g.queue.Len() > 0 {
			c = heap.Pop(&g.queue).(*pqEntry).commit
		} else {
			return nil, nil
		}

		carry := c.Flags & (g.branchMask | FlagMergeBase)
		if err := g.propagate(c, carry); err != nil {
			return nil, err
		}

		candidate := c.Flags&g.branchMask == g.branchMask && c.Flags&FlagMergeBase == 0
		if candidate {
			c.Flags |= FlagMergeBase
			if err := g.propagate(c, g.branchMask|FlagMergeBase); err != nil {
				return nil, err
			}
		}
		c.Flags |= FlagPopped

		if candidate {
			return c, nil
		}

		if g.allRemainingAreBases() {
			return nil, nil
		}
	}
}

// propagate OR-s bits into every ancestor of c reachable without crossing a
// node that already carries all of bits (that node's own ancestors were
// already carried to when it first received them, so descending further
// would redo work). Newly discovered commits are enqueued for the main
// pop loop; commits already popped that reach full branch coverage as a
// result of this propagation are re-injected so they get reported exactly
// once.
func (g *MergeBaseGenerator) propagate(c *Commit, bits Flag) error {
	for _, pid := range c.Parents {
		parent, err := g.walk.parseCommit(pid)
		if err != nil {
			return err
		}
		if parent.Flags&bits == bits {
			continue
		}
		parent.Flags |= bits

		switch {
		case parent.Flags&(FlagInQueue|FlagPopped) == 0:
			parent.Flags |= FlagInQueue
			g.push(parent)
		case parent.Flags&FlagPopped != 0 &&
			parent.Flags&g.branchMask == g.branchMask &&
			parent.Flags&FlagMergeBase == 0:
			g.requeued = append(g.requeued, parent)
		}

		if err := g.propagate(parent, bits); err != nil {
			return err
		}
	}
	return nil
}

// allRemainingAreBases reports whether every commit still outstanding (on
// the heap or the requeue stack) already carries FlagMergeBase, meaning no
// further pop can produce a new, non-redundant merge base.
func (g *MergeBaseGenerator) allRemainingAreBases() bool {
	for _, e := range g.queue {
		if e.commit.Flags&FlagMergeBase == 0 {
			return false
		}
	}
	for _, c := range g.requeued {
		if c.Flags&FlagMergeBase == 0 {
			return false
		}
	}
	return true
}
