package gitcore

// EOFPolicy controls how a PackParser treats bytes following the pack trailer.
type EOFPolicy int

const (
	// EOFAllowTrailing lets trailing bytes after the footer sit unread in
	// the caller's stream without inspecting them.
	EOFAllowTrailing EOFPolicy = iota
	// EOFStrict requires the stream to end exactly after the 20-byte
	// trailer; a single extra byte fails the parse.
	EOFStrict
	// EOFExpectTrailingData requires the caller's stream to retain any
	// unread bytes after the footer instead of consuming them; the input
	// must implement io.Seeker so the parser can rewind its read-ahead
	// back to the end of the footer.
	EOFExpectTrailingData
)

// ParserConfig holds the tunables accepted by NewPackParser, mirroring the
// configuration keys in the external interface contract.
type ParserConfig struct {
	// AllowThin permits REF_DELTA objects whose base is absent from the
	// pack; the base is fetched from the store and a completion object is
	// appended to the pack before it is finalized.
	AllowThin bool

	// EOFPolicy selects how trailing bytes after the footer are handled.
	EOFPolicy EOFPolicy

	// MaxObjectSize bounds the declared size of a non-delta object and the
	// reconstructed size of a delta result. Zero means unbounded.
	MaxObjectSize int64

	// CheckObjects re-hashes every reconstructed object against its
	// computed id after writing it, even when the id was already derived
	// from the same bytes during reconstruction.
	CheckObjects bool

	// Progress, if non-nil, is called after each object is fully resolved
	// (either parsed directly from the stream or reconstructed from a
	// delta chain) with the number of objects processed so far and the
	// total declared by the pack header.
	Progress ProgressFunc
}

// ProgressFunc reports parser progress. done is always <= total.
type ProgressFunc func(done, total uint32)
