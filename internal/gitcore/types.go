package gitcore

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var signatureRe = regexp.MustCompile("[<>]")

// Hash is a 40-character hex-encoded SHA-1 Git object id. It is comparable,
// orderable (hex digit order tracks unsigned byte order), and its zero value
// is never a valid object id.
type Hash string

// ZeroHash is the all-zero id used as the "no object" sentinel.
const ZeroHash Hash = "0000000000000000000000000000000000000000"

// NewHash creates a Hash from a 40-character hex string, returning an error if invalid.
func NewHash(s string) (Hash, error) {
	if len(s) != 40 {
		return "", newErr(KindCorruptObject, fmt.Sprintf("invalid hash length: %d", len(s)))
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", wrapErr(KindCorruptObject, "invalid hash", err)
	}
	return Hash(s), nil
}

// NewHashFromBytes creates a Hash from a 20-byte array.
func NewHashFromBytes(b [20]byte) (Hash, error) {
	return NewHash(hex.EncodeToString(b[:]))
}

// Bytes returns the 20 raw bytes this Hash encodes.
func (h Hash) Bytes() [20]byte {
	var out [20]byte
	b, _ := hex.DecodeString(string(h)) //nolint:errcheck // h is only ever constructed valid
	copy(out[:], b)
	return out
}

// Short returns the first 7 characters of the hash, or the full hash if shorter.
func (h Hash) Short() string {
	if len(h) < 7 {
		return string(h)
	}
	return string(h)[:7]
}

// IsZero reports whether h is the all-zero sentinel id.
func (h Hash) IsZero() bool { return h == "" || h == ZeroHash }

// Object represents a generic Git object.
type Object interface {
	Type() ObjectType
	ID() Hash
}

// ObjectType uses the same numeric values as the Git pack format, including
// the parse-time-only delta variants.
type ObjectType int

const (
	// NoneObject represents no git object.
	NoneObject ObjectType = 0
	// CommitObject represents a git commit object.
	CommitObject ObjectType = 1
	// TreeObject represents a git tree object.
	TreeObject ObjectType = 2
	// BlobObject represents a git blob object.
	BlobObject ObjectType = 3
	// TagObject represents a git tag object.
	TagObject ObjectType = 4
	// offsetDeltaObject and refDeltaObject are pack wire types; they never
	// survive past parsing, since a resolved delta inherits its base's type.
	offsetDeltaObject ObjectType = 6
	refDeltaObject    ObjectType = 7
)

const (
	objectTypeCommit = "commit"
	objectTypeTree   = "tree"
	objectTypeBlob   = "blob"
	objectTypeTag    = "tag"
)

// String returns the Git object type name (e.g., "commit", "tree", "blob", "tag").
func (t ObjectType) String() string {
	switch t {
	case CommitObject:
		return objectTypeCommit
	case TreeObject:
		return objectTypeTree
	case BlobObject:
		return objectTypeBlob
	case TagObject:
		return objectTypeTag
	default:
		return "unknown"
	}
}

// StrToObjectType converts a string representation of an object type to an ObjectType.
func StrToObjectType(s string) ObjectType {
	switch s {
	case objectTypeCommit:
		return CommitObject
	case objectTypeTag:
		return TagObject
	case objectTypeTree:
		return TreeObject
	case objectTypeBlob:
		return BlobObject
	default:
		return NoneObject
	}
}

// Commit represents a parsed Git commit object. Flags is a scratch bitset
// used by RevWalk-based traversals (merge-base, etc); it carries no meaning
// outside the walk that set it.
type Commit struct {
	Hash      Hash
	Tree      Hash
	Parents   []Hash
	Author    Signature
	Committer Signature
	Message   string

	Flags Flag
}

// ID returns the commit's own hash.
func (c *Commit) ID() Hash { return c.Hash }

// Type returns the ObjectType for a Commit.
func (c *Commit) Type() ObjectType { return CommitObject }

// Tag represents a Git tag object.
type Tag struct {
	Hash    Hash
	Object  Hash
	ObjType ObjectType
	Name    string
	Tagger  Signature
	Message string
}

// ID returns the tag's own hash.
func (t *Tag) ID() Hash { return t.Hash }

// Type returns the ObjectType for a Tag.
func (t *Tag) Type() ObjectType { return TagObject }

// TreeEntry represents a single (mode, name, id) entry within a tree object.
type TreeEntry struct {
	ID   Hash
	Name string
	Mode string
	Type string
}

// IsTree reports whether this entry refers to a subtree.
func (e TreeEntry) IsTree() bool { return e.Mode == "40000" || e.Mode == "040000" }

// Tree represents a Git tree object: a sorted list of (name, mode, id) triples.
type Tree struct {
	Hash    Hash
	Entries []TreeEntry
}

// ID returns the tree's own hash.
func (t *Tree) ID() Hash { return t.Hash }

// Type returns the ObjectType for a Tree.
func (t *Tree) Type() ObjectType { return TreeObject }

// Blob represents a Git blob object: an opaque byte string with no internal structure.
type Blob struct {
	Hash    Hash
	Content []byte
}

// ID returns the blob's own hash.
func (b *Blob) ID() Hash { return b.Hash }

// Type returns the ObjectType for a Blob.
func (b *Blob) Type() ObjectType { return BlobObject }

// Signature represents the author or committer of a Git commit.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// NewSignature parses a Git signature line: "Name <email> unix-timestamp timezone".
func NewSignature(signLine string) (Signature, error) {
	parts := signatureRe.Split(signLine, -1)
	if len(parts) != 3 {
		return Signature{}, newErr(KindCorruptObject, fmt.Sprintf("invalid signature line: %q", signLine))
	}

	name := strings.TrimSpace(parts[0])
	email := strings.TrimSpace(parts[1])

	timePart := strings.TrimSpace(parts[2])
	timeFields := strings.Fields(timePart)
	if timePart == "" || len(timeFields) == 0 {
		return Signature{}, newErr(KindCorruptObject, fmt.Sprintf("invalid signature line: missing timestamp: %q", signLine))
	}

	var unixTime int64
	if _, err := fmt.Sscanf(timeFields[0], "%d", &unixTime); err != nil {
		return Signature{}, newErr(KindCorruptObject, fmt.Sprintf("invalid signature line: invalid timestamp: %q", signLine))
	}

	var loc *time.Location
	if len(timeFields) >= 2 {
		loc = parseTimezone(timeFields[1])
	}
	if loc == nil {
		loc = time.UTC
	}

	return Signature{
		Name:  name,
		Email: email,
		When:  time.Unix(unixTime, 0).In(loc),
	}, nil
}

// parseTimezone parses a Git timezone offset string (e.g., "+0530", "-0800")
// into a *time.Location. Returns nil if the string is not a valid offset.
func parseTimezone(tz string) *time.Location {
	if len(tz) != 5 {
		return nil
	}
	sign := 1
	if tz[0] == '-' {
		sign = -1
	} else if tz[0] != '+' {
		return nil
	}
	hours, err := strconv.Atoi(tz[1:3])
	if err != nil {
		return nil
	}
	mins, err := strconv.Atoi(tz[3:5])
	if err != nil {
		return nil
	}
	offset := sign * (hours*3600 + mins*60)
	return time.FixedZone(tz, offset)
}
