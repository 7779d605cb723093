package gitcore

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// On-disk dir-cache (".git/index") format constants.
const (
	// dirCacheMagic is the 4-byte signature that begins every index file.
	dirCacheMagic = "DIRC"

	// dirCacheHeaderSize is magic + version + entry count.
	dirCacheHeaderSize = 12

	// dirCacheFixedEntrySize covers the fixed fields of each entry, ctime
	// through flags inclusive: ten 4-byte stat words, a 20-byte object id,
	// and 2 bytes of flags. The variable-length path follows.
	dirCacheFixedEntrySize = 10*4 + 20 + 2

	// dirCacheEntryAlignment is the boundary each entry's total length
	// (fixed fields + path + NUL + padding) is padded to.
	dirCacheEntryAlignment = 8

	// dirCacheFlagStageMask and dirCacheFlagStageShift extract the merge
	// stage (0=normal, 1=base, 2=ours, 3=theirs) from flag bits 12-13.
	dirCacheFlagStageMask  = 0x3000
	dirCacheFlagStageShift = 12
)

// DirCacheEntry is a single flat index entry: the cached stat information
// and blob id the index records for one tracked path.
type DirCacheEntry struct {
	CtimeSec  uint32
	CtimeNsec uint32
	MtimeSec  uint32
	MtimeNsec uint32
	Device    uint32
	Inode     uint32
	// Mode encodes the file type and permissions, e.g. 0100644 (regular),
	// 0100755 (executable), 0120000 (symlink), 0160000 (gitlink/submodule).
	Mode     uint32
	UID      uint32
	GID      uint32
	FileSize uint32
	// Hash is the id of the blob the index records for this path.
	Hash  Hash
	Flags uint16
	// Stage is the merge conflict stage extracted from the flags field.
	Stage int
	// Path is relative to the repository root, always forward-slashed.
	Path string
}

// DirCache is the parsed staging area: a flat list of entries sorted by
// (path, stage), treated as immutable once constructed.
type DirCache struct {
	Version uint32
	Entries []DirCacheEntry
	// ByPath holds only stage-0 entries; during a merge conflict a path has
	// stage 1-3 entries instead and is absent here until resolution.
	ByPath map[string]*DirCacheEntry
}

// ReadDirCache parses gitDir's index file. Only format version 2 is
// supported; versions 3 and 4 add extensions that change the entry layout
// and are rejected outright.
//
// A missing index file is not an error: a freshly initialized repository
// has staged nothing, and that state is an empty DirCache.
func ReadDirCache(gitDir string) (*DirCache, error) {
	return readDirCacheFS(afero.NewOsFs(), gitDir)
}

func readDirCacheFS(fs afero.Fs, gitDir string) (*DirCache, error) {
	data, err := afero.ReadFile(fs, filepath.Join(gitDir, "index"))
	if err != nil {
		if os.IsNotExist(err) {
			return &DirCache{ByPath: make(map[string]*DirCacheEntry)}, nil
		}
		return nil, wrapErr(KindIO, "failed to read index file", err)
	}
	return parseDirCache(data)
}

// parseDirCache decodes the raw index bytes. All multi-byte integers are
// big-endian.
func parseDirCache(data []byte) (*DirCache, error) {
	if len(data) < dirCacheHeaderSize {
		return nil, newErr(KindUnexpectedInput, fmt.Sprintf("index file too short to contain a valid header (%d bytes)", len(data)))
	}
	if string(data[:4]) != dirCacheMagic {
		return nil, newErr(KindCorruptObject, fmt.Sprintf("invalid magic signature: expected %q, got %q", dirCacheMagic, data[:4]))
	}

	version := binary.BigEndian.Uint32(data[4:8])
	if version != 2 {
		return nil, newErr(KindUnexpectedInput, fmt.Sprintf("unsupported index version %d (only version 2 is supported)", version))
	}

	numEntries := binary.BigEndian.Uint32(data[8:12])
	cache := &DirCache{
		Version: version,
		Entries: make([]DirCacheEntry, 0, numEntries),
	}

	cur := dirCacheCursor{data: data, off: dirCacheHeaderSize}
	for i := uint32(0); i < numEntries; i++ {
		entry, err := cur.readEntry()
		if err != nil {
			return nil, wrapErr(KindCorruptObject, fmt.Sprintf("entry %d at offset %d", i, cur.off), err)
		}
		cache.Entries = append(cache.Entries, entry)
	}

	// Index ByPath only after the slice stops growing, so the pointers are
	// stable against reallocation.
	cache.ByPath = make(map[string]*DirCacheEntry, len(cache.Entries))
	for i := range cache.Entries {
		if cache.Entries[i].Stage == 0 {
			cache.ByPath[cache.Entries[i].Path] = &cache.Entries[i]
		}
	}

	return cache, nil
}

// dirCacheCursor steps through index entries, advancing off past each
// entry's alignment padding.
type dirCacheCursor struct {
	data []byte
	off  int
}

func (c *dirCacheCursor) readEntry() (DirCacheEntry, error) {
	if c.off+dirCacheFixedEntrySize > len(c.data) {
		return DirCacheEntry{}, fmt.Errorf("not enough data for fixed entry fields: need %d bytes, have %d",
			dirCacheFixedEntrySize, len(c.data)-c.off)
	}
	p := c.data[c.off:]

	var e DirCacheEntry
	e.CtimeSec = binary.BigEndian.Uint32(p[0:])
	e.CtimeNsec = binary.BigEndian.Uint32(p[4:])
	e.MtimeSec = binary.BigEndian.Uint32(p[8:])
	e.MtimeNsec = binary.BigEndian.Uint32(p[12:])
	e.Device = binary.BigEndian.Uint32(p[16:])
	e.Inode = binary.BigEndian.Uint32(p[20:])
	e.Mode = binary.BigEndian.Uint32(p[24:])
	e.UID = binary.BigEndian.Uint32(p[28:])
	e.GID = binary.BigEndian.Uint32(p[32:])
	e.FileSize = binary.BigEndian.Uint32(p[36:])

	id, err := NewHashFromBytes([20]byte(p[40:60]))
	if err != nil {
		return DirCacheEntry{}, err
	}
	e.Hash = id

	e.Flags = binary.BigEndian.Uint16(p[60:62])
	e.Stage = int(e.Flags&dirCacheFlagStageMask) >> dirCacheFlagStageShift

	// The path is NUL-terminated; the 12-bit length in the flags field
	// saturates at 0xFFF, so the terminator is authoritative.
	pathStart := c.off + dirCacheFixedEntrySize
	pathEnd := pathStart
	for pathEnd < len(c.data) && c.data[pathEnd] != 0 {
		pathEnd++
	}
	if pathEnd == len(c.data) {
		return DirCacheEntry{}, fmt.Errorf("null terminator not found for path starting at offset %d", pathStart)
	}
	e.Path = string(c.data[pathStart:pathEnd])

	// Entries are padded with NULs so the total length is a multiple of 8.
	rawLen := dirCacheFixedEntrySize + (pathEnd - pathStart) + 1
	paddedLen := (rawLen + dirCacheEntryAlignment - 1) &^ (dirCacheEntryAlignment - 1)
	if c.off+paddedLen > len(c.data) {
		return DirCacheEntry{}, fmt.Errorf("entry extends beyond end of data: offset %d + paddedLen %d > fileLen %d",
			c.off, paddedLen, len(c.data))
	}
	c.off += paddedLen

	return e, nil
}
