package gitcore

import (
	"bufio"
	"crypto/sha1" //nolint:gosec // Git object and pack ids are SHA-1 by format definition
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Pack index v2 magic number bytes: "\377tOc" (\377 = 0xFF in octal)
// See: https://git-scm.com/docs/pack-format#_version_2_pack_idx_files_support_packs_larger_than_4_gib_and
const (
	packIndexV2Magic0 byte = 0xFF
	packIndexV2Magic1 byte = 0x74 // 't'
	packIndexV2Magic2 byte = 0x4F // 'O'
	packIndexV2Magic3 byte = 0x63 // 'c'
)

// Pack object types as defined in the Git pack format specification.
// See: https://git-scm.com/docs/pack-format#_object_types
const (
	packObjectCommit      byte = 1
	packObjectTree        byte = 2
	packObjectBlob        byte = 3
	packObjectTag         byte = 4
	packObjectOffsetDelta byte = 6
	packObjectRefDelta    byte = 7
)

// Pack index v2 large offset constants. A 32-bit offset with the high bit
// set indicates the real offset lives in the 64-bit extension table.
// See: https://git-scm.com/docs/pack-format#_version_2_pack_idx_files_support_packs_larger_than_4_gib_and
const (
	packIndexLargeOffsetFlag uint32 = 0x80000000
	packIndexLargeOffsetMask uint32 = 0x7FFFFFFF
	packIndexOffsetThreshold int64  = 1 << 31
)

// PackIndex maps object hashes to their byte offsets within a pack file.
type PackIndex struct {
	path       string
	packPath   string
	version    uint32
	numObjects uint32
	fanout     [256]uint32
	offsets    map[Hash]int64
	crcs       map[Hash]uint32
}

// FindObject looks up the byte offset of an object by its hash.
func (p *PackIndex) FindObject(id Hash) (int64, bool) {
	offset, found := p.offsets[id]
	return offset, found
}

// CRC32 returns the stored CRC-32 of an object's packed bytes, if recorded.
func (p *PackIndex) CRC32(id Hash) (uint32, bool) {
	c, found := p.crcs[id]
	return c, found
}

// PackFile returns the path to the pack file associated with this index.
func (p *PackIndex) PackFile() string { return p.packPath }

// Version returns the pack index format version.
func (p *PackIndex) Version() uint32 { return p.version }

// NumObjects returns the number of objects stored in the pack file.
func (p *PackIndex) NumObjects() uint32 { return p.numObjects }

// Fanout returns the 256-entry fanout table used for binary search within the index.
func (p *PackIndex) Fanout() [256]uint32 { return p.fanout }

// Offsets returns a defensive copy of the offset map.
func (p *PackIndex) Offsets() map[Hash]int64 {
	cp := make(map[Hash]int64, len(p.offsets))
	for k, v := range p.offsets {
		cp[k] = v
	}
	return cp
}

// scanPackIndices scans dir for .idx files and loads each one, skipping (and
// logging) any file that fails to parse rather than aborting the whole scan.
func scanPackIndices(dir string, logf func(format string, args ...any)) ([]*PackIndex, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, wrapErr(KindIO, "failed to stat pack directory", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, wrapErr(KindIO, "failed to read pack directory", err)
	}

	var indices []*PackIndex
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".idx") {
			continue
		}
		idxPath := filepath.Join(dir, entry.Name())
		idx, err := ReadPackIndex(idxPath)
		if err != nil {
			if logf != nil {
				logf("failed to load pack index %s: %v", entry.Name(), err)
			}
			continue
		}
		indices = append(indices, idx)
	}
	return indices, nil
}

// ReadPackIndex loads a single .idx file, auto-detecting v1 vs v2 format.
func ReadPackIndex(idxPath string) (*PackIndex, error) {
	//nolint:gosec // G304: Pack index paths are controlled by git repository structure
	file, err := os.Open(idxPath)
	if err != nil {
		return nil, wrapErr(KindIO, "failed to open pack index", err)
	}
	defer file.Close() //nolint:errcheck // read-only descriptor

	var header [4]byte
	if _, err := io.ReadFull(file, header[:]); err != nil {
		return nil, wrapErr(KindUnexpectedInput, "failed to read index header", err)
	}

	packPath := strings.TrimSuffix(idxPath, ".idx") + ".pack"

	var idx *PackIndex
	if header[0] == packIndexV2Magic0 && header[1] == packIndexV2Magic1 && header[2] == packIndexV2Magic2 && header[3] == packIndexV2Magic3 {
		idx, err = readPackIndexV2(file, packPath)
	} else {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return nil, wrapErr(KindIO, "failed to seek to beginning", err)
		}
		idx, err = readPackIndexV1(file, packPath)
	}
	if err != nil {
		return nil, err
	}
	idx.path = idxPath
	return idx, nil
}

func readPackIndexV1(r io.ReadSeeker, packPath string) (*PackIndex, error) {
	idx := &PackIndex{
		packPath: packPath,
		version:  1,
		offsets:  make(map[Hash]int64),
	}

	for i := 0; i < 256; i++ {
		if err := binary.Read(r, binary.BigEndian, &idx.fanout[i]); err != nil {
			return nil, wrapErr(KindUnexpectedInput, "failed to read fanout table", err)
		}
	}
	idx.numObjects = idx.fanout[255]

	for i := uint32(0); i < idx.numObjects; i++ {
		var offset uint32
		if err := binary.Read(r, binary.BigEndian, &offset); err != nil {
			return nil, wrapErr(KindUnexpectedInput, "failed to read object offset", err)
		}
		var name [20]byte
		if _, err := io.ReadFull(r, name[:]); err != nil {
			return nil, wrapErr(KindUnexpectedInput, "failed to read object name", err)
		}
		id, err := NewHashFromBytes(name)
		if err != nil {
			return nil, err
		}
		idx.offsets[id] = int64(offset)
	}

	return idx, nil
}

// readPackIndexV2 reads a v2 index. rs must be positioned after the 4-byte magic.
func readPackIndexV2(rs io.ReadSeeker, packPath string) (*PackIndex, error) {
	idx := &PackIndex{
		packPath: packPath,
		version:  2,
		offsets:  make(map[Hash]int64),
		crcs:     make(map[Hash]uint32),
	}

	var version uint32
	if err := binary.Read(rs, binary.BigEndian, &version); err != nil {
		return nil, wrapErr(KindUnexpectedInput, "failed to read index version", err)
	}
	if version != 2 {
		return nil, newErr(KindUnexpectedInput, "unsupported pack index version")
	}

	for i := 0; i < 256; i++ {
		if err := binary.Read(rs, binary.BigEndian, &idx.fanout[i]); err != nil {
			return nil, wrapErr(KindUnexpectedInput, "failed to read fanout table", err)
		}
	}
	idx.numObjects = idx.fanout[255]

	objectNames := make([][20]byte, idx.numObjects)
	for i := uint32(0); i < idx.numObjects; i++ {
		if _, err := io.ReadFull(rs, objectNames[i][:]); err != nil {
			return nil, wrapErr(KindUnexpectedInput, "failed to read object name", err)
		}
	}

	crcs := make([]uint32, idx.numObjects)
	for i := uint32(0); i < idx.numObjects; i++ {
		if err := binary.Read(rs, binary.BigEndian, &crcs[i]); err != nil {
			return nil, wrapErr(KindUnexpectedInput, "failed to read CRC table", err)
		}
	}

	offsets := make([]uint32, idx.numObjects)
	for i := uint32(0); i < idx.numObjects; i++ {
		if err := binary.Read(rs, binary.BigEndian, &offsets[i]); err != nil {
			return nil, wrapErr(KindUnexpectedInput, "failed to read offset table", err)
		}
	}

	var largeOffsets []uint64
	for _, offset := range offsets {
		if offset&packIndexLargeOffsetFlag != 0 {
			if len(largeOffsets) == 0 {
				for {
					var largeOffset uint64
					err := binary.Read(rs, binary.BigEndian, &largeOffset)
					if err == io.EOF {
						break
					}
					if err != nil {
						return nil, wrapErr(KindUnexpectedInput, "failed to read large offset table", err)
					}
					largeOffsets = append(largeOffsets, largeOffset)
				}
			}
			break
		}
	}

	for i := uint32(0); i < idx.numObjects; i++ {
		hash, err := NewHashFromBytes(objectNames[i])
		if err != nil {
			return nil, err
		}

		offset := offsets[i]
		if offset&packIndexLargeOffsetFlag != 0 {
			largeOffsetIdx := offset & packIndexLargeOffsetMask
			if largeOffsetIdx >= uint32(len(largeOffsets)) { //nolint:gosec // bounded by pack index format
				continue
			}
			idx.offsets[hash] = int64(largeOffsets[largeOffsetIdx])
		} else {
			idx.offsets[hash] = int64(offset)
		}
		idx.crcs[hash] = crcs[i]
	}

	return idx, nil
}

// packedObjectRecord is one fully resolved object awaiting indexing.
type packedObjectRecord struct {
	id     Hash
	offset int64
	crc    uint32
}

// writePackIndex emits a v2 pack index for the given records (need not be
// pre-sorted) to w, alongside the 20-byte pack trailer hash packSHA. Returns
// the SHA-1 of the written index file.
//
// A pack may legitimately carry the same object more than once, but the
// index's id table must be strictly increasing, so records are collapsed to
// one entry per id (first-seen offset and CRC win) before writing.
func writePackIndex(w io.Writer, records []packedObjectRecord, packSHA [20]byte) ([20]byte, error) {
	sorted := make([]packedObjectRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].id < sorted[j].id })

	unique := sorted[:0]
	for _, rec := range sorted {
		if len(unique) > 0 && unique[len(unique)-1].id == rec.id {
			continue
		}
		unique = append(unique, rec)
	}
	sorted = unique

	bw := bufio.NewWriter(w)
	h := sha1.New() //nolint:gosec // index trailer hash is SHA-1 by format definition
	tee := io.MultiWriter(bw, h)

	if _, err := tee.Write([]byte{packIndexV2Magic0, packIndexV2Magic1, packIndexV2Magic2, packIndexV2Magic3}); err != nil {
		return [20]byte{}, wrapErr(KindIO, "failed to write index magic", err)
	}
	if err := binary.Write(tee, binary.BigEndian, uint32(2)); err != nil {
		return [20]byte{}, wrapErr(KindIO, "failed to write index version", err)
	}

	var fanout [256]uint32
	for _, rec := range sorted {
		firstByte := rec.id.Bytes()[0]
		for i := int(firstByte); i < 256; i++ {
			fanout[i]++
		}
	}
	for i := 0; i < 256; i++ {
		if err := binary.Write(tee, binary.BigEndian, fanout[i]); err != nil {
			return [20]byte{}, wrapErr(KindIO, "failed to write fanout table", err)
		}
	}

	for _, rec := range sorted {
		b := rec.id.Bytes()
		if _, err := tee.Write(b[:]); err != nil {
			return [20]byte{}, wrapErr(KindIO, "failed to write object name", err)
		}
	}

	for _, rec := range sorted {
		if err := binary.Write(tee, binary.BigEndian, rec.crc); err != nil {
			return [20]byte{}, wrapErr(KindIO, "failed to write CRC table", err)
		}
	}

	var largeOffsets []uint64
	for _, rec := range sorted {
		var encoded uint32
		if rec.offset >= packIndexOffsetThreshold {
			encoded = packIndexLargeOffsetFlag | uint32(len(largeOffsets)) //nolint:gosec // bounded by pack size
			largeOffsets = append(largeOffsets, uint64(rec.offset))
		} else {
			encoded = uint32(rec.offset) //nolint:gosec // checked against threshold above
		}
		if err := binary.Write(tee, binary.BigEndian, encoded); err != nil {
			return [20]byte{}, wrapErr(KindIO, "failed to write offset table", err)
		}
	}

	for _, lo := range largeOffsets {
		if err := binary.Write(tee, binary.BigEndian, lo); err != nil {
			return [20]byte{}, wrapErr(KindIO, "failed to write large offset table", err)
		}
	}

	if _, err := tee.Write(packSHA[:]); err != nil {
		return [20]byte{}, wrapErr(KindIO, "failed to write pack trailer hash", err)
	}

	var idxSHA [20]byte
	copy(idxSHA[:], h.Sum(nil))
	if _, err := bw.Write(idxSHA[:]); err != nil {
		return [20]byte{}, wrapErr(KindIO, "failed to write index trailer hash", err)
	}

	if err := bw.Flush(); err != nil {
		return [20]byte{}, wrapErr(KindIO, "failed to flush index writer", err)
	}

	return idxSHA, nil
}
