package gitcore

import (
	"bufio"
	"bytes"
	"crypto/sha1" //nolint:gosec // Git object and pack ids are SHA-1 by format definition
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const (
	packSignature   = "PACK"
	packTrailerSize = 20
)

// PackParser consumes a pack byte stream and produces a completed pack file
// and its index, reconstructing delta chains and verifying the stream's
// trailing SHA-1 along the way.
type PackParser struct {
	src   io.Reader
	cfg   ParserConfig
	store *Store
}

func newPackParser(r io.Reader, cfg ParserConfig, store *Store) *PackParser {
	return &PackParser{src: r, cfg: cfg, store: store}
}

// PackParseResult describes a successfully parsed and written pack.
type PackParseResult struct {
	PackPath  string
	IndexPath string
	ObjectIDs []Hash
	PackSHA   Hash
}

// resolvedEntry is a fully reconstructed object discovered while parsing,
// keyed by both its pack offset (for OFS_DELTA bases) and its id (for
// REF_DELTA bases and thin-pack completion).
type resolvedEntry struct {
	id      Hash
	typ     ObjectType
	content []byte
}

type deltaKind int

const (
	deltaKindOffset deltaKind = iota
	deltaKindRef
)

type pendingDelta struct {
	offset     int64
	kind       deltaKind
	baseOffset int64
	baseID     Hash
	data       []byte
	crc        uint32
}

// Parse runs the full parse-and-index algorithm, writing the resulting pack
// and index atomically under destDir using baseName as the file stem
// (conventionally the pack's own SHA-1, known only once parsing completes;
// callers may pass a placeholder and rename, or baseName may already be the
// final hash if pre-computed by the caller's protocol).
func (pp *PackParser) Parse(destDir, baseName string) (*PackParseResult, error) {
	// Leaving data after the footer unread requires rewinding the buffered
	// read-ahead back into the caller's stream; refuse up front, before any
	// object is consumed, when the stream cannot do that.
	if pp.cfg.EOFPolicy == EOFExpectTrailingData {
		if _, ok := pp.src.(io.Seeker); !ok {
			return nil, newErr(KindUnexpectedInput, "input stream does not support rewinding; cannot preserve data after pack footer")
		}
	}

	var rawBuf bytes.Buffer
	teed := io.TeeReader(pp.src, &rawBuf)
	pr := newPackStreamReader(teed)

	if err := pp.readHeader(pr); err != nil {
		return nil, err
	}

	n, err := pp.readCount(pr)
	if err != nil {
		return nil, err
	}

	resolvedByOffset := make(map[int64]*resolvedEntry, n)
	resolvedByID := make(map[Hash]*resolvedEntry, n)
	var pending []*pendingDelta
	var records []packedObjectRecord
	var done uint32

	for i := uint32(0); i < n; i++ {
		offset := pr.pos
		pr.resetCRC()

		objType, declaredSize, err := readPackObjectHeader(pr)
		if err != nil {
			return nil, err
		}

		switch objType {
		case packObjectCommit, packObjectTree, packObjectBlob, packObjectTag:
			if pp.cfg.MaxObjectSize > 0 && declaredSize > pp.cfg.MaxObjectSize {
				return nil, newErr(KindTooLargeObject, fmt.Sprintf("object declares size %d, exceeding limit %d", declaredSize, pp.cfg.MaxObjectSize))
			}
			content, err := readCompressedObject(pr, declaredSize)
			if err != nil {
				return nil, err
			}
			typ := packByteToObjectType(objType)
			id := hashObject(typ, content)
			entry := &resolvedEntry{id: id, typ: typ, content: content}
			resolvedByOffset[offset] = entry
			resolvedByID[id] = entry
			records = append(records, packedObjectRecord{id: id, offset: offset, crc: pr.crcSum()})
			done++
			pp.reportProgress(done, n)

		case packObjectOffsetDelta:
			backOffset, err := readBackOffset(pr)
			if err != nil {
				return nil, err
			}
			deltaData, err := readCompressedObject(pr, declaredSize)
			if err != nil {
				return nil, err
			}
			pending = append(pending, &pendingDelta{
				offset:     offset,
				kind:       deltaKindOffset,
				baseOffset: offset - backOffset,
				data:       deltaData,
				crc:        pr.crcSum(),
			})

		case packObjectRefDelta:
			var baseRaw [20]byte
			if _, err := io.ReadFull(pr, baseRaw[:]); err != nil {
				return nil, wrapErr(KindUnexpectedInput, "failed to read ref-delta base id", err)
			}
			baseID, err := NewHashFromBytes(baseRaw)
			if err != nil {
				return nil, err
			}
			deltaData, err := readCompressedObject(pr, declaredSize)
			if err != nil {
				return nil, err
			}
			pending = append(pending, &pendingDelta{
				offset: offset,
				kind:   deltaKindRef,
				baseID: baseID,
				data:   deltaData,
				crc:    pr.crcSum(),
			})

		default:
			return nil, newErr(KindCorruptObject, "unsupported pack object type")
		}
	}

	completions, err := pp.resolveDeltas(pending, resolvedByOffset, resolvedByID, &records, &done, n)
	if err != nil {
		return nil, err
	}

	originalSection := append([]byte(nil), rawBuf.Bytes()[:pr.pos]...)

	computedStreamSHA := pr.streamSum()

	if err := pp.consumeTrailer(pr, computedStreamSHA); err != nil {
		return nil, err
	}

	if err := pp.enforceEOFPolicy(pr); err != nil {
		return nil, err
	}

	finalBytes, completionRecords, err := appendCompletionObjects(originalSection, int(n), completions)
	if err != nil {
		return nil, err
	}
	records = append(records, completionRecords...)

	packSHA := sha1.Sum(finalBytes) //nolint:gosec // pack trailer hash is SHA-1 by format definition
	finalBytes = append(finalBytes, packSHA[:]...)

	if pp.cfg.CheckObjects {
		if err := verifyObjects(finalBytes, records); err != nil {
			return nil, err
		}
	}

	return pp.writeResult(destDir, baseName, finalBytes, records, packSHA)
}

func (pp *PackParser) readHeader(pr *packStreamReader) error {
	var sig [4]byte
	if _, err := io.ReadFull(pr, sig[:]); err != nil {
		return wrapErr(KindUnexpectedInput, "failed to read pack signature", err)
	}
	if string(sig[:]) != packSignature {
		return newErr(KindCorruptObject, fmt.Sprintf("bad pack signature: %q", sig))
	}

	var version uint32
	if err := binary.Read(pr, binary.BigEndian, &version); err != nil {
		return wrapErr(KindUnexpectedInput, "failed to read pack version", err)
	}
	if version != 2 && version != 3 {
		return newErr(KindUnexpectedInput, fmt.Sprintf("unsupported pack version: %d", version))
	}
	return nil
}

func (pp *PackParser) readCount(pr *packStreamReader) (uint32, error) {
	var n uint32
	if err := binary.Read(pr, binary.BigEndian, &n); err != nil {
		return 0, wrapErr(KindUnexpectedInput, "failed to read object count", err)
	}
	return n, nil
}

func (pp *PackParser) reportProgress(done, total uint32) {
	if pp.cfg.Progress != nil {
		pp.cfg.Progress(done, total)
	}
}

// resolveDeltas runs the fixed-point sweep described in the parser contract:
// repeatedly scan the pending delta list, resolving any whose base has
// become available, until a full pass makes no progress. In thin-pack mode,
// a base absent from the pack is fetched from the store and recorded as a
// completion object to append to the final pack.
func (pp *PackParser) resolveDeltas(pending []*pendingDelta, byOffset map[int64]*resolvedEntry, byID map[Hash]*resolvedEntry, records *[]packedObjectRecord, done *uint32, total uint32) ([]*resolvedEntry, error) {
	var completions []*resolvedEntry
	seenCompletions := make(map[Hash]bool)

	for len(pending) > 0 {
		var remaining []*pendingDelta
		progress := false

		for _, pd := range pending {
			base, ok := pp.lookupBase(pd, byOffset, byID)
			if !ok && pd.kind == deltaKindRef && pp.cfg.AllowThin {
				fetched, ferr := pp.fetchThinBase(pd.baseID)
				if ferr == nil {
					base = fetched
					byID[pd.baseID] = fetched
					ok = true
					if !seenCompletions[fetched.id] {
						seenCompletions[fetched.id] = true
						completions = append(completions, fetched)
					}
				}
			}
			if !ok {
				remaining = append(remaining, pd)
				continue
			}

			content, err := applyDelta(base.content, pd.data, pp.cfg.MaxObjectSize)
			if err != nil {
				return nil, err
			}
			id := hashObject(base.typ, content)
			entry := &resolvedEntry{id: id, typ: base.typ, content: content}
			byOffset[pd.offset] = entry
			byID[id] = entry
			*records = append(*records, packedObjectRecord{id: id, offset: pd.offset, crc: pd.crc})
			*done++
			pp.reportProgress(*done, total)
			progress = true
		}

		pending = remaining
		if !progress {
			break
		}
	}

	if len(pending) > 0 {
		if !pp.cfg.AllowThin {
			return nil, newErr(KindMissingObject, fmt.Sprintf("%d delta objects could not be resolved against bases in this pack", len(pending)))
		}
		return nil, newErr(KindMissingObject, fmt.Sprintf("%d delta objects reference bases absent from both the pack and the store", len(pending)))
	}

	return completions, nil
}

func (pp *PackParser) lookupBase(pd *pendingDelta, byOffset map[int64]*resolvedEntry, byID map[Hash]*resolvedEntry) (*resolvedEntry, bool) {
	if pd.kind == deltaKindOffset {
		e, ok := byOffset[pd.baseOffset]
		return e, ok
	}
	e, ok := byID[pd.baseID]
	return e, ok
}

func (pp *PackParser) fetchThinBase(id Hash) (*resolvedEntry, error) {
	if pp.store == nil {
		return nil, newErr(KindMissingObject, "no store available to fetch thin-pack base")
	}
	data, typByte, err := pp.store.resolveForPacks(id)
	if err != nil {
		return nil, err
	}
	return &resolvedEntry{id: id, typ: packByteToObjectType(typByte), content: data}, nil
}

func (pp *PackParser) consumeTrailer(pr *packStreamReader, computed [20]byte) error {
	var trailer [packTrailerSize]byte
	if _, err := pr.ReadRaw(trailer[:]); err != nil {
		return wrapErr(KindUnexpectedInput, "failed to read pack trailer", err)
	}
	if !bytes.Equal(trailer[:], computed[:]) {
		return newErr(KindCorruptObject, "pack trailer does not match computed stream hash")
	}
	return nil
}

func (pp *PackParser) enforceEOFPolicy(pr *packStreamReader) error {
	switch pp.cfg.EOFPolicy {
	case EOFStrict:
		b, err := pr.br.Peek(1)
		if err == nil && len(b) > 0 {
			return newErr(KindUnexpectedInput, fmt.Sprintf("unexpected trailing byte after pack footer: 0x%s", hex.EncodeToString(b)))
		}
	case EOFExpectTrailingData:
		if _, err := pr.br.Peek(1); err != nil {
			return newErr(KindUnexpectedInput, "expected trailing data after pack footer but stream ended")
		}
		// Hand the read-ahead back: the caller's stream position must land
		// exactly at the end of the trailer, on the first trailing byte.
		if n := pr.br.Buffered(); n > 0 {
			seeker := pp.src.(io.Seeker)
			if _, err := seeker.Seek(int64(-n), io.SeekCurrent); err != nil {
				return wrapErr(KindIO, "failed to rewind trailing data into caller's stream", err)
			}
		}
	case EOFAllowTrailing:
		// Trailing bytes, if any, are left for the caller; nothing to verify.
	}
	return nil
}

// appendCompletionObjects serializes any fetched thin-pack bases as fresh
// non-delta pack entries following the original N objects, and rewrites the
// object count in the 12-byte header to include them.
func appendCompletionObjects(original []byte, n int, completions []*resolvedEntry) ([]byte, []packedObjectRecord, error) {
	if len(completions) == 0 {
		return original, nil, nil
	}

	out := append([]byte(nil), original...)
	binary.BigEndian.PutUint32(out[8:12], uint32(n+len(completions))) //nolint:gosec // bounded by pack object count

	var records []packedObjectRecord
	for _, c := range completions {
		offset := int64(len(out))
		header := encodeObjectHeader(objectTypeToPackByte(c.typ), int64(len(c.content)))

		var compressed bytes.Buffer
		zw := zlibNewWriter(&compressed)
		if _, err := zw.Write(c.content); err != nil {
			return nil, nil, wrapErr(KindIO, "failed to compress completion object", err)
		}
		if err := zw.Close(); err != nil {
			return nil, nil, wrapErr(KindIO, "failed to flush completion object", err)
		}

		recordBytes := append(header, compressed.Bytes()...)
		out = append(out, recordBytes...)
		records = append(records, packedObjectRecord{id: c.id, offset: offset, crc: crc32.ChecksumIEEE(recordBytes)})
	}

	return out, records, nil
}

// encodeObjectHeader encodes the variable-length type+size header used by
// both real pack objects and fabricated completion objects.
func encodeObjectHeader(typ byte, size int64) []byte {
	first := (typ & 0x07) << 4
	rest := size >> 4
	b := byte(size&0x0F) | first
	var out []byte
	if rest > 0 {
		b |= 0x80
	}
	out = append(out, b)
	for rest > 0 {
		b = byte(rest & 0x7F)
		rest >>= 7
		if rest > 0 {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}

// verifyObjects re-decodes every record from the assembled pack bytes and
// confirms the reconstructed content still hashes to the recorded id,
// catching any serialization mistake made while assembling finalBytes.
func verifyObjects(finalBytes []byte, records []packedObjectRecord) error {
	var resolver ObjectResolver
	resolver = func(id Hash) ([]byte, byte, error) {
		for _, rec := range records {
			if rec.id == id {
				rs := bytes.NewReader(finalBytes)
				if _, err := rs.Seek(rec.offset, io.SeekStart); err != nil {
					return nil, 0, wrapErr(KindIO, "failed to seek during verification", err)
				}
				data, typ, err := readPackObjectAt(rs, resolver)
				return data, typ, err
			}
		}
		return nil, 0, newErr(KindMissingObject, "verification base not found in this pack")
	}

	for _, rec := range records {
		rs := bytes.NewReader(finalBytes)
		if _, err := rs.Seek(rec.offset, io.SeekStart); err != nil {
			return wrapErr(KindIO, "failed to seek during verification", err)
		}
		data, typByte, err := readPackObjectAt(rs, resolver)
		if err != nil {
			return err
		}
		id := hashObject(packByteToObjectType(typByte), data)
		if id != rec.id {
			return newErr(KindCorruptObject, fmt.Sprintf("object at offset %d re-hashed to %s, expected %s", rec.offset, id.Short(), rec.id.Short()))
		}
	}
	return nil
}

func (pp *PackParser) writeResult(destDir, baseName string, finalBytes []byte, records []packedObjectRecord, packSHA [20]byte) (*PackParseResult, error) {
	fs := afero.NewOsFs()
	if err := fs.MkdirAll(destDir, 0o755); err != nil {
		return nil, wrapErr(KindIO, "failed to create destination directory", err)
	}

	tmpSuffix := uuid.NewString()
	tmpPackPath := filepath.Join(destDir, "tmp_pack_"+tmpSuffix)
	tmpIdxPath := filepath.Join(destDir, "tmp_idx_"+tmpSuffix)

	packPath := filepath.Join(destDir, baseName+".pack")
	idxPath := filepath.Join(destDir, baseName+".idx")

	cleanup := func() {
		_ = fs.Remove(tmpPackPath) //nolint:errcheck // best-effort cleanup on failure path
		_ = fs.Remove(tmpIdxPath)  //nolint:errcheck // best-effort cleanup on failure path
	}

	if err := afero.WriteFile(fs, tmpPackPath, finalBytes, 0o644); err != nil {
		cleanup()
		return nil, wrapErr(KindIO, "failed to write temporary pack file", err)
	}

	var idxBuf bytes.Buffer
	if _, err := writePackIndex(&idxBuf, records, packSHA); err != nil {
		cleanup()
		return nil, err
	}
	if err := afero.WriteFile(fs, tmpIdxPath, idxBuf.Bytes(), 0o644); err != nil {
		cleanup()
		return nil, wrapErr(KindIO, "failed to write temporary index file", err)
	}

	if err := fs.Rename(tmpPackPath, packPath); err != nil {
		cleanup()
		return nil, wrapErr(KindIO, "failed to publish pack file", err)
	}
	if err := fs.Rename(tmpIdxPath, idxPath); err != nil {
		_ = fs.Remove(packPath) //nolint:errcheck // undo the half-published pair on failure
		return nil, wrapErr(KindIO, "failed to publish index file", err)
	}

	ids := make([]Hash, len(records))
	for i, r := range records {
		ids[i] = r.id
	}

	packSHAHash, err := NewHashFromBytes(packSHA)
	if err != nil {
		return nil, err
	}

	return &PackParseResult{
		PackPath:  packPath,
		IndexPath: idxPath,
		ObjectIDs: ids,
		PackSHA:   packSHAHash,
	}, nil
}

func hashObject(typ ObjectType, content []byte) Hash {
	h := sha1.New() //nolint:gosec // Git object ids are SHA-1 by format definition
	fmt.Fprintf(h, "%s %d\x00", typ, len(content))
	h.Write(content)
	var sum [20]byte
	copy(sum[:], h.Sum(nil))
	id, _ := NewHashFromBytes(sum) //nolint:errcheck // sha1.Sum output is always 20 valid bytes
	return id
}

// packStreamReader wraps the input stream once for the whole parse,
// tracking absolute position, a running SHA-1 over everything read so far
// (for the trailer check), and a per-object CRC-32 reset at each object
// boundary. It implements both io.Reader and io.ByteReader so that zlib's
// flate decoder uses it directly instead of wrapping it in another
// buffered reader, which would read past the end of each compressed
// object's natural boundary and desynchronize offset tracking.
type packStreamReader struct {
	br     *bufio.Reader
	pos    int64
	stream hash.Hash
	crc    hash.Hash32
}

func newPackStreamReader(r io.Reader) *packStreamReader {
	return &packStreamReader{
		br:     bufio.NewReaderSize(r, 4096),
		stream: sha1.New(), //nolint:gosec // pack trailer hash is SHA-1 by format definition
		crc:    crc32.NewIEEE(),
	}
}

func (p *packStreamReader) Read(b []byte) (int, error) {
	n, err := p.br.Read(b)
	if n > 0 {
		p.stream.Write(b[:n])
		p.crc.Write(b[:n])
		p.pos += int64(n)
	}
	return n, err
}

func (p *packStreamReader) ReadByte() (byte, error) {
	b, err := p.br.ReadByte()
	if err != nil {
		return 0, err
	}
	p.stream.Write([]byte{b})
	p.crc.Write([]byte{b})
	p.pos++
	return b, nil
}

// ReadRaw reads directly from the underlying buffered reader without
// feeding the stream hash or CRC; used only for the trailer itself, which
// must not be hashed into the value it is compared against.
func (p *packStreamReader) ReadRaw(buf []byte) (int, error) {
	n, err := io.ReadFull(p.br, buf)
	p.pos += int64(n)
	return n, err
}

func (p *packStreamReader) resetCRC() { p.crc = crc32.NewIEEE() }
func (p *packStreamReader) crcSum() uint32 { return p.crc.Sum32() }

func (p *packStreamReader) streamSum() [20]byte {
	var sum [20]byte
	copy(sum[:], p.stream.Sum(nil))
	return sum
}
