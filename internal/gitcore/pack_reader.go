package gitcore

import (
	"io"
)

// ObjectResolver retrieves raw object data and type byte by hash. Used to
// resolve REF_DELTA base objects that live outside the pack currently being read.
type ObjectResolver func(id Hash) (data []byte, objectType byte, err error)

// readPackObjectAt reads the object at the reader's current position,
// resolving OFS_DELTA and REF_DELTA chains as needed. rs must support
// seeking so offset deltas can jump to their base and return.
func readPackObjectAt(rs io.ReadSeeker, resolve ObjectResolver) (data []byte, objectType byte, err error) {
	objStart, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, 0, wrapErr(KindIO, "failed to determine object offset", err)
	}

	objType, size, err := readPackObjectHeader(rs)
	if err != nil {
		return nil, 0, err
	}

	switch objType {
	case packObjectCommit, packObjectTree, packObjectBlob, packObjectTag:
		data, err := readCompressedObject(rs, size)
		return data, objType, err
	case packObjectOffsetDelta:
		return readOffsetDelta(rs, size, objStart, resolve)
	case packObjectRefDelta:
		return readRefDelta(rs, size, resolve)
	default:
		return nil, 0, newErr(KindCorruptObject, "unsupported pack object type")
	}
}

// readPackObjectHeader reads the variable-length encoded type and size from a pack object.
func readPackObjectHeader(r io.Reader) (objectType byte, size int64, err error) {
	var b [1]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, 0, wrapErr(KindUnexpectedInput, "failed to read object header", err)
	}

	objectType = (b[0] >> 4) & 0x07
	size = int64(b[0] & 0x0F)
	shift := 4

	for b[0]&0x80 != 0 {
		if _, err := r.Read(b[:]); err != nil {
			return 0, 0, wrapErr(KindUnexpectedInput, "failed to read object header", err)
		}
		size |= int64(b[0]&0x7F) << shift
		shift += 7
	}

	return objectType, size, nil
}

func readCompressedObject(r io.Reader, expectedSize int64) ([]byte, error) {
	content, err := readCompressedData(r)
	if err != nil {
		return nil, err
	}
	if int64(len(content)) != expectedSize {
		return nil, newErr(KindCorruptObject, "inflated object size does not match declared size")
	}
	return content, nil
}

func readOffsetDelta(rs io.ReadSeeker, size, objStart int64, resolve ObjectResolver) ([]byte, byte, error) {
	br, ok := rs.(io.ByteReader)
	if !ok {
		br = &byteReaderFromReader{rs}
	}
	offset, err := readBackOffset(br)
	if err != nil {
		return nil, 0, err
	}

	deltaData, err := readCompressedObject(rs, size)
	if err != nil {
		return nil, 0, err
	}

	afterDelta, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, 0, wrapErr(KindIO, "failed to record stream position", err)
	}

	basePos := objStart - offset
	if _, err := rs.Seek(basePos, io.SeekStart); err != nil {
		return nil, 0, wrapErr(KindIO, "failed to seek to offset-delta base", err)
	}
	baseData, baseType, err := readPackObjectAt(rs, resolve)
	if err != nil {
		return nil, 0, err
	}
	if _, err := rs.Seek(afterDelta, io.SeekStart); err != nil {
		return nil, 0, wrapErr(KindIO, "failed to restore stream position", err)
	}

	result, err := applyDelta(baseData, deltaData, 0)
	if err != nil {
		return nil, 0, err
	}

	return result, baseType, nil
}

func readRefDelta(rs io.ReadSeeker, size int64, resolve ObjectResolver) ([]byte, byte, error) {
	var baseHash [20]byte
	if _, err := io.ReadFull(rs, baseHash[:]); err != nil {
		return nil, 0, wrapErr(KindUnexpectedInput, "failed to read ref-delta base id", err)
	}
	baseHashStr, err := NewHashFromBytes(baseHash)
	if err != nil {
		return nil, 0, err
	}

	deltaData, err := readCompressedObject(rs, size)
	if err != nil {
		return nil, 0, err
	}

	baseData, baseType, err := resolve(baseHashStr)
	if err != nil {
		return nil, 0, wrapErr(KindMissingObject, "failed to resolve ref-delta base "+baseHashStr.Short(), err)
	}

	result, err := applyDelta(baseData, deltaData, 0)
	if err != nil {
		return nil, 0, err
	}

	return result, baseType, nil
}

// byteReaderFromReader adapts an io.Reader without ReadByte to io.ByteReader,
// used for any ReadSeeker that doesn't already satisfy io.ByteReader
// (*bytes.Reader does; *os.File does not).
type byteReaderFromReader struct {
	r io.Reader
}

func (b *byteReaderFromReader) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(b.r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}
