package gitcore

import (
	"bytes"
	"fmt"
	"io"
)

// applyDelta applies Git pack delta instructions to reconstruct an object from its base.
// See: https://git-scm.com/docs/pack-format#_deltified_representation
func applyDelta(base []byte, delta []byte, maxResultSize int64) ([]byte, error) {
	src := bytes.NewReader(delta)

	srcSize, err := readVarInt(src)
	if err != nil {
		return nil, err
	}
	if srcSize != int64(len(base)) {
		return nil, newErr(KindCorruptObject, fmt.Sprintf("delta base size mismatch: expected %d, got %d", srcSize, len(base)))
	}

	targetSize, err := readVarInt(src)
	if err != nil {
		return nil, err
	}
	if maxResultSize > 0 && targetSize > maxResultSize {
		return nil, newErr(KindTooLargeObject, fmt.Sprintf("delta result size %d exceeds limit %d", targetSize, maxResultSize))
	}

	result := make([]byte, 0, targetSize)

	for {
		var cmd [1]byte
		_, err := src.Read(cmd[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, wrapErr(KindCorruptObject, "failed to read delta command", err)
		}

		switch {
		case cmd[0]&0x80 != 0:
			var offset, size int64
			for i := 0; i < 4; i++ {
				if cmd[0]&(0x01<<i) != 0 {
					var b [1]byte
					if _, err := src.Read(b[:]); err != nil {
						return nil, wrapErr(KindCorruptObject, "failed to read copy offset", err)
					}
					offset |= int64(b[0]) << (8 * i)
				}
			}
			for i := 0; i < 3; i++ {
				if cmd[0]&(0x10<<i) != 0 {
					var b [1]byte
					if _, err := src.Read(b[:]); err != nil {
						return nil, wrapErr(KindCorruptObject, "failed to read copy size", err)
					}
					size |= int64(b[0]) << (8 * i)
				}
			}
			// "Size zero is automatically converted to 0x10000."
			if size == 0 {
				size = 0x10000
			}
			if offset+size > int64(len(base)) {
				return nil, newErr(KindCorruptObject, fmt.Sprintf("delta copy of %d exceeds base size of %d", offset+size, len(base)))
			}
			result = append(result, base[offset:offset+size]...)

		case cmd[0] != 0:
			size := int(cmd[0] & 0x7F)
			data := make([]byte, size)
			if _, err := io.ReadFull(src, data); err != nil {
				return nil, wrapErr(KindCorruptObject, "failed to read delta insert payload", err)
			}
			result = append(result, data...)

		default:
			return nil, newErr(KindCorruptObject, "delta command byte 0x00 is reserved")
		}
	}

	if int64(len(result)) != targetSize {
		return nil, newErr(KindCorruptObject, fmt.Sprintf("delta result size mismatch: expected %d, got %d", targetSize, len(result)))
	}

	return result, nil
}

// readVarInt reads a delta-stream variable length integer: 7 bits per byte,
// little-endian, continuation indicated by the top bit.
func readVarInt(src *bytes.Reader) (int64, error) {
	var result int64
	var shift uint

	for {
		var b [1]byte
		if _, err := src.Read(b[:]); err != nil {
			return 0, wrapErr(KindCorruptObject, "failed to read delta varint", err)
		}
		result |= int64(b[0]&0x7F) << shift
		shift += 7
		if b[0]&0x80 == 0 {
			break
		}
	}

	return result, nil
}

// readBackOffset reads an OFS_DELTA negative offset: a big-endian-ish variable
// length encoding distinct from readVarInt, per the pack format's "offset
// encoding" rule (each continuation byte adds 1 before shifting).
func readBackOffset(r io.ByteReader) (int64, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, wrapErr(KindCorruptObject, "failed to read offset-delta back-offset", err)
	}
	offset := int64(b & 0x7F)
	for b&0x80 != 0 {
		b, err = r.ReadByte()
		if err != nil {
			return 0, wrapErr(KindCorruptObject, "failed to read offset-delta back-offset", err)
		}
		offset = ((offset + 1) << 7) | int64(b&0x7F)
	}
	return offset, nil
}
