package gitcore

import (
	"bytes"
	"testing"
)

func TestApplyDelta_CopyAndInsert(t *testing.T) {
	base := []byte("the quick brown fox")

	// Copy "the quick" (offset 0, size 9), insert " red", copy " fox"
	// (offset 15, size 4).
	delta := []byte{
		byte(len(base)), // source size
		17,              // result size
		0x90, 9,         // copy: size1 present, offset omitted (0)
		0x04, ' ', 'r', 'e', 'd', // insert 4 bytes
		0x91, 15, 4, // copy: offset1 and size1 present
	}

	got, err := applyDelta(base, delta, 0)
	if err != nil {
		t.Fatalf("applyDelta: %v", err)
	}
	if want := []byte("the quick red fox"); !bytes.Equal(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestApplyDelta_ZeroCopySizeMeans64K(t *testing.T) {
	base := make([]byte, 0x10000)
	for i := range base {
		base[i] = byte(i)
	}

	delta := append(testVarint(int64(len(base))), testVarint(0x10000)...)
	// Copy command with no offset and no size bytes: size 0 -> 0x10000.
	delta = append(delta, 0x80)

	got, err := applyDelta(base, delta, 0)
	if err != nil {
		t.Fatalf("applyDelta: %v", err)
	}
	if !bytes.Equal(got, base) {
		t.Error("zero-size copy must reproduce the full 64K window")
	}
}

func TestApplyDelta_BaseSizeMismatch(t *testing.T) {
	delta := []byte{5, 1, 0x01, 'x'} // claims source size 5
	if _, err := applyDelta([]byte("abc"), delta, 0); KindOf(err) != KindCorruptObject {
		t.Fatalf("err = %v, want KindCorruptObject", err)
	}
}

func TestApplyDelta_ResultSizeMismatch(t *testing.T) {
	delta := []byte{3, 9, 0x01, 'x'} // declares 9 but produces 1
	if _, err := applyDelta([]byte("abc"), delta, 0); KindOf(err) != KindCorruptObject {
		t.Fatalf("err = %v, want KindCorruptObject", err)
	}
}

func TestApplyDelta_ReservedCommandByte(t *testing.T) {
	delta := []byte{3, 1, 0x00}
	if _, err := applyDelta([]byte("abc"), delta, 0); KindOf(err) != KindCorruptObject {
		t.Fatalf("err = %v, want KindCorruptObject", err)
	}
}

func TestApplyDelta_CopyBeyondBase(t *testing.T) {
	delta := []byte{3, 5, 0x91, 1, 5} // copy offset 1 size 5 from 3-byte base
	if _, err := applyDelta([]byte("abc"), delta, 0); KindOf(err) != KindCorruptObject {
		t.Fatalf("err = %v, want KindCorruptObject", err)
	}
}

func TestApplyDelta_ResultSizeLimit(t *testing.T) {
	delta := insertDelta(1, []byte("0123456789"))
	_, err := applyDelta([]byte("a"), delta, 5)
	if KindOf(err) != KindTooLargeObject {
		t.Fatalf("err = %v, want KindTooLargeObject", err)
	}
}

func TestReadBackOffset(t *testing.T) {
	tests := []int64{0, 1, 5, 127, 128, 256, 16383, 16384, 1 << 20, 1 << 31}
	for _, want := range tests {
		encoded := encodeTestBackOffset(want)
		got, err := readBackOffset(bytes.NewReader(encoded))
		if err != nil {
			t.Fatalf("readBackOffset(%d): %v", want, err)
		}
		if got != want {
			t.Errorf("readBackOffset(% x) = %d, want %d", encoded, got, want)
		}
	}
}
