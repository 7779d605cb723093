package gitcore

import (
	"io"

	"github.com/klauspost/compress/zlib"
)

// zlibNewReader and zlibNewWriter centralize the zlib codec used for every
// object payload, loose or packed. klauspost/compress implements the same
// interfaces as compress/zlib but decodes and encodes substantially faster,
// which matters here since every object in a pack is inflated (and, for
// fabricated thin-pack completion objects, deflated) at least once.
func zlibNewReader(r io.Reader) (io.ReadCloser, error) {
	return zlib.NewReader(r)
}

func zlibNewWriter(w io.Writer) *zlib.Writer {
	return zlib.NewWriter(w)
}
