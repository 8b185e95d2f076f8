package repomd

import (
	"compress/bzip2"
	"compress/gzip"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ulikunitz/xz"
)

// OpenDecompressor wraps r with the decompressor implied by name's
// extension (.gz, .bz2, .xz), or returns r unchanged when the name
// carries no known compression suffix. It lets a caller stream a
// record's decompressed content, the content repomd.xml's optional
// open-checksum/open-size pair describes, without materializing a
// second copy of the file. Nothing in the fetch path calls it: records
// are verified against their compressed checksum only, and
// OpenChecksum is carried on RecordInfo as parsed, unverified.
func OpenDecompressor(name string, r io.Reader) (io.Reader, error) {
	switch {
	case strings.HasSuffix(name, ".gz"):
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "gzip")
		}
		return gr, nil
	case strings.HasSuffix(name, ".bz2"):
		return bzip2.NewReader(r), nil
	case strings.HasSuffix(name, ".xz"):
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "xz")
		}
		return xr, nil
	default:
		return r, nil
	}
}
