// Package repomd decodes the wire formats an RPM-MD repository
// exposes: the repomd.xml manifest, metalink mirror descriptors, and
// plain-text mirrorlists. It knows nothing about mirrors, transports,
// or scheduling — only about bytes on the wire and the digest
// algorithms used to check them.
package repomd

import (
	"crypto/md5" //nolint:gosec // digest algorithm required by the wire format, not for security
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
)

// DigestAlgo names one of the six checksum algorithms repomd.xml and
// metalink documents may reference.
type DigestAlgo string

const (
	MD5    DigestAlgo = "md5"
	SHA1   DigestAlgo = "sha1"
	SHA224 DigestAlgo = "sha224"
	SHA256 DigestAlgo = "sha256"
	SHA384 DigestAlgo = "sha384"
	SHA512 DigestAlgo = "sha512"
)

// NormalizeAlgo maps the handful of spellings seen in the wild
// (repomd.xml's checksum@type, metalink's hash@type) onto the
// canonical DigestAlgo values.
func NormalizeAlgo(s string) (DigestAlgo, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "md5":
		return MD5, true
	case "sha", "sha1":
		return SHA1, true
	case "sha224":
		return SHA224, true
	case "sha256":
		return SHA256, true
	case "sha384":
		return SHA384, true
	case "sha512":
		return SHA512, true
	default:
		return "", false
	}
}

func newHash(algo DigestAlgo) (hash.Hash, error) {
	switch algo {
	case MD5:
		return md5.New(), nil //nolint:gosec
	case SHA1:
		return sha1.New(), nil //nolint:gosec
	case SHA224:
		return sha256.New224(), nil
	case SHA256:
		return sha256.New(), nil
	case SHA384:
		return sha512.New384(), nil
	case SHA512:
		return sha512.New(), nil
	default:
		return nil, errors.Newf("unknown checksum algorithm %q", algo)
	}
}

// Digest streams r through the named algorithm and returns the
// lowercase hex digest.
func Digest(algo DigestAlgo, r io.Reader) (string, error) {
	h, err := newHash(algo)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", errors.Wrap(err, "digest")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// MultiDigest computes every algorithm in one pass over r, so a single
// read of a downloaded file yields its digest under each of the six
// supported algorithms.
func MultiDigest(r io.Reader) (map[DigestAlgo]string, error) {
	hashes := map[DigestAlgo]hash.Hash{
		MD5:    md5.New(), //nolint:gosec
		SHA1:   sha1.New(), //nolint:gosec
		SHA224: sha256.New224(),
		SHA256: sha256.New(),
		SHA384: sha512.New384(),
		SHA512: sha512.New(),
	}
	writers := make([]io.Writer, 0, len(hashes))
	for _, h := range hashes {
		writers = append(writers, h)
	}
	if _, err := io.Copy(io.MultiWriter(writers...), r); err != nil {
		return nil, errors.Wrap(err, "multi-digest")
	}
	out := make(map[DigestAlgo]string, len(hashes))
	for algo, h := range hashes {
		out[algo] = hex.EncodeToString(h.Sum(nil))
	}
	return out, nil
}
