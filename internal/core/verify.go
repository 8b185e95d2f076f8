package core

import (
	"log/slog"
	"os"

	"github.com/ProtonMail/gopenpgp/v3/crypto"
	"github.com/repoget/repoget/internal/repomd"
)

// VerifyDigest streams the file at path through algo and compares
// against expectedHex, per spec.md §4.3 Digest. If checksumEnabled is
// false the check is skipped entirely — a deliberate caller override,
// not an error.
func VerifyDigest(path string, algo repomd.DigestAlgo, expectedHex string, checksumEnabled bool) error {
	if !checksumEnabled || expectedHex == "" {
		return nil
	}
	if algo == "" {
		return newErr(ErrUnknownChecksum, "no checksum algorithm specified for "+path)
	}
	f, err := os.Open(path)
	if err != nil {
		return wrapErr(ErrIO, err, "open "+path+" for digest verification")
	}
	defer f.Close()

	got, err := repomd.Digest(algo, f)
	if err != nil {
		return wrapErr(ErrUnknownChecksum, err, "compute digest of "+path)
	}
	if got != expectedHex {
		slog.Warn("digest mismatch", "path", path, "algo", algo, "got", got, "want", expectedHex)
		return newErr(ErrBadChecksum, "digest mismatch for "+path+": got "+got+", want "+expectedHex)
	}
	slog.Debug("digest verified", "path", path, "algo", algo)
	return nil
}

// Verifier performs the OpenPGP detached-signature check named by
// spec.md §4.3 Signature, backed by ProtonMail/gopenpgp/v3's crypto.PGP
// handle. NewMetadataFetch builds its own Verifier with NewVerifier;
// neither Handle nor MetadataFetch accepts a caller-supplied Verifier
// or other signature backend.
type Verifier struct {
	pgp *crypto.PGPHandle
}

// NewVerifier constructs a Verifier around the default OpenPGP
// provider.
func NewVerifier() *Verifier {
	return &Verifier{pgp: crypto.PGP()}
}

// VerifyDetachedSignature validates payload against sigPath using the
// ASCII-armored public key(s) found in keyringPath. Missing or
// invalid signatures both yield ErrBadGpg, per spec.md §4.3.
func (v *Verifier) VerifyDetachedSignature(payloadPath, sigPath, keyringPath string) error {
	slog.Debug("verifying detached signature", "payload", payloadPath, "signature", sigPath)
	keyringData, err := os.ReadFile(keyringPath)
	if err != nil {
		return wrapErr(ErrGpgError, err, "read keyring "+keyringPath)
	}
	publicKey, err := crypto.NewKeyFromArmored(string(keyringData))
	if err != nil {
		return wrapErr(ErrGpgError, err, "parse keyring "+keyringPath)
	}

	payload, err := os.ReadFile(payloadPath)
	if err != nil {
		return wrapErr(ErrGpgError, err, "read "+payloadPath)
	}
	sig, err := os.ReadFile(sigPath)
	if err != nil {
		return newErr(ErrBadGpg, "missing detached signature "+sigPath)
	}

	verifier, err := v.pgp.Verify().VerificationKey(publicKey).New()
	if err != nil {
		return wrapErr(ErrGpgError, err, "build verifier")
	}
	result, err := verifier.VerifyDetached(payload, sig, crypto.Armor)
	if err != nil {
		return wrapErr(ErrBadGpg, err, "verify detached signature")
	}
	if sigErr := result.SignatureError(); sigErr != nil {
		slog.Warn("signature verification failed", "payload", payloadPath, "error", sigErr)
		return wrapErr(ErrBadGpg, sigErr, "signature verification failed")
	}
	return nil
}
