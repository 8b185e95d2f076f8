package core

import "github.com/repoget/repoget/internal/repomd"

// TransferStatus is a Target's terminal state, per spec.md §3.
type TransferStatus int

const (
	StatusPending TransferStatus = iota
	StatusSuccessful
	StatusAlreadyExists
	StatusError
)

func (s TransferStatus) String() string {
	switch s {
	case StatusSuccessful:
		return "Successful"
	case StatusAlreadyExists:
		return "AlreadyExists"
	case StatusError:
		return "Error"
	default:
		return "Pending"
	}
}

// CallbackResult is the three-valued status every observer returns,
// replacing exception-driven cancellation (spec.md §9 design note).
type CallbackResult int

const (
	CBOk CallbackResult = iota
	CBAbort
	CBError
)

// ProgressFunc observes per-cycle progress for one Target.
type ProgressFunc func(total, downloaded int64) CallbackResult

// MirrorFailureFunc observes a single failed mirror attempt for a Target.
type MirrorFailureFunc func(msg, mirrorURL string) CallbackResult

// EndFunc fires exactly once per Target with its terminal status.
type EndFunc func(status TransferStatus, err error)

// ByteRange is an inclusive byte range request. An End <= Start is
// ignored (full-file semantics), per spec.md §8 Boundaries.
type ByteRange struct {
	Start, End int64
}

func (r *ByteRange) valid() bool {
	return r != nil && r.End > r.Start
}

// TargetKind distinguishes the two Target flavors named in spec.md §3.
type TargetKind int

const (
	KindMetadata TargetKind = iota
	KindPackage
)

// Target is a pending transfer submitted to the DownloadEngine. A
// Target is executed at most once per fetch and its terminal state is
// written exactly once (spec.md §3 invariant).
type Target struct {
	Kind        TargetKind
	RelativeURL string // relative to a mirror's base URL
	BaseURL     string // optional fixed base URL overriding mirror selection
	Dest        string // destination path on disk

	ExpectedSize  int64
	ExpectedDigest string
	DigestAlgo    repomd.DigestAlgo

	ByteRange *ByteRange
	Resume    bool

	Progress      ProgressFunc
	MirrorFailure MirrorFailureFunc
	End           EndFunc

	UserData any

	// result, populated by the engine exactly once
	LocalPath  string
	Err        error
	Status     TransferStatus
	usedMirror string

	triedMirrors map[string]bool
}

func (t *Target) markTried(mirrorURL string) {
	if t.triedMirrors == nil {
		t.triedMirrors = make(map[string]bool)
	}
	t.triedMirrors[mirrorURL] = true
}

func (t *Target) hasTried(mirrorURL string) bool {
	return t.triedMirrors[mirrorURL]
}

func (t *Target) fireEnd(status TransferStatus, err error) {
	t.Status = status
	t.Err = err
	if t.End != nil {
		t.End(status, err)
	}
}
