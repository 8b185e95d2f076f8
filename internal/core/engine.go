package core

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Engine is the DownloadEngine of spec.md §4.4: a multiplexed
// transfer set over a shared HTTP transport, honoring concurrency
// caps, adaptive mirror re-ranking, byte-range/resume semantics, and
// fail-fast vs best-effort cancellation.
//
// The spec describes a single-threaded cooperative event loop; this
// is expressed idiomatically as a bounded worker pool over
// golang.org/x/sync/errgroup, which is the concurrency shape the
// teacher's own downloadFiles/reuseOrDownload/recvResult pattern
// uses for the equivalent problem. Concurrency is capped exactly as
// specified (§8 Invariant 4); the engine still delivers the same
// ordering guarantees (§5): per target, progress* → mirror_failure*
// → end, end exactly once.
type Engine struct {
	cfg    *Config
	client *http.Client
	list   *MirrorList

	mu     sync.Mutex
	active map[string]int // mirror URL -> in-flight count
}

// NewEngine constructs an Engine bound to a resolved MirrorList.
func NewEngine(cfg *Config, client *http.Client, list *MirrorList) *Engine {
	return &Engine{cfg: cfg, client: client, list: list, active: map[string]int{}}
}

// Perform runs every target to a terminal state, honoring fail_fast
// per spec.md §4.4. It never duplicates an `end` callback and never
// exceeds the global/per-mirror concurrency caps (§8 Invariants 3-4).
func (e *Engine) Perform(ctx context.Context, targets []*Target, failFast bool) error {
	if len(targets) == 0 {
		return nil
	}

	sem := make(chan struct{}, e.cfg.MaxParallelDownloads)
	g, gctx := errgroup.WithContext(ctx)
	if !failFast {
		// best-effort mode: a single target's failure must not cancel
		// the others, so each worker gets an independent context
		// derived only from the caller's, not from the errgroup group.
		gctx = ctx
	}

	for _, t := range targets {
		t := t
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			err := e.runTarget(gctx, t)
			if err != nil && failFast {
				return err
			}
			return nil
		})
	}

	return g.Wait()
}

// runTarget drives one Target through Waiting -> InFlight -> {Verifying
// -> Done, Failed -> (Retry|Terminal)}, per spec.md §4.4.
func (e *Engine) runTarget(ctx context.Context, t *Target) error {
	tries := 0
	for {
		if err := ctx.Err(); err != nil {
			t.fireEnd(StatusError, wrapErr(ErrInterrupted, err, "context canceled"))
			return err
		}

		mirrorURL, fixed := e.selectMirror(t)
		if mirrorURL == "" {
			err := newErr(ErrNoUrl, "no eligible mirror for "+t.RelativeURL)
			t.fireEnd(StatusError, err)
			return err
		}

		e.acquireMirrorSlot(mirrorURL)
		status, err := e.attempt(ctx, t, mirrorURL)
		e.releaseMirrorSlot(mirrorURL)

		if !fixed {
			e.list.RecordOutcome(mirrorURL, err == nil, e.cfg.AllowedMirrorFailures)
			if e.cfg.AdaptiveMirrorSorting {
				e.list.AdaptiveSort()
			}
		}

		if err == nil {
			t.usedMirror = mirrorURL
			t.fireEnd(status, nil)
			slog.Debug("target complete", "url", t.RelativeURL, "mirror", mirrorURL, "status", status)
			return nil
		}

		t.markTried(mirrorURL)
		tries++

		var coreErr *Error
		asErr(err, &coreErr)
		if coreErr != nil && coreErr.Code == ErrAlreadyDownloaded {
			t.usedMirror = mirrorURL
			t.fireEnd(StatusAlreadyExists, nil)
			return nil
		}

		slog.Warn("mirror attempt failed", "url", t.RelativeURL, "mirror", mirrorURL, "tries", tries, "error", err)

		if t.MirrorFailure != nil {
			if t.MirrorFailure(err.Error(), mirrorURL) == CBError {
				cbErr := newErr(ErrCbInterrupted, "mirror_failure callback requested abort of all targets")
				t.fireEnd(StatusError, cbErr)
				return cbErr
			}
		}

		// A Target pinned to a fixed BaseURL (no mirror-list fallback)
		// has no alternate to retry against.
		exhausted := fixed || (e.cfg.MaxMirrorTries > 0 && tries >= e.cfg.MaxMirrorTries)
		if exhausted || !e.hasUntried(t) {
			slog.Warn("target failed on every eligible mirror", "url", t.RelativeURL, "tries", tries)
			t.fireEnd(StatusError, err)
			return err
		}
		slog.Debug("retrying against an alternate mirror", "url", t.RelativeURL, "tries", tries)
		// Failed -> Retry: loop picks the next eligible mirror.
	}
}

func (e *Engine) hasUntried(t *Target) bool {
	for _, m := range e.list.Mirrors {
		if !m.Retired && !t.hasTried(m.URL) {
			return true
		}
	}
	return false
}

func (e *Engine) selectMirror(t *Target) (mirrorURL string, fixed bool) {
	if t.BaseURL != "" {
		return t.BaseURL, true
	}
	e.mu.Lock()
	snapshot := make(map[string]int, len(e.active))
	for k, v := range e.active {
		snapshot[k] = v
	}
	e.mu.Unlock()

	eligible := e.list.Eligible(snapshot, e.cfg.MaxDownloadsPerMirror, t.triedMirrors)
	if len(eligible) == 0 {
		return "", false
	}
	return eligible[0].URL, false
}

func (e *Engine) acquireMirrorSlot(mirrorURL string) {
	e.mu.Lock()
	e.active[mirrorURL]++
	e.mu.Unlock()
}

func (e *Engine) releaseMirrorSlot(mirrorURL string) {
	e.mu.Lock()
	e.active[mirrorURL]--
	e.mu.Unlock()
}

// attempt performs exactly one transfer of t against mirrorURL,
// including resume/byte-range handling, low-speed abort, and digest
// verification at EOF.
func (e *Engine) attempt(ctx context.Context, t *Target, mirrorURL string) (TransferStatus, error) {
	fullURL := joinMirrorURL(mirrorURL, t.RelativeURL)

	if t.Resume {
		if status, done, err := e.checkResumeShortCircuit(t); done {
			return status, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(t.Dest), 0o755); err != nil {
		return StatusError, wrapErr(ErrCannotCreateDir, err, "mkdir for "+t.Dest)
	}

	req, err := newRequest(ctx, e.cfg, fullURL)
	if err != nil {
		return StatusError, err
	}

	resumeFrom := int64(0)
	appending := false
	if t.Resume && hasInProgress(t.Dest) {
		if fi, statErr := os.Stat(t.Dest); statErr == nil {
			resumeFrom = fi.Size()
			appending = true
		}
	}

	rangeStart, rangeEnd := int64(0), int64(-1)
	if t.ByteRange.valid() {
		rangeStart, rangeEnd = t.ByteRange.Start, t.ByteRange.End
	}
	if appending {
		rangeStart = resumeFrom
	}
	if rangeStart > 0 || rangeEnd >= 0 {
		req.Header.Set("Range", buildRangeHeader(rangeStart, rangeEnd))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return StatusError, wrapErr(ErrTransport, err, "GET "+fullURL)
	}
	defer resp.Body.Close()

	if (rangeStart > 0 || rangeEnd >= 0) && resp.StatusCode != http.StatusPartialContent {
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return StatusError, newErr(ErrBadStatus, "server ignored Range request for "+fullURL)
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return StatusError, newErr(ErrBadStatus, "GET "+fullURL+": HTTP "+resp.Status)
	}

	flags := os.O_WRONLY | os.O_CREATE
	if appending {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	out, err := os.OpenFile(t.Dest, flags, 0o600) //nolint:gosec
	if err != nil {
		return StatusError, wrapErr(ErrCannotCreateTmp, err, "open destination "+t.Dest)
	}

	if t.Resume {
		if err := markInProgress(t.Dest); err != nil {
			out.Close()
			return StatusError, wrapErr(ErrIO, err, "mark resume sentinel")
		}
	}

	written, err := e.copyWithProgress(ctx, t, out, resp.Body, resumeFrom)
	closeErr := out.Close()
	if err != nil {
		os.Remove(t.Dest)
		return StatusError, err
	}
	if closeErr != nil {
		return StatusError, wrapErr(ErrIO, closeErr, "close "+t.Dest)
	}

	if t.ExpectedSize > 0 && written+resumeFrom != t.ExpectedSize && !t.ByteRange.valid() {
		return StatusError, newErr(ErrBadStatus, "size mismatch for "+fullURL)
	}

	fullFileCovered := !t.ByteRange.valid()
	if fullFileCovered {
		if err := VerifyDigest(t.Dest, t.DigestAlgo, t.ExpectedDigest, e.cfg.ChecksumEnabled); err != nil {
			return StatusError, err
		}
		if t.Resume {
			_ = clearInProgress(t.Dest)
		}
	}

	slog.Debug("downloaded", "dest", t.Dest, "mirror", mirrorURL, "bytes", written)
	t.LocalPath = t.Dest
	return StatusSuccessful, nil
}

// checkResumeShortCircuit implements spec.md §4.4's "already
// downloaded" rule: resume=true, no in-progress sentinel, existing
// file whose digest already matches -> AlreadyExists, not a failure.
func (e *Engine) checkResumeShortCircuit(t *Target) (TransferStatus, bool, error) {
	if hasInProgress(t.Dest) {
		return StatusPending, false, nil
	}
	if _, err := os.Stat(t.Dest); err != nil {
		return StatusPending, false, nil
	}
	if err := VerifyDigest(t.Dest, t.DigestAlgo, t.ExpectedDigest, e.cfg.ChecksumEnabled); err != nil {
		return StatusPending, false, nil
	}
	slog.Debug("already downloaded, skipping transfer", "dest", t.Dest)
	t.LocalPath = t.Dest
	return StatusAlreadyExists, true, newErr(ErrAlreadyDownloaded, "Already downloaded")
}

// copyWithProgress streams body into out, invoking t.Progress at a
// bounded rate and aborting on a low-speed breach or a callback abort
// (spec.md §4.4 Observers, §5 Cancellation).
func (e *Engine) copyWithProgress(ctx context.Context, t *Target, out io.Writer, body io.Reader, already int64) (int64, error) {
	buf := make([]byte, 64*1024)
	var written int64
	lastProgress := time.Now()
	lastSpeedCheck := time.Now()
	var sinceLastCheck int64
	lowSpeedWindow := time.Duration(e.cfg.LowSpeedTime) * time.Second

	for {
		select {
		case <-ctx.Done():
			return written, wrapErr(ErrInterrupted, ctx.Err(), "download canceled")
		default:
		}

		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return written, wrapErr(ErrIO, werr, "write "+t.Dest)
			}
			written += int64(n)
			sinceLastCheck += int64(n)

			if t.Progress != nil && time.Since(lastProgress) > 100*time.Millisecond {
				lastProgress = time.Now()
				if t.Progress(t.ExpectedSize, already+written) == CBAbort {
					return written, newErr(ErrCbInterrupted, "progress callback requested abort")
				}
			}
		}

		if e.cfg.LowSpeedLimit > 0 && lowSpeedWindow > 0 && time.Since(lastSpeedCheck) >= lowSpeedWindow {
			if sinceLastCheck/int64(lowSpeedWindow/time.Second) < int64(e.cfg.LowSpeedLimit) {
				return written, newErr(ErrTemporary, "transfer below low_speed_limit for low_speed_time")
			}
			lastSpeedCheck = time.Now()
			sinceLastCheck = 0
		}

		if rerr != nil {
			if rerr == io.EOF {
				return written, nil
			}
			return written, wrapErr(ErrTransport, rerr, "read body")
		}
	}
}

func buildRangeHeader(start, end int64) string {
	if end < 0 {
		return "bytes=" + strconv.FormatInt(start, 10) + "-"
	}
	return "bytes=" + strconv.FormatInt(start, 10) + "-" + strconv.FormatInt(end, 10)
}

func joinMirrorURL(base, rel string) string {
	if rel == "" {
		return base
	}
	if base == "" {
		return rel
	}
	if base[len(base)-1] == '/' {
		return base + rel
	}
	return base + "/" + rel
}

// asErr sets *target when err itself is an *Error. It is a plain type
// assertion: unlike errors.As it does not walk the cause chain.
func asErr(err error, target **Error) {
	if e, ok := err.(*Error); ok {
		*target = e
		return
	}
}
