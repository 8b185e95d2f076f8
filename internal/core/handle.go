package core

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
)

// Handle is the configuration + session object of spec.md §3: once a
// fetch is in progress its configuration is frozen until that fetch
// returns, and it may be reused sequentially afterward.
type Handle struct {
	cfg    *Config
	client *http.Client

	mu       sync.Mutex
	inFlight bool
	flock    *Flock

	lastMirrorList *MirrorList
}

// NewHandle validates cfg and builds the shared transport. The
// returned Handle owns cfg from this point; mutate it only through
// the Handle, never the original pointer, to respect the frozen-
// during-fetch invariant.
func NewHandle(cfg *Config) (*Handle, error) {
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	client, err := newTransport(cfg)
	if err != nil {
		return nil, err
	}
	return &Handle{cfg: cfg, client: client}, nil
}

// lockFileName is the sentinel lockfile name guarding a destdir
// against a second, possibly cross-process, Handle using it
// concurrently (spec.md §5's concurrent-invocation guard extended
// beyond this one process's memory).
const lockFileName = ".repoget.lock"

func (h *Handle) begin() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inFlight {
		return newErr(ErrAlreadyUsedResult, "a fetch is already in progress on this Handle")
	}
	if h.cfg.Destdir != "" {
		if err := os.MkdirAll(h.cfg.Destdir, 0o755); err != nil {
			return wrapErr(ErrCannotCreateDir, err, "create destdir "+h.cfg.Destdir)
		}
		fl, err := NewFlock(filepath.Join(h.cfg.Destdir, lockFileName))
		if err != nil {
			return err
		}
		if err := fl.Lock(); err != nil {
			fl.Close()
			return wrapErr(ErrCannotCreateTmp, err, "destdir "+h.cfg.Destdir+" is locked by another repoget process")
		}
		h.flock = fl
	}
	h.inFlight = true
	return nil
}

func (h *Handle) end() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inFlight = false
	if h.flock != nil {
		h.flock.Close()
		h.flock = nil
	}
}

// FetchMetadata runs MetadataFetch's two-phase fetch (spec.md §4.5)
// and returns the assembled Result. existing augments an in-progress
// Result when cfg.Update is set. progress, if non-nil, observes every
// Target the fetch submits across both phases.
func (h *Handle) FetchMetadata(ctx context.Context, existing *Result, progress ProgressFunc) (*Result, error) {
	if err := h.begin(); err != nil {
		return nil, err
	}
	defer h.end()

	mf := NewMetadataFetch(h.cfg, h.client)
	mf.Progress = progress
	res, err := mf.Perform(ctx, existing)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// DownloadPackages submits arbitrary PackageTargets to the
// DownloadEngine directly (spec.md §6.1's download_packages entry
// point), bypassing manifest interpretation entirely.
func (h *Handle) DownloadPackages(ctx context.Context, targets []*Target, failFast bool) error {
	if err := h.begin(); err != nil {
		return err
	}
	defer h.end()

	resolved, err := ResolveMirrors(ctx, h.client, h.cfg)
	if err != nil {
		return err
	}
	if h.cfg.FastestMirror {
		if err := RunFastestMirror(h.cfg, resolved.List, nil); err != nil {
			return err
		}
	}
	h.lastMirrorList = resolved.List

	engine := NewEngine(h.cfg, h.client, resolved.List)
	return engine.Perform(ctx, targets, failFast)
}

// ResolveMirrorsOnly implements fetch_mirrors_only: resolve the
// mirror list (and optionally fastest-mirror-sort it) without
// performing any payload transfer.
func (h *Handle) ResolveMirrorsOnly(ctx context.Context) (*ResolveResult, error) {
	if err := h.begin(); err != nil {
		return nil, err
	}
	defer h.end()

	resolved, err := ResolveMirrors(ctx, h.client, h.cfg)
	if err != nil {
		return nil, err
	}
	if h.cfg.FastestMirror {
		if err := RunFastestMirror(h.cfg, resolved.List, nil); err != nil {
			return nil, err
		}
	}
	h.lastMirrorList = resolved.List
	return resolved, nil
}

// MirrorList returns the mirror list from the most recent resolution,
// for caller inspection between sequential reuses of the Handle.
func (h *Handle) MirrorList() *MirrorList {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastMirrorList
}
