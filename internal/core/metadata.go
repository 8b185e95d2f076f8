package core

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/repoget/repoget/internal/repomd"
)

// RecordTypeManifest is the allow_list sentinel meaning "include the
// manifest itself" — the Go rendering of librepo's "nil element in
// yumdlist", per spec.md §4.5.
const RecordTypeManifest = ""

// MetadataFetch drives the two-phase RPM-MD fetch of spec.md §4.5:
// repomd.xml first, then its selected records, streamed through the
// Engine with inline digest verification.
type MetadataFetch struct {
	cfg      *Config
	client   *http.Client
	verifier *Verifier

	// Progress, when set, is attached to every Target this fetch
	// submits to the Engine, letting a caller drive a single progress
	// indicator across both the manifest and record phases.
	Progress ProgressFunc
}

// NewMetadataFetch constructs a MetadataFetch bound to cfg.
func NewMetadataFetch(cfg *Config, client *http.Client) *MetadataFetch {
	return &MetadataFetch{cfg: cfg, client: client, verifier: NewVerifier()}
}

// Perform runs mirror resolution (unless local_only), then the
// manifest phase, then the record phase, and returns the assembled
// Result. existing, when non-nil, is the Result to augment in update
// mode (spec.md §4.5 Update mode).
func (mf *MetadataFetch) Perform(ctx context.Context, existing *Result) (*Result, error) {
	if mf.cfg.LocalOnly {
		return mf.performLocal()
	}

	resolved, err := ResolveMirrors(ctx, mf.client, mf.cfg)
	if err != nil {
		return nil, err
	}
	if mf.cfg.FetchMirrorsOnly {
		res := NewResult(mf.cfg.Destdir)
		res.MirrorlistPath = resolved.MirrorlistPath
		res.MetalinkPath = resolved.MetalinkPath
		return res, nil
	}

	if mf.cfg.FastestMirror {
		if err := RunFastestMirror(mf.cfg, resolved.List, nil); err != nil {
			return nil, err
		}
	}

	engine := NewEngine(mf.cfg, mf.client, resolved.List)

	res := existing
	if res == nil {
		res = NewResult(mf.cfg.Destdir)
	}
	res.MirrorlistPath = resolved.MirrorlistPath
	res.MetalinkPath = resolved.MetalinkPath

	skipManifest := mf.cfg.Update && manifestExists(mf.cfg.Destdir)
	if !skipManifest {
		slog.Info("fetching manifest", "destdir", mf.cfg.Destdir)
		if err := mf.fetchManifestPhase(ctx, engine, resolved.List, resolved.Metalink, res); err != nil {
			slog.Warn("manifest phase failed", "error", err)
			return nil, err
		}
	} else {
		if res.ManifestPath == "" {
			res.ManifestPath = filepath.Join(mf.cfg.Destdir, "repodata", "repomd.xml")
		}
		slog.Debug("manifest already present, skipping phase 1", "path", res.ManifestPath)
	}

	manifest, err := mf.loadManifest(res.ManifestPath)
	if err != nil {
		return nil, err
	}
	mf.populateManifestFields(manifest, res)

	slog.Info("fetching records", "revision", res.Revision)
	if err := mf.fetchRecordsPhase(ctx, engine, manifest, res); err != nil {
		slog.Warn("records phase failed", "error", err)
		return nil, err
	}

	// Best-effort durability: fsync the whole repodata tree once the
	// fetch succeeds, the way RunFastestMirror syncs its cache file.
	if err := DirSyncTree(filepath.Join(mf.cfg.Destdir, "repodata")); err != nil {
		slog.Warn("repodata directory sync failed", "error", err)
	}

	slog.Info("fetch complete", "records", len(res.Paths))

	return res, nil
}

func manifestExists(destdir string) bool {
	_, err := os.Stat(filepath.Join(destdir, "repodata", "repomd.xml"))
	return err == nil
}

// fetchManifestPhase is Phase 1 (spec.md §4.5): download repomd.xml
// (and, when gpg_check is set, its detached signature) from whichever
// mirror serves it first, recording that mirror as BaseURLUsed. When
// ml carries hashes for the manifest file (spec.md §1 "metalink XML
// with per-file hashes"), the download is verified against the
// strongest one on offer, not just accepted on HTTP 200.
func (mf *MetadataFetch) fetchManifestPhase(ctx context.Context, engine *Engine, list *MirrorList, ml *repomd.Metalink, res *Result) error {
	dest := filepath.Join(mf.cfg.Destdir, "repodata", "repomd.xml")

	target := &Target{
		Kind:        KindMetadata,
		RelativeURL: "repodata/repomd.xml",
		Dest:        dest,
		Progress:    mf.Progress,
	}
	if ml != nil && (ml.Filename == "" || ml.Filename == "repomd.xml") {
		if algo, hex, ok := ml.BestHash(); ok {
			target.DigestAlgo = algo
			target.ExpectedDigest = hex
			target.ExpectedSize = int64(ml.Size)
			slog.Debug("verifying repomd.xml against metalink hash", "algo", algo)
		}
	}
	_ = engine.Perform(ctx, []*Target{target}, true)
	usedMirror := target.usedMirror

	if target.Status != StatusSuccessful {
		if target.Err != nil {
			return target.Err
		}
		return newErr(ErrRepomdXml, "failed to download repomd.xml")
	}

	slog.Info("repomd.xml fetched", "mirror", usedMirror)
	res.BaseURLUsed = usedMirror
	res.ManifestPath = dest

	if mf.cfg.GpgCheck {
		sigDest := dest + ".asc"
		sigTarget := &Target{
			Kind:        KindMetadata,
			RelativeURL: "repodata/repomd.xml.asc",
			BaseURL:     usedMirror,
			Dest:        sigDest,
		}
		if err := engine.Perform(ctx, []*Target{sigTarget}, true); err != nil || sigTarget.Status != StatusSuccessful {
			slog.Warn("repomd.xml.asc missing or undownloadable", "mirror", usedMirror)
			return newErr(ErrBadGpg, "missing or undownloadable repomd.xml.asc")
		}
		if err := mf.verifier.VerifyDetachedSignature(dest, sigDest, mf.cfg.GnupgHomeDir); err != nil {
			slog.Warn("repomd.xml signature verification failed", "error", err)
			return err
		}
		slog.Debug("repomd.xml signature verified", "keyring", mf.cfg.GnupgHomeDir)
		res.SignaturePath = sigDest
	}

	return nil
}

func (mf *MetadataFetch) loadManifest(path string) (*repomd.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, wrapErr(ErrIO, err, "read manifest "+path)
	}
	m, err := repomd.ParseManifest(bytes.NewReader(data))
	if err != nil {
		return nil, wrapErr(ErrRepomdXml, err, "parse manifest "+path)
	}
	return m, nil
}

func (mf *MetadataFetch) populateManifestFields(m *repomd.Manifest, res *Result) {
	res.Revision = m.Revision
	res.RepoTags = m.RepoTags
	res.ContentTags = m.ContentTags
	res.DistroTags = m.DistroTags
}

// fetchRecordsPhase is Phase 2 (spec.md §4.5): apply allow/deny/
// substitution selection, build one PackageTarget per selected
// record, submit in one batch, and assemble Result.Paths/Records.
func (mf *MetadataFetch) fetchRecordsPhase(ctx context.Context, engine *Engine, manifest *repomd.Manifest, res *Result) error {
	selected, includeManifest := mf.selectRecordTypes(manifest)
	if includeManifest {
		res.Records[RecordTypeManifest] = RecordInfo{}
	}

	var targets []*Target
	recType := map[*Target]string{}
	for _, t := range selected {
		if mf.cfg.Update {
			if _, already := res.Paths[t]; already {
				continue
			}
		}
		rec, ok := manifest.Records[t]
		if !ok {
			continue
		}
		dest := filepath.Join(mf.cfg.Destdir, "repodata", filepath.Base(rec.Href))
		target := &Target{
			Kind:           KindPackage,
			RelativeURL:    rec.Href,
			Dest:           dest,
			ExpectedSize:   int64(rec.Size),
			ExpectedDigest: rec.Checksum,
			DigestAlgo:     rec.ChecksumType,
			Progress:       mf.Progress,
		}
		targets = append(targets, target)
		recType[target] = t
	}

	if len(targets) == 0 {
		slog.Debug("no records selected for phase 2")
		res.HighestTimestamp = manifest.HighestTimestamp(selected)
		return nil
	}

	slog.Debug("submitting record targets", "count", len(targets))

	// A repomd.xml-selected record that cannot be fetched makes the
	// manifest's own promises unfulfillable, so the record phase always
	// runs fail-fast regardless of what a caller's own download_packages
	// call for arbitrary PackageTargets would choose.
	if err := engine.Perform(ctx, targets, true); err != nil {
		return err
	}

	for _, target := range targets {
		t := recType[target]
		if target.Status != StatusSuccessful && target.Status != StatusAlreadyExists {
			return target.Err
		}
		res.Paths[t] = target.LocalPath
		info := recordInfoFrom(manifest.Records[t])
		if mf.cfg.ChecksumEnabled {
			if digests, err := computeDigests(target.LocalPath); err != nil {
				slog.Warn("could not compute full digest set for record", "type", t, "error", err)
			} else {
				info.Digests = digests
			}
		}
		res.Records[t] = info
	}
	res.HighestTimestamp = manifest.HighestTimestamp(selected)
	return nil
}

// computeDigests reads path once and returns every supported
// algorithm's digest, via repomd.MultiDigest.
func computeDigests(path string) (map[repomd.DigestAlgo]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wrapErr(ErrIO, err, "open "+path+" for multi-digest")
	}
	defer f.Close()
	return repomd.MultiDigest(f)
}

// selectRecordTypes implements spec.md §4.5's allow/deny/substitution
// composition.
func (mf *MetadataFetch) selectRecordTypes(manifest *repomd.Manifest) (types []string, includeManifest bool) {
	all := make([]string, 0, len(manifest.Records))
	for t := range manifest.Records {
		all = append(all, t)
	}

	set := make(map[string]bool, len(all))
	if len(mf.cfg.AllowList) > 0 {
		for _, a := range mf.cfg.AllowList {
			if a == RecordTypeManifest {
				includeManifest = true
				continue
			}
			real := a
			if mapped, ok := mf.cfg.RecordSubst[a]; ok {
				real = mapped
			}
			set[real] = true
		}
	} else {
		for _, t := range all {
			set[t] = true
		}
	}
	for _, d := range mf.cfg.DenyList {
		delete(set, d)
	}

	for t := range set {
		types = append(types, t)
	}
	return types, includeManifest
}

// performLocal implements spec.md §4.5 Local mode: no transfers,
// repomd.xml and its records are validated from disk.
func (mf *MetadataFetch) performLocal() (*Result, error) {
	root := mf.cfg.Destdir
	if root == "" && len(mf.cfg.BaseURLs) > 0 {
		root = localPath(mf.cfg.BaseURLs[0])
	}
	res := NewResult(root)
	manifestPath := filepath.Join(root, "repodata", "repomd.xml")
	manifest, err := mf.loadManifest(manifestPath)
	if err != nil {
		return nil, wrapErr(ErrIncompleteRepo, err, "local repo missing repomd.xml")
	}
	res.ManifestPath = manifestPath
	mf.populateManifestFields(manifest, res)

	selected, includeManifest := mf.selectRecordTypes(manifest)
	if includeManifest {
		res.Records[RecordTypeManifest] = RecordInfo{}
	}

	for _, t := range selected {
		rec, ok := manifest.Records[t]
		if !ok {
			continue
		}
		path := filepath.Join(root, "repodata", filepath.Base(rec.Href))
		if _, err := os.Stat(path); err != nil {
			if mf.cfg.IgnoreMissing {
				continue
			}
			return nil, newErr(ErrIncompleteRepo, "missing local record "+t+" at "+path)
		}
		if err := VerifyDigest(path, rec.ChecksumType, rec.Checksum, mf.cfg.ChecksumEnabled); err != nil {
			return nil, err
		}
		res.Paths[t] = path
		res.Records[t] = recordInfoFrom(rec)
	}
	res.HighestTimestamp = manifest.HighestTimestamp(selected)
	return res, nil
}
