package core

import "github.com/repoget/repoget/internal/repomd"

// RecordInfo mirrors one repomd.xml <data> record as surfaced on
// Result, per spec.md §3.
type RecordInfo struct {
	Href             string
	Checksum         string
	ChecksumType     repomd.DigestAlgo
	OpenChecksum     string
	OpenChecksumType repomd.DigestAlgo
	Size             uint64
	OpenSize         uint64
	Timestamp        int64
	DatabaseVersion  int

	// Digests holds every algorithm computed over the fetched file in
	// one pass (repomd.MultiDigest), letting a caller cross-check
	// against an algorithm other than the one the manifest declared,
	// or publish its own by-hash layout, without rereading the file.
	Digests map[repomd.DigestAlgo]string
}

// Result is the accumulator built during a fetch, per spec.md §3: its
// canonical form is this nested structure; Flat/Nested render the two
// presentation views spec.md §4.6 / §9 calls for (yum_repo vs
// rpmmd_repo), replacing librepo's Result.getinfo(LRR_*) generic
// getter with typed fields, per SPEC_FULL.md Supplemented Feature 3.
type Result struct {
	Destdir        string
	BaseURLUsed    string
	MirrorlistPath string
	MetalinkPath   string
	SignaturePath  string
	ManifestPath   string

	Records map[string]RecordInfo
	Paths   map[string]string // record type -> local path

	Revision        string
	RepoTags        []string
	ContentTags     []string
	DistroTags      []repomd.DistroTag
	HighestTimestamp int64
}

// NewResult returns an empty Result rooted at destdir.
func NewResult(destdir string) *Result {
	return &Result{
		Destdir: destdir,
		Records: make(map[string]RecordInfo),
		Paths:   make(map[string]string),
	}
}

// Flat renders the legacy yum_repo view: a single string-keyed map of
// record-type -> local path, plus the top-level scalars. This is a
// pure projection; Result's canonical state is unchanged.
func (r *Result) Flat() map[string]any {
	out := map[string]any{
		"destdir":           r.Destdir,
		"base_url_used":     r.BaseURLUsed,
		"mirrorlist_path":   r.MirrorlistPath,
		"metalink_path":     r.MetalinkPath,
		"signature_path":    r.SignaturePath,
		"repomd_xml":        r.ManifestPath,
		"revision":          r.Revision,
		"highest_timestamp": r.HighestTimestamp,
	}
	for recType, path := range r.Paths {
		out[recType] = path
	}
	return out
}

// NestedRecord is one entry of the rpmmd_repo nested view.
type NestedRecord struct {
	RecordInfo
	LocalPath string
}

// Nested renders the rpmmd_repo view: record type -> its full
// RecordInfo plus local path, preserving the structure a caller
// inspecting manifest metadata (not just paths) needs.
func (r *Result) Nested() map[string]NestedRecord {
	out := make(map[string]NestedRecord, len(r.Records))
	for recType, info := range r.Records {
		out[recType] = NestedRecord{RecordInfo: info, LocalPath: r.Paths[recType]}
	}
	return out
}

func recordInfoFrom(rec repomd.Record) RecordInfo {
	return RecordInfo{
		Href:             rec.Href,
		Checksum:         rec.Checksum,
		ChecksumType:     rec.ChecksumType,
		OpenChecksum:     rec.OpenChecksum,
		OpenChecksumType: rec.OpenChecksumType,
		Size:             rec.Size,
		OpenSize:         rec.OpenSize,
		Timestamp:        rec.Timestamp,
		DatabaseVersion:  rec.DatabaseVersion,
	}
}
