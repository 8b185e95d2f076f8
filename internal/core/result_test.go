package core

import (
	"testing"

	"github.com/repoget/repoget/internal/repomd"
)

func TestResultFlatProjectsScalarsAndPaths(t *testing.T) {
	r := NewResult("/var/cache/repoget")
	r.BaseURLUsed = "http://mirror.example/repo"
	r.Revision = "42"
	r.Paths["primary"] = "/var/cache/repoget/repodata/primary.xml.gz"

	flat := r.Flat()
	if flat["destdir"] != "/var/cache/repoget" {
		t.Errorf("destdir = %v", flat["destdir"])
	}
	if flat["base_url_used"] != "http://mirror.example/repo" {
		t.Errorf("base_url_used = %v", flat["base_url_used"])
	}
	if flat["primary"] != "/var/cache/repoget/repodata/primary.xml.gz" {
		t.Errorf("primary path missing from flat view: %v", flat["primary"])
	}
}

func TestResultNestedCarriesRecordInfoAndPath(t *testing.T) {
	r := NewResult("/dest")
	r.Records["primary"] = RecordInfo{Href: "repodata/primary.xml.gz", Size: 1234}
	r.Paths["primary"] = "/dest/repodata/primary.xml.gz"

	nested := r.Nested()
	entry, ok := nested["primary"]
	if !ok {
		t.Fatal("expected primary entry in nested view")
	}
	if entry.Size != 1234 {
		t.Errorf("Size = %d", entry.Size)
	}
	if entry.LocalPath != "/dest/repodata/primary.xml.gz" {
		t.Errorf("LocalPath = %q", entry.LocalPath)
	}
}

func TestRecordInfoFromCopiesAllFields(t *testing.T) {
	rec := repomd.Record{
		Href:         "repodata/filelists.xml.gz",
		Checksum:     "abc123",
		ChecksumType: repomd.SHA256,
		Size:         99,
		Timestamp:    1700000000,
	}
	info := recordInfoFrom(rec)
	if info.Href != rec.Href || info.Checksum != rec.Checksum || info.ChecksumType != rec.ChecksumType {
		t.Errorf("recordInfoFrom mismatch: %+v", info)
	}
	if info.Size != rec.Size || info.Timestamp != rec.Timestamp {
		t.Errorf("recordInfoFrom mismatch: %+v", info)
	}
}
