package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const primaryBody = "<metadata>fake primary.xml content</metadata>"

func primaryDigest() string {
	sum := sha256.Sum256([]byte(primaryBody))
	return hex.EncodeToString(sum[:])
}

func repomdXML() string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<repomd xmlns="http://linux.duke.edu/metadata/repo">
  <revision>1700000000</revision>
  <data type="primary">
    <checksum type="sha256">` + primaryDigest() + `</checksum>
    <location href="repodata/primary.xml"/>
    <timestamp>1700000000</timestamp>
    <size>` + itoaLen(primaryBody) + `</size>
  </data>
</repomd>`
}

func itoaLen(s string) string {
	n := len(s)
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	return string(b)
}

func newRepoServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/repodata/repomd.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(repomdXML()))
	})
	mux.HandleFunc("/repodata/primary.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(primaryBody))
	})
	return httptest.NewServer(mux)
}

func TestMetadataFetchPerformTwoPhases(t *testing.T) {
	srv := newRepoServer(t)
	defer srv.Close()

	destdir := t.TempDir()
	cfg := NewConfig()
	cfg.BaseURLs = []string{srv.URL}
	cfg.Destdir = destdir

	mf := NewMetadataFetch(cfg, http.DefaultClient)
	res, err := mf.Perform(context.Background(), nil)
	if err != nil {
		t.Fatalf("Perform: %v", err)
	}
	if res.BaseURLUsed != srv.URL {
		t.Errorf("BaseURLUsed = %q, want %q", res.BaseURLUsed, srv.URL)
	}
	if res.Revision != "1700000000" {
		t.Errorf("Revision = %q", res.Revision)
	}
	primaryPath, ok := res.Paths["primary"]
	if !ok {
		t.Fatal("expected a primary record path in Result")
	}
	data, err := os.ReadFile(primaryPath)
	if err != nil {
		t.Fatalf("read primary: %v", err)
	}
	if string(data) != primaryBody {
		t.Errorf("primary content = %q", data)
	}
	manifestPath := filepath.Join(destdir, "repodata", "repomd.xml")
	if res.ManifestPath != manifestPath {
		t.Errorf("ManifestPath = %q, want %q", res.ManifestPath, manifestPath)
	}
}

func TestMetadataFetchAllowListFiltersRecords(t *testing.T) {
	srv := newRepoServer(t)
	defer srv.Close()

	cfg := NewConfig()
	cfg.BaseURLs = []string{srv.URL}
	cfg.Destdir = t.TempDir()
	cfg.AllowList = []string{"filelists"} // not present in the manifest

	mf := NewMetadataFetch(cfg, http.DefaultClient)
	res, err := mf.Perform(context.Background(), nil)
	if err != nil {
		t.Fatalf("Perform: %v", err)
	}
	if _, ok := res.Paths["primary"]; ok {
		t.Error("primary should have been excluded by the allow list")
	}
}

func metalinkXML(t *testing.T, fileURL, hash string) string {
	t.Helper()
	return `<?xml version="1.0" encoding="utf-8"?>
<metalink version="3.0" xmlns="http://www.metalinker.org/">
  <files>
    <file name="repomd.xml">
      <size>` + itoaLen(repomdXML()) + `</size>
      <verification>
        <hash type="sha256">` + hash + `</hash>
      </verification>
      <resources>
        <url protocol="http" type="http" preference="100">` + fileURL + `</url>
      </resources>
    </file>
  </files>
</metalink>`
}

func repomdDigest() string {
	sum := sha256.Sum256([]byte(repomdXML()))
	return hex.EncodeToString(sum[:])
}

func TestMetadataFetchVerifiesManifestAgainstMetalinkHash(t *testing.T) {
	srv := newRepoServer(t)
	defer srv.Close()

	mlSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(metalinkXML(t, srv.URL+"/repodata/repomd.xml", repomdDigest())))
	}))
	defer mlSrv.Close()

	cfg := NewConfig()
	cfg.MetalinkURL = mlSrv.URL
	cfg.Destdir = t.TempDir()

	mf := NewMetadataFetch(cfg, http.DefaultClient)
	res, err := mf.Perform(context.Background(), nil)
	if err != nil {
		t.Fatalf("Perform: %v", err)
	}
	if res.Revision != "1700000000" {
		t.Errorf("Revision = %q", res.Revision)
	}
}

func TestMetadataFetchRejectsManifestWithWrongMetalinkHash(t *testing.T) {
	srv := newRepoServer(t)
	defer srv.Close()

	wrongHash := strings.Repeat("0", 64)
	mlSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(metalinkXML(t, srv.URL+"/repodata/repomd.xml", wrongHash)))
	}))
	defer mlSrv.Close()

	cfg := NewConfig()
	cfg.MetalinkURL = mlSrv.URL
	cfg.Destdir = t.TempDir()
	cfg.MaxMirrorTries = 1

	mf := NewMetadataFetch(cfg, http.DefaultClient)
	_, err := mf.Perform(context.Background(), nil)
	if !IsCode(err, ErrBadChecksum) {
		t.Errorf("expected ErrBadChecksum for a repomd.xml not matching the metalink hash, got %v", err)
	}
}

func TestMetadataFetchLocalMode(t *testing.T) {
	destdir := t.TempDir()
	repodata := filepath.Join(destdir, "repodata")
	if err := os.MkdirAll(repodata, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repodata, "repomd.xml"), []byte(repomdXML()), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repodata, "primary.xml"), []byte(primaryBody), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewConfig()
	cfg.LocalOnly = true
	cfg.Destdir = destdir

	mf := NewMetadataFetch(cfg, http.DefaultClient)
	res, err := mf.Perform(context.Background(), nil)
	if err != nil {
		t.Fatalf("Perform (local): %v", err)
	}
	if !strings.HasSuffix(res.Paths["primary"], "primary.xml") {
		t.Errorf("primary path = %q", res.Paths["primary"])
	}
}
