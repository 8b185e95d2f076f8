package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/repoget/repoget/internal/repomd"
)

func newTestEngine(t *testing.T, mirrors ...string) (*Engine, *Config) {
	t.Helper()
	cfg := NewConfig()
	cfg.BaseURLs = mirrors
	list := &MirrorList{}
	for i, m := range mirrors {
		list.dedupAppend(m, i)
	}
	return NewEngine(cfg, http.DefaultClient, list), cfg
}

func TestEnginePerformSingleTargetSuccess(t *testing.T) {
	const body = "hello repository metadata"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	engine, _ := newTestEngine(t, srv.URL)
	dest := filepath.Join(t.TempDir(), "repomd.xml")
	target := &Target{Kind: KindMetadata, RelativeURL: "repodata/repomd.xml", Dest: dest}

	if err := engine.Perform(context.Background(), []*Target{target}, true); err != nil {
		t.Fatalf("Perform: %v", err)
	}
	if target.Status != StatusSuccessful {
		t.Fatalf("Status = %v, want Successful", target.Status)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read dest: %v", err)
	}
	if string(data) != body {
		t.Errorf("content = %q, want %q", data, body)
	}
}

func TestEngineRetriesAgainstAlternateMirrorOnDigestMismatch(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("wrong content"))
	}))
	defer bad.Close()
	const good = "correct content"
	goodSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(good))
	}))
	defer goodSrv.Close()

	digest, err := repomd.Digest(repomd.SHA256, stringReader(good))
	if err != nil {
		t.Fatalf("digest: %v", err)
	}

	engine, _ := newTestEngine(t, bad.URL, goodSrv.URL)
	dest := filepath.Join(t.TempDir(), "primary.xml")
	target := &Target{
		Kind:           KindPackage,
		RelativeURL:    "repodata/primary.xml",
		Dest:           dest,
		ExpectedDigest: digest,
		DigestAlgo:     repomd.SHA256,
	}

	if err := engine.Perform(context.Background(), []*Target{target}, true); err != nil {
		t.Fatalf("Perform: %v", err)
	}
	if target.Status != StatusSuccessful {
		t.Fatalf("Status = %v, want Successful (err=%v)", target.Status, target.Err)
	}
	data, _ := os.ReadFile(dest)
	if string(data) != good {
		t.Errorf("content = %q, want %q", data, good)
	}
}

func TestEnginePerformFailFastReturnsErrorWhenNoMirrorWorks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	engine, cfg := newTestEngine(t, srv.URL)
	cfg.MaxMirrorTries = 1
	dest := filepath.Join(t.TempDir(), "missing.xml")
	target := &Target{Kind: KindPackage, RelativeURL: "repodata/missing.xml", Dest: dest}

	err := engine.Perform(context.Background(), []*Target{target}, true)
	if err == nil {
		t.Fatal("expected an error when the only mirror returns 404")
	}
	if target.Status != StatusError {
		t.Errorf("Status = %v, want Error", target.Status)
	}
}

func TestEngineAlreadyExistsShortCircuitsOnResume(t *testing.T) {
	const body = "already have this"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be contacted when the digest already matches on disk")
	}))
	defer srv.Close()

	digest, err := repomd.Digest(repomd.SHA256, stringReader(body))
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	dest := filepath.Join(t.TempDir(), "primary.xml")
	if err := os.WriteFile(dest, []byte(body), 0o644); err != nil {
		t.Fatalf("seed dest: %v", err)
	}

	engine, _ := newTestEngine(t, srv.URL)
	target := &Target{
		Kind:           KindPackage,
		RelativeURL:    "repodata/primary.xml",
		Dest:           dest,
		ExpectedDigest: digest,
		DigestAlgo:     repomd.SHA256,
		Resume:         true,
	}

	if err := engine.Perform(context.Background(), []*Target{target}, true); err != nil {
		t.Fatalf("Perform: %v", err)
	}
	if target.Status != StatusAlreadyExists {
		t.Errorf("Status = %v, want AlreadyExists", target.Status)
	}
}

func TestEngineFixedBaseURLTargetDoesNotRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	// A second, healthy mirror is in the list, but the target pins BaseURL
	// so it must never fall back to it.
	engine, _ := newTestEngine(t, srv.URL, "http://unused.invalid")
	dest := filepath.Join(t.TempDir(), "repomd.xml.asc")
	target := &Target{Kind: KindMetadata, RelativeURL: "repodata/repomd.xml.asc", BaseURL: srv.URL, Dest: dest}

	err := engine.Perform(context.Background(), []*Target{target}, true)
	if err == nil {
		t.Fatal("expected an error from the pinned mirror's 404")
	}
	if calls != 1 {
		t.Errorf("server was called %d times, want exactly 1 (no retry for a fixed BaseURL target)", calls)
	}
}

func stringReader(s string) *strings.Reader { return strings.NewReader(s) }
