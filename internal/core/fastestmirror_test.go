package core

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFastestMirrorCacheMissingFileIsEmpty(t *testing.T) {
	entries, err := LoadFastestMirrorCache(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("LoadFastestMirrorCache: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty map, got %v", entries)
	}
}

func TestLoadFastestMirrorCacheDropsGarbledLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache")
	content := "mirror.example\t1700000000\t12.5\nmalformed-line\nother.example\tNaN\t3\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	entries, err := LoadFastestMirrorCache(path)
	if err != nil {
		t.Fatalf("LoadFastestMirrorCache: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1 (garbled lines dropped)", len(entries))
	}
	e, ok := entries["mirror.example"]
	if !ok || e.rttMs != 12.5 {
		t.Errorf("entries[mirror.example] = %+v", e)
	}
}

func TestSaveFastestMirrorCacheRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache")
	mirrors := []*Mirror{
		{URL: "http://a.example/repo", MeasuredRTTMs: 5},
		{URL: "http://b.example/repo", MeasuredRTTMs: -1}, // unmeasured, excluded
	}
	if err := saveFastestMirrorCache(path, mirrors, nil, 3600, 1000); err != nil {
		t.Fatalf("saveFastestMirrorCache: %v", err)
	}
	loaded, err := LoadFastestMirrorCache(path)
	if err != nil {
		t.Fatalf("LoadFastestMirrorCache: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("len(loaded) = %d, want 1", len(loaded))
	}
	if loaded["a.example"].rttMs != 5 {
		t.Errorf("a.example rtt = %v", loaded["a.example"].rttMs)
	}
}

func TestRunFastestMirrorSkipsProbingForSingleMirror(t *testing.T) {
	cfg := NewConfig()
	cfg.FastestMirrorTimeout = 0.1
	list := &MirrorList{Mirrors: []*Mirror{{URL: "http://only.example/repo", MeasuredRTTMs: -1}}}

	var stages []FastestMirrorStage
	cb := func(stage FastestMirrorStage, n int) { stages = append(stages, stage) }

	if err := RunFastestMirror(cfg, list, cb); err != nil {
		t.Fatalf("RunFastestMirror: %v", err)
	}
	for _, s := range stages {
		if s == StageDetection {
			t.Error("a single-mirror list must not trigger the Detection stage")
		}
	}
}

func TestRunFastestMirrorProbesMultipleMirrors(t *testing.T) {
	cfg := NewConfig()
	cfg.FastestMirrorTimeout = 0.1
	list := &MirrorList{Mirrors: []*Mirror{
		{URL: "http://one.example/repo", MeasuredRTTMs: -1},
		{URL: "http://two.invalid.invalid/repo", MeasuredRTTMs: -1},
	}}

	var sawDetection bool
	cb := func(stage FastestMirrorStage, n int) {
		if stage == StageDetection {
			sawDetection = true
		}
	}
	if err := RunFastestMirror(cfg, list, cb); err != nil {
		t.Fatalf("RunFastestMirror: %v", err)
	}
	if !sawDetection {
		t.Error("expected the Detection stage to fire for a multi-mirror list")
	}
}
