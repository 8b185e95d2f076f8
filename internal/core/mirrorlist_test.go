package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolveMirrorsFromBaseURLsOnly(t *testing.T) {
	cfg := NewConfig()
	cfg.BaseURLs = []string{"http://mirror-a.example/repo/", "http://mirror-b.example/repo"}

	res, err := ResolveMirrors(context.Background(), http.DefaultClient, cfg)
	if err != nil {
		t.Fatalf("ResolveMirrors: %v", err)
	}
	if len(res.List.Mirrors) != 2 {
		t.Fatalf("len(Mirrors) = %d, want 2", len(res.List.Mirrors))
	}
	if res.List.Mirrors[0].Preference <= res.List.Mirrors[1].Preference {
		t.Error("earlier base URLs should rank above later ones")
	}
}

func TestResolveMirrorsVariableSubstitution(t *testing.T) {
	cfg := NewConfig()
	cfg.BaseURLs = []string{"http://mirror.example/$basearch/repo"}
	cfg.SubstitutionMap = map[string]string{"basearch": "x86_64"}

	res, err := ResolveMirrors(context.Background(), http.DefaultClient, cfg)
	if err != nil {
		t.Fatalf("ResolveMirrors: %v", err)
	}
	if res.List.Mirrors[0].URL != "http://mirror.example/x86_64/repo" {
		t.Errorf("URL = %q", res.List.Mirrors[0].URL)
	}
}

func TestResolveMirrorsFromMirrorlistURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("http://m1.example/repo\nhttp://m2.example/repo\n# comment\n"))
	}))
	defer srv.Close()

	cfg := NewConfig()
	cfg.MirrorlistURL = srv.URL

	res, err := ResolveMirrors(context.Background(), http.DefaultClient, cfg)
	if err != nil {
		t.Fatalf("ResolveMirrors: %v", err)
	}
	if len(res.List.Mirrors) != 2 {
		t.Fatalf("len(Mirrors) = %d, want 2", len(res.List.Mirrors))
	}
}

func TestResolveMirrorsFromMetalinkURLStripsManifestSuffix(t *testing.T) {
	const metalinkXML = `<?xml version="1.0"?>
<metalink version="3.0">
  <files>
    <file name="repomd.xml">
      <resources>
        <url protocol="http" type="http" preference="100">http://m1.example/repo/repodata/repomd.xml</url>
        <url protocol="http" type="http" preference="90">http://m2.example/repo/repodata/repomd.xml</url>
      </resources>
    </file>
  </files>
</metalink>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(metalinkXML))
	}))
	defer srv.Close()

	cfg := NewConfig()
	cfg.MetalinkURL = srv.URL

	res, err := ResolveMirrors(context.Background(), http.DefaultClient, cfg)
	if err != nil {
		t.Fatalf("ResolveMirrors: %v", err)
	}
	if len(res.List.Mirrors) != 2 {
		t.Fatalf("len(Mirrors) = %d, want 2", len(res.List.Mirrors))
	}
	for _, m := range res.List.Mirrors {
		if m.URL != "http://m1.example/repo/" && m.URL != "http://m2.example/repo/" {
			t.Errorf("repomd.xml suffix not stripped: %q", m.URL)
		}
	}
	if res.Metalink == nil {
		t.Error("expected Metalink to be populated")
	}
}

func TestResolveMirrorsNoSourceIsError(t *testing.T) {
	cfg := NewConfig()
	_, err := ResolveMirrors(context.Background(), http.DefaultClient, cfg)
	if !IsCode(err, ErrNoUrl) {
		t.Errorf("expected ErrNoUrl, got %v", err)
	}
}
