package repomd

import (
	"bytes"
	"compress/gzip"
	"io"
	"testing"
)

func TestOpenDecompressorGzip(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	gw.Write([]byte("primary.xml contents"))
	gw.Close()

	r, err := OpenDecompressor("primary.xml.gz", &buf)
	if err != nil {
		t.Fatalf("OpenDecompressor: %v", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "primary.xml contents" {
		t.Errorf("data = %q", data)
	}
}

func TestOpenDecompressorPassthroughUnknownExtension(t *testing.T) {
	r, err := OpenDecompressor("primary.xml", bytes.NewReader([]byte("plain content")))
	if err != nil {
		t.Fatalf("OpenDecompressor: %v", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "plain content" {
		t.Errorf("data = %q", data)
	}
}
