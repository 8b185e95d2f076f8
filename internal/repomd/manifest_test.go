package repomd

import (
	"strings"
	"testing"
)

func sampleRepomd() string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<repomd xmlns="http://linux.duke.edu/metadata/repo">
  <revision>1700000000</revision>
  <tags>
    <repo>rhel-9</repo>
    <content>binary-x86_64</content>
    <distro cpeid="cpe:/o:example:9">Example Linux 9</distro>
  </tags>
  <data type="primary">
    <checksum type="sha256">4543abcd00000000000000000000000000000000000000000000000000007b58</checksum>
    <open-checksum type="sha256">00000000000000000000000000000000000000000000000000000000000000aa</open-checksum>
    <location href="repodata/4543-primary.xml.gz"/>
    <timestamp>1700000000.0</timestamp>
    <size>2621</size>
    <open-size>9000</open-size>
  </data>
  <data type="filelists">
    <checksum type="sha256">bbbb000000000000000000000000000000000000000000000000000000000000</checksum>
    <location href="repodata/bbbb-filelists.xml.gz"/>
    <timestamp>1699999999</timestamp>
    <size>1000</size>
  </data>
</repomd>`
}

func TestParseManifestBasics(t *testing.T) {
	m, err := ParseManifest(strings.NewReader(sampleRepomd()))
	if err != nil {
		t.Fatal(err)
	}
	if m.Revision != "1700000000" {
		t.Errorf("revision = %q", m.Revision)
	}
	if len(m.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(m.Records))
	}
	primary, ok := m.Records["primary"]
	if !ok {
		t.Fatal("missing primary record")
	}
	if primary.ChecksumType != SHA256 {
		t.Errorf("checksum type = %q", primary.ChecksumType)
	}
	if primary.Href != "repodata/4543-primary.xml.gz" {
		t.Errorf("href = %q", primary.Href)
	}
	if primary.Timestamp != 1700000000 {
		t.Errorf("timestamp = %d", primary.Timestamp)
	}
	if len(m.DistroTags) != 1 || m.DistroTags[0].CPEID != "cpe:/o:example:9" {
		t.Errorf("distro tags = %+v", m.DistroTags)
	}
}

func TestHighestTimestamp(t *testing.T) {
	m, err := ParseManifest(strings.NewReader(sampleRepomd()))
	if err != nil {
		t.Fatal(err)
	}
	got := m.HighestTimestamp([]string{"primary", "filelists"})
	if got != 1700000000 {
		t.Errorf("highest timestamp = %d", got)
	}
}

func TestParseManifestEmpty(t *testing.T) {
	_, err := ParseManifest(strings.NewReader(`<repomd></repomd>`))
	if err == nil {
		t.Fatal("expected error for manifest with no records")
	}
}
