package repomd

import (
	"encoding/xml"
	"io"
	"strconv"

	"github.com/cockroachdb/errors"
)

// Manifest is the parsed form of repomd.xml: a listing of the data
// records that constitute a repository, plus the top-level revision
// and tag metadata.
type Manifest struct {
	Revision    string
	RepoTags    []string
	ContentTags []string
	DistroTags  []DistroTag
	Records     map[string]Record // keyed by Record.Type
}

// DistroTag is a tags/distro element, optionally carrying a CPE ID.
type DistroTag struct {
	CPEID string
	Value string
}

// Record is one <data> element of repomd.xml.
type Record struct {
	Type             string
	Href             string
	ChecksumType     DigestAlgo
	Checksum         string
	OpenChecksumType DigestAlgo
	OpenChecksum     string
	Size             uint64
	OpenSize         uint64
	Timestamp        int64
	DatabaseVersion  int
}

// xml wire structs, unexported: only the fields the core consumes are
// modeled, per spec.md's "specified only at the level of the fields
// the core consumes".
type xmlRepomd struct {
	XMLName  xml.Name    `xml:"repomd"`
	Revision string      `xml:"revision"`
	Tags     xmlTags     `xml:"tags"`
	Data     []xmlRecord `xml:"data"`
}

type xmlTags struct {
	Repo    []string      `xml:"repo"`
	Content []string      `xml:"content"`
	Distro  []xmlDistroEl `xml:"distro"`
}

type xmlDistroEl struct {
	CPEID string `xml:"cpeid,attr"`
	Value string `xml:",chardata"`
}

type xmlRecord struct {
	Type            string         `xml:"type,attr"`
	Checksum        xmlChecksum    `xml:"checksum"`
	OpenChecksum    *xmlChecksum   `xml:"open-checksum"`
	Location        xmlLocation    `xml:"location"`
	Timestamp       string         `xml:"timestamp"`
	Size            uint64         `xml:"size"`
	OpenSize        uint64         `xml:"open-size"`
	DatabaseVersion *int           `xml:"database_version"`
}

type xmlChecksum struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type xmlLocation struct {
	Href string `xml:"href,attr"`
}

// ParseManifest decodes a repomd.xml document. Unknown elements and
// attributes are ignored; a malformed document, or one with no usable
// <data> records, yields an error (which core.MetadataFetch wraps as
// ErrRepomdXml).
func ParseManifest(r io.Reader) (*Manifest, error) {
	var doc xmlRepomd
	dec := xml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "parse repomd.xml")
	}

	m := &Manifest{
		Revision:    doc.Revision,
		RepoTags:    doc.Tags.Repo,
		ContentTags: doc.Tags.Content,
		Records:     make(map[string]Record, len(doc.Data)),
	}
	for _, d := range doc.Tags.Distro {
		m.DistroTags = append(m.DistroTags, DistroTag{CPEID: d.CPEID, Value: d.Value})
	}

	for _, d := range doc.Data {
		if d.Type == "" || d.Location.Href == "" {
			continue
		}
		rec := Record{
			Type:     d.Type,
			Href:     d.Location.Href,
			Checksum: d.Checksum.Value,
			Size:     d.Size,
			OpenSize: d.OpenSize,
		}
		if algo, ok := NormalizeAlgo(d.Checksum.Type); ok {
			rec.ChecksumType = algo
		}
		if d.OpenChecksum != nil {
			rec.OpenChecksum = d.OpenChecksum.Value
			if algo, ok := NormalizeAlgo(d.OpenChecksum.Type); ok {
				rec.OpenChecksumType = algo
			}
		}
		if d.Timestamp != "" {
			// repomd.xml sometimes carries a float timestamp ("1700000000.0");
			// truncate rather than fail the whole manifest over it.
			if ts, err := strconv.ParseFloat(d.Timestamp, 64); err == nil {
				rec.Timestamp = int64(ts)
			}
		}
		if d.DatabaseVersion != nil {
			rec.DatabaseVersion = *d.DatabaseVersion
		}
		m.Records[rec.Type] = rec
	}

	if len(m.Records) == 0 {
		return nil, errors.New("repomd.xml: no data records found")
	}
	return m, nil
}

// HighestTimestamp returns the maximum Timestamp across the given
// record types, or 0 if none are present.
func (m *Manifest) HighestTimestamp(types []string) int64 {
	var max int64
	for _, t := range types {
		if r, ok := m.Records[t]; ok && r.Timestamp > max {
			max = r.Timestamp
		}
	}
	return max
}
