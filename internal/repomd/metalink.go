package repomd

import (
	"bufio"
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Metalink is the parsed form of a metalink mirror descriptor: a
// single named file, its digests, and a ranked list of candidate
// URLs, with optional alternates for when multiple versions of the
// same filename are advertised.
type Metalink struct {
	Filename   string
	Size       uint64
	Hashes     []Hash
	Timestamp  int64
	URLs       []MirrorURL
	Alternates []Alternate
}

// Hash is one <hash type="...">hex</hash> entry.
type Hash struct {
	Algo DigestAlgo
	Hex  string
}

// MirrorURL is one metalink url element.
type MirrorURL struct {
	URL        string
	Type       string
	Protocol   string
	Location   string
	Preference int
}

// Alternate captures a competing (size, hashes) pair for the same
// filename; per spec.md §9 Open Question (a) these are retained
// verbatim, not merged into the primary record.
type Alternate struct {
	Timestamp int64
	Size      uint64
	Hashes    []Hash
}

type xmlMetalink struct {
	XMLName xml.Name    `xml:"metalink"`
	Files   []xmlMlFile `xml:"files>file"`
}

type xmlMlFile struct {
	Name       string          `xml:"name,attr"`
	Size       uint64          `xml:"size"`
	Timestamp  string          `xml:"timestamp"`
	Verif      xmlVerification `xml:"verification"`
	Resources  xmlResources    `xml:"resources"`
	Alternates []xmlAlternate  `xml:"alternates>alternate"`
}

type xmlVerification struct {
	Hashes []xmlHash `xml:"hash"`
}

type xmlHash struct {
	Type string `xml:"type,attr"`
	Hex  string `xml:",chardata"`
}

type xmlResources struct {
	URLs []xmlURL `xml:"url"`
}

type xmlURL struct {
	URL        string `xml:",chardata"`
	Type       string `xml:"type,attr"`
	Protocol   string `xml:"protocol,attr"`
	Location   string `xml:"location,attr"`
	Preference int    `xml:"preference,attr"`
}

type xmlAlternate struct {
	Timestamp string          `xml:"timestamp"`
	Size      uint64          `xml:"size"`
	Verif     xmlVerification `xml:"verification"`
}

// hashStrength ranks algorithms strongest-first so BestHash prefers
// the strongest digest a metalink document offers.
var hashStrength = []DigestAlgo{SHA512, SHA384, SHA256, SHA224, SHA1, MD5}

// BestHash returns the strongest algorithm/hex pair among m.Hashes, so
// a caller verifying the described file picks the best digest on
// offer rather than whichever happened to parse first.
func (m *Metalink) BestHash() (algo DigestAlgo, hex string, ok bool) {
	for _, want := range hashStrength {
		for _, h := range m.Hashes {
			if h.Algo == want {
				return h.Algo, h.Hex, true
			}
		}
	}
	return "", "", false
}

// LooksLikeMetalink applies the heuristic from spec.md §4.1 step 3:
// content containing "<metalink" anywhere (case-insensitive) is a
// metalink document; anything else is treated as a plain mirrorlist.
// An XML prolog alone does not make content a metalink.
func LooksLikeMetalink(head []byte) bool {
	s := strings.ToLower(string(head))
	return strings.Contains(s, "<metalink")
}

// ParseMetalink decodes a metalink XML document. Only the first
// <file> element is consumed: a metalink names exactly one target
// file (the manifest), per spec.md §6.3.
func ParseMetalink(r io.Reader) (*Metalink, error) {
	var doc xmlMetalink
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "parse metalink")
	}
	if len(doc.Files) == 0 {
		return nil, errors.New("metalink: no file element found")
	}
	f := doc.Files[0]

	ml := &Metalink{
		Filename: f.Name,
		Size:     f.Size,
		Hashes:   convertHashes(f.Verif.Hashes),
	}
	if ts, err := strconv.ParseFloat(f.Timestamp, 64); err == nil {
		ml.Timestamp = int64(ts)
	}
	for _, u := range f.Resources.URLs {
		ml.URLs = append(ml.URLs, MirrorURL{
			URL:        strings.TrimSpace(u.URL),
			Type:       u.Type,
			Protocol:   u.Protocol,
			Location:   u.Location,
			Preference: u.Preference,
		})
	}
	for _, a := range f.Alternates {
		alt := Alternate{Size: a.Size, Hashes: convertHashes(a.Verif.Hashes)}
		if ts, err := strconv.ParseFloat(a.Timestamp, 64); err == nil {
			alt.Timestamp = int64(ts)
		}
		ml.Alternates = append(ml.Alternates, alt)
	}
	return ml, nil
}

func convertHashes(in []xmlHash) []Hash {
	out := make([]Hash, 0, len(in))
	for _, h := range in {
		algo, ok := NormalizeAlgo(h.Type)
		if !ok {
			continue
		}
		out = append(out, Hash{Algo: algo, Hex: strings.ToLower(strings.TrimSpace(h.Hex))})
	}
	return out
}

// ParseMirrorlist decodes a plain-text mirrorlist: one URL per
// non-blank, non-comment line, per spec.md §6.3.
func ParseMirrorlist(r io.Reader) ([]string, error) {
	var urls []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "parse mirrorlist")
	}
	return urls, nil
}
