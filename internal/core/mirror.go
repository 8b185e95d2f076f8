package core

import (
	"net/url"
	"sort"
)

// Mirror is one candidate repository root, per spec.md §3 Mirror.
type Mirror struct {
	URL                 string
	Preference          int
	Failures            int
	SuccessfulTransfers  int
	Retired             bool
	MeasuredRTTMs       float64 // -1 means unmeasured
}

// HasRTT reports whether a latency probe has recorded a value.
func (m *Mirror) HasRTT() bool { return m.MeasuredRTTMs >= 0 }

// score is the adaptive-sorting metric from spec.md §4.4: higher is
// worse.
func (m *Mirror) score() float64 {
	total := m.Failures + m.SuccessfulTransfers
	if total == 0 {
		return 0
	}
	return float64(m.Failures) / float64(total)
}

// MirrorList is the ordered, per-Handle sequence of Mirrors. Index
// positions are stable within one sort pass; adaptive sorting and
// fastest-mirror probing permute the slice itself, so callers that
// need to remember "already tried" state must key on URL (per
// spec.md §9 design note), never on index.
type MirrorList struct {
	Mirrors []*Mirror
}

// dedupAppend appends url with the given preference unless its
// canonical form (scheme+host+path, ignoring trailing slash) is
// already present; first occurrence wins, per spec.md §4.1 step 7.
func (ml *MirrorList) dedupAppend(rawURL string, preference int) {
	canon := canonicalMirrorURL(rawURL)
	for _, m := range ml.Mirrors {
		if canonicalMirrorURL(m.URL) == canon {
			return
		}
	}
	ml.Mirrors = append(ml.Mirrors, &Mirror{
		URL:           rawURL,
		Preference:    preference,
		MeasuredRTTMs: -1,
	})
}

func canonicalMirrorURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Path = trimTrailingSlash(u.Path)
	return u.String()
}

func trimTrailingSlash(p string) string {
	for len(p) > 1 && p[len(p)-1] == '/' {
		p = p[:len(p)-1]
	}
	return p
}

// RecordOutcome updates failure/success counters for the mirror
// matching rawURL and retires it when allowedMirrorFailures is
// reached with zero successes, per spec.md §4.4.
func (ml *MirrorList) RecordOutcome(rawURL string, success bool, allowedMirrorFailures int) {
	for _, m := range ml.Mirrors {
		if m.URL != rawURL {
			continue
		}
		if success {
			m.SuccessfulTransfers++
		} else {
			m.Failures++
		}
		if m.SuccessfulTransfers == 0 && allowedMirrorFailures > 0 && m.Failures >= allowedMirrorFailures {
			m.Retired = true
		}
		return
	}
}

// AdaptiveSort restable-sorts the non-retired prefix by ascending
// score, tie-broken by descending preference (spec.md §4.4). Retired
// mirrors are moved to the end, stable among themselves.
func (ml *MirrorList) AdaptiveSort() {
	sort.SliceStable(ml.Mirrors, func(i, j int) bool {
		a, b := ml.Mirrors[i], ml.Mirrors[j]
		if a.Retired != b.Retired {
			return !a.Retired // non-retired first
		}
		if a.Retired {
			return false
		}
		sa, sb := a.score(), b.score()
		if sa != sb {
			return sa < sb
		}
		return a.Preference > b.Preference
	})
}

// SortByRTT orders by ascending MeasuredRTTMs (unmeasured/failed
// probes sort last as +Inf), tie-broken by preference, retired last.
// Used by FastestMirror (spec.md §4.2 step 4).
func (ml *MirrorList) SortByRTT() {
	sort.SliceStable(ml.Mirrors, func(i, j int) bool {
		a, b := ml.Mirrors[i], ml.Mirrors[j]
		if a.Retired != b.Retired {
			return !a.Retired
		}
		if a.Retired {
			return false
		}
		ra, rb := rttOrInf(a), rttOrInf(b)
		if ra != rb {
			return ra < rb
		}
		return a.Preference > b.Preference
	})
}

func rttOrInf(m *Mirror) float64 {
	if m.MeasuredRTTMs < 0 {
		return 1e18
	}
	return m.MeasuredRTTMs
}

// Eligible returns mirrors not retired, with fewer than
// maxDownloadsPerMirror active transfers, with urls not yet tried for
// the current target ahead of urls already tried (which stay in the
// result, after them) — spec.md §4.4 Selection order.
func (ml *MirrorList) Eligible(active map[string]int, maxDownloadsPerMirror int, tried map[string]bool) []*Mirror {
	var untried, retry []*Mirror
	for _, m := range ml.Mirrors {
		if m.Retired {
			continue
		}
		if active[m.URL] >= maxDownloadsPerMirror {
			continue
		}
		if tried[m.URL] {
			retry = append(retry, m)
		} else {
			untried = append(untried, m)
		}
	}
	return append(untried, retry...)
}
