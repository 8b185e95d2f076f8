package core

import (
	"bufio"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FastestMirrorStage names the probe lifecycle stages
// fastest_mirror_cb observes, per spec.md §4.2 step 3.
type FastestMirrorStage int

const (
	StageInit FastestMirrorStage = iota
	StageCacheLoading
	StageCacheLoadingStatus
	StageDetection
	StageFinishing
	StageStatus
)

// FastestMirrorCB observes probe lifecycle stages.
type FastestMirrorCB func(stage FastestMirrorStage, candidateCount int)

type cacheEntry struct {
	recordedAt int64
	rttMs      float64
}

// LoadFastestMirrorCache reads the persistent text cache (spec.md
// §3 FastestMirrorCacheEntry, §6.2): "<host>\t<unix_seconds>\t<rtt_ms>".
// Garbled lines are dropped rather than failing the whole load.
func LoadFastestMirrorCache(path string) (map[string]cacheEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]cacheEntry{}, nil
		}
		return nil, wrapErr(ErrIO, err, "open fastest-mirror cache")
	}
	defer f.Close()

	entries := map[string]cacheEntry{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		parts := strings.Split(line, "\t")
		if len(parts) != 3 {
			continue
		}
		recordedAt, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			continue
		}
		rtt, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			continue
		}
		entries[parts[0]] = cacheEntry{recordedAt: recordedAt, rttMs: rtt}
	}
	return entries, nil
}

// saveFastestMirrorCache atomically rewrites the cache file
// (temp + rename, per spec.md §5 Shared resource policy), keeping
// valid non-stale entries for hosts no longer present in mirrors.
func saveFastestMirrorCache(path string, mirrors []*Mirror, previous map[string]cacheEntry, maxAge int64, now int64) error {
	merged := map[string]cacheEntry{}
	for host, e := range previous {
		if now-e.recordedAt <= maxAge {
			merged[host] = e
		}
	}
	for _, m := range mirrors {
		if !m.HasRTT() {
			continue
		}
		host := hostOf(m.URL)
		if host == "" {
			continue
		}
		merged[host] = cacheEntry{recordedAt: now, rttMs: m.MeasuredRTTMs}
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".fastestmirror-*.tmp")
	if err != nil {
		return wrapErr(ErrCannotCreateTmp, err, "create fastest-mirror cache temp file")
	}
	tmpName := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpName)
		}
	}()

	w := bufio.NewWriter(tmp)
	for host, e := range merged {
		fmt.Fprintf(w, "%s\t%d\t%g\n", host, e.recordedAt, e.rttMs)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return wrapErr(ErrIO, err, "write fastest-mirror cache")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return wrapErr(ErrIO, err, "sync fastest-mirror cache")
	}
	if err := tmp.Close(); err != nil {
		return wrapErr(ErrIO, err, "close fastest-mirror cache")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return wrapErr(ErrIO, err, "rename fastest-mirror cache")
	}
	success = true
	_ = DirSync(dir)
	return nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func hostPort(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https", "ftps":
			port = "443"
		default:
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// RunFastestMirror implements FastestMirror (spec.md §4.2): probe
// each candidate by TCP connect, order mirrors ascending by latency,
// and persist the cache. Mirrors whose host already has a valid cache
// entry are not re-probed. Retired mirrors are excluded from probing
// but remain sorted last.
func RunFastestMirror(cfg *Config, list *MirrorList, cb FastestMirrorCB) error {
	if cb != nil {
		cb(StageInit, 0)
	}

	var cached map[string]cacheEntry
	now := time.Now().Unix()
	maxAge := int64(cfg.FastestMirrorMaxAge)

	if cfg.FastestMirrorCache != "" {
		if cb != nil {
			cb(StageCacheLoading, 0)
		}
		var err error
		cached, err = LoadFastestMirrorCache(cfg.FastestMirrorCache)
		if err != nil {
			return err
		}
		if cb != nil {
			cb(StageCacheLoadingStatus, len(cached))
		}
	}

	var candidates []*Mirror
	for _, m := range list.Mirrors {
		if m.Retired {
			continue
		}
		host := hostOf(m.URL)
		if entry, ok := cached[host]; ok && now-entry.recordedAt <= maxAge {
			m.MeasuredRTTMs = entry.rttMs
			continue
		}
		candidates = append(candidates, m)
	}

	// spec.md §8 Boundaries: a single-mirror list skips probing
	// entirely (no Detection stage fired).
	if len(list.Mirrors) > 1 && len(candidates) > 0 {
		if cb != nil {
			cb(StageDetection, len(candidates))
		}
		timeout := time.Duration(cfg.FastestMirrorTimeout * float64(time.Second))
		for _, m := range candidates {
			m.MeasuredRTTMs = probeOnce(m.URL, timeout)
		}
	}

	if cb != nil {
		cb(StageFinishing, 0)
	}
	list.SortByRTT()
	if cb != nil {
		cb(StageStatus, 0)
	}

	if cfg.FastestMirrorCache != "" {
		if err := saveFastestMirrorCache(cfg.FastestMirrorCache, list.Mirrors, cached, maxAge, now); err != nil {
			return err
		}
	}
	return nil
}

// probeOnce measures TCP-connect latency; returns +Inf on any failure
// or timeout, per spec.md §4.2 step 3.
func probeOnce(rawURL string, timeout time.Duration) float64 {
	if isLocalURL(rawURL) {
		return 0
	}
	addr, err := hostPort(rawURL)
	if err != nil {
		return inf()
	}
	start := time.Now()
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return inf()
	}
	elapsed := time.Since(start)
	_ = conn.Close()
	return float64(elapsed.Milliseconds())
}

func inf() float64 { return 1e18 }
