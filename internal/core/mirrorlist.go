package core

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/repoget/repoget/internal/repomd"
)

// ResolveResult is everything MirrorResolver produces in addition to
// the MirrorList itself, per spec.md §4.1 Outputs.
type ResolveResult struct {
	List           *MirrorList
	Metalink       *repomd.Metalink
	MirrorlistPath string // populated when the mirrorlist was materialized locally
	MetalinkPath   string
}

// ResolveMirrors implements MirrorResolver (spec.md §4.1): it turns
// base_urls / mirrorlist_url / metalink_url into an ordered
// MirrorList, applying variable substitution, the RpmMd suffix-strip
// rule, and first-occurrence dedup.
func ResolveMirrors(ctx context.Context, client *http.Client, cfg *Config) (*ResolveResult, error) {
	list := &MirrorList{}
	res := &ResolveResult{List: list}

	pref := len(cfg.BaseURLs) + 2 // base URLs always rank above mirror-source entries (§9 Open Question c)
	for _, raw := range cfg.BaseURLs {
		u := substituteVars(raw, cfg.SubstitutionMap)
		if cfg.Offline && !isLocalURL(u) {
			continue
		}
		list.dedupAppend(u, pref)
		pref--
	}

	if cfg.MirrorlistURL != "" && (isLocalURL(cfg.MirrorlistURL) || !cfg.Offline) {
		body, err := fetchAll(ctx, client, cfg, cfg.MirrorlistURL)
		if err != nil {
			if len(list.Mirrors) == 0 {
				return nil, err
			}
			// non-fatal: at least one base URL remains, per §4.1 Failure policy
			slog.Warn("mirrorlist_url fetch failed, continuing with base URLs only", "url", cfg.MirrorlistURL, "error", err)
		} else {
			if isLocalURL(cfg.MirrorlistURL) {
				res.MirrorlistPath = localPath(cfg.MirrorlistURL)
			}
			if err := appendFromMirrorSource(list, body, cfg, &pref); err != nil {
				return nil, err
			}
			if ml, ok := tryMetalink(body); ok {
				res.Metalink = ml
			}
		}
	}

	if cfg.MetalinkURL != "" && (isLocalURL(cfg.MetalinkURL) || !cfg.Offline) {
		body, err := fetchAll(ctx, client, cfg, cfg.MetalinkURL)
		if err != nil {
			if len(list.Mirrors) == 0 {
				return nil, err
			}
			slog.Warn("metalink_url fetch failed, continuing with already-resolved mirrors", "url", cfg.MetalinkURL, "error", err)
		} else {
			if isLocalURL(cfg.MetalinkURL) {
				res.MetalinkPath = localPath(cfg.MetalinkURL)
			}
			ml, err := repomd.ParseMetalink(bytes.NewReader(body))
			if err != nil {
				return nil, wrapErr(ErrMlXml, err, "parse metalink")
			}
			res.Metalink = ml
			addMetalinkURLs(list, ml, cfg, &pref)
		}
	}

	if len(list.Mirrors) == 0 && !cfg.FetchMirrorsOnly {
		return nil, newErr(ErrNoUrl, "no mirrors could be resolved")
	}
	slog.Info("mirrors resolved", "count", len(list.Mirrors))
	return res, nil
}

// appendFromMirrorSource dispatches on content sniffing (spec.md
// §4.1 step 3): metalink prolog vs plain mirrorlist text.
func appendFromMirrorSource(list *MirrorList, body []byte, cfg *Config, pref *int) error {
	if repomd.LooksLikeMetalink(body) {
		ml, err := repomd.ParseMetalink(bytes.NewReader(body))
		if err != nil {
			return wrapErr(ErrMlXml, err, "parse metalink from mirrorlist_url")
		}
		addMetalinkURLs(list, ml, cfg, pref)
		return nil
	}
	urls, err := repomd.ParseMirrorlist(bytes.NewReader(body))
	if err != nil {
		return wrapErr(ErrMlBad, err, "parse mirrorlist")
	}
	for _, u := range urls {
		u = substituteVars(u, cfg.SubstitutionMap)
		list.dedupAppend(u, *pref)
		*pref--
	}
	return nil
}

func tryMetalink(body []byte) (*repomd.Metalink, bool) {
	if !repomd.LooksLikeMetalink(body) {
		return nil, false
	}
	ml, err := repomd.ParseMetalink(bytes.NewReader(body))
	if err != nil {
		return nil, false
	}
	return ml, true
}

func addMetalinkURLs(list *MirrorList, ml *repomd.Metalink, cfg *Config, pref *int) {
	for _, u := range ml.URLs {
		raw := substituteVars(u.URL, cfg.SubstitutionMap)
		raw = stripRepoTypeSuffix(raw, cfg.RepoType)
		list.dedupAppend(raw, *pref)
		*pref--
	}
}

// stripRepoTypeSuffix applies spec.md §4.1 step 5: metalinks name the
// manifest file, not the repository root the downloader wants.
func stripRepoTypeSuffix(u string, repoType RepoType) string {
	if repoType != RepoTypeRpmMd {
		return u
	}
	const suffix = "/repodata/repomd.xml"
	if strings.HasSuffix(u, suffix) {
		return strings.TrimSuffix(u, suffix) + "/"
	}
	return u
}

// substituteVars replaces every "$name" occurrence with its mapped
// value; unknown names are left literal (spec.md §4.1 step 6).
func substituteVars(u string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(u, "$") {
		return u
	}
	var b strings.Builder
	for i := 0; i < len(u); i++ {
		if u[i] != '$' {
			b.WriteByte(u[i])
			continue
		}
		j := i + 1
		for j < len(u) && isVarNameByte(u[j]) {
			j++
		}
		name := u[i+1 : j]
		if val, ok := vars[name]; ok {
			b.WriteString(val)
			i = j - 1
		} else {
			b.WriteByte('$')
		}
	}
	return b.String()
}

func isVarNameByte(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
