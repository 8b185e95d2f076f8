package core

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// transport builds the shared *http.Client every mirror fetch and
// resolver fetch uses, tuned the way mirrorctl's clonedTransport is:
// bounded idle connections, context-driven deadlines rather than a
// blanket client timeout, and an IP-family-restricted dialer.
func newTransport(cfg *Config) (*http.Client, error) {
	tlsConfig, err := cfg.TLS.BuildTLSConfig()
	if err != nil {
		return nil, errors.Wrap(err, "build TLS config")
	}

	dialer := &net.Dialer{
		Timeout: time.Duration(cfg.ConnectTimeout) * time.Second,
	}
	dialContext := dialer.DialContext
	if cfg.IPResolve != IPResolveWhatever {
		network := "tcp4"
		if cfg.IPResolve == IPResolveV6 {
			network = "tcp6"
		}
		dialContext = func(ctx context.Context, _, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		}
	}

	rt := &http.Transport{
		Proxy:               proxyFunc(cfg.Proxy),
		DialContext:         dialContext,
		TLSClientConfig:     tlsConfig,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	client := &http.Client{Transport: rt}
	if !cfg.FollowLocation {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client, nil
}

func proxyFunc(p ProxyConfig) func(*http.Request) (*url.URL, error) {
	if p.URL == "" {
		return http.ProxyFromEnvironment
	}
	raw := p.URL
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return http.ProxyFromEnvironment
	}
	if p.Port != 0 {
		u.Host = u.Hostname() + ":" + strconv.Itoa(p.Port)
	}
	if p.UserPwd != "" {
		user, pass, ok := strings.Cut(p.UserPwd, ":")
		if ok {
			u.User = url.UserPassword(user, pass)
		}
	}
	return func(*http.Request) (*url.URL, error) { return u, nil }
}

// newRequest builds a GET request mimicking the headers a real
// downloader sends, and applies the configured extra headers and
// basic auth.
func newRequest(ctx context.Context, cfg *Config, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "repoget/1.0"
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Cache-Control", "max-age=0")
	for _, h := range cfg.HTTPHeader {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			continue
		}
		req.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	if cfg.UserPwd != "" && cfg.HTTPAuth&AuthBasic != 0 {
		user, pass, ok := strings.Cut(cfg.UserPwd, ":")
		if ok {
			req.SetBasicAuth(user, pass)
		}
	}
	return req, nil
}

// fetchAll performs a single GET (or a local read) and returns the
// whole body, used by the mirror resolver for mirrorlist/metalink
// documents.
func fetchAll(ctx context.Context, client *http.Client, cfg *Config, rawURL string) ([]byte, error) {
	if isLocalURL(rawURL) {
		return readLocal(rawURL)
	}
	req, err := newRequest(ctx, cfg, rawURL)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, wrapErr(ErrTransport, err, "fetch "+rawURL)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newErr(ErrBadStatus, "fetch "+rawURL+": HTTP "+resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapErr(ErrIO, err, "read body of "+rawURL)
	}
	return body, nil
}

func isLocalURL(raw string) bool {
	return strings.HasPrefix(raw, "file://") || !strings.Contains(raw, "://")
}

func localPath(raw string) string {
	return strings.TrimPrefix(raw, "file://")
}

func readLocal(raw string) ([]byte, error) {
	data, err := readFileFunc(localPath(raw))
	if err != nil {
		return nil, wrapErr(ErrIO, err, "read local file "+raw)
	}
	return data, nil
}

// readFileFunc is a seam for tests; production code reads the real
// filesystem.
var readFileFunc = os.ReadFile
