package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"time"

	"go.uber.org/zap"
)

// HTTPProvider serves any http(s) URL that is not a mod.io page. Identity
// is the URL itself; the version is whatever freshness marker the server
// exposes (ETag preferred, Last-Modified otherwise).
type HTTPProvider struct {
	HTTPClient *http.Client
	log        *zap.SugaredLogger
}

func NewHTTPProvider(log *zap.SugaredLogger) *HTTPProvider {
	return &HTTPProvider{
		HTTPClient: &http.Client{Timeout: 2 * time.Minute},
		log:        log,
	}
}

func (p *HTTPProvider) Name() string { return "http" }

func (p *HTTPProvider) Match(spec Spec) bool { return spec.Kind == KindHTTP }

func (p *HTTPProvider) Resolve(ctx context.Context, spec Spec) (*ResolvedMod, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, spec.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &UnavailableError{Provider: "http", Err: err}
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusMethodNotAllowed {
		// Servers that refuse HEAD still usually answer GET; treat the
		// payload as current and versionless.
		resp = nil
	} else if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPStatusError{URL: spec.URL, Status: resp.StatusCode}
	}

	mod := &ResolvedMod{
		Spec:     spec,
		Provider: "http",
		Key:      "http:" + spec.URL,
		Name:     nameFromURL(spec.URL),
	}
	if resp != nil {
		if v := freshnessMarker(resp.Header); v != "" {
			mod.Versions = []Version{{ID: v, Name: v}}
		}
	}
	return mod, nil
}

// freshnessMarker prefers ETag over Last-Modified. An empty result means
// the payload is refetched only on explicit cache update.
func freshnessMarker(h http.Header) string {
	if etag := h.Get("ETag"); etag != "" {
		return etag
	}
	return h.Get("Last-Modified")
}

func nameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" || u.Path == "/" {
		return raw
	}
	return path.Base(u.Path)
}

func (p *HTTPProvider) Fetch(ctx context.Context, mod *ResolvedMod, _ string, sink Sink) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mod.Spec.URL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}
		return "", 0, &UnavailableError{Provider: "http", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, &HTTPStatusError{URL: mod.Spec.URL, Status: resp.StatusCode}
	}
	p.log.Infow("Downloading mod", zap.String("url", mod.Spec.URL))
	return sink.Put(ctx, resp.Body)
}
