// Package provider turns mod specification strings into resolved mod
// metadata and fetched payload bytes. Three providers are built in:
// mod.io, plain http(s) and local files. Dispatch is syntactic: the first
// provider whose pattern matches a spec owns it.
package provider

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Kind identifies which provider owns a spec.
type Kind int

const (
	KindModio Kind = iota
	KindHTTP
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindModio:
		return "modio"
	case KindHTTP:
		return "http"
	case KindFile:
		return "file"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// modio mod page URLs, with optional pinned mod id and modfile id.
var reModio = regexp.MustCompile(`^https://mod\.io/g/drg/m/(?P<name_id>[^/#]+)(?:#(?P<mod_id>\d+)(?:/(?P<modfile_id>\d+))?)?$`)

// Spec is a parsed mod specification string.
type Spec struct {
	Raw  string
	Kind Kind

	// modio fields
	NameID string
	ModID  int64 // 0 when unpinned
	FileID int64 // 0 when unpinned

	// http field
	URL string

	// file field
	Path string
}

// SpecParseError reports a string no provider recognizes.
type SpecParseError struct {
	Spec string
}

func (e *SpecParseError) Error() string {
	return fmt.Sprintf("unrecognized mod spec %q (expected a mod.io URL, an http(s) URL, or an absolute path)", e.Spec)
}

// Parse matches a raw spec string against the provider patterns, in
// order: mod.io URL, generic http(s) URL, absolute filesystem path.
func Parse(raw string) (Spec, error) {
	raw = strings.TrimSpace(raw)
	if m := reModio.FindStringSubmatch(raw); m != nil {
		s := Spec{Raw: raw, Kind: KindModio, NameID: m[1]}
		if m[2] != "" {
			s.ModID, _ = strconv.ParseInt(m[2], 10, 64)
		}
		if m[3] != "" {
			s.FileID, _ = strconv.ParseInt(m[3], 10, 64)
		}
		return s, nil
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		if _, err := url.Parse(raw); err != nil {
			return Spec{}, &SpecParseError{Spec: raw}
		}
		return Spec{Raw: raw, Kind: KindHTTP, URL: raw}, nil
	}
	if filepath.IsAbs(raw) {
		ext := strings.ToLower(filepath.Ext(raw))
		if ext != ".pak" && ext != ".zip" {
			return Spec{}, &SpecParseError{Spec: raw}
		}
		return Spec{Raw: raw, Kind: KindFile, Path: raw}, nil
	}
	return Spec{}, &SpecParseError{Spec: raw}
}

// Version is one fetchable version of a mod, newest first in listings.
type Version struct {
	ID   string
	Name string
}

// ResolvedMod is provider metadata for a spec: a stable identity plus the
// known versions. It carries no payload bytes.
type ResolvedMod struct {
	Spec     Spec      `json:"spec"`
	Provider string    `json:"provider"`
	Key      string    `json:"key"` // stable identity, e.g. "modio:12345"
	Name     string    `json:"name"`
	Versions []Version `json:"versions,omitempty"`
	Approval string    `json:"approval,omitempty"` // Verified, Approved, Sandbox
	Degraded bool      `json:"-"`                  // served from cache while offline
}

// Latest returns the newest version id, or "" when the provider exposes
// no version notion.
func (m *ResolvedMod) Latest() string {
	if len(m.Versions) == 0 {
		return ""
	}
	return m.Versions[0].ID
}

// Sink receives fetched payload bytes; the content store implements it.
type Sink interface {
	Put(ctx context.Context, r io.Reader) (digest string, size int64, err error)
}

// Provider resolves and fetches mods for one spec kind.
type Provider interface {
	Name() string
	Match(spec Spec) bool
	Resolve(ctx context.Context, spec Spec) (*ResolvedMod, error)
	// Fetch downloads the payload for the given version (or the latest
	// when version is empty) into sink, returning its digest and size.
	Fetch(ctx context.Context, mod *ResolvedMod, version string, sink Sink) (digest string, size int64, err error)
}

// Registry dispatches specs across the configured providers.
type Registry struct {
	providers []Provider
}

func NewRegistry(providers ...Provider) *Registry {
	return &Registry{providers: providers}
}

// For returns the provider owning the given spec.
func (r *Registry) For(spec Spec) (Provider, error) {
	for _, p := range r.providers {
		if p.Match(spec) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no provider for spec %q (kind %s)", spec.Raw, spec.Kind)
}

// HTTPStatusError surfaces a non-success status transparently.
type HTTPStatusError struct {
	URL    string
	Status int
}

func (e *HTTPStatusError) Error() string {
	hint := ""
	switch e.Status {
	case 403, 404:
		hint = " (the mod may have been renamed or deleted; try a cache update with the current URL)"
	}
	return fmt.Sprintf("request for %s failed with status %d%s", e.URL, e.Status, hint)
}

// RateLimitedError reports retry exhaustion against a rate-limited host.
type RateLimitedError struct {
	URL      string
	Attempts int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited fetching %s after %d attempts; wait a while before retrying", e.URL, e.Attempts)
}

// AuthMissingError reports a modio spec without a configured OAuth token.
type AuthMissingError struct{}

func (e *AuthMissingError) Error() string {
	return "mod.io OAuth token is not configured (set MODIO_OAUTH or add it to .env)"
}

// UnavailableError wraps network failures; the store may satisfy the
// request from cache when it sees one.
type UnavailableError struct {
	Provider string
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("provider %s unavailable: %v", e.Provider, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }
