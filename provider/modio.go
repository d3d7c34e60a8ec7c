package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	modioAPIURL    = "https://api.mod.io/v1"
	modioDRGGameID = 2475

	modioMaxAttempts   = 5
	modioBaseBackoff   = 2 * time.Second
	modioRequestBudget = 2 * time.Minute
)

// ModioProvider resolves and fetches mods hosted on mod.io.
type ModioProvider struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	log        *zap.SugaredLogger
}

func NewModioProvider(token string, log *zap.SugaredLogger) *ModioProvider {
	return &ModioProvider{
		BaseURL: modioAPIURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: modioRequestBudget,
		},
		log: log,
	}
}

func (p *ModioProvider) Name() string { return "modio" }

func (p *ModioProvider) Match(spec Spec) bool { return spec.Kind == KindModio }

// makeRequest performs one API call with bounded retry on rate limiting.
// Retry-After is honored when present; otherwise exponential backoff with
// jitter. A nil target skips JSON decoding and returns the open response.
func (p *ModioProvider) makeRequest(ctx context.Context, fullURL string, queryParams url.Values, target interface{}) (*http.Response, error) {
	if p.Token == "" {
		return nil, &AuthMissingError{}
	}
	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		if queryParams != nil {
			req.URL.RawQuery = queryParams.Encode()
		}
		req.Header.Set("Authorization", "Bearer "+p.Token)
		req.Header.Set("Accept", "application/json")

		resp, err := p.HTTPClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &UnavailableError{Provider: "modio", Err: err}
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if attempt >= modioMaxAttempts {
				return nil, &RateLimitedError{URL: fullURL, Attempts: attempt}
			}
			delay := retryDelay(resp.Header.Get("Retry-After"), attempt)
			p.log.Warnw("Rate limited by mod.io, backing off",
				zap.String("url", req.URL.Path),
				zap.Duration("delay", delay),
				zap.Int("attempt", attempt),
			)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if resp.StatusCode == http.StatusUnauthorized {
			resp.Body.Close()
			return nil, fmt.Errorf("mod.io rejected the OAuth token: %w", &HTTPStatusError{URL: fullURL, Status: resp.StatusCode})
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			return nil, &HTTPStatusError{URL: fullURL, Status: resp.StatusCode}
		}

		if target != nil {
			defer resp.Body.Close()
			if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
				return resp, fmt.Errorf("failed to decode json response: %w", err)
			}
		}
		return resp, nil
	}
}

func retryDelay(retryAfter string, attempt int) time.Duration {
	if retryAfter != "" {
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	backoff := modioBaseBackoff << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
	return backoff + jitter
}

// Resolve finds the mod and its modfile listing. Specs pinned to a mod id
// skip the name lookup; the name_id form searches by slug.
func (p *ModioProvider) Resolve(ctx context.Context, spec Spec) (*ResolvedMod, error) {
	var mod modioMod
	if spec.ModID != 0 {
		_, err := p.makeRequest(ctx,
			fmt.Sprintf("%s/games/%d/mods/%d", p.BaseURL, modioDRGGameID, spec.ModID), nil, &mod)
		if err != nil {
			return nil, err
		}
	} else {
		params := url.Values{}
		params.Add("name_id", spec.NameID)
		var list modioModList
		_, err := p.makeRequest(ctx,
			fmt.Sprintf("%s/games/%d/mods", p.BaseURL, modioDRGGameID), params, &list)
		if err != nil {
			return nil, err
		}
		switch len(list.Data) {
		case 0:
			return nil, fmt.Errorf("no mod.io mod found for name_id %q: %w", spec.NameID, &HTTPStatusError{URL: spec.Raw, Status: 404})
		case 1:
			mod = list.Data[0]
		default:
			return nil, fmt.Errorf("multiple mod.io mods returned for name_id %q", spec.NameID)
		}
	}

	var files modioFileList
	_, err := p.makeRequest(ctx,
		fmt.Sprintf("%s/games/%d/mods/%d/files", p.BaseURL, modioDRGGameID, mod.ID), nil, &files)
	if err != nil {
		return nil, err
	}

	resolved := &ResolvedMod{
		Spec:     spec,
		Provider: "modio",
		Key:      fmt.Sprintf("modio:%d", mod.ID),
		Name:     mod.Name,
		Approval: approvalFromTags(mod.Tags),
	}
	// newest first
	for i := len(files.Data) - 1; i >= 0; i-- {
		f := files.Data[i]
		resolved.Versions = append(resolved.Versions, Version{
			ID:   strconv.FormatInt(f.ID, 10),
			Name: f.Version,
		})
	}
	if len(resolved.Versions) == 0 {
		return nil, fmt.Errorf("mod %q has no modfile", mod.Name)
	}
	return resolved, nil
}

// Fetch downloads one modfile payload into sink.
func (p *ModioProvider) Fetch(ctx context.Context, mod *ResolvedMod, version string, sink Sink) (string, int64, error) {
	modID, err := strconv.ParseInt(mod.Key[len("modio:"):], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed modio key %q: %w", mod.Key, err)
	}
	if version == "" {
		if mod.Spec.FileID != 0 {
			version = strconv.FormatInt(mod.Spec.FileID, 10)
		} else {
			version = mod.Latest()
		}
	}
	var file modioFile
	_, err = p.makeRequest(ctx,
		fmt.Sprintf("%s/games/%d/mods/%d/files/%s", p.BaseURL, modioDRGGameID, modID, version), nil, &file)
	if err != nil {
		return "", 0, err
	}
	if file.Download.BinaryURL == "" {
		return "", 0, fmt.Errorf("modfile %s of %q has no download URL", version, mod.Name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Download.BinaryURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create download request: %w", err)
	}
	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}
		return "", 0, &UnavailableError{Provider: "modio", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, &HTTPStatusError{URL: file.Download.BinaryURL, Status: resp.StatusCode}
	}
	return sink.Put(ctx, resp.Body)
}

func approvalFromTags(tags []modioTag) string {
	for _, t := range tags {
		switch t.Name {
		case "Verified", "Approved":
			return t.Name
		}
	}
	return "Sandbox"
}

// --- API response shapes (the subset this client needs) ---

type modioMod struct {
	ID     int64      `json:"id"`
	NameID string     `json:"name_id"`
	Name   string     `json:"name"`
	Tags   []modioTag `json:"tags"`
}

type modioTag struct {
	Name string `json:"name"`
}

type modioModList struct {
	Data []modioMod `json:"data"`
}

type modioFile struct {
	ID       int64  `json:"id"`
	Version  string `json:"version"`
	Download struct {
		BinaryURL string `json:"binary_url"`
	} `json:"download"`
}

type modioFileList struct {
	Data []modioFile `json:"data"`
}
