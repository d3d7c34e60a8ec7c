package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
)

// fakeModio serves the minimal subset of the mod.io v1 API the provider
// touches.
func fakeModio(t *testing.T, download []byte, rateLimitFirst int) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var requests atomic.Int64
	mux := http.NewServeMux()

	mux.HandleFunc("/games/2475/mods", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("name_id") != "test-mod" {
			json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{{
			"id": 1234, "name_id": "test-mod", "name": "Test Mod",
			"tags": []map[string]string{{"name": "Verified"}},
		}}})
	})
	mux.HandleFunc("/games/2475/mods/1234", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id": 1234, "name_id": "test-mod", "name": "Test Mod",
			"tags": []map[string]string{{"name": "Verified"}},
		})
	})
	mux.HandleFunc("/games/2475/mods/1234/files", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{
			{"id": 111, "version": "1.0"},
			{"id": 222, "version": "2.0"},
		}})
	})

	var srv *httptest.Server
	mux.HandleFunc("/games/2475/mods/1234/files/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/games/2475/mods/1234/files/")
		idNum, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			t.Errorf("non-numeric modfile id %q", id)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id": idNum, "version": "2.0",
			"download": map[string]string{"binary_url": srv.URL + "/download/" + id},
		})
	})
	mux.HandleFunc("/download/", func(w http.ResponseWriter, _ *http.Request) {
		w.Write(download)
	})

	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		if n <= int64(rateLimitFirst) {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"code":429}}`)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	return srv, &requests
}

func newTestModio(srv *httptest.Server) *ModioProvider {
	p := NewModioProvider("test-token", zap.NewNop().Sugar())
	p.BaseURL = srv.URL
	return p
}

func TestModioResolveBySlug(t *testing.T) {
	srv, _ := fakeModio(t, nil, 0)
	defer srv.Close()
	p := newTestModio(srv)

	spec, err := Parse("https://mod.io/g/drg/m/test-mod")
	if err != nil {
		t.Fatal(err)
	}
	mod, err := p.Resolve(context.Background(), spec)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if mod.Key != "modio:1234" {
		t.Errorf("Key = %q", mod.Key)
	}
	if mod.Name != "Test Mod" {
		t.Errorf("Name = %q", mod.Name)
	}
	if mod.Approval != "Verified" {
		t.Errorf("Approval = %q", mod.Approval)
	}
	// newest first
	if mod.Latest() != "222" {
		t.Errorf("Latest() = %q, want 222", mod.Latest())
	}
	if len(mod.Versions) != 2 {
		t.Errorf("len(Versions) = %d", len(mod.Versions))
	}
}

func TestModioResolveUnknownSlug(t *testing.T) {
	srv, _ := fakeModio(t, nil, 0)
	defer srv.Close()
	p := newTestModio(srv)

	spec, _ := Parse("https://mod.io/g/drg/m/nope")
	_, err := p.Resolve(context.Background(), spec)
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.Status != 404 {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestModioFetch(t *testing.T) {
	payload := []byte("modfile payload")
	srv, _ := fakeModio(t, payload, 0)
	defer srv.Close()
	p := newTestModio(srv)

	spec, _ := Parse("https://mod.io/g/drg/m/test-mod")
	mod, err := p.Resolve(context.Background(), spec)
	if err != nil {
		t.Fatal(err)
	}
	sink := &memSink{}
	_, size, err := p.Fetch(context.Background(), mod, "", sink)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if size != int64(len(payload)) {
		t.Errorf("size = %d, want %d", size, len(payload))
	}
	if sink.puts != 1 {
		t.Errorf("sink.puts = %d, want exactly one artifact", sink.puts)
	}
}

func TestModioRateLimitThenSuccess(t *testing.T) {
	srv, requests := fakeModio(t, []byte("x"), 2)
	defer srv.Close()
	p := newTestModio(srv)

	spec, _ := Parse("https://mod.io/g/drg/m/test-mod")
	mod, err := p.Resolve(context.Background(), spec)
	if err != nil {
		t.Fatalf("Resolve after rate limit: %v", err)
	}
	if mod.Key != "modio:1234" {
		t.Errorf("Key = %q", mod.Key)
	}
	if requests.Load() < 3 {
		t.Errorf("expected retries, saw %d requests", requests.Load())
	}
}

func TestModioRateLimitExhausted(t *testing.T) {
	srv, _ := fakeModio(t, nil, 1000)
	defer srv.Close()
	p := newTestModio(srv)

	spec, _ := Parse("https://mod.io/g/drg/m/test-mod")
	_, err := p.Resolve(context.Background(), spec)
	var limited *RateLimitedError
	if !errors.As(err, &limited) {
		t.Errorf("expected RateLimitedError, got %v", err)
	}
}

func TestModioAuthMissing(t *testing.T) {
	p := NewModioProvider("", zap.NewNop().Sugar())
	spec, _ := Parse("https://mod.io/g/drg/m/test-mod")
	_, err := p.Resolve(context.Background(), spec)
	var missing *AuthMissingError
	if !errors.As(err, &missing) {
		t.Errorf("expected AuthMissingError, got %v", err)
	}
}
