// Package store is the content-addressed cache for fetched mod payloads.
// Blobs are keyed by the SHA-256 of their bytes; a JSON index maps
// provider identities to resolutions and artifacts. All mutations publish
// atomically and concurrent fetches of the same artifact are coalesced.
package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"mint/provider"
)

// Store owns all artifact bytes plus the CacheIndex.
type Store struct {
	root  string
	log   *zap.SugaredLogger
	mu    sync.Mutex // guards index
	index *Index
	group singleflight.Group
}

// Open initializes the on-disk layout under root and loads the index.
func Open(root string, log *zap.SugaredLogger) (*Store, error) {
	for _, dir := range []string{root, filepath.Join(root, "blobs"), filepath.Join(root, "locks")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory %s: %w", dir, err)
		}
	}
	idx, err := loadIndex(filepath.Join(root, "index.json"))
	if err != nil {
		return nil, err
	}
	return &Store{root: root, log: log, index: idx}, nil
}

func (s *Store) indexPath() string { return filepath.Join(s.root, "index.json") }

// BlobPath returns the on-disk location for a digest. The blob may or may
// not exist.
func (s *Store) BlobPath(digest string) string {
	return filepath.Join(s.root, "blobs", digest[:2], digest)
}

// Put streams payload bytes into the blob area and returns their digest.
// The blob is fsynced and renamed into place; writing the same content
// twice is harmless. Implements provider.Sink.
func (s *Store) Put(ctx context.Context, r io.Reader) (string, int64, error) {
	tmp, err := os.CreateTemp(filepath.Join(s.root, "blobs"), ".partial-*")
	if err != nil {
		return "", 0, fmt.Errorf("creating blob temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), &contextReader{ctx: ctx, r: r})
	if err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("writing blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", 0, err
	}
	if err := tmp.Close(); err != nil {
		return "", 0, err
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	dest := s.BlobPath(digest)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", 0, err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", 0, fmt.Errorf("publishing blob %s: %w", digest, err)
	}
	return digest, size, nil
}

// contextReader aborts a long copy when its context is cancelled, which
// is the only suspension point inside Put.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Open returns a reader over a blob's bytes.
func (s *Store) OpenBlob(digest string) (*os.File, error) {
	f, err := os.Open(s.BlobPath(digest))
	if err != nil {
		return nil, fmt.Errorf("opening blob %s: %w", digest, err)
	}
	return f, nil
}

// Resolve returns metadata for a spec. Unless update is set, a cached
// resolution is served without touching the network. When a refresh
// fails because the provider is unreachable and a cached resolution
// exists, it is returned with the Degraded flag set instead of failing;
// callers that require fresh data check the flag.
func (s *Store) Resolve(ctx context.Context, reg *provider.Registry, spec provider.Spec, update bool) (*provider.ResolvedMod, error) {
	if !update {
		if mod := s.cachedResolution(spec); mod != nil {
			return mod, nil
		}
	}

	prov, err := reg.For(spec)
	if err != nil {
		return nil, err
	}
	mod, err := prov.Resolve(ctx, spec)
	if err != nil {
		var unavailable *provider.UnavailableError
		if errors.As(err, &unavailable) {
			if mod := s.cachedResolution(spec); mod != nil {
				s.log.Warnw("Provider unreachable, serving cached resolution",
					zap.String("spec", spec.Raw), zap.Error(err))
				mod.Degraded = true
				return mod, nil
			}
		}
		return nil, err
	}

	s.mu.Lock()
	s.index.Specs[spec.Raw] = mod.Key
	s.index.Mods[mod.Key] = mod
	err = s.saveIndexLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return mod, nil
}

// CachedResolution returns the stored resolution for a raw spec string
// without touching the network, or nil.
func (s *Store) CachedResolution(raw string) *provider.ResolvedMod {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.index.Specs[raw]
	if !ok {
		return nil
	}
	mod, ok := s.index.Mods[key]
	if !ok {
		return nil
	}
	clone := *mod
	return &clone
}

func (s *Store) cachedResolution(spec provider.Spec) *provider.ResolvedMod {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.index.Specs[spec.Raw]
	if !ok {
		return nil
	}
	mod, ok := s.index.Mods[key]
	if !ok {
		return nil
	}
	clone := *mod
	clone.Spec = spec
	return &clone
}

// GetOrFetch returns the artifact for (mod, version), downloading it at
// most once. Concurrent callers for the same artifact share one download.
// An empty version means the latest (or the spec's pin).
func (s *Store) GetOrFetch(ctx context.Context, prov provider.Provider, mod *provider.ResolvedMod, version string) (Artifact, error) {
	akey := artifactKey(mod.Key, version)

	if art, ok := s.cachedArtifact(akey); ok {
		return art, nil
	}

	v, err, _ := s.group.Do(akey, func() (interface{}, error) {
		// Double check under the flight: another process may have fetched
		// while we waited.
		if art, ok := s.cachedArtifact(akey); ok {
			return art, nil
		}
		lockName := hex.EncodeToString([]byte(akey))
		if len(lockName) > 64 {
			sum := sha256.Sum256([]byte(akey))
			lockName = hex.EncodeToString(sum[:])
		}
		release, err := acquireLock(ctx, filepath.Join(s.root, "locks", lockName))
		if err != nil {
			return Artifact{}, err
		}
		defer release()

		digest, size, err := prov.Fetch(ctx, mod, version, s)
		if err != nil {
			return Artifact{}, err
		}
		art := Artifact{
			Digest:    digest,
			Size:      size,
			Media:     s.sniffMedia(digest),
			Version:   version,
			FetchedAt: time.Now().UTC(),
		}
		s.mu.Lock()
		s.index.Artifacts[akey] = art
		err = s.saveIndexLocked(ctx)
		s.mu.Unlock()
		if err != nil {
			return Artifact{}, err
		}
		return art, nil
	})
	if err != nil {
		return Artifact{}, err
	}
	return v.(Artifact), nil
}

func (s *Store) cachedArtifact(akey string) (Artifact, bool) {
	s.mu.Lock()
	art, ok := s.index.Artifacts[akey]
	s.mu.Unlock()
	if !ok {
		return Artifact{}, false
	}
	if _, err := os.Stat(s.BlobPath(art.Digest)); err != nil {
		return Artifact{}, false
	}
	return art, true
}

var zipMagic = []byte{'P', 'K', 0x03, 0x04}

func (s *Store) sniffMedia(digest string) string {
	f, err := os.Open(s.BlobPath(digest))
	if err != nil {
		return "pak"
	}
	defer f.Close()
	head := make([]byte, 4)
	if _, err := io.ReadFull(f, head); err == nil && bytes.Equal(head, zipMagic) {
		return "zip"
	}
	return "pak"
}

// saveIndexLocked publishes the index under the whole-file advisory lock.
// Callers hold s.mu.
func (s *Store) saveIndexLocked(ctx context.Context) error {
	release, err := acquireLock(ctx, filepath.Join(s.root, "locks", "index"))
	if err != nil {
		return err
	}
	defer release()
	return s.index.save(s.indexPath())
}

// Verify reports digests referenced by the index whose blobs are missing
// on disk. Run at startup.
func (s *Store) Verify() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var missing []string
	seen := map[string]bool{}
	for _, art := range s.index.Artifacts {
		if seen[art.Digest] {
			continue
		}
		seen[art.Digest] = true
		if _, err := os.Stat(s.BlobPath(art.Digest)); err != nil {
			missing = append(missing, art.Digest)
		}
	}
	sort.Strings(missing)
	return missing
}

// VerifyBlob recomputes a blob's digest and compares it to its name.
func (s *Store) VerifyBlob(digest string) error {
	f, err := s.OpenBlob(digest)
	if err != nil {
		return err
	}
	defer f.Close()
	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return err
	}
	if got := hex.EncodeToString(hasher.Sum(nil)); got != digest {
		return fmt.Errorf("integrity mismatch for blob %s: content hashes to %s", digest, got)
	}
	return nil
}

// GC removes blobs not in the reachable set and prunes index entries that
// referenced them.
func (s *Store) GC(ctx context.Context, reachable map[string]bool) (removed int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blobsDir := filepath.Join(s.root, "blobs")
	entries, err := os.ReadDir(blobsDir)
	if err != nil {
		return 0, err
	}
	for _, shard := range entries {
		if !shard.IsDir() {
			continue
		}
		blobs, err := os.ReadDir(filepath.Join(blobsDir, shard.Name()))
		if err != nil {
			return removed, err
		}
		for _, blob := range blobs {
			digest := blob.Name()
			if reachable[digest] {
				continue
			}
			if err := os.Remove(filepath.Join(blobsDir, shard.Name(), digest)); err != nil {
				return removed, err
			}
			removed++
			s.log.Infow("Removed unreferenced blob", zap.String("digest", digest))
		}
	}
	for akey, art := range s.index.Artifacts {
		if !reachable[art.Digest] {
			delete(s.index.Artifacts, akey)
		}
	}
	return removed, s.saveIndexLocked(ctx)
}

// Reachable returns the digests referenced by the given raw specs, the
// keep set for GC.
func (s *Store) Reachable(rawSpecs []string) map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := map[string]bool{}
	for _, raw := range rawSpecs {
		if key, ok := s.index.Specs[raw]; ok {
			keys[key] = true
		}
	}
	keep := map[string]bool{}
	for akey, art := range s.index.Artifacts {
		key := akey
		if i := strings.LastIndex(akey, "@"); i >= 0 {
			key = akey[:i]
		}
		if keys[key] {
			keep[art.Digest] = true
		}
	}
	return keep
}

// Mods returns the cached resolutions, for reporting.
func (s *Store) Mods() map[string]*provider.ResolvedMod {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*provider.ResolvedMod, len(s.index.Mods))
	for k, v := range s.index.Mods {
		clone := *v
		out[k] = &clone
	}
	return out
}
