package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mint/provider"
)

// indexSchema is the current CacheIndex schema version. Older indexes are
// migrated in place on load; newer ones are refused.
const indexSchema = 1

// Artifact describes one immutable fetched payload.
type Artifact struct {
	Digest    string    `json:"digest"`
	Size      int64     `json:"size"`
	Media     string    `json:"media"` // "pak" or "zip"
	Version   string    `json:"version"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Index maps provider identities to resolved metadata and artifacts. It
// is persisted as JSON and published atomically via temp-file + rename.
type Index struct {
	Schema int `json:"schema"`
	// Specs maps raw spec strings to provider keys, so offline lookups
	// can find a cached resolution without touching the network.
	Specs map[string]string `json:"specs"`
	// Mods maps provider keys to their last known resolution.
	Mods map[string]*provider.ResolvedMod `json:"mods"`
	// Artifacts maps "<key>@<version>" to fetched payloads.
	Artifacts map[string]Artifact `json:"artifacts"`
}

func newIndex() *Index {
	return &Index{
		Schema:    indexSchema,
		Specs:     map[string]string{},
		Mods:      map[string]*provider.ResolvedMod{},
		Artifacts: map[string]Artifact{},
	}
}

func artifactKey(key, version string) string {
	return key + "@" + version
}

func loadIndex(path string) (*Index, error) {
	buf, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return newIndex(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache index: %w", err)
	}
	var idx Index
	if err := json.Unmarshal(buf, &idx); err != nil {
		return nil, fmt.Errorf("parsing cache index: %w", err)
	}
	if idx.Schema > indexSchema {
		return nil, fmt.Errorf("cache index schema %d is newer than this build supports (%d)", idx.Schema, indexSchema)
	}
	// Schema 0 predates the spec map; give it empty maps and move on.
	if idx.Specs == nil {
		idx.Specs = map[string]string{}
	}
	if idx.Mods == nil {
		idx.Mods = map[string]*provider.ResolvedMod{}
	}
	if idx.Artifacts == nil {
		idx.Artifacts = map[string]Artifact{}
	}
	idx.Schema = indexSchema
	return &idx, nil
}

func (idx *Index) save(path string) error {
	buf, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("writing cache index: %w", err)
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publishing cache index: %w", err)
	}
	dir, err := os.Open(filepath.Dir(path))
	if err == nil {
		dir.Sync()
		dir.Close()
	}
	return nil
}
