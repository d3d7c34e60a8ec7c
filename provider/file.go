package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileProvider serves absolute local paths. Identity is the canonical
// path; the version is derived from file size and mtime so edits to the
// file register as new versions.
type FileProvider struct{}

func NewFileProvider() *FileProvider { return &FileProvider{} }

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) Match(spec Spec) bool { return spec.Kind == KindFile }

func (p *FileProvider) Resolve(_ context.Context, spec Spec) (*ResolvedMod, error) {
	canonical, err := filepath.Abs(spec.Path)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", spec.Path, err)
	}
	if resolved, err := filepath.EvalSymlinks(canonical); err == nil {
		canonical = resolved
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return nil, fmt.Errorf("local mod %q: %w", spec.Path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("local mod %q is a directory", spec.Path)
	}
	version := fmt.Sprintf("%d-%d", info.Size(), info.ModTime().Unix())
	return &ResolvedMod{
		Spec:     spec,
		Provider: "file",
		Key:      "file:" + canonical,
		Name:     filepath.Base(canonical),
		Versions: []Version{{ID: version, Name: info.ModTime().Format("2006-01-02 15:04:05")}},
	}, nil
}

func (p *FileProvider) Fetch(ctx context.Context, mod *ResolvedMod, _ string, sink Sink) (string, int64, error) {
	f, err := os.Open(mod.Key[len("file:"):])
	if err != nil {
		return "", 0, fmt.Errorf("opening local mod: %w", err)
	}
	defer f.Close()
	return sink.Put(ctx, f)
}
