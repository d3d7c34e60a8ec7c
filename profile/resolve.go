package profile

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"mint/provider"
	"mint/store"
)

// ResolvedEntry pairs a profile entry with its resolved metadata and the
// fetched payload on disk, in precedence order.
type ResolvedEntry struct {
	Entry    Entry
	Mod      *provider.ResolvedMod
	Artifact store.Artifact
	Path     string // blob location of the payload
}

// EntryError is a failure scoped to one profile entry.
type EntryError struct {
	Spec string
	Err  error
}

func (e *EntryError) Error() string { return fmt.Sprintf("%s: %v", e.Spec, e.Err) }

func (e *EntryError) Unwrap() error { return e.Err }

// resolveConcurrency bounds parallel downloads.
const resolveConcurrency = 4

// Resolve fetches every enabled entry of a profile, preserving list
// order. Failures are isolated per entry: the successful entries are
// returned alongside the per-entry errors so callers can decide whether
// a partial set is acceptable.
func Resolve(ctx context.Context, d *DB, st *store.Store, reg *provider.Registry, profileName string, update bool) ([]ResolvedEntry, []EntryError, error) {
	p, err := d.Get(profileName)
	if err != nil {
		return nil, nil, err
	}
	return resolveEntries(ctx, st, reg, p.Entries, update)
}

// ResolveSpecs fetches ad-hoc specs outside any profile, in the order
// given.
func ResolveSpecs(ctx context.Context, st *store.Store, reg *provider.Registry, specs []string, update bool) ([]ResolvedEntry, []EntryError, error) {
	entries := make([]Entry, len(specs))
	for i, s := range specs {
		entries[i] = Entry{Position: i, Spec: s, Enabled: true}
	}
	return resolveEntries(ctx, st, reg, entries, update)
}

// ResolveEntry fetches a single entry, honoring its pin.
func ResolveEntry(ctx context.Context, st *store.Store, reg *provider.Registry, e Entry, update bool) (ResolvedEntry, error) {
	return resolveOne(ctx, st, reg, e, update)
}

func resolveEntries(ctx context.Context, st *store.Store, reg *provider.Registry, list []Entry, update bool) ([]ResolvedEntry, []EntryError, error) {
	type slot struct {
		entry ResolvedEntry
		err   error
	}
	slots := make([]slot, len(list))

	// The errgroup context is always canceled once Wait returns; keep the
	// caller's context for the cancellation check below.
	parent := ctx
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveConcurrency)
	for i, e := range list {
		if !e.Enabled {
			continue
		}
		i, e := i, e
		g.Go(func() error {
			re, err := resolveOne(ctx, st, reg, e, update)
			if err != nil {
				slots[i].err = err
				return nil
			}
			slots[i].entry = re
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := parent.Err(); err != nil {
		return nil, nil, err
	}

	var resolved []ResolvedEntry
	var failures []EntryError
	for i, e := range list {
		if !e.Enabled {
			continue
		}
		if slots[i].err != nil {
			failures = append(failures, EntryError{Spec: e.Spec, Err: slots[i].err})
			continue
		}
		resolved = append(resolved, slots[i].entry)
	}
	return resolved, failures, nil
}

func resolveOne(ctx context.Context, st *store.Store, reg *provider.Registry, e Entry, update bool) (ResolvedEntry, error) {
	spec, err := provider.Parse(e.Spec)
	if err != nil {
		return ResolvedEntry{}, err
	}
	mod, err := st.Resolve(ctx, reg, spec, update)
	if err != nil {
		return ResolvedEntry{}, err
	}
	prov, err := reg.For(spec)
	if err != nil {
		return ResolvedEntry{}, err
	}
	version := e.PinnedVersion
	if version == "" && mod.Spec.FileID != 0 {
		version = strconv.FormatInt(mod.Spec.FileID, 10)
	}
	if version == "" {
		version = mod.Latest()
	}
	art, err := st.GetOrFetch(ctx, prov, mod, version)
	if err != nil {
		return ResolvedEntry{}, err
	}
	return ResolvedEntry{
		Entry:    e,
		Mod:      mod,
		Artifact: art,
		Path:     st.BlobPath(art.Digest),
	}, nil
}

// DisplayName picks a short human name for an entry, preferring the
// provider's mod name over the raw spec.
func (r ResolvedEntry) DisplayName() string {
	if r.Mod != nil && r.Mod.Name != "" {
		return r.Mod.Name
	}
	s := r.Entry.Spec
	if i := strings.LastIndexByte(s, '/'); i >= 0 && i < len(s)-1 {
		return s[i+1:]
	}
	return s
}
