package integrate

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"mint/pak"
)

// ManifestPath is the internal path of the embedded manifest. The hook
// library reads it from the installed bundle at game startup.
const ManifestPath = "meta.json"

const manifestSchema = 1

// integratorVersion identifies the build in the server list string.
const integratorVersion = "0.3.0"

// Manifest is the document embedded in the output pak.
type Manifest struct {
	Schema    int           `json:"schema"`
	Mods      []ManifestMod `json:"mods"`
	Conflicts []Conflict    `json:"conflicts"`
}

// ManifestMod describes one contributing mod, in precedence order.
type ManifestMod struct {
	Name    string  `json:"name"`
	Source  string  `json:"source"`
	Digest  string  `json:"digest"`
	Version *string `json:"version"`
}

func buildManifest(inputs []Input, conflicts []Conflict) ([]byte, error) {
	m := Manifest{
		Schema:    manifestSchema,
		Mods:      make([]ManifestMod, 0, len(inputs)),
		Conflicts: conflicts,
	}
	if m.Conflicts == nil {
		m.Conflicts = []Conflict{}
	}
	for _, in := range inputs {
		mod := ManifestMod{Name: in.Name, Source: in.Source, Digest: in.Digest}
		if in.Version != "" {
			v := in.Version
			mod.Version = &v
		}
		m.Mods = append(m.Mods, mod)
	}
	buf, err := json.MarshalIndent(&m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return buf, nil
}

func approvalRank(approval string) int {
	switch approval {
	case "Verified":
		return 2
	case "Approved":
		return 1
	}
	return 0
}

// ServerListString renders the compact summary published to the game's
// server browser: the tool name and version followed by one approval
// letter and name per mod, most trusted mods first. approvals maps a
// mod's source spec to its approval category; unknown sources count as
// Sandbox.
func (m *Manifest) ServerListString(approvals map[string]string) string {
	type entry struct {
		rank int
		name string
	}
	entries := make([]entry, 0, len(m.Mods))
	for _, mod := range m.Mods {
		entries = append(entries, entry{approvalRank(approvals[mod.Source]), mod.Name})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].rank != entries[j].rank {
			return entries[i].rank > entries[j].rank
		}
		return entries[i].name < entries[j].name
	})

	parts := []string{"mint", integratorVersion}
	for _, e := range entries {
		letter := "S"
		switch e.rank {
		case 2:
			letter = "V"
		case 1:
			letter = "A"
		}
		// The game splits the field on semicolons.
		parts = append(parts, letter, strings.ReplaceAll(e.name, ";", ""))
	}
	return strings.Join(parts, ";")
}

// ReadManifest extracts the embedded manifest from an integrated bundle.
func ReadManifest(r *pak.Reader) (*Manifest, error) {
	buf, err := r.Get(ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("bundle has no manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(buf, &m); err != nil {
		return nil, fmt.Errorf("parsing bundle manifest: %w", err)
	}
	return &m, nil
}
