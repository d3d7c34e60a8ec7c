// Package integrate merges an ordered list of mod payloads into a single
// output pak. The first mod in the list has the highest precedence: its
// entries win every conflict. A JSON manifest describing the contributing
// mods and the resolved conflicts is embedded in the output.
package integrate

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"mint/pak"
)

// OutputMountPoint is the mount the game expects for loose mod paks.
const OutputMountPoint = "../../../"

// Input is one mod payload selected for integration, highest precedence
// first.
type Input struct {
	Name    string // display name
	Source  string // raw spec string
	Digest  string // sha256 of the payload
	Version string // resolved version id, empty when the source has none
	Path    string // payload on disk, either a pak or a zip wrapping one
}

// Advisory is a non-fatal finding about an input.
type Advisory struct {
	Kind string // "non-asset", "split-pair", "case-collision", "asset-registry", "archive"
	Mod  string
	Path string
	Note string
}

// Conflict records one internal path supplied by multiple mods.
type Conflict struct {
	Path   string   `json:"path"`
	Winner string   `json:"winner"`
	Losers []string `json:"losers"`
}

// Report summarizes one integration run.
type Report struct {
	Files      int
	Target     pak.Version
	Conflicts  []Conflict
	Advisories []Advisory
}

type sourceEntry struct {
	emitPath string // original-case internal path, mount applied
	srcPath  string // path inside the source pak index
	reader   *pak.Reader
	input    *Input
}

// Integrate merges the inputs into a single pak written to out. A nil or
// empty input list is valid and produces a pak holding only the manifest.
func Integrate(ctx context.Context, inputs []Input, out io.Writer, log *zap.SugaredLogger) (*Report, error) {
	// An empty input list still emits a bundle; default to the newest
	// container version, otherwise track the newest input.
	report := &Report{Target: pak.V11}
	if len(inputs) > 0 {
		report.Target = pak.V8A
	}

	// claimed maps the lowercased internal path to its winning entry.
	claimed := map[string]*sourceEntry{}
	var order []string
	registryMods := map[string]bool{}

	for i := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		in := &inputs[i]
		r, extras, err := openPayload(in.Path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", in.Name, err)
		}
		if extras > 0 {
			report.Advisories = append(report.Advisories, Advisory{
				Kind: "archive",
				Mod:  in.Name,
				Path: in.Path,
				Note: fmt.Sprintf("archive holds %d additional pak(s); only the first was integrated", extras),
			})
		}
		if r.Version() > report.Target {
			report.Target = r.Version()
		}

		entries, advisories := normalize(r, in)
		report.Advisories = append(report.Advisories, advisories...)

		for _, e := range entries {
			key := strings.ToLower(e.emitPath)
			if path.Base(e.emitPath) == "AssetRegistry.bin" {
				registryMods[in.Name] = true
			}
			winner, taken := claimed[key]
			if !taken {
				claimed[key] = e
				order = append(order, key)
				continue
			}
			addConflict(report, winner.emitPath, winner.input.Name, in.Name)
		}
	}

	if len(registryMods) > 1 {
		names := sortedKeys(registryMods)
		report.Advisories = append(report.Advisories, Advisory{
			Kind: "asset-registry",
			Path: "AssetRegistry.bin",
			Mod:  strings.Join(names, ", "),
			Note: "multiple mods ship an asset registry; only the highest-precedence copy is kept and assets of the others may not load",
		})
		log.Warnw("Multiple asset registries in profile, keeping the top one",
			zap.Strings("mods", names))
	}

	sort.Strings(order)
	sort.Slice(report.Conflicts, func(i, j int) bool {
		return report.Conflicts[i].Path < report.Conflicts[j].Path
	})

	w := pak.NewWriter(out, report.Target, OutputMountPoint)
	for _, key := range order {
		e := claimed[key]
		if err := emit(w, e); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", e.input.Name, e.emitPath, err)
		}
		report.Files++
	}

	manifest, err := buildManifest(inputs, report.Conflicts)
	if err != nil {
		return nil, err
	}
	if err := w.WriteFile(ManifestPath, manifest, pak.CompressionNone); err != nil {
		return nil, err
	}
	report.Files++

	if err := w.Finalize(); err != nil {
		return nil, err
	}
	log.Infow("Integrated mod bundle",
		zap.Int("mods", len(inputs)),
		zap.Int("files", report.Files),
		zap.Int("conflicts", len(report.Conflicts)),
		zap.String("pakVersion", report.Target.String()),
	)
	return report, nil
}

func addConflict(report *Report, emitPath, winner, loser string) {
	for i := range report.Conflicts {
		if report.Conflicts[i].Path == emitPath {
			report.Conflicts[i].Losers = append(report.Conflicts[i].Losers, loser)
			return
		}
	}
	report.Conflicts = append(report.Conflicts, Conflict{
		Path:   emitPath,
		Winner: winner,
		Losers: []string{loser},
	})
}

// knownAssetExts are file types the game is known to load from mod
// paks. Anything else is flagged but still shipped; mods carry plenty of
// legitimate payloads beyond cooked assets (Wwise banks, media files).
var knownAssetExts = map[string]bool{
	".uasset": true, ".uexp": true, ".ubulk": true, ".uptnl": true,
	".ufont": true, ".locres": true, ".locmeta": true,
	".ini": true, ".txt": true, ".json": true, ".bin": true,
	".umap": true, ".uplugin": true,
}

// normalize enumerates one pak's entries in index order and applies the
// filters: shader bytecode is dropped, unknown file types are kept with
// an advisory, split asset pairs and intra-pak case collisions are
// flagged but kept.
func normalize(r *pak.Reader, in *Input) ([]*sourceEntry, []Advisory) {
	mount := strings.TrimPrefix(r.MountPoint(), OutputMountPoint)
	mount = strings.Trim(mount, "/")

	var advisories []Advisory
	var entries []*sourceEntry
	byKey := map[string]int{}
	lowered := map[string]bool{}

	for _, p := range r.Files() {
		full := p
		if mount != "" {
			full = path.Join(mount, p)
		}
		ext := strings.ToLower(path.Ext(full))
		if ext == ".ushaderbytecode" {
			continue
		}
		if !knownAssetExts[ext] {
			advisories = append(advisories, Advisory{
				Kind: "non-asset",
				Mod:  in.Name,
				Path: full,
				Note: "file type is not a known game asset; shipped anyway",
			})
		}

		key := strings.ToLower(full)
		if prev, dup := byKey[key]; dup {
			// Same pak carries two spellings of one path; the later one
			// shadows the earlier.
			advisories = append(advisories, Advisory{
				Kind: "case-collision",
				Mod:  in.Name,
				Path: full,
				Note: fmt.Sprintf("collides with %q from the same mod; keeping the later entry", entries[prev].emitPath),
			})
			entries[prev] = &sourceEntry{emitPath: full, srcPath: p, reader: r, input: in}
			continue
		}
		byKey[key] = len(entries)
		lowered[key] = true
		entries = append(entries, &sourceEntry{emitPath: full, srcPath: p, reader: r, input: in})
	}

	for _, e := range entries {
		key := strings.ToLower(e.emitPath)
		if strings.HasSuffix(key, ".uexp") {
			stem := strings.TrimSuffix(key, ".uexp")
			if !lowered[stem+".uasset"] && !lowered[stem+".umap"] {
				advisories = append(advisories, Advisory{
					Kind: "split-pair",
					Mod:  in.Name,
					Path: e.emitPath,
					Note: "export data without a matching .uasset; the asset may fail to load",
				})
			}
		}
	}
	return entries, advisories
}

// emit copies one entry into the output, stream-copying the stored bytes
// when the compression method carries over and falling back to
// decompress-and-store otherwise.
func emit(w *pak.Writer, e *sourceEntry) error {
	method := e.reader.MethodName(mustEntry(e))
	if method == "" || strings.EqualFold(method, "None") || strings.EqualFold(method, "Zlib") {
		src, payload, err := e.reader.RawPayload(e.srcPath)
		if err != nil {
			return err
		}
		return w.WriteRaw(e.emitPath, src, method, payload)
	}
	data, err := e.reader.Get(e.srcPath)
	if err != nil {
		return err
	}
	return w.WriteFile(e.emitPath, data, pak.CompressionNone)
}

func mustEntry(e *sourceEntry) pak.Entry {
	entry, _ := e.reader.Entry(e.srcPath)
	return entry
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// openPayload opens a mod payload as a pak reader. Zip payloads are
// unwrapped: the first pak inside the archive is taken as the mod's
// primary pak and extras counts any further paks left behind.
func openPayload(p string) (r *pak.Reader, extras int, err error) {
	buf, err := os.ReadFile(p)
	if err != nil {
		return nil, 0, err
	}
	if bytes.HasPrefix(buf, []byte{'P', 'K', 0x03, 0x04}) {
		buf, extras, err = primaryPakFromZip(buf)
		if err != nil {
			return nil, 0, err
		}
	}
	r, err = pak.NewReader(bytes.NewReader(buf))
	return r, extras, err
}

func primaryPakFromZip(buf []byte) ([]byte, int, error) {
	zr, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, 0, fmt.Errorf("opening zip payload: %w", err)
	}
	var primary *zip.File
	extras := 0
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.Contains(f.Name, "__MACOSX") {
			continue
		}
		if !strings.EqualFold(path.Ext(f.Name), ".pak") {
			continue
		}
		if primary == nil {
			primary = f
		} else {
			extras++
		}
	}
	if primary == nil {
		return nil, 0, fmt.Errorf("zip payload contains no pak file")
	}
	rc, err := primary.Open()
	if err != nil {
		return nil, 0, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	return data, extras, err
}
