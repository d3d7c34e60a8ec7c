package integrate

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"mint/pak"
)

type pakFile struct {
	path   string
	data   []byte
	method pak.Compression
}

func buildPak(t *testing.T, version pak.Version, files []pakFile) string {
	t.Helper()
	var buf bytes.Buffer
	w := pak.NewWriter(&buf, version, "../../../")
	for _, f := range files {
		if err := w.WriteFile(f.path, f.data, f.method); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Finalize(); err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(t.TempDir(), "mod.pak")
	if err := os.WriteFile(p, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func runIntegrate(t *testing.T, inputs []Input) (*Report, *pak.Reader) {
	t.Helper()
	var out bytes.Buffer
	report, err := Integrate(context.Background(), inputs, &out, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("Integrate: %v", err)
	}
	r, err := pak.NewReader(bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	return report, r
}

func TestEmptyInputProducesManifestOnlyBundle(t *testing.T) {
	report, r := runIntegrate(t, nil)
	if report.Files != 1 {
		t.Errorf("Files = %d, want 1", report.Files)
	}
	files := r.Files()
	if len(files) != 1 || files[0] != ManifestPath {
		t.Fatalf("output files = %v", files)
	}
	m, err := ReadManifest(r)
	if err != nil {
		t.Fatal(err)
	}
	if m.Schema != 1 || len(m.Mods) != 0 || len(m.Conflicts) != 0 {
		t.Errorf("manifest = %+v", m)
	}
}

func TestSingleModFiltering(t *testing.T) {
	asset := []byte("asset bytes")
	src := buildPak(t, pak.V11, []pakFile{
		{"FSD/Content/A.uasset", asset, pak.CompressionNone},
		{"FSD/Content/A.uexp", []byte("exports"), pak.CompressionZlib},
		{"FSD/Content/Shaders.ushaderbytecode", []byte("shader"), pak.CompressionNone},
		{"readme.md", []byte("docs"), pak.CompressionNone},
	})

	report, r := runIntegrate(t, []Input{{Name: "A", Source: src, Path: src}})
	got := map[string]bool{}
	for _, f := range r.Files() {
		got[f] = true
	}
	if !got["FSD/Content/A.uasset"] || !got["FSD/Content/A.uexp"] {
		t.Errorf("asset entries missing from output: %v", r.Files())
	}
	if got["FSD/Content/Shaders.ushaderbytecode"] {
		t.Error("shader bytecode not dropped")
	}
	if !got["readme.md"] {
		t.Error("non-asset file dropped, want shipped with an advisory")
	}
	if len(report.Conflicts) != 0 {
		t.Errorf("conflicts = %v", report.Conflicts)
	}

	// Shader bytecode drops silently, the readme gets an advisory.
	var kinds []string
	for _, a := range report.Advisories {
		kinds = append(kinds, a.Kind)
	}
	if len(kinds) != 1 || kinds[0] != "non-asset" {
		t.Errorf("advisories = %v", report.Advisories)
	}

	data, err := r.Get("FSD/Content/A.uasset")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, asset) {
		t.Error("asset bytes changed during integration")
	}
}

func TestAudioBankFilesShipped(t *testing.T) {
	bank := []byte("wwise bank")
	stream := []byte("wwise stream")
	src := buildPak(t, pak.V11, []pakFile{
		{"FSD/Content/WwiseAudio/Windows/Init.bnk", bank, pak.CompressionNone},
		{"FSD/Content/WwiseAudio/Windows/12345.wem", stream, pak.CompressionZlib},
	})

	report, r := runIntegrate(t, []Input{{Name: "Audio", Source: src, Path: src}})
	data, err := r.Get("FSD/Content/WwiseAudio/Windows/Init.bnk")
	if err != nil {
		t.Fatalf("bank missing from output: %v", err)
	}
	if !bytes.Equal(data, bank) {
		t.Error("bank bytes changed during integration")
	}
	data, err = r.Get("FSD/Content/WwiseAudio/Windows/12345.wem")
	if err != nil {
		t.Fatalf("stream missing from output: %v", err)
	}
	if !bytes.Equal(data, stream) {
		t.Error("stream bytes changed during integration")
	}

	for _, adv := range report.Advisories {
		if adv.Kind != "non-asset" {
			t.Errorf("unexpected advisory %+v", adv)
		}
	}
}

func TestConflictTopOfListWins(t *testing.T) {
	top := buildPak(t, pak.V11, []pakFile{
		{"FSD/Content/X.uasset", []byte("from A"), pak.CompressionNone},
	})
	bottom := buildPak(t, pak.V11, []pakFile{
		{"FSD/Content/X.uasset", []byte("from B"), pak.CompressionZlib},
		{"FSD/Content/Y.uasset", []byte("only B"), pak.CompressionNone},
	})

	report, r := runIntegrate(t, []Input{
		{Name: "A", Path: top},
		{Name: "B", Path: bottom},
	})

	data, err := r.Get("FSD/Content/X.uasset")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, []byte("from A")) {
		t.Errorf("conflict winner bytes = %q", data)
	}
	if data, _ := r.Get("FSD/Content/Y.uasset"); !bytes.Equal(data, []byte("only B")) {
		t.Error("non-conflicting entry of the losing mod missing")
	}

	if len(report.Conflicts) != 1 {
		t.Fatalf("conflicts = %v", report.Conflicts)
	}
	c := report.Conflicts[0]
	if c.Path != "FSD/Content/X.uasset" || c.Winner != "A" || len(c.Losers) != 1 || c.Losers[0] != "B" {
		t.Errorf("conflict = %+v", c)
	}

	m, err := ReadManifest(r)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Mods) != 2 || m.Mods[0].Name != "A" || m.Mods[1].Name != "B" {
		t.Errorf("manifest mods = %+v", m.Mods)
	}
	if len(m.Conflicts) != 1 {
		t.Errorf("manifest conflicts = %+v", m.Conflicts)
	}
}

func TestCrossModCaseCollisionIsConflict(t *testing.T) {
	top := buildPak(t, pak.V11, []pakFile{
		{"FSD/Content/Foo.uasset", []byte("upper"), pak.CompressionNone},
	})
	bottom := buildPak(t, pak.V11, []pakFile{
		{"fsd/content/foo.uasset", []byte("lower"), pak.CompressionNone},
	})

	report, r := runIntegrate(t, []Input{
		{Name: "A", Path: top},
		{Name: "B", Path: bottom},
	})
	if len(report.Conflicts) != 1 {
		t.Fatalf("conflicts = %v", report.Conflicts)
	}
	// Winner's spelling is the one emitted.
	if _, ok := r.Entry("FSD/Content/Foo.uasset"); !ok {
		t.Errorf("output entries = %v", r.Files())
	}
	if _, ok := r.Entry("fsd/content/foo.uasset"); ok {
		t.Error("losing spelling also emitted")
	}
}

func TestIntraPakCaseCollisionLaterShadows(t *testing.T) {
	src := buildPak(t, pak.V11, []pakFile{
		{"FSD/Content/A.uasset", []byte("first"), pak.CompressionNone},
		{"fsd/content/a.uasset", []byte("second"), pak.CompressionNone},
	})
	report, r := runIntegrate(t, []Input{{Name: "A", Path: src}})

	found := false
	for _, a := range report.Advisories {
		if a.Kind == "case-collision" {
			found = true
		}
	}
	if !found {
		t.Errorf("no case-collision advisory: %v", report.Advisories)
	}
	// Reader sorts paths; whichever spelling won, only one survives and it
	// carries the later bytes.
	var assets []string
	for _, f := range r.Files() {
		if f != ManifestPath {
			assets = append(assets, f)
		}
	}
	if len(assets) != 1 {
		t.Fatalf("output assets = %v", assets)
	}
	data, err := r.Get(assets[0])
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, []byte("second")) {
		t.Errorf("shadowed entry bytes = %q", data)
	}
}

func TestSplitPairAdvisory(t *testing.T) {
	src := buildPak(t, pak.V11, []pakFile{
		{"FSD/Content/Lone.uexp", []byte("exports"), pak.CompressionNone},
	})
	report, r := runIntegrate(t, []Input{{Name: "A", Path: src}})

	found := false
	for _, a := range report.Advisories {
		if a.Kind == "split-pair" && a.Path == "FSD/Content/Lone.uexp" {
			found = true
		}
	}
	if !found {
		t.Errorf("no split-pair advisory: %v", report.Advisories)
	}
	// Advisory only; the file is still emitted.
	if _, ok := r.Entry("FSD/Content/Lone.uexp"); !ok {
		t.Error("lone uexp dropped")
	}
}

func TestAssetRegistryAdvisory(t *testing.T) {
	top := buildPak(t, pak.V11, []pakFile{
		{"FSD/AssetRegistry.bin", []byte("registry A"), pak.CompressionNone},
	})
	bottom := buildPak(t, pak.V11, []pakFile{
		{"FSD/AssetRegistry.bin", []byte("registry B"), pak.CompressionNone},
	})
	report, r := runIntegrate(t, []Input{
		{Name: "A", Path: top},
		{Name: "B", Path: bottom},
	})

	data, err := r.Get("FSD/AssetRegistry.bin")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, []byte("registry A")) {
		t.Error("registry precedence violated")
	}
	found := false
	for _, a := range report.Advisories {
		if a.Kind == "asset-registry" {
			found = true
		}
	}
	if !found {
		t.Errorf("no asset-registry advisory: %v", report.Advisories)
	}
}

func TestOutputDeterministic(t *testing.T) {
	a := buildPak(t, pak.V11, []pakFile{
		{"FSD/Content/B.uasset", []byte("bee"), pak.CompressionZlib},
		{"FSD/Content/A.uasset", []byte("ay"), pak.CompressionNone},
	})
	b := buildPak(t, pak.V9, []pakFile{
		{"FSD/Content/C.uasset", []byte("sea"), pak.CompressionNone},
	})
	inputs := []Input{{Name: "A", Path: a}, {Name: "B", Path: b}}

	var first, second bytes.Buffer
	if _, err := Integrate(context.Background(), inputs, &first, zap.NewNop().Sugar()); err != nil {
		t.Fatal(err)
	}
	if _, err := Integrate(context.Background(), inputs, &second, zap.NewNop().Sugar()); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Error("repeated integration produced different bytes")
	}
}

func TestTargetVersionIsNewestInput(t *testing.T) {
	old := buildPak(t, pak.V8A, []pakFile{
		{"FSD/Content/A.uasset", []byte("ay"), pak.CompressionNone},
	})
	newer := buildPak(t, pak.V11, []pakFile{
		{"FSD/Content/B.uasset", []byte("bee"), pak.CompressionNone},
	})
	report, r := runIntegrate(t, []Input{{Name: "A", Path: old}, {Name: "B", Path: newer}})
	if report.Target != pak.V11 {
		t.Errorf("Target = %s", report.Target)
	}
	if r.Version() != pak.V11 {
		t.Errorf("output version = %s", r.Version())
	}
}

func TestZipPayloadUnwrapped(t *testing.T) {
	inner := buildPak(t, pak.V11, []pakFile{
		{"FSD/Content/Z.uasset", []byte("zipped"), pak.CompressionNone},
	})
	pakBytes, err := os.ReadFile(inner)
	if err != nil {
		t.Fatal(err)
	}

	var zbuf bytes.Buffer
	zw := zip.NewWriter(&zbuf)
	for name, content := range map[string][]byte{
		"readme.txt":     []byte("instructions"),
		"MyMod/mod_P.pak": pakBytes,
	} {
		f, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		f.Write(content)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	zpath := filepath.Join(t.TempDir(), "mod.zip")
	if err := os.WriteFile(zpath, zbuf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	_, r := runIntegrate(t, []Input{{Name: "Z", Path: zpath}})
	data, err := r.Get("FSD/Content/Z.uasset")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, []byte("zipped")) {
		t.Error("zip payload content lost")
	}
}

func TestZipExtraPaksFlagged(t *testing.T) {
	first := buildPak(t, pak.V11, []pakFile{
		{"FSD/Content/First.uasset", []byte("first"), pak.CompressionNone},
	})
	second := buildPak(t, pak.V11, []pakFile{
		{"FSD/Content/Second.uasset", []byte("second"), pak.CompressionNone},
	})

	var zbuf bytes.Buffer
	zw := zip.NewWriter(&zbuf)
	for _, src := range []string{first, second} {
		data, err := os.ReadFile(src)
		if err != nil {
			t.Fatal(err)
		}
		f, err := zw.Create(filepath.Base(filepath.Dir(src)) + ".pak")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	zpath := filepath.Join(t.TempDir(), "twopaks.zip")
	if err := os.WriteFile(zpath, zbuf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	report, r := runIntegrate(t, []Input{{Name: "Z", Source: zpath, Path: zpath}})
	if _, err := r.Get("FSD/Content/First.uasset"); err != nil {
		t.Errorf("first pak of the archive not integrated: %v", err)
	}
	if _, err := r.Get("FSD/Content/Second.uasset"); err == nil {
		t.Error("second pak of the archive integrated, want first only")
	}
	found := false
	for _, adv := range report.Advisories {
		if adv.Kind == "archive" && adv.Mod == "Z" {
			found = true
		}
	}
	if !found {
		t.Errorf("no archive advisory in %+v", report.Advisories)
	}
}

func TestZipWithoutPakRejected(t *testing.T) {
	var zbuf bytes.Buffer
	zw := zip.NewWriter(&zbuf)
	f, _ := zw.Create("readme.txt")
	f.Write([]byte("no pak here"))
	zw.Close()
	zpath := filepath.Join(t.TempDir(), "empty.zip")
	if err := os.WriteFile(zpath, zbuf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if _, err := Integrate(context.Background(), []Input{{Name: "Z", Path: zpath}}, &out, zap.NewNop().Sugar()); err == nil {
		t.Error("zip without a pak accepted")
	}
}

func TestManifestVersions(t *testing.T) {
	src := buildPak(t, pak.V11, []pakFile{
		{"FSD/Content/A.uasset", []byte("ay"), pak.CompressionNone},
	})
	_, r := runIntegrate(t, []Input{
		{Name: "A", Source: "https://mod.io/g/drg/m/a", Digest: "aa", Version: "123", Path: src},
	})
	m, err := ReadManifest(r)
	if err != nil {
		t.Fatal(err)
	}
	if m.Mods[0].Version == nil || *m.Mods[0].Version != "123" {
		t.Errorf("manifest version = %v", m.Mods[0].Version)
	}

	// A versionless source serializes as null.
	_, r = runIntegrate(t, []Input{
		{Name: "A", Source: src, Digest: "aa", Path: src},
	})
	m, err = ReadManifest(r)
	if err != nil {
		t.Fatal(err)
	}
	if m.Mods[0].Version != nil {
		t.Errorf("versionless manifest version = %v", *m.Mods[0].Version)
	}
}
