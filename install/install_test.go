package install

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"gopkg.in/ini.v1"

	"mint/profile"
)

// fakeGame lays out a minimal Steam install under a temp dir.
func fakeGame(t *testing.T) *Installation {
	t.Helper()
	root := filepath.Join(t.TempDir(), "FSD")
	paks := filepath.Join(root, "Content", "Paks")
	if err := os.MkdirAll(paks, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "Binaries", "Win64"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(paks, "FSD-WindowsNoEditor.pak"), []byte("game"), 0644); err != nil {
		t.Fatal(err)
	}
	cfgDir := filepath.Join(root, "Saved", "Config", "WindowsNoEditor")
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		t.Fatal(err)
	}
	cfg := "[/Script/FSD.UserGeneratedContent]\n" +
		"CurrentModioUserId=42\n" +
		"CheckGameversion=True\n" +
		"SomeMod=True\n" +
		"OtherMod=True\n"
	if err := os.WriteFile(filepath.Join(cfgDir, "GameUserSettings.ini"), []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}

	inst, err := FromPakPath(filepath.Join(paks, "FSD-WindowsNoEditor.pak"))
	if err != nil {
		t.Fatal(err)
	}
	return inst
}

func newInstaller(t *testing.T, hook []byte) *Installer {
	t.Helper()
	db, err := profile.Open(filepath.Join(t.TempDir(), "mint.db"))
	if err != nil {
		t.Fatal(err)
	}
	return &Installer{
		DB:      db,
		DataDir: t.TempDir(),
		HookDLL: hook,
		Log:     zap.NewNop().Sugar(),
	}
}

func TestFromPakPath(t *testing.T) {
	inst, err := FromPakPath("/games/drg/FSD/Content/Paks/FSD-WindowsNoEditor.pak")
	if err != nil {
		t.Fatal(err)
	}
	if inst.Kind != KindSteam {
		t.Errorf("Kind = %s", inst.Kind)
	}
	if inst.Root != "/games/drg/FSD" {
		t.Errorf("Root = %s", inst.Root)
	}
	if got := inst.BundlePath(); got != "/games/drg/FSD/Content/Paks/mod_P.pak" {
		t.Errorf("BundlePath = %s", got)
	}
	if got := inst.HookDLLPath(); got != "/games/drg/FSD/Binaries/Win64/x3daudio1_7.dll" {
		t.Errorf("HookDLLPath = %s", got)
	}

	inst, err = FromPakPath("/games/drg/FSD/Content/Paks/FSD-WinGDK.pak")
	if err != nil {
		t.Fatal(err)
	}
	if inst.Kind != KindXbox {
		t.Errorf("Kind = %s", inst.Kind)
	}
	if !strings.HasSuffix(inst.HookDLLPath(), filepath.Join("WinGDK", "d3d9.dll")) {
		t.Errorf("HookDLLPath = %s", inst.HookDLLPath())
	}

	var unknown *UnknownInstallationError
	if _, err := FromPakPath("/games/other/whatever.pak"); !errors.As(err, &unknown) {
		t.Errorf("unknown pak = %v", err)
	}
}

func TestInstallWritesEverything(t *testing.T) {
	inst := fakeGame(t)
	ins := newInstaller(t, []byte("hook dll bytes"))

	err := ins.Install(inst, bytes.NewReader([]byte("bundle bytes")), "default", "digest1")
	if err != nil {
		t.Fatalf("Install: %v", err)
	}

	got, err := os.ReadFile(inst.BundlePath())
	if err != nil || !bytes.Equal(got, []byte("bundle bytes")) {
		t.Errorf("bundle = (%q, %v)", got, err)
	}
	got, err = os.ReadFile(inst.HookDLLPath())
	if err != nil || !bytes.Equal(got, []byte("hook dll bytes")) {
		t.Errorf("hook = (%q, %v)", got, err)
	}

	// The modding subsystem's mod list is cleared, the login key kept.
	cfg, err := ini.Load(inst.GameConfigPath())
	if err != nil {
		t.Fatal(err)
	}
	sec := cfg.Section(ugcSection)
	if !sec.HasKey(currentUserKey) {
		t.Error("login key removed from game config")
	}
	if sec.HasKey("SomeMod") || sec.HasKey("OtherMod") {
		t.Error("mod keys survived the rewrite")
	}
	if got := sec.Key("CheckGameversion").String(); got != "False" {
		t.Errorf("CheckGameversion = %q, want False", got)
	}
	raw, err := os.ReadFile(inst.GameConfigPath())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "\r\n") {
		t.Error("rewritten game config lacks CRLF line endings")
	}

	rec, err := ins.DB.LastInstall()
	if err != nil || rec == nil {
		t.Fatalf("LastInstall = (%v, %v)", rec, err)
	}
	if rec.BundleDigest != "digest1" || rec.Profile != "default" {
		t.Errorf("record = %+v", rec)
	}
	if rec.ConfigBackup == "" {
		t.Error("no config backup recorded")
	}
	if backup, err := os.ReadFile(rec.ConfigBackup); err != nil || !strings.Contains(string(backup), "SomeMod") {
		t.Errorf("backup = (%q, %v)", backup, err)
	}

	// No stray lock or temp files.
	if _, err := os.Stat(inst.BundlePath() + ".lock"); !os.IsNotExist(err) {
		t.Error("install lock left behind")
	}
	if _, err := os.Stat(inst.BundlePath() + ".tmp"); !os.IsNotExist(err) {
		t.Error("bundle temp file left behind")
	}
}

func TestInstallWithoutGameConfig(t *testing.T) {
	inst := fakeGame(t)
	os.Remove(inst.GameConfigPath())
	ins := newInstaller(t, nil)

	if err := ins.Install(inst, bytes.NewReader([]byte("bundle")), "default", "d"); err != nil {
		t.Fatalf("Install without config: %v", err)
	}
	rec, _ := ins.DB.LastInstall()
	if rec.ConfigBackup != "" {
		t.Errorf("backup recorded for missing config: %q", rec.ConfigBackup)
	}
}

func TestInstallRollsBackOnHookFailure(t *testing.T) {
	inst := fakeGame(t)
	ins := newInstaller(t, []byte("hook"))

	// Make the binaries dir unwritable by replacing it with a file.
	os.RemoveAll(filepath.Join(inst.Root, "Binaries"))
	if err := os.WriteFile(filepath.Join(inst.Root, "Binaries"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	original, err := os.ReadFile(inst.GameConfigPath())
	if err != nil {
		t.Fatal(err)
	}

	err = ins.Install(inst, bytes.NewReader([]byte("bundle")), "default", "d")
	var failed *InstallFailedError
	if !errors.As(err, &failed) || failed.Stage != "hook write" {
		t.Fatalf("Install = %v", err)
	}

	if _, err := os.Stat(inst.BundlePath()); !os.IsNotExist(err) {
		t.Error("bundle not rolled back")
	}
	restored, err := os.ReadFile(inst.GameConfigPath())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(restored, original) {
		t.Error("game config not restored on rollback")
	}
	if rec, _ := ins.DB.LastInstall(); rec != nil {
		t.Error("install record committed despite rollback")
	}
}

func TestConcurrentInstallRejected(t *testing.T) {
	inst := fakeGame(t)
	ins := newInstaller(t, nil)

	release, err := lockInstall(inst)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	err = ins.Install(inst, bytes.NewReader([]byte("bundle")), "default", "d")
	var failed *InstallFailedError
	if !errors.As(err, &failed) || failed.Stage != "lock" {
		t.Errorf("second install = %v", err)
	}
}

func TestUninstallRestoresEverything(t *testing.T) {
	inst := fakeGame(t)
	ins := newInstaller(t, []byte("hook"))

	original, _ := os.ReadFile(inst.GameConfigPath())
	if err := ins.Install(inst, bytes.NewReader([]byte("bundle")), "default", "d"); err != nil {
		t.Fatal(err)
	}
	if err := ins.Uninstall(inst); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}

	if _, err := os.Stat(inst.BundlePath()); !os.IsNotExist(err) {
		t.Error("bundle still installed")
	}
	if _, err := os.Stat(inst.HookDLLPath()); !os.IsNotExist(err) {
		t.Error("hook still installed")
	}
	restored, err := os.ReadFile(inst.GameConfigPath())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(restored, original) {
		t.Error("game config not restored")
	}
	if rec, _ := ins.DB.LastInstall(); rec != nil {
		t.Error("install record survived uninstall")
	}

	// Idempotent: a second uninstall on a clean game is a no-op.
	if err := ins.Uninstall(inst); err != nil {
		t.Errorf("repeat Uninstall: %v", err)
	}
}
