package install

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gopkg.in/ini.v1"

	"mint/profile"
)

// ugcSection is the game config section controlling the official modding
// subsystem. Install clears it so the game does not double-load mods it
// fetched itself.
const ugcSection = "/Script/FSD.UserGeneratedContent"

// currentUserKey survives the rewrite so the game keeps its mod.io login.
const currentUserKey = "CurrentModioUserId"

// InstallFailedError reports which install stage failed; the stages
// performed before it have been rolled back.
type InstallFailedError struct {
	Stage string
	Err   error
}

func (e *InstallFailedError) Error() string {
	return fmt.Sprintf("install failed during %s: %v", e.Stage, e.Err)
}

func (e *InstallFailedError) Unwrap() error { return e.Err }

// Installer writes integrated bundles into a game installation and keeps
// enough state to undo it.
type Installer struct {
	DB      *profile.DB
	DataDir string // where config backups live
	HookDLL []byte // proxy DLL payload; skipped when empty
	Log     *zap.SugaredLogger
}

// Install places the bundle and hook into the game, in order: back up and
// rewrite the game config, publish mod_P.pak, publish the hook DLL,
// commit the install record. Any failure rolls back the steps already
// performed.
func (ins *Installer) Install(inst *Installation, bundle io.Reader, profileName, bundleDigest string) (err error) {
	release, err := lockInstall(inst)
	if err != nil {
		return &InstallFailedError{Stage: "lock", Err: err}
	}
	defer release()

	var undo []func()
	defer func() {
		if err == nil {
			return
		}
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}()

	backup, err := ins.backupGameConfig(inst)
	if err != nil {
		return &InstallFailedError{Stage: "config backup", Err: err}
	}

	if backup != "" {
		if err := rewriteGameConfig(inst.GameConfigPath()); err != nil {
			return &InstallFailedError{Stage: "config rewrite", Err: err}
		}
		undo = append(undo, func() { copyFile(backup, inst.GameConfigPath()) })
	}

	if err := writeAtomic(inst.BundlePath(), bundle); err != nil {
		return &InstallFailedError{Stage: "bundle write", Err: err}
	}
	undo = append(undo, func() { os.Remove(inst.BundlePath()) })
	ins.Log.Infow("Installed mod bundle", zap.String("path", inst.BundlePath()))

	hookPath := ""
	if len(ins.HookDLL) > 0 {
		hookPath = inst.HookDLLPath()
		if err := writeAtomic(hookPath, bytes.NewReader(ins.HookDLL)); err != nil {
			return &InstallFailedError{Stage: "hook write", Err: err}
		}
		undo = append(undo, func() { os.Remove(hookPath) })
		ins.Log.Infow("Installed hook library", zap.String("path", hookPath))
	}

	rec := &profile.InstallRecord{
		Profile:      profileName,
		BundlePath:   inst.BundlePath(),
		BundleDigest: bundleDigest,
		ConfigBackup: backup,
		HookDLL:      hookPath,
	}
	if err := ins.DB.RecordInstall(rec); err != nil {
		return &InstallFailedError{Stage: "record commit", Err: err}
	}
	return nil
}

// Uninstall removes the bundle and hook and restores the game config from
// its backup. It is idempotent: missing files are fine, and the backup is
// restored last so an interrupted uninstall can be re-run.
func (ins *Installer) Uninstall(inst *Installation) error {
	rec, err := ins.DB.LastInstall()
	if err != nil {
		return err
	}

	hookPath := inst.HookDLLPath()
	if rec != nil && rec.HookDLL != "" {
		hookPath = rec.HookDLL
	}
	if err := os.Remove(hookPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing hook library: %w", err)
	}

	bundlePath := inst.BundlePath()
	if rec != nil && rec.BundlePath != "" {
		bundlePath = rec.BundlePath
	}
	if err := os.Remove(bundlePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing mod bundle: %w", err)
	}

	if rec != nil && rec.ConfigBackup != "" {
		if _, err := os.Stat(rec.ConfigBackup); err == nil {
			if err := copyFile(rec.ConfigBackup, inst.GameConfigPath()); err != nil {
				return fmt.Errorf("restoring game config: %w", err)
			}
			os.Remove(rec.ConfigBackup)
		}
	}

	if rec != nil {
		if err := ins.DB.ClearInstall(); err != nil {
			return err
		}
	}
	ins.Log.Infow("Uninstalled mod bundle", zap.String("path", bundlePath))
	return nil
}

// backupGameConfig copies GameUserSettings.ini into the data directory.
// A game that has never written its config yet yields no backup.
func (ins *Installer) backupGameConfig(inst *Installation) (string, error) {
	src := inst.GameConfigPath()
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return "", nil
	}
	if err := os.MkdirAll(filepath.Join(ins.DataDir, "backups"), 0755); err != nil {
		return "", err
	}
	backup := filepath.Join(ins.DataDir, "backups",
		fmt.Sprintf("GameUserSettings-%d.ini", time.Now().Unix()))
	if err := copyFile(src, backup); err != nil {
		return "", err
	}
	return backup, nil
}

// rewriteGameConfig strips the official modding subsystem's mod list and
// disables its version check so the game does not load mods on its own.
// The login key is preserved. The engine expects CRLF line endings.
func rewriteGameConfig(path string) error {
	cfg, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("loading game config: %w", err)
	}
	sec := cfg.Section(ugcSection)
	for _, key := range sec.KeyStrings() {
		if key == currentUserKey {
			continue
		}
		sec.DeleteKey(key)
	}
	sec.Key("CheckGameversion").SetValue("False")

	ini.LineBreak = "\r\n"
	return cfg.SaveTo(path)
}

// writeAtomic publishes content at path via temp file + rename.
func writeAtomic(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
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
		return err
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return writeAtomic(dst, in)
}

// lockInstall takes a coarse lock on the output path so two installs do
// not interleave.
func lockInstall(inst *Installation) (func(), error) {
	if err := os.MkdirAll(inst.PaksDir(), 0755); err != nil {
		return nil, err
	}
	path := inst.BundlePath() + ".lock"
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("another install is in progress (%s exists)", path)
		}
		return nil, err
	}
	f.Close()
	return func() { os.Remove(path) }, nil
}
