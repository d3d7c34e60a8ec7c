package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"mint/config"
	"mint/install"
	"mint/logger"
	"mint/profile"
	"mint/provider"
	"mint/store"
)

// app bundles the shared state every command needs.
type app struct {
	Cfg      config.Config
	DB       *profile.DB
	Store    *store.Store
	Registry *provider.Registry
}

// bootstrap handles shared initialization logic for commands.
func bootstrap() (*app, error) {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return nil, err
	}
	logger.InitLogger(cfg.LogPath)

	db, err := profile.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	logger.Log.Infow("Database initialized", zap.String("path", cfg.DatabasePath))

	st, err := store.Open(cfg.CacheDir, logger.Log)
	if err != nil {
		return nil, err
	}
	if missing := st.Verify(); len(missing) > 0 {
		logger.Log.Warnw("Cache references missing blobs; they will be refetched",
			zap.Int("count", len(missing)))
	}

	reg := provider.NewRegistry(
		provider.NewModioProvider(cfg.ModioOAuth, logger.Log),
		provider.NewHTTPProvider(logger.Log),
		provider.NewFileProvider(),
	)
	return &app{Cfg: cfg, DB: db, Store: st, Registry: reg}, nil
}

// installer builds the install driver. The hook DLL is picked up from
// the data directory when present; without it only the pak bundle is
// installed.
func (a *app) installer() *install.Installer {
	hook, err := os.ReadFile(filepath.Join(a.Cfg.DataDir, "hook.dll"))
	if err != nil {
		logger.Log.Infow("No hook DLL in data directory, installing bundle only")
		hook = nil
	}
	return &install.Installer{
		DB:      a.DB,
		DataDir: a.Cfg.DataDir,
		HookDLL: hook,
		Log:     logger.Log,
	}
}

// findInstallation locates the game from the --drg flag, the DRG_PAK
// config, or Steam discovery, in that order.
func (a *app) findInstallation(drgFlag string) (*install.Installation, error) {
	pakPath := drgFlag
	if pakPath == "" {
		pakPath = a.Cfg.DRGPak
	}
	if pakPath != "" {
		return install.FromPakPath(pakPath)
	}
	if inst := install.Find(); inst != nil {
		logger.Log.Infow("Discovered game installation", zap.String("root", inst.Root))
		return inst, nil
	}
	return nil, fmt.Errorf("no game installation found; pass --drg or set DRG_PAK")
}

// profileOrActive resolves which profile a command operates on.
func (a *app) profileOrActive(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	active, err := a.DB.ActiveProfile()
	if err != nil {
		return "", err
	}
	if active == "" {
		return "", fmt.Errorf("no profile named and none active; run 'mint profile use <name>'")
	}
	return active, nil
}
