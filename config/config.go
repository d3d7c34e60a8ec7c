package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// legacyDirName is the data directory name used by older releases. It is
// honored when it already exists so upgrades keep their cache and
// profiles.
const legacyDirName = "drg-mod-integration"

const dirName = "mint"

// Config holds all configuration for the application.
// Values are loaded by Viper from a .env file and/or environment variables.
type Config struct {
	ModioOAuth string `mapstructure:"MODIO_OAUTH"` // mod.io OAuth token, required only for modio specs
	DRGPak     string `mapstructure:"DRG_PAK"`     // path of the game's root pak, overrides discovery
	DataDir    string `mapstructure:"MINT_DATA_DIR"`
	Theme      string `mapstructure:"THEME"`

	// Derived, not from env.
	CacheDir     string `mapstructure:"-"`
	DatabasePath string `mapstructure:"-"`
	LogPath      string `mapstructure:"-"`
}

// LoadConfig reads configuration from a .env file in path and from the
// environment, then derives the cache, database and log locations.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	vipErr := viper.ReadInConfig()
	if _, ok := vipErr.(viper.ConfigFileNotFoundError); ok {
		slog.Info("Config file (.env) not found, relying on environment variables.")
	} else if vipErr != nil {
		return Config{}, fmt.Errorf("fatal error config file: %w", vipErr)
	}

	viper.AutomaticEnv()

	for key, env := range map[string]string{
		"modio_oauth":   "MODIO_OAUTH",
		"drg_pak":       "DRG_PAK",
		"mint_data_dir": "MINT_DATA_DIR",
		"theme":         "THEME",
	} {
		if err := viper.BindEnv(key, env); err != nil {
			slog.Warn("Unable to bind env var", "var", env, "error", err)
		}
	}

	if err := viper.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("unable to decode into struct, %w", err)
	}

	if config.DataDir == "" {
		config.DataDir, err = defaultDataDir()
		if err != nil {
			return Config{}, err
		}
	}
	if err := os.MkdirAll(config.DataDir, 0755); err != nil {
		return Config{}, fmt.Errorf("creating data directory: %w", err)
	}

	config.CacheDir = filepath.Join(config.DataDir, "cache")
	config.DatabasePath = filepath.Join(config.DataDir, "mint.db")
	config.LogPath = filepath.Join(config.DataDir, "mint.log")
	return config, nil
}

// defaultDataDir picks the platform config location, preferring a legacy
// directory when one is already populated.
func defaultDataDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("no usable config directory (set MINT_DATA_DIR): %w", err)
	}
	legacy := filepath.Join(base, legacyDirName)
	if info, err := os.Stat(legacy); err == nil && info.IsDir() {
		slog.Info("Using legacy data directory", "path", legacy)
		return legacy, nil
	}
	return filepath.Join(base, dirName), nil
}
