// Package profile persists named, ordered mod lists and install records.
// Precedence is positional: the entry at position 0 is the top of the
// list and wins conflicts during integration.
package profile

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/ncruces/go-sqlite3/gormlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Profile is a named mod list.
type Profile struct {
	gorm.Model
	Name    string  `gorm:"uniqueIndex"`
	Entries []Entry `gorm:"foreignKey:ProfileID;constraint:OnDelete:CASCADE"`
}

// Entry is one mod in a profile. Position orders the list, 0 at the top.
type Entry struct {
	gorm.Model
	ProfileID     uint `gorm:"index"`
	Position      int
	Spec          string // raw mod spec string as the user gave it
	Enabled       bool
	PinnedVersion string // empty tracks the latest version
}

// InstallRecord remembers what an install wrote so uninstall can undo it.
type InstallRecord struct {
	gorm.Model
	Profile      string
	BundlePath   string // installed pak bundle
	BundleDigest string // sha256 of the bundle as written
	ConfigBackup string // saved copy of GameUserSettings.ini, may be empty
	HookDLL      string // proxy dll path, may be empty
	InstalledAt  time.Time
}

// Setting is a small key/value table for app state like the active
// profile name.
type Setting struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrProfileExists   = errors.New("profile already exists")
	ErrEntryNotFound   = errors.New("mod not in profile")
)

// DB wraps the sqlite-backed profile database.
type DB struct {
	g *gorm.DB
}

// Open connects to the profile database at dbPath and migrates the
// schema. The file is created on first use.
func Open(dbPath string) (*DB, error) {
	newLogger := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)

	g, err := gorm.Open(gormlite.Open(dbPath), &gorm.Config{
		Logger: newLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect profile database: %w", err)
	}
	if err := g.AutoMigrate(&Profile{}, &Entry{}, &InstallRecord{}, &Setting{}); err != nil {
		return nil, fmt.Errorf("failed to migrate profile schema: %w", err)
	}
	return &DB{g: g}, nil
}
