// Package install discovers the game installation and swaps the
// integrated mod bundle and hook library in and out of it atomically.
package install

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Kind distinguishes the supported game distributions. They differ in
// pak name, binaries directory and which proxy DLL the game loads.
type Kind int

const (
	KindSteam Kind = iota
	KindXbox
)

func (k Kind) String() string {
	switch k {
	case KindSteam:
		return "Steam"
	case KindXbox:
		return "Xbox"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MainPakName is the game's root pak for this distribution.
func (k Kind) MainPakName() string {
	if k == KindXbox {
		return "FSD-WinGDK.pak"
	}
	return "FSD-WindowsNoEditor.pak"
}

// BinariesDirName is the directory holding the game executable.
func (k Kind) BinariesDirName() string {
	if k == KindXbox {
		return "WinGDK"
	}
	return "Win64"
}

// HookDLLName is the proxy DLL name the game loads at startup.
func (k Kind) HookDLLName() string {
	if k == KindXbox {
		return "d3d9.dll"
	}
	return "x3daudio1_7.dll"
}

// UnknownInstallationError reports a path that does not look like a game
// install.
type UnknownInstallationError struct {
	Path   string
	Reason string
}

func (e *UnknownInstallationError) Error() string {
	return fmt.Sprintf("%s does not look like a game installation: %s", e.Path, e.Reason)
}

// Installation is a located game install rooted at the FSD directory.
type Installation struct {
	Root string
	Kind Kind
}

// FromPakPath derives the installation from the path of the game's root
// pak, e.g. <root>/FSD/Content/Paks/FSD-WindowsNoEditor.pak.
func FromPakPath(pakPath string) (*Installation, error) {
	var kind Kind
	switch strings.ToLower(filepath.Base(pakPath)) {
	case strings.ToLower(KindSteam.MainPakName()):
		kind = KindSteam
	case strings.ToLower(KindXbox.MainPakName()):
		kind = KindXbox
	default:
		return nil, &UnknownInstallationError{
			Path:   pakPath,
			Reason: fmt.Sprintf("expected %s or %s", KindSteam.MainPakName(), KindXbox.MainPakName()),
		}
	}
	root := filepath.Dir(filepath.Dir(filepath.Dir(pakPath)))
	if root == "" || root == "." {
		return nil, &UnknownInstallationError{Path: pakPath, Reason: "cannot determine the install root"}
	}
	return &Installation{Root: root, Kind: kind}, nil
}

// Find probes the usual Steam library locations for the game and returns
// the first install found, or nil.
func Find() *Installation {
	home, _ := os.UserHomeDir()
	candidates := []string{
		`C:\Program Files (x86)\Steam\steamapps\common\Deep Rock Galactic\FSD`,
		`C:\Program Files\Steam\steamapps\common\Deep Rock Galactic\FSD`,
		filepath.Join(home, ".local/share/Steam/steamapps/common/Deep Rock Galactic/FSD"),
		filepath.Join(home, ".steam/steam/steamapps/common/Deep Rock Galactic/FSD"),
	}
	for _, root := range candidates {
		pak := filepath.Join(root, "Content", "Paks", KindSteam.MainPakName())
		if _, err := os.Stat(pak); err == nil {
			inst, err := FromPakPath(pak)
			if err == nil {
				return inst
			}
		}
	}
	return nil
}

// PaksDir is where the integrated bundle is placed, beside the root pak.
func (i *Installation) PaksDir() string {
	return filepath.Join(i.Root, "Content", "Paks")
}

// BundlePath is the full path of the installed mod bundle.
func (i *Installation) BundlePath() string {
	return filepath.Join(i.PaksDir(), "mod_P.pak")
}

// MainPak is the game's own root pak.
func (i *Installation) MainPak() string {
	return filepath.Join(i.PaksDir(), i.Kind.MainPakName())
}

// BinariesDir holds the game executable; the hook DLL goes here.
func (i *Installation) BinariesDir() string {
	return filepath.Join(i.Root, "Binaries", i.Kind.BinariesDirName())
}

// HookDLLPath is the full path the proxy DLL is written to.
func (i *Installation) HookDLLPath() string {
	return filepath.Join(i.BinariesDir(), i.Kind.HookDLLName())
}

// GameConfigPath is the game's modding subsystem configuration file.
func (i *Installation) GameConfigPath() string {
	return filepath.Join(i.Root, "Saved", "Config", "WindowsNoEditor", "GameUserSettings.ini")
}
