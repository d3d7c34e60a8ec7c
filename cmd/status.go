package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mint/integrate"
	"mint/pak"
	"mint/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active profile, its mods and the install state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}

		active, err := a.DB.ActiveProfile()
		if err != nil {
			return err
		}
		if active == "" {
			fmt.Println("No active profile. Run 'mint profile use <name>'.")
		} else {
			fmt.Println(ui.Title("Profile: ") + active)
			p, err := a.DB.Get(active)
			if err != nil {
				return err
			}
			for _, e := range p.Entries {
				line := "  • "
				if !e.Enabled {
					line = ui.Degraded("  ◦ ")
				}
				name := e.Spec
				if mod := a.Store.CachedResolution(e.Spec); mod != nil {
					name = mod.Name
					if mod.Approval != "" {
						name += " [" + ui.Approval(mod.Approval) + "]"
					}
				} else {
					name += ui.Degraded(" (not yet fetched)")
				}
				if e.PinnedVersion != "" {
					name += " @" + e.PinnedVersion
				}
				fmt.Println(line + name)
			}
		}

		rec, err := a.DB.LastInstall()
		if err != nil {
			return err
		}
		if rec == nil {
			fmt.Println("No bundle installed.")
			return nil
		}
		fmt.Println(ui.Title("Installed: ") + rec.BundlePath)
		fmt.Printf("  profile %s, digest %s, at %s\n",
			rec.Profile, short(rec.BundleDigest), rec.InstalledAt.Format("2006-01-02 15:04:05"))
		if summary := serverListSummary(a, rec.BundlePath); summary != "" {
			fmt.Println("  server list: " + summary)
		}

		if missing := a.Store.Verify(); len(missing) > 0 {
			fmt.Println(ui.Warn(fmt.Sprintf("  %d cached payloads missing on disk (will refetch)", len(missing))))
		}
		return nil
	},
}

// serverListSummary reads the installed bundle's embedded manifest and
// renders the string the hook publishes to the server browser. Empty
// when the bundle is gone or unreadable.
func serverListSummary(a *app, bundlePath string) string {
	f, err := os.Open(bundlePath)
	if err != nil {
		return ""
	}
	defer f.Close()

	r, err := pak.NewReader(f)
	if err != nil {
		return ""
	}
	m, err := integrate.ReadManifest(r)
	if err != nil {
		return ""
	}
	approvals := make(map[string]string, len(m.Mods))
	for _, mod := range m.Mods {
		if res := a.Store.CachedResolution(mod.Source); res != nil {
			approvals[mod.Source] = res.Approval
		}
	}
	return m.ServerListString(approvals)
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
