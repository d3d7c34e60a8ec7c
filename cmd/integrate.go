package cmd

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mint/integrate"
	"mint/logger"
	"mint/profile"
	"mint/ui"
)

var integrateCmd = &cobra.Command{
	Use:     "integrate",
	Aliases: []string{"install"},
	Short:   "Merge mods into a single bundle and install it into the game",
	Long: `Resolves and fetches the given mods (or the profile's mods), merges
them into one mod_P.pak and installs it beside the game's root pak.
Earlier mods win conflicts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}

		drg, _ := cmd.Flags().GetString("drg")
		update, _ := cmd.Flags().GetBool("update")
		mods, _ := cmd.Flags().GetStringArray("mods")
		profileFlag, _ := cmd.Flags().GetString("profile")
		output, _ := cmd.Flags().GetString("output")

		ctx := cmd.Context()
		var resolved []profile.ResolvedEntry
		var failures []profile.EntryError
		profileName := ""
		if len(mods) > 0 {
			resolved, failures, err = profile.ResolveSpecs(ctx, a.Store, a.Registry, mods, update)
		} else {
			profileName, err = a.profileOrActive(profileFlag)
			if err != nil {
				return err
			}
			resolved, failures, err = profile.Resolve(ctx, a.DB, a.Store, a.Registry, profileName, update)
		}
		if err != nil {
			return err
		}
		// Per-mod failures are isolated: report them and integrate the rest.
		for _, f := range failures {
			fmt.Println(ui.Error("  ✗ ") + f.Spec + ": " + f.Err.Error())
			logger.Log.Warnw("Mod excluded from integration", zap.String("spec", f.Spec), zap.Error(f.Err))
		}

		inputs := make([]integrate.Input, 0, len(resolved))
		for _, r := range resolved {
			marker := "  • "
			if r.Mod.Degraded {
				marker = ui.Degraded("  ~ ")
			}
			line := marker + r.DisplayName()
			if r.Mod.Approval != "" {
				line += " [" + ui.Approval(r.Mod.Approval) + "]"
			}
			fmt.Println(line)
			inputs = append(inputs, integrate.Input{
				Name:    r.DisplayName(),
				Source:  r.Entry.Spec,
				Digest:  r.Artifact.Digest,
				Version: r.Artifact.Version,
				Path:    r.Path,
			})
		}

		var bundle bytes.Buffer
		report, err := integrate.Integrate(ctx, inputs, &bundle, logger.Log)
		if err != nil {
			return err
		}
		printReport(report)

		if output != "" {
			if err := os.WriteFile(output, bundle.Bytes(), 0644); err != nil {
				return err
			}
			fmt.Println(ui.Title("Wrote bundle to ") + output)
			return nil
		}

		inst, err := a.findInstallation(drg)
		if err != nil {
			return err
		}
		digest := sha256.Sum256(bundle.Bytes())
		installer := a.installer()
		if err := installer.Install(inst, bytes.NewReader(bundle.Bytes()), profileName, hex.EncodeToString(digest[:])); err != nil {
			return err
		}
		fmt.Println(ui.Title("Installed ") + inst.BundlePath())
		return nil
	},
}

func printReport(report *integrate.Report) {
	fmt.Printf("Merged %d files (pak version %s)\n", report.Files, report.Target)
	for _, c := range report.Conflicts {
		fmt.Println(ui.Warn("  conflict ") + c.Path + ": " + c.Winner + " over " + joinNames(c.Losers))
	}
	for _, adv := range report.Advisories {
		fmt.Println(ui.Warn("  "+adv.Kind+" ") + adv.Path + " (" + adv.Mod + "): " + adv.Note)
	}
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}

func init() {
	rootCmd.AddCommand(integrateCmd)

	integrateCmd.Flags().String("drg", "", "Path of the game's root pak (FSD-WindowsNoEditor.pak)")
	integrateCmd.Flags().BoolP("update", "u", false, "Refresh cached resolutions before fetching")
	integrateCmd.Flags().StringArray("mods", nil, "Mod specs to integrate, highest precedence first")
	integrateCmd.Flags().StringP("profile", "p", "", "Profile to integrate (defaults to the active profile)")
	integrateCmd.Flags().StringP("output", "o", "", "Write the bundle to a file instead of installing")
}
