package cmd

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mint/logger"
	"mint/profile"
)

// updateCmd refreshes cached resolutions and fetches new versions.
var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Check for and download new versions of a profile's mods",
	Long: `Re-resolves every enabled mod of the profile against its provider and
fetches versions not yet in the cache. Pinned mods keep their pin.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		profileFlag, _ := cmd.Flags().GetString("profile")
		name, err := a.profileOrActive(profileFlag)
		if err != nil {
			return err
		}

		plain, _ := cmd.Flags().GetBool("plain")
		if plain {
			return runUpdatePlain(cmd.Context(), a, name)
		}

		model := initialUpdateModel(cmd.Context(), a, name)
		if _, err := tea.NewProgram(model).Run(); err != nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(updateCmd)
	updateCmd.Flags().StringP("profile", "p", "", "Profile to update (defaults to the active profile)")
	updateCmd.Flags().Bool("plain", false, "Line-oriented output instead of the interactive view")
}

// runUpdate walks the profile sequentially, reporting each mod on ch.
// The channel is closed when the walk ends.
func runUpdate(ctx context.Context, a *app, profileName string, ch chan<- updateProgressMsg) {
	defer close(ch)

	p, err := a.DB.Get(profileName)
	if err != nil {
		ch <- updateProgressMsg{Type: "error", Name: profileName, Message: err.Error()}
		return
	}

	checked, updated, failed := 0, 0, 0
	for _, e := range p.Entries {
		if !e.Enabled {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		ch <- updateProgressMsg{Type: "check", Name: e.Spec}
		checked++

		before := ""
		if mod := a.Store.CachedResolution(e.Spec); mod != nil {
			before = mod.Latest()
		}
		re, err := profile.ResolveEntry(ctx, a.Store, a.Registry, e, true)
		if err != nil {
			failed++
			ch <- updateProgressMsg{Type: "error", Name: e.Spec, Message: err.Error()}
			logger.Log.Warnw("Update failed for mod", zap.String("spec", e.Spec), zap.Error(err))
			continue
		}
		// An explicit update must not silently serve stale metadata.
		if re.Mod.Degraded {
			failed++
			ch <- updateProgressMsg{Type: "error", Name: re.DisplayName(), Message: "provider unreachable; cached version kept"}
			logger.Log.Warnw("Update served stale resolution", zap.String("spec", e.Spec))
			continue
		}
		if re.Artifact.Version != before || before == "" {
			updated++
			ch <- updateProgressMsg{Type: "fetched", Name: re.DisplayName(), Version: re.Artifact.Version}
		} else {
			ch <- updateProgressMsg{Type: "current", Name: re.DisplayName(), Version: re.Artifact.Version}
		}
	}
	ch <- updateProgressMsg{
		Type:    "summary",
		Message: fmt.Sprintf("Checked %d mods: %d updated, %d failed", checked, updated, failed),
	}
}

func runUpdatePlain(ctx context.Context, a *app, profileName string) error {
	ch := make(chan updateProgressMsg, 16)
	go runUpdate(ctx, a, profileName, ch)
	for msg := range ch {
		switch msg.Type {
		case "check":
			fmt.Printf("checking %s\n", msg.Name)
		case "fetched":
			fmt.Printf("updated %s to %s\n", msg.Name, msg.Version)
		case "current":
			fmt.Printf("%s is current\n", msg.Name)
		case "error":
			fmt.Printf("failed %s: %s\n", msg.Name, msg.Message)
		case "summary":
			fmt.Println(msg.Message)
		}
	}
	return ctx.Err()
}
