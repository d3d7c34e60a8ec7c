package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mint/provider"
	"mint/ui"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage named, ordered mod lists",
	Long: `Profiles are ordered lists of mod specs. The first mod in a profile
has the highest precedence and wins conflicts during integration.`,
}

var profileCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an empty profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		if _, err := a.DB.Create(args[0]); err != nil {
			return err
		}
		fmt.Println(ui.Title("Created profile ") + args[0])
		return nil
	},
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		names, err := a.DB.List()
		if err != nil {
			return err
		}
		active, _ := a.DB.ActiveProfile()
		for _, name := range names {
			if name == active {
				fmt.Println(ui.Title("* " + name))
			} else {
				fmt.Println("  " + name)
			}
		}
		return nil
	},
}

var profileUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Select the profile commands default to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		return a.DB.SetActiveProfile(args[0])
	},
}

var profileRenameCmd = &cobra.Command{
	Use:   "rename <old> <new>",
	Short: "Rename a profile",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		return a.DB.Rename(args[0], args[1])
	},
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		return a.DB.Delete(args[0])
	},
}

var profileDuplicateCmd = &cobra.Command{
	Use:   "duplicate <src> <dst>",
	Short: "Copy a profile, including enable and pin state",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		return a.DB.Duplicate(args[0], args[1])
	},
}

var profileAddCmd = &cobra.Command{
	Use:   "add <spec>...",
	Short: "Append mods to the bottom of a profile",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		name, err := a.profileOrActive(profileFlagOf(cmd))
		if err != nil {
			return err
		}
		for _, raw := range args {
			if _, err := provider.Parse(raw); err != nil {
				return err
			}
			if err := a.DB.AddMod(name, raw); err != nil {
				return err
			}
			fmt.Println(ui.Title("Added ") + raw)
		}
		return nil
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:   "remove <spec>",
	Short: "Remove a mod from a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		name, err := a.profileOrActive(profileFlagOf(cmd))
		if err != nil {
			return err
		}
		return a.DB.RemoveMod(name, args[0])
	},
}

var profileMoveCmd = &cobra.Command{
	Use:     "move <spec> <position>",
	Aliases: []string{"reorder"},
	Short:   "Move a mod to a position (0 is the top and wins conflicts)",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		name, err := a.profileOrActive(profileFlagOf(cmd))
		if err != nil {
			return err
		}
		pos, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("position must be a number: %w", err)
		}
		return a.DB.MoveMod(name, args[0], pos)
	},
}

var profileEnableCmd = &cobra.Command{
	Use:   "enable <spec>",
	Short: "Enable a mod without changing its position",
	Args:  cobra.ExactArgs(1),
	RunE:  setEnabled(true),
}

var profileDisableCmd = &cobra.Command{
	Use:   "disable <spec>",
	Short: "Disable a mod without removing it",
	Args:  cobra.ExactArgs(1),
	RunE:  setEnabled(false),
}

func setEnabled(enabled bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		name, err := a.profileOrActive(profileFlagOf(cmd))
		if err != nil {
			return err
		}
		return a.DB.SetEnabled(name, args[0], enabled)
	}
}

var profilePinCmd = &cobra.Command{
	Use:   "pin <spec> [version]",
	Short: "Pin a mod to a version; omit the version to unpin",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		name, err := a.profileOrActive(profileFlagOf(cmd))
		if err != nil {
			return err
		}
		version := ""
		if len(args) == 2 {
			version = args[1]
		}
		return a.DB.PinVersion(name, args[0], version)
	},
}

var profileURLsCmd = &cobra.Command{
	Use:     "urls",
	Aliases: []string{"url"},
	Short:   "Print the profile's mod specs, one per line",
	Long: `Prints every spec in the profile in order, suitable for sharing or
re-importing with 'mint profile import'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		name, err := a.profileOrActive(profileFlagOf(cmd))
		if err != nil {
			return err
		}
		p, err := a.DB.Get(name)
		if err != nil {
			return err
		}
		for _, e := range p.Entries {
			fmt.Println(e.Spec)
		}
		return nil
	},
}

var profileImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Add specs from a file, one per line",
	Long: `Reads mod specs from a text file (blank lines and # comments are
skipped) and appends them to the profile in file order.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		name, err := a.profileOrActive(profileFlagOf(cmd))
		if err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		added := 0
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			if _, err := provider.Parse(line); err != nil {
				return err
			}
			if err := a.DB.AddMod(name, line); err != nil {
				return err
			}
			added++
		}
		if err := scanner.Err(); err != nil {
			return err
		}
		fmt.Println(ui.Title(fmt.Sprintf("Imported %d mods into %s", added, name)))
		return nil
	},
}

func profileFlagOf(cmd *cobra.Command) string {
	flag, _ := cmd.Flags().GetString("profile")
	return flag
}

func init() {
	rootCmd.AddCommand(profileCmd)
	subs := []*cobra.Command{
		profileCreateCmd, profileListCmd, profileUseCmd, profileRenameCmd,
		profileDeleteCmd, profileDuplicateCmd, profileAddCmd, profileRemoveCmd,
		profileMoveCmd, profileEnableCmd, profileDisableCmd, profilePinCmd,
		profileURLsCmd, profileImportCmd,
	}
	for _, sub := range subs {
		sub.Flags().StringP("profile", "p", "", "Profile to operate on (defaults to the active profile)")
		profileCmd.AddCommand(sub)
	}
}
