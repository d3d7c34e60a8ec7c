package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"mint/ui"
)

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the installed bundle and restore the game config",
	Long: `Removes mod_P.pak and the hook DLL from the game and restores the
backed-up GameUserSettings.ini. Safe to run repeatedly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		drg, _ := cmd.Flags().GetString("drg")
		inst, err := a.findInstallation(drg)
		if err != nil {
			return err
		}
		if err := a.installer().Uninstall(inst); err != nil {
			return err
		}
		fmt.Println(ui.Title("Uninstalled mods from ") + inst.Root)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(uninstallCmd)
	uninstallCmd.Flags().String("drg", "", "Path of the game's root pak (FSD-WindowsNoEditor.pak)")
}
