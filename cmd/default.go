package cmd

import (
	"github.com/spf13/cobra"
)

// defaultCmd runs when no subcommand is given.
var defaultCmd = &cobra.Command{
	Use:    "default",
	Hidden: true,
	Short:  "Show status when no subcommand is provided",
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusCmd.RunE(statusCmd, nil)
	},
}

func init() {
	rootCmd.AddCommand(defaultCmd)
	cobra.OnInitialize(func() {
		if len(rootCmd.Commands()) > 0 && len(rootCmd.Flags().Args()) == 0 {
			rootCmd.SetArgs([]string{"default"})
		}
	})
}
