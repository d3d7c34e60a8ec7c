package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"mint/ui"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove cached payloads no profile references",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}

		names, err := a.DB.List()
		if err != nil {
			return err
		}
		var specs []string
		for _, name := range names {
			p, err := a.DB.Get(name)
			if err != nil {
				return err
			}
			for _, e := range p.Entries {
				specs = append(specs, e.Spec)
			}
		}

		removed, err := a.Store.GC(cmd.Context(), a.Store.Reachable(specs))
		if err != nil {
			return err
		}
		fmt.Println(ui.Title(fmt.Sprintf("Removed %d unreferenced payloads", removed)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(gcCmd)
}
