package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete alerts older than the configured retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		removed, err := getApp().Cleanup(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d alerts\n", removed)
		return nil
	},
}
