package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one scan cycle and print its summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		summary, err := getApp().Scan(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "scan %s: %d instruments checked, %d alerts fired\n",
			summary.ScanID, summary.InstrumentsChecked, summary.AlertsFired)
		for _, msg := range summary.Errors {
			fmt.Fprintf(cmd.OutOrStdout(), "  error: %s\n", msg)
		}
		return nil
	},
}
