package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var retailersCmd = &cobra.Command{
	Use:   "retailers",
	Short: "List the retailer feeds the configured search will query",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, d := range getApp().Config.FeedDescriptors() {
			fmt.Fprintf(cmd.OutOrStdout(), "%-22s %s\n", d.Retailer, d.URL)
		}
		return nil
	},
}
