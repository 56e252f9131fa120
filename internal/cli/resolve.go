package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <location>",
	Short: "Resolve free-text input (coordinates, postcode, place, address) to a coordinate pair",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Resolve(cmd.Context(), strings.Join(args, " "))
	},
}
