package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the build version reported by the CLI and attached to
// telemetry. main sets it from ldflags.
var Version = "dev"

// NewVersionCmd creates the "version" subcommand.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the callstream version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "callstream version %s\n", Version)
		},
	}
}
