package cli

import (
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "imposterd",
	Short: "Virtualize network services with stubbed, proxied, or injected responses",
	Long: `imposterd stands up virtual servers ("imposters") for testing:
each imposter binds a port for one protocol and answers requests from
configured stubs, by proxying a real upstream, or with injected
expression logic.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() error {
	rootCmd.Version = Version
	return rootCmd.Execute()
}
