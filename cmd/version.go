package cmd

import "github.com/spf13/cobra"

// Version is the application version, set at build time via ldflags.
// Example: go build -ldflags "-X github.com/kei1-dev/terakoya-invoicer/cmd.Version=1.0.0"
var Version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints the version",
		Args:  cobra.NoArgs,
		// Printing a constant does not need the config pipeline.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("terakoya-invoicer version %s\n", Version)
		},
	}
}
