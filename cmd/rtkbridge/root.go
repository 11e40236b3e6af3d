package main

import "github.com/spf13/cobra"

// version is stamped at link time with -ldflags "-X main.version=...".
var version = "dev"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "rtkbridge",
		Short:         "Relay NTRIP RTK corrections to a GNSS receiver",
		Long:          "rtkbridge connects to an NTRIP caster, reports the rover position from a GNSS receiver and streams the caster's RTCM corrections back into the receiver.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newGGACmd(),
	)
	return rootCmd
}
