package main

import "github.com/spf13/cobra"

func newRootCmd() *cobra.Command {
	serveCmd := newServeCmd()

	rootCmd := &cobra.Command{
		Use:           "libblitz",
		Short:         "Session authority and replica for activity-driven multiplayer sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serveCmd.RunE,
	}
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())

	rootCmd.AddCommand(
		serveCmd,
		newReplicaCmd(),
	)
	return rootCmd
}
