package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/lotuspar/libblitz/internal/app"
)

func newServeCmd() *cobra.Command {
	var (
		addr            string
		tickRate        int
		heartbeat       time.Duration
		journalPath     string
		initialActivity string
		logLevel        string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session authority",
		Long:  "serve hosts one session, accepts replica connections on /ws and drives the activity lifecycle. Flags override LIBBLITZ_* environment variables.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Addr = addr
			}
			if flags.Changed("tick-rate") {
				cfg.TickRate = tickRate
			}
			if flags.Changed("heartbeat") {
				cfg.HeartbeatInterval = heartbeat
			}
			if flags.Changed("journal") {
				cfg.JournalPath = journalPath
			}
			if flags.Changed("activity") {
				cfg.InitialActivity = initialActivity
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			return app.Run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	cmd.Flags().IntVar(&tickRate, "tick-rate", 15, "authoritative ticks per second")
	cmd.Flags().DurationVar(&heartbeat, "heartbeat", 2*time.Second, "replica heartbeat interval")
	cmd.Flags().StringVar(&journalPath, "journal", "", "SQLite file that persists lifecycle transitions")
	cmd.Flags().StringVar(&initialActivity, "activity", "lobby", "activity kind installed at startup")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "minimum event severity (debug, info, warn, error)")
	return cmd
}
