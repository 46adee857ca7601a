package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/lotuspar/libblitz/internal/activities"
	"github.com/lotuspar/libblitz/internal/replica"
	"github.com/lotuspar/libblitz/internal/telemetry"
	"github.com/lotuspar/libblitz/logging"
	loggingSinks "github.com/lotuspar/libblitz/logging/sinks"
)

func newReplicaCmd() *cobra.Command {
	var (
		server    string
		name      string
		memberID  string
		frameRate int
	)

	cmd := &cobra.Command{
		Use:   "replica",
		Short: "Connect a headless replica to an authority",
		Long:  "replica joins the authority as a new member (or reuses --member), then mirrors every lifecycle message it receives and runs per-frame simulation for its own member.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := telemetry.WrapLogger(log.New(cmd.ErrOrStderr(), "[replica] ", log.LstdFlags))

			if memberID == "" {
				joined, err := replica.Join(ctx, server, name)
				if err != nil {
					return err
				}
				memberID = joined
			}
			logger.Printf("joined %s as %s", server, memberID)

			router := logging.NewRouter(logging.SystemClock{}, logging.DefaultConfig(), []logging.NamedSink{
				{Name: "console", Sink: loggingSinks.NewConsoleSink(os.Stdout)},
			}, nil)
			defer func() {
				if err := router.Close(context.WithoutCancel(ctx)); err != nil {
					logger.Printf("failed to close logging router: %v", err)
				}
			}()

			runtime := replica.NewRuntime(activities.Registry(), replica.Options{
				Presenter: replica.NewLogPresenter(logger),
				Publisher: router,
				Logger:    logger,
			})
			client := replica.NewClient(replica.ClientConfig{
				BaseURL:   server,
				MemberID:  memberID,
				FrameRate: frameRate,
				Logger:    logger,
			}, runtime)

			if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("replica %s: %w", memberID, err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "authority base URL")
	cmd.Flags().StringVar(&name, "name", "", "display name used when joining")
	cmd.Flags().StringVar(&memberID, "member", "", "existing member ID; skips joining")
	cmd.Flags().IntVar(&frameRate, "frame-rate", 30, "local frames per second")
	return cmd
}
