package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iliyamo/bus-seat-reservation/internal/config"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one expiry pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, newLogger(cmd.ErrOrStderr(), cfg.Log))
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithCancel(cmd.Context())
			done := make(chan struct{})
			go func() { _ = a.outbox.Run(ctx); close(done) }()

			stats, err := a.sweeper().SweepOnce(ctx)
			cancel()
			<-done // drains pending events
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "holds released: %d, reservations expired: %d, failures: %d\n",
				stats.HoldsReleased, stats.Expired, stats.Failed)
			return nil
		},
	}
}
