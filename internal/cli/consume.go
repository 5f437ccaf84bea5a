package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/iliyamo/bus-seat-reservation/internal/config"
	"github.com/iliyamo/bus-seat-reservation/internal/queue"
)

func newConsumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Append reservation events from RabbitMQ to the booking log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.Log)

			var rdb *redis.Client
			if c, err := config.NewRedisClient(cfg.Redis); err != nil {
				logger.Warn("redis unavailable, duplicate events will be logged twice", "error", err)
			} else {
				rdb = c
				defer rdb.Close()
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			c := queue.NewConsumer(queue.ConsumerConfig{
				URL:      cfg.Events.URL,
				Exchange: cfg.Events.Exchange,
				Queue:    cfg.Events.Queue,
				LogPath:  cfg.Events.LogPath,
			}, rdb, logger)
			logger.Info("consuming", "exchange", cfg.Events.Exchange, "queue", cfg.Events.Queue, "log", cfg.Events.LogPath)
			return c.Run(ctx)
		},
	}
}
