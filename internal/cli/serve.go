package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/iliyamo/bus-seat-reservation/internal/booking"
	"github.com/iliyamo/bus-seat-reservation/internal/config"
	"github.com/iliyamo/bus-seat-reservation/internal/database"
	"github.com/iliyamo/bus-seat-reservation/internal/handler"
	"github.com/iliyamo/bus-seat-reservation/internal/middleware"
	"github.com/iliyamo/bus-seat-reservation/internal/router"
)

func newServeCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the expiry sweeper and the event outbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.Log)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			if migrateUp && a.db != nil {
				if _, err := database.Migrate(ctx, a.db, cfg.DB.Driver); err != nil {
					return err
				}
			}
			if _, err := booking.Recover(ctx, a.ledger, a.holds, a.clock, logger); err != nil {
				return err
			}

			var wg sync.WaitGroup
			wg.Add(2)
			bg, stopBackground := context.WithCancel(context.Background())
			go func() { defer wg.Done(); _ = a.sweeper().Run(ctx) }()
			// the outbox outlives the HTTP server so in-flight requests can still emit
			go func() { defer wg.Done(); _ = a.outbox.Run(bg) }()

			e := newEcho(cfg, a)

			errc := make(chan error, 1)
			go func() {
				addr := ":" + cfg.Port
				logger.Info("listening", "addr", addr, "env", cfg.Env, "db", cfg.DB.Driver, "holds", cfg.Booking.HoldBackend)
				if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
				close(errc)
			}()

			select {
			case <-ctx.Done():
			case err = <-errc:
			}
			cancel()
			shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
			defer done()
			if serr := e.Shutdown(shutdownCtx); serr != nil && err == nil {
				err = serr
			}
			stopBackground()
			wg.Wait()
			logger.Info("stopped")
			return err
		},
	}
	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	return cmd
}

// newEcho builds the HTTP API over a.  The rate limiter sits behind
// JWTAuth on the authenticated groups so buckets are per user; on the
// public seat map callers are anonymous and keyed by address.
func newEcho(cfg config.Config, a *app) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.Logger())
	limit := middleware.NewTokenBucket(cfg.RateLimit, a.rdb)

	checks := map[string]handler.Checker{}
	if a.db != nil {
		checks["database"] = a.db.PingContext
	}
	if a.rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return a.rdb.Ping(ctx).Err() }
	}
	bh := handler.NewBookingHandler(a.svc)
	router.RegisterRoutes(e, handler.NewHealthHandler(checks), bh, limit)
	router.RegisterCustomer(e, bh, cfg.JWTSecret, limit)
	router.RegisterAdmin(e, bh, cfg.JWTSecret, limit)
	return e
}
