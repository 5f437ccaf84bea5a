package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/bus-seat-reservation/internal/booking"
	"github.com/iliyamo/bus-seat-reservation/internal/clock"
	"github.com/iliyamo/bus-seat-reservation/internal/config"
	"github.com/iliyamo/bus-seat-reservation/internal/database"
	"github.com/iliyamo/bus-seat-reservation/internal/hold"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/queue"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
	"github.com/iliyamo/bus-seat-reservation/internal/seatmap"
	"github.com/iliyamo/bus-seat-reservation/internal/service"
)

// app owns every long-lived component.  close releases them in reverse
// order of construction.
type app struct {
	cfg    config.Config
	log    *slog.Logger
	clock  clock.Clock
	db     *sql.DB
	rdb    *redis.Client
	dir    repository.ScheduleDirectory
	ledger repository.Ledger
	holds  hold.Manager
	view   *seatmap.View
	outbox *queue.Outbox
	pub    *service.RabbitPublisher
	engine *booking.Engine
	svc    booking.Service

	closers []func() error
}

// demoSchedule backs the in-memory driver so a fresh process has
// something to book.
func demoSchedule(now time.Time) model.Schedule {
	return model.Schedule{
		ID:          "demo",
		RouteID:     "demo-route",
		BusID:       "demo-bus",
		Capacity:    40,
		SeatsPerRow: model.DefaultSeatsPerRow,
		DepartureAt: now.Add(7 * 24 * time.Hour),
		PriceCents:  2500,
		Status:      model.ScheduleScheduled,
	}
}

func newApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: logger, clock: clock.Real()}
	if err := a.build(); err != nil {
		_ = a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) build() error {
	cfg := a.cfg

	if cfg.Booking.HoldBackend == "redis" || cfg.Cache.Enabled || cfg.RateLimit.Enabled {
		rdb, err := config.NewRedisClient(cfg.Redis)
		switch {
		case err == nil:
			a.rdb = rdb
			a.closers = append(a.closers, rdb.Close)
		case cfg.Booking.HoldBackend == "redis":
			return err
		default:
			a.log.Warn("redis unavailable, using in-process cache and no rate limiting", "error", err)
		}
	}

	if cfg.Events.Enabled {
		a.pub = service.NewRabbitPublisher(cfg.Events.URL, cfg.Events.Exchange, a.log)
		a.closers = append(a.closers, a.pub.Close)
	}
	var pub queue.Publisher
	if a.pub != nil {
		pub = a.pub
	}
	a.outbox = queue.NewOutbox(pub, queue.OutboxConfig{}, a.log)
	a.outbox.Subscribe(func(_ context.Context, e model.Event) {
		a.log.Debug("reservation event", "event", e.Type, "reservation_id", e.ReservationID, "schedule_id", e.ScheduleID)
	})
	opts := repository.Options{Clock: a.clock, Notifier: a.outbox, Logger: a.log}

	switch cfg.DB.Driver {
	case "memory":
		dir := repository.NewMemoryDirectory(demoSchedule(a.clock.Now()))
		a.dir = dir
		a.ledger = repository.NewMemoryLedger(dir, opts)
	default:
		db, err := database.Open(cfg.DB.Driver, cfg.DB.DSN())
		if err != nil {
			return err
		}
		a.db = db
		a.closers = append(a.closers, db.Close)
		dialect, err := repository.DialectFor(cfg.DB.Driver)
		if err != nil {
			return err
		}
		a.dir = repository.NewScheduleRepo(db, dialect)
		a.ledger = repository.NewSQLLedger(db, dialect, opts)
	}

	holdCfg := hold.Config{Clock: a.clock, MaxTTL: cfg.Booking.HoldMaxTTL, LeakGuard: cfg.Booking.HoldLeakGuard}
	if cfg.Booking.HoldBackend == "redis" {
		a.holds = hold.NewRedisManager(a.rdb, "hold", holdCfg)
	} else {
		a.holds = hold.NewMemoryManager(holdCfg)
	}

	var cache seatmap.Cache
	if cfg.Cache.Enabled {
		if a.rdb != nil {
			cache = seatmap.NewRedisCache(a.rdb, cfg.Cache.Prefix, cfg.Cache.TTL)
		} else {
			cache = seatmap.NewMemoryCache(cfg.Cache.TTL, a.clock)
		}
	}
	a.view = seatmap.NewView(a.ledger, cache, a.log)

	a.engine = booking.NewEngine(booking.Deps{
		Ledger:    a.ledger,
		Holds:     a.holds,
		Directory: a.dir,
		View:      a.view,
		Clock:     a.clock,
		Logger:    a.log,
	}, booking.Config{
		HoldTTL:          cfg.Booking.HoldTTL,
		ConfirmExtension: cfg.Booking.ConfirmExtension,
		BookingCutoff:    cfg.Booking.BookingCutoff,
	})
	a.svc = booking.Chain(a.engine,
		booking.WithLogging(a.log),
		booking.WithTimeout(cfg.Booking.OpTimeout),
		booking.WithValidation(booking.Limits{MaxSeats: cfg.Booking.MaxSeats, MaxHoldTTL: cfg.Booking.HoldMaxTTL}),
		booking.WithCancelCutoff(cfg.Booking.CancelCutoff, a.ledger, a.dir, a.clock),
	)
	return nil
}

func (a *app) sweeper() *booking.Sweeper {
	return booking.NewSweeper(a.ledger, a.holds, a.view, a.clock, a.log, booking.SweeperConfig{
		Interval: a.cfg.Booking.SweepInterval,
		Batch:    a.cfg.Booking.SweepBatch,
	})
}

func (a *app) close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	if first != nil {
		return fmt.Errorf("shutdown: %w", first)
	}
	return nil
}
