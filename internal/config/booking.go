package config

import "time"

// BookingConfig carries the business parameters of the reservation engine.
type BookingConfig struct {
	HoldTTL          time.Duration // default lifetime of a seat hold
	HoldMaxTTL       time.Duration // upper bound on a requested hold TTL
	HoldLeakGuard    time.Duration // redis key expiry beyond the hold deadline
	ConfirmExtension time.Duration // hold extension granted while confirming
	SweepInterval    time.Duration
	SweepBatch       int
	BookingCutoff    time.Duration // bookings close this long before departure
	CancelCutoff     time.Duration // 0 disables the cancellation cutoff
	MaxSeats         int           // per booking
	OpTimeout        time.Duration
	HoldBackend      string // memory or redis
}

func (l *loader) booking() BookingConfig {
	c := BookingConfig{
		HoldTTL:          l.dur("HOLD_TTL", 5*time.Minute),
		HoldMaxTTL:       l.dur("HOLD_MAX_TTL", 15*time.Minute),
		HoldLeakGuard:    l.dur("HOLD_LEAK_GUARD", 10*time.Minute),
		ConfirmExtension: l.dur("CONFIRM_EXTENSION", 30*time.Second),
		SweepInterval:    l.dur("SWEEP_INTERVAL", 5*time.Second),
		SweepBatch:       l.int("SWEEP_BATCH", 500),
		BookingCutoff:    l.dur("BOOKING_CUTOFF", 0),
		CancelCutoff:     l.dur("CANCEL_CUTOFF", 0),
		MaxSeats:         l.int("MAX_SEATS_PER_BOOKING", 10),
		OpTimeout:        l.dur("OPERATION_TIMEOUT", 5*time.Second),
		HoldBackend:      envStr("HOLD_BACKEND", "memory"),
	}
	if c.HoldTTL <= 0 {
		l.fail("HOLD_TTL", "must be positive")
	}
	if c.HoldMaxTTL < c.HoldTTL {
		l.fail("HOLD_MAX_TTL", "must not be shorter than HOLD_TTL")
	}
	if c.SweepInterval <= 0 {
		l.fail("SWEEP_INTERVAL", "must be positive")
	}
	if c.MaxSeats < 1 {
		l.fail("MAX_SEATS_PER_BOOKING", "must be at least 1")
	}
	return c
}
