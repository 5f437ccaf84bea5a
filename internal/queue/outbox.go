package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// ErrOutboxClosed is returned by Notify once Run has returned.
var ErrOutboxClosed = errors.New("outbox closed")

// Publisher delivers an event to the broker.
type Publisher interface {
	Publish(ctx context.Context, e model.Event) error
}

// Handler is an in-process subscriber.
type Handler func(ctx context.Context, e model.Event)

// OutboxConfig tunes buffering and retries.  Backoff doubles after each
// failed publish up to MaxBackoff; an event is retried until it is
// delivered or shutdown gives up on it after DrainTimeout.
type OutboxConfig struct {
	Buffer       int
	Backoff      time.Duration
	MaxBackoff   time.Duration
	DrainTimeout time.Duration
}

// Outbox decouples event delivery from ledger transitions.  Notify only
// enqueues; Run delivers in order, retrying the publisher through broker
// outages.  A full buffer pushes back on Notify.  Events still pending
// when DrainTimeout runs out at shutdown are logged as lost.
type Outbox struct {
	events chan model.Event
	pub    Publisher
	cfg    OutboxConfig
	log    *slog.Logger

	mu     sync.RWMutex
	subs   []Handler
	closed chan struct{}
}

// NewOutbox returns an outbox delivering to pub, which may be nil when
// only in-process subscribers are wanted.
func NewOutbox(pub Publisher, cfg OutboxConfig, logger *slog.Logger) *Outbox {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = max(30*time.Second, cfg.Backoff)
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Outbox{
		events: make(chan model.Event, cfg.Buffer),
		pub:    pub,
		cfg:    cfg,
		log:    logger,
		closed: make(chan struct{}),
	}
}

// Subscribe registers h for every delivered event.
func (o *Outbox) Subscribe(h Handler) {
	o.mu.Lock()
	o.subs = append(o.subs, h)
	o.mu.Unlock()
}

// Notify enqueues e.  It blocks only while the buffer is full.
func (o *Outbox) Notify(ctx context.Context, e model.Event) error {
	select {
	case <-o.closed:
		return ErrOutboxClosed
	default:
	}
	select {
	case o.events <- e:
		return nil
	case <-o.closed:
		return ErrOutboxClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run delivers events until ctx is cancelled, then drains what is left.
func (o *Outbox) Run(ctx context.Context) error {
	for {
		select {
		case e := <-o.events:
			if !o.deliver(ctx, e) {
				// interrupted mid-retry: e goes first in the drain
				close(o.closed)
				o.drain(&e)
				return nil
			}
		case <-ctx.Done():
			close(o.closed)
			o.drain(nil)
			return nil
		}
	}
}

func (o *Outbox) drain(pending *model.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.DrainTimeout)
	defer cancel()
	if pending != nil && !o.deliver(ctx, *pending) {
		o.lost(*pending)
		o.dropRemaining()
		return
	}
	for {
		select {
		case e := <-o.events:
			if !o.deliver(ctx, e) {
				o.lost(e)
				o.dropRemaining()
				return
			}
		default:
			return
		}
	}
}

func (o *Outbox) dropRemaining() {
	for {
		select {
		case e := <-o.events:
			o.lost(e)
		default:
			return
		}
	}
}

func (o *Outbox) lost(e model.Event) {
	o.log.Error("outbox: event lost on shutdown",
		"event", e.Type, "reservation_id", e.ReservationID, "event_id", e.ID)
}

// deliver publishes e and then fans it out to subscribers.  It reports
// false when ctx ended before the publisher accepted e.
func (o *Outbox) deliver(ctx context.Context, e model.Event) bool {
	if o.pub != nil && !o.publish(ctx, e) {
		return false
	}
	o.mu.RLock()
	subs := append([]Handler(nil), o.subs...)
	o.mu.RUnlock()
	for _, h := range subs {
		h(ctx, e)
	}
	return true
}

func (o *Outbox) publish(ctx context.Context, e model.Event) bool {
	backoff := o.cfg.Backoff
	for attempt := 1; ; attempt++ {
		err := o.pub.Publish(ctx, e)
		if err == nil {
			if attempt > 1 {
				o.log.Info("outbox: publish recovered",
					"event", e.Type, "reservation_id", e.ReservationID, "attempts", attempt)
			}
			return true
		}
		o.log.Warn("outbox: publish failed, retrying",
			"event", e.Type, "reservation_id", e.ReservationID, "attempt", attempt,
			"backoff", backoff, "error", err)
		if !sleep(ctx, backoff) {
			return false
		}
		backoff = min(backoff*2, o.cfg.MaxBackoff)
	}
}
