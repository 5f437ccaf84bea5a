// Package queue moves reservation events out of the engine.  The Outbox
// receives events after a ledger transition commits and hands them to a
// Publisher (RabbitMQ in production) and in-process subscribers; the
// Consumer is the receiving end that turns them into booking log lines.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// DefaultExchange is the topic exchange events are published to.  The
// routing key is the event type, e.g. "reservation.confirmed".
const DefaultExchange = "reservations"

// BindingKey matches every reservation event on the exchange.
const BindingKey = "reservation.*"

var errInvalidEvent = errors.New("invalid event")

// RoutingKey returns the routing key for e.
func RoutingKey(e model.Event) string { return string(e.Type) }

// Encode returns the wire form of e.
func Encode(e model.Event) ([]byte, error) { return json.Marshal(e) }

// Decode parses a message body and checks the fields consumers rely on.
func Decode(body []byte) (model.Event, error) {
	var e model.Event
	if err := json.Unmarshal(body, &e); err != nil {
		return model.Event{}, fmt.Errorf("unmarshal: %w", err)
	}
	switch e.Type {
	case model.EventReservationConfirmed, model.EventReservationCancelled, model.EventReservationExpired:
	default:
		return model.Event{}, fmt.Errorf("type %q: %w", e.Type, errInvalidEvent)
	}
	if e.ReservationID == "" {
		return model.Event{}, fmt.Errorf("missing reservation_id: %w", errInvalidEvent)
	}
	return e, nil
}

var verbs = map[model.EventType]string{
	model.EventReservationConfirmed: "Reservation confirmed",
	model.EventReservationCancelled: "Reservation cancelled",
	model.EventReservationExpired:   "Reservation expired",
}

// LogLine renders e as one line of logs/booking.log.
func LogLine(e model.Event) string {
	seats := make([]string, len(e.Seats))
	for i, n := range e.Seats {
		seats[i] = strconv.Itoa(n)
	}
	line := fmt.Sprintf("[%s] %s | reservation_id=%s | code=%s | user_id=%s | schedule_id=%s | total=%d cents | seats=[%s]",
		e.OccurredAt.UTC().Format(time.RFC3339), verbs[e.Type], e.ReservationID, e.Code, e.UserID, e.ScheduleID,
		e.TotalCents, strings.Join(seats, ","))
	if e.Actor != "" {
		line += " | by=" + e.Actor
	}
	return line + "\n"
}
