package queue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

func newTestConsumer(t *testing.T, withRedis bool) (*Consumer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logs", "booking.log")
	var rdb *redis.Client
	if withRedis {
		mr := miniredis.RunT(t)
		rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
	}
	return NewConsumer(ConsumerConfig{LogPath: path}, rdb, quiet()), path
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	return strings.Split(strings.TrimSpace(string(b)), "\n")
}

func TestConsumerWritesLine(t *testing.T) {
	c, path := newTestConsumer(t, false)
	body, _ := Encode(sampleEvent("r1"))
	if err := c.Handle(context.Background(), body); err != nil {
		t.Fatal(err)
	}
	lines := readLines(t, path)
	want := "[2026-03-01T12:00:00Z] Reservation confirmed | reservation_id=r1 | code=RES1700000000ABCD | user_id=u1 | schedule_id=sched-1 | total=5000 cents | seats=[3,4]"
	if len(lines) != 1 || lines[0] != want {
		t.Fatalf("log = %q\nwant %q", lines, want)
	}
}

func TestConsumerDropsRedelivery(t *testing.T) {
	c, path := newTestConsumer(t, true)
	ctx := context.Background()

	confirmed, _ := Encode(sampleEvent("r1"))
	cancelled := sampleEvent("r1")
	cancelled.Type = model.EventReservationCancelled
	cancelled.Actor = "ADMIN:7"
	cancelledBody, _ := Encode(cancelled)

	for _, body := range [][]byte{confirmed, confirmed, cancelledBody, cancelledBody} {
		if err := c.Handle(ctx, body); err != nil {
			t.Fatal(err)
		}
	}
	lines := readLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), lines)
	}
	if !strings.Contains(lines[1], "Reservation cancelled") || !strings.HasSuffix(lines[1], "| by=ADMIN:7") {
		t.Fatalf("cancel line = %q", lines[1])
	}
}

func TestConsumerRejectsMalformed(t *testing.T) {
	c, _ := newTestConsumer(t, false)
	for _, body := range []string{
		`not json`,
		`{"type":"reservation.created","reservation_id":"r1"}`,
		`{"type":"reservation.expired"}`,
	} {
		if err := c.Handle(context.Background(), []byte(body)); !errors.Is(err, errInvalidEvent) {
			t.Errorf("Handle(%s) = %v, want invalid event", body, err)
		}
	}
}
