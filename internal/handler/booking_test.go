package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-reservation/internal/booking"
	"github.com/iliyamo/bus-seat-reservation/internal/clock"
	"github.com/iliyamo/bus-seat-reservation/internal/handler"
	"github.com/iliyamo/bus-seat-reservation/internal/hold"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
	"github.com/iliyamo/bus-seat-reservation/internal/router"
	"github.com/iliyamo/bus-seat-reservation/internal/seatmap"
	"github.com/iliyamo/bus-seat-reservation/internal/utils"
)

const secret = "test-secret"

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type api struct {
	e     *echo.Echo
	clock *clock.Fake
}

func newAPI(t *testing.T, checks map[string]handler.Checker) *api {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	fc := clock.NewFake(epoch)
	dir := repository.NewMemoryDirectory(model.Schedule{
		ID: "s1", RouteID: "r1", BusID: "b1", Capacity: 8, SeatsPerRow: 4, PriceCents: 1500,
		DepartureAt: epoch.Add(48 * time.Hour), Status: model.ScheduleScheduled,
	})
	ledger := repository.NewMemoryLedger(dir, repository.Options{Clock: fc, Logger: quiet})
	holds := hold.NewMemoryManager(hold.Config{Clock: fc, MaxTTL: 15 * time.Minute})
	view := seatmap.NewView(ledger, seatmap.NewMemoryCache(time.Minute, fc), quiet)
	engine := booking.NewEngine(booking.Deps{
		Ledger: ledger, Holds: holds, Directory: dir, View: view, Clock: fc, Logger: quiet,
	}, booking.Config{HoldTTL: 5 * time.Minute, ConfirmExtension: 30 * time.Second})
	svc := booking.Chain(engine, booking.WithValidation(booking.Limits{MaxSeats: 4, MaxHoldTTL: 15 * time.Minute}))

	e := echo.New()
	bh := handler.NewBookingHandler(svc)
	router.RegisterRoutes(e, handler.NewHealthHandler(checks), bh)
	router.RegisterCustomer(e, bh, secret)
	router.RegisterAdmin(e, bh, secret)
	return &api{e: e, clock: fc}
}

func token(t *testing.T, user, role string) string {
	t.Helper()
	tok, err := utils.IssueAccessToken(secret, user, role, time.Hour, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	return tok.Token
}

func (a *api) do(t *testing.T, method, path, tok, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if tok != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	out := map[string]any{}
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code, out
}

func TestBookingFlow(t *testing.T) {
	a := newAPI(t, nil)
	alice := token(t, "alice", model.RoleCustomer)
	bob := token(t, "bob", model.RoleCustomer)

	code, body := a.do(t, http.MethodGet, "/v1/schedules/s1/seats", "", "")
	if code != http.StatusOK || len(body["available"].([]any)) != 8 {
		t.Fatalf("seat map: %d %v", code, body)
	}

	code, body = a.do(t, http.MethodPost, "/v1/schedules/s1/bookings", alice, `{"seats":[1,2]}`)
	if code != http.StatusCreated || body["state"] != "PENDING" || body["total_cents"].(float64) != 3000 {
		t.Fatalf("book: %d %v", code, body)
	}
	id := body["id"].(string)

	code, body = a.do(t, http.MethodPost, "/v1/schedules/s1/bookings", bob, `{"seats":[2,3]}`)
	if code != http.StatusConflict || body["error"] != "seat_conflict" {
		t.Fatalf("conflicting book: %d %v", code, body)
	}
	if seats := body["seats"].([]any); len(seats) != 1 || seats[0].(float64) != 2 {
		t.Fatalf("conflicting seats = %v", body["seats"])
	}

	if code, _ = a.do(t, http.MethodPost, "/v1/bookings/"+id+"/confirm", bob, ""); code != http.StatusForbidden {
		t.Fatalf("confirm by another user: %d", code)
	}
	code, body = a.do(t, http.MethodPost, "/v1/bookings/"+id+"/confirm", alice, "")
	if code != http.StatusOK || body["state"] != "CONFIRMED" {
		t.Fatalf("confirm: %d %v", code, body)
	}

	code, body = a.do(t, http.MethodGet, "/v1/my-bookings", alice, "")
	if code != http.StatusOK || len(body["reservations"].([]any)) != 1 {
		t.Fatalf("my bookings: %d %v", code, body)
	}

	code, body = a.do(t, http.MethodDelete, "/v1/bookings/"+id, alice, "")
	if code != http.StatusOK || body["state"] != "CANCELLED" {
		t.Fatalf("cancel: %d %v", code, body)
	}
	if code, _ = a.do(t, http.MethodDelete, "/v1/bookings/"+id, alice, ""); code != http.StatusConflict {
		t.Fatalf("second cancel: %d", code)
	}
}

func TestHoldExpiredIsGone(t *testing.T) {
	a := newAPI(t, nil)
	alice := token(t, "alice", model.RoleCustomer)

	_, body := a.do(t, http.MethodPost, "/v1/schedules/s1/bookings", alice, `{"seats":[5],"hold_ttl_seconds":60}`)
	id := body["id"].(string)
	a.clock.Advance(2 * time.Minute)

	code, body := a.do(t, http.MethodPost, "/v1/bookings/"+id+"/confirm", alice, "")
	if code != http.StatusGone || body["error"] != "hold_expired" {
		t.Fatalf("late confirm: %d %v", code, body)
	}
}

func TestErrorMapping(t *testing.T) {
	a := newAPI(t, nil)
	alice := token(t, "alice", model.RoleCustomer)

	cases := []struct {
		name, method, path, tok, body string
		code                          int
		errCode                       string
	}{
		{"no token", http.MethodPost, "/v1/schedules/s1/bookings", "", `{"seats":[1]}`, http.StatusUnauthorized, ""},
		{"empty", http.MethodPost, "/v1/schedules/s1/bookings", alice, `{"seats":[]}`, http.StatusBadRequest, "empty_selection"},
		{"out of range", http.MethodPost, "/v1/schedules/s1/bookings", alice, `{"seats":[9]}`, http.StatusBadRequest, "invalid_seat"},
		{"too many", http.MethodPost, "/v1/schedules/s1/bookings", alice, `{"seats":[1,2,3,4,5]}`, http.StatusBadRequest, "too_many_seats"},
		{"bad ttl", http.MethodPost, "/v1/schedules/s1/bookings", alice, `{"seats":[1],"hold_ttl_seconds":-5}`, http.StatusBadRequest, "invalid_hold_ttl"},
		// 18446744074s wraps to about 290ms as a Duration
		{"wrapping ttl", http.MethodPost, "/v1/schedules/s1/bookings", alice, `{"seats":[1],"hold_ttl_seconds":18446744074}`, http.StatusBadRequest, "invalid_hold_ttl"},
		{"unknown schedule", http.MethodGet, "/v1/schedules/nope/seats", "", "", http.StatusNotFound, "not_found"},
		{"unknown booking", http.MethodGet, "/v1/bookings/nope", alice, "", http.StatusNotFound, "not_found"},
		{"customer closes", http.MethodPost, "/v1/admin/schedules/s1/close", alice, "", http.StatusForbidden, ""},
		{"bad count", http.MethodGet, "/v1/schedules/s1/seats/suggest?count=zero", "", "", http.StatusBadRequest, ""},
		{"suggest over limit", http.MethodGet, "/v1/schedules/s1/seats/suggest?count=9", "", "", http.StatusBadRequest, "too_many_seats"},
	}
	for _, tc := range cases {
		code, body := a.do(t, tc.method, tc.path, tc.tok, tc.body)
		if code != tc.code {
			t.Errorf("%s: status %d, want %d (%v)", tc.name, code, tc.code, body)
			continue
		}
		if tc.errCode != "" && body["error"] != tc.errCode {
			t.Errorf("%s: error %v, want %s", tc.name, body["error"], tc.errCode)
		}
	}
}

func TestSuggestAndClose(t *testing.T) {
	a := newAPI(t, nil)
	alice := token(t, "alice", model.RoleCustomer)
	root := token(t, "root", model.RoleAdmin)

	code, body := a.do(t, http.MethodGet, "/v1/schedules/s1/seats/suggest?count=2&window=true", "", "")
	if code != http.StatusOK || len(body["seats"].([]any)) != 2 {
		t.Fatalf("suggest: %d %v", code, body)
	}

	_, body = a.do(t, http.MethodPost, "/v1/schedules/s1/bookings", alice, `{"seats":[7]}`)
	id := body["id"].(string)

	code, body = a.do(t, http.MethodPost, "/v1/admin/schedules/s1/close", root, "")
	if code != http.StatusOK {
		t.Fatalf("close: %d %v", code, body)
	}
	if got := body["cancelled"].([]any); len(got) != 1 || got[0] != id {
		t.Fatalf("cancelled = %v", got)
	}
}

func TestProbes(t *testing.T) {
	a := newAPI(t, map[string]handler.Checker{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})
	if code, _ := a.do(t, http.MethodGet, "/healthz", "", ""); code != http.StatusOK {
		t.Fatalf("healthz: %d", code)
	}
	code, body := a.do(t, http.MethodGet, "/readyz", "", "")
	checks := body["checks"].(map[string]any)
	if code != http.StatusServiceUnavailable || checks["database"] != "ok" || checks["redis"] != "connection refused" {
		t.Fatalf("readyz: %d %v", code, body)
	}
}

func TestInsufficientSeats(t *testing.T) {
	a := newAPI(t, nil)
	alice := token(t, "alice", model.RoleCustomer)
	bob := token(t, "bob", model.RoleCustomer)
	a.do(t, http.MethodPost, "/v1/schedules/s1/bookings", alice, `{"seats":[1,2,3,4]}`)
	a.do(t, http.MethodPost, "/v1/schedules/s1/bookings", bob, `{"seats":[5,6]}`)

	code, body := a.do(t, http.MethodGet, "/v1/schedules/s1/seats/suggest?count=3", "", "")
	if code != http.StatusConflict || body["error"] != "insufficient_seats" {
		t.Fatalf("suggest: %d %v", code, body)
	}
}
