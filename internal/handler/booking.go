package handler

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-reservation/internal/booking"
	"github.com/iliyamo/bus-seat-reservation/internal/middleware"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/seatmap"
)

// BookingHandler exposes the booking service over HTTP.  Routes other
// than the seat map and suggestions require JWTAuth.
type BookingHandler struct {
	svc booking.Service
}

// NewBookingHandler panics on a nil service.
func NewBookingHandler(svc booking.Service) *BookingHandler {
	if svc == nil {
		panic("nil service passed to NewBookingHandler")
	}
	return &BookingHandler{svc: svc}
}

type reservationResponse struct {
	ID            string      `json:"id"`
	Code          string      `json:"code"`
	ScheduleID    string      `json:"schedule_id"`
	UserID        string      `json:"user_id"`
	Seats         []int       `json:"seats"`
	State         model.State `json:"state"`
	TotalCents    int64       `json:"total_cents"`
	CreatedAt     time.Time   `json:"created_at"`
	HoldExpiresAt *time.Time  `json:"hold_expires_at,omitempty"`
	ConfirmedAt   *time.Time  `json:"confirmed_at,omitempty"`
	CancelledAt   *time.Time  `json:"cancelled_at,omitempty"`
	ExpiredAt     *time.Time  `json:"expired_at,omitempty"`
	CancelledBy   string      `json:"cancelled_by,omitempty"`
}

func toResponse(r model.Reservation) reservationResponse {
	return reservationResponse{
		ID:            r.ID,
		Code:          r.Code,
		ScheduleID:    r.ScheduleID,
		UserID:        r.UserID,
		Seats:         r.Seats,
		State:         r.State,
		TotalCents:    r.TotalCents,
		CreatedAt:     r.CreatedAt,
		HoldExpiresAt: r.HoldExpiresAt,
		ConfirmedAt:   r.ConfirmedAt,
		CancelledAt:   r.CancelledAt,
		ExpiredAt:     r.ExpiredAt,
		CancelledBy:   r.CancelledBy,
	}
}

// SeatMap handles GET /v1/schedules/:id/seats.
func (h *BookingHandler) SeatMap(c echo.Context) error {
	av, err := h.svc.SearchAvailability(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, av)
}

// Suggest handles GET /v1/schedules/:id/seats/suggest?count=2&window=true&front=true.
func (h *BookingHandler) Suggest(c echo.Context) error {
	count := 1
	if s := c.QueryParam("count"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid count"})
		}
		count = n
	}
	seats, err := h.svc.SuggestSeats(c.Request().Context(), booking.SuggestRequest{
		ScheduleID: c.Param("id"),
		Count:      count,
		Prefs: seatmap.Preferences{
			Window: queryBool(c, "window"),
			Front:  queryBool(c, "front"),
		},
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"schedule_id": c.Param("id"), "seats": seats})
}

// Book handles POST /v1/schedules/:id/bookings with {"seats": [..],
// "hold_ttl_seconds": n}.  It answers 201 with the PENDING reservation.
func (h *BookingHandler) Book(c echo.Context) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		Seats          []int `json:"seats"`
		HoldTTLSeconds int   `json:"hold_ttl_seconds"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	// larger values would wrap when converted to a Duration
	if body.HoldTTLSeconds < 0 || int64(body.HoldTTLSeconds) > maxTTLSeconds {
		return writeError(c, model.ErrInvalidTTL)
	}
	r, err := h.svc.BookSeats(c.Request().Context(), booking.BookRequest{
		ScheduleID: c.Param("id"),
		Actor:      actor,
		Seats:      body.Seats,
		HoldTTL:    time.Duration(body.HoldTTLSeconds) * time.Second,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, toResponse(r))
}

const maxTTLSeconds = math.MaxInt64 / int64(time.Second)

// Confirm handles POST /v1/bookings/:id/confirm.
func (h *BookingHandler) Confirm(c echo.Context) error {
	return h.transition(c, h.svc.ConfirmBooking)
}

// Cancel handles DELETE /v1/bookings/:id.
func (h *BookingHandler) Cancel(c echo.Context) error {
	return h.transition(c, h.svc.CancelBooking)
}

// Get handles GET /v1/bookings/:id.
func (h *BookingHandler) Get(c echo.Context) error {
	return h.transition(c, h.svc.GetReservation)
}

type reservationOp func(ctx context.Context, reservationID string, actor model.Actor) (model.Reservation, error)

func (h *BookingHandler) transition(c echo.Context, op reservationOp) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	r, err := op(c.Request().Context(), c.Param("id"), actor)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toResponse(r))
}

// Mine handles GET /v1/my-bookings.
func (h *BookingHandler) Mine(c echo.Context) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	rs, err := h.svc.ListReservations(c.Request().Context(), actor)
	if err != nil {
		return writeError(c, err)
	}
	out := make([]reservationResponse, len(rs))
	for i, r := range rs {
		out[i] = toResponse(r)
	}
	return c.JSON(http.StatusOK, echo.Map{"reservations": out})
}

// CloseSchedule handles POST /v1/admin/schedules/:id/close.
func (h *BookingHandler) CloseSchedule(c echo.Context) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	res, err := h.svc.CloseSchedule(c.Request().Context(), c.Param("id"), actor)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func queryBool(c echo.Context, name string) bool {
	b, _ := strconv.ParseBool(c.QueryParam(name))
	return b
}
