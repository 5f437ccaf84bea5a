package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// statusFor maps the booking error taxonomy onto HTTP.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrInvalidSeat):
		return http.StatusBadRequest, "invalid_seat"
	case errors.Is(err, model.ErrEmptySelection):
		return http.StatusBadRequest, "empty_selection"
	case errors.Is(err, model.ErrTooManySeats):
		return http.StatusBadRequest, "too_many_seats"
	case errors.Is(err, model.ErrInvalidTTL):
		return http.StatusBadRequest, "invalid_hold_ttl"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrSeatConflict):
		return http.StatusConflict, "seat_conflict"
	case errors.Is(err, model.ErrInsufficientSeats):
		return http.StatusConflict, "insufficient_seats"
	case errors.Is(err, model.ErrAlreadyTerminal):
		return http.StatusConflict, "already_terminal"
	case errors.Is(err, model.ErrScheduleClosed):
		return http.StatusConflict, "schedule_closed"
	case errors.Is(err, model.ErrCutoffPassed):
		return http.StatusConflict, "cutoff_passed"
	case errors.Is(err, model.ErrHoldExpired):
		return http.StatusGone, "hold_expired"
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeError renders err.  Internal errors are not echoed to the client.
func writeError(c echo.Context, err error) error {
	status, code := statusFor(err)
	body := echo.Map{"error": code}
	if status != http.StatusInternalServerError {
		body["message"] = err.Error()
	} else {
		c.Logger().Errorf("%s %s: %v", c.Request().Method, c.Path(), err)
	}
	if seats := model.ConflictingSeats(err); len(seats) > 0 {
		body["seats"] = seats
	}
	return c.JSON(status, body)
}
