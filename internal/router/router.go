// Package router registers the HTTP routes of the booking API.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-reservation/internal/handler"
)

// RegisterRoutes registers the unauthenticated routes: probes and the
// public seat map.  mw applies to the seat map only.
func RegisterRoutes(e *echo.Echo, health *handler.HealthHandler, b *handler.BookingHandler, mw ...echo.MiddlewareFunc) {
	e.GET("/healthz", health.Live)
	e.GET("/readyz", health.Ready)

	// guests may browse availability before signing in
	e.GET("/v1/schedules/:id/seats", b.SeatMap, mw...)
	e.GET("/v1/schedules/:id/seats/suggest", b.Suggest, mw...)
}
