package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-reservation/internal/handler"
	"github.com/iliyamo/bus-seat-reservation/internal/middleware"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// RegisterCustomer registers booking endpoints under /v1.  All routes
// require a valid JWT.  Staff roles pass as well; ownership is enforced by
// the engine.  mw runs after authentication, so it sees the caller.
func RegisterCustomer(e *echo.Echo, h *handler.BookingHandler, jwtSecret string, mw ...echo.MiddlewareFunc) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleCustomer, model.RoleAdmin, model.RoleService),
	)
	g.Use(mw...)
	g.POST("/schedules/:id/bookings", h.Book)
	g.POST("/bookings/:id/confirm", h.Confirm)
	g.DELETE("/bookings/:id", h.Cancel)
	g.GET("/bookings/:id", h.Get)
	g.GET("/my-bookings", h.Mine)
}
