package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-reservation/internal/handler"
	"github.com/iliyamo/bus-seat-reservation/internal/middleware"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// RegisterAdmin registers operator endpoints under /v1/admin, with mw
// after authentication.
func RegisterAdmin(e *echo.Echo, h *handler.BookingHandler, jwtSecret string, mw ...echo.MiddlewareFunc) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleAdmin, model.RoleService),
	)
	g.Use(mw...)
	g.POST("/schedules/:id/close", h.CloseSchedule)
}
