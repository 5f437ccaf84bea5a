package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

const (
	userIDKey = "user_id"
	roleKey   = "role"
)

// ActorFrom returns the authenticated actor.  ok is false on routes that
// did not pass through JWTAuth.
func ActorFrom(c echo.Context) (model.Actor, bool) {
	id, _ := c.Get(userIDKey).(string)
	if id == "" {
		return model.Actor{}, false
	}
	role, _ := c.Get(roleKey).(string)
	return model.Actor{ID: id, Role: role}, true
}

// currentUserID is the rate limit identity, empty for callers that did
// not pass through JWTAuth.
func currentUserID(c echo.Context) string {
	a, _ := ActorFrom(c)
	return a.ID
}
