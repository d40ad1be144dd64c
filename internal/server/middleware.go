package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/classpay/internal/observability/context"
)

// Identity headers set by the upstream proxy after authentication.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

// ActorContext copies the proxy-asserted identity onto the request context.
func ActorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := obscontext.Actor{
			ID:   strings.TrimSpace(c.GetHeader(HeaderActorID)),
			Role: strings.TrimSpace(c.GetHeader(HeaderActorRole)),
		}
		if !actor.IsZero() {
			c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), actor))
		}
		c.Next()
	}
}

func (s *Server) ActorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := obscontext.ActorFromContext(c.Request.Context())
		if !ok || actor.ID == "" || actor.Role == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}
