package server

import (
	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/classpay/internal/observability/context"
)

func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := obscontext.ActorFromContext(c.Request.Context())
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), actor, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// authorizeOwner checks an action on a resource owned by ownerID. Handlers
// call it once the owner is known.
func (s *Server) authorizeOwner(c *gin.Context, object string, action string, ownerID string) error {
	actor, ok := obscontext.ActorFromContext(c.Request.Context())
	if !ok {
		return ErrUnauthorized
	}
	return s.authzSvc.AuthorizeOwner(c.Request.Context(), actor, object, action, ownerID)
}
