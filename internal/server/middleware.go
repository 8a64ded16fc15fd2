package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/billingcore/internal/actorcontext"
	"go.uber.org/zap"
)

const (
	headerActorID   = "X-Actor-ID"
	headerActorKind = "X-Actor-Kind"
)

var actorKindsAdmin = []string{actorcontext.KindAdmin, actorcontext.KindSystem}

// ActorMiddleware lifts the identity headers stamped by the auth
// collaborator in front of this service into the request context.
// Requests without headers proceed anonymously; gated routes reject
// them via RequireActorKind.
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		rawID := c.GetHeader(headerActorID)
		if rawID == "" {
			c.Next()
			return
		}

		id, ok := actorcontext.ParseActorID(rawID)
		if !ok {
			AbortWithError(c, newValidationError("actor", "invalid_actor_id", "invalid actor id"))
			return
		}

		kind := strings.TrimSpace(c.GetHeader(headerActorKind))
		if kind == "" {
			kind = actorcontext.KindCustomer
		}

		ctx := actorcontext.WithActor(c.Request.Context(), actorcontext.Actor{
			ID:   id,
			Kind: kind,
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireActorKind rejects requests whose actor is missing or of the
// wrong kind.
func RequireActorKind(kinds ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorcontext.ActorFromContext(c.Request.Context())
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: errorPayload{
				Type:    "unauthorized",
				Message: "actor identity required",
			}})
			return
		}
		for _, kind := range kinds {
			if actor.Kind == kind {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{Error: errorPayload{
			Type:    "forbidden",
			Message: "insufficient actor kind",
		}})
	}
}

// RequestLogMiddleware logs one line per request after it completes.
func RequestLogMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		}
		if last := c.Errors.Last(); last != nil {
			fields = append(fields, zap.Error(last.Err))
		}

		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			log.Error("request", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			log.Warn("request", fields...)
		default:
			log.Debug("request", fields...)
		}
	}
}
