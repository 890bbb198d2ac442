package server

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/roach88/lessonstate/internal/auth"
	"github.com/roach88/lessonstate/internal/metrics"
	"github.com/roach88/lessonstate/internal/state"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

const (
	requestIDKey = "lessonstate_request_id"
	identityKey  = "lessonstate_identity"
)

// requestID honours an incoming X-Request-ID or mints one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// observe logs each request and records its metrics.
func observe(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)

		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		metrics.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())

		level := slog.LevelDebug
		if status >= 500 {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "request",
			"request_id", c.GetString(requestIDKey),
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration", elapsed,
		)
	}
}

// identify resolves the bearer token into an identity. Missing or invalid
// tokens leave the request as a guest; handlers decide what that means.
func identify(ident Identifier, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.Next()
			return
		}
		id, err := ident.Identify(token)
		if err != nil {
			logger.Debug("rejected bearer token",
				"request_id", c.GetString(requestIDKey),
				"error", err,
			)
			c.Next()
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// identityOf returns the identity resolved for this request, or state.Guest.
func identityOf(c *gin.Context) state.Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(state.Identity); ok {
			return id
		}
	}
	return state.Guest
}
