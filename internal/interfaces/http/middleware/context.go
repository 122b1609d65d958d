package middleware

import (
	"net/http"
	"time"

	"github.com/dms/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// RequestIDHeader is the inbound/outbound request correlation header
	RequestIDHeader = "X-Request-ID"
	// DistributorIDHeader carries the authenticated distributor identity.
	// Upstream auth terminates before this service and injects the header.
	DistributorIDHeader = "X-Distributor-ID"
	// UserIDHeader carries the acting user, when known
	UserIDHeader = "X-User-ID"

	distributorIDKey = "distributor_id"
	userIDKey        = "user_id"
)

// RequestID assigns a request ID when the client did not send one
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDHeader, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// DistributorContext requires a valid distributor identity on every request
func DistributorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(DistributorIDHeader)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				dto.NewErrorResponse("MISSING_DISTRIBUTOR", "Distributor identity is required"))
			return
		}
		distributorID, err := uuid.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				dto.NewErrorResponse("INVALID_DISTRIBUTOR", "Distributor identity is malformed"))
			return
		}
		c.Set(distributorIDKey, distributorID)

		if rawUser := c.GetHeader(UserIDHeader); rawUser != "" {
			if userID, err := uuid.Parse(rawUser); err == nil {
				c.Set(userIDKey, userID)
			}
		}
		c.Next()
	}
}

// GetDistributorID returns the authenticated distributor from the context
func GetDistributorID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(distributorIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// GetUserID returns the acting user from the context, when present
func GetUserID(c *gin.Context) *uuid.UUID {
	v, ok := c.Get(userIDKey)
	if !ok {
		return nil
	}
	id, ok := v.(uuid.UUID)
	if !ok {
		return nil
	}
	return &id
}

// Logging logs each request with zap after it completes
func Logging(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(RequestIDHeader)),
		)
	}
}
