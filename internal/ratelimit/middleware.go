package ratelimit

import (
	"math"
	"strconv"

	"github.com/gin-gonic/gin"

	"climbcrew/internal/apperr"
)

// Middleware rejects the request with 429 before any handler runs once the
// client exceeds p.
func (l *Limiter) Middleware(p Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := l.Allow(c.Request.Context(), p, ClientKey(c.Request))
		if err != nil {
			abort(c, err)
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(p.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
			abort(c, apperr.WithMetadata(apperr.KindRateLimited, apperr.CodeRateLimited,
				"too many requests, slow down", map[string]string{"policy": p.Name}))
			return
		}
		c.Next()
	}
}

func abort(c *gin.Context, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internal("rate limiter", err)
	}
	c.AbortWithStatusJSON(apperr.HTTPStatus(e), gin.H{"error": e.Message, "code": e.Code})
}
