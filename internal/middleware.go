package internal

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"climbcrew/internal/apperr"
)

const (
	requestIDHeader = "X-Request-ID"
	sweepHeader     = "X-Sweep-Token"
)

type ctxKey int

const requestIDKey ctxKey = iota

var tracer = otel.Tracer("climbcrew/internal")

// Auth accepts an HS256 access token from the Authorization header or the
// auth cookie and stores its subject as the caller id.
func Auth(secret, cookie string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := tokenFromRequest(c, cookie)
		if tokenStr == "" {
			renderError(c, apperr.New(apperr.KindUnauthorized, apperr.CodeUnauthorized, "not authorized"))
			return
		}
		userID, err := parseToken(secret, tokenStr)
		if err != nil {
			renderError(c, apperr.Wrap(apperr.KindUnauthorized, apperr.CodeUnauthorized, "bad token", err))
			return
		}

		c.Set("uid", userID)
		trace.SpanFromContext(c.Request.Context()).SetAttributes(attribute.String("enduser.id", userID))
		c.Next()
	}
}

// RequireSweepToken guards endpoints called by an external scheduler. An
// empty configured token disables them.
func RequireSweepToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(sweepHeader)
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			renderError(c, apperr.Forbidden(apperr.CodeForbidden, "sweep token required"))
			return
		}
		c.Next()
	}
}

// RequestID propagates or assigns X-Request-ID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Set("request_id", id)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), requestIDKey, id))
		c.Next()
	}
}

// Trace opens a server span per request, continuing any incoming trace.
func Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+route, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
		span.SetAttributes(attribute.Int("http.response.status_code", c.Writer.Status()))
	}
}

// RequestLogger writes one line per request.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", time.Since(start),
		)
	}
}

// RequestIDFrom returns the request id stored by RequestID.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// ContextHandler adds the request id from the context to every record.
type ContextHandler struct {
	slog.Handler
}

func (h ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := RequestIDFrom(ctx); id != "" {
		r.AddAttrs(slog.String("request_id", id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return ContextHandler{h.Handler.WithAttrs(attrs)}
}

func (h ContextHandler) WithGroup(name string) slog.Handler {
	return ContextHandler{h.Handler.WithGroup(name)}
}

func uid(c *gin.Context) string {
	return c.GetString("uid")
}
