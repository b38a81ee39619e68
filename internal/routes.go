package internal

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"climbcrew/internal/apperr"
	"climbcrew/internal/attendance"
	"climbcrew/internal/crew"
	"climbcrew/internal/ratelimit"
)

type Deps struct {
	Crews      *crew.Service
	Attendance *attendance.Service
	Limiter    *ratelimit.Limiter
	Logger     *slog.Logger

	JWTSecret  string
	AuthCookie string
	SweepToken string

	// Health reports storage readiness for /healthz; nil means always ready.
	Health func(ctx context.Context) error
}

// Router builds the HTTP surface.
func Router(d Deps) *gin.Engine {
	RegisterValidators()
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), Trace(), RequestLogger(logger))
	r.NoRoute(func(c *gin.Context) {
		renderError(c, apperr.NotFound("no such route"))
	})

	r.GET("/healthz", func(c *gin.Context) {
		if d.Health != nil {
			if err := d.Health(c.Request.Context()); err != nil {
				logger.ErrorContext(c.Request.Context(), "health check failed", "error", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	if d.Limiter == nil {
		d.Limiter = ratelimit.New(nil, ratelimit.Options{FailOpen: true}, logger)
	}
	authLimit := d.Limiter.Middleware(ratelimit.PolicyAuth)
	mutation := d.Limiter.Middleware(ratelimit.PolicyMutation)

	api := r.Group("/api", Auth(d.JWTSecret, d.AuthCookie))
	{
		api.POST("/auth/logout", Logout(d.AuthCookie))
		api.POST("/me/profile", mutation, CompleteProfile(d.Crews, logger))

		// crews
		api.POST("/crews", mutation, CreateCrew(d.Crews, logger))
		api.POST("/crews/join", authLimit, JoinByCode(d.Crews, logger))
		api.GET("/crews/:id", GetCrew(d.Crews))
		api.GET("/crews/:id/members", ListMembers(d.Crews))
		api.POST("/crews/:id/join", authLimit, JoinPublicCrew(d.Crews, logger))
		api.POST("/crews/:id/leave", mutation, LeaveCrew(d.Crews, logger))
		api.POST("/crews/:id/invites", mutation, CreateInvite(d.Crews, logger))
		api.POST("/crews/:id/code", mutation, RegenerateCode(d.Crews, logger))
		api.POST("/crews/:id/leader", mutation, TransferLeadership(d.Crews, logger))
		api.POST("/crews/:id/schedules", mutation, CreateSchedule(d.Attendance, logger))

		// schedules and phases
		api.GET("/schedules/:id", GetSchedule(d.Attendance))
		api.POST("/schedules/:id/no-show", mutation, AutoMarkNoShow(d.Attendance, logger))
		api.GET("/phases/:id/attendance", PhaseRoster(d.Attendance))
		api.POST("/phases/:id/rsvp", mutation, RSVP(d.Attendance, logger))
		api.PUT("/phases/:id/capacity", mutation, SetCapacity(d.Attendance, logger))

		// day-of
		api.POST("/attendances/:id/check-in", mutation, CheckIn(d.Attendance, logger))
		api.POST("/attendances/:id/check-out", mutation, CheckOut(d.Attendance, logger))
		api.POST("/attendances/:id/status", mutation, UpdateStatus(d.Attendance, logger))
		api.POST("/attendances/:id/promote", mutation, Promote(d.Attendance, logger))
	}

	sweeper := r.Group("/internal", RequireSweepToken(d.SweepToken))
	{
		sweeper.POST("/schedules/:id/no-show", SweepNoShows(d.Attendance, logger))
	}

	return r
}
