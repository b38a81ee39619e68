package internal

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"climbcrew/internal/attendance"
)

// ------------------- Schedules -------------------

// POST /api/crews/:id/schedules
func CreateSchedule(att *attendance.Service, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		crewID, ok := paramID(c, "id")
		if !ok {
			return
		}
		var req scheduleRequest
		if !bind(c, &req) {
			return
		}
		in := attendance.ScheduleInput{Title: req.Title, Date: req.Date}
		for _, p := range req.Phases {
			in.Phases = append(in.Phases, attendance.PhaseInput{
				Type:     attendance.PhaseType(p.Type),
				Location: p.Location,
				StartsAt: p.StartsAt,
				EndsAt:   p.EndsAt,
				Capacity: p.Capacity,
			})
		}
		sched, phases, err := att.CreateSchedule(c.Request.Context(), uid(c), crewID, in)
		if err != nil {
			renderError(c, err)
			return
		}
		audit(c, logger, "schedule.create", "crew_id", crewID, "schedule_id", sched.ID, "phases", len(phases))
		c.JSON(http.StatusCreated, scheduleView{Schedule: sched, Phases: phases})
	}
}

// GET /api/schedules/:id
func GetSchedule(att *attendance.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		sched, phases, err := att.ScheduleDetail(c.Request.Context(), uid(c), id)
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, scheduleView{Schedule: sched, Phases: phases})
	}
}

// POST /api/schedules/:id/no-show
func AutoMarkNoShow(att *attendance.Service, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		res, err := att.AutoMarkNoShow(c.Request.Context(), uid(c), id)
		if err != nil {
			renderError(c, err)
			return
		}
		audit(c, logger, "schedule.no_show", "schedule_id", id, "marked", res.Marked, "failed", res.Failed)
		c.JSON(http.StatusOK, res)
	}
}

// POST /internal/schedules/:id/no-show
func SweepNoShows(att *attendance.Service, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		res, err := att.SweepNoShows(c.Request.Context(), id)
		if err != nil {
			renderError(c, err)
			return
		}
		logger.InfoContext(c.Request.Context(), "audit", "action", "schedule.sweep",
			"actor", "sweeper", "schedule_id", id, "marked", res.Marked, "failed", res.Failed)
		c.JSON(http.StatusOK, res)
	}
}

// ------------------- Phases -------------------

// GET /api/phases/:id/attendance
func PhaseRoster(att *attendance.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		records, err := att.Roster(c.Request.Context(), uid(c), id)
		if err != nil {
			renderError(c, err)
			return
		}
		if records == nil {
			records = []attendance.Attendance{}
		}
		c.JSON(http.StatusOK, rosterView{PhaseID: id, Attendances: records})
	}
}

// POST /api/phases/:id/rsvp
func RSVP(att *attendance.Service, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		var req rsvpRequest
		if !bind(c, &req) {
			return
		}
		a, err := att.RSVP(c.Request.Context(), id, uid(c), attendance.Status(req.Status), req.Note)
		if err != nil {
			renderError(c, err)
			return
		}
		audit(c, logger, "attendance.rsvp", "phase_id", id, "attendance_id", a.ID, "status", a.Status)
		c.JSON(http.StatusOK, a)
	}
}

// PUT /api/phases/:id/capacity
func SetCapacity(att *attendance.Service, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		var req capacityRequest
		if !bind(c, &req) {
			return
		}
		phase, promoted, err := att.SetCapacity(c.Request.Context(), uid(c), id, *req.Capacity)
		if err != nil {
			renderError(c, err)
			return
		}
		if promoted == nil {
			promoted = []attendance.Attendance{}
		}
		audit(c, logger, "phase.capacity", "phase_id", id, "capacity", phase.Capacity, "promoted", len(promoted))
		c.JSON(http.StatusOK, capacityView{Phase: phase, Promoted: promoted})
	}
}

// ------------------- Attendance (day-of) -------------------

// POST /api/attendances/:id/check-in
func CheckIn(att *attendance.Service, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		var req checkInRequest
		if c.Request.ContentLength != 0 && !bind(c, &req) {
			return
		}
		a, err := att.CheckIn(c.Request.Context(), uid(c), id, attendance.CheckInInput{
			Status: attendance.Status(req.Status),
			Note:   req.Note,
		})
		if err != nil {
			renderError(c, err)
			return
		}
		audit(c, logger, "attendance.check_in", "attendance_id", id, "status", a.Status)
		c.JSON(http.StatusOK, a)
	}
}

// POST /api/attendances/:id/check-out
func CheckOut(att *attendance.Service, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		var req noteRequest
		if c.Request.ContentLength != 0 && !bind(c, &req) {
			return
		}
		a, err := att.CheckOut(c.Request.Context(), uid(c), id, req.Note)
		if err != nil {
			renderError(c, err)
			return
		}
		audit(c, logger, "attendance.check_out", "attendance_id", id)
		c.JSON(http.StatusOK, a)
	}
}

// POST /api/attendances/:id/status
func UpdateStatus(att *attendance.Service, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		var req statusRequest
		if !bind(c, &req) {
			return
		}
		a, err := att.UpdateStatus(c.Request.Context(), uid(c), id, attendance.Status(req.Status), req.Note)
		if err != nil {
			renderError(c, err)
			return
		}
		audit(c, logger, "attendance.status", "attendance_id", id, "status", a.Status)
		c.JSON(http.StatusOK, a)
	}
}

// POST /api/attendances/:id/promote
func Promote(att *attendance.Service, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		a, err := att.Promote(c.Request.Context(), uid(c), id)
		if err != nil {
			renderError(c, err)
			return
		}
		audit(c, logger, "attendance.promote", "attendance_id", id)
		c.JSON(http.StatusOK, a)
	}
}
