package attendance

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"climbcrew/internal/apperr"
	"climbcrew/internal/invalidate"
	"climbcrew/internal/storage"
)

var tracer = otel.Tracer("climbcrew/internal/attendance")

type Service struct {
	store     Store
	members   Members
	publisher invalidate.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, members Members, publisher invalidate.Publisher, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = invalidate.LogPublisher{Logger: logger}
	}
	s := &Service{
		store:     store,
		members:   members,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type PhaseInput struct {
	Type     PhaseType
	Location string
	StartsAt time.Time
	EndsAt   time.Time
	Capacity int
}

type ScheduleInput struct {
	Title  string
	Date   time.Time
	Phases []PhaseInput
}

// CreateSchedule adds an event with 1..5 phases, numbered in input order.
// Leader or admin only.
func (s *Service) CreateSchedule(ctx context.Context, actorID string, crewID int64, in ScheduleInput) (Schedule, []Phase, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Schedule{}, nil, apperr.Validation(apperr.CodeValidation, "title is required")
	}
	if len(in.Phases) == 0 || len(in.Phases) > MaxPhases {
		return Schedule{}, nil, apperr.Validation(apperr.CodeValidation, "a schedule needs 1 to 5 phases")
	}
	phases := make([]Phase, 0, len(in.Phases))
	for i, p := range in.Phases {
		if !p.Type.Valid() {
			return Schedule{}, nil, apperr.Validation(apperr.CodeValidation, "phase type must be exercise, meal, afterparty or other")
		}
		if !p.EndsAt.After(p.StartsAt) {
			return Schedule{}, nil, apperr.Validation(apperr.CodeValidation, "phase must end after it starts")
		}
		if p.Capacity < 0 {
			return Schedule{}, nil, apperr.Validation(apperr.CodeValidation, "capacity must not be negative")
		}
		phases = append(phases, Phase{
			Number:   i + 1,
			Type:     p.Type,
			Location: strings.TrimSpace(p.Location),
			StartsAt: p.StartsAt.UTC(),
			EndsAt:   p.EndsAt.UTC(),
			Capacity: p.Capacity,
		})
	}
	if err := s.requireManager(ctx, crewID, actorID); err != nil {
		return Schedule{}, nil, err
	}

	sched, phases, err := s.store.InsertSchedule(ctx, Schedule{
		CrewID:    crewID,
		Title:     title,
		Date:      in.Date.UTC(),
		CreatedBy: actorID,
		CreatedAt: s.now().UTC(),
	}, phases)
	if err != nil {
		return Schedule{}, nil, translate(err, "crew not found")
	}
	s.logger.InfoContext(ctx, "schedule created", "schedule_id", sched.ID, "crew_id", crewID, "actor", actorID)
	return sched, phases, nil
}

// ScheduleDetail returns a schedule and its phases. Crew members only.
func (s *Service) ScheduleDetail(ctx context.Context, actorID string, scheduleID int64) (Schedule, []Phase, error) {
	sched, err := s.store.Schedule(ctx, scheduleID)
	if err != nil {
		return Schedule{}, nil, translate(err, "schedule not found")
	}
	if _, err := s.members.RoleOf(ctx, sched.CrewID, actorID); err != nil {
		return Schedule{}, nil, err
	}
	phases, err := s.store.Phases(ctx, scheduleID)
	if err != nil {
		return Schedule{}, nil, translate(err, "schedule not found")
	}
	return sched, phases, nil
}

// Roster lists a phase's attendance: slot holders first, then the waitlist
// in queue order, then everyone else. Crew members only.
func (s *Service) Roster(ctx context.Context, actorID string, phaseID int64) ([]Attendance, error) {
	sched, _, err := s.scope(ctx, phaseID)
	if err != nil {
		return nil, err
	}
	if _, err := s.members.RoleOf(ctx, sched.CrewID, actorID); err != nil {
		return nil, err
	}
	records, err := s.store.PhaseAttendance(ctx, phaseID)
	if err != nil {
		return nil, translate(err, "phase not found")
	}
	sort.SliceStable(records, func(i, j int) bool {
		ri, rj := rosterRank(records[i]), rosterRank(records[j])
		if ri != rj {
			return ri < rj
		}
		if records[i].WaitlistPosition != records[j].WaitlistPosition {
			return records[i].WaitlistPosition < records[j].WaitlistPosition
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

func rosterRank(a Attendance) int {
	switch {
	case a.Status.HoldsSlot():
		return 0
	case a.Status == StatusWaiting:
		return 1
	default:
		return 2
	}
}

// RSVP records userID's answer for a phase. Active crew members only, and
// only until the phase ends.
func (s *Service) RSVP(ctx context.Context, phaseID int64, userID string, desired Status, note *string) (Attendance, error) {
	ctx, span := tracer.Start(ctx, "attendance.RSVP", trace.WithAttributes(
		attribute.Int64("phase.id", phaseID),
		attribute.String("rsvp.status", string(desired)),
	))
	defer span.End()

	if !desired.RSVPChoice() {
		return Attendance{}, apperr.Validation(apperr.CodeBadStatus, "rsvp must be attending, not_attending or maybe")
	}
	sched, phase, err := s.scope(ctx, phaseID)
	if err != nil {
		return Attendance{}, err
	}
	if _, err := s.members.RoleOf(ctx, sched.CrewID, userID); err != nil {
		return Attendance{}, err
	}
	if phase.Ended(s.now()) {
		return Attendance{}, apperr.Conflict(apperr.CodePhaseEnded, "this phase is over")
	}

	var out *Attendance
	err = s.mutate(ctx, sched.ID, phaseID, func(l *Ledger) error {
		var err error
		out, err = l.RSVP(userID, desired, note)
		return err
	})
	if err != nil {
		return Attendance{}, err
	}
	span.SetAttributes(attribute.String("attendance.status", string(out.Status)))
	s.logger.InfoContext(ctx, "rsvp recorded", "phase_id", phaseID, "actor", userID,
		"status", out.Status, "waitlist_position", out.WaitlistPosition)
	return *out, nil
}

// SetCapacity changes a phase's capacity and promotes into opened slots.
// Leader or admin only.
func (s *Service) SetCapacity(ctx context.Context, actorID string, phaseID int64, capacity int) (Phase, []Attendance, error) {
	sched, _, err := s.scope(ctx, phaseID)
	if err != nil {
		return Phase{}, nil, err
	}
	if err := s.requireManager(ctx, sched.CrewID, actorID); err != nil {
		return Phase{}, nil, err
	}

	var (
		phase    Phase
		promoted []Attendance
	)
	err = s.mutate(ctx, sched.ID, phaseID, func(l *Ledger) error {
		moved, err := l.SetCapacity(capacity)
		if err != nil {
			return err
		}
		for _, a := range moved {
			promoted = append(promoted, *a)
		}
		phase = l.Phase()
		return nil
	})
	if err != nil {
		return Phase{}, nil, err
	}
	s.logger.InfoContext(ctx, "capacity changed", "phase_id", phaseID, "actor", actorID,
		"capacity", capacity, "promoted", len(promoted))
	return phase, promoted, nil
}

// CheckIn stamps arrival. The attendee or a crew leader/admin may call it.
func (s *Service) CheckIn(ctx context.Context, actorID string, attendanceID int64, in CheckInInput) (Attendance, error) {
	return s.onRecord(ctx, "attendance.CheckIn", actorID, attendanceID, true, func(l *Ledger) (*Attendance, error) {
		return l.CheckIn(attendanceID, in)
	})
}

// CheckOut stamps departure. The attendee or a crew leader/admin may call it.
func (s *Service) CheckOut(ctx context.Context, actorID string, attendanceID int64, note *string) (Attendance, error) {
	return s.onRecord(ctx, "attendance.CheckOut", actorID, attendanceID, true, func(l *Ledger) (*Attendance, error) {
		return l.CheckOut(attendanceID, note)
	})
}

// UpdateStatus applies a day-of status. Leader or admin only.
func (s *Service) UpdateStatus(ctx context.Context, actorID string, attendanceID int64, status Status, note *string) (Attendance, error) {
	return s.onRecord(ctx, "attendance.UpdateStatus", actorID, attendanceID, false, func(l *Ledger) (*Attendance, error) {
		return l.UpdateStatus(attendanceID, status, note)
	})
}

// Promote moves any waiting record to attending, bypassing queue order.
// Leader or admin only.
func (s *Service) Promote(ctx context.Context, actorID string, attendanceID int64) (Attendance, error) {
	return s.onRecord(ctx, "attendance.Promote", actorID, attendanceID, false, func(l *Ledger) (*Attendance, error) {
		return l.Promote(attendanceID)
	})
}

func (s *Service) onRecord(ctx context.Context, op, actorID string, attendanceID int64, selfAllowed bool, fn func(l *Ledger) (*Attendance, error)) (Attendance, error) {
	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(attribute.Int64("attendance.id", attendanceID)))
	defer span.End()

	rec, err := s.store.Attendance(ctx, attendanceID)
	if err != nil {
		return Attendance{}, translate(err, "attendance not found")
	}
	sched, _, err := s.scope(ctx, rec.PhaseID)
	if err != nil {
		return Attendance{}, err
	}
	if !selfAllowed || rec.UserID != actorID {
		if err := s.requireManager(ctx, sched.CrewID, actorID); err != nil {
			return Attendance{}, err
		}
	}

	var out *Attendance
	err = s.mutate(ctx, sched.ID, rec.PhaseID, func(l *Ledger) error {
		var err error
		out, err = fn(l)
		return err
	})
	if err != nil {
		return Attendance{}, err
	}
	s.logger.InfoContext(ctx, "attendance updated", "op", op, "attendance_id", attendanceID,
		"actor", actorID, "status", out.Status)
	return *out, nil
}

// mutate runs fn against a ledger built under the phase lock, persists what
// fn changed in the same transaction and then signals invalidation.
func (s *Service) mutate(ctx context.Context, scheduleID, phaseID int64, fn func(l *Ledger) error) error {
	changed := false
	err := s.store.WithPhase(ctx, phaseID, func(ctx context.Context, tx PhaseTx) error {
		l := NewLedger(tx.Phase(), tx.Attendances(), s.now().UTC())
		if err := fn(l); err != nil {
			return err
		}
		if l.capacityChanged {
			if err := tx.SetCapacity(ctx, l.phase.Capacity); err != nil {
				return apperr.Internal("save capacity", err)
			}
			changed = true
		}
		for _, a := range l.Changed() {
			if err := tx.SaveAttendance(ctx, a); err != nil {
				return apperr.Internal("save attendance", err)
			}
			changed = true
		}
		return nil
	})
	if err != nil {
		return translate(err, "phase not found")
	}
	if changed {
		s.publisher.Publish(ctx, invalidate.ForSchedule(scheduleID, phaseID)...)
	}
	return nil
}

func (s *Service) scope(ctx context.Context, phaseID int64) (Schedule, Phase, error) {
	phase, err := s.store.Phase(ctx, phaseID)
	if err != nil {
		return Schedule{}, Phase{}, translate(err, "phase not found")
	}
	sched, err := s.store.Schedule(ctx, phase.ScheduleID)
	if err != nil {
		return Schedule{}, Phase{}, translate(err, "schedule not found")
	}
	return sched, phase, nil
}

func (s *Service) requireManager(ctx context.Context, crewID int64, actorID string) error {
	role, err := s.members.RoleOf(ctx, crewID, actorID)
	if err != nil {
		return err
	}
	if !role.CanManage() {
		return apperr.Forbidden(apperr.CodeForbidden, "crew leader or admin required")
	}
	return nil
}

func translate(err error, notFound string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound(notFound)
	}
	return apperr.Internal("attendance store", err)
}
