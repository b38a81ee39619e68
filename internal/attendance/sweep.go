package attendance

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SweepOutcome is the result for one attendance record.
type SweepOutcome struct {
	AttendanceID int64  `json:"attendance_id"`
	PhaseID      int64  `json:"phase_id"`
	UserID       string `json:"user_id"`
	Marked       bool   `json:"marked"`
	Error        string `json:"error,omitempty"`
}

type SweepResult struct {
	ScheduleID int64          `json:"schedule_id"`
	Marked     int            `json:"marked"`
	Failed     int            `json:"failed"`
	Outcomes   []SweepOutcome `json:"outcomes"`
}

// AutoMarkNoShow runs the no-show sweep for a crew leader or admin.
func (s *Service) AutoMarkNoShow(ctx context.Context, actorID string, scheduleID int64) (SweepResult, error) {
	sched, err := s.store.Schedule(ctx, scheduleID)
	if err != nil {
		return SweepResult{}, translate(err, "schedule not found")
	}
	if err := s.requireManager(ctx, sched.CrewID, actorID); err != nil {
		return SweepResult{}, err
	}
	return s.SweepNoShows(ctx, scheduleID)
}

// SweepNoShows marks every attending record without a check-in as no_show
// in phases that already ended. Each record is updated in its own
// transaction, so one failure leaves the others applied; failures are
// reported per record. Running it again is a no-op.
func (s *Service) SweepNoShows(ctx context.Context, scheduleID int64) (SweepResult, error) {
	ctx, span := tracer.Start(ctx, "attendance.SweepNoShows", trace.WithAttributes(attribute.Int64("schedule.id", scheduleID)))
	defer span.End()

	if _, err := s.store.Schedule(ctx, scheduleID); err != nil {
		return SweepResult{}, translate(err, "schedule not found")
	}
	phases, err := s.store.Phases(ctx, scheduleID)
	if err != nil {
		return SweepResult{}, translate(err, "schedule not found")
	}

	res := SweepResult{ScheduleID: scheduleID}
	now := s.now()
	for _, p := range phases {
		if !p.Ended(now) {
			continue
		}
		records, err := s.store.PhaseAttendance(ctx, p.ID)
		if err != nil {
			res.Failed++
			res.Outcomes = append(res.Outcomes, SweepOutcome{PhaseID: p.ID, Error: err.Error()})
			continue
		}
		for _, r := range records {
			if r.Status != StatusAttending || r.CheckedInAt != nil {
				continue
			}
			out := SweepOutcome{AttendanceID: r.ID, PhaseID: p.ID, UserID: r.UserID}
			err := s.mutate(ctx, scheduleID, p.ID, func(l *Ledger) error {
				out.Marked = l.MarkNoShow(r.ID)
				return nil
			})
			if err != nil {
				out.Marked = false
				out.Error = err.Error()
				res.Failed++
				s.logger.WarnContext(ctx, "no-show sweep record failed", "attendance_id", r.ID, "error", err)
			} else if out.Marked {
				res.Marked++
			}
			res.Outcomes = append(res.Outcomes, out)
		}
	}

	span.SetAttributes(attribute.Int("sweep.marked", res.Marked), attribute.Int("sweep.failed", res.Failed))
	s.logger.InfoContext(ctx, "no-show sweep finished", "schedule_id", scheduleID,
		"marked", res.Marked, "failed", res.Failed)
	return res, nil
}
