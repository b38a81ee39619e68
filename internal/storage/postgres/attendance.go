package postgres

import (
	"context"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"climbcrew/internal/attendance"
	"climbcrew/internal/storage"
)

var (
	scheduleColumns   = []string{"id", "crew_id", "title", "event_date", "created_by", "created_at"}
	phaseColumns      = []string{"id", "schedule_id", "number", "type", "location", "starts_at", "ends_at", "capacity"}
	attendanceColumns = []string{
		"id", "phase_id", "user_id", "status", "waitlist_position",
		"checked_in_at", "checked_out_at", "admin_note", "user_note", "created_at", "updated_at",
	}
)

func joinColumns(cols []string) string {
	return strings.Join(cols, ", ")
}

func scanSchedule(row pgx.Row) (attendance.Schedule, error) {
	var s attendance.Schedule
	err := row.Scan(&s.ID, &s.CrewID, &s.Title, &s.Date, &s.CreatedBy, &s.CreatedAt)
	return s, mapErr(err)
}

func scanPhase(row pgx.Row) (attendance.Phase, error) {
	var (
		p   attendance.Phase
		typ string
	)
	err := row.Scan(&p.ID, &p.ScheduleID, &p.Number, &typ, &p.Location, &p.StartsAt, &p.EndsAt, &p.Capacity)
	p.Type = attendance.PhaseType(typ)
	return p, mapErr(err)
}

func scanAttendance(row pgx.Row) (attendance.Attendance, error) {
	var (
		a        attendance.Attendance
		status   string
		position *int
	)
	err := row.Scan(&a.ID, &a.PhaseID, &a.UserID, &status, &position,
		&a.CheckedInAt, &a.CheckedOutAt, &a.AdminNote, &a.UserNote, &a.CreatedAt, &a.UpdatedAt)
	a.Status = attendance.Status(status)
	if position != nil {
		a.WaitlistPosition = *position
	}
	return a, mapErr(err)
}

// waitlistValue stores position 0 as NULL.
func waitlistValue(pos int) any {
	if pos <= 0 {
		return nil
	}
	return pos
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) InsertSchedule(ctx context.Context, sched attendance.Schedule, phases []attendance.Phase) (attendance.Schedule, []attendance.Phase, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var (
		out       attendance.Schedule
		outPhases []attendance.Phase
	)
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		out, err = scanSchedule(qRow(ctx, tx, psql.Insert("schedules").
			Columns("crew_id", "title", "event_date", "created_by", "created_at").
			Values(sched.CrewID, sched.Title, sched.Date, sched.CreatedBy, sched.CreatedAt).
			Suffix("RETURNING "+joinColumns(scheduleColumns))))
		if err != nil {
			return err
		}
		for _, p := range phases {
			saved, err := scanPhase(qRow(ctx, tx, psql.Insert("phases").
				Columns("schedule_id", "number", "type", "location", "starts_at", "ends_at", "capacity").
				Values(out.ID, p.Number, string(p.Type), p.Location, p.StartsAt, p.EndsAt, p.Capacity).
				Suffix("RETURNING "+joinColumns(phaseColumns))))
			if err != nil {
				return err
			}
			outPhases = append(outPhases, saved)
		}
		return nil
	})
	if err != nil {
		return attendance.Schedule{}, nil, err
	}
	return out, outPhases, nil
}

func (s *Store) Schedule(ctx context.Context, id int64) (attendance.Schedule, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return scanSchedule(qRow(ctx, s.pool, psql.Select(scheduleColumns...).From("schedules").Where(sq.Eq{"id": id})))
}

func (s *Store) Phases(ctx context.Context, scheduleID int64) ([]attendance.Phase, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := qQuery(ctx, s.pool, psql.Select(phaseColumns...).
		From("phases").
		Where(sq.Eq{"schedule_id": scheduleID}).
		OrderBy("number"))
	if err != nil {
		return nil, err
	}
	return collect(rows, scanPhase)
}

func (s *Store) Phase(ctx context.Context, id int64) (attendance.Phase, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return scanPhase(qRow(ctx, s.pool, psql.Select(phaseColumns...).From("phases").Where(sq.Eq{"id": id})))
}

func (s *Store) Attendance(ctx context.Context, id int64) (attendance.Attendance, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return scanAttendance(qRow(ctx, s.pool, psql.Select(attendanceColumns...).From("attendances").Where(sq.Eq{"id": id})))
}

func (s *Store) PhaseAttendance(ctx context.Context, phaseID int64) ([]attendance.Attendance, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return phaseAttendance(ctx, s.pool, phaseID)
}

func phaseAttendance(ctx context.Context, db querier, phaseID int64) ([]attendance.Attendance, error) {
	rows, err := qQuery(ctx, db, psql.Select(attendanceColumns...).
		From("attendances").
		Where(sq.Eq{"phase_id": phaseID}).
		OrderBy("id"))
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAttendance)
}

// WithPhase locks the phase row for the whole transaction. Concurrent
// mutations of the same phase queue on that lock.
func (s *Store) WithPhase(ctx context.Context, phaseID int64, fn func(ctx context.Context, tx attendance.PhaseTx) error) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	return inTx(ctx, s.pool, func(tx pgx.Tx) error {
		p, err := scanPhase(qRow(ctx, tx, psql.Select(phaseColumns...).
			From("phases").
			Where(sq.Eq{"id": phaseID}).
			Suffix("FOR UPDATE")))
		if err != nil {
			return err
		}
		records, err := phaseAttendance(ctx, tx, phaseID)
		if err != nil {
			return err
		}
		return fn(ctx, &phaseTx{tx: tx, phase: p, records: records})
	})
}

type phaseTx struct {
	tx      pgx.Tx
	phase   attendance.Phase
	records []attendance.Attendance
}

func (t *phaseTx) Phase() attendance.Phase { return t.phase }

func (t *phaseTx) Attendances() []attendance.Attendance {
	return append([]attendance.Attendance(nil), t.records...)
}

func (t *phaseTx) SaveAttendance(ctx context.Context, a *attendance.Attendance) error {
	if a.ID == 0 {
		return mapErr(qRow(ctx, t.tx, psql.Insert("attendances").
			Columns("phase_id", "user_id", "status", "waitlist_position",
				"checked_in_at", "checked_out_at", "admin_note", "user_note", "created_at", "updated_at").
			Values(a.PhaseID, a.UserID, string(a.Status), waitlistValue(a.WaitlistPosition),
				a.CheckedInAt, a.CheckedOutAt, a.AdminNote, a.UserNote, a.CreatedAt, a.UpdatedAt).
			Suffix("RETURNING id")).Scan(&a.ID))
	}

	tag, err := qExec(ctx, t.tx, psql.Update("attendances").
		SetMap(map[string]any{
			"status":            string(a.Status),
			"waitlist_position": waitlistValue(a.WaitlistPosition),
			"checked_in_at":     a.CheckedInAt,
			"checked_out_at":    a.CheckedOutAt,
			"admin_note":        a.AdminNote,
			"user_note":         a.UserNote,
			"updated_at":        a.UpdatedAt,
		}).
		Where(sq.Eq{"id": a.ID, "phase_id": a.PhaseID}))
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *phaseTx) SetCapacity(ctx context.Context, capacity int) error {
	_, err := qExec(ctx, t.tx, psql.Update("phases").
		Set("capacity", capacity).
		Where(sq.Eq{"id": t.phase.ID}))
	if err != nil {
		return mapErr(err)
	}
	t.phase.Capacity = capacity
	return nil
}
