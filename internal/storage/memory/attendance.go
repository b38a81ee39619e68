package memory

import (
	"context"
	"fmt"
	"sort"

	"climbcrew/internal/attendance"
	"climbcrew/internal/storage"
)

func (s *Store) InsertSchedule(ctx context.Context, sched attendance.Schedule, phases []attendance.Phase) (attendance.Schedule, []attendance.Phase, error) {
	if err := ctxErr(ctx); err != nil {
		return attendance.Schedule{}, nil, err
	}
	out := make([]attendance.Phase, len(phases))
	err := s.commit(func(st *state) error {
		if _, ok := st.crews[sched.CrewID]; !ok {
			return storage.ErrNotFound
		}
		sched.ID = st.nextID()
		st.schedules[sched.ID] = sched
		for i, p := range phases {
			p.ID = st.nextID()
			p.ScheduleID = sched.ID
			st.phases[p.ID] = p
			out[i] = p
		}
		return nil
	})
	if err != nil {
		return attendance.Schedule{}, nil, err
	}
	return sched, out, nil
}

func (s *Store) Schedule(ctx context.Context, id int64) (attendance.Schedule, error) {
	if err := ctxErr(ctx); err != nil {
		return attendance.Schedule{}, err
	}
	var (
		sched attendance.Schedule
		ok    bool
	)
	s.read(func(st *state) { sched, ok = st.schedules[id] })
	if !ok {
		return attendance.Schedule{}, storage.ErrNotFound
	}
	return sched, nil
}

func (s *Store) Phases(ctx context.Context, scheduleID int64) ([]attendance.Phase, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var out []attendance.Phase
	s.read(func(st *state) {
		for _, p := range st.phases {
			if p.ScheduleID == scheduleID {
				out = append(out, p)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *Store) Phase(ctx context.Context, id int64) (attendance.Phase, error) {
	if err := ctxErr(ctx); err != nil {
		return attendance.Phase{}, err
	}
	var (
		p  attendance.Phase
		ok bool
	)
	s.read(func(st *state) { p, ok = st.phases[id] })
	if !ok {
		return attendance.Phase{}, storage.ErrNotFound
	}
	return p, nil
}

func (s *Store) Attendance(ctx context.Context, id int64) (attendance.Attendance, error) {
	if err := ctxErr(ctx); err != nil {
		return attendance.Attendance{}, err
	}
	var (
		a  attendance.Attendance
		ok bool
	)
	s.read(func(st *state) { a, ok = st.attendances[id] })
	if !ok {
		return attendance.Attendance{}, storage.ErrNotFound
	}
	return a, nil
}

func (s *Store) PhaseAttendance(ctx context.Context, phaseID int64) ([]attendance.Attendance, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var out []attendance.Attendance
	s.read(func(st *state) { out = st.phaseAttendance(phaseID) })
	return out, nil
}

func (s *state) phaseAttendance(phaseID int64) []attendance.Attendance {
	var out []attendance.Attendance
	for _, a := range s.attendances {
		if a.PhaseID == phaseID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) WithPhase(ctx context.Context, phaseID int64, fn func(ctx context.Context, tx attendance.PhaseTx) error) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return s.commit(func(st *state) error {
		p, ok := st.phases[phaseID]
		if !ok {
			return storage.ErrNotFound
		}
		return fn(ctx, &phaseTx{
			st:      st,
			phase:   p,
			records: st.phaseAttendance(phaseID),
			hook:    s.BeforeSaveAttendance,
		})
	})
}

type phaseTx struct {
	st      *state
	phase   attendance.Phase
	records []attendance.Attendance
	hook    func(attendance.Attendance) error
}

func (t *phaseTx) Phase() attendance.Phase { return t.phase }

func (t *phaseTx) Attendances() []attendance.Attendance {
	return append([]attendance.Attendance(nil), t.records...)
}

func (t *phaseTx) SaveAttendance(_ context.Context, a *attendance.Attendance) error {
	if t.hook != nil {
		if err := t.hook(*a); err != nil {
			return err
		}
	}
	if a.ID == 0 {
		for _, existing := range t.st.attendances {
			if existing.PhaseID == a.PhaseID && existing.UserID == a.UserID {
				return fmt.Errorf("memory: duplicate attendance for phase %d user %s", a.PhaseID, a.UserID)
			}
		}
		a.ID = t.st.nextID()
	} else if _, ok := t.st.attendances[a.ID]; !ok {
		return storage.ErrNotFound
	}
	t.st.attendances[a.ID] = *a
	return nil
}

func (t *phaseTx) SetCapacity(_ context.Context, capacity int) error {
	t.phase.Capacity = capacity
	t.st.phases[t.phase.ID] = t.phase
	return nil
}
