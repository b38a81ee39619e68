// Package memory is an in-process store for local development and tests.
//
// Transactions are serialized by one mutex and run against a copy of the
// state that replaces the live state only on success, so a failing
// transaction leaves nothing behind.
package memory

import (
	"context"
	"fmt"
	"sync"

	"climbcrew/internal/attendance"
	"climbcrew/internal/crew"
)

type memberKey struct {
	crewID int64
	userID string
}

type state struct {
	crews       map[int64]crew.Crew
	members     map[memberKey]crew.Membership
	invites     map[string]crew.Invite
	profiles    map[string]crew.Profile
	schedules   map[int64]attendance.Schedule
	phases      map[int64]attendance.Phase
	attendances map[int64]attendance.Attendance
	lastID      int64
}

func newState() *state {
	return &state{
		crews:       map[int64]crew.Crew{},
		members:     map[memberKey]crew.Membership{},
		invites:     map[string]crew.Invite{},
		profiles:    map[string]crew.Profile{},
		schedules:   map[int64]attendance.Schedule{},
		phases:      map[int64]attendance.Phase{},
		attendances: map[int64]attendance.Attendance{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.crews {
		c.crews[k] = v
	}
	for k, v := range s.members {
		c.members[k] = v
	}
	for k, v := range s.invites {
		c.invites[k] = v
	}
	for k, v := range s.profiles {
		c.profiles[k] = v
	}
	for k, v := range s.schedules {
		c.schedules[k] = v
	}
	for k, v := range s.phases {
		c.phases[k] = v
	}
	for k, v := range s.attendances {
		c.attendances[k] = v
	}
	c.lastID = s.lastID
	return c
}

func (s *state) nextID() int64 {
	s.lastID++
	return s.lastID
}

// Store implements crew.Store and attendance.Store.
type Store struct {
	mu sync.Mutex
	st *state

	// BeforeSaveAttendance, when set, runs before every attendance write
	// and aborts the transaction if it returns an error.
	BeforeSaveAttendance func(a attendance.Attendance) error
}

var (
	_ crew.Store       = (*Store)(nil)
	_ attendance.Store = (*Store)(nil)
)

func New() *Store {
	return &Store{st: newState()}
}

// commit runs fn against a copy of the state and swaps it in on success.
func (s *Store) commit(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.st.clone()
	if err := fn(work); err != nil {
		return err
	}
	if err := work.checkWaitlists(); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) read(fn func(st *state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.st)
}

// checkWaitlists mirrors the deferred unique constraint on
// (phase_id, waitlist_position).
func (s *state) checkWaitlists() error {
	seen := map[[2]int64]int64{}
	for id, a := range s.attendances {
		if a.Status != attendance.StatusWaiting {
			continue
		}
		key := [2]int64{a.PhaseID, int64(a.WaitlistPosition)}
		if other, ok := seen[key]; ok {
			return fmt.Errorf("memory: attendances %d and %d share waitlist position %d", other, id, a.WaitlistPosition)
		}
		seen[key] = id
	}
	return nil
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	return nil
}
