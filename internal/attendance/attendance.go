// Package attendance implements the capacity ledger, the waitlist promoter and
// the day-of check-in state machine for schedule phases.
//
// Every mutation on a phase runs inside Store.WithPhase, which holds the
// phase lock for the whole read-decide-write cycle. The Ledger type is the
// pure decision layer working on the snapshot loaded under that lock.
package attendance

import (
	"context"
	"time"

	"climbcrew/internal/apperr"
	"climbcrew/internal/crew"
)

type Status string

const (
	StatusAttending    Status = "attending"
	StatusWaiting      Status = "waiting"
	StatusNotAttending Status = "not_attending"
	StatusMaybe        Status = "maybe"
	StatusLate         Status = "late"
	StatusEarlyLeave   Status = "early_leave"
	StatusNoShow       Status = "no_show"
)

var allStatuses = []Status{
	StatusAttending, StatusWaiting, StatusNotAttending, StatusMaybe,
	StatusLate, StatusEarlyLeave, StatusNoShow,
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	for _, st := range allStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", apperr.Validation(apperr.CodeBadStatus, "unknown attendance status "+s)
}

// HoldsSlot reports whether the status counts against phase capacity.
func (s Status) HoldsSlot() bool {
	switch s {
	case StatusAttending, StatusLate, StatusEarlyLeave:
		return true
	}
	return false
}

// RSVPChoice reports whether a member may pick the status themselves.
func (s Status) RSVPChoice() bool {
	switch s {
	case StatusAttending, StatusNotAttending, StatusMaybe:
		return true
	}
	return false
}

// DayOf reports whether the status is a day-of refinement an admin applies
// to a confirmed attendee.
func (s Status) DayOf() bool {
	switch s {
	case StatusAttending, StatusLate, StatusEarlyLeave, StatusNoShow:
		return true
	}
	return false
}

type PhaseType string

const (
	PhaseExercise   PhaseType = "exercise"
	PhaseMeal       PhaseType = "meal"
	PhaseAfterparty PhaseType = "afterparty"
	PhaseOther      PhaseType = "other"
)

func (t PhaseType) Valid() bool {
	switch t {
	case PhaseExercise, PhaseMeal, PhaseAfterparty, PhaseOther:
		return true
	}
	return false
}

// MaxPhases is the number of rounds a schedule may have.
const MaxPhases = 5

type Schedule struct {
	ID        int64     `json:"id"`
	CrewID    int64     `json:"crew_id"`
	Title     string    `json:"title"`
	Date      time.Time `json:"date"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

type Phase struct {
	ID         int64     `json:"id"`
	ScheduleID int64     `json:"schedule_id"`
	Number     int       `json:"number"`
	Type       PhaseType `json:"type"`
	Location   string    `json:"location"`
	StartsAt   time.Time `json:"starts_at"`
	EndsAt     time.Time `json:"ends_at"`
	Capacity   int       `json:"capacity"` // 0 = unlimited
}

// Ended reports whether the phase's time window is over.
func (p Phase) Ended(now time.Time) bool {
	return !now.Before(p.EndsAt)
}

type Attendance struct {
	ID               int64      `json:"id"`
	PhaseID          int64      `json:"phase_id"`
	UserID           string     `json:"user_id"`
	Status           Status     `json:"status"`
	WaitlistPosition int        `json:"waitlist_position,omitempty"` // 0 unless waiting
	CheckedInAt      *time.Time `json:"checked_in_at,omitempty"`
	CheckedOutAt     *time.Time `json:"checked_out_at,omitempty"`
	AdminNote        string     `json:"admin_note,omitempty"`
	UserNote         string     `json:"user_note,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Store persists schedules, phases and attendance. Reads outside WithPhase
// are unlocked. Missing rows return storage.ErrNotFound.
type Store interface {
	InsertSchedule(ctx context.Context, s Schedule, phases []Phase) (Schedule, []Phase, error)
	Schedule(ctx context.Context, id int64) (Schedule, error)
	Phases(ctx context.Context, scheduleID int64) ([]Phase, error)
	Phase(ctx context.Context, id int64) (Phase, error)
	Attendance(ctx context.Context, id int64) (Attendance, error)
	PhaseAttendance(ctx context.Context, phaseID int64) ([]Attendance, error)
	// WithPhase locks the phase and hands fn a consistent snapshot of it.
	// Writes made through tx commit only if fn returns nil.
	WithPhase(ctx context.Context, phaseID int64, fn func(ctx context.Context, tx PhaseTx) error) error
}

// PhaseTx is the locked view of one phase.
type PhaseTx interface {
	Phase() Phase
	Attendances() []Attendance
	// SaveAttendance inserts when a.ID is 0 (and assigns it) or updates.
	SaveAttendance(ctx context.Context, a *Attendance) error
	SetCapacity(ctx context.Context, capacity int) error
}

// Members resolves crew roles for authorization.
type Members interface {
	RoleOf(ctx context.Context, crewID int64, userID string) (crew.Role, error)
}
