package attendance

import (
	"time"

	"climbcrew/internal/apperr"
)

// Ledger holds one phase's attendance records and decides admit, waitlist
// and promotion outcomes. It is not safe for concurrent use; callers build a
// fresh Ledger from the snapshot loaded under the phase lock.
type Ledger struct {
	phase           Phase
	records         []*Attendance
	changed         []*Attendance
	capacityChanged bool
	now             time.Time
}

func NewLedger(phase Phase, records []Attendance, now time.Time) *Ledger {
	l := &Ledger{phase: phase, now: now}
	for i := range records {
		r := records[i]
		l.records = append(l.records, &r)
	}
	return l
}

func (l *Ledger) Phase() Phase { return l.phase }

// Changed returns records modified since the ledger was built, in the order
// they were first touched.
func (l *Ledger) Changed() []*Attendance { return l.changed }

// Records returns a copy of every record.
func (l *Ledger) Records() []Attendance {
	out := make([]Attendance, 0, len(l.records))
	for _, r := range l.records {
		out = append(out, *r)
	}
	return out
}

// Confirmed counts records holding a slot.
func (l *Ledger) Confirmed() int {
	n := 0
	for _, r := range l.records {
		if r.Status.HoldsSlot() {
			n++
		}
	}
	return n
}

func (l *Ledger) hasRoom() bool {
	return l.phase.Capacity == 0 || l.Confirmed() < l.phase.Capacity
}

func (l *Ledger) byUser(userID string) *Attendance {
	for _, r := range l.records {
		if r.UserID == userID {
			return r
		}
	}
	return nil
}

func (l *Ledger) byID(id int64) *Attendance {
	for _, r := range l.records {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (l *Ledger) touch(a *Attendance) {
	a.UpdatedAt = l.now
	for _, c := range l.changed {
		if c == a {
			return
		}
	}
	l.changed = append(l.changed, a)
}

// RSVP records a member's answer for the phase.
//
// Attending is admitted while there is room (or the phase is unlimited) and
// nobody is queued; otherwise it joins the tail of the waitlist, so a slot
// freed on the day still goes to the head of the queue. Leaving a slot runs the
// promoter; leaving the waitlist closes the gap.
func (l *Ledger) RSVP(userID string, desired Status, note *string) (*Attendance, error) {
	if !desired.RSVPChoice() {
		return nil, apperr.Validation(apperr.CodeBadStatus, "rsvp must be attending, not_attending or maybe")
	}

	a := l.byUser(userID)
	if a == nil {
		a = &Attendance{PhaseID: l.phase.ID, UserID: userID, CreatedAt: l.now}
		l.records = append(l.records, a)
	} else {
		if a.CheckedInAt != nil {
			return nil, apperr.Conflict(apperr.CodeAlreadyCheckedIn, "already checked in")
		}
		switch a.Status {
		case StatusLate, StatusEarlyLeave, StatusNoShow:
			return nil, apperr.Conflict(apperr.CodeInvalidTransition, "attendance was already settled by an admin")
		}
	}
	if note != nil {
		a.UserNote = *note
	}

	prev := a.Status
	switch desired {
	case StatusAttending:
		switch {
		case prev == StatusAttending, prev == StatusWaiting:
			// keep the slot or the queue position
		case l.hasRoom() && len(l.Waiting()) == 0:
			a.Status = StatusAttending
			a.WaitlistPosition = 0
		default:
			a.Status = StatusWaiting
			a.WaitlistPosition = l.nextPosition()
		}
	default:
		a.Status = desired
		a.WaitlistPosition = 0
		if prev == StatusWaiting {
			l.densify()
		}
		if prev.HoldsSlot() {
			l.fillOpenSlots()
		}
	}
	l.touch(a)
	return a, nil
}

// SetCapacity changes the phase capacity and promotes waiting members into
// any slots that opened. Lowering capacity never demotes anyone.
func (l *Ledger) SetCapacity(capacity int) ([]*Attendance, error) {
	if capacity < 0 {
		return nil, apperr.Validation(apperr.CodeValidation, "capacity must not be negative")
	}
	if capacity != l.phase.Capacity {
		l.phase.Capacity = capacity
		l.capacityChanged = true
	}
	return l.fillOpenSlots(), nil
}

// Promote moves a specific waiting record to attending, regardless of its
// queue position. Capacity still applies.
func (l *Ledger) Promote(id int64) (*Attendance, error) {
	a := l.byID(id)
	if a == nil {
		return nil, apperr.NotFound("attendance not found")
	}
	if a.Status != StatusWaiting {
		return nil, apperr.Conflict(apperr.CodeNotWaiting, "attendance is not on the waitlist")
	}
	if !l.hasRoom() {
		return nil, apperr.Conflict(apperr.CodePhaseFull, "phase is full")
	}
	a.Status = StatusAttending
	a.WaitlistPosition = 0
	l.touch(a)
	l.densify()
	return a, nil
}
