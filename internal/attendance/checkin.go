package attendance

import "climbcrew/internal/apperr"

// CheckInInput optionally combines the check-in with a status change and an
// admin note. Status may only be attending or late.
type CheckInInput struct {
	Status Status
	Note   *string
}

// CheckIn stamps the arrival time of a confirmed attendee.
func (l *Ledger) CheckIn(id int64, in CheckInInput) (*Attendance, error) {
	a := l.byID(id)
	if a == nil {
		return nil, apperr.NotFound("attendance not found")
	}
	if in.Status != "" && in.Status != StatusAttending && in.Status != StatusLate {
		return nil, apperr.Validation(apperr.CodeBadStatus, "check-in status must be attending or late")
	}
	if a.Status != StatusAttending && a.Status != StatusLate {
		return nil, apperr.Conflict(apperr.CodeInvalidTransition, "only confirmed attendees can check in")
	}
	if a.CheckedInAt != nil {
		return nil, apperr.Conflict(apperr.CodeAlreadyCheckedIn, "already checked in")
	}

	now := l.now
	a.CheckedInAt = &now
	if in.Status != "" {
		a.Status = in.Status
	}
	if in.Note != nil {
		a.AdminNote = *in.Note
	}
	l.touch(a)
	return a, nil
}

// CheckOut stamps the departure time. A prior check-in is required.
func (l *Ledger) CheckOut(id int64, note *string) (*Attendance, error) {
	a := l.byID(id)
	if a == nil {
		return nil, apperr.NotFound("attendance not found")
	}
	if a.CheckedInAt == nil {
		return nil, apperr.Conflict(apperr.CodeNotCheckedIn, "check in before checking out")
	}
	if a.CheckedOutAt != nil {
		return nil, apperr.Conflict(apperr.CodeAlreadyCheckedOut, "already checked out")
	}

	now := l.now
	a.CheckedOutAt = &now
	if note != nil {
		a.AdminNote = *note
	}
	l.touch(a)
	return a, nil
}

// UpdateStatus applies a day-of status to a confirmed (or previously
// refined) attendee. It never promotes from the waitlist; a slot freed on the
// day is filled by an explicit Promote.
func (l *Ledger) UpdateStatus(id int64, status Status, note *string) (*Attendance, error) {
	if !status.DayOf() {
		return nil, apperr.Validation(apperr.CodeBadStatus, "status must be attending, late, early_leave or no_show")
	}
	a := l.byID(id)
	if a == nil {
		return nil, apperr.NotFound("attendance not found")
	}
	if !a.Status.DayOf() {
		return nil, apperr.Conflict(apperr.CodeInvalidTransition,
			"day-of status only applies to confirmed attendees, not "+string(a.Status))
	}
	if !a.Status.HoldsSlot() && status.HoldsSlot() && !l.hasRoom() {
		return nil, apperr.Conflict(apperr.CodePhaseFull, "phase is full")
	}

	if status == StatusEarlyLeave && a.CheckedInAt != nil && a.CheckedOutAt == nil {
		now := l.now
		a.CheckedOutAt = &now
	}
	a.Status = status
	if note != nil {
		a.AdminNote = *note
	}
	l.touch(a)
	return a, nil
}

// MarkNoShow turns an attending record without a check-in into no_show.
// It reports false, changing nothing, for any other record.
func (l *Ledger) MarkNoShow(id int64) bool {
	a := l.byID(id)
	if a == nil || a.Status != StatusAttending || a.CheckedInAt != nil {
		return false
	}
	a.Status = StatusNoShow
	l.touch(a)
	return true
}
