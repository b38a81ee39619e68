package attendance

import (
	"fmt"
	"testing"
	"time"

	"climbcrew/internal/apperr"
)

var ledgerNow = time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)

func testPhase(capacity int) Phase {
	return Phase{
		ID:         7,
		ScheduleID: 3,
		Number:     1,
		Type:       PhaseExercise,
		StartsAt:   ledgerNow.Add(2 * time.Hour),
		EndsAt:     ledgerNow.Add(4 * time.Hour),
		Capacity:   capacity,
	}
}

func statusOf(t *testing.T, l *Ledger, userID string) (Status, int) {
	t.Helper()
	a := l.byUser(userID)
	if a == nil {
		t.Fatalf("no record for %s", userID)
	}
	return a.Status, a.WaitlistPosition
}

// checkInvariants asserts slot count stays within capacity and waiting
// positions are exactly 1..N.
func checkInvariants(t *testing.T, l *Ledger) {
	t.Helper()
	if c := l.phase.Capacity; c > 0 && l.Confirmed() > c {
		t.Fatalf("confirmed %d exceeds capacity %d", l.Confirmed(), c)
	}
	for i, w := range l.Waiting() {
		if w.WaitlistPosition != i+1 {
			t.Fatalf("waiting[%d] %s has position %d, want %d", i, w.UserID, w.WaitlistPosition, i+1)
		}
	}
}

func rsvp(t *testing.T, l *Ledger, userID string, status Status) *Attendance {
	t.Helper()
	a, err := l.RSVP(userID, status, nil)
	if err != nil {
		t.Fatalf("RSVP(%s, %s) error = %v", userID, status, err)
	}
	checkInvariants(t, l)
	return a
}

func TestRSVPWaitlistsBeyondCapacity(t *testing.T) {
	l := NewLedger(testPhase(2), nil, ledgerNow)
	rsvp(t, l, "A", StatusAttending)
	rsvp(t, l, "B", StatusAttending)
	rsvp(t, l, "C", StatusAttending)

	for _, u := range []string{"A", "B"} {
		if st, _ := statusOf(t, l, u); st != StatusAttending {
			t.Errorf("%s status got = %v, want attending", u, st)
		}
	}
	if st, pos := statusOf(t, l, "C"); st != StatusWaiting || pos != 1 {
		t.Errorf("C got = %v@%d, want waiting@1", st, pos)
	}
}

func TestCancellationPromotesHeadOfQueue(t *testing.T) {
	l := NewLedger(testPhase(2), nil, ledgerNow)
	for _, u := range []string{"A", "B", "C"} {
		rsvp(t, l, u, StatusAttending)
	}
	rsvp(t, l, "A", StatusNotAttending)

	if st, pos := statusOf(t, l, "C"); st != StatusAttending || pos != 0 {
		t.Errorf("C got = %v@%d, want attending@0", st, pos)
	}
	if n := len(l.Waiting()); n != 0 {
		t.Errorf("waiting got = %d, want 0", n)
	}
	if len(l.Changed()) != 3 {
		t.Errorf("changed got = %d, want 3", len(l.Changed()))
	}
}

func TestNewcomerQueuesBehindWaitlistWhenSlotFreedOnTheDay(t *testing.T) {
	l := NewLedger(testPhase(2), []Attendance{
		{ID: 1, UserID: "A", Status: StatusAttending},
		{ID: 2, UserID: "B", Status: StatusAttending},
		{ID: 3, UserID: "C", Status: StatusWaiting, WaitlistPosition: 1},
	}, ledgerNow)

	if _, err := l.UpdateStatus(1, StatusNoShow, nil); err != nil {
		t.Fatalf("UpdateStatus(no_show) error = %v", err)
	}
	checkInvariants(t, l)

	rsvp(t, l, "D", StatusAttending)
	if st, pos := statusOf(t, l, "C"); st != StatusWaiting || pos != 1 {
		t.Errorf("C got = %v@%d, want waiting@1", st, pos)
	}
	if st, pos := statusOf(t, l, "D"); st != StatusWaiting || pos != 2 {
		t.Errorf("D got = %v@%d, want waiting@2", st, pos)
	}

	if _, err := l.Promote(3); err != nil {
		t.Fatalf("Promote(C) error = %v", err)
	}
	checkInvariants(t, l)
	if st, pos := statusOf(t, l, "D"); st != StatusWaiting || pos != 1 {
		t.Errorf("D after promote got = %v@%d, want waiting@1", st, pos)
	}
}

func TestUnlimitedPhaseNeverWaitlists(t *testing.T) {
	l := NewLedger(testPhase(0), nil, ledgerNow)
	for i := 0; i < 10; i++ {
		a := rsvp(t, l, fmt.Sprintf("u%d", i), StatusAttending)
		if a.Status != StatusAttending {
			t.Fatalf("u%d status got = %v, want attending", i, a.Status)
		}
	}
	if l.Confirmed() != 10 || len(l.Waiting()) != 0 {
		t.Errorf("confirmed = %d waiting = %d, want 10 and 0", l.Confirmed(), len(l.Waiting()))
	}
}

func TestLeavingWaitlistClosesGap(t *testing.T) {
	l := NewLedger(testPhase(1), nil, ledgerNow)
	for _, u := range []string{"A", "B", "C", "D"} {
		rsvp(t, l, u, StatusAttending)
	}
	rsvp(t, l, "C", StatusMaybe)

	if _, pos := statusOf(t, l, "B"); pos != 1 {
		t.Errorf("B position got = %d, want 1", pos)
	}
	if _, pos := statusOf(t, l, "D"); pos != 2 {
		t.Errorf("D position got = %d, want 2", pos)
	}
	if st, pos := statusOf(t, l, "C"); st != StatusMaybe || pos != 0 {
		t.Errorf("C got = %v@%d, want maybe@0", st, pos)
	}
}

func TestRepeatedAttendingKeepsQueuePosition(t *testing.T) {
	l := NewLedger(testPhase(1), nil, ledgerNow)
	for _, u := range []string{"A", "B", "C"} {
		rsvp(t, l, u, StatusAttending)
	}
	rsvp(t, l, "B", StatusAttending)
	if st, pos := statusOf(t, l, "B"); st != StatusWaiting || pos != 1 {
		t.Errorf("B got = %v@%d, want waiting@1", st, pos)
	}
}

func TestRSVPRejectsDayOfStatuses(t *testing.T) {
	l := NewLedger(testPhase(0), nil, ledgerNow)
	for _, st := range []Status{StatusWaiting, StatusLate, StatusNoShow, StatusEarlyLeave} {
		if _, err := l.RSVP("A", st, nil); apperr.CodeOf(err) != apperr.CodeBadStatus {
			t.Errorf("RSVP(%s) err = %v, want INVALID_STATUS", st, err)
		}
	}
}

func TestRSVPAfterSettledStatusIsRejected(t *testing.T) {
	checked := ledgerNow
	l := NewLedger(testPhase(0), []Attendance{
		{ID: 1, PhaseID: 7, UserID: "A", Status: StatusNoShow},
		{ID: 2, PhaseID: 7, UserID: "B", Status: StatusAttending, CheckedInAt: &checked},
	}, ledgerNow)

	if _, err := l.RSVP("A", StatusAttending, nil); apperr.CodeOf(err) != apperr.CodeInvalidTransition {
		t.Errorf("no_show RSVP err = %v, want INVALID_TRANSITION", err)
	}
	if _, err := l.RSVP("B", StatusNotAttending, nil); apperr.CodeOf(err) != apperr.CodeAlreadyCheckedIn {
		t.Errorf("checked-in RSVP err = %v, want ALREADY_CHECKED_IN", err)
	}
}

func TestDensifyIsIdempotent(t *testing.T) {
	l := NewLedger(testPhase(1), []Attendance{
		{ID: 1, UserID: "A", Status: StatusAttending},
		{ID: 2, UserID: "B", Status: StatusWaiting, WaitlistPosition: 2},
		{ID: 3, UserID: "C", Status: StatusWaiting, WaitlistPosition: 5},
		{ID: 4, UserID: "D", Status: StatusWaiting, WaitlistPosition: 9},
	}, ledgerNow)

	if moved := l.densify(); moved != 3 {
		t.Errorf("first densify moved = %d, want 3", moved)
	}
	checkInvariants(t, l)
	if moved := l.densify(); moved != 0 {
		t.Errorf("second densify moved = %d, want 0", moved)
	}
}

func TestPromoteAnyWaitingRecord(t *testing.T) {
	l := NewLedger(testPhase(2), []Attendance{
		{ID: 1, UserID: "A", Status: StatusAttending},
		{ID: 2, UserID: "B", Status: StatusNoShow},
		{ID: 3, UserID: "C", Status: StatusWaiting, WaitlistPosition: 1},
		{ID: 4, UserID: "D", Status: StatusWaiting, WaitlistPosition: 2},
		{ID: 5, UserID: "E", Status: StatusWaiting, WaitlistPosition: 3},
	}, ledgerNow)

	a, err := l.Promote(4)
	if err != nil {
		t.Fatalf("Promote() error = %v", err)
	}
	if a.Status != StatusAttending || a.WaitlistPosition != 0 {
		t.Errorf("promoted got = %v@%d", a.Status, a.WaitlistPosition)
	}
	checkInvariants(t, l)
	if _, pos := statusOf(t, l, "E"); pos != 2 {
		t.Errorf("E position got = %d, want 2", pos)
	}

	if _, err := l.Promote(3); apperr.CodeOf(err) != apperr.CodePhaseFull {
		t.Errorf("Promote on full phase err = %v, want PHASE_FULL", err)
	}
	if _, err := l.Promote(1); apperr.CodeOf(err) != apperr.CodeNotWaiting {
		t.Errorf("Promote attending err = %v, want NOT_WAITING", err)
	}
	if _, err := l.Promote(99); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("Promote missing err = %v, want not found", err)
	}
}

func TestSetCapacityFillsInQueueOrder(t *testing.T) {
	l := NewLedger(testPhase(1), nil, ledgerNow)
	for _, u := range []string{"A", "B", "C", "D"} {
		rsvp(t, l, u, StatusAttending)
	}

	promoted, err := l.SetCapacity(3)
	if err != nil {
		t.Fatalf("SetCapacity() error = %v", err)
	}
	checkInvariants(t, l)
	if len(promoted) != 2 || promoted[0].UserID != "B" || promoted[1].UserID != "C" {
		t.Fatalf("promoted got = %+v, want B then C", promoted)
	}
	if _, pos := statusOf(t, l, "D"); pos != 1 {
		t.Errorf("D position got = %d, want 1", pos)
	}

	promoted, err = l.SetCapacity(1)
	if err != nil {
		t.Fatalf("SetCapacity(lower) error = %v", err)
	}
	if len(promoted) != 0 || l.Confirmed() != 3 {
		t.Errorf("lowering capacity promoted %d, confirmed %d; want 0 and 3", len(promoted), l.Confirmed())
	}

	promoted, _ = l.SetCapacity(0)
	if len(promoted) != 1 || promoted[0].UserID != "D" {
		t.Errorf("unlimited promoted got = %+v, want D", promoted)
	}
	if _, err := l.SetCapacity(-1); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("negative capacity err = %v, want validation", err)
	}
}

func TestCheckInStateMachine(t *testing.T) {
	note := "front desk"
	l := NewLedger(testPhase(0), []Attendance{
		{ID: 1, UserID: "A", Status: StatusAttending},
		{ID: 2, UserID: "B", Status: StatusMaybe},
		{ID: 3, UserID: "C", Status: StatusAttending},
	}, ledgerNow)

	if _, err := l.CheckOut(1, nil); apperr.CodeOf(err) != apperr.CodeNotCheckedIn {
		t.Errorf("CheckOut before CheckIn err = %v, want NOT_CHECKED_IN", err)
	}
	a, err := l.CheckIn(1, CheckInInput{Status: StatusLate, Note: &note})
	if err != nil {
		t.Fatalf("CheckIn() error = %v", err)
	}
	if a.Status != StatusLate || a.CheckedInAt == nil || a.AdminNote != note {
		t.Errorf("checked in record got = %+v", a)
	}
	if _, err := l.CheckIn(1, CheckInInput{}); apperr.CodeOf(err) != apperr.CodeAlreadyCheckedIn {
		t.Errorf("second CheckIn err = %v, want ALREADY_CHECKED_IN", err)
	}
	if _, err := l.CheckOut(1, nil); err != nil {
		t.Fatalf("CheckOut() error = %v", err)
	}
	if _, err := l.CheckOut(1, nil); apperr.CodeOf(err) != apperr.CodeAlreadyCheckedOut {
		t.Errorf("second CheckOut err = %v, want ALREADY_CHECKED_OUT", err)
	}

	if _, err := l.CheckIn(2, CheckInInput{}); apperr.CodeOf(err) != apperr.CodeInvalidTransition {
		t.Errorf("CheckIn maybe err = %v, want INVALID_TRANSITION", err)
	}
	if _, err := l.CheckIn(3, CheckInInput{Status: StatusNoShow}); apperr.CodeOf(err) != apperr.CodeBadStatus {
		t.Errorf("CheckIn as no_show err = %v, want INVALID_STATUS", err)
	}
}

func TestUpdateStatus(t *testing.T) {
	checked := ledgerNow.Add(-time.Hour)
	l := NewLedger(testPhase(1), []Attendance{
		{ID: 1, UserID: "A", Status: StatusAttending, CheckedInAt: &checked},
		{ID: 2, UserID: "B", Status: StatusWaiting, WaitlistPosition: 1},
	}, ledgerNow)

	a, err := l.UpdateStatus(1, StatusEarlyLeave, nil)
	if err != nil {
		t.Fatalf("UpdateStatus(early_leave) error = %v", err)
	}
	if a.CheckedOutAt == nil || !a.CheckedOutAt.Equal(ledgerNow) {
		t.Errorf("early_leave checkout got = %v, want %v", a.CheckedOutAt, ledgerNow)
	}

	if _, err := l.UpdateStatus(1, StatusNoShow, nil); err != nil {
		t.Fatalf("UpdateStatus(no_show) error = %v", err)
	}
	if st, _ := statusOf(t, l, "B"); st != StatusWaiting {
		t.Errorf("B status got = %v, day-of changes must not promote", st)
	}

	if _, err := l.UpdateStatus(2, StatusLate, nil); apperr.CodeOf(err) != apperr.CodeInvalidTransition {
		t.Errorf("UpdateStatus on waiting err = %v, want INVALID_TRANSITION", err)
	}
	if _, err := l.UpdateStatus(1, StatusMaybe, nil); apperr.CodeOf(err) != apperr.CodeBadStatus {
		t.Errorf("UpdateStatus(maybe) err = %v, want INVALID_STATUS", err)
	}

	if _, err := l.Promote(2); err != nil {
		t.Fatalf("Promote() error = %v", err)
	}
	if _, err := l.UpdateStatus(1, StatusAttending, nil); apperr.CodeOf(err) != apperr.CodePhaseFull {
		t.Errorf("restoring slot on full phase err = %v, want PHASE_FULL", err)
	}
}

func TestMarkNoShow(t *testing.T) {
	checked := ledgerNow
	l := NewLedger(testPhase(0), []Attendance{
		{ID: 1, UserID: "A", Status: StatusAttending},
		{ID: 2, UserID: "B", Status: StatusAttending, CheckedInAt: &checked},
		{ID: 3, UserID: "C", Status: StatusMaybe},
	}, ledgerNow)

	if !l.MarkNoShow(1) {
		t.Errorf("MarkNoShow(1) = false, want true")
	}
	if l.MarkNoShow(1) {
		t.Errorf("second MarkNoShow(1) = true, want false")
	}
	if l.MarkNoShow(2) || l.MarkNoShow(3) || l.MarkNoShow(42) {
		t.Errorf("MarkNoShow changed a record it should skip")
	}
	if len(l.Changed()) != 1 {
		t.Errorf("changed got = %d, want 1", len(l.Changed()))
	}
}
