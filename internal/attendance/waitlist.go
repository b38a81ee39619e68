package attendance

import "sort"

// Waiting returns waiting records ordered by queue position.
func (l *Ledger) Waiting() []*Attendance {
	var out []*Attendance
	for _, r := range l.records {
		if r.Status == StatusWaiting {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.WaitlistPosition != b.WaitlistPosition {
			return a.WaitlistPosition < b.WaitlistPosition
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

func (l *Ledger) nextPosition() int {
	last := 0
	for _, r := range l.records {
		if r.Status == StatusWaiting && r.WaitlistPosition > last {
			last = r.WaitlistPosition
		}
	}
	return last + 1
}

// densify renumbers waiting records to 1..N keeping their relative order.
// It returns how many records moved; a second call in a row returns 0.
func (l *Ledger) densify() int {
	moved := 0
	for i, r := range l.Waiting() {
		if r.WaitlistPosition != i+1 {
			r.WaitlistPosition = i + 1
			l.touch(r)
			moved++
		}
	}
	return moved
}

// fillOpenSlots promotes the head of the queue while there is room.
func (l *Ledger) fillOpenSlots() []*Attendance {
	var promoted []*Attendance
	for l.hasRoom() {
		queue := l.Waiting()
		if len(queue) == 0 {
			break
		}
		head := queue[0]
		head.Status = StatusAttending
		head.WaitlistPosition = 0
		l.touch(head)
		promoted = append(promoted, head)
	}
	if len(promoted) > 0 {
		l.densify()
	}
	return promoted
}
