package internal

import (
	"time"

	"climbcrew/internal/attendance"
	"climbcrew/internal/crew"
)

type profileRequest struct {
	Nickname string `json:"nickname" binding:"required,max=40"`
}

type createCrewRequest struct {
	Name       string `json:"name" binding:"required,max=80"`
	Visibility string `json:"visibility" binding:"omitempty,oneof=public private"`
	MaxMembers int    `json:"max_members" binding:"gte=0"`
}

type joinRequest struct {
	Code string `json:"code" binding:"required,invitecode"`
}

type inviteRequest struct {
	MaxUses   int        `json:"max_uses" binding:"gte=0"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type leaderRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

type phaseRequest struct {
	Type     string    `json:"type" binding:"required,oneof=exercise meal afterparty other"`
	Location string    `json:"location" binding:"max=200"`
	StartsAt time.Time `json:"starts_at" binding:"required"`
	EndsAt   time.Time `json:"ends_at" binding:"required,gtfield=StartsAt"`
	Capacity int       `json:"capacity" binding:"gte=0"`
}

type scheduleRequest struct {
	Title  string         `json:"title" binding:"required,max=120"`
	Date   time.Time      `json:"date" binding:"required"`
	Phases []phaseRequest `json:"phases" binding:"required,min=1,max=5,dive"`
}

type rsvpRequest struct {
	Status string  `json:"status" binding:"required,rsvp_status"`
	Note   *string `json:"note" binding:"omitempty,max=500"`
}

type capacityRequest struct {
	Capacity *int `json:"capacity" binding:"required,gte=0"`
}

type checkInRequest struct {
	Status string  `json:"status" binding:"omitempty,oneof=attending late"`
	Note   *string `json:"note" binding:"omitempty,max=500"`
}

type noteRequest struct {
	Note *string `json:"note" binding:"omitempty,max=500"`
}

type statusRequest struct {
	Status string  `json:"status" binding:"required,attendance_status"`
	Note   *string `json:"note" binding:"omitempty,max=500"`
}

// crewView hides the shareable code from members who cannot manage it.
type crewView struct {
	crew.Crew
	InviteCode string    `json:"invite_code,omitempty"`
	Role       crew.Role `json:"role,omitempty"`
}

type scheduleView struct {
	attendance.Schedule
	Phases []attendance.Phase `json:"phases"`
}

type rosterView struct {
	PhaseID     int64                   `json:"phase_id"`
	Attendances []attendance.Attendance `json:"attendances"`
}

type capacityView struct {
	Phase    attendance.Phase        `json:"phase"`
	Promoted []attendance.Attendance `json:"promoted"`
}
