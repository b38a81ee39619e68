// Package crew implements the membership gate: who may join a crew, through
// which path, and how invite codes and leadership are managed.
package crew

import (
	"context"
	"strings"
	"time"
)

type Visibility string

const (
	Public  Visibility = "public"
	Private Visibility = "private"
)

func (v Visibility) Valid() bool {
	return v == Public || v == Private
}

type Role string

const (
	RoleLeader Role = "leader"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// CanManage reports whether the role may administer the crew.
func (r Role) CanManage() bool {
	return r == RoleLeader || r == RoleAdmin
}

type Crew struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	LeaderID   string     `json:"leader_id"`
	Visibility Visibility `json:"visibility"`
	InviteCode string     `json:"invite_code,omitempty"` // "" when the crew has none
	MaxMembers int        `json:"max_members"`           // 0 = unlimited
	CreatedAt  time.Time  `json:"created_at"`
}

// Full reports whether active members already reach the member cap.
func (c Crew) Full(active int) bool {
	return c.MaxMembers > 0 && active >= c.MaxMembers
}

type Membership struct {
	CrewID   int64     `json:"crew_id"`
	UserID   string    `json:"user_id"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
	Active   bool      `json:"active"`
}

type Invite struct {
	Code      string     `json:"code"`
	CrewID    int64      `json:"crew_id"`
	CreatedBy string     `json:"created_by"`
	MaxUses   int        `json:"max_uses,omitempty"` // 0 = no limit
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Uses      int        `json:"uses"`
	CreatedAt time.Time  `json:"created_at"`
}

func (i Invite) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && !now.Before(*i.ExpiresAt)
}

func (i Invite) Exhausted() bool {
	return i.MaxUses > 0 && i.Uses >= i.MaxUses
}

// Profile is the part of a user's profile the gate cares about.
type Profile struct {
	UserID      string     `json:"user_id"`
	Nickname    string     `json:"nickname"`
	OnboardedAt *time.Time `json:"onboarded_at,omitempty"`
}

// Complete reports whether onboarding finished far enough to join crews.
func (p Profile) Complete() bool {
	return p.OnboardedAt != nil && strings.TrimSpace(p.Nickname) != ""
}

// Store persists crews, memberships, invites and profiles. Lookups outside
// InTx are unlocked reads. Missing rows return storage.ErrNotFound and code
// collisions return storage.ErrCodeTaken.
type Store interface {
	CodeExists(ctx context.Context, code string) (bool, error)
	// InsertCrew stores the crew and its leader membership atomically.
	InsertCrew(ctx context.Context, c Crew) (Crew, error)
	CrewByID(ctx context.Context, id int64) (Crew, error)
	SetCrewCode(ctx context.Context, crewID int64, code string) error
	InsertInvite(ctx context.Context, inv Invite) (Invite, error)
	Profile(ctx context.Context, userID string) (Profile, error)
	UpsertProfile(ctx context.Context, p Profile) (Profile, error)
	ActiveMembers(ctx context.Context, crewID int64) ([]Membership, error)
	Membership(ctx context.Context, crewID int64, userID string) (Membership, error)
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is a transaction. Lock* methods hold the row until commit so admission
// decisions for one crew or invite are serialized.
type Tx interface {
	LockCrew(ctx context.Context, id int64) (Crew, error)
	LockCrewByCode(ctx context.Context, code string) (Crew, error)
	LockInvite(ctx context.Context, code string) (Invite, error)
	CountActiveMembers(ctx context.Context, crewID int64) (int, error)
	Membership(ctx context.Context, crewID int64, userID string) (Membership, error)
	SaveMembership(ctx context.Context, m Membership) error
	IncrementInviteUses(ctx context.Context, code string) error
	SetLeader(ctx context.Context, crewID int64, userID string) error
}
