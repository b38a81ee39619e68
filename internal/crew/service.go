package crew

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"climbcrew/internal/apperr"
	"climbcrew/internal/invitecode"
	"climbcrew/internal/storage"
)

var tracer = otel.Tracer("climbcrew/internal/crew")

// maxInsertAttempts bounds retries when the store rejects a code that the
// existence check thought was free.
const maxInsertAttempts = 5

type Service struct {
	store  Store
	codes  *invitecode.Generator
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCodes overrides the code generator.
func WithCodes(g *invitecode.Generator) Option {
	return func(s *Service) { s.codes = g }
}

func NewService(store Store, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:  store,
		codes:  &invitecode.Generator{},
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateInput struct {
	Name       string
	Visibility Visibility
	MaxMembers int
}

// Create registers a crew with leaderID as its leader and a fresh invite code.
func (s *Service) Create(ctx context.Context, leaderID string, in CreateInput) (Crew, error) {
	ctx, span := tracer.Start(ctx, "crew.Create")
	defer span.End()

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Crew{}, apperr.Validation(apperr.CodeValidation, "crew name is required")
	}
	if in.Visibility == "" {
		in.Visibility = Public
	}
	if !in.Visibility.Valid() {
		return Crew{}, apperr.Validation(apperr.CodeValidation, "visibility must be public or private")
	}
	if in.MaxMembers < 0 {
		return Crew{}, apperr.Validation(apperr.CodeValidation, "max members must not be negative")
	}
	if err := s.requireProfile(ctx, leaderID); err != nil {
		return Crew{}, err
	}

	var created Crew
	err := s.withFreshCode(ctx, func(code string) error {
		var err error
		created, err = s.store.InsertCrew(ctx, Crew{
			Name:       name,
			LeaderID:   leaderID,
			Visibility: in.Visibility,
			InviteCode: code,
			MaxMembers: in.MaxMembers,
			CreatedAt:  s.now().UTC(),
		})
		return err
	})
	if err != nil {
		return Crew{}, err
	}

	s.logger.InfoContext(ctx, "crew created", "crew_id", created.ID, "actor", leaderID)
	return created, nil
}

// Get returns a crew by id.
func (s *Service) Get(ctx context.Context, crewID int64) (Crew, error) {
	c, err := s.store.CrewByID(ctx, crewID)
	if err != nil {
		return Crew{}, translate(err, "crew not found")
	}
	return c, nil
}

// Members lists active memberships.
func (s *Service) Members(ctx context.Context, crewID int64) ([]Membership, error) {
	if _, err := s.Get(ctx, crewID); err != nil {
		return nil, err
	}
	members, err := s.store.ActiveMembers(ctx, crewID)
	if err != nil {
		return nil, apperr.Internal("list members", err)
	}
	return members, nil
}

// RoleOf returns the role of an active member, or NOT_MEMBER.
func (s *Service) RoleOf(ctx context.Context, crewID int64, userID string) (Role, error) {
	m, err := s.store.Membership(ctx, crewID, userID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !m.Active) {
		return "", apperr.Forbidden(apperr.CodeNotMember, "not a member of this crew")
	}
	if err != nil {
		return "", apperr.Internal("load membership", err)
	}
	return m.Role, nil
}

// CompleteProfile records the nickname and marks onboarding finished.
func (s *Service) CompleteProfile(ctx context.Context, userID, nickname string) (Profile, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return Profile{}, apperr.Validation(apperr.CodeValidation, "nickname is required")
	}
	now := s.now().UTC()
	p, err := s.store.UpsertProfile(ctx, Profile{UserID: userID, Nickname: nickname, OnboardedAt: &now})
	if err != nil {
		return Profile{}, apperr.Internal("save profile", err)
	}
	return p, nil
}

type InviteInput struct {
	MaxUses   int
	ExpiresAt *time.Time
}

// CreateInvite issues a new invite code for the crew. Leader or admin only.
func (s *Service) CreateInvite(ctx context.Context, crewID int64, actorID string, in InviteInput) (Invite, error) {
	ctx, span := tracer.Start(ctx, "crew.CreateInvite", trace.WithAttributes(attribute.Int64("crew.id", crewID)))
	defer span.End()

	if in.MaxUses < 0 {
		return Invite{}, apperr.Validation(apperr.CodeValidation, "max uses must be positive")
	}
	now := s.now().UTC()
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return Invite{}, apperr.Validation(apperr.CodeValidation, "expiry must be in the future")
	}
	if err := s.requireManager(ctx, crewID, actorID); err != nil {
		return Invite{}, err
	}

	var inv Invite
	err := s.withFreshCode(ctx, func(code string) error {
		var err error
		inv, err = s.store.InsertInvite(ctx, Invite{
			Code:      code,
			CrewID:    crewID,
			CreatedBy: actorID,
			MaxUses:   in.MaxUses,
			ExpiresAt: in.ExpiresAt,
			CreatedAt: now,
		})
		return err
	})
	if err != nil {
		return Invite{}, err
	}
	s.logger.InfoContext(ctx, "invite created", "crew_id", crewID, "actor", actorID, "max_uses", in.MaxUses)
	return inv, nil
}

// RegenerateCode replaces the crew's shareable code. Leader or admin only.
func (s *Service) RegenerateCode(ctx context.Context, crewID int64, actorID string) (Crew, error) {
	if err := s.requireManager(ctx, crewID, actorID); err != nil {
		return Crew{}, err
	}
	err := s.withFreshCode(ctx, func(code string) error {
		return s.store.SetCrewCode(ctx, crewID, code)
	})
	if err != nil {
		return Crew{}, err
	}
	s.logger.InfoContext(ctx, "crew code regenerated", "crew_id", crewID, "actor", actorID)
	return s.Get(ctx, crewID)
}

// TransferLeadership hands the leader role to another active member. The
// previous leader stays on as admin.
func (s *Service) TransferLeadership(ctx context.Context, crewID int64, actorID, newLeaderID string) error {
	if actorID == newLeaderID {
		return apperr.Validation(apperr.CodeValidation, "already the leader")
	}
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		c, err := tx.LockCrew(ctx, crewID)
		if err != nil {
			return translate(err, "crew not found")
		}
		if c.LeaderID != actorID {
			return apperr.Forbidden(apperr.CodeForbidden, "only the leader can transfer leadership")
		}
		target, err := tx.Membership(ctx, crewID, newLeaderID)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && !target.Active) {
			return apperr.Conflict(apperr.CodeNotMember, "new leader must be an active member")
		}
		if err != nil {
			return apperr.Internal("load membership", err)
		}
		return translate(tx.SetLeader(ctx, crewID, newLeaderID), "crew not found")
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "leadership transferred", "crew_id", crewID, "actor", actorID, "leader", newLeaderID)
	return nil
}

// withFreshCode runs insert with generated codes until one is accepted by the
// store. The existence check is only a fast path; ErrCodeTaken from the
// store's unique constraint triggers another attempt.
func (s *Service) withFreshCode(ctx context.Context, insert func(code string) error) error {
	for attempt := 0; attempt < maxInsertAttempts; attempt++ {
		code, err := s.codes.GenerateUnique(ctx, s.store.CodeExists)
		if err != nil {
			return err
		}
		err = insert(code)
		if errors.Is(err, storage.ErrCodeTaken) {
			s.logger.WarnContext(ctx, "invite code collided on insert", "attempt", attempt+1)
			continue
		}
		if err != nil {
			return translate(err, "crew not found")
		}
		return nil
	}
	return invitecode.Exhausted(maxInsertAttempts)
}

func (s *Service) requireManager(ctx context.Context, crewID int64, actorID string) error {
	if _, err := s.Get(ctx, crewID); err != nil {
		return err
	}
	role, err := s.RoleOf(ctx, crewID, actorID)
	if err != nil {
		return err
	}
	if !role.CanManage() {
		return apperr.Forbidden(apperr.CodeForbidden, "crew leader or admin required")
	}
	return nil
}

func (s *Service) requireProfile(ctx context.Context, userID string) error {
	p, err := s.store.Profile(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return apperr.Internal("load profile", err)
	}
	if err != nil || !p.Complete() {
		return apperr.New(apperr.KindOnboardingRequired, apperr.CodeOnboardingRequired,
			"complete your profile before joining a crew")
	}
	return nil
}

// translate maps storage sentinels to domain errors and passes domain errors
// through untouched.
func translate(err error, notFound string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound(notFound)
	}
	return apperr.Internal("crew store", err)
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}
