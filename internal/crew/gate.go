package crew

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"climbcrew/internal/apperr"
	"climbcrew/internal/invitecode"
	"climbcrew/internal/storage"
)

// JoinPublic admits userID into a public crew.
//
// Checks run in order and stop at the first failure: onboarding, visibility,
// member cap, existing membership.
func (s *Service) JoinPublic(ctx context.Context, crewID int64, userID string) (Membership, error) {
	ctx, span := tracer.Start(ctx, "crew.JoinPublic", trace.WithAttributes(attribute.Int64("crew.id", crewID)))
	defer span.End()

	if err := s.requireProfile(ctx, userID); err != nil {
		return Membership{}, err
	}

	var joined Membership
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		c, err := tx.LockCrew(ctx, crewID)
		if err != nil {
			return translate(err, "crew not found")
		}
		if c.Visibility != Public {
			return apperr.Forbidden(apperr.CodeCrewPrivate, "this crew can only be joined with an invite code")
		}
		joined, err = s.admit(ctx, tx, c, userID)
		return err
	})
	if err != nil {
		return Membership{}, err
	}

	s.logger.InfoContext(ctx, "crew joined", "crew_id", crewID, "actor", userID, "via", "public")
	return joined, nil
}

// JoinByInvite admits userID into the crew the code belongs to. The code may
// be an Invite (with optional use cap and expiry) or the crew's own
// shareable code. Use-count increment and membership insert commit together.
func (s *Service) JoinByInvite(ctx context.Context, code, userID string) (Membership, error) {
	ctx, span := tracer.Start(ctx, "crew.JoinByInvite")
	defer span.End()

	if err := s.requireProfile(ctx, userID); err != nil {
		return Membership{}, err
	}
	code = invitecode.Normalize(code)
	if !invitecode.Valid(code) {
		return Membership{}, apperr.Validation(apperr.CodeBadCode, "invite code must be 6 letters or digits")
	}

	var joined Membership
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		inv, isInvite, err := s.lockInvite(ctx, tx, code)
		if err != nil {
			return err
		}

		var c Crew
		if isInvite {
			if inv.Expired(s.now()) {
				return apperr.Conflict(apperr.CodeInviteExpired, "invite has expired")
			}
			if inv.Exhausted() {
				return apperr.Conflict(apperr.CodeInviteExhausted, "invite has no uses left")
			}
			c, err = tx.LockCrew(ctx, inv.CrewID)
		} else {
			c, err = tx.LockCrewByCode(ctx, code)
		}
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.New(apperr.KindNotFound, apperr.CodeInviteInvalid, "invite code not found")
		}
		if err != nil {
			return apperr.Internal("lock crew", err)
		}

		joined, err = s.admit(ctx, tx, c, userID)
		if err != nil {
			return err
		}
		if isInvite {
			if err := tx.IncrementInviteUses(ctx, code); err != nil {
				return apperr.Internal("count invite use", err)
			}
		}
		return nil
	})
	if err != nil {
		return Membership{}, err
	}

	s.logger.InfoContext(ctx, "crew joined", "crew_id", joined.CrewID, "actor", userID, "via", "invite")
	return joined, nil
}

func (s *Service) lockInvite(ctx context.Context, tx Tx, code string) (Invite, bool, error) {
	inv, err := tx.LockInvite(ctx, code)
	switch {
	case err == nil:
		return inv, true, nil
	case errors.Is(err, storage.ErrNotFound):
		return Invite{}, false, nil
	default:
		return Invite{}, false, apperr.Internal("lock invite", err)
	}
}

// admit applies the member-cap and duplicate checks and writes the
// membership. The crew row must already be locked by tx.
func (s *Service) admit(ctx context.Context, tx Tx, c Crew, userID string) (Membership, error) {
	active, err := tx.CountActiveMembers(ctx, c.ID)
	if err != nil {
		return Membership{}, apperr.Internal("count members", err)
	}
	if c.Full(active) {
		return Membership{}, apperr.WithMetadata(apperr.KindConflict, apperr.CodeCrewFull, "crew is full",
			map[string]string{"crew_id": idString(c.ID)})
	}

	existing, err := tx.Membership(ctx, c.ID, userID)
	switch {
	case err == nil && existing.Active:
		return Membership{}, apperr.Conflict(apperr.CodeAlreadyMember, "already a member of this crew")
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return Membership{}, apperr.Internal("load membership", err)
	}

	m := Membership{
		CrewID:   c.ID,
		UserID:   userID,
		Role:     RoleMember,
		JoinedAt: s.now().UTC(),
		Active:   true,
	}
	if err := tx.SaveMembership(ctx, m); err != nil {
		return Membership{}, apperr.Internal("save membership", err)
	}
	return m, nil
}

// Leave deactivates the membership. The leader must transfer leadership
// first.
func (s *Service) Leave(ctx context.Context, crewID int64, userID string) error {
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.LockCrew(ctx, crewID); err != nil {
			return translate(err, "crew not found")
		}
		m, err := tx.Membership(ctx, crewID, userID)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && !m.Active) {
			return apperr.New(apperr.KindNotFound, apperr.CodeNotMember, "not a member of this crew")
		}
		if err != nil {
			return apperr.Internal("load membership", err)
		}
		if m.Role == RoleLeader {
			return apperr.Conflict(apperr.CodeLeaderCannotLeave, "transfer leadership before leaving")
		}
		m.Active = false
		if err := tx.SaveMembership(ctx, m); err != nil {
			return apperr.Internal("save membership", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "crew left", "crew_id", crewID, "actor", userID)
	return nil
}
