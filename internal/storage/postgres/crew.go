package postgres

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"climbcrew/internal/crew"
	"climbcrew/internal/storage"
)

var (
	crewColumns       = []string{"id", "name", "leader_id", "visibility", "invite_code", "max_members", "created_at"}
	membershipColumns = []string{"crew_id", "user_id", "role", "joined_at", "active"}
	inviteColumns     = []string{"code", "crew_id", "created_by", "max_uses", "expires_at", "uses", "created_at"}
)

func scanCrew(row pgx.Row) (crew.Crew, error) {
	var (
		c          crew.Crew
		visibility string
	)
	err := row.Scan(&c.ID, &c.Name, &c.LeaderID, &visibility, &c.InviteCode, &c.MaxMembers, &c.CreatedAt)
	c.Visibility = crew.Visibility(visibility)
	return c, mapErr(err)
}

func scanMembership(row pgx.Row) (crew.Membership, error) {
	var (
		m    crew.Membership
		role string
	)
	err := row.Scan(&m.CrewID, &m.UserID, &role, &m.JoinedAt, &m.Active)
	m.Role = crew.Role(role)
	return m, mapErr(err)
}

func scanInvite(row pgx.Row) (crew.Invite, error) {
	var inv crew.Invite
	err := row.Scan(&inv.Code, &inv.CrewID, &inv.CreatedBy, &inv.MaxUses, &inv.ExpiresAt, &inv.Uses, &inv.CreatedAt)
	return inv, mapErr(err)
}

func reserveCode(ctx context.Context, db querier, code, kind string) error {
	_, err := qExec(ctx, db, psql.Insert("invite_codes").
		Columns("code", "kind").
		Values(code, kind))
	return mapErr(err)
}

func (s *Store) CodeExists(ctx context.Context, code string) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var exists bool
	err := qRow(ctx, s.pool, psql.Select("1").
		Prefix("SELECT EXISTS(").
		From("invite_codes").
		Where(sq.Eq{"code": code}).
		Suffix(")")).Scan(&exists)
	return exists, err
}

func (s *Store) InsertCrew(ctx context.Context, c crew.Crew) (crew.Crew, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var out crew.Crew
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := reserveCode(ctx, tx, c.InviteCode, "crew"); err != nil {
			return err
		}
		var err error
		out, err = scanCrew(qRow(ctx, tx, psql.Insert("crews").
			Columns("name", "leader_id", "visibility", "invite_code", "max_members", "created_at").
			Values(c.Name, c.LeaderID, string(c.Visibility), c.InviteCode, c.MaxMembers, c.CreatedAt).
			Suffix("RETURNING "+joinColumns(crewColumns))))
		if err != nil {
			return err
		}
		_, err = qExec(ctx, tx, psql.Insert("memberships").
			Columns(membershipColumns...).
			Values(out.ID, out.LeaderID, string(crew.RoleLeader), out.CreatedAt, true))
		return mapErr(err)
	})
	if err != nil {
		return crew.Crew{}, err
	}
	return out, nil
}

func (s *Store) CrewByID(ctx context.Context, id int64) (crew.Crew, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return scanCrew(qRow(ctx, s.pool, psql.Select(crewColumns...).From("crews").Where(sq.Eq{"id": id})))
}

func (s *Store) SetCrewCode(ctx context.Context, crewID int64, code string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	return inTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := reserveCode(ctx, tx, code, "crew"); err != nil {
			return err
		}
		tag, err := qExec(ctx, tx, psql.Update("crews").
			Set("invite_code", code).
			Where(sq.Eq{"id": crewID}))
		if err != nil {
			return mapErr(err)
		}
		if tag.RowsAffected() == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}

func (s *Store) InsertInvite(ctx context.Context, inv crew.Invite) (crew.Invite, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var out crew.Invite
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := reserveCode(ctx, tx, inv.Code, "invite"); err != nil {
			return err
		}
		var err error
		out, err = scanInvite(qRow(ctx, tx, psql.Insert("invites").
			Columns(inviteColumns...).
			Values(inv.Code, inv.CrewID, inv.CreatedBy, inv.MaxUses, inv.ExpiresAt, 0, inv.CreatedAt).
			Suffix("RETURNING "+joinColumns(inviteColumns))))
		return err
	})
	if err != nil {
		return crew.Invite{}, err
	}
	return out, nil
}

func (s *Store) Profile(ctx context.Context, userID string) (crew.Profile, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var p crew.Profile
	err := qRow(ctx, s.pool, psql.Select("user_id", "nickname", "onboarded_at").
		From("profiles").
		Where(sq.Eq{"user_id": userID})).Scan(&p.UserID, &p.Nickname, &p.OnboardedAt)
	return p, mapErr(err)
}

func (s *Store) UpsertProfile(ctx context.Context, p crew.Profile) (crew.Profile, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := qExec(ctx, s.pool, psql.Insert("profiles").
		Columns("user_id", "nickname", "onboarded_at").
		Values(p.UserID, p.Nickname, p.OnboardedAt).
		Suffix("ON CONFLICT (user_id) DO UPDATE SET nickname = EXCLUDED.nickname, onboarded_at = EXCLUDED.onboarded_at"))
	if err != nil {
		return crew.Profile{}, mapErr(err)
	}
	return p, nil
}

func (s *Store) ActiveMembers(ctx context.Context, crewID int64) ([]crew.Membership, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := qQuery(ctx, s.pool, psql.Select(membershipColumns...).
		From("memberships").
		Where(sq.Eq{"crew_id": crewID, "active": true}).
		OrderBy("joined_at", "user_id"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []crew.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) Membership(ctx context.Context, crewID int64, userID string) (crew.Membership, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return membership(ctx, s.pool, crewID, userID)
}

func membership(ctx context.Context, db querier, crewID int64, userID string) (crew.Membership, error) {
	return scanMembership(qRow(ctx, db, psql.Select(membershipColumns...).
		From("memberships").
		Where(sq.Eq{"crew_id": crewID, "user_id": userID})))
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx crew.Tx) error) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return inTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, crewTx{tx: tx})
	})
}

type crewTx struct {
	tx pgx.Tx
}

func (t crewTx) LockCrew(ctx context.Context, id int64) (crew.Crew, error) {
	return scanCrew(qRow(ctx, t.tx, psql.Select(crewColumns...).
		From("crews").
		Where(sq.Eq{"id": id}).
		Suffix("FOR UPDATE")))
}

func (t crewTx) LockCrewByCode(ctx context.Context, code string) (crew.Crew, error) {
	return scanCrew(qRow(ctx, t.tx, psql.Select(crewColumns...).
		From("crews").
		Where(sq.Eq{"invite_code": code}).
		Suffix("FOR UPDATE")))
}

func (t crewTx) LockInvite(ctx context.Context, code string) (crew.Invite, error) {
	return scanInvite(qRow(ctx, t.tx, psql.Select(inviteColumns...).
		From("invites").
		Where(sq.Eq{"code": code}).
		Suffix("FOR UPDATE")))
}

func (t crewTx) CountActiveMembers(ctx context.Context, crewID int64) (int, error) {
	var n int
	err := qRow(ctx, t.tx, psql.Select("COUNT(*)").
		From("memberships").
		Where(sq.Eq{"crew_id": crewID, "active": true})).Scan(&n)
	return n, mapErr(err)
}

func (t crewTx) Membership(ctx context.Context, crewID int64, userID string) (crew.Membership, error) {
	return membership(ctx, t.tx, crewID, userID)
}

func (t crewTx) SaveMembership(ctx context.Context, m crew.Membership) error {
	_, err := qExec(ctx, t.tx, psql.Insert("memberships").
		Columns(membershipColumns...).
		Values(m.CrewID, m.UserID, string(m.Role), m.JoinedAt, m.Active).
		Suffix("ON CONFLICT (crew_id, user_id) DO UPDATE SET role = EXCLUDED.role, joined_at = EXCLUDED.joined_at, active = EXCLUDED.active"))
	return mapErr(err)
}

func (t crewTx) IncrementInviteUses(ctx context.Context, code string) error {
	tag, err := qExec(ctx, t.tx, psql.Update("invites").
		Set("uses", sq.Expr("uses + 1")).
		Where(sq.Eq{"code": code}))
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SetLeader demotes the current leader to admin before promoting, so the
// one-leader index never sees two.
func (t crewTx) SetLeader(ctx context.Context, crewID int64, userID string) error {
	if _, err := qExec(ctx, t.tx, psql.Update("memberships").
		Set("role", string(crew.RoleAdmin)).
		Where(sq.Eq{"crew_id": crewID, "role": string(crew.RoleLeader)})); err != nil {
		return mapErr(err)
	}
	tag, err := qExec(ctx, t.tx, psql.Update("memberships").
		Set("role", string(crew.RoleLeader)).
		Where(sq.Eq{"crew_id": crewID, "user_id": userID}))
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	_, err = qExec(ctx, t.tx, psql.Update("crews").
		Set("leader_id", userID).
		Where(sq.Eq{"id": crewID}))
	return mapErr(err)
}
