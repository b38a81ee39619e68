package memory

import (
	"context"
	"fmt"
	"sort"

	"climbcrew/internal/crew"
	"climbcrew/internal/storage"
)

func (s *state) codeTaken(code string) bool {
	if _, ok := s.invites[code]; ok {
		return true
	}
	for _, c := range s.crews {
		if c.InviteCode != "" && c.InviteCode == code {
			return true
		}
	}
	return false
}

func (s *Store) CodeExists(ctx context.Context, code string) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	var taken bool
	s.read(func(st *state) { taken = st.codeTaken(code) })
	return taken, nil
}

func (s *Store) InsertCrew(ctx context.Context, c crew.Crew) (crew.Crew, error) {
	if err := ctxErr(ctx); err != nil {
		return crew.Crew{}, err
	}
	err := s.commit(func(st *state) error {
		if c.InviteCode != "" && st.codeTaken(c.InviteCode) {
			return storage.ErrCodeTaken
		}
		c.ID = st.nextID()
		st.crews[c.ID] = c
		st.members[memberKey{c.ID, c.LeaderID}] = crew.Membership{
			CrewID:   c.ID,
			UserID:   c.LeaderID,
			Role:     crew.RoleLeader,
			JoinedAt: c.CreatedAt,
			Active:   true,
		}
		return nil
	})
	return c, err
}

func (s *Store) CrewByID(ctx context.Context, id int64) (crew.Crew, error) {
	if err := ctxErr(ctx); err != nil {
		return crew.Crew{}, err
	}
	var (
		c  crew.Crew
		ok bool
	)
	s.read(func(st *state) { c, ok = st.crews[id] })
	if !ok {
		return crew.Crew{}, storage.ErrNotFound
	}
	return c, nil
}

func (s *Store) SetCrewCode(ctx context.Context, crewID int64, code string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return s.commit(func(st *state) error {
		c, ok := st.crews[crewID]
		if !ok {
			return storage.ErrNotFound
		}
		if st.codeTaken(code) {
			return storage.ErrCodeTaken
		}
		c.InviteCode = code
		st.crews[crewID] = c
		return nil
	})
}

func (s *Store) InsertInvite(ctx context.Context, inv crew.Invite) (crew.Invite, error) {
	if err := ctxErr(ctx); err != nil {
		return crew.Invite{}, err
	}
	err := s.commit(func(st *state) error {
		if _, ok := st.crews[inv.CrewID]; !ok {
			return storage.ErrNotFound
		}
		if st.codeTaken(inv.Code) {
			return storage.ErrCodeTaken
		}
		st.invites[inv.Code] = inv
		return nil
	})
	return inv, err
}

func (s *Store) Profile(ctx context.Context, userID string) (crew.Profile, error) {
	if err := ctxErr(ctx); err != nil {
		return crew.Profile{}, err
	}
	var (
		p  crew.Profile
		ok bool
	)
	s.read(func(st *state) { p, ok = st.profiles[userID] })
	if !ok {
		return crew.Profile{}, storage.ErrNotFound
	}
	return p, nil
}

func (s *Store) UpsertProfile(ctx context.Context, p crew.Profile) (crew.Profile, error) {
	if err := ctxErr(ctx); err != nil {
		return crew.Profile{}, err
	}
	err := s.commit(func(st *state) error {
		st.profiles[p.UserID] = p
		return nil
	})
	return p, err
}

func (s *Store) ActiveMembers(ctx context.Context, crewID int64) ([]crew.Membership, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var out []crew.Membership
	s.read(func(st *state) {
		for k, m := range st.members {
			if k.crewID == crewID && m.Active {
				out = append(out, m)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (s *Store) Membership(ctx context.Context, crewID int64, userID string) (crew.Membership, error) {
	if err := ctxErr(ctx); err != nil {
		return crew.Membership{}, err
	}
	var (
		m  crew.Membership
		ok bool
	)
	s.read(func(st *state) { m, ok = st.members[memberKey{crewID, userID}] })
	if !ok {
		return crew.Membership{}, storage.ErrNotFound
	}
	return m, nil
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx crew.Tx) error) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return s.commit(func(st *state) error {
		return fn(ctx, crewTx{st: st})
	})
}

type crewTx struct {
	st *state
}

func (t crewTx) LockCrew(_ context.Context, id int64) (crew.Crew, error) {
	c, ok := t.st.crews[id]
	if !ok {
		return crew.Crew{}, storage.ErrNotFound
	}
	return c, nil
}

func (t crewTx) LockCrewByCode(_ context.Context, code string) (crew.Crew, error) {
	for _, c := range t.st.crews {
		if c.InviteCode != "" && c.InviteCode == code {
			return c, nil
		}
	}
	return crew.Crew{}, storage.ErrNotFound
}

func (t crewTx) LockInvite(_ context.Context, code string) (crew.Invite, error) {
	inv, ok := t.st.invites[code]
	if !ok {
		return crew.Invite{}, storage.ErrNotFound
	}
	return inv, nil
}

func (t crewTx) CountActiveMembers(_ context.Context, crewID int64) (int, error) {
	n := 0
	for k, m := range t.st.members {
		if k.crewID == crewID && m.Active {
			n++
		}
	}
	return n, nil
}

func (t crewTx) Membership(_ context.Context, crewID int64, userID string) (crew.Membership, error) {
	m, ok := t.st.members[memberKey{crewID, userID}]
	if !ok {
		return crew.Membership{}, storage.ErrNotFound
	}
	return m, nil
}

func (t crewTx) SaveMembership(_ context.Context, m crew.Membership) error {
	if _, ok := t.st.crews[m.CrewID]; !ok {
		return storage.ErrNotFound
	}
	t.st.members[memberKey{m.CrewID, m.UserID}] = m
	return nil
}

func (t crewTx) IncrementInviteUses(_ context.Context, code string) error {
	inv, ok := t.st.invites[code]
	if !ok {
		return storage.ErrNotFound
	}
	inv.Uses++
	if inv.MaxUses > 0 && inv.Uses > inv.MaxUses {
		return fmt.Errorf("memory: invite %s would exceed max uses", code)
	}
	t.st.invites[code] = inv
	return nil
}

func (t crewTx) SetLeader(_ context.Context, crewID int64, userID string) error {
	c, ok := t.st.crews[crewID]
	if !ok {
		return storage.ErrNotFound
	}
	if old, ok := t.st.members[memberKey{crewID, c.LeaderID}]; ok {
		old.Role = crew.RoleAdmin
		t.st.members[memberKey{crewID, c.LeaderID}] = old
	}
	next, ok := t.st.members[memberKey{crewID, userID}]
	if !ok {
		return storage.ErrNotFound
	}
	next.Role = crew.RoleLeader
	t.st.members[memberKey{crewID, userID}] = next
	c.LeaderID = userID
	t.st.crews[crewID] = c
	return nil
}

// Invite returns an invite by code, for inspection in tests and tools.
func (s *Store) Invite(ctx context.Context, code string) (crew.Invite, error) {
	if err := ctxErr(ctx); err != nil {
		return crew.Invite{}, err
	}
	var (
		inv crew.Invite
		ok  bool
	)
	s.read(func(st *state) { inv, ok = st.invites[code] })
	if !ok {
		return crew.Invite{}, storage.ErrNotFound
	}
	return inv, nil
}
