// Package memstore is an in-memory gamestore.Store used by tests and by
// deployments that run without a database. One mutex guards every operation,
// which makes each call trivially atomic.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cheddarbot/gamestore/internal/domain"
	"github.com/cheddarbot/gamestore/internal/gamestore"
)

type chKey struct {
	group      int64
	challenger int64
	challenged int64
}

type gameKey struct {
	group int64
	white int64
	black int64
}

type Store struct {
	mu sync.RWMutex

	groups     map[int64]struct{}
	challenges map[chKey]*domain.Challenge
	games      map[gameKey]*domain.Game
	archive    map[string]*domain.FinishedGame

	// now is swappable in tests; stamps are forced strictly increasing.
	now      func() time.Time
	lastTick time.Time
}

var _ gamestore.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		groups:     make(map[int64]struct{}),
		challenges: make(map[chKey]*domain.Challenge),
		games:      make(map[gameKey]*domain.Game),
		archive:    make(map[string]*domain.FinishedGame),
		now:        time.Now,
	}
}

// SetClock replaces the time source. Test hook.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// stamp returns a strictly increasing timestamp. Callers hold s.mu.
func (s *Store) stamp() time.Time {
	t := s.now().UTC()
	if !t.After(s.lastTick) {
		t = s.lastTick.Add(time.Nanosecond)
	}
	s.lastTick = t
	return t
}

func (s *Store) EnsureGroup(ctx context.Context, groupID int64) error {
	s.mu.Lock()
	s.groups[groupID] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *Store) DeleteGroup(ctx context.Context, groupID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[groupID]; !ok {
		return domain.ErrNotFound
	}
	delete(s.groups, groupID)
	for k := range s.challenges {
		if k.group == groupID {
			delete(s.challenges, k)
		}
	}
	for k := range s.games {
		if k.group == groupID {
			delete(s.games, k)
		}
	}
	return nil
}

func (s *Store) CreateChallenge(ctx context.Context, groupID, challenger, challenged int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[groupID]; !ok {
		return domain.ErrUnknownGroup
	}
	key := chKey{groupID, challenger, challenged}
	if _, ok := s.challenges[key]; ok {
		return domain.ErrDuplicateChallenge
	}
	// an existing game for the ordered pair supersedes any challenge
	if _, ok := s.games[gameKey{groupID, challenger, challenged}]; ok {
		return domain.ErrDuplicateChallenge
	}
	s.challenges[key] = &domain.Challenge{
		GroupID:    groupID,
		Challenger: challenger,
		Challenged: challenged,
		CreatedAt:  s.stamp(),
	}
	return nil
}

func (s *Store) WithdrawChallenge(ctx context.Context, groupID, challenger, challenged int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := chKey{groupID, challenger, challenged}
	if _, ok := s.challenges[key]; !ok {
		return domain.ErrNotFound
	}
	delete(s.challenges, key)
	return nil
}

func (s *Store) AcceptChallenge(ctx context.Context, groupID, challenger, challenged int64, seed domain.GameSeed) (*domain.Game, error) {
	if !domain.ValidMoved(seed.Moved) {
		return nil, domain.ErrConstraintViolation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := chKey{groupID, challenger, challenged}
	if _, ok := s.challenges[key]; !ok {
		return nil, domain.ErrNotFound
	}
	gk := gameKey{groupID, seed.WhiteID, seed.BlackID}
	if _, ok := s.games[gk]; ok {
		return nil, domain.ErrDuplicateGame
	}

	delete(s.challenges, key)
	now := s.stamp()
	g := &domain.Game{
		GroupID:   groupID,
		WhiteID:   seed.WhiteID,
		BlackID:   seed.BlackID,
		Board:     seed.Board,
		Turn:      true,
		Moved:     seed.Moved,
		WhiteName: seed.WhiteName,
		BlackName: seed.BlackName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.games[gk] = g
	cp := *g
	return &cp, nil
}

func (s *Store) ListChallenges(ctx context.Context, groupID, playerID int64) ([]*domain.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*domain.Challenge{}
	for k, c := range s.challenges {
		if k.group != groupID {
			continue
		}
		if k.challenger != playerID && k.challenged != playerID {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CreateGame(ctx context.Context, groupID int64, seed domain.GameSeed) (*domain.Game, error) {
	if !domain.ValidMoved(seed.Moved) {
		return nil, domain.ErrConstraintViolation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[groupID]; !ok {
		return nil, domain.ErrUnknownGroup
	}
	gk := gameKey{groupID, seed.WhiteID, seed.BlackID}
	if _, ok := s.games[gk]; ok {
		return nil, domain.ErrDuplicateGame
	}
	now := s.stamp()
	g := &domain.Game{
		GroupID:   groupID,
		WhiteID:   seed.WhiteID,
		BlackID:   seed.BlackID,
		Board:     seed.Board,
		Turn:      true,
		Moved:     seed.Moved,
		WhiteName: seed.WhiteName,
		BlackName: seed.BlackName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.games[gk] = g
	cp := *g
	return &cp, nil
}

func (s *Store) GetGame(ctx context.Context, groupID, whiteID, blackID int64) (*domain.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.games[gameKey{groupID, whiteID, blackID}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (s *Store) ApplyMove(ctx context.Context, groupID, whiteID, blackID int64, upd domain.MoveUpdate) (*domain.Game, error) {
	if err := upd.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[gameKey{groupID, whiteID, blackID}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if g.Turn != upd.FromTurn {
		return nil, domain.ErrTurnConflict
	}
	g.Board = upd.Board
	g.Moved = upd.Moved
	if upd.PawnMove != nil {
		sq := *upd.PawnMove
		g.PawnMove = &sq
	} else {
		g.PawnMove = nil
	}
	g.Turn = !g.Turn
	if g.Draw != nil && !*g.Draw {
		g.Draw = nil
	}
	g.UpdatedAt = s.stamp()
	cp := *g
	return &cp, nil
}

func (s *Store) SetDraw(ctx context.Context, groupID, whiteID, blackID int64, accept bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[gameKey{groupID, whiteID, blackID}]
	if !ok {
		return domain.ErrNotFound
	}
	v := accept
	g.Draw = &v
	g.UpdatedAt = s.stamp()
	return nil
}

func (s *Store) Rename(ctx context.Context, groupID, whiteID, blackID int64, color domain.Color, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[gameKey{groupID, whiteID, blackID}]
	if !ok {
		return domain.ErrNotFound
	}
	switch color {
	case domain.White:
		g.WhiteName = name
	case domain.Black:
		g.BlackName = name
	default:
		return fmt.Errorf("unknown color %q", color)
	}
	g.UpdatedAt = s.stamp()
	return nil
}

func (s *Store) DeleteGame(ctx context.Context, groupID, whiteID, blackID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	gk := gameKey{groupID, whiteID, blackID}
	if _, ok := s.games[gk]; !ok {
		return domain.ErrNotFound
	}
	delete(s.games, gk)
	return nil
}

func (s *Store) ListGamesByGroup(ctx context.Context, groupID int64) ([]*domain.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*domain.Game{}
	for k, g := range s.games {
		if k.group != groupID {
			continue
		}
		cp := *g
		out = append(out, &cp)
	}
	sortGames(out)
	return out, nil
}

func (s *Store) ListGamesByPlayer(ctx context.Context, playerID int64) ([]*domain.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*domain.Game{}
	for k, g := range s.games {
		if k.white != playerID && k.black != playerID {
			continue
		}
		cp := *g
		out = append(out, &cp)
	}
	sortGames(out)
	return out, nil
}

func sortGames(gs []*domain.Game) {
	sort.Slice(gs, func(i, j int) bool {
		if gs[i].GroupID != gs[j].GroupID {
			return gs[i].GroupID < gs[j].GroupID
		}
		if gs[i].WhiteID != gs[j].WhiteID {
			return gs[i].WhiteID < gs[j].WhiteID
		}
		return gs[i].BlackID < gs[j].BlackID
	})
}

func (s *Store) ArchiveGame(ctx context.Context, rec *domain.FinishedGame) error {
	if rec == nil || rec.ID == "" {
		return domain.ErrConstraintViolation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.archive[rec.ID]; ok {
		return nil
	}
	cp := *rec
	s.archive[rec.ID] = &cp
	return nil
}

func (s *Store) RecentFinished(ctx context.Context, playerID int64, limit int) ([]*domain.FinishedGame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*domain.FinishedGame{}
	for _, r := range s.archive {
		if r.WhiteID != playerID && r.BlackID != playerID {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FinishedAt.After(out[j].FinishedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Close() error { return nil }
