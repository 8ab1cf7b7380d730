// Package redistore is a Redis-backed gamestore.Store. Rows live as JSON
// values, secondary indexes as sets, and every read-modify-write runs under
// WATCH so a raced key aborts the transaction instead of overwriting it.
package redistore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cheddarbot/gamestore/internal/domain"
	"github.com/cheddarbot/gamestore/internal/gamestore"
)

const watchAttempts = 5

type Store struct {
	rdb    *redis.Client
	logger *zap.Logger
}

var _ gamestore.Store = (*Store)(nil)

func New(redisURL string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{rdb: rdb, logger: logger}, nil
}

// NewWithClient wraps an existing client. Used by tests.
func NewWithClient(rdb *redis.Client, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{rdb: rdb, logger: logger}
}

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

// Ping reports connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	pass, _ := u.User.Password()
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}

// key layout
func keyGroup(g int64) string             { return fmt.Sprintf("grp:%d", g) }
func keyGroupChallenges(g int64) string   { return fmt.Sprintf("grp:%d:challenges", g) }
func keyGroupGames(g int64) string        { return fmt.Sprintf("grp:%d:games", g) }
func keyChallenge(g, cr, cd int64) string { return fmt.Sprintf("ch:%d:%d:%d", g, cr, cd) }
func keyGame(g, w, b int64) string        { return fmt.Sprintf("game:%d:%d:%d", g, w, b) }
func keyPlayerGames(p int64) string       { return fmt.Sprintf("player:%d:games", p) }
func keyArchive(id string) string         { return "archive:" + id }
func keyPlayerFinished(p int64) string    { return fmt.Sprintf("player:%d:finished", p) }

// challengeRow and gameRow are the JSON wire shapes.
type challengeRow struct {
	GroupID    int64     `json:"group_id"`
	Challenger int64     `json:"challenger"`
	Challenged int64     `json:"challenged"`
	CreatedAt  time.Time `json:"created_at"`
}

type gameRow struct {
	GroupID   int64     `json:"group_id"`
	WhiteID   int64     `json:"white_id"`
	BlackID   int64     `json:"black_id"`
	Board     string    `json:"board"`
	Turn      bool      `json:"turn"`
	PawnMove  *string   `json:"pawn_move,omitempty"`
	Draw      *bool     `json:"draw,omitempty"`
	Moved     string    `json:"moved"`
	WhiteName string    `json:"white_name,omitempty"`
	BlackName string    `json:"black_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *gameRow) toDomain() *domain.Game {
	g := &domain.Game{
		GroupID:   r.GroupID,
		WhiteID:   r.WhiteID,
		BlackID:   r.BlackID,
		Board:     r.Board,
		Turn:      r.Turn,
		Moved:     r.Moved,
		WhiteName: r.WhiteName,
		BlackName: r.BlackName,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.PawnMove != nil {
		sq := *r.PawnMove
		g.PawnMove = &sq
	}
	if r.Draw != nil {
		v := *r.Draw
		g.Draw = &v
	}
	return g
}

// watch runs fn under WATCH of keys, retrying when a watched key was touched
// by a concurrent writer. Domain errors returned by fn abort immediately.
func (s *Store) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	var err error
	for i := 0; i < watchAttempts; i++ {
		err = s.rdb.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

// stamp returns now, nudged forward when the row's previous stamp is not
// strictly older.
func stamp(prev time.Time) time.Time {
	t := time.Now().UTC()
	if !t.After(prev) {
		t = prev.Add(time.Nanosecond)
	}
	return t
}

func loadJSON[T any](ctx context.Context, tx *redis.Tx, key string) (*T, error) {
	raw, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &v, nil
}

func (s *Store) EnsureGroup(ctx context.Context, groupID int64) error {
	return s.rdb.Set(ctx, keyGroup(groupID), "1", 0).Err()
}

func (s *Store) DeleteGroup(ctx context.Context, groupID int64) error {
	return s.watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, keyGroup(groupID)).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return domain.ErrNotFound
		}

		chMembers, err := tx.SMembers(ctx, keyGroupChallenges(groupID)).Result()
		if err != nil {
			return err
		}
		gameMembers, err := tx.SMembers(ctx, keyGroupGames(groupID)).Result()
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, m := range chMembers {
				pipe.Del(ctx, "ch:"+strconv.FormatInt(groupID, 10)+":"+m)
			}
			for _, m := range gameMembers {
				w, b, ok := splitPair(m)
				if !ok {
					continue
				}
				pipe.Del(ctx, keyGame(groupID, w, b))
				pipe.SRem(ctx, keyPlayerGames(w), gameMember(groupID, w, b))
				pipe.SRem(ctx, keyPlayerGames(b), gameMember(groupID, w, b))
			}
			pipe.Del(ctx, keyGroupChallenges(groupID), keyGroupGames(groupID), keyGroup(groupID))
			return nil
		})
		return err
	}, keyGroup(groupID), keyGroupChallenges(groupID), keyGroupGames(groupID))
}

func pairMember(a, b int64) string { return fmt.Sprintf("%d:%d", a, b) }

func gameMember(g, w, b int64) string { return fmt.Sprintf("%d:%d:%d", g, w, b) }

func splitPair(m string) (int64, int64, bool) {
	parts := strings.Split(m, ":")
	if len(parts) != 2 {
		return 0, 0, false
	}
	a, err1 := strconv.ParseInt(parts[0], 10, 64)
	b, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return a, b, true
}

func splitTriple(m string) (int64, int64, int64, bool) {
	parts := strings.Split(m, ":")
	if len(parts) != 3 {
		return 0, 0, 0, false
	}
	g, err1 := strconv.ParseInt(parts[0], 10, 64)
	w, err2 := strconv.ParseInt(parts[1], 10, 64)
	b, err3 := strconv.ParseInt(parts[2], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, 0, 0, false
	}
	return g, w, b, true
}

func (s *Store) CreateChallenge(ctx context.Context, groupID, challenger, challenged int64) error {
	chKey := keyChallenge(groupID, challenger, challenged)
	gKey := keyGame(groupID, challenger, challenged)
	return s.watch(ctx, func(tx *redis.Tx) error {
		grp, err := tx.Exists(ctx, keyGroup(groupID)).Result()
		if err != nil {
			return err
		}
		if grp == 0 {
			return domain.ErrUnknownGroup
		}
		n, err := tx.Exists(ctx, chKey, gKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrDuplicateChallenge
		}
		raw, err := json.Marshal(challengeRow{
			GroupID:    groupID,
			Challenger: challenger,
			Challenged: challenged,
			CreatedAt:  time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, chKey, raw, 0)
			pipe.SAdd(ctx, keyGroupChallenges(groupID), pairMember(challenger, challenged))
			return nil
		})
		return err
	}, chKey, gKey, keyGroup(groupID))
}

func (s *Store) WithdrawChallenge(ctx context.Context, groupID, challenger, challenged int64) error {
	chKey := keyChallenge(groupID, challenger, challenged)
	return s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, chKey).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, chKey)
			pipe.SRem(ctx, keyGroupChallenges(groupID), pairMember(challenger, challenged))
			return nil
		})
		return err
	}, chKey)
}

func (s *Store) AcceptChallenge(ctx context.Context, groupID, challenger, challenged int64, seed domain.GameSeed) (*domain.Game, error) {
	if !domain.ValidMoved(seed.Moved) {
		return nil, domain.ErrConstraintViolation
	}
	chKey := keyChallenge(groupID, challenger, challenged)
	gKey := keyGame(groupID, seed.WhiteID, seed.BlackID)

	var out *domain.Game
	err := s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, chKey).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrNotFound
		}
		n, err = tx.Exists(ctx, gKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrDuplicateGame
		}

		now := time.Now().UTC()
		row := gameRow{
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
		raw, err := json.Marshal(row)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, chKey)
			pipe.SRem(ctx, keyGroupChallenges(groupID), pairMember(challenger, challenged))
			pipe.Set(ctx, gKey, raw, 0)
			pipe.SAdd(ctx, keyGroupGames(groupID), pairMember(seed.WhiteID, seed.BlackID))
			pipe.SAdd(ctx, keyPlayerGames(seed.WhiteID), gameMember(groupID, seed.WhiteID, seed.BlackID))
			pipe.SAdd(ctx, keyPlayerGames(seed.BlackID), gameMember(groupID, seed.WhiteID, seed.BlackID))
			return nil
		})
		if err != nil {
			return err
		}
		out = row.toDomain()
		return nil
	}, chKey, gKey)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListChallenges(ctx context.Context, groupID, playerID int64) ([]*domain.Challenge, error) {
	members, err := s.rdb.SMembers(ctx, keyGroupChallenges(groupID)).Result()
	if err != nil {
		return nil, err
	}
	out := []*domain.Challenge{}
	for _, m := range members {
		cr, cd, ok := splitPair(m)
		if !ok || (cr != playerID && cd != playerID) {
			continue
		}
		raw, err := s.rdb.Get(ctx, keyChallenge(groupID, cr, cd)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var row challengeRow
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, fmt.Errorf("decode challenge: %w", err)
		}
		out = append(out, &domain.Challenge{
			GroupID:    row.GroupID,
			Challenger: row.Challenger,
			Challenged: row.Challenged,
			CreatedAt:  row.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CreateGame(ctx context.Context, groupID int64, seed domain.GameSeed) (*domain.Game, error) {
	if !domain.ValidMoved(seed.Moved) {
		return nil, domain.ErrConstraintViolation
	}
	gKey := keyGame(groupID, seed.WhiteID, seed.BlackID)

	var out *domain.Game
	err := s.watch(ctx, func(tx *redis.Tx) error {
		grp, err := tx.Exists(ctx, keyGroup(groupID)).Result()
		if err != nil {
			return err
		}
		if grp == 0 {
			return domain.ErrUnknownGroup
		}
		n, err := tx.Exists(ctx, gKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrDuplicateGame
		}
		now := time.Now().UTC()
		row := gameRow{
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
		raw, err := json.Marshal(row)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, gKey, raw, 0)
			pipe.SAdd(ctx, keyGroupGames(groupID), pairMember(seed.WhiteID, seed.BlackID))
			pipe.SAdd(ctx, keyPlayerGames(seed.WhiteID), gameMember(groupID, seed.WhiteID, seed.BlackID))
			pipe.SAdd(ctx, keyPlayerGames(seed.BlackID), gameMember(groupID, seed.WhiteID, seed.BlackID))
			return nil
		})
		if err != nil {
			return err
		}
		out = row.toDomain()
		return nil
	}, gKey, keyGroup(groupID))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetGame(ctx context.Context, groupID, whiteID, blackID int64) (*domain.Game, error) {
	raw, err := s.rdb.Get(ctx, keyGame(groupID, whiteID, blackID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var row gameRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("decode game: %w", err)
	}
	return row.toDomain(), nil
}

// mutateGame applies fn to the current row under WATCH and writes the result
// back with a fresh UpdatedAt.
func (s *Store) mutateGame(ctx context.Context, groupID, whiteID, blackID int64, fn func(*gameRow) error) (*domain.Game, error) {
	gKey := keyGame(groupID, whiteID, blackID)
	var out *domain.Game
	err := s.watch(ctx, func(tx *redis.Tx) error {
		row, err := loadJSON[gameRow](ctx, tx, gKey)
		if err != nil {
			return err
		}
		if row == nil {
			return domain.ErrNotFound
		}
		if err := fn(row); err != nil {
			return err
		}
		row.UpdatedAt = stamp(row.UpdatedAt)
		raw, err := json.Marshal(row)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, gKey, raw, 0)
			return nil
		})
		if err != nil {
			return err
		}
		out = row.toDomain()
		return nil
	}, gKey)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ApplyMove(ctx context.Context, groupID, whiteID, blackID int64, upd domain.MoveUpdate) (*domain.Game, error) {
	if err := upd.Validate(); err != nil {
		return nil, err
	}
	return s.mutateGame(ctx, groupID, whiteID, blackID, func(row *gameRow) error {
		if row.Turn != upd.FromTurn {
			return domain.ErrTurnConflict
		}
		row.Board = upd.Board
		row.Moved = upd.Moved
		if upd.PawnMove != nil {
			sq := *upd.PawnMove
			row.PawnMove = &sq
		} else {
			row.PawnMove = nil
		}
		row.Turn = !row.Turn
		if row.Draw != nil && !*row.Draw {
			row.Draw = nil
		}
		return nil
	})
}

func (s *Store) SetDraw(ctx context.Context, groupID, whiteID, blackID int64, accept bool) error {
	_, err := s.mutateGame(ctx, groupID, whiteID, blackID, func(row *gameRow) error {
		v := accept
		row.Draw = &v
		return nil
	})
	return err
}

func (s *Store) Rename(ctx context.Context, groupID, whiteID, blackID int64, color domain.Color, name string) error {
	_, err := s.mutateGame(ctx, groupID, whiteID, blackID, func(row *gameRow) error {
		switch color {
		case domain.White:
			row.WhiteName = name
		case domain.Black:
			row.BlackName = name
		default:
			return fmt.Errorf("unknown color %q", color)
		}
		return nil
	})
	return err
}

func (s *Store) DeleteGame(ctx context.Context, groupID, whiteID, blackID int64) error {
	gKey := keyGame(groupID, whiteID, blackID)
	return s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, gKey).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, gKey)
			pipe.SRem(ctx, keyGroupGames(groupID), pairMember(whiteID, blackID))
			pipe.SRem(ctx, keyPlayerGames(whiteID), gameMember(groupID, whiteID, blackID))
			pipe.SRem(ctx, keyPlayerGames(blackID), gameMember(groupID, whiteID, blackID))
			return nil
		})
		return err
	}, gKey)
}

func (s *Store) ListGamesByGroup(ctx context.Context, groupID int64) ([]*domain.Game, error) {
	members, err := s.rdb.SMembers(ctx, keyGroupGames(groupID)).Result()
	if err != nil {
		return nil, err
	}
	out := []*domain.Game{}
	for _, m := range members {
		w, b, ok := splitPair(m)
		if !ok {
			continue
		}
		g, err := s.GetGame(ctx, groupID, w, b)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	sortGames(out)
	return out, nil
}

func (s *Store) ListGamesByPlayer(ctx context.Context, playerID int64) ([]*domain.Game, error) {
	members, err := s.rdb.SMembers(ctx, keyPlayerGames(playerID)).Result()
	if err != nil {
		return nil, err
	}
	out := []*domain.Game{}
	for _, m := range members {
		grp, w, b, ok := splitTriple(m)
		if !ok {
			continue
		}
		g, err := s.GetGame(ctx, grp, w, b)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, g)
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
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	set, err := s.rdb.SetNX(ctx, keyArchive(rec.ID), raw, 0).Result()
	if err != nil {
		return err
	}
	if !set {
		return nil
	}
	pipe := s.rdb.Pipeline()
	pipe.LPush(ctx, keyPlayerFinished(rec.WhiteID), rec.ID)
	pipe.LPush(ctx, keyPlayerFinished(rec.BlackID), rec.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) RecentFinished(ctx context.Context, playerID int64, limit int) ([]*domain.FinishedGame, error) {
	if limit <= 0 {
		limit = 10
	}
	ids, err := s.rdb.LRange(ctx, keyPlayerFinished(playerID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, err
	}
	out := []*domain.FinishedGame{}
	for _, id := range ids {
		raw, err := s.rdb.Get(ctx, keyArchive(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var r domain.FinishedGame
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decode finished game: %w", err)
		}
		out = append(out, &r)
	}
	return out, nil
}
