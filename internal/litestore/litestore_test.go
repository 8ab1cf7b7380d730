package litestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cheddarbot/gamestore/internal/domain"
)

func newStore(t *testing.T, groups ...int64) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()
	for _, g := range groups {
		if err := s.EnsureGroup(ctx, g); err != nil {
			t.Fatalf("EnsureGroup(%d): %v", g, err)
		}
	}
	return s
}

func TestForeignKeyDSN(t *testing.T) {
	if got := fkDSN(":memory:"); got != ":memory:?_foreign_keys=on" {
		t.Fatalf("fkDSN = %q", got)
	}
	if got := fkDSN("chess.db?cache=shared"); got != "chess.db?cache=shared&_foreign_keys=on" {
		t.Fatalf("fkDSN with params = %q", got)
	}
	if got := fkDSN("chess.db?_foreign_keys=off"); got != "chess.db?_foreign_keys=off" {
		t.Fatalf("fkDSN must not override an explicit setting: %q", got)
	}
}

func TestChallengeLifecycle(t *testing.T) {
	s := newStore(t, 1)
	ctx := context.Background()

	if err := s.CreateChallenge(ctx, 1, 10, 20); err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	if err := s.CreateChallenge(ctx, 1, 10, 20); !errors.Is(err, domain.ErrDuplicateChallenge) {
		t.Fatalf("expected ErrDuplicateChallenge, got %v", err)
	}
	if err := s.CreateChallenge(ctx, 99, 10, 20); !errors.Is(err, domain.ErrUnknownGroup) {
		t.Fatalf("expected ErrUnknownGroup, got %v", err)
	}

	list, err := s.ListChallenges(ctx, 1, 20)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListChallenges: %v (len=%d)", err, len(list))
	}

	if err := s.WithdrawChallenge(ctx, 1, 10, 20); err != nil {
		t.Fatalf("WithdrawChallenge: %v", err)
	}
	if err := s.WithdrawChallenge(ctx, 1, 10, 20); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second withdraw, got %v", err)
	}
}

func TestChallengeBlockedByActiveGame(t *testing.T) {
	s := newStore(t, 1)
	ctx := context.Background()

	if _, err := s.CreateGame(ctx, 1, domain.NewSeed(10, 20, "", "")); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if err := s.CreateChallenge(ctx, 1, 10, 20); !errors.Is(err, domain.ErrDuplicateChallenge) {
		t.Fatalf("expected ErrDuplicateChallenge when game exists, got %v", err)
	}
}

func TestAcceptPromotesAtomically(t *testing.T) {
	s := newStore(t, 1)
	ctx := context.Background()

	if err := s.CreateChallenge(ctx, 1, 10, 20); err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	g, err := s.AcceptChallenge(ctx, 1, 10, 20, domain.NewSeed(10, 20, "Bob", "Phil"))
	if err != nil {
		t.Fatalf("AcceptChallenge: %v", err)
	}
	if !g.Turn || g.PawnMove != nil || g.Draw != nil {
		t.Fatalf("fresh game state wrong: %+v", g)
	}

	// challenge gone, exactly one game present
	list, _ := s.ListChallenges(ctx, 1, 10)
	if len(list) != 0 {
		t.Fatalf("challenge survived accept")
	}
	if _, err := s.GetGame(ctx, 1, 10, 20); err != nil {
		t.Fatalf("GetGame after accept: %v", err)
	}
	if _, err := s.AcceptChallenge(ctx, 1, 10, 20, domain.NewSeed(10, 20, "", "")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on re-accept, got %v", err)
	}
}

func TestAcceptRollsBackOnDuplicateGame(t *testing.T) {
	s := newStore(t, 1)
	ctx := context.Background()

	if _, err := s.CreateGame(ctx, 1, domain.NewSeed(10, 20, "", "")); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	// a challenge in the reverse order promoting onto the occupied key
	if err := s.CreateChallenge(ctx, 1, 20, 10); err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	if _, err := s.AcceptChallenge(ctx, 1, 20, 10, domain.NewSeed(10, 20, "", "")); !errors.Is(err, domain.ErrDuplicateGame) {
		t.Fatalf("expected ErrDuplicateGame, got %v", err)
	}
	// the failed accept must not have consumed the challenge
	if list, _ := s.ListChallenges(ctx, 1, 20); len(list) != 1 {
		t.Fatalf("challenge consumed by rolled-back accept")
	}
}

func TestDuplicateGameMapped(t *testing.T) {
	s := newStore(t, 1)
	ctx := context.Background()
	if _, err := s.CreateGame(ctx, 1, domain.NewSeed(10, 20, "", "")); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if _, err := s.CreateGame(ctx, 1, domain.NewSeed(10, 20, "", "")); !errors.Is(err, domain.ErrDuplicateGame) {
		t.Fatalf("expected ErrDuplicateGame, got %v", err)
	}
	if _, err := s.CreateGame(ctx, 99, domain.NewSeed(10, 20, "", "")); !errors.Is(err, domain.ErrUnknownGroup) {
		t.Fatalf("expected ErrUnknownGroup, got %v", err)
	}
}

func TestApplyMoveAlternatesTurn(t *testing.T) {
	s := newStore(t, 1)
	ctx := context.Background()

	g, err := s.CreateGame(ctx, 1, domain.NewSeed(10, 20, "", ""))
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	prev := g.UpdatedAt
	want := true
	for i := 0; i < 4; i++ {
		cur, err := s.GetGame(ctx, 1, 10, 20)
		if err != nil {
			t.Fatalf("GetGame: %v", err)
		}
		if cur.Turn != want {
			t.Fatalf("move %d: turn=%v want %v", i, cur.Turn, want)
		}
		sq := "e4"
		next, err := s.ApplyMove(ctx, 1, 10, 20, domain.MoveUpdate{
			Board:    "b" + string(rune('0'+i)),
			PawnMove: &sq,
			Moved:    domain.AllUnmoved,
			FromTurn: cur.Turn,
		})
		if err != nil {
			t.Fatalf("ApplyMove %d: %v", i, err)
		}
		if next.PawnMove == nil || *next.PawnMove != "e4" {
			t.Fatalf("move %d: pawn move not stored: %v", i, next.PawnMove)
		}
		if next.UpdatedAt.Before(prev) {
			t.Fatalf("move %d: UpdatedAt went backwards (%v -> %v)", i, prev, next.UpdatedAt)
		}
		prev = next.UpdatedAt
		want = !want
	}
}

func TestApplyMoveStaleTurnConflict(t *testing.T) {
	s := newStore(t, 1)
	ctx := context.Background()

	if _, err := s.CreateGame(ctx, 1, domain.NewSeed(10, 20, "", "")); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	snap, _ := s.GetGame(ctx, 1, 10, 20)

	upd := domain.MoveUpdate{Board: "b1", Moved: domain.AllUnmoved, FromTurn: snap.Turn}
	if _, err := s.ApplyMove(ctx, 1, 10, 20, upd); err != nil {
		t.Fatalf("first ApplyMove: %v", err)
	}
	// second writer holding the same stale read must lose
	if _, err := s.ApplyMove(ctx, 1, 10, 20, upd); !errors.Is(err, domain.ErrTurnConflict) {
		t.Fatalf("expected ErrTurnConflict, got %v", err)
	}
	// a missing game is NotFound, not a conflict
	if _, err := s.ApplyMove(ctx, 1, 30, 40, upd); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyMoveValidation(t *testing.T) {
	s := newStore(t, 1)
	ctx := context.Background()
	if _, err := s.CreateGame(ctx, 1, domain.NewSeed(10, 20, "", "")); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	bad := "e9"
	_, err := s.ApplyMove(ctx, 1, 10, 20, domain.MoveUpdate{Board: "b", PawnMove: &bad, Moved: domain.AllUnmoved, FromTurn: true})
	if !errors.Is(err, domain.ErrConstraintViolation) {
		t.Fatalf("expected ErrConstraintViolation, got %v", err)
	}
	// rejected before commit: nothing stored
	g, _ := s.GetGame(ctx, 1, 10, 20)
	if g.PawnMove != nil || !g.Turn {
		t.Fatalf("rejected write leaked into the row: %+v", g)
	}
}

func TestDrawTransitions(t *testing.T) {
	s := newStore(t, 1)
	ctx := context.Background()
	if _, err := s.CreateGame(ctx, 1, domain.NewSeed(10, 20, "", "")); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}

	// declined offer is transient: the next committed move clears it
	if err := s.SetDraw(ctx, 1, 10, 20, false); err != nil {
		t.Fatalf("SetDraw decline: %v", err)
	}
	g, _ := s.GetGame(ctx, 1, 10, 20)
	if g.Draw == nil || *g.Draw {
		t.Fatalf("declined draw not recorded: %+v", g.Draw)
	}
	if _, err := s.ApplyMove(ctx, 1, 10, 20, domain.MoveUpdate{Board: "b", Moved: domain.AllUnmoved, FromTurn: true}); err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	g, _ = s.GetGame(ctx, 1, 10, 20)
	if g.Draw != nil {
		t.Fatalf("declined draw flag survived the move")
	}

	// accepted draw is terminal
	if err := s.SetDraw(ctx, 1, 10, 20, true); err != nil {
		t.Fatalf("SetDraw accept: %v", err)
	}
	g, _ = s.GetGame(ctx, 1, 10, 20)
	if g.Draw == nil || !*g.Draw {
		t.Fatalf("accepted draw not recorded: %+v", g.Draw)
	}
}

func TestRename(t *testing.T) {
	s := newStore(t, 1)
	ctx := context.Background()
	if _, err := s.CreateGame(ctx, 1, domain.NewSeed(10, 20, "Bob", "Phil")); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if err := s.Rename(ctx, 1, 10, 20, domain.Black, "Phillip"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	g, _ := s.GetGame(ctx, 1, 10, 20)
	if g.WhiteName != "Bob" || g.BlackName != "Phillip" {
		t.Fatalf("rename wrong: %q/%q", g.WhiteName, g.BlackName)
	}
}

func TestGroupCascade(t *testing.T) {
	s := newStore(t, 1, 2)
	ctx := context.Background()

	if err := s.CreateChallenge(ctx, 1, 10, 20); err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	if _, err := s.CreateGame(ctx, 1, domain.NewSeed(30, 40, "", "")); err != nil {
		t.Fatalf("CreateGame g1: %v", err)
	}
	if _, err := s.CreateGame(ctx, 2, domain.NewSeed(30, 40, "", "")); err != nil {
		t.Fatalf("CreateGame g2: %v", err)
	}

	if err := s.DeleteGroup(ctx, 1); err != nil {
		t.Fatalf("DeleteGroup: %v", err)
	}
	if list, _ := s.ListChallenges(ctx, 1, 10); len(list) != 0 {
		t.Fatalf("challenges survived cascade")
	}
	if gs, _ := s.ListGamesByGroup(ctx, 1); len(gs) != 0 {
		t.Fatalf("games survived cascade")
	}
	// the other group is unaffected
	if gs, _ := s.ListGamesByGroup(ctx, 2); len(gs) != 1 {
		t.Fatalf("cascade leaked into group 2")
	}
	if err := s.DeleteGroup(ctx, 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestOpaqueRoundTrip(t *testing.T) {
	s := newStore(t, 1)
	ctx := context.Background()

	// trailing space in Moved is a legal six-char vector and must survive
	board := "R1 N1 ;; weird opaque payload \x01"
	moved := "01101 "
	if _, err := s.CreateGame(ctx, 1, domain.GameSeed{WhiteID: 10, BlackID: 20, Board: board, Moved: moved}); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	g, err := s.GetGame(ctx, 1, 10, 20)
	if err != nil {
		t.Fatalf("GetGame: %v", err)
	}
	if g.Board != board || g.Moved != moved {
		t.Fatalf("opaque state modified: %q %q", g.Board, g.Moved)
	}
}

func TestListOrdering(t *testing.T) {
	s := newStore(t, 1, 2)
	ctx := context.Background()

	for _, seed := range []domain.GameSeed{
		domain.NewSeed(30, 40, "", ""),
		domain.NewSeed(10, 40, "", ""),
		domain.NewSeed(10, 20, "", ""),
	} {
		if _, err := s.CreateGame(ctx, 1, seed); err != nil {
			t.Fatalf("CreateGame: %v", err)
		}
	}
	if _, err := s.CreateGame(ctx, 2, domain.NewSeed(10, 20, "", "")); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}

	gs, err := s.ListGamesByGroup(ctx, 1)
	if err != nil || len(gs) != 3 {
		t.Fatalf("ListGamesByGroup: %v (len=%d)", err, len(gs))
	}
	if gs[0].WhiteID != 10 || gs[0].BlackID != 20 || gs[2].WhiteID != 30 {
		t.Fatalf("group list not ordered by (white, black): %+v", gs)
	}

	ps, err := s.ListGamesByPlayer(ctx, 10)
	if err != nil || len(ps) != 3 {
		t.Fatalf("ListGamesByPlayer: %v (len=%d)", err, len(ps))
	}
	if ps[2].GroupID != 2 {
		t.Fatalf("player list not ordered by group first: %+v", ps)
	}
}

func TestArchive(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rec := &domain.FinishedGame{
		ID: "a1", GroupID: 1, WhiteID: 10, BlackID: 20,
		Result: "white", Method: "resign",
		CreatedAt: now.Add(-time.Hour), FinishedAt: now,
	}
	if err := s.ArchiveGame(ctx, rec); err != nil {
		t.Fatalf("ArchiveGame: %v", err)
	}
	// idempotent on id
	if err := s.ArchiveGame(ctx, rec); err != nil {
		t.Fatalf("ArchiveGame repeat: %v", err)
	}
	older := *rec
	older.ID = "a0"
	older.FinishedAt = now.Add(-2 * time.Hour)
	if err := s.ArchiveGame(ctx, &older); err != nil {
		t.Fatalf("ArchiveGame older: %v", err)
	}

	recent, err := s.RecentFinished(ctx, 10, 10)
	if err != nil || len(recent) != 2 {
		t.Fatalf("RecentFinished: %v (len=%d)", err, len(recent))
	}
	if recent[0].ID != "a1" {
		t.Fatalf("archive not ordered most recent first: %+v", recent)
	}
}
