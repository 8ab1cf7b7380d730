package redistore

import (
	"context"
	"errors"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/cheddarbot/gamestore/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewWithClient(rdb, nil)
}

func TestChallengeToGameFlow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateChallenge(ctx, 1, 10, 20); !errors.Is(err, domain.ErrUnknownGroup) {
		t.Fatalf("expected ErrUnknownGroup before EnsureGroup, got %v", err)
	}
	if err := s.EnsureGroup(ctx, 1); err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}
	if err := s.CreateChallenge(ctx, 1, 10, 20); err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	if err := s.CreateChallenge(ctx, 1, 10, 20); !errors.Is(err, domain.ErrDuplicateChallenge) {
		t.Fatalf("expected ErrDuplicateChallenge, got %v", err)
	}

	list, err := s.ListChallenges(ctx, 1, 20)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListChallenges: %v (len=%d)", err, len(list))
	}

	g, err := s.AcceptChallenge(ctx, 1, 10, 20, domain.NewSeed(10, 20, "Bob", "Phil"))
	if err != nil {
		t.Fatalf("AcceptChallenge: %v", err)
	}
	if !g.Turn || g.PawnMove != nil || g.Draw != nil {
		t.Fatalf("fresh game state wrong: %+v", g)
	}
	if list, _ := s.ListChallenges(ctx, 1, 20); len(list) != 0 {
		t.Fatalf("challenge survived accept")
	}
	if _, err := s.AcceptChallenge(ctx, 1, 10, 20, domain.NewSeed(10, 20, "", "")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second accept, got %v", err)
	}
}

func TestApplyMoveFlipsTurnAndConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.EnsureGroup(ctx, 1); err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}
	if _, err := s.CreateGame(ctx, 1, domain.NewSeed(10, 20, "", "")); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}

	snap, err := s.GetGame(ctx, 1, 10, 20)
	if err != nil {
		t.Fatalf("GetGame: %v", err)
	}
	sq := "e3"
	g, err := s.ApplyMove(ctx, 1, 10, 20, domain.MoveUpdate{Board: "b1", PawnMove: &sq, Moved: domain.AllUnmoved, FromTurn: snap.Turn})
	if err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	if g.Turn || g.PawnMove == nil || *g.PawnMove != "e3" {
		t.Fatalf("move not applied: %+v", g)
	}
	if !g.UpdatedAt.After(snap.UpdatedAt) {
		t.Fatalf("UpdatedAt did not advance")
	}

	// stale writer loses
	_, err = s.ApplyMove(ctx, 1, 10, 20, domain.MoveUpdate{Board: "b2", Moved: domain.AllUnmoved, FromTurn: snap.Turn})
	if !errors.Is(err, domain.ErrTurnConflict) {
		t.Fatalf("expected ErrTurnConflict, got %v", err)
	}

	// next half-move clears the en-passant square it does not claim
	g2, err := s.ApplyMove(ctx, 1, 10, 20, domain.MoveUpdate{Board: "b2", Moved: domain.AllUnmoved, FromTurn: g.Turn})
	if err != nil {
		t.Fatalf("ApplyMove 2: %v", err)
	}
	if g2.PawnMove != nil || !g2.Turn {
		t.Fatalf("second move state wrong: %+v", g2)
	}
}

func TestDrawDeclineClearedByMove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.EnsureGroup(ctx, 1)
	if _, err := s.CreateGame(ctx, 1, domain.NewSeed(10, 20, "", "")); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if err := s.SetDraw(ctx, 1, 10, 20, false); err != nil {
		t.Fatalf("SetDraw: %v", err)
	}
	g, err := s.ApplyMove(ctx, 1, 10, 20, domain.MoveUpdate{Board: "b", Moved: domain.AllUnmoved, FromTurn: true})
	if err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	if g.Draw != nil {
		t.Fatalf("declined draw flag survived the move")
	}
}

func TestGroupCascade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.EnsureGroup(ctx, 1)
	s.EnsureGroup(ctx, 2)

	if err := s.CreateChallenge(ctx, 1, 10, 20); err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	if _, err := s.CreateGame(ctx, 1, domain.NewSeed(30, 40, "", "")); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if _, err := s.CreateGame(ctx, 2, domain.NewSeed(30, 40, "", "")); err != nil {
		t.Fatalf("CreateGame other group: %v", err)
	}

	if err := s.DeleteGroup(ctx, 1); err != nil {
		t.Fatalf("DeleteGroup: %v", err)
	}
	if _, err := s.GetGame(ctx, 1, 30, 40); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("game survived cascade: %v", err)
	}
	if list, _ := s.ListChallenges(ctx, 1, 10); len(list) != 0 {
		t.Fatalf("challenge survived cascade")
	}
	if gs, _ := s.ListGamesByGroup(ctx, 2); len(gs) != 1 {
		t.Fatalf("cascade leaked into group 2")
	}
	// player index no longer lists the cascaded game
	if gs, _ := s.ListGamesByPlayer(ctx, 30); len(gs) != 1 || gs[0].GroupID != 2 {
		t.Fatalf("player index inconsistent after cascade: %+v", gs)
	}
}

func TestListOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.EnsureGroup(ctx, 1)

	for _, seed := range []domain.GameSeed{
		domain.NewSeed(30, 40, "", ""),
		domain.NewSeed(10, 20, "", ""),
	} {
		if _, err := s.CreateGame(ctx, 1, seed); err != nil {
			t.Fatalf("CreateGame: %v", err)
		}
	}
	gs, err := s.ListGamesByGroup(ctx, 1)
	if err != nil || len(gs) != 2 {
		t.Fatalf("ListGamesByGroup: %v (len=%d)", err, len(gs))
	}
	if gs[0].WhiteID != 10 || gs[1].WhiteID != 30 {
		t.Fatalf("list not ordered: %+v", gs)
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &domain.FinishedGame{ID: "ar-1", GroupID: 1, WhiteID: 10, BlackID: 20, Result: "draw", Method: "draw-accept"}
	if err := s.ArchiveGame(ctx, rec); err != nil {
		t.Fatalf("ArchiveGame: %v", err)
	}
	if err := s.ArchiveGame(ctx, rec); err != nil {
		t.Fatalf("ArchiveGame repeat: %v", err)
	}
	got, err := s.RecentFinished(ctx, 20, 5)
	if err != nil || len(got) != 1 {
		t.Fatalf("RecentFinished: %v (len=%d)", err, len(got))
	}
	if got[0].ID != "ar-1" || got[0].Result != "draw" {
		t.Fatalf("archive record wrong: %+v", got[0])
	}
}
