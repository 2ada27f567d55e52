package archive

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/park285/solid-chess/internal/game"
	"github.com/park285/solid-chess/internal/rules"
)

type names map[string]string

func (n names) DisplayName(_ context.Context, id string) string { return n[id] }

func foolsMate(t *testing.T) *game.State {
	t.Helper()
	g, err := game.New(game.Params{
		URL: "http://pod.test/alice/chess#g", User: "alice", Opponent: "bob",
		UserColor: rules.White, Name: "Friday \"blitz\"", StorageURL: "http://pod.test/alice/chess",
	})
	if err != nil {
		t.Fatalf("new game: %v", err)
	}
	if _, _, err := g.ApplyLocalMove("f3"); err != nil {
		t.Fatalf("f3: %v", err)
	}
	if err := g.ApplyRemoteMove("e5", "http://pod.test/bob/chess#m2"); err != nil {
		t.Fatalf("e5: %v", err)
	}
	if _, _, err := g.ApplyLocalMove("g4"); err != nil {
		t.Fatalf("g4: %v", err)
	}
	if err := g.ApplyRemoteMove("Qh4#", "http://pod.test/bob/chess#m4"); err != nil {
		t.Fatalf("Qh4#: %v", err)
	}
	return g
}

func TestPGNFromFinishedGame(t *testing.T) {
	g := foolsMate(t)
	rec := FromState(context.Background(), g, names{"alice": "Alice", "bob": "Bob"}, time.Now().Add(-time.Minute))
	if rec.White != "alice" || rec.BlackName != "Bob" {
		t.Fatalf("unexpected players: %+v", rec)
	}
	if rec.Result != "black" || rec.Method != "checkmate" {
		t.Fatalf("unexpected result %q by %q", rec.Result, rec.Method)
	}

	pgn := PGN(rec)
	for _, want := range []string{
		`[Event "Friday 'blitz'"]`,
		`[White "Alice"]`,
		`[Black "Bob"]`,
		`[Result "0-1"]`,
		`[Termination "checkmate"]`,
		"1. f3 e5 2. g4 Qh4# 0-1",
	} {
		if !strings.Contains(pgn, want) {
			t.Fatalf("pgn missing %q:\n%s", want, pgn)
		}
	}
	if strings.Contains(pgn, "[FEN") {
		t.Fatalf("standard start must not carry a FEN tag:\n%s", pgn)
	}
}

func TestPGNFromCustomPosition(t *testing.T) {
	rec := Record{
		Game:          "g",
		StartPosition: "4k3/8/8/8/8/8/8/4K2R b K - 0 12",
		MovesSAN:      []string{"Kd7", "Rh7+"},
	}
	pgn := PGN(rec)
	if !strings.Contains(pgn, `[SetUp "1"]`) || !strings.Contains(pgn, `[FEN "4k3/8/8/8/8/8/8/4K2R b K - 0 12"]`) {
		t.Fatalf("missing setup tags:\n%s", pgn)
	}
	if !strings.Contains(pgn, "12... Kd7 13. Rh7+ *") {
		t.Fatalf("unexpected numbering:\n%s", pgn)
	}
	if !strings.Contains(pgn, `[Event "Casual game"]`) {
		t.Fatalf("missing default event:\n%s", pgn)
	}
}

func TestMapResultToPGN(t *testing.T) {
	cases := map[string]string{"white": "1-0", "Black": "0-1", " draw ": "1/2-1/2", "": "*"}
	for in, want := range cases {
		if got := mapResultToPGN(in); got != want {
			t.Fatalf("mapResultToPGN(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDriverFor(t *testing.T) {
	cases := []struct{ url, driver, dsn string }{
		{"postgres://u@h/db", "postgres", "postgres://u@h/db"},
		{"sqlite://games.db", "sqlite3", "games.db"},
		{":memory:", "sqlite3", ":memory:"},
	}
	for _, c := range cases {
		d, dsn := driverFor(c.url)
		if d != c.driver || dsn != c.dsn {
			t.Fatalf("driverFor(%q) = %q,%q", c.url, d, dsn)
		}
	}
}

func TestSaveResultUpserts(t *testing.T) {
	ctx := context.Background()
	repo, err := NewRepository(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer repo.Close()

	rec := FromState(ctx, foolsMate(t), nil, time.Now().Add(-time.Minute))
	if err := repo.SaveResult(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec.Name = "renamed"
	if err := repo.SaveResult(ctx, rec); err != nil {
		t.Fatalf("save again: %v", err)
	}

	got, pgn, err := repo.Get(ctx, rec.Game)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "renamed" || len(got.MovesSAN) != 4 || got.MovesSAN[3] != "Qh4#" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if !strings.Contains(pgn, `[Event "renamed"]`) {
		t.Fatalf("stored pgn not updated:\n%s", pgn)
	}

	if _, _, err := repo.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNilRepositoryIsNoop(t *testing.T) {
	var repo *Repository
	if err := repo.SaveResult(context.Background(), Record{Game: "g"}); err != nil {
		t.Fatalf("nil repo save: %v", err)
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("nil repo close: %v", err)
	}
}
