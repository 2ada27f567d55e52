package game

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/park285/solid-chess/internal/envelope"
	"github.com/park285/solid-chess/internal/pod"
	"github.com/park285/solid-chess/internal/rules"
	"github.com/park285/solid-chess/internal/vocab"
)

const (
	alice      = "http://pod.test/alice/card#me"
	bob        = "http://pod.test/bob/card#me"
	aliceStore = "http://pod.test/alice/chess"
	bobStore   = "http://pod.test/bob/chess"
	gameURL    = aliceStore + "#game"
)

type players struct {
	store *pod.MemoryStore
	alice *State
	bob   *State
}

func newPlayers(t *testing.T) *players {
	t.Helper()
	ctx := context.Background()
	store := pod.NewMemoryStore()
	p := Params{URL: gameURL, User: alice, Opponent: bob, UserColor: rules.White, Name: "friendly", StorageURL: aliceStore}
	require.NoError(t, store.Write(ctx, gameURL, SetupFacts(p)))

	a, err := New(p)
	require.NoError(t, err)
	b, err := New(Params{URL: gameURL, User: bob, Opponent: alice, UserColor: rules.Black, StorageURL: bobStore})
	require.NoError(t, err)
	return &players{store: store, alice: a, bob: b}
}

// play makes a local move for from, persists it and hands it to to.
func (p *players) play(t *testing.T, from, to *State, san string) envelope.MoveLink {
	t.Helper()
	ctx := context.Background()
	entry, link, err := from.ApplyLocalMove(san)
	require.NoError(t, err)
	require.NoError(t, p.store.Write(ctx, from.StorageURL, entry.Facts))
	require.NoError(t, p.store.Write(ctx, to.StorageURL, link.Facts()))
	require.NoError(t, to.ApplyRemoteMove(entry.Move.SAN, link.Move))
	return link
}

func TestFirstMoveShape(t *testing.T) {
	p := newPlayers(t)
	entry, link, err := p.alice.ApplyLocalMove("e4")
	require.NoError(t, err)
	require.Empty(t, entry.Move.Prev)
	require.Equal(t, gameURL, link.Game)
	require.Empty(t, link.Prev)
	require.Equal(t, rules.Black, p.alice.Turn)
	require.Equal(t, entry.Move.URL, p.alice.MoveHead)
	require.Equal(t, entry.Move.URL, p.alice.LastUserMove)
	require.Contains(t, entry.Facts, pod.Link(gameURL, vocab.HasFirstHalfMove, entry.Move.URL))
	require.Contains(t, entry.Facts, pod.Lit(entry.Move.URL, vocab.HasSANRecord, "e4"))

	_, link2, err := p.alice.ApplyLocalMove("d4")
	require.ErrorIs(t, err, ErrNotYourTurn)
	require.Empty(t, link2.Move)
}

func TestTurnAlternation(t *testing.T) {
	p := newPlayers(t)
	sans := []string{"e4", "e5", "Nf3", "Nc6", "Bb5", "a6"}
	for i, san := range sans {
		from, to := p.alice, p.bob
		if i%2 == 1 {
			from, to = p.bob, p.alice
		}
		before := from.Turn
		p.play(t, from, to, san)
		require.Equal(t, before.Opposite(), from.Turn)
		require.Equal(t, from.Turn, to.Turn)
	}
	require.Equal(t, sans, p.alice.SANs())
	require.Equal(t, sans, p.bob.SANs())
	require.Equal(t, p.alice.FEN(), p.bob.FEN())
}

func TestRemoteMoveRejections(t *testing.T) {
	p := newPlayers(t)
	require.ErrorIs(t, p.alice.ApplyRemoteMove("e5", aliceStore+"#x"), ErrNotOpponentsTurn)

	link := p.play(t, p.alice, p.bob, "e4")
	require.ErrorIs(t, p.bob.ApplyRemoteMove("e4", link.Move), ErrAlreadyApplied)

	fen := p.alice.FEN()
	require.ErrorIs(t, p.alice.ApplyRemoteMove("Ke2", bobStore+"#bad"), ErrIllegalMove)
	require.Equal(t, fen, p.alice.FEN())
	require.Equal(t, rules.Black, p.alice.Turn)

	_, _, err := p.bob.ApplyLocalMove("e4")
	require.ErrorIs(t, err, ErrIllegalMove)
	require.Equal(t, rules.Black, p.bob.Turn)
}

func TestCheckmateMarksLastOnce(t *testing.T) {
	p := newPlayers(t)
	p.play(t, p.alice, p.bob, "f3")
	p.play(t, p.bob, p.alice, "e5")
	p.play(t, p.alice, p.bob, "g4")
	entry, link, err := p.bob.ApplyLocalMove("Qh4#")
	require.NoError(t, err)
	require.True(t, entry.Move.Last)
	require.True(t, link.Last)
	require.True(t, p.bob.Ended)
	require.Equal(t, "black", p.bob.Result())
	require.Equal(t, "checkmate", p.bob.Method())

	require.NoError(t, p.alice.ApplyRemoteMove(entry.Move.SAN, link.Move))
	require.True(t, p.alice.Ended)

	last := 0
	for _, mv := range p.alice.Moves() {
		if mv.Last {
			last++
		}
	}
	require.Equal(t, 1, last)

	_, _, err = p.alice.ApplyLocalMove("a3")
	require.ErrorIs(t, err, ErrGameEnded)
}

func TestGiveUp(t *testing.T) {
	p := newPlayers(t)
	entry, gu, err := p.alice.GiveUp()
	require.NoError(t, err)
	require.NotEmpty(t, entry.Facts)
	require.Equal(t, alice, gu.Agent)
	require.Equal(t, gameURL, gu.Game)
	require.Equal(t, "black", p.alice.Result())
	require.Equal(t, "resignation", p.alice.Method())

	_, _, err = p.alice.GiveUp()
	require.ErrorIs(t, err, ErrGameEnded)

	require.NoError(t, p.bob.ApplyGiveUp(alice))
	require.NoError(t, p.bob.ApplyGiveUp(alice))
	require.True(t, p.bob.Ended)
	require.Equal(t, "black", p.bob.Result())
	require.ErrorIs(t, p.bob.ApplyGiveUp("http://pod.test/mallory/card#me"), ErrNotParticipant)
}

func TestListGames(t *testing.T) {
	facts := append(IndexFacts(alice, gameURL, aliceStore), IndexFacts(alice, gameURL, aliceStore)...)
	facts = append(facts, IndexFacts(bob, aliceStore+"#other", bobStore)...)
	got := ListGames(facts, alice)
	require.Equal(t, []Listing{{Game: gameURL, Storage: aliceStore}}, got)
}

func TestCheckRemoteMoveLeavesState(t *testing.T) {
	p := newPlayers(t)
	p.play(t, p.alice, p.bob, "e4")
	head, fen := p.alice.MoveHead, p.alice.FEN()

	san, err := p.alice.CheckRemoteMove("e7e5", bobStore+"#e5")
	require.NoError(t, err)
	require.Equal(t, "e5", san)
	_, err = p.alice.CheckRemoteMove("Ke2", bobStore+"#bad")
	require.ErrorIs(t, err, ErrIllegalMove)
	_, err = p.bob.CheckRemoteMove("d5", aliceStore+"#y")
	require.ErrorIs(t, err, ErrNotOpponentsTurn)

	require.Equal(t, head, p.alice.MoveHead)
	require.Equal(t, fen, p.alice.FEN())
	require.Equal(t, rules.Black, p.alice.Turn)
	require.False(t, p.alice.Applied(bobStore+"#e5"))
}
