package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/park285/solid-chess/internal/envelope"
	"github.com/park285/solid-chess/internal/game"
	"github.com/park285/solid-chess/internal/handshake"
	"github.com/park285/solid-chess/internal/pod"
	"github.com/park285/solid-chess/internal/rules"
	"github.com/park285/solid-chess/internal/vocab"
)

const (
	alice      = "http://pod.test/alice/card#me"
	bob        = "http://pod.test/bob/card#me"
	aliceInbox = "http://pod.test/alice/inbox/"
	bobInbox   = "http://pod.test/bob/inbox/"
	aliceStore = "http://pod.test/alice/chess"
	bobStore   = "http://pod.test/bob/chess"
	gameURL    = aliceStore + "#game"
)

type recorder struct {
	moves    []game.Move
	joinable []handshake.JoinableGame
	answers  []Answer
	ended    int
}

func (rec *recorder) callbacks() Callbacks {
	return Callbacks{
		MoveApplied:        func(_ *game.State, mv game.Move) { rec.moves = append(rec.moves, mv) },
		JoinableGameFound:  func(j handshake.JoinableGame) { rec.joinable = append(rec.joinable, j) },
		InvitationAnswered: func(a Answer) { rec.answers = append(rec.answers, a) },
		GameEnded:          func(*game.State) { rec.ended++ },
	}
}

type side struct {
	id    string
	inbox string
	store string
	game  *game.State
	rec   *recorder
	r     *Reconciler
}

type fixture struct {
	store pod.Store
	dir   *pod.Directory
	alice *side
	bob   *side
}

func newFixture(t *testing.T, realTime bool) *fixture {
	t.Helper()
	ctx := context.Background()
	store := pod.NewMemoryStore()
	require.NoError(t, store.Write(ctx, alice, pod.Profile(alice, aliceInbox, "Alice")))
	require.NoError(t, store.Write(ctx, bob, pod.Profile(bob, bobInbox, "Bob")))
	dir := pod.NewDirectory(store)

	p := game.Params{URL: gameURL, User: alice, Opponent: bob, UserColor: rules.White, Name: "friendly", RealTime: realTime, StorageURL: aliceStore}
	require.NoError(t, store.Write(ctx, gameURL, game.SetupFacts(p)))

	f := &fixture{store: store, dir: dir}
	f.alice = f.newSide(t, alice, aliceInbox, aliceStore)
	f.bob = f.newSide(t, bob, bobInbox, bobStore)
	return f
}

func (f *fixture) newSide(t *testing.T, id, inbox, storage string) *side {
	rec := &recorder{}
	return &side{id: id, inbox: inbox, store: storage, rec: rec, r: New(f.store, f.dir, id, storage, nil, rec.callbacks())}
}

func (f *fixture) startGames(t *testing.T) {
	t.Helper()
	var err error
	f.alice.game, err = game.New(game.Params{URL: gameURL, User: alice, Opponent: bob, UserColor: rules.White, StorageURL: aliceStore})
	require.NoError(t, err)
	f.bob.game, err = game.New(game.Params{URL: gameURL, User: bob, Opponent: alice, UserColor: rules.Black, StorageURL: bobStore})
	require.NoError(t, err)
}

// move plays san locally for from and posts the link into to's inbox.
func (f *fixture) move(t *testing.T, from, to *side, san string) (string, envelope.MoveLink) {
	t.Helper()
	ctx := context.Background()
	entry, link, err := from.game.ApplyLocalMove(san)
	require.NoError(t, err)
	require.NoError(t, f.store.Write(ctx, from.store, entry.Facts))
	url, err := f.store.Post(ctx, to.inbox, link.Facts())
	require.NoError(t, err)
	return url, link
}

func (f *fixture) inbox(t *testing.T, s *side) []string {
	t.Helper()
	urls, err := f.store.ListTyped(context.Background(), s.inbox, vocab.Resource)
	require.NoError(t, err)
	return urls
}

func TestMoveScenarioWithDuplicate(t *testing.T) {
	f := newFixture(t, false)
	f.startGames(t)
	ctx := context.Background()

	e4, _ := f.move(t, f.alice, f.bob, "e4")
	require.Equal(t, rules.Black, f.alice.game.Turn)
	require.Len(t, f.alice.game.Moves(), 1)
	require.Empty(t, f.alice.game.Moves()[0].Prev)

	require.NoError(t, f.bob.r.Reconcile(ctx, e4, f.bob.game))
	require.Equal(t, rules.Black, f.bob.game.Turn)
	require.Empty(t, f.inbox(t, f.bob))

	e5, link := f.move(t, f.bob, f.alice, "e5")
	require.Equal(t, f.alice.game.MoveHead, link.Prev)
	require.NoError(t, f.alice.r.Reconcile(ctx, e5, f.alice.game))
	require.Equal(t, rules.White, f.alice.game.Turn)
	require.Equal(t, []string{"e4", "e5"}, f.alice.game.SANs())
	require.Len(t, f.alice.rec.moves, 1)

	// replayed duplicate of the e5 notification
	dup, err := f.store.Post(ctx, aliceInbox, link.Facts())
	require.NoError(t, err)
	require.NoError(t, f.alice.r.Reconcile(ctx, dup, f.alice.game))
	require.Equal(t, rules.White, f.alice.game.Turn)
	require.Equal(t, []string{"e4", "e5"}, f.alice.game.SANs())
	require.Len(t, f.alice.rec.moves, 1)
	require.Empty(t, f.inbox(t, f.alice))

	// alice's storage now links her e4 to bob's e5
	next, ok, err := pod.FirstIn(ctx, f.store, aliceStore, f.alice.game.Moves()[0].URL, vocab.NextHalfMove)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, link.Move, next)
}

func TestMoveLinkWithoutNotationReadsMoveDocument(t *testing.T) {
	f := newFixture(t, false)
	f.startGames(t)
	ctx := context.Background()
	entry, link, err := f.alice.game.ApplyLocalMove("d4")
	require.NoError(t, err)
	require.NoError(t, f.store.Write(ctx, aliceStore, entry.Facts))
	link.SAN = ""
	url, err := f.store.Post(ctx, bobInbox, link.Facts())
	require.NoError(t, err)

	require.NoError(t, f.bob.r.Reconcile(ctx, url, f.bob.game))
	require.Equal(t, []string{"d4"}, f.bob.game.SANs())
}

func TestOutOfOrderMoveIsDeferred(t *testing.T) {
	f := newFixture(t, false)
	f.startGames(t)
	ctx := context.Background()
	f.move(t, f.alice, f.bob, "e4")

	ahead := envelope.MoveLink{Game: gameURL, Prev: aliceStore + "#not-yet", Move: bobStore + "#later", SAN: "e5"}
	url, err := f.store.Post(ctx, bobInbox, ahead.Facts())
	require.NoError(t, err)
	require.ErrorIs(t, f.bob.r.Reconcile(ctx, url, f.bob.game), ErrStale)
	require.Contains(t, f.inbox(t, f.bob), url)

	deferred := f.bob.r.ReconcileAll(ctx, f.inbox(t, f.bob), f.bob.game)
	require.Equal(t, []string{url}, deferred)
	require.Equal(t, []string{"e4"}, f.bob.game.SANs())
	require.Contains(t, f.inbox(t, f.bob), url)
}

func TestBatchContinuesPastMalformed(t *testing.T) {
	f := newFixture(t, false)
	f.startGames(t)
	ctx := context.Background()
	bad, err := f.store.Post(ctx, bobInbox, []pod.Fact{pod.Link("", vocab.Type, vocab.WebRTCOffer)})
	require.NoError(t, err)
	junk, err := f.store.Post(ctx, bobInbox, []pod.Fact{pod.Lit("", vocab.Name, "hello")})
	require.NoError(t, err)
	f.move(t, f.alice, f.bob, "e4")

	deferred := f.bob.r.ReconcileAll(ctx, f.inbox(t, f.bob), f.bob.game)
	require.Empty(t, deferred)
	require.Equal(t, []string{"e4"}, f.bob.game.SANs())
	// malformed envelopes are kept, not silently lost
	require.ElementsMatch(t, []string{bad, junk}, f.inbox(t, f.bob))
}

func successors(t *testing.T, f *fixture, doc, moveURL string) []string {
	t.Helper()
	next, err := pod.Objects(context.Background(), f.store, doc, moveURL, vocab.NextHalfMove)
	require.NoError(t, err)
	return next
}

func TestRejectedMovesLeaveStorageAndInbox(t *testing.T) {
	f := newFixture(t, false)
	f.startGames(t)
	ctx := context.Background()

	e4, _ := f.move(t, f.alice, f.bob, "e4")
	require.NoError(t, f.bob.r.Reconcile(ctx, e4, f.bob.game))
	head := f.alice.game.MoveHead

	illegal := envelope.MoveLink{Game: gameURL, Prev: head, Move: bobStore + "#bogus", SAN: "Ke2"}
	bad, err := f.store.Post(ctx, aliceInbox, illegal.Facts())
	require.NoError(t, err)
	require.ErrorIs(t, f.alice.r.Reconcile(ctx, bad, f.alice.game), game.ErrIllegalMove)
	require.Empty(t, successors(t, f, aliceStore, head))
	require.Equal(t, []string{bad}, f.inbox(t, f.alice))
	require.Empty(t, f.alice.r.ReconcileAll(ctx, []string{bad}, f.alice.game))

	e5, _ := f.move(t, f.bob, f.alice, "e5")
	require.Empty(t, f.alice.r.ReconcileAll(ctx, []string{e5}, f.alice.game))
	require.Equal(t, []string{"e4", "e5"}, f.alice.game.SANs())
	require.Len(t, successors(t, f, aliceStore, head), 1)

	// a second move from bob on alice's turn
	bobHead := f.alice.game.MoveHead
	twice := envelope.MoveLink{Game: gameURL, Prev: bobHead, Move: bobStore + "#twice", SAN: "Nf3"}
	again, err := f.store.Post(ctx, aliceInbox, twice.Facts())
	require.NoError(t, err)
	require.ErrorIs(t, f.alice.r.Reconcile(ctx, again, f.alice.game), game.ErrNotOpponentsTurn)
	require.Empty(t, successors(t, f, aliceStore, bobHead))
	require.ElementsMatch(t, []string{bad, again}, f.inbox(t, f.alice))

	g, err := game.Reconstruct(ctx, f.store, gameURL, alice, aliceStore)
	require.NoError(t, err)
	require.Equal(t, []string{"e4", "e5"}, g.SANs())
	require.Equal(t, rules.White, g.Turn)
}

// flakyStore fails the first n writes.
type flakyStore struct {
	pod.Store
	n int
}

func (s *flakyStore) Write(ctx context.Context, doc string, facts []pod.Fact) error {
	if s.n > 0 {
		s.n--
		return errors.New("pod unavailable")
	}
	return s.Store.Write(ctx, doc, facts)
}

func TestFailedLinkWriteKeepsEnvelope(t *testing.T) {
	f := newFixture(t, false)
	f.startGames(t)
	ctx := context.Background()
	rec := &recorder{}
	r := New(&flakyStore{Store: f.store, n: 1}, f.dir, bob, bobStore, nil, rec.callbacks())

	e4, _ := f.move(t, f.alice, f.bob, "e4")
	retry := r.ReconcileAll(ctx, []string{e4}, f.bob.game)
	require.Equal(t, []string{e4}, retry)
	require.Equal(t, []string{e4}, f.inbox(t, f.bob))
	require.Empty(t, f.bob.game.SANs())
	require.Equal(t, rules.White, f.bob.game.Turn)
	require.Empty(t, rec.moves)

	require.Empty(t, r.ReconcileAll(ctx, retry, f.bob.game))
	require.Equal(t, []string{"e4"}, f.bob.game.SANs())
	require.Empty(t, f.inbox(t, f.bob))
	require.Len(t, rec.moves, 1)
}

func invite(t *testing.T, f *fixture) handshake.Invitation {
	t.Helper()
	ctx := context.Background()
	inv, facts, env, err := handshake.CreateInvitation(aliceStore, gameURL, alice, bob)
	require.NoError(t, err)
	require.NoError(t, f.store.Write(ctx, aliceStore, facts))
	f.alice.r.Registry().TrackSent(inv.URL)
	_, err = f.store.Post(ctx, bobInbox, env.Facts())
	require.NoError(t, err)
	return inv
}

func TestJoinDedup(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		invite(t, f)
	}
	f.bob.r.ReconcileAll(ctx, f.inbox(t, f.bob), nil)

	require.Len(t, f.bob.rec.joinable, 1)
	j := f.bob.rec.joinable[0]
	require.Equal(t, gameURL, j.Game)
	require.Equal(t, "friendly", j.Name)
	require.Equal(t, "Alice", j.OpponentName)
	require.True(t, j.RealTime)
	require.Len(t, f.bob.r.Registry().ListJoinable(), 1)
}

func TestInvitationForSomeoneElseIgnored(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	_, facts, env, err := handshake.CreateInvitation(aliceStore, gameURL, alice, "http://pod.test/carol/card#me")
	require.NoError(t, err)
	require.NoError(t, f.store.Write(ctx, aliceStore, facts))
	url, err := f.store.Post(ctx, bobInbox, env.Facts())
	require.NoError(t, err)
	require.NoError(t, f.bob.r.Reconcile(ctx, url, nil))
	require.Empty(t, f.bob.rec.joinable)
}

// fetchFault fails the failAt-th fetch of doc.
type fetchFault struct {
	pod.Store
	doc          string
	seen, failAt int
}

func (s *fetchFault) Fetch(ctx context.Context, url string) ([]pod.Fact, error) {
	if pod.DocumentOf(url) == s.doc {
		s.seen++
		if s.seen == s.failAt {
			return nil, errors.New("pod unavailable")
		}
	}
	return s.Store.Fetch(ctx, url)
}

func TestInvitationWaitsForReadableGame(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	invite(t, f)
	// invitation, game type, then the game name read fails
	rec := &recorder{}
	r := New(&fetchFault{Store: f.store, doc: aliceStore, failAt: 3}, f.dir, bob, bobStore, nil, rec.callbacks())

	urls := f.inbox(t, f.bob)
	retry := r.ReconcileAll(ctx, urls, nil)
	require.Equal(t, urls, retry)
	require.Empty(t, rec.joinable)
	require.Empty(t, r.Registry().ListJoinable())

	require.Empty(t, r.ReconcileAll(ctx, retry, nil))
	require.Len(t, rec.joinable, 1)
	require.True(t, rec.joinable[0].RealTime)
	require.Equal(t, "friendly", rec.joinable[0].Name)
}

func respond(t *testing.T, f *fixture, inv handshake.Invitation, value string) {
	t.Helper()
	ctx := context.Background()
	_, facts, link, err := handshake.CreateResponse(bobStore, inv.URL, bob, alice, value)
	require.NoError(t, err)
	require.NoError(t, f.store.Write(ctx, bobStore, facts))
	_, err = f.store.Post(ctx, aliceInbox, link.Facts())
	require.NoError(t, err)
}

func TestDeclineScenario(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	inv := invite(t, f)
	respond(t, f, inv, "no")

	f.alice.r.ReconcileAll(ctx, f.inbox(t, f.alice), nil)
	require.Equal(t, []Answer{{Invitation: inv.URL, Game: gameURL, From: bob, Accepted: false}}, f.alice.rec.answers)
	status, _ := f.alice.r.Registry().SentStatus(inv.URL)
	require.Equal(t, handshake.StatusDeclined, status)
	require.Empty(t, f.inbox(t, f.alice))

	result, ok, err := pod.First(ctx, f.store, inv.URL, vocab.Result)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, result)
	require.Empty(t, f.alice.rec.moves)

	// a redelivered response does not notify twice
	respond(t, f, inv, "no")
	f.alice.r.ReconcileAll(ctx, f.inbox(t, f.alice), nil)
	require.Len(t, f.alice.rec.answers, 1)
}

func TestAcceptRealTimeGame(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	inv := invite(t, f)
	respond(t, f, inv, "yes")
	f.alice.r.ReconcileAll(ctx, f.inbox(t, f.alice), nil)
	require.Len(t, f.alice.rec.answers, 1)
	require.True(t, f.alice.rec.answers[0].Accepted)
	require.True(t, f.alice.rec.answers[0].RealTime)
}

func TestGiveUpEndsGame(t *testing.T) {
	f := newFixture(t, false)
	f.startGames(t)
	ctx := context.Background()
	_, gu, err := f.bob.game.GiveUp()
	require.NoError(t, err)
	url, err := f.store.Post(ctx, aliceInbox, gu.Facts())
	require.NoError(t, err)

	require.NoError(t, f.alice.r.Reconcile(ctx, url, f.alice.game))
	require.True(t, f.alice.game.Ended)
	require.Equal(t, bob, f.alice.game.GiveUpBy)
	require.Equal(t, 1, f.alice.rec.ended)
	require.Empty(t, f.inbox(t, f.alice))

	// the same give-up over the data channel is inert
	require.NoError(t, f.alice.r.Apply(ctx, "", gu, f.alice.game))
	require.Equal(t, 1, f.alice.rec.ended)

	restored, err := game.Reconstruct(ctx, f.store, gameURL, alice, aliceStore)
	require.NoError(t, err)
	require.Equal(t, bob, restored.GiveUpBy)
}

func TestSignalingEnvelopesLeftAlone(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	url, err := f.store.Post(ctx, bobInbox, envelope.Offer{SDP: "v=0"}.Facts())
	require.NoError(t, err)
	require.NoError(t, f.bob.r.Reconcile(ctx, url, nil))
	require.Contains(t, f.inbox(t, f.bob), url)
}
