// Package reconcile applies freshly observed envelopes to the local game
// and handshake state exactly once.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/park285/solid-chess/internal/envelope"
	"github.com/park285/solid-chess/internal/game"
	"github.com/park285/solid-chess/internal/handshake"
	"github.com/park285/solid-chess/internal/obslog"
	"github.com/park285/solid-chess/internal/pod"
	"github.com/park285/solid-chess/internal/vocab"
)

// ErrStale marks an envelope that does not apply yet, or not to this game.
// It stays in the inbox.
var ErrStale = errors.New("stale or out-of-order envelope")

// Answer describes a response to one of our invitations.
type Answer struct {
	Invitation string
	Game       string
	From       string
	Accepted   bool
	RealTime   bool
}

// Callbacks are invoked synchronously from Reconcile. Nil entries are skipped.
type Callbacks struct {
	MoveApplied        func(g *game.State, mv game.Move)
	JoinableGameFound  func(j handshake.JoinableGame)
	InvitationAnswered func(a Answer)
	GameEnded          func(g *game.State)
}

type Reconciler struct {
	store      pod.Store
	names      NameResolver
	identity   string
	storageURL string
	registry   *handshake.Registry
	cb         Callbacks
}

// NameResolver yields a display name for an identity.
type NameResolver interface {
	DisplayName(ctx context.Context, identity string) string
}

// New builds a reconciler acting for identity, whose links and results are
// persisted in storageURL.
func New(store pod.Store, names NameResolver, identity, storageURL string, registry *handshake.Registry, cb Callbacks) *Reconciler {
	if registry == nil {
		registry = handshake.NewRegistry()
	}
	return &Reconciler{store: store, names: names, identity: identity, storageURL: storageURL, registry: registry, cb: cb}
}

func (r *Reconciler) Registry() *handshake.Registry { return r.registry }

// Reconcile interprets one inbox envelope against g, which may be nil when
// no game is active. Signaling envelopes are left for the signaling engine.
func (r *Reconciler) Reconcile(ctx context.Context, envelopeURL string, g *game.State) error {
	facts, err := r.store.Fetch(ctx, envelopeURL)
	if errors.Is(err, pod.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	env, err := envelope.Decode(envelopeURL, facts)
	if err != nil {
		return err
	}
	return r.Apply(ctx, envelopeURL, env, g)
}

// Apply handles an already decoded envelope. envelopeURL is empty for
// payloads that arrived over the data channel and need no acknowledgement.
func (r *Reconciler) Apply(ctx context.Context, envelopeURL string, env envelope.Envelope, g *game.State) error {
	switch e := env.(type) {
	case envelope.MoveLink:
		return r.applyMove(ctx, envelopeURL, e, g)
	case envelope.Invitation:
		return r.applyInvitation(ctx, envelopeURL, e)
	case envelope.ResponseLink:
		return r.applyResponse(ctx, envelopeURL, e)
	case envelope.GiveUp:
		return r.applyGiveUp(ctx, envelopeURL, e, g)
	case envelope.Offer, envelope.Answer, envelope.Candidate:
		return nil
	default:
		return fmt.Errorf("%s: %w", envelopeURL, envelope.ErrUnrecognized)
	}
}

// ReconcileAll processes a batch. Failures are logged per envelope and never
// stop the batch. Move envelopes that arrived ahead of their predecessor are
// retried whenever the batch makes progress. The result lists envelopes to
// look at again on the next poll: those still waiting and those that failed
// on storage access.
func (r *Reconciler) ReconcileAll(ctx context.Context, urls []string, g *game.State) (deferred []string) {
	pending := urls
	var failed []string
	for len(pending) > 0 {
		var next []string
		progressed := false
		for _, u := range pending {
			head := ""
			if g != nil {
				head = g.MoveHead
			}
			err := r.Reconcile(ctx, u, g)
			if g != nil && g.MoveHead != head {
				progressed = true
			}
			switch {
			case err == nil:
			case errors.Is(err, ErrStale):
				next = append(next, u)
			case Rejected(err):
				obslog.L().Warn("envelope_rejected", zap.String("url", u), zap.Error(err))
			default:
				obslog.L().Warn("envelope_retry", zap.String("url", u), zap.Error(err))
				failed = append(failed, u)
			}
		}
		if !progressed {
			return append(next, failed...)
		}
		pending = next
	}
	return failed
}

// Rejected reports whether err condemns the envelope itself, so retrying it
// cannot help. Such envelopes stay in the inbox unacknowledged.
func Rejected(err error) bool {
	for _, target := range []error{
		envelope.ErrMalformed,
		envelope.ErrUnrecognized,
		game.ErrIllegalMove,
		game.ErrNotOpponentsTurn,
		game.ErrAlreadyApplied,
		game.ErrGameEnded,
		game.ErrNotParticipant,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (r *Reconciler) applyMove(ctx context.Context, envelopeURL string, e envelope.MoveLink, g *game.State) error {
	if g == nil {
		return ErrStale
	}
	if e.Game != "" && e.Game != g.URL {
		return ErrStale
	}
	if g.Applied(e.Move) {
		// duplicate delivery: the move is already part of the log
		return r.ack(ctx, envelopeURL)
	}
	if !g.IsHead(e.Prev) {
		return ErrStale
	}
	if e.Prev == "" && e.Game == "" {
		return fmt.Errorf("%w: first move without game", envelope.ErrMalformed)
	}

	san := e.SAN
	if san == "" {
		v, ok, err := pod.First(ctx, r.store, e.Move, vocab.HasSANRecord)
		if err != nil {
			return fmt.Errorf("read move %s: %w", e.Move, err)
		}
		if !ok {
			return fmt.Errorf("%w: move %s has no notation", envelope.ErrMalformed, e.Move)
		}
		san = v
	}

	// nothing is written or acknowledged for a move the log would reject
	if _, err := g.CheckRemoteMove(san, e.Move); err != nil {
		return err
	}
	link := e
	link.Game = g.URL
	if err := r.store.Write(ctx, r.storageURL, link.Facts()); err != nil {
		return fmt.Errorf("persist link: %w", err)
	}
	if err := g.ApplyRemoteMove(san, e.Move); err != nil {
		return err
	}
	ackErr := r.ack(ctx, envelopeURL)

	moves := g.Moves()
	mv := moves[len(moves)-1]
	obslog.L().Info("move_applied",
		zap.String("game", g.URL),
		zap.String("move", mv.URL),
		zap.String("san", mv.SAN),
		zap.String("turn", string(g.Turn)),
	)
	if r.cb.MoveApplied != nil {
		r.cb.MoveApplied(g, mv)
	}
	if g.Ended && r.cb.GameEnded != nil {
		r.cb.GameEnded(g)
	}
	// a leftover envelope is acknowledged as a duplicate next round
	return ackErr
}

func (r *Reconciler) applyInvitation(ctx context.Context, envelopeURL string, e envelope.Invitation) error {
	facts, err := r.store.Fetch(ctx, e.URL)
	if err != nil {
		return fmt.Errorf("read invitation %s: %w", e.URL, err)
	}
	inv, ok := handshake.ParseInvitation(e.URL, facts)
	if !ok {
		return fmt.Errorf("%w: invitation %s", envelope.ErrMalformed, e.URL)
	}
	if inv.Recipient != r.identity || inv.Result != "" {
		return nil
	}
	isGame, err := pod.HasType(ctx, r.store, inv.Event, vocab.ChessGame)
	if err != nil {
		return fmt.Errorf("read game %s: %w", inv.Event, err)
	}
	if !isGame {
		return nil
	}
	name, _, err := pod.First(ctx, r.store, inv.Event, vocab.Name)
	if err != nil {
		return fmt.Errorf("read game name %s: %w", inv.Event, err)
	}
	realTime, _, err := pod.First(ctx, r.store, inv.Event, vocab.IsRealTime)
	if err != nil {
		return fmt.Errorf("read game mode %s: %w", inv.Event, err)
	}
	j := handshake.JoinableGame{
		Game:         inv.Event,
		Name:         name,
		Invitation:   inv.URL,
		Envelope:     envelopeURL,
		Opponent:     inv.Agent,
		OpponentName: r.displayName(ctx, inv.Agent),
		RealTime:     realTime == "true",
	}
	if !r.registry.AddJoinable(j) {
		return nil
	}
	obslog.L().Info("joinable_game_found", zap.String("game", j.Game), zap.String("from", j.Opponent))
	if r.cb.JoinableGameFound != nil {
		r.cb.JoinableGameFound(j)
	}
	return nil
}

func (r *Reconciler) applyResponse(ctx context.Context, envelopeURL string, e envelope.ResponseLink) error {
	facts, err := r.store.Fetch(ctx, e.Response)
	if err != nil {
		return fmt.Errorf("read response %s: %w", e.Response, err)
	}
	resp, ok := handshake.ParseResponse(e.Response, facts)
	if !ok {
		return fmt.Errorf("%w: response %s", envelope.ErrMalformed, e.Response)
	}
	gameURL, _, err := pod.First(ctx, r.store, e.Invitation, vocab.Event)
	if err != nil && !errors.Is(err, pod.ErrNotFound) {
		return err
	}
	if err := r.store.Write(ctx, e.Invitation, e.Facts()); err != nil {
		return fmt.Errorf("persist result: %w", err)
	}
	if err := r.ack(ctx, envelopeURL); err != nil {
		return err
	}
	if !r.registry.Resolve(e.Invitation, resp.Accepted()) {
		return nil
	}
	a := Answer{Invitation: e.Invitation, Game: gameURL, From: resp.Agent, Accepted: resp.Accepted()}
	if gameURL != "" {
		rt, _, err := pod.First(ctx, r.store, gameURL, vocab.IsRealTime)
		if err != nil {
			obslog.L().Warn("game_mode_unread", zap.String("game", gameURL), zap.Error(err))
		}
		a.RealTime = rt == "true"
	}
	obslog.L().Info("invitation_answered",
		zap.String("invitation", a.Invitation),
		zap.String("from", a.From),
		zap.Bool("accepted", a.Accepted),
	)
	if r.cb.InvitationAnswered != nil {
		r.cb.InvitationAnswered(a)
	}
	return nil
}

func (r *Reconciler) applyGiveUp(ctx context.Context, envelopeURL string, e envelope.GiveUp, g *game.State) error {
	if g == nil || e.Game != g.URL {
		return ErrStale
	}
	if g.GiveUpBy == e.Agent {
		return r.ack(ctx, envelopeURL)
	}
	if err := g.CheckGiveUp(e.Agent); err != nil {
		return err
	}
	if err := r.store.Write(ctx, r.storageURL, game.GiveUpFacts(r.storageURL, e.Agent, e.Game)); err != nil {
		return fmt.Errorf("persist give-up: %w", err)
	}
	if err := g.ApplyGiveUp(e.Agent); err != nil {
		return err
	}
	ackErr := r.ack(ctx, envelopeURL)
	obslog.L().Info("opponent_gave_up", zap.String("game", g.URL), zap.String("agent", e.Agent))
	if r.cb.GameEnded != nil {
		r.cb.GameEnded(g)
	}
	return ackErr
}

// ack deletes a processed envelope; deletion is the acknowledgement.
func (r *Reconciler) ack(ctx context.Context, envelopeURL string) error {
	if envelopeURL == "" {
		return nil
	}
	if err := r.store.Delete(ctx, envelopeURL); err != nil && !errors.Is(err, pod.ErrNotFound) {
		return fmt.Errorf("delete envelope: %w", err)
	}
	return nil
}

func (r *Reconciler) displayName(ctx context.Context, identity string) string {
	if r.names == nil {
		return identity
	}
	return r.names.DisplayName(ctx, identity)
}
