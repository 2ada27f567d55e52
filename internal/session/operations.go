package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/park285/solid-chess/internal/envelope"
	"github.com/park285/solid-chess/internal/game"
	"github.com/park285/solid-chess/internal/handshake"
	"github.com/park285/solid-chess/internal/obslog"
	"github.com/park285/solid-chess/internal/pod"
	"github.com/park285/solid-chess/internal/rules"
	"github.com/park285/solid-chess/internal/signal"
)

type NewGameRequest struct {
	Opponent      string
	Color         handshake.ColorChoice
	Name          string
	StartPosition string
	RealTime      bool
}

// Snapshot is a read-only view of the active game.
type Snapshot struct {
	Game      string
	Name      string
	Opponent  string
	UserColor rules.Color
	Turn      rules.Color
	FEN       string
	SANs      []string
	RealTime  bool
	Connected bool
	Ended     bool
	Result    string
	Method    string
}

// NewGame creates a game in our storage, indexes it under our identity and
// invites the opponent. It returns the game URL.
func (s *Session) NewGame(ctx context.Context, req NewGameRequest) (string, error) {
	var gameURL string
	err := s.do(ctx, func(ctx context.Context) error {
		p := game.Params{
			URL:           pod.NewID(s.opts.StorageURL),
			User:          s.opts.Identity,
			Opponent:      req.Opponent,
			UserColor:     req.Color.Resolve(),
			Name:          req.Name,
			StartPosition: req.StartPosition,
			RealTime:      req.RealTime,
			StorageURL:    s.opts.StorageURL,
		}
		g, err := game.New(p)
		if err != nil {
			return err
		}
		inv, invFacts, env, err := handshake.CreateInvitation(s.opts.StorageURL, p.URL, s.opts.Identity, req.Opponent)
		if err != nil {
			return err
		}
		box, err := s.opts.Directory.InboxOf(ctx, req.Opponent)
		if err != nil {
			return err
		}
		facts := append(game.SetupFacts(p), invFacts...)
		if err := s.opts.Store.Write(ctx, s.opts.StorageURL, facts); err != nil {
			return fmt.Errorf("write game: %w", err)
		}
		if err := s.index(ctx, p.URL); err != nil {
			return err
		}
		if _, err := s.opts.Store.Post(ctx, box, env.Facts()); err != nil {
			return fmt.Errorf("send invitation: %w", err)
		}
		s.registry.TrackSent(inv.URL)
		s.activate(g)
		gameURL = p.URL
		obslog.L().Info("game_created",
			zap.String("game", p.URL),
			zap.String("opponent", req.Opponent),
			zap.String("color", string(p.UserColor)),
			zap.Bool("real_time", p.RealTime),
		)
		return nil
	})
	return gameURL, err
}

// Joinable lists received invitations in arrival order.
func (s *Session) Joinable() []handshake.JoinableGame { return s.registry.ListJoinable() }

// Join accepts the invitation for gameURL and makes that game active.
func (s *Session) Join(ctx context.Context, gameURL string) error {
	return s.do(ctx, func(ctx context.Context) error {
		j, ok := s.registry.Joinable(gameURL)
		if !ok {
			return fmt.Errorf("%s: %w", gameURL, ErrNotJoinable)
		}
		g, err := game.Reconstruct(ctx, s.opts.Store, gameURL, s.opts.Identity, s.opts.StorageURL)
		if err != nil {
			return err
		}
		if err := s.respond(ctx, j, "yes"); err != nil {
			return err
		}
		if err := s.index(ctx, gameURL); err != nil {
			return err
		}
		s.activate(g)
		obslog.L().Info("game_joined", zap.String("game", gameURL), zap.String("opponent", j.Opponent))
		if g.RealTime {
			s.startEngine(signal.Responder)
		}
		return nil
	})
}

// Decline answers "no" and forgets the invitation.
func (s *Session) Decline(ctx context.Context, gameURL string) error {
	return s.do(ctx, func(ctx context.Context) error {
		j, ok := s.registry.Joinable(gameURL)
		if !ok {
			return fmt.Errorf("%s: %w", gameURL, ErrNotJoinable)
		}
		if err := s.respond(ctx, j, "no"); err != nil {
			return err
		}
		obslog.L().Info("game_declined", zap.String("game", gameURL), zap.String("opponent", j.Opponent))
		return nil
	})
}

func (s *Session) respond(ctx context.Context, j handshake.JoinableGame, value string) error {
	_, facts, link, err := handshake.CreateResponse(s.opts.StorageURL, j.Invitation, s.opts.Identity, j.Opponent, value)
	if err != nil {
		return err
	}
	box, err := s.opts.Directory.InboxOf(ctx, j.Opponent)
	if err != nil {
		return err
	}
	if err := s.opts.Store.Write(ctx, s.opts.StorageURL, facts); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	if _, err := s.opts.Store.Post(ctx, box, link.Facts()); err != nil {
		return fmt.Errorf("send response: %w", err)
	}
	if j.Envelope != "" {
		if err := s.opts.Store.Delete(ctx, j.Envelope); err != nil && !errors.Is(err, pod.ErrNotFound) {
			obslog.L().Warn("invitation_ack_failed", zap.String("url", j.Envelope), zap.Error(err))
		}
	}
	s.registry.RemoveJoinable(j.Game)
	return nil
}

// GamesToContinue reads the game index kept in our identity document.
func (s *Session) GamesToContinue(ctx context.Context) ([]game.Listing, error) {
	facts, err := s.opts.Store.Fetch(ctx, s.opts.Identity)
	if errors.Is(err, pod.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return game.ListGames(facts, s.opts.Identity), nil
}

// Continue rebuilds gameURL from storage and makes it active. Real-time
// games continue over inboxes until a new connection is negotiated.
func (s *Session) Continue(ctx context.Context, gameURL string) error {
	return s.do(ctx, func(ctx context.Context) error {
		g, err := game.Reconstruct(ctx, s.opts.Store, gameURL, s.opts.Identity, s.opts.StorageURL)
		if err != nil {
			return err
		}
		s.activate(g)
		obslog.L().Info("game_continued", zap.String("game", gameURL), zap.Int("moves", len(g.Moves())))
		// envelopes deferred for an older game may apply now
		s.poll(ctx)
		return nil
	})
}

// ApplyLocalMove plays notation (SAN or UCI) for the user and delivers it.
func (s *Session) ApplyLocalMove(ctx context.Context, notation string) (game.Move, error) {
	var played game.Move
	err := s.do(ctx, func(ctx context.Context) error {
		g := s.game
		if g == nil {
			return ErrNoGame
		}
		entry, link, err := g.ApplyLocalMove(notation)
		if err != nil {
			return err
		}
		if err := s.opts.Store.Write(ctx, s.opts.StorageURL, entry.Facts); err != nil {
			s.reload(ctx)
			return fmt.Errorf("persist move: %w", err)
		}
		s.deliver(ctx, link)
		played = entry.Move
		obslog.L().Info("move_played",
			zap.String("game", g.URL),
			zap.String("move", played.URL),
			zap.String("san", played.SAN),
		)
		s.onMoveApplied(g, played)
		if g.Ended {
			s.onGameEnded(g)
		}
		return nil
	})
	return played, err
}

// GiveUp ends the active game on the user's behalf.
func (s *Session) GiveUp(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) error {
		g := s.game
		if g == nil {
			return ErrNoGame
		}
		entry, gu, err := g.GiveUp()
		if err != nil {
			return err
		}
		if err := s.opts.Store.Write(ctx, s.opts.StorageURL, entry.Facts); err != nil {
			s.reload(ctx)
			return fmt.Errorf("persist give-up: %w", err)
		}
		s.deliver(ctx, gu)
		s.onGameEnded(g)
		return nil
	})
}

// Snapshot describes the active game.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func(context.Context) error {
		g := s.game
		if g == nil {
			return ErrNoGame
		}
		snap = Snapshot{
			Game:      g.URL,
			Name:      g.Name,
			Opponent:  g.OpponentIdentity,
			UserColor: g.UserColor,
			Turn:      g.Turn,
			FEN:       g.FEN(),
			SANs:      g.SANs(),
			RealTime:  g.RealTime,
			Connected: s.engine != nil && s.engine.Phase() == signal.PhaseReady,
			Ended:     g.Ended,
			Result:    g.Result(),
			Method:    g.Method(),
		}
		return nil
	})
	return snap, err
}

// Stop hangs up the real-time connection, if any. The game goes on over
// inboxes.
func (s *Session) Stop(ctx context.Context) error {
	return s.do(ctx, func(context.Context) error {
		s.stopEngine()
		return nil
	})
}

// deliver sends env over the open data channel, or to the opponent's inbox.
// The local side has already committed env, so an inbox failure queues it
// for the next poll instead of failing the action.
func (s *Session) deliver(ctx context.Context, env envelope.Envelope) {
	if len(s.outbox) == 0 && s.engine != nil && s.engine.Phase() == signal.PhaseReady {
		err := s.engine.Send(env)
		if err == nil {
			return
		}
		obslog.L().Warn("datachannel_send_failed", zap.Error(err))
	}
	s.outbox = append(s.outbox, outgoing{to: s.game.OpponentIdentity, env: env})
	s.flushOutbox(ctx)
}

type outgoing struct {
	to  string
	env envelope.Envelope
}

// flushOutbox posts queued envelopes in order and stops at the first failure.
func (s *Session) flushOutbox(ctx context.Context) {
	for len(s.outbox) > 0 {
		o := s.outbox[0]
		if err := s.post(ctx, o.to, o.env); err != nil {
			obslog.L().Warn("delivery_pending",
				zap.String("to", o.to),
				zap.String("kind", string(o.env.Kind())),
				zap.Int("queued", len(s.outbox)),
				zap.Error(err),
			)
			return
		}
		s.outbox = s.outbox[1:]
	}
}

func (s *Session) post(ctx context.Context, to string, env envelope.Envelope) error {
	box, err := s.opts.Directory.InboxOf(ctx, to)
	if err != nil {
		return err
	}
	if _, err := s.opts.Store.Post(ctx, box, env.Facts()); err != nil {
		return fmt.Errorf("send %s: %w", env.Kind(), err)
	}
	return nil
}

// Pending counts envelopes still waiting for delivery.
func (s *Session) Pending(ctx context.Context) (int, error) {
	var n int
	err := s.do(ctx, func(context.Context) error {
		n = len(s.outbox)
		return nil
	})
	return n, err
}

func (s *Session) index(ctx context.Context, gameURL string) error {
	if err := s.opts.Store.Write(ctx, s.opts.Identity, game.IndexFacts(s.opts.Identity, gameURL, s.opts.StorageURL)); err != nil {
		return fmt.Errorf("index game: %w", err)
	}
	return nil
}

func (s *Session) activate(g *game.State) {
	if s.game != nil && s.game.URL != g.URL {
		s.stopEngine()
	}
	s.game = g
	s.startedAt = time.Now()
}

// reload restores the active game from storage after a failed write left
// memory ahead of it.
func (s *Session) reload(ctx context.Context) {
	g, err := game.Reconstruct(ctx, s.opts.Store, s.game.URL, s.opts.Identity, s.opts.StorageURL)
	if err != nil {
		obslog.L().Warn("game_reload_failed", zap.String("game", s.game.URL), zap.Error(err))
		return
	}
	s.game = g
}
