// Package session ties one player's game, inbox and real-time connection
// together behind a single event loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/park285/solid-chess/internal/archive"
	"github.com/park285/solid-chess/internal/envelope"
	"github.com/park285/solid-chess/internal/game"
	"github.com/park285/solid-chess/internal/handshake"
	"github.com/park285/solid-chess/internal/inbox"
	"github.com/park285/solid-chess/internal/obslog"
	"github.com/park285/solid-chess/internal/pod"
	"github.com/park285/solid-chess/internal/reconcile"
	"github.com/park285/solid-chess/internal/signal"
)

var (
	ErrNoGame      = errors.New("no active game")
	ErrNotJoinable = errors.New("no pending invitation for that game")
	ErrNotRunning  = errors.New("session loop is not running")
)

// Callbacks notify the UI. They run on the session goroutine and must not
// call back into the session synchronously.
type Callbacks struct {
	MoveApplied        func(fen string, mv game.Move)
	JoinableGameFound  func(j handshake.JoinableGame)
	InvitationAnswered func(a reconcile.Answer)
	RealTimeReady      func()
	RealTimeClosed     func(byUser bool)
	GameEnded          func(result, method string)
}

// Archiver stores finished games.
type Archiver interface {
	SaveResult(ctx context.Context, rec archive.Record) error
}

type Options struct {
	Identity   string
	StorageURL string
	Store      pod.Store
	Directory  *pod.Directory

	PollInterval time.Duration
	// Watcher is optional; its nudges trigger an immediate poll.
	Watcher *inbox.Watcher
	// Transport is optional; without it real-time games fall back to inboxes.
	Transport      signal.Transport
	SignalInterval time.Duration
	Archive        Archiver

	Callbacks Callbacks
}

type command struct {
	fn   func(ctx context.Context) error
	done chan error
}

type rtEvent struct {
	engine *signal.Engine
	ready  bool
	byUser bool
}

type Session struct {
	opts     Options
	poller   *inbox.Poller
	registry *handshake.Registry
	rec      *reconcile.Reconciler

	cmds     chan command
	payloads chan envelope.Envelope
	rtEvents chan rtEvent
	running  chan struct{}
	stopped  chan struct{}

	// owned by the Run goroutine
	ctx       context.Context
	game      *game.State
	engine    *signal.Engine
	startedAt time.Time
	outbox    []outgoing
}

func New(opts Options) (*Session, error) {
	if opts.Identity == "" || opts.StorageURL == "" || opts.Store == nil {
		return nil, fmt.Errorf("session needs identity, storage url and store")
	}
	if opts.Directory == nil {
		opts.Directory = pod.NewDirectory(opts.Store)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.SignalInterval <= 0 {
		opts.SignalInterval = time.Second
	}
	s := &Session{
		opts:     opts,
		poller:   inbox.NewPoller(opts.Store, opts.Directory),
		registry: handshake.NewRegistry(),
		cmds:     make(chan command),
		payloads: make(chan envelope.Envelope, 64),
		rtEvents: make(chan rtEvent, 8),
		running:  make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	s.rec = reconcile.New(opts.Store, opts.Directory, opts.Identity, opts.StorageURL, s.registry, reconcile.Callbacks{
		MoveApplied:        s.onMoveApplied,
		JoinableGameFound:  s.onJoinable,
		InvitationAnswered: s.onAnswered,
		GameEnded:          s.onGameEnded,
	})
	return s, nil
}

// Run drives polling, nudges, data-channel payloads and commands until ctx
// is cancelled.
func (s *Session) Run(ctx context.Context) error {
	s.ctx = ctx
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	var nudges <-chan string
	if s.opts.Watcher != nil {
		nudges = s.opts.Watcher.Nudges()
	}
	close(s.running)
	defer close(s.stopped)
	defer s.stopEngine()

	obslog.L().Info("session_started", zap.String("identity", s.opts.Identity))
	s.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			obslog.L().Info("session_stopped", zap.String("identity", s.opts.Identity))
			return ctx.Err()
		case <-ticker.C:
			s.poll(ctx)
		case coll := <-nudges:
			obslog.L().Debug("inbox_nudged", zap.String("collection", coll))
			s.poll(ctx)
		case env := <-s.payloads:
			s.applyPayload(ctx, env)
		case ev := <-s.rtEvents:
			s.handleRealTime(ev)
		case c := <-s.cmds:
			c.done <- c.fn(ctx)
		}
	}
}

// Started is closed once Run accepts commands.
func (s *Session) Started() <-chan struct{} { return s.running }

// do runs fn on the session goroutine.
func (s *Session) do(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case <-s.running:
	default:
		return ErrNotRunning
	}
	c := command{fn: fn, done: make(chan error, 1)}
	select {
	case s.cmds <- c:
	case <-s.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-c.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PollNow checks the inbox immediately.
func (s *Session) PollNow(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) error {
		s.poll(ctx)
		return nil
	})
}

func (s *Session) poll(ctx context.Context) {
	s.flushOutbox(ctx)
	urls, err := s.poller.PollOnce(ctx, s.opts.Identity)
	if err != nil {
		obslog.L().Warn("inbox_poll_failed", zap.String("identity", s.opts.Identity), zap.Error(err))
		return
	}
	if len(urls) == 0 {
		return
	}
	for _, u := range s.rec.ReconcileAll(ctx, urls, s.game) {
		// waiting for its predecessor or for storage; list it again next round
		s.poller.Forget(u)
	}
}

func (s *Session) applyPayload(ctx context.Context, env envelope.Envelope) {
	if err := s.rec.Apply(ctx, "", env, s.game); err != nil {
		obslog.L().Warn("payload_skipped", zap.String("kind", string(env.Kind())), zap.Error(err))
	}
}

func (s *Session) onMoveApplied(g *game.State, mv game.Move) {
	if cb := s.opts.Callbacks.MoveApplied; cb != nil {
		cb(g.FEN(), mv)
	}
}

func (s *Session) onJoinable(j handshake.JoinableGame) {
	if cb := s.opts.Callbacks.JoinableGameFound; cb != nil {
		cb(j)
	}
}

func (s *Session) onAnswered(a reconcile.Answer) {
	if a.Accepted && a.RealTime && s.game != nil && s.game.URL == a.Game {
		s.startEngine(signal.Initiator)
	}
	if cb := s.opts.Callbacks.InvitationAnswered; cb != nil {
		cb(a)
	}
}

func (s *Session) onGameEnded(g *game.State) {
	obslog.L().Info("game_ended",
		zap.String("game", g.URL),
		zap.String("result", g.Result()),
		zap.String("method", g.Method()),
	)
	if s.opts.Archive != nil {
		rec := archive.FromState(s.ctx, g, s.opts.Directory, s.startedAt)
		if err := s.opts.Archive.SaveResult(s.ctx, rec); err != nil {
			obslog.L().Warn("archive_failed", zap.String("game", g.URL), zap.Error(err))
		}
	}
	if cb := s.opts.Callbacks.GameEnded; cb != nil {
		cb(g.Result(), g.Method())
	}
}
