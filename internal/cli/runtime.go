package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/solid-chess/internal/archive"
	"github.com/park285/solid-chess/internal/config"
	"github.com/park285/solid-chess/internal/game"
	"github.com/park285/solid-chess/internal/handshake"
	"github.com/park285/solid-chess/internal/inbox"
	"github.com/park285/solid-chess/internal/msgcat"
	"github.com/park285/solid-chess/internal/obslog"
	"github.com/park285/solid-chess/internal/pod"
	"github.com/park285/solid-chess/internal/reconcile"
	"github.com/park285/solid-chess/internal/rules"
	"github.com/park285/solid-chess/internal/session"
	"github.com/park285/solid-chess/internal/signal"
)

// Runtime is a running session plus what the commands need to talk to the
// user.
type Runtime struct {
	Session   *session.Session
	Directory *pod.Directory
	Catalog   *msgcat.Catalog
	Out       *Printer
	Identity  string

	// Ended is closed once the active game is over.
	Ended chan struct{}

	closers []func()
}

func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// Printer serializes writes coming from the session goroutine and the
// command goroutine.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewPrinter(w io.Writer) *Printer { return &Printer{w: w} }

func (p *Printer) Println(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, s)
}

// Opener builds a runtime; tests replace it.
type Opener func(ctx context.Context, out io.Writer) (*Runtime, error)

// OpenFromEnv wires a runtime from the environment configuration.
func OpenFromEnv(ctx context.Context, out io.Writer) (*Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Identity: cfg.WebID, Out: NewPrinter(out), Ended: make(chan struct{})}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	store, err := openStore(ctx, cfg, rt)
	if err != nil {
		return nil, err
	}
	rt.Directory = pod.NewDirectory(store)
	if rt.Catalog, err = msgcat.New(cfg.MessagesDir); err != nil {
		return nil, err
	}

	opts := session.Options{
		Identity:       cfg.WebID,
		StorageURL:     cfg.StorageURL,
		Store:          store,
		Directory:      rt.Directory,
		PollInterval:   cfg.PollInterval,
		SignalInterval: cfg.SignalInterval,
		Transport:      signal.PionTransport{ICEServers: cfg.ICEServers},
		Callbacks:      rt.callbacks(ctx),
	}
	if cfg.DatabaseURL != "" {
		repo, err := archive.NewRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() { _ = repo.Close() })
		opts.Archive = repo
	}
	if cfg.PodWSURL != "" {
		opts.Watcher = openWatcher(ctx, cfg, rt)
	}

	rt.Session, err = session.New(opts)
	if err != nil {
		return nil, err
	}
	rt.start(ctx)
	ok = true
	return rt, nil
}

func openStore(ctx context.Context, cfg *config.AppConfig, rt *Runtime) (pod.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return pod.NewMemoryStore(), nil
	case config.BackendRedis:
		rs, err := pod.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() { _ = rs.Close() })
		return rs, nil
	default:
		opts := []pod.HTTPOption{pod.WithTimeout(10 * time.Second), pod.WithRetry(3)}
		if cfg.PodToken != "" {
			opts = append(opts, pod.WithHeaderProvider(bearer(cfg.PodToken)))
		}
		return pod.NewHTTPStore(opts...), nil
	}
}

func bearer(token string) func() map[string]string {
	return func() map[string]string { return map[string]string{"Authorization": "Bearer " + token} }
}

// openWatcher subscribes to our inbox. A failed first dial is retried by the
// watcher in the background; polling covers the gap.
func openWatcher(ctx context.Context, cfg *config.AppConfig, rt *Runtime) *inbox.Watcher {
	box, err := rt.Directory.InboxOf(ctx, cfg.WebID)
	if err != nil {
		obslog.L().Warn("watcher_disabled", zap.Error(err))
		return nil
	}
	w := inbox.NewWatcher(cfg.PodWSURL, []string{box}, 0)
	if cfg.PodToken != "" {
		w.SetHeaderProvider(bearer(cfg.PodToken))
	}
	w.OnStateChange(func(s inbox.WatchState) {
		obslog.L().Debug("watcher_state", zap.String("state", s.String()))
	})
	if err := w.Connect(ctx); err != nil {
		obslog.L().Warn("watcher_connect_failed", zap.String("url", cfg.PodWSURL), zap.Error(err))
	}
	rt.closers = append(rt.closers, func() {
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = w.Close(cctx)
	})
	return w
}

// start runs the session loop until the runtime is closed.
func (rt *Runtime) start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := rt.Session.Run(ctx); err != nil && ctx.Err() == nil {
			obslog.L().Error("session_failed", zap.Error(err))
		}
	}()
	rt.closers = append(rt.closers, func() {
		cancel()
		<-done
	})
	select {
	case <-rt.Session.Started():
	case <-done:
	}
}

func (rt *Runtime) callbacks(ctx context.Context) session.Callbacks {
	var endOnce sync.Once
	say := func(key string, data any) { rt.Out.Println(rt.Catalog.Text(key, data)) }
	return session.Callbacks{
		MoveApplied: func(fen string, mv game.Move) {
			say("events.move_applied", map[string]string{"Player": string(moverOf(fen)), "SAN": mv.SAN})
		},
		JoinableGameFound: func(j handshake.JoinableGame) {
			say("events.joinable_game", map[string]string{"Opponent": j.OpponentName, "Name": j.Name})
		},
		InvitationAnswered: func(a reconcile.Answer) {
			name := rt.Directory.DisplayName(ctx, a.From)
			if a.Accepted {
				say("events.invitation_accepted", map[string]string{"Opponent": name})
			} else {
				say("events.invitation_declined", map[string]string{"Opponent": name})
			}
		},
		RealTimeReady: func() { say("events.realtime_ready", nil) },
		RealTimeClosed: func(byUser bool) {
			if byUser {
				say("events.realtime_closed", nil)
			} else {
				say("errors.opponent_disconnected", nil)
			}
		},
		GameEnded: func(result, method string) {
			say("events.game_ended", map[string]string{"Result": result, "Method": method})
			endOnce.Do(func() { close(rt.Ended) })
		},
	}
}

// moverOf reads the side that just moved from a FEN after the move.
func moverOf(fen string) rules.Color {
	fields := strings.Fields(fen)
	if len(fields) > 1 && fields[1] == "w" {
		return rules.Black
	}
	return rules.White
}
