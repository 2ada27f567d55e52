package session

import (
	"go.uber.org/zap"

	"github.com/park285/solid-chess/internal/envelope"
	"github.com/park285/solid-chess/internal/obslog"
	"github.com/park285/solid-chess/internal/signal"
)

func (s *Session) startEngine(role signal.Role) {
	if s.opts.Transport == nil || s.game == nil {
		return
	}
	s.stopEngine()

	var e *signal.Engine
	e = signal.NewEngine(signal.Config{
		Role:     role,
		Self:     s.opts.Identity,
		Peer:     s.game.OpponentIdentity,
		Store:    s.opts.Store,
		Inboxes:  s.opts.Directory,
		Interval: s.opts.SignalInterval,
	}, s.opts.Transport, signal.Events{
		Ready:   func() { s.notifyRealTime(rtEvent{engine: e, ready: true}) },
		Closed:  func(byUser bool) { s.notifyRealTime(rtEvent{engine: e, byUser: byUser}) },
		Payload: s.enqueuePayload,
	})
	if err := e.Start(s.ctx); err != nil {
		obslog.L().Warn("realtime_start_failed", zap.String("role", role.String()), zap.Error(err))
		return
	}
	s.engine = e
}

func (s *Session) stopEngine() {
	if s.engine == nil {
		return
	}
	s.engine.Stop()
}

// notifyRealTime may run on the session goroutine itself (Stop), so it never
// blocks on the loop.
func (s *Session) notifyRealTime(ev rtEvent) {
	select {
	case s.rtEvents <- ev:
	default:
		go func() {
			select {
			case s.rtEvents <- ev:
			case <-s.stopped:
			}
		}()
	}
}

func (s *Session) enqueuePayload(env envelope.Envelope) {
	select {
	case s.payloads <- env:
	case <-s.stopped:
	}
}

func (s *Session) handleRealTime(ev rtEvent) {
	if ev.engine != s.engine {
		// a replaced connection reporting late
		if !ev.ready {
			obslog.L().Debug("stale_realtime_close", zap.Bool("by_user", ev.byUser))
		}
		return
	}
	if ev.ready {
		obslog.L().Info("realtime_ready")
		if cb := s.opts.Callbacks.RealTimeReady; cb != nil {
			cb()
		}
		return
	}
	s.engine = nil
	obslog.L().Info("realtime_closed", zap.Bool("by_user", ev.byUser))
	if cb := s.opts.Callbacks.RealTimeClosed; cb != nil {
		cb(ev.byUser)
	}
}
