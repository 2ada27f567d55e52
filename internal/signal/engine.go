// Package signal negotiates the real-time data channel between two players
// by exchanging offer, answer and candidate envelopes through their inboxes.
package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/solid-chess/internal/envelope"
	"github.com/park285/solid-chess/internal/inbox"
	"github.com/park285/solid-chess/internal/obslog"
	"github.com/park285/solid-chess/internal/pod"
)

var (
	ErrTransport  = errors.New("real-time transport failure")
	ErrNotReady   = errors.New("data channel not ready")
	ErrStarted    = errors.New("signaling already started")
	ErrNoPeerInfo = errors.New("signaling needs a store, inbox resolver and both identities")
)

type Role int

const (
	Initiator Role = iota
	Responder
)

func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseOfferCreated
	PhaseWaitingForAnswer
	PhaseWaitingForOffer
	PhaseRemoteDescriptionSet
	PhaseAnswerCreated
	PhaseAnswerSent
	PhaseReady
	PhaseClosed
)

var phaseNames = [...]string{
	"idle", "offer_created", "waiting_for_answer", "waiting_for_offer",
	"remote_description_set", "answer_created", "answer_sent", "ready", "closed",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Config describes one side of a negotiation. Self is the identity whose
// inbox is watched, Peer the identity whose inbox receives our envelopes.
type Config struct {
	Role     Role
	Self     string
	Peer     string
	Store    pod.Store
	Inboxes  inbox.InboxResolver
	Interval time.Duration
}

// Events are fired outside the engine lock. Nil entries are skipped.
type Events struct {
	Ready   func()
	Closed  func(byUser bool)
	Payload func(env envelope.Envelope)
}

type eventKind int

const (
	evStart eventKind = iota
	evTick
	evRemoteOffer
	evRemoteAnswer
	evRemoteCandidate
	evLocalCandidate
	evChannelOpen
	evChannelClosed
	evDisconnected
	evMessage
	evStop
)

type event struct {
	kind    eventKind
	data    string
	inbound bool
	payload []byte
}

type state struct {
	phase Phase

	localSet  bool
	remoteSet bool
	// early holds remote candidates received before the remote description.
	early []string
	// unsent holds local candidates not yet posted to the peer.
	unsent []string
	// sdp is the local description kept for reposting after a failed post.
	sdp string

	outOpen bool
	inOpen  bool
	closed  bool
}

// Engine drives one negotiation. All transitions go through dispatch.
type Engine struct {
	cfg       Config
	transport Transport
	events    Events

	mu     sync.Mutex
	st     state
	peer   Peer
	ctx    context.Context
	cancel context.CancelFunc
}

func NewEngine(cfg Config, transport Transport, events Events) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Engine{cfg: cfg, transport: transport, events: events}
}

func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.phase
}

// Start builds the peer connection, takes the first step for the role and
// launches the inbox watchers.
func (e *Engine) Start(ctx context.Context) error {
	if e.cfg.Store == nil || e.cfg.Inboxes == nil || e.cfg.Self == "" || e.cfg.Peer == "" {
		return ErrNoPeerInfo
	}
	e.mu.Lock()
	if e.peer != nil || e.st.closed {
		e.mu.Unlock()
		return ErrStarted
	}
	e.mu.Unlock()

	peer, err := e.transport.NewPeer(Handlers{
		Candidate:     func(data string) { _ = e.dispatch(event{kind: evLocalCandidate, data: data}) },
		ChannelOpen:   func(inbound bool) { _ = e.dispatch(event{kind: evChannelOpen, inbound: inbound}) },
		ChannelClosed: func(inbound bool) { _ = e.dispatch(event{kind: evChannelClosed, inbound: inbound}) },
		Message:       func(data []byte) { _ = e.dispatch(event{kind: evMessage, payload: data}) },
		Disconnected:  func() { _ = e.dispatch(event{kind: evDisconnected}) },
	})
	if err != nil {
		return fmt.Errorf("%w: new peer: %v", ErrTransport, err)
	}

	wctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.peer = peer
	e.ctx = wctx
	e.cancel = cancel
	e.mu.Unlock()

	if err := e.dispatch(event{kind: evStart}); err != nil {
		e.Stop()
		return err
	}

	obslog.L().Info("signal_started",
		zap.String("role", e.cfg.Role.String()),
		zap.String("peer", e.cfg.Peer),
	)
	want := envelope.KindAnswer
	if e.cfg.Role == Responder {
		want = envelope.KindOffer
	}
	go e.watch(wctx, want)
	go e.watch(wctx, envelope.KindCandidate)
	return nil
}

// Stop closes the connection on the user's behalf.
func (e *Engine) Stop() { _ = e.dispatch(event{kind: evStop}) }

// HandleEnvelope feeds a signaling envelope found in our inbox.
func (e *Engine) HandleEnvelope(env envelope.Envelope) {
	switch v := env.(type) {
	case envelope.Offer:
		_ = e.dispatch(event{kind: evRemoteOffer, data: v.SDP})
	case envelope.Answer:
		_ = e.dispatch(event{kind: evRemoteAnswer, data: v.SDP})
	case envelope.Candidate:
		_ = e.dispatch(event{kind: evRemoteCandidate, data: v.Data})
	}
}

// Send writes an envelope to the open data channel.
func (e *Engine) Send(env envelope.Envelope) error {
	data, err := envelope.Marshal(env)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st.phase != PhaseReady {
		return ErrNotReady
	}
	if err := e.peer.Send(data); err != nil {
		return fmt.Errorf("%w: send: %v", ErrTransport, err)
	}
	return nil
}

func (e *Engine) dispatch(ev event) error {
	e.mu.Lock()
	notify, err := e.reduce(ev)
	e.mu.Unlock()
	for _, fn := range notify {
		fn()
	}
	return err
}

// reduce applies one event. It runs under e.mu and returns the callbacks to
// fire once the lock is released.
func (e *Engine) reduce(ev event) ([]func(), error) {
	if e.st.closed {
		return nil, nil
	}
	switch ev.kind {
	case evStart:
		return nil, e.begin()

	case evTick:
		e.repost()
		return nil, nil

	case evRemoteOffer:
		if e.cfg.Role != Responder || e.st.phase != PhaseWaitingForOffer {
			return nil, nil
		}
		if err := e.peer.SetRemoteDescription(DescriptionOffer, ev.data); err != nil {
			e.transportFailed("set_remote_offer", err)
			return nil, nil
		}
		e.remoteApplied()
		sdp, err := e.peer.CreateAnswer()
		if err != nil {
			e.transportFailed("create_answer", err)
			return nil, nil
		}
		e.st.sdp = sdp
		e.st.localSet = true
		e.setPhase(PhaseAnswerCreated)
		if e.post(envelope.Answer{SDP: sdp}) == nil {
			e.setPhase(PhaseAnswerSent)
		}
		e.flushLocal()
		return e.maybeReady(), nil

	case evRemoteAnswer:
		if e.cfg.Role != Initiator || e.st.phase != PhaseWaitingForAnswer {
			return nil, nil
		}
		if err := e.peer.SetRemoteDescription(DescriptionAnswer, ev.data); err != nil {
			e.transportFailed("set_remote_answer", err)
			return nil, nil
		}
		e.remoteApplied()
		return e.maybeReady(), nil

	case evRemoteCandidate:
		if !e.st.remoteSet {
			e.st.early = append(e.st.early, ev.data)
			return nil, nil
		}
		if err := e.peer.AddCandidate(ev.data); err != nil {
			obslog.L().Warn("signal_candidate_rejected", zap.Error(err))
		}
		return nil, nil

	case evLocalCandidate:
		e.st.unsent = append(e.st.unsent, ev.data)
		if e.st.localSet {
			e.flushLocal()
		}
		return nil, nil

	case evChannelOpen:
		if ev.inbound {
			e.st.inOpen = true
		} else {
			e.st.outOpen = true
		}
		return e.maybeReady(), nil

	case evChannelClosed, evDisconnected:
		if e.st.phase != PhaseReady {
			obslog.L().Warn("signal_transport_lost_before_ready", zap.String("phase", e.st.phase.String()))
			return nil, nil
		}
		return e.close(false), nil

	case evMessage:
		if e.st.phase != PhaseReady {
			return nil, nil
		}
		env, err := envelope.Unmarshal(ev.payload)
		if err != nil {
			obslog.L().Warn("signal_payload_skipped", zap.Error(err))
			return nil, nil
		}
		if e.events.Payload == nil {
			return nil, nil
		}
		return []func(){func() { e.events.Payload(env) }}, nil

	case evStop:
		return e.close(true), nil
	}
	return nil, nil
}

func (e *Engine) begin() error {
	if e.st.phase != PhaseIdle {
		return nil
	}
	if e.cfg.Role == Responder {
		e.setPhase(PhaseWaitingForOffer)
		return nil
	}
	sdp, err := e.peer.CreateOffer()
	if err != nil {
		return fmt.Errorf("%w: create offer: %v", ErrTransport, err)
	}
	e.st.sdp = sdp
	e.st.localSet = true
	e.setPhase(PhaseOfferCreated)
	if e.post(envelope.Offer{SDP: sdp}) == nil {
		e.setPhase(PhaseWaitingForAnswer)
	}
	e.flushLocal()
	return nil
}

// repost retries a description whose delivery failed earlier.
func (e *Engine) repost() {
	switch e.st.phase {
	case PhaseOfferCreated:
		if e.post(envelope.Offer{SDP: e.st.sdp}) == nil {
			e.setPhase(PhaseWaitingForAnswer)
		}
	case PhaseAnswerCreated:
		if e.post(envelope.Answer{SDP: e.st.sdp}) == nil {
			e.setPhase(PhaseAnswerSent)
		}
	}
	if e.st.localSet {
		e.flushLocal()
	}
}

// remoteApplied marks the remote description set and applies buffered
// candidates in arrival order.
func (e *Engine) remoteApplied() {
	e.st.remoteSet = true
	if e.cfg.Role == Initiator {
		e.setPhase(PhaseRemoteDescriptionSet)
	}
	early := e.st.early
	e.st.early = nil
	for _, c := range early {
		if err := e.peer.AddCandidate(c); err != nil {
			obslog.L().Warn("signal_candidate_rejected", zap.Error(err))
		}
	}
}

func (e *Engine) flushLocal() {
	for len(e.st.unsent) > 0 {
		if e.post(envelope.Candidate{Data: e.st.unsent[0]}) != nil {
			return
		}
		e.st.unsent = e.st.unsent[1:]
	}
}

func (e *Engine) maybeReady() []func() {
	if e.st.phase == PhaseReady || !e.st.outOpen || !e.st.inOpen || !e.st.remoteSet {
		return nil
	}
	e.setPhase(PhaseReady)
	if e.events.Ready == nil {
		return nil
	}
	return []func(){e.events.Ready}
}

func (e *Engine) close(byUser bool) []func() {
	e.st.closed = true
	e.setPhase(PhaseClosed)
	if e.cancel != nil {
		e.cancel()
	}
	if e.peer != nil {
		if err := e.peer.Close(); err != nil {
			obslog.L().Debug("signal_close_error", zap.Error(err))
		}
	}
	obslog.L().Info("signal_closed", zap.Bool("by_user", byUser))
	if e.events.Closed == nil {
		return nil
	}
	return []func(){func() { e.events.Closed(byUser) }}
}

func (e *Engine) setPhase(p Phase) {
	obslog.L().Debug("signal_phase",
		zap.String("role", e.cfg.Role.String()),
		zap.String("from", e.st.phase.String()),
		zap.String("to", p.String()),
	)
	e.st.phase = p
}

func (e *Engine) transportFailed(step string, err error) {
	obslog.L().Warn("signal_transport_failed", zap.String("step", step), zap.Error(err))
}

func (e *Engine) post(env envelope.Envelope) error {
	ctx := e.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	box, err := e.cfg.Inboxes.InboxOf(ctx, e.cfg.Peer)
	if err == nil {
		_, err = e.cfg.Store.Post(ctx, box, env.Facts())
	}
	if err != nil {
		obslog.L().Warn("signal_post_failed", zap.String("kind", string(env.Kind())), zap.Error(err))
	}
	return err
}

// watch polls our inbox for one kind of signaling envelope until its
// condition is met or the engine stops.
func (e *Engine) watch(ctx context.Context, want envelope.Kind) {
	poller := inbox.NewPoller(e.cfg.Store, e.cfg.Inboxes)
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	for {
		if e.pollFor(ctx, poller, want) {
			obslog.L().Debug("signal_watcher_done", zap.String("kind", string(want)))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (e *Engine) pollFor(ctx context.Context, poller *inbox.Poller, want envelope.Kind) bool {
	_ = e.dispatch(event{kind: evTick})
	urls, err := poller.PollOnce(ctx, e.cfg.Self)
	if err != nil {
		obslog.L().Warn("signal_poll_failed", zap.String("kind", string(want)), zap.Error(err))
		return e.watchDone(want)
	}
	for _, u := range urls {
		facts, err := e.cfg.Store.Fetch(ctx, u)
		if err != nil {
			if !errors.Is(err, pod.ErrNotFound) {
				poller.Forget(u)
			}
			continue
		}
		env, err := envelope.Decode(u, facts)
		if err != nil || env.Kind() != want {
			continue
		}
		e.HandleEnvelope(env)
		if err := e.cfg.Store.Delete(ctx, u); err != nil {
			obslog.L().Warn("signal_ack_failed", zap.String("url", u), zap.Error(err))
		}
	}
	return e.watchDone(want)
}

func (e *Engine) watchDone(want envelope.Kind) bool {
	p := e.Phase()
	switch {
	case p == PhaseClosed || p == PhaseReady:
		return true
	case want == envelope.KindOffer:
		return p != PhaseIdle && p != PhaseWaitingForOffer
	case want == envelope.KindAnswer:
		return p == PhaseRemoteDescriptionSet
	}
	return false
}
