package signal

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/park285/solid-chess/internal/obslog"
)

const channelLabel = "moves"

// PionTransport builds peers on pion/webrtc.
type PionTransport struct {
	ICEServers []string
}

func (t PionTransport) NewPeer(h Handlers) (Peer, error) {
	cfg := webrtc.Configuration{}
	if len(t.ICEServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: t.ICEServers}}
	}
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	q := newCallbackQueue()
	p := &pionPeer{pc: pc, q: q}

	out, err := pc.CreateDataChannel(channelLabel, nil)
	if err != nil {
		q.stop()
		_ = pc.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	p.out = out
	out.OnOpen(func() { q.push(func() { call1(h.ChannelOpen, false) }) })
	out.OnClose(func() { q.push(func() { call1(h.ChannelClosed, false) }) })

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnOpen(func() { q.push(func() { call1(h.ChannelOpen, true) }) })
		dc.OnClose(func() { q.push(func() { call1(h.ChannelClosed, true) }) })
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			data := msg.Data
			q.push(func() {
				if h.Message != nil {
					h.Message(data)
				}
			})
		})
	})
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			obslog.L().Warn("pion_candidate_encode_failed", zap.Error(err))
			return
		}
		q.push(func() {
			if h.Candidate != nil {
				h.Candidate(string(raw))
			}
		})
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		obslog.L().Debug("pion_connection_state", zap.String("state", s.String()))
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
			q.push(func() {
				if h.Disconnected != nil {
					h.Disconnected()
				}
			})
		}
	})
	return p, nil
}

func call1(fn func(bool), v bool) {
	if fn != nil {
		fn(v)
	}
}

type pionPeer struct {
	pc  *webrtc.PeerConnection
	out *webrtc.DataChannel
	q   *callbackQueue
}

func (p *pionPeer) CreateOffer() (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (p *pionPeer) CreateAnswer() (string, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (p *pionPeer) SetRemoteDescription(kind DescriptionKind, sdp string) error {
	typ := webrtc.SDPTypeOffer
	if kind == DescriptionAnswer {
		typ = webrtc.SDPTypeAnswer
	}
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: sdp})
}

func (p *pionPeer) AddCandidate(data string) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(data), &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return p.pc.AddICECandidate(init)
}

func (p *pionPeer) Send(data []byte) error { return p.out.SendText(string(data)) }

func (p *pionPeer) Close() error {
	err := p.pc.Close()
	p.q.stop()
	return err
}

// callbackQueue runs pion callbacks one at a time on its own goroutine, in
// the order pion raised them.
type callbackQueue struct {
	ch   chan func()
	done chan struct{}
	once sync.Once
}

func newCallbackQueue() *callbackQueue {
	q := &callbackQueue{ch: make(chan func(), 64), done: make(chan struct{})}
	go q.run()
	return q
}

func (q *callbackQueue) run() {
	for {
		select {
		case fn := <-q.ch:
			fn()
		case <-q.done:
			return
		}
	}
}

func (q *callbackQueue) push(fn func()) {
	select {
	case q.ch <- fn:
	case <-q.done:
	}
}

func (q *callbackQueue) stop() { q.once.Do(func() { close(q.done) }) }
