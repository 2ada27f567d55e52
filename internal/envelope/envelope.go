// Package envelope encodes and classifies the small notification resources
// exchanged through inboxes and the real-time data channel.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/park285/solid-chess/internal/pod"
	"github.com/park285/solid-chess/internal/vocab"
)

var (
	ErrMalformed    = errors.New("malformed envelope")
	ErrUnrecognized = errors.New("unrecognized envelope")
)

type Kind string

const (
	KindMoveLink  Kind = "move_link"
	KindInvite    Kind = "invitation"
	KindResponse  Kind = "response"
	KindGiveUp    Kind = "give_up"
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "candidate"
)

// Envelope is one of MoveLink, Invitation, ResponseLink, GiveUp, Offer,
// Answer or Candidate.
type Envelope interface {
	Kind() Kind
	// Facts renders the envelope; an empty subject stands for the envelope itself.
	Facts() []pod.Fact
}

// MoveLink announces a new move. Prev is empty for the first move of Game.
// SAN is optional; without it the receiver reads the move's own document.
type MoveLink struct {
	Game string
	Prev string
	Move string
	SAN  string
	Last bool
}

func (MoveLink) Kind() Kind { return KindMoveLink }

func (m MoveLink) Facts() []pod.Fact {
	var out []pod.Fact
	if m.Prev == "" {
		out = append(out, pod.Link(m.Game, vocab.HasFirstHalfMove, m.Move))
	} else {
		out = append(out, pod.Link(m.Prev, vocab.NextHalfMove, m.Move))
	}
	if m.Game != "" {
		out = append(out, pod.Link(m.Move, vocab.SubEvent, m.Game))
	}
	if m.SAN != "" {
		out = append(out, pod.Lit(m.Move, vocab.HasSANRecord, m.SAN))
	}
	if m.Last {
		out = append(out, pod.Link(m.Game, vocab.HasLastHalfMove, m.Move))
	}
	return out
}

// Invitation points at an invitation resource stored by its sender.
type Invitation struct{ URL string }

func (Invitation) Kind() Kind { return KindInvite }

func (i Invitation) Facts() []pod.Fact {
	return []pod.Fact{pod.Link(i.URL, vocab.Type, vocab.InviteAction)}
}

// ResponseLink ties an invitation to the RSVP answering it.
type ResponseLink struct {
	Invitation string
	Response   string
}

func (ResponseLink) Kind() Kind { return KindResponse }

func (r ResponseLink) Facts() []pod.Fact {
	return []pod.Fact{pod.Link(r.Invitation, vocab.Result, r.Response)}
}

// GiveUp reports that Agent abandoned Game.
type GiveUp struct {
	URL   string
	Agent string
	Game  string
}

func (GiveUp) Kind() Kind { return KindGiveUp }

func (g GiveUp) Facts() []pod.Fact {
	return []pod.Fact{
		pod.Link(g.URL, vocab.Type, vocab.GiveUpAction),
		pod.Link(g.URL, vocab.Agent, g.Agent),
		pod.Link(g.URL, vocab.Object, g.Game),
	}
}

type Offer struct{ SDP string }

func (Offer) Kind() Kind          { return KindOffer }
func (o Offer) Facts() []pod.Fact { return described(vocab.WebRTCOffer, o.SDP) }

type Answer struct{ SDP string }

func (Answer) Kind() Kind          { return KindAnswer }
func (a Answer) Facts() []pod.Fact { return described(vocab.WebRTCAnswer, a.SDP) }

// Candidate carries one ICE candidate serialized by the transport.
type Candidate struct{ Data string }

func (Candidate) Kind() Kind          { return KindCandidate }
func (c Candidate) Facts() []pod.Fact { return described(vocab.ICECandidate, c.Data) }

func described(typ, desc string) []pod.Fact {
	return []pod.Fact{pod.Link("", vocab.Type, typ), pod.Lit("", vocab.Description, desc)}
}

// Decode classifies the facts of an envelope resource. Shapes are tried in a
// fixed order so a document matching several is always read the same way.
func Decode(url string, facts []pod.Fact) (Envelope, error) {
	if len(facts) == 0 {
		return nil, fmt.Errorf("%s: %w", url, ErrUnrecognized)
	}
	for _, try := range decoders {
		env, ok, err := try(facts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", url, err)
		}
		if ok {
			return env, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", url, ErrUnrecognized)
}

var decoders = []func([]pod.Fact) (Envelope, bool, error){
	decodeMoveLink,
	decodeInvitation,
	decodeResponse,
	decodeGiveUp,
	decodeDescribed(vocab.WebRTCOffer, func(s string) Envelope { return Offer{SDP: s} }),
	decodeDescribed(vocab.WebRTCAnswer, func(s string) Envelope { return Answer{SDP: s} }),
	decodeDescribed(vocab.ICECandidate, func(s string) Envelope { return Candidate{Data: s} }),
}

func decodeMoveLink(facts []pod.Fact) (Envelope, bool, error) {
	var m MoveLink
	for _, f := range facts {
		switch f.Predicate {
		case vocab.NextHalfMove:
			m.Prev, m.Move = f.Subject, f.Object
		case vocab.HasFirstHalfMove:
			m.Game, m.Move = f.Subject, f.Object
		}
	}
	if m.Move == "" {
		return nil, false, nil
	}
	if games := pod.Match(facts, m.Move, vocab.SubEvent); len(games) > 0 {
		if m.Game != "" && m.Game != games[0] {
			return nil, false, fmt.Errorf("%w: move %s claims two games", ErrMalformed, m.Move)
		}
		m.Game = games[0]
	}
	if sans := pod.Match(facts, m.Move, vocab.HasSANRecord); len(sans) > 0 {
		m.SAN = sans[0]
	}
	for _, last := range pod.Match(facts, "", vocab.HasLastHalfMove) {
		if last == m.Move {
			m.Last = true
		}
	}
	return m, true, nil
}

func decodeInvitation(facts []pod.Fact) (Envelope, bool, error) {
	subs := pod.SubjectsOf(facts, vocab.Type, vocab.InviteAction)
	if len(subs) == 0 {
		return nil, false, nil
	}
	if subs[0] == "" {
		return nil, false, fmt.Errorf("%w: invitation without url", ErrMalformed)
	}
	return Invitation{URL: subs[0]}, true, nil
}

func decodeResponse(facts []pod.Fact) (Envelope, bool, error) {
	for _, f := range facts {
		if f.Predicate == vocab.Result {
			if f.Subject == "" || f.Object == "" {
				return nil, false, fmt.Errorf("%w: dangling response link", ErrMalformed)
			}
			return ResponseLink{Invitation: f.Subject, Response: f.Object}, true, nil
		}
	}
	return nil, false, nil
}

func decodeGiveUp(facts []pod.Fact) (Envelope, bool, error) {
	subs := pod.SubjectsOf(facts, vocab.Type, vocab.GiveUpAction)
	if len(subs) == 0 {
		return nil, false, nil
	}
	g := GiveUp{URL: subs[0]}
	if v := pod.Match(facts, g.URL, vocab.Agent); len(v) > 0 {
		g.Agent = v[0]
	}
	if v := pod.Match(facts, g.URL, vocab.Object); len(v) > 0 {
		g.Game = v[0]
	}
	if g.Agent == "" || g.Game == "" {
		return nil, false, fmt.Errorf("%w: give-up needs agent and game", ErrMalformed)
	}
	return g, true, nil
}

func decodeDescribed(typ string, build func(string) Envelope) func([]pod.Fact) (Envelope, bool, error) {
	return func(facts []pod.Fact) (Envelope, bool, error) {
		subs := pod.SubjectsOf(facts, vocab.Type, typ)
		if len(subs) == 0 {
			return nil, false, nil
		}
		for _, f := range facts {
			if f.Subject == subs[0] && f.Predicate == vocab.Description && f.Literal {
				return build(f.Object), true, nil
			}
		}
		return nil, false, fmt.Errorf("%w: %s without description", ErrMalformed, typ)
	}
}

// Marshal renders an envelope for the data channel.
func Marshal(env Envelope) ([]byte, error) {
	return json.Marshal(env.Facts())
}

// Unmarshal reads a data-channel payload produced by Marshal.
func Unmarshal(data []byte) (Envelope, error) {
	var facts []pod.Fact
	if err := json.Unmarshal(data, &facts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return Decode("datachannel", facts)
}
