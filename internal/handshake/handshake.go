// Package handshake builds invitations to a game and the RSVP responses to
// them, and tracks which invitations are waiting to be joined.
package handshake

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"

	"github.com/park285/solid-chess/internal/envelope"
	"github.com/park285/solid-chess/internal/pod"
	"github.com/park285/solid-chess/internal/rules"
	"github.com/park285/solid-chess/internal/vocab"
)

var (
	ErrInvalidArgs     = errors.New("invalid arguments")
	ErrSelfInvite      = errors.New("cannot invite yourself")
	ErrInvalidResponse = errors.New(`response must be "yes" or "no"`)
)

type ColorChoice string

const (
	ColorWhite  ColorChoice = "white"
	ColorBlack  ColorChoice = "black"
	ColorRandom ColorChoice = "random"
)

func ParseColorChoice(s string) ColorChoice {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return ColorWhite
	case "black", "b":
		return ColorBlack
	default:
		return ColorRandom
	}
}

// Resolve picks the inviter's color, flipping a coin for ColorRandom.
func (c ColorChoice) Resolve() rules.Color {
	switch c {
	case ColorWhite:
		return rules.White
	case ColorBlack:
		return rules.Black
	}
	if n, err := rand.Int(rand.Reader, big.NewInt(2)); err == nil && n.Int64() == 0 {
		return rules.Black
	}
	return rules.White
}

type Invitation struct {
	URL       string
	Event     string
	Agent     string
	Recipient string
	Result    string
}

type Response struct {
	URL        string
	Value      string // yes | no
	Agent      string
	Recipient  string
	Invitation string
}

func (r Response) Accepted() bool { return r.Value == "yes" }

// CreateInvitation mints an invitation inside base. The facts belong in the
// sender's storage; the envelope goes to the recipient's inbox.
func CreateInvitation(base, gameURL, sender, recipient string) (Invitation, []pod.Fact, envelope.Invitation, error) {
	if base == "" || gameURL == "" || sender == "" || recipient == "" {
		return Invitation{}, nil, envelope.Invitation{}, ErrInvalidArgs
	}
	if sender == recipient {
		return Invitation{}, nil, envelope.Invitation{}, ErrSelfInvite
	}
	inv := Invitation{URL: pod.NewID(base), Event: gameURL, Agent: sender, Recipient: recipient}
	facts := []pod.Fact{
		pod.Link(inv.URL, vocab.Type, vocab.InviteAction),
		pod.Link(inv.URL, vocab.Event, gameURL),
		pod.Link(inv.URL, vocab.Agent, sender),
		pod.Link(inv.URL, vocab.Recipient, recipient),
	}
	return inv, facts, envelope.Invitation{URL: inv.URL}, nil
}

// CreateResponse answers invitationURL with "yes" or "no".
func CreateResponse(base, invitationURL, sender, recipient, value string) (Response, []pod.Fact, envelope.ResponseLink, error) {
	var answer string
	switch value {
	case "yes":
		answer = vocab.RsvpResponseYes
	case "no":
		answer = vocab.RsvpResponseNo
	default:
		return Response{}, nil, envelope.ResponseLink{}, ErrInvalidResponse
	}
	if base == "" || invitationURL == "" || sender == "" || recipient == "" {
		return Response{}, nil, envelope.ResponseLink{}, ErrInvalidArgs
	}
	resp := Response{URL: pod.NewID(base), Value: value, Agent: sender, Recipient: recipient, Invitation: invitationURL}
	link := envelope.ResponseLink{Invitation: invitationURL, Response: resp.URL}
	facts := []pod.Fact{
		pod.Link(resp.URL, vocab.Type, vocab.RsvpAction),
		pod.Link(resp.URL, vocab.RsvpResponse, answer),
		pod.Link(resp.URL, vocab.Agent, sender),
		pod.Link(resp.URL, vocab.Recipient, recipient),
	}
	facts = append(facts, link.Facts()...)
	return resp, facts, link, nil
}

// ParseInvitation reads an invitation from the facts of its document.
func ParseInvitation(url string, facts []pod.Fact) (Invitation, bool) {
	inv := Invitation{URL: url}
	if !hasType(facts, url, vocab.InviteAction) {
		return inv, false
	}
	inv.Event = first(facts, url, vocab.Event)
	inv.Agent = first(facts, url, vocab.Agent)
	inv.Recipient = first(facts, url, vocab.Recipient)
	inv.Result = first(facts, url, vocab.Result)
	return inv, inv.Event != "" && inv.Agent != "" && inv.Recipient != ""
}

// ParseResponse reads an RSVP from the facts of its document.
func ParseResponse(url string, facts []pod.Fact) (Response, bool) {
	resp := Response{URL: url}
	if !hasType(facts, url, vocab.RsvpAction) {
		return resp, false
	}
	switch first(facts, url, vocab.RsvpResponse) {
	case vocab.RsvpResponseYes:
		resp.Value = "yes"
	case vocab.RsvpResponseNo:
		resp.Value = "no"
	default:
		return resp, false
	}
	resp.Agent = first(facts, url, vocab.Agent)
	resp.Recipient = first(facts, url, vocab.Recipient)
	return resp, true
}

func first(facts []pod.Fact, s, p string) string {
	if v := pod.Match(facts, s, p); len(v) > 0 {
		return v[0]
	}
	return ""
}

func hasType(facts []pod.Fact, s, typ string) bool {
	for _, t := range pod.Match(facts, s, vocab.Type) {
		if t == typ {
			return true
		}
	}
	return false
}
