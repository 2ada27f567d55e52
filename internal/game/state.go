// Package game holds the in-memory model of one game and its forward-linked
// move log.
package game

import (
	"errors"
	"fmt"

	"github.com/park285/solid-chess/internal/envelope"
	"github.com/park285/solid-chess/internal/pod"
	"github.com/park285/solid-chess/internal/rules"
	"github.com/park285/solid-chess/internal/vocab"
)

var (
	ErrIllegalMove      = errors.New("illegal move")
	ErrNotYourTurn      = errors.New("not your turn")
	ErrNotOpponentsTurn = errors.New("not the opponent's turn")
	ErrAlreadyApplied   = errors.New("move already applied")
	ErrGameEnded        = errors.New("game has ended")
	ErrNotParticipant   = errors.New("identity does not play this game")
)

// Move is one half-move of the log.
type Move struct {
	URL  string
	SAN  string
	Prev string
	Next string
	Last bool
}

// Entry is what a local action must persist in the user's storage document.
type Entry struct {
	Move  Move
	Facts []pod.Fact
}

// Params describe a game when it is created or resumed.
type Params struct {
	URL           string
	User          string
	Opponent      string
	UserColor     rules.Color
	Name          string
	StartPosition string
	RealTime      bool
	// StorageURL is the user's document that receives locally authored moves.
	StorageURL string
}

// State is the live game. It is not safe for concurrent use; the session owns it.
type State struct {
	URL              string
	UserIdentity     string
	OpponentIdentity string
	UserColor        rules.Color
	Turn             rules.Color
	Name             string
	StartPosition    string
	RealTime         bool
	StorageURL       string
	MoveHead         string
	LastUserMove     string
	Ended            bool
	GiveUpBy         string

	pos     *rules.Position
	moves   []Move
	applied map[string]struct{}
}

func New(p Params) (*State, error) {
	if p.URL == "" || p.User == "" {
		return nil, fmt.Errorf("game url and user identity required")
	}
	if p.UserColor != rules.White && p.UserColor != rules.Black {
		return nil, fmt.Errorf("invalid color %q", p.UserColor)
	}
	pos, err := rules.New(p.StartPosition)
	if err != nil {
		return nil, err
	}
	return &State{
		URL:              p.URL,
		UserIdentity:     p.User,
		OpponentIdentity: p.Opponent,
		UserColor:        p.UserColor,
		Turn:             pos.SideToMove(),
		Name:             p.Name,
		StartPosition:    p.StartPosition,
		RealTime:         p.RealTime,
		StorageURL:       p.StorageURL,
		pos:              pos,
		applied:          make(map[string]struct{}),
	}, nil
}

func (g *State) OpponentColor() rules.Color { return g.UserColor.Opposite() }

// Applied reports whether moveURL is already part of the log.
func (g *State) Applied(moveURL string) bool {
	_, ok := g.applied[moveURL]
	return ok
}

// IsHead reports whether prev names the current end of the chain. An empty
// prev means "no predecessor" and matches only an empty log.
func (g *State) IsHead(prev string) bool { return prev == g.MoveHead }

// ApplyLocalMove validates and records a move made by the user.
func (g *State) ApplyLocalMove(san string) (Entry, envelope.MoveLink, error) {
	if g.Ended {
		return Entry{}, envelope.MoveLink{}, ErrGameEnded
	}
	if g.Turn != g.UserColor {
		return Entry{}, envelope.MoveLink{}, ErrNotYourTurn
	}
	played, err := g.pos.Apply(san)
	if err != nil {
		return Entry{}, envelope.MoveLink{}, fmt.Errorf("%w: %s", ErrIllegalMove, san)
	}

	mv := Move{URL: pod.NewID(g.StorageURL), SAN: played, Prev: g.MoveHead, Last: g.pos.Terminal()}
	link := envelope.MoveLink{Game: g.URL, Prev: mv.Prev, Move: mv.URL, SAN: played, Last: mv.Last}
	facts := []pod.Fact{
		pod.Link(g.URL, vocab.HasHalfMove, mv.URL),
		pod.Link(mv.URL, vocab.Type, vocab.HalfMove),
	}
	facts = append(facts, link.Facts()...)

	g.push(mv)
	g.LastUserMove = mv.URL
	return Entry{Move: mv, Facts: facts}, link, nil
}

// ApplyRemoteMove attaches an opponent move to the head of the log.
func (g *State) ApplyRemoteMove(san, moveURL string) error {
	if _, err := g.CheckRemoteMove(san, moveURL); err != nil {
		return err
	}
	played, err := g.pos.Apply(san)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrIllegalMove, san)
	}
	g.push(Move{URL: moveURL, SAN: played, Prev: g.MoveHead, Last: g.pos.Terminal()})
	return nil
}

// CheckRemoteMove runs every check of ApplyRemoteMove without changing the
// state and returns the move's SAN.
func (g *State) CheckRemoteMove(san, moveURL string) (string, error) {
	if g.Ended {
		return "", ErrGameEnded
	}
	if _, ok := g.applied[moveURL]; ok {
		return "", ErrAlreadyApplied
	}
	if g.Turn != g.OpponentColor() {
		return "", ErrNotOpponentsTurn
	}
	played, err := g.pos.Check(san)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrIllegalMove, san)
	}
	return played, nil
}

func (g *State) push(mv Move) {
	if n := len(g.moves); n > 0 {
		g.moves[n-1].Next = mv.URL
	}
	g.moves = append(g.moves, mv)
	g.applied[mv.URL] = struct{}{}
	g.MoveHead = mv.URL
	g.Turn = g.pos.SideToMove()
	if mv.Last {
		g.Ended = true
	}
}

// GiveUp ends the game on the user's behalf.
func (g *State) GiveUp() (Entry, envelope.GiveUp, error) {
	if g.Ended {
		return Entry{}, envelope.GiveUp{}, ErrGameEnded
	}
	gu := newGiveUp(g.StorageURL, g.UserIdentity, g.URL)
	g.Ended = true
	g.GiveUpBy = g.UserIdentity
	return Entry{Facts: gu.Facts()}, gu, nil
}

// GiveUpFacts describe a give-up by agent, minted inside base.
func GiveUpFacts(base, agent, gameURL string) []pod.Fact {
	return newGiveUp(base, agent, gameURL).Facts()
}

func newGiveUp(base, agent, gameURL string) envelope.GiveUp {
	return envelope.GiveUp{URL: pod.NewID(base), Agent: agent, Game: gameURL}
}

// ApplyGiveUp records that agent abandoned the game. Repeating it is a no-op.
func (g *State) ApplyGiveUp(agent string) error {
	if g.GiveUpBy == agent && agent != "" {
		return nil
	}
	if err := g.CheckGiveUp(agent); err != nil {
		return err
	}
	g.Ended = true
	g.GiveUpBy = agent
	return nil
}

// CheckGiveUp reports whether ApplyGiveUp(agent) would end the game.
func (g *State) CheckGiveUp(agent string) error {
	if agent != g.OpponentIdentity && agent != g.UserIdentity {
		return ErrNotParticipant
	}
	if g.Ended {
		return ErrGameEnded
	}
	return nil
}

// Moves returns the applied log in order.
func (g *State) Moves() []Move { return append([]Move(nil), g.moves...) }

func (g *State) SANs() []string { return g.pos.SANs() }

func (g *State) FEN() string { return g.pos.FEN() }

// Result is "white", "black" or "draw" once the game ended, empty before.
func (g *State) Result() string {
	if g.GiveUpBy != "" {
		if g.GiveUpBy == g.UserIdentity {
			return string(g.OpponentColor())
		}
		return string(g.UserColor)
	}
	return g.pos.Outcome()
}

// Method names how the game ended.
func (g *State) Method() string {
	if g.GiveUpBy != "" {
		return "resignation"
	}
	return g.pos.Method()
}
