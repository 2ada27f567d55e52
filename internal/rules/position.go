// Package rules wraps the chess rules library: move validation, side to
// move, terminal detection and FEN export.
package rules

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

var ErrIllegal = errors.New("illegal move")

type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Opposite() Color {
	if c == White {
		return Black
	}
	return White
}

// Position is a game in progress. The zero value is not usable; call New.
type Position struct {
	game *nchess.Game
	sans []string
}

// New starts from the standard position, or from fen when it is non-empty.
func New(fen string) (*Position, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		return &Position{game: nchess.NewGame()}, nil
	}
	option, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen %q: %w", fen, err)
	}
	return &Position{game: nchess.NewGame(option)}, nil
}

// Apply plays a move given in SAN (or UCI as a fallback) and returns its SAN.
// An illegal move leaves the position untouched.
func (p *Position) Apply(notation string) (string, error) {
	raw := strings.TrimSpace(notation)
	if raw == "" {
		return "", ErrIllegal
	}
	if p.Terminal() {
		return "", fmt.Errorf("%w: game is over", ErrIllegal)
	}
	pos := p.game.Position()
	if err := p.game.PushNotationMove(raw, nchess.AlgebraicNotation{}, nil); err == nil {
		moves := p.game.Moves()
		san := nchess.AlgebraicNotation{}.Encode(pos, moves[len(moves)-1])
		p.sans = append(p.sans, san)
		return san, nil
	}
	mv, err := nchess.UCINotation{}.Decode(pos, strings.ToLower(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrIllegal, raw)
	}
	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	if err := p.game.PushNotationMove(san, nchess.AlgebraicNotation{}, nil); err != nil {
		return "", fmt.Errorf("%w: %s", ErrIllegal, raw)
	}
	p.sans = append(p.sans, san)
	return san, nil
}

// Check reports the SAN notation would produce without playing it.
func (p *Position) Check(notation string) (string, error) {
	scratch, err := New(p.FEN())
	if err != nil {
		return "", err
	}
	if p.Terminal() {
		return "", fmt.Errorf("%w: game is over", ErrIllegal)
	}
	return scratch.Apply(notation)
}

func (p *Position) SideToMove() Color {
	if p.game.Position().Turn() == nchess.White {
		return White
	}
	return Black
}

func (p *Position) Terminal() bool { return p.game.Outcome() != nchess.NoOutcome }

// Outcome is "white", "black", "draw" or empty while the game is running.
func (p *Position) Outcome() string {
	switch p.game.Outcome() {
	case nchess.WhiteWon:
		return "white"
	case nchess.BlackWon:
		return "black"
	case nchess.Draw:
		return "draw"
	}
	return ""
}

// Method names how the game ended, e.g. "checkmate".
func (p *Position) Method() string {
	if !p.Terminal() {
		return ""
	}
	return strings.ToLower(p.game.Method().String())
}

func (p *Position) FEN() string { return p.game.FEN() }

func (p *Position) SANs() []string { return append([]string(nil), p.sans...) }

// StartFEN is the FEN of the initial position of standard chess.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
