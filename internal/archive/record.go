// Package archive keeps finished games in a SQL database together with a
// PGN rendering of their move list.
package archive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/park285/solid-chess/internal/game"
	"github.com/park285/solid-chess/internal/rules"
)

// Record is one finished game.
type Record struct {
	Game          string
	Name          string
	White         string
	WhiteName     string
	Black         string
	BlackName     string
	StartPosition string
	Result        string // white, black, draw or empty
	Method        string
	MovesSAN      []string
	FinalFEN      string
	StartedAt     time.Time
	EndedAt       time.Time
}

type NameResolver interface {
	DisplayName(ctx context.Context, identity string) string
}

// FromState captures a game for archiving. names may be nil.
func FromState(ctx context.Context, g *game.State, names NameResolver, startedAt time.Time) Record {
	display := func(id string) string {
		if names == nil || id == "" {
			return id
		}
		return names.DisplayName(ctx, id)
	}
	white, black := g.UserIdentity, g.OpponentIdentity
	if g.UserColor == rules.Black {
		white, black = black, white
	}
	now := time.Now()
	if startedAt.IsZero() {
		startedAt = now
	}
	return Record{
		Game:          g.URL,
		Name:          g.Name,
		White:         white,
		WhiteName:     display(white),
		Black:         black,
		BlackName:     display(black),
		StartPosition: g.StartPosition,
		Result:        g.Result(),
		Method:        g.Method(),
		MovesSAN:      g.SANs(),
		FinalFEN:      g.FEN(),
		StartedAt:     startedAt,
		EndedAt:       now,
	}
}

func mapResultToPGN(result string) string {
	switch strings.ToLower(strings.TrimSpace(result)) {
	case "white":
		return "1-0"
	case "black":
		return "0-1"
	case "draw":
		return "1/2-1/2"
	default:
		return "*"
	}
}

// PGN renders the record with seven-tag-roster headers. Games from a custom
// position carry SetUp and FEN tags, and numbering starts from that position.
func PGN(r Record) string {
	var b strings.Builder
	date := r.EndedAt
	if date.IsZero() {
		date = time.Now()
	}
	event := r.Name
	if strings.TrimSpace(event) == "" {
		event = "Casual game"
	}
	result := mapResultToPGN(r.Result)

	fmt.Fprintf(&b, "[Event \"%s\"]\n", sanitizePGN(event))
	fmt.Fprintf(&b, "[Site \"%s\"]\n", sanitizePGN(r.Game))
	fmt.Fprintf(&b, "[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day())
	b.WriteString("[Round \"-\"]\n")
	fmt.Fprintf(&b, "[White \"%s\"]\n", sanitizePGN(r.WhiteName))
	fmt.Fprintf(&b, "[Black \"%s\"]\n", sanitizePGN(r.BlackName))
	fmt.Fprintf(&b, "[Result \"%s\"]\n", result)

	moveNo, blackFirst := 1, false
	if start := strings.TrimSpace(r.StartPosition); start != "" && start != rules.StartFEN && start != "startpos" {
		b.WriteString("[SetUp \"1\"]\n")
		fmt.Fprintf(&b, "[FEN \"%s\"]\n", sanitizePGN(start))
		moveNo, blackFirst = fenMoveNumber(start)
	}
	if m := strings.TrimSpace(r.Method); m != "" {
		fmt.Fprintf(&b, "[Termination \"%s\"]\n", sanitizePGN(strings.ToLower(m)))
	}
	b.WriteString("\n")

	sans := r.MovesSAN
	if blackFirst && len(sans) > 0 {
		fmt.Fprintf(&b, "%d... %s ", moveNo, strings.TrimSpace(sans[0]))
		sans = sans[1:]
		moveNo++
	}
	for i := 0; i < len(sans); i += 2 {
		fmt.Fprintf(&b, "%d. %s", moveNo+i/2, strings.TrimSpace(sans[i]))
		if i+1 < len(sans) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(sans[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(result)
	return b.String()
}

// fenMoveNumber reads the fullmove counter and side to move of a FEN.
func fenMoveNumber(fen string) (int, bool) {
	fields := strings.Fields(fen)
	n := 1
	if len(fields) >= 6 {
		if _, err := fmt.Sscanf(fields[5], "%d", &n); err != nil || n < 1 {
			n = 1
		}
	}
	return n, len(fields) >= 2 && fields[1] == "b"
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
