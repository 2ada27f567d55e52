package game

import (
	"github.com/park285/solid-chess/internal/pod"
	"github.com/park285/solid-chess/internal/rules"
	"github.com/park285/solid-chess/internal/vocab"
)

// SetupFacts are the minimal facts describing a new game: its type, the two
// player roles and the optional name, start position and real-time flag.
func SetupFacts(p Params) []pod.Fact {
	white, black := p.User, p.Opponent
	if p.UserColor == rules.Black {
		white, black = black, white
	}
	whiteRole := pod.NewID(p.URL)
	blackRole := pod.NewID(p.URL)

	facts := []pod.Fact{
		pod.Link(p.URL, vocab.Type, vocab.ChessGame),
		pod.Link(p.URL, vocab.ProvidesAgentRole, whiteRole),
		pod.Link(p.URL, vocab.ProvidesAgentRole, blackRole),
		pod.Link(whiteRole, vocab.Type, vocab.WhitePlayerRole),
		pod.Link(whiteRole, vocab.PerformedBy, white),
		pod.Link(blackRole, vocab.Type, vocab.BlackPlayerRole),
		pod.Link(blackRole, vocab.PerformedBy, black),
	}
	if p.Name != "" {
		facts = append(facts, pod.Lit(p.URL, vocab.Name, p.Name))
	}
	if p.StartPosition != "" {
		facts = append(facts, pod.Lit(p.URL, vocab.StartPosition, p.StartPosition))
	}
	if p.RealTime {
		facts = append(facts, pod.Lit(p.URL, vocab.IsRealTime, "true"))
	}
	return facts
}

// IndexFacts record in an identity's document that it takes part in a game
// and where its moves for that game are stored.
func IndexFacts(identity, gameURL, storageURL string) []pod.Fact {
	return []pod.Fact{
		pod.Link(gameURL, vocab.Contributor, identity),
		pod.Link(gameURL, vocab.StoreIn, storageURL),
	}
}

// Listing is one entry of an identity's game index.
type Listing struct {
	Game    string
	Storage string
}

// ListGames reads the game index written by IndexFacts.
func ListGames(facts []pod.Fact, identity string) []Listing {
	var out []Listing
	seen := make(map[string]bool)
	for _, g := range pod.SubjectsOf(facts, vocab.Contributor, identity) {
		if seen[g] {
			continue
		}
		seen[g] = true
		l := Listing{Game: g}
		if s := pod.Match(facts, g, vocab.StoreIn); len(s) > 0 {
			l.Storage = s[0]
		}
		out = append(out, l)
	}
	return out
}
