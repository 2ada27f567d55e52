package game

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/park285/solid-chess/internal/obslog"
	"github.com/park285/solid-chess/internal/pod"
	"github.com/park285/solid-chess/internal/rules"
	"github.com/park285/solid-chess/internal/vocab"
)

// Reconstruct rebuilds a game from storage as seen by viewer, whose own moves
// and links live in storageURL.
func Reconstruct(ctx context.Context, store pod.Store, gameURL, viewer, storageURL string) (*State, error) {
	w := walker{ctx: ctx, store: store, docs: make(map[string][]pod.Fact)}

	gameFacts, err := w.doc(gameURL)
	if err != nil {
		return nil, fmt.Errorf("reconstruct %s: %w", gameURL, err)
	}
	if !containsLink(gameFacts, gameURL, vocab.Type, vocab.ChessGame) {
		return nil, fmt.Errorf("reconstruct %s: not a chess game: %w", gameURL, pod.ErrNotFound)
	}
	var own []pod.Fact
	if storageURL != "" {
		if own, err = w.doc(storageURL); err != nil && !errors.Is(err, pod.ErrNotFound) {
			return nil, fmt.Errorf("reconstruct %s: %w", gameURL, err)
		}
	}

	color, opponent, err := resolveRoles(gameFacts, gameURL, viewer)
	if err != nil {
		return nil, err
	}
	p := Params{
		URL:        gameURL,
		User:       viewer,
		Opponent:   opponent,
		UserColor:  color,
		StorageURL: storageURL,
	}
	if v := pod.Match(gameFacts, gameURL, vocab.Name); len(v) > 0 {
		p.Name = v[0]
	}
	if v := pod.Match(gameFacts, gameURL, vocab.StartPosition); len(v) > 0 {
		p.StartPosition = v[0]
	}
	if v := pod.Match(gameFacts, gameURL, vocab.IsRealTime); len(v) > 0 {
		p.RealTime = v[0] == "true"
	}
	g, err := New(p)
	if err != nil {
		return nil, err
	}

	ownDoc := pod.DocumentOf(storageURL)
	for _, mv := range w.chain(gameURL, gameFacts, own) {
		if err := g.replay(mv.URL, mv.SAN); err != nil {
			obslog.L().Warn("chain_truncated",
				zap.String("game", gameURL),
				zap.String("move", mv.URL),
				zap.Error(err),
			)
			break
		}
		if pod.DocumentOf(mv.URL) == ownDoc {
			g.LastUserMove = mv.URL
		}
	}

	for _, facts := range [][]pod.Fact{gameFacts, own} {
		for _, last := range pod.Match(facts, gameURL, vocab.HasLastHalfMove) {
			if last == g.MoveHead {
				g.Ended = true
			}
		}
		for _, gu := range pod.SubjectsOf(facts, vocab.Object, gameURL) {
			if !containsLink(facts, gu, vocab.Type, vocab.GiveUpAction) {
				continue
			}
			if agents := pod.Match(facts, gu, vocab.Agent); len(agents) > 0 {
				g.Ended = true
				g.GiveUpBy = agents[0]
			}
		}
	}
	return g, nil
}

// replay appends a stored move regardless of who authored it.
func (g *State) replay(moveURL, san string) error {
	played, err := g.pos.Apply(san)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrIllegalMove, san)
	}
	g.push(Move{URL: moveURL, SAN: played, Prev: g.MoveHead, Last: g.pos.Terminal()})
	return nil
}

func resolveRoles(facts []pod.Fact, gameURL, viewer string) (rules.Color, string, error) {
	var color rules.Color
	var opponent string
	for _, role := range pod.Match(facts, gameURL, vocab.ProvidesAgentRole) {
		performers := pod.Match(facts, role, vocab.PerformedBy)
		if len(performers) == 0 {
			continue
		}
		var c rules.Color
		switch {
		case containsLink(facts, role, vocab.Type, vocab.WhitePlayerRole):
			c = rules.White
		case containsLink(facts, role, vocab.Type, vocab.BlackPlayerRole):
			c = rules.Black
		default:
			continue
		}
		if performers[0] == viewer && color == "" {
			color = c
		} else {
			opponent = performers[0]
		}
	}
	if color == "" {
		return "", "", fmt.Errorf("%s: %w", gameURL, ErrNotParticipant)
	}
	return color, opponent, nil
}

type walker struct {
	ctx   context.Context
	store pod.Store
	docs  map[string][]pod.Fact
}

func (w *walker) doc(url string) ([]pod.Fact, error) {
	key := pod.DocumentOf(url)
	if facts, ok := w.docs[key]; ok {
		return facts, nil
	}
	facts, err := w.store.Fetch(w.ctx, key)
	if err != nil {
		return nil, err
	}
	w.docs[key] = facts
	return facts, nil
}

// chain follows the forward links from the game's first move. Links are read
// from the move's own document first and from the viewer's storage second.
// A move that cannot be resolved ends the walk.
func (w *walker) chain(gameURL string, gameFacts, own []pod.Fact) []Move {
	cur := firstOf(pod.Match(gameFacts, gameURL, vocab.HasFirstHalfMove), pod.Match(own, gameURL, vocab.HasFirstHalfMove))
	var out []Move
	visited := make(map[string]bool)
	for cur != "" && !visited[cur] {
		visited[cur] = true
		facts, err := w.doc(cur)
		if err != nil {
			obslog.L().Warn("chain_dangling", zap.String("game", gameURL), zap.String("move", cur), zap.Error(err))
			break
		}
		sans := pod.Match(facts, cur, vocab.HasSANRecord)
		if len(sans) == 0 {
			obslog.L().Warn("chain_dangling", zap.String("game", gameURL), zap.String("move", cur))
			break
		}
		prev := ""
		if n := len(out); n > 0 {
			prev = out[n-1].URL
			out[n-1].Next = cur
		}
		out = append(out, Move{URL: cur, SAN: sans[0], Prev: prev})
		cur = firstOf(pod.Match(facts, cur, vocab.NextHalfMove), pod.Match(own, cur, vocab.NextHalfMove))
	}
	return out
}

func firstOf(lists ...[]string) string {
	for _, l := range lists {
		if len(l) > 0 {
			return l[0]
		}
	}
	return ""
}

func containsLink(facts []pod.Fact, s, p, o string) bool {
	for _, f := range facts {
		if f.Subject == s && f.Predicate == p && f.Object == o {
			return true
		}
	}
	return false
}
