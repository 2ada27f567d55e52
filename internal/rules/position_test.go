package rules

import (
	"errors"
	"testing"
)

func TestApplySANAndUCI(t *testing.T) {
	p, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.SideToMove() != White {
		t.Fatalf("white moves first")
	}
	if san, err := p.Apply("e4"); err != nil || san != "e4" {
		t.Fatalf("Apply e4: %q %v", san, err)
	}
	if san, err := p.Apply("e7e5"); err != nil || san != "e5" {
		t.Fatalf("Apply e7e5: %q %v", san, err)
	}
	if p.SideToMove() != White {
		t.Fatalf("expected white to move")
	}
	if got := p.SANs(); len(got) != 2 || got[0] != "e4" || got[1] != "e5" {
		t.Fatalf("SANs: %v", got)
	}
}

func TestIllegalMoveLeavesPosition(t *testing.T) {
	p, _ := New("")
	before := p.FEN()
	for _, mv := range []string{"", "Ke2", "e5", "zz99"} {
		if _, err := p.Apply(mv); !errors.Is(err, ErrIllegal) {
			t.Fatalf("Apply(%q): expected ErrIllegal, got %v", mv, err)
		}
	}
	if p.FEN() != before {
		t.Fatalf("position changed after illegal moves")
	}
}

func TestFoolsMateIsTerminal(t *testing.T) {
	p, _ := New(StartFEN)
	for _, mv := range []string{"f3", "e5", "g4", "Qh4#"} {
		if _, err := p.Apply(mv); err != nil {
			t.Fatalf("Apply(%q): %v", mv, err)
		}
	}
	if !p.Terminal() || p.Outcome() != "black" || p.Method() != "checkmate" {
		t.Fatalf("terminal=%v outcome=%q method=%q", p.Terminal(), p.Outcome(), p.Method())
	}
	if _, err := p.Apply("a3"); !errors.Is(err, ErrIllegal) {
		t.Fatalf("move after mate: %v", err)
	}
}

func TestNewFromFEN(t *testing.T) {
	p, err := New("4k3/8/8/8/8/8/8/4K2R b K - 0 1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.SideToMove() != Black {
		t.Fatalf("expected black to move")
	}
	if _, err := New("not a fen"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestCheckDoesNotPlay(t *testing.T) {
	p, _ := New("")
	before := p.FEN()
	san, err := p.Check("e2e4")
	if err != nil || san != "e4" {
		t.Fatalf("Check(e2e4) = %q, %v", san, err)
	}
	if _, err := p.Check("Ke2"); !errors.Is(err, ErrIllegal) {
		t.Fatalf("Check(Ke2): expected ErrIllegal, got %v", err)
	}
	if p.FEN() != before || len(p.SANs()) != 0 {
		t.Fatalf("Check changed the position")
	}
}
