package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/park285/solid-chess/internal/msgcat"
	"github.com/park285/solid-chess/internal/session"
)

// play reads moves from in until the game ends, the user quits or in is
// exhausted. Besides moves it understands "board", "moves", "poll",
// "hangup", "resign" and "quit".
func play(ctx context.Context, rt *Runtime, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	rt.status(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-rt.Ended:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			done, err := rt.command(ctx, line)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

func (rt *Runtime) command(ctx context.Context, line string) (bool, error) {
	switch strings.ToLower(line) {
	case "":
		return false, nil
	case "quit", "exit":
		return true, nil
	case "board":
		rt.status(ctx)
	case "moves":
		snap, err := rt.Session.Snapshot(ctx)
		if err != nil {
			return false, err
		}
		rt.Out.Println(strings.Join(snap.SANs, " "))
	case "poll":
		if err := rt.Session.PollNow(ctx); err != nil {
			return false, err
		}
	case "hangup":
		if err := rt.Session.Stop(ctx); err != nil {
			return false, err
		}
	case "resign":
		if err := rt.Session.GiveUp(ctx); err != nil {
			rt.Out.Println(rt.Catalog.Error(err, msgcat.ErrorData{}))
		}
		return true, nil
	default:
		if _, err := rt.Session.ApplyLocalMove(ctx, line); err != nil {
			if errors.Is(err, session.ErrNotRunning) {
				return false, err
			}
			rt.Out.Println(rt.Catalog.Error(err, msgcat.ErrorData{Move: line}))
			return false, nil
		}
		rt.status(ctx)
	}
	return false, nil
}

func (rt *Runtime) status(ctx context.Context) {
	snap, err := rt.Session.Snapshot(ctx)
	if err != nil {
		return
	}
	rt.Out.Println(snap.FEN)
	switch {
	case snap.Ended:
		rt.Out.Println(rt.Catalog.Text("events.game_ended", map[string]string{"Result": snap.Result, "Method": snap.Method}))
	case snap.Turn == snap.UserColor:
		rt.Out.Println(rt.Catalog.Text("board.your_turn", map[string]string{"Color": string(snap.UserColor)}))
	default:
		rt.Out.Println(rt.Catalog.Text("board.waiting", map[string]string{
			"Opponent": rt.Directory.DisplayName(ctx, snap.Opponent),
		}))
	}
}

// explain converts err into the catalog sentence for the user.
func (rt *Runtime) explain(err error) error {
	return errors.New(rt.Catalog.Error(err, msgcat.ErrorData{}))
}
