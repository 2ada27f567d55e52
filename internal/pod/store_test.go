package pod

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/park285/solid-chess/internal/vocab"
)

const testBase = "http://pod.test"

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	s, err := DialRedis(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil {
		t.Fatalf("DialRedis: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestHTTPStore(t *testing.T, backend Store) (*HTTPStore, *[]string) {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	var changed []string
	h := NewHandler(testBase, backend, func(coll string) { changed = append(changed, coll) })
	srv := &fasthttp.Server{Handler: h.Serve}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })
	s := NewHTTPStore(WithDial(func(string) (net.Conn, error) { return ln.Dial() }), WithRetry(1))
	return s, &changed
}

func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("redis", func(t *testing.T) { fn(t, newTestRedisStore(t)) })
	t.Run("http", func(t *testing.T) {
		s, _ := newTestHTTPStore(t, NewMemoryStore())
		fn(t, s)
	})
}

func TestStoreWriteFetchIgnoresFragment(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		doc := testBase + "/alice/games"
		game := doc + "#g1"
		facts := []Fact{Link(game, vocab.Type, vocab.ChessGame), Lit(game, vocab.Name, "friendly")}
		if err := s.Write(ctx, game, facts); err != nil {
			t.Fatalf("Write: %v", err)
		}
		// writing the same fact twice must not duplicate it
		if err := s.Write(ctx, doc, facts[:1]); err != nil {
			t.Fatalf("Write again: %v", err)
		}
		got, err := s.Fetch(ctx, doc+"#other")
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 facts, got %d (%v)", len(got), got)
		}
		name, ok, err := First(ctx, s, game, vocab.Name)
		if err != nil || !ok || name != "friendly" {
			t.Fatalf("First name: %q ok=%v err=%v", name, ok, err)
		}
	})
}

func TestStoreFetchMissing(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		_, err := s.Fetch(context.Background(), testBase+"/nobody/card")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestStorePostListDelete(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		inbox := testBase + "/bob/inbox/"
		first, err := s.Post(ctx, inbox, []Fact{Link("", vocab.Type, vocab.InviteAction)})
		if err != nil {
			t.Fatalf("Post#1: %v", err)
		}
		second, err := s.Post(ctx, strings.TrimSuffix(inbox, "/"), []Fact{Link("", vocab.Type, vocab.RsvpAction)})
		if err != nil {
			t.Fatalf("Post#2: %v", err)
		}
		if !strings.HasPrefix(first, inbox) || !strings.HasPrefix(second, inbox) {
			t.Fatalf("posted urls outside inbox: %s %s", first, second)
		}

		all, err := s.ListTyped(ctx, inbox, vocab.Resource)
		if err != nil {
			t.Fatalf("ListTyped: %v", err)
		}
		if len(all) != 2 || all[0] != first || all[1] != second {
			t.Fatalf("unexpected members: %v", all)
		}
		invites, err := s.ListTyped(ctx, inbox, vocab.InviteAction)
		if err != nil || len(invites) != 1 || invites[0] != first {
			t.Fatalf("typed list: %v err=%v", invites, err)
		}
		if ok, err := HasType(ctx, s, first, vocab.InviteAction); err != nil || !ok {
			t.Fatalf("posted subject not bound: ok=%v err=%v", ok, err)
		}

		if err := s.Delete(ctx, first); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := s.Delete(ctx, first); err != nil {
			t.Fatalf("Delete twice: %v", err)
		}
		rest, err := s.ListTyped(ctx, inbox, "")
		if err != nil || len(rest) != 1 || rest[0] != second {
			t.Fatalf("after delete: %v err=%v", rest, err)
		}
	})
}

func TestHTTPHandlerReportsChanges(t *testing.T) {
	s, changed := newTestHTTPStore(t, NewMemoryStore())
	ctx := context.Background()
	url, err := s.Post(ctx, testBase+"/bob/inbox/", nil)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if err := s.Delete(ctx, url); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(*changed) != 2 || (*changed)[0] != testBase+"/bob/inbox/" || (*changed)[1] != testBase+"/bob/inbox/" {
		t.Fatalf("unexpected change notifications: %v", *changed)
	}
}

func TestDirectory(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	alice := testBase + "/alice/card#me"
	bob := testBase + "/bob/card#me"
	carol := testBase + "/carol/card#me"
	if err := s.Write(ctx, alice, Profile(alice, testBase+"/alice/inbox/", "Alice")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Write(ctx, bob, []Fact{
		Link(bob, vocab.Inbox, testBase+"/bob/inbox/"),
		Lit(bob, vocab.FoafGivenName, "Bob"),
		Lit(bob, vocab.FoafFamilyName, "Builder"),
	}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Write(ctx, carol, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}

	d := NewDirectory(s)
	if got := d.DisplayName(ctx, alice); got != "Alice" {
		t.Fatalf("alice name: %q", got)
	}
	if got := d.DisplayName(ctx, bob); got != "Bob Builder" {
		t.Fatalf("bob name: %q", got)
	}
	if got := d.DisplayName(ctx, carol); got != carol {
		t.Fatalf("carol name: %q", got)
	}
	inbox, err := d.InboxOf(ctx, bob)
	if err != nil || inbox != testBase+"/bob/inbox/" {
		t.Fatalf("InboxOf: %q err=%v", inbox, err)
	}
	if _, err := d.InboxOf(ctx, carol); !errors.Is(err, ErrNoInbox) {
		t.Fatalf("expected ErrNoInbox, got %v", err)
	}
}

func TestParseRedisURL(t *testing.T) {
	opts, err := parseRedisURL("redis://:secret@localhost:6380/2")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.Addr != "localhost:6380" || opts.Password != "secret" || opts.DB != 2 {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if _, err := parseRedisURL("http://localhost"); err == nil {
		t.Fatalf("expected scheme error")
	}
}
