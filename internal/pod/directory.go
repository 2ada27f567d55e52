package pod

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/park285/solid-chess/internal/vocab"
)

var ErrNoInbox = errors.New("identity has no inbox")

// Directory resolves identity profile facts. Inbox locations are cached per
// instance; profiles rarely move during a session.
type Directory struct {
	store Store

	mu      sync.Mutex
	inboxes map[string]string
}

func NewDirectory(store Store) *Directory {
	return &Directory{store: store, inboxes: make(map[string]string)}
}

// InboxOf returns the inbox collection advertised by identity's profile.
func (d *Directory) InboxOf(ctx context.Context, identity string) (string, error) {
	d.mu.Lock()
	cached, ok := d.inboxes[identity]
	d.mu.Unlock()
	if ok {
		return cached, nil
	}
	inbox, found, err := First(ctx, d.store, identity, vocab.Inbox)
	if err != nil {
		return "", fmt.Errorf("inbox of %s: %w", identity, err)
	}
	if !found {
		return "", fmt.Errorf("inbox of %s: %w", identity, ErrNoInbox)
	}
	d.mu.Lock()
	d.inboxes[identity] = inbox
	d.mu.Unlock()
	return inbox, nil
}

// DisplayName prefers foaf:name, then given and family name, then the identity itself.
func (d *Directory) DisplayName(ctx context.Context, identity string) string {
	facts, err := d.store.Fetch(ctx, identity)
	if err != nil {
		return identity
	}
	if names := Match(facts, identity, vocab.FoafName); len(names) > 0 && strings.TrimSpace(names[0]) != "" {
		return names[0]
	}
	var parts []string
	for _, p := range []string{vocab.FoafGivenName, vocab.FoafFamilyName} {
		if v := Match(facts, identity, p); len(v) > 0 && strings.TrimSpace(v[0]) != "" {
			parts = append(parts, v[0])
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}
	return identity
}

// Profile builds the minimal profile document for an identity.
func Profile(identity, inbox, name string) []Fact {
	out := []Fact{Link(identity, vocab.Inbox, inbox)}
	if name != "" {
		out = append(out, Lit(identity, vocab.FoafName, name))
	}
	return out
}
