// Package inbox discovers envelopes dropped into an identity's inbox, either
// by periodic listing or by push notifications from the pod.
package inbox

import (
	"context"
	"sync"

	"github.com/park285/solid-chess/internal/pod"
	"github.com/park285/solid-chess/internal/vocab"
)

// InboxResolver maps an identity to its inbox collection.
type InboxResolver interface {
	InboxOf(ctx context.Context, identity string) (string, error)
}

// Poller returns envelopes seen for the first time. Each poller owns its
// seen set, so pollers for different concerns never filter each other.
type Poller struct {
	store    pod.Store
	resolver InboxResolver

	mu   sync.Mutex
	seen map[string]struct{}
}

func NewPoller(store pod.Store, resolver InboxResolver) *Poller {
	return &Poller{store: store, resolver: resolver, seen: make(map[string]struct{})}
}

// PollOnce lists the identity's inbox and returns members not returned before.
func (p *Poller) PollOnce(ctx context.Context, identity string) ([]string, error) {
	all, err := p.All(ctx, identity)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var fresh []string
	for _, u := range all {
		if _, ok := p.seen[u]; ok {
			continue
		}
		p.seen[u] = struct{}{}
		fresh = append(fresh, u)
	}
	return fresh, nil
}

// All lists the identity's inbox without deduplication.
func (p *Poller) All(ctx context.Context, identity string) ([]string, error) {
	inbox, err := p.resolver.InboxOf(ctx, identity)
	if err != nil {
		return nil, err
	}
	return p.store.ListTyped(ctx, inbox, vocab.Resource)
}

// Forget makes url eligible to be returned again, used for envelopes whose
// processing was deferred.
func (p *Poller) Forget(url string) {
	p.mu.Lock()
	delete(p.seen, url)
	p.mu.Unlock()
}
