package pod

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store used for development runs and tests.
type MemoryStore struct {
	mu sync.RWMutex

	docs  map[string][]Fact   // document URL -> facts (deduplicated)
	colls map[string][]string // collection URL -> members, insertion order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:  make(map[string][]Fact),
		colls: make(map[string][]string),
	}
}

func (m *MemoryStore) Fetch(ctx context.Context, url string) ([]Fact, error) {
	doc := DocumentOf(url)
	m.mu.RLock()
	defer m.mu.RUnlock()
	facts, ok := m.docs[doc]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]Fact, len(facts))
	copy(out, facts)
	return out, nil
}

func (m *MemoryStore) Write(ctx context.Context, docURL string, facts []Fact) error {
	doc := DocumentOf(docURL)
	if strings.TrimSpace(doc) == "" {
		return ErrInvalidURL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.docs[doc]
	for _, f := range facts {
		if containsFact(cur, f) {
			continue
		}
		cur = append(cur, f)
	}
	if cur == nil {
		cur = []Fact{}
	}
	m.docs[doc] = cur
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, url string) error {
	doc := DocumentOf(url)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, doc)
	parent := ParentOf(doc)
	members := m.colls[parent]
	for i, u := range members {
		if u == doc {
			m.colls[parent] = append(members[:i:i], members[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryStore) ListTyped(ctx context.Context, collectionURL, typ string) ([]string, error) {
	m.mu.RLock()
	members := append([]string(nil), m.colls[collectionOf(collectionURL)]...)
	m.mu.RUnlock()
	return filterTyped(ctx, m, members, typ)
}

func (m *MemoryStore) Post(ctx context.Context, collectionURL string, facts []Fact) (string, error) {
	if strings.TrimSpace(collectionURL) == "" {
		return "", ErrInvalidURL
	}
	url := newMemberURL(collectionURL)
	if err := m.Write(ctx, url, bindSubjects(url, facts)); err != nil {
		return "", err
	}
	m.mu.Lock()
	coll := ParentOf(url)
	m.colls[coll] = append(m.colls[coll], url)
	m.mu.Unlock()
	return url, nil
}

func containsFact(facts []Fact, f Fact) bool {
	for _, x := range facts {
		if x == f {
			return true
		}
	}
	return false
}
