package handshake

import (
	"sync"
	"time"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	StatusDeclined Status = "DECLINED"
)

// JoinableGame summarizes an invitation the user may accept.
type JoinableGame struct {
	Game         string
	Name         string
	Invitation   string
	Envelope     string // inbox resource that announced the invitation
	Opponent     string
	OpponentName string
	RealTime     bool
	ReceivedAt   time.Time
}

// Registry keeps received invitations keyed by game and the status of sent ones.
type Registry struct {
	mu sync.RWMutex

	order    []string
	joinable map[string]JoinableGame
	sent     map[string]Status // invitation URL -> status
}

func NewRegistry() *Registry {
	return &Registry{joinable: make(map[string]JoinableGame), sent: make(map[string]Status)}
}

// AddJoinable records a received invitation. It returns false when an entry
// for the same game already exists.
func (r *Registry) AddJoinable(j JoinableGame) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.joinable[j.Game]; ok {
		return false
	}
	if j.ReceivedAt.IsZero() {
		j.ReceivedAt = time.Now()
	}
	r.joinable[j.Game] = j
	r.order = append(r.order, j.Game)
	return true
}

func (r *Registry) Joinable(game string) (JoinableGame, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.joinable[game]
	return j, ok
}

// RemoveJoinable drops a game once it was joined or declined.
func (r *Registry) RemoveJoinable(game string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.joinable[game]; !ok {
		return
	}
	delete(r.joinable, game)
	for i, g := range r.order {
		if g == game {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
}

// ListJoinable returns entries in arrival order.
func (r *Registry) ListJoinable() []JoinableGame {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]JoinableGame, 0, len(r.order))
	for _, g := range r.order {
		out = append(out, r.joinable[g])
	}
	return out
}

func (r *Registry) TrackSent(invitationURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sent[invitationURL]; !ok {
		r.sent[invitationURL] = StatusPending
	}
}

// Resolve moves a sent invitation out of PENDING. It reports whether the
// status changed, so repeated responses are noticed once.
func (r *Registry) Resolve(invitationURL string, accepted bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent[invitationURL] != StatusPending && r.sent[invitationURL] != "" {
		return false
	}
	if accepted {
		r.sent[invitationURL] = StatusAccepted
	} else {
		r.sent[invitationURL] = StatusDeclined
	}
	return true
}

func (r *Registry) SentStatus(invitationURL string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sent[invitationURL]
	return s, ok
}
