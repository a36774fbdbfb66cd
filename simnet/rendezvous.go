package simnet

import (
	"sync"
	"sync/atomic"

	"github.com/opd-ai/overlay/membership"
)

// rendezvous is one member's view of a group's rendezvous state.
type rendezvous struct {
	hub     *Hub
	groupID string
	peerID  string

	mu          sync.Mutex
	active      bool
	autoStart   bool
	subscribers map[int]func(string)
	nextSub     int
}

func (r *rendezvous) IsConnectedToRendezvous() bool {
	for _, m := range r.hub.peers(r.groupID, r.peerID) {
		if m.rdv.IsRendezvous() {
			return true
		}
	}
	return false
}

func (r *rendezvous) IsRendezvous() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *rendezvous) StartRendezvous() error {
	r.setActive(true)
	return nil
}

func (r *rendezvous) StopRendezvous() error {
	r.mu.Lock()
	was := r.active
	r.active = false
	r.mu.Unlock()

	if was {
		r.hub.rebalance(r.groupID)
	}
	return nil
}

func (r *rendezvous) SetAutoStart(enabled bool) {
	r.mu.Lock()
	r.autoStart = enabled
	r.mu.Unlock()

	if enabled {
		r.hub.rebalance(r.groupID)
	}
}

// OnPeerDeparture subscribes fn to members leaving the group.
func (r *rendezvous) OnPeerDeparture(fn func(peerID string)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSub++
	id := r.nextSub
	r.subscribers[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subscribers, id)
	}
}

func (r *rendezvous) setActive(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = v
}

func (r *rendezvous) autoStartEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.autoStart
}

func (r *rendezvous) departureSubscribers() []func(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]func(string), 0, len(r.subscribers))
	for _, fn := range r.subscribers {
		out = append(out, fn)
	}
	return out
}

var _ membership.DepartureNotifier = (*rendezvous)(nil)

// authority wraps a PSK authority and reports departures to the hub.
type authority struct {
	*membership.PSKAuthority
	hub      *Hub
	groupID  string
	peerID   string
	admitted atomic.Bool
}

func (a *authority) Authenticate(cred *membership.Credential) error {
	if err := a.PSKAuthority.Authenticate(cred); err != nil {
		return err
	}
	a.admitted.Store(true)
	a.hub.rebalance(a.groupID)
	return nil
}

func (a *authority) Resign() error {
	wasMember := a.Member()
	if err := a.PSKAuthority.Resign(); err != nil {
		return err
	}
	if wasMember {
		a.hub.memberLeft(a.groupID, a.peerID)
	}
	return nil
}
