package membership

import (
	"context"
	"errors"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/opd-ai/overlay/advert"
)

// mockRendezvous is a scriptable RendezvousService.
type mockRendezvous struct {
	mu         sync.Mutex
	connected  bool
	rendezvous bool
	autoStart  bool
	starts     int
	stops      int
	stopErr    error
}

func (r *mockRendezvous) IsConnectedToRendezvous() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

func (r *mockRendezvous) IsRendezvous() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rendezvous
}

func (r *mockRendezvous) StartRendezvous() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
	r.rendezvous = true
	return nil
}

func (r *mockRendezvous) StopRendezvous() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	r.rendezvous = false
	return r.stopErr
}

func (r *mockRendezvous) SetAutoStart(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.autoStart = enabled
}

func (r *mockRendezvous) setConnected(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = v
}

// mockAuthority counts calls and can reject.
type mockAuthority struct {
	mu        sync.Mutex
	authCalls int
	resigns   int
	reject    bool
	resignErr error
}

func (a *mockAuthority) Authenticate(*Credential) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.authCalls++
	if a.reject {
		return errors.New("denied")
	}
	return nil
}

func (a *mockAuthority) Resign() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resigns++
	return a.resignErr
}

// mockSubstrate hands out groups backed by memory stores.
type mockSubstrate struct {
	mu        sync.Mutex
	clock     clock.Clock
	root      *Group
	groups    map[string]*Group
	started   int
	stopped   int
	startErr  error
	rejectNew bool
}

func newMockSubstrate(clk clock.Clock) *mockSubstrate {
	s := &mockSubstrate{clock: clk, groups: make(map[string]*Group)}
	s.root = s.makeGroup(advert.GroupInfo{ID: "root", Name: "root"})
	return s
}

func (s *mockSubstrate) makeGroup(info advert.GroupInfo) *Group {
	return &Group{
		Info:       info,
		Store:      advert.NewMemoryStore("self", s.clock, nil),
		Rendezvous: &mockRendezvous{},
		Authority:  &mockAuthority{},
	}
}

func (s *mockSubstrate) Start(context.Context, advert.PeerInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started++
	return s.startErr
}

func (s *mockSubstrate) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
	return nil
}

func (s *mockSubstrate) Root() *Group { return s.root }

func (s *mockSubstrate) OpenGroup(info advert.GroupInfo) (*Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.groups[info.ID]; ok {
		return g, nil
	}
	g := s.makeGroup(info)
	s.groups[info.ID] = g
	return g, nil
}

func (s *mockSubstrate) NewGroup(name, description string, cred *Credential) (*Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := advert.GroupInfo{ID: name + "-id", Name: name, Description: description, Private: cred != nil}
	g := s.makeGroup(info)
	g.Authority.(*mockAuthority).reject = s.rejectNew
	s.groups[info.ID] = g
	return g, nil
}

func (s *mockSubstrate) rdv(g *Group) *mockRendezvous { return g.Rendezvous.(*mockRendezvous) }

func (s *mockSubstrate) auth(g *Group) *mockAuthority { return g.Authority.(*mockAuthority) }

// mockHooks records group transitions.
type mockHooks struct {
	mu         sync.Mutex
	entered    []string
	leaving    []string
	enterErr   error
	leavingErr error
}

func (h *mockHooks) GroupEntered(g *Group) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entered = append(h.entered, g.ID())
	return h.enterErr
}

func (h *mockHooks) GroupLeaving(g *Group) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaving = append(h.leaving, g.ID())
	return h.leavingErr
}
