package simnet

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/opd-ai/overlay/advert"
	"github.com/opd-ai/overlay/membership"
	"github.com/sirupsen/logrus"
)

// RootGroupID identifies the root group every node opens on Start.
const RootGroupID = "overlay-root"

var (
	// ErrUnknownGroup indicates a group the hub has never seen created.
	ErrUnknownGroup = errors.New("unknown group")
	// ErrNotStarted indicates a group operation on a stopped node.
	ErrNotStarted = errors.New("node not started")
)

type hubGroup struct {
	info     advert.GroupInfo
	verifier []byte
	members  map[string]*member
}

type member struct {
	peerID    string
	store     *advert.MemoryStore
	rdv       *rendezvous
	authority *authority
}

func (m *member) active() bool {
	return m.authority.Member()
}

// admitted reports whether the member ever authenticated. A member that has
// resigned but is still attached may publish its last advertisements.
func (m *member) admitted() bool {
	return m.authority.admitted.Load()
}

// Hub joins the nodes of one simulated network.
type Hub struct {
	clock clock.Clock

	mu     sync.RWMutex
	groups map[string]*hubGroup

	silentDepartures bool

	wg sync.WaitGroup
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithoutDepartureNotices stops the hub from telling members that a peer
// left. Remote copies of the departed peer's advertisements then only go
// away through expiry.
func WithoutDepartureNotices() HubOption {
	return func(h *Hub) {
		h.silentDepartures = true
	}
}

// NewHub creates a hub with an open root group.
func NewHub(clk clock.Clock, opts ...HubOption) *Hub {
	if clk == nil {
		clk = clock.New()
	}
	h := &Hub{
		clock:  clk,
		groups: make(map[string]*hubGroup),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.groups[RootGroupID] = &hubGroup{
		info:    advert.GroupInfo{ID: RootGroupID, Name: "root"},
		members: make(map[string]*member),
	}
	return h
}

// NewNode creates a substrate for one peer.
func (h *Hub) NewNode() *Node {
	return &Node{hub: h, groups: make(map[string]*membership.Group)}
}

// Settle blocks until every in-flight delivery has completed.
func (h *Hub) Settle() {
	h.wg.Wait()
}

func (h *Hub) deliver(fn func()) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		fn()
	}()
}

func (h *Hub) createGroup(name, description string) advert.GroupInfo {
	info := advert.GroupInfo{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
	}
	h.mu.Lock()
	h.groups[info.ID] = &hubGroup{
		info:    info,
		members: make(map[string]*member),
	}
	h.mu.Unlock()
	return info
}

// protect makes a group private. The verifier is salted with the group id,
// so it can only be set once the id exists.
func (h *Hub) protect(groupID string, verifier []byte) advert.GroupInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	g := h.groups[groupID]
	g.verifier = verifier
	g.info.Private = true
	return g.info
}

// attach registers peerID in the group and returns its membership handle.
func (h *Hub) attach(groupID, peerID string) (*membership.Group, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	g, ok := h.groups[groupID]
	if !ok {
		return nil, ErrUnknownGroup
	}

	m := &member{peerID: peerID}
	m.store = advert.NewMemoryStore(peerID, h.clock, &network{hub: h, groupID: groupID})
	m.rdv = &rendezvous{hub: h, groupID: groupID, peerID: peerID, subscribers: make(map[int]func(string))}
	m.authority = &authority{
		PSKAuthority: membership.NewPSKAuthority(groupID, g.verifier),
		hub:          h,
		groupID:      groupID,
		peerID:       peerID,
	}
	if old, exists := g.members[peerID]; exists {
		// A reopened group replaces the stale handle.
		old.rdv.setActive(false)
	}
	g.members[peerID] = m

	return &membership.Group{
		Info:       g.info,
		Store:      m.store,
		Rendezvous: m.rdv,
		Authority:  m.authority,
	}, nil
}

func (h *Hub) detach(groupID, peerID string) {
	h.mu.Lock()
	g, ok := h.groups[groupID]
	if ok {
		delete(g.members, peerID)
	}
	h.mu.Unlock()
}

// peers returns the active members of a group other than exclude, ordered by id.
func (h *Hub) peers(groupID, exclude string) []*member {
	h.mu.RLock()
	defer h.mu.RUnlock()

	g, ok := h.groups[groupID]
	if !ok {
		return nil
	}
	var out []*member
	for id, m := range g.members {
		if id != exclude && m.active() {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].peerID < out[j].peerID })
	return out
}

func (h *Hub) isActive(groupID, peerID string) bool {
	m := h.lookup(groupID, peerID)
	return m != nil && m.active()
}

func (h *Hub) isAdmitted(groupID, peerID string) bool {
	m := h.lookup(groupID, peerID)
	return m != nil && m.admitted()
}

func (h *Hub) lookup(groupID, peerID string) *member {
	h.mu.RLock()
	defer h.mu.RUnlock()
	g, ok := h.groups[groupID]
	if !ok {
		return nil
	}
	return g.members[peerID]
}

// memberLeft notifies the remaining members and re-elects a rendezvous.
func (h *Hub) memberLeft(groupID, peerID string) {
	remaining := h.peers(groupID, peerID)
	if !h.silentDepartures {
		for _, m := range remaining {
			for _, fn := range m.rdv.departureSubscribers() {
				fn := fn
				h.deliver(func() { fn(peerID) })
			}
		}
	}
	h.rebalance(groupID)

	logrus.WithFields(logrus.Fields{
		"function":  "Hub.memberLeft",
		"group_id":  groupID,
		"peer_id":   peerID,
		"remaining": len(remaining),
	}).Debug("Member left group")
}

// rebalance promotes the first auto-start member when a group with members
// has no rendezvous left.
func (h *Hub) rebalance(groupID string) {
	members := h.peers(groupID, "")
	var candidate *member
	for _, m := range members {
		if m.rdv.IsRendezvous() {
			return
		}
		if candidate == nil && m.rdv.autoStartEnabled() {
			candidate = m
		}
	}
	if candidate == nil {
		return
	}
	candidate.rdv.setActive(true)

	logrus.WithFields(logrus.Fields{
		"function": "Hub.rebalance",
		"group_id": groupID,
		"peer_id":  candidate.peerID,
	}).Info("Promoted member to rendezvous")
}

// network routes one group's remote store operations through the hub.
type network struct {
	hub     *Hub
	groupID string
}

// Propagate pushes rec to the active members. The sender only has to be
// admitted, so a tombstone sent while leaving still goes out.
func (n *network) Propagate(from *advert.MemoryStore, rec advert.Record) {
	if !n.hub.isAdmitted(n.groupID, from.Owner()) {
		return
	}
	for _, m := range n.hub.peers(n.groupID, from.Owner()) {
		store := m.store
		n.hub.deliver(func() {
			wire, err := transmit([]advert.Record{rec})
			if err != nil {
				return
			}
			store.Cache(wire[0])
		})
	}
}

func (n *network) Query(from *advert.MemoryStore, peerID string, q advert.Query) {
	origin := from.Owner()
	if !n.hub.isActive(n.groupID, origin) {
		return
	}

	members := n.hub.peers(n.groupID, origin)
	for _, m := range members {
		if peerID != "" && m.peerID != peerID {
			continue
		}
		recs := m.store.Answer(q)
		if len(recs) == 0 {
			continue
		}
		source := m.peerID
		n.hub.deliver(func() {
			if wire, err := transmit(recs); err == nil {
				from.Deliver(source, q, wire)
			}
		})

		// Rendezvous peers relay answers and see them too.
		for _, r := range members {
			if r.peerID == source || !r.rdv.IsRendezvous() {
				continue
			}
			relay := r.store
			n.hub.deliver(func() {
				if wire, err := transmit(recs); err == nil {
					relay.Deliver(source, q, wire)
				}
			})
		}
	}
}

type wireRecord struct {
	Advertisement advert.Advertisement `json:"advertisement"`
	TTL           time.Duration        `json:"ttl"`
}

// transmit round-trips records through their wire encoding, so receivers
// never share memory with the sender.
func transmit(recs []advert.Record) ([]advert.Record, error) {
	out := make([]wireRecord, len(recs))
	for i, rec := range recs {
		out[i] = wireRecord{Advertisement: rec.Advertisement, TTL: rec.TTL}
	}
	data, err := json.Marshal(out)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "transmit",
			"records":  len(recs),
			"error":    err.Error(),
		}).Warn("Dropping undeliverable advertisements")
		return nil, err
	}

	var in []wireRecord
	if err := json.Unmarshal(data, &in); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "transmit",
			"error":    err.Error(),
		}).Warn("Dropping undecodable advertisements")
		return nil, err
	}
	res := make([]advert.Record, len(in))
	for i, w := range in {
		res[i] = advert.Record{Advertisement: w.Advertisement, TTL: w.TTL}
	}
	return res, nil
}
