package advert

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// ErrNoID indicates an advertisement without an id.
var ErrNoID = errors.New("advertisement has no id")

// Record is an advertisement together with the time it may still be cached.
type Record struct {
	Advertisement Advertisement
	TTL           time.Duration
}

// Network carries the remote operations of a MemoryStore to the other
// members of its group.
type Network interface {
	Propagate(from *MemoryStore, rec Record)
	Query(from *MemoryStore, peerID string, q Query)
}

type entry struct {
	adv        Advertisement
	expiresAt  time.Time
	expiration time.Duration
}

// MemoryStore is an in-memory Store owned by one peer in one group.
type MemoryStore struct {
	owner   string
	clock   clock.Clock
	network Network

	mu      sync.RWMutex
	entries map[string]*entry

	listenerMu sync.RWMutex
	listeners  map[ListenerID]DiscoveryListener
	nextID     ListenerID
}

// NewMemoryStore creates a store for the peer owner. A nil network makes
// remote operations no-ops.
func NewMemoryStore(owner string, clk clock.Clock, network Network) *MemoryStore {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryStore{
		owner:     owner,
		clock:     clk,
		network:   network,
		entries:   make(map[string]*entry),
		listeners: make(map[ListenerID]DiscoveryListener),
	}
}

// Owner returns the peer id owning the store.
func (s *MemoryStore) Owner() string {
	return s.owner
}

// Publish caches adv locally.
func (s *MemoryStore) Publish(adv Advertisement, lifetime, expiration time.Duration) error {
	if adv.ID() == "" {
		return ErrNoID
	}
	if expiration > lifetime {
		expiration = lifetime
	}

	s.mu.Lock()
	s.entries[adv.Key()] = &entry{
		adv:        adv.Clone(),
		expiresAt:  s.clock.Now().Add(lifetime),
		expiration: expiration,
	}
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "MemoryStore.Publish",
		"owner":    s.owner,
		"kind":     adv.Kind.String(),
		"id":       adv.ID(),
		"lifetime": lifetime,
	}).Debug("Advertisement published locally")
	return nil
}

// RemotePublish pushes adv to the other members of the group.
func (s *MemoryStore) RemotePublish(adv Advertisement, ttl time.Duration) error {
	if adv.ID() == "" {
		return ErrNoID
	}
	if s.network == nil {
		return nil
	}
	s.network.Propagate(s, Record{Advertisement: adv.Clone(), TTL: ttl})
	return nil
}

// Cache stores a record received from another peer.
func (s *MemoryStore) Cache(rec Record) {
	if rec.Advertisement.ID() == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[rec.Advertisement.Key()] = &entry{
		adv:        rec.Advertisement.Clone(),
		expiresAt:  s.clock.Now().Add(rec.TTL),
		expiration: rec.TTL,
	}
}

// LocalAdvertisements returns live cached advertisements matching the query,
// ordered by key.
func (s *MemoryStore) LocalAdvertisements(kind Kind, attr Attribute, value string) ([]Advertisement, error) {
	q := Query{Kind: kind, Attribute: attr, Value: value}
	var out []Advertisement
	for _, rec := range s.Answer(q) {
		out = append(out, rec.Advertisement)
	}
	return out, nil
}

// Answer returns the live records matching q with their remaining TTL.
func (s *MemoryStore) Answer(q Query) []Record {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for key, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, key)
			continue
		}
		if q.Matches(e.adv) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	out := make([]Record, 0, len(keys))
	for _, key := range keys {
		e := s.entries[key]
		ttl := e.expiresAt.Sub(now)
		if e.expiration < ttl {
			ttl = e.expiration
		}
		out = append(out, Record{Advertisement: e.adv.Clone(), TTL: ttl})
	}
	return out
}

// Flush removes adv from the local cache.
func (s *MemoryStore) Flush(adv Advertisement) error {
	s.mu.Lock()
	_, ok := s.entries[adv.Key()]
	delete(s.entries, adv.Key())
	s.mu.Unlock()

	if ok {
		logrus.WithFields(logrus.Fields{
			"function": "MemoryStore.Flush",
			"owner":    s.owner,
			"kind":     adv.Kind.String(),
			"id":       adv.ID(),
		}).Debug("Advertisement flushed")
	}
	return nil
}

// CleanExpired removes expired entries.
func (s *MemoryStore) CleanExpired() {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, key)
		}
	}
}

// Discover issues an asynchronous query through the network.
func (s *MemoryStore) Discover(peerID string, kind Kind, attr Attribute, value string) error {
	if s.network == nil {
		return nil
	}
	s.network.Query(s, peerID, Query{Kind: kind, Attribute: attr, Value: value})
	return nil
}

// Deliver caches the records of a query answer and notifies listeners.
func (s *MemoryStore) Deliver(source string, q Query, recs []Record) {
	ev := DiscoveryEvent{Query: q, Source: source}
	for _, rec := range recs {
		s.Cache(rec)
		ev.Advertisements = append(ev.Advertisements, rec.Advertisement.Clone())
	}

	s.listenerMu.RLock()
	listeners := make([]DiscoveryListener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.listenerMu.RUnlock()

	for _, l := range listeners {
		l(ev)
	}
}

// AddDiscoveryListener registers l and returns its id.
func (s *MemoryStore) AddDiscoveryListener(l DiscoveryListener) ListenerID {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.nextID++
	s.listeners[s.nextID] = l
	return s.nextID
}

// RemoveDiscoveryListener unregisters a listener. Unknown ids are ignored.
func (s *MemoryStore) RemoveDiscoveryListener(id ListenerID) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	delete(s.listeners, id)
}
