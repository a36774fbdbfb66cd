package advert

import "time"

// ListenerID identifies a registered discovery listener.
type ListenerID uint64

// Query selects advertisements by kind and attribute value. Value may end in
// "*" to match by prefix.
type Query struct {
	Kind      Kind
	Attribute Attribute
	Value     string
}

// Matches reports whether adv satisfies the query.
func (q Query) Matches(adv Advertisement) bool {
	return adv.Kind == q.Kind && Match(q.Value, adv.Attr(q.Attribute))
}

// DiscoveryEvent is a batch of advertisements received in answer to a query.
type DiscoveryEvent struct {
	Query          Query
	Source         string // peer id of the responder
	Advertisements []Advertisement
}

// DiscoveryListener receives discovery events. Listeners run on the store's
// delivery goroutines and may be invoked concurrently.
type DiscoveryListener func(DiscoveryEvent)

// Store is the per-group advertisement cache and publish/discover substrate.
type Store interface {
	// Publish caches adv locally for lifetime; expiration bounds how long
	// other peers may cache it when it is handed out in query answers.
	Publish(adv Advertisement, lifetime, expiration time.Duration) error
	// RemotePublish pushes adv to the other members of the group.
	RemotePublish(adv Advertisement, ttl time.Duration) error
	// LocalAdvertisements returns the live cached advertisements matching the query.
	LocalAdvertisements(kind Kind, attr Attribute, value string) ([]Advertisement, error)
	// Flush removes adv from the local cache.
	Flush(adv Advertisement) error
	// Discover issues an asynchronous query. An empty peerID asks every member.
	Discover(peerID string, kind Kind, attr Attribute, value string) error
	AddDiscoveryListener(l DiscoveryListener) ListenerID
	RemoveDiscoveryListener(id ListenerID)
}
