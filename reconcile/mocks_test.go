package reconcile

import (
	"sync"
	"time"

	"github.com/opd-ai/overlay/advert"
)

// listStore keeps advertisements in a slice so duplicate copies can coexist.
type listStore struct {
	mu       sync.Mutex
	ads      []advert.Advertisement
	flushed  []advert.Advertisement
	listener advert.DiscoveryListener
}

func (s *listStore) Publish(adv advert.Advertisement, _, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ads = append(s.ads, adv)
	return nil
}

func (s *listStore) RemotePublish(advert.Advertisement, time.Duration) error { return nil }

func (s *listStore) LocalAdvertisements(kind advert.Kind, attr advert.Attribute, value string) ([]advert.Advertisement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := advert.Query{Kind: kind, Attribute: attr, Value: value}
	var out []advert.Advertisement
	for _, a := range s.ads {
		if q.Matches(a) {
			out = append(out, a)
		}
	}
	return out, nil
}

// Flush removes the last copy with the same key.
func (s *listStore) Flush(adv advert.Advertisement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushed = append(s.flushed, adv)
	for i := len(s.ads) - 1; i >= 0; i-- {
		if s.ads[i].Key() == adv.Key() {
			s.ads = append(s.ads[:i], s.ads[i+1:]...)
			break
		}
	}
	return nil
}

func (s *listStore) Discover(string, advert.Kind, advert.Attribute, string) error { return nil }

func (s *listStore) AddDiscoveryListener(l advert.DiscoveryListener) advert.ListenerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
	return 1
}

func (s *listStore) RemoveDiscoveryListener(advert.ListenerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = nil
}

func (s *listStore) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, a := range s.ads {
		out = append(out, a.ID())
	}
	return out
}

func (s *listStore) flushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.flushed)
}
