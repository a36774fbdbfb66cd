package channel

import (
	"errors"
	"sync"
	"time"

	"github.com/opd-ai/overlay/advert"
)

type publishCall struct {
	adv      advert.Advertisement
	lifetime time.Duration
	remote   bool
}

// recordingStore records publish calls.
type recordingStore struct {
	mu        sync.Mutex
	calls     []publishCall
	failLocal bool
}

func (s *recordingStore) Publish(adv advert.Advertisement, lifetime, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLocal {
		return errors.New("store unavailable")
	}
	s.calls = append(s.calls, publishCall{adv: adv.Clone(), lifetime: lifetime})
	return nil
}

func (s *recordingStore) RemotePublish(adv advert.Advertisement, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, publishCall{adv: adv.Clone(), lifetime: ttl, remote: true})
	return nil
}

func (s *recordingStore) LocalAdvertisements(advert.Kind, advert.Attribute, string) ([]advert.Advertisement, error) {
	return nil, nil
}

func (s *recordingStore) Flush(advert.Advertisement) error { return nil }

func (s *recordingStore) Discover(string, advert.Kind, advert.Attribute, string) error { return nil }

func (s *recordingStore) AddDiscoveryListener(advert.DiscoveryListener) advert.ListenerID { return 0 }

func (s *recordingStore) RemoveDiscoveryListener(advert.ListenerID) {}

func (s *recordingStore) snapshot() []publishCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]publishCall(nil), s.calls...)
}
