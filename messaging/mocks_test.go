package messaging

import (
	"context"
	"sync"

	"github.com/opd-ai/overlay/advert"
)

type sendResult struct {
	reply *Message
	err   error
}

// fakeSender answers per channel id and records calls.
type fakeSender struct {
	mu      sync.Mutex
	results map[string]sendResult
	calls   []string
}

func (f *fakeSender) Send(_ context.Context, ch *advert.Channel, _ *Message) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ch.ID)
	r := f.results[ch.ID]
	return r.reply, r.err
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// staticSource returns a fixed candidate list and counts refreshes.
type staticSource struct {
	mu        sync.Mutex
	channels  []*advert.Channel
	refreshes int
}

func (s *staticSource) Channels() []*advert.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*advert.Channel(nil), s.channels...)
}

func (s *staticSource) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
}

func (s *staticSource) refreshCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshes
}
