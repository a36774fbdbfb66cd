package messaging

import (
	"context"
	"math/rand"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/opd-ai/overlay/advert"
	"github.com/sirupsen/logrus"
)

// Sender delivers one request over a channel.
type Sender interface {
	Send(ctx context.Context, ch *advert.Channel, msg *Message) (*Message, error)
}

// ChannelSource lists the group channels an anycast may target.
type ChannelSource interface {
	// Channels returns the currently known candidate channels.
	Channels() []*advert.Channel
	// Refresh asks the group for channels asynchronously.
	Refresh()
}

// AnycastConfig holds retry settings.
type AnycastConfig struct {
	RetryCount int
	RetryWait  time.Duration
}

// Anycaster sends a message to any one group member.
type Anycaster struct {
	sender  Sender
	source  ChannelSource
	cfg     AnycastConfig
	clock   clock.Clock
	metrics *Metrics
}

// NewAnycaster creates an anycaster. m may be nil.
func NewAnycaster(sender Sender, source ChannelSource, cfg AnycastConfig, clk clock.Clock, m *Metrics) *Anycaster {
	if clk == nil {
		clk = clock.New()
	}
	if m == nil {
		m = &Metrics{}
	}
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 5
	}
	return &Anycaster{
		sender:  sender,
		source:  source,
		cfg:     cfg,
		clock:   clk,
		metrics: m,
	}
}

// SendToRandomMember tries candidate channels in random order until one
// accepts msg. With expectReply a delivery only counts when a reply comes
// back. Between attempts it waits RetryWait and refreshes discovery.
func (a *Anycaster) SendToRandomMember(ctx context.Context, msg *Message, expectReply bool) (*Message, error) {
	for attempt := 1; attempt <= a.cfg.RetryCount; attempt++ {
		inc(a.metrics.AnycastAttempts)

		a.source.Refresh()
		candidates := a.source.Channels()
		rand.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})

		for _, ch := range candidates {
			reply, err := a.sender.Send(ctx, ch, msg)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Anycaster.SendToRandomMember",
					"attempt":  attempt,
					"channel":  ch.ID,
					"error":    err.Error(),
				}).Debug("Candidate failed")
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				continue
			}
			if expectReply && reply == nil {
				logrus.WithFields(logrus.Fields{
					"function": "Anycaster.SendToRandomMember",
					"attempt":  attempt,
					"channel":  ch.ID,
				}).Debug("Candidate sent no reply")
				continue
			}
			return reply, nil
		}

		logrus.WithFields(logrus.Fields{
			"function":   "Anycaster.SendToRandomMember",
			"attempt":    attempt,
			"candidates": len(candidates),
		}).Info("No member accepted the message")

		if attempt == a.cfg.RetryCount {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-a.clock.After(a.cfg.RetryWait):
		}
	}

	inc(a.metrics.AnycastExhausted)
	return nil, ErrExhaustedRetries
}

// StoreSource lists the served channels in a group store, excluding the
// local peer's own.
type StoreSource struct {
	store  advert.Store
	selfID string
}

// NewStoreSource creates a source over store for the peer selfID.
func NewStoreSource(store advert.Store, selfID string) *StoreSource {
	return &StoreSource{store: store, selfID: selfID}
}

// Channels returns served channels owned by other peers.
func (s *StoreSource) Channels() []*advert.Channel {
	ads, err := s.store.LocalAdvertisements(advert.KindChannel, advert.AttrName, advert.ChannelQuery())
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "StoreSource.Channels",
			"error":    err.Error(),
		}).Warn("Failed to list channels")
		return nil
	}

	var out []*advert.Channel
	for _, adv := range ads {
		if adv.Channel == nil || adv.Channel.Addr == "" {
			continue
		}
		owner, err := adv.Channel.Owner()
		if err != nil || owner.OwnerID == s.selfID {
			continue
		}
		out = append(out, adv.Channel)
	}
	return out
}

// Refresh issues a group-wide channel discovery query.
func (s *StoreSource) Refresh() {
	if err := s.store.Discover("", advert.KindChannel, advert.AttrName, advert.ChannelQuery()); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "StoreSource.Refresh",
			"error":    err.Error(),
		}).Warn("Channel discovery failed")
	}
}
