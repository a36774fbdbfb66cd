package channel

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/opd-ai/overlay/advert"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// TombstoneLifetime is the lifetime used to force removal of a channel.
const TombstoneLifetime = time.Millisecond

// Defaults for a zero Config.
const (
	DefaultPresenceInterval = 5 * time.Minute
	DefaultExpiration       = 6 * time.Minute
)

// ErrAlreadyStarted indicates Start on a running registry.
var ErrAlreadyStarted = errors.New("channel registry already started")

// Owner identifies the peer owning the channel.
type Owner struct {
	ID        string
	Name      string
	PublicKey []byte
}

// Config holds registry timing and listener settings.
type Config struct {
	PresenceInterval time.Duration
	Expiration       time.Duration
	ListenAddr       string
}

// Registry publishes and maintains one peer's channel advertisement in one group.
type Registry struct {
	store advert.Store
	owner Owner
	cfg   Config
	clock clock.Clock

	mu       sync.Mutex
	current  *advert.Channel
	listener net.Listener
	ticker   *clock.Ticker
	done     chan struct{}
	wg       sync.WaitGroup
}

// New creates a registry publishing into store.
func New(store advert.Store, owner Owner, cfg Config, clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:0"
	}
	if cfg.PresenceInterval <= 0 {
		cfg.PresenceInterval = DefaultPresenceInterval
	}
	if cfg.Expiration <= 0 {
		cfg.Expiration = DefaultExpiration
	}
	return &Registry{
		store: store,
		owner: owner,
		cfg:   cfg,
		clock: clk,
	}
}

// Start publishes a fresh channel advertisement and schedules presence
// republishing. When serve is true a listener is opened and returned for the
// caller to accept on; otherwise the returned listener is nil.
func (r *Registry) Start(serve bool) (net.Listener, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		return nil, ErrAlreadyStarted
	}

	var ln net.Listener
	if serve {
		var err error
		ln, err = net.Listen("tcp", r.cfg.ListenAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to open channel listener: %w", err)
		}
	} else {
		logrus.WithFields(logrus.Fields{
			"function": "Registry.Start",
			"owner":    r.owner.ID,
		}).Warn("No message receiver registered, channel will not accept connections")
	}

	ch, err := r.newChannel(ln)
	if err != nil {
		closeQuietly(ln)
		return nil, err
	}

	if err := r.publish(ch, r.cfg.Expiration); err != nil {
		closeQuietly(ln)
		return nil, err
	}

	r.current = ch
	r.listener = ln
	r.done = make(chan struct{})
	r.ticker = r.clock.Ticker(r.cfg.PresenceInterval)
	r.wg.Add(1)
	go r.presenceLoop(r.ticker, r.done)

	logrus.WithFields(logrus.Fields{
		"function": "Registry.Start",
		"owner":    r.owner.ID,
		"channel":  ch.ID,
		"addr":     ch.Addr,
	}).Info("Direct channel published")
	return ln, nil
}

func (r *Registry) newChannel(ln net.Listener) (*advert.Channel, error) {
	name, err := advert.EncodeChannelName(advert.ChannelName{
		OwnerName: r.owner.Name,
		OwnerID:   r.owner.ID,
		CreatedAt: r.clock.Now().UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode channel name: %w", err)
	}

	ch := &advert.Channel{
		ID:        uuid.NewString(),
		Name:      name,
		PublicKey: append([]byte(nil), r.owner.PublicKey...),
	}
	if ln != nil {
		ch.Addr = ln.Addr().String()
	}
	return ch, nil
}

func (r *Registry) publish(ch *advert.Channel, lifetime time.Duration) error {
	adv := advert.NewChannelAdvertisement(ch)
	if err := r.store.Publish(adv, lifetime, lifetime); err != nil {
		return fmt.Errorf("failed to publish channel: %w", err)
	}
	if err := r.store.RemotePublish(adv, lifetime); err != nil {
		return fmt.Errorf("failed to remote publish channel: %w", err)
	}
	return nil
}

func (r *Registry) presenceLoop(ticker *clock.Ticker, done chan struct{}) {
	defer r.wg.Done()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := r.Republish(); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Registry.presenceLoop",
					"owner":    r.owner.ID,
					"error":    err.Error(),
				}).Warn("Presence republish failed")
			}
		}
	}
}

// Republish refreshes the current advertisement with a full lifetime. It is
// skipped when the channel does not accept connections.
func (r *Registry) Republish() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return nil
	}
	if r.listener == nil {
		logrus.WithFields(logrus.Fields{
			"function": "Registry.Republish",
			"owner":    r.owner.ID,
		}).Debug("Channel not served, skipping republish")
		return nil
	}
	return r.publish(r.current, r.cfg.Expiration)
}

// Channel returns a copy of the published channel, or nil when stopped.
func (r *Registry) Channel() *advert.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	return advert.NewChannelAdvertisement(r.current).Clone().Channel
}

// Stop cancels presence, closes the listener and tombstones the channel.
// Every step runs even if an earlier one fails.
func (r *Registry) Stop() error {
	r.mu.Lock()
	if r.current == nil {
		r.mu.Unlock()
		return nil
	}

	r.ticker.Stop()
	close(r.done)

	var err error
	if r.listener != nil {
		if cerr := r.listener.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to close channel listener: %w", cerr))
		}
	}
	err = multierr.Append(err, r.publish(r.current, TombstoneLifetime))

	logrus.WithFields(logrus.Fields{
		"function": "Registry.Stop",
		"owner":    r.owner.ID,
		"channel":  r.current.ID,
	}).Info("Direct channel tombstoned")

	r.current = nil
	r.listener = nil
	r.ticker = nil
	r.mu.Unlock()

	r.wg.Wait()
	return err
}

func closeQuietly(ln net.Listener) {
	if ln == nil {
		return
	}
	if err := ln.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "closeQuietly",
			"error":    err.Error(),
		}).Debug("Failed to close listener")
	}
}
