package overlay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/opd-ai/overlay/advert"
	"github.com/opd-ai/overlay/channel"
	"github.com/opd-ai/overlay/config"
	"github.com/opd-ai/overlay/crypto"
	"github.com/opd-ai/overlay/membership"
	"github.com/opd-ai/overlay/messaging"
	"github.com/opd-ai/overlay/reconcile"
)

// ErrNoGroup indicates a group-scoped operation while only the root group is current.
var ErrNoGroup = errors.New("no group joined")

// Peer is one participant of the overlay.
type Peer struct {
	cfg       config.Config
	keys      *crypto.KeyPair
	identity  advert.PeerInfo
	clock     clock.Clock
	metrics   *Metrics
	manager   *membership.Manager
	messenger *messaging.Messenger

	mu      sync.RWMutex
	session *groupSession
}

// groupSession holds the services running for the current group.
type groupSession struct {
	group           *membership.Group
	registry        *channel.Registry
	reconciler      *reconcile.Reconciler
	source          *messaging.StoreSource
	anycaster       *messaging.Anycaster
	cancelDeparture func()
	stopServe       context.CancelFunc
	serveDone       chan struct{}
}

// Option configures a Peer.
type Option func(*Peer)

// WithClock replaces the wall clock used for timers and timestamps.
func WithClock(clk clock.Clock) Option {
	return func(p *Peer) {
		if clk != nil {
			p.clock = clk
		}
	}
}

// WithMetrics records the peer's activity in m.
func WithMetrics(m *Metrics) Option {
	return func(p *Peer) {
		if m != nil {
			p.metrics = m
		}
	}
}

// New creates a peer on substrate. A nil cfg uses the defaults; receiver
// handles requests arriving on the peer's direct channel and may be nil for
// a peer that only sends.
func New(cfg *config.Config, substrate membership.Substrate, receiver messaging.Receiver, opts ...Option) (*Peer, error) {
	if substrate == nil {
		return nil, errors.New("substrate is required")
	}
	if cfg == nil {
		def := config.NewDefaultConfig()
		cfg = &def
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	keys, err := loadKeys(cfg.Peer.PrivateKey)
	if err != nil {
		return nil, err
	}

	p := &Peer{
		cfg:   *cfg,
		keys:  keys,
		clock: clock.New(),
		identity: advert.PeerInfo{
			ID:   keys.PublicHex(),
			Name: cfg.Peer.Name,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		if p.metrics, err = NewMetrics(nil); err != nil {
			return nil, err
		}
	}

	p.messenger = messaging.NewMessenger(keys, receiver, messaging.Config{
		ReplyTimeout:          cfg.Messaging.ReplyTimeout.Duration(),
		MaxConcurrentHandlers: cfg.Messaging.MaxConcurrentHandlers,
		Secure:                cfg.Messaging.SecureChannels,
	}, messaging.WithMetrics(p.metrics.Messaging))

	p.manager = membership.NewManager(substrate, membership.Config{
		Rendezvous:              cfg.Peer.Mode == config.ModeRendezvous,
		RendezvousWait:          cfg.Overlay.RendezvousWait.Duration(),
		GroupJoinRendezvousWait: cfg.Overlay.GroupJoinRendezvousWait.Duration(),
		PollInterval:            cfg.Overlay.PollInterval.Duration(),
		GroupLifetime:           cfg.Overlay.GroupLifetime.Duration(),
		AdvertisementExpiration: cfg.Overlay.AdvertisementExpiration.Duration(),
	}, p.clock, p)
	if err := p.manager.Configure(p.identity); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":  "New",
		"peer_id":   p.identity.ID,
		"peer_name": p.identity.Name,
		"mode":      cfg.Peer.Mode,
		"receiver":  receiver != nil,
	}).Info("Peer created")
	return p, nil
}

func loadKeys(hexKey string) (*crypto.KeyPair, error) {
	if hexKey == "" {
		return crypto.GenerateKeyPair()
	}
	kp, err := crypto.KeyPairFromHex(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: peer.private_key: %v", config.ErrInvalidConfig, err)
	}
	return kp, nil
}

// ID returns the peer id, the hex encoded public key.
func (p *Peer) ID() string {
	return p.identity.ID
}

// Name returns the configured peer name.
func (p *Peer) Name() string {
	return p.identity.Name
}

// PublicKey returns the static key securing the peer's direct channel.
func (p *Peer) PublicKey() [32]byte {
	return p.keys.Public
}

// Membership exposes the membership manager for status queries.
func (p *Peer) Membership() *membership.Manager {
	return p.manager
}

// Start connects the peer to the network.
func (p *Peer) Start(ctx context.Context) error {
	return p.manager.Connect(ctx)
}

// Stop leaves the current group and disconnects.
func (p *Peer) Stop() error {
	return p.manager.Stop()
}

// Close stops the peer and wipes its private key. A closed peer cannot be
// started again.
func (p *Peer) Close() error {
	return multierr.Append(p.Stop(), crypto.WipeKeyPair(p.keys))
}

// Wait blocks until requests already accepted on the peer's channels have
// been handled. It must not be called from a Receiver.
func (p *Peer) Wait() {
	p.messenger.Wait()
}

// CreateGroup creates a group and makes it current. A credential makes the
// group private.
func (p *Peer) CreateGroup(ctx context.Context, name, description string, cred *membership.Credential) (*membership.Group, error) {
	return p.manager.CreateGroup(ctx, name, description, cred)
}

// JoinGroup joins an advertised group and makes it current.
func (p *Peer) JoinGroup(ctx context.Context, info advert.GroupInfo, cred *membership.Credential, beRendezvous bool) (*membership.Group, error) {
	return p.manager.JoinGroup(ctx, info, cred, beRendezvous)
}

// LeaveGroup leaves the current group and falls back to the root group.
func (p *Peer) LeaveGroup() error {
	return p.manager.LeaveGroup(p.manager.CurrentGroup())
}

// KnownGroups returns the groups advertised in the root group.
func (p *Peer) KnownGroups() []advert.GroupInfo {
	return p.manager.KnownGroups()
}

// RefreshGroups asks the network for group advertisements.
func (p *Peer) RefreshGroups() error {
	return p.manager.RefreshGroups()
}

// NewMessage creates a message originating from this peer.
func (p *Peer) NewMessage(action string, payload []byte) *messaging.Message {
	return messaging.NewMessage(action, p.identity.ID, payload)
}

// Channel returns the peer's own channel in the current group.
func (p *Peer) Channel() *advert.Channel {
	s := p.currentSession()
	if s == nil {
		return nil
	}
	return s.registry.Channel()
}

// Channels returns the served channels of other members of the current group.
func (p *Peer) Channels() []*advert.Channel {
	s := p.currentSession()
	if s == nil {
		return nil
	}
	return s.source.Channels()
}

// RefreshChannels asks the current group for channel advertisements.
func (p *Peer) RefreshChannels() error {
	s := p.currentSession()
	if s == nil {
		return ErrNoGroup
	}
	s.source.Refresh()
	return nil
}

// Send delivers msg over ch and returns the reply, nil if none came back.
func (p *Peer) Send(ctx context.Context, ch *advert.Channel, msg *messaging.Message) (*messaging.Message, error) {
	return p.messenger.Send(ctx, ch, msg)
}

// SendToRandomMember delivers msg to any one member of the current group.
func (p *Peer) SendToRandomMember(ctx context.Context, msg *messaging.Message, expectReply bool) (*messaging.Message, error) {
	s := p.currentSession()
	if s == nil {
		return nil, ErrNoGroup
	}
	return s.anycaster.SendToRandomMember(ctx, msg, expectReply)
}

func (p *Peer) currentSession() *groupSession {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.session
}

// GroupEntered starts the channel, reconciliation and messaging services of g.
func (p *Peer) GroupEntered(g *membership.Group) error {
	registry := channel.New(g.Store, channel.Owner{
		ID:        p.identity.ID,
		Name:      p.identity.Name,
		PublicKey: p.keys.Public[:],
	}, channel.Config{
		PresenceInterval: p.cfg.Overlay.PresenceInterval.Duration(),
		Expiration:       p.cfg.Overlay.AdvertisementExpiration.Duration(),
		ListenAddr:       p.cfg.Peer.ListenAddr,
	}, p.clock)

	ln, err := registry.Start(p.messenger.HasReceiver())
	if err != nil {
		return err
	}

	s := &groupSession{
		group:    g,
		registry: registry,
		source:   messaging.NewStoreSource(g.Store, p.identity.ID),
	}
	if ln != nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.stopServe = cancel
		s.serveDone = make(chan struct{})
		go func() {
			defer close(s.serveDone)
			if err := p.messenger.Serve(ctx, ln); err != nil && !errors.Is(err, context.Canceled) {
				logrus.WithFields(logrus.Fields{
					"function": "Peer.GroupEntered",
					"group_id": g.ID(),
					"error":    err.Error(),
				}).Warn("Channel accept loop stopped")
			}
		}()
	}

	s.reconciler = reconcile.New(g.Store,
		reconcile.WithRendezvousCheck(g.Rendezvous.IsRendezvous),
		reconcile.WithDeletionCounter(p.metrics.Deletions),
	)
	s.reconciler.Attach()

	if notifier, ok := g.Rendezvous.(membership.DepartureNotifier); ok {
		s.cancelDeparture = notifier.OnPeerDeparture(func(peerID string) {
			p.metrics.Departures.Inc()
			flushed := s.reconciler.FlushOwner(peerID)
			logrus.WithFields(logrus.Fields{
				"function": "Peer.GroupEntered",
				"group_id": g.ID(),
				"peer_id":  peerID,
				"flushed":  flushed,
			}).Info("Member departed")
		})
	}

	s.anycaster = messaging.NewAnycaster(p.messenger, s.source, messaging.AnycastConfig{
		RetryCount: p.cfg.Messaging.RetryCount,
		RetryWait:  p.cfg.Messaging.RetryWait.Duration(),
	}, p.clock, p.metrics.Messaging)

	p.mu.Lock()
	p.session = s
	p.mu.Unlock()
	p.metrics.GroupsEntered.Inc()

	logrus.WithFields(logrus.Fields{
		"function": "Peer.GroupEntered",
		"group_id": g.ID(),
		"serving":  ln != nil,
	}).Info("Group services started")
	return nil
}

// GroupLeaving stops the services of g started by GroupEntered. Handlers
// still running finish on their own within the reply timeout, so a Receiver
// may leave the group it was reached through.
func (p *Peer) GroupLeaving(g *membership.Group) error {
	p.mu.Lock()
	s := p.session
	if s == nil || s.group.ID() != g.ID() {
		p.mu.Unlock()
		return nil
	}
	p.session = nil
	p.mu.Unlock()

	s.reconciler.Detach()
	if s.cancelDeparture != nil {
		s.cancelDeparture()
	}

	var err error
	err = multierr.Append(err, s.registry.Stop())
	if s.stopServe != nil {
		s.stopServe()
		<-s.serveDone
	}

	logrus.WithFields(logrus.Fields{
		"function": "Peer.GroupLeaving",
		"group_id": g.ID(),
	}).Info("Group services stopped")
	return err
}

var _ membership.Hooks = (*Peer)(nil)
