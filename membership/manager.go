package membership

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/opd-ai/overlay/advert"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// State is the manager's lifecycle state.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateJoined
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	default:
		return "disconnected"
	}
}

// Config holds membership timing.
type Config struct {
	// Rendezvous makes the peer a rendezvous of the root group on Connect.
	Rendezvous              bool
	RendezvousWait          time.Duration
	GroupJoinRendezvousWait time.Duration
	PollInterval            time.Duration
	GroupLifetime           time.Duration
	AdvertisementExpiration time.Duration
}

// Manager drives one peer's network connection and group membership.
type Manager struct {
	substrate Substrate
	cfg       Config
	clock     clock.Clock
	hooks     Hooks

	// mu serializes lifecycle operations.
	mu sync.Mutex

	stateMu  sync.RWMutex
	identity *advert.PeerInfo
	state    State
	root     *Group
	current  *Group
}

// NewManager creates a manager over substrate. hooks may be nil.
func NewManager(substrate Substrate, cfg Config, clk clock.Clock, hooks Hooks) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Manager{
		substrate: substrate,
		cfg:       cfg,
		clock:     clk,
		hooks:     hooks,
	}
}

// Configure records the local identity. It must precede Connect.
func (m *Manager) Configure(identity advert.PeerInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.state != StateDisconnected {
		return ErrAlreadyStarted
	}
	id := identity
	m.identity = &id
	return nil
}

// Connect joins the network and waits for a root rendezvous connection.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	identity, state := m.snapshot()
	if identity == nil {
		return ErrNotConfigured
	}
	if state >= StateConnected {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.Connect",
			"peer_id":  identity.ID,
		}).Warn("Already connected to network")
		return nil
	}

	m.setState(StateConnecting)
	if err := m.substrate.Start(ctx, *identity); err != nil {
		m.setState(StateDisconnected)
		return fmt.Errorf("failed to start network: %w", err)
	}

	root := m.substrate.Root()
	if m.cfg.Rendezvous {
		if err := root.Rendezvous.StartRendezvous(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Manager.Connect",
				"error":    err.Error(),
			}).Warn("Failed to start root rendezvous")
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Manager.Connect",
		"peer_id":  identity.ID,
		"wait":     m.cfg.RendezvousWait,
	}).Info("Waiting for rendezvous connection")

	if !m.WaitForRendezvous(ctx, root, m.cfg.RendezvousWait) {
		if err := m.substrate.Stop(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Manager.Connect",
				"error":    err.Error(),
			}).Warn("Failed to stop network")
		}
		m.setState(StateDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrNoRendezvous
	}

	if !m.cfg.Rendezvous {
		root.Rendezvous.SetAutoStart(true)
	}
	if err := root.Store.Discover("", advert.KindGroup, advert.AttrName, "*"); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.Connect",
			"error":    err.Error(),
		}).Warn("Group discovery failed")
	}

	m.stateMu.Lock()
	m.root = root
	m.current = root
	m.state = StateConnected
	m.stateMu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Manager.Connect",
		"peer_id":  identity.ID,
	}).Info("Connected to network")
	return nil
}

// CreateGroup creates a group, becomes its rendezvous and makes it current.
// A non-nil credential makes the group private.
func (m *Manager) CreateGroup(ctx context.Context, name, description string, cred *Credential) (*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.IsConnectedToNetwork() {
		return nil, ErrNotConnected
	}

	g, err := m.substrate.NewGroup(name, description, cred)
	if err != nil {
		return nil, fmt.Errorf("failed to create group %q: %w", name, err)
	}
	if err := g.Authority.Authenticate(cred); err != nil {
		m.abandon(g)
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	if err := g.Rendezvous.StartRendezvous(); err != nil {
		m.abandon(g)
		return nil, fmt.Errorf("failed to start rendezvous in %q: %w", name, err)
	}

	if err := m.enter(ctx, g); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Manager.CreateGroup",
		"group_id": g.ID(),
		"name":     name,
		"private":  cred != nil,
	}).Info("Group created")
	return g, nil
}

// JoinGroup joins an advertised group. Joining the current group returns it
// unchanged.
func (m *Manager) JoinGroup(ctx context.Context, info advert.GroupInfo, cred *Credential, beRendezvous bool) (*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.IsConnectedToNetwork() {
		return nil, ErrNotConnected
	}

	m.stateMu.RLock()
	current, root := m.current, m.root
	m.stateMu.RUnlock()

	if current != nil && current.ID() == info.ID {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.JoinGroup",
			"group_id": info.ID,
		}).Debug("Group already current")
		return current, nil
	}
	if root != nil && root.ID() == info.ID {
		return root, nil
	}

	g, err := m.substrate.OpenGroup(info)
	if err != nil {
		return nil, fmt.Errorf("failed to open group %q: %w", info.Name, err)
	}
	if err := flushCached(g); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.JoinGroup",
			"group_id": info.ID,
			"error":    err.Error(),
		}).Warn("Failed to flush cached advertisements")
	}

	if err := g.Authority.Authenticate(cred); err != nil {
		m.abandon(g)
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	if beRendezvous {
		if err := g.Rendezvous.StartRendezvous(); err != nil {
			m.abandon(g)
			return nil, fmt.Errorf("failed to start rendezvous in %q: %w", info.Name, err)
		}
	} else {
		if !m.WaitForRendezvous(ctx, g, m.cfg.GroupJoinRendezvousWait) {
			if ctx.Err() != nil {
				m.abandon(g)
				return nil, ctx.Err()
			}
			logrus.WithFields(logrus.Fields{
				"function": "Manager.JoinGroup",
				"group_id": info.ID,
				"wait":     m.cfg.GroupJoinRendezvousWait,
			}).Info("No rendezvous in group, promoting self")
			if err := g.Rendezvous.StartRendezvous(); err != nil {
				m.abandon(g)
				return nil, fmt.Errorf("failed to start rendezvous in %q: %w", info.Name, err)
			}
		}
		g.Rendezvous.SetAutoStart(true)
	}

	if err := m.enter(ctx, g); err != nil {
		return nil, err
	}

	for _, q := range []advert.Query{
		{Kind: advert.KindPeer, Attribute: advert.AttrName, Value: "*"},
		{Kind: advert.KindChannel, Attribute: advert.AttrName, Value: advert.ChannelQuery()},
	} {
		if err := g.Store.Discover("", q.Kind, q.Attribute, q.Value); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Manager.JoinGroup",
				"group_id": info.ID,
				"error":    err.Error(),
			}).Warn("Discovery failed")
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Manager.JoinGroup",
		"group_id": g.ID(),
		"role":     g.Role().String(),
	}).Info("Group joined")
	return g, nil
}

// enter leaves the previous group, publishes g and makes it current.
func (m *Manager) enter(_ context.Context, g *Group) error {
	m.stateMu.RLock()
	previous, root, identity := m.current, m.root, m.identity
	m.stateMu.RUnlock()

	if err := m.leaveLocked(previous); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.enter",
			"group_id": previous.ID(),
			"error":    err.Error(),
		}).Warn("Leaving previous group was incomplete")
	}

	groupAdv := advert.NewGroupAdvertisement(&g.Info)
	if err := publish(root.Store, groupAdv, m.cfg.GroupLifetime, m.cfg.GroupLifetime); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.enter",
			"group_id": g.ID(),
			"error":    err.Error(),
		}).Warn("Failed to publish group advertisement")
	}
	peerAdv := advert.NewPeerAdvertisement(&advert.PeerInfo{ID: identity.ID, Name: identity.Name})
	if err := publish(g.Store, peerAdv, m.cfg.GroupLifetime, m.cfg.AdvertisementExpiration); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.enter",
			"group_id": g.ID(),
			"error":    err.Error(),
		}).Warn("Failed to publish peer advertisement")
	}

	m.stateMu.Lock()
	m.current = g
	m.state = StateJoined
	m.stateMu.Unlock()

	if m.hooks != nil {
		if err := m.hooks.GroupEntered(g); err != nil {
			if lerr := m.leaveLocked(g); lerr != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Manager.enter",
					"group_id": g.ID(),
					"error":    lerr.Error(),
				}).Warn("Rollback leave was incomplete")
			}
			return fmt.Errorf("failed to start group services: %w", err)
		}
	}
	return nil
}

// abandon drops a group that never became current.
func (m *Manager) abandon(g *Group) {
	err := multierr.Combine(
		g.Rendezvous.StopRendezvous(),
		g.Authority.Resign(),
	)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.abandon",
			"group_id": g.ID(),
			"error":    err.Error(),
		}).Warn("Failed to abandon group")
	}
}

// LeaveGroup leaves g. Every teardown step runs; their failures are
// returned combined. Leaving nil, the root group, or leaving while not
// connected does nothing.
func (m *Manager) LeaveGroup(g *Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leaveLocked(g)
}

func (m *Manager) leaveLocked(g *Group) error {
	if g == nil || !m.IsConnectedToNetwork() || m.isRoot(g) {
		return nil
	}

	var err error
	err = multierr.Append(err, wrap("stop rendezvous", g.Rendezvous.StopRendezvous()))
	err = multierr.Append(err, wrap("resign", g.Authority.Resign()))
	if m.hooks != nil {
		err = multierr.Append(err, wrap("stop group services", m.hooks.GroupLeaving(g)))
	}
	err = multierr.Append(err, wrap("flush", flushCached(g)))

	m.stateMu.Lock()
	if m.current != nil && m.current.ID() == g.ID() {
		m.current = m.root
		m.state = StateConnected
	}
	m.stateMu.Unlock()

	fields := logrus.Fields{
		"function": "Manager.LeaveGroup",
		"group_id": g.ID(),
	}
	if err != nil {
		fields["error"] = err.Error()
		logrus.WithFields(fields).Warn("Left group with errors")
	} else {
		logrus.WithFields(fields).Info("Left group")
	}
	return err
}

// Stop leaves the current group and disconnects from the network.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.IsConnectedToNetwork() {
		return nil
	}

	m.stateMu.RLock()
	current := m.current
	m.stateMu.RUnlock()

	err := m.leaveLocked(current)
	err = multierr.Append(err, wrap("stop network", m.substrate.Stop()))

	m.stateMu.Lock()
	m.root = nil
	m.current = nil
	m.state = StateDisconnected
	m.stateMu.Unlock()
	return err
}

// WaitForRendezvous polls g until the peer is connected to a rendezvous or
// is one itself. A zero timeout waits until ctx is done.
func (m *Manager) WaitForRendezvous(ctx context.Context, g *Group, timeout time.Duration) bool {
	connected := func() bool {
		return g.Rendezvous.IsConnectedToRendezvous() || g.Rendezvous.IsRendezvous()
	}
	if connected() {
		return true
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := m.clock.Timer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := m.clock.Ticker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline:
			return connected()
		case <-ticker.C:
			if connected() {
				return true
			}
		}
	}
}

func (m *Manager) snapshot() (*advert.PeerInfo, State) {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.identity, m.state
}

func (m *Manager) setState(s State) {
	m.stateMu.Lock()
	m.state = s
	m.stateMu.Unlock()
}

func (m *Manager) isRoot(g *Group) bool {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.root != nil && m.root.ID() == g.ID()
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// CurrentGroup returns the current group, the root group when none is
// joined, or nil when disconnected.
func (m *Manager) CurrentGroup() *Group {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.current
}

// RootGroup returns the root group, or nil when disconnected.
func (m *Manager) RootGroup() *Group {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.root
}

// HasJoinedGroup reports whether a group other than the root is current.
func (m *Manager) HasJoinedGroup() bool {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.current != nil && m.root != nil && m.current.ID() != m.root.ID()
}

// IsConnectedToNetwork reports whether Connect has completed.
func (m *Manager) IsConnectedToNetwork() bool {
	return m.State() >= StateConnected
}

// IsConnectedToGroup reports whether the joined group has a reachable rendezvous.
func (m *Manager) IsConnectedToGroup() bool {
	if !m.HasJoinedGroup() {
		return false
	}
	g := m.CurrentGroup()
	return g.Rendezvous.IsConnectedToRendezvous() || g.Rendezvous.IsRendezvous()
}

// IsGroupRendezvous reports whether the peer is the joined group's rendezvous.
func (m *Manager) IsGroupRendezvous() bool {
	if !m.HasJoinedGroup() {
		return false
	}
	return m.CurrentGroup().Rendezvous.IsRendezvous()
}

// KnownGroups returns the group advertisements cached in the root group.
func (m *Manager) KnownGroups() []advert.GroupInfo {
	root := m.RootGroup()
	if root == nil {
		return nil
	}
	ads, err := root.Store.LocalAdvertisements(advert.KindGroup, advert.AttrName, "*")
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.KnownGroups",
			"error":    err.Error(),
		}).Warn("Failed to list groups")
		return nil
	}
	out := make([]advert.GroupInfo, 0, len(ads))
	for _, adv := range ads {
		if adv.Group != nil {
			out = append(out, *adv.Group)
		}
	}
	return out
}

// RefreshGroups asks the network for group advertisements.
func (m *Manager) RefreshGroups() error {
	root := m.RootGroup()
	if root == nil {
		return ErrNotConnected
	}
	return root.Store.Discover("", advert.KindGroup, advert.AttrName, "*")
}

func publish(store advert.Store, adv advert.Advertisement, lifetime, expiration time.Duration) error {
	return multierr.Combine(
		store.Publish(adv, lifetime, expiration),
		store.RemotePublish(adv, expiration),
	)
}

// flushCached drops cached peer and channel advertisements of g.
func flushCached(g *Group) error {
	var err error
	for _, q := range []advert.Query{
		{Kind: advert.KindPeer, Attribute: advert.AttrName, Value: "*"},
		{Kind: advert.KindChannel, Attribute: advert.AttrName, Value: "*"},
	} {
		ads, lerr := g.Store.LocalAdvertisements(q.Kind, q.Attribute, q.Value)
		if lerr != nil {
			err = multierr.Append(err, lerr)
			continue
		}
		for _, adv := range ads {
			err = multierr.Append(err, g.Store.Flush(adv))
		}
	}
	return err
}

func wrap(step string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", step, err)
}
