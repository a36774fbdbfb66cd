package simnet

import (
	"context"
	"sync"

	"github.com/opd-ai/overlay/advert"
	"github.com/opd-ai/overlay/membership"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// Node is one peer's substrate on a hub. Group handles are cached, so
// reopening a group returns the same store with whatever it still holds.
type Node struct {
	hub *Hub

	mu      sync.Mutex
	self    advert.PeerInfo
	started bool
	groups  map[string]*membership.Group
}

var _ membership.Substrate = (*Node)(nil)

// Start opens and joins the root group.
func (n *Node) Start(ctx context.Context, self advert.PeerInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return membership.ErrAlreadyStarted
	}

	root, err := n.hub.attach(RootGroupID, self.ID)
	if err != nil {
		return err
	}
	if err := root.Authority.Authenticate(nil); err != nil {
		n.hub.detach(RootGroupID, self.ID)
		return err
	}

	n.self = self
	n.started = true
	n.groups[RootGroupID] = root

	logrus.WithFields(logrus.Fields{
		"function":  "Node.Start",
		"peer_id":   self.ID,
		"peer_name": self.Name,
	}).Info("Node joined simulated network")
	return nil
}

// Stop resigns from every opened group.
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.started {
		return nil
	}

	var err error
	for id, g := range n.groups {
		err = multierr.Append(err, g.Rendezvous.StopRendezvous())
		err = multierr.Append(err, g.Authority.Resign())
		n.hub.detach(id, n.self.ID)
	}
	n.groups = make(map[string]*membership.Group)
	n.started = false

	logrus.WithFields(logrus.Fields{
		"function": "Node.Stop",
		"peer_id":  n.self.ID,
	}).Info("Node left simulated network")
	return err
}

// Root returns the root group, or nil before Start.
func (n *Node) Root() *membership.Group {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.groups[RootGroupID]
}

// OpenGroup instantiates a group created on the hub.
func (n *Node) OpenGroup(info advert.GroupInfo) (*membership.Group, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.openLocked(info.ID)
}

func (n *Node) openLocked(groupID string) (*membership.Group, error) {
	if !n.started {
		return nil, ErrNotStarted
	}
	if g, ok := n.groups[groupID]; ok {
		return g, nil
	}
	g, err := n.hub.attach(groupID, n.self.ID)
	if err != nil {
		return nil, err
	}
	n.groups[groupID] = g
	return g, nil
}

// NewGroup creates a group on the hub. A credential makes the group private
// and its secret becomes the group's pre-shared key.
func (n *Node) NewGroup(name, description string, cred *membership.Credential) (*membership.Group, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.started {
		return nil, ErrNotStarted
	}

	info := n.hub.createGroup(name, description)
	if cred != nil {
		verifier, err := membership.DeriveVerifier(info.ID, cred.Secret)
		if err != nil {
			return nil, err
		}
		info = n.hub.protect(info.ID, verifier)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Node.NewGroup",
		"group_id": info.ID,
		"name":     name,
		"private":  info.Private,
	}).Debug("Created group")

	return n.openLocked(info.ID)
}
