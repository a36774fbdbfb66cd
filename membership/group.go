package membership

import (
	"context"

	"github.com/opd-ai/overlay/advert"
)

// Role is the peer's role within a group.
type Role uint8

const (
	// RoleEdge relies on a rendezvous for reachability.
	RoleEdge Role = iota
	// RoleRendezvous acts as the group's discovery hub.
	RoleRendezvous
)

func (r Role) String() string {
	if r == RoleRendezvous {
		return "rendezvous"
	}
	return "edge"
}

// RendezvousService controls the rendezvous role in one group.
type RendezvousService interface {
	IsConnectedToRendezvous() bool
	IsRendezvous() bool
	StartRendezvous() error
	StopRendezvous() error
	// SetAutoStart lets the substrate promote or demote the peer as
	// network conditions change.
	SetAutoStart(enabled bool)
}

// DepartureNotifier is implemented by rendezvous services that report
// members leaving the group. The returned func cancels the subscription.
type DepartureNotifier interface {
	OnPeerDeparture(fn func(peerID string)) (cancel func())
}

// Credential authenticates a peer into a private group.
type Credential struct {
	Principal string
	Secret    []byte
}

// CredentialAuthority grants and revokes group membership.
type CredentialAuthority interface {
	// Authenticate joins the group; a nil credential is only accepted by
	// public groups.
	Authenticate(cred *Credential) error
	Resign() error
}

// Group is a handle on one group the peer has opened.
type Group struct {
	Info       advert.GroupInfo
	Store      advert.Store
	Rendezvous RendezvousService
	Authority  CredentialAuthority
}

// ID returns the group id.
func (g *Group) ID() string {
	return g.Info.ID
}

// Name returns the group name.
func (g *Group) Name() string {
	return g.Info.Name
}

// Role reports whether the peer currently acts as the group's rendezvous.
func (g *Group) Role() Role {
	if g.Rendezvous.IsRendezvous() {
		return RoleRendezvous
	}
	return RoleEdge
}

// Substrate is the network layer hosting groups.
type Substrate interface {
	// Start brings self onto the network and opens the root group.
	Start(ctx context.Context, self advert.PeerInfo) error
	Stop() error
	Root() *Group
	// OpenGroup instantiates an advertised group without joining it.
	OpenGroup(info advert.GroupInfo) (*Group, error)
	// NewGroup creates a group; a non-nil credential makes it private.
	NewGroup(name, description string, cred *Credential) (*Group, error)
}

// Hooks are run by the manager when the current group changes.
type Hooks interface {
	// GroupEntered starts per-group services after the group became current.
	GroupEntered(g *Group) error
	// GroupLeaving stops per-group services of a group being left.
	GroupLeaving(g *Group) error
}
