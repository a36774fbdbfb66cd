package advert

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind identifies the payload carried by an Advertisement.
type Kind uint8

const (
	// KindUnknown marks advertisements this peer cannot interpret.
	KindUnknown Kind = iota
	// KindChannel is a direct communication channel.
	KindChannel
	// KindPeer describes a peer.
	KindPeer
	// KindGroup describes a group.
	KindGroup
)

// String returns the wire tag of the kind.
func (k Kind) String() string {
	switch k {
	case KindChannel:
		return "channel"
	case KindPeer:
		return "peer"
	case KindGroup:
		return "group"
	default:
		return "unknown"
	}
}

func parseKind(s string) Kind {
	switch s {
	case "channel":
		return KindChannel
	case "peer":
		return KindPeer
	case "group":
		return KindGroup
	default:
		return KindUnknown
	}
}

// Attribute selects the advertisement field a query matches against.
type Attribute string

const (
	// AttrName matches the advertisement name.
	AttrName Attribute = "Name"
	// AttrID matches the advertisement id.
	AttrID Attribute = "ID"
)

// Channel advertises a peer's direct communication endpoint in one group.
type Channel struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Addr      string `json:"addr,omitempty"`
	PublicKey []byte `json:"public_key,omitempty"`
}

// Owner parses the owner and creation time packed into the channel name.
func (c *Channel) Owner() (ChannelName, error) {
	return ParseChannelName(c.Name)
}

// PeerInfo advertises a peer's presence in a group.
type PeerInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// GroupInfo advertises a group.
type GroupInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Private     bool   `json:"private,omitempty"`
}

// Advertisement is a discoverable descriptor held in a Store.
// Exactly one of Channel, Peer or Group is set unless Kind is KindUnknown.
type Advertisement struct {
	Kind    Kind
	Channel *Channel
	Peer    *PeerInfo
	Group   *GroupInfo

	// tag and raw preserve unknown advertisements verbatim.
	tag string
	raw json.RawMessage
}

// NewChannelAdvertisement wraps a channel descriptor.
func NewChannelAdvertisement(c *Channel) Advertisement {
	return Advertisement{Kind: KindChannel, Channel: c}
}

// NewPeerAdvertisement wraps a peer descriptor.
func NewPeerAdvertisement(p *PeerInfo) Advertisement {
	return Advertisement{Kind: KindPeer, Peer: p}
}

// NewGroupAdvertisement wraps a group descriptor.
func NewGroupAdvertisement(g *GroupInfo) Advertisement {
	return Advertisement{Kind: KindGroup, Group: g}
}

// ID returns the advertisement id, or "" for unknown advertisements.
func (a Advertisement) ID() string {
	switch {
	case a.Kind == KindChannel && a.Channel != nil:
		return a.Channel.ID
	case a.Kind == KindPeer && a.Peer != nil:
		return a.Peer.ID
	case a.Kind == KindGroup && a.Group != nil:
		return a.Group.ID
	}
	return ""
}

// Name returns the advertisement name, or "" for unknown advertisements.
func (a Advertisement) Name() string {
	switch {
	case a.Kind == KindChannel && a.Channel != nil:
		return a.Channel.Name
	case a.Kind == KindPeer && a.Peer != nil:
		return a.Peer.Name
	case a.Kind == KindGroup && a.Group != nil:
		return a.Group.Name
	}
	return ""
}

// Key identifies the advertisement within a store.
func (a Advertisement) Key() string {
	return a.Kind.String() + "/" + a.ID()
}

// Attr returns the value of the given attribute.
func (a Advertisement) Attr(attr Attribute) string {
	if attr == AttrID {
		return a.ID()
	}
	return a.Name()
}

// Clone returns a deep copy so stores never share mutable descriptors.
func (a Advertisement) Clone() Advertisement {
	out := a
	if a.Channel != nil {
		c := *a.Channel
		c.PublicKey = append([]byte(nil), a.Channel.PublicKey...)
		out.Channel = &c
	}
	if a.Peer != nil {
		p := *a.Peer
		out.Peer = &p
	}
	if a.Group != nil {
		g := *a.Group
		out.Group = &g
	}
	out.raw = append(json.RawMessage(nil), a.raw...)
	return out
}

type envelope struct {
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// MarshalJSON encodes the advertisement as a kind-tagged envelope.
func (a Advertisement) MarshalJSON() ([]byte, error) {
	var (
		body []byte
		err  error
	)
	tag := a.Kind.String()

	switch a.Kind {
	case KindChannel:
		body, err = json.Marshal(a.Channel)
	case KindPeer:
		body, err = json.Marshal(a.Peer)
	case KindGroup:
		body, err = json.Marshal(a.Group)
	default:
		if a.tag != "" {
			tag = a.tag
		}
		body = a.raw
		if body == nil {
			body = json.RawMessage("null")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s advertisement: %w", tag, err)
	}

	return json.Marshal(envelope{Kind: tag, Body: body})
}

// UnmarshalJSON decodes a kind-tagged envelope. Unrecognized kinds decode to
// KindUnknown and keep their body for re-encoding.
func (a *Advertisement) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to decode advertisement envelope: %w", err)
	}

	*a = Advertisement{Kind: parseKind(env.Kind)}
	var target interface{}
	switch a.Kind {
	case KindChannel:
		a.Channel = &Channel{}
		target = a.Channel
	case KindPeer:
		a.Peer = &PeerInfo{}
		target = a.Peer
	case KindGroup:
		a.Group = &GroupInfo{}
		target = a.Group
	default:
		a.tag = env.Kind
		a.raw = append(json.RawMessage(nil), env.Body...)
		return nil
	}

	if err := json.Unmarshal(env.Body, target); err != nil {
		return fmt.Errorf("failed to decode %s advertisement: %w", env.Kind, err)
	}
	if a.ID() == "" {
		return errors.New("advertisement without id")
	}
	return nil
}
