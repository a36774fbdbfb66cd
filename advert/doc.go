// Package advert defines the advertisements exchanged by overlay peers and
// the store through which they are published and discovered.
//
// An [Advertisement] is a tagged union decoded once at the store boundary:
// a direct-channel descriptor ([Channel]), a peer descriptor ([PeerInfo]), a
// group descriptor ([GroupInfo]) or an opaque entry of a kind this peer does
// not understand. Consumers switch on [Advertisement.Kind] instead of probing
// concrete types.
//
// Direct channels are found by name. A channel name packs the owner's
// display name, the owner's peer id and the creation time of the
// advertisement behind a fixed prefix:
//
//	OverlayDirectChannel]--,',--[alice]--,',--[<peer id>]--,',--[1700000000000
//
// [EncodeChannelName] and [ParseChannelName] are exact inverses for names
// whose parts do not contain [Delimiter].
//
// [Store] is the boundary to the publish/discover substrate. [MemoryStore] is
// a TTL-aware implementation that keeps the local cache of one peer in one
// group; remote operations are delegated to a [Network].
package advert
