// Package membership manages a peer's group lifecycle and its rendezvous
// role in each group.
//
// The [Manager] is a small state machine:
//
//	Disconnected -> Connecting -> Connected <-> Joined
//
// Connect brings the peer onto the network through a [Substrate] and waits
// for a rendezvous connection in the root group. It never promotes itself at
// that level; a peer that sees no rendezvous in time stops and fails with
// [ErrNoRendezvous].
//
// CreateGroup always makes the creator the group's rendezvous. JoinGroup
// waits for an existing rendezvous and, if none answers in time, promotes
// itself so a group with members always has a reachable hub. Joining the
// group that is already current returns it without authenticating again.
//
// LeaveGroup is best effort: every teardown step runs even when an earlier
// one fails, and failures are returned together. Leaving nil or the root
// group does nothing.
//
// All lifecycle operations serialize on one mutex. Status queries do not
// take it and stay responsive during the rendezvous waits.
package membership
