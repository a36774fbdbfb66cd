// Package simnet is an in-process overlay substrate.
//
// A [Hub] stands in for the network: every peer gets a [Node] (a
// membership.Substrate) whose per-group advertisement stores are joined
// through the hub. Remote publishes and discovery answers are delivered on
// separate goroutines, so listeners observe the same asynchrony they would
// on a real network. Only authenticated members of a group exchange
// advertisements.
//
// The hub also simulates rendezvous: a member is connected to a rendezvous
// when another member of the same group runs one, and when the last
// rendezvous of a group stops, the first member allowing auto-start is
// promoted. Members leaving a group are reported to the remaining members'
// departure subscribers.
//
//	hub := simnet.NewHub(clock.New())
//	alice := hub.NewNode()
//	bob := hub.NewNode()
//
// Hub.Settle waits until all in-flight deliveries have been handled.
package simnet
