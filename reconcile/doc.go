// Package reconcile removes stale and duplicate direct channel
// advertisements from a group's advertisement store.
//
// A peer that rejoins a group publishes a fresh channel under a new creation
// time, and discovery answers may carry the same channel more than once.
// The [Reconciler] consumes discovery events and, per owner, keeps only the
// channel with the newest creation time. Different peers converge
// independently as they process the same events; there is no cross-peer
// coordination.
//
// Two channels from the same owner with identical creation times are both
// kept and logged; no tie-break is invented.
package reconcile
