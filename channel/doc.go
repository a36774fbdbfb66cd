// Package channel owns a peer's direct communication channel advertisement
// in its current group.
//
// When a group is entered the [Registry] opens a TCP listener (only if the
// peer serves inbound messages), publishes a channel advertisement naming the
// listener address and the peer's public key, and republishes it on every
// presence tick. The presence interval must stay below the advertisement
// expiration so one missed tick does not let the channel expire.
//
// Stop tombstones the advertisement: the same entry is republished with a
// one millisecond lifetime so remote caches drop it promptly instead of
// waiting for natural expiry.
package channel
