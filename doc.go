// Package overlay manages a peer's place in a group-structured overlay
// network and the direct channels peers use to talk to each other.
//
// A [Peer] ties together the subsystems:
//
//   - membership: connecting to the network, creating, joining and leaving
//     groups, and keeping a rendezvous reachable
//   - channel: publishing the peer's own direct channel advertisement in the
//     current group and refreshing it while the peer stays there
//   - reconcile: dropping stale and duplicated channel advertisements as
//     discovery results arrive and when members depart
//   - messaging: request/reply over a direct channel, optionally secured with
//     a Noise IK handshake, and anycast to a random group member with retries
//
// The network itself is abstracted as a [membership.Substrate]; the simnet
// package provides an in-process one.
//
// # Getting Started
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	peer, err := overlay.New(cfg, substrate, func(msg *messaging.Message) (*messaging.Message, error) {
//	    return messaging.NewMessage("ack", "", nil), nil
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer peer.Stop()
//
//	if err := peer.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	group, err := peer.CreateGroup(ctx, "lobby", "open to all", nil)
//
//	reply, err := peer.SendToRandomMember(ctx, peer.NewMessage("ping", nil), true)
//
// # Configuration
//
// Timing and identity settings come from a TOML file, see package config.
// Every duration is optional and falls back to the defaults of
// config.NewDefaultConfig.
//
// # Logging
//
// All packages log through logrus with a "function" field naming the
// operation. Configure the level and formatter on the standard logrus logger.
package overlay
