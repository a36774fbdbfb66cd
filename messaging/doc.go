// Package messaging implements point-to-point request/reply messaging over
// direct channels and anycast with retry across a group's members.
//
// # Wire contract
//
// One connection carries one request and at most one reply, then closes.
// Each message is a JSON-encoded [Message] in a frame with a 4-byte
// big-endian length prefix, bounded by limits.MaxFrameSize. When channels are
// secured, a Noise IK handshake against the channel owner's advertised
// public key runs first and every frame is sealed with the resulting session.
//
// A responder that reads the request and closes without writing a reply is
// not an error: [Messenger.Send] returns a nil reply.
//
// # Serving
//
// [Messenger.Serve] runs the accept loop for one listener. Each accepted
// connection is handled on its own goroutine; a weighted semaphore bounds how
// many run at once and stalls accept while the bound is reached. Closing the
// listener ends the loop without error.
//
// # Anycast
//
// [Anycaster.SendToRandomMember] tries the group's known channels in random
// order until one accepts the message, retrying with fresh discovery between
// attempts, and fails with [ErrExhaustedRetries] once attempts run out.
//
//	any := messaging.NewAnycaster(messenger, messaging.NewStoreSource(store, selfID), cfg, clk)
//	reply, err := any.SendToRandomMember(ctx, msg, true)
//	if errors.Is(err, messaging.ErrExhaustedRetries) {
//	    // nobody answered
//	}
package messaging
