// Package noise secures overlay direct channels with the Noise IK pattern.
//
// A channel advertisement carries its owner's static Curve25519 public key,
// so a sender always knows the responder's key before it dials. That is the
// situation IK is designed for: the initiator authenticates the responder in
// a single round trip and its own identity is hidden from passive observers.
//
// The suite is fixed to Curve25519, ChaCha20-Poly1305 and SHA-256 via the
// flynn/noise library.
//
// Message flow:
//
//	Initiator                              Responder
//	─────────                              ─────────
//	-> e, es, s, ss
//	                                       <- e, ee, se
//	[session established]
//
// Example usage:
//
//	// Initiator (knows the channel owner's public key)
//	ik, err := noise.NewIKHandshake(myPrivKey, ownerPubKey, noise.Initiator)
//	if err != nil {
//	    return err
//	}
//	msg, _, err := ik.WriteMessage(nil, nil)
//	// Send msg, receive response...
//	_, complete, err := ik.ReadMessage(response)
//	if complete {
//	    session, _ := ik.Session()
//	    ciphertext, _ := session.Encrypt(request)
//	}
//
// The responder reads the initiator's message and produces its reply in a
// single WriteMessage call, after which its session is available too.
//
// # Thread Safety
//
// IKHandshake is not safe for concurrent use; it is driven by the one
// goroutine owning the connection. Session serializes Encrypt and Decrypt
// independently so a reader and a writer may share it.
package noise
