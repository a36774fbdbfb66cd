// Package crypto implements the key material used by overlay peers.
//
// Every peer owns a Curve25519 [KeyPair]. The public half is carried in the
// peer's direct-channel advertisement so that senders can run a Noise IK
// handshake against it without any prior exchange.
//
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Public key:", keys.PublicHex())
//
// Private keys should be wiped with [WipeKeyPair] once a peer stops.
package crypto
