// Package limits provides centralized size constants and validation functions
// for the overlay's direct channels.
//
// # Size Hierarchy
//
//   - MaxHandshakeMessage (1KB): upper bound for a single Noise IK handshake
//     message exchanged before any request frame.
//
//   - MaxFrameSize (1MB): the absolute maximum for a request or reply frame.
//     The messenger rejects larger length prefixes before allocating.
//
//   - MaxPeerNameLength (128 bytes): the largest display name accepted into a
//     channel advertisement name.
//
// # Validation Functions
//
//	if err := limits.ValidateFrame(payload); err != nil {
//	    // ErrFrameEmpty or ErrFrameTooLarge
//	}
//
// For custom limits, use ValidateFrameSize:
//
//	err := limits.ValidateFrameSize(n, limits.MaxHandshakeMessage)
package limits
