// Package limits provides centralized frame and name size limits for the overlay.
// This ensures consistent validation between the direct messenger and the
// advertisement codecs.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxFrameSize is the largest direct-message frame accepted on a channel
	// connection. It bounds the allocation a stalled or hostile peer can force (1MB).
	MaxFrameSize = 1024 * 1024

	// MaxHandshakeMessage bounds a single Noise handshake message.
	// IK messages are well under this; anything larger is garbage.
	MaxHandshakeMessage = 1024

	// MaxPeerNameLength is the maximum display name length embedded in a
	// channel advertisement name.
	MaxPeerNameLength = 128

	// FrameHeaderSize is the size of the big-endian length prefix on every frame.
	FrameHeaderSize = 4

	// EncryptionOverhead is the ChaCha20-Poly1305 tag added to each sealed frame.
	EncryptionOverhead = 16
)

var (
	// ErrFrameEmpty indicates an empty frame was provided
	ErrFrameEmpty = errors.New("empty frame")

	// ErrFrameTooLarge indicates a frame exceeds the maximum size
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrNameTooLong indicates a peer name exceeds MaxPeerNameLength
	ErrNameTooLong = errors.New("peer name too long")
)

// ValidateFrameSize validates a frame length against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateFrameSize(size, maxSize int) error {
	if size <= 0 {
		return ErrFrameEmpty
	}
	if size > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrFrameTooLarge, size, maxSize)
	}
	return nil
}

// ValidateFrame validates a direct-message frame payload against MaxFrameSize.
func ValidateFrame(frame []byte) error {
	return ValidateFrameSize(len(frame), MaxFrameSize)
}

// ValidatePeerName validates a display name for embedding in advertisement names.
func ValidatePeerName(name string) error {
	if len(name) > MaxPeerNameLength {
		return fmt.Errorf("%w: length %d exceeds limit %d", ErrNameTooLong, len(name), MaxPeerNameLength)
	}
	return nil
}
