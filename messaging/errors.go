package messaging

import (
	"errors"
	"fmt"
)

var (
	// ErrExhaustedRetries indicates anycast found no member accepting the
	// message after all attempts.
	ErrExhaustedRetries = errors.New("exhausted retries sending to group members")

	// ErrNotServed indicates a channel advertisement without a dial address.
	ErrNotServed = errors.New("channel does not accept connections")

	// ErrNoPublicKey indicates a secured send to a channel without a usable key.
	ErrNoPublicKey = errors.New("channel has no public key")
)

// TransportError reports an I/O failure on a direct channel other than the
// expected end of stream when no reply is sent.
type TransportError struct {
	Op   string // dial, handshake, write or read
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("channel %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("channel %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func newTransportError(op, addr string, err error) *TransportError {
	return &TransportError{
		Op:   op,
		Addr: addr,
		Err:  err,
	}
}
