package crypto

import (
	"errors"
	"runtime"
)

var errNothingToWipe = errors.New("nothing to wipe")

// SecureWipe overwrites data with zeros. Wiping a nil slice is an error.
func SecureWipe(data []byte) error {
	if data == nil {
		return errNothingToWipe
	}
	clear(data)
	runtime.KeepAlive(data)
	return nil
}

// ZeroBytes is SecureWipe for buffers that may be nil.
func ZeroBytes(data []byte) {
	_ = SecureWipe(data)
}

// WipeKeyPair zeroes the private half of kp.
func WipeKeyPair(kp *KeyPair) error {
	if kp == nil {
		return errNothingToWipe
	}
	return SecureWipe(kp.Private[:])
}
