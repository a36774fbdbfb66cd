package membership

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	pskSalt     = "overlay-group-psk-v1"
	verifierKey = "overlay-group-verifier-v1"

	argon2Time    = 1
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4
	argon2KeyLen  = 32
)

var (
	// ErrCredentialRequired indicates a private group joined without a credential.
	ErrCredentialRequired = errors.New("credential required")
	// ErrBadCredential indicates a credential that does not match the group secret.
	ErrBadCredential = errors.New("credential rejected")
)

// DeriveVerifier derives the value a private group stores to check member
// secrets. The group id salts the derivation so equal secrets differ per group.
func DeriveVerifier(groupID string, secret []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrCredentialRequired
	}

	salt := sha256.Sum256([]byte(pskSalt + groupID))
	psk := argon2.IDKey(secret, salt[:16], argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	kdf := hkdf.New(sha256.New, psk, []byte(verifierKey), []byte(groupID))
	verifier := make([]byte, argon2KeyLen)
	if _, err := io.ReadFull(kdf, verifier); err != nil {
		return nil, fmt.Errorf("failed to derive verifier: %w", err)
	}
	return verifier, nil
}

// PSKAuthority is a pre-shared-key credential authority for one peer in one
// group. A nil verifier makes the group public.
type PSKAuthority struct {
	groupID  string
	verifier []byte

	mu        sync.Mutex
	member    bool
	principal string
	attempts  int
}

// NewPSKAuthority creates an authority checking secrets against verifier.
func NewPSKAuthority(groupID string, verifier []byte) *PSKAuthority {
	return &PSKAuthority{
		groupID:  groupID,
		verifier: append([]byte(nil), verifier...),
	}
}

// Authenticate admits the peer when the credential's secret matches.
func (a *PSKAuthority) Authenticate(cred *Credential) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attempts++

	if len(a.verifier) > 0 {
		if cred == nil {
			return ErrCredentialRequired
		}
		got, err := DeriveVerifier(a.groupID, cred.Secret)
		if err != nil {
			return err
		}
		if !hmac.Equal(got, a.verifier) {
			return ErrBadCredential
		}
	}

	a.member = true
	if cred != nil {
		a.principal = cred.Principal
	}
	return nil
}

// Resign drops membership. Resigning twice is harmless.
func (a *PSKAuthority) Resign() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.member = false
	a.principal = ""
	return nil
}

// Member reports whether the peer is currently admitted.
func (a *PSKAuthority) Member() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.member
}

// Attempts returns how many times Authenticate was called.
func (a *PSKAuthority) Attempts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attempts
}

// Principal returns the principal of the admitted credential.
func (a *PSKAuthority) Principal() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.principal
}
