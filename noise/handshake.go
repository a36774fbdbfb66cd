package noise

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/flynn/noise"
	"github.com/opd-ai/overlay/crypto"
)

var (
	// ErrHandshakeNotComplete indicates handshake is still in progress
	ErrHandshakeNotComplete = errors.New("handshake not complete")
	// ErrHandshakeComplete indicates handshake is already complete
	ErrHandshakeComplete = errors.New("handshake already complete")
)

// HandshakeRole defines whether we're initiating or responding to handshake
type HandshakeRole uint8

const (
	// Initiator starts the handshake (knows peer's static key)
	Initiator HandshakeRole = iota
	// Responder responds to handshake initiation
	Responder
)

func (r HandshakeRole) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// IKHandshake implements the Noise IK pattern for direct channels.
type IKHandshake struct {
	role     HandshakeRole
	state    *noise.HandshakeState
	session  *Session
	complete bool
}

// NewIKHandshake creates a new IK pattern handshake.
// staticPrivKey is our long-term private key (32 bytes).
// peerPubKey is peer's long-term public key (32 bytes, nil for responder).
func NewIKHandshake(staticPrivKey, peerPubKey []byte, role HandshakeRole) (*IKHandshake, error) {
	if len(staticPrivKey) != 32 {
		return nil, fmt.Errorf("static private key must be 32 bytes, got %d", len(staticPrivKey))
	}

	if role == Initiator && len(peerPubKey) != 32 {
		return nil, fmt.Errorf("initiator requires peer public key (32 bytes), got %d", len(peerPubKey))
	}

	var privateKeyArray [32]byte
	copy(privateKeyArray[:], staticPrivKey)
	defer crypto.ZeroBytes(privateKeyArray[:])

	keyPair, err := crypto.FromSecretKey(privateKeyArray)
	if err != nil {
		return nil, fmt.Errorf("failed to derive keypair: %w", err)
	}

	staticKey := noise.DHKey{
		Private: append([]byte(nil), keyPair.Private[:]...),
		Public:  append([]byte(nil), keyPair.Public[:]...),
	}
	crypto.ZeroBytes(keyPair.Private[:])

	config := noise.Config{
		CipherSuite:   cipherSuite,
		Random:        rand.Reader,
		Pattern:       noise.HandshakeIK,
		Initiator:     role == Initiator,
		StaticKeypair: staticKey,
	}
	if role == Initiator {
		config.PeerStatic = append([]byte(nil), peerPubKey...)
	}

	state, err := noise.NewHandshakeState(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create handshake state: %w", err)
	}

	return &IKHandshake{role: role, state: state}, nil
}

// WriteMessage produces the next handshake message.
// For initiator: creates the initial message (-> e, es, s, ss).
// For responder: consumes receivedMessage and creates the response (<- e, ee, se).
func (ik *IKHandshake) WriteMessage(payload, receivedMessage []byte) ([]byte, bool, error) {
	if ik.complete {
		return nil, false, ErrHandshakeComplete
	}

	if ik.role == Initiator {
		message, _, _, err := ik.state.WriteMessage(nil, payload)
		if err != nil {
			return nil, false, fmt.Errorf("initiator write failed: %w", err)
		}
		return message, false, nil
	}

	if receivedMessage == nil {
		return nil, false, errors.New("responder requires received message")
	}
	if _, _, _, err := ik.state.ReadMessage(nil, receivedMessage); err != nil {
		return nil, false, fmt.Errorf("responder read failed: %w", err)
	}

	message, cs1, cs2, err := ik.state.WriteMessage(nil, payload)
	if err != nil {
		return nil, false, fmt.Errorf("responder write failed: %w", err)
	}

	// cs1 carries initiator-to-responder traffic, cs2 the reverse.
	ik.session = newSession(cs2, cs1)
	ik.complete = true
	return message, true, nil
}

// ReadMessage processes the responder's reply. Only used by initiator.
func (ik *IKHandshake) ReadMessage(message []byte) ([]byte, bool, error) {
	if ik.complete {
		return nil, false, ErrHandshakeComplete
	}

	if ik.role != Initiator {
		return nil, false, errors.New("only initiator can read response messages")
	}

	payload, cs1, cs2, err := ik.state.ReadMessage(nil, message)
	if err != nil {
		return nil, false, fmt.Errorf("initiator read response failed: %w", err)
	}

	ik.session = newSession(cs1, cs2)
	ik.complete = true
	return payload, true, nil
}

// IsComplete returns true if handshake is finished and a session is available.
func (ik *IKHandshake) IsComplete() bool {
	return ik.complete
}

// Role returns the local side of the handshake.
func (ik *IKHandshake) Role() HandshakeRole {
	return ik.role
}

// Session returns the transport session established by the handshake.
func (ik *IKHandshake) Session() (*Session, error) {
	if !ik.complete {
		return nil, ErrHandshakeNotComplete
	}
	return ik.session, nil
}

// RemoteStaticKey returns the peer's static public key after the handshake.
func (ik *IKHandshake) RemoteStaticKey() ([]byte, error) {
	if !ik.complete {
		return nil, ErrHandshakeNotComplete
	}

	remoteKey := ik.state.PeerStatic()
	if len(remoteKey) == 0 {
		return nil, errors.New("remote static key not available")
	}
	return append([]byte(nil), remoteKey...), nil
}

// Session holds the two directional cipher states of an established channel.
type Session struct {
	sendMu sync.Mutex
	send   *noise.CipherState
	recvMu sync.Mutex
	recv   *noise.CipherState
}

func newSession(send, recv *noise.CipherState) *Session {
	return &Session{send: send, recv: recv}
}

// Encrypt seals plaintext for the remote side.
func (s *Session) Encrypt(plaintext []byte) ([]byte, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	out, err := s.send.Encrypt(nil, nil, plaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypt failed: %w", err)
	}
	return out, nil
}

// Decrypt opens ciphertext produced by the remote side.
func (s *Session) Decrypt(ciphertext []byte) ([]byte, error) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	out, err := s.recv.Decrypt(nil, nil, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypt failed: %w", err)
	}
	return out, nil
}
