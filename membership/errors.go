package membership

import "errors"

var (
	// ErrNotConfigured indicates Connect before Configure.
	ErrNotConfigured = errors.New("peer not configured")

	// ErrNoRendezvous indicates no rendezvous was reachable at the network
	// level within the configured wait.
	ErrNoRendezvous = errors.New("no rendezvous connection")

	// ErrAuthentication indicates the credential authority rejected the peer.
	ErrAuthentication = errors.New("group authentication failed")

	// ErrNotConnected indicates a group operation before Connect.
	ErrNotConnected = errors.New("not connected to network")

	// ErrAlreadyStarted indicates Configure on a running manager.
	ErrAlreadyStarted = errors.New("peer already started")
)
