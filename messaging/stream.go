package messaging

import (
	"fmt"
	"io"

	"github.com/opd-ai/overlay/crypto"
	"github.com/opd-ai/overlay/limits"
	"github.com/opd-ai/overlay/noise"
)

// stream frames messages on a connection, sealing them when a Noise
// session has been established.
type stream struct {
	rw      io.ReadWriter
	session *noise.Session
}

func (s *stream) writeMessage(m *Message) error {
	data, err := encodeMessage(m)
	if err != nil {
		return err
	}
	limit := limits.MaxFrameSize
	if s.session != nil {
		if data, err = s.session.Encrypt(data); err != nil {
			return err
		}
		limit += limits.EncryptionOverhead
	}
	return writeFrame(s.rw, data, limit)
}

func (s *stream) readMessage() (*Message, error) {
	limit := limits.MaxFrameSize
	if s.session != nil {
		limit += limits.EncryptionOverhead
	}
	data, err := readFrame(s.rw, limit)
	if err != nil {
		return nil, err
	}
	if s.session != nil {
		if data, err = s.session.Decrypt(data); err != nil {
			return nil, err
		}
	}
	return decodeMessage(data)
}

// clientHandshake runs the initiator side of the IK handshake against the
// channel owner's static key.
func clientHandshake(rw io.ReadWriter, keys *crypto.KeyPair, remoteKey []byte) (*noise.Session, error) {
	ik, err := noise.NewIKHandshake(keys.Private[:], remoteKey, noise.Initiator)
	if err != nil {
		return nil, err
	}

	msg, _, err := ik.WriteMessage(nil, nil)
	if err != nil {
		return nil, err
	}
	if err := writeFrame(rw, msg, limits.MaxHandshakeMessage); err != nil {
		return nil, err
	}

	resp, err := readFrame(rw, limits.MaxHandshakeMessage)
	if err != nil {
		return nil, err
	}
	if _, _, err := ik.ReadMessage(resp); err != nil {
		return nil, err
	}
	return ik.Session()
}

// serverHandshake runs the responder side of the IK handshake.
func serverHandshake(rw io.ReadWriter, keys *crypto.KeyPair) (*noise.Session, error) {
	ik, err := noise.NewIKHandshake(keys.Private[:], nil, noise.Responder)
	if err != nil {
		return nil, err
	}

	req, err := readFrame(rw, limits.MaxHandshakeMessage)
	if err != nil {
		return nil, err
	}
	resp, complete, err := ik.WriteMessage(nil, req)
	if err != nil {
		return nil, err
	}
	if !complete {
		return nil, fmt.Errorf("responder handshake incomplete")
	}
	if err := writeFrame(rw, resp, limits.MaxHandshakeMessage); err != nil {
		return nil, err
	}
	return ik.Session()
}
