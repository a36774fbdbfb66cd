package messaging

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/overlay/advert"
	"github.com/opd-ai/overlay/crypto"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// acceptRetryDelay is the pause after a transient accept failure.
const acceptRetryDelay = 50 * time.Millisecond

// Receiver handles an inbound request. A nil reply sends nothing back.
type Receiver func(msg *Message) (*Message, error)

// Config holds messenger settings.
type Config struct {
	ReplyTimeout          time.Duration
	MaxConcurrentHandlers int64
	Secure                bool
}

// Messenger serves and sends direct channel requests.
type Messenger struct {
	keys     *crypto.KeyPair
	receiver Receiver
	cfg      Config
	metrics  *Metrics
	sem      *semaphore.Weighted
	wg       sync.WaitGroup
}

// Option configures a Messenger.
type Option func(*Messenger)

// WithMetrics records traffic in m.
func WithMetrics(m *Metrics) Option {
	return func(ms *Messenger) {
		if m != nil {
			ms.metrics = m
		}
	}
}

// NewMessenger creates a messenger. keys are the local static keys used for
// secured channels; receiver may be nil for send-only peers.
func NewMessenger(keys *crypto.KeyPair, receiver Receiver, cfg Config, opts ...Option) *Messenger {
	if cfg.MaxConcurrentHandlers <= 0 {
		cfg.MaxConcurrentHandlers = 64
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 60 * time.Second
	}
	m := &Messenger{
		keys:     keys,
		receiver: receiver,
		cfg:      cfg,
		metrics:  &Metrics{},
		sem:      semaphore.NewWeighted(cfg.MaxConcurrentHandlers),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HasReceiver reports whether inbound requests can be served.
func (m *Messenger) HasReceiver() bool {
	return m.receiver != nil
}

// Serve accepts connections on ln until it is closed or ctx is done.
// A closed listener ends the loop with a nil error.
func (m *Messenger) Serve(ctx context.Context, ln net.Listener) error {
	for {
		if err := m.sem.Acquire(ctx, 1); err != nil {
			return err
		}

		conn, err := ln.Accept()
		if err != nil {
			m.sem.Release(1)
			if errors.Is(err, net.ErrClosed) {
				logrus.WithFields(logrus.Fields{
					"function": "Messenger.Serve",
					"addr":     ln.Addr().String(),
				}).Debug("Channel listener closed, accept loop exiting")
				return nil
			}
			logrus.WithFields(logrus.Fields{
				"function": "Messenger.Serve",
				"addr":     ln.Addr().String(),
				"error":    err.Error(),
			}).Warn("Accept failed")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(acceptRetryDelay):
			}
			continue
		}

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer m.sem.Release(1)
			m.handleConnection(conn)
		}()
	}
}

// Wait blocks until all in-flight handlers have returned.
func (m *Messenger) Wait() {
	m.wg.Wait()
}

// handleConnection reads one request, dispatches it and writes the reply.
// The connection is closed on every path.
func (m *Messenger) handleConnection(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	defer func() {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logrus.WithFields(logrus.Fields{
				"function": "Messenger.handleConnection",
				"remote":   remote,
				"error":    err.Error(),
			}).Debug("Failed to close connection")
		}
	}()

	if err := conn.SetDeadline(time.Now().Add(m.cfg.ReplyTimeout)); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Messenger.handleConnection",
			"remote":   remote,
			"error":    err.Error(),
		}).Warn("Failed to set connection deadline")
		return
	}

	s := &stream{rw: conn}
	if m.cfg.Secure {
		session, err := serverHandshake(conn, m.keys)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Messenger.handleConnection",
				"remote":   remote,
				"error":    err.Error(),
			}).Warn("Handshake failed")
			return
		}
		s.session = session
	}

	req, err := s.readMessage()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Messenger.handleConnection",
			"remote":   remote,
			"error":    err.Error(),
		}).Warn("Failed to read request")
		return
	}
	inc(m.metrics.Received)

	if m.receiver == nil {
		return
	}

	reply, err := m.receiver(req)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Messenger.handleConnection",
			"remote":   remote,
			"action":   req.Action,
			"error":    err.Error(),
		}).Warn("Receiver failed")
		return
	}
	if reply == nil {
		return
	}

	if err := s.writeMessage(reply); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Messenger.handleConnection",
			"remote":   remote,
			"error":    err.Error(),
		}).Warn("Failed to write reply")
	}
}

// Send delivers msg over ch and waits for one reply. When the responder
// closes without replying the reply is nil and err is nil.
func (m *Messenger) Send(ctx context.Context, ch *advert.Channel, msg *Message) (*Message, error) {
	if ch == nil || ch.Addr == "" {
		return nil, newTransportError("dial", "", ErrNotServed)
	}
	addr, pubKey := ch.Addr, ch.PublicKey
	if m.cfg.Secure && len(pubKey) != 32 {
		return nil, newTransportError("handshake", addr, ErrNoPublicKey)
	}

	dialer := net.Dialer{Timeout: m.cfg.ReplyTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		inc(m.metrics.TransportErrors)
		return nil, newTransportError("dial", addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(m.cfg.ReplyTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, newTransportError("dial", addr, err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	s := &stream{rw: conn}
	if m.cfg.Secure {
		session, err := clientHandshake(conn, m.keys, pubKey)
		if err != nil {
			inc(m.metrics.TransportErrors)
			return nil, newTransportError("handshake", addr, err)
		}
		s.session = session
	}

	if err := s.writeMessage(msg); err != nil {
		inc(m.metrics.TransportErrors)
		return nil, newTransportError("write", addr, err)
	}
	inc(m.metrics.Sent)

	reply, err := s.readMessage()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		inc(m.metrics.TransportErrors)
		return nil, newTransportError("read", addr, err)
	}
	return reply, nil
}
