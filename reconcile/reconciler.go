package reconcile

import (
	"sync"

	"github.com/opd-ai/overlay/advert"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Deletion reasons used as metric labels.
const (
	ReasonMalformed  = "malformed"
	ReasonDuplicate  = "duplicate"
	ReasonSuperseded = "superseded"
	ReasonDeparted   = "departed"
)

// Reconciler serializes deduplication of channel advertisements in one store.
type Reconciler struct {
	store        advert.Store
	isRendezvous func() bool
	deletions    *prometheus.CounterVec

	mu       sync.Mutex
	listener advert.ListenerID
	attached bool
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithRendezvousCheck makes the reconciler process every channel-bearing
// event while check reports that this peer is the group rendezvous.
func WithRendezvousCheck(check func() bool) Option {
	return func(r *Reconciler) {
		r.isRendezvous = check
	}
}

// WithDeletionCounter counts flushed advertisements by reason label.
func WithDeletionCounter(c *prometheus.CounterVec) Option {
	return func(r *Reconciler) {
		r.deletions = c
	}
}

// New creates a reconciler bound to store.
func New(store advert.Store, opts ...Option) *Reconciler {
	r := &Reconciler{store: store}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach registers the reconciler as a discovery listener on its store.
func (r *Reconciler) Attach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attached {
		return
	}
	r.listener = r.store.AddDiscoveryListener(r.HandleEvent)
	r.attached = true
}

// Detach unregisters the discovery listener.
func (r *Reconciler) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.attached {
		return
	}
	r.store.RemoveDiscoveryListener(r.listener)
	r.attached = false
}

// relevant reports whether the event answers the direct channel query, or
// this peer is the rendezvous and sees every member's queries.
func (r *Reconciler) relevant(ev advert.DiscoveryEvent) bool {
	q := ev.Query
	if q.Kind == advert.KindChannel && q.Attribute == advert.AttrName && q.Value == advert.ChannelQuery() {
		return true
	}
	return r.isRendezvous != nil && r.isRendezvous()
}

// HandleEvent reconciles the channel advertisements carried by ev.
func (r *Reconciler) HandleEvent(ev advert.DiscoveryEvent) {
	if !r.relevant(ev) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, received := range ev.Advertisements {
		if received.Kind != advert.KindChannel {
			continue
		}
		r.reconcile(received)
	}
}

func (r *Reconciler) reconcile(received advert.Advertisement) {
	owner, err := channelOwner(received)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Reconciler.reconcile",
			"id":       received.ID(),
			"error":    err.Error(),
		}).Warn("Flushing advertisement with malformed name")
		r.flush(received, ReasonMalformed)
		return
	}

	locals, err := r.store.LocalAdvertisements(advert.KindChannel, advert.AttrName, advert.ChannelQuery())
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Reconciler.reconcile",
			"error":    err.Error(),
		}).Error("Failed to read local channel advertisements")
		return
	}

	// Only a received advertisement still held locally can be deleted.
	present := false
	for _, local := range locals {
		if local.ID() == received.ID() {
			present = true
			break
		}
	}

	matched := false
	receivedFlushed := false
	for _, local := range locals {
		if local.ID() == received.ID() {
			if matched {
				r.flush(local, ReasonDuplicate)
				continue
			}
			matched = true
			continue
		}

		localOwner, err := channelOwner(local)
		if err != nil {
			r.flush(local, ReasonMalformed)
			continue
		}
		if localOwner.OwnerID != owner.OwnerID {
			continue
		}

		switch {
		case localOwner.CreatedAt < owner.CreatedAt:
			r.flush(local, ReasonSuperseded)
		case owner.CreatedAt < localOwner.CreatedAt:
			if present && !receivedFlushed {
				r.flush(received, ReasonSuperseded)
				receivedFlushed = true
			}
		default:
			logrus.WithFields(logrus.Fields{
				"function":  "Reconciler.reconcile",
				"owner":     owner.OwnerID,
				"local":     local.ID(),
				"received":  received.ID(),
				"timestamp": owner.CreatedAt,
			}).Warn("Channels from one owner share a creation time, keeping both")
		}
	}
}

// FlushOwner removes every channel and peer advertisement owned by peerID,
// used when the peer departs the group.
func (r *Reconciler) FlushOwner(peerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	flushed := 0
	channels, err := r.store.LocalAdvertisements(advert.KindChannel, advert.AttrName, advert.ChannelQuery())
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Reconciler.FlushOwner",
			"peer_id":  peerID,
			"error":    err.Error(),
		}).Error("Failed to read local channel advertisements")
	}
	for _, ch := range channels {
		owner, err := channelOwner(ch)
		if err != nil || owner.OwnerID != peerID {
			continue
		}
		r.flush(ch, ReasonDeparted)
		flushed++
	}

	peers, err := r.store.LocalAdvertisements(advert.KindPeer, advert.AttrID, peerID)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Reconciler.FlushOwner",
			"peer_id":  peerID,
			"error":    err.Error(),
		}).Error("Failed to read local peer advertisements")
	}
	for _, p := range peers {
		r.flush(p, ReasonDeparted)
		flushed++
	}

	logrus.WithFields(logrus.Fields{
		"function": "Reconciler.FlushOwner",
		"peer_id":  peerID,
		"flushed":  flushed,
	}).Debug("Flushed departed peer advertisements")
	return flushed
}

func channelOwner(adv advert.Advertisement) (advert.ChannelName, error) {
	if adv.Channel == nil {
		return advert.ChannelName{}, advert.ErrMalformedName
	}
	return adv.Channel.Owner()
}

func (r *Reconciler) flush(adv advert.Advertisement, reason string) {
	if err := r.store.Flush(adv); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Reconciler.flush",
			"id":       adv.ID(),
			"reason":   reason,
			"error":    err.Error(),
		}).Warn("Failed to flush advertisement")
		return
	}
	if r.deletions != nil {
		r.deletions.WithLabelValues(reason).Inc()
	}
}
