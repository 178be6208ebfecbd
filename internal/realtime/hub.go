package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"floodbuddy/internal/models"
	"floodbuddy/internal/observability"
)

var (
	ErrHubStopped     = errors.New("snapshot hub stopped")
	ErrNotifierClosed = errors.New("change notifier closed")
)

// Lister is the fetch-all side of the report store.
type Lister interface {
	List(ctx context.Context) ([]models.Report, error)
}

type HubOptions struct {
	// Resync re-reads the collection on a timer, covering lost Pub/Sub
	// signals. Zero disables it.
	Resync time.Duration
}

// Hub turns change signals into full snapshots and fans them out.
type Hub struct {
	lister   Lister
	notifier Notifier
	clock    clockwork.Clock
	log      zerolog.Logger
	metrics  *observability.Metrics
	opts     HubOptions

	// refreshMu serialises List+broadcast so versions reach subscribers in order.
	refreshMu sync.Mutex

	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	latest  *models.Snapshot
	version uint64
	stopped bool
}

func NewHub(lister Lister, notifier Notifier, clock clockwork.Clock, log zerolog.Logger, metrics *observability.Metrics, opts HubOptions) *Hub {
	return &Hub{
		lister:   lister,
		notifier: notifier,
		clock:    clock,
		log:      log.With().Str("component", "snapshot_hub").Logger(),
		metrics:  metrics,
		opts:     opts,
		subs:     make(map[*Subscription]struct{}),
	}
}

// Run consumes change signals until ctx ends, then closes every subscription.
func (h *Hub) Run(ctx context.Context) error {
	defer h.stop()

	changes, err := h.notifier.Changes(ctx)
	if err != nil {
		return err
	}

	var resync <-chan time.Time
	if h.opts.Resync > 0 {
		ticker := h.clock.NewTicker(h.opts.Resync)
		defer ticker.Stop()
		resync = ticker.Chan()
	}

	h.log.Info().Dur("resync", h.opts.Resync).Msg("snapshot hub started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrNotifierClosed
			}
		case <-resync:
		}

		if err := h.Refresh(ctx); err != nil && ctx.Err() == nil {
			h.log.Error().Err(err).Msg("snapshot refresh failed")
		}
	}
}

// Refresh reads the whole collection and delivers it as a new snapshot.
func (h *Hub) Refresh(ctx context.Context) error {
	h.refreshMu.Lock()
	defer h.refreshMu.Unlock()

	reports, err := h.lister.List(ctx)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.version++
	snap := models.Snapshot{
		Version: h.version,
		TakenAt: h.clock.Now().UTC(),
		Reports: reports,
	}
	h.latest = &snap

	for sub := range h.subs {
		sub.offer(snap)
	}
	h.metrics.SnapshotsBroadcast.Inc()
	h.log.Debug().Uint64("version", snap.Version).Int("reports", len(reports)).Int("subscribers", len(h.subs)).Msg("snapshot broadcast")
	return nil
}

// Subscribe registers a listener. Its first element is the current snapshot.
func (h *Hub) Subscribe(ctx context.Context) (*Subscription, error) {
	sub := &Subscription{hub: h, ch: make(chan models.Snapshot, 1)}

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil, ErrHubStopped
	}
	h.subs[sub] = struct{}{}
	latest := h.latest
	if latest != nil {
		sub.offer(*latest)
	}
	h.mu.Unlock()
	h.metrics.ActiveSubscribers.Inc()

	if latest == nil {
		if err := h.Refresh(ctx); err != nil {
			sub.Close()
			return nil, err
		}
	}
	return sub, nil
}

// Latest returns the most recent snapshot, if any was taken.
func (h *Hub) Latest() (models.Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.latest == nil {
		return models.Snapshot{}, false
	}
	return *h.latest, true
}

func (h *Hub) remove(sub *Subscription) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return false
	}
	delete(h.subs, sub)
	return true
}

func (h *Hub) stop() {
	h.mu.Lock()
	h.stopped = true
	subs := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	h.log.Info().Msg("snapshot hub stopped")
}

// Subscription delivers snapshots with latest-wins semantics: a snapshot
// not yet received is replaced by a newer one instead of queueing behind it.
type Subscription struct {
	hub *Hub
	ch  chan models.Snapshot

	mu          sync.Mutex
	closed      bool
	lastVersion uint64
}

func (s *Subscription) C() <-chan models.Snapshot {
	return s.ch
}

// Close releases the listener. Safe to call more than once.
func (s *Subscription) Close() {
	if s.hub.remove(s) {
		s.hub.metrics.ActiveSubscribers.Dec()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

func (s *Subscription) offer(snap models.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || snap.Version <= s.lastVersion {
		return
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snap
	s.lastVersion = snap.Version
}
