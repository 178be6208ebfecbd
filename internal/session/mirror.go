package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CacheKey is where the last known session is mirrored.
const CacheKey = "user"

// Cache is the local key-value boundary. The mirror only writes to it.
type Cache interface {
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// Mirror copies sign-in and sign-out into a Cache on its own goroutine.
// Writes are best effort: failures are logged and never retried.
type Mirror struct {
	cache   Cache
	log     zerolog.Logger
	timeout time.Duration

	mu      sync.Mutex
	closed  bool
	changes chan Change
	done    chan struct{}
	stop    func()
}

func NewMirror(cache Cache, log zerolog.Logger) *Mirror {
	return &Mirror{
		cache:   cache,
		log:     log.With().Str("component", "session_mirror").Logger(),
		timeout: 5 * time.Second,
		changes: make(chan Change, 16),
		done:    make(chan struct{}),
	}
}

// Watch subscribes to flow and starts the writer. Call Close to detach.
func (m *Mirror) Watch(flow *Flow) {
	m.stop = flow.OnChange(m.enqueue)
	go m.run()
}

// Close detaches from the flow and waits for queued writes to finish.
func (m *Mirror) Close() {
	if m.stop != nil {
		m.stop()
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.changes)
	m.mu.Unlock()

	if m.stop != nil {
		<-m.done
	}
}

func (m *Mirror) enqueue(change Change) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.changes <- change:
	default:
		m.log.Warn().Stringer("state", change.State).Msg("session mirror queue full, dropping change")
	}
}

func (m *Mirror) run() {
	defer close(m.done)
	for change := range m.changes {
		m.apply(change)
	}
}

func (m *Mirror) apply(change Change) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	switch {
	case change.State == StateSignedIn && change.Session != nil:
		raw, err := json.Marshal(change.Session)
		if err != nil {
			m.log.Error().Err(err).Msg("encode session for cache")
			return
		}
		if err := m.cache.Set(ctx, CacheKey, raw); err != nil {
			m.log.Error().Err(err).Msg("cache session failed")
			return
		}
		m.log.Debug().Str("user_id", change.Session.UserID).Msg("session cached")
	case change.State == StateSignedOut:
		if err := m.cache.Remove(ctx, CacheKey); err != nil {
			m.log.Error().Err(err).Msg("remove cached session failed")
			return
		}
		m.log.Debug().Msg("cached session removed")
	}
}
