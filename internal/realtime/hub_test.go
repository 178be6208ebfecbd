package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"floodbuddy/internal/models"
	"floodbuddy/internal/observability"
	"floodbuddy/internal/repository"
)

func newTestHub(store Lister, notifier Notifier) *Hub {
	return NewHub(store, notifier, clockwork.NewFakeClock(), zerolog.Nop(), observability.NewMetricsForTesting(), HubOptions{})
}

func receive(t *testing.T, sub *Subscription) models.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot delivered")
		return models.Snapshot{}
	}
}

func TestHub_SubscribeDeliversCurrentSnapshot(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryReportRepository()
	require.NoError(t, store.Create(ctx, models.Report{ID: "r1", Severity: models.SeverityMinor}))

	hub := newTestHub(store, NewLocalNotifier())
	sub, err := hub.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	snap := receive(t, sub)
	assert.Equal(t, uint64(1), snap.Version)
	require.Len(t, snap.Reports, 1)
	assert.Equal(t, "r1", snap.Reports[0].ID)
}

func TestHub_RefreshDeliversFullCollection(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryReportRepository()
	hub := newTestHub(store, NewLocalNotifier())

	sub, err := hub.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()
	assert.Empty(t, receive(t, sub).Reports)

	require.NoError(t, store.Create(ctx, models.Report{ID: "r1"}))
	require.NoError(t, store.Create(ctx, models.Report{ID: "r2"}))
	require.NoError(t, hub.Refresh(ctx))

	snap := receive(t, sub)
	assert.Len(t, snap.Reports, 2)
}

func TestHub_SlowSubscriberOnlySeesLatest(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryReportRepository()
	hub := newTestHub(store, NewLocalNotifier())

	sub, err := hub.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, hub.Refresh(ctx))
	require.NoError(t, store.Create(ctx, models.Report{ID: "r1"}))
	require.NoError(t, hub.Refresh(ctx))

	snap := receive(t, sub)
	assert.Equal(t, uint64(3), snap.Version)
	assert.Len(t, snap.Reports, 1)

	select {
	case extra := <-sub.C():
		t.Fatalf("unexpected queued snapshot %d", extra.Version)
	default:
	}
}

func TestHub_SecondSubscriberReusesLatest(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(repository.NewMemoryReportRepository(), NewLocalNotifier())

	first, err := hub.Subscribe(ctx)
	require.NoError(t, err)
	defer first.Close()
	second, err := hub.Subscribe(ctx)
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, receive(t, first).Version, receive(t, second).Version)
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(repository.NewMemoryReportRepository(), NewLocalNotifier())

	sub, err := hub.Subscribe(ctx)
	require.NoError(t, err)
	receive(t, sub)

	sub.Close()
	sub.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)
	require.NoError(t, hub.Refresh(ctx))
}

type failingLister struct{}

func (failingLister) List(context.Context) ([]models.Report, error) {
	return nil, errors.New("store offline")
}

func TestHub_SubscribeFailsWhenStoreUnavailable(t *testing.T) {
	hub := newTestHub(failingLister{}, NewLocalNotifier())
	_, err := hub.Subscribe(context.Background())
	assert.Error(t, err)
}

func TestHub_RunRefreshesOnNotifyAndClosesOnStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := repository.NewMemoryReportRepository()
	notifier := NewLocalNotifier()
	hub := newTestHub(store, notifier)

	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	sub, err := hub.Subscribe(ctx)
	require.NoError(t, err)
	receive(t, sub)

	require.NoError(t, store.Create(ctx, models.Report{ID: "r1"}))
	require.Eventually(t, func() bool {
		_ = notifier.Notify(ctx)
		select {
		case snap := <-sub.C():
			return len(snap.Reports) == 1
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	// a later refresh may still sit in the buffer ahead of the close
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.C():
			return !ok
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	_, err = hub.Subscribe(context.Background())
	assert.ErrorIs(t, err, ErrHubStopped)
}
