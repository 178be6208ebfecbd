package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"floodbuddy/internal/models"
)

func TestMemoryUserRepository_UniqueEmail(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUserRepository(clockwork.NewFakeClock())

	require.NoError(t, repo.Create(ctx, models.User{ID: "u1", Email: "a@example.com"}))
	assert.ErrorIs(t, repo.Create(ctx, models.User{ID: "u2", Email: "a@example.com"}), ErrEmailTaken)

	user, err := repo.FindByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestMemoryUserRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUserRepository(clockwork.NewFakeClock())
	require.NoError(t, repo.Create(ctx, models.User{ID: "u1", Email: "a@example.com"}))

	require.NoError(t, repo.Delete(ctx, "u1"))
	_, err := repo.GetByID(ctx, "u1")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "u1"), ErrUserNotFound)

	require.NoError(t, repo.Create(ctx, models.User{ID: "u2", Email: "a@example.com"}))
}

func TestMemorySessionRepository_UpsertsPerDevice(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	repo := NewMemorySessionRepository(clock)
	expires := clock.Now().Add(time.Hour)

	require.NoError(t, repo.Create(ctx, models.Session{ID: "s1", UserID: "u1", DeviceID: "d1", DeviceName: "phone", ExpiresAt: expires}))
	require.NoError(t, repo.Create(ctx, models.Session{ID: "s2", UserID: "u1", DeviceID: "d1", DeviceName: "renamed", ExpiresAt: expires}))

	count, err := repo.CountByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	s, err := repo.GetByID(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, "phone", s.DeviceName)

	_, err = repo.GetByID(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemorySessionRepository_DeleteOldestKeepsMostRecent(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	repo := NewMemorySessionRepository(clock)

	for _, id := range []string{"old", "mid", "new"} {
		require.NoError(t, repo.Create(ctx, models.Session{ID: id, UserID: "u1", DeviceID: id, ExpiresAt: clock.Now().Add(time.Hour)}))
		clock.Advance(time.Minute)
	}

	require.NoError(t, repo.DeleteOldestSessions(ctx, "u1", 2))

	sessions, err := repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "new", sessions[0].ID)
	assert.Equal(t, "mid", sessions[1].ID)
}

func TestMemorySessionRepository_ExpiredSessionsAreHiddenAndPruned(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	repo := NewMemorySessionRepository(clock)

	require.NoError(t, repo.Create(ctx, models.Session{ID: "short", UserID: "u1", DeviceID: "a", ExpiresAt: clock.Now().Add(time.Minute)}))
	require.NoError(t, repo.Create(ctx, models.Session{ID: "long", UserID: "u1", DeviceID: "b", ExpiresAt: clock.Now().Add(time.Hour)}))

	clock.Advance(2 * time.Minute)

	count, err := repo.CountByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	sessions, err := repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "long", sessions[0].ID)

	removed, err := repo.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = repo.GetByID(ctx, "short")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemoryReportRepository_AppendOnly(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryReportRepository()

	require.NoError(t, repo.Create(ctx, models.Report{ID: "r1", Severity: models.SeverityMinor}))
	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	list[0].Severity = models.SeveritySevere
	again, _ := repo.List(ctx)
	assert.Equal(t, models.SeverityMinor, again[0].Severity)

	repo.FailWrites(assert.AnError)
	assert.ErrorIs(t, repo.Create(ctx, models.Report{ID: "r2"}), assert.AnError)
	repo.FailWrites(nil)
	assert.NoError(t, repo.Create(ctx, models.Report{ID: "r2"}))
}
