package cache

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryNonceStore_ClaimOnceUntilExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewMemoryNonceStore(clock)
	ctx := context.Background()

	ok, err := store.Claim(ctx, "sig:d1:n1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Claim(ctx, "sig:d1:n1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _ = store.Claim(ctx, "sig:d2:n1", time.Minute)
	assert.True(t, ok)

	clock.Advance(2 * time.Minute)
	ok, _ = store.Claim(ctx, "sig:d1:n1", time.Minute)
	assert.True(t, ok)
}

func TestDevicePrefix(t *testing.T) {
	assert.Equal(t, "floodbuddy:device:abc:", DevicePrefix("abc"))
}
