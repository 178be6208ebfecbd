package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"floodbuddy/internal/config"
)

func TestNewObjectStore_SchemeSelectsTLS(t *testing.T) {
	store, err := NewObjectStore(config.StorageConfig{
		Endpoint:        "https://minio.example.com",
		AccessKey:       "key",
		SecretKey:       "secret",
		BucketSnapshots: "snapshots",
		Region:          "us-east-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "minio.example.com", store.client.EndpointURL().Host)
	assert.Equal(t, "https", store.client.EndpointURL().Scheme)
}

func TestNewObjectStore_PlainEndpoint(t *testing.T) {
	store, err := NewObjectStore(config.StorageConfig{Endpoint: "127.0.0.1:9000", BucketSnapshots: "snapshots"})
	require.NoError(t, err)
	assert.Equal(t, "http", store.client.EndpointURL().Scheme)
}
