package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyValue is a namespaced string store. Every key is written under prefix,
// so one Redis can hold the mirrors of many devices.
type KeyValue struct {
	client *redis.Client
	prefix string
}

func NewKeyValue(client *redis.Client, prefix string) *KeyValue {
	return &KeyValue{client: client, prefix: prefix}
}

func DevicePrefix(deviceID string) string {
	return "floodbuddy:device:" + deviceID + ":"
}

func (kv *KeyValue) Set(ctx context.Context, key string, value []byte) error {
	return kv.client.Set(ctx, kv.prefix+key, value, 0).Err()
}

func (kv *KeyValue) Remove(ctx context.Context, key string) error {
	return kv.client.Del(ctx, kv.prefix+key).Err()
}

// NonceStore backs request-signature replay protection.
type NonceStore struct {
	client *redis.Client
}

func NewNonceStore(client *redis.Client) *NonceStore {
	return &NonceStore{client: client}
}

func (s *NonceStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, "1", ttl).Result()
}
