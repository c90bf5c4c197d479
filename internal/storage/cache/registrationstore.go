package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

// CacheClient is the subset of Redis commands the decorator needs.
type CacheClient interface {
	// Get fills dest or returns an error on a miss.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedStore decorates a RegistrationStore with read-aside caching of
// primary-key lookups, the hot path of the deliver flow. Every write or
// delete invalidates, so a torn-down registration stops receiving pushes
// immediately.
type CachedStore struct {
	realStore relay.RegistrationStore
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedStore(realStore relay.RegistrationStore, cache CacheClient, ttl time.Duration) *CachedStore {
	return &CachedStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- READ PATHS ---

func (s *CachedStore) FindByKey(ctx context.Context, instanceURL, appID, tag string) (relay.Registration, error) {
	key := s.cacheKey(instanceURL, appID, tag)

	var cached relay.Registration
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	fresh, err := s.realStore.FindByKey(ctx, instanceURL, appID, tag)
	if err != nil {
		return relay.Registration{}, err
	}

	// Caching is an optimization, not a transaction; a failed Set just
	// means the next lookup hits the real store again.
	_ = s.cache.Set(ctx, key, fresh, s.ttl)
	return fresh, nil
}

// FindByUserKey always goes to the real store: the tenant-facing key is
// non-unique and only used as a fallback, so it is not worth a second cache
// index to invalidate.
func (s *CachedStore) FindByUserKey(ctx context.Context, instanceURL, appIDUser, tag string) (relay.Registration, error) {
	return s.realStore.FindByUserKey(ctx, instanceURL, appIDUser, tag)
}

// --- WRITE PATHS (invalidate-on-write) ---

func (s *CachedStore) Upsert(ctx context.Context, reg relay.Registration) (relay.Registration, bool, error) {
	stored, changed, err := s.realStore.Upsert(ctx, reg)
	if err != nil {
		return relay.Registration{}, false, err
	}
	return stored, changed, s.invalidate(ctx, reg)
}

func (s *CachedStore) Update(ctx context.Context, reg relay.Registration) error {
	if err := s.realStore.Update(ctx, reg); err != nil {
		return err
	}
	return s.invalidate(ctx, reg)
}

func (s *CachedStore) Delete(ctx context.Context, reg relay.Registration) error {
	if err := s.realStore.Delete(ctx, reg); err != nil {
		return err
	}
	return s.invalidate(ctx, reg)
}

// --- Helpers ---

func (s *CachedStore) invalidate(ctx context.Context, reg relay.Registration) error {
	return s.cache.Del(ctx, s.cacheKey(reg.InstanceURL, reg.AppID, reg.Tag))
}

func (s *CachedStore) cacheKey(instanceURL, appID, tag string) string {
	return fmt.Sprintf("relay:reg:%s:%s:%s", instanceURL, appID, tag)
}
