// Package cache holds the caller-scoped entitlement-set cache. Entries are
// keyed on (user, project, time bucket) so a cached set can never outlive the
// window it was computed for, and the TTL is at most the activation
// duration.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ocx/elevate/internal/model"
)

const keyPrefix = "elevate:entset:"

// Store is the byte-level backend: redis in multi-pod deployments, the
// in-memory fallback otherwise.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// EntitlementCache caches EntitlementSets per (user, project, bucket).
type EntitlementCache struct {
	store  Store
	ttl    time.Duration
	bucket time.Duration
	now    func() time.Time
}

// New builds the cache. ttl must stay at or below the configured activation
// duration; the bucket granularity equals the ttl so stale windows age out
// with their keys.
func New(store Store, ttl time.Duration) *EntitlementCache {
	if ttl < time.Second {
		ttl = time.Second
	}
	return &EntitlementCache{store: store, ttl: ttl, bucket: ttl, now: time.Now}
}

func (c *EntitlementCache) key(user model.UserID, project model.ProjectID) string {
	bucket := c.now().UTC().Truncate(c.bucket).Unix()
	return fmt.Sprintf("%s%s:%s:%d", keyPrefix, user.Email, project, bucket)
}

// Get returns the cached set for the current bucket, if any.
func (c *EntitlementCache) Get(ctx context.Context, user model.UserID, project model.ProjectID) (*model.EntitlementSet, bool) {
	data, ok := c.store.Get(ctx, c.key(user, project))
	if !ok {
		return nil, false
	}
	var set model.EntitlementSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, false
	}
	return &set, true
}

// Put stores the set under the current bucket.
func (c *EntitlementCache) Put(ctx context.Context, user model.UserID, project model.ProjectID, set *model.EntitlementSet) {
	data, err := json.Marshal(set)
	if err != nil {
		return
	}
	c.store.Set(ctx, c.key(user, project), data, c.ttl)
}
