package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/elevate/internal/model"
)

var (
	alice      = model.UserID{Email: "alice@example.com"}
	bob        = model.UserID{Email: "bob@example.com"}
	projectOne = model.ProjectID("project-1")
)

func testSet() *model.EntitlementSet {
	return &model.EntitlementSet{
		Available: []model.Entitlement{{
			Binding: model.ProjectRoleBinding{Project: projectOne, Role: "roles/browser"},
			Name:    "browser",
			Type:    model.ActivationJit,
			Status:  model.StatusAvailable,
		}},
		Warnings: []string{"w1"},
	}
}

func TestMemoryStore_TTL(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	s.Set(ctx, "k", []byte("v"), 50*time.Millisecond)
	got, ok := s.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	time.Sleep(80 * time.Millisecond)
	_, ok = s.Get(ctx, "k")
	assert.False(t, ok, "expired entries are gone")
}

func TestEntitlementCache_RoundTrip(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	c := New(store, time.Minute)
	ctx := context.Background()

	_, ok := c.Get(ctx, alice, projectOne)
	assert.False(t, ok)

	c.Put(ctx, alice, projectOne, testSet())
	got, ok := c.Get(ctx, alice, projectOne)
	require.True(t, ok)
	assert.Equal(t, testSet(), got)

	// Entries are scoped per user and per project.
	_, ok = c.Get(ctx, bob, projectOne)
	assert.False(t, ok)
	_, ok = c.Get(ctx, alice, model.ProjectID("project-2"))
	assert.False(t, ok)
}

func TestEntitlementCache_BucketRollover(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	c := New(store, time.Minute)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 10, 0, 30, 0, time.UTC)
	c.now = func() time.Time { return base }
	c.Put(ctx, alice, projectOne, testSet())
	_, ok := c.Get(ctx, alice, projectOne)
	require.True(t, ok)

	// The next time bucket misses even though the entry still lives in the
	// store: cached sets never cross window boundaries.
	c.now = func() time.Time { return base.Add(time.Minute) }
	_, ok = c.Get(ctx, alice, projectOne)
	assert.False(t, ok)
}
