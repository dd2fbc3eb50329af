package data

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Wayfarer/internal/model"
)

func setupTestCache(t *testing.T) (CacheClient, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewCacheClient(rdb), mr
}

func TestCache_SetGetRoundTrip(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := context.Background()

	dep := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	want := []model.FlightAlternative{{Carrier: "AA", FlightNumber: "AA125", Departure: dep, Arrival: dep.Add(3 * time.Hour), Price: 42.5}}
	key := BuildCacheKey(CacheKeyFlightSearch, "JFK", "LAX", "2026-03-11", "economy", "1")

	require.NoError(t, cache.Set(ctx, key, want, time.Minute))
	assert.True(t, mr.Exists("flight:JFK:LAX:2026-03-11:economy:1"))

	var got []model.FlightAlternative
	require.NoError(t, cache.Get(ctx, key, &got))
	assert.Equal(t, want, got)

	exists, err := cache.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	mr.FastForward(2 * time.Minute)
	assert.ErrorIs(t, cache.Get(ctx, key, &got), ErrCacheNotFound)
}

func TestCache_Delete(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, cache.Delete(ctx, "k"))

	exists, err := cache.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCache_CorruptValue(t *testing.T) {
	cache, mr := setupTestCache(t)
	require.NoError(t, mr.Set("k", "not json"))

	var dest []model.FlightAlternative
	err := cache.Get(context.Background(), "k", &dest)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheNotFound)
}

func TestCache_NilClient(t *testing.T) {
	cache := NewCacheClient(nil)
	ctx := context.Background()

	var dest string
	assert.ErrorIs(t, cache.Get(ctx, "k", &dest), ErrCacheUnavailable)
	assert.ErrorIs(t, cache.Set(ctx, "k", "v", time.Minute), ErrCacheUnavailable)
	assert.ErrorIs(t, cache.Delete(ctx, "k"), ErrCacheUnavailable)
	_, err := cache.Exists(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheUnavailable)
}

func TestBuildCacheKey(t *testing.T) {
	assert.Equal(t, "resilience:breaker:api.weather.gov", BuildCacheKey(CacheKeyBreakerSnapshot, "api.weather.gov"))
	assert.Equal(t, "flight", BuildCacheKey(CacheKeyFlightSearch))
}
