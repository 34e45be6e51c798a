package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deltran/screening/internal/types"
)

func setupTestCache(t *testing.T) (*ScreeningCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sc := &ScreeningCache{client: client, ttl: time.Minute, prefix: "screening:"}

	return sc, mr
}

func TestScreeningCacheGetSet(t *testing.T) {
	sc, _ := setupTestCache(t)
	defer sc.Close()

	result := &types.ScreeningResult{
		Status:       types.StatusCleared,
		RiskLevel:    types.RiskLow,
		Confidence:   types.ConfidenceHigh,
		IsSanctioned: false,
		IsPEP:        false,
	}

	t.Run("miss before set", func(t *testing.T) {
		_, err := sc.Get(context.Background(), "entity-a")
		assert.ErrorIs(t, err, ErrMiss)
	})

	t.Run("set then get", func(t *testing.T) {
		require.NoError(t, sc.Set(context.Background(), "entity-a", result))

		got, err := sc.Get(context.Background(), "entity-a")
		require.NoError(t, err)
		assert.Equal(t, result.Status, got.Status)
		assert.Equal(t, result.RiskLevel, got.RiskLevel)
	})

	t.Run("invalidate clears it", func(t *testing.T) {
		require.NoError(t, sc.Set(context.Background(), "entity-b", result))
		require.NoError(t, sc.Invalidate(context.Background(), "entity-b"))

		_, err := sc.Get(context.Background(), "entity-b")
		assert.ErrorIs(t, err, ErrMiss)
	})
}

func TestScreeningCacheExpiry(t *testing.T) {
	sc, mr := setupTestCache(t)
	defer sc.Close()

	result := &types.ScreeningResult{Status: types.StatusCleared}
	require.NoError(t, sc.Set(context.Background(), "entity-c", result))

	mr.FastForward(2 * time.Minute)

	_, err := sc.Get(context.Background(), "entity-c")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestScreeningCacheKeyPrefix(t *testing.T) {
	sc, mr := setupTestCache(t)
	defer sc.Close()

	require.NoError(t, sc.Set(context.Background(), "entity-d", &types.ScreeningResult{}))
	assert.True(t, mr.Exists("screening:entity-d"))
}
