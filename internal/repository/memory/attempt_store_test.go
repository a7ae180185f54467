package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VahantSharma/Bloggly-Backend/internal/models"
)

func record(key, limitType string, at time.Time, blocked bool) models.AttemptRecord {
	return models.AttemptRecord{ID: at.String(), Identifier: key, LimitType: limitType, CreatedAt: at, AttemptCount: 1, Blocked: blocked}
}

func TestAttemptStore(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("counts failures since cutoff", func(t *testing.T) {
		s := NewAttemptStore()
		require.NoError(t, s.Insert(ctx, record("auth_ip1", "auth", base, false)))
		require.NoError(t, s.Insert(ctx, record("auth_ip1", "auth", base.Add(time.Minute), false)))
		require.NoError(t, s.Insert(ctx, record("auth_ip1", "auth", base.Add(time.Minute), true)))

		n, err := s.CountFailures(ctx, "auth_ip1", base.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = s.CountFailures(ctx, "auth_ip1", base)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("latest block is newest at or after since", func(t *testing.T) {
		s := NewAttemptStore()
		require.NoError(t, s.Insert(ctx, record("auth_ip1", "auth", base, true)))
		require.NoError(t, s.Insert(ctx, record("auth_ip1", "auth", base.Add(2*time.Minute), true)))
		require.NoError(t, s.Insert(ctx, record("auth_ip1", "auth", base.Add(3*time.Minute), false)))

		block, err := s.LatestBlock(ctx, "auth_ip1", base)
		require.NoError(t, err)
		require.NotNil(t, block)
		assert.Equal(t, base.Add(2*time.Minute), block.CreatedAt)

		block, err = s.LatestBlock(ctx, "auth_ip1", base.Add(3*time.Minute))
		require.NoError(t, err)
		assert.Nil(t, block)
	})

	t.Run("reset keeps block records", func(t *testing.T) {
		s := NewAttemptStore()
		require.NoError(t, s.Insert(ctx, record("auth_ip1", "auth", base, false)))
		require.NoError(t, s.Insert(ctx, record("auth_ip1", "auth", base, true)))

		require.NoError(t, s.ResetFailures(ctx, "auth_ip1"))
		records := s.Records("auth_ip1")
		require.Len(t, records, 1)
		assert.True(t, records[0].Blocked)

		require.NoError(t, s.ResetFailures(ctx, "missing"))
	})

	t.Run("purge is scoped to the limit type", func(t *testing.T) {
		s := NewAttemptStore()
		require.NoError(t, s.Insert(ctx, record("auth_ip1", "auth", base, false)))
		require.NoError(t, s.Insert(ctx, record("auth_ip1", "auth", base.Add(time.Hour), true)))
		require.NoError(t, s.Insert(ctx, record("signup_ip1", "signup", base, true)))

		purged, err := s.PurgeExpired(ctx, "auth", base.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(1), purged)
		assert.Equal(t, 2, s.Len())
		assert.Len(t, s.Records("signup_ip1"), 1)
	})
}
