package subagent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiter_RejectsNonPositiveCapacity(t *testing.T) {
	_, err := NewLimiter(0)
	require.Error(t, err)
	_, err = NewLimiter(-1)
	require.Error(t, err)
}

func TestLimiter_BlocksAtCapacity(t *testing.T) {
	limiter, err := NewLimiter(2)
	require.NoError(t, err)
	require.Equal(t, 2, limiter.Capacity())

	ctx := context.Background()
	p1, err := limiter.Acquire(ctx)
	require.NoError(t, err)
	p2, err := limiter.Acquire(ctx)
	require.NoError(t, err)

	// Third acquire must block until a permit is returned.
	blockedCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = limiter.Acquire(blockedCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	p1.Release()
	p3, err := limiter.Acquire(ctx)
	require.NoError(t, err)

	p2.Release()
	p3.Release()
}

func TestPermit_ReleaseIsIdempotent(t *testing.T) {
	limiter, err := NewLimiter(1)
	require.NoError(t, err)

	ctx := context.Background()
	p, err := limiter.Acquire(ctx)
	require.NoError(t, err)

	p.Release()
	p.Release()
	p.Release()

	// Capacity must still be exactly one.
	p2, err := limiter.Acquire(ctx)
	require.NoError(t, err)

	blockedCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = limiter.Acquire(blockedCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	p2.Release()
}
