package pacing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/profile-validator/internal/random"
)

func TestRangeDrawBounds(t *testing.T) {
	t.Parallel()

	src := random.NewSeeded(3)
	r := Range{Min: 10 * time.Millisecond, Max: 20 * time.Millisecond}
	for i := 0; i < 200; i++ {
		d := r.Draw(src)
		require.GreaterOrEqual(t, d, r.Min)
		require.LessOrEqual(t, d, r.Max)
	}
	require.Equal(t, 5*time.Millisecond, Range{Min: 5 * time.Millisecond, Max: 5 * time.Millisecond}.Draw(src))
	require.Zero(t, Range{}.Draw(src))
}

func TestSleepCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	err := Sleep(ctx, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestSleepAlreadyCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, Sleep(ctx, 0), context.Canceled)
}

func TestPacerWaits(t *testing.T) {
	t.Parallel()

	p := New(Config{
		RequestDelay: Range{Min: 5 * time.Millisecond, Max: 5 * time.Millisecond},
		BatchDelay:   Range{Min: 5 * time.Millisecond, Max: 5 * time.Millisecond},
	}, random.NewSeeded(1), nil)

	start := time.Now()
	require.NoError(t, p.BeforeRequest(context.Background()))
	require.NoError(t, p.BetweenBatches(context.Background()))
	require.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestPacerGlobalLimiter(t *testing.T) {
	t.Parallel()

	p := New(Config{GlobalRPS: 10, GlobalBurst: 1}, random.NewSeeded(1), nil)
	ctx := context.Background()
	require.NoError(t, p.BeforeRequest(ctx))

	start := time.Now()
	require.NoError(t, p.BeforeRequest(ctx))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestPacerCanceledDelay(t *testing.T) {
	t.Parallel()

	p := New(Config{RequestDelay: Range{Min: time.Minute, Max: time.Minute}}, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := p.BeforeRequest(ctx)
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}
