package pool

import (
	"context"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap_PreservesInputOrder(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		limit int
	}{
		{"more items than workers", 20, 3},
		{"limit of one", 10, 1},
		{"limit exceeds item count", 4, 16},
		{"limit equals item count", 8, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := make([]int, tt.n)
			for i := range items {
				items[i] = i * 10
			}

			results, err := Map(context.Background(), items, tt.limit, func(ctx context.Context, i int, item int) (int, error) {
				// Jitter completion order so ordering cannot come for free.
				time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
				return item + 1, nil
			})
			require.NoError(t, err)
			require.Len(t, results, tt.n)
			for i, r := range results {
				assert.Equal(t, items[i]+1, r)
			}
		})
	}
}

func TestMap_BoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int64

	items := make([]int, 30)
	_, err := Map(context.Background(), items, 4, func(ctx context.Context, i int, item int) (int, error) {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return 0, nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int64(4))
}

func TestMap_EmptyItems(t *testing.T) {
	results, err := Map(context.Background(), nil, 3, func(ctx context.Context, i int, item int) (int, error) {
		t.Fatal("fn should not be called")
		return 0, nil
	})
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestMap_InvalidLimit(t *testing.T) {
	_, err := Map(context.Background(), []int{1}, 0, func(ctx context.Context, i int, item int) (int, error) {
		return 0, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "concurrency limit")
}

func TestMap_FirstErrorCancelsRemaining(t *testing.T) {
	boom := eris.New("item 5 failed")
	var calls atomic.Int64

	items := make([]int, 100)
	results, err := Map(context.Background(), items, 2, func(ctx context.Context, i int, item int) (int, error) {
		calls.Add(1)
		if i == 5 {
			return 0, boom
		}
		time.Sleep(time.Millisecond)
		return i, nil
	})
	require.Error(t, err)
	assert.Nil(t, results)
	// Cancellation should keep the workers from draining the whole slice.
	assert.Less(t, calls.Load(), int64(100))
}

func TestMap_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items := make([]int, 10)
	_, err := Map(ctx, items, 2, func(ctx context.Context, i int, item int) (int, error) {
		return 0, nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMapSettled_IsolatesFailures(t *testing.T) {
	boom := eris.New("no")
	items := []string{"a", "b", "c", "d"}

	results, err := MapSettled(context.Background(), items, 2, func(ctx context.Context, i int, item string) (string, error) {
		if item == "b" {
			return "", boom
		}
		return item + "!", nil
	})
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.NoError(t, results[0].Err)
	assert.Equal(t, "a!", results[0].Value)
	assert.ErrorIs(t, results[1].Err, boom)
	assert.NoError(t, results[2].Err)
	assert.Equal(t, "c!", results[2].Value)
	assert.Equal(t, "d!", results[3].Value)
}

func TestMapSettled_InvalidLimit(t *testing.T) {
	_, err := MapSettled(context.Background(), []int{1}, -1, func(ctx context.Context, i int, item int) (int, error) {
		return 0, nil
	})
	assert.Error(t, err)
}
