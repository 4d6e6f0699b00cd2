package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryWatchSet(t *testing.T) {
	ctx := context.Background()
	w := NewMemoryWatchSet()

	ok, err := w.Contains(ctx, "BTC")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, w.Track(ctx, "BTC"))
	require.NoError(t, w.Track(ctx, "BTC"))
	ok, _ = w.Contains(ctx, "BTC")
	assert.True(t, ok)

	// Remove是整体移除，不是减一：引擎确认账本无挂单后才会调用
	require.NoError(t, w.Remove(ctx, "BTC"))
	ok, _ = w.Contains(ctx, "BTC")
	assert.False(t, ok)
}

func TestMemoryWatchSet_Reset(t *testing.T) {
	ctx := context.Background()
	w := NewMemoryWatchSet()
	require.NoError(t, w.Track(ctx, "DOGE"))

	require.NoError(t, w.Reset(ctx, map[string]int64{"BTC": 2, "ETH": 1, "SOL": 0}))

	for asset, want := range map[string]bool{"BTC": true, "ETH": true, "SOL": false, "DOGE": false} {
		ok, err := w.Contains(ctx, asset)
		require.NoError(t, err)
		assert.Equal(t, want, ok, asset)
	}
}
