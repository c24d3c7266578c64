package chain_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwestra/tidesync/internal/chain"
)

func TestRateLimiter_AllowWithinBurst(t *testing.T) {
	rl := chain.NewRateLimiter(1, 3)

	// Burst of 3 should be allowed immediately.
	assert.True(t, rl.Allow(chain.BTC))
	assert.True(t, rl.Allow(chain.BTC))
	assert.True(t, rl.Allow(chain.BTC))

	// Fourth immediate request exceeds the burst.
	assert.False(t, rl.Allow(chain.BTC))
}

func TestRateLimiter_PerChainIsolation(t *testing.T) {
	rl := chain.NewRateLimiter(1, 1)

	assert.True(t, rl.Allow(chain.BTC))
	assert.False(t, rl.Allow(chain.BTC))

	// A different chain has its own bucket.
	assert.True(t, rl.Allow(chain.ETH))
}

func TestRateLimiter_Wait(t *testing.T) {
	rl := chain.NewRateLimiter(100, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, rl.Wait(ctx, chain.SOL))
	require.NoError(t, rl.Wait(ctx, chain.SOL))
}

func TestRateLimiter_WaitCanceled(t *testing.T) {
	rl := chain.NewRateLimiter(0.001, 1)
	require.True(t, rl.Allow(chain.LTC))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := rl.Wait(ctx, chain.LTC)
	require.Error(t, err)
}
