package sync_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwestra/tidesync/internal/api"
	"github.com/kwestra/tidesync/internal/chain"
	"github.com/kwestra/tidesync/internal/store"
	"github.com/kwestra/tidesync/internal/sync"
)

func statusItem(hash string) sync.TxnStatusItem {
	return sync.TxnStatusItem{
		M:         sync.Meta{ChainID: chain.ETH},
		Hash:      hash,
		Sender:    "0xabc",
		AccountID: "acct-1",
		WalletID:  "w1",
	}
}

func newTracker(t *testing.T, caller *fakeCaller, opts *sync.TrackerOptions) (*sync.Tracker, *store.Store) {
	t.Helper()
	st := newTestStore(t)
	ex := sync.NewExecutor(caller, st, nil)
	return sync.NewTracker(ex, st, opts), st
}

func TestTrackerDeduplicatesByHash(t *testing.T) {
	tr, _ := newTracker(t, &fakeCaller{respond: okAll(map[string]any{"isComplete": false})}, nil)

	assert.True(t, tr.Track(statusItem("0x1")))
	assert.False(t, tr.Track(statusItem("0x1")))
	assert.True(t, tr.Track(statusItem("0x2")))
	assert.Equal(t, 2, tr.Len())
}

func TestTrackerBackoffDoublesUntilDropped(t *testing.T) {
	caller := &fakeCaller{respond: okAll(map[string]any{"isComplete": false})}
	tr, _ := newTracker(t, caller, &sync.TrackerOptions{
		PollInterval:   10 * time.Second,
		BaseBackoff:    10 * time.Second,
		ResyncInterval: 100 * time.Second,
	})
	require.True(t, tr.Track(statusItem("0x1")))

	ctx := context.Background()

	// Fresh item is due immediately; each inconclusive poll doubles the
	// factor: the waits grow 20s, 40s, 80s, then 160s exceeds the resync
	// interval and the item is dropped.
	tr.Cycle(ctx) // due, polled, backoff 2*10s
	assert.Equal(t, 1, caller.calls())
	assert.True(t, tr.Tracking("0x1"))

	tr.Cycle(ctx) // 20s -> 10s, not due
	assert.Equal(t, 1, caller.calls())

	tr.Cycle(ctx) // due, backoff 4*10s
	assert.Equal(t, 2, caller.calls())

	for i := 0; i < 4; i++ { // 40s elapses, then due: backoff 8*10s
		tr.Cycle(ctx)
	}
	assert.Equal(t, 3, caller.calls())

	for i := 0; i < 8; i++ { // 80s elapses, then due: 16*10s > 100s, dropped
		tr.Cycle(ctx)
	}
	assert.Equal(t, 4, caller.calls())
	assert.False(t, tr.Tracking("0x1"), "slow transaction handed off to periodic resync")
}

func TestTrackerResolvesConclusiveStatus(t *testing.T) {
	caller := &fakeCaller{respond: okAll(map[string]any{
		"isComplete": true, "status": "success", "confirmations": 2, "blockHeight": 500,
	})}

	var resolved []sync.TxnStatusItem
	tr, st := newTracker(t, caller, &sync.TrackerOptions{
		PollInterval: 10 * time.Second,
		OnComplete: func(item sync.TxnStatusItem, result sync.StatusResult) {
			resolved = append(resolved, item)
			assert.Equal(t, store.TxnSuccess, result.Status)
		},
	})
	require.NoError(t, st.Transactions.Insert(store.Transaction{
		Hash: "0x1", AccountID: "acct-1", WalletID: "w1", ChainID: chain.ETH,
		Amount: "100", Fees: "1", Total: "101",
		Status: store.TxnPending, Direction: store.DirectionSent,
	}))

	require.True(t, tr.Track(statusItem("0x1")))
	tr.Cycle(context.Background())

	assert.False(t, tr.Tracking("0x1"))
	require.Len(t, resolved, 1)
	assert.Equal(t, "0x1", resolved[0].Hash)

	tx, ok, err := st.Transactions.GetOne(func(x store.Transaction) bool { return x.Hash == "0x1" })
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.TxnSuccess, tx.Status)
	assert.Equal(t, 2, tx.Confirmations)
	assert.Equal(t, int64(500), tx.BlockHeight)
	assert.False(t, tx.ConfirmedAt.IsZero())
}

func TestTrackerPausesOffline(t *testing.T) {
	caller := &fakeCaller{respond: okAll(map[string]any{"isComplete": false})}
	tr, _ := newTracker(t, caller, &sync.TrackerOptions{PollInterval: 10 * time.Second})
	require.True(t, tr.Track(statusItem("0x1")))

	tr.SetOnline(false)
	tr.Cycle(context.Background())
	assert.Equal(t, 0, caller.calls(), "no polls while offline")

	tr.SetOnline(true)
	tr.Cycle(context.Background())
	assert.Equal(t, 1, caller.calls())
}

func TestTrackerPollErrorBacksOff(t *testing.T) {
	caller := &fakeCaller{respond: func([]api.Request) ([]api.Response, error) {
		return nil, context.DeadlineExceeded
	}}
	tr, _ := newTracker(t, caller, &sync.TrackerOptions{
		PollInterval:   10 * time.Second,
		BaseBackoff:    10 * time.Second,
		ResyncInterval: 100 * time.Second,
	})
	require.True(t, tr.Track(statusItem("0x1")))

	tr.Cycle(context.Background())
	assert.Equal(t, 1, caller.calls())
	assert.True(t, tr.Tracking("0x1"), "transient poll failure keeps the item")

	tr.Cycle(context.Background()) // 20s -> 10s
	assert.Equal(t, 1, caller.calls(), "backed off after the failure")
}
