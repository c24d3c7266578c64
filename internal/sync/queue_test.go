package sync_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwestra/tidesync/internal/chain"
	"github.com/kwestra/tidesync/internal/sync"
)

func historyItem(chainID chain.ID, accountID, module string) sync.HistoryItem {
	return sync.HistoryItem{
		M:         sync.Meta{ChainID: chainID, Module: module},
		AccountID: accountID,
		WalletID:  "w1",
		XPub:      "xpub-" + accountID,
	}
}

func TestQueueAddDeduplicates(t *testing.T) {
	q := sync.NewQueue()

	require.True(t, q.Add(historyItem(chain.BTC, "acct-1", "push")))
	// Same account, same kind: a duplicate even when queued by another
	// module with a different cursor state.
	dup := historyItem(chain.BTC, "acct-1", "resync")
	dup.Cursor = sync.HistoryCursor{Page: 4}
	assert.False(t, q.Add(dup))
	assert.Equal(t, 1, q.Len())

	// Different account or chain is distinct work.
	assert.True(t, q.Add(historyItem(chain.BTC, "acct-2", "push")))
	assert.True(t, q.Add(historyItem(chain.LTC, "acct-1", "push")))
	assert.Equal(t, 3, q.Len())
}

func TestQueueAddManyCountsInsertions(t *testing.T) {
	q := sync.NewQueue()
	added := q.AddMany([]sync.Item{
		historyItem(chain.BTC, "a", "m"),
		historyItem(chain.BTC, "a", "m"),
		historyItem(chain.BTC, "b", "m"),
	})
	assert.Equal(t, 2, added)
	assert.Equal(t, 2, q.Len())
}

func TestQueueTakeSplitsClasses(t *testing.T) {
	q := sync.NewQueue()
	for _, acct := range []string{"a", "b", "c"} {
		q.Add(historyItem(chain.BTC, acct, "m"))
	}
	q.Add(sync.PriceItem{M: sync.Meta{ChainID: chain.BTC}, Days: 7})
	q.Add(sync.PriceItem{M: sync.Meta{ChainID: chain.BTC}, Days: 30})
	q.Add(sync.LatestPriceItem{M: sync.Meta{ChainID: chain.ETH}})

	ordinary, client := q.Take(2)
	assert.Len(t, ordinary, 2, "ordinary capped at batch size")
	assert.Len(t, client, 3, "client class taken whole")
	for _, it := range client {
		assert.Equal(t, sync.ClassClient, sync.ClassOf(it))
	}
	// Take does not consume.
	assert.Equal(t, 6, q.Len())
}

func TestQueueApplyOutcomes(t *testing.T) {
	q := sync.NewQueue()
	a := historyItem(chain.BTC, "a", "m")
	b := historyItem(chain.BTC, "b", "m")
	q.Add(a)
	q.Add(b)

	advanced := a.WithCursor(sync.HistoryCursor{Page: 2})
	q.ApplyOutcomes([]sync.Outcome{
		{Item: a, Op: sync.OpUpdate, Updated: advanced},
		{Item: b, Op: sync.OpRemove},
	})

	require.Equal(t, 1, q.Len())
	got := q.Items()[0].(sync.HistoryItem)
	assert.Equal(t, 2, got.Cursor.Page)
	assert.True(t, q.HasModule("m"), "module still referenced by updated item")
}

func TestQueueAnnouncesDrainedModules(t *testing.T) {
	q := sync.NewQueue()
	ch, cancel := q.WatchDrained(4)
	defer cancel()

	a := historyItem(chain.BTC, "a", "boot")
	b := historyItem(chain.BTC, "b", "boot")
	q.Add(a)
	q.Add(b)

	q.ApplyOutcomes([]sync.Outcome{{Item: a, Op: sync.OpRemove}})
	select {
	case m := <-ch:
		t.Fatalf("module %q announced while items remain", m)
	default:
	}

	q.ApplyOutcomes([]sync.Outcome{{Item: b, Op: sync.OpRemove}})
	select {
	case m := <-ch:
		assert.Equal(t, "boot", m)
	case <-time.After(time.Second):
		t.Fatal("drained module never announced")
	}
	assert.False(t, q.HasModule("boot"))
}

func TestQueueKeepLeavesItemUntouched(t *testing.T) {
	q := sync.NewQueue()
	p := sync.PriceItem{M: sync.Meta{ChainID: chain.BTC, Module: "m"}, Days: 7}
	q.Add(p)

	q.ApplyOutcomes([]sync.Outcome{{Item: p, Op: sync.OpKeep}})
	assert.Equal(t, 1, q.Len())
	assert.True(t, q.HasModule("m"))
}
