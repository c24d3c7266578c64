package sync

import (
	"context"
	stdsync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/kwestra/tidesync/internal/store"
)

// StatusCompleteFunc is invoked when a tracked transaction reaches a
// conclusive state, after the stored record has been updated.
type StatusCompleteFunc func(item TxnStatusItem, result StatusResult)

// Tracker polls the status of pending transactions on its own fixed-interval
// loop, spacing polls per transaction with exponential backoff: every cycle
// each item's remaining backoff shrinks by the poll interval, and an item is
// polled when it reaches zero. An inconclusive poll doubles the backoff
// factor; once the resulting wait exceeds the resync interval the item is
// dropped, since a periodic history sync will pick the transaction up anyway.
type Tracker struct {
	executor *Executor
	store    *store.Store
	logger   *zap.Logger

	pollInterval   time.Duration
	baseBackoff    time.Duration
	resyncInterval time.Duration
	onComplete     StatusCompleteFunc

	mu      stdsync.Mutex
	items   []TxnStatusItem
	online  bool
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// TrackerOptions customizes a Tracker.
type TrackerOptions struct {
	PollInterval   time.Duration
	BaseBackoff    time.Duration
	ResyncInterval time.Duration
	OnComplete     StatusCompleteFunc
	Logger         *zap.Logger
}

// NewTracker creates a status tracker polling through the given executor.
func NewTracker(executor *Executor, st *store.Store, opts *TrackerOptions) *Tracker {
	if opts == nil {
		opts = &TrackerOptions{}
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultStatusPollInterval
	}
	base := opts.BaseBackoff
	if base <= 0 {
		base = DefaultStatusBaseBackoff
	}
	resync := opts.ResyncInterval
	if resync <= 0 {
		resync = DefaultResyncInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		executor:       executor,
		store:          st,
		logger:         logger,
		pollInterval:   poll,
		baseBackoff:    base,
		resyncInterval: resync,
		onComplete:     opts.OnComplete,
		online:         true,
	}
}

// Track starts polling a pending transaction. Adding an already-tracked
// hash is a no-op. A fresh item is due on the next cycle.
func (t *Tracker) Track(item TxnStatusItem) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, existing := range t.items {
		if Equal(existing, item) {
			return false
		}
	}
	if item.BackoffFactor <= 0 {
		item.BackoffFactor = 1
	}
	t.items = append(t.items, item)
	return true
}

// Tracking reports whether the hash is still being polled.
func (t *Tracker) Tracking(hash string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, it := range t.items {
		if it.Hash == hash {
			return true
		}
	}
	return false
}

// Len returns the number of tracked transactions.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// SetOnline pauses or resumes polling. Backoff clocks freeze while offline.
func (t *Tracker) SetOnline(online bool) {
	t.mu.Lock()
	t.online = online
	t.mu.Unlock()
}

// Start launches the polling loop.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	ctx, t.cancel = context.WithCancel(ctx)
	t.started = true
	t.done = make(chan struct{})
	t.mu.Unlock()

	go t.loop(ctx)
}

// Stop terminates the loop and blocks until it has exited.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return
	}
	cancel, done := t.cancel, t.done
	t.started = false
	t.mu.Unlock()

	cancel()
	<-done
}

func (t *Tracker) loop(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Cycle(ctx)
		}
	}
}

// Cycle advances every item's backoff clock by one poll interval and polls
// the ones that came due. Exported so tests can step the tracker without
// running the loop.
func (t *Tracker) Cycle(ctx context.Context) {
	t.mu.Lock()
	if !t.online || len(t.items) == 0 {
		t.mu.Unlock()
		return
	}
	var due []TxnStatusItem
	for idx := range t.items {
		t.items[idx].BackoffTime -= t.pollInterval
		if t.items[idx].BackoffTime <= 0 {
			due = append(due, t.items[idx])
		}
	}
	t.mu.Unlock()

	for _, item := range due {
		if ctx.Err() != nil {
			return
		}
		t.poll(ctx, item)
	}
}

func (t *Tracker) poll(ctx context.Context, item TxnStatusItem) {
	result, err := t.executor.CheckStatus(ctx, item)
	if err != nil {
		t.logger.Warn("status poll failed",
			zap.String("chain", string(item.M.ChainID)),
			zap.String("hash", item.Hash),
			zap.Error(err))
		t.backOff(item)
		return
	}
	if !result.Conclusive {
		t.backOff(item)
		return
	}

	if err := t.resolve(item, result); err != nil {
		t.logger.Error("updating resolved transaction",
			zap.String("hash", item.Hash),
			zap.Error(err))
	}
	t.remove(item)
	t.logger.Info("pending transaction resolved",
		zap.String("chain", string(item.M.ChainID)),
		zap.String("hash", item.Hash),
		zap.String("status", string(result.Status)))
	if t.onComplete != nil {
		t.onComplete(item, result)
	}
}

// backOff doubles the item's spacing, dropping it once the wait would
// outlast the periodic resync.
func (t *Tracker) backOff(item TxnStatusItem) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for idx := range t.items {
		if !Equal(t.items[idx], item) {
			continue
		}
		t.items[idx].BackoffFactor *= 2
		t.items[idx].BackoffTime = time.Duration(t.items[idx].BackoffFactor) * t.baseBackoff
		if t.items[idx].BackoffTime > t.resyncInterval {
			t.logger.Info("dropping slow transaction from status polling",
				zap.String("chain", string(item.M.ChainID)),
				zap.String("hash", item.Hash))
			t.items = append(t.items[:idx], t.items[idx+1:]...)
		}
		return
	}
}

func (t *Tracker) remove(item TxnStatusItem) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for idx := range t.items {
		if Equal(t.items[idx], item) {
			t.items = append(t.items[:idx], t.items[idx+1:]...)
			return
		}
	}
}

// resolve writes the conclusive status onto the stored transaction records
// for the hash, fee records included.
func (t *Tracker) resolve(item TxnStatusItem, result StatusResult) error {
	now := time.Now()
	_, err := t.store.Transactions.FindAndUpdate(
		func(tx store.Transaction) bool {
			return tx.Hash == item.Hash && tx.AccountID == item.AccountID
		},
		func(tx store.Transaction) store.Transaction {
			tx.Status = result.Status
			tx.Confirmations = result.Confirmations
			if result.BlockHeight > 0 {
				tx.BlockHeight = result.BlockHeight
			}
			if result.Status == store.TxnSuccess && tx.ConfirmedAt.IsZero() {
				tx.ConfirmedAt = now
			}
			return tx
		})
	return err
}
