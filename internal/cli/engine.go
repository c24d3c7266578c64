package cli

import (
	"context"
	"encoding/json"
	stdsync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/kwestra/tidesync/internal/api"
	"github.com/kwestra/tidesync/internal/cache"
	"github.com/kwestra/tidesync/internal/chain"
	"github.com/kwestra/tidesync/internal/config"
	"github.com/kwestra/tidesync/internal/push"
	"github.com/kwestra/tidesync/internal/store"
	"github.com/kwestra/tidesync/internal/sync"
	syncerr "github.com/kwestra/tidesync/pkg/errors"
)

// Engine wires the full synchronization stack: store, batch client, queue,
// scheduler, status tracker and one push manager per chain in use.
type Engine struct {
	cfg    *config.Config
	logger *zap.Logger

	store     *store.Store
	queue     *sync.Queue
	freshness *cache.Freshness
	executor  *sync.Executor
	scheduler *sync.Scheduler
	tracker   *sync.Tracker
	managers  map[chain.ID]*push.Manager

	mu        stdsync.Mutex
	connected map[chain.ID]bool

	stopResync context.CancelFunc
	resyncDone chan struct{}
	watchStop  func()
	watchDone  chan struct{}
}

// NewEngine assembles an engine from configuration. The store is opened
// here; Start begins syncing.
func NewEngine(cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	var st *store.Store
	var err error
	if cfg.Store.InMemory {
		st, err = store.OpenInMemory()
	} else {
		st, err = store.Open(cfg.Store.Path)
	}
	if err != nil {
		return nil, err
	}

	client := api.NewClient(cfg.Endpoints.BatchAPI, &api.ClientOptions{
		Logger:      logger,
		ClientRPS:   cfg.Batch.ClientRPS,
		ClientBurst: cfg.Batch.ClientBurst,
		PacingRPS:   cfg.Batch.SubmitPacingRPS,
	})

	queue := sync.NewQueue()
	freshness := cache.NewFreshness(cache.DefaultStaleness)
	executor := sync.NewExecutor(client, st, &sync.ExecutorOptions{
		MaxRetries: cfg.Batch.MaxRetries,
		Freshness:  freshness,
		Logger:     logger,
	})
	scheduler := sync.NewScheduler(queue, executor, &sync.SchedulerOptions{
		BatchSize:     cfg.Batch.Size,
		CycleInterval: cfg.Batch.CycleInterval,
		Logger:        logger,
	})
	tracker := sync.NewTracker(executor, st, &sync.TrackerOptions{
		PollInterval:   cfg.Status.PollInterval,
		BaseBackoff:    cfg.Status.BaseBackoff,
		ResyncInterval: cfg.Status.ResyncInterval,
		OnComplete:     sync.RefreshOnResolve(queue, st, scheduler),
		Logger:         logger,
	})

	return &Engine{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		queue:     queue,
		freshness: freshness,
		executor:  executor,
		scheduler: scheduler,
		tracker:   tracker,
		managers:  map[chain.ID]*push.Manager{},
		connected: map[chain.ID]bool{},
	}, nil
}

// Store exposes the engine's record store.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Queue exposes the engine's work queue.
func (e *Engine) Queue() *sync.Queue {
	return e.queue
}

// Tracker exposes the pending-transaction status tracker.
func (e *Engine) Tracker() *sync.Tracker {
	return e.tracker
}

// Start seeds the queue with a full sync of every tracked account, resumes
// polling of pending transactions, connects push sockets and launches the
// scheduler, tracker and periodic resync loops.
func (e *Engine) Start(ctx context.Context) error {
	accounts, err := e.store.Accounts.GetAll(nil)
	if err != nil {
		return err
	}

	e.queue.AddMany(sync.ResyncItems(accounts, "boot"))
	if err := e.resumePendingTransactions(accounts); err != nil {
		return err
	}

	e.scheduler.Start(ctx)
	e.tracker.Start(ctx)
	e.startPush(ctx, accounts)
	e.startResyncLoop(ctx)
	e.watchTransactions()

	e.logger.Info("sync engine started",
		zap.Int("accounts", len(accounts)),
		zap.Int("queued", e.queue.Len()))
	return nil
}

// Stop shuts every loop down and closes the store.
func (e *Engine) Stop() error {
	for _, m := range e.managers {
		m.Stop()
	}
	if e.stopResync != nil {
		e.stopResync()
		<-e.resyncDone
	}
	if e.watchStop != nil {
		e.watchStop()
		<-e.watchDone
	}
	e.scheduler.Stop()
	e.tracker.Stop()
	return e.store.Close()
}

// resumePendingTransactions re-tracks sent transactions that were still
// pending when the engine last shut down.
func (e *Engine) resumePendingTransactions(accounts []store.Account) error {
	pending, err := e.store.Transactions.GetAll(func(t store.Transaction) bool {
		return t.Status == store.TxnPending && t.Direction == store.DirectionSent && !t.IsFeeRecord
	})
	if err != nil {
		return err
	}

	senders := map[string]string{}
	for _, acct := range accounts {
		senders[acct.ID] = acct.Address
	}
	for _, tx := range pending {
		e.tracker.Track(sync.TxnStatusItem{
			M:         sync.Meta{ChainID: tx.ChainID, ParentChainID: tx.ParentChainID},
			Hash:      tx.Hash,
			Sender:    senders[tx.AccountID],
			AccountID: tx.AccountID,
			WalletID:  tx.WalletID,
		})
	}
	return nil
}

// watchTransactions feeds freshly inserted pending sends into the status
// tracker, so a transaction broadcast by another process gets polled too.
func (e *Engine) watchTransactions() {
	events, cancel := e.store.Transactions.Watch(64)
	e.watchStop = cancel
	e.watchDone = make(chan struct{})

	go func() {
		defer close(e.watchDone)
		for ev := range events {
			tx := ev.Record
			if ev.Op == store.OpDelete || tx.Status != store.TxnPending ||
				tx.Direction != store.DirectionSent || tx.IsFeeRecord {
				continue
			}
			sender := ""
			if acct, ok, err := e.store.Accounts.GetOne(func(a store.Account) bool { return a.ID == tx.AccountID }); err == nil && ok {
				sender = acct.Address
			}
			if e.tracker.Track(sync.TxnStatusItem{
				M:         sync.Meta{ChainID: tx.ChainID, ParentChainID: tx.ParentChainID},
				Hash:      tx.Hash,
				Sender:    sender,
				AccountID: tx.AccountID,
				WalletID:  tx.WalletID,
			}) {
				e.logger.Info("tracking pending transaction",
					zap.String("chain", string(tx.ChainID)),
					zap.String("hash", tx.Hash))
			}
		}
	}()
}

// startPush connects one push manager per chain that has both accounts and
// a configured socket endpoint.
func (e *Engine) startPush(ctx context.Context, accounts []store.Account) {
	byChain := map[chain.ID][]store.Account{}
	for _, acct := range accounts {
		id := acct.ChainID
		if acct.ParentChainID != "" {
			id = acct.ParentChainID // token accounts ride the parent's socket
		}
		byChain[id] = append(byChain[id], acct)
	}

	for id, chainAccounts := range byChain {
		url := e.cfg.SocketURL(string(id))
		if url == "" {
			e.logger.Debug("no push endpoint configured", zap.String("chain", string(id)))
			continue
		}

		chainID := id
		mgr := push.NewManager(chainID, url, &push.Options{
			Logger:       e.logger,
			ReconnectCap: e.cfg.Push.ReconnectCap,
			PingInterval: e.cfg.Push.PingInterval,
			PongWait:     e.cfg.Push.PongWait,
			OnUp:         func() { e.setChainConnected(chainID, true) },
			OnDown:       func(bool) { e.setChainConnected(chainID, false) },
		})
		e.managers[chainID] = mgr
		mgr.Start(ctx)

		e.subscribeChain(mgr, chainID, chainAccounts)
	}
}

func (e *Engine) subscribeChain(mgr *push.Manager, id chain.ID, accounts []store.Account) {
	var addrs []string
	for _, acct := range accounts {
		if acct.Address != "" {
			addrs = append(addrs, acct.Address)
		}
	}
	recvs, err := e.store.ReceiveAddresses.GetAll(func(r store.ReceiveAddress) bool { return r.ChainID == id })
	if err == nil {
		for _, r := range recvs {
			addrs = append(addrs, r.Address)
		}
	}

	if len(addrs) > 0 {
		if err := mgr.SubscribeAddresses(addrs, e.onAddressEvent(id)); err != nil {
			e.logger.Warn("address subscription failed",
				zap.String("chain", string(id)), zap.Error(err))
		}
	}
	if err := mgr.SubscribeNewBlock(e.onNewBlock(id)); err != nil {
		e.logger.Warn("block subscription failed",
			zap.String("chain", string(id)), zap.Error(err))
	}
	if err := mgr.SubscribeFiatRates([]string{"usd"}, e.onFiatRates(id)); err != nil {
		e.logger.Warn("fiat rate subscription failed",
			zap.String("chain", string(id)), zap.Error(err))
	}
}

// onFiatRates keeps the stored spot price current between polled refreshes.
func (e *Engine) onFiatRates(id chain.ID) push.Handler {
	return func(data json.RawMessage) {
		var ev struct {
			Rates map[string]string `json:"rates"`
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		price, ok := ev.Rates["usd"]
		if !ok || price == "" {
			return
		}
		if err := e.store.LatestPrices.Insert(store.LatestPrice{
			ChainID:   id,
			Price:     price,
			UpdatedAt: time.Now(),
		}); err != nil {
			e.logger.Warn("storing pushed rate", zap.Error(err))
		}
	}
}

// onAddressEvent re-syncs the accounts owning an address that just saw
// activity.
func (e *Engine) onAddressEvent(id chain.ID) push.Handler {
	return func(data json.RawMessage) {
		var ev struct {
			Address string `json:"address"`
		}
		if err := json.Unmarshal(data, &ev); err != nil || ev.Address == "" {
			return
		}
		accounts, err := e.accountsForAddress(id, ev.Address)
		if err != nil {
			e.logger.Warn("resolving address event", zap.Error(err))
			return
		}
		for _, acct := range accounts {
			e.queue.AddMany(sync.AccountItems(acct, "push:"+ev.Address, true))
		}
		e.scheduler.Kick()
	}
}

// onNewBlock refreshes balances on the chain when a block lands. History
// catches up through address events and the periodic resync.
func (e *Engine) onNewBlock(id chain.ID) push.Handler {
	return func(json.RawMessage) {
		accounts, err := e.store.Accounts.GetAll(func(a store.Account) bool {
			return a.ChainID == id || a.ParentChainID == id
		})
		if err != nil {
			return
		}
		for _, acct := range accounts {
			e.queue.Add(sync.BalanceItem{
				M:             sync.Meta{ChainID: acct.ChainID, ParentChainID: acct.ParentChainID, Module: "block"},
				AccountID:     acct.ID,
				WalletID:      acct.WalletID,
				Address:       acct.Address,
				XPub:          acct.XPub,
				SecondaryXPub: acct.SecondaryXPub,
			})
		}
		e.scheduler.Kick()
	}
}

func (e *Engine) accountsForAddress(id chain.ID, address string) ([]store.Account, error) {
	direct, err := e.store.Accounts.GetAll(func(a store.Account) bool {
		return (a.ChainID == id || a.ParentChainID == id) && a.Address == address
	})
	if err != nil || len(direct) > 0 {
		return direct, err
	}

	// Derived receive address: map back to its account.
	recv, ok, err := e.store.ReceiveAddresses.GetOne(func(r store.ReceiveAddress) bool {
		return r.ChainID == id && r.Address == address
	})
	if err != nil || !ok {
		return nil, err
	}
	return e.store.Accounts.GetAll(func(a store.Account) bool { return a.ID == recv.AccountID })
}

// setChainConnected tracks per-chain socket health. The engine is online as
// long as any socket is up; with no sockets configured it stays online and
// relies on polling alone.
func (e *Engine) setChainConnected(id chain.ID, up bool) {
	e.mu.Lock()
	e.connected[id] = up
	online := len(e.managers) == 0
	for _, c := range e.connected {
		if c {
			online = true
			break
		}
	}
	e.mu.Unlock()

	e.scheduler.SetOnline(online)
	e.tracker.SetOnline(online)
}

// startResyncLoop schedules the periodic full resync and price-history
// pruning.
func (e *Engine) startResyncLoop(ctx context.Context) {
	ctx, e.stopResync = context.WithCancel(ctx)
	e.resyncDone = make(chan struct{})

	interval := e.cfg.Status.ResyncInterval
	if interval <= 0 {
		interval = sync.DefaultResyncInterval
	}

	go func() {
		defer close(e.resyncDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			accounts, err := e.store.Accounts.GetAll(nil)
			if err != nil {
				e.logger.Warn("resync account scan failed", zap.Error(err))
				continue
			}
			added := e.queue.AddMany(e.filterFresh(sync.ResyncItems(accounts, "resync")))
			e.freshness.Prune()
			if pruned, err := e.store.PrunePriceHistory(time.Now().UnixMilli()); err == nil && pruned > 0 {
				e.logger.Debug("pruned price history", zap.Int("windows", pruned))
			}
			e.logger.Info("periodic resync", zap.Int("queued", added))
			e.scheduler.Kick()
		}
	}()
}

// filterFresh drops items whose data was synced within the staleness
// window. Items flagged Refresh always pass.
func (e *Engine) filterFresh(items []sync.Item) []sync.Item {
	out := items[:0]
	for _, it := range items {
		if !it.Meta().Refresh && e.freshness.Fresh(sync.Key(it)) {
			continue
		}
		out = append(out, it)
	}
	return out
}

// TriggerResync queues a full sync of every account immediately, returning
// the number of items queued.
func (e *Engine) TriggerResync() (int, error) {
	accounts, err := e.store.Accounts.GetAll(nil)
	if err != nil {
		return 0, err
	}
	if len(accounts) == 0 {
		return 0, syncerr.Wrap(syncerr.ErrNotFound, "no accounts to sync")
	}
	added := e.queue.AddMany(sync.ResyncItems(accounts, "manual"))
	e.scheduler.Kick()
	return added, nil
}
