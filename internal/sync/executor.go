package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	stdsync "sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kwestra/tidesync/internal/api"
	"github.com/kwestra/tidesync/internal/cache"
	"github.com/kwestra/tidesync/internal/chain"
	"github.com/kwestra/tidesync/internal/metrics"
	"github.com/kwestra/tidesync/internal/normalize"
	"github.com/kwestra/tidesync/internal/store"
	syncerr "github.com/kwestra/tidesync/pkg/errors"
)

// BatchCaller is the transport the executor submits batches through.
type BatchCaller interface {
	Batch(ctx context.Context, reqs []api.Request) ([]api.Response, error)
	BatchClient(ctx context.Context, reqs []api.Request) ([]api.Response, error)
}

// Executor turns queued items into batch API calls and applies the results
// to the store. One item expands to zero or more request descriptors; the
// zipped responses decide whether the item is done, continues with an
// advanced cursor, retries, or is dropped.
type Executor struct {
	client     BatchCaller
	store      *store.Store
	logger     *zap.Logger
	maxRetries int
	cooldown   time.Duration
	freshness  *cache.Freshness

	mu          stdsync.Mutex
	pausedUntil time.Time // rate-limited client class blocked until here

	now func() time.Time
}

// ExecutorOptions customizes an Executor.
type ExecutorOptions struct {
	MaxRetries     int
	ClientCooldown time.Duration // used when the server omits a retry-after
	Freshness      *cache.Freshness
	Logger         *zap.Logger
}

// NewExecutor creates an executor over the given transport and store.
func NewExecutor(client BatchCaller, st *store.Store, opts *ExecutorOptions) *Executor {
	if opts == nil {
		opts = &ExecutorOptions{}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	cooldown := opts.ClientCooldown
	if cooldown <= 0 {
		cooldown = DefaultClientCooldown
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		client:     client,
		store:      st,
		logger:     logger,
		maxRetries: maxRetries,
		cooldown:   cooldown,
		freshness:  opts.Freshness,
		now:        time.Now,
	}
}

// ClientPaused reports whether the rate-limited request class is currently
// in a cool-down window.
func (e *Executor) ClientPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now().Before(e.pausedUntil)
}

func (e *Executor) pauseClient(d time.Duration) {
	if d <= 0 {
		d = e.cooldown
	}
	e.mu.Lock()
	until := e.now().Add(d)
	if until.After(e.pausedUntil) {
		e.pausedUntil = until
	}
	e.mu.Unlock()
	e.logger.Warn("client request class paused", zap.Duration("for", d))
}

// ExecuteOrdinary runs one batch of ordinary-class items.
func (e *Executor) ExecuteOrdinary(ctx context.Context, items []Item) []Outcome {
	return e.execute(ctx, items, e.client.Batch, false)
}

// ExecuteClient runs one batch of rate-limited client-class items. While the
// class is paused every item is kept untouched for a later cycle.
func (e *Executor) ExecuteClient(ctx context.Context, items []Item) []Outcome {
	if e.ClientPaused() {
		outcomes := make([]Outcome, 0, len(items))
		for _, it := range items {
			outcomes = append(outcomes, Outcome{Item: it, Op: OpKeep})
		}
		return outcomes
	}
	return e.execute(ctx, items, e.client.BatchClient, true)
}

// span locates the request descriptors belonging to one item inside the
// flattened batch.
type span struct {
	start, count int
}

func (e *Executor) execute(ctx context.Context, items []Item, submit func(context.Context, []api.Request) ([]api.Response, error), clientClass bool) []Outcome {
	if len(items) == 0 {
		return nil
	}
	started := e.now()

	var reqs []api.Request
	spans := make([]span, len(items))
	outcomes := make([]Outcome, len(items))
	for i, it := range items {
		itemReqs, err := buildRequests(it)
		if err != nil {
			// Malformed item: data problem, never retried.
			e.logger.Error("dropping unbuildable sync item",
				zap.String("kind", string(it.Kind())),
				zap.String("chain", string(it.Meta().ChainID)),
				zap.Error(err))
			outcomes[i] = Outcome{Item: it, Op: OpRemove, Err: err}
			metrics.Global.RecordFailed(1)
			continue
		}
		spans[i] = span{start: len(reqs), count: len(itemReqs)}
		reqs = append(reqs, itemReqs...)
	}

	resps, err := submit(ctx, reqs)
	if err != nil {
		if clientClass && errors.Is(err, syncerr.ErrRateLimited) {
			e.pauseClient(api.RetryAfterOf(err))
		}
		for i, it := range items {
			if outcomes[i].Item != nil {
				continue // already failed at build time
			}
			outcomes[i] = e.retryOutcome(it, err)
		}
		metrics.Global.RecordBatch(e.now().Sub(started))
		return outcomes
	}

	for i, it := range items {
		if outcomes[i].Item != nil {
			continue
		}
		sp := spans[i]
		itemResps := resps[sp.start : sp.start+sp.count]

		if failed := firstFailure(itemResps); failed != nil {
			// A per-item rate-limit marker cools the whole class down just
			// like a batch-level 429 would.
			if clientClass && failed.Code == http.StatusTooManyRequests {
				e.pauseClient(0)
				outcomes[i] = e.retryOutcome(it, fmt.Errorf("%w: %d %s",
					syncerr.ErrRateLimited, failed.Code, failed.Message))
				continue
			}
			outcomes[i] = e.retryOutcome(it, fmt.Errorf("%w: %d %s",
				syncerr.ErrServerRejected, failed.Code, failed.Message))
			continue
		}

		out, applyErr := e.apply(it, itemResps)
		if applyErr != nil {
			// Response payload we cannot make sense of. Retrying will not
			// change the data, so the item is dropped.
			e.logger.Error("dropping sync item with unusable response",
				zap.String("kind", string(it.Kind())),
				zap.String("chain", string(it.Meta().ChainID)),
				zap.Error(applyErr))
			outcomes[i] = Outcome{Item: it, Op: OpRemove, Err: applyErr}
			metrics.Global.RecordFailed(1)
			continue
		}
		outcomes[i] = out
		switch out.Op {
		case OpRemove:
			metrics.Global.RecordCompleted(1)
			if e.freshness != nil {
				e.freshness.Mark(Key(it))
			}
		case OpUpdate:
			metrics.Global.RecordContinued(1)
		}
	}

	metrics.Global.RecordBatch(e.now().Sub(started))
	return outcomes
}

func firstFailure(resps []api.Response) *api.RespError {
	for _, r := range resps {
		if r.Failed() {
			return r.Error
		}
	}
	return nil
}

// retryOutcome applies the retry policy to a transiently failed item.
func (e *Executor) retryOutcome(it Item, err error) Outcome {
	retries := it.Meta().Retries
	if retries < e.maxRetries {
		metrics.Global.RecordRetried(1)
		return Outcome{Item: it, Op: OpUpdate, Updated: it.WithRetries(retries + 1), Err: err}
	}
	e.logger.Error("sync item failed after retries",
		zap.String("kind", string(it.Kind())),
		zap.String("chain", string(it.Meta().ChainID)),
		zap.Int("retries", retries),
		zap.Error(err))
	metrics.Global.RecordFailed(1)
	return Outcome{Item: it, Op: OpRemove, Err: fmt.Errorf("%w: %w", syncerr.ErrRetriesExhausted, err)}
}

// buildRequests expands one item into its request descriptors. A
// dual-derivation account contributes one descriptor per xpub.
func buildRequests(it Item) ([]api.Request, error) {
	m := it.Meta()
	switch x := it.(type) {
	case BalanceItem:
		return addressedRequests(m.ChainID, api.OpBalance, x.Address, x.XPub, x.SecondaryXPub, nil)
	case HistoryItem:
		return addressedRequests(m.ChainID, api.OpHistory, x.Address, x.XPub, x.SecondaryXPub, cursorParams(m.ChainID, x.Cursor))
	case PriceItem:
		return []api.Request{{Chain: m.ChainID, Op: api.OpPrice, Params: map[string]any{"days": x.Days}}}, nil
	case LatestPriceItem:
		return []api.Request{{Chain: m.ChainID, Op: api.OpLatestPrice}}, nil
	case CustomAccountItem:
		if x.AccountID == "" {
			return nil, syncerr.Wrap(syncerr.ErrValidation, "custom account item without account id")
		}
		return []api.Request{{Chain: m.ChainID, Op: api.OpCustomAccount, Params: map[string]any{"accountId": x.AccountID}}}, nil
	case TxnStatusItem:
		if x.Hash == "" {
			return nil, syncerr.Wrap(syncerr.ErrValidation, "status item without hash")
		}
		params := map[string]any{"hash": x.Hash}
		if x.Sender != "" {
			params["sender"] = x.Sender
		}
		return []api.Request{{Chain: m.ChainID, Op: api.OpTxnStatus, Params: params}}, nil
	default:
		return nil, syncerr.Wrap(syncerr.ErrValidation, "unknown item kind %q", it.Kind())
	}
}

// addressedRequests builds the balance/history descriptors of an account:
// one per xpub on utxo chains, a single address-keyed one elsewhere.
func addressedRequests(id chain.ID, op, address, xpub, secondary string, extra map[string]any) ([]api.Request, error) {
	params := func(kv map[string]any) map[string]any {
		out := make(map[string]any, len(kv)+len(extra))
		for k, v := range extra {
			out[k] = v
		}
		for k, v := range kv {
			out[k] = v
		}
		return out
	}

	if id.Group() == chain.GroupUTXO {
		if xpub == "" {
			return nil, syncerr.Wrap(syncerr.ErrValidation, "utxo item without xpub")
		}
		reqs := []api.Request{{Chain: id, Op: op, Params: params(map[string]any{"xpub": xpub})}}
		if secondary != "" {
			reqs = append(reqs, api.Request{Chain: id, Op: op, Params: params(map[string]any{"xpub": secondary})})
		}
		return reqs, nil
	}

	if address == "" {
		return nil, syncerr.Wrap(syncerr.ErrValidation, "item without address")
	}
	return []api.Request{{Chain: id, Op: op, Params: params(map[string]any{"address": address})}}, nil
}

// cursorParams serializes the resumption point of a history item. Cursor
// shape follows the coin group.
func cursorParams(id chain.ID, c HistoryCursor) map[string]any {
	if c.Zero() {
		return nil
	}
	out := map[string]any{}
	switch id.Group() {
	case chain.GroupInstruction:
		if c.AfterHash != "" {
			out["afterHash"] = c.AfterHash
		}
		if c.BeforeHash != "" {
			out["beforeHash"] = c.BeforeHash
		}
	default:
		if c.Page > 0 {
			out["page"] = c.Page
		}
		if c.AfterBlock > 0 {
			out["afterBlock"] = c.AfterBlock
		}
		if c.AfterTokenBlock > 0 {
			out["afterTokenBlock"] = c.AfterTokenBlock
		}
	}
	return out
}

// Response payload shapes, mirrored from the batch endpoint.
type balancePayload struct {
	Balance     string `json:"balance"`
	Unconfirmed string `json:"unconfirmed"`
}

type historyPayload struct {
	Transactions    json.RawMessage `json:"transactions"`
	More            bool            `json:"more"`
	Page            int             `json:"page"`
	AfterBlock      int64           `json:"afterBlock"`
	AfterHash       string          `json:"afterHash"`
	BeforeHash      string          `json:"beforeHash"`
	AfterTokenBlock int64           `json:"afterTokenBlock"`
}

type pricePayload struct {
	Points []store.PricePoint `json:"points"`
}

type latestPricePayload struct {
	Price string `json:"price"`
}

type customAccountPayload struct {
	Accounts []string `json:"accounts"`
}

type statusPayload struct {
	IsComplete    bool   `json:"isComplete"`
	Status        string `json:"status"`
	Confirmations int    `json:"confirmations"`
	BlockHeight   int64  `json:"blockHeight"`
}

// apply performs the side effect of a fully-successful item and decides its
// queue outcome.
func (e *Executor) apply(it Item, resps []api.Response) (Outcome, error) {
	switch x := it.(type) {
	case BalanceItem:
		if err := e.applyBalance(x, resps); err != nil {
			return Outcome{}, err
		}
		return Outcome{Item: it, Op: OpRemove}, nil
	case HistoryItem:
		return e.applyHistory(x, resps)
	case PriceItem:
		var p pricePayload
		if err := decodeOne(resps, &p); err != nil {
			return Outcome{}, err
		}
		if err := e.store.Prices.Insert(store.PriceHistory{
			ChainID:   x.M.ChainID,
			Days:      x.Days,
			Points:    p.Points,
			UpdatedAt: e.now(),
		}); err != nil {
			return Outcome{}, err
		}
		return Outcome{Item: it, Op: OpRemove}, nil
	case LatestPriceItem:
		var p latestPricePayload
		if err := decodeOne(resps, &p); err != nil {
			return Outcome{}, err
		}
		if err := e.store.LatestPrices.Insert(store.LatestPrice{
			ChainID:   x.M.ChainID,
			Price:     p.Price,
			UpdatedAt: e.now(),
		}); err != nil {
			return Outcome{}, err
		}
		return Outcome{Item: it, Op: OpRemove}, nil
	case CustomAccountItem:
		if err := e.applyCustomAccounts(x, resps); err != nil {
			return Outcome{}, err
		}
		return Outcome{Item: it, Op: OpRemove}, nil
	default:
		return Outcome{}, syncerr.Wrap(syncerr.ErrValidation, "item kind %q not handled by the batch path", it.Kind())
	}
}

func decodeOne(resps []api.Response, v any) error {
	if len(resps) != 1 {
		return syncerr.Wrap(syncerr.ErrValidation, "expected one response, got %d", len(resps))
	}
	if err := json.Unmarshal(resps[0].Data, v); err != nil {
		return fmt.Errorf("%w: %w", syncerr.ErrValidation, err)
	}
	return nil
}

// applyBalance sums the per-xpub balances of the span and writes them onto
// the account record.
func (e *Executor) applyBalance(it BalanceItem, resps []api.Response) error {
	balance := decimal.Zero
	unconfirmed := decimal.Zero
	for _, r := range resps {
		var p balancePayload
		if err := json.Unmarshal(r.Data, &p); err != nil {
			return fmt.Errorf("%w: %w", syncerr.ErrValidation, err)
		}
		b, err := decimal.NewFromString(nonEmpty(p.Balance, "0"))
		if err != nil {
			return fmt.Errorf("%w: %w", syncerr.ErrValidation, err)
		}
		u, err := decimal.NewFromString(nonEmpty(p.Unconfirmed, "0"))
		if err != nil {
			return fmt.Errorf("%w: %w", syncerr.ErrValidation, err)
		}
		balance = balance.Add(b)
		unconfirmed = unconfirmed.Add(u)
	}

	now := e.now()
	_, err := e.store.Accounts.FindAndUpdate(
		func(a store.Account) bool { return a.ID == it.AccountID },
		func(a store.Account) store.Account {
			a.Balance = balance.String()
			a.Unconfirmed = unconfirmed.String()
			a.UpdatedAt = now
			return a
		})
	return err
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func (e *Executor) applyHistory(it HistoryItem, resps []api.Response) (Outcome, error) {
	nctx, err := e.normalizeContext(it)
	if err != nil {
		return Outcome{}, err
	}

	var (
		txns   []store.Transaction
		more   bool
		cursor = it.Cursor
	)
	for _, r := range resps {
		var p historyPayload
		if err := json.Unmarshal(r.Data, &p); err != nil {
			return Outcome{}, fmt.Errorf("%w: %w", syncerr.ErrValidation, err)
		}
		page, err := normalizeHistory(it.M.ChainID, p.Transactions, nctx, e.logger)
		if err != nil {
			return Outcome{}, err
		}
		txns = append(txns, page...)

		if p.More {
			more = true
		}
		// Cursors only move forward; a lagging derivation never rewinds
		// the shared resumption point.
		if p.Page > cursor.Page {
			cursor.Page = p.Page
		}
		if p.AfterBlock > cursor.AfterBlock {
			cursor.AfterBlock = p.AfterBlock
		}
		if p.AfterTokenBlock > cursor.AfterTokenBlock {
			cursor.AfterTokenBlock = p.AfterTokenBlock
		}
		if p.AfterHash != "" {
			cursor.AfterHash = p.AfterHash
		}
		if p.BeforeHash != "" {
			cursor.BeforeHash = p.BeforeHash
		}
	}

	if len(txns) > 0 {
		if err := e.store.Transactions.InsertMany(txns); err != nil {
			return Outcome{}, err
		}
	}

	if more {
		// A cursor advance is progress, not a failure: the item continues
		// with its retry count untouched.
		return Outcome{Item: it, Op: OpUpdate, Updated: it.WithCursor(cursor)}, nil
	}
	return Outcome{Item: it, Op: OpRemove}, nil
}

// normalizeContext assembles the ownership view of an account: its primary
// address, every derived receive address, and a lookup of prior records so
// re-fetched transactions keep what is already known.
func (e *Executor) normalizeContext(it HistoryItem) (normalize.Context, error) {
	own := map[string]struct{}{}
	if it.Address != "" {
		own[it.Address] = struct{}{}
	}
	if acct, ok, err := e.store.Accounts.GetOne(func(a store.Account) bool { return a.ID == it.AccountID }); err != nil {
		return normalize.Context{}, err
	} else if ok && acct.Address != "" {
		own[acct.Address] = struct{}{}
	}
	recvs, err := e.store.ReceiveAddresses.GetAll(func(r store.ReceiveAddress) bool { return r.AccountID == it.AccountID })
	if err != nil {
		return normalize.Context{}, err
	}
	for _, r := range recvs {
		own[r.Address] = struct{}{}
	}
	addresses := make([]string, 0, len(own))
	for a := range own {
		addresses = append(addresses, a)
	}

	return normalize.Context{
		AccountID:     it.AccountID,
		WalletID:      it.WalletID,
		ChainID:       it.M.ChainID,
		ParentChainID: it.M.ParentChainID,
		OwnAddresses:  addresses,
		Prior: func(hash string, feeRecord bool) (store.Transaction, bool) {
			tx, ok, err := e.store.Transactions.GetOne(func(t store.Transaction) bool {
				return t.AccountID == it.AccountID && t.Hash == hash && t.IsFeeRecord == feeRecord
			})
			if err != nil || !ok {
				return store.Transaction{}, false
			}
			return tx, true
		},
	}, nil
}

// normalizeHistory dispatches the raw page to the normalizer of the coin
// group.
func normalizeHistory(id chain.ID, raw json.RawMessage, nctx normalize.Context, logger *zap.Logger) ([]store.Transaction, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	switch id.Group() {
	case chain.GroupUTXO:
		var raws []normalize.RawUTXOTxn
		if err := json.Unmarshal(raw, &raws); err != nil {
			return nil, fmt.Errorf("%w: %w", syncerr.ErrValidation, err)
		}
		return normalize.UTXO(raws, nctx, logger), nil
	case chain.GroupInstruction:
		var raws []normalize.RawInstructionTxn
		if err := json.Unmarshal(raw, &raws); err != nil {
			return nil, fmt.Errorf("%w: %w", syncerr.ErrValidation, err)
		}
		return normalize.Instruction(raws, nctx, logger), nil
	default:
		var raws []normalize.RawAccountTxn
		if err := json.Unmarshal(raw, &raws); err != nil {
			return nil, fmt.Errorf("%w: %w", syncerr.ErrValidation, err)
		}
		return normalize.Account(raws, nctx, logger), nil
	}
}

// applyCustomAccounts replaces the stored named sub-accounts of an account
// with the server-side set.
func (e *Executor) applyCustomAccounts(it CustomAccountItem, resps []api.Response) error {
	var p customAccountPayload
	if err := decodeOne(resps, &p); err != nil {
		return err
	}
	if _, err := e.store.CustomAccounts.Delete(func(c store.CustomAccount) bool {
		return c.AccountID == it.AccountID && c.ChainID == it.M.ChainID
	}); err != nil {
		return err
	}
	recs := make([]store.CustomAccount, 0, len(p.Accounts))
	for _, name := range p.Accounts {
		recs = append(recs, store.CustomAccount{
			ChainID:   it.M.ChainID,
			WalletID:  it.WalletID,
			AccountID: it.AccountID,
			Name:      name,
		})
	}
	if len(recs) == 0 {
		return nil
	}
	return e.store.CustomAccounts.InsertMany(recs)
}

// StatusResult is the outcome of one status poll.
type StatusResult struct {
	Conclusive    bool
	Status        store.TxnStatus
	Confirmations int
	BlockHeight   int64
}

// CheckStatus polls the chain-side state of one pending transaction. Used
// by the backoff tracker, outside the main batch cycle.
func (e *Executor) CheckStatus(ctx context.Context, it TxnStatusItem) (StatusResult, error) {
	reqs, err := buildRequests(it)
	if err != nil {
		return StatusResult{}, err
	}
	resps, err := e.client.Batch(ctx, reqs)
	if err != nil {
		return StatusResult{}, err
	}
	if failed := firstFailure(resps); failed != nil {
		return StatusResult{}, fmt.Errorf("%w: status poll %d %s",
			syncerr.ErrServerRejected, failed.Code, failed.Message)
	}
	var p statusPayload
	if err := decodeOne(resps, &p); err != nil {
		return StatusResult{}, err
	}
	if !p.IsComplete {
		return StatusResult{}, nil
	}
	status := store.TxnStatus(p.Status)
	switch status {
	case store.TxnSuccess, store.TxnFailure, store.TxnDiscarded:
	default:
		status = store.TxnSuccess
	}
	return StatusResult{
		Conclusive:    true,
		Status:        status,
		Confirmations: p.Confirmations,
		BlockHeight:   p.BlockHeight,
	}, nil
}
