// Package sync implements the synchronization core: typed work items, the
// deduplicated work queue, the batch executor, the fixed-interval scheduler
// and the pending-transaction backoff tracker.
package sync

import (
	"fmt"
	"time"

	"github.com/kwestra/tidesync/internal/chain"
)

// Kind identifies a sync item variant.
type Kind string

// Item kinds.
const (
	KindBalance       Kind = "balance"
	KindHistory       Kind = "history"
	KindPrice         Kind = "price"
	KindLatestPrice   Kind = "latestPrice"
	KindCustomAccount Kind = "customAccount"
	KindTxnStatus     Kind = "txnStatus"
)

// Class separates items by transport class: ordinary batched requests versus
// the rate-limited "client" request class.
type Class int

// Request classes.
const (
	ClassOrdinary Class = iota
	ClassClient
)

// Meta carries the fields shared by every sync item variant. Items are
// immutable by convention: state advances by replacing an item with an
// updated copy, never by mutating one in place.
type Meta struct {
	ChainID       chain.ID
	ParentChainID chain.ID // set for token-like assets
	Module        string   // opaque requester tag
	Refresh       bool     // bypass freshness checks
	Retries       int
}

// Item is a unit of pending synchronization work for one coin/account/purpose.
type Item interface {
	Kind() Kind
	Meta() Meta
	// WithRetries returns a copy of the item with the retry counter set.
	WithRetries(n int) Item
}

// ClassOf returns the transport class of an item. Price lookups go through
// the rate-limited client class; everything else is ordinary.
func ClassOf(it Item) Class {
	switch it.Kind() {
	case KindPrice, KindLatestPrice:
		return ClassClient
	default:
		return ClassOrdinary
	}
}

// BalanceItem requests a balance refresh for one account.
type BalanceItem struct {
	M             Meta
	AccountID     string
	WalletID      string
	Address       string // account-model chains
	XPub          string // utxo chains
	SecondaryXPub string // dual-derivation utxo accounts
}

// Kind returns KindBalance.
func (i BalanceItem) Kind() Kind { return KindBalance }

// Meta returns the shared item fields.
func (i BalanceItem) Meta() Meta { return i.M }

// WithRetries returns a copy with the retry counter set.
func (i BalanceItem) WithRetries(n int) Item {
	i.M.Retries = n
	return i
}

// HistoryCursor is the resumption point carried on a history item across
// cycles. Shape depends on coin group: page/afterBlock for utxo and account
// chains, afterHash/beforeHash for instruction chains, afterTokenBlock for
// token sub-histories.
type HistoryCursor struct {
	Page            int
	AfterBlock      int64
	AfterHash       string
	BeforeHash      string
	AfterTokenBlock int64
}

// Zero reports whether the cursor is at its starting position.
func (c HistoryCursor) Zero() bool {
	return c == HistoryCursor{}
}

// HistoryItem requests transaction history for one account, resumable via
// its cursor.
type HistoryItem struct {
	M             Meta
	AccountID     string
	WalletID      string
	Address       string
	XPub          string
	SecondaryXPub string
	Cursor        HistoryCursor
}

// Kind returns KindHistory.
func (i HistoryItem) Kind() Kind { return KindHistory }

// Meta returns the shared item fields.
func (i HistoryItem) Meta() Meta { return i.M }

// WithRetries returns a copy with the retry counter set.
func (i HistoryItem) WithRetries(n int) Item {
	i.M.Retries = n
	return i
}

// WithCursor returns a copy with the cursor advanced.
func (i HistoryItem) WithCursor(c HistoryCursor) HistoryItem {
	i.Cursor = c
	return i
}

// PriceItem requests a historical price window for one coin.
type PriceItem struct {
	M    Meta
	Days int // 7, 30 or 365
}

// Kind returns KindPrice.
func (i PriceItem) Kind() Kind { return KindPrice }

// Meta returns the shared item fields.
func (i PriceItem) Meta() Meta { return i.M }

// WithRetries returns a copy with the retry counter set.
func (i PriceItem) WithRetries(n int) Item {
	i.M.Retries = n
	return i
}

// LatestPriceItem requests the current spot price for one coin.
type LatestPriceItem struct {
	M Meta
}

// Kind returns KindLatestPrice.
func (i LatestPriceItem) Kind() Kind { return KindLatestPrice }

// Meta returns the shared item fields.
func (i LatestPriceItem) Meta() Meta { return i.M }

// WithRetries returns a copy with the retry counter set.
func (i LatestPriceItem) WithRetries(n int) Item {
	i.M.Retries = n
	return i
}

// CustomAccountItem requests the named sub-accounts registered for an
// account on chains with human-readable implicit accounts.
type CustomAccountItem struct {
	M         Meta
	WalletID  string
	AccountID string
}

// Kind returns KindCustomAccount.
func (i CustomAccountItem) Kind() Kind { return KindCustomAccount }

// Meta returns the shared item fields.
func (i CustomAccountItem) Meta() Meta { return i.M }

// WithRetries returns a copy with the retry counter set.
func (i CustomAccountItem) WithRetries(n int) Item {
	i.M.Retries = n
	return i
}

// TxnStatusItem polls the status of one pending transaction, spaced by
// per-item exponential backoff.
type TxnStatusItem struct {
	M             Meta
	Hash          string
	Sender        string // needed by account-model chains
	AccountID     string
	WalletID      string
	BackoffFactor int
	BackoffTime   time.Duration
}

// Kind returns KindTxnStatus.
func (i TxnStatusItem) Kind() Kind { return KindTxnStatus }

// Meta returns the shared item fields.
func (i TxnStatusItem) Meta() Meta { return i.M }

// WithRetries returns a copy with the retry counter set.
func (i TxnStatusItem) WithRetries(n int) Item {
	i.M.Retries = n
	return i
}

// Equal reports whether two items are duplicates: same variant and same
// distinguishing key. History and balance items key on the stable account
// identifier rather than any derived name.
func Equal(a, b Item) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	if a.Meta().ChainID != b.Meta().ChainID || a.Meta().ParentChainID != b.Meta().ParentChainID {
		return false
	}

	switch x := a.(type) {
	case BalanceItem:
		y := b.(BalanceItem)
		return x.AccountID == y.AccountID
	case HistoryItem:
		y := b.(HistoryItem)
		return x.AccountID == y.AccountID
	case PriceItem:
		y := b.(PriceItem)
		return x.Days == y.Days
	case LatestPriceItem:
		return true
	case CustomAccountItem:
		y := b.(CustomAccountItem)
		return x.AccountID == y.AccountID
	case TxnStatusItem:
		y := b.(TxnStatusItem)
		return x.Hash == y.Hash
	default:
		return false
	}
}

// Key returns a stable identity string for an item, built from the same
// fields Equal compares on.
func Key(it Item) string {
	m := it.Meta()
	prefix := fmt.Sprintf("%s:%s:%s", it.Kind(), m.ChainID, m.ParentChainID)

	switch x := it.(type) {
	case BalanceItem:
		return prefix + ":" + x.AccountID
	case HistoryItem:
		return prefix + ":" + x.AccountID
	case PriceItem:
		return fmt.Sprintf("%s:%d", prefix, x.Days)
	case LatestPriceItem:
		return prefix
	case CustomAccountItem:
		return prefix + ":" + x.AccountID
	case TxnStatusItem:
		return prefix + ":" + x.Hash
	default:
		return prefix
	}
}
