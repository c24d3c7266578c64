package sync

import (
	"github.com/kwestra/tidesync/internal/chain"
	"github.com/kwestra/tidesync/internal/store"
)

// Price windows kept per coin.
var PriceWindows = []int{7, 30, 365}

// AccountItems builds the full sync set for one account: balance, history,
// and named sub-accounts where the chain supports them. The module tag lets
// callers wait for the whole set to drain.
func AccountItems(acct store.Account, module string, refresh bool) []Item {
	meta := Meta{
		ChainID:       acct.ChainID,
		ParentChainID: acct.ParentChainID,
		Module:        module,
		Refresh:       refresh,
	}

	items := []Item{
		BalanceItem{
			M:             meta,
			AccountID:     acct.ID,
			WalletID:      acct.WalletID,
			Address:       acct.Address,
			XPub:          acct.XPub,
			SecondaryXPub: acct.SecondaryXPub,
		},
		HistoryItem{
			M:             meta,
			AccountID:     acct.ID,
			WalletID:      acct.WalletID,
			Address:       acct.Address,
			XPub:          acct.XPub,
			SecondaryXPub: acct.SecondaryXPub,
		},
	}

	if acct.ChainID.SupportsNamedAccounts() {
		items = append(items, CustomAccountItem{
			M:         meta,
			WalletID:  acct.WalletID,
			AccountID: acct.ID,
		})
	}
	return items
}

// PriceItems builds the price sync set for one coin: one historical window
// item per kept window plus the spot price. All are client-class.
func PriceItems(id chain.ID, module string) []Item {
	meta := Meta{ChainID: id, Module: module}
	items := make([]Item, 0, len(PriceWindows)+1)
	for _, days := range PriceWindows {
		items = append(items, PriceItem{M: meta, Days: days})
	}
	return append(items, LatestPriceItem{M: meta})
}

// ResyncItems builds the periodic full-resync set: every tracked account
// plus prices for every chain that has one.
func ResyncItems(accounts []store.Account, module string) []Item {
	var items []Item
	seen := map[chain.ID]bool{}
	for _, acct := range accounts {
		items = append(items, AccountItems(acct, module, false)...)
		if !seen[acct.ChainID] {
			seen[acct.ChainID] = true
			items = append(items, PriceItems(acct.ChainID, module)...)
		}
	}
	return items
}

// RefreshOnResolve returns a tracker callback that re-syncs the balance and
// history of the account whose pending transaction just resolved.
func RefreshOnResolve(queue *Queue, st *store.Store, scheduler *Scheduler) StatusCompleteFunc {
	return func(item TxnStatusItem, _ StatusResult) {
		acct, ok, err := st.Accounts.GetOne(func(a store.Account) bool { return a.ID == item.AccountID })
		if err != nil || !ok {
			return
		}
		queue.AddMany(AccountItems(acct, "txn:"+item.Hash, true))
		if scheduler != nil {
			scheduler.Kick()
		}
	}
}
