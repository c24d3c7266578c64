// Package store provides the local persistent record store backing the sync
// engine: accounts, transactions, price history, custom accounts and receive
// addresses, each with structural-filter CRUD and change notifications.
package store

import (
	"os"

	badger "github.com/dgraph-io/badger/v4"

	syncerr "github.com/kwestra/tidesync/pkg/errors"
)

// Store bundles one collection per record kind over a shared badger database.
type Store struct {
	db *badger.DB

	Accounts         *Collection[Account]
	Transactions     *Collection[Transaction]
	Prices           *Collection[PriceHistory]
	LatestPrices     *Collection[LatestPrice]
	CustomAccounts   *Collection[CustomAccount]
	ReceiveAddresses *Collection[ReceiveAddress]
}

// Open opens (creating if needed) the store at the given directory.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, syncerr.Wrap(err, "creating store directory")
	}

	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, syncerr.Wrap(err, "opening store")
	}
	return wrap(db), nil
}

// OpenInMemory opens an ephemeral store. Used by tests and dry runs.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, syncerr.Wrap(err, "opening in-memory store")
	}
	return wrap(db), nil
}

func wrap(db *badger.DB) *Store {
	return &Store{
		db:               db,
		Accounts:         newCollection[Account](db, "account"),
		Transactions:     newCollection[Transaction](db, "txn"),
		Prices:           newCollection[PriceHistory](db, "price"),
		LatestPrices:     newCollection[LatestPrice](db, "latest"),
		CustomAccounts:   newCollection[CustomAccount](db, "custom"),
		ReceiveAddresses: newCollection[ReceiveAddress](db, "recv"),
	}
}

// Close closes the underlying database and all watch channels.
func (s *Store) Close() error {
	s.Accounts.events.closeAll()
	s.Transactions.events.closeAll()
	s.Prices.events.closeAll()
	s.LatestPrices.events.closeAll()
	s.CustomAccounts.events.closeAll()
	s.ReceiveAddresses.events.closeAll()
	return s.db.Close()
}

// PrunePriceHistory drops price points older than the window they belong to.
// Returns the number of history records rewritten.
func (s *Store) PrunePriceHistory(nowMillis int64) (int, error) {
	return s.Prices.FindAndUpdate(nil, func(p PriceHistory) PriceHistory {
		windowMillis := int64(p.Days) * 24 * 60 * 60 * 1000
		cutoff := nowMillis - windowMillis

		kept := p.Points[:0]
		for _, pt := range p.Points {
			if pt.Timestamp >= cutoff {
				kept = append(kept, pt)
			}
		}
		p.Points = kept
		return p
	})
}
