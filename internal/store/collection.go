package store

import (
	"encoding/json"

	badger "github.com/dgraph-io/badger/v4"

	syncerr "github.com/kwestra/tidesync/pkg/errors"
)

// Collection provides typed CRUD over one record kind. All records of the
// collection share a key prefix in the underlying badger database.
type Collection[T Record] struct {
	db     *badger.DB
	prefix []byte
	events *hub[T]
}

func newCollection[T Record](db *badger.DB, kind string) *Collection[T] {
	return &Collection[T]{
		db:     db,
		prefix: []byte(kind + "/"),
		events: newHub[T](),
	}
}

func (c *Collection[T]) key(rec T) []byte {
	return append(append([]byte{}, c.prefix...), rec.StorageKey()...)
}

// GetAll returns all records matching the filter. A nil filter matches
// everything.
func (c *Collection[T]) GetAll(filter func(T) bool) ([]T, error) {
	var out []T

	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = c.prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(c.prefix); it.ValidForPrefix(c.prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec T
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				if filter == nil || filter(rec) {
					out = append(out, rec)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, syncerr.Wrap(err, "scanning collection")
	}
	return out, nil
}

// GetOne returns the first record matching the filter.
func (c *Collection[T]) GetOne(filter func(T) bool) (T, bool, error) {
	var zero T

	all, err := c.GetAll(filter)
	if err != nil {
		return zero, false, err
	}
	if len(all) == 0 {
		return zero, false, nil
	}
	return all[0], true, nil
}

// Insert stores a record, overwriting any record with the same storage key.
func (c *Collection[T]) Insert(rec T) error {
	if err := c.put(rec); err != nil {
		return err
	}
	c.events.publish(ChangeEvent[T]{Op: OpInsert, Record: rec})
	return nil
}

// InsertMany stores records in a single write transaction.
func (c *Collection[T]) InsertMany(recs []T) error {
	if len(recs) == 0 {
		return nil
	}

	err := c.db.Update(func(txn *badger.Txn) error {
		for _, rec := range recs {
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := txn.Set(c.key(rec), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return syncerr.Wrap(err, "inserting %d records", len(recs))
	}

	for _, rec := range recs {
		c.events.publish(ChangeEvent[T]{Op: OpInsert, Record: rec})
	}
	return nil
}

// FindAndUpdate applies patch to every record matching the filter and
// persists the result. Returns the number of records updated.
func (c *Collection[T]) FindAndUpdate(filter func(T) bool, patch func(T) T) (int, error) {
	matched, err := c.GetAll(filter)
	if err != nil {
		return 0, err
	}

	updated := make([]T, 0, len(matched))
	err = c.db.Update(func(txn *badger.Txn) error {
		for _, rec := range matched {
			next := patch(rec)
			data, marshalErr := json.Marshal(next)
			if marshalErr != nil {
				return marshalErr
			}
			// A patch that changes the storage key replaces the old record.
			if next.StorageKey() != rec.StorageKey() {
				if delErr := txn.Delete(c.key(rec)); delErr != nil {
					return delErr
				}
			}
			if setErr := txn.Set(c.key(next), data); setErr != nil {
				return setErr
			}
			updated = append(updated, next)
		}
		return nil
	})
	if err != nil {
		return 0, syncerr.Wrap(err, "updating records")
	}

	for _, rec := range updated {
		c.events.publish(ChangeEvent[T]{Op: OpUpdate, Record: rec})
	}
	return len(updated), nil
}

// Delete removes every record matching the filter. Returns the number of
// records removed.
func (c *Collection[T]) Delete(filter func(T) bool) (int, error) {
	matched, err := c.GetAll(filter)
	if err != nil {
		return 0, err
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		for _, rec := range matched {
			if delErr := txn.Delete(c.key(rec)); delErr != nil {
				return delErr
			}
		}
		return nil
	})
	if err != nil {
		return 0, syncerr.Wrap(err, "deleting records")
	}

	for _, rec := range matched {
		c.events.publish(ChangeEvent[T]{Op: OpDelete, Record: rec})
	}
	return len(matched), nil
}

// Watch subscribes to change events on this collection. The returned cancel
// function must be called to release the subscription.
func (c *Collection[T]) Watch(buffer int) (<-chan ChangeEvent[T], func()) {
	return c.events.subscribe(buffer)
}

func (c *Collection[T]) put(rec T) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return syncerr.Wrap(err, "encoding record")
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(c.key(rec), data)
	})
	return syncerr.Wrap(err, "writing record")
}
