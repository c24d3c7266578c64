// Package normalize converts chain-specific API payloads into canonical
// transaction records. Each coin group has its own entry point; all of them
// skip malformed records with a warning instead of failing the batch.
package normalize

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kwestra/tidesync/internal/chain"
	"github.com/kwestra/tidesync/internal/metrics"
	"github.com/kwestra/tidesync/internal/store"
)

// Context identifies the account a payload belongs to and the address set
// used for ownership detection.
type Context struct {
	AccountID     string
	WalletID      string
	ChainID       chain.ID
	ParentChainID chain.ID

	// OwnAddresses is the account's known address set: derived addresses
	// unioned with addresses already recorded as mine for the account.
	OwnAddresses []string

	// Prior returns the previously stored record for a hash and role, used
	// to merge ownership flags forward. May be nil.
	Prior func(hash string, feeRecord bool) (store.Transaction, bool)
}

func (c Context) isMine(address string) bool {
	for _, own := range c.OwnAddresses {
		if own == address {
			return true
		}
	}
	return false
}

func (c Context) prior(hash string, feeRecord bool) (store.Transaction, bool) {
	if c.Prior == nil {
		return store.Transaction{}, false
	}
	return c.Prior(hash, feeRecord)
}

// statusFor maps a confirmation count to a transaction status.
func statusFor(confirmations int) store.TxnStatus {
	if confirmations > 0 {
		return store.TxnSuccess
	}
	return store.TxnPending
}

// timeFor converts a unix-seconds block time, zero-valued when absent.
func timeFor(unixSeconds int64) time.Time {
	if unixSeconds == 0 {
		return time.Time{}
	}
	return time.Unix(unixSeconds, 0).UTC()
}

// parseAmount parses a decimal string, reporting ok=false for garbage.
// Empty strings parse as zero: several upstream APIs omit zero fields.
func parseAmount(s string) (decimal.Decimal, bool) {
	if s == "" {
		return decimal.Zero, true
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// mergeOwnership carries isMine flags forward from a previously stored
// record: ownership, once detected, is never un-set by a later partial view.
func mergeOwnership(tx *store.Transaction, ctx Context) {
	prior, ok := ctx.prior(tx.Hash, tx.IsFeeRecord)
	if !ok {
		return
	}

	for _, pin := range prior.Inputs {
		if !pin.IsMine {
			continue
		}
		for i := range tx.Inputs {
			if tx.Inputs[i].Index == pin.Index {
				tx.Inputs[i].IsMine = true
			}
		}
	}
	for _, pout := range prior.Outputs {
		if !pout.IsMine {
			continue
		}
		for i := range tx.Outputs {
			if tx.Outputs[i].Index == pout.Index {
				tx.Outputs[i].IsMine = true
			}
		}
	}
}

func warnSkip(logger *zap.Logger, chainID chain.ID, hash, reason string) {
	metrics.Global.RecordSkipped(1)
	logger.Warn("skipping malformed transaction",
		zap.String("chain", chainID.String()),
		zap.String("hash", hash),
		zap.String("reason", reason))
}
