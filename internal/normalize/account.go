package normalize

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kwestra/tidesync/internal/metrics"
	"github.com/kwestra/tidesync/internal/store"
)

// RawAccountTxn is an etherscan-style transaction payload for account-model
// chains. TokenAddress is set for token transfers.
type RawAccountTxn struct {
	Hash          string `json:"hash"`
	From          string `json:"from"`
	To            string `json:"to"`
	Value         string `json:"value"`
	Fees          string `json:"fees"`
	BlockHeight   int64  `json:"blockHeight"`
	Confirmations int    `json:"confirmations"`
	BlockTime     int64  `json:"blockTime"`
	TokenAddress  string `json:"tokenAddress,omitempty"`
}

// Account normalizes raw account-model transactions. Ownership is an exact
// address match against the account's derived address (hex addresses are
// compared checksummed-insensitively). Token transfers additionally
// synthesize a zero-amount fee-only record so fee accounting stays
// denominated in the chain's native asset.
func Account(raws []RawAccountTxn, ctx Context, logger *zap.Logger) []store.Transaction {
	out := make([]store.Transaction, 0, len(raws))

	for _, raw := range raws {
		if raw.Hash == "" || raw.From == "" {
			warnSkip(logger, ctx.ChainID, raw.Hash, "missing hash or sender")
			continue
		}

		value, ok := parseAmount(raw.Value)
		if !ok {
			warnSkip(logger, ctx.ChainID, raw.Hash, "bad value")
			continue
		}
		fees, ok := parseAmount(raw.Fees)
		if !ok {
			warnSkip(logger, ctx.ChainID, raw.Hash, "bad fees")
			continue
		}

		fromMine := ownsHex(ctx, raw.From)
		toMine := ownsHex(ctx, raw.To)
		if !fromMine && !toMine {
			warnSkip(logger, ctx.ChainID, raw.Hash, "transaction does not touch account")
			continue
		}

		direction := store.DirectionReceived
		if fromMine {
			direction = store.DirectionSent
		}

		amount := value
		if fromMine && toMine {
			// Self-transfer: zero amount avoids double counting.
			amount = decimal.Zero
		}

		tx := store.Transaction{
			Hash:          raw.Hash,
			AccountID:     ctx.AccountID,
			WalletID:      ctx.WalletID,
			ChainID:       ctx.ChainID,
			ParentChainID: ctx.ParentChainID,
			Amount:        amount.String(),
			Fees:          fees.String(),
			Total:         amount.Add(fees).String(),
			Confirmations: raw.Confirmations,
			Status:        statusFor(raw.Confirmations),
			Direction:     direction,
			ConfirmedAt:   timeFor(raw.BlockTime),
			BlockHeight:   raw.BlockHeight,
			Inputs: []store.TxnIO{
				{Address: raw.From, Value: raw.Value, Index: 0, IsMine: fromMine},
			},
			Outputs: []store.TxnIO{
				{Address: raw.To, Value: raw.Value, Index: 0, IsMine: toMine},
			},
		}

		isToken := raw.TokenAddress != ""
		if isToken {
			// The token record carries no native fee; the synthesized fee
			// record below accounts for it.
			tx.Fees = "0"
			tx.Total = amount.String()
		}

		mergeOwnership(&tx, ctx)
		out = append(out, tx)

		if isToken && fromMine {
			fee := store.Transaction{
				Hash:          raw.Hash,
				AccountID:     ctx.AccountID,
				WalletID:      ctx.WalletID,
				ChainID:       ctx.ParentChainID,
				Amount:        "0",
				Fees:          fees.String(),
				Total:         fees.String(),
				Confirmations: raw.Confirmations,
				Status:        statusFor(raw.Confirmations),
				Direction:     store.DirectionFees,
				IsFeeRecord:   true,
				ConfirmedAt:   timeFor(raw.BlockTime),
				BlockHeight:   raw.BlockHeight,
			}
			mergeOwnership(&fee, ctx)
			out = append(out, fee)
		}
	}

	metrics.Global.RecordNormalized(len(out))
	return out
}

// ownsHex reports whether the address matches any of the account's own
// addresses, normalizing 0x-hex addresses through their canonical form.
func ownsHex(ctx Context, address string) bool {
	if address == "" {
		return false
	}
	if ctx.isMine(address) {
		return true
	}
	if !common.IsHexAddress(address) {
		return false
	}

	canonical := common.HexToAddress(address)
	for _, own := range ctx.OwnAddresses {
		if common.IsHexAddress(own) && common.HexToAddress(own) == canonical {
			return true
		}
	}
	return false
}
