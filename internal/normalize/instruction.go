package normalize

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kwestra/tidesync/internal/metrics"
	"github.com/kwestra/tidesync/internal/store"
)

// RawInstructionTxn is a transaction payload for multi-instruction chains:
// one chain transaction decomposes into any number of instructions, each of
// which may yield its own canonical record.
type RawInstructionTxn struct {
	Hash          string           `json:"hash"`
	Fees          string           `json:"fees"`
	Slot          int64            `json:"slot"`
	Confirmations int              `json:"confirmations"`
	BlockTime     int64            `json:"blockTime"`
	Instructions  []RawInstruction `json:"instructions"`
}

// RawInstruction is one decoded instruction of a transaction.
type RawInstruction struct {
	Type        string `json:"type"` // only "transfer" is relevant
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
}

// Instruction normalizes raw multi-instruction transactions. Each relevant
// instruction becomes an independently direction-classified record;
// self-transfers are recorded with zero amount to avoid double counting.
func Instruction(raws []RawInstructionTxn, ctx Context, logger *zap.Logger) []store.Transaction {
	var out []store.Transaction

	for _, raw := range raws {
		if raw.Hash == "" {
			warnSkip(logger, ctx.ChainID, "", "missing hash")
			continue
		}

		fees, ok := parseAmount(raw.Fees)
		if !ok {
			warnSkip(logger, ctx.ChainID, raw.Hash, "bad fees")
			continue
		}

		relevant := 0
		for _, ins := range raw.Instructions {
			if ins.Type != "transfer" {
				continue
			}

			amount, ok := parseAmount(ins.Amount)
			if !ok {
				warnSkip(logger, ctx.ChainID, raw.Hash, "bad instruction amount")
				continue
			}

			srcMine := ctx.isMine(ins.Source)
			dstMine := ctx.isMine(ins.Destination)
			if !srcMine && !dstMine {
				continue
			}

			direction := store.DirectionReceived
			if srcMine {
				direction = store.DirectionSent
			}
			if srcMine && dstMine {
				amount = decimal.Zero
			}

			tx := store.Transaction{
				// Suffix the hash per instruction so each record keeps its
				// own row while remaining traceable to the chain txn.
				Hash:          instructionHash(raw.Hash, relevant),
				AccountID:     ctx.AccountID,
				WalletID:      ctx.WalletID,
				ChainID:       ctx.ChainID,
				Amount:        amount.String(),
				Fees:          fees.String(),
				Total:         amount.Add(fees).String(),
				Confirmations: raw.Confirmations,
				Status:        statusFor(raw.Confirmations),
				Direction:     direction,
				ConfirmedAt:   timeFor(raw.BlockTime),
				BlockHeight:   raw.Slot,
				Inputs: []store.TxnIO{
					{Address: ins.Source, Value: ins.Amount, Index: 0, IsMine: srcMine},
				},
				Outputs: []store.TxnIO{
					{Address: ins.Destination, Value: ins.Amount, Index: 0, IsMine: dstMine},
				},
			}
			mergeOwnership(&tx, ctx)
			out = append(out, tx)
			relevant++
		}
	}

	metrics.Global.RecordNormalized(len(out))
	return out
}

func instructionHash(hash string, index int) string {
	if index == 0 {
		return hash
	}
	return fmt.Sprintf("%s#%d", hash, index)
}
