package normalize

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kwestra/tidesync/internal/metrics"
	"github.com/kwestra/tidesync/internal/store"
)

// RawUTXOTxn is a blockbook-style transaction payload for input/output
// model chains.
type RawUTXOTxn struct {
	TxID          string      `json:"txid"`
	BlockHeight   int64       `json:"blockHeight"`
	Confirmations int         `json:"confirmations"`
	BlockTime     int64       `json:"blockTime"`
	Fees          string      `json:"fees"`
	Inputs        []RawUTXOIO `json:"vin"`
	Outputs       []RawUTXOIO `json:"vout"`
}

// RawUTXOIO is one side entry of a raw UTXO transaction. Addresses may be
// empty when the API omits address data for an input.
type RawUTXOIO struct {
	Addresses []string `json:"addresses"`
	Value     string   `json:"value"`
	Index     int      `json:"n"`
}

// UTXO normalizes raw input/output model transactions. The net signed amount
// is the sum of owned outputs minus owned inputs: positive net is a receive,
// negative net is a send with fees added back to the displayed amount.
func UTXO(raws []RawUTXOTxn, ctx Context, logger *zap.Logger) []store.Transaction {
	out := make([]store.Transaction, 0, len(raws))

	for _, raw := range raws {
		if raw.TxID == "" {
			warnSkip(logger, ctx.ChainID, "", "missing txid")
			continue
		}

		fees, ok := parseAmount(raw.Fees)
		if !ok {
			warnSkip(logger, ctx.ChainID, raw.TxID, "bad fees")
			continue
		}

		tx, ok := buildUTXO(raw, fees, ctx, logger)
		if !ok {
			continue
		}

		mergeOwnership(&tx, ctx)
		recomputeUTXOAmounts(&tx, fees)
		out = append(out, tx)
	}

	metrics.Global.RecordNormalized(len(out))
	return out
}

func buildUTXO(raw RawUTXOTxn, fees decimal.Decimal, ctx Context, logger *zap.Logger) (store.Transaction, bool) {
	tx := store.Transaction{
		Hash:          raw.TxID,
		AccountID:     ctx.AccountID,
		WalletID:      ctx.WalletID,
		ChainID:       ctx.ChainID,
		Fees:          fees.String(),
		Confirmations: raw.Confirmations,
		Status:        statusFor(raw.Confirmations),
		ConfirmedAt:   timeFor(raw.BlockTime),
		BlockHeight:   raw.BlockHeight,
	}

	for _, in := range raw.Inputs {
		io, ok := buildIO(in, ctx)
		if !ok {
			warnSkip(logger, ctx.ChainID, raw.TxID, "bad input value")
			return store.Transaction{}, false
		}
		tx.Inputs = append(tx.Inputs, io)
	}
	for _, o := range raw.Outputs {
		io, ok := buildIO(o, ctx)
		if !ok {
			warnSkip(logger, ctx.ChainID, raw.TxID, "bad output value")
			return store.Transaction{}, false
		}
		tx.Outputs = append(tx.Outputs, io)
	}

	return tx, true
}

func buildIO(raw RawUTXOIO, ctx Context) (store.TxnIO, bool) {
	if _, ok := parseAmount(raw.Value); !ok {
		return store.TxnIO{}, false
	}

	address := ""
	if len(raw.Addresses) > 0 {
		address = raw.Addresses[0]
	}

	return store.TxnIO{
		Address: address,
		Value:   raw.Value,
		Index:   raw.Index,
		IsMine:  address != "" && ctx.isMine(address),
	}, true
}

// recomputeUTXOAmounts derives amount, total and direction from the merged
// ownership flags. Runs after the prior-record merge so a restored isMine
// flag on an address-less input still counts toward the owned sums.
func recomputeUTXOAmounts(tx *store.Transaction, fees decimal.Decimal) {
	var inMine, outMine decimal.Decimal
	for _, in := range tx.Inputs {
		if in.IsMine {
			v, _ := parseAmount(in.Value)
			inMine = inMine.Add(v)
		}
	}
	for _, o := range tx.Outputs {
		if o.IsMine {
			v, _ := parseAmount(o.Value)
			outMine = outMine.Add(v)
		}
	}

	net := outMine.Sub(inMine)
	switch {
	case net.Sign() >= 0:
		tx.Direction = store.DirectionReceived
		tx.Amount = net.String()
		tx.Total = net.String()
	default:
		// Sent: display the amount without the fee, total with it.
		sent := net.Neg().Sub(fees)
		if sent.Sign() < 0 {
			sent = decimal.Zero
		}
		tx.Direction = store.DirectionSent
		tx.Amount = sent.String()
		tx.Total = net.Neg().String()
	}
}
