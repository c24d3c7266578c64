package normalize_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kwestra/tidesync/internal/chain"
	"github.com/kwestra/tidesync/internal/normalize"
	"github.com/kwestra/tidesync/internal/store"
)

func utxoContext() normalize.Context {
	return normalize.Context{
		AccountID:    "w1-btc-0",
		WalletID:     "w1",
		ChainID:      chain.BTC,
		OwnAddresses: []string{"bc1qmine1", "bc1qmine2"},
	}
}

func TestUTXO_Received(t *testing.T) {
	raws := []normalize.RawUTXOTxn{{
		TxID:          "tx1",
		Confirmations: 2,
		BlockHeight:   800000,
		Fees:          "200",
		Inputs: []normalize.RawUTXOIO{
			{Addresses: []string{"bc1qother"}, Value: "10200", Index: 0},
		},
		Outputs: []normalize.RawUTXOIO{
			{Addresses: []string{"bc1qmine1"}, Value: "10000", Index: 0},
		},
	}}

	txs := normalize.UTXO(raws, utxoContext(), zap.NewNop())
	require.Len(t, txs, 1)

	tx := txs[0]
	assert.Equal(t, store.DirectionReceived, tx.Direction)
	assert.Equal(t, "10000", tx.Amount)
	assert.Equal(t, store.TxnSuccess, tx.Status)
	assert.True(t, tx.Outputs[0].IsMine)
	assert.False(t, tx.Inputs[0].IsMine)
}

func TestUTXO_SentAddsFeesBack(t *testing.T) {
	raws := []normalize.RawUTXOTxn{{
		TxID: "tx2",
		Fees: "300",
		Inputs: []normalize.RawUTXOIO{
			{Addresses: []string{"bc1qmine1"}, Value: "50000", Index: 0},
		},
		Outputs: []normalize.RawUTXOIO{
			{Addresses: []string{"bc1qother"}, Value: "40000", Index: 0},
			{Addresses: []string{"bc1qmine2"}, Value: "9700", Index: 1}, // change
		},
	}}

	txs := normalize.UTXO(raws, utxoContext(), zap.NewNop())
	require.Len(t, txs, 1)

	tx := txs[0]
	assert.Equal(t, store.DirectionSent, tx.Direction)
	// Net owned outflow is 40300 (50000 in, 9700 change back); amount shown
	// without the 300 fee.
	assert.Equal(t, "40000", tx.Amount)
	assert.Equal(t, "40300", tx.Total)
	assert.Equal(t, store.TxnPending, tx.Status)
}

func TestUTXO_OwnershipMergeNeverRetracts(t *testing.T) {
	ctx := utxoContext()

	first := normalize.UTXO([]normalize.RawUTXOTxn{{
		TxID: "tx3",
		Fees: "100",
		Inputs: []normalize.RawUTXOIO{
			{Addresses: []string{"bc1qmine1"}, Value: "5000", Index: 0},
		},
		Outputs: []normalize.RawUTXOIO{
			{Addresses: []string{"bc1qother"}, Value: "4900", Index: 0},
		},
	}}, ctx, zap.NewNop())
	require.Len(t, first, 1)
	require.True(t, first[0].Inputs[0].IsMine)

	// Second pass: the API omits address data for input 0.
	ctx.Prior = func(hash string, feeRecord bool) (store.Transaction, bool) {
		if hash == "tx3" && !feeRecord {
			return first[0], true
		}
		return store.Transaction{}, false
	}

	second := normalize.UTXO([]normalize.RawUTXOTxn{{
		TxID: "tx3",
		Fees: "100",
		Inputs: []normalize.RawUTXOIO{
			{Addresses: nil, Value: "5000", Index: 0},
		},
		Outputs: []normalize.RawUTXOIO{
			{Addresses: []string{"bc1qother"}, Value: "4900", Index: 0},
		},
	}}, ctx, zap.NewNop())
	require.Len(t, second, 1)

	assert.True(t, second[0].Inputs[0].IsMine, "isMine must survive a partial view")
	assert.Equal(t, store.DirectionSent, second[0].Direction)
	assert.Equal(t, "4900", second[0].Amount)
}

func TestUTXO_MergeIdempotent(t *testing.T) {
	ctx := utxoContext()
	raw := normalize.RawUTXOTxn{
		TxID: "tx4",
		Fees: "10",
		Inputs: []normalize.RawUTXOIO{
			{Addresses: []string{"bc1qother"}, Value: "800", Index: 0},
		},
		Outputs: []normalize.RawUTXOIO{
			{Addresses: []string{"bc1qmine1"}, Value: "790", Index: 0},
		},
	}

	first := normalize.UTXO([]normalize.RawUTXOTxn{raw}, ctx, zap.NewNop())
	require.Len(t, first, 1)

	ctx.Prior = func(string, bool) (store.Transaction, bool) { return first[0], true }
	second := normalize.UTXO([]normalize.RawUTXOTxn{raw}, ctx, zap.NewNop())
	require.Len(t, second, 1)

	assert.Equal(t, first[0].Amount, second[0].Amount)
	assert.Equal(t, first[0].Outputs[0].IsMine, second[0].Outputs[0].IsMine)
}

func TestUTXO_SkipsMalformed(t *testing.T) {
	raws := []normalize.RawUTXOTxn{
		{TxID: "", Fees: "1"},       // missing txid
		{TxID: "ok", Fees: "bogus"}, // bad fees
		{
			TxID:    "good",
			Fees:    "0",
			Outputs: []normalize.RawUTXOIO{{Addresses: []string{"bc1qmine1"}, Value: "1", Index: 0}},
		},
	}

	txs := normalize.UTXO(raws, utxoContext(), zap.NewNop())
	require.Len(t, txs, 1)
	assert.Equal(t, "good", txs[0].Hash)
}
