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

const ownEthAddress = "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"

func accountContext() normalize.Context {
	return normalize.Context{
		AccountID:    "w1-eth-0",
		WalletID:     "w1",
		ChainID:      chain.ETH,
		OwnAddresses: []string{ownEthAddress},
	}
}

func TestAccount_Received(t *testing.T) {
	raws := []normalize.RawAccountTxn{{
		Hash:          "0xh1",
		From:          "0x1111111111111111111111111111111111111111",
		To:            ownEthAddress,
		Value:         "2000000000000000000",
		Fees:          "21000000000000",
		Confirmations: 12,
	}}

	txs := normalize.Account(raws, accountContext(), zap.NewNop())
	require.Len(t, txs, 1)

	tx := txs[0]
	assert.Equal(t, store.DirectionReceived, tx.Direction)
	assert.Equal(t, "2000000000000000000", tx.Amount)
	assert.True(t, tx.Outputs[0].IsMine)
	assert.False(t, tx.Inputs[0].IsMine)
}

func TestAccount_CaseInsensitiveOwnership(t *testing.T) {
	raws := []normalize.RawAccountTxn{{
		Hash:  "0xh2",
		From:  "0xab5801a7d398351b8be11c439e05c5b3259aec9b", // lowercased own address
		To:    "0x2222222222222222222222222222222222222222",
		Value: "100",
		Fees:  "10",
	}}

	txs := normalize.Account(raws, accountContext(), zap.NewNop())
	require.Len(t, txs, 1)
	assert.Equal(t, store.DirectionSent, txs[0].Direction)
	assert.True(t, txs[0].Inputs[0].IsMine)
}

func TestAccount_SelfTransferZeroAmount(t *testing.T) {
	raws := []normalize.RawAccountTxn{{
		Hash:  "0xh3",
		From:  ownEthAddress,
		To:    ownEthAddress,
		Value: "500",
		Fees:  "10",
	}}

	txs := normalize.Account(raws, accountContext(), zap.NewNop())
	require.Len(t, txs, 1)
	assert.Equal(t, "0", txs[0].Amount)
	assert.Equal(t, store.DirectionSent, txs[0].Direction)
}

func TestAccount_TokenTransferSynthesizesFeeRecord(t *testing.T) {
	ctx := accountContext()
	ctx.ChainID = chain.ETH
	ctx.ParentChainID = chain.ETH

	raws := []normalize.RawAccountTxn{{
		Hash:         "0xh4",
		From:         ownEthAddress,
		To:           "0x3333333333333333333333333333333333333333",
		Value:        "1000000", // token units
		Fees:         "420000000000000",
		TokenAddress: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
	}}

	txs := normalize.Account(raws, ctx, zap.NewNop())
	require.Len(t, txs, 2)

	transfer, fee := txs[0], txs[1]
	assert.False(t, transfer.IsFeeRecord)
	assert.Equal(t, "1000000", transfer.Amount)
	assert.Equal(t, "0", transfer.Fees, "token record carries no native fee")

	assert.True(t, fee.IsFeeRecord)
	assert.Equal(t, store.DirectionFees, fee.Direction)
	assert.Equal(t, "0", fee.Amount)
	assert.Equal(t, "420000000000000", fee.Fees)
	assert.Equal(t, chain.ETH, fee.ChainID)
}

func TestAccount_TokenReceiveHasNoFeeRecord(t *testing.T) {
	raws := []normalize.RawAccountTxn{{
		Hash:         "0xh5",
		From:         "0x4444444444444444444444444444444444444444",
		To:           ownEthAddress,
		Value:        "99",
		Fees:         "1",
		TokenAddress: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
	}}

	txs := normalize.Account(raws, accountContext(), zap.NewNop())
	require.Len(t, txs, 1)
	assert.False(t, txs[0].IsFeeRecord)
}

func TestAccount_SkipsIrrelevantAndMalformed(t *testing.T) {
	raws := []normalize.RawAccountTxn{
		{Hash: "", From: "0x1", Value: "1"}, // missing hash
		{Hash: "0xh6", From: "0x5555555555555555555555555555555555555555",
			To: "0x6666666666666666666666666666666666666666", Value: "1", Fees: "1"}, // not ours
		{Hash: "0xh7", From: ownEthAddress, To: "0x7", Value: "nope", Fees: "1"}, // bad value
	}

	txs := normalize.Account(raws, accountContext(), zap.NewNop())
	assert.Empty(t, txs)
}
