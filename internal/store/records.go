package store

import (
	"fmt"
	"time"

	"github.com/kwestra/tidesync/internal/chain"
)

// Record is implemented by every persisted record kind.
type Record interface {
	// StorageKey uniquely identifies the record within its collection.
	StorageKey() string
}

// TxnStatus is the chain-side status of a transaction.
type TxnStatus string

// Transaction statuses.
const (
	TxnPending   TxnStatus = "pending"
	TxnSuccess   TxnStatus = "success"
	TxnFailure   TxnStatus = "failure"
	TxnDiscarded TxnStatus = "discarded"
)

// TxnDirection classifies a transaction relative to the owning account.
type TxnDirection string

// Transaction directions.
const (
	DirectionSent     TxnDirection = "sent"
	DirectionReceived TxnDirection = "received"
	DirectionFees     TxnDirection = "fees"
)

// TxnIO is a single input or output of a transaction.
type TxnIO struct {
	Address string `json:"address"`
	Value   string `json:"value"` // decimal string in smallest units
	Index   int    `json:"index"`
	IsMine  bool   `json:"isMine"`
}

// Transaction is the canonical chain-agnostic transaction record.
// Amounts are decimal strings to avoid floating-point error.
type Transaction struct {
	Hash          string       `json:"hash"`
	AccountID     string       `json:"accountId"`
	WalletID      string       `json:"walletId"`
	ChainID       chain.ID     `json:"chainId"`
	ParentChainID chain.ID     `json:"parentChainId,omitempty"`
	Amount        string       `json:"amount"`
	Fees          string       `json:"fees"`
	Total         string       `json:"total"`
	Confirmations int          `json:"confirmations"`
	Status        TxnStatus    `json:"status"`
	Direction     TxnDirection `json:"direction"`
	IsFeeRecord   bool         `json:"isFeeRecord"` // synthesized fee-only record for token transfers
	ConfirmedAt   time.Time    `json:"confirmedAt,omitempty"`
	BlockHeight   int64        `json:"blockHeight"`
	Inputs        []TxnIO      `json:"inputs,omitempty"`
	Outputs       []TxnIO      `json:"outputs,omitempty"`
}

// StorageKey keys a transaction by account, hash and role: for a given
// hash and account there is at most one main record and one fee record.
func (t Transaction) StorageKey() string {
	role := "main"
	if t.IsFeeRecord {
		role = "fee"
	}
	return fmt.Sprintf("%s:%s:%s:%s", t.ChainID, t.AccountID, t.Hash, role)
}

// Account is a locally-tracked account on one chain.
type Account struct {
	ID            string   `json:"id"` // stable account identifier
	WalletID      string   `json:"walletId"`
	Name          string   `json:"name"`
	ChainID       chain.ID `json:"chainId"`
	ParentChainID chain.ID `json:"parentChainId,omitempty"` // set for token accounts
	Address       string   `json:"address,omitempty"`       // account-model chains
	XPub          string   `json:"xpub,omitempty"`          // utxo chains
	SecondaryXPub string   `json:"secondaryXpub,omitempty"` // dual-derivation utxo accounts
	Balance       string   `json:"balance"`
	Unconfirmed   string   `json:"unconfirmed,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// StorageKey returns the unique identifier for this account.
func (a Account) StorageKey() string {
	return a.ID
}

// PricePoint is one sample in a price history window.
type PricePoint struct {
	Timestamp int64  `json:"timestamp"` // unix millis
	Price     string `json:"price"`     // decimal string
}

// PriceHistory is the stored price series for one coin and window length.
type PriceHistory struct {
	ChainID   chain.ID     `json:"chainId"`
	Days      int          `json:"days"` // 7, 30 or 365
	Points    []PricePoint `json:"points"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// StorageKey returns chain:days.
func (p PriceHistory) StorageKey() string {
	return fmt.Sprintf("%s:%d", p.ChainID, p.Days)
}

// LatestPrice is the most recent spot price for a coin.
type LatestPrice struct {
	ChainID   chain.ID  `json:"chainId"`
	Price     string    `json:"price"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StorageKey returns the chain id.
func (l LatestPrice) StorageKey() string {
	return string(l.ChainID)
}

// CustomAccount is a named sub-account on chains with human-readable
// implicit accounts.
type CustomAccount struct {
	ChainID   chain.ID `json:"chainId"`
	WalletID  string   `json:"walletId"`
	AccountID string   `json:"accountId"`
	Name      string   `json:"name"`
}

// StorageKey returns chain:account:name.
func (c CustomAccount) StorageKey() string {
	return fmt.Sprintf("%s:%s:%s", c.ChainID, c.AccountID, c.Name)
}

// ReceiveAddress is a derived address handed out for receiving funds.
type ReceiveAddress struct {
	ChainID   chain.ID `json:"chainId"`
	AccountID string   `json:"accountId"`
	Address   string   `json:"address"`
	Index     uint32   `json:"index"`
	Used      bool     `json:"used"`
}

// StorageKey returns chain:account:address.
func (r ReceiveAddress) StorageKey() string {
	return fmt.Sprintf("%s:%s:%s", r.ChainID, r.AccountID, r.Address)
}
