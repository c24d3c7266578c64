// Package chain provides blockchain identity definitions and common utilities
// shared across the sync engine.
package chain

// ID represents a supported blockchain.
type ID string

// Supported blockchain identifiers.
const (
	BTC   ID = "btc"
	LTC   ID = "ltc"
	DOGE  ID = "doge"
	DASH  ID = "dash"
	ETH   ID = "eth"
	MATIC ID = "matic"
	SOL   ID = "sol"
	NEAR  ID = "near"
)

// Group classifies chains by their transaction model, which determines how
// raw API payloads are normalized and how history cursors are shaped.
type Group string

// Coin groups.
const (
	GroupUTXO        Group = "utxo"        // input/output model (btc family)
	GroupAccount     Group = "account"     // single-address account model (evm family)
	GroupInstruction Group = "instruction" // multi-instruction model (solana)
	GroupNamed       Group = "named"       // human-readable implicit accounts (near)
)

// Params holds static per-chain parameters.
type Params struct {
	Symbol    string
	Decimals  int
	Group     Group
	HasTokens bool // supports token-like child assets
}

//nolint:gochecknoglobals // Static chain registry, read-only after init
var registry = map[ID]Params{
	BTC:   {Symbol: "BTC", Decimals: 8, Group: GroupUTXO},
	LTC:   {Symbol: "LTC", Decimals: 8, Group: GroupUTXO},
	DOGE:  {Symbol: "DOGE", Decimals: 8, Group: GroupUTXO},
	DASH:  {Symbol: "DASH", Decimals: 8, Group: GroupUTXO},
	ETH:   {Symbol: "ETH", Decimals: 18, Group: GroupAccount, HasTokens: true},
	MATIC: {Symbol: "MATIC", Decimals: 18, Group: GroupAccount, HasTokens: true},
	SOL:   {Symbol: "SOL", Decimals: 9, Group: GroupInstruction},
	NEAR:  {Symbol: "NEAR", Decimals: 24, Group: GroupNamed},
}

// String returns the chain identifier string.
func (id ID) String() string {
	return string(id)
}

// IsValid returns true if the chain ID is a known chain.
func (id ID) IsValid() bool {
	_, ok := registry[id]
	return ok
}

// Group returns the transaction-model group for a chain.
// Unknown chains report the account group, the least surprising default.
func (id ID) Group() Group {
	if p, ok := registry[id]; ok {
		return p.Group
	}
	return GroupAccount
}

// Params returns the static parameters for a chain.
func (id ID) Params() (Params, bool) {
	p, ok := registry[id]
	return p, ok
}

// Decimals returns the number of decimal places for the chain's native unit.
func (id ID) Decimals() int {
	if p, ok := registry[id]; ok {
		return p.Decimals
	}
	return 0
}

// HasTokens returns true if the chain supports token-like child assets.
func (id ID) HasTokens() bool {
	if p, ok := registry[id]; ok {
		return p.HasTokens
	}
	return false
}

// SupportsNamedAccounts returns true for chains with human-readable
// implicit sub-accounts.
func (id ID) SupportsNamedAccounts() bool {
	return id.Group() == GroupNamed
}

// ParseChainID parses a string into a chain ID.
func ParseChainID(s string) (ID, bool) {
	id := ID(s)
	return id, id.IsValid()
}

// AllChains returns all known chain IDs in a stable order.
func AllChains() []ID {
	return []ID{BTC, LTC, DOGE, DASH, ETH, MATIC, SOL, NEAR}
}
