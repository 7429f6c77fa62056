package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Balance is the cached per-asset holding of the connected wallet. Created on
// first fetch and mutated on refresh or after a confirmed transaction.
type Balance struct {
	Symbol       string    `json:"symbol"`
	Raw          *big.Int  `json:"raw"`
	Formatted    string    `json:"formatted"`
	Fiat         float64   `json:"fiat"`
	FiatCurrency string    `json:"fiat_currency"`
	LastFetched  time.Time `json:"last_fetched"`
}

// Clone returns a defensive copy so callers cannot mutate the cached view.
func (b Balance) Clone() Balance {
	out := b
	if b.Raw != nil {
		out.Raw = new(big.Int).Set(b.Raw)
	}
	return out
}

// AllowanceRecord captures the last observed on-chain authorization for a
// (owner, spender, asset) triple.
type AllowanceRecord struct {
	Owner       common.Address `json:"owner"`
	Spender     common.Address `json:"spender"`
	Asset       string         `json:"asset"`
	Amount      *big.Int       `json:"amount"`
	LastChecked time.Time      `json:"last_checked"`
}
