package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// FeeBreakdown itemizes the costs baked into a quote.
type FeeBreakdown struct {
	ProtocolFeeBps int     `json:"protocol_fee_bps"`
	GasFiat        float64 `json:"gas_fiat"`
	GasFiatUnit    string  `json:"gas_fiat_unit"`
}

// Quote is a time-bounded estimate of the output of a prospective conversion.
// Invariant: MinimumOut <= ExpectedOut. Quotes are ephemeral and discarded
// once their TTL expires.
type Quote struct {
	FromSymbol  string           `json:"from_symbol"`
	ToSymbol    string           `json:"to_symbol"`
	AmountIn    *big.Int         `json:"amount_in"`
	ExpectedOut *big.Int         `json:"expected_out"`
	MinimumOut  *big.Int         `json:"minimum_out"`
	PriceImpact float64          `json:"price_impact"` // percentage in [0,100]
	Route       []common.Address `json:"route"`
	Fees        FeeBreakdown     `json:"fees"`
	GasEstimate uint64           `json:"gas_estimate"`
	Slippage    float64          `json:"slippage"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Direct reports whether the quote traverses a single pair.
func (q *Quote) Direct() bool {
	return len(q.Route) == 2
}
