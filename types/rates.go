package types

import (
	"strings"
	"time"
)

// RateProvenance records where a rate table came from.
type RateProvenance string

const (
	RateLive     RateProvenance = "live"
	RateCached   RateProvenance = "cached"
	RateFallback RateProvenance = "fallback-default"
)

// RateTable maps pair keys ("ETH/USD") to exchange rates.
type RateTable struct {
	Rates      map[string]float64 `json:"rates"`
	UpdatedAt  time.Time          `json:"updated_at"`
	Provenance RateProvenance     `json:"provenance"`
}

// PairKey builds the canonical key for a from/to unit pair.
func PairKey(from, to string) string {
	return strings.ToUpper(strings.TrimSpace(from)) + "/" + strings.ToUpper(strings.TrimSpace(to))
}

// Clone returns a deep copy of the table.
func (t RateTable) Clone() RateTable {
	out := RateTable{
		Rates:      make(map[string]float64, len(t.Rates)),
		UpdatedAt:  t.UpdatedAt,
		Provenance: t.Provenance,
	}
	for k, v := range t.Rates {
		out.Rates[k] = v
	}
	return out
}
