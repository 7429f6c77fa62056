package types

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Asset describes a fungible token or the native currency of a network.
// Assets are static configuration: loaded once at engine start and never
// mutated afterwards.
type Asset struct {
	Symbol    string                    `json:"symbol"`
	Name      string                    `json:"name"`
	Decimals  uint8                     `json:"decimals"`
	Native    bool                      `json:"native"`
	Addresses map[uint64]common.Address `json:"addresses"` // chainID -> contract address
	Icon      string                    `json:"icon"`
}

// AddressOn returns the asset's contract address on the given chain. Native
// assets have no contract address; callers that need an ERC-20 address for a
// native asset (AMM routing) must use the wrapped representation instead.
func (a Asset) AddressOn(chainID uint64) (common.Address, bool) {
	if a.Native {
		return common.Address{}, false
	}
	addr, ok := a.Addresses[chainID]
	return addr, ok
}

// Registry is an immutable, symbol-keyed view over the configured assets.
type Registry struct {
	bySymbol map[string]Asset
	native   string
}

// NewRegistry builds a registry from the static asset list. Exactly one
// native asset is expected.
func NewRegistry(assets []Asset) (*Registry, error) {
	r := &Registry{bySymbol: make(map[string]Asset, len(assets))}
	for _, a := range assets {
		sym := strings.ToUpper(strings.TrimSpace(a.Symbol))
		if sym == "" {
			return nil, fmt.Errorf("asset with empty symbol")
		}
		if _, exists := r.bySymbol[sym]; exists {
			return nil, fmt.Errorf("duplicate asset symbol %s", sym)
		}
		a.Symbol = sym
		r.bySymbol[sym] = a
		if a.Native {
			if r.native != "" {
				return nil, fmt.Errorf("multiple native assets: %s and %s", r.native, sym)
			}
			r.native = sym
		}
	}
	if r.native == "" {
		return nil, fmt.Errorf("no native asset configured")
	}
	return r, nil
}

// Get looks up an asset by symbol (case-insensitive).
func (r *Registry) Get(symbol string) (Asset, bool) {
	a, ok := r.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	return a, ok
}

// Native returns the network's native gas asset.
func (r *Registry) Native() Asset {
	return r.bySymbol[r.native]
}

// Symbols returns all registered symbols.
func (r *Registry) Symbols() []string {
	out := make([]string, 0, len(r.bySymbol))
	for sym := range r.bySymbol {
		out = append(out, sym)
	}
	return out
}

// ResolvableOn reports whether the asset can be used on the given chain:
// native assets always resolve, tokens need a configured contract address.
func (a Asset) ResolvableOn(chainID uint64) bool {
	if a.Native {
		return true
	}
	_, ok := a.Addresses[chainID]
	return ok
}
