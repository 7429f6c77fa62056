package swapkit

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/stablepay/swapkit/services"
	"github.com/stablepay/swapkit/types"
)

// NetworkConfig describes one supported chain. The engine connects to exactly
// one network at a time; SwitchNetwork moves between entries.
type NetworkConfig struct {
	// RPCURL is the JSON-RPC endpoint, ws or https.
	RPCURL string
	// RouterAddress is the V2-style swap router.
	RouterAddress common.Address
	// FactoryAddress is the pair factory backing the router.
	FactoryAddress common.Address
	// WrappedNative is the canonical wrapped gas token, used as the routing
	// hop when no direct pair exists.
	WrappedNative common.Address
}

// PriceFeedConfig points at the fiat price feed.
type PriceFeedConfig struct {
	BaseURL string
	APIKey  string
}

// Config is the engine's top-level configuration. Sub-configs left nil take
// the production defaults.
type Config struct {
	// Stage selects logger behaviour, "production" or anything else for dev.
	Stage string
	// ChainID selects the initial network out of Networks.
	ChainID uint64
	// Networks lists every chain the engine may operate on.
	Networks map[uint64]NetworkConfig
	// Assets is the tradable asset set; exactly one entry must be native.
	Assets []types.Asset
	// FiatAnchor is the fiat currency rates are anchored to, e.g. "USD".
	FiatAnchor string
	// PriceFeed configures the fiat price source. A zero BaseURL disables
	// live rates and the engine runs on fallback rates only.
	PriceFeed PriceFeedConfig
	// GeoBaseURL configures locale lookup for display formatting. Empty
	// disables it and formatting falls back to the anchor currency.
	GeoBaseURL string

	Rates      *services.RatesConfig
	Quotes     *services.QuoteConfig
	Balances   *services.BalanceConfig
	Allowances *services.AllowanceConfig
	Executor   *services.ExecutorConfig
}

// Validate checks the configuration before the engine starts.
func (c Config) Validate() error {
	if c.ChainID == 0 {
		return errors.New("config: chain id is required")
	}
	if len(c.Networks) == 0 {
		return errors.New("config: at least one network is required")
	}
	network, ok := c.Networks[c.ChainID]
	if !ok {
		return errors.Errorf("config: no network entry for chain %d", c.ChainID)
	}
	if err := network.validate(c.ChainID); err != nil {
		return err
	}
	for chainID, n := range c.Networks {
		if chainID == c.ChainID {
			continue
		}
		if err := n.validate(chainID); err != nil {
			return err
		}
	}
	if len(c.Assets) == 0 {
		return errors.New("config: at least one asset is required")
	}
	if c.FiatAnchor == "" {
		return errors.New("config: fiat anchor is required")
	}
	return nil
}

func (n NetworkConfig) validate(chainID uint64) error {
	if n.RouterAddress == (common.Address{}) {
		return errors.Errorf("config: chain %d: router address is required", chainID)
	}
	if n.FactoryAddress == (common.Address{}) {
		return errors.Errorf("config: chain %d: factory address is required", chainID)
	}
	if n.WrappedNative == (common.Address{}) {
		return errors.Errorf("config: chain %d: wrapped native address is required", chainID)
	}
	return nil
}

func (c Config) ratesConfig() services.RatesConfig {
	if c.Rates != nil {
		return *c.Rates
	}
	cfg := services.DefaultRatesConfig()
	if c.FiatAnchor != "" {
		cfg.FiatAnchor = c.FiatAnchor
	}
	return cfg
}

func (c Config) quotesConfig(wrappedNative common.Address) services.QuoteConfig {
	if c.Quotes != nil {
		cfg := *c.Quotes
		if cfg.WrappedNative == (common.Address{}) {
			cfg.WrappedNative = wrappedNative
		}
		return cfg
	}
	return services.DefaultQuoteConfig(wrappedNative)
}

func (c Config) balancesConfig() services.BalanceConfig {
	if c.Balances != nil {
		return *c.Balances
	}
	return services.DefaultBalanceConfig()
}

func (c Config) allowancesConfig() services.AllowanceConfig {
	if c.Allowances != nil {
		return *c.Allowances
	}
	return services.DefaultAllowanceConfig()
}

func (c Config) executorConfig() services.ExecutorConfig {
	if c.Executor != nil {
		return *c.Executor
	}
	return services.DefaultExecutorConfig()
}
