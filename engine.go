// Package swapkit is a client-side swap-to-pay engine: it quotes token swaps
// against a V2-style AMM, manages ERC-20 allowances, keeps wallet balances
// and fiat exchange rates fresh, and drives approve/swap/forward flows as a
// resumable state machine.
package swapkit

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/stablepay/swapkit/client/amm"
	"github.com/stablepay/swapkit/client/chain"
	"github.com/stablepay/swapkit/client/geo"
	"github.com/stablepay/swapkit/client/pricefeed"
	"github.com/stablepay/swapkit/logger"
	"github.com/stablepay/swapkit/services"
	"github.com/stablepay/swapkit/types"
)

// Deps lets callers inject alternative implementations, mainly for tests and
// for embedding inside wallets that bring their own RPC transport. Every
// field left nil is constructed from Config during Init.
type Deps struct {
	Backend chain.Backend
	Signer  chain.Signer
	Gateway chain.Gateway
	Router  amm.Router
	Prices  pricefeed.Source
	Geo     geo.Locator
}

// Engine is the composition root. Construct with New, bring online with
// Init, and tear down with Dispose. All methods are safe for concurrent use
// once Init has returned.
type Engine struct {
	cfg      Config
	deps     Deps
	registry *types.Registry
	logger   *zap.Logger

	mu          sync.Mutex
	initialized bool
	chainID     uint64
	ethDial     *ethclient.Client

	gateway    chain.Gateway
	router     amm.Router
	rates      *services.ExchangeRateService
	quotes     *services.QuoteService
	allowances *services.AllowanceService
	balances   *services.BalanceService
	executor   *services.SwapExecutor
}

// New validates the configuration and prepares an engine. No network traffic
// happens until Init.
func New(cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Signer == nil && deps.Gateway == nil {
		return nil, errors.New("config: a signer (or prebuilt gateway) is required")
	}

	logger.InitLogger(cfg.Stage)

	registry, err := types.NewRegistry(cfg.Assets)
	if err != nil {
		return nil, errors.Wrap(err, "building asset registry")
	}

	return &Engine{
		cfg:      cfg,
		deps:     deps,
		registry: registry,
		logger:   logger.Log,
		chainID:  cfg.ChainID,
	}, nil
}

// Init connects to the configured network and starts the background loops:
// the rate refresher and the balance poller. Calling Init twice is an error.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return errors.New("engine already initialized")
	}
	if err := e.connectLocked(ctx, e.chainID); err != nil {
		return errors.Wrap(err, "initializing engine")
	}
	e.initialized = true

	e.logger.Info("swap engine initialized",
		zap.Uint64("chain_id", e.chainID),
		zap.Strings("assets", e.registry.Symbols()))
	return nil
}

// connectLocked builds the full service stack for the given chain. Caller
// holds e.mu.
func (e *Engine) connectLocked(ctx context.Context, chainID uint64) error {
	network, ok := e.cfg.Networks[chainID]
	if !ok {
		return errors.Errorf("no network entry for chain %d", chainID)
	}

	gateway := e.deps.Gateway
	if gateway == nil {
		backend := e.deps.Backend
		if backend == nil {
			dialed, err := ethclient.DialContext(ctx, network.RPCURL)
			if err != nil {
				return errors.Wrapf(err, "dialing rpc %s", network.RPCURL)
			}
			e.ethDial = dialed
			backend = dialed
		}
		gateway = chain.NewClient(backend, e.deps.Signer, chainID)
	}

	router := e.deps.Router
	if router == nil {
		router = amm.NewV2Router(gateway, network.RouterAddress, network.FactoryAddress)
	}

	prices := e.deps.Prices
	if prices == nil && e.cfg.PriceFeed.BaseURL != "" {
		prices = pricefeed.NewClient(e.cfg.PriceFeed.BaseURL, e.cfg.PriceFeed.APIKey)
	}
	locator := e.deps.Geo
	if locator == nil && e.cfg.GeoBaseURL != "" {
		locator = geo.NewClient(e.cfg.GeoBaseURL)
	}

	rates := services.NewExchangeRateService(e.cfg.ratesConfig(), prices, locator, e.registry.Symbols())
	quotes := services.NewQuoteService(e.cfg.quotesConfig(network.WrappedNative), router, gateway, e.registry, rates)
	allowances := services.NewAllowanceService(e.cfg.allowancesConfig(), gateway, router)
	balances := services.NewBalanceService(e.cfg.balancesConfig(), gateway, e.registry, rates)
	executor := services.NewSwapExecutor(e.cfg.executorConfig(), quotes, allowances, balances, gateway, router, e.registry)

	e.chainID = chainID
	e.gateway = gateway
	e.router = router
	e.rates = rates
	e.quotes = quotes
	e.allowances = allowances
	e.balances = balances
	e.executor = executor

	rates.Start(ctx)
	balances.Start(ctx)
	return nil
}

// teardownLocked stops every chain-bound service. Caller holds e.mu.
func (e *Engine) teardownLocked() {
	if e.balances != nil {
		e.balances.Stop()
	}
	if e.rates != nil {
		e.rates.Stop()
	}
	if e.quotes != nil {
		e.quotes.Dispose()
	}
	if e.executor != nil {
		e.executor.Dispose()
	}
	if e.ethDial != nil {
		e.ethDial.Close()
		e.ethDial = nil
	}
}

// SwitchNetwork tears down the current stack and reconnects on the target
// chain. Refused while a swap session is in flight: mid-flight transactions
// cannot move chains.
func (e *Engine) SwitchNetwork(ctx context.Context, chainID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return errors.New("engine not initialized")
	}
	if chainID == e.chainID {
		return nil
	}
	if session, ok := e.executor.Session(); ok && !session.Status.Terminal() {
		return services.ErrSwapInProgress
	}

	e.teardownLocked()
	if err := e.connectLocked(ctx, chainID); err != nil {
		return errors.Wrapf(err, "switching to chain %d", chainID)
	}

	e.logger.Info("switched network", zap.Uint64("chain_id", chainID))
	return nil
}

// Dispose stops background loops and releases the RPC connection. The engine
// cannot be reused afterwards.
func (e *Engine) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.teardownLocked()
	e.initialized = false
}

// GetQuote returns a swap quote. Identical concurrent requests are
// deduplicated, and repeat requests are served from a short-lived cache.
func (e *Engine) GetQuote(ctx context.Context, fromSymbol, toSymbol string, amount *big.Int, slippage float64) (*types.Quote, error) {
	quotes, err := service(e, func() *services.QuoteService { return e.quotes })
	if err != nil {
		return nil, err
	}
	return quotes.GetQuote(ctx, fromSymbol, toSymbol, amount, slippage)
}

// InitiateSwap runs a full swap session to a terminal state. Only one
// session may be active at a time.
func (e *Engine) InitiateSwap(ctx context.Context, params services.InitiateParams) (*types.SwapSession, error) {
	executor, err := service(e, func() *services.SwapExecutor { return e.executor })
	if err != nil {
		return nil, err
	}
	return executor.Initiate(ctx, params)
}

// ResumeSwap retries a failed session, skipping steps that already landed.
func (e *Engine) ResumeSwap(ctx context.Context, id uuid.UUID) (*types.SwapSession, error) {
	executor, err := service(e, func() *services.SwapExecutor { return e.executor })
	if err != nil {
		return nil, err
	}
	return executor.Resume(ctx, id)
}

// ActiveSession returns the current session, if any.
func (e *Engine) ActiveSession() (*types.SwapSession, bool) {
	executor, err := service(e, func() *services.SwapExecutor { return e.executor })
	if err != nil {
		return nil, false
	}
	return executor.Session()
}

// Sessions returns the session history for this engine instance.
func (e *Engine) Sessions() []*types.SwapSession {
	executor, err := service(e, func() *services.SwapExecutor { return e.executor })
	if err != nil {
		return nil
	}
	return executor.Sessions()
}

// GetBalance returns the cached balance for the symbol.
func (e *Engine) GetBalance(symbol string) (types.Balance, bool) {
	balances, err := service(e, func() *services.BalanceService { return e.balances })
	if err != nil {
		return types.Balance{}, false
	}
	return balances.GetBalance(symbol)
}

// RefreshBalance requests a balance refresh; rapid calls are debounced and
// rate limited.
func (e *Engine) RefreshBalance(symbol string) {
	if balances, err := service(e, func() *services.BalanceService { return e.balances }); err == nil {
		balances.Trigger(symbol)
	}
}

// SelectAsset marks the asset the UI is focused on, adding it to the
// background polling set.
func (e *Engine) SelectAsset(symbol string) {
	if balances, err := service(e, func() *services.BalanceService { return e.balances }); err == nil {
		balances.SetSelected(symbol)
	}
}

// Convert converts an amount between any two known units. It never fails;
// unknown pairs fall back to a neutral rate.
func (e *Engine) Convert(amount float64, fromUnit, toUnit string) float64 {
	rates, err := service(e, func() *services.ExchangeRateService { return e.rates })
	if err != nil {
		return amount
	}
	return rates.Convert(amount, fromUnit, toUnit)
}

// Rate returns the current conversion rate between two units.
func (e *Engine) Rate(fromUnit, toUnit string) float64 {
	rates, err := service(e, func() *services.ExchangeRateService { return e.rates })
	if err != nil {
		return 1
	}
	return rates.Rate(fromUnit, toUnit)
}

// Format renders an amount for display, fiat with locale separators and
// crypto with the symbol suffix.
func (e *Engine) Format(amount float64, unit string) string {
	rates, err := service(e, func() *services.ExchangeRateService { return e.rates })
	if err != nil {
		return ""
	}
	return rates.Format(amount, unit)
}

// ChainID returns the chain the engine is currently connected to.
func (e *Engine) ChainID() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chainID
}

// Assets returns the configured asset registry.
func (e *Engine) Assets() *types.Registry {
	return e.registry
}

// service snapshots a chain-bound service under the lock so callers never
// race SwitchNetwork's rebuild.
func service[T any](e *Engine, get func() T) (T, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var zero T
	if !e.initialized {
		return zero, errors.New("engine not initialized")
	}
	return get(), nil
}
