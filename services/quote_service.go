package services

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/stablepay/swapkit/async"
	"github.com/stablepay/swapkit/client/amm"
	"github.com/stablepay/swapkit/client/chain"
	"github.com/stablepay/swapkit/logger"
	"github.com/stablepay/swapkit/swaperr"
	"github.com/stablepay/swapkit/types"
)

// QuoteConfig tunes the quote service.
type QuoteConfig struct {
	// TTL bounds how long a computed quote may be served from cache.
	TTL time.Duration
	// RouteTimeout bounds the routed pair-discovery lookup.
	RouteTimeout time.Duration
	// GasTimeout bounds the best-effort gas estimate.
	GasTimeout time.Duration
	// WrappedNative is the ERC-20 representation of the native asset, used
	// both as the multi-hop intermediate and in place of native addresses.
	WrappedNative common.Address
	// ProtocolFeeBps is the AMM's swap fee, reported in the breakdown.
	ProtocolFeeBps int
	// AssumedGasPriceWei prices the gas estimate for the fiat breakdown.
	AssumedGasPriceWei int64
	// Retry bounds internal retries of transient router lookup failures.
	Retry swaperr.RetryConfig
}

// DefaultQuoteConfig returns the production policy.
func DefaultQuoteConfig(wrappedNative common.Address) QuoteConfig {
	return QuoteConfig{
		TTL:                15 * time.Second,
		RouteTimeout:       5 * time.Second,
		GasTimeout:         2 * time.Second,
		WrappedNative:      wrappedNative,
		ProtocolFeeBps:     30,
		AssumedGasPriceWei: 30_000_000_000,
		Retry:              swaperr.DefaultRetryConfig(),
	}
}

// QuoteService computes expected conversion output with routing fallback and
// caching. Identical concurrent requests collapse onto one router call; a
// request for a different key cancels the still-pending previous one so a
// stale result can never overwrite newer state.
type QuoteService struct {
	cfg      QuoteConfig
	router   amm.Router
	gateway  chain.Gateway
	registry *types.Registry
	rates    *ExchangeRateService
	logger   *zap.Logger

	cache  *async.TTLCache[*types.Quote]
	flight singleflight.Group
	gen    async.Generation

	mu          sync.Mutex
	pendingKey  string
	cancelPrior context.CancelFunc
}

// NewQuoteService wires the quote service.
func NewQuoteService(cfg QuoteConfig, router amm.Router, gateway chain.Gateway, registry *types.Registry, rates *ExchangeRateService) *QuoteService {
	return &QuoteService{
		cfg:      cfg,
		router:   router,
		gateway:  gateway,
		registry: registry,
		rates:    rates,
		logger:   logger.Log,
		cache:    async.NewTTLCache[*types.Quote](),
	}
}

// GetQuote returns a quote for converting amount of fromSymbol into toSymbol
// at the given slippage tolerance. Fresh cached quotes are served without
// network calls.
func (s *QuoteService) GetQuote(ctx context.Context, fromSymbol, toSymbol string, amount *big.Int, slippage float64) (*types.Quote, error) {
	from, to, err := s.validatePair(fromSymbol, toSymbol, amount, slippage)
	if err != nil {
		return nil, err
	}

	key := quoteKey(from.Symbol, to.Symbol, amount, slippage)
	if cached, ok := s.cache.Get(key); ok {
		return cached, nil
	}

	token, runCtx := s.supersede(ctx, key)

	result, err, _ := s.flight.Do(key, func() (interface{}, error) {
		return s.computeQuote(runCtx, from, to, amount, slippage)
	})
	if err != nil {
		return nil, swaperr.Classify(err)
	}

	quote := result.(*types.Quote)
	if s.gen.Latest(token) {
		s.cache.Set(key, quote, s.cfg.TTL)
	}
	return quote, nil
}

// Dispose cancels pending work and eviction timers.
func (s *QuoteService) Dispose() {
	s.mu.Lock()
	if s.cancelPrior != nil {
		s.cancelPrior()
		s.cancelPrior = nil
	}
	s.mu.Unlock()
	s.cache.Stop()
}

// supersede claims a generation token for the key and cancels the pending
// request for a different key, if any.
func (s *QuoteService) supersede(ctx context.Context, key string) (uint64, context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pendingKey != "" && s.pendingKey != key && s.cancelPrior != nil {
		s.cancelPrior()
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.pendingKey = key
	s.cancelPrior = cancel
	return s.gen.Next(), runCtx
}

func (s *QuoteService) validatePair(fromSymbol, toSymbol string, amount *big.Int, slippage float64) (types.Asset, types.Asset, error) {
	from, ok := s.registry.Get(fromSymbol)
	if !ok {
		return types.Asset{}, types.Asset{}, swaperr.New(swaperr.KindInvalidPair, "unknown asset %s", fromSymbol)
	}
	to, ok := s.registry.Get(toSymbol)
	if !ok {
		return types.Asset{}, types.Asset{}, swaperr.New(swaperr.KindInvalidPair, "unknown asset %s", toSymbol)
	}
	if from.Symbol == to.Symbol {
		return types.Asset{}, types.Asset{}, swaperr.New(swaperr.KindInvalidPair, "cannot quote %s against itself", from.Symbol)
	}
	if amount == nil || amount.Sign() <= 0 {
		return types.Asset{}, types.Asset{}, swaperr.New(swaperr.KindInvalidPair, "amount must be positive")
	}
	if slippage < 0 || slippage >= 1 {
		return types.Asset{}, types.Asset{}, swaperr.New(swaperr.KindInvalidPair, "slippage tolerance %.4f out of range", slippage)
	}
	chainID := s.gateway.ChainID()
	if !from.ResolvableOn(chainID) {
		return types.Asset{}, types.Asset{}, swaperr.New(swaperr.KindInvalidPair, "%s not available on chain %d", from.Symbol, chainID)
	}
	if !to.ResolvableOn(chainID) {
		return types.Asset{}, types.Asset{}, swaperr.New(swaperr.KindInvalidPair, "%s not available on chain %d", to.Symbol, chainID)
	}
	return from, to, nil
}

func (s *QuoteService) computeQuote(ctx context.Context, from, to types.Asset, amount *big.Int, slippage float64) (*types.Quote, error) {
	fromAddr := s.routeAddress(from)
	toAddr := s.routeAddress(to)

	var path []common.Address
	var expectedOut *big.Int
	routeErr := swaperr.Retry(ctx, s.cfg.Retry, func() error {
		p, out, err := s.routedLookup(ctx, fromAddr, toAddr, amount)
		if err != nil {
			return err
		}
		path, expectedOut = p, out
		return nil
	})
	if routeErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, swaperr.Classify(ctxErr)
		}
		s.logger.Debug("routed lookup failed, trying direct amount-out",
			zap.String("from", from.Symbol),
			zap.String("to", to.Symbol),
			zap.Error(routeErr))

		var directOut *big.Int
		directErr := swaperr.Retry(ctx, s.cfg.Retry, func() error {
			out, err := s.router.AmountOut(ctx, amount, []common.Address{fromAddr, toAddr})
			if err != nil {
				return err
			}
			directOut = out
			return nil
		})
		if directErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, swaperr.Classify(ctxErr)
			}
			// Transport failure is not a liquidity verdict: surface it
			// retryable rather than telling the caller to change route.
			for _, failure := range []error{directErr, routeErr} {
				if classified := swaperr.Classify(failure); classified.Retryable() {
					return nil, classified
				}
			}
			// A financial quote is never silently approximated: no route
			// means no quote.
			return nil, swaperr.New(swaperr.KindInsufficientLiquidity,
				"no liquidity for %s/%s: routed: %v, direct: %v", from.Symbol, to.Symbol, routeErr, directErr)
		}
		path = []common.Address{fromAddr, toAddr}
		expectedOut = directOut
	}
	if expectedOut == nil || expectedOut.Sign() <= 0 {
		return nil, swaperr.New(swaperr.KindInsufficientLiquidity,
			"zero output quoted for %s/%s", from.Symbol, to.Symbol)
	}

	minimumOut := applySlippage(expectedOut, slippage)
	impact := priceImpact(amount, from.Decimals, expectedOut, to.Decimals)

	quote := &types.Quote{
		FromSymbol:  from.Symbol,
		ToSymbol:    to.Symbol,
		AmountIn:    new(big.Int).Set(amount),
		ExpectedOut: expectedOut,
		MinimumOut:  minimumOut,
		PriceImpact: impact,
		Route:       path,
		Slippage:    slippage,
		CreatedAt:   time.Now(),
		Fees: types.FeeBreakdown{
			ProtocolFeeBps: s.cfg.ProtocolFeeBps,
			GasFiatUnit:    s.rates.cfg.FiatAnchor,
		},
	}

	quote.GasEstimate = s.estimateSwapGas(ctx, quote)
	quote.Fees.GasFiat = s.gasFiat(quote.GasEstimate)

	return quote, nil
}

// routedLookup discovers a direct pair, then a wrapped-native hop, within the
// route timeout.
func (s *QuoteService) routedLookup(ctx context.Context, fromAddr, toAddr common.Address, amount *big.Int) ([]common.Address, *big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RouteTimeout)
	defer cancel()

	direct, err := s.router.FindPair(ctx, fromAddr, toAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("pair discovery failed: %w", err)
	}
	var path []common.Address
	if direct != nil {
		path = []common.Address{fromAddr, toAddr}
	} else {
		hop := s.cfg.WrappedNative
		if hop == fromAddr || hop == toAddr {
			return nil, nil, fmt.Errorf("no direct pair and no usable intermediate")
		}
		first, err := s.router.FindPair(ctx, fromAddr, hop)
		if err != nil {
			return nil, nil, fmt.Errorf("pair discovery failed: %w", err)
		}
		second, err := s.router.FindPair(ctx, hop, toAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("pair discovery failed: %w", err)
		}
		if first == nil || second == nil {
			return nil, nil, fmt.Errorf("no route found")
		}
		path = []common.Address{fromAddr, hop, toAddr}
	}

	out, err := s.router.AmountOut(ctx, amount, path)
	if err != nil {
		return nil, nil, fmt.Errorf("amount-out lookup failed: %w", err)
	}
	return path, out, nil
}

// estimateSwapGas is best effort: it never blocks the quote and falls back
// to the gateway's constant on failure.
func (s *QuoteService) estimateSwapGas(ctx context.Context, quote *types.Quote) uint64 {
	gasCtx, cancel := context.WithTimeout(ctx, s.cfg.GasTimeout)
	defer cancel()

	callData, err := s.router.BuildSwapTx(amm.SwapParams{
		Path:       quote.Route,
		AmountIn:   quote.AmountIn,
		MinimumOut: quote.MinimumOut,
		Recipient:  s.gateway.Owner(),
		Deadline:   time.Now().Add(10 * time.Minute),
	})
	if err != nil {
		return chain.FallbackGasLimit
	}

	owner := s.gateway.Owner()
	return s.gateway.EstimateGas(gasCtx, ethereumCallMsg(owner, callData))
}

func (s *QuoteService) gasFiat(gasUnits uint64) float64 {
	weiCost := new(big.Int).Mul(new(big.Int).SetUint64(gasUnits), big.NewInt(s.cfg.AssumedGasPriceWei))
	nativeCost := types.ToFloat(weiCost, s.registry.Native().Decimals)
	return s.rates.Convert(nativeCost, s.registry.Native().Symbol, s.rates.cfg.FiatAnchor)
}

// routeAddress resolves the address to use on the AMM path: the wrapped
// representation for the native asset, the configured contract otherwise.
func (s *QuoteService) routeAddress(asset types.Asset) common.Address {
	if asset.Native {
		return s.cfg.WrappedNative
	}
	addr, _ := asset.AddressOn(s.gateway.ChainID())
	return addr
}

// applySlippage computes minimumOut = expectedOut * (1 - slippage) with
// basis-point-scale integer math, rounding down.
func applySlippage(expectedOut *big.Int, slippage float64) *big.Int {
	const scale = 1_000_000_000
	keep := int64(math.Round((1 - slippage) * scale))
	if keep < 0 {
		keep = 0
	}
	out := new(big.Int).Mul(expectedOut, big.NewInt(keep))
	return out.Div(out, big.NewInt(scale))
}

// priceImpact measures deviation from a 1:1 decimal-adjusted exchange,
// clamped into [0,100].
func priceImpact(amountIn *big.Int, inDecimals uint8, amountOut *big.Int, outDecimals uint8) float64 {
	in := types.ToFloat(amountIn, inDecimals)
	out := types.ToFloat(amountOut, outDecimals)
	if in <= 0 {
		return 0
	}
	impact := math.Abs(1-out/in) * 100
	return math.Min(math.Max(impact, 0), 100)
}

func quoteKey(from, to string, amount *big.Int, slippage float64) string {
	return fmt.Sprintf("%s:%s:%s:%.6f", from, to, amount.String(), slippage)
}

func ethereumCallMsg(from common.Address, call *amm.CallData) ethereum.CallMsg {
	return ethereum.CallMsg{From: from, To: &call.To, Value: call.Value, Data: call.Data}
}
