package services

import (
	"context"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/stablepay/swapkit/async"
	"github.com/stablepay/swapkit/client/chain"
	"github.com/stablepay/swapkit/logger"
	"github.com/stablepay/swapkit/swaperr"
	"github.com/stablepay/swapkit/types"
)

// BalanceConfig tunes the balance synchronizer.
type BalanceConfig struct {
	// MinRefreshInterval rate-limits per-asset refreshes.
	MinRefreshInterval time.Duration
	// DebounceInterval collapses bursts of triggers into one refresh.
	DebounceInterval time.Duration
	// PollInterval drives the background refresh of the selected and
	// native assets.
	PollInterval time.Duration
	// Retry is the policy for retryable gateway failures.
	Retry swaperr.RetryConfig
}

// DefaultBalanceConfig returns the production policy.
func DefaultBalanceConfig() BalanceConfig {
	return BalanceConfig{
		MinRefreshInterval: 30 * time.Second,
		DebounceInterval:   400 * time.Millisecond,
		PollInterval:       5 * time.Minute,
		Retry:              swaperr.DefaultRetryConfig(),
	}
}

// BalanceService maintains the debounced, rate-limited, TTL-cached per-asset
// balance view of the connected wallet. Refreshes for the same symbol are
// deduplicated; bursts of triggers collapse into one gateway call; a
// background interval keeps the selected and native assets fresh while the
// wallet stays connected.
type BalanceService struct {
	cfg      BalanceConfig
	gateway  chain.Gateway
	registry *types.Registry
	rates    *ExchangeRateService
	logger   *zap.Logger

	mu       sync.RWMutex
	balances map[string]types.Balance
	limiters map[string]*rate.Limiter
	selected string

	flight    singleflight.Group
	debouncer *async.Debouncer

	stopOnce sync.Once
	stopCh   chan struct{}
	started  bool
}

// NewBalanceService wires the balance synchronizer.
func NewBalanceService(cfg BalanceConfig, gateway chain.Gateway, registry *types.Registry, rates *ExchangeRateService) *BalanceService {
	s := &BalanceService{
		cfg:      cfg,
		gateway:  gateway,
		registry: registry,
		rates:    rates,
		logger:   logger.Log,
		balances: make(map[string]types.Balance),
		limiters: make(map[string]*rate.Limiter),
		stopCh:   make(chan struct{}),
	}
	s.debouncer = async.NewDebouncer(cfg.DebounceInterval, func(symbol string) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = s.Refresh(ctx, symbol)
	})
	// Fiat equivalents follow rate-table updates without new chain calls.
	rates.Subscribe(s.recomputeFiat)
	return s
}

// GetBalance returns the cached balance for the symbol, if any.
func (s *BalanceService) GetBalance(symbol string) (types.Balance, bool) {
	asset, ok := s.registry.Get(symbol)
	if !ok {
		return types.Balance{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	balance, ok := s.balances[asset.Symbol]
	if !ok {
		return types.Balance{}, false
	}
	return balance.Clone(), true
}

// Trigger schedules a debounced refresh for the symbol. Bursts of triggers
// within the debounce window collapse into a single refresh.
func (s *BalanceService) Trigger(symbol string) {
	if asset, ok := s.registry.Get(symbol); ok {
		s.debouncer.Trigger(asset.Symbol)
	}
}

// Refresh fetches the symbol's balance now. It is a no-op when a refresh for
// the symbol is already in flight or the last successful fetch is younger
// than the minimum interval.
func (s *BalanceService) Refresh(ctx context.Context, symbol string) error {
	asset, ok := s.registry.Get(symbol)
	if !ok {
		return swaperr.New(swaperr.KindInvalidPair, "unknown asset %s", symbol)
	}

	if !s.limiter(asset.Symbol).Allow() {
		s.logger.Debug("balance refresh rate-limited", zap.String("asset", asset.Symbol))
		return nil
	}

	_, err, _ := s.flight.Do(asset.Symbol, func() (interface{}, error) {
		return nil, s.fetch(ctx, asset)
	})
	if err != nil {
		// The interval only applies after a successful fetch; hand the
		// token back so the next attempt is not locked out.
		s.resetLimiter(asset.Symbol)
		return swaperr.Classify(err)
	}
	return nil
}

// SetSelected marks the asset the background loop keeps fresh alongside the
// native gas asset.
func (s *BalanceService) SetSelected(symbol string) {
	if asset, ok := s.registry.Get(symbol); ok {
		s.mu.Lock()
		s.selected = asset.Symbol
		s.mu.Unlock()
	}
}

// Start runs the background refresh loop until Stop or context cancellation.
func (s *BalanceService) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.refreshWatched(ctx)
			}
		}
	}()
}

// Stop tears down the background loop and all pending debounced triggers.
// Must be called on wallet disconnect or network change so no timer keeps
// operating on a stale address.
func (s *BalanceService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.debouncer.Stop()
}

func (s *BalanceService) refreshWatched(ctx context.Context) {
	s.mu.RLock()
	selected := s.selected
	s.mu.RUnlock()

	watched := []string{s.registry.Native().Symbol}
	if selected != "" && selected != watched[0] {
		watched = append(watched, selected)
	}
	for _, symbol := range watched {
		if err := s.Refresh(ctx, symbol); err != nil {
			s.logger.Warn("background balance refresh failed",
				zap.String("asset", symbol),
				zap.Error(err))
		}
	}
}

func (s *BalanceService) fetch(ctx context.Context, asset types.Asset) error {
	owner := s.gateway.Owner()

	raw := new(big.Int)
	err := swaperr.Retry(ctx, s.cfg.Retry, func() error {
		fetched, fetchErr := s.gateway.BalanceOf(ctx, asset, owner)
		if fetchErr != nil {
			return fetchErr
		}
		raw = fetched
		return nil
	})
	if err != nil {
		return err
	}

	anchor := s.rates.cfg.FiatAnchor
	float := types.ToFloat(raw, asset.Decimals)

	s.mu.Lock()
	s.balances[asset.Symbol] = types.Balance{
		Symbol:       asset.Symbol,
		Raw:          raw,
		Formatted:    types.FormatUnits(raw, asset.Decimals),
		Fiat:         s.rates.Convert(float, asset.Symbol, anchor),
		FiatCurrency: anchor,
		LastFetched:  time.Now(),
	}
	s.mu.Unlock()

	s.logger.Debug("balance refreshed",
		zap.String("asset", asset.Symbol),
		zap.String("raw", raw.String()))

	return nil
}

// recomputeFiat re-prices every cached balance from the new rate table. No
// chain calls are made.
func (s *BalanceService) recomputeFiat(types.RateTable) {
	anchor := s.rates.cfg.FiatAnchor

	s.mu.Lock()
	defer s.mu.Unlock()

	for symbol, balance := range s.balances {
		asset, ok := s.registry.Get(symbol)
		if !ok {
			continue
		}
		float := types.ToFloat(balance.Raw, asset.Decimals)
		balance.Fiat = s.rates.Convert(float, symbol, anchor)
		balance.FiatCurrency = anchor
		s.balances[symbol] = balance
	}
}

func (s *BalanceService) resetLimiter(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.limiters[symbol] = rate.NewLimiter(rate.Every(s.cfg.MinRefreshInterval), 1)
}

func (s *BalanceService) limiter(symbol string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, ok := s.limiters[symbol]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(s.cfg.MinRefreshInterval), 1)
		s.limiters[symbol] = limiter
	}
	return limiter
}
