package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stablepay/swapkit/client/geo"
	"github.com/stablepay/swapkit/client/pricefeed"
	"github.com/stablepay/swapkit/logger"
	"github.com/stablepay/swapkit/types"
)

// fiatFormat describes how a fiat currency renders in a locale.
type fiatFormat struct {
	Symbol            string
	DecimalPlaces     int
	DecimalSeparator  string
	ThousandSeparator string
	SymbolAfter       bool
}

// countryFormats maps ISO country codes to their display currency. Unlisted
// countries fall back to the US dollar format.
var countryFormats = map[string]struct {
	Currency string
	Format   fiatFormat
}{
	"US": {"USD", fiatFormat{Symbol: "$", DecimalPlaces: 2, DecimalSeparator: ".", ThousandSeparator: ","}},
	"GB": {"GBP", fiatFormat{Symbol: "£", DecimalPlaces: 2, DecimalSeparator: ".", ThousandSeparator: ","}},
	"DE": {"EUR", fiatFormat{Symbol: "€", DecimalPlaces: 2, DecimalSeparator: ",", ThousandSeparator: ".", SymbolAfter: true}},
	"FR": {"EUR", fiatFormat{Symbol: "€", DecimalPlaces: 2, DecimalSeparator: ",", ThousandSeparator: " ", SymbolAfter: true}},
	"ES": {"EUR", fiatFormat{Symbol: "€", DecimalPlaces: 2, DecimalSeparator: ",", ThousandSeparator: ".", SymbolAfter: true}},
	"IT": {"EUR", fiatFormat{Symbol: "€", DecimalPlaces: 2, DecimalSeparator: ",", ThousandSeparator: ".", SymbolAfter: true}},
	"JP": {"JPY", fiatFormat{Symbol: "¥", DecimalPlaces: 0, DecimalSeparator: ".", ThousandSeparator: ","}},
	"IN": {"INR", fiatFormat{Symbol: "₹", DecimalPlaces: 2, DecimalSeparator: ".", ThousandSeparator: ","}},
	"BR": {"BRL", fiatFormat{Symbol: "R$", DecimalPlaces: 2, DecimalSeparator: ",", ThousandSeparator: "."}},
	"NG": {"NGN", fiatFormat{Symbol: "₦", DecimalPlaces: 2, DecimalSeparator: ".", ThousandSeparator: ","}},
}

// RatesConfig tunes the exchange rate service.
type RatesConfig struct {
	// FiatAnchor is the common fiat unit used for cross-rates.
	FiatAnchor string
	// RefreshMinAge skips network refresh while the table is younger.
	RefreshMinAge time.Duration
	// RefreshInterval drives the background refresh loop.
	RefreshInterval time.Duration
	// LocaleTTL caches the geolocation result.
	LocaleTTL time.Duration
	// Defaults are the hard-coded last-resort rates, keyed by pair.
	Defaults map[string]float64
}

// DefaultRatesConfig returns the production policy.
func DefaultRatesConfig() RatesConfig {
	return RatesConfig{
		FiatAnchor:      "USD",
		RefreshMinAge:   5 * time.Minute,
		RefreshInterval: 5 * time.Minute,
		LocaleTTL:       24 * time.Hour,
		Defaults: map[string]float64{
			"ETH/USD":  2000.0,
			"USDC/USD": 1.0,
			"USDT/USD": 1.0,
			"DAI/USD":  1.0,
		},
	}
}

// ExchangeRateService maintains the fiat/asset conversion table with cached
// defaults. Convert and Format never fail: on feed failure they fall back to
// the last live table, then to the hard-coded defaults.
type ExchangeRateService struct {
	cfg     RatesConfig
	feed    pricefeed.Source
	locator geo.Locator
	symbols []string
	logger  *zap.Logger

	mu          sync.RWMutex
	table       types.RateTable
	lastLive    *types.RateTable
	subscribers []func(types.RateTable)

	localeMu        sync.Mutex
	localeCountry   string
	localeFetchedAt time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewExchangeRateService creates the service seeded with the fallback
// defaults so conversions work before the first refresh.
func NewExchangeRateService(cfg RatesConfig, feed pricefeed.Source, locator geo.Locator, symbols []string) *ExchangeRateService {
	if cfg.FiatAnchor == "" {
		cfg.FiatAnchor = "USD"
	}
	defaults := make(map[string]float64, len(cfg.Defaults))
	for k, v := range cfg.Defaults {
		defaults[strings.ToUpper(k)] = v
	}
	return &ExchangeRateService{
		cfg:     cfg,
		feed:    feed,
		locator: locator,
		symbols: symbols,
		logger:  logger.Log,
		table: types.RateTable{
			Rates:      defaults,
			UpdatedAt:  time.Time{},
			Provenance: types.RateFallback,
		},
		stopCh: make(chan struct{}),
	}
}

// Table returns a copy of the current rate table.
func (s *ExchangeRateService) Table() types.RateTable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table.Clone()
}

// Subscribe registers a callback invoked after every table update. Used by
// the balance synchronizer to recompute fiat equivalents without chain calls.
func (s *ExchangeRateService) Subscribe(fn func(types.RateTable)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Refresh fetches fresh rates unless the table is young enough. Failures
// degrade to the last live table, then to the defaults; never an error for
// conversion consumers.
func (s *ExchangeRateService) Refresh(ctx context.Context) {
	s.mu.RLock()
	age := time.Since(s.table.UpdatedAt)
	fresh := s.table.Provenance == types.RateLive && age < s.cfg.RefreshMinAge
	s.mu.RUnlock()
	if fresh || s.feed == nil {
		return
	}

	quotes, err := s.feed.LatestQuotes(ctx, s.symbols, s.cfg.FiatAnchor)
	if err != nil || len(quotes) == 0 {
		s.logger.Warn("rate refresh failed, keeping cached rates", zap.Error(err))
		s.degrade()
		return
	}

	rates := make(map[string]float64, len(quotes))
	for symbol, price := range quotes {
		rates[types.PairKey(symbol, s.cfg.FiatAnchor)] = price
	}

	table := types.RateTable{
		Rates:      rates,
		UpdatedAt:  time.Now(),
		Provenance: types.RateLive,
	}

	s.mu.Lock()
	s.table = table
	live := table.Clone()
	s.lastLive = &live
	subscribers := append([]func(types.RateTable){}, s.subscribers...)
	s.mu.Unlock()

	s.logger.Info("exchange rates refreshed",
		zap.Int("pairs", len(rates)),
		zap.String("anchor", s.cfg.FiatAnchor))

	for _, fn := range subscribers {
		fn(table.Clone())
	}
}

// degrade switches to the last live table, or the defaults when none exists.
func (s *ExchangeRateService) degrade() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastLive != nil {
		cached := s.lastLive.Clone()
		cached.Provenance = types.RateCached
		s.table = cached
		return
	}
	if s.table.Provenance != types.RateFallback {
		defaults := make(map[string]float64, len(s.cfg.Defaults))
		for k, v := range s.cfg.Defaults {
			defaults[strings.ToUpper(k)] = v
		}
		s.table = types.RateTable{Rates: defaults, Provenance: types.RateFallback}
	}
}

// Start runs the background refresh loop until Stop or context cancellation.
func (s *ExchangeRateService) Start(ctx context.Context) {
	interval := s.cfg.RefreshInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		s.Refresh(ctx)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.Refresh(ctx)
			}
		}
	}()
}

// Stop tears down the refresh loop.
func (s *ExchangeRateService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// Convert resolves a rate deterministically: identity, direct, inverse,
// cross-rate via the fiat anchor, then a stable-parity heuristic. It never
// fails; the heuristic is the guaranteed last resort.
func (s *ExchangeRateService) Convert(amount float64, fromUnit, toUnit string) float64 {
	from := strings.ToUpper(strings.TrimSpace(fromUnit))
	to := strings.ToUpper(strings.TrimSpace(toUnit))

	if from == to {
		return amount
	}

	s.mu.RLock()
	rates := s.table.Rates
	s.mu.RUnlock()

	if rate, ok := rates[types.PairKey(from, to)]; ok && rate > 0 {
		return amount * rate
	}
	if rate, ok := rates[types.PairKey(to, from)]; ok && rate > 0 {
		return amount / rate
	}

	anchor := strings.ToUpper(s.cfg.FiatAnchor)
	fromAnchor, okFrom := rates[types.PairKey(from, anchor)]
	toAnchor, okTo := rates[types.PairKey(to, anchor)]
	if okFrom && okTo && toAnchor > 0 {
		return amount * fromAnchor / toAnchor
	}

	// Stable-parity heuristic: both units are stable-value assets as far as
	// the engine is concerned, so 1:1 is the least-wrong answer.
	return amount
}

// Rate returns the multiplier Convert would apply for one unit.
func (s *ExchangeRateService) Rate(fromUnit, toUnit string) float64 {
	return s.Convert(1, fromUnit, toUnit)
}

// Format renders the amount in the unit's display convention. Fiat units use
// the locale resolved from geolocation (cached per LocaleTTL); asset amounts
// render as "1.2345 SYM". Never fails.
func (s *ExchangeRateService) Format(amount float64, unit string) string {
	unit = strings.ToUpper(strings.TrimSpace(unit))

	country := s.resolveCountry()
	entry, ok := countryFormats[country]
	if !ok {
		entry = countryFormats["US"]
	}

	if unit == entry.Currency || unit == strings.ToUpper(s.cfg.FiatAnchor) {
		f := entry.Format
		formatted := formatWithSeparators(math.Abs(amount), f)
		sign := ""
		if amount < 0 {
			sign = "-"
		}
		if f.SymbolAfter {
			return sign + formatted + " " + f.Symbol
		}
		return sign + f.Symbol + formatted
	}

	// Treat any other unit as an asset symbol.
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.6f", amount), "0"), ".") + " " + unit
}

// resolveCountry returns the cached country code, doing a geolocation lookup
// at most once per LocaleTTL. Lookup failure falls back to "US".
func (s *ExchangeRateService) resolveCountry() string {
	s.localeMu.Lock()
	defer s.localeMu.Unlock()

	if s.localeCountry != "" && time.Since(s.localeFetchedAt) < s.cfg.LocaleTTL {
		return s.localeCountry
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.locator != nil {
		if loc, err := s.locator.Lookup(ctx); err == nil && loc.CountryCode != "" {
			s.localeCountry = strings.ToUpper(loc.CountryCode)
			s.localeFetchedAt = time.Now()
			return s.localeCountry
		} else if err != nil {
			s.logger.Warn("locale lookup failed, defaulting to US", zap.Error(err))
		}
	}
	if s.localeCountry == "" {
		s.localeCountry = "US"
		s.localeFetchedAt = time.Now()
	}
	return s.localeCountry
}

// formatWithSeparators formats the amount with locale separators.
func formatWithSeparators(amount float64, f fiatFormat) string {
	formatted := fmt.Sprintf(fmt.Sprintf("%%.%df", f.DecimalPlaces), math.Abs(amount))

	parts := strings.SplitN(formatted, ".", 2)
	integerPart := parts[0]
	decimalPart := ""
	if len(parts) > 1 {
		decimalPart = parts[1]
	}

	if f.ThousandSeparator != "" {
		integerPart = addThousandSeparators(integerPart, f.ThousandSeparator)
	}

	out := integerPart
	if decimalPart != "" {
		out += f.DecimalSeparator + decimalPart
	}
	if amount < 0 {
		out = "-" + out
	}
	return out
}

func addThousandSeparators(digits, separator string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	offset := len(digits) % 3
	if offset > 0 {
		b.WriteString(digits[:offset])
	}
	for i := offset; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteString(separator)
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
