package services_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stablepay/swapkit/mocks"
	"github.com/stablepay/swapkit/services"
	"github.com/stablepay/swapkit/swaperr"
)

func balanceFixture(t *testing.T, cfg services.BalanceConfig) (*services.BalanceService, *mocks.MockGateway, *services.ExchangeRateService) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	gateway := mocks.NewMockGateway(ctrl)
	gateway.EXPECT().Owner().Return(owner).AnyTimes()
	gateway.EXPECT().ChainID().Return(uint64(1)).AnyTimes()

	rates := services.NewExchangeRateService(services.DefaultRatesConfig(), nil, nil, nil)
	svc := services.NewBalanceService(cfg, gateway, testRegistry(t), rates)
	t.Cleanup(svc.Stop)
	return svc, gateway, rates
}

func fastBalanceConfig() services.BalanceConfig {
	cfg := services.DefaultBalanceConfig()
	cfg.DebounceInterval = 10 * time.Millisecond
	cfg.Retry.InitialInterval = time.Millisecond
	cfg.Retry.MaxInterval = 2 * time.Millisecond
	return cfg
}

func TestRefreshCachesBalanceWithFiat(t *testing.T) {
	svc, gateway, _ := balanceFixture(t, fastBalanceConfig())

	oneEth, _ := new(big.Int).SetString("1000000000000000000", 10)
	gateway.EXPECT().
		BalanceOf(gomock.Any(), gomock.Any(), owner).
		Return(oneEth, nil)

	require.NoError(t, svc.Refresh(context.Background(), "ETH"))

	balance, ok := svc.GetBalance("eth")
	require.True(t, ok, "lookup is case-insensitive")
	assert.Equal(t, "ETH", balance.Symbol)
	assert.Equal(t, oneEth, balance.Raw)
	assert.Equal(t, "1", balance.Formatted)
	assert.InDelta(t, 2000, balance.Fiat, 1e-9, "priced with the fallback rate")
	assert.Equal(t, "USD", balance.FiatCurrency)
	assert.False(t, balance.LastFetched.IsZero())
}

func TestRefreshIsRateLimited(t *testing.T) {
	svc, gateway, _ := balanceFixture(t, fastBalanceConfig()) // 30s min interval

	gateway.EXPECT().
		BalanceOf(gomock.Any(), gomock.Any(), owner).
		Return(big.NewInt(1), nil).
		Times(1)

	require.NoError(t, svc.Refresh(context.Background(), "USDC"))
	require.NoError(t, svc.Refresh(context.Background(), "USDC"), "second refresh inside the window is a silent no-op")

	_, ok := svc.GetBalance("USDC")
	assert.True(t, ok)
}

func TestRefreshRateLimitIsPerAsset(t *testing.T) {
	svc, gateway, _ := balanceFixture(t, fastBalanceConfig())

	gateway.EXPECT().BalanceOf(gomock.Any(), gomock.Any(), owner).Return(big.NewInt(1), nil).Times(2)

	require.NoError(t, svc.Refresh(context.Background(), "USDC"))
	require.NoError(t, svc.Refresh(context.Background(), "DAI"))
}

func TestRefreshFailureDoesNotConsumeWindow(t *testing.T) {
	svc, gateway, _ := balanceFixture(t, fastBalanceConfig())

	gomock.InOrder(
		gateway.EXPECT().
			BalanceOf(gomock.Any(), gomock.Any(), owner).
			Return(nil, errors.New("user rejected")), // non-retryable
		gateway.EXPECT().
			BalanceOf(gomock.Any(), gomock.Any(), owner).
			Return(big.NewInt(7), nil),
	)

	err := svc.Refresh(context.Background(), "USDC")
	require.Error(t, err)

	// The failed attempt must not lock the asset out for the full interval.
	require.NoError(t, svc.Refresh(context.Background(), "USDC"))
	balance, ok := svc.GetBalance("USDC")
	require.True(t, ok)
	assert.Equal(t, big.NewInt(7), balance.Raw)
}

func TestRefreshUnknownAsset(t *testing.T) {
	svc, _, _ := balanceFixture(t, fastBalanceConfig())

	err := svc.Refresh(context.Background(), "DOGE")
	require.Error(t, err)
	assert.Equal(t, swaperr.KindInvalidPair, swaperr.KindOf(err))
}

func TestTriggerDebouncesBursts(t *testing.T) {
	svc, gateway, _ := balanceFixture(t, fastBalanceConfig())

	gateway.EXPECT().
		BalanceOf(gomock.Any(), gomock.Any(), owner).
		Return(big.NewInt(5), nil).
		Times(1)

	for i := 0; i < 10; i++ {
		svc.Trigger("ETH")
	}

	assert.Eventually(t, func() bool {
		_, ok := svc.GetBalance("ETH")
		return ok
	}, time.Second, 5*time.Millisecond, "the burst must collapse into one fetch")
}

func TestFiatRecomputedOnRateUpdate(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	gateway := mocks.NewMockGateway(ctrl)
	gateway.EXPECT().Owner().Return(owner).AnyTimes()
	gateway.EXPECT().ChainID().Return(uint64(1)).AnyTimes()

	feed := mocks.NewMockPriceSource(ctrl)
	cfg := services.DefaultRatesConfig()
	cfg.RefreshMinAge = 0
	rates := services.NewExchangeRateService(cfg, feed, nil, []string{"ETH"})

	svc := services.NewBalanceService(fastBalanceConfig(), gateway, testRegistry(t), rates)
	t.Cleanup(svc.Stop)

	oneEth, _ := new(big.Int).SetString("1000000000000000000", 10)
	gateway.EXPECT().
		BalanceOf(gomock.Any(), gomock.Any(), owner).
		Return(oneEth, nil).
		Times(1)
	require.NoError(t, svc.Refresh(context.Background(), "ETH"))

	feed.EXPECT().
		LatestQuotes(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(map[string]float64{"ETH": 3000}, nil)
	rates.Refresh(context.Background())

	balance, ok := svc.GetBalance("ETH")
	require.True(t, ok)
	assert.InDelta(t, 3000, balance.Fiat, 1e-9, "fiat follows the rate table without a chain call")
}
