package services_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stablepay/swapkit/client/amm"
	"github.com/stablepay/swapkit/client/chain"
	"github.com/stablepay/swapkit/mocks"
	"github.com/stablepay/swapkit/services"
	"github.com/stablepay/swapkit/swaperr"
	"github.com/stablepay/swapkit/types"
)

var (
	wethAddr = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdcAddr = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	daiAddr  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	owner    = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func testRegistry(t *testing.T) *types.Registry {
	t.Helper()
	registry, err := types.NewRegistry([]types.Asset{
		{Symbol: "ETH", Decimals: 18, Native: true},
		{Symbol: "USDC", Decimals: 6, Addresses: map[uint64]common.Address{1: usdcAddr}},
		{Symbol: "DAI", Decimals: 18, Addresses: map[uint64]common.Address{1: daiAddr}},
	})
	require.NoError(t, err)
	return registry
}

func quoteFixture(t *testing.T) (*services.QuoteService, *mocks.MockRouter, *mocks.MockGateway) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	router := mocks.NewMockRouter(ctrl)
	gateway := mocks.NewMockGateway(ctrl)
	gateway.EXPECT().ChainID().Return(uint64(1)).AnyTimes()
	gateway.EXPECT().Owner().Return(owner).AnyTimes()

	cfg := services.DefaultQuoteConfig(wethAddr)
	cfg.Retry.InitialInterval = time.Millisecond
	cfg.Retry.MaxInterval = 2 * time.Millisecond

	rates := services.NewExchangeRateService(services.DefaultRatesConfig(), nil, nil, nil)
	svc := services.NewQuoteService(cfg, router, gateway, testRegistry(t), rates)
	t.Cleanup(svc.Dispose)
	return svc, router, gateway
}

func TestGetQuoteDirectRoute(t *testing.T) {
	svc, router, gateway := quoteFixture(t)

	amountIn := big.NewInt(1_000_000) // 1 USDC
	expectedOut, _ := new(big.Int).SetString("998000000000000000", 10)

	router.EXPECT().
		FindPair(gomock.Any(), usdcAddr, daiAddr).
		Return(&amm.PairHandle{Address: common.HexToAddress("0x01")}, nil)
	router.EXPECT().
		AmountOut(gomock.Any(), amountIn, []common.Address{usdcAddr, daiAddr}).
		Return(expectedOut, nil)
	router.EXPECT().
		BuildSwapTx(gomock.Any()).
		Return(&amm.CallData{To: common.HexToAddress("0x02"), Data: []byte{1}, Value: big.NewInt(0)}, nil)
	gateway.EXPECT().
		EstimateGas(gomock.Any(), gomock.Any()).
		Return(uint64(150_000))

	quote, err := svc.GetQuote(context.Background(), "USDC", "DAI", amountIn, 0.005)
	require.NoError(t, err)

	assert.Equal(t, "USDC", quote.FromSymbol)
	assert.Equal(t, "DAI", quote.ToSymbol)
	assert.Equal(t, expectedOut, quote.ExpectedOut)
	// 0.5% shaved off, integer math rounding down.
	want, _ := new(big.Int).SetString("993010000000000000", 10)
	assert.Equal(t, want, quote.MinimumOut)
	assert.True(t, quote.MinimumOut.Cmp(quote.ExpectedOut) <= 0)
	assert.GreaterOrEqual(t, quote.PriceImpact, 0.0)
	assert.LessOrEqual(t, quote.PriceImpact, 100.0)
	assert.Len(t, quote.Route, 2)
	assert.Equal(t, uint64(150_000), quote.GasEstimate)
	assert.Greater(t, quote.Fees.GasFiat, 0.0)
}

func TestGetQuoteZeroSlippageKeepsFullOutput(t *testing.T) {
	svc, router, _ := quoteFixture(t)

	amountIn := big.NewInt(1_000_000)
	out := big.NewInt(999_000)

	router.EXPECT().
		FindPair(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&amm.PairHandle{}, nil)
	router.EXPECT().
		AmountOut(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(out, nil)
	router.EXPECT().
		BuildSwapTx(gomock.Any()).
		Return(nil, errors.New("unavailable"))

	quote, err := svc.GetQuote(context.Background(), "USDC", "DAI", amountIn, 0)
	require.NoError(t, err)

	assert.Equal(t, 0, quote.MinimumOut.Cmp(quote.ExpectedOut))
	assert.Equal(t, chain.FallbackGasLimit, quote.GasEstimate, "gas estimation failure falls back to the constant")
}

func TestGetQuoteRoutesThroughWrappedNative(t *testing.T) {
	svc, router, _ := quoteFixture(t)

	amountIn := big.NewInt(2_000_000)
	hopPath := []common.Address{usdcAddr, wethAddr, daiAddr}

	router.EXPECT().FindPair(gomock.Any(), usdcAddr, daiAddr).Return(nil, nil)
	router.EXPECT().FindPair(gomock.Any(), usdcAddr, wethAddr).Return(&amm.PairHandle{}, nil)
	router.EXPECT().FindPair(gomock.Any(), wethAddr, daiAddr).Return(&amm.PairHandle{}, nil)
	router.EXPECT().
		AmountOut(gomock.Any(), amountIn, hopPath).
		Return(big.NewInt(1_990_000), nil)
	router.EXPECT().BuildSwapTx(gomock.Any()).Return(nil, errors.New("unavailable"))

	quote, err := svc.GetQuote(context.Background(), "USDC", "DAI", amountIn, 0.01)
	require.NoError(t, err)
	assert.Equal(t, hopPath, quote.Route)
}

func TestGetQuoteFallsBackToDirectAmountOut(t *testing.T) {
	svc, router, _ := quoteFixture(t)

	amountIn := big.NewInt(1_000_000)

	// Routed discovery finds nothing, but the raw amount-out succeeds.
	router.EXPECT().FindPair(gomock.Any(), usdcAddr, daiAddr).Return(nil, nil)
	router.EXPECT().FindPair(gomock.Any(), usdcAddr, wethAddr).Return(nil, nil)
	router.EXPECT().FindPair(gomock.Any(), wethAddr, daiAddr).Return(nil, nil)
	router.EXPECT().
		AmountOut(gomock.Any(), amountIn, []common.Address{usdcAddr, daiAddr}).
		Return(big.NewInt(995_000), nil)
	router.EXPECT().BuildSwapTx(gomock.Any()).Return(nil, errors.New("unavailable"))

	quote, err := svc.GetQuote(context.Background(), "USDC", "DAI", amountIn, 0.005)
	require.NoError(t, err)
	assert.Len(t, quote.Route, 2)
}

func TestGetQuoteNoLiquidityIsHardFailure(t *testing.T) {
	svc, router, _ := quoteFixture(t)

	router.EXPECT().FindPair(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil).Times(3)
	router.EXPECT().
		AmountOut(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, errors.New("execution reverted"))

	_, err := svc.GetQuote(context.Background(), "USDC", "DAI", big.NewInt(1_000_000), 0.005)
	require.Error(t, err)
	assert.Equal(t, swaperr.KindInsufficientLiquidity, swaperr.KindOf(err))
}

func TestGetQuoteTransportFailureIsNotLiquidity(t *testing.T) {
	svc, router, _ := quoteFixture(t)

	refused := errors.New("dial tcp 127.0.0.1:8545: connection refused")
	router.EXPECT().
		FindPair(gomock.Any(), usdcAddr, daiAddr).
		Return(nil, refused).
		MinTimes(2) // transient lookup failures are retried before surfacing
	router.EXPECT().
		AmountOut(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, refused).
		MinTimes(2)

	_, err := svc.GetQuote(context.Background(), "USDC", "DAI", big.NewInt(1_000_000), 0.005)
	require.Error(t, err)
	assert.Equal(t, swaperr.KindNetworkError, swaperr.KindOf(err), "an unreachable node is not a liquidity verdict")
	assert.True(t, swaperr.KindOf(err).Retryable())
}

func TestGetQuoteRetriesTransientLookupFailure(t *testing.T) {
	svc, router, _ := quoteFixture(t)

	calls := 0
	router.EXPECT().
		FindPair(gomock.Any(), usdcAddr, daiAddr).
		DoAndReturn(func(context.Context, common.Address, common.Address) (*amm.PairHandle, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("read tcp: connection reset by peer")
			}
			return &amm.PairHandle{}, nil
		}).
		Times(2)
	router.EXPECT().
		AmountOut(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(big.NewInt(998_000), nil)
	router.EXPECT().BuildSwapTx(gomock.Any()).Return(nil, errors.New("unavailable"))

	quote, err := svc.GetQuote(context.Background(), "USDC", "DAI", big.NewInt(1_000_000), 0.005)
	require.NoError(t, err, "a blip during pair discovery recovers without surfacing")
	assert.NotNil(t, quote)
}

func TestGetQuoteCancelledContextIsNotLiquidity(t *testing.T) {
	svc, router, _ := quoteFixture(t)

	router.EXPECT().
		FindPair(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _, _ common.Address) (*amm.PairHandle, error) {
			return nil, ctx.Err()
		}).
		AnyTimes()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.GetQuote(ctx, "USDC", "DAI", big.NewInt(1_000_000), 0.005)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.NotEqual(t, swaperr.KindInsufficientLiquidity, swaperr.KindOf(err))
	assert.False(t, swaperr.KindOf(err).Retryable())
}

func TestGetQuoteSupersededRequestIsCancelled(t *testing.T) {
	svc, router, _ := quoteFixture(t)

	amountA := big.NewInt(1_000_000)
	amountB := big.NewInt(2_000_000)

	firstStarted := make(chan struct{})
	// The first request parks in pair discovery until it is cancelled.
	router.EXPECT().
		FindPair(gomock.Any(), usdcAddr, daiAddr).
		DoAndReturn(func(ctx context.Context, _, _ common.Address) (*amm.PairHandle, error) {
			close(firstStarted)
			<-ctx.Done()
			return nil, ctx.Err()
		}).
		Times(1)

	done := make(chan error, 1)
	go func() {
		_, err := svc.GetQuote(context.Background(), "USDC", "DAI", amountA, 0.005)
		done <- err
	}()
	<-firstStarted

	// A request for a different key supersedes the pending one.
	router.EXPECT().FindPair(gomock.Any(), usdcAddr, daiAddr).Return(&amm.PairHandle{}, nil)
	router.EXPECT().
		AmountOut(gomock.Any(), amountB, gomock.Any()).
		Return(big.NewInt(1_990_000), nil)
	router.EXPECT().BuildSwapTx(gomock.Any()).Return(nil, errors.New("unavailable"))

	_, err := svc.GetQuote(context.Background(), "USDC", "DAI", amountB, 0.005)
	require.NoError(t, err)

	firstErr := <-done
	require.Error(t, firstErr)
	assert.True(t, errors.Is(firstErr, context.Canceled), "the superseded request surfaces its cancellation")
	assert.NotEqual(t, swaperr.KindInsufficientLiquidity, swaperr.KindOf(firstErr))

	// The cancelled result was never cached: the original key misses again
	// and goes back to the router.
	router.EXPECT().FindPair(gomock.Any(), usdcAddr, daiAddr).Return(&amm.PairHandle{}, nil)
	router.EXPECT().
		AmountOut(gomock.Any(), amountA, gomock.Any()).
		Return(big.NewInt(995_000), nil)
	router.EXPECT().BuildSwapTx(gomock.Any()).Return(nil, errors.New("unavailable"))

	quote, err := svc.GetQuote(context.Background(), "USDC", "DAI", amountA, 0.005)
	require.NoError(t, err)
	assert.NotNil(t, quote)
}

func TestGetQuoteValidation(t *testing.T) {
	tests := []struct {
		name     string
		from     string
		to       string
		amount   *big.Int
		slippage float64
	}{
		{name: "unknown from asset", from: "DOGE", to: "USDC", amount: big.NewInt(1), slippage: 0.005},
		{name: "unknown to asset", from: "USDC", to: "DOGE", amount: big.NewInt(1), slippage: 0.005},
		{name: "same asset", from: "USDC", to: "usdc", amount: big.NewInt(1), slippage: 0.005},
		{name: "nil amount", from: "USDC", to: "DAI", amount: nil, slippage: 0.005},
		{name: "zero amount", from: "USDC", to: "DAI", amount: big.NewInt(0), slippage: 0.005},
		{name: "negative amount", from: "USDC", to: "DAI", amount: big.NewInt(-5), slippage: 0.005},
		{name: "negative slippage", from: "USDC", to: "DAI", amount: big.NewInt(1), slippage: -0.1},
		{name: "slippage of one", from: "USDC", to: "DAI", amount: big.NewInt(1), slippage: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := quoteFixture(t)
			_, err := svc.GetQuote(context.Background(), tt.from, tt.to, tt.amount, tt.slippage)
			require.Error(t, err)
			assert.Equal(t, swaperr.KindInvalidPair, swaperr.KindOf(err))
		})
	}
}

func TestGetQuoteServedFromCache(t *testing.T) {
	svc, router, _ := quoteFixture(t)

	amountIn := big.NewInt(1_000_000)
	router.EXPECT().
		FindPair(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&amm.PairHandle{}, nil).
		Times(1)
	router.EXPECT().
		AmountOut(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(big.NewInt(998_000), nil).
		Times(1)
	router.EXPECT().BuildSwapTx(gomock.Any()).Return(nil, errors.New("unavailable")).Times(1)

	first, err := svc.GetQuote(context.Background(), "USDC", "DAI", amountIn, 0.005)
	require.NoError(t, err)

	second, err := svc.GetQuote(context.Background(), "USDC", "DAI", amountIn, 0.005)
	require.NoError(t, err)
	assert.Same(t, first, second, "a fresh quote is served from cache with no router calls")
}

func TestGetQuoteConcurrentRequestsCollapse(t *testing.T) {
	svc, router, _ := quoteFixture(t)

	amountIn := big.NewInt(1_000_000)
	router.EXPECT().
		FindPair(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, common.Address, common.Address) (*amm.PairHandle, error) {
			time.Sleep(20 * time.Millisecond) // hold the flight open
			return &amm.PairHandle{}, nil
		}).
		Times(1)
	router.EXPECT().
		AmountOut(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(big.NewInt(998_000), nil).
		Times(1)
	router.EXPECT().BuildSwapTx(gomock.Any()).Return(nil, errors.New("unavailable")).Times(1)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*types.Quote, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			quote, err := svc.GetQuote(context.Background(), "USDC", "DAI", amountIn, 0.005)
			assert.NoError(t, err)
			results[i] = quote
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Same(t, results[0], results[i], "identical concurrent requests share one computation")
	}
}
