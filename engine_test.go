package swapkit_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	swapkit "github.com/stablepay/swapkit"
	"github.com/stablepay/swapkit/client/amm"
	"github.com/stablepay/swapkit/mocks"
	"github.com/stablepay/swapkit/types"
)

var (
	walletAddr  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	routerAddr  = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	factoryAddr = common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f")
	wethAddr    = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdcAddr    = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	daiAddr     = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
)

func testConfig() swapkit.Config {
	network := swapkit.NetworkConfig{
		RPCURL:         "https://rpc.invalid",
		RouterAddress:  routerAddr,
		FactoryAddress: factoryAddr,
		WrappedNative:  wethAddr,
	}
	return swapkit.Config{
		Stage:      "test",
		ChainID:    1,
		Networks:   map[uint64]swapkit.NetworkConfig{1: network, 137: network},
		FiatAnchor: "USD",
		Assets: []types.Asset{
			{Symbol: "ETH", Decimals: 18, Native: true},
			{Symbol: "USDC", Decimals: 6, Addresses: map[uint64]common.Address{1: usdcAddr, 137: usdcAddr}},
			{Symbol: "DAI", Decimals: 18, Addresses: map[uint64]common.Address{1: daiAddr, 137: daiAddr}},
		},
	}
}

func testDeps(t *testing.T) (swapkit.Deps, *mocks.MockGateway, *mocks.MockRouter) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	gateway := mocks.NewMockGateway(ctrl)
	router := mocks.NewMockRouter(ctrl)
	gateway.EXPECT().Owner().Return(walletAddr).AnyTimes()
	gateway.EXPECT().ChainID().Return(uint64(1)).AnyTimes()
	router.EXPECT().Spender().Return(routerAddr).AnyTimes()

	return swapkit.Deps{Gateway: gateway, Router: router}, gateway, router
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*swapkit.Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*swapkit.Config) {}},
		{name: "missing chain id", mutate: func(c *swapkit.Config) { c.ChainID = 0 }, wantErr: "chain id"},
		{name: "no networks", mutate: func(c *swapkit.Config) { c.Networks = nil }, wantErr: "network"},
		{
			name:    "selected chain absent",
			mutate:  func(c *swapkit.Config) { c.ChainID = 42 },
			wantErr: "no network entry for chain 42",
		},
		{
			name: "missing router",
			mutate: func(c *swapkit.Config) {
				n := c.Networks[1]
				n.RouterAddress = common.Address{}
				c.Networks[1] = n
			},
			wantErr: "router address",
		},
		{name: "no assets", mutate: func(c *swapkit.Config) { c.Assets = nil }, wantErr: "asset"},
		{name: "no fiat anchor", mutate: func(c *swapkit.Config) { c.FiatAnchor = "" }, wantErr: "fiat anchor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewRequiresSignerOrGateway(t *testing.T) {
	_, err := swapkit.New(testConfig(), swapkit.Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signer")
}

func TestEngineLifecycle(t *testing.T) {
	deps, _, _ := testDeps(t)

	engine, err := swapkit.New(testConfig(), deps)
	require.NoError(t, err)
	defer engine.Dispose()

	// Chain-bound operations refuse to run before Init.
	_, err = engine.GetQuote(context.Background(), "USDC", "DAI", big.NewInt(1), 0.005)
	require.Error(t, err)

	require.NoError(t, engine.Init(context.Background()))
	assert.Error(t, engine.Init(context.Background()), "double init is rejected")
	assert.Equal(t, uint64(1), engine.ChainID())
}

func TestEngineQuoteDelegation(t *testing.T) {
	deps, gateway, router := testDeps(t)

	engine, err := swapkit.New(testConfig(), deps)
	require.NoError(t, err)
	defer engine.Dispose()
	require.NoError(t, engine.Init(context.Background()))

	amountIn := big.NewInt(1_000_000)
	router.EXPECT().FindPair(gomock.Any(), usdcAddr, daiAddr).Return(&amm.PairHandle{}, nil)
	router.EXPECT().
		AmountOut(gomock.Any(), amountIn, []common.Address{usdcAddr, daiAddr}).
		Return(big.NewInt(998_000), nil)
	router.EXPECT().
		BuildSwapTx(gomock.Any()).
		Return(&amm.CallData{To: routerAddr, Data: []byte{1}, Value: big.NewInt(0)}, nil)
	gateway.EXPECT().EstimateGas(gomock.Any(), gomock.Any()).Return(uint64(150_000))

	quote, err := engine.GetQuote(context.Background(), "USDC", "DAI", amountIn, 0.005)
	require.NoError(t, err)
	assert.Equal(t, "USDC", quote.FromSymbol)
}

func TestEngineConversionAndFormatting(t *testing.T) {
	deps, _, _ := testDeps(t)

	engine, err := swapkit.New(testConfig(), deps)
	require.NoError(t, err)
	defer engine.Dispose()
	require.NoError(t, engine.Init(context.Background()))

	// Fallback rates are available with no price feed configured.
	assert.InDelta(t, 2000, engine.Rate("ETH", "USD"), 1e-9)
	assert.InDelta(t, 4000, engine.Convert(2, "ETH", "USD"), 1e-9)
	assert.Equal(t, "$2,000.00", engine.Format(2000, "USD"))
	assert.Equal(t, "1.5 ETH", engine.Format(1.5, "ETH"))
}

func TestEngineSwitchNetwork(t *testing.T) {
	deps, _, _ := testDeps(t)

	engine, err := swapkit.New(testConfig(), deps)
	require.NoError(t, err)
	defer engine.Dispose()
	require.NoError(t, engine.Init(context.Background()))

	require.Error(t, engine.SwitchNetwork(context.Background(), 42), "unknown chain is rejected")
	assert.Equal(t, uint64(1), engine.ChainID())

	require.NoError(t, engine.SwitchNetwork(context.Background(), 137))
	assert.Equal(t, uint64(137), engine.ChainID())

	require.NoError(t, engine.SwitchNetwork(context.Background(), 137), "switching to the current chain is a no-op")
}
