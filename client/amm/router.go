// Package amm wraps the external AMM routing protocol: pair discovery,
// amount-out lookups and swap/approval transaction building. The engine
// consumes it through the Router interface; V2Router implements it against a
// Uniswap-v2-compatible factory and router pair.
package amm

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/stablepay/swapkit/client/chain"
	"github.com/stablepay/swapkit/logger"
)

//go:generate mockgen -source=router.go -destination=../../mocks/amm_mock.go -package=mocks -mock_names=Router=MockRouter

// PairHandle identifies a discovered liquidity pair.
type PairHandle struct {
	Address common.Address
	Token0  common.Address
	Token1  common.Address
}

// CallData is an unsigned transaction payload ready for the gateway.
type CallData struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// SwapParams describes the swap transaction to build. MinimumOut is enforced
// on-chain by the router contract, not just client-side.
type SwapParams struct {
	Path       []common.Address
	AmountIn   *big.Int
	MinimumOut *big.Int
	Recipient  common.Address
	Deadline   time.Time
}

// Router is the protocol client surface the quote service and swap executor
// consume.
type Router interface {
	// Spender is the address that must be approved to move input tokens.
	Spender() common.Address
	// FindPair returns the liquidity pair for the two tokens, or nil when
	// none exists.
	FindPair(ctx context.Context, a, b common.Address) (*PairHandle, error)
	// AmountOut quotes the output of swapping amountIn along the path.
	AmountOut(ctx context.Context, amountIn *big.Int, path []common.Address) (*big.Int, error)
	// BuildSwapTx builds the unsigned swap transaction.
	BuildSwapTx(params SwapParams) (*CallData, error)
	// BuildApprovalTx builds the unsigned approval transaction for the
	// router's spender.
	BuildApprovalTx(token common.Address, amount *big.Int) (*CallData, error)
}

// Caller executes read-only contract calls; satisfied by chain.Client.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
}

// V2Router talks to a Uniswap-v2-compatible deployment.
type V2Router struct {
	caller  Caller
	router  common.Address
	factory common.Address
	logger  *zap.Logger
}

// NewV2Router builds a router client for the given deployment addresses.
func NewV2Router(caller Caller, router, factory common.Address) *V2Router {
	return &V2Router{
		caller:  caller,
		router:  router,
		factory: factory,
		logger:  logger.Log,
	}
}

// Spender returns the router contract address.
func (r *V2Router) Spender() common.Address {
	return r.router
}

// FindPair asks the factory for the pair contract of (a, b). A zero address
// response means no pair has been deployed.
func (r *V2Router) FindPair(ctx context.Context, a, b common.Address) (*PairHandle, error) {
	data, err := factoryABI.Pack("getPair", a, b)
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack getPair call")
	}
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.factory, Data: data})
	if err != nil {
		return nil, errors.Wrap(err, "getPair call failed")
	}
	values, err := factoryABI.Unpack("getPair", out)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unpack getPair result")
	}
	pairAddr, ok := values[0].(common.Address)
	if !ok {
		return nil, errors.Errorf("unexpected getPair result type %T", values[0])
	}
	if pairAddr == (common.Address{}) {
		return nil, nil
	}

	token0, token1 := a, b
	if bytesCompare(b, a) {
		token0, token1 = b, a
	}
	return &PairHandle{Address: pairAddr, Token0: token0, Token1: token1}, nil
}

// AmountOut quotes via the router's getAmountsOut along the path.
func (r *V2Router) AmountOut(ctx context.Context, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	if len(path) < 2 {
		return nil, errors.Errorf("path needs at least 2 hops, got %d", len(path))
	}
	data, err := routerABI.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack getAmountsOut call")
	}
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.router, Data: data})
	if err != nil {
		return nil, errors.Wrap(err, "getAmountsOut call failed")
	}
	values, err := routerABI.Unpack("getAmountsOut", out)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unpack getAmountsOut result")
	}
	amounts, ok := values[0].([]*big.Int)
	if !ok {
		return nil, errors.Errorf("unexpected getAmountsOut result type %T", values[0])
	}
	if len(amounts) != len(path) {
		return nil, errors.Errorf("getAmountsOut returned %d amounts for %d hops", len(amounts), len(path))
	}
	return amounts[len(amounts)-1], nil
}

// BuildSwapTx packs swapExactTokensForTokens with the on-chain minimum-out
// guard baked in.
func (r *V2Router) BuildSwapTx(params SwapParams) (*CallData, error) {
	if len(params.Path) < 2 {
		return nil, errors.Errorf("path needs at least 2 hops, got %d", len(params.Path))
	}
	if params.AmountIn == nil || params.AmountIn.Sign() <= 0 {
		return nil, errors.New("amount in must be positive")
	}
	if params.MinimumOut == nil {
		return nil, errors.New("minimum out is required")
	}
	deadline := big.NewInt(params.Deadline.Unix())
	data, err := routerABI.Pack("swapExactTokensForTokens",
		params.AmountIn, params.MinimumOut, params.Path, params.Recipient, deadline)
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack swap call")
	}
	return &CallData{To: r.router, Data: data, Value: big.NewInt(0)}, nil
}

// BuildApprovalTx packs an ERC-20 approve for the router.
func (r *V2Router) BuildApprovalTx(token common.Address, amount *big.Int) (*CallData, error) {
	data, err := chain.PackApprove(r.router, amount)
	if err != nil {
		return nil, err
	}
	return &CallData{To: token, Data: data, Value: big.NewInt(0)}, nil
}

// bytesCompare reports whether a sorts before b, matching the factory's
// token0/token1 ordering.
func bytesCompare(a, b common.Address) bool {
	return a.Cmp(b) < 0
}
