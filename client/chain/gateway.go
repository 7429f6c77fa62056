// Package chain abstracts reads and writes against the on-chain ledger. The
// engine talks to it exclusively through the Gateway interface; the concrete
// Client wraps an externally supplied JSON-RPC backend and signer capability.
package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/stablepay/swapkit/logger"
	"github.com/stablepay/swapkit/types"
)

//go:generate mockgen -source=gateway.go -destination=../../mocks/chain_mock.go -package=mocks -mock_names=Gateway=MockGateway

const (
	// FallbackGasLimit is used whenever estimation fails; generous enough
	// for a two-hop swap.
	FallbackGasLimit = uint64(400_000)

	readTimeout    = 10 * time.Second
	submitTimeout  = 30 * time.Second
	receiptTimeout = 60 * time.Second
	receiptPoll    = 2 * time.Second
)

// Backend is the subset of the JSON-RPC provider the gateway needs. It is
// satisfied by *ethclient.Client.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// Signer is the already-connected wallet capability. Connecting the wallet
// is out of scope; the engine only consumes the result.
type Signer interface {
	Address() common.Address
	SignTx(tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error)
}

// TxRequest describes a transaction to submit.
type TxRequest struct {
	To       *common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
}

// Gateway abstracts on-chain reads and writes. Failures are returned
// unmodified for the caller to classify, never swallowed.
type Gateway interface {
	Owner() common.Address
	ChainID() uint64
	BalanceOf(ctx context.Context, asset types.Asset, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, asset types.Asset, owner, spender common.Address) (*big.Int, error)
	SubmitTransaction(ctx context.Context, req TxRequest) (common.Hash, error)
	WaitForReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*ethtypes.Receipt, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) uint64
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
}

// Client is the Backend-backed Gateway implementation.
type Client struct {
	backend Backend
	signer  Signer
	chainID *big.Int
	logger  *zap.Logger
}

// NewClient wraps the externally supplied provider and signer.
func NewClient(backend Backend, signer Signer, chainID uint64) *Client {
	return &Client{
		backend: backend,
		signer:  signer,
		chainID: new(big.Int).SetUint64(chainID),
		logger:  logger.Log,
	}
}

// Owner returns the connected wallet address.
func (c *Client) Owner() common.Address {
	return c.signer.Address()
}

// ChainID returns the active network id.
func (c *Client) ChainID() uint64 {
	return c.chainID.Uint64()
}

// BalanceOf reads the owner's holding of the asset: the account balance for
// the native asset, an ERC-20 balanceOf call otherwise.
func (c *Client) BalanceOf(ctx context.Context, asset types.Asset, owner common.Address) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	if asset.Native {
		balance, err := c.backend.BalanceAt(ctx, owner, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read native balance for %s", owner.Hex())
		}
		return balance, nil
	}

	tokenAddr, ok := asset.AddressOn(c.ChainID())
	if !ok {
		return nil, errors.Errorf("asset %s has no address on chain %d", asset.Symbol, c.ChainID())
	}

	data, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack balanceOf call")
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: data}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "balanceOf call failed for %s", asset.Symbol)
	}
	return unpackBigInt("balanceOf", out)
}

// Allowance reads the on-chain authorization for (owner, spender).
func (c *Client) Allowance(ctx context.Context, asset types.Asset, owner, spender common.Address) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	if asset.Native {
		// The native asset needs no allowance; report unbounded.
		return new(big.Int).Set(maxUint256), nil
	}

	tokenAddr, ok := asset.AddressOn(c.ChainID())
	if !ok {
		return nil, errors.Errorf("asset %s has no address on chain %d", asset.Symbol, c.ChainID())
	}

	data, err := erc20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack allowance call")
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: data}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "allowance call failed for %s", asset.Symbol)
	}
	return unpackBigInt("allowance", out)
}

// SubmitTransaction signs and broadcasts the request, returning the tx hash.
func (c *Client) SubmitTransaction(ctx context.Context, req TxRequest) (common.Hash, error) {
	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	from := c.signer.Address()
	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to get nonce")
	}

	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to get gas price")
	}

	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}
	gasLimit := req.GasLimit
	if gasLimit == 0 {
		gasLimit = c.EstimateGas(ctx, ethereum.CallMsg{
			From:     from,
			To:       req.To,
			GasPrice: gasPrice,
			Value:    value,
			Data:     req.Data,
		})
	}

	rawTx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       req.To,
		Value:    value,
		Data:     req.Data,
	})

	signedTx, err := c.signer.SignTx(rawTx, c.chainID)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to sign tx")
	}

	if err := c.backend.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to send tx")
	}

	hash := signedTx.Hash()
	c.logger.Info("transaction submitted",
		zap.String("hash", hash.Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas_limit", gasLimit))

	return hash, nil
}

// WaitForReceipt polls until the transaction is mined or the timeout lapses.
// A "not found" response means the tx is still pending and is tolerated.
func (c *Client) WaitForReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*ethtypes.Receipt, error) {
	if timeout <= 0 {
		timeout = receiptTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(receiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, errors.Wrapf(err, "failed to get receipt for %s", hash.Hex())
		}

		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "timed out waiting for receipt %s", hash.Hex())
		case <-ticker.C:
		}
	}
}

// EstimateGas estimates gas for the call, falling back to FallbackGasLimit on
// failure so the caller is never blocked on estimation.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) uint64 {
	gas, err := c.backend.EstimateGas(ctx, msg)
	if err != nil {
		c.logger.Warn("gas estimation failed, using fallback",
			zap.Uint64("fallback", FallbackGasLimit),
			zap.Error(err))
		return FallbackGasLimit
	}
	return gas
}

// CallContract executes a read-only contract call.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	return c.backend.CallContract(ctx, msg, nil)
}
