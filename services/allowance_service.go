package services

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/stablepay/swapkit/client/amm"
	"github.com/stablepay/swapkit/client/chain"
	"github.com/stablepay/swapkit/logger"
	"github.com/stablepay/swapkit/swaperr"
	"github.com/stablepay/swapkit/types"
)

// approvalMultiplierBits sizes the generous approval: required << 16, capped
// at uint256 max, to amortize future approvals for the same pair.
const approvalMultiplierBits = 16

// AllowanceConfig tunes the allowance manager.
type AllowanceConfig struct {
	// ReceiptTimeout bounds the wait for the approval confirmation.
	ReceiptTimeout time.Duration
	// Retry is the policy for retryable read failures.
	Retry swaperr.RetryConfig
}

// DefaultAllowanceConfig returns the production policy.
func DefaultAllowanceConfig() AllowanceConfig {
	return AllowanceConfig{
		ReceiptTimeout: 60 * time.Second,
		Retry:          swaperr.DefaultRetryConfig(),
	}
}

// AllowanceService ensures the AMM router is authorized to move the wallet's
// funds before a swap. The on-chain allowance is always re-read, which makes
// resumed sessions idempotent: an approval that already went through is
// detected and skipped, never resubmitted.
type AllowanceService struct {
	cfg     AllowanceConfig
	gateway chain.Gateway
	router  amm.Router
	logger  *zap.Logger

	mu      sync.RWMutex
	records map[string]types.AllowanceRecord
}

// NewAllowanceService wires the allowance manager.
func NewAllowanceService(cfg AllowanceConfig, gateway chain.Gateway, router amm.Router) *AllowanceService {
	return &AllowanceService{
		cfg:     cfg,
		gateway: gateway,
		router:  router,
		logger:  logger.Log,
		records: make(map[string]types.AllowanceRecord),
	}
}

// EnsureAllowance makes sure the router may move at least required of the
// asset. Returns the approval tx hash when one was submitted; a zero hash
// means the existing allowance was already sufficient.
func (s *AllowanceService) EnsureAllowance(ctx context.Context, asset types.Asset, required *big.Int) (common.Hash, error) {
	if asset.Native {
		return common.Hash{}, nil
	}

	owner := s.gateway.Owner()
	spender := s.router.Spender()

	var current *big.Int
	err := swaperr.Retry(ctx, s.cfg.Retry, func() error {
		var readErr error
		current, readErr = s.gateway.Allowance(ctx, asset, owner, spender)
		return readErr
	})
	if err != nil {
		return common.Hash{}, swaperr.Classify(err)
	}

	s.record(owner, spender, asset.Symbol, current)

	if current.Cmp(required) >= 0 {
		s.logger.Debug("allowance sufficient, skipping approval",
			zap.String("asset", asset.Symbol),
			zap.String("current", current.String()),
			zap.String("required", required.String()))
		return common.Hash{}, nil
	}

	generous := generousApproval(required)
	tokenAddr, ok := asset.AddressOn(s.gateway.ChainID())
	if !ok {
		return common.Hash{}, swaperr.New(swaperr.KindInvalidPair,
			"asset %s has no address on chain %d", asset.Symbol, s.gateway.ChainID())
	}

	callData, err := s.router.BuildApprovalTx(tokenAddr, generous)
	if err != nil {
		return common.Hash{}, swaperr.Classify(err)
	}

	hash, err := s.gateway.SubmitTransaction(ctx, chain.TxRequest{
		To:    &callData.To,
		Data:  callData.Data,
		Value: callData.Value,
	})
	if err != nil {
		// Signer rejection is non-retryable and surfaces immediately.
		return common.Hash{}, swaperr.Classify(err)
	}

	s.logger.Info("approval submitted",
		zap.String("asset", asset.Symbol),
		zap.String("tx", hash.Hex()),
		zap.String("amount", generous.String()))

	receipt, err := s.gateway.WaitForReceipt(ctx, hash, s.cfg.ReceiptTimeout)
	if err != nil {
		return hash, swaperr.Classify(err)
	}
	if receipt.Status == 0 {
		return hash, swaperr.New(swaperr.KindUnknown, "approval tx %s reverted", hash.Hex())
	}

	s.record(owner, spender, asset.Symbol, generous)
	return hash, nil
}

// Allowance returns the last observed record for the asset, if any.
func (s *AllowanceService) Allowance(asset string) (types.AllowanceRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[asset]
	return record, ok
}

func (s *AllowanceService) record(owner, spender common.Address, asset string, amount *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[asset] = types.AllowanceRecord{
		Owner:       owner,
		Spender:     spender,
		Asset:       asset,
		Amount:      new(big.Int).Set(amount),
		LastChecked: time.Now(),
	}
}

func generousApproval(required *big.Int) *big.Int {
	generous := new(big.Int).Lsh(required, approvalMultiplierBits)
	if generous.Cmp(chain.MaxUint256()) > 0 {
		return chain.MaxUint256()
	}
	return generous
}
