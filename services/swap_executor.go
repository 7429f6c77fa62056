package services

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stablepay/swapkit/client/amm"
	"github.com/stablepay/swapkit/client/chain"
	"github.com/stablepay/swapkit/logger"
	"github.com/stablepay/swapkit/swaperr"
	"github.com/stablepay/swapkit/types"
)

// ErrSwapInProgress is returned when Initiate is called while a session is
// still non-terminal. Sessions are not queued: the caller decides whether to
// wait or abandon the active one.
var ErrSwapInProgress = errors.New("a swap session is already in progress")

// ErrSessionNotFound is returned when resuming an unknown session id.
var ErrSessionNotFound = errors.New("swap session not found")

// ExecutorConfig tunes the swap executor.
type ExecutorConfig struct {
	// SettleDelay is how long to wait after completion before refreshing
	// balances, letting chain state index.
	SettleDelay time.Duration
	// ReceiptTimeout bounds each confirmation wait.
	ReceiptTimeout time.Duration
	// SwapDeadline is the on-chain deadline attached to swap transactions.
	SwapDeadline time.Duration
}

// DefaultExecutorConfig returns the production policy.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		SettleDelay:    2500 * time.Millisecond,
		ReceiptTimeout: 90 * time.Second,
		SwapDeadline:   10 * time.Minute,
	}
}

// InitiateParams describes a requested swap.
type InitiateParams struct {
	FromSymbol string
	ToSymbol   string
	Amount     *big.Int
	Slippage   float64
	// Recipient receives the output when set to an address other than the
	// initiating wallet; the zero address means the wallet itself.
	Recipient common.Address
}

// SwapExecutor orchestrates approve -> swap -> optional forward as a state
// machine over one active SwapSession. Partial on-chain effects are never
// rolled back: recovery is re-invocation, and every step detects and skips
// work that already succeeded.
type SwapExecutor struct {
	cfg        ExecutorConfig
	quotes     *QuoteService
	allowances *AllowanceService
	balances   *BalanceService
	gateway    chain.Gateway
	router     amm.Router
	registry   *types.Registry
	logger     *zap.Logger

	mu      sync.Mutex
	active  *types.SwapSession
	history []*types.SwapSession

	timerMu      sync.Mutex
	settleTimers []*time.Timer
	disposed     bool
}

// NewSwapExecutor wires the executor.
func NewSwapExecutor(cfg ExecutorConfig, quotes *QuoteService, allowances *AllowanceService, balances *BalanceService, gateway chain.Gateway, router amm.Router, registry *types.Registry) *SwapExecutor {
	return &SwapExecutor{
		cfg:        cfg,
		quotes:     quotes,
		allowances: allowances,
		balances:   balances,
		gateway:    gateway,
		router:     router,
		registry:   registry,
		logger:     logger.Log,
	}
}

// Initiate starts a new swap session and drives it to a terminal state.
// A second call while the active session is non-terminal is rejected with
// ErrSwapInProgress.
func (e *SwapExecutor) Initiate(ctx context.Context, params InitiateParams) (*types.SwapSession, error) {
	e.mu.Lock()
	if e.active != nil && !e.active.Status.Terminal() {
		e.mu.Unlock()
		return nil, ErrSwapInProgress
	}

	// Copied so a caller mutating its amount cannot corrupt the session.
	amountIn := new(big.Int)
	if params.Amount != nil {
		amountIn.Set(params.Amount)
	}
	session := &types.SwapSession{
		ID:         uuid.New(),
		FromSymbol: params.FromSymbol,
		ToSymbol:   params.ToSymbol,
		AmountIn:   amountIn,
		Slippage:   params.Slippage,
		Recipient:  params.Recipient,
		Status:     types.StatusIdle,
		TotalSteps: 3,
		StartedAt:  time.Now(),
	}
	if session.Forwarded(e.gateway.Owner()) {
		session.TotalSteps = 4
	}
	e.active = session
	e.history = append(e.history, session)
	e.mu.Unlock()

	err := e.run(ctx, session)
	return e.snapshot(session), err
}

// Resume re-invokes a failed session. Already-satisfied steps are detected
// and skipped: the allowance is re-read on chain (never blindly re-approved)
// and a swap that already confirmed is not resubmitted.
func (e *SwapExecutor) Resume(ctx context.Context, id uuid.UUID) (*types.SwapSession, error) {
	e.mu.Lock()
	session := e.active
	if session == nil || session.ID != id {
		e.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if session.Status != types.StatusFailed {
		e.mu.Unlock()
		return nil, errors.New("only failed sessions can be resumed")
	}
	session.LastError = nil
	e.mu.Unlock()

	err := e.run(ctx, session)
	return e.snapshot(session), err
}

// Session returns a copy of the active session, if any.
func (e *SwapExecutor) Session() (*types.SwapSession, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == nil {
		return nil, false
	}
	return e.snapshotLocked(e.active), true
}

// Sessions returns copies of every session started by this engine instance.
func (e *SwapExecutor) Sessions() []*types.SwapSession {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*types.SwapSession, 0, len(e.history))
	for _, s := range e.history {
		out = append(out, e.snapshotLocked(s))
	}
	return out
}

// Dispose cancels pending settle timers.
func (e *SwapExecutor) Dispose() {
	e.timerMu.Lock()
	defer e.timerMu.Unlock()

	e.disposed = true
	for _, t := range e.settleTimers {
		t.Stop()
	}
	e.settleTimers = nil
}

func (e *SwapExecutor) run(ctx context.Context, session *types.SwapSession) error {
	owner := e.gateway.Owner()

	fromAsset, ok := e.registry.Get(session.FromSymbol)
	if !ok {
		return e.fail(session, swaperr.New(swaperr.KindInvalidPair, "unknown asset %s", session.FromSymbol))
	}
	toAsset, ok := e.registry.Get(session.ToSymbol)
	if !ok {
		return e.fail(session, swaperr.New(swaperr.KindInvalidPair, "unknown asset %s", session.ToSymbol))
	}

	// Quoting
	e.transition(session, types.StatusQuoting, 1)
	quote, err := e.quotes.GetQuote(ctx, session.FromSymbol, session.ToSymbol, session.AmountIn, session.Slippage)
	if err != nil {
		return e.fail(session, err)
	}
	e.mu.Lock()
	session.Quote = quote
	e.mu.Unlock()

	held, err := e.gateway.BalanceOf(ctx, fromAsset, owner)
	if err != nil {
		return e.fail(session, swaperr.Classify(err))
	}
	if held.Cmp(session.AmountIn) < 0 {
		return e.fail(session, swaperr.New(swaperr.KindInsufficientBalance,
			"wallet holds %s %s, need %s", types.FormatUnits(held, fromAsset.Decimals),
			fromAsset.Symbol, types.FormatUnits(session.AmountIn, fromAsset.Decimals)))
	}

	// Approving. EnsureAllowance re-reads the chain, so a resume after a
	// successful approval skips straight through without resubmitting.
	e.transition(session, types.StatusApproving, 2)
	approvalTx, err := e.allowances.EnsureAllowance(ctx, fromAsset, quote.AmountIn)
	if err != nil {
		return e.fail(session, err)
	}
	if approvalTx != (common.Hash{}) {
		e.mu.Lock()
		session.ApprovalTx = approvalTx
		e.mu.Unlock()
	}

	// Swapping. The minimum-output guard travels inside the calldata and is
	// enforced on-chain, not only client-side.
	e.transition(session, types.StatusSwapping, 3)
	if done, checkErr := e.swapAlreadyConfirmed(ctx, session); checkErr != nil {
		return e.fail(session, checkErr)
	} else if !done {
		if err := e.executeSwap(ctx, session, quote); err != nil {
			return e.fail(session, err)
		}
	}

	// Forwarding, only when a distinct recipient was specified.
	if session.Forwarded(owner) {
		e.transition(session, types.StatusForwarding, 4)
		if err := e.forward(ctx, session, toAsset, quote); err != nil {
			return e.fail(session, err)
		}
	}

	e.mu.Lock()
	session.Status = types.StatusCompleted
	session.CompletedAt = time.Now()
	e.mu.Unlock()

	e.logger.Info("swap session completed",
		zap.String("session", session.ID.String()),
		zap.String("from", session.FromSymbol),
		zap.String("to", session.ToSymbol),
		zap.String("swap_tx", session.SwapTx.Hex()))

	e.scheduleBalanceRefresh(session.FromSymbol, session.ToSymbol)
	return nil
}

func (e *SwapExecutor) executeSwap(ctx context.Context, session *types.SwapSession, quote *types.Quote) error {
	callData, err := e.router.BuildSwapTx(amm.SwapParams{
		Path:       quote.Route,
		AmountIn:   quote.AmountIn,
		MinimumOut: quote.MinimumOut,
		Recipient:  e.gateway.Owner(),
		Deadline:   time.Now().Add(e.cfg.SwapDeadline),
	})
	if err != nil {
		return swaperr.Classify(err)
	}

	hash, err := e.gateway.SubmitTransaction(ctx, chain.TxRequest{
		To:       &callData.To,
		Data:     callData.Data,
		Value:    callData.Value,
		GasLimit: quote.GasEstimate,
	})
	if err != nil {
		return swaperr.Classify(err)
	}

	e.mu.Lock()
	session.SwapTx = hash
	e.mu.Unlock()

	receipt, err := e.gateway.WaitForReceipt(ctx, hash, e.cfg.ReceiptTimeout)
	if err != nil {
		return swaperr.Classify(err)
	}
	if receipt.Status == 0 {
		// The router reverts when the on-chain output falls below the
		// minimum-out guard; that is by far the dominant failure here.
		return swaperr.New(swaperr.KindSlippageExceeded, "swap tx %s reverted", hash.Hex())
	}
	return nil
}

// swapAlreadyConfirmed reports whether the session's swap tx, if any, has
// already landed successfully. Used on resume to avoid a duplicate swap.
func (e *SwapExecutor) swapAlreadyConfirmed(ctx context.Context, session *types.SwapSession) (bool, error) {
	e.mu.Lock()
	hash := session.SwapTx
	e.mu.Unlock()

	if hash == (common.Hash{}) {
		return false, nil
	}
	receipt, err := e.gateway.WaitForReceipt(ctx, hash, e.cfg.ReceiptTimeout)
	if err != nil {
		// Unknown tx: treat as not executed and submit again.
		return false, nil
	}
	return receipt.Status == 1, nil
}

// forward transfers the guaranteed output to the recipient. The minimum out
// is forwarded rather than the realized amount; any excess above the guard
// stays with the wallet.
func (e *SwapExecutor) forward(ctx context.Context, session *types.SwapSession, toAsset types.Asset, quote *types.Quote) error {
	e.mu.Lock()
	alreadyForwarded := session.ForwardTx != (common.Hash{})
	e.mu.Unlock()
	if alreadyForwarded {
		return nil
	}

	tokenAddr, ok := toAsset.AddressOn(e.gateway.ChainID())
	if !ok {
		return swaperr.New(swaperr.KindInvalidPair, "asset %s has no address on chain %d", toAsset.Symbol, e.gateway.ChainID())
	}
	data, err := chain.PackTransfer(session.Recipient, quote.MinimumOut)
	if err != nil {
		return swaperr.Classify(err)
	}

	hash, err := e.gateway.SubmitTransaction(ctx, chain.TxRequest{To: &tokenAddr, Data: data, Value: big.NewInt(0)})
	if err != nil {
		return swaperr.Classify(err)
	}

	e.mu.Lock()
	session.ForwardTx = hash
	e.mu.Unlock()

	receipt, err := e.gateway.WaitForReceipt(ctx, hash, e.cfg.ReceiptTimeout)
	if err != nil {
		return swaperr.Classify(err)
	}
	if receipt.Status == 0 {
		return swaperr.New(swaperr.KindUnknown, "forward tx %s reverted", hash.Hex())
	}
	return nil
}

// transition advances status; the step counter never moves backwards, so
// resumed sessions keep their progress visible.
func (e *SwapExecutor) transition(session *types.SwapSession, status types.SessionStatus, step int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	session.Status = status
	if step > session.Step {
		session.Step = step
	}
	e.logger.Debug("swap session transition",
		zap.String("session", session.ID.String()),
		zap.String("status", string(status)),
		zap.Int("step", session.Step))
}

func (e *SwapExecutor) fail(session *types.SwapSession, err error) error {
	classified := swaperr.Classify(err)

	e.mu.Lock()
	session.Status = types.StatusFailed
	session.LastError = classified
	e.mu.Unlock()

	e.logger.Error("swap session failed",
		zap.String("session", session.ID.String()),
		zap.String("kind", string(classified.Kind)),
		zap.Error(classified))

	return classified
}

// scheduleBalanceRefresh triggers the synchronizer for every touched asset
// after the settle delay so chain state has time to index.
func (e *SwapExecutor) scheduleBalanceRefresh(symbols ...string) {
	touched := append(symbols, e.registry.Native().Symbol)

	e.timerMu.Lock()
	defer e.timerMu.Unlock()
	if e.disposed {
		return
	}
	timer := time.AfterFunc(e.cfg.SettleDelay, func() {
		for _, symbol := range touched {
			e.balances.Trigger(symbol)
		}
	})
	e.settleTimers = append(e.settleTimers, timer)
}

func (e *SwapExecutor) snapshot(session *types.SwapSession) *types.SwapSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(session)
}

func (e *SwapExecutor) snapshotLocked(session *types.SwapSession) *types.SwapSession {
	copied := *session
	return &copied
}
