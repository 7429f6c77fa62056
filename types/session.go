package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// SessionStatus enumerates the states of a swap session.
type SessionStatus string

const (
	StatusIdle       SessionStatus = "idle"
	StatusQuoting    SessionStatus = "quoting"
	StatusApproving  SessionStatus = "approving"
	StatusSwapping   SessionStatus = "swapping"
	StatusForwarding SessionStatus = "forwarding"
	StatusCompleted  SessionStatus = "completed"
	StatusFailed     SessionStatus = "failed"
)

// Terminal reports whether the session has finished, successfully or not.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// SwapSession tracks a single approve -> swap -> optional forward execution.
// Step is monotonically non-decreasing until a terminal status is reached.
type SwapSession struct {
	ID         uuid.UUID      `json:"id"`
	FromSymbol string         `json:"from_symbol"`
	ToSymbol   string         `json:"to_symbol"`
	AmountIn   *big.Int       `json:"amount_in"`
	Slippage   float64        `json:"slippage"`
	Recipient  common.Address `json:"recipient"` // zero address means the initiating wallet
	Status     SessionStatus  `json:"status"`
	Step       int            `json:"step"`
	TotalSteps int            `json:"total_steps"`
	LastError  error          `json:"-"`

	Quote       *Quote      `json:"quote,omitempty"`
	ApprovalTx  common.Hash `json:"approval_tx,omitempty"`
	SwapTx      common.Hash `json:"swap_tx,omitempty"`
	ForwardTx   common.Hash `json:"forward_tx,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt time.Time   `json:"completed_at,omitempty"`
}

// Forwarded reports whether the session delivers to a recipient other than
// the initiating wallet.
func (s *SwapSession) Forwarded(wallet common.Address) bool {
	return s.Recipient != (common.Address{}) && s.Recipient != wallet
}
