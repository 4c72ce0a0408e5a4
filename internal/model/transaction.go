package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskhub/escrow/internal/money"
)

type TransactionType string

const (
	TransactionTypeFund       TransactionType = "fund"
	TransactionTypeRelease    TransactionType = "release"
	TransactionTypePayout     TransactionType = "payout"
	TransactionTypeRefund     TransactionType = "refund"
	TransactionTypeFee        TransactionType = "fee"
	TransactionTypeEscrow     TransactionType = "escrow"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
)

func ParseTransactionType(raw string) (TransactionType, error) {
	switch TransactionType(raw) {
	case TransactionTypeFund, TransactionTypeRelease, TransactionTypePayout,
		TransactionTypeRefund, TransactionTypeFee, TransactionTypeEscrow,
		TransactionTypeWithdrawal:
		return TransactionType(raw), nil
	default:
		return "", fmt.Errorf("unknown transaction type %q", raw)
	}
}

type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusSuccess    TransactionStatus = "success"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusCancelled  TransactionStatus = "cancelled"
	TransactionStatusRefunded   TransactionStatus = "refunded"
)

func ParseTransactionStatus(raw string) (TransactionStatus, error) {
	switch TransactionStatus(raw) {
	case TransactionStatusPending, TransactionStatusProcessing,
		TransactionStatusSuccess, TransactionStatusFailed,
		TransactionStatusCancelled, TransactionStatusRefunded:
		return TransactionStatus(raw), nil
	default:
		return "", fmt.Errorf("unknown transaction status %q", raw)
	}
}

// Terminal statuses admit no further transition. success and refunded are
// additionally immutable outside audit metadata.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case TransactionStatusSuccess, TransactionStatusFailed,
		TransactionStatusCancelled, TransactionStatusRefunded:
		return true
	default:
		return false
	}
}

// Transaction is the only entity permitted to mutate external money state.
type Transaction struct {
	ID                uuid.UUID
	ContractID        *uuid.UUID
	MilestoneID       *uuid.UUID
	Type              TransactionType
	Amount            money.Money
	Status            TransactionStatus
	IdempotencyKey    string
	Provider          string
	ProviderReference string
	PlatformFee       money.Money
	ProcessorFee      money.Money
	NetAmount         money.Money
	Description       string
	ErrorCode         string
	ErrorMessage      string
	RetryCount        int
	InitiatedAt       time.Time
	ProcessedAt       *time.Time
	CompletedAt       *time.Time
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
