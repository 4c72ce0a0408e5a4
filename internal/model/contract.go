package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskhub/escrow/internal/money"
)

type ContractStatus string

const (
	ContractStatusDraft     ContractStatus = "DRAFT"
	ContractStatusActive    ContractStatus = "ACTIVE"
	ContractStatusPaused    ContractStatus = "PAUSED"
	ContractStatusCompleted ContractStatus = "COMPLETED"
	ContractStatusCancelled ContractStatus = "CANCELLED"
	ContractStatusDisputed  ContractStatus = "DISPUTED"
)

func ParseContractStatus(raw string) (ContractStatus, error) {
	switch ContractStatus(raw) {
	case ContractStatusDraft, ContractStatusActive, ContractStatusPaused,
		ContractStatusCompleted, ContractStatusCancelled, ContractStatusDisputed:
		return ContractStatus(raw), nil
	default:
		return "", fmt.Errorf("unknown contract status %q", raw)
	}
}

type Contract struct {
	ID                     uuid.UUID
	ProjectID              uuid.UUID
	BuyerID                uuid.UUID
	SellerID               uuid.UUID
	OriginatingProposalID  *uuid.UUID
	Title                  string
	TotalAmount            money.Money
	BilledAmount           money.Money
	PaidAmount             money.Money
	Status                 ContractStatus
	AllowOutOfOrderFunding bool
	SignedByBuyerAt        *time.Time
	SignedBySellerAt       *time.Time
	CompletedAt            *time.Time
	Version                int64
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Signed reports whether both parties have signed.
func (c Contract) Signed() bool {
	return c.SignedByBuyerAt != nil && c.SignedBySellerAt != nil
}

// HasOutstandingFunds reports whether any money has been captured that has
// not yet been either paid out or refunded.
func (c Contract) HasOutstandingFunds() bool {
	held, err := c.BilledAmount.Sub(c.PaidAmount)
	if err != nil {
		return true
	}
	return held.IsPositive()
}
