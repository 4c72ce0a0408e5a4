package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskhub/escrow/internal/money"
)

type ProposalStatus string

const (
	ProposalStatusDraft     ProposalStatus = "DRAFT"
	ProposalStatusPending   ProposalStatus = "PENDING"
	ProposalStatusAccepted  ProposalStatus = "ACCEPTED"
	ProposalStatusRejected  ProposalStatus = "REJECTED"
	ProposalStatusWithdrawn ProposalStatus = "WITHDRAWN"
)

func ParseProposalStatus(raw string) (ProposalStatus, error) {
	switch ProposalStatus(raw) {
	case ProposalStatusDraft, ProposalStatusPending, ProposalStatusAccepted,
		ProposalStatusRejected, ProposalStatusWithdrawn:
		return ProposalStatus(raw), nil
	default:
		return "", fmt.Errorf("unknown proposal status %q", raw)
	}
}

// Withdrawn proposals stop counting against the project's proposal limit and
// free the bidder to submit again.
func (s ProposalStatus) Withdrawn() bool { return s == ProposalStatusWithdrawn }

type Proposal struct {
	ID                     uuid.UUID
	ProjectID              uuid.UUID
	BidderID               uuid.UUID
	BidAmount              money.Money
	CoverLetter            string
	EstimatedDeliveryDays  int
	Status                 ProposalStatus
	SubmittedAt            time.Time
	Version                int64
	CreatedAt              time.Time
	UpdatedAt              time.Time
}
