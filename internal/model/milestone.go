package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskhub/escrow/internal/money"
)

type MilestoneStatus string

const (
	MilestoneStatusPending    MilestoneStatus = "pending"
	MilestoneStatusFunded     MilestoneStatus = "funded"
	MilestoneStatusInProgress MilestoneStatus = "in_progress"
	MilestoneStatusSubmitted  MilestoneStatus = "submitted"
	MilestoneStatusApproved   MilestoneStatus = "approved"
	MilestoneStatusReleased   MilestoneStatus = "released"
	MilestoneStatusDisputed   MilestoneStatus = "disputed"
)

func ParseMilestoneStatus(raw string) (MilestoneStatus, error) {
	switch MilestoneStatus(raw) {
	case MilestoneStatusPending, MilestoneStatusFunded, MilestoneStatusInProgress,
		MilestoneStatusSubmitted, MilestoneStatusApproved, MilestoneStatusReleased,
		MilestoneStatusDisputed:
		return MilestoneStatus(raw), nil
	default:
		return "", fmt.Errorf("unknown milestone status %q", raw)
	}
}

// FundsHeld reports whether escrow currently holds this milestone's amount.
func (s MilestoneStatus) FundsHeld() bool {
	switch s {
	case MilestoneStatusFunded, MilestoneStatusInProgress, MilestoneStatusSubmitted:
		return true
	default:
		return false
	}
}

type Milestone struct {
	ID              uuid.UUID
	ContractID      uuid.UUID
	Title           string
	OrderIndex      int
	Amount          money.Money
	Status          MilestoneStatus
	DeliverableURL  string
	SubmissionNotes string
	FundedAt        *time.Time
	StartedAt       *time.Time
	SubmittedAt     *time.Time
	ApprovedAt      *time.Time
	ReleasedAt      *time.Time
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
