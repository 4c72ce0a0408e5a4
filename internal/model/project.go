package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ProjectStatus string

const (
	ProjectStatusDraft      ProjectStatus = "DRAFT"
	ProjectStatusOpen       ProjectStatus = "OPEN"
	ProjectStatusInProgress ProjectStatus = "IN_PROGRESS"
	ProjectStatusCompleted  ProjectStatus = "COMPLETED"
	ProjectStatusCancelled  ProjectStatus = "CANCELLED"
	ProjectStatusClosed     ProjectStatus = "CLOSED"
)

func ParseProjectStatus(raw string) (ProjectStatus, error) {
	switch ProjectStatus(raw) {
	case ProjectStatusDraft, ProjectStatusOpen, ProjectStatusInProgress,
		ProjectStatusCompleted, ProjectStatusCancelled, ProjectStatusClosed:
		return ProjectStatus(raw), nil
	default:
		return "", fmt.Errorf("unknown project status %q", raw)
	}
}

type Project struct {
	ID              uuid.UUID
	OwnerID         uuid.UUID
	Title           string
	Description     string
	Currency        string
	Status          ProjectStatus
	AllowsProposals bool
	MaxProposals    int
	ProposalCount   int
	ViewCount       int64
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
