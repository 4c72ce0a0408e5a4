// Package store defines the persistence boundary for the escrow core.
// Entities are versioned records: every update is conditional on the version
// the caller read, and a mismatch surfaces ErrStaleWrite so the caller can
// re-read and retry. Multi-entity mutations run inside Atomically and commit
// or roll back as one unit.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/taskhub/escrow/internal/model"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrStaleWrite = errors.New("stale write")
	ErrDuplicate  = errors.New("duplicate record")
)

// Queries is the per-entity access contract shared by the root store and the
// transaction handle passed to Atomically.
type Queries interface {
	CreateProject(ctx context.Context, project *model.Project) error
	GetProject(ctx context.Context, id uuid.UUID) (*model.Project, error)
	UpdateProject(ctx context.Context, project *model.Project) error

	CreateProposal(ctx context.Context, proposal *model.Proposal) error
	GetProposal(ctx context.Context, id uuid.UUID) (*model.Proposal, error)
	UpdateProposal(ctx context.Context, proposal *model.Proposal) error
	ListProposalsByProject(ctx context.Context, projectID uuid.UUID) ([]model.Proposal, error)
	GetActiveProposalForBidder(ctx context.Context, projectID, bidderID uuid.UUID) (*model.Proposal, error)

	CreateContract(ctx context.Context, contract *model.Contract) error
	GetContract(ctx context.Context, id uuid.UUID) (*model.Contract, error)
	UpdateContract(ctx context.Context, contract *model.Contract) error
	ListContractsByProject(ctx context.Context, projectID uuid.UUID) ([]model.Contract, error)

	CreateMilestone(ctx context.Context, milestone *model.Milestone) error
	GetMilestone(ctx context.Context, id uuid.UUID) (*model.Milestone, error)
	UpdateMilestone(ctx context.Context, milestone *model.Milestone) error
	ListMilestonesByContract(ctx context.Context, contractID uuid.UUID) ([]model.Milestone, error)

	CreateTransaction(ctx context.Context, txn *model.Transaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*model.Transaction, error)
	UpdateTransaction(ctx context.Context, txn *model.Transaction) error
	GetTransactionByKey(ctx context.Context, idempotencyKey string) (*model.Transaction, error)
	ListTransactionsByContract(ctx context.Context, contractID uuid.UUID) ([]model.Transaction, error)
}

type Store interface {
	Queries

	// Atomically runs fn inside one atomic unit. Either every write fn makes
	// commits, or none do.
	Atomically(ctx context.Context, fn func(q Queries) error) error
}
