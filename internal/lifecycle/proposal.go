package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/taskhub/escrow/internal/model"
	"github.com/taskhub/escrow/internal/money"
	"github.com/taskhub/escrow/internal/store"
)

type SubmitProposalInput struct {
	ProjectID             uuid.UUID
	BidderID              uuid.UUID
	BidAmount             money.Money
	CoverLetter           string
	EstimatedDeliveryDays int
}

// SubmitProposal records a pending bid on an open project. One non-withdrawn
// proposal per (project, bidder) at a time.
func (e *Engine) SubmitProposal(ctx context.Context, input SubmitProposalInput) (*model.Proposal, error) {
	if input.BidderID == uuid.Nil {
		return nil, fmt.Errorf("%w: bidder is required", ErrValidation)
	}
	if !input.BidAmount.IsPositive() {
		return nil, fmt.Errorf("%w: bid amount must be positive", ErrValidation)
	}

	var proposal *model.Proposal
	err := e.withRetry(ctx, func(ctx context.Context) error {
		return e.store.Atomically(ctx, func(q store.Queries) error {
			project, err := q.GetProject(ctx, input.ProjectID)
			if err != nil {
				return err
			}
			if project.Status != model.ProjectStatusOpen {
				return fmt.Errorf("%w: project is not accepting proposals", ErrValidation)
			}
			if !project.AllowsProposals {
				return fmt.Errorf("%w: project is not accepting proposals", ErrValidation)
			}
			if project.OwnerID == input.BidderID {
				return fmt.Errorf("%w: cannot bid on your own project", ErrValidation)
			}
			if project.Currency != input.BidAmount.Currency() {
				return fmt.Errorf("%w: project currency is %s", money.ErrCurrencyMismatch, project.Currency)
			}
			if project.ProposalCount >= project.MaxProposals {
				return fmt.Errorf("%w: project reached its proposal limit", ErrValidation)
			}
			if _, err := q.GetActiveProposalForBidder(ctx, input.ProjectID, input.BidderID); err == nil {
				return fmt.Errorf("%w: bidder already has a proposal on this project", ErrValidation)
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}

			proposal = &model.Proposal{
				ID:                    uuid.New(),
				ProjectID:             input.ProjectID,
				BidderID:              input.BidderID,
				BidAmount:             input.BidAmount,
				CoverLetter:           input.CoverLetter,
				EstimatedDeliveryDays: input.EstimatedDeliveryDays,
				Status:                model.ProposalStatusPending,
				SubmittedAt:           e.now(),
			}
			if err := q.CreateProposal(ctx, proposal); err != nil {
				return err
			}
			project.ProposalCount++
			return q.UpdateProject(ctx, project)
		})
	})
	if err != nil {
		return nil, err
	}
	e.emit(ctx, model.EventProposalSubmitted, "proposal", proposal.ID, map[string]any{
		"project_id": proposal.ProjectID,
		"bid_amount": proposal.BidAmount.String(),
	})
	return proposal, nil
}

// AcceptProposal runs the full accept cascade in one atomic unit: the chosen
// proposal becomes ACCEPTED, every other pending proposal on the project is
// REJECTED, a draft contract is opened for the bid amount, and the project
// moves to IN_PROGRESS with proposals shut off.
func (e *Engine) AcceptProposal(ctx context.Context, proposalID, actorID uuid.UUID) (*model.Contract, error) {
	var contract *model.Contract
	err := e.withRetry(ctx, func(ctx context.Context) error {
		return e.store.Atomically(ctx, func(q store.Queries) error {
			proposal, err := q.GetProposal(ctx, proposalID)
			if err != nil {
				return err
			}
			project, err := q.GetProject(ctx, proposal.ProjectID)
			if err != nil {
				return err
			}
			if project.OwnerID != actorID {
				return fmt.Errorf("%w: only the project owner may accept proposals", ErrPermissionDenied)
			}
			if err := checkProposalTransition(proposal.Status, model.ProposalStatusAccepted); err != nil {
				return err
			}
			if project.Status != model.ProjectStatusOpen {
				return fmt.Errorf("%w: project is %s, not OPEN", ErrInvalidTransition, project.Status)
			}
			if !project.AllowsProposals {
				return fmt.Errorf("%w: project no longer accepts proposals", ErrInvalidTransition)
			}
			if proposal.BidderID == project.OwnerID {
				return fmt.Errorf("%w: owner cannot win their own project", ErrValidation)
			}

			siblings, err := q.ListProposalsByProject(ctx, proposal.ProjectID)
			if err != nil {
				return err
			}
			for _, sibling := range siblings {
				if sibling.Status == model.ProposalStatusAccepted {
					return fmt.Errorf("%w: project already has an accepted proposal", ErrInvalidTransition)
				}
			}

			proposal.Status = model.ProposalStatusAccepted
			if err := q.UpdateProposal(ctx, proposal); err != nil {
				return err
			}

			for _, sibling := range siblings {
				if sibling.ID == proposal.ID || sibling.Status != model.ProposalStatusPending {
					continue
				}
				sibling := sibling
				sibling.Status = model.ProposalStatusRejected
				if err := q.UpdateProposal(ctx, &sibling); err != nil {
					return err
				}
			}

			proposalID := proposal.ID
			contract = &model.Contract{
				ID:                    uuid.New(),
				ProjectID:             project.ID,
				BuyerID:               project.OwnerID,
				SellerID:              proposal.BidderID,
				OriginatingProposalID: &proposalID,
				Title:                 project.Title,
				TotalAmount:           proposal.BidAmount,
				BilledAmount:          money.Zero(proposal.BidAmount.Currency()),
				PaidAmount:            money.Zero(proposal.BidAmount.Currency()),
				Status:                model.ContractStatusDraft,
			}
			if err := q.CreateContract(ctx, contract); err != nil {
				return err
			}

			project.Status = model.ProjectStatusInProgress
			project.AllowsProposals = false
			return q.UpdateProject(ctx, project)
		})
	})
	if err != nil {
		return nil, err
	}
	e.emit(ctx, model.EventProposalAccepted, "proposal", proposalID, map[string]any{
		"contract_id": contract.ID,
	})
	e.emit(ctx, model.EventContractCreated, "contract", contract.ID, map[string]any{
		"project_id":   contract.ProjectID,
		"total_amount": contract.TotalAmount.String(),
	})
	return contract, nil
}

func (e *Engine) RejectProposal(ctx context.Context, proposalID, actorID uuid.UUID) (*model.Proposal, error) {
	var rejected *model.Proposal
	err := e.withRetry(ctx, func(ctx context.Context) error {
		return e.store.Atomically(ctx, func(q store.Queries) error {
			proposal, err := q.GetProposal(ctx, proposalID)
			if err != nil {
				return err
			}
			project, err := q.GetProject(ctx, proposal.ProjectID)
			if err != nil {
				return err
			}
			if project.OwnerID != actorID {
				return fmt.Errorf("%w: only the project owner may reject proposals", ErrPermissionDenied)
			}
			if err := checkProposalTransition(proposal.Status, model.ProposalStatusRejected); err != nil {
				return err
			}
			proposal.Status = model.ProposalStatusRejected
			if err := q.UpdateProposal(ctx, proposal); err != nil {
				return err
			}
			decrementProposalCount(project)
			if err := q.UpdateProject(ctx, project); err != nil {
				return err
			}
			rejected = proposal
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	e.emit(ctx, model.EventProposalRejected, "proposal", rejected.ID, nil)
	return rejected, nil
}

// WithdrawProposal retires the bidder's own proposal, freeing their slot.
// An accepted proposal is irreversible and cannot be withdrawn.
func (e *Engine) WithdrawProposal(ctx context.Context, proposalID, actorID uuid.UUID) (*model.Proposal, error) {
	var withdrawn *model.Proposal
	err := e.withRetry(ctx, func(ctx context.Context) error {
		return e.store.Atomically(ctx, func(q store.Queries) error {
			proposal, err := q.GetProposal(ctx, proposalID)
			if err != nil {
				return err
			}
			if proposal.BidderID != actorID {
				return fmt.Errorf("%w: only the bidder may withdraw a proposal", ErrPermissionDenied)
			}
			if err := checkProposalTransition(proposal.Status, model.ProposalStatusWithdrawn); err != nil {
				return err
			}
			project, err := q.GetProject(ctx, proposal.ProjectID)
			if err != nil {
				return err
			}
			proposal.Status = model.ProposalStatusWithdrawn
			if err := q.UpdateProposal(ctx, proposal); err != nil {
				return err
			}
			decrementProposalCount(project)
			if err := q.UpdateProject(ctx, project); err != nil {
				return err
			}
			withdrawn = proposal
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	e.emit(ctx, model.EventProposalWithdrawn, "proposal", withdrawn.ID, nil)
	return withdrawn, nil
}

func decrementProposalCount(project *model.Project) {
	if project.ProposalCount > 0 {
		project.ProposalCount--
	}
}
