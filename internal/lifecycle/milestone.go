package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/taskhub/escrow/internal/model"
	"github.com/taskhub/escrow/internal/money"
	"github.com/taskhub/escrow/internal/store"
)

type MilestoneInput struct {
	Title      string
	Amount     money.Money
	OrderIndex int
}

// CreateMilestones appends payable units of work to a contract. The sum of
// all milestone amounts on the contract must never exceed total_amount.
func (e *Engine) CreateMilestones(ctx context.Context, contractID, actorID uuid.UUID, inputs []MilestoneInput) ([]model.Milestone, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: no milestones given", ErrValidation)
	}

	var created []model.Milestone
	err := e.withRetry(ctx, func(ctx context.Context) error {
		created = created[:0]
		return e.store.Atomically(ctx, func(q store.Queries) error {
			contract, err := q.GetContract(ctx, contractID)
			if err != nil {
				return err
			}
			if contract.BuyerID != actorID {
				return fmt.Errorf("%w: only the buyer defines milestones", ErrPermissionDenied)
			}
			switch contract.Status {
			case model.ContractStatusDraft, model.ContractStatusActive:
			default:
				return fmt.Errorf("%w: contract is %s", ErrInvalidTransition, contract.Status)
			}

			existing, err := q.ListMilestonesByContract(ctx, contractID)
			if err != nil {
				return err
			}
			total := money.Zero(contract.TotalAmount.Currency())
			taken := make(map[int]bool, len(existing))
			for _, m := range existing {
				taken[m.OrderIndex] = true
				total, err = total.Add(m.Amount)
				if err != nil {
					return err
				}
			}

			for _, input := range inputs {
				if !input.Amount.IsPositive() {
					return fmt.Errorf("%w: milestone amount must be positive", ErrValidation)
				}
				if taken[input.OrderIndex] {
					return fmt.Errorf("%w: duplicate order index %d", ErrValidation, input.OrderIndex)
				}
				taken[input.OrderIndex] = true
				total, err = total.Add(input.Amount)
				if err != nil {
					return err
				}
				cmp, err := total.Cmp(contract.TotalAmount)
				if err != nil {
					return err
				}
				if cmp > 0 {
					return fmt.Errorf("%w: milestones total %s exceeds contract total %s",
						ErrOverpayment, total, contract.TotalAmount)
				}
				milestone := model.Milestone{
					ID:         uuid.New(),
					ContractID: contractID,
					Title:      input.Title,
					OrderIndex: input.OrderIndex,
					Amount:     input.Amount,
					Status:     model.MilestoneStatusPending,
				}
				if err := q.CreateMilestone(ctx, &milestone); err != nil {
					return err
				}
				created = append(created, milestone)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	for _, m := range created {
		e.emit(ctx, model.EventMilestoneCreated, "milestone", m.ID, map[string]any{
			"contract_id": m.ContractID,
			"amount":      m.Amount.String(),
		})
	}
	return created, nil
}

// CheckMilestoneFundable verifies, without writing, that a milestone could
// enter funded right now: pending status, active contract, funding order
// respected. The escrow orchestrator calls this before touching the payment
// capability so money never moves for a doomed transition.
func (e *Engine) CheckMilestoneFundable(ctx context.Context, milestoneID uuid.UUID) (*model.Milestone, error) {
	milestone, err := e.store.GetMilestone(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if err := checkMilestoneTransition(milestone.Status, model.MilestoneStatusFunded); err != nil {
		return nil, err
	}
	contract, err := e.store.GetContract(ctx, milestone.ContractID)
	if err != nil {
		return nil, err
	}
	if contract.Status != model.ContractStatusActive {
		return nil, fmt.Errorf("%w: contract is %s, funding requires ACTIVE",
			ErrInvalidTransition, contract.Status)
	}
	if err := checkFundingOrder(ctx, e.store, contract, milestone); err != nil {
		return nil, err
	}
	return milestone, nil
}

// MarkMilestoneFunded moves a milestone to funded after escrow captured its
// amount, and adds the amount to the contract's billed total. Called by the
// escrow orchestrator only. Strict funding order is enforced here unless the
// contract opted into out-of-order funding.
func (e *Engine) MarkMilestoneFunded(ctx context.Context, milestoneID uuid.UUID) (*model.Milestone, error) {
	var funded *model.Milestone
	err := e.withRetry(ctx, func(ctx context.Context) error {
		return e.store.Atomically(ctx, func(q store.Queries) error {
			milestone, err := q.GetMilestone(ctx, milestoneID)
			if err != nil {
				return err
			}
			if err := checkMilestoneTransition(milestone.Status, model.MilestoneStatusFunded); err != nil {
				return err
			}
			contract, err := q.GetContract(ctx, milestone.ContractID)
			if err != nil {
				return err
			}
			if contract.Status != model.ContractStatusActive {
				return fmt.Errorf("%w: contract is %s, funding requires ACTIVE",
					ErrInvalidTransition, contract.Status)
			}
			if err := checkFundingOrder(ctx, q, contract, milestone); err != nil {
				return err
			}

			billed, err := contract.BilledAmount.Add(milestone.Amount)
			if err != nil {
				return err
			}
			cmp, err := billed.Cmp(contract.TotalAmount)
			if err != nil {
				return err
			}
			if cmp > 0 {
				return fmt.Errorf("%w: billed %s would exceed total %s",
					ErrOverpayment, billed, contract.TotalAmount)
			}
			contract.BilledAmount = billed
			if err := q.UpdateContract(ctx, contract); err != nil {
				return err
			}

			milestone.Status = model.MilestoneStatusFunded
			milestone.FundedAt = timePtr(e.now())
			if err := q.UpdateMilestone(ctx, milestone); err != nil {
				return err
			}
			funded = milestone
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	e.emit(ctx, model.EventMilestoneFunded, "milestone", funded.ID, map[string]any{
		"amount": funded.Amount.String(),
	})
	return funded, nil
}

// MarkMilestoneReleased finalizes a payout: milestone approved -> released
// and the contract's paid total grows by the milestone amount, bounded by
// billed and total. Called by the escrow orchestrator only.
func (e *Engine) MarkMilestoneReleased(ctx context.Context, milestoneID uuid.UUID) (*model.Milestone, error) {
	var released *model.Milestone
	err := e.withRetry(ctx, func(ctx context.Context) error {
		return e.store.Atomically(ctx, func(q store.Queries) error {
			milestone, err := q.GetMilestone(ctx, milestoneID)
			if err != nil {
				return err
			}
			if err := checkMilestoneTransition(milestone.Status, model.MilestoneStatusReleased); err != nil {
				return err
			}
			contract, err := q.GetContract(ctx, milestone.ContractID)
			if err != nil {
				return err
			}

			paid, err := contract.PaidAmount.Add(milestone.Amount)
			if err != nil {
				return err
			}
			if cmp, err := paid.Cmp(contract.BilledAmount); err != nil {
				return err
			} else if cmp > 0 {
				return fmt.Errorf("%w: paid %s would exceed billed %s",
					ErrOverpayment, paid, contract.BilledAmount)
			}
			if cmp, err := paid.Cmp(contract.TotalAmount); err != nil {
				return err
			} else if cmp > 0 {
				return fmt.Errorf("%w: paid %s would exceed total %s",
					ErrOverpayment, paid, contract.TotalAmount)
			}
			contract.PaidAmount = paid
			if err := q.UpdateContract(ctx, contract); err != nil {
				return err
			}

			milestone.Status = model.MilestoneStatusReleased
			milestone.ReleasedAt = timePtr(e.now())
			if err := q.UpdateMilestone(ctx, milestone); err != nil {
				return err
			}
			released = milestone
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	e.emit(ctx, model.EventMilestoneReleased, "milestone", released.ID, map[string]any{
		"amount": released.Amount.String(),
	})
	return released, nil
}

// MarkMilestoneRefunded returns a refunded milestone's amount out of the
// contract's billed total. Called by the escrow orchestrator only.
func (e *Engine) MarkMilestoneRefunded(ctx context.Context, milestoneID uuid.UUID) (*model.Milestone, error) {
	var refunded *model.Milestone
	err := e.withRetry(ctx, func(ctx context.Context) error {
		return e.store.Atomically(ctx, func(q store.Queries) error {
			milestone, err := q.GetMilestone(ctx, milestoneID)
			if err != nil {
				return err
			}
			if !milestone.Status.FundsHeld() {
				return fmt.Errorf("%w: milestone %s holds no funds", ErrInvalidTransition, milestone.Status)
			}
			contract, err := q.GetContract(ctx, milestone.ContractID)
			if err != nil {
				return err
			}
			billed, err := contract.BilledAmount.Sub(milestone.Amount)
			if err != nil {
				return err
			}
			if billed.IsNegative() {
				billed = money.Zero(billed.Currency())
			}
			contract.BilledAmount = billed
			if err := q.UpdateContract(ctx, contract); err != nil {
				return err
			}
			milestone.Status = model.MilestoneStatusPending
			milestone.FundedAt = nil
			if err := q.UpdateMilestone(ctx, milestone); err != nil {
				return err
			}
			refunded = milestone
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return refunded, nil
}

func (e *Engine) StartMilestone(ctx context.Context, milestoneID, actorID uuid.UUID) (*model.Milestone, error) {
	return e.transitionMilestone(ctx, milestoneID, actorID, sellerOnly,
		model.MilestoneStatusInProgress, model.EventMilestoneStarted,
		func(m *model.Milestone, e *Engine) { m.StartedAt = timePtr(e.now()) })
}

func (e *Engine) SubmitMilestone(ctx context.Context, milestoneID, actorID uuid.UUID, deliverableURL, notes string) (*model.Milestone, error) {
	return e.transitionMilestone(ctx, milestoneID, actorID, sellerOnly,
		model.MilestoneStatusSubmitted, model.EventMilestoneSubmitted,
		func(m *model.Milestone, e *Engine) {
			m.SubmittedAt = timePtr(e.now())
			m.DeliverableURL = deliverableURL
			m.SubmissionNotes = notes
		})
}

func (e *Engine) ApproveMilestone(ctx context.Context, milestoneID, actorID uuid.UUID) (*model.Milestone, error) {
	return e.transitionMilestone(ctx, milestoneID, actorID, buyerOnly,
		model.MilestoneStatusApproved, model.EventMilestoneApproved,
		func(m *model.Milestone, e *Engine) { m.ApprovedAt = timePtr(e.now()) })
}

func (e *Engine) DisputeMilestone(ctx context.Context, milestoneID, actorID uuid.UUID) (*model.Milestone, error) {
	return e.transitionMilestone(ctx, milestoneID, actorID, anyParty,
		model.MilestoneStatusDisputed, model.EventMilestoneDisputed, nil)
}

type partyRule int

const (
	anyParty partyRule = iota
	buyerOnly
	sellerOnly
)

func (e *Engine) transitionMilestone(ctx context.Context, milestoneID, actorID uuid.UUID, rule partyRule, to model.MilestoneStatus, event model.EventType, mutate func(*model.Milestone, *Engine)) (*model.Milestone, error) {
	var updated *model.Milestone
	err := e.withRetry(ctx, func(ctx context.Context) error {
		return e.store.Atomically(ctx, func(q store.Queries) error {
			milestone, err := q.GetMilestone(ctx, milestoneID)
			if err != nil {
				return err
			}
			contract, err := q.GetContract(ctx, milestone.ContractID)
			if err != nil {
				return err
			}
			switch rule {
			case buyerOnly:
				if actorID != contract.BuyerID {
					return fmt.Errorf("%w: buyer-only operation", ErrPermissionDenied)
				}
			case sellerOnly:
				if actorID != contract.SellerID {
					return fmt.Errorf("%w: seller-only operation", ErrPermissionDenied)
				}
			default:
				if err := partyCheck(contract, actorID); err != nil {
					return err
				}
			}
			if err := checkMilestoneTransition(milestone.Status, to); err != nil {
				return err
			}
			milestone.Status = to
			if mutate != nil {
				mutate(milestone, e)
			}
			if err := q.UpdateMilestone(ctx, milestone); err != nil {
				return err
			}
			updated = milestone
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	e.emit(ctx, event, "milestone", updated.ID, nil)
	return updated, nil
}

// checkFundingOrder rejects funding a milestone while an earlier one on the
// same contract is still pending, unless the contract allows out-of-order
// funding. Strict order is the default to avoid partial-funding ambiguity.
func checkFundingOrder(ctx context.Context, q store.Queries, contract *model.Contract, milestone *model.Milestone) error {
	if contract.AllowOutOfOrderFunding {
		return nil
	}
	siblings, err := q.ListMilestonesByContract(ctx, contract.ID)
	if err != nil {
		return err
	}
	for _, sibling := range siblings {
		if sibling.OrderIndex >= milestone.OrderIndex || sibling.ID == milestone.ID {
			continue
		}
		if sibling.Status == model.MilestoneStatusPending {
			return fmt.Errorf("%w: milestone %d is still pending", ErrOutOfOrderFunding, sibling.OrderIndex)
		}
	}
	return nil
}
