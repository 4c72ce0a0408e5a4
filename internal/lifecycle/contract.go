package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/taskhub/escrow/internal/model"
	"github.com/taskhub/escrow/internal/money"
	"github.com/taskhub/escrow/internal/store"
)

type CreateContractInput struct {
	ProjectID              uuid.UUID
	BuyerID                uuid.UUID
	SellerID               uuid.UUID
	Title                  string
	TotalAmount            money.Money
	AllowOutOfOrderFunding bool
}

// CreateContract opens a draft contract directly between two parties, for
// flows that skip the proposal round.
func (e *Engine) CreateContract(ctx context.Context, input CreateContractInput) (*model.Contract, error) {
	if input.BuyerID == uuid.Nil || input.SellerID == uuid.Nil {
		return nil, fmt.Errorf("%w: both parties are required", ErrValidation)
	}
	if input.BuyerID == input.SellerID {
		return nil, fmt.Errorf("%w: buyer and seller must differ", ErrValidation)
	}
	if !input.TotalAmount.IsPositive() {
		return nil, fmt.Errorf("%w: total amount must be positive", ErrValidation)
	}

	contract := &model.Contract{
		ID:                     uuid.New(),
		ProjectID:              input.ProjectID,
		BuyerID:                input.BuyerID,
		SellerID:               input.SellerID,
		Title:                  input.Title,
		TotalAmount:            input.TotalAmount,
		BilledAmount:           money.Zero(input.TotalAmount.Currency()),
		PaidAmount:             money.Zero(input.TotalAmount.Currency()),
		Status:                 model.ContractStatusDraft,
		AllowOutOfOrderFunding: input.AllowOutOfOrderFunding,
	}
	if err := e.store.CreateContract(ctx, contract); err != nil {
		return nil, err
	}
	e.emit(ctx, model.EventContractCreated, "contract", contract.ID, map[string]any{
		"total_amount": contract.TotalAmount.String(),
	})
	return contract, nil
}

// SignContract records the acting party's signature. When both markers are
// set the contract activates.
func (e *Engine) SignContract(ctx context.Context, contractID, actorID uuid.UUID) (*model.Contract, error) {
	var signed *model.Contract
	var activated bool
	err := e.withRetry(ctx, func(ctx context.Context) error {
		activated = false
		return e.store.Atomically(ctx, func(q store.Queries) error {
			contract, err := q.GetContract(ctx, contractID)
			if err != nil {
				return err
			}
			if contract.Status != model.ContractStatusDraft {
				return fmt.Errorf("%w: contract is %s, signatures only apply to drafts",
					ErrInvalidTransition, contract.Status)
			}
			now := e.now()
			switch actorID {
			case contract.BuyerID:
				if contract.SignedByBuyerAt != nil {
					return fmt.Errorf("%w: buyer already signed", ErrValidation)
				}
				contract.SignedByBuyerAt = &now
			case contract.SellerID:
				if contract.SignedBySellerAt != nil {
					return fmt.Errorf("%w: seller already signed", ErrValidation)
				}
				contract.SignedBySellerAt = &now
			default:
				return fmt.Errorf("%w: not a party to this contract", ErrPermissionDenied)
			}
			if contract.Signed() {
				if err := checkContractTransition(contract.Status, model.ContractStatusActive); err != nil {
					return err
				}
				contract.Status = model.ContractStatusActive
				activated = true
			}
			if err := q.UpdateContract(ctx, contract); err != nil {
				return err
			}
			signed = contract
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	e.emit(ctx, model.EventContractSigned, "contract", signed.ID, map[string]any{"signer": actorID})
	if activated {
		e.emit(ctx, model.EventContractActivated, "contract", signed.ID, nil)
	}
	return signed, nil
}

func (e *Engine) PauseContract(ctx context.Context, contractID, actorID uuid.UUID) (*model.Contract, error) {
	return e.transitionContract(ctx, contractID, actorID, model.ContractStatusPaused, model.EventContractPaused)
}

func (e *Engine) ResumeContract(ctx context.Context, contractID, actorID uuid.UUID) (*model.Contract, error) {
	return e.transitionContract(ctx, contractID, actorID, model.ContractStatusActive, model.EventContractResumed)
}

// DisputeContract is reachable from ACTIVE or PAUSED only; the transition
// table enforces that.
func (e *Engine) DisputeContract(ctx context.Context, contractID, actorID uuid.UUID) (*model.Contract, error) {
	return e.transitionContract(ctx, contractID, actorID, model.ContractStatusDisputed, model.EventContractDisputed)
}

// ResolveDispute returns a disputed contract to ACTIVE.
func (e *Engine) ResolveDispute(ctx context.Context, contractID, actorID uuid.UUID) (*model.Contract, error) {
	return e.transitionContract(ctx, contractID, actorID, model.ContractStatusActive, model.EventContractResolved)
}

func (e *Engine) CompleteContract(ctx context.Context, contractID, actorID uuid.UUID) (*model.Contract, error) {
	var completed *model.Contract
	err := e.withRetry(ctx, func(ctx context.Context) error {
		return e.store.Atomically(ctx, func(q store.Queries) error {
			contract, err := q.GetContract(ctx, contractID)
			if err != nil {
				return err
			}
			if err := partyCheck(contract, actorID); err != nil {
				return err
			}
			if err := checkContractTransition(contract.Status, model.ContractStatusCompleted); err != nil {
				return err
			}
			if contract.HasOutstandingFunds() {
				return fmt.Errorf("%w: funds still held in escrow, release or refund first", ErrInvalidTransition)
			}
			contract.Status = model.ContractStatusCompleted
			contract.CompletedAt = timePtr(e.now())
			if err := q.UpdateContract(ctx, contract); err != nil {
				return err
			}
			completed = contract
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	e.emit(ctx, model.EventContractCompleted, "contract", completed.ID, nil)
	return completed, nil
}

// CancelContract flips a contract to CANCELLED directly. This path is only
// legal while no money has moved; once anything was paid or is still held,
// cancellation must route through the escrow orchestrator's refund flow.
func (e *Engine) CancelContract(ctx context.Context, contractID, actorID uuid.UUID) (*model.Contract, error) {
	var cancelled *model.Contract
	err := e.withRetry(ctx, func(ctx context.Context) error {
		return e.store.Atomically(ctx, func(q store.Queries) error {
			contract, err := q.GetContract(ctx, contractID)
			if err != nil {
				return err
			}
			if err := partyCheck(contract, actorID); err != nil {
				return err
			}
			if err := checkContractTransition(contract.Status, model.ContractStatusCancelled); err != nil {
				return err
			}
			if contract.PaidAmount.IsPositive() {
				return fmt.Errorf("%w: contract has paid funds, cancellation requires a refund flow",
					ErrInvalidTransition)
			}
			if contract.HasOutstandingFunds() {
				return fmt.Errorf("%w: contract has funds in escrow, cancellation requires a refund flow",
					ErrInvalidTransition)
			}
			contract.Status = model.ContractStatusCancelled
			if err := q.UpdateContract(ctx, contract); err != nil {
				return err
			}
			cancelled = contract
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	e.emit(ctx, model.EventContractCancelled, "contract", cancelled.ID, nil)
	return cancelled, nil
}

// MarkContractCancelled finalizes a cancellation whose refunds have all
// reached a terminal success. Called by the escrow orchestrator only.
func (e *Engine) MarkContractCancelled(ctx context.Context, contractID uuid.UUID) (*model.Contract, error) {
	return e.markContract(ctx, contractID, model.ContractStatusCancelled, model.EventContractCancelled)
}

// MarkContractDisputed parks a contract whose refund flow failed terminally.
// Called by the escrow orchestrator only.
func (e *Engine) MarkContractDisputed(ctx context.Context, contractID uuid.UUID) (*model.Contract, error) {
	return e.markContract(ctx, contractID, model.ContractStatusDisputed, model.EventContractDisputed)
}

func (e *Engine) markContract(ctx context.Context, contractID uuid.UUID, to model.ContractStatus, event model.EventType) (*model.Contract, error) {
	var updated *model.Contract
	err := e.withRetry(ctx, func(ctx context.Context) error {
		return e.store.Atomically(ctx, func(q store.Queries) error {
			contract, err := q.GetContract(ctx, contractID)
			if err != nil {
				return err
			}
			if contract.Status == to {
				updated = contract
				return nil
			}
			if err := checkContractTransition(contract.Status, to); err != nil {
				return err
			}
			contract.Status = to
			if err := q.UpdateContract(ctx, contract); err != nil {
				return err
			}
			updated = contract
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	e.emit(ctx, event, "contract", updated.ID, nil)
	return updated, nil
}

func (e *Engine) transitionContract(ctx context.Context, contractID, actorID uuid.UUID, to model.ContractStatus, event model.EventType) (*model.Contract, error) {
	var updated *model.Contract
	err := e.withRetry(ctx, func(ctx context.Context) error {
		return e.store.Atomically(ctx, func(q store.Queries) error {
			contract, err := q.GetContract(ctx, contractID)
			if err != nil {
				return err
			}
			if err := partyCheck(contract, actorID); err != nil {
				return err
			}
			if err := checkContractTransition(contract.Status, to); err != nil {
				return err
			}
			contract.Status = to
			if err := q.UpdateContract(ctx, contract); err != nil {
				return err
			}
			updated = contract
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	e.emit(ctx, event, "contract", updated.ID, nil)
	return updated, nil
}

func partyCheck(contract *model.Contract, actorID uuid.UUID) error {
	if actorID != contract.BuyerID && actorID != contract.SellerID {
		return fmt.Errorf("%w: not a party to this contract", ErrPermissionDenied)
	}
	return nil
}
