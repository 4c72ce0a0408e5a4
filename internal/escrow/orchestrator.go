// Package escrow sequences fund, release and refund money movements against
// milestones and contracts. Every movement is recorded as a Transaction
// before the payment capability is touched, keyed by a deterministic
// idempotency key so a retried request has exactly one effect.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/taskhub/escrow/internal/lifecycle"
	"github.com/taskhub/escrow/internal/model"
	"github.com/taskhub/escrow/internal/money"
	"github.com/taskhub/escrow/internal/store"
)

// ErrPaymentFailed means the payment capability exhausted its retries. The
// affected milestone or contract is left in its last valid state; recovery
// is manual or via scheduled reconciliation.
var ErrPaymentFailed = errors.New("payment failed")

type Orchestrator struct {
	store    store.Store
	engine   *lifecycle.Engine
	provider Provider
	policy   RetryPolicy
	fees     money.FeeSchedule
	provName string
	log      zerolog.Logger
	now      func() time.Time
}

func NewOrchestrator(st store.Store, engine *lifecycle.Engine, provider Provider, providerName string, policy RetryPolicy, fees money.FeeSchedule, log zerolog.Logger) *Orchestrator {
	if providerName == "" {
		providerName = "stub"
	}
	return &Orchestrator{
		store:    st,
		engine:   engine,
		provider: provider,
		policy:   policy.normalized(),
		fees:     fees,
		provName: providerName,
		log:      log.With().Str("component", "escrow").Logger(),
		now:      time.Now,
	}
}

// WithClock overrides the orchestrator's timestamp source, for tests.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// FundKey derives the stable idempotency key for funding a milestone.
func FundKey(milestoneID uuid.UUID) string { return intentKey("fund", milestoneID) }

// ReleaseKey derives the stable idempotency key for releasing a milestone.
func ReleaseKey(milestoneID uuid.UUID) string { return intentKey("release", milestoneID) }

// RefundKey derives the stable idempotency key for refunding a milestone.
func RefundKey(milestoneID uuid.UUID) string { return intentKey("refund", milestoneID) }

func intentKey(intent string, id uuid.UUID) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(intent+":"+id.String())).String()
}

// Fund captures a milestone's amount into escrow. Calling it twice with the
// same key yields one underlying transaction and the same terminal state.
func (o *Orchestrator) Fund(ctx context.Context, milestoneID uuid.UUID, idempotencyKey string) (*model.Transaction, error) {
	if idempotencyKey == "" {
		idempotencyKey = FundKey(milestoneID)
	}

	txn, done, err := o.resumeOrCreate(ctx, idempotencyKey, func(ctx context.Context) (*model.Transaction, error) {
		milestone, err := o.engine.CheckMilestoneFundable(ctx, milestoneID)
		if err != nil {
			return nil, err
		}
		milestoneRef := milestone.ID
		contractRef := milestone.ContractID
		return &model.Transaction{
			ID:             uuid.New(),
			ContractID:     &contractRef,
			MilestoneID:    &milestoneRef,
			Type:           model.TransactionTypeFund,
			Amount:         milestone.Amount,
			NetAmount:      milestone.Amount,
			PlatformFee:    money.Zero(milestone.Amount.Currency()),
			ProcessorFee:   money.Zero(milestone.Amount.Currency()),
			Status:         model.TransactionStatusPending,
			IdempotencyKey: idempotencyKey,
			Provider:       o.provName,
			Description:    "escrow funding for milestone " + milestone.Title,
			InitiatedAt:    o.now(),
		}, nil
	})
	if err != nil || done {
		return txn, err
	}

	outcome, err := o.execute(ctx, txn, func(ctx context.Context) (Outcome, error) {
		return o.provider.Capture(ctx, txn.Amount, txn.ID.String())
	})
	if err != nil {
		return txn, err
	}
	if outcome.Status == OutcomePending {
		return txn, nil
	}

	if _, err := o.engine.MarkMilestoneFunded(ctx, milestoneID); err != nil {
		// Money is captured but the milestone could not advance; keep the
		// transaction in processing for reconciliation instead of lying.
		o.log.Error().Err(err).Str("transaction", txn.ID.String()).Msg("funded capture could not advance milestone")
		return txn, err
	}
	if err := o.settle(ctx, txn, model.TransactionStatusSuccess, outcome); err != nil {
		return txn, err
	}
	return txn, nil
}

// Release pays out an approved milestone: an escrow debit for the gross
// amount, a payout for the net after fees, and a fee transaction.
func (o *Orchestrator) Release(ctx context.Context, milestoneID uuid.UUID) (*model.Transaction, error) {
	idempotencyKey := ReleaseKey(milestoneID)

	var fees money.Fees
	var contract *model.Contract
	txn, done, err := o.resumeOrCreate(ctx, idempotencyKey, func(ctx context.Context) (*model.Transaction, error) {
		milestone, err := o.store.GetMilestone(ctx, milestoneID)
		if err != nil {
			return nil, err
		}
		if milestone.Status != model.MilestoneStatusApproved {
			return nil, fmt.Errorf("%w: milestone is %s, release requires approved",
				lifecycle.ErrInvalidTransition, milestone.Status)
		}
		contract, err = o.store.GetContract(ctx, milestone.ContractID)
		if err != nil {
			return nil, err
		}
		paid, err := contract.PaidAmount.Add(milestone.Amount)
		if err != nil {
			return nil, err
		}
		if cmp, err := paid.Cmp(contract.TotalAmount); err != nil {
			return nil, err
		} else if cmp > 0 {
			return nil, fmt.Errorf("%w: release would push paid to %s of total %s",
				lifecycle.ErrOverpayment, paid, contract.TotalAmount)
		}
		fees, err = money.ComputeFee(milestone.Amount, o.fees)
		if err != nil {
			return nil, err
		}
		milestoneRef := milestone.ID
		contractRef := milestone.ContractID
		return &model.Transaction{
			ID:             uuid.New(),
			ContractID:     &contractRef,
			MilestoneID:    &milestoneRef,
			Type:           model.TransactionTypeRelease,
			Amount:         milestone.Amount,
			PlatformFee:    fees.PlatformFee,
			ProcessorFee:   fees.ProcessorFee,
			NetAmount:      fees.Net,
			Status:         model.TransactionStatusPending,
			IdempotencyKey: idempotencyKey,
			Provider:       o.provName,
			Description:    "escrow release for milestone " + milestone.Title,
			InitiatedAt:    o.now(),
		}, nil
	})
	if err != nil || done {
		return txn, err
	}
	if contract == nil {
		// Resumed intent: the build closure never ran.
		if contract, err = o.store.GetContract(ctx, *txn.ContractID); err != nil {
			return txn, err
		}
	}

	outcome, err := o.execute(ctx, txn, func(ctx context.Context) (Outcome, error) {
		return o.provider.Payout(ctx, txn.NetAmount, contract.SellerID.String())
	})
	if err != nil {
		return txn, err
	}
	if outcome.Status == OutcomePending {
		return txn, nil
	}

	if _, err := o.engine.MarkMilestoneReleased(ctx, milestoneID); err != nil {
		o.log.Error().Err(err).Str("transaction", txn.ID.String()).Msg("payout succeeded but milestone could not advance")
		return txn, err
	}
	if err := o.settle(ctx, txn, model.TransactionStatusSuccess, outcome); err != nil {
		return txn, err
	}
	o.recordSettled(ctx, txn, model.TransactionTypePayout, txn.NetAmount, outcome.ProviderRef)
	totalFees, feeErr := txn.PlatformFee.Add(txn.ProcessorFee)
	if feeErr == nil && totalFees.IsPositive() {
		o.recordSettled(ctx, txn, model.TransactionTypeFee, totalFees, outcome.ProviderRef)
	}
	return txn, nil
}

// Refund unwinds every held milestone of a contract. The contract moves to
// CANCELLED only once all refunds are terminal and successful; one terminal
// failure parks it in DISPUTED instead, never silently in CANCELLED.
func (o *Orchestrator) Refund(ctx context.Context, contractID uuid.UUID, reason string) error {
	contract, err := o.store.GetContract(ctx, contractID)
	if err != nil {
		return err
	}
	switch contract.Status {
	case model.ContractStatusActive, model.ContractStatusPaused, model.ContractStatusDisputed:
	default:
		return fmt.Errorf("%w: contract is %s, refund applies to live contracts",
			lifecycle.ErrInvalidTransition, contract.Status)
	}

	milestones, err := o.store.ListMilestonesByContract(ctx, contractID)
	if err != nil {
		return err
	}

	allTerminal := true
	anyFailed := false
	for _, milestone := range milestones {
		if !milestone.Status.FundsHeld() {
			continue
		}
		terminal, failed, err := o.refundMilestone(ctx, contract, milestone, reason)
		if err != nil && !failed {
			return err
		}
		if failed {
			anyFailed = true
		}
		if !terminal {
			allTerminal = false
		}
	}

	if anyFailed {
		if _, err := o.engine.MarkContractDisputed(ctx, contractID); err != nil {
			return err
		}
		return fmt.Errorf("%w: refund for contract %s failed terminally", ErrPaymentFailed, contractID)
	}
	if !allTerminal {
		// Some refunds are still settling; a later Refund or Reconcile call
		// finishes the cancellation.
		return nil
	}
	if _, err := o.engine.MarkContractCancelled(ctx, contractID); err != nil {
		return err
	}
	return nil
}

func (o *Orchestrator) refundMilestone(ctx context.Context, contract *model.Contract, milestone model.Milestone, reason string) (terminal, failed bool, err error) {
	idempotencyKey := RefundKey(milestone.ID)

	if existing, err := o.store.GetTransactionByKey(ctx, idempotencyKey); err == nil {
		switch existing.Status {
		case model.TransactionStatusRefunded, model.TransactionStatusSuccess:
			return true, false, nil
		case model.TransactionStatusFailed:
			return true, true, nil
		case model.TransactionStatusProcessing, model.TransactionStatusPending:
			return false, false, nil
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, false, err
	}

	providerRef := ""
	if fundTxn, err := o.store.GetTransactionByKey(ctx, FundKey(milestone.ID)); err == nil {
		providerRef = fundTxn.ProviderReference
	}

	milestoneRef := milestone.ID
	contractRef := contract.ID
	txn := &model.Transaction{
		ID:             uuid.New(),
		ContractID:     &contractRef,
		MilestoneID:    &milestoneRef,
		Type:           model.TransactionTypeRefund,
		Amount:         milestone.Amount,
		NetAmount:      milestone.Amount,
		PlatformFee:    money.Zero(milestone.Amount.Currency()),
		ProcessorFee:   money.Zero(milestone.Amount.Currency()),
		Status:         model.TransactionStatusPending,
		IdempotencyKey: idempotencyKey,
		Provider:       o.provName,
		Description:    "refund: " + reason,
		InitiatedAt:    o.now(),
	}
	if err := o.store.CreateTransaction(ctx, txn); err != nil {
		return false, false, err
	}
	if err := o.advance(ctx, txn, model.TransactionStatusProcessing); err != nil {
		return false, false, err
	}

	outcome, err := o.execute(ctx, txn, func(ctx context.Context) (Outcome, error) {
		return o.provider.Refund(ctx, providerRef)
	})
	if err != nil {
		if errors.Is(err, ErrPaymentFailed) {
			return true, true, err
		}
		return false, false, err
	}
	if outcome.Status == OutcomePending {
		return false, false, nil
	}

	if _, err := o.engine.MarkMilestoneRefunded(ctx, milestone.ID); err != nil {
		return false, false, err
	}
	if err := o.settle(ctx, txn, model.TransactionStatusRefunded, outcome); err != nil {
		return false, false, err
	}
	return true, false, nil
}

// Reconcile applies a provider-reported outcome to an in-flight transaction
// (polling or webhook callback). Terminal transactions are left untouched,
// which makes redelivered callbacks harmless.
func (o *Orchestrator) Reconcile(ctx context.Context, transactionID uuid.UUID, outcome Outcome) error {
	txn, err := o.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return err
	}
	if txn.Status.Terminal() {
		return nil
	}
	if txn.Status == model.TransactionStatusPending {
		if err := o.advance(ctx, txn, model.TransactionStatusProcessing); err != nil {
			return err
		}
	}

	switch outcome.Status {
	case OutcomePending:
		return nil
	case OutcomeFailed:
		txn.ErrorCode = outcome.Code
		txn.ErrorMessage = outcome.Message
		if err := o.settle(ctx, txn, model.TransactionStatusFailed, outcome); err != nil {
			return err
		}
		if txn.Type == model.TransactionTypeRefund && txn.ContractID != nil {
			if _, err := o.engine.MarkContractDisputed(ctx, *txn.ContractID); err != nil {
				return err
			}
		}
		return fmt.Errorf("%w: provider reported %s", ErrPaymentFailed, outcome.Code)
	case OutcomeSuccess:
	default:
		return fmt.Errorf("%w: unknown outcome %q", lifecycle.ErrValidation, outcome.Status)
	}

	switch txn.Type {
	case model.TransactionTypeFund:
		if txn.MilestoneID != nil {
			if _, err := o.engine.MarkMilestoneFunded(ctx, *txn.MilestoneID); err != nil {
				return err
			}
		}
		return o.settle(ctx, txn, model.TransactionStatusSuccess, outcome)
	case model.TransactionTypeRelease:
		if txn.MilestoneID != nil {
			if _, err := o.engine.MarkMilestoneReleased(ctx, *txn.MilestoneID); err != nil {
				return err
			}
		}
		return o.settle(ctx, txn, model.TransactionStatusSuccess, outcome)
	case model.TransactionTypeRefund:
		if txn.MilestoneID != nil {
			if _, err := o.engine.MarkMilestoneRefunded(ctx, *txn.MilestoneID); err != nil {
				return err
			}
		}
		if err := o.settle(ctx, txn, model.TransactionStatusRefunded, outcome); err != nil {
			return err
		}
		if txn.ContractID != nil {
			return o.finalizeRefund(ctx, *txn.ContractID)
		}
		return nil
	default:
		return o.settle(ctx, txn, model.TransactionStatusSuccess, outcome)
	}
}

// Abandon cancels an intent that has not started processing. Once the
// provider call is in flight only a terminal provider outcome ends it.
func (o *Orchestrator) Abandon(ctx context.Context, transactionID uuid.UUID) error {
	txn, err := o.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return err
	}
	if txn.Status == model.TransactionStatusProcessing {
		return fmt.Errorf("%w: payment already in flight, wait for a terminal outcome",
			lifecycle.ErrInvalidTransition)
	}
	return o.advance(ctx, txn, model.TransactionStatusCancelled)
}

// finalizeRefund completes a cancellation once nothing is held any more.
func (o *Orchestrator) finalizeRefund(ctx context.Context, contractID uuid.UUID) error {
	milestones, err := o.store.ListMilestonesByContract(ctx, contractID)
	if err != nil {
		return err
	}
	for _, m := range milestones {
		if m.Status.FundsHeld() {
			return nil
		}
	}
	contract, err := o.store.GetContract(ctx, contractID)
	if err != nil {
		return err
	}
	if contract.Status == model.ContractStatusCancelled {
		return nil
	}
	_, err = o.engine.MarkContractCancelled(ctx, contractID)
	return err
}

// resumeOrCreate is the at-most-once gate: an existing non-failed
// transaction under the key is returned as-is; a failed one with retry
// budget left is re-opened; otherwise a fresh intent is created and moved
// to processing.
func (o *Orchestrator) resumeOrCreate(ctx context.Context, idempotencyKey string, build func(ctx context.Context) (*model.Transaction, error)) (txn *model.Transaction, done bool, err error) {
	existing, err := o.store.GetTransactionByKey(ctx, idempotencyKey)
	switch {
	case err == nil:
		if existing.Status != model.TransactionStatusFailed {
			return existing, true, nil
		}
		if existing.RetryCount >= o.policy.MaxAttempts {
			return existing, true, fmt.Errorf("%w: retries exhausted for key %s", ErrPaymentFailed, idempotencyKey)
		}
		if err := o.advance(ctx, existing, model.TransactionStatusPending); err != nil {
			return existing, true, err
		}
		txn = existing
	case errors.Is(err, store.ErrNotFound):
		txn, err = build(ctx)
		if err != nil {
			return nil, true, err
		}
		if err := o.store.CreateTransaction(ctx, txn); err != nil {
			return nil, true, err
		}
	default:
		return nil, true, err
	}

	if err := o.advance(ctx, txn, model.TransactionStatusProcessing); err != nil {
		return txn, true, err
	}
	return txn, false, nil
}

// execute runs the provider call under the retry policy, persisting retry
// bookkeeping as it goes. On exhaustion the transaction is terminal failed
// and ErrPaymentFailed is returned.
func (o *Orchestrator) execute(ctx context.Context, txn *model.Transaction, call func(ctx context.Context) (Outcome, error)) (Outcome, error) {
	for {
		outcome, err := call(ctx)
		if err == nil && outcome.Status != OutcomeFailed {
			if outcome.ProviderRef != "" {
				txn.ProviderReference = outcome.ProviderRef
				if updateErr := o.store.UpdateTransaction(ctx, txn); updateErr != nil {
					return outcome, updateErr
				}
			}
			return outcome, nil
		}

		txn.RetryCount++
		if err != nil {
			txn.ErrorCode = "provider_error"
			txn.ErrorMessage = err.Error()
		} else {
			txn.ErrorCode = outcome.Code
			txn.ErrorMessage = outcome.Message
		}
		if txn.RetryCount >= o.policy.MaxAttempts {
			if settleErr := o.settle(ctx, txn, model.TransactionStatusFailed, outcome); settleErr != nil {
				return outcome, settleErr
			}
			return outcome, fmt.Errorf("%w: %d attempts exhausted", ErrPaymentFailed, txn.RetryCount)
		}
		if err := o.store.UpdateTransaction(ctx, txn); err != nil {
			return outcome, err
		}
		if err := o.policy.Sleep(ctx, o.policy.Backoff(txn.RetryCount-1)); err != nil {
			return outcome, err
		}
	}
}

func (o *Orchestrator) advance(ctx context.Context, txn *model.Transaction, to model.TransactionStatus) error {
	if err := lifecycle.CheckTransactionTransition(txn.Status, to); err != nil {
		return err
	}
	txn.Status = to
	if to == model.TransactionStatusProcessing && txn.ProcessedAt == nil {
		now := o.now()
		txn.ProcessedAt = &now
	}
	return o.store.UpdateTransaction(ctx, txn)
}

func (o *Orchestrator) settle(ctx context.Context, txn *model.Transaction, to model.TransactionStatus, outcome Outcome) error {
	if err := lifecycle.CheckTransactionTransition(txn.Status, to); err != nil {
		return err
	}
	txn.Status = to
	if outcome.ProviderRef != "" {
		txn.ProviderReference = outcome.ProviderRef
	}
	now := o.now()
	txn.CompletedAt = &now
	return o.store.UpdateTransaction(ctx, txn)
}

// recordSettled writes a companion transaction (payout, fee) that settled
// together with its primary. Best-effort: the ledger line matters, but the
// primary transaction already carries the authoritative amounts.
func (o *Orchestrator) recordSettled(ctx context.Context, primary *model.Transaction, txnType model.TransactionType, amount money.Money, providerRef string) {
	now := o.now()
	companion := &model.Transaction{
		ID:                uuid.New(),
		ContractID:        primary.ContractID,
		MilestoneID:       primary.MilestoneID,
		Type:              txnType,
		Amount:            amount,
		NetAmount:         amount,
		PlatformFee:       money.Zero(amount.Currency()),
		ProcessorFee:      money.Zero(amount.Currency()),
		Status:            model.TransactionStatusSuccess,
		Provider:          o.provName,
		ProviderReference: providerRef,
		InitiatedAt:       now,
		CompletedAt:       &now,
	}
	if err := o.store.CreateTransaction(ctx, companion); err != nil {
		o.log.Warn().Err(err).Str("type", string(txnType)).Msg("companion transaction not recorded")
	}
}
