package escrow_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskhub/escrow/internal/escrow"
	"github.com/taskhub/escrow/internal/lifecycle"
	"github.com/taskhub/escrow/internal/model"
	"github.com/taskhub/escrow/internal/money"
	"github.com/taskhub/escrow/internal/store"
	"github.com/taskhub/escrow/internal/store/memory"
)

// scriptedProvider replays a fixed sequence of outcomes per operation and
// answers success once the script runs out.
type scriptedProvider struct {
	captureScript []escrow.Outcome
	payoutScript  []escrow.Outcome
	refundScript  []escrow.Outcome

	captureCalls int
	payoutCalls  int
	refundCalls  int
}

func (p *scriptedProvider) next(script []escrow.Outcome, calls int, ref string) escrow.Outcome {
	if calls < len(script) {
		return script[calls]
	}
	return escrow.Outcome{Status: escrow.OutcomeSuccess, ProviderRef: ref}
}

func (p *scriptedProvider) Capture(_ context.Context, _ money.Money, reference string) (escrow.Outcome, error) {
	out := p.next(p.captureScript, p.captureCalls, "cap-"+reference)
	p.captureCalls++
	return out, nil
}

func (p *scriptedProvider) Payout(_ context.Context, _ money.Money, destination string) (escrow.Outcome, error) {
	out := p.next(p.payoutScript, p.payoutCalls, "po-"+destination)
	p.payoutCalls++
	return out, nil
}

func (p *scriptedProvider) Refund(_ context.Context, providerRef string) (escrow.Outcome, error) {
	out := p.next(p.refundScript, p.refundCalls, "ref-"+providerRef)
	p.refundCalls++
	return out, nil
}

func declined(code string) escrow.Outcome {
	return escrow.Outcome{Status: escrow.OutcomeFailed, Code: code, Message: "declined by provider"}
}

type fixture struct {
	store    *memory.Store
	engine   *lifecycle.Engine
	orch     *escrow.Orchestrator
	provider *scriptedProvider

	buyer      uuid.UUID
	seller     uuid.UUID
	contract   *model.Contract
	milestones []model.Milestone
	slept      []time.Duration
}

func usd(amount string) money.Money {
	m, err := money.Parse(amount, "USD")
	if err != nil {
		panic(err)
	}
	return m
}

// newFixture builds an active two-milestone contract (300 + 200 of 500 USD)
// wired to a scripted provider and a no-op retry sleeper.
func newFixture(t *testing.T, provider *scriptedProvider) *fixture {
	t.Helper()

	f := &fixture{
		store:    memory.New(),
		provider: provider,
		buyer:    uuid.New(),
		seller:   uuid.New(),
	}
	f.engine = lifecycle.NewEngine(f.store, nil, zerolog.Nop(), lifecycle.Config{})

	policy := escrow.RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Sleep: func(_ context.Context, d time.Duration) error {
			f.slept = append(f.slept, d)
			return nil
		},
	}
	fees := money.FeeSchedule{
		PlatformRate:  decimal.RequireFromString("0.10"),
		ProcessorRate: decimal.RequireFromString("0.029"),
	}
	f.orch = escrow.NewOrchestrator(f.store, f.engine, provider, "stub", policy, fees, zerolog.Nop())

	ctx := context.Background()
	project, err := f.engine.CreateProject(ctx, lifecycle.CreateProjectInput{
		OwnerID:  f.buyer,
		Title:    "site rebuild",
		Currency: "USD",
	})
	require.NoError(t, err)
	_, err = f.engine.OpenProject(ctx, project.ID, f.buyer)
	require.NoError(t, err)

	contract, err := f.engine.CreateContract(ctx, lifecycle.CreateContractInput{
		ProjectID:   project.ID,
		BuyerID:     f.buyer,
		SellerID:    f.seller,
		Title:       "site rebuild",
		TotalAmount: usd("500.00"),
	})
	require.NoError(t, err)

	milestones, err := f.engine.CreateMilestones(ctx, contract.ID, f.buyer, []lifecycle.MilestoneInput{
		{Title: "design", Amount: usd("300.00"), OrderIndex: 1},
		{Title: "build", Amount: usd("200.00"), OrderIndex: 2},
	})
	require.NoError(t, err)

	_, err = f.engine.SignContract(ctx, contract.ID, f.buyer)
	require.NoError(t, err)
	contract, err = f.engine.SignContract(ctx, contract.ID, f.seller)
	require.NoError(t, err)
	require.Equal(t, model.ContractStatusActive, contract.Status)

	f.contract = contract
	f.milestones = milestones
	return f
}

func (f *fixture) reload(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	contract, err := f.store.GetContract(ctx, f.contract.ID)
	require.NoError(t, err)
	f.contract = contract
	for i := range f.milestones {
		m, err := f.store.GetMilestone(ctx, f.milestones[i].ID)
		require.NoError(t, err)
		f.milestones[i] = *m
	}
}

func TestFundCapturesAndAdvancesMilestone(t *testing.T) {
	f := newFixture(t, &scriptedProvider{})
	ctx := context.Background()

	txn, err := f.orch.Fund(ctx, f.milestones[0].ID, "")
	require.NoError(t, err)

	assert.Equal(t, model.TransactionStatusSuccess, txn.Status)
	assert.Equal(t, model.TransactionTypeFund, txn.Type)
	assert.Equal(t, "300.00", txn.Amount.String())
	assert.NotEmpty(t, txn.ProviderReference)
	assert.NotNil(t, txn.CompletedAt)

	f.reload(t)
	assert.Equal(t, model.MilestoneStatusFunded, f.milestones[0].Status)
	assert.Equal(t, "300.00", f.contract.BilledAmount.String())
	assert.Equal(t, "0.00", f.contract.PaidAmount.String())
}

func TestFundIsIdempotent(t *testing.T) {
	f := newFixture(t, &scriptedProvider{})
	ctx := context.Background()

	first, err := f.orch.Fund(ctx, f.milestones[0].ID, "")
	require.NoError(t, err)
	second, err := f.orch.Fund(ctx, f.milestones[0].ID, "")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, f.provider.captureCalls)

	f.reload(t)
	assert.Equal(t, "300.00", f.contract.BilledAmount.String(), "no double billing")
}

func TestFundRetriesTransientDeclines(t *testing.T) {
	f := newFixture(t, &scriptedProvider{
		captureScript: []escrow.Outcome{declined("card_declined"), declined("card_declined")},
	})
	ctx := context.Background()

	txn, err := f.orch.Fund(ctx, f.milestones[0].ID, "")
	require.NoError(t, err)

	assert.Equal(t, model.TransactionStatusSuccess, txn.Status)
	assert.Equal(t, 2, txn.RetryCount)
	assert.Equal(t, 3, f.provider.captureCalls)
	assert.Len(t, f.slept, 2, "one backoff per retried attempt")
}

func TestFundExhaustsRetries(t *testing.T) {
	f := newFixture(t, &scriptedProvider{
		captureScript: []escrow.Outcome{
			declined("insufficient_funds"), declined("insufficient_funds"), declined("insufficient_funds"),
		},
	})
	ctx := context.Background()

	txn, err := f.orch.Fund(ctx, f.milestones[0].ID, "")
	require.ErrorIs(t, err, escrow.ErrPaymentFailed)

	assert.Equal(t, model.TransactionStatusFailed, txn.Status)
	assert.Equal(t, 3, txn.RetryCount)
	assert.Equal(t, "insufficient_funds", txn.ErrorCode)

	f.reload(t)
	assert.Equal(t, model.MilestoneStatusPending, f.milestones[0].Status, "milestone untouched on failure")
	assert.Equal(t, "0.00", f.contract.BilledAmount.String())

	// Exhausted key short-circuits without another provider call.
	calls := f.provider.captureCalls
	_, err = f.orch.Fund(ctx, f.milestones[0].ID, "")
	require.ErrorIs(t, err, escrow.ErrPaymentFailed)
	assert.Equal(t, calls, f.provider.captureCalls)
}

func TestFundRejectsOutOfOrder(t *testing.T) {
	f := newFixture(t, &scriptedProvider{})
	ctx := context.Background()

	_, err := f.orch.Fund(ctx, f.milestones[1].ID, "")
	require.ErrorIs(t, err, lifecycle.ErrOutOfOrderFunding)

	assert.Zero(t, f.provider.captureCalls, "money never moves for a doomed transition")
	_, err = f.store.GetTransactionByKey(ctx, escrow.FundKey(f.milestones[1].ID))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func approveFirstMilestone(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	_, err := f.orch.Fund(ctx, f.milestones[0].ID, "")
	require.NoError(t, err)
	_, err = f.engine.StartMilestone(ctx, f.milestones[0].ID, f.seller)
	require.NoError(t, err)
	_, err = f.engine.SubmitMilestone(ctx, f.milestones[0].ID, f.seller, "https://deliverables.test/design.zip", "first pass")
	require.NoError(t, err)
	_, err = f.engine.ApproveMilestone(ctx, f.milestones[0].ID, f.buyer)
	require.NoError(t, err)
}

func TestReleasePaysOutWithFees(t *testing.T) {
	f := newFixture(t, &scriptedProvider{})
	ctx := context.Background()
	approveFirstMilestone(t, f)

	txn, err := f.orch.Release(ctx, f.milestones[0].ID)
	require.NoError(t, err)

	assert.Equal(t, model.TransactionStatusSuccess, txn.Status)
	assert.Equal(t, "300.00", txn.Amount.String())
	assert.Equal(t, "30.00", txn.PlatformFee.String())
	assert.Equal(t, "8.70", txn.ProcessorFee.String())
	assert.Equal(t, "261.30", txn.NetAmount.String())

	f.reload(t)
	assert.Equal(t, model.MilestoneStatusReleased, f.milestones[0].Status)
	assert.Equal(t, "300.00", f.contract.PaidAmount.String())

	txns, err := f.store.ListTransactionsByContract(ctx, f.contract.ID)
	require.NoError(t, err)
	byType := map[model.TransactionType]model.Transaction{}
	for _, tr := range txns {
		byType[tr.Type] = tr
	}
	require.Contains(t, byType, model.TransactionTypePayout)
	require.Contains(t, byType, model.TransactionTypeFee)
	assert.Equal(t, "261.30", byType[model.TransactionTypePayout].Amount.String())
	assert.Equal(t, "38.70", byType[model.TransactionTypeFee].Amount.String())
}

func TestReleaseRequiresApprovedMilestone(t *testing.T) {
	f := newFixture(t, &scriptedProvider{})
	ctx := context.Background()

	_, err := f.orch.Fund(ctx, f.milestones[0].ID, "")
	require.NoError(t, err)

	_, err = f.orch.Release(ctx, f.milestones[0].ID)
	require.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
	assert.Zero(t, f.provider.payoutCalls)
}

func TestReleaseIsIdempotent(t *testing.T) {
	f := newFixture(t, &scriptedProvider{})
	ctx := context.Background()
	approveFirstMilestone(t, f)

	first, err := f.orch.Release(ctx, f.milestones[0].ID)
	require.NoError(t, err)
	second, err := f.orch.Release(ctx, f.milestones[0].ID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, f.provider.payoutCalls)

	f.reload(t)
	assert.Equal(t, "300.00", f.contract.PaidAmount.String(), "no double payout")
}

func TestRefundUnwindsHeldMilestonesAndCancels(t *testing.T) {
	f := newFixture(t, &scriptedProvider{})
	ctx := context.Background()

	_, err := f.orch.Fund(ctx, f.milestones[0].ID, "")
	require.NoError(t, err)

	require.NoError(t, f.orch.Refund(ctx, f.contract.ID, "buyer walked away"))

	f.reload(t)
	assert.Equal(t, model.ContractStatusCancelled, f.contract.Status)
	assert.Equal(t, model.MilestoneStatusPending, f.milestones[0].Status)
	assert.Equal(t, "0.00", f.contract.BilledAmount.String())

	refund, err := f.store.GetTransactionByKey(ctx, escrow.RefundKey(f.milestones[0].ID))
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusRefunded, refund.Status)
	assert.Equal(t, "300.00", refund.Amount.String())
}

func TestRefundWithNothingHeldStillCancels(t *testing.T) {
	f := newFixture(t, &scriptedProvider{})
	ctx := context.Background()

	require.NoError(t, f.orch.Refund(ctx, f.contract.ID, "changed plans"))

	f.reload(t)
	assert.Equal(t, model.ContractStatusCancelled, f.contract.Status)
	assert.Zero(t, f.provider.refundCalls)
}

func TestRefundFailureDisputesContract(t *testing.T) {
	f := newFixture(t, &scriptedProvider{
		refundScript: []escrow.Outcome{
			declined("refund_rejected"), declined("refund_rejected"), declined("refund_rejected"),
		},
	})
	ctx := context.Background()

	_, err := f.orch.Fund(ctx, f.milestones[0].ID, "")
	require.NoError(t, err)

	err = f.orch.Refund(ctx, f.contract.ID, "buyer walked away")
	require.ErrorIs(t, err, escrow.ErrPaymentFailed)

	f.reload(t)
	assert.Equal(t, model.ContractStatusDisputed, f.contract.Status, "never silently cancelled")
	assert.Equal(t, model.MilestoneStatusFunded, f.milestones[0].Status, "held funds stay accounted for")
}

func TestReconcileCompletesPendingCapture(t *testing.T) {
	f := newFixture(t, &scriptedProvider{
		captureScript: []escrow.Outcome{{Status: escrow.OutcomePending, ProviderRef: "cap-async-1"}},
	})
	ctx := context.Background()

	txn, err := f.orch.Fund(ctx, f.milestones[0].ID, "")
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusProcessing, txn.Status)

	f.reload(t)
	assert.Equal(t, model.MilestoneStatusPending, f.milestones[0].Status, "nothing advances before a terminal outcome")

	require.NoError(t, f.orch.Reconcile(ctx, txn.ID, escrow.Outcome{
		Status: escrow.OutcomeSuccess, ProviderRef: "cap-async-1",
	}))

	settled, err := f.store.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusSuccess, settled.Status)

	f.reload(t)
	assert.Equal(t, model.MilestoneStatusFunded, f.milestones[0].Status)
	assert.Equal(t, "300.00", f.contract.BilledAmount.String())

	// Redelivered callback is a no-op.
	require.NoError(t, f.orch.Reconcile(ctx, txn.ID, escrow.Outcome{Status: escrow.OutcomeSuccess}))
	f.reload(t)
	assert.Equal(t, "300.00", f.contract.BilledAmount.String())
}

func TestReconcileRefundFailureDisputes(t *testing.T) {
	f := newFixture(t, &scriptedProvider{})
	ctx := context.Background()

	_, err := f.orch.Fund(ctx, f.milestones[0].ID, "")
	require.NoError(t, err)

	// Refund settles asynchronously, then the provider reports failure.
	f.provider.refundScript = []escrow.Outcome{{Status: escrow.OutcomePending, ProviderRef: "ref-async-1"}}
	require.NoError(t, f.orch.Refund(ctx, f.contract.ID, "buyer walked away"))

	refund, err := f.store.GetTransactionByKey(ctx, escrow.RefundKey(f.milestones[0].ID))
	require.NoError(t, err)
	require.Equal(t, model.TransactionStatusProcessing, refund.Status)

	err = f.orch.Reconcile(ctx, refund.ID, declined("refund_rejected"))
	require.ErrorIs(t, err, escrow.ErrPaymentFailed)

	f.reload(t)
	assert.Equal(t, model.ContractStatusDisputed, f.contract.Status)
}

func TestReconcileRefundSuccessFinalizesCancellation(t *testing.T) {
	f := newFixture(t, &scriptedProvider{})
	ctx := context.Background()

	_, err := f.orch.Fund(ctx, f.milestones[0].ID, "")
	require.NoError(t, err)

	f.provider.refundScript = []escrow.Outcome{{Status: escrow.OutcomePending, ProviderRef: "ref-async-1"}}
	require.NoError(t, f.orch.Refund(ctx, f.contract.ID, "buyer walked away"))

	f.reload(t)
	assert.Equal(t, model.ContractStatusActive, f.contract.Status, "cancellation waits for terminal refunds")

	refund, err := f.store.GetTransactionByKey(ctx, escrow.RefundKey(f.milestones[0].ID))
	require.NoError(t, err)
	require.NoError(t, f.orch.Reconcile(ctx, refund.ID, escrow.Outcome{Status: escrow.OutcomeSuccess}))

	f.reload(t)
	assert.Equal(t, model.ContractStatusCancelled, f.contract.Status)
	assert.Equal(t, model.MilestoneStatusPending, f.milestones[0].Status)
}

func TestAbandonCancelsPendingOnly(t *testing.T) {
	f := newFixture(t, &scriptedProvider{})
	ctx := context.Background()

	milestoneRef := f.milestones[0].ID
	contractRef := f.contract.ID
	txn := &model.Transaction{
		ID:             uuid.New(),
		ContractID:     &contractRef,
		MilestoneID:    &milestoneRef,
		Type:           model.TransactionTypeFund,
		Amount:         usd("300.00"),
		NetAmount:      usd("300.00"),
		PlatformFee:    money.Zero("USD"),
		ProcessorFee:   money.Zero("USD"),
		Status:         model.TransactionStatusPending,
		IdempotencyKey: "manual-intent",
		Provider:       "stub",
		InitiatedAt:    time.Now(),
	}
	require.NoError(t, f.store.CreateTransaction(ctx, txn))

	require.NoError(t, f.orch.Abandon(ctx, txn.ID))
	cancelled, err := f.store.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusCancelled, cancelled.Status)

	// In-flight transactions cannot be abandoned.
	f.provider.captureScript = []escrow.Outcome{{Status: escrow.OutcomePending, ProviderRef: "cap-async-1"}}
	inflight, err := f.orch.Fund(ctx, f.milestones[0].ID, "")
	require.NoError(t, err)
	require.Equal(t, model.TransactionStatusProcessing, inflight.Status)
	err = f.orch.Abandon(ctx, inflight.ID)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
}

func TestStubProviderDerivesStableRefs(t *testing.T) {
	stub := escrow.StubProvider{}
	a, err := stub.Capture(context.Background(), usd("10.00"), "txn-1")
	require.NoError(t, err)
	b, err := stub.Capture(context.Background(), usd("10.00"), "txn-1")
	require.NoError(t, err)
	assert.Equal(t, a.ProviderRef, b.ProviderRef)
	assert.Equal(t, escrow.OutcomeSuccess, a.Status)
}
