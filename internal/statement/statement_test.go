package statement_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskhub/escrow/internal/lifecycle"
	"github.com/taskhub/escrow/internal/model"
	"github.com/taskhub/escrow/internal/money"
	"github.com/taskhub/escrow/internal/statement"
	"github.com/taskhub/escrow/internal/store/memory"
)

func usd(amount string) money.Money {
	m, err := money.Parse(amount, "USD")
	if err != nil {
		panic(err)
	}
	return m
}

func seed(t *testing.T) (*memory.Store, *model.Contract, model.Milestone) {
	t.Helper()
	ctx := context.Background()
	st := memory.New()

	buyer := uuid.New()
	project := &model.Project{
		OwnerID:      buyer,
		Title:        "site rebuild",
		Currency:     "USD",
		Status:       model.ProjectStatusInProgress,
		MaxProposals: 50,
	}
	require.NoError(t, st.CreateProject(ctx, project))

	contract := &model.Contract{
		ID:           uuid.New(),
		ProjectID:    project.ID,
		BuyerID:      buyer,
		SellerID:     uuid.New(),
		Title:        "site rebuild",
		TotalAmount:  usd("500.00"),
		BilledAmount: usd("300.00"),
		PaidAmount:   usd("300.00"),
		Status:       model.ContractStatusActive,
	}
	require.NoError(t, st.CreateContract(ctx, contract))

	milestone := model.Milestone{
		ID:         uuid.New(),
		ContractID: contract.ID,
		Title:      "design",
		OrderIndex: 1,
		Amount:     usd("300.00"),
		Status:     model.MilestoneStatusReleased,
	}
	require.NoError(t, st.CreateMilestone(ctx, &milestone))

	contractRef := contract.ID
	milestoneRef := milestone.ID
	now := time.Now()
	for i, txn := range []model.Transaction{
		{
			Type: model.TransactionTypeFund, Amount: usd("300.00"), NetAmount: usd("300.00"),
			PlatformFee: usd("0.00"), ProcessorFee: usd("0.00"),
			Status: model.TransactionStatusSuccess, IdempotencyKey: "fund-1",
		},
		{
			Type: model.TransactionTypeRelease, Amount: usd("300.00"), NetAmount: usd("261.30"),
			PlatformFee: usd("30.00"), ProcessorFee: usd("8.70"),
			Status: model.TransactionStatusSuccess, IdempotencyKey: "release-1",
		},
		{
			Type: model.TransactionTypeRefund, Amount: usd("100.00"), NetAmount: usd("100.00"),
			PlatformFee: usd("0.00"), ProcessorFee: usd("0.00"),
			Status: model.TransactionStatusFailed, IdempotencyKey: "refund-1",
		},
	} {
		txn.ID = uuid.New()
		txn.ContractID = &contractRef
		txn.MilestoneID = &milestoneRef
		txn.Provider = "stub"
		txn.InitiatedAt = now.Add(time.Duration(i) * time.Second)
		require.NoError(t, st.CreateTransaction(ctx, &txn))
	}

	return st, contract, milestone
}

func TestBuildAggregatesTotals(t *testing.T) {
	st, contract, milestone := seed(t)
	svc := statement.NewService(st)

	result, err := svc.Build(context.Background(), contract.ID, contract.BuyerID)
	require.NoError(t, err)

	assert.Equal(t, "300.00", result.TotalFunded.String())
	assert.Equal(t, "300.00", result.TotalPaid.String())
	assert.Equal(t, "0.00", result.TotalRefunds.String(), "failed refund does not count")
	assert.Equal(t, "buyer", result.Buyer.Role)

	require.Len(t, result.Lines, 3)
	assert.True(t, result.Lines[0].Transaction.InitiatedAt.Before(result.Lines[2].Transaction.InitiatedAt))
	require.NotNil(t, result.Lines[0].Milestone)
	assert.Equal(t, milestone.ID, result.Lines[0].Milestone.ID)
}

func TestBuildRequiresParty(t *testing.T) {
	st, contract, _ := seed(t)
	svc := statement.NewService(st)

	_, err := svc.Build(context.Background(), contract.ID, uuid.New())
	assert.ErrorIs(t, err, lifecycle.ErrPermissionDenied)

	_, err = svc.Build(context.Background(), contract.ID, contract.SellerID)
	assert.NoError(t, err)
}

func TestFileName(t *testing.T) {
	st, contract, _ := seed(t)
	svc := statement.NewService(st)

	result, err := svc.Build(context.Background(), contract.ID, contract.BuyerID)
	require.NoError(t, err)

	name := statement.FileName(result, "pdf")
	assert.Contains(t, name, contract.ID.String())
	assert.Contains(t, name, ".pdf")
}
