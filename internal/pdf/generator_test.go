package pdf_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskhub/escrow/internal/model"
	"github.com/taskhub/escrow/internal/money"
	"github.com/taskhub/escrow/internal/pdf"
)

func usd(amount string) money.Money {
	m, err := money.Parse(amount, "USD")
	if err != nil {
		panic(err)
	}
	return m
}

func sampleStatement() model.EscrowStatement {
	now := time.Now()
	contract := model.Contract{
		ID:               uuid.New(),
		BuyerID:          uuid.New(),
		SellerID:         uuid.New(),
		Title:            "site rebuild",
		TotalAmount:      usd("500.00"),
		BilledAmount:     usd("300.00"),
		PaidAmount:       usd("0.00"),
		Status:           model.ContractStatusActive,
		SignedByBuyerAt:  &now,
		SignedBySellerAt: &now,
	}
	milestone := model.Milestone{
		ID:         uuid.New(),
		ContractID: contract.ID,
		Title:      "design",
		OrderIndex: 1,
		Amount:     usd("300.00"),
		Status:     model.MilestoneStatusFunded,
		FundedAt:   &now,
	}
	contractRef := contract.ID
	milestoneRef := milestone.ID
	txn := model.Transaction{
		ID:                uuid.New(),
		ContractID:        &contractRef,
		MilestoneID:       &milestoneRef,
		Type:              model.TransactionTypeFund,
		Amount:            usd("300.00"),
		NetAmount:         usd("300.00"),
		PlatformFee:       usd("0.00"),
		ProcessorFee:      usd("0.00"),
		Status:            model.TransactionStatusSuccess,
		ProviderReference: "cap-123",
		InitiatedAt:       now,
		CompletedAt:       &now,
	}
	return model.EscrowStatement{
		Contract:     contract,
		Buyer:        model.Party{ID: contract.BuyerID.String(), Role: "buyer"},
		Seller:       model.Party{ID: contract.SellerID.String(), Role: "seller"},
		Milestones:   []model.Milestone{milestone},
		Lines:        []model.StatementLine{{Transaction: txn, Milestone: &milestone}},
		TotalFunded:  usd("300.00"),
		TotalPaid:    usd("0.00"),
		TotalRefunds: usd("0.00"),
	}
}

func TestGenerateProducesPDF(t *testing.T) {
	generator := pdf.NewGenerator()
	content, err := generator.Generate(sampleStatement())
	require.NoError(t, err)
	require.NotEmpty(t, content)
	assert.Equal(t, "%PDF", string(content[:4]))
}
