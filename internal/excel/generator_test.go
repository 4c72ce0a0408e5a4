package excel_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/taskhub/escrow/internal/excel"
	"github.com/taskhub/escrow/internal/model"
	"github.com/taskhub/escrow/internal/money"
)

func usd(amount string) money.Money {
	m, err := money.Parse(amount, "USD")
	if err != nil {
		panic(err)
	}
	return m
}

func TestGenerateWorkbook(t *testing.T) {
	now := time.Now()
	contract := model.Contract{
		ID:           uuid.New(),
		BuyerID:      uuid.New(),
		SellerID:     uuid.New(),
		Title:        "site rebuild",
		TotalAmount:  usd("500.00"),
		BilledAmount: usd("300.00"),
		PaidAmount:   usd("0.00"),
		Status:       model.ContractStatusActive,
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
		ID:           uuid.New(),
		ContractID:   &contractRef,
		MilestoneID:  &milestoneRef,
		Type:         model.TransactionTypeFund,
		Amount:       usd("300.00"),
		NetAmount:    usd("300.00"),
		PlatformFee:  usd("0.00"),
		ProcessorFee: usd("0.00"),
		Status:       model.TransactionStatusSuccess,
		InitiatedAt:  now,
	}
	input := model.EscrowStatement{
		Contract:     contract,
		Buyer:        model.Party{ID: contract.BuyerID.String(), Role: "buyer"},
		Seller:       model.Party{ID: contract.SellerID.String(), Role: "seller"},
		Milestones:   []model.Milestone{milestone},
		Lines:        []model.StatementLine{{Transaction: txn, Milestone: &milestone}},
		TotalFunded:  usd("300.00"),
		TotalPaid:    usd("0.00"),
		TotalRefunds: usd("0.00"),
	}

	generator := excel.NewGenerator()
	content, err := generator.Generate(input)
	require.NoError(t, err)
	require.NotEmpty(t, content)

	file, err := excelize.OpenReader(bytes.NewReader(content))
	require.NoError(t, err)
	defer file.Close()

	assert.ElementsMatch(t, []string{"Summary", "Milestones", "Transactions"}, file.GetSheetList())

	funded, err := file.GetCellValue("Summary", "B8")
	require.NoError(t, err)
	assert.Equal(t, "300.00", funded)

	title, err := file.GetCellValue("Milestones", "B2")
	require.NoError(t, err)
	assert.Equal(t, "design", title)

	txnType, err := file.GetCellValue("Transactions", "B2")
	require.NoError(t, err)
	assert.Equal(t, "fund", txnType)
}
