package excel

import (
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/taskhub/escrow/internal/model"
)

type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// Generate writes an escrow statement as a workbook: a summary sheet plus
// one sheet each for milestones and transactions.
func (g *Generator) Generate(statement model.EscrowStatement) ([]byte, error) {
	file := excelize.NewFile()

	summarySheet := "Summary"
	file.SetSheetName("Sheet1", summarySheet)
	if err := g.writeSummary(file, summarySheet, statement); err != nil {
		return nil, err
	}

	milestoneSheet := "Milestones"
	if _, err := file.NewSheet(milestoneSheet); err != nil {
		return nil, err
	}
	if err := g.writeMilestones(file, milestoneSheet, statement); err != nil {
		return nil, err
	}

	txnSheet := "Transactions"
	if _, err := file.NewSheet(txnSheet); err != nil {
		return nil, err
	}
	if err := g.writeTransactions(file, txnSheet, statement); err != nil {
		return nil, err
	}

	file.SetActiveSheet(0)
	buf, err := file.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *Generator) writeSummary(file *excelize.File, sheet string, statement model.EscrowStatement) error {
	contract := statement.Contract

	set := func(cell string, value interface{}) {
		_ = file.SetCellValue(sheet, cell, value)
	}

	set("A1", "Contract")
	set("B1", contract.ID.String())
	set("A2", "Title")
	set("B2", contract.Title)
	set("A3", "Status")
	set("B3", string(contract.Status))
	set("A4", "Currency")
	set("B4", contract.TotalAmount.Currency())
	set("A5", "Buyer")
	set("B5", statement.Buyer.ID)
	set("A6", "Seller")
	set("B6", statement.Seller.ID)
	set("A7", "Contract total")
	set("B7", contract.TotalAmount.String())
	set("A8", "Funded into escrow")
	set("B8", statement.TotalFunded.String())
	set("A9", "Paid out")
	set("B9", statement.TotalPaid.String())
	set("A10", "Refunded")
	set("B10", statement.TotalRefunds.String())
	set("A11", "Held in escrow")
	if held, err := contract.BilledAmount.Sub(contract.PaidAmount); err == nil {
		set("B11", held.String())
	}

	_ = file.SetColWidth(sheet, "A", "A", 24)
	_ = file.SetColWidth(sheet, "B", "B", 44)
	return nil
}

func (g *Generator) writeMilestones(file *excelize.File, sheet string, statement model.EscrowStatement) error {
	set := func(cell string, value interface{}) {
		_ = file.SetCellValue(sheet, cell, value)
	}

	headers := []string{"Order", "Title", "Amount", "Status", "Funded at", "Submitted at", "Released at"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		set(cell, header)
	}

	for i, m := range statement.Milestones {
		row := i + 2
		set(fmt.Sprintf("A%d", row), m.OrderIndex)
		set(fmt.Sprintf("B%d", row), m.Title)
		set(fmt.Sprintf("C%d", row), m.Amount.String())
		set(fmt.Sprintf("D%d", row), string(m.Status))
		set(fmt.Sprintf("E%d", row), formatTimePtr(m.FundedAt))
		set(fmt.Sprintf("F%d", row), formatTimePtr(m.SubmittedAt))
		set(fmt.Sprintf("G%d", row), formatTimePtr(m.ReleasedAt))
	}

	_ = file.SetColWidth(sheet, "A", "A", 8)
	_ = file.SetColWidth(sheet, "B", "B", 40)
	_ = file.SetColWidth(sheet, "C", "G", 20)
	return nil
}

func (g *Generator) writeTransactions(file *excelize.File, sheet string, statement model.EscrowStatement) error {
	set := func(cell string, value interface{}) {
		_ = file.SetCellValue(sheet, cell, value)
	}

	headers := []string{
		"Initiated",
		"Type",
		"Milestone",
		"Amount",
		"Platform fee",
		"Processor fee",
		"Net",
		"Status",
		"Provider ref",
		"Error",
	}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		set(cell, header)
	}

	for i, line := range statement.Lines {
		txn := line.Transaction
		row := i + 2
		milestoneTitle := ""
		if line.Milestone != nil {
			milestoneTitle = line.Milestone.Title
		}
		set(fmt.Sprintf("A%d", row), formatDateTime(txn.InitiatedAt))
		set(fmt.Sprintf("B%d", row), string(txn.Type))
		set(fmt.Sprintf("C%d", row), milestoneTitle)
		set(fmt.Sprintf("D%d", row), txn.Amount.String())
		set(fmt.Sprintf("E%d", row), txn.PlatformFee.String())
		set(fmt.Sprintf("F%d", row), txn.ProcessorFee.String())
		set(fmt.Sprintf("G%d", row), txn.NetAmount.String())
		set(fmt.Sprintf("H%d", row), string(txn.Status))
		set(fmt.Sprintf("I%d", row), txn.ProviderReference)
		set(fmt.Sprintf("J%d", row), formatError(txn))
	}

	_ = file.SetColWidth(sheet, "A", "A", 20)
	_ = file.SetColWidth(sheet, "B", "B", 12)
	_ = file.SetColWidth(sheet, "C", "C", 36)
	_ = file.SetColWidth(sheet, "D", "H", 16)
	_ = file.SetColWidth(sheet, "I", "J", 36)
	return nil
}

func formatError(txn model.Transaction) string {
	if txn.ErrorCode == "" {
		return ""
	}
	return strings.TrimSpace(txn.ErrorCode + " " + txn.ErrorMessage)
}

func formatDateTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatDateTime(*t)
}
