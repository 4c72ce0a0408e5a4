package pdf

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/taskhub/escrow/internal/model"
)

type Generator struct {
	fontName string
}

func NewGenerator() *Generator {
	return &Generator{fontName: "Helvetica"}
}

// Generate renders a contract's escrow statement as a printable PDF.
func (g *Generator) Generate(statement model.EscrowStatement) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()

	pdf.SetFont(g.fontName, "B", 14)
	pdf.CellFormat(0, 10, "Escrow Statement", "", 1, "C", false, 0, "")

	contract := statement.Contract
	pdf.SetFont(g.fontName, "", 11)
	pdf.CellFormat(0, 6, fmt.Sprintf("Contract %s - %s", contract.ID, safeValue(contract.Title)), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Status: %s, issued %s", contract.Status, formatDate(time.Now())), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	addPartyBlock(pdf, g.fontName, "Buyer", statement.Buyer)
	pdf.Ln(2)
	addPartyBlock(pdf, g.fontName, "Seller", statement.Seller)
	pdf.Ln(4)

	pdf.SetFont(g.fontName, "B", 12)
	pdf.CellFormat(0, 8, "Totals", "", 1, "L", false, 0, "")
	pdf.SetFont(g.fontName, "", 11)
	currency := contract.TotalAmount.Currency()
	pdf.CellFormat(0, 6, fmt.Sprintf("Contract total: %s %s", contract.TotalAmount, currency), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Funded into escrow: %s %s", statement.TotalFunded, currency), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Paid out: %s %s", statement.TotalPaid, currency), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Refunded: %s %s", statement.TotalRefunds, currency), "", 1, "L", false, 0, "")
	if contract.HasOutstandingFunds() {
		pdf.SetTextColor(200, 0, 0)
		pdf.MultiCell(0, 6, "Funds are still held in escrow for this contract.", "", "L", false)
		pdf.SetTextColor(0, 0, 0)
	}
	pdf.Ln(4)

	pdf.SetFont(g.fontName, "B", 12)
	pdf.CellFormat(0, 8, "Milestones", "", 1, "L", false, 0, "")
	headers := []string{"#", "Title", "Amount", "Status", "Funded", "Released"}
	colWidths := []float64{12, 110, 35, 30, 35, 35}
	drawTableRow(pdf, g.fontName, headers, colWidths, true)
	for _, m := range statement.Milestones {
		row := []string{
			fmt.Sprintf("%d", m.OrderIndex),
			safeValue(m.Title),
			m.Amount.String(),
			string(m.Status),
			formatDatePtr(m.FundedAt),
			formatDatePtr(m.ReleasedAt),
		}
		drawTableRow(pdf, g.fontName, row, colWidths, false)
	}
	pdf.Ln(4)

	pdf.SetFont(g.fontName, "B", 12)
	pdf.CellFormat(0, 8, "Transactions", "", 1, "L", false, 0, "")
	txnHeaders := []string{"Type", "Amount", "Fees", "Status", "Provider ref", "Completed"}
	txnWidths := []float64{25, 35, 35, 28, 70, 35}
	drawTableRow(pdf, g.fontName, txnHeaders, txnWidths, true)
	for _, line := range statement.Lines {
		txn := line.Transaction
		fees := "-"
		if txn.PlatformFee.IsPositive() || txn.ProcessorFee.IsPositive() {
			fees = fmt.Sprintf("%s + %s", txn.PlatformFee, txn.ProcessorFee)
		}
		row := []string{
			string(txn.Type),
			txn.Amount.String(),
			fees,
			string(txn.Status),
			safeValue(txn.ProviderReference),
			formatDatePtr(txn.CompletedAt),
		}
		drawTableRow(pdf, g.fontName, row, txnWidths, false)
	}

	pdf.Ln(6)
	pdf.SetFont(g.fontName, "B", 12)
	pdf.CellFormat(0, 8, "Signatures", "", 1, "L", false, 0, "")
	pdf.SetFont(g.fontName, "", 11)
	signatureBlock(pdf, g.fontName, "Buyer", contract.SignedByBuyerAt)
	signatureBlock(pdf, g.fontName, "Seller", contract.SignedBySellerAt)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func addPartyBlock(pdf *gofpdf.Fpdf, fontName, title string, party model.Party) {
	pdf.SetFont(fontName, "B", 11)
	pdf.CellFormat(0, 6, title, "", 1, "L", false, 0, "")
	pdf.SetFont(fontName, "", 10)
	lines := []string{
		fmt.Sprintf("Account: %s", safeValue(party.ID)),
		fmt.Sprintf("Name: %s", safeValue(party.Name)),
	}
	for _, line := range lines {
		pdf.MultiCell(0, 5, line, "", "L", false)
	}
}

func drawTableRow(pdf *gofpdf.Fpdf, fontName string, cols []string, widths []float64, header bool) {
	style := ""
	if header {
		style = "B"
	}
	pdf.SetFont(fontName, style, 10)
	for i, col := range cols {
		align := "L"
		if i == 2 {
			align = "R"
		}
		pdf.CellFormat(widths[i], 8, col, "1", 0, align, false, 0, "")
	}
	pdf.Ln(-1)
}

func signatureBlock(pdf *gofpdf.Fpdf, fontName, label string, signedAt *time.Time) {
	signed := "not signed"
	if signedAt != nil {
		signed = "signed " + formatDate(*signedAt)
	}
	pdf.CellFormat(0, 6, fmt.Sprintf("%s: ______________________ (%s)", label, signed), "", 1, "L", false, 0, "")
}

func safeValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("02.01.2006")
}

func formatDatePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatDate(*t)
}
