// Package statement assembles the printable ledger view of a contract for
// the PDF and spreadsheet exports.
package statement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskhub/escrow/internal/lifecycle"
	"github.com/taskhub/escrow/internal/model"
	"github.com/taskhub/escrow/internal/money"
	"github.com/taskhub/escrow/internal/store"
)

type Service struct {
	store store.Store
}

func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// Build collects the contract, its milestones and every transaction into one
// statement. Only the contract's parties may request it.
func (s *Service) Build(ctx context.Context, contractID, actorID uuid.UUID) (*model.EscrowStatement, error) {
	contract, err := s.store.GetContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if actorID != contract.BuyerID && actorID != contract.SellerID {
		return nil, fmt.Errorf("%w: not a party to this contract", lifecycle.ErrPermissionDenied)
	}

	milestones, err := s.store.ListMilestonesByContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	transactions, err := s.store.ListTransactionsByContract(ctx, contractID)
	if err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]*model.Milestone, len(milestones))
	for i := range milestones {
		byID[milestones[i].ID] = &milestones[i]
	}

	currency := contract.TotalAmount.Currency()
	funded := money.Zero(currency)
	paid := money.Zero(currency)
	refunds := money.Zero(currency)

	lines := make([]model.StatementLine, 0, len(transactions))
	for _, txn := range transactions {
		line := model.StatementLine{Transaction: txn}
		if txn.MilestoneID != nil {
			line.Milestone = byID[*txn.MilestoneID]
		}
		lines = append(lines, line)

		switch {
		case txn.Type == model.TransactionTypeFund && txn.Status == model.TransactionStatusSuccess:
			if funded, err = funded.Add(txn.Amount); err != nil {
				return nil, err
			}
		case txn.Type == model.TransactionTypeRelease && txn.Status == model.TransactionStatusSuccess:
			if paid, err = paid.Add(txn.Amount); err != nil {
				return nil, err
			}
		case txn.Type == model.TransactionTypeRefund && txn.Status == model.TransactionStatusRefunded:
			if refunds, err = refunds.Add(txn.Amount); err != nil {
				return nil, err
			}
		}
	}

	return &model.EscrowStatement{
		Contract:     *contract,
		Buyer:        model.Party{ID: contract.BuyerID.String(), Role: "buyer"},
		Seller:       model.Party{ID: contract.SellerID.String(), Role: "seller"},
		Milestones:   milestones,
		Lines:        lines,
		TotalFunded:  funded,
		TotalPaid:    paid,
		TotalRefunds: refunds,
	}, nil
}

// FileName derives the export file name for a statement.
func FileName(statement *model.EscrowStatement, extension string) string {
	return fmt.Sprintf("escrow-statement-%s-%s.%s",
		statement.Contract.ID, time.Now().Format("20060102"), extension)
}
