package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/taskhub/escrow/internal/model"
	"github.com/taskhub/escrow/internal/money"
	"github.com/taskhub/escrow/internal/store"
)

type contractRow struct {
	ID                     uuid.UUID
	ProjectID              uuid.UUID
	BuyerID                uuid.UUID
	SellerID               uuid.UUID
	OriginatingProposalID  *uuid.UUID
	Title                  string
	TotalAmount            decimal.Decimal
	BilledAmount           decimal.Decimal
	PaidAmount             decimal.Decimal
	Currency               string
	Status                 string
	AllowOutOfOrderFunding bool
	SignedByBuyerAt        *time.Time
	SignedBySellerAt       *time.Time
	CompletedAt            *time.Time
	Version                int64
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

func (r contractRow) toModel() *model.Contract {
	return &model.Contract{
		ID:                     r.ID,
		ProjectID:              r.ProjectID,
		BuyerID:                r.BuyerID,
		SellerID:               r.SellerID,
		OriginatingProposalID:  r.OriginatingProposalID,
		Title:                  r.Title,
		TotalAmount:            money.New(r.TotalAmount, r.Currency),
		BilledAmount:           money.New(r.BilledAmount, r.Currency),
		PaidAmount:             money.New(r.PaidAmount, r.Currency),
		Status:                 model.ContractStatus(r.Status),
		AllowOutOfOrderFunding: r.AllowOutOfOrderFunding,
		SignedByBuyerAt:        r.SignedByBuyerAt,
		SignedBySellerAt:       r.SignedBySellerAt,
		CompletedAt:            r.CompletedAt,
		Version:                r.Version,
		CreatedAt:              r.CreatedAt,
		UpdatedAt:              r.UpdatedAt,
	}
}

const contractColumns = `
	id, project_id, buyer_id, seller_id, originating_proposal_id, title,
	total_amount, billed_amount, paid_amount, currency, status,
	allow_out_of_order_funding, signed_by_buyer_at, signed_by_seller_at,
	completed_at, version, created_at, updated_at`

func (q *queries) CreateContract(ctx context.Context, c *model.Contract) error {
	if err := store.ValidateContract(c); err != nil {
		return err
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	stampCreate(&c.Version, &c.CreatedAt, &c.UpdatedAt)

	err := q.db.WithContext(ctx).Exec(`
		INSERT INTO contracts (
			id, project_id, buyer_id, seller_id, originating_proposal_id, title,
			total_amount, billed_amount, paid_amount, currency, status,
			allow_out_of_order_funding, signed_by_buyer_at, signed_by_seller_at,
			completed_at, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.ProjectID, c.BuyerID, c.SellerID, c.OriginatingProposalID, c.Title,
		c.TotalAmount.Amount(), c.BilledAmount.Amount(), c.PaidAmount.Amount(),
		c.TotalAmount.Currency(), c.Status, c.AllowOutOfOrderFunding,
		c.SignedByBuyerAt, c.SignedBySellerAt, c.CompletedAt,
		c.Version, c.CreatedAt, c.UpdatedAt,
	).Error
	if err != nil {
		return translateError(err, "contract", c.ID)
	}
	return nil
}

func (q *queries) GetContract(ctx context.Context, id uuid.UUID) (*model.Contract, error) {
	var row contractRow
	err := q.db.WithContext(ctx).Raw(`
		SELECT `+contractColumns+`
		FROM contracts
		WHERE id = ?
		LIMIT 1
	`, id).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, fmt.Errorf("contract %s: %w", id, store.ErrNotFound)
	}
	return row.toModel(), nil
}

func (q *queries) UpdateContract(ctx context.Context, c *model.Contract) error {
	if err := store.ValidateContract(c); err != nil {
		return err
	}
	updatedAt := time.Now().UTC()
	result := q.db.WithContext(ctx).Exec(`
		UPDATE contracts
		SET
			title = ?,
			total_amount = ?,
			billed_amount = ?,
			paid_amount = ?,
			status = ?,
			allow_out_of_order_funding = ?,
			signed_by_buyer_at = ?,
			signed_by_seller_at = ?,
			completed_at = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND version = ?
	`,
		c.Title, c.TotalAmount.Amount(), c.BilledAmount.Amount(), c.PaidAmount.Amount(),
		c.Status, c.AllowOutOfOrderFunding, c.SignedByBuyerAt, c.SignedBySellerAt,
		c.CompletedAt, updatedAt, c.ID, c.Version,
	)
	if err := q.checkUpdated(ctx, result, "contracts", "contract", c.ID); err != nil {
		return err
	}
	c.Version++
	c.UpdatedAt = updatedAt
	return nil
}

func (q *queries) ListContractsByProject(ctx context.Context, projectID uuid.UUID) ([]model.Contract, error) {
	var rows []contractRow
	err := q.db.WithContext(ctx).Raw(`
		SELECT `+contractColumns+`
		FROM contracts
		WHERE project_id = ?
		ORDER BY created_at ASC
	`, projectID).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	contracts := make([]model.Contract, len(rows))
	for i, row := range rows {
		contracts[i] = *row.toModel()
	}
	return contracts, nil
}
