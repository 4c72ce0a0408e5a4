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

type proposalRow struct {
	ID                    uuid.UUID
	ProjectID             uuid.UUID
	BidderID              uuid.UUID
	BidAmount             decimal.Decimal
	Currency              string
	CoverLetter           string
	EstimatedDeliveryDays int
	Status                string
	SubmittedAt           time.Time
	Version               int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (r proposalRow) toModel() *model.Proposal {
	return &model.Proposal{
		ID:                    r.ID,
		ProjectID:             r.ProjectID,
		BidderID:              r.BidderID,
		BidAmount:             money.New(r.BidAmount, r.Currency),
		CoverLetter:           r.CoverLetter,
		EstimatedDeliveryDays: r.EstimatedDeliveryDays,
		Status:                model.ProposalStatus(r.Status),
		SubmittedAt:           r.SubmittedAt,
		Version:               r.Version,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
}

const proposalColumns = `
	id, project_id, bidder_id, bid_amount, currency, cover_letter,
	estimated_delivery_days, status, submitted_at, version, created_at, updated_at`

func (q *queries) CreateProposal(ctx context.Context, p *model.Proposal) error {
	if err := store.ValidateProposal(p); err != nil {
		return err
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.SubmittedAt.IsZero() {
		p.SubmittedAt = time.Now().UTC()
	}
	stampCreate(&p.Version, &p.CreatedAt, &p.UpdatedAt)

	err := q.db.WithContext(ctx).Exec(`
		INSERT INTO proposals (
			id, project_id, bidder_id, bid_amount, currency, cover_letter,
			estimated_delivery_days, status, submitted_at, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.ProjectID, p.BidderID, p.BidAmount.Amount(), p.BidAmount.Currency(),
		p.CoverLetter, p.EstimatedDeliveryDays, p.Status, p.SubmittedAt,
		p.Version, p.CreatedAt, p.UpdatedAt,
	).Error
	if err != nil {
		return translateError(err, "proposal", p.ID)
	}
	return nil
}

func (q *queries) GetProposal(ctx context.Context, id uuid.UUID) (*model.Proposal, error) {
	var row proposalRow
	err := q.db.WithContext(ctx).Raw(`
		SELECT `+proposalColumns+`
		FROM proposals
		WHERE id = ?
		LIMIT 1
	`, id).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, fmt.Errorf("proposal %s: %w", id, store.ErrNotFound)
	}
	return row.toModel(), nil
}

func (q *queries) UpdateProposal(ctx context.Context, p *model.Proposal) error {
	if err := store.ValidateProposal(p); err != nil {
		return err
	}
	updatedAt := time.Now().UTC()
	result := q.db.WithContext(ctx).Exec(`
		UPDATE proposals
		SET
			bid_amount = ?,
			cover_letter = ?,
			estimated_delivery_days = ?,
			status = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND version = ?
	`,
		p.BidAmount.Amount(), p.CoverLetter, p.EstimatedDeliveryDays, p.Status,
		updatedAt, p.ID, p.Version,
	)
	if err := q.checkUpdated(ctx, result, "proposals", "proposal", p.ID); err != nil {
		return err
	}
	p.Version++
	p.UpdatedAt = updatedAt
	return nil
}

func (q *queries) ListProposalsByProject(ctx context.Context, projectID uuid.UUID) ([]model.Proposal, error) {
	var rows []proposalRow
	err := q.db.WithContext(ctx).Raw(`
		SELECT `+proposalColumns+`
		FROM proposals
		WHERE project_id = ?
		ORDER BY created_at ASC
	`, projectID).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	proposals := make([]model.Proposal, len(rows))
	for i, row := range rows {
		proposals[i] = *row.toModel()
	}
	return proposals, nil
}

func (q *queries) GetActiveProposalForBidder(ctx context.Context, projectID, bidderID uuid.UUID) (*model.Proposal, error) {
	var row proposalRow
	err := q.db.WithContext(ctx).Raw(`
		SELECT `+proposalColumns+`
		FROM proposals
		WHERE project_id = ? AND bidder_id = ? AND status <> 'WITHDRAWN'
		LIMIT 1
	`, projectID, bidderID).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, fmt.Errorf("proposal for bidder %s on project %s: %w", bidderID, projectID, store.ErrNotFound)
	}
	return row.toModel(), nil
}
