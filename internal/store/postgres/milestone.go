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

type milestoneRow struct {
	ID              uuid.UUID
	ContractID      uuid.UUID
	Title           string
	OrderIndex      int
	Amount          decimal.Decimal
	Currency        string
	Status          string
	DeliverableURL  string
	SubmissionNotes string
	FundedAt        *time.Time
	StartedAt       *time.Time
	SubmittedAt     *time.Time
	ApprovedAt      *time.Time
	ReleasedAt      *time.Time
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (r milestoneRow) toModel() *model.Milestone {
	return &model.Milestone{
		ID:              r.ID,
		ContractID:      r.ContractID,
		Title:           r.Title,
		OrderIndex:      r.OrderIndex,
		Amount:          money.New(r.Amount, r.Currency),
		Status:          model.MilestoneStatus(r.Status),
		DeliverableURL:  r.DeliverableURL,
		SubmissionNotes: r.SubmissionNotes,
		FundedAt:        r.FundedAt,
		StartedAt:       r.StartedAt,
		SubmittedAt:     r.SubmittedAt,
		ApprovedAt:      r.ApprovedAt,
		ReleasedAt:      r.ReleasedAt,
		Version:         r.Version,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

const milestoneColumns = `
	id, contract_id, title, order_index, amount, currency, status,
	deliverable_url, submission_notes, funded_at, started_at, submitted_at,
	approved_at, released_at, version, created_at, updated_at`

func (q *queries) CreateMilestone(ctx context.Context, m *model.Milestone) error {
	if err := store.ValidateMilestone(m); err != nil {
		return err
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	stampCreate(&m.Version, &m.CreatedAt, &m.UpdatedAt)

	err := q.db.WithContext(ctx).Exec(`
		INSERT INTO milestones (
			id, contract_id, title, order_index, amount, currency, status,
			deliverable_url, submission_notes, funded_at, started_at, submitted_at,
			approved_at, released_at, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID, m.ContractID, m.Title, m.OrderIndex, m.Amount.Amount(),
		m.Amount.Currency(), m.Status, m.DeliverableURL, m.SubmissionNotes,
		m.FundedAt, m.StartedAt, m.SubmittedAt, m.ApprovedAt, m.ReleasedAt,
		m.Version, m.CreatedAt, m.UpdatedAt,
	).Error
	if err != nil {
		return translateError(err, "milestone", m.ID)
	}
	return nil
}

func (q *queries) GetMilestone(ctx context.Context, id uuid.UUID) (*model.Milestone, error) {
	var row milestoneRow
	err := q.db.WithContext(ctx).Raw(`
		SELECT `+milestoneColumns+`
		FROM milestones
		WHERE id = ?
		LIMIT 1
	`, id).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, fmt.Errorf("milestone %s: %w", id, store.ErrNotFound)
	}
	return row.toModel(), nil
}

func (q *queries) UpdateMilestone(ctx context.Context, m *model.Milestone) error {
	if err := store.ValidateMilestone(m); err != nil {
		return err
	}
	updatedAt := time.Now().UTC()
	result := q.db.WithContext(ctx).Exec(`
		UPDATE milestones
		SET
			title = ?,
			status = ?,
			deliverable_url = ?,
			submission_notes = ?,
			funded_at = ?,
			started_at = ?,
			submitted_at = ?,
			approved_at = ?,
			released_at = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND version = ?
	`,
		m.Title, m.Status, m.DeliverableURL, m.SubmissionNotes,
		m.FundedAt, m.StartedAt, m.SubmittedAt, m.ApprovedAt, m.ReleasedAt,
		updatedAt, m.ID, m.Version,
	)
	if err := q.checkUpdated(ctx, result, "milestones", "milestone", m.ID); err != nil {
		return err
	}
	m.Version++
	m.UpdatedAt = updatedAt
	return nil
}

func (q *queries) ListMilestonesByContract(ctx context.Context, contractID uuid.UUID) ([]model.Milestone, error) {
	var rows []milestoneRow
	err := q.db.WithContext(ctx).Raw(`
		SELECT `+milestoneColumns+`
		FROM milestones
		WHERE contract_id = ?
		ORDER BY order_index ASC
	`, contractID).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	milestones := make([]model.Milestone, len(rows))
	for i, row := range rows {
		milestones[i] = *row.toModel()
	}
	return milestones, nil
}
