package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskhub/escrow/internal/model"
	"github.com/taskhub/escrow/internal/store"
)

type projectRow struct {
	ID              uuid.UUID
	OwnerID         uuid.UUID
	Title           string
	Description     string
	Currency        string
	Status          string
	AllowsProposals bool
	MaxProposals    int
	ProposalCount   int
	ViewCount       int64
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (r projectRow) toModel() *model.Project {
	return &model.Project{
		ID:              r.ID,
		OwnerID:         r.OwnerID,
		Title:           r.Title,
		Description:     r.Description,
		Currency:        r.Currency,
		Status:          model.ProjectStatus(r.Status),
		AllowsProposals: r.AllowsProposals,
		MaxProposals:    r.MaxProposals,
		ProposalCount:   r.ProposalCount,
		ViewCount:       r.ViewCount,
		Version:         r.Version,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

const projectColumns = `
	id, owner_id, title, description, currency, status, allows_proposals,
	max_proposals, proposal_count, view_count, version, created_at, updated_at`

func (q *queries) CreateProject(ctx context.Context, p *model.Project) error {
	if err := store.ValidateProject(p); err != nil {
		return err
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	stampCreate(&p.Version, &p.CreatedAt, &p.UpdatedAt)

	err := q.db.WithContext(ctx).Exec(`
		INSERT INTO projects (
			id, owner_id, title, description, currency, status, allows_proposals,
			max_proposals, proposal_count, view_count, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.OwnerID, p.Title, p.Description, p.Currency, p.Status,
		p.AllowsProposals, p.MaxProposals, p.ProposalCount, p.ViewCount,
		p.Version, p.CreatedAt, p.UpdatedAt,
	).Error
	if err != nil {
		return translateError(err, "project", p.ID)
	}
	return nil
}

func (q *queries) GetProject(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	var row projectRow
	err := q.db.WithContext(ctx).Raw(`
		SELECT `+projectColumns+`
		FROM projects
		WHERE id = ?
		LIMIT 1
	`, id).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, fmt.Errorf("project %s: %w", id, store.ErrNotFound)
	}
	return row.toModel(), nil
}

func (q *queries) UpdateProject(ctx context.Context, p *model.Project) error {
	if err := store.ValidateProject(p); err != nil {
		return err
	}
	updatedAt := time.Now().UTC()
	result := q.db.WithContext(ctx).Exec(`
		UPDATE projects
		SET
			title = ?,
			description = ?,
			status = ?,
			allows_proposals = ?,
			max_proposals = ?,
			proposal_count = ?,
			view_count = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND version = ?
	`,
		p.Title, p.Description, p.Status, p.AllowsProposals, p.MaxProposals,
		p.ProposalCount, p.ViewCount, updatedAt, p.ID, p.Version,
	)
	if err := q.checkUpdated(ctx, result, "projects", "project", p.ID); err != nil {
		return err
	}
	p.Version++
	p.UpdatedAt = updatedAt
	return nil
}
