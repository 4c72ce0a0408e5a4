package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/taskhub/escrow/internal/model"
	"github.com/taskhub/escrow/internal/store"
)

const defaultMaxProposals = 50

type CreateProjectInput struct {
	OwnerID      uuid.UUID
	Title        string
	Description  string
	Currency     string
	MaxProposals int
}

func (e *Engine) CreateProject(ctx context.Context, input CreateProjectInput) (*model.Project, error) {
	if input.OwnerID == uuid.Nil {
		return nil, fmt.Errorf("%w: owner is required", ErrValidation)
	}
	if input.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	input.Currency = strings.ToUpper(strings.TrimSpace(input.Currency))
	if input.Currency == "" {
		return nil, fmt.Errorf("%w: currency is required", ErrValidation)
	}
	if input.MaxProposals <= 0 {
		input.MaxProposals = defaultMaxProposals
	}

	project := &model.Project{
		ID:              uuid.New(),
		OwnerID:         input.OwnerID,
		Title:           input.Title,
		Description:     input.Description,
		Currency:        input.Currency,
		Status:          model.ProjectStatusDraft,
		AllowsProposals: true,
		MaxProposals:    input.MaxProposals,
	}
	if err := e.store.CreateProject(ctx, project); err != nil {
		return nil, err
	}
	return project, nil
}

func (e *Engine) OpenProject(ctx context.Context, projectID, actorID uuid.UUID) (*model.Project, error) {
	return e.transitionProject(ctx, projectID, actorID, model.ProjectStatusOpen, model.EventProjectOpened)
}

func (e *Engine) CompleteProject(ctx context.Context, projectID, actorID uuid.UUID) (*model.Project, error) {
	return e.transitionProject(ctx, projectID, actorID, model.ProjectStatusCompleted, model.EventProjectCompleted)
}

func (e *Engine) CancelProject(ctx context.Context, projectID, actorID uuid.UUID) (*model.Project, error) {
	return e.transitionProject(ctx, projectID, actorID, model.ProjectStatusCancelled, model.EventProjectCancelled)
}

// CloseProject archives a finished project. It refuses while any contract
// still references the project in a live state.
func (e *Engine) CloseProject(ctx context.Context, projectID, actorID uuid.UUID) (*model.Project, error) {
	var closed *model.Project
	err := e.withRetry(ctx, func(ctx context.Context) error {
		return e.store.Atomically(ctx, func(q store.Queries) error {
			project, err := q.GetProject(ctx, projectID)
			if err != nil {
				return err
			}
			if project.OwnerID != actorID {
				return fmt.Errorf("%w: only the owner may close a project", ErrPermissionDenied)
			}
			if err := checkProjectTransition(project.Status, model.ProjectStatusClosed); err != nil {
				return err
			}
			contracts, err := q.ListContractsByProject(ctx, projectID)
			if err != nil {
				return err
			}
			for _, c := range contracts {
				switch c.Status {
				case model.ContractStatusActive, model.ContractStatusPaused, model.ContractStatusDisputed:
					return fmt.Errorf("%w: contract %s is still %s", ErrInvalidTransition, c.ID, c.Status)
				}
			}
			project.Status = model.ProjectStatusClosed
			if err := q.UpdateProject(ctx, project); err != nil {
				return err
			}
			closed = project
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	e.emit(ctx, model.EventProjectClosed, "project", closed.ID, nil)
	return closed, nil
}

func (e *Engine) transitionProject(ctx context.Context, projectID, actorID uuid.UUID, to model.ProjectStatus, event model.EventType) (*model.Project, error) {
	var updated *model.Project
	err := e.withRetry(ctx, func(ctx context.Context) error {
		return e.store.Atomically(ctx, func(q store.Queries) error {
			project, err := q.GetProject(ctx, projectID)
			if err != nil {
				return err
			}
			if project.OwnerID != actorID {
				return fmt.Errorf("%w: not the project owner", ErrPermissionDenied)
			}
			if err := checkProjectTransition(project.Status, to); err != nil {
				return err
			}
			project.Status = to
			if to != model.ProjectStatusOpen {
				project.AllowsProposals = false
			}
			if err := q.UpdateProject(ctx, project); err != nil {
				return err
			}
			updated = project
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	e.emit(ctx, event, "project", updated.ID, map[string]any{"status": updated.Status})
	return updated, nil
}
