// Package postgres persists the escrow entities through raw SQL over gorm.
// Optimistic concurrency rides on the version column: every UPDATE is
// conditional on the version the caller read, and zero affected rows is
// reported as store.ErrStaleWrite.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/taskhub/escrow/internal/store"
)

type Store struct {
	queries
}

func New(db *gorm.DB) *Store {
	return &Store{queries: queries{db: db}}
}

func (s *Store) Atomically(ctx context.Context, fn func(q store.Queries) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&queries{db: tx})
	})
}

// queries runs against either the root pool or a transaction handle.
type queries struct {
	db *gorm.DB
}

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func translateError(err error, entity string, id uuid.UUID) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%s %s: %w", entity, id, store.ErrDuplicate)
		case pgForeignKeyViolation:
			return fmt.Errorf("%s %s referenced row: %w", entity, id, store.ErrNotFound)
		}
	}
	return err
}

func stampCreate(version *int64, createdAt, updatedAt *time.Time) {
	*version = 1
	now := time.Now().UTC()
	*createdAt = now
	*updatedAt = now
}

// checkUpdated resolves a conditional UPDATE that touched no rows into the
// right sentinel: the row is either gone or at a different version.
func (q *queries) checkUpdated(ctx context.Context, result *gorm.DB, table, entity string, id uuid.UUID) error {
	if result.Error != nil {
		return translateError(result.Error, entity, id)
	}
	if result.RowsAffected > 0 {
		return nil
	}
	var count int64
	if err := q.db.WithContext(ctx).Raw(
		fmt.Sprintf(`SELECT COUNT(1) FROM %s WHERE id = ?`, table), id,
	).Scan(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%s %s: %w", entity, id, store.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", entity, id, store.ErrStaleWrite)
}
