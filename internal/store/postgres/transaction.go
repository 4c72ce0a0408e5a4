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

type transactionRow struct {
	ID                uuid.UUID
	ContractID        *uuid.UUID
	MilestoneID       *uuid.UUID
	Type              string
	Amount            decimal.Decimal
	Currency          string
	Status            string
	IdempotencyKey    string
	Provider          string
	ProviderReference string
	PlatformFee       decimal.Decimal
	ProcessorFee      decimal.Decimal
	NetAmount         decimal.Decimal
	Description       string
	ErrorCode         string
	ErrorMessage      string
	RetryCount        int
	InitiatedAt       time.Time
	ProcessedAt       *time.Time
	CompletedAt       *time.Time
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (r transactionRow) toModel() *model.Transaction {
	return &model.Transaction{
		ID:                r.ID,
		ContractID:        r.ContractID,
		MilestoneID:       r.MilestoneID,
		Type:              model.TransactionType(r.Type),
		Amount:            money.New(r.Amount, r.Currency),
		Status:            model.TransactionStatus(r.Status),
		IdempotencyKey:    r.IdempotencyKey,
		Provider:          r.Provider,
		ProviderReference: r.ProviderReference,
		PlatformFee:       money.New(r.PlatformFee, r.Currency),
		ProcessorFee:      money.New(r.ProcessorFee, r.Currency),
		NetAmount:         money.New(r.NetAmount, r.Currency),
		Description:       r.Description,
		ErrorCode:         r.ErrorCode,
		ErrorMessage:      r.ErrorMessage,
		RetryCount:        r.RetryCount,
		InitiatedAt:       r.InitiatedAt,
		ProcessedAt:       r.ProcessedAt,
		CompletedAt:       r.CompletedAt,
		Version:           r.Version,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

const transactionColumns = `
	id, contract_id, milestone_id, type, amount, currency, status,
	idempotency_key, provider, provider_reference, platform_fee, processor_fee,
	net_amount, description, error_code, error_message, retry_count,
	initiated_at, processed_at, completed_at, version, created_at, updated_at`

func (q *queries) CreateTransaction(ctx context.Context, t *model.Transaction) error {
	if err := store.ValidateTransaction(t); err != nil {
		return err
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.InitiatedAt.IsZero() {
		t.InitiatedAt = time.Now().UTC()
	}
	stampCreate(&t.Version, &t.CreatedAt, &t.UpdatedAt)

	err := q.db.WithContext(ctx).Exec(`
		INSERT INTO transactions (
			id, contract_id, milestone_id, type, amount, currency, status,
			idempotency_key, provider, provider_reference, platform_fee, processor_fee,
			net_amount, description, error_code, error_message, retry_count,
			initiated_at, processed_at, completed_at, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.ContractID, t.MilestoneID, t.Type, t.Amount.Amount(),
		t.Amount.Currency(), t.Status, t.IdempotencyKey, t.Provider,
		t.ProviderReference, t.PlatformFee.Amount(), t.ProcessorFee.Amount(),
		t.NetAmount.Amount(), t.Description, t.ErrorCode, t.ErrorMessage,
		t.RetryCount, t.InitiatedAt, t.ProcessedAt, t.CompletedAt,
		t.Version, t.CreatedAt, t.UpdatedAt,
	).Error
	if err != nil {
		return translateError(err, "transaction", t.ID)
	}
	return nil
}

func (q *queries) GetTransaction(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	var row transactionRow
	err := q.db.WithContext(ctx).Raw(`
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = ?
		LIMIT 1
	`, id).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, fmt.Errorf("transaction %s: %w", id, store.ErrNotFound)
	}
	return row.toModel(), nil
}

func (q *queries) UpdateTransaction(ctx context.Context, t *model.Transaction) error {
	if err := store.ValidateTransaction(t); err != nil {
		return err
	}
	updatedAt := time.Now().UTC()
	result := q.db.WithContext(ctx).Exec(`
		UPDATE transactions
		SET
			status = ?,
			provider = ?,
			provider_reference = ?,
			platform_fee = ?,
			processor_fee = ?,
			net_amount = ?,
			description = ?,
			error_code = ?,
			error_message = ?,
			retry_count = ?,
			processed_at = ?,
			completed_at = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND version = ?
	`,
		t.Status, t.Provider, t.ProviderReference, t.PlatformFee.Amount(),
		t.ProcessorFee.Amount(), t.NetAmount.Amount(), t.Description,
		t.ErrorCode, t.ErrorMessage, t.RetryCount, t.ProcessedAt, t.CompletedAt,
		updatedAt, t.ID, t.Version,
	)
	if err := q.checkUpdated(ctx, result, "transactions", "transaction", t.ID); err != nil {
		return err
	}
	t.Version++
	t.UpdatedAt = updatedAt
	return nil
}

func (q *queries) GetTransactionByKey(ctx context.Context, idempotencyKey string) (*model.Transaction, error) {
	var row transactionRow
	err := q.db.WithContext(ctx).Raw(`
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE idempotency_key = ?
		LIMIT 1
	`, idempotencyKey).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, fmt.Errorf("transaction with key %q: %w", idempotencyKey, store.ErrNotFound)
	}
	return row.toModel(), nil
}

func (q *queries) ListTransactionsByContract(ctx context.Context, contractID uuid.UUID) ([]model.Transaction, error) {
	var rows []transactionRow
	err := q.db.WithContext(ctx).Raw(`
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE contract_id = ?
		ORDER BY initiated_at ASC, created_at ASC
	`, contractID).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	transactions := make([]model.Transaction, len(rows))
	for i, row := range rows {
		transactions[i] = *row.toModel()
	}
	return transactions, nil
}
