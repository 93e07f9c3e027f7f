package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pribylovaa/clinic-auth/internal/models"
	"github.com/pribylovaa/clinic-auth/internal/storage"
)

const accountColumns = `id, identifier, password_hash, role, active, failed_attempts,
		locked_until, last_success_at, created_at, updated_at`

func scanAccount(row pgx.Row) (*models.Account, error) {
	var acc models.Account
	err := row.Scan(
		&acc.ID,
		&acc.Identifier,
		&acc.PasswordHash,
		&acc.Role,
		&acc.Active,
		&acc.FailedAttempts,
		&acc.LockedUntil,
		&acc.LastSuccessAt,
		&acc.CreatedAt,
		&acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &acc, nil
}

// FindByIdentifier находит учётную запись по идентификатору (CITEXT, без учёта регистра).
func (s *Storage) FindByIdentifier(ctx context.Context, identifier string) (*models.Account, error) {
	const op = "storage.postgres.FindByIdentifier"

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE identifier = $1`

	acc, err := scanAccount(s.db.QueryRow(ctx, query, models.NormalizeIdentifier(identifier)))
	if err != nil {
		return nil, mapErr(op, err)
	}

	return acc, nil
}

// Save создаёт учётную запись или обновляет её auth-поля.
func (s *Storage) Save(ctx context.Context, acc *models.Account) error {
	const op = "storage.postgres.Save"

	now := time.Now().UTC()
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}
	acc.UpdatedAt = now

	query := `
		INSERT INTO accounts(id, identifier, password_hash, role, active, failed_attempts,
			locked_until, last_success_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			password_hash   = EXCLUDED.password_hash,
			failed_attempts = EXCLUDED.failed_attempts,
			locked_until    = EXCLUDED.locked_until,
			last_success_at = EXCLUDED.last_success_at,
			updated_at      = EXCLUDED.updated_at
	`

	_, err := s.db.Exec(ctx, query,
		acc.ID,
		models.NormalizeIdentifier(acc.Identifier),
		acc.PasswordHash,
		acc.Role,
		acc.Active,
		acc.FailedAttempts,
		acc.LockedUntil,
		acc.LastSuccessAt,
		acc.CreatedAt,
		acc.UpdatedAt,
	)
	if err != nil {
		return mapErr(op, err)
	}

	return nil
}

// UpdateAuthState читает запись через SELECT ... FOR UPDATE, применяет fn
// и сохраняет счётчики одной транзакцией.
func (s *Storage) UpdateAuthState(ctx context.Context, identifier string, fn storage.AccountMutation) (*models.Account, error) {
	const op = "storage.postgres.UpdateAuthState"

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, mapErr(op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE identifier = $1 FOR UPDATE`

	acc, err := scanAccount(tx.QueryRow(ctx, query, models.NormalizeIdentifier(identifier)))
	if err != nil {
		return nil, mapErr(op, err)
	}

	if err := fn(acc); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	acc.UpdatedAt = time.Now().UTC()

	update := `
		UPDATE accounts
		SET password_hash = $2, failed_attempts = $3, locked_until = $4,
			last_success_at = $5, updated_at = $6
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, update,
		acc.ID,
		acc.PasswordHash,
		acc.FailedAttempts,
		acc.LockedUntil,
		acc.LastSuccessAt,
		acc.UpdatedAt,
	); err != nil {
		return nil, mapErr(op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapErr(op, err)
	}

	return acc, nil
}
