package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pribylovaa/clinic-auth/internal/models"
	"github.com/pribylovaa/clinic-auth/internal/storage"
)

func scanResource(row pgx.Row) (*models.Resource, error) {
	var (
		res    models.Resource
		hash   *string
		access *string
		issuer *string
	)

	if err := row.Scan(&res.ID, &hash, &res.TokenExpiresAt, &access, &issuer); err != nil {
		return nil, err
	}

	if hash != nil {
		res.TokenHash = *hash
	}
	if access != nil {
		res.TokenAccess = models.AccessLevel(*access)
	}
	if issuer != nil {
		res.TokenIssuer = *issuer
	}

	return &res, nil
}

// Find находит карту пациента по ID.
func (s *Storage) Find(ctx context.Context, id int64) (*models.Resource, error) {
	const op = "storage.postgres.Find"

	query := `
		SELECT id, qr_token_hash, qr_token_expires_at, qr_access_level, qr_issuer
		FROM patients
		WHERE id = $1
	`

	res, err := scanResource(s.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapErr(op, err)
	}

	return res, nil
}

// FindByTokenHash находит карту пациента по хэшу эфемерного токена.
func (s *Storage) FindByTokenHash(ctx context.Context, hash string) (*models.Resource, error) {
	const op = "storage.postgres.FindByTokenHash"

	if hash == "" {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	query := `
		SELECT id, qr_token_hash, qr_token_expires_at, qr_access_level, qr_issuer
		FROM patients
		WHERE qr_token_hash = $1
	`

	res, err := scanResource(s.db.QueryRow(ctx, query, hash))
	if err != nil {
		return nil, mapErr(op, err)
	}

	return res, nil
}

// SetToken перезаписывает токен карты пациента (last-write-wins).
func (s *Storage) SetToken(ctx context.Context, id int64, hash string, expiresAt time.Time, access models.AccessLevel, issuer string) error {
	const op = "storage.postgres.SetToken"

	query := `
		UPDATE patients
		SET qr_token_hash = $2, qr_token_expires_at = $3, qr_access_level = $4, qr_issuer = $5
		WHERE id = $1
	`

	tag, err := s.db.Exec(ctx, query, id, hash, expiresAt.UTC(), string(access), issuer)
	if err != nil {
		return mapErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

// ClearToken удаляет токен с карты пациента.
func (s *Storage) ClearToken(ctx context.Context, id int64) error {
	const op = "storage.postgres.ClearToken"

	query := `
		UPDATE patients
		SET qr_token_hash = NULL, qr_token_expires_at = NULL, qr_access_level = NULL, qr_issuer = NULL
		WHERE id = $1
	`

	tag, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return mapErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}
