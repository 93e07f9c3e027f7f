package postgres

import (
	"context"

	"github.com/pribylovaa/clinic-auth/internal/models"
)

// Append добавляет запись в access_logs. Записи никогда не изменяются и не удаляются.
func (s *Storage) Append(ctx context.Context, rec *models.AuditRecord) error {
	const op = "storage.postgres.Append"

	query := `
		INSERT INTO access_logs(actor_id, resource_id, action, outcome, ip, user_agent, request_id, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.db.Exec(ctx, query,
		rec.ActorID,
		rec.ResourceID,
		rec.Action,
		string(rec.Outcome),
		rec.Origin.Address,
		rec.Origin.Client,
		rec.Origin.RequestID,
		rec.Timestamp.UTC(),
	)
	if err != nil {
		return mapErr(op, err)
	}

	return nil
}
