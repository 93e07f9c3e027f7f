package audit

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/pribylovaa/clinic-auth/internal/models"
	"github.com/pribylovaa/clinic-auth/internal/storage"
)

// LogSink пишет записи журнала в slog (бэкенд "log").
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}

	return &LogSink{log: log}
}

func (s *LogSink) Append(ctx context.Context, rec *models.AuditRecord) error {
	resource := ""
	if rec.ResourceID != nil {
		resource = strconv.FormatInt(*rec.ResourceID, 10)
	}

	s.log.LogAttrs(ctx, slog.LevelInfo, "access_log",
		slog.String("actor_id", rec.ActorID),
		slog.String("resource_id", resource),
		slog.String("action", rec.Action),
		slog.String("outcome", string(rec.Outcome)),
		slog.String("ip", rec.Origin.Address),
		slog.String("user_agent", rec.Origin.Client),
		slog.String("request_id", rec.Origin.RequestID),
		slog.String("ts", rec.Timestamp.UTC().Format(time.RFC3339Nano)),
	)

	return nil
}

var _ storage.AuditSink = (*LogSink)(nil)
