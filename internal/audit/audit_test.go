package audit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/pribylovaa/clinic-auth/internal/config"
	"github.com/pribylovaa/clinic-auth/internal/models"
	"github.com/pribylovaa/clinic-auth/internal/storage/memory"
	"github.com/pribylovaa/clinic-auth/mocks"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type failures struct {
	mu      sync.Mutex
	reasons []string
}

func (f *failures) hook(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons = append(f.reasons, reason)
}

func (f *failures) list() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reasons...)
}

func TestLogger_WritesRecordsWithOrigin(t *testing.T) {
	t.Parallel()

	sink := memory.NewAudit()
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	l := New(sink, discardLogger(), config.AuditConfig{QueueSize: 8}, WithClock(func() time.Time { return ts }))

	origin := models.Origin{Address: "10.0.0.1", Client: "curl/8", RequestID: "req-1"}
	ctx := WithOrigin(context.Background(), origin)

	id := int64(5)
	l.Record(ctx, models.AuditRecord{ActorID: "u1", ResourceID: &id, Action: models.ActionResourceRedeem, Outcome: models.OutcomeSuccess})
	l.Record(context.Background(), models.AuditRecord{ActorID: "u2", Action: models.ActionLogin, Outcome: models.OutcomeFailure})

	require.NoError(t, l.Close(context.Background()))

	recs := sink.Records()
	require.Len(t, recs, 2)
	require.Equal(t, origin, recs[0].Origin)
	require.Equal(t, ts, recs[0].Timestamp)
	require.Equal(t, int64(5), *recs[0].ResourceID)
	require.Equal(t, models.Origin{}, recs[1].Origin)
}

func TestLogger_SinkFailureReported(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	sink := mocks.NewMockAuditSink(ctrl)
	sink.EXPECT().Append(gomock.Any(), gomock.Any()).Return(errors.New("db down"))

	var buf bytes.Buffer
	var f failures
	l := New(sink, slog.New(slog.NewTextHandler(&buf, nil)), config.AuditConfig{}, WithFailureHook(f.hook))

	l.Record(context.Background(), models.AuditRecord{ActorID: "u1", Action: models.ActionLogin, Outcome: models.OutcomeSuccess})
	require.NoError(t, l.Close(context.Background()))

	require.Equal(t, []string{ReasonWriteFailed}, f.list())
	require.Contains(t, buf.String(), "audit_write_failed")
	require.Contains(t, buf.String(), "db down")
}

type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Append(ctx context.Context, _ *models.AuditRecord) error {
	<-s.release
	return nil
}

func TestLogger_QueueFullDropsAndReports(t *testing.T) {
	t.Parallel()

	sink := &blockingSink{release: make(chan struct{})}
	var f failures
	l := New(sink, discardLogger(), config.AuditConfig{QueueSize: 1}, WithFailureHook(f.hook))

	// Первая запись забирается писателем и блокируется в sink, вторая занимает очередь.
	l.Record(context.Background(), models.AuditRecord{Action: models.ActionLogin})
	require.Eventually(t, func() bool { return len(l.queue) == 0 }, time.Second, time.Millisecond)
	l.Record(context.Background(), models.AuditRecord{Action: models.ActionLogin})

	start := time.Now()
	l.Record(context.Background(), models.AuditRecord{Action: models.ActionLogin})
	require.Less(t, time.Since(start), 100*time.Millisecond)
	require.Equal(t, []string{ReasonQueueFull}, f.list())

	close(sink.release)
	require.NoError(t, l.Close(context.Background()))
}

func TestLogger_RecordAfterClose(t *testing.T) {
	t.Parallel()

	sink := memory.NewAudit()
	var f failures
	l := New(sink, discardLogger(), config.AuditConfig{}, WithFailureHook(f.hook))

	require.NoError(t, l.Close(context.Background()))
	require.NoError(t, l.Close(context.Background()))

	l.Record(context.Background(), models.AuditRecord{Action: models.ActionLogout})
	require.Empty(t, sink.Records())
	require.Equal(t, []string{ReasonClosed}, f.list())
}

func TestLogger_CloseHonoursDeadline(t *testing.T) {
	t.Parallel()

	sink := &blockingSink{release: make(chan struct{})}
	defer close(sink.release)

	l := New(sink, discardLogger(), config.AuditConfig{})
	l.Record(context.Background(), models.AuditRecord{Action: models.ActionLogin})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, l.Close(ctx), context.DeadlineExceeded)
}

func TestOriginFrom_Empty(t *testing.T) {
	t.Parallel()

	require.Equal(t, models.Origin{}, OriginFrom(context.Background()))
}

func TestLogSink(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	id := int64(42)
	err := s.Append(context.Background(), &models.AuditRecord{
		ActorID:    "u1",
		ResourceID: &id,
		Action:     models.ActionResourceTokenIssue,
		Outcome:    models.OutcomeSuccess,
		Origin:     models.Origin{Address: "127.0.0.1"},
	})
	require.NoError(t, err)

	out := buf.String()
	require.Contains(t, out, `"msg":"access_log"`)
	require.Contains(t, out, `"resource_id":"42"`)
	require.Contains(t, out, `"ip":"127.0.0.1"`)
}
