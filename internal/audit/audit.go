// audit - журнал доступа. Запись выполняется асинхронно и по принципу best-effort:
// ошибка записи никогда не отменяет проверяемое действие, но сообщается
// в операционный канал (slog + счётчик отказов).
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pribylovaa/clinic-auth/internal/config"
	"github.com/pribylovaa/clinic-auth/internal/models"
	"github.com/pribylovaa/clinic-auth/internal/storage"
)

// Причины потери записи.
const (
	ReasonQueueFull   = "queue_full"
	ReasonClosed      = "closed"
	ReasonWriteFailed = "write_failed"
)

const (
	defaultQueueSize    = 1024
	defaultWriteTimeout = 2 * time.Second
)

type originKey struct{}

// WithOrigin кладёт сведения о вызывающей стороне в контекст.
func WithOrigin(ctx context.Context, o models.Origin) context.Context {
	return context.WithValue(ctx, originKey{}, o)
}

// OriginFrom возвращает сведения о вызывающей стороне или пустой Origin.
func OriginFrom(ctx context.Context) models.Origin {
	if ctx == nil {
		return models.Origin{}
	}
	o, _ := ctx.Value(originKey{}).(models.Origin)
	return o
}

// FailureFunc получает причину каждой потерянной записи.
type FailureFunc func(reason string)

// Logger - асинхронный писатель журнала поверх storage.AuditSink.
type Logger struct {
	sink         storage.AuditSink
	log          *slog.Logger
	writeTimeout time.Duration
	onFailure    FailureFunc
	now          func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan models.AuditRecord
	done   chan struct{}
}

// Option настраивает Logger.
type Option func(*Logger)

// WithFailureHook задаёт обработчик потерянных записей (например, счётчик Prometheus).
func WithFailureHook(fn FailureFunc) Option {
	return func(l *Logger) { l.onFailure = fn }
}

// WithClock подменяет источник времени для временных меток записей.
func WithClock(fn func() time.Time) Option {
	return func(l *Logger) {
		if fn != nil {
			l.now = fn
		}
	}
}

// New запускает фоновый писатель. Close обязателен для сброса очереди.
func New(sink storage.AuditSink, log *slog.Logger, cfg config.AuditConfig, opts ...Option) *Logger {
	if log == nil {
		log = slog.Default()
	}

	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}

	l := &Logger{
		sink:         sink,
		log:          log,
		writeTimeout: cfg.WriteTimeout,
		now:          time.Now,
		queue:        make(chan models.AuditRecord, size),
		done:         make(chan struct{}),
	}
	if l.writeTimeout <= 0 {
		l.writeTimeout = defaultWriteTimeout
	}

	for _, opt := range opts {
		opt(l)
	}

	go l.run()

	return l
}

// Record ставит запись в очередь и сразу возвращается.
// Origin берётся из ctx, если не задан; Timestamp - текущее время, если нулевой.
func (l *Logger) Record(ctx context.Context, rec models.AuditRecord) {
	if rec.Origin == (models.Origin{}) {
		rec.Origin = OriginFrom(ctx)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now().UTC()
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		l.fail(rec, ReasonClosed, nil)
		return
	}

	select {
	case l.queue <- rec:
	default:
		l.fail(rec, ReasonQueueFull, nil)
	}
}

// Close прекращает приём записей и ждёт, пока очередь будет записана,
// либо истечёт ctx.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Logger) run() {
	defer close(l.done)

	for rec := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), l.writeTimeout)
		err := l.sink.Append(ctx, &rec)
		cancel()

		if err != nil {
			l.fail(rec, ReasonWriteFailed, err)
		}
	}
}

func (l *Logger) fail(rec models.AuditRecord, reason string, err error) {
	attrs := []any{
		slog.String("op", "audit.Logger"),
		slog.String("reason", reason),
		slog.String("action", rec.Action),
		slog.String("outcome", string(rec.Outcome)),
		slog.String("request_id", rec.Origin.RequestID),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}

	l.log.Error("audit_write_failed", attrs...)

	if l.onFailure != nil {
		l.onFailure(reason)
	}
}
