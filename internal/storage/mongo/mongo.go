// mongo - приёмник журнала доступа (storage.AuditSink) поверх MongoDB.
// Коллекция access_logs используется только на добавление.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pribylovaa/clinic-auth/internal/models"
	"github.com/pribylovaa/clinic-auth/internal/storage"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	accessLogsCollection = "access_logs"
	defaultDBName        = "clinic_audit"
)

// AuditSink - тонкий адаптер над коллекцией access_logs.
type AuditSink struct {
	client *mongodriver.Client
	logs   *mongodriver.Collection
}

// accessLogDoc - документ журнала доступа.
type accessLogDoc struct {
	ActorID    string    `bson:"actor_id"`
	ResourceID *int64    `bson:"resource_id,omitempty"`
	Action     string    `bson:"action"`
	Outcome    string    `bson:"outcome"`
	IP         string    `bson:"ip,omitempty"`
	UserAgent  string    `bson:"user_agent,omitempty"`
	RequestID  string    `bson:"request_id,omitempty"`
	Timestamp  time.Time `bson:"ts"`
}

// New подключается к MongoDB, проверяет соединение и создаёт индексы.
func New(ctx context.Context, uri string) (*AuditSink, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo: empty uri")
	}

	cli, err := mongodriver.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := cli.Ping(ctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	s := &AuditSink{
		client: cli,
		logs:   cli.Database(databaseFromURI(uri)).Collection(accessLogsCollection),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = s.Close(ctx)
		return nil, err
	}

	return s, nil
}

func (s *AuditSink) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping проверяет доступность MongoDB (для /healthz).
func (s *AuditSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// ensureIndexes создаёт индексы журнала:
// - по актору и времени;
// - по ресурсу и времени (только записи с resource_id).
func (s *AuditSink) ensureIndexes(ctx context.Context) error {
	indexes := []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "actor_id", Value: 1}, {Key: "ts", Value: -1}},
			Options: options.Index().SetName("actor_ts_desc"),
		},
		{
			Keys: bson.D{{Key: "resource_id", Value: 1}, {Key: "ts", Value: -1}},
			Options: options.Index().SetName("resource_ts_desc").
				SetPartialFilterExpression(bson.D{{Key: "resource_id", Value: bson.D{{Key: "$exists", Value: true}}}}),
		},
	}

	if _, err := s.logs.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("mongo ensure indexes: %w", err)
	}

	return nil
}

// Append добавляет запись журнала.
func (s *AuditSink) Append(ctx context.Context, rec *models.AuditRecord) error {
	const op = "storage.mongo.Append"

	doc := accessLogDoc{
		ActorID:    rec.ActorID,
		ResourceID: rec.ResourceID,
		Action:     rec.Action,
		Outcome:    string(rec.Outcome),
		IP:         rec.Origin.Address,
		UserAgent:  rec.Origin.Client,
		RequestID:  rec.Origin.RequestID,
		Timestamp:  rec.Timestamp.UTC(),
	}

	if _, err := s.logs.InsertOne(ctx, doc); err != nil {
		if mongodriver.IsTimeout(err) || mongodriver.IsNetworkError(err) ||
			errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w: %w", op, storage.ErrUnavailable, err)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// databaseFromURI извлекает имя базы данных из пути URI.
// Если оно отсутствует, возвращает значение по умолчанию.
func databaseFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err == nil {
		if name := strings.Trim(u.Path, "/"); name != "" {
			return name
		}
	}

	return defaultDBName
}

var _ storage.AuditSink = (*AuditSink)(nil)
