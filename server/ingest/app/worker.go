package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"

	"knowledge_server/server/common/infra/cache"
	"knowledge_server/server/common/infra/db"
	"knowledge_server/server/common/infra/mq"
	"knowledge_server/server/common/infra/object"
	"knowledge_server/server/common/usage"
	"knowledge_server/server/ingest/provider"
	ingestsvc "knowledge_server/server/ingest/service"
	"knowledge_server/server/notes/repository"
	notessvc "knowledge_server/server/notes/service"
)

type Config struct {
	PostgresDSN string
	RedisAddr   string
	AMQPURL     string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	AIEndpoints []string
	UsageLimit  int64
}

// Worker is the ingest daemon: one AMQP consumer feeding the extraction
// pipeline. It shares the notes schema and event channel with notesd.
type Worker struct {
	consumer *ingestsvc.Consumer
	pool     *pgxpool.Pool
	amqpConn *amqp.Connection
}

func NewWorker(cfg Config) (*Worker, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("initialize postgres: %w", err)
	}
	if err := db.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	redisClient := cache.NewClient(cfg.RedisAddr)
	if err := cache.Ping(ctx, redisClient); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	amqpConn, err := mq.NewConnection(cfg.AMQPURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect amqp: %w", err)
	}
	eventChannel, err := amqpConn.Channel()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := mq.DeclareTopology(eventChannel); err != nil {
		pool.Close()
		return nil, fmt.Errorf("declare amqp topology: %w", err)
	}

	minioClient, err := object.NewClient(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize minio: %w", err)
	}
	if err := object.EnsureBucket(ctx, minioClient, cfg.MinioBucket); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure minio bucket: %w", err)
	}

	noteRepo := repository.NewNoteRepository(pool)
	attachmentRepo := repository.NewAttachmentRepository(pool)
	events := notessvc.NewEventPublisher(redisClient, eventChannel)
	noteSvc := notessvc.NewNoteService(noteRepo, events)
	blobs := notessvc.NewMinioBlobStore(minioClient, cfg.MinioBucket, cfg.MinioEndpoint, cfg.MinioUseSSL)

	ai := provider.NewHTTPProvider(cfg.AIEndpoints...)
	counter := usage.NewCounter(redisClient, cfg.UsageLimit)
	thumbs := ingestsvc.NewThumbnails(blobs)
	pipeline := ingestsvc.NewPipeline(attachmentRepo, noteSvc, ai, ai, ai, counter, thumbs)

	consumer, err := ingestsvc.NewConsumer(amqpConn, pipeline)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize consumer: %w", err)
	}

	return &Worker{consumer: consumer, pool: pool, amqpConn: amqpConn}, nil
}

// Run blocks until the context ends, then releases all connections.
func (w *Worker) Run(ctx context.Context) error {
	err := w.consumer.Run(ctx)
	if err == context.Canceled {
		err = nil
	}
	w.consumer.Close()
	w.amqpConn.Close()
	w.pool.Close()
	return err
}
