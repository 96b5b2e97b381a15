package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"

	commonauth "knowledge_server/server/common/auth"
	"knowledge_server/server/common/infra/cache"
	"knowledge_server/server/common/infra/db"
	"knowledge_server/server/common/infra/mq"
	"knowledge_server/server/common/infra/object"
	notesapi "knowledge_server/server/notes/api"
	"knowledge_server/server/notes/repository"
	"knowledge_server/server/notes/service"
)

type Config struct {
	Port          string
	JWTSecret     string
	JWTTTLMinutes int

	PostgresDSN string
	RedisAddr   string
	AMQPURL     string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
}

type Server struct {
	HTTPServer *http.Server
	pool       *pgxpool.Pool
	amqpConn   *amqp.Connection
}

func NewServer(cfg Config) (*Server, error) {
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
	jobPublisher, err := service.NewAMQPJobPublisher(amqpConn)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize job publisher: %w", err)
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
	events := service.NewEventPublisher(redisClient, eventChannel)
	noteSvc := service.NewNoteService(noteRepo, events)
	blobs := service.NewMinioBlobStore(minioClient, cfg.MinioBucket, cfg.MinioEndpoint, cfg.MinioUseSSL)
	uploadSvc := service.NewUploadService(blobs, attachmentRepo, noteRepo, jobPublisher)
	streamSvc := service.NewStreamService(redisClient)
	authSvc := commonauth.NewService(cfg.JWTSecret, cfg.JWTTTLMinutes)

	h := notesapi.NewHandler(noteSvc, uploadSvc, streamSvc, authSvc)
	r := gin.Default()
	h.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  20 * time.Second,
		WriteTimeout: 20 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{HTTPServer: httpServer, pool: pool, amqpConn: amqpConn}, nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.HTTPServer.Shutdown(ctx)
	if s.amqpConn != nil {
		_ = s.amqpConn.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}
