package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	assistantapi "knowledge_server/server/assistant/api"
	"knowledge_server/server/assistant/repository"
	assistantsvc "knowledge_server/server/assistant/service"
	commonauth "knowledge_server/server/common/auth"
	"knowledge_server/server/common/infra/cache"
	"knowledge_server/server/common/infra/db"
	"knowledge_server/server/common/usage"
	"knowledge_server/server/ingest/provider"
	noterepo "knowledge_server/server/notes/repository"
	notessvc "knowledge_server/server/notes/service"
)

type Config struct {
	Port          string
	JWTSecret     string
	JWTTTLMinutes int

	PostgresDSN string
	RedisAddr   string

	AIEndpoints []string
	UsageLimit  int64
}

type Server struct {
	HTTPServer *http.Server
	pool       *pgxpool.Pool
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

	// The assistant only reads notes, so it wires the note service
	// without an event publisher.
	noteSvc := notessvc.NewNoteService(noterepo.NewNoteRepository(pool), nil)
	chatRepo := repository.NewChatRepository(pool)
	ai := provider.NewHTTPProvider(cfg.AIEndpoints...)
	counter := usage.NewCounter(redisClient, cfg.UsageLimit)
	assistant := assistantsvc.NewAssistantService(chatRepo, noteSvc, ai, counter)
	authSvc := commonauth.NewService(cfg.JWTSecret, cfg.JWTTTLMinutes)

	h := assistantapi.NewHandler(assistant, authSvc)
	r := gin.Default()
	h.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  20 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{HTTPServer: httpServer, pool: pool}, nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.HTTPServer.Shutdown(ctx)
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}
