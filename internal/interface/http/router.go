package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ahmedafzal98/pdf-rag-api/internal/infra/config"
)

// NewRouter wires every endpoint and middleware described in the external
// interface surface into a gin engine, wrapped in an http.Server.
func NewRouter(cfg *config.Config, handler *Handler, logger *slog.Logger) *http.Server {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware(cfg.HTTP.AllowedOrigins))
	engine.Use(rateLimitMiddleware(cfg.HTTP.RateLimit, logger))
	engine.Use(errorHandlingMiddleware(logger))

	auth := authMiddleware(handler.catalog)

	engine.GET("/health", handler.Health)
	engine.POST("/users", handler.CreateUser)
	engine.GET("/users/:id", auth, handler.GetUser)

	engine.POST("/upload", auth, handler.UploadDocument)
	engine.GET("/status/:task_id", auth, handler.GetStatus)
	engine.GET("/result/:task_id", auth, handler.GetResult)
	engine.GET("/tasks", auth, handler.ListTasks)
	engine.GET("/documents", auth, handler.ListDocuments)
	engine.GET("/documents/:id", auth, handler.GetDocument)
	engine.DELETE("/task/:task_id", auth, handler.DeleteTask)
	engine.POST("/chat", auth, handler.Chat)

	var finalHandler http.Handler = engine
	finalHandler = withRetry(finalHandler, cfg.HTTP.Retry, logger)

	return &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      finalHandler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
}

// Shutdown gracefully drains in-flight requests before returning.
func Shutdown(ctx context.Context, srv *http.Server, timeout time.Duration) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
