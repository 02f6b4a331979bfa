package main

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/valkey-io/valkey-go"

	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/catalog"
	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/chat"
	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/ingest"
	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/retrieval"
	httpiface "github.com/ahmedafzal98/pdf-rag-api/internal/interface/http"

	"github.com/ahmedafzal98/pdf-rag-api/internal/infra/blobstore"
	"github.com/ahmedafzal98/pdf-rag-api/internal/infra/config"
	"github.com/ahmedafzal98/pdf-rag-api/internal/infra/embedder"
	"github.com/ahmedafzal98/pdf-rag-api/internal/infra/openai"
	"github.com/ahmedafzal98/pdf-rag-api/internal/infra/parser"
	"github.com/ahmedafzal98/pdf-rag-api/internal/infra/progresscache"
	"github.com/ahmedafzal98/pdf-rag-api/internal/infra/queue"
	"github.com/ahmedafzal98/pdf-rag-api/internal/infra/synthesizer"
)

// embedderIface is satisfied structurally by every Embedder implementation;
// it exists only so one provider can feed both ingest.Embedder and
// retrieval.Embedder without duplicating the selection logic.
type embedderIface interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

func providePostgresPool(cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
	if err != nil {
		return nil, err
	}
	registerPgVector(poolConfig, logger)
	if cfg.Postgres.MaxConns > 0 {
		poolConfig.MaxConns = cfg.Postgres.MaxConns
	}
	if cfg.Postgres.MinConns > 0 {
		poolConfig.MinConns = cfg.Postgres.MinConns
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func registerPgVector(poolConfig *pgxpool.Config, logger *slog.Logger) {
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		var oid uint32
		if err := conn.QueryRow(ctx, "SELECT 'vector'::regtype::oid").Scan(&oid); err != nil {
			logger.Error("failed to lookup pgvector oid", "error", err)
			return err
		}
		conn.TypeMap().RegisterType(&pgtype.Type{
			Name:  "vector",
			OID:   oid,
			Codec: pgtype.TextCodec{},
		})
		return nil
	}
}

func provideCatalog(pool *pgxpool.Pool) catalog.Catalog {
	return catalog.NewPostgresCatalog(pool)
}

func buildValkeyClient(addr string) (valkey.Client, error) {
	var (
		opt valkey.ClientOption
		err error
	)
	addr = strings.TrimSpace(addr)
	if strings.Contains(addr, "://") {
		opt, err = valkey.ParseURL(addr)
	} else {
		opt = valkey.ClientOption{InitAddress: []string{addr}}
	}
	if err != nil {
		return nil, err
	}
	return valkey.NewClient(opt)
}

func provideProgressCache(cfg *config.Config, logger *slog.Logger) ingest.ProgressCache {
	if cfg.Valkey.Enabled {
		client, err := buildValkeyClient(cfg.Valkey.Addr)
		if err != nil {
			logger.Error("failed to create valkey client, falling back to in-memory progress cache", "error", err)
			return progresscache.NewMemoryCache()
		}
		logger.Info("valkey progress cache enabled", "addr", cfg.Valkey.Addr)
		return progresscache.NewValkeyCache(client, "pdfrag")
	}
	logger.Info("valkey disabled, using in-memory progress cache")
	return progresscache.NewMemoryCache()
}

func provideWorkQueue(cfg *config.Config, logger *slog.Logger) ingest.WorkQueue {
	if cfg.Valkey.Enabled {
		client, err := buildValkeyClient(cfg.Valkey.Addr)
		if err != nil {
			logger.Error("failed to create valkey client, falling back to in-memory work queue", "error", err)
			return queue.NewMemoryQueue(cfg.Worker.VisibilityTimeout)
		}
		logger.Info("valkey work queue enabled", "addr", cfg.Valkey.Addr)
		return queue.NewValkeyQueue(client, "pdfrag:jobs", cfg.Worker.VisibilityTimeout, logger)
	}
	logger.Info("valkey disabled, using in-memory work queue")
	return queue.NewMemoryQueue(cfg.Worker.VisibilityTimeout)
}

func provideBlobStore(cfg *config.Config, logger *slog.Logger) ingest.BlobStore {
	endpoint := strings.TrimSpace(cfg.BlobStore.Endpoint)
	accessKey := strings.TrimSpace(cfg.BlobStore.AccessKey)
	secretKey := strings.TrimSpace(cfg.BlobStore.SecretKey)
	bucket := strings.TrimSpace(cfg.BlobStore.Bucket)
	if endpoint == "" || accessKey == "" || secretKey == "" || bucket == "" {
		logger.Info("blob store not fully configured, using in-memory blob store")
		return blobstore.NewMemoryBlobStore()
	}
	store, err := blobstore.NewR2BlobStore(endpoint, accessKey, secretKey, bucket, cfg.BlobStore.Region, logger)
	if err != nil {
		logger.Error("failed to initialize r2 blob store, using in-memory blob store", "error", err)
		return blobstore.NewMemoryBlobStore()
	}
	logger.Info("r2 blob store enabled", "endpoint", endpoint, "bucket", bucket)
	return store
}

func provideOpenAIClient(cfg *config.Config, logger *slog.Logger) *openai.Client {
	if cfg.Embedder.Provider != "openai" {
		return nil
	}
	client, err := openai.NewClient(cfg.Embedder.APIKey, cfg.Embedder.BaseURL)
	if err != nil {
		logger.Error("failed to construct openai client, falling back to local implementations", "error", err)
		return nil
	}
	return client
}

func provideEmbedderImpl(client *openai.Client, cfg *config.Config, logger *slog.Logger) embedderIface {
	if client != nil {
		return embedder.NewOpenAIEmbedder(client, cfg.Embedder.Model, logger)
	}
	logger.Warn("embedding client unavailable, using deterministic embedder")
	return embedder.NewDeterministicEmbedder(cfg.Embedder.Dim)
}

func provideIngestEmbedder(e embedderIface) ingest.Embedder { return e }

func provideRetrievalEmbedder(e embedderIface) retrieval.Embedder { return e }

func provideSynthesizer(client *openai.Client, logger *slog.Logger) chat.Synthesizer {
	if client != nil {
		return synthesizer.NewOpenAISynthesizer(client)
	}
	logger.Warn("chat completion client unavailable, using echo synthesizer")
	return synthesizer.EchoSynthesizer{}
}

func provideParser(cfg *config.Config) ingest.Parser {
	return parser.NewClient(cfg.Parser.BaseURL)
}

func provideChatConfig(cfg *config.Config) chat.Config {
	return chat.Config{
		Model:           cfg.Synthesizer.Model,
		Temperature:     cfg.Synthesizer.Temperature,
		MaxOutputTokens: cfg.Synthesizer.MaxTokens,
		ContextBudget:   cfg.Synthesizer.ContextBudget,
	}
}

func provideAdmission(cat catalog.Catalog, blobs ingest.BlobStore, cache ingest.ProgressCache, queue ingest.WorkQueue, logger *slog.Logger) *ingest.Admission {
	return ingest.NewAdmission(cat, blobs, cache, queue, logger)
}

func provideRetriever(cat catalog.Catalog, emb retrieval.Embedder, logger *slog.Logger) *retrieval.Service {
	return retrieval.NewService(cat, emb, logger)
}

func provideChatService(retriever *retrieval.Service, synth chat.Synthesizer, cfg chat.Config, logger *slog.Logger) *chat.Service {
	return chat.NewService(retriever, synth, cfg, logger)
}

func provideHandler(admission *ingest.Admission, cat catalog.Catalog, cache ingest.ProgressCache, blobs ingest.BlobStore, chatSvc *chat.Service, cfg *config.Config, logger *slog.Logger) *httpiface.Handler {
	return httpiface.NewHandler(admission, cat, cache, blobs, chatSvc, cfg.HTTP.MaxFileSizeMB, logger)
}

func provideRouter(cfg *config.Config, handler *httpiface.Handler, logger *slog.Logger) *http.Server {
	return httpiface.NewRouter(cfg, handler, logger)
}
