// Package config loads runtime configuration from a YAML file with
// environment variable overrides, matching the options recognized per the
// external interface contract (embedder/chunk/retriever/synthesizer/ANN/
// cache/worker tunables).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config aggregates runtime configuration used across the api and worker binaries.
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Valkey      ValkeyConfig      `yaml:"valkey"`
	BlobStore   BlobStoreConfig   `yaml:"blobStore"`
	Parser      ParserConfig      `yaml:"parser"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Chunk       ChunkConfig       `yaml:"chunk"`
	Retriever   RetrieverConfig   `yaml:"retriever"`
	Synthesizer SynthesizerConfig `yaml:"synthesizer"`
	ANN         ANNConfig         `yaml:"ann"`
	Cache       CacheConfig       `yaml:"cache"`
	Worker      WorkerConfig      `yaml:"worker"`
}

// HTTPConfig controls server level behavior.
type HTTPConfig struct {
	Address        string          `yaml:"address"`
	ReadTimeout    time.Duration   `yaml:"readTimeout"`
	WriteTimeout   time.Duration   `yaml:"writeTimeout"`
	AllowedOrigins []string        `yaml:"allowedOrigins"`
	RateLimit      RateLimitConfig `yaml:"rateLimit"`
	Retry          RetryConfig     `yaml:"retry"`
	MaxFilesPerSub int             `yaml:"maxFilesPerSubmission"`
	MaxFileSizeMB  int             `yaml:"maxFileSizeMb"`
}

// RateLimitConfig drives the request limiting middleware.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requestsPerMinute"`
	Burst             int  `yaml:"burst"`
}

// RetryConfig configures best-effort retries of POST requests that end in a
// 5xx response; paths listed in Exclude and all other methods are not retried.
type RetryConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseBackoff time.Duration `yaml:"baseBackoff"`
	Exclude     []string      `yaml:"exclude"`
}

// PostgresConfig contains DSN and pooling settings for the Catalog.
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"maxConns"`
	MinConns int32  `yaml:"minConns"`
}

// ValkeyConfig contains connection information for ProgressCache and WorkQueue.
type ValkeyConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// BlobStoreConfig configures the R2/S3-compatible object store.
type BlobStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
}

// ParserConfig points at the external PDF-to-markdown parsing service.
type ParserConfig struct {
	BaseURL string `yaml:"baseUrl"`
}

// EmbedderConfig selects and configures the Embedder implementation.
type EmbedderConfig struct {
	Provider  string `yaml:"provider"` // "openai" or "deterministic"
	APIKey    string `yaml:"apiKey"`
	BaseURL   string `yaml:"baseUrl"`
	Model     string `yaml:"model"`
	BatchSize int    `yaml:"batchSize"`
	Dim       int    `yaml:"dim"`
}

// ChunkConfig controls ChunkPlanner sizing.
type ChunkConfig struct {
	SizeTokens    int `yaml:"sizeTokens"`
	OverlapTokens int `yaml:"overlapTokens"`
}

// RetrieverConfig bounds AnnSearch's top_k.
type RetrieverConfig struct {
	TopKDefault int `yaml:"topKDefault"`
	TopKMax     int `yaml:"topKMax"`
}

// SynthesizerConfig controls the ChatOrchestrator's LLM call.
type SynthesizerConfig struct {
	Model         string  `yaml:"model"`
	Temperature   float32 `yaml:"temperature"`
	MaxTokens     int     `yaml:"maxTokens"`
	ContextBudget int     `yaml:"contextBudget"`
}

// ANNConfig controls the pgvector HNSW index parameters.
type ANNConfig struct {
	M              int `yaml:"m"`
	EfConstruction int `yaml:"efConstruction"`
	EfSearch       int `yaml:"efSearch"`
}

// CacheConfig controls ProgressCache TTLs.
type CacheConfig struct {
	ProgressTaskTTL time.Duration `yaml:"progressTaskTtl"`
	ResultCacheTTL  time.Duration `yaml:"resultCacheTtl"`
}

// WorkerConfig controls the ingestion worker pool.
type WorkerConfig struct {
	PoolSize           int           `yaml:"poolSize"`
	VisibilityTimeout  time.Duration `yaml:"visibilityTimeout"`
	PerMessageDeadline time.Duration `yaml:"perMessageDeadline"`
	ReceiveWait        time.Duration `yaml:"receiveWait"`
	ReconcileInterval  time.Duration `yaml:"reconcileInterval"`
}

// Load reads configuration from a YAML file and environment variables.
func Load() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := hydrateFromFile(cfg, path); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat("configs/config.yaml"); err == nil {
		if err := hydrateFromFile(cfg, "configs/config.yaml"); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func hydrateFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HTTP_ADDRESS"); v != "" {
		cfg.HTTP.Address = v
	}
	if v := os.Getenv("HTTP_READ_TIMEOUT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.ReadTimeout = parsed
		}
	}
	if v := os.Getenv("HTTP_WRITE_TIMEOUT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.WriteTimeout = parsed
		}
	}
	if v := os.Getenv("HTTP_ALLOWED_ORIGINS"); v != "" {
		cfg.HTTP.AllowedOrigins = splitAndTrim(v)
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_ENABLED"); v != "" {
		cfg.HTTP.RateLimit.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_RPM"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.RateLimit.RequestsPerMinute = parsed
		}
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_BURST"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.RateLimit.Burst = parsed
		}
	}
	if v := os.Getenv("HTTP_RETRY_ENABLED"); v != "" {
		cfg.HTTP.Retry.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("HTTP_RETRY_MAX_ATTEMPTS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Retry.MaxAttempts = parsed
		}
	}
	if v := os.Getenv("HTTP_RETRY_BASE_BACKOFF"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.Retry.BaseBackoff = parsed
		}
	}
	if v := os.Getenv("HTTP_MAX_FILES_PER_SUBMISSION"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.MaxFilesPerSub = parsed
		}
	}
	if v := os.Getenv("HTTP_MAX_FILE_SIZE_MB"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.MaxFileSizeMB = parsed
		}
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("POSTGRES_MAX_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.MaxConns = int32(parsed)
		}
	}
	if v := os.Getenv("POSTGRES_MIN_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.MinConns = int32(parsed)
		}
	}
	if v := os.Getenv("VALKEY_ENABLED"); v != "" {
		cfg.Valkey.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("VALKEY_ADDR"); v != "" {
		cfg.Valkey.Addr = v
	}
	if v := os.Getenv("BLOBSTORE_ENDPOINT"); v != "" {
		cfg.BlobStore.Endpoint = v
	}
	if v := os.Getenv("BLOBSTORE_ACCESS_KEY"); v != "" {
		cfg.BlobStore.AccessKey = v
	}
	if v := os.Getenv("BLOBSTORE_SECRET_KEY"); v != "" {
		cfg.BlobStore.SecretKey = v
	}
	if v := os.Getenv("BLOBSTORE_BUCKET"); v != "" {
		cfg.BlobStore.Bucket = v
	}
	if v := os.Getenv("BLOBSTORE_REGION"); v != "" {
		cfg.BlobStore.Region = v
	}
	if v := os.Getenv("PARSER_BASE_URL"); v != "" {
		cfg.Parser.BaseURL = v
	}
	if v := os.Getenv("EMBEDDER_PROVIDER"); v != "" {
		cfg.Embedder.Provider = v
	}
	if v := os.Getenv("EMBEDDER_API_KEY"); v != "" {
		cfg.Embedder.APIKey = v
	}
	if v := os.Getenv("EMBEDDER_BASE_URL"); v != "" {
		cfg.Embedder.BaseURL = v
	}
	if v := os.Getenv("EMBEDDER_MODEL"); v != "" {
		cfg.Embedder.Model = v
	}
	if v := os.Getenv("EMBEDDER_BATCH_SIZE"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Embedder.BatchSize = parsed
		}
	}
	if v := os.Getenv("EMBEDDER_DIM"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Embedder.Dim = parsed
		}
	}
	if v := os.Getenv("CHUNK_SIZE_TOKENS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Chunk.SizeTokens = parsed
		}
	}
	if v := os.Getenv("CHUNK_OVERLAP_TOKENS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Chunk.OverlapTokens = parsed
		}
	}
	if v := os.Getenv("RETRIEVER_TOP_K_DEFAULT"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Retriever.TopKDefault = parsed
		}
	}
	if v := os.Getenv("RETRIEVER_TOP_K_MAX"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Retriever.TopKMax = parsed
		}
	}
	if v := os.Getenv("SYNTHESIZER_MODEL"); v != "" {
		cfg.Synthesizer.Model = v
	}
	if v := os.Getenv("SYNTHESIZER_TEMPERATURE"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 32); err == nil {
			cfg.Synthesizer.Temperature = float32(parsed)
		}
	}
	if v := os.Getenv("SYNTHESIZER_MAX_TOKENS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Synthesizer.MaxTokens = parsed
		}
	}
	if v := os.Getenv("SYNTHESIZER_CONTEXT_BUDGET"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Synthesizer.ContextBudget = parsed
		}
	}
	if v := os.Getenv("ANN_M"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.ANN.M = parsed
		}
	}
	if v := os.Getenv("ANN_EF_CONSTRUCTION"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.ANN.EfConstruction = parsed
		}
	}
	if v := os.Getenv("ANN_EF_SEARCH"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.ANN.EfSearch = parsed
		}
	}
	if v := os.Getenv("CACHE_PROGRESS_TASK_TTL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Cache.ProgressTaskTTL = parsed
		}
	}
	if v := os.Getenv("CACHE_RESULT_TTL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Cache.ResultCacheTTL = parsed
		}
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Worker.PoolSize = parsed
		}
	}
	if v := os.Getenv("WORKER_VISIBILITY_TIMEOUT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Worker.VisibilityTimeout = parsed
		}
	}
	if v := os.Getenv("WORKER_PER_MESSAGE_DEADLINE"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Worker.PerMessageDeadline = parsed
		}
	}
	if v := os.Getenv("WORKER_RECEIVE_WAIT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Worker.ReceiveWait = parsed
		}
	}
	if v := os.Getenv("WORKER_RECONCILE_INTERVAL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Worker.ReconcileInterval = parsed
		}
	}
}

func defaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Address:        ":8080",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			AllowedOrigins: []string{"*"},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 60,
				Burst:             20,
			},
			Retry: RetryConfig{
				Enabled:     true,
				MaxAttempts: 3,
				BaseBackoff: 150 * time.Millisecond,
				Exclude:     []string{"/upload", "/chat"},
			},
			MaxFilesPerSub: 10,
			MaxFileSizeMB:  50,
		},
		Postgres: PostgresConfig{
			MaxConns: 10,
			MinConns: 2,
		},
		Valkey: ValkeyConfig{
			Enabled: true,
			Addr:    "localhost:6379",
		},
		Parser: ParserConfig{
			BaseURL: "http://localhost:8090",
		},
		Embedder: EmbedderConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			BatchSize: 100,
			Dim:       1536,
		},
		Chunk: ChunkConfig{
			SizeTokens:    1024,
			OverlapTokens: 200,
		},
		Retriever: RetrieverConfig{
			TopKDefault: 5,
			TopKMax:     20,
		},
		Synthesizer: SynthesizerConfig{
			Model:         "gpt-4o-mini",
			Temperature:   0.7,
			MaxTokens:     500,
			ContextBudget: 12000,
		},
		ANN: ANNConfig{
			M:              16,
			EfConstruction: 64,
			EfSearch:       40,
		},
		Cache: CacheConfig{
			ProgressTaskTTL: 24 * time.Hour,
			ResultCacheTTL:  time.Hour,
		},
		Worker: WorkerConfig{
			PoolSize:           4,
			VisibilityTimeout:  5 * time.Minute,
			PerMessageDeadline: 10 * time.Minute,
			ReceiveWait:        5 * time.Second,
			ReconcileInterval:  5 * time.Minute,
		},
	}
}

// Validate ensures the configuration is safe to use.
func (c *Config) Validate() error {
	if c.HTTP.Address == "" {
		return errors.New("http.address cannot be empty")
	}
	if c.HTTP.RateLimit.Enabled {
		if c.HTTP.RateLimit.RequestsPerMinute <= 0 {
			return errors.New("http.rateLimit.requestsPerMinute must be positive")
		}
		if c.HTTP.RateLimit.Burst <= 0 {
			return errors.New("http.rateLimit.burst must be positive")
		}
	}
	if c.HTTP.Retry.Enabled {
		if c.HTTP.Retry.MaxAttempts <= 0 {
			return errors.New("http.retry.maxAttempts must be positive")
		}
		if c.HTTP.Retry.BaseBackoff <= 0 {
			return errors.New("http.retry.baseBackoff must be positive")
		}
	}
	if c.HTTP.MaxFilesPerSub <= 0 {
		return errors.New("http.maxFilesPerSubmission must be positive")
	}
	if c.HTTP.MaxFileSizeMB <= 0 {
		return errors.New("http.maxFileSizeMb must be positive")
	}
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		return errors.New("postgres.dsn cannot be empty")
	}
	if c.Valkey.Enabled && strings.TrimSpace(c.Valkey.Addr) == "" {
		return errors.New("valkey.addr cannot be empty when valkey is enabled")
	}
	switch c.Embedder.Provider {
	case "openai", "deterministic":
	default:
		return errors.New("embedder.provider must be one of: openai, deterministic")
	}
	if c.Embedder.Provider == "openai" && strings.TrimSpace(c.Embedder.APIKey) == "" {
		return errors.New("embedder.apiKey cannot be empty when embedder.provider is openai")
	}
	if c.Embedder.BatchSize <= 0 {
		return errors.New("embedder.batchSize must be positive")
	}
	if c.Embedder.Dim <= 0 {
		return errors.New("embedder.dim must be positive")
	}
	if c.Chunk.SizeTokens <= 0 {
		return errors.New("chunk.sizeTokens must be positive")
	}
	if c.Chunk.OverlapTokens < 0 || c.Chunk.OverlapTokens >= c.Chunk.SizeTokens {
		return errors.New("chunk.overlapTokens must be non-negative and smaller than chunk.sizeTokens")
	}
	if c.Retriever.TopKDefault <= 0 || c.Retriever.TopKMax <= 0 || c.Retriever.TopKDefault > c.Retriever.TopKMax {
		return errors.New("retriever.topKDefault and retriever.topKMax must be positive, with default <= max")
	}
	if c.Synthesizer.MaxTokens <= 0 {
		return errors.New("synthesizer.maxTokens must be positive")
	}
	if c.Synthesizer.ContextBudget <= 0 {
		return errors.New("synthesizer.contextBudget must be positive")
	}
	if c.Worker.PoolSize <= 0 {
		return errors.New("worker.poolSize must be positive")
	}
	if c.Worker.VisibilityTimeout <= 0 {
		return errors.New("worker.visibilityTimeout must be positive")
	}
	if c.Worker.PerMessageDeadline <= 0 {
		return errors.New("worker.perMessageDeadline must be positive")
	}
	return nil
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var result []string
	for _, part := range parts {
		val := strings.TrimSpace(part)
		if val != "" {
			result = append(result, val)
		}
	}
	return result
}
