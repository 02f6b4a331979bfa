package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/catalog"
)

// Schema holds the DDL the Postgres store expects to already be applied
// (via a migration tool, not run automatically at startup). Kept here as
// the single source of truth for the relational schema from spec §4.5.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	email TEXT UNIQUE NOT NULL,
	api_key TEXT UNIQUE NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS documents (
	id BIGSERIAL PRIMARY KEY,
	user_id BIGINT NOT NULL REFERENCES users(id),
	filename TEXT NOT NULL,
	blob_handle TEXT NOT NULL,
	status TEXT NOT NULL,
	result_text TEXT,
	error_message TEXT,
	page_count INT,
	extraction_time_seconds DOUBLE PRECISION,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_documents_user_status ON documents(user_id, status);
CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at);

CREATE TABLE IF NOT EXISTS document_chunks (
	id BIGSERIAL PRIMARY KEY,
	document_id BIGINT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	chunk_index INT NOT NULL,
	text_content TEXT NOT NULL,
	embedding VECTOR(1536) NOT NULL,
	token_count INT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_chunks_user ON document_chunks(user_id);
CREATE INDEX IF NOT EXISTS idx_chunks_doc_index ON document_chunks(document_id, chunk_index);
CREATE INDEX IF NOT EXISTS idx_chunks_ann ON document_chunks
	USING hnsw (embedding vector_cosine_ops) WITH (m = 16, ef_construction = 64);
`

// PostgresCatalog implements catalog.Catalog over Postgres + pgvector.
type PostgresCatalog struct {
	pool *pgxpool.Pool
}

// NewPostgresCatalog constructs a PostgresCatalog. The caller is
// responsible for registering the pgvector type on the pool's AfterConnect
// hook before use.
func NewPostgresCatalog(pool *pgxpool.Pool) *PostgresCatalog {
	return &PostgresCatalog{pool: pool}
}

func (c *PostgresCatalog) CreateUser(ctx context.Context, email, apiKey string) (catalog.User, error) {
	var u catalog.User
	err := c.pool.QueryRow(ctx, `
		INSERT INTO users (email, api_key) VALUES ($1, $2)
		RETURNING id, email, api_key, created_at
	`, email, apiKey).Scan(&u.ID, &u.Email, &u.APIKey, &u.CreatedAt)
	return u, err
}

func (c *PostgresCatalog) GetUser(ctx context.Context, id int64) (catalog.User, error) {
	var u catalog.User
	err := c.pool.QueryRow(ctx, `SELECT id, email, api_key, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.APIKey, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.User{}, catalog.ErrNotFound
	}
	return u, err
}

func (c *PostgresCatalog) FindUserByAPIKey(ctx context.Context, apiKey string) (catalog.User, error) {
	var u catalog.User
	err := c.pool.QueryRow(ctx, `SELECT id, email, api_key, created_at FROM users WHERE api_key = $1`, apiKey).
		Scan(&u.ID, &u.Email, &u.APIKey, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.User{}, catalog.ErrNotFound
	}
	return u, err
}

func (c *PostgresCatalog) CreateDocument(ctx context.Context, userID int64, filename, blobHandle string) (catalog.Document, error) {
	var d catalog.Document
	err := c.pool.QueryRow(ctx, `
		INSERT INTO documents (user_id, filename, blob_handle, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, user_id, filename, blob_handle, status, created_at
	`, userID, filename, blobHandle, catalog.DocumentStatusPending).
		Scan(&d.ID, &d.UserID, &d.Filename, &d.BlobHandle, &d.Status, &d.CreatedAt)
	return d, err
}

func (c *PostgresCatalog) MarkProcessing(ctx context.Context, documentID int64) error {
	_, err := c.pool.Exec(ctx, `
		UPDATE documents SET status = $1, started_at = now()
		WHERE id = $2 AND status IN ($3, $4)
	`, catalog.DocumentStatusProcessing, documentID, catalog.DocumentStatusPending, catalog.DocumentStatusFailed)
	return err
}

// CompleteIngestion deletes any existing chunks for documentID and inserts
// the new set, then marks the document Completed, all within one
// transaction, per spec §4.2/§4.5/P7.
func (c *PostgresCatalog) CompleteIngestion(ctx context.Context, documentID int64, resultText string, pageCount int, extractionTimeSeconds float64, chunks []catalog.NewChunk) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var userID int64
	if err := tx.QueryRow(ctx, `SELECT user_id FROM documents WHERE id = $1`, documentID).Scan(&userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.ErrNotFound
		}
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, ch := range chunks {
		batch.Queue(`
			INSERT INTO document_chunks (document_id, user_id, chunk_index, text_content, embedding, token_count)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, documentID, userID, ch.ChunkIndex, ch.TextContent, pgvector.NewVector(ch.Embedding), ch.TokenCount)
	}
	if len(chunks) > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE documents
		SET status = $1, result_text = $2, page_count = $3, extraction_time_seconds = $4, completed_at = now()
		WHERE id = $5
	`, catalog.DocumentStatusCompleted, resultText, pageCount, extractionTimeSeconds, documentID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (c *PostgresCatalog) MarkFailed(ctx context.Context, documentID int64, errorMessage string) error {
	_, err := c.pool.Exec(ctx, `
		UPDATE documents SET status = $1, error_message = $2, completed_at = now()
		WHERE id = $3
	`, catalog.DocumentStatusFailed, errorMessage, documentID)
	return err
}

func (c *PostgresCatalog) GetDocument(ctx context.Context, documentID int64) (catalog.Document, error) {
	return c.scanDocument(ctx, `
		SELECT id, user_id, filename, blob_handle, status, result_text, error_message, page_count,
			extraction_time_seconds, created_at, started_at, completed_at
		FROM documents WHERE id = $1
	`, documentID)
}

func (c *PostgresCatalog) GetDocumentForUser(ctx context.Context, documentID, userID int64) (catalog.Document, error) {
	return c.scanDocument(ctx, `
		SELECT id, user_id, filename, blob_handle, status, result_text, error_message, page_count,
			extraction_time_seconds, created_at, started_at, completed_at
		FROM documents WHERE id = $1 AND user_id = $2
	`, documentID, userID)
}

func (c *PostgresCatalog) scanDocument(ctx context.Context, query string, args ...any) (catalog.Document, error) {
	var (
		d         catalog.Document
		resultTxt *string
		errMsg    *string
		pageCount *int
		extract   *float64
	)
	row := c.pool.QueryRow(ctx, query, args...)
	err := row.Scan(&d.ID, &d.UserID, &d.Filename, &d.BlobHandle, &d.Status, &resultTxt, &errMsg, &pageCount,
		&extract, &d.CreatedAt, &d.StartedAt, &d.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Document{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Document{}, err
	}
	if resultTxt != nil {
		d.ResultText = *resultTxt
	}
	if errMsg != nil {
		d.ErrorMessage = *errMsg
	}
	if pageCount != nil {
		d.PageCount = *pageCount
	}
	if extract != nil {
		d.ExtractionTimeSeconds = *extract
	}
	return d, nil
}

func (c *PostgresCatalog) ListDocuments(ctx context.Context, userID int64, filter catalog.DocumentFilter) ([]catalog.Document, error) {
	query := `
		SELECT id, user_id, filename, blob_handle, status, result_text, error_message, page_count,
			extraction_time_seconds, created_at, started_at, completed_at
		FROM documents WHERE user_id = $1
	`
	args := []any{userID}
	if filter.Status != nil {
		query += ` AND status = $2`
		args = append(args, *filter.Status)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ` + strconv.Itoa(filter.Offset)
	}

	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []catalog.Document
	for rows.Next() {
		var (
			d         catalog.Document
			resultTxt *string
			errMsg    *string
			pageCount *int
			extract   *float64
		)
		if err := rows.Scan(&d.ID, &d.UserID, &d.Filename, &d.BlobHandle, &d.Status, &resultTxt, &errMsg, &pageCount,
			&extract, &d.CreatedAt, &d.StartedAt, &d.CompletedAt); err != nil {
			return nil, err
		}
		if resultTxt != nil {
			d.ResultText = *resultTxt
		}
		if errMsg != nil {
			d.ErrorMessage = *errMsg
		}
		if pageCount != nil {
			d.PageCount = *pageCount
		}
		if extract != nil {
			d.ExtractionTimeSeconds = *extract
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (c *PostgresCatalog) DeleteDocument(ctx context.Context, documentID, userID int64) error {
	tag, err := c.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1 AND user_id = $2`, documentID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// AnnSearch performs the ANN query via pgvector's cosine distance operator
// `<=>`. Reported similarity is 1 - distance, clamped to [0, 1]; ties break
// on ascending chunk id (P10).
func (c *PostgresCatalog) AnnSearch(ctx context.Context, userID int64, queryVector []float32, topK int, documentID *int64) ([]catalog.ScoredChunk, error) {
	query := `
		SELECT c.id, c.document_id, c.user_id, c.chunk_index, c.text_content, c.embedding, c.token_count, c.created_at,
			d.filename,
			GREATEST(0, LEAST(1, 1 - (c.embedding <=> $1))) AS similarity
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.user_id = $2
	`
	args := []any{pgvector.NewVector(queryVector), userID}
	if documentID != nil {
		query += ` AND c.document_id = $3`
		args = append(args, *documentID)
	}
	query += ` ORDER BY (c.embedding <=> $1) ASC, c.id ASC LIMIT ` + strconv.Itoa(topK)

	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.ScoredChunk
	for rows.Next() {
		var (
			ch           catalog.Chunk
			filename     string
			similarity   float64
			embeddingRaw any
			tokenCount   *int
		)
		if err := rows.Scan(&ch.ID, &ch.DocumentID, &ch.UserID, &ch.ChunkIndex, &ch.TextContent, &embeddingRaw,
			&tokenCount, &ch.CreatedAt, &filename, &similarity); err != nil {
			return nil, err
		}
		vec, err := normalizeEmbedding(embeddingRaw)
		if err != nil {
			return nil, err
		}
		ch.Embedding = vec
		if tokenCount != nil {
			ch.TokenCount = *tokenCount
		}
		out = append(out, catalog.ScoredChunk{Chunk: ch, Filename: filename, Similarity: similarity})
	}
	return out, rows.Err()
}

func (c *PostgresCatalog) ListStalePending(ctx context.Context, olderThan time.Time) ([]catalog.PendingDocument, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT id, user_id, created_at FROM documents
		WHERE status = $1 AND created_at < $2
	`, catalog.DocumentStatusPending, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.PendingDocument
	for rows.Next() {
		var p catalog.PendingDocument
		if err := rows.Scan(&p.ID, &p.UserID, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func normalizeEmbedding(raw any) ([]float32, error) {
	switch v := raw.(type) {
	case pgvector.Vector:
		return append([]float32(nil), v.Slice()...), nil
	case []float32:
		return append([]float32(nil), v...), nil
	case []float64:
		out := make([]float32, len(v))
		for i, f := range v {
			out[i] = float32(f)
		}
		return out, nil
	case string:
		trimmed := strings.TrimSpace(v)
		trimmed = strings.TrimPrefix(trimmed, "[")
		trimmed = strings.TrimSuffix(trimmed, "]")
		if trimmed == "" {
			return nil, nil
		}
		parts := strings.Split(trimmed, ",")
		out := make([]float32, 0, len(parts))
		for _, p := range parts {
			numStr := strings.TrimSpace(p)
			if numStr == "" {
				continue
			}
			f, err := strconv.ParseFloat(numStr, 32)
			if err != nil {
				return nil, err
			}
			out = append(out, float32(f))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported embedding type %T", raw)
	}
}

var _ catalog.Catalog = (*PostgresCatalog)(nil)
