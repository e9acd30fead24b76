package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/documind/internal/config"
	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/models"
)

var _ core.DbClient = (*DatabaseClient)(nil)

type DatabaseClient struct {
	db     *sql.DB
	probes int
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (core.DbClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	dsn := cfg.DatabaseURL
	if cfg.SslCertPath != "" {
		if _, err := os.Stat(cfg.SslCertPath); err != nil {
			return nil, fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
		}
		// Append SSL params to the provided DATABASE_URL safely.
		u, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", cfg.SslCertPath)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	// Ensure bootstrap once
	if err := EnsureBootstrapped(ctx, db, schemaParams{EmbedDim: cfg.EmbedDim, Lists: cfg.IVFLists}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db, probes: cfg.IVFProbes}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Implementing the db interface for Document

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Status == "" {
		doc.Status = models.StateUploaded
	}
	const q = `
		INSERT INTO documents
			(id, file_name, file_type, storage_key, file_size, status, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING created_at, updated_at
	`
	err := c.db.QueryRowContext(ctx, q,
		doc.ID, doc.FileName, string(doc.FileType), doc.StorageKey, doc.FileSize, string(doc.Status),
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

const documentColumns = `id, file_name, file_type, content, storage_key, file_size, page_count, status, error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(r rowScanner) (*models.Document, error) {
	var (
		d         models.Document
		fileType  string
		status    string
		pageCount sql.NullInt32
	)
	if err := r.Scan(
		&d.ID, &d.FileName, &fileType, &d.Content, &d.StorageKey, &d.FileSize, &pageCount, &status, &d.Error,
		&d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d.FileType = models.FileType(fileType)
	d.Status = models.DocumentState(status)
	if pageCount.Valid {
		n := int(pageCount.Int32)
		d.PageCount = &n
	}
	return &d, nil
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	d, err := scanDocument(c.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return d, nil
}

func (c *DatabaseClient) ListDocuments(ctx context.Context, offset, limit int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + documentColumns + ` FROM documents ORDER BY created_at DESC, id ASC OFFSET $1 LIMIT $2`
	rows, err := c.db.QueryContext(ctx, q, max(offset, 0), limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := []models.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentState, reason string) error {
	const q = `
		UPDATE documents
		SET status = $2, error = $3, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, string(status), reason)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return expectOne(res, id)
}

func (c *DatabaseClient) MarkDocumentProcessed(ctx context.Context, id string, preview string, pageCount *int) error {
	const q = `
		UPDATE documents
		SET status = $2, content = $3, page_count = $4, error = '', updated_at = now()
		WHERE id = $1
	`
	var pc sql.NullInt32
	if pageCount != nil {
		pc = sql.NullInt32{Int32: int32(*pageCount), Valid: true}
	}
	res, err := c.db.ExecContext(ctx, q, id, string(models.StateProcessed), preview, pc)
	if err != nil {
		return fmt.Errorf("mark document processed: %w", err)
	}
	return expectOne(res, id)
}

// DeleteDocument relies on ON DELETE CASCADE, so chunk rows and their index entries go in the same statement.
func (c *DatabaseClient) DeleteDocument(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	res, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return expectOne(res, id)
}

func (c *DatabaseClient) CountDocuments(ctx context.Context) (int64, error) {
	var n int64
	if err := c.db.QueryRowContext(ctx, `SELECT count(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

func expectOne(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// Implementing the db interface for Document Chunks

// InsertDocumentChunks inserts every chunk of a document in a single transaction.
func (c *DatabaseClient) InsertDocumentChunks(ctx context.Context, documentID string, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: begin: %w", core.ErrVectorStore, err)
	}

	const q = `
		INSERT INTO document_chunks
			(id, document_id, position, text, embedding, token_count, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%w: prepare: %w", core.ErrVectorStore, err)
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		if ch.DocumentID != documentID {
			_ = tx.Rollback()
			return fmt.Errorf("%w: chunk %d belongs to %s", core.ErrVectorStore, ch.Position, ch.DocumentID)
		}
		if ch.ID == "" {
			ch.ID = uuid.NewString()
		}
		meta, err := json.Marshal(orEmpty(ch.Metadata))
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: metadata: %w", core.ErrVectorStore, err)
		}
		vec := pgvector.NewVector(ch.Embedding)

		if _, err := stmt.ExecContext(ctx,
			ch.ID, documentID, ch.Position, ch.Text, vec, ch.TokenCount, meta,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: insert chunk %d: %w", core.ErrVectorStore, ch.Position, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", core.ErrVectorStore, err)
	}
	return nil
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func (c *DatabaseClient) DeleteChunksByDocument(ctx context.Context, documentID string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("%w: delete chunks: %w", core.ErrVectorStore, err)
	}
	return nil
}

func (c *DatabaseClient) GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	const q = `
		SELECT id, document_id, position, text, embedding, token_count, metadata, created_at
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY position ASC
	`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, fmt.Errorf("%w: get chunks: %w", core.ErrVectorStore, err)
	}
	defer rows.Close()

	var out []models.DocumentChunk
	for rows.Next() {
		var (
			ch   models.DocumentChunk
			emb  pgvector.Vector
			meta []byte
		)
		if err := rows.Scan(
			&ch.ID, &ch.DocumentID, &ch.Position, &ch.Text, &emb, &ch.TokenCount, &meta, &ch.CreatedAt,
		); err != nil {
			return nil, err
		}
		ch.Embedding = emb.Slice()
		_ = json.Unmarshal(meta, &ch.Metadata)
		out = append(out, ch)
	}
	return out, rows.Err()
}

// SearchChunks asks the ivfflat index for the k nearest chunks by cosine distance, then keeps only
// those scoring above threshold, ordered by score, chunk index and document id. Both levels break
// distance ties the same way, so equal scores at the k-th place cut deterministically.
func (c *DatabaseClient) SearchChunks(ctx context.Context, query []float32, k int, threshold float64) ([]models.ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %w", core.ErrVectorStore, err)
	}
	defer func() { _ = tx.Rollback() }()

	if c.probes > 0 {
		if _, err := tx.ExecContext(ctx, `SET LOCAL ivfflat.probes = `+strconv.Itoa(c.probes)); err != nil {
			return nil, fmt.Errorf("%w: set probes: %w", core.ErrVectorStore, err)
		}
	}

	const q = `
		SELECT id, document_id, position, text, token_count, metadata, created_at, score
		FROM (
			SELECT id, document_id, position, text, token_count, metadata, created_at,
			       1 - (embedding <=> $1) AS score
			FROM document_chunks
			ORDER BY embedding <=> $1, position ASC, document_id ASC
			LIMIT $2
		) nearest
		WHERE score > $3
		ORDER BY score DESC, position ASC, document_id ASC
	`
	rows, err := tx.QueryContext(ctx, q, pgvector.NewVector(query), k, threshold)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", core.ErrVectorStore, err)
	}
	defer rows.Close()

	var out []models.ScoredChunk
	for rows.Next() {
		var (
			sc   models.ScoredChunk
			meta []byte
		)
		if err := rows.Scan(
			&sc.Chunk.ID, &sc.Chunk.DocumentID, &sc.Chunk.Position, &sc.Chunk.Text, &sc.Chunk.TokenCount,
			&meta, &sc.Chunk.CreatedAt, &sc.Score,
		); err != nil {
			return nil, fmt.Errorf("%w: scan: %w", core.ErrVectorStore, err)
		}
		_ = json.Unmarshal(meta, &sc.Chunk.Metadata)
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrVectorStore, err)
	}
	return out, nil
}

func (c *DatabaseClient) CountChunks(ctx context.Context) (int64, error) {
	var n int64
	if err := c.db.QueryRowContext(ctx, `SELECT count(*) FROM document_chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// Implementing the db interface for chat history

func (c *DatabaseClient) AppendHistory(ctx context.Context, rec *models.HistoryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	sources, err := json.Marshal(rec.Sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	if rec.Sources == nil {
		sources = []byte("[]")
	}
	const q = `
		INSERT INTO chat_history (id, session_id, query, response, sources, failed, response_time_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		RETURNING created_at
	`
	if err := c.db.QueryRowContext(ctx, q,
		rec.ID, rec.SessionID, rec.Query, rec.Response, sources, rec.Failed, rec.ResponseTimeMs,
	).Scan(&rec.CreatedAt); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (c *DatabaseClient) ListHistoryBySession(ctx context.Context, sessionID string, limit int) ([]models.HistoryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT id, session_id, query, response, sources, failed, response_time_ms, created_at
		FROM chat_history
		WHERE session_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := c.db.QueryContext(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []models.HistoryRecord
	for rows.Next() {
		var (
			r       models.HistoryRecord
			sources []byte
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Query, &r.Response, &sources, &r.Failed, &r.ResponseTimeMs, &r.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(sources, &r.Sources); err != nil {
			return nil, fmt.Errorf("decode sources of %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) AggregateHistory(ctx context.Context) (models.HistoryAggregate, error) {
	var agg models.HistoryAggregate
	const q = `SELECT count(*), COALESCE(avg(response_time_ms), 0)::float8 FROM chat_history`
	if err := c.db.QueryRowContext(ctx, q).Scan(&agg.TotalQueries, &agg.AvgResponseTimeMs); err != nil {
		return agg, fmt.Errorf("aggregate history: %w", err)
	}
	return agg, nil
}
