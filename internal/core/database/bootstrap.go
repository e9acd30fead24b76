package db

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"fmt"
	"text/template"
	"time"
)

//go:embed scripts/initdb.sql
var bootstrapFS embed.FS

// schemaParams fills the placeholders of initdb.sql.
type schemaParams struct {
	EmbedDim int
	Lists    int
}

// EnsureBootstrapped creates the schema once. A database bootstrapped with a different
// embedding dimension is rejected, since stored vectors could never be compared with new ones.
func EnsureBootstrapped(ctx context.Context, db *sql.DB, params schemaParams) error {

	ctxBoot, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	var exists bool
	err := db.QueryRowContext(ctxBoot, `
		SELECT EXISTS (
		  SELECT 1 FROM information_schema.tables
		  WHERE table_name = 'documind_meta'
		)`).
		Scan(&exists)
	if err != nil {
		return fmt.Errorf("meta table check failed: %w", err)
	}

	// If table missing OR version row missing, run initdb.sql
	if !exists {
		return runBootstrap(ctxBoot, db, params)
	}

	var dim int
	err = db.QueryRowContext(ctxBoot, `SELECT embed_dim FROM documind_meta WHERE version = 1`).Scan(&dim)
	if err == sql.ErrNoRows {
		return runBootstrap(ctxBoot, db, params)
	}
	if err != nil {
		return fmt.Errorf("meta version check failed: %w", err)
	}
	if dim != params.EmbedDim {
		return fmt.Errorf("database was bootstrapped for %d-dim embeddings, configured %d", dim, params.EmbedDim)
	}
	return nil
}

func renderBootstrap(params schemaParams) (string, error) {
	raw, err := bootstrapFS.ReadFile("scripts/initdb.sql")
	if err != nil {
		return "", fmt.Errorf("read initdb.sql: %w", err)
	}
	tmpl, err := template.New("initdb").Parse(string(raw))
	if err != nil {
		return "", fmt.Errorf("parse initdb.sql: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("render initdb.sql: %w", err)
	}
	return buf.String(), nil
}

func runBootstrap(ctx context.Context, db *sql.DB, params schemaParams) error {
	script, err := renderBootstrap(params)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, script); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exec bootstrap: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bootstrap: %w", err)
	}
	return nil
}
