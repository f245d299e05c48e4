package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

func applyMigrations(ctx context.Context, db *sqlx.DB, dir string, log *zap.Logger) error {
	if _, err := db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS schema_migrations (
            version TEXT PRIMARY KEY,
            applied_at timestamptz NOT NULL DEFAULT now()
        )`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	files, err := collectSQLFiles(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		log.Info("no migration files found", zap.String("dir", dir))
		return nil
	}

	applied := map[string]bool{}
	var versions []string
	if err := db.SelectContext(ctx, &versions, `SELECT version FROM schema_migrations`); err != nil {
		return fmt.Errorf("query schema_migrations: %w", err)
	}
	for _, v := range versions {
		applied[v] = true
	}

	for _, f := range files {
		name := filepath.Base(f)
		if applied[name] {
			continue
		}
		b, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		stmts := splitStatements(extractGooseUp(string(b)))
		log.Info("applying migration", zap.String("version", name), zap.Int("statements", len(stmts)))
		if err := applyOne(ctx, db, name, stmts); err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
	}
	log.Info("migrations applied")
	return nil
}

// applyOne runs a migration and records it in a single transaction.
func applyOne(ctx context.Context, db *sqlx.DB, version string, stmts []string) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range stmts {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("statement failed: %s: %w", short(stmt), err)
		}
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT (version) DO NOTHING`, version); err != nil {
		return err
	}
	return tx.Commit()
}

func collectSQLFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(strings.ToLower(d.Name()), ".sql") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// extractGooseUp returns the text between "-- +goose Up" and "-- +goose Down".
// Files without markers are treated as all Up.
func extractGooseUp(content string) string {
	lower := strings.ToLower(content)
	upIdx := strings.Index(lower, "-- +goose up")
	if upIdx == -1 {
		return content
	}
	rest := content[upIdx:]
	if nl := strings.Index(rest, "\n"); nl != -1 {
		rest = rest[nl+1:]
	} else {
		rest = ""
	}
	if down := strings.Index(strings.ToLower(rest), "-- +goose down"); down != -1 {
		rest = rest[:down]
	}
	return rest
}

// splitStatements splits on lines ending in ';'. Blocks wrapped in
// "-- +goose StatementBegin" / "StatementEnd" are kept whole.
func splitStatements(sql string) []string {
	var (
		stmts   []string
		buf     strings.Builder
		inBlock bool
	)
	flush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			stmts = append(stmts, s)
		}
		buf.Reset()
	}
	for _, line := range strings.Split(sql, "\n") {
		trimmed := strings.TrimSpace(line)
		switch strings.ToLower(trimmed) {
		case "-- +goose statementbegin":
			flush()
			inBlock = true
			continue
		case "-- +goose statementend":
			flush()
			inBlock = false
			continue
		}
		if !inBlock && strings.HasPrefix(trimmed, "--") {
			continue
		}
		buf.WriteString(line)
		buf.WriteString("\n")
		if !inBlock && strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	flush()
	return stmts
}

func short(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
