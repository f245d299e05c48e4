package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestExtractGooseUp(t *testing.T) {
	src := "-- +goose Up\nCREATE TABLE a (id int);\n-- +goose Down\nDROP TABLE a;\n"
	assert.Equal(t, "CREATE TABLE a (id int);\n", extractGooseUp(src))
	assert.Equal(t, "SELECT 1;", extractGooseUp("SELECT 1;"))
}

func TestSplitStatements_KeepsBlocks(t *testing.T) {
	b, err := os.ReadFile(filepath.Join("..", "..", "db", "migrations", "0001_init.sql"))
	require.NoError(t, err)

	stmts := splitStatements(extractGooseUp(string(b)))
	require.NotEmpty(t, stmts)
	var doBlocks int
	for _, s := range stmts {
		assert.NotContains(t, strings.ToLower(s), "drop table", "down section leaked into up")
		if strings.HasPrefix(s, "DO $$") {
			doBlocks++
			assert.True(t, strings.HasSuffix(s, "END $$;"), s)
		}
	}
	assert.Equal(t, 2, doBlocks)
	assert.Contains(t, stmts[0], "CREATE EXTENSION")
}

func TestApplyMigrations_SkipsApplied(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001_a.sql"), []byte("-- +goose Up\nCREATE TABLE a (id int);\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0002_b.sql"),
		[]byte("-- +goose Up\nCREATE TABLE b (id int);\nCREATE INDEX b_idx ON b (id);\n-- +goose Down\nDROP TABLE b;\n"), 0o644))

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()
	db := sqlx.NewDb(sqlDB, "sqlmock")

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT version FROM schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("0001_a.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE b`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX b_idx`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs("0002_b.sql").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, applyMigrations(context.Background(), db, dir, zap.NewNop()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeed_CreatesMissingUsersOnly(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()
	db := sqlx.NewDb(sqlDB, "sqlmock")

	cols := []string{"id", "email", "name", "password_hash", "role", "created_at", "updated_at"}
	now := time.Now()

	mock.ExpectQuery(`FROM users WHERE email = \$1`).WithArgs(adminEmail).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(uuid.NewString(), adminEmail, "Admin User", "hash", "admin", now, now))
	mock.ExpectQuery(`FROM users WHERE email = \$1`).WithArgs(sampleEmail).
		WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs(sampleEmail, sqlmock.AnyArg(), sqlmock.AnyArg(), "user").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(uuid.NewString(), sampleEmail, "Sample User", "hash", "user", now, now))

	var out bytes.Buffer
	require.NoError(t, seed(context.Background(), db, "", &out, zap.NewNop()))
	assert.Empty(t, out.String(), "no password is printed when the admin already exists")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeed_PrintsGeneratedAdminPassword(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()
	db := sqlx.NewDb(sqlDB, "sqlmock")

	cols := []string{"id", "email", "name", "password_hash", "role", "created_at", "updated_at"}
	now := time.Now()

	mock.ExpectQuery(`FROM users WHERE email = \$1`).WithArgs(adminEmail).WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs(adminEmail, sqlmock.AnyArg(), sqlmock.AnyArg(), "admin").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(uuid.NewString(), adminEmail, "Admin User", "hash", "admin", now, now))
	mock.ExpectQuery(`FROM users WHERE email = \$1`).WithArgs(sampleEmail).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(uuid.NewString(), sampleEmail, "Sample User", "hash", "user", now, now))

	var out bytes.Buffer
	require.NoError(t, seed(context.Background(), db, "", &out, zap.NewNop()))
	assert.Contains(t, out.String(), "Generated admin password: ")
	assert.NoError(t, mock.ExpectationsWereMet())
}
