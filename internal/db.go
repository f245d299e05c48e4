package database

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/Armour007/grc-assistant/internal/config"
)

const (
	connectAttempts = 10
	connectDelay    = 2 * time.Second
)

// Open connects to Postgres and waits for it to accept connections, so the
// API can start alongside the database container.
func Open(ctx context.Context, cfg config.Postgres, log *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	for attempt := 1; ; attempt++ {
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = db.PingContext(pctx)
		cancel()
		if err == nil {
			log.Info("connected to database", zap.String("host", cfg.Host), zap.String("db", cfg.Name))
			return db, nil
		}
		if attempt == connectAttempts {
			break
		}
		log.Warn("database not ready", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, ctx.Err()
		case <-time.After(connectDelay):
		}
	}
	_ = db.Close()
	return nil, fmt.Errorf("unable to connect to database after %d attempts: %w", connectAttempts, err)
}
