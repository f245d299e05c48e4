package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	database "github.com/Armour007/grc-assistant/internal"
	"github.com/Armour007/grc-assistant/internal/config"
	"github.com/Armour007/grc-assistant/internal/logging"
)

var (
	migrationsDir string
	logLevel      string
)

var rootCmd = &cobra.Command{
	Use:           "migrate",
	Short:         "Manage the GRC Assistant database",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending SQL migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(db *sqlx.DB, log *zap.Logger) error {
			return applyMigrations(cmd.Context(), db, migrationsDir, log)
		})
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the default admin and sample users",
	Long: `Create admin@grc.com and user@grc.com when they do not exist.

The admin password is read from ADMIN_PASSWORD. When unset a random
password is generated and printed once.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(db *sqlx.DB, log *zap.Logger) error {
			return seed(cmd.Context(), db, os.Getenv("ADMIN_PASSWORD"), cmd.OutOrStdout(), log)
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&migrationsDir, "dir", "db/migrations", "Directory holding .sql migrations")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level")
	rootCmd.AddCommand(upCmd, seedCmd)
}

func withDB(ctx context.Context, fn func(*sqlx.DB, *zap.Logger) error) error {
	log := logging.New(logLevel, "console")
	defer func() { _ = log.Sync() }()

	if err := config.LoadEnvFile(); err != nil {
		return err
	}
	pg := config.FromEnv().Postgres
	if missing := pg.Missing(); len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	db, err := database.Open(ctx, pg, log)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db, log)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
