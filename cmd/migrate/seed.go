package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	database "github.com/Armour007/grc-assistant/internal"
	"github.com/Armour007/grc-assistant/internal/store"
	"github.com/Armour007/grc-assistant/internal/utils"
)

const (
	adminEmail      = "admin@grc.com"
	sampleEmail     = "user@grc.com"
	samplePassword  = "user123"
	generatedPWSize = 9
)

type seedUser struct {
	email    string
	name     string
	password string
	role     string
}

// seed creates the default accounts. A generated admin password is written
// to out so the operator sees it exactly once.
func seed(ctx context.Context, db *sqlx.DB, adminPassword string, out io.Writer, log *zap.Logger) error {
	st := store.New(db)

	generated := adminPassword == ""
	if generated {
		pw, err := utils.RandomString(generatedPWSize)
		if err != nil {
			return err
		}
		adminPassword = pw
	}

	users := []seedUser{
		{email: adminEmail, name: "Admin User", password: adminPassword, role: database.RoleAdmin},
		{email: sampleEmail, name: "Sample User", password: samplePassword, role: database.RoleUser},
	}
	for _, u := range users {
		created, err := seedOne(ctx, st, u)
		if err != nil {
			return fmt.Errorf("seed %s: %w", u.email, err)
		}
		if !created {
			log.Info("user already exists, skipping", zap.String("email", u.email))
			continue
		}
		log.Info("user created", zap.String("email", u.email), zap.String("role", u.role))
		if u.email == adminEmail && generated {
			fmt.Fprintf(out, "Generated admin password: %s\nChange it immediately in production.\n", adminPassword)
		}
	}
	log.Info("database seeded")
	return nil
}

func seedOne(ctx context.Context, st *store.Store, u seedUser) (bool, error) {
	_, err := st.GetUserByEmail(ctx, u.email)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	hash, err := utils.HashPassword(u.password)
	if err != nil {
		return false, err
	}
	name := u.name
	_, err = st.CreateUser(ctx, store.NewUser{Email: u.email, Name: &name, PasswordHash: &hash, Role: u.role})
	if errors.Is(err, store.ErrConflict) {
		return false, nil
	}
	return err == nil, err
}
