package store

import (
	"context"

	"github.com/google/uuid"

	database "github.com/Armour007/grc-assistant/internal"
)

const userColumns = `id, email, name, password_hash, role, created_at, updated_at`

// NewUser holds the values for an inserted user. An empty Role selects the
// column default.
type NewUser struct {
	Email        string
	Name         *string
	PasswordHash *string
	Role         string
}

// UserUpdate lists the columns an admin may change. Nil fields are left as is.
type UserUpdate struct {
	Name  *string
	Email *string
	Role  *string
}

func (s *Store) CreateUser(ctx context.Context, u NewUser) (database.User, error) {
	role := u.Role
	if role == "" {
		role = database.RoleUser
	}
	var out database.User
	err := s.db.GetContext(ctx, &out,
		`INSERT INTO users (email, name, password_hash, role) VALUES ($1, $2, $3, $4) RETURNING `+userColumns,
		u.Email, u.Name, u.PasswordHash, role)
	return out, handleError(err)
}

func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (database.User, error) {
	var out database.User
	err := s.db.GetContext(ctx, &out, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return out, handleError(err)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (database.User, error) {
	var out database.User
	err := s.db.GetContext(ctx, &out, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return out, handleError(err)
}

func (s *Store) ListUsers(ctx context.Context) ([]database.User, error) {
	out := []database.User{}
	err := s.db.SelectContext(ctx, &out, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	return out, handleError(err)
}

func (s *Store) UpdateUser(ctx context.Context, id uuid.UUID, u UserUpdate) (database.User, error) {
	var out database.User
	err := s.db.GetContext(ctx, &out,
		`UPDATE users SET
			name = COALESCE($2, name),
			email = COALESCE($3, email),
			role = COALESCE($4::user_role, role),
			updated_at = now()
		WHERE id = $1 RETURNING `+userColumns,
		id, u.Name, u.Email, u.Role)
	return out, handleError(err)
}

// UpdateProfile changes the caller's own name and/or password hash.
func (s *Store) UpdateProfile(ctx context.Context, id uuid.UUID, name, passwordHash *string) (database.User, error) {
	var out database.User
	err := s.db.GetContext(ctx, &out,
		`UPDATE users SET
			name = COALESCE($2, name),
			password_hash = COALESCE($3, password_hash),
			updated_at = now()
		WHERE id = $1 RETURNING `+userColumns,
		id, name, passwordHash)
	return out, handleError(err)
}

func (s *Store) DeleteUser(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return handleError(err)
	}
	return requireAffected(res)
}

// UpsertSSOUser finds the user by email or creates one that cannot log in
// with a local password. An existing name is never overwritten.
func (s *Store) UpsertSSOUser(ctx context.Context, email string, name *string) (database.User, error) {
	var out database.User
	err := s.db.GetContext(ctx, &out,
		`INSERT INTO users (email, name, password_hash) VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET
			name = COALESCE(users.name, EXCLUDED.name),
			updated_at = now()
		RETURNING `+userColumns,
		email, name, database.SSOPasswordSentinel)
	return out, handleError(err)
}
