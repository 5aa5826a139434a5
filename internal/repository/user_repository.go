package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/fieldware/be-mnt-workorders/internal/auth"
	"github.com/fieldware/be-mnt-workorders/internal/database"
	"github.com/fieldware/be-mnt-workorders/internal/errors"
)

// UserRepository handles user accounts.
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, name, password_hash, role, created_at, updated_at`

// Create inserts a user.
func (r *UserRepository) Create(ctx context.Context, u *User) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO users (email, name, password_hash, role)
		VALUES ($1, $2, $3, $4::work_order_role)
		RETURNING id, created_at, updated_at
	`, u.Email, u.Name, u.PasswordHash, u.Role).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if database.IsUniqueViolation(err, "") {
		return errors.Newf(errors.ErrCodeConflict, "email %q is already registered", u.Email)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create user")
	}
	return nil
}

// GetByID retrieves a user by id.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get user")
	}
	return u, nil
}

// GetByEmail retrieves a user by email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user", email)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get user")
	}
	return u, nil
}

// ResolveIdentity implements auth.IdentitySource: it maps a user id to the
// caller identity with the current (not token-cached) role.
func (r *UserRepository) ResolveIdentity(ctx context.Context, userID string) (auth.Identity, error) {
	u, err := r.GetByID(ctx, userID)
	if err != nil {
		return auth.Identity{}, err
	}

	role, err := auth.ParseRole(u.Role)
	if err != nil {
		return auth.Identity{}, errors.Wrap(err, errors.ErrCodeInternal, "user has unknown role")
	}
	return auth.Identity{ID: u.ID, Name: u.Name, Role: role}, nil
}

type userScanner interface {
	Scan(dest ...any) error
}

func scanUser(row userScanner) (*User, error) {
	u := &User{}
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}
