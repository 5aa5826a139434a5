package service

import (
	"context"
	"strings"

	"github.com/fieldware/be-mnt-workorders/internal/auth"
	"github.com/fieldware/be-mnt-workorders/internal/errors"
	"github.com/fieldware/be-mnt-workorders/internal/logger"
	"github.com/fieldware/be-mnt-workorders/internal/repository"
)

// UserStore is the persistence port for user accounts.
type UserStore interface {
	Create(ctx context.Context, u *repository.User) error
	GetByEmail(ctx context.Context, email string) (*repository.User, error)
}

// AuthService handles login and account registration.
type AuthService struct {
	users  UserStore
	tokens *auth.TokenManager
	log    *logger.Logger
}

// NewAuthService creates a new AuthService.
func NewAuthService(users UserStore, tokens *auth.TokenManager, log *logger.Logger) *AuthService {
	return &AuthService{users: users, tokens: tokens, log: log}
}

// Login verifies credentials and issues a bearer token. Bad email and bad
// password are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, *repository.User, error) {
	user, err := s.users.GetByEmail(ctx, strings.ToLower(email))
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeNotFound) {
			return "", nil, errors.Unauthenticated("invalid email or password")
		}
		return "", nil, err
	}

	if !auth.CheckPassword(user.PasswordHash, password) {
		return "", nil, errors.Unauthenticated("invalid email or password")
	}

	role, err := auth.ParseRole(user.Role)
	if err != nil {
		return "", nil, errors.Wrap(err, errors.ErrCodeInternal, "user has unknown role")
	}

	token, err := s.tokens.Issue(auth.Identity{ID: user.ID, Name: user.Name, Role: role})
	if err != nil {
		return "", nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to issue token")
	}

	s.log.Info().Str("user_id", user.ID).Msg("User logged in")
	return token, user, nil
}

// RegisterRequest carries the fields of a new account.
type RegisterRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// Register creates a user account. Superadmin only.
func (s *AuthService) Register(ctx context.Context, actor auth.Identity, req *RegisterRequest) (*repository.User, error) {
	if err := auth.Require(actor, auth.RoleSuperadmin); err != nil {
		return nil, err
	}
	if req.Email == "" {
		return nil, errors.InvalidInput("email", "must not be empty")
	}
	if len(req.Password) < 8 {
		return nil, errors.InvalidInput("password", "must be at least 8 characters")
	}
	if _, err := auth.ParseRole(req.Role); err != nil {
		return nil, errors.InvalidInput("role", "must be user, admin or superadmin")
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to hash password")
	}

	user := &repository.User{
		Email:        strings.ToLower(req.Email),
		Name:         req.Name,
		PasswordHash: hash,
		Role:         req.Role,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.log.Info().Str("user_id", user.ID).Str("role", user.Role).Msg("User registered")
	return user, nil
}
