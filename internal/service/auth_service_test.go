package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fieldware/be-mnt-workorders/internal/auth"
	"github.com/fieldware/be-mnt-workorders/internal/errors"
	"github.com/fieldware/be-mnt-workorders/internal/repository"
)

type fakeUserStore struct {
	seq   int
	users map[string]*repository.User // keyed by email
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]*repository.User)}
}

func (f *fakeUserStore) Create(_ context.Context, u *repository.User) error {
	if _, ok := f.users[u.Email]; ok {
		return errors.Conflict("email already registered")
	}
	f.seq++
	u.ID = fmt.Sprintf("u-%d", f.seq)
	f.users[u.Email] = u
	return nil
}

func (f *fakeUserStore) GetByEmail(_ context.Context, email string) (*repository.User, error) {
	u, ok := f.users[email]
	if !ok {
		return nil, errors.NotFound("user", email)
	}
	return u, nil
}

func newAuthService(t *testing.T) (*AuthService, *fakeUserStore) {
	t.Helper()
	store := newFakeUserStore()
	tokens := auth.NewTokenManager("test-secret", time.Hour)
	return NewAuthService(store, tokens, testLogger()), store
}

func TestRegisterSuperadminOnly(t *testing.T) {
	svc, _ := newAuthService(t)
	ctx := context.Background()
	req := &RegisterRequest{Email: "tech@example.com", Name: "Tech", Password: "long-enough", Role: "user"}

	if _, err := svc.Register(ctx, testAdmin, req); err == nil || !errors.IsCode(err, errors.ErrCodeForbidden) {
		t.Fatalf("admin register should be forbidden, got %v", err)
	}

	u, err := svc.Register(ctx, testSuperadmin, req)
	if err != nil {
		t.Fatalf("superadmin register: %v", err)
	}
	if u.ID == "" || u.Email != "tech@example.com" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if u.PasswordHash == "long-enough" {
		t.Error("password must be stored hashed")
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newAuthService(t)
	ctx := context.Background()

	cases := []*RegisterRequest{
		{Email: "", Name: "x", Password: "long-enough", Role: "user"},
		{Email: "a@b.c", Name: "x", Password: "short", Role: "user"},
		{Email: "a@b.c", Name: "x", Password: "long-enough", Role: "manager"},
	}
	for i, req := range cases {
		if _, err := svc.Register(ctx, testSuperadmin, req); err == nil || !errors.IsCode(err, errors.ErrCodeInvalidInput) {
			t.Errorf("case %d: expected invalid input, got %v", i, err)
		}
	}
}

func TestLoginIssuesToken(t *testing.T) {
	svc, _ := newAuthService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, testSuperadmin, &RegisterRequest{
		Email: "Tech@Example.com", Name: "Tech", Password: "long-enough", Role: "admin",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Email lookup is case-insensitive.
	token, u, err := svc.Login(ctx, "tech@EXAMPLE.com", "long-enough")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if token == "" || u.Role != "admin" {
		t.Fatalf("unexpected login result: token=%q user=%+v", token, u)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	svc, _ := newAuthService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, testSuperadmin, &RegisterRequest{
		Email: "tech@example.com", Name: "Tech", Password: "long-enough", Role: "user",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, _, badUser := svc.Login(ctx, "nobody@example.com", "long-enough")
	_, _, badPass := svc.Login(ctx, "tech@example.com", "wrong-password")

	for _, err := range []error{badUser, badPass} {
		if err == nil || !errors.IsCode(err, errors.ErrCodeUnauthenticated) {
			t.Fatalf("expected unauthenticated, got %v", err)
		}
		if err.Error() != badUser.Error() {
			t.Error("bad email and bad password must return the same message")
		}
	}
}
