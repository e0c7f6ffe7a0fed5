// Package authpw provides email/password authentication for admin users.
package authpw

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"quill/api/internal/auth"
	"quill/api/internal/store"
)

const (
	MinPasswordLength = 8
	resetTTL          = time.Hour
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInactiveUser       = errors.New("account is disabled")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")
	ErrWrongPassword      = errors.New("current password is incorrect")
)

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.AdminUser, error)
	GetUserByID(ctx context.Context, id string) (store.AdminUser, error)
	SetPasswordHash(ctx context.Context, userID, hash string) error
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
	CreatePasswordReset(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	ConsumePasswordReset(ctx context.Context, tokenHash string, now time.Time) (string, error)
}

// Service provides email/password authentication
type Service struct {
	store UserStore
	cost  int
	now   func() time.Time
}

func NewService(store UserStore) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost, now: time.Now}
}

// HashPassword hashes a new password after checking its length.
func (s *Service) HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// SignIn authenticates an active user and records the login time.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.AdminUser, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return store.AdminUser{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if store.IsNotFound(err) {
		return store.AdminUser{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.AdminUser{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.AdminUser{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return store.AdminUser{}, ErrInactiveUser
	}

	now := s.now().UTC()
	if err := s.store.TouchLastLogin(ctx, user.ID, now); err != nil {
		return store.AdminUser{}, err
	}
	user.LastLoginAt = &now
	return user, nil
}

// RequestPasswordReset issues a one-hour reset token. Unknown or inactive
// addresses get an empty token and no error so callers cannot enumerate accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, store.AdminUser, error) {
	user, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if store.IsNotFound(err) {
		return "", store.AdminUser{}, nil
	}
	if err != nil {
		return "", store.AdminUser{}, err
	}
	if !user.IsActive {
		return "", store.AdminUser{}, nil
	}

	token, err := generateToken()
	if err != nil {
		return "", store.AdminUser{}, err
	}
	if err := s.store.CreatePasswordReset(ctx, auth.HashToken(token), user.ID, s.now().Add(resetTTL)); err != nil {
		return "", store.AdminUser{}, err
	}
	return token, user, nil
}

// ResetPassword consumes a reset token and stores the new password.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", ErrInvalidResetToken
	}
	hash, err := s.HashPassword(newPassword)
	if err != nil {
		return "", err
	}

	userID, err := s.store.ConsumePasswordReset(ctx, auth.HashToken(token), s.now())
	if store.IsNotFound(err) {
		return "", ErrInvalidResetToken
	}
	if err != nil {
		return "", err
	}
	if err := s.store.SetPasswordHash(ctx, userID, hash); err != nil {
		return "", fmt.Errorf("update password: %w", err)
	}
	return userID, nil
}

// ChangePassword replaces the password of a signed-in user.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)); err != nil {
		return ErrWrongPassword
	}
	hash, err := s.HashPassword(next)
	if err != nil {
		return err
	}
	return s.store.SetPasswordHash(ctx, userID, hash)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// generateToken creates a secure random token
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
