package session

import (
	"context"
	"time"

	"quill/api/internal/store"
)

// PostgresBackend is the subset of the relational store holding sessions.
type PostgresBackend interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	ConsumeRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// PostgresStore keeps sessions in the database when Redis is not configured.
type PostgresStore struct {
	db PostgresBackend
}

func NewPostgresStore(db PostgresBackend) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) SaveRefresh(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	return s.db.SaveRefreshSession(ctx, tokenHash, userID, expiresAt)
}

func (s *PostgresStore) ConsumeRefresh(ctx context.Context, tokenHash string) (string, error) {
	userID, err := s.db.ConsumeRefreshSession(ctx, tokenHash)
	if store.IsNotFound(err) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) RevokeRefresh(ctx context.Context, tokenHash string) error {
	return s.db.RevokeRefreshSession(ctx, tokenHash)
}

func (s *PostgresStore) RevokeAccess(ctx context.Context, jti string, expiresAt time.Time) error {
	return s.db.RevokeAccessToken(ctx, jti, expiresAt)
}

func (s *PostgresStore) IsAccessRevoked(ctx context.Context, jti string) (bool, error) {
	return s.db.IsAccessTokenRevoked(ctx, jti)
}
