package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const userColumns = `id, email, password_hash, display_name, role, avatar_url, is_active, last_login_at, created_at, updated_at`

func scanUser(row rowScanner) (AdminUser, error) {
	var (
		user      AdminUser
		lastLogin sql.NullTime
	)
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.DisplayName, &user.Role, &user.AvatarURL,
		&user.IsActive, &lastLogin, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return AdminUser{}, err
	}
	user.LastLoginAt = scanNullTime(lastLogin)
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (AdminUser, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM admin_users WHERE id = $1`, userID))
	if err != nil {
		return AdminUser{}, classify(err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (AdminUser, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM admin_users WHERE email = $1`, strings.ToLower(strings.TrimSpace(email))))
	if err != nil {
		return AdminUser{}, classify(err)
	}
	return user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]AdminUser, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM admin_users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]AdminUser, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func (s *PostgresStore) InsertUser(ctx context.Context, user AdminUser) (AdminUser, error) {
	created, err := scanUser(s.db.QueryRowContext(ctx, `
		INSERT INTO admin_users (email, password_hash, display_name, role, avatar_url, is_active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		RETURNING `+userColumns,
		strings.ToLower(strings.TrimSpace(user.Email)), user.PasswordHash, user.DisplayName, user.Role, user.AvatarURL))
	if err != nil {
		return AdminUser{}, fmt.Errorf("insert user: %w", classify(err))
	}
	return created, nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, user AdminUser) (AdminUser, error) {
	updated, err := scanUser(s.db.QueryRowContext(ctx, `
		UPDATE admin_users
		SET display_name = $2, role = $3, avatar_url = $4, is_active = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING `+userColumns,
		user.ID, user.DisplayName, user.Role, user.AvatarURL, user.IsActive))
	if err != nil {
		return AdminUser{}, classify(err)
	}
	return updated, nil
}

func (s *PostgresStore) SetPasswordHash(ctx context.Context, userID, hash string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE admin_users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, userID, hash)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE admin_users SET last_login_at = $2 WHERE id = $1`, userID, at); err != nil {
		return fmt.Errorf("touch last login: %w", err)
	}
	return nil
}

// DeactivateUser disables sign-in and revokes every outstanding refresh session.
func (s *PostgresStore) DeactivateUser(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin deactivate user: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `UPDATE admin_users SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at = NOW() WHERE user_id = $1 AND revoked_at IS NULL`, userID); err != nil {
		return fmt.Errorf("revoke user sessions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit deactivate user: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountAdmins(ctx context.Context) (int, error) {
	total, err := s.count(ctx, `SELECT COUNT(*) FROM admin_users WHERE role = 'admin' AND is_active`)
	if err != nil {
		return 0, fmt.Errorf("count admins: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", classify(err))
	}
	return nil
}

// ConsumePasswordReset marks a live reset token as used and returns its owner.
// A token can be consumed once.
func (s *PostgresStore) ConsumePasswordReset(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		UPDATE password_resets SET used_at = $2
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > $2
		RETURNING user_id
	`, tokenHash, now).Scan(&userID)
	if err != nil {
		return "", classify(err)
	}
	return userID, nil
}
