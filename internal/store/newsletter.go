package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const subscriberColumns = `
	s.id, s.email, s.name, s.status, s.confirm_token_hash, s.unsubscribe_token, s.source,
	s.confirmed_at, s.unsubscribed_at, s.created_at`

func scanSubscriber(row rowScanner) (Subscriber, error) {
	var (
		item                      Subscriber
		confirmed, unsubscribedAt sql.NullTime
	)
	err := row.Scan(&item.ID, &item.Email, &item.Name, &item.Status, &item.ConfirmTokenHash, &item.UnsubscribeToken, &item.Source,
		&confirmed, &unsubscribedAt, &item.CreatedAt)
	if err != nil {
		return Subscriber{}, err
	}
	item.ConfirmedAt = scanNullTime(confirmed)
	item.UnsubscribedAt = scanNullTime(unsubscribedAt)
	return item, nil
}

func (s *PostgresStore) querySubscribers(ctx context.Context, query string, args ...any) ([]Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	items := make([]Subscriber, 0)
	for rows.Next() {
		item, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscribers: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListSubscribers(ctx context.Context, filter SubscriberFilter) ([]Subscriber, Page, error) {
	page, limit := clampPage(filter.Page, filter.Limit)
	where := filter.build()

	total, err := s.count(ctx, `SELECT COUNT(*) FROM newsletter_subscribers s`+where.sql(), where.args...)
	if err != nil {
		return nil, Page{}, fmt.Errorf("count subscribers: %w", err)
	}
	query := `SELECT` + subscriberColumns + ` FROM newsletter_subscribers s` + where.sql() +
		fmt.Sprintf(" ORDER BY s.created_at DESC LIMIT %s OFFSET %s", where.placeholder(1), where.placeholder(2))
	args := append(append([]any{}, where.args...), limit, (page-1)*limit)

	items, err := s.querySubscribers(ctx, query, args...)
	if err != nil {
		return nil, Page{}, err
	}
	return items, NewPage(page, limit, total), nil
}

// ListAllSubscribers backs the CSV export, which is never paginated.
func (s *PostgresStore) ListAllSubscribers(ctx context.Context, status string) ([]Subscriber, error) {
	where := (SubscriberFilter{Status: status}).build()
	return s.querySubscribers(ctx, `SELECT`+subscriberColumns+` FROM newsletter_subscribers s`+where.sql()+` ORDER BY s.created_at`, where.args...)
}

func (s *PostgresStore) ListActiveSubscribers(ctx context.Context) ([]Subscriber, error) {
	return s.ListAllSubscribers(ctx, "active")
}

func (s *PostgresStore) GetSubscriberByEmail(ctx context.Context, email string) (Subscriber, error) {
	item, err := scanSubscriber(s.db.QueryRowContext(ctx, `SELECT`+subscriberColumns+` FROM newsletter_subscribers s WHERE s.email = $1`, email))
	if err != nil {
		return Subscriber{}, classify(err)
	}
	return item, nil
}

// UpsertPendingSubscriber creates a subscriber or resets an existing one to
// pending with a fresh confirmation token.
func (s *PostgresStore) UpsertPendingSubscriber(ctx context.Context, item Subscriber) (Subscriber, error) {
	saved, err := scanSubscriber(s.db.QueryRowContext(ctx, `
		INSERT INTO newsletter_subscribers AS s (email, name, status, confirm_token_hash, unsubscribe_token, source)
		VALUES ($1, $2, 'pending', $3, $4, $5)
		ON CONFLICT (email) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), s.name),
			status = 'pending',
			confirm_token_hash = EXCLUDED.confirm_token_hash,
			unsubscribed_at = NULL
		RETURNING`+subscriberColumns,
		item.Email, item.Name, item.ConfirmTokenHash, item.UnsubscribeToken, item.Source))
	if err != nil {
		return Subscriber{}, fmt.Errorf("upsert subscriber: %w", classify(err))
	}
	return saved, nil
}

func (s *PostgresStore) ConfirmSubscriber(ctx context.Context, tokenHash string, now time.Time) (Subscriber, error) {
	item, err := scanSubscriber(s.db.QueryRowContext(ctx, `
		UPDATE newsletter_subscribers AS s
		SET status = 'active', confirmed_at = $2, confirm_token_hash = ''
		WHERE s.confirm_token_hash = $1 AND s.confirm_token_hash <> '' AND s.status = 'pending'
		RETURNING`+subscriberColumns, tokenHash, now))
	if err != nil {
		return Subscriber{}, classify(err)
	}
	return item, nil
}

func (s *PostgresStore) Unsubscribe(ctx context.Context, unsubscribeToken string, now time.Time) (Subscriber, error) {
	item, err := scanSubscriber(s.db.QueryRowContext(ctx, `
		UPDATE newsletter_subscribers AS s
		SET status = 'unsubscribed', unsubscribed_at = COALESCE(s.unsubscribed_at, $2)
		WHERE s.unsubscribe_token = $1
		RETURNING`+subscriberColumns, unsubscribeToken, now))
	if err != nil {
		return Subscriber{}, classify(err)
	}
	return item, nil
}

func (s *PostgresStore) DeleteSubscriber(ctx context.Context, subscriberID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM newsletter_subscribers WHERE id = $1`, subscriberID)
	if err != nil {
		return fmt.Errorf("delete subscriber: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CountSubscribers(ctx context.Context, status string) (int, error) {
	where := (SubscriberFilter{Status: status}).build()
	total, err := s.count(ctx, `SELECT COUNT(*) FROM newsletter_subscribers s`+where.sql(), where.args...)
	if err != nil {
		return 0, fmt.Errorf("count subscribers: %w", err)
	}
	return total, nil
}

const newsletterColumns = `id, subject, content, status, recipient_count, failure_count, sent_at, created_by, created_at, updated_at`

func scanNewsletter(row rowScanner) (Newsletter, error) {
	var (
		item      Newsletter
		sentAt    sql.NullTime
		createdBy sql.NullString
	)
	err := row.Scan(&item.ID, &item.Subject, &item.Content, &item.Status, &item.RecipientCount, &item.FailureCount,
		&sentAt, &createdBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Newsletter{}, err
	}
	item.SentAt = scanNullTime(sentAt)
	item.CreatedBy = scanNullString(createdBy)
	return item, nil
}

func (s *PostgresStore) ListNewsletters(ctx context.Context) ([]Newsletter, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+newsletterColumns+` FROM newsletters ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list newsletters: %w", err)
	}
	defer rows.Close()

	items := make([]Newsletter, 0)
	for rows.Next() {
		item, err := scanNewsletter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan newsletter: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate newsletters: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetNewsletter(ctx context.Context, newsletterID string) (Newsletter, error) {
	item, err := scanNewsletter(s.db.QueryRowContext(ctx, `SELECT `+newsletterColumns+` FROM newsletters WHERE id = $1`, newsletterID))
	if err != nil {
		return Newsletter{}, classify(err)
	}
	return item, nil
}

func (s *PostgresStore) InsertNewsletter(ctx context.Context, item Newsletter) (Newsletter, error) {
	created, err := scanNewsletter(s.db.QueryRowContext(ctx, `
		INSERT INTO newsletters (subject, content, created_by)
		VALUES ($1, $2, $3)
		RETURNING `+newsletterColumns, item.Subject, item.Content, nullableString(item.CreatedBy)))
	if err != nil {
		return Newsletter{}, fmt.Errorf("insert newsletter: %w", classify(err))
	}
	return created, nil
}

// UpdateNewsletter edits a draft. Campaigns past draft are left untouched and
// reported as not found.
func (s *PostgresStore) UpdateNewsletter(ctx context.Context, item Newsletter) (Newsletter, error) {
	updated, err := scanNewsletter(s.db.QueryRowContext(ctx, `
		UPDATE newsletters SET subject = $2, content = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'draft'
		RETURNING `+newsletterColumns, item.ID, item.Subject, item.Content))
	if err != nil {
		return Newsletter{}, classify(err)
	}
	return updated, nil
}

// MarkNewsletterSending claims a campaign for delivery. It returns false when
// the campaign is not in a sendable state, so two callers cannot both send it.
func (s *PostgresStore) MarkNewsletterSending(ctx context.Context, newsletterID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE newsletters SET status = 'sending', updated_at = NOW()
		WHERE id = $1 AND status IN ('draft', 'failed')
	`, newsletterID)
	if err != nil {
		return false, fmt.Errorf("mark newsletter sending: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

func (s *PostgresStore) FinishNewsletter(ctx context.Context, newsletterID, status string, recipients, failures int, sentAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE newsletters
		SET status = $2, recipient_count = $3, failure_count = $4, sent_at = $5, updated_at = NOW()
		WHERE id = $1
	`, newsletterID, status, recipients, failures, nullableTime(sentAt))
	if err != nil {
		return fmt.Errorf("finish newsletter: %w", err)
	}
	return nil
}
