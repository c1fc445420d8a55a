// Package postgres provides the PostgreSQL implementation of the push
// repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pushgarden/pushgarden/internal/domain"
	"github.com/pushgarden/pushgarden/internal/push"
)

// Repository implements push.Repository and push.MembershipStore using
// PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// UpsertSubscription inserts or refreshes a device registration. A conflict
// on (user_id, endpoint) updates the keys and forces enabled back to true,
// so re-subscribing revives a previously disabled device explicitly.
func (r *Repository) UpsertSubscription(ctx context.Context, sub *domain.Subscription) error {
	query := `
		INSERT INTO push_subscriptions (user_id, endpoint, p256dh_key, auth_key, user_agent)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, endpoint) DO UPDATE
		SET p256dh_key = EXCLUDED.p256dh_key,
		    auth_key = EXCLUDED.auth_key,
		    user_agent = EXCLUDED.user_agent,
		    enabled = TRUE,
		    updated_at = NOW()
		RETURNING id, enabled, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		sub.UserID,
		sub.Endpoint,
		sub.P256dhKey,
		sub.AuthKey,
		sub.UserAgent,
	).Scan(&sub.ID, &sub.Enabled, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

// DisableSubscription soft-deletes a subscription. Disabling an already
// disabled or unknown row is a no-op success: the transition only ever moves
// one way.
func (r *Repository) DisableSubscription(ctx context.Context, id string) error {
	query := `UPDATE push_subscriptions SET enabled = FALSE, updated_at = NOW() WHERE id = $1 AND enabled`
	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("disable subscription: %w", err)
	}
	return nil
}

// DeleteSubscription removes a device registration by endpoint.
func (r *Repository) DeleteSubscription(ctx context.Context, userID, endpoint string) error {
	query := `DELETE FROM push_subscriptions WHERE user_id = $1 AND endpoint = $2`
	result, err := r.db.Exec(ctx, query, userID, endpoint)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	if result.RowsAffected() == 0 {
		return push.ErrSubscriptionNotFound
	}
	return nil
}

// ListEnabledSubscriptions returns the user's deliverable subscriptions.
// Order carries no meaning downstream.
func (r *Repository) ListEnabledSubscriptions(ctx context.Context, userID string) ([]domain.Subscription, error) {
	query := `
		SELECT id, user_id, endpoint, p256dh_key, auth_key, user_agent, enabled, created_at, updated_at
		FROM push_subscriptions
		WHERE user_id = $1 AND enabled
	`
	return r.querySubscriptions(ctx, query, userID)
}

// ListUserSubscriptions returns all of a user's subscriptions.
func (r *Repository) ListUserSubscriptions(ctx context.Context, userID string) ([]domain.Subscription, error) {
	query := `
		SELECT id, user_id, endpoint, p256dh_key, auth_key, user_agent, enabled, created_at, updated_at
		FROM push_subscriptions
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	return r.querySubscriptions(ctx, query, userID)
}

func (r *Repository) querySubscriptions(ctx context.Context, query string, args ...any) ([]domain.Subscription, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	subs := make([]domain.Subscription, 0)
	for rows.Next() {
		var sub domain.Subscription
		err := rows.Scan(
			&sub.ID,
			&sub.UserID,
			&sub.Endpoint,
			&sub.P256dhKey,
			&sub.AuthKey,
			&sub.UserAgent,
			&sub.Enabled,
			&sub.CreatedAt,
			&sub.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}

// Enqueue creates one pending queue row.
func (r *Repository) Enqueue(ctx context.Context, n *domain.QueuedNotification) error {
	query := `
		INSERT INTO notification_queue (user_id, title, body, icon, badge, url, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, status, attempts, created_at
	`
	err := r.db.QueryRow(ctx, query,
		n.UserID,
		n.Payload.Title,
		n.Payload.Body,
		n.Payload.Icon,
		n.Payload.Badge,
		n.Payload.URL,
		n.Payload.Data,
	).Scan(&n.ID, &n.Status, &n.Attempts, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

// EnqueueBatch creates pending rows for many recipients in one transaction.
func (r *Repository) EnqueueBatch(ctx context.Context, ns []*domain.QueuedNotification) error {
	if len(ns) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	query := `
		INSERT INTO notification_queue (user_id, title, body, icon, badge, url, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, status, attempts, created_at
	`
	for _, n := range ns {
		err := tx.QueryRow(ctx, query,
			n.UserID,
			n.Payload.Title,
			n.Payload.Body,
			n.Payload.Icon,
			n.Payload.Badge,
			n.Payload.URL,
			n.Payload.Data,
		).Scan(&n.ID, &n.Status, &n.Attempts, &n.CreatedAt)
		if err != nil {
			return fmt.Errorf("enqueue notification for %s: %w", n.UserID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ClaimPending atomically claims up to limit of the oldest pending rows:
// one statement filters on pending, flips to processing, and increments
// attempts, so concurrent passes cannot double-claim. SKIP LOCKED keeps a
// second concurrent pass from blocking on the first one's claim.
func (r *Repository) ClaimPending(ctx context.Context, limit int, retryDelay time.Duration) ([]*domain.QueuedNotification, error) {
	query := `
		UPDATE notification_queue
		SET status = 'processing', attempts = attempts + 1, processed_at = NOW()
		WHERE id IN (
			SELECT id FROM notification_queue
			WHERE status = 'pending'
			  AND (attempts = 0 OR processed_at IS NULL OR processed_at <= NOW() - $2::interval)
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, user_id, title, body, icon, badge, url, data, status, attempts, error_message, created_at, processed_at, sent_at
	`
	rows, err := r.db.Query(ctx, query, limit, retryDelay)
	if err != nil {
		return nil, fmt.Errorf("claim pending: %w", err)
	}
	defer rows.Close()

	items := make([]*domain.QueuedNotification, 0, limit)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}

	return items, rows.Err()
}

// MarkSent moves a row to its terminal sent state.
func (r *Repository) MarkSent(ctx context.Context, id string) error {
	query := `
		UPDATE notification_queue
		SET status = 'sent', sent_at = NOW(), error_message = ''
		WHERE id = $1 AND status = 'processing'
	`
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark as sent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return push.ErrNotificationNotFound
	}
	return nil
}

// MarkPending reverts a processing row for a later retry, keeping the last
// failure reason for admin inspection.
func (r *Repository) MarkPending(ctx context.Context, id, errMsg string) error {
	query := `
		UPDATE notification_queue
		SET status = 'pending', error_message = $2
		WHERE id = $1 AND status = 'processing'
	`
	result, err := r.db.Exec(ctx, query, id, errMsg)
	if err != nil {
		return fmt.Errorf("mark for retry: %w", err)
	}
	if result.RowsAffected() == 0 {
		return push.ErrNotificationNotFound
	}
	return nil
}

// ReleasePending reverts a processing row and refunds the attempt charged by
// the claim, used when a storage outage prevented any delivery attempt.
func (r *Repository) ReleasePending(ctx context.Context, id, errMsg string) error {
	query := `
		UPDATE notification_queue
		SET status = 'pending', attempts = GREATEST(attempts - 1, 0), error_message = $2
		WHERE id = $1 AND status = 'processing'
	`
	result, err := r.db.Exec(ctx, query, id, errMsg)
	if err != nil {
		return fmt.Errorf("release for retry: %w", err)
	}
	if result.RowsAffected() == 0 {
		return push.ErrNotificationNotFound
	}
	return nil
}

// MarkFailed moves a row to its terminal failed state.
func (r *Repository) MarkFailed(ctx context.Context, id, errMsg string) error {
	query := `
		UPDATE notification_queue
		SET status = 'failed', error_message = $2
		WHERE id = $1 AND status = 'processing'
	`
	result, err := r.db.Exec(ctx, query, id, errMsg)
	if err != nil {
		return fmt.Errorf("mark as failed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return push.ErrNotificationNotFound
	}
	return nil
}

// GetNotification retrieves one queue row by id.
func (r *Repository) GetNotification(ctx context.Context, id string) (*domain.QueuedNotification, error) {
	query := `
		SELECT id, user_id, title, body, icon, badge, url, data, status, attempts, error_message, created_at, processed_at, sent_at
		FROM notification_queue
		WHERE id = $1
	`
	row := r.db.QueryRow(ctx, query, id)
	n, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, push.ErrNotificationNotFound
		}
		return nil, err
	}
	return n, nil
}

// RecoverStuck returns rows stuck in processing longer than olderThan to
// pending. Their attempts increment from the interrupted pass stands, which
// keeps the retry bound intact across crashes.
func (r *Repository) RecoverStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE notification_queue
		SET status = 'pending'
		WHERE status = 'processing' AND processed_at <= NOW() - $1::interval
	`
	result, err := r.db.Exec(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("recover stuck: %w", err)
	}
	return result.RowsAffected(), nil
}

// DeleteOldSent prunes sent rows older than olderThan.
func (r *Repository) DeleteOldSent(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `DELETE FROM notification_queue WHERE status = 'sent' AND sent_at <= NOW() - $1::interval`
	result, err := r.db.Exec(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("delete old sent: %w", err)
	}
	return result.RowsAffected(), nil
}

// QueueStats returns queue size by status.
func (r *Repository) QueueStats(ctx context.Context) (*push.QueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'sent'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM notification_queue
	`
	var stats push.QueueStats
	err := r.db.QueryRow(ctx, query).Scan(&stats.Pending, &stats.Processing, &stats.Sent, &stats.Failed)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	return &stats, nil
}

// RecordLog writes a notification history entry.
func (r *Repository) RecordLog(ctx context.Context, entry *domain.NotificationLogEntry) error {
	query := `
		INSERT INTO notification_log (user_id, title, body, sent, failed, total)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		entry.UserID,
		entry.Title,
		entry.Body,
		entry.Sent,
		entry.Failed,
		entry.Total,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("record notification log: %w", err)
	}
	return nil
}

// ListLog returns the user's most recent history entries.
func (r *Repository) ListLog(ctx context.Context, userID string, limit int) ([]domain.NotificationLogEntry, error) {
	query := `
		SELECT id, user_id, title, body, sent, failed, total, created_at
		FROM notification_log
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notification log: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.NotificationLogEntry, 0)
	for rows.Next() {
		var e domain.NotificationLogEntry
		err := rows.Scan(&e.ID, &e.UserID, &e.Title, &e.Body, &e.Sent, &e.Failed, &e.Total, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// ListTeamMemberIDs returns the user ids belonging to a team.
func (r *Repository) ListTeamMemberIDs(ctx context.Context, teamID string) ([]string, error) {
	query := `SELECT user_id FROM team_members WHERE team_id = $1`
	return r.queryIDs(ctx, query, teamID)
}

// ListAllUserIDs returns every known user id.
func (r *Repository) ListAllUserIDs(ctx context.Context) ([]string, error) {
	query := `SELECT id FROM users`
	return r.queryIDs(ctx, query)
}

func (r *Repository) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func scanNotification(row pgx.Row) (*domain.QueuedNotification, error) {
	var n domain.QueuedNotification
	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.Payload.Title,
		&n.Payload.Body,
		&n.Payload.Icon,
		&n.Payload.Badge,
		&n.Payload.URL,
		&n.Payload.Data,
		&n.Status,
		&n.Attempts,
		&n.ErrorMessage,
		&n.CreatedAt,
		&n.ProcessedAt,
		&n.SentAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan notification: %w", err)
	}
	return &n, nil
}
