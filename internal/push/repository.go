// Package push implements web push delivery: the subscription registry, the
// durable retry queue, the synchronous dispatch path, and target resolution.
package push

import (
	"context"
	"time"

	"github.com/pushgarden/pushgarden/internal/domain"
)

// Repository defines data access for subscriptions, the delivery queue, and
// the notification history log.
type Repository interface {
	// Subscription registry
	UpsertSubscription(ctx context.Context, sub *domain.Subscription) error
	DisableSubscription(ctx context.Context, id string) error
	DeleteSubscription(ctx context.Context, userID, endpoint string) error
	ListEnabledSubscriptions(ctx context.Context, userID string) ([]domain.Subscription, error)
	ListUserSubscriptions(ctx context.Context, userID string) ([]domain.Subscription, error)

	// Delivery queue
	Enqueue(ctx context.Context, n *domain.QueuedNotification) error
	EnqueueBatch(ctx context.Context, ns []*domain.QueuedNotification) error
	// ClaimPending atomically moves up to limit of the oldest pending rows to
	// processing and increments their attempts counter in the same statement,
	// so two concurrent passes can never claim the same row. Rows younger
	// than retryDelay since their last attempt are left alone.
	ClaimPending(ctx context.Context, limit int, retryDelay time.Duration) ([]*domain.QueuedNotification, error)
	MarkSent(ctx context.Context, id string) error
	MarkPending(ctx context.Context, id, errMsg string) error
	MarkFailed(ctx context.Context, id, errMsg string) error
	// ReleasePending reverts a processing row and refunds the attempt the
	// claim charged, for passes where no delivery was attempted at all.
	ReleasePending(ctx context.Context, id, errMsg string) error
	GetNotification(ctx context.Context, id string) (*domain.QueuedNotification, error)
	RecoverStuck(ctx context.Context, olderThan time.Duration) (int64, error)
	DeleteOldSent(ctx context.Context, olderThan time.Duration) (int64, error)
	QueueStats(ctx context.Context) (*QueueStats, error)

	// History log
	RecordLog(ctx context.Context, entry *domain.NotificationLogEntry) error
	ListLog(ctx context.Context, userID string, limit int) ([]domain.NotificationLogEntry, error)
}

// MembershipStore resolves team and broadcast targets to user ids. The
// membership data is owned by the surrounding application.
type MembershipStore interface {
	ListTeamMemberIDs(ctx context.Context, teamID string) ([]string, error)
	ListAllUserIDs(ctx context.Context) ([]string, error)
}

// Sender delivers one payload to one subscription and classifies the
// provider's response. Implementations must not touch storage: acting on a
// permanent failure is the caller's job.
type Sender interface {
	Send(ctx context.Context, sub domain.Subscription, payload domain.NotificationPayload) domain.DeliveryOutcome
}

// QueueStats holds queue size by status.
type QueueStats struct {
	Pending    int64
	Processing int64
	Sent       int64
	Failed     int64
}
