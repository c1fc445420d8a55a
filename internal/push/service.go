package push

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pushgarden/pushgarden/internal/domain"
)

// Service manages the subscription registry and the lifecycle of dead
// subscriptions.
type Service struct {
	repo Repository
}

// NewService creates a new subscription service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Subscribe registers or refreshes a device subscription. Repeated calls
// with the same (user, endpoint) pair update the keys and re-enable the row.
func (s *Service) Subscribe(ctx context.Context, userID, endpoint, p256dh, auth, userAgent string) (*domain.Subscription, error) {
	if endpoint == "" || p256dh == "" || auth == "" {
		return nil, ErrInvalidSubscription
	}

	sub := &domain.Subscription{
		UserID:    userID,
		Endpoint:  endpoint,
		P256dhKey: p256dh,
		AuthKey:   auth,
		UserAgent: userAgent,
		Enabled:   true,
	}

	if err := s.repo.UpsertSubscription(ctx, sub); err != nil {
		return nil, err
	}

	slog.Debug("subscription upserted", "user_id", userID, "subscription_id", sub.ID)
	return sub, nil
}

// Unsubscribe removes the device registration for an endpoint.
func (s *Service) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	return s.repo.DeleteSubscription(ctx, userID, endpoint)
}

// ListSubscriptions returns all of a user's subscriptions, disabled included.
func (s *Service) ListSubscriptions(ctx context.Context, userID string) ([]domain.Subscription, error) {
	return s.repo.ListUserSubscriptions(ctx, userID)
}

// ListEnabled returns the user's deliverable subscriptions.
func (s *Service) ListEnabled(ctx context.Context, userID string) ([]domain.Subscription, error) {
	return s.repo.ListEnabledSubscriptions(ctx, userID)
}

// History returns the user's recent notification log entries.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]domain.NotificationLogEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.ListLog(ctx, userID, limit)
}

// DisableDead disables every subscription with a permanent delivery outcome
// and returns how many were disabled. Errors are logged, never propagated:
// a failed disable must not fail the owning notification, the next delivery
// attempt will classify the subscription as dead again.
func (s *Service) DisableDead(ctx context.Context, outcomes []domain.DeliveryOutcome) int {
	disabled := 0
	for _, o := range outcomes {
		if o.Result != domain.DeliveryPermanentFailure {
			continue
		}
		if err := s.repo.DisableSubscription(ctx, o.SubscriptionID); err != nil {
			slog.Error("failed to disable dead subscription",
				"subscription_id", o.SubscriptionID,
				"reason", o.Reason,
				"error", err,
			)
			continue
		}
		disabled++
		subscriptionsDisabled.Inc()
		slog.Info("subscription disabled",
			"subscription_id", o.SubscriptionID,
			"reason", o.Reason,
		)
	}
	return disabled
}

// fanOut sends the payload to every subscription concurrently and collects
// one outcome per subscription. All sends settle: an individual failure
// never aborts the batch.
func fanOut(ctx context.Context, sender Sender, subs []domain.Subscription, payload domain.NotificationPayload) []domain.DeliveryOutcome {
	outcomes := make([]domain.DeliveryOutcome, len(subs))

	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub domain.Subscription) {
			defer wg.Done()
			outcomes[i] = sender.Send(ctx, sub, payload)
			recordOutcome(string(outcomes[i].Result))
		}(i, sub)
	}
	wg.Wait()

	return outcomes
}

func countSuccesses(outcomes []domain.DeliveryOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Result == domain.DeliverySuccess {
			n++
		}
	}
	return n
}
