package push

import (
	"context"
	"sync"
	"time"

	"github.com/pushgarden/pushgarden/internal/domain"
)

// mockRepository implements Repository and MembershipStore for testing.
type mockRepository struct {
	mu sync.Mutex

	subscriptions map[string][]domain.Subscription // by user id
	claimed       []*domain.QueuedNotification
	enqueued      []*domain.QueuedNotification
	logEntries    []domain.NotificationLogEntry
	disabled      []string
	teamMembers   map[string][]string
	allUsers      []string

	sentIDs     []string
	pendingIDs  []string
	failedIDs   []string
	releasedIDs []string
	lastError   map[string]string // notification id -> error message

	listErr    error
	claimErr   error
	upsertErr  error
	disableErr error
	logErr     error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		subscriptions: make(map[string][]domain.Subscription),
		teamMembers:   make(map[string][]string),
		lastError:     make(map[string]string),
	}
}

func (m *mockRepository) UpsertSubscription(_ context.Context, sub *domain.Subscription) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sub.ID = "sub-" + sub.Endpoint
	sub.Enabled = true
	m.subscriptions[sub.UserID] = append(m.subscriptions[sub.UserID], *sub)
	return nil
}

func (m *mockRepository) DisableSubscription(_ context.Context, id string) error {
	if m.disableErr != nil {
		return m.disableErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled = append(m.disabled, id)
	return nil
}

func (m *mockRepository) DeleteSubscription(_ context.Context, userID, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscriptions[userID]
	for i, sub := range subs {
		if sub.Endpoint == endpoint {
			m.subscriptions[userID] = append(subs[:i], subs[i+1:]...)
			return nil
		}
	}
	return ErrSubscriptionNotFound
}

func (m *mockRepository) ListEnabledSubscriptions(_ context.Context, userID string) ([]domain.Subscription, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	enabled := make([]domain.Subscription, 0)
	for _, sub := range m.subscriptions[userID] {
		if sub.Enabled {
			enabled = append(enabled, sub)
		}
	}
	return enabled, nil
}

func (m *mockRepository) ListUserSubscriptions(_ context.Context, userID string) ([]domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscriptions[userID], nil
}

func (m *mockRepository) Enqueue(_ context.Context, n *domain.QueuedNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.ID = "queued"
	n.Status = domain.StatusPending
	m.enqueued = append(m.enqueued, n)
	return nil
}

func (m *mockRepository) EnqueueBatch(_ context.Context, ns []*domain.QueuedNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range ns {
		n.Status = domain.StatusPending
	}
	m.enqueued = append(m.enqueued, ns...)
	return nil
}

func (m *mockRepository) ClaimPending(_ context.Context, limit int, _ time.Duration) ([]*domain.QueuedNotification, error) {
	if m.claimErr != nil {
		return nil, m.claimErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.claimed) > limit {
		return m.claimed[:limit], nil
	}
	return m.claimed, nil
}

func (m *mockRepository) MarkSent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentIDs = append(m.sentIDs, id)
	return nil
}

func (m *mockRepository) MarkPending(_ context.Context, id, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingIDs = append(m.pendingIDs, id)
	m.lastError[id] = errMsg
	return nil
}

func (m *mockRepository) ReleasePending(_ context.Context, id, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releasedIDs = append(m.releasedIDs, id)
	m.lastError[id] = errMsg
	return nil
}

func (m *mockRepository) MarkFailed(_ context.Context, id, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failedIDs = append(m.failedIDs, id)
	m.lastError[id] = errMsg
	return nil
}

func (m *mockRepository) GetNotification(_ context.Context, _ string) (*domain.QueuedNotification, error) {
	return nil, ErrNotificationNotFound
}

func (m *mockRepository) RecoverStuck(_ context.Context, _ time.Duration) (int64, error) {
	return 0, nil
}

func (m *mockRepository) DeleteOldSent(_ context.Context, _ time.Duration) (int64, error) {
	return 0, nil
}

func (m *mockRepository) QueueStats(_ context.Context) (*QueueStats, error) {
	return &QueueStats{}, nil
}

func (m *mockRepository) RecordLog(_ context.Context, entry *domain.NotificationLogEntry) error {
	if m.logErr != nil {
		return m.logErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logEntries = append(m.logEntries, *entry)
	return nil
}

func (m *mockRepository) ListLog(_ context.Context, userID string, _ int) ([]domain.NotificationLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]domain.NotificationLogEntry, 0)
	for _, e := range m.logEntries {
		if e.UserID == userID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (m *mockRepository) ListTeamMemberIDs(_ context.Context, teamID string) ([]string, error) {
	return m.teamMembers[teamID], nil
}

func (m *mockRepository) ListAllUserIDs(_ context.Context) ([]string, error) {
	return m.allUsers, nil
}

func (m *mockRepository) addSubscription(userID, id string) {
	m.subscriptions[userID] = append(m.subscriptions[userID], domain.Subscription{
		ID:        id,
		UserID:    userID,
		Endpoint:  "https://push.example.com/" + id,
		P256dhKey: "p256dh",
		AuthKey:   "auth",
		Enabled:   true,
	})
}

// mockSender returns a configured outcome per subscription id and records
// which subscriptions it was invoked for.
type mockSender struct {
	mu       sync.Mutex
	outcomes map[string]domain.DeliveryOutcome
	calls    []string
}

func newMockSender() *mockSender {
	return &mockSender{outcomes: make(map[string]domain.DeliveryOutcome)}
}

func (m *mockSender) Send(_ context.Context, sub domain.Subscription, _ domain.NotificationPayload) domain.DeliveryOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, sub.ID)
	if outcome, ok := m.outcomes[sub.ID]; ok {
		return outcome
	}
	return domain.DeliveryOutcome{SubscriptionID: sub.ID, Result: domain.DeliverySuccess}
}

func (m *mockSender) succeed(subID string) {
	m.outcomes[subID] = domain.DeliveryOutcome{SubscriptionID: subID, Result: domain.DeliverySuccess}
}

func (m *mockSender) failTransient(subID, reason string) {
	m.outcomes[subID] = domain.DeliveryOutcome{
		SubscriptionID: subID,
		Result:         domain.DeliveryTransientFailure,
		Reason:         reason,
	}
}

func (m *mockSender) failPermanent(subID, reason string) {
	m.outcomes[subID] = domain.DeliveryOutcome{
		SubscriptionID: subID,
		Result:         domain.DeliveryPermanentFailure,
		Reason:         reason,
	}
}

func (m *mockSender) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
