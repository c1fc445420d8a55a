package push

import (
	"context"
	"errors"
	"testing"

	"github.com/pushgarden/pushgarden/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_Subscribe(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo)

	sub, err := service.Subscribe(context.Background(), "user-1",
		"https://push.example.com/abc", "p256dh-key", "auth-secret", "Mozilla/5.0")
	require.NoError(t, err)

	assert.NotEmpty(t, sub.ID)
	assert.True(t, sub.Enabled)
	assert.Equal(t, "user-1", sub.UserID)
}

func TestService_Subscribe_MissingFields(t *testing.T) {
	service := NewService(newMockRepository())

	tests := []struct {
		name     string
		endpoint string
		p256dh   string
		auth     string
	}{
		{"no endpoint", "", "key", "auth"},
		{"no p256dh", "https://push.example.com/abc", "", "auth"},
		{"no auth", "https://push.example.com/abc", "key", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Subscribe(context.Background(), "user-1", tt.endpoint, tt.p256dh, tt.auth, "")
			assert.ErrorIs(t, err, ErrInvalidSubscription)
		})
	}
}

func TestService_Unsubscribe_NotFound(t *testing.T) {
	service := NewService(newMockRepository())

	err := service.Unsubscribe(context.Background(), "user-1", "https://push.example.com/gone")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestService_DisableDead(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo)

	outcomes := []domain.DeliveryOutcome{
		{SubscriptionID: "sub-a", Result: domain.DeliverySuccess},
		{SubscriptionID: "sub-b", Result: domain.DeliveryPermanentFailure, Reason: "subscription expired"},
		{SubscriptionID: "sub-c", Result: domain.DeliveryTransientFailure, Reason: "status 500"},
		{SubscriptionID: "sub-d", Result: domain.DeliveryPermanentFailure, Reason: "invalid subscription"},
	}

	disabled := service.DisableDead(context.Background(), outcomes)

	assert.Equal(t, 2, disabled)
	assert.Equal(t, []string{"sub-b", "sub-d"}, repo.disabled)
}

func TestService_DisableDead_ErrorsAreLoggedNotReturned(t *testing.T) {
	repo := newMockRepository()
	repo.disableErr = errors.New("connection refused")
	service := NewService(repo)

	disabled := service.DisableDead(context.Background(), []domain.DeliveryOutcome{
		{SubscriptionID: "sub-a", Result: domain.DeliveryPermanentFailure},
	})

	assert.Equal(t, 0, disabled)
}

func TestService_History_ClampsLimit(t *testing.T) {
	repo := newMockRepository()
	repo.logEntries = []domain.NotificationLogEntry{{UserID: "user-1", Title: "hi"}}
	service := NewService(repo)

	entries, err := service.History(context.Background(), "user-1", -5)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
