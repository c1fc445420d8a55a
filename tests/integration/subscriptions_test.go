//go:build integration

package integration

import (
	"context"
	"net/http"
	"testing"

	"github.com/pushgarden/pushgarden/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVAPIDPublicKey_NoAuthRequired(t *testing.T) {
	resp, err := testClient.GET("/api/v1/push/vapid-public-key")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	testutil.DecodeJSON(t, resp, &body)
	assert.NotEmpty(t, body["public_key"])
}

func TestSubscriptions_RequireAuth(t *testing.T) {
	resp, err := testClient.GET("/api/v1/push/subscriptions")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSubscribe_AndList(t *testing.T) {
	cleanTables(t)
	userID := uniqueID("user")

	subscribe(t, userID, uniqueID("device"), http.StatusCreated)

	client := clientFor(t, userID, false)
	resp, err := client.GET("/api/v1/push/subscriptions")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope struct {
		Data []struct {
			ID       string `json:"id"`
			Endpoint string `json:"endpoint"`
			Enabled  bool   `json:"enabled"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &envelope)

	require.Len(t, envelope.Data, 1)
	assert.True(t, envelope.Data[0].Enabled)
	assert.NotEmpty(t, envelope.Data[0].ID)
}

func TestSubscribe_SameEndpointUpserts(t *testing.T) {
	cleanTables(t)
	userID := uniqueID("user")
	name := uniqueID("device")

	endpoint := subscribe(t, userID, name, http.StatusCreated)

	// Second registration of the same endpoint must not create a row.
	client := clientFor(t, userID, false)
	resp, err := client.POST("/api/v1/push/subscriptions", map[string]any{
		"endpoint": endpoint,
		"keys":     subscriptionKeys(t),
	})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var count int
	err = testDB.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM push_subscriptions WHERE user_id = $1`, userID).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSubscribe_ResubscribeRevivesDisabled(t *testing.T) {
	cleanTables(t)
	userID := uniqueID("user")
	name := uniqueID("device")

	endpoint := subscribe(t, userID, name, http.StatusCreated)

	_, err := testDB.Exec(context.Background(),
		`UPDATE push_subscriptions SET enabled = FALSE WHERE endpoint = $1`, endpoint)
	require.NoError(t, err)

	client := clientFor(t, userID, false)
	resp, err := client.POST("/api/v1/push/subscriptions", map[string]any{
		"endpoint": endpoint,
		"keys":     subscriptionKeys(t),
	})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	assert.True(t, subscriptionEnabled(t, endpoint))
}

func TestSubscribe_RejectsInvalidBody(t *testing.T) {
	client := clientFor(t, uniqueID("user"), false)

	resp, err := client.POST("/api/v1/push/subscriptions", map[string]any{
		"endpoint": "not-a-url",
		"keys":     map[string]string{"p256dh": "x", "auth": "y"},
	})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnsubscribe(t *testing.T) {
	cleanTables(t)
	userID := uniqueID("user")

	endpoint := subscribe(t, userID, uniqueID("device"), http.StatusCreated)

	client := clientFor(t, userID, false)
	resp, err := client.DELETEWithBody("/api/v1/push/subscriptions", map[string]string{
		"endpoint": endpoint,
	})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	var count int
	err = testDB.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM push_subscriptions WHERE user_id = $1`, userID).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestUnsubscribe_UnknownEndpoint(t *testing.T) {
	client := clientFor(t, uniqueID("user"), false)

	resp, err := client.DELETEWithBody("/api/v1/push/subscriptions", map[string]string{
		"endpoint": "https://push.example.com/never-registered",
	})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUnsubscribe_DoesNotTouchOtherUsers(t *testing.T) {
	cleanTables(t)
	name := uniqueID("shared-device")
	userA := uniqueID("user-a")
	userB := uniqueID("user-b")

	endpoint := subscribe(t, userA, name, http.StatusCreated)

	// Same endpoint registered by another user stays untouched.
	clientB := clientFor(t, userB, false)
	resp, err := clientB.POST("/api/v1/push/subscriptions", map[string]any{
		"endpoint": endpoint,
		"keys":     subscriptionKeys(t),
	})
	require.NoError(t, err)
	_ = resp.Body.Close()

	clientA := clientFor(t, userA, false)
	resp, err = clientA.DELETEWithBody("/api/v1/push/subscriptions", map[string]string{
		"endpoint": endpoint,
	})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	var count int
	err = testDB.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM push_subscriptions WHERE user_id = $1`, userB).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
