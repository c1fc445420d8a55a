//go:build integration

package integration

import (
	"bytes"
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pushgarden/pushgarden/internal/testutil"
	"github.com/stretchr/testify/require"
)

// fakeProvider emulates a Web Push provider. Each registered endpoint path
// gets its own response status, and deliveries are recorded per path.
type fakeProvider struct {
	server *httptest.Server

	mu         sync.Mutex
	statuses   map[string]int
	deliveries map[string]int
}

func newFakeProvider() *fakeProvider {
	p := &fakeProvider{
		statuses:   make(map[string]int),
		deliveries: make(map[string]int),
	}
	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.deliveries[r.URL.Path]++

		status, ok := p.statuses[r.URL.Path]
		if !ok {
			status = http.StatusCreated
		}
		w.WriteHeader(status)
	}))
	return p
}

func (p *fakeProvider) Close() {
	p.server.Close()
}

// Endpoint registers a push endpoint that answers with the given status and
// returns its full URL.
func (p *fakeProvider) Endpoint(name string, status int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	path := "/push/" + name
	p.statuses[path] = status
	return p.server.URL + path
}

// Deliveries returns how many pushes the named endpoint received.
func (p *fakeProvider) Deliveries(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deliveries["/push/"+name]
}

// SetStatus changes the response status of an already registered endpoint.
func (p *fakeProvider) SetStatus(name string, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses["/push/"+name] = status
}

// subscriptionKeys returns a browser-shaped keys object backed by a real
// P-256 key pair, so payload encryption in the delivery client succeeds.
func subscriptionKeys(t *testing.T) map[string]string {
	t.Helper()

	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)

	authSecret := make([]byte, 16)
	_, err = rand.Read(authSecret)
	require.NoError(t, err)

	return map[string]string{
		"p256dh": base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		"auth":   base64.RawURLEncoding.EncodeToString(authSecret),
	}
}

// clientFor returns a test client authenticated as the given user.
func clientFor(t *testing.T, userID string, admin bool) *testutil.Client {
	t.Helper()

	token, err := testAuth.GenerateToken(userID, admin, time.Hour)
	require.NoError(t, err)
	return testClient.AuthAs(token)
}

// subscribe registers a push endpoint for the user through the API.
func subscribe(t *testing.T, userID, endpointName string, providerStatus int) string {
	t.Helper()

	endpoint := pushProvider.Endpoint(endpointName, providerStatus)
	client := clientFor(t, userID, false)

	resp, err := client.POST("/api/v1/push/subscriptions", map[string]any{
		"endpoint": endpoint,
		"keys":     subscriptionKeys(t),
	})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	return endpoint
}

// createUser inserts a user row for target resolution.
func createUser(t *testing.T, userID string) {
	t.Helper()

	_, err := testDB.Exec(context.Background(),
		`INSERT INTO users (id) VALUES ($1) ON CONFLICT DO NOTHING`, userID)
	require.NoError(t, err)
}

// addTeamMember inserts a team membership row.
func addTeamMember(t *testing.T, teamID, userID string) {
	t.Helper()

	createUser(t, userID)
	_, err := testDB.Exec(context.Background(),
		`INSERT INTO team_members (team_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		teamID, userID)
	require.NoError(t, err)
}

// cleanTables wipes mutable state between tests.
func cleanTables(t *testing.T) {
	t.Helper()

	_, err := testDB.Exec(context.Background(),
		`TRUNCATE push_subscriptions, notification_queue, notification_log, team_members, users`)
	require.NoError(t, err)
}

// runCron triggers one queue processor pass with the cron secret.
func runCron(t *testing.T) *http.Response {
	t.Helper()

	req, err := http.NewRequest("GET", testServer.URL+"/cron/push-notifications", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testCronSecret)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// queueRow reads status, attempts and error message of the single queue row
// for the user.
func queueRow(t *testing.T, userID string) (status string, attempts int, errMsg string) {
	t.Helper()

	err := testDB.QueryRow(context.Background(),
		`SELECT status, attempts, error_message FROM notification_queue WHERE user_id = $1`,
		userID).Scan(&status, &attempts, &errMsg)
	require.NoError(t, err)
	return status, attempts, errMsg
}

// enqueueForUser creates one pending queue row directly.
func enqueueForUser(t *testing.T, userID, title, body string) string {
	t.Helper()

	var id string
	err := testDB.QueryRow(context.Background(),
		`INSERT INTO notification_queue (user_id, title, body) VALUES ($1, $2, $3) RETURNING id`,
		userID, title, body).Scan(&id)
	require.NoError(t, err)
	return id
}

// subscriptionEnabled reads the enabled flag of a subscription by endpoint.
func subscriptionEnabled(t *testing.T, endpoint string) bool {
	t.Helper()

	var enabled bool
	err := testDB.QueryRow(context.Background(),
		`SELECT enabled FROM push_subscriptions WHERE endpoint = $1`, endpoint).Scan(&enabled)
	require.NoError(t, err)
	return enabled
}

// jsonBody marshals v into a request body reader.
func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

// uniqueID makes test-scoped ids collision free across the suite.
var uniqueCounter int

func uniqueID(prefix string) string {
	uniqueCounter++
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), uniqueCounter)
}
