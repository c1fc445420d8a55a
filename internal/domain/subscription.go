package domain

import "time"

// Subscription is a browser-issued push endpoint plus its encryption keys,
// representing one opted-in device for one recipient. A disabled subscription
// is a soft-delete: the row stays, but no delivery ever targets it again
// until a new upsert for the same (user, endpoint) pair re-enables it.
type Subscription struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Endpoint string `json:"endpoint"`
	// The encryption keys never leave the service through the API.
	P256dhKey string    `json:"-"`
	AuthKey   string    `json:"-"`
	UserAgent string    `json:"user_agent,omitempty"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
