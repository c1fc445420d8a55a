package domain

import (
	"encoding/json"
	"time"
)

// NotificationStatus is the lifecycle state of a queued notification.
type NotificationStatus string

// Queue statuses. Status only moves forward: pending -> processing ->
// sent/failed, with processing -> pending allowed while retry budget remains.
// Sent and failed are terminal.
const (
	StatusPending    NotificationStatus = "pending"
	StatusProcessing NotificationStatus = "processing"
	StatusSent       NotificationStatus = "sent"
	StatusFailed     NotificationStatus = "failed"
)

// NotificationPayload is the message handed to the push provider, serialized
// as-is into the encrypted request body.
type NotificationPayload struct {
	Title string          `json:"title" validate:"required"`
	Body  string          `json:"body" validate:"required"`
	Icon  string          `json:"icon,omitempty"`
	Badge string          `json:"badge,omitempty"`
	Tag   string          `json:"tag,omitempty"`
	URL   string          `json:"url,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// QueuedNotification is one durable, retry-tracked delivery request. Attempts
// is incremented when the row is claimed, before any send happens, so delivery
// is at-least-once: a crash between a successful send and the status write
// replays the notification on the next pass.
type QueuedNotification struct {
	ID           string              `json:"id"`
	UserID       string              `json:"user_id"`
	Payload      NotificationPayload `json:"payload"`
	Status       NotificationStatus  `json:"status"`
	Attempts     int                 `json:"attempts"`
	ErrorMessage string              `json:"error_message,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	ProcessedAt  *time.Time          `json:"processed_at,omitempty"`
	SentAt       *time.Time          `json:"sent_at,omitempty"`
}

// DeliveryResult classifies a single provider response.
type DeliveryResult string

// Delivery results. Permanent failures mean the subscription itself is dead
// (provider returned 410 or 400) and must be disabled; transient failures
// leave the subscription alone and are retried at notification granularity.
const (
	DeliverySuccess          DeliveryResult = "success"
	DeliveryTransientFailure DeliveryResult = "transient_failure"
	DeliveryPermanentFailure DeliveryResult = "permanent_failure"
)

// DeliveryOutcome is the per-subscription result of one send attempt. It is
// never persisted on its own; it is folded into the owning notification's
// aggregate result and, on permanent failure, into a subscription disable.
type DeliveryOutcome struct {
	SubscriptionID string
	Result         DeliveryResult
	Reason         string
}

// NotificationLogEntry is a lightweight user-visible history record written
// by the immediate dispatch path, separate from the retry queue.
type NotificationLogEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Sent      int       `json:"sent"`
	Failed    int       `json:"failed"`
	Total     int       `json:"total"`
	CreatedAt time.Time `json:"created_at"`
}
