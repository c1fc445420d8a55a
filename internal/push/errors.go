package push

import "errors"

// Repository errors.
var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrNotificationNotFound = errors.New("notification not found")
)

// Validation errors.
var (
	ErrInvalidSubscription = errors.New("subscription endpoint and keys are required")
	ErrInvalidTarget       = errors.New("target is missing its identifier")
)
