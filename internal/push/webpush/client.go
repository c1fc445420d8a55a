// Package webpush sends VAPID-signed messages via the Web Push protocol and
// classifies provider responses into delivery outcomes.
package webpush

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/pushgarden/pushgarden/internal/domain"
)

const (
	defaultTTL     = 60
	defaultTimeout = 10 * time.Second

	// maxErrorBodyLen bounds how much of a provider error body ends up in
	// logs and error messages.
	maxErrorBodyLen = 256
)

// Config holds the immutable signing and transport settings. It is built
// once at startup and passed in; delivery logic never reads ambient state.
type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
	TTL             int
	Timeout         time.Duration
}

// Client sends one encrypted push message per call. It is a pure classifier:
// it never mutates storage, the caller decides what a permanent failure
// means for the subscription.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a web push client.
// Returns an error if the VAPID key pair is missing.
func NewClient(config Config) (*Client, error) {
	if config.VAPIDPublicKey == "" || config.VAPIDPrivateKey == "" {
		return nil, errors.New("webpush client: VAPID key pair is required")
	}
	if config.TTL == 0 {
		config.TTL = defaultTTL
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// Send delivers the payload to one subscription and classifies the result.
// Transport errors and exceeded timeouts are transient; a provider 410 or
// 400 marks the subscription as permanently dead.
func (c *Client) Send(ctx context.Context, sub domain.Subscription, payload domain.NotificationPayload) domain.DeliveryOutcome {
	message, err := json.Marshal(payload)
	if err != nil {
		return domain.DeliveryOutcome{
			SubscriptionID: sub.ID,
			Result:         domain.DeliveryTransientFailure,
			Reason:         fmt.Sprintf("marshal payload: %v", err),
		}
	}

	resp, err := webpush.SendNotificationWithContext(ctx, message, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}, &webpush.Options{
		HTTPClient:      c.httpClient,
		Subscriber:      c.config.Subscriber,
		VAPIDPublicKey:  c.config.VAPIDPublicKey,
		VAPIDPrivateKey: c.config.VAPIDPrivateKey,
		TTL:             c.config.TTL,
	})
	if err != nil {
		return domain.DeliveryOutcome{
			SubscriptionID: sub.ID,
			Result:         domain.DeliveryTransientFailure,
			Reason:         err.Error(),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	return c.classify(sub.ID, resp)
}

func (c *Client) classify(subscriptionID string, resp *http.Response) domain.DeliveryOutcome {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return domain.DeliveryOutcome{
			SubscriptionID: subscriptionID,
			Result:         domain.DeliverySuccess,
		}

	case resp.StatusCode == http.StatusGone:
		return domain.DeliveryOutcome{
			SubscriptionID: subscriptionID,
			Result:         domain.DeliveryPermanentFailure,
			Reason:         "subscription expired",
		}

	case resp.StatusCode == http.StatusBadRequest:
		return domain.DeliveryOutcome{
			SubscriptionID: subscriptionID,
			Result:         domain.DeliveryPermanentFailure,
			Reason:         "invalid subscription",
		}

	default:
		return domain.DeliveryOutcome{
			SubscriptionID: subscriptionID,
			Result:         domain.DeliveryTransientFailure,
			Reason:         fmt.Sprintf("provider status %d: %s", resp.StatusCode, readErrorBody(resp.Body)),
		}
	}
}

func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodyLen))
	if err != nil {
		return ""
	}
	return string(body)
}
