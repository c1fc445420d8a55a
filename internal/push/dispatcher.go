package push

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pushgarden/pushgarden/internal/domain"
)

// DispatchResult is the aggregate outcome of one synchronous send.
// Total == 0 means the user has no active subscriptions, which is an
// expected empty result, not an error.
type DispatchResult struct {
	Success  bool `json:"success"`
	Sent     int  `json:"sent"`
	Failed   int  `json:"failed"`
	Disabled int  `json:"disabled"`
	Total    int  `json:"total"`
}

// Dispatcher is the synchronous send path for interactive actions. It
// bypasses the queue entirely: no retries, no attempt bookkeeping, only a
// history log entry.
type Dispatcher struct {
	repo        Repository
	sender      Sender
	lifecycle   *Service
	concurrency int
}

// NewDispatcher creates an immediate dispatcher. concurrency bounds how many
// users a batch dispatch works on at once.
func NewDispatcher(repo Repository, sender Sender, lifecycle *Service, concurrency int) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 10
	}
	return &Dispatcher{
		repo:        repo,
		sender:      sender,
		lifecycle:   lifecycle,
		concurrency: concurrency,
	}
}

// DispatchToUser fans the payload out to every enabled subscription of one
// user, disables the permanently dead ones, and records a history entry
// regardless of outcome.
func (d *Dispatcher) DispatchToUser(ctx context.Context, userID string, payload domain.NotificationPayload) (DispatchResult, error) {
	subs, err := d.repo.ListEnabledSubscriptions(ctx, userID)
	if err != nil {
		return DispatchResult{}, err
	}

	var result DispatchResult
	result.Total = len(subs)

	if len(subs) > 0 {
		start := time.Now()
		outcomes := fanOut(ctx, d.sender, subs, payload)
		recordFanoutDuration(time.Since(start))

		result.Disabled = d.lifecycle.DisableDead(ctx, outcomes)
		result.Sent = countSuccesses(outcomes)
		result.Failed = result.Total - result.Sent
		result.Success = result.Sent > 0
	}

	d.recordHistory(ctx, userID, payload, result)

	slog.Info("immediate dispatch",
		"user_id", userID,
		"sent", result.Sent,
		"failed", result.Failed,
		"disabled", result.Disabled,
		"total", result.Total,
	)

	return result, nil
}

// DispatchToUsers dispatches to each user in bounded parallel batches and
// returns how many users received at least one successful push, not the
// audience size.
func (d *Dispatcher) DispatchToUsers(ctx context.Context, userIDs []string, payload domain.NotificationPayload) int {
	var reached atomic.Int64

	for start := 0; start < len(userIDs); start += d.concurrency {
		end := min(start+d.concurrency, len(userIDs))
		batch := userIDs[start:end]

		var wg sync.WaitGroup
		for _, userID := range batch {
			wg.Add(1)
			go func(userID string) {
				defer wg.Done()
				result, err := d.DispatchToUser(ctx, userID, payload)
				if err != nil {
					slog.Error("batch dispatch failed for user", "user_id", userID, "error", err)
					return
				}
				if result.Sent > 0 {
					reached.Add(1)
				}
			}(userID)
		}
		wg.Wait()
	}

	return int(reached.Load())
}

// recordHistory writes the user-visible log entry. Best effort: a history
// write failure never fails the dispatch itself.
func (d *Dispatcher) recordHistory(ctx context.Context, userID string, payload domain.NotificationPayload, result DispatchResult) {
	entry := &domain.NotificationLogEntry{
		UserID: userID,
		Title:  payload.Title,
		Body:   payload.Body,
		Sent:   result.Sent,
		Failed: result.Failed,
		Total:  result.Total,
	}
	if err := d.repo.RecordLog(ctx, entry); err != nil {
		slog.Error("failed to record notification log", "user_id", userID, "error", err)
	}
}
