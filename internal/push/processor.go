package push

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pushgarden/pushgarden/internal/domain"
)

// ProcessorConfig contains queue processor settings.
type ProcessorConfig struct {
	// BatchSize caps how many rows one pass claims; a large backlog takes
	// several trigger invocations to drain.
	BatchSize int
	// MaxAttempts bounds retries per notification, counting the first try.
	MaxAttempts int
	// RetryDelay is the minimum age since the last attempt before a
	// reverted row is claimed again. Zero means retries are spaced only by
	// the external trigger's cadence.
	RetryDelay time.Duration
}

// DefaultProcessorConfig returns default processor configuration.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		BatchSize:   10,
		MaxAttempts: 3,
		RetryDelay:  0,
	}
}

// ProcessStats summarizes one processor pass.
type ProcessStats struct {
	Claimed int
	Sent    int
	Retried int
	Failed  int
}

// Processor drains pending queued notifications to a terminal state with
// bounded retries. It runs one pass per call; cadence belongs to the
// external trigger, there is no internal loop.
type Processor struct {
	config    ProcessorConfig
	repo      Repository
	sender    Sender
	lifecycle *Service
}

// NewProcessor creates a queue processor.
func NewProcessor(config ProcessorConfig, repo Repository, sender Sender, lifecycle *Service) *Processor {
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	return &Processor{
		config:    config,
		repo:      repo,
		sender:    sender,
		lifecycle: lifecycle,
	}
}

// ProcessPending runs one pass over the queue. The claim both marks rows
// processing and increments attempts before any send happens: delivery is
// at-least-once, and a crash mid-pass leaves rows in processing until
// RecoverStuck returns them.
func (p *Processor) ProcessPending(ctx context.Context) (ProcessStats, error) {
	var stats ProcessStats

	items, err := p.repo.ClaimPending(ctx, p.config.BatchSize, p.config.RetryDelay)
	if err != nil {
		return stats, fmt.Errorf("claim pending notifications: %w", err)
	}
	stats.Claimed = len(items)

	if len(items) == 0 {
		return stats, nil
	}

	slog.Debug("processing queued notifications", "count", len(items))

	for _, item := range items {
		switch p.processItem(ctx, item) {
		case domain.StatusSent:
			stats.Sent++
		case domain.StatusPending:
			stats.Retried++
		case domain.StatusFailed:
			stats.Failed++
		}
	}

	return stats, nil
}

// processItem fans one claimed notification out to all enabled subscriptions
// and returns the status the row was moved to.
func (p *Processor) processItem(ctx context.Context, item *domain.QueuedNotification) domain.NotificationStatus {
	start := time.Now()

	subs, err := p.repo.ListEnabledSubscriptions(ctx, item.UserID)
	if err != nil {
		// No delivery was attempted, so the pass must not count against the
		// retry bound: release the row and refund the claimed attempt.
		slog.Error("failed to list subscriptions", "notification_id", item.ID, "error", err)
		if err := p.repo.ReleasePending(ctx, item.ID, fmt.Sprintf("list subscriptions: %v", err)); err != nil {
			slog.Error("failed to release for retry", "notification_id", item.ID, "error", err)
		}
		recordProcessed("released")
		return domain.StatusPending
	}

	// Nothing to deliver counts as delivered; the client is never invoked.
	if len(subs) == 0 {
		if err := p.repo.MarkSent(ctx, item.ID); err != nil {
			slog.Error("failed to mark as sent", "notification_id", item.ID, "error", err)
		}
		recordProcessed("sent_vacuous")
		slog.Debug("no enabled subscriptions, vacuous success",
			"notification_id", item.ID,
			"user_id", item.UserID,
		)
		return domain.StatusSent
	}

	outcomes := fanOut(ctx, p.sender, subs, item.Payload)
	recordFanoutDuration(time.Since(start))

	p.lifecycle.DisableDead(ctx, outcomes)

	successes := countSuccesses(outcomes)
	if successes >= 1 {
		// Partial delivery to some devices is overall success.
		if err := p.repo.MarkSent(ctx, item.ID); err != nil {
			slog.Error("failed to mark as sent", "notification_id", item.ID, "error", err)
		}
		recordProcessed("sent")
		slog.Debug("notification sent",
			"notification_id", item.ID,
			"delivered", successes,
			"total", len(subs),
			"attempt", item.Attempts,
		)
		return domain.StatusSent
	}

	return p.settleFailure(ctx, item, summarizeFailure(outcomes))
}

// settleFailure reverts the row to pending while retry budget remains,
// otherwise marks it failed.
func (p *Processor) settleFailure(ctx context.Context, item *domain.QueuedNotification, reason string) domain.NotificationStatus {
	if item.Attempts < p.config.MaxAttempts {
		if err := p.repo.MarkPending(ctx, item.ID, reason); err != nil {
			slog.Error("failed to mark for retry", "notification_id", item.ID, "error", err)
		}
		recordProcessed("retry")
		slog.Warn("delivery failed, will retry",
			"notification_id", item.ID,
			"attempt", item.Attempts,
			"max_attempts", p.config.MaxAttempts,
			"reason", reason,
		)
		return domain.StatusPending
	}

	if err := p.repo.MarkFailed(ctx, item.ID, reason); err != nil {
		slog.Error("failed to mark as failed", "notification_id", item.ID, "error", err)
	}
	recordProcessed("failed")
	slog.Warn("delivery failed permanently",
		"notification_id", item.ID,
		"attempts", item.Attempts,
		"reason", reason,
	)
	return domain.StatusFailed
}

// RecoverStuck returns rows stuck in processing longer than olderThan to
// pending. Covers crashes between claim and settle.
func (p *Processor) RecoverStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := p.repo.RecoverStuck(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("recover stuck notifications: %w", err)
	}
	if n > 0 {
		slog.Info("recovered stuck notifications", "count", n)
	}
	return n, nil
}

// DeleteOldSent prunes terminal sent rows older than olderThan.
func (p *Processor) DeleteOldSent(ctx context.Context, olderThan time.Duration) (int64, error) {
	return p.repo.DeleteOldSent(ctx, olderThan)
}

func summarizeFailure(outcomes []domain.DeliveryOutcome) string {
	lastReason := ""
	for _, o := range outcomes {
		if o.Reason != "" {
			lastReason = o.Reason
		}
	}
	if lastReason == "" {
		return fmt.Sprintf("all %d subscriptions failed", len(outcomes))
	}
	return fmt.Sprintf("all %d subscriptions failed: %s", len(outcomes), lastReason)
}
