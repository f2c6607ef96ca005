package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mailroomd/mailroom/internal/channel"
	"github.com/mailroomd/mailroom/internal/domain"
	"github.com/mailroomd/mailroom/internal/observability"
	"github.com/mailroomd/mailroom/internal/ratelimit"
	"github.com/mailroomd/mailroom/internal/store"
	"go.uber.org/zap"
)

const (
	defaultBatchLimit  = 25
	defaultMaxAttempts = 5
	rateLimitScope     = "email"

	baseRetryDelay       = 30 * time.Second
	maxRetryDelay        = 10 * time.Minute
	maxRetryJitterMillis = 1000
)

// Dispatcher drains one batch of pending notifications per cycle: claim,
// deliver, record outcome, strictly one record at a time so a bad record
// cannot poison the rest of the batch.
type Dispatcher struct {
	store       store.Store
	channel     channel.Channel
	rateLimiter ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics

	from        string
	senderName  string
	batchLimit  int
	maxAttempts int

	now      func() time.Time
	randIntn func(n int) int
}

func NewDispatcher(
	st store.Store,
	ch channel.Channel,
	from string,
	senderName string,
	batchLimit int,
	maxAttempts int,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if ch == nil {
		return nil, fmt.Errorf("delivery channel is required")
	}
	if strings.TrimSpace(from) == "" {
		return nil, fmt.Errorf("sender address is required")
	}
	if batchLimit < 1 {
		batchLimit = defaultBatchLimit
	}
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}
	if senderName = strings.TrimSpace(senderName); senderName == "" {
		senderName = "Mailroom"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		store:       st,
		channel:     ch,
		logger:      logger,
		from:        from,
		senderName:  senderName,
		batchLimit:  batchLimit,
		maxAttempts: maxAttempts,
		now:         time.Now,
		randIntn:    rand.Intn,
	}, nil
}

// SetRateLimiter enables outbound send throttling. A nil limiter disables it.
func (d *Dispatcher) SetRateLimiter(limiter ratelimit.RateLimiter) {
	if d == nil {
		return
	}
	d.rateLimiter = limiter
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// RunCycle selects one bounded batch and processes it sequentially, returning
// the number of records considered. A selection failure aborts the cycle; any
// per-record failure is recorded and the batch continues.
func (d *Dispatcher) RunCycle(ctx context.Context) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	batch, err := d.store.SelectPending(ctx, d.batchLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to select pending notifications: %w", err)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	logger := d.logger.With(zap.String("cycleId", uuid.NewString()))
	d.metrics.AddConsidered(len(batch))

	for i := range batch {
		d.processRecord(ctx, logger, &batch[i])
	}

	return len(batch), nil
}

func (d *Dispatcher) processRecord(ctx context.Context, logger *zap.Logger, n *domain.Notification) {
	recordLogger := logger.With(zap.String("notificationId", n.ID))

	// Blank-but-present recipients pass the store filter and are screened
	// here; they resolve to skipped without a claim or a delivery attempt.
	if !n.HasRecipient() {
		d.recordOutcome(ctx, recordLogger, n.ID, n.Status, store.Outcome{Result: store.ResultSkipped})
		recordLogger.Info("notification skipped", zap.String("reason", "blank recipient"))
		return
	}

	if err := d.store.Claim(ctx, n.ID); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			d.metrics.IncClaimConflict()
			recordLogger.Info("notification claimed elsewhere, skipping")
			return
		}
		recordLogger.Error("failed to claim notification", zap.Error(err))
		return
	}

	if d.rateLimiter != nil {
		if err := d.rateLimiter.Wait(ctx, rateLimitScope); err != nil {
			// The claim expires via the reaper; the record is retried later.
			recordLogger.Error("rate limiter wait failed", zap.Error(err))
			return
		}
	}

	recipient := strings.TrimSpace(n.Recipient)
	msg := channel.Message{
		From:    d.from,
		To:      recipient,
		Subject: d.renderSubject(n),
		Body:    d.renderBody(n),
	}

	attemptNumber := n.AttemptCount + 1
	sendStart := d.now()
	sendErr := d.channel.Send(ctx, msg)
	d.metrics.ObserveSendDuration(d.now().Sub(sendStart))

	if sendErr == nil {
		d.recordOutcome(ctx, recordLogger, n.ID, domain.StatusInProgress, store.Outcome{
			Result: store.ResultSent,
			SentAt: d.now().UTC(),
		})
		recordLogger.Info("notification sent",
			zap.String("recipient", recipient),
			zap.Int("attempt", attemptNumber),
		)
		return
	}

	if channel.IsTransient(sendErr) && attemptNumber < d.maxAttempts {
		nextAttemptAt := d.now().Add(d.computeRetryDelay(attemptNumber)).UTC()
		d.recordOutcome(ctx, recordLogger, n.ID, domain.StatusInProgress, store.Outcome{
			Result:        store.ResultRetry,
			Error:         sendErr.Error(),
			AttemptCount:  attemptNumber,
			NextAttemptAt: nextAttemptAt,
		})
		recordLogger.Warn("notification delivery failed, retry scheduled",
			zap.Int("attempt", attemptNumber),
			zap.Time("nextAttemptAt", nextAttemptAt),
			zap.Error(sendErr),
		)
		return
	}

	d.recordOutcome(ctx, recordLogger, n.ID, domain.StatusInProgress, store.Outcome{
		Result:       store.ResultFailed,
		Error:        sendErr.Error(),
		AttemptCount: attemptNumber,
	})
	recordLogger.Error("notification failed",
		zap.Int("attempt", attemptNumber),
		zap.Bool("transient", channel.IsTransient(sendErr)),
		zap.Error(sendErr),
	)
}

// recordOutcome writes the status transition back after validating it against
// the lifecycle rules. A write failure is logged and swallowed: the record
// stays pending or its claim expires, so the next cycle picks it up again.
// Delivery is at-least-once, never silently lost.
func (d *Dispatcher) recordOutcome(ctx context.Context, logger *zap.Logger, id string, current domain.Status, outcome store.Outcome) {
	if next := outcome.Status(); !current.CanTransitionTo(next) {
		logger.Error("refusing invalid status transition",
			zap.String("from", current.String()),
			zap.String("to", next.String()),
		)
		return
	}

	if err := d.store.RecordOutcome(ctx, id, outcome); err != nil {
		logger.Error("failed to record outcome",
			zap.String("result", string(outcome.Result)),
			zap.Error(err),
		)
		return
	}
	d.metrics.IncOutcome(string(outcome.Result))
}

func (d *Dispatcher) renderSubject(n *domain.Notification) string {
	return fmt.Sprintf("[%s] %s", d.senderName, n.Title)
}

func (d *Dispatcher) renderBody(n *domain.Notification) string {
	created := ""
	if !n.CreatedAt.IsZero() {
		created = n.CreatedAt.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("%s\n\nDate: %s\n\n%s", n.Message, created, d.senderName)
}

func (d *Dispatcher) computeRetryDelay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	delay := baseRetryDelay
	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			delay = maxRetryDelay
			break
		}
	}

	jitterMillis := 0
	if d.randIntn != nil && maxRetryJitterMillis > 0 {
		jitterMillis = d.randIntn(maxRetryJitterMillis + 1)
	}

	return delay + time.Duration(jitterMillis)*time.Millisecond
}
