package store

import (
	"context"
	"fmt"
	"time"

	"github.com/mailroomd/mailroom/internal/domain"
)

// Result is the terminal decision for one delivery attempt.
type Result string

const (
	ResultSent    Result = "sent"
	ResultFailed  Result = "failed"
	ResultSkipped Result = "skipped"
	// ResultRetry re-queues the record as pending with a future attempt time.
	ResultRetry Result = "retry"
)

func (r Result) IsValid() bool {
	switch r {
	case ResultSent, ResultFailed, ResultSkipped, ResultRetry:
		return true
	}
	return false
}

// Outcome describes the partial update written back after an attempt.
// Only the fields relevant to Result are applied: sent sets SentAt and clears
// the error, failed and retry carry the error message, retry additionally
// carries NextAttemptAt, and failed/retry bump AttemptCount.
type Outcome struct {
	Result        Result
	Error         string
	SentAt        time.Time
	NextAttemptAt time.Time
	AttemptCount  int
}

func (o Outcome) Validate() error {
	if !o.Result.IsValid() {
		return fmt.Errorf("%w: invalid outcome result %q", domain.ErrValidation, o.Result)
	}
	if o.Result == ResultSent && o.SentAt.IsZero() {
		return fmt.Errorf("%w: sent outcome requires a sent time", domain.ErrValidation)
	}
	if o.Result == ResultRetry && o.NextAttemptAt.IsZero() {
		return fmt.Errorf("%w: retry outcome requires a next attempt time", domain.ErrValidation)
	}
	return nil
}

// Status returns the record status the outcome resolves to.
func (o Outcome) Status() domain.Status {
	switch o.Result {
	case ResultSent:
		return domain.StatusSent
	case ResultFailed:
		return domain.StatusFailed
	case ResultSkipped:
		return domain.StatusSkipped
	case ResultRetry:
		return domain.StatusPending
	}
	return ""
}

// Store is the durable notification table port.
type Store interface {
	// SelectPending returns up to limit eligible pending records ordered by
	// creation time ascending. An empty backlog yields an empty slice, not an
	// error.
	SelectPending(ctx context.Context, limit int) ([]domain.Notification, error)

	// Claim conditionally transitions a record from pending to in_progress.
	// It returns domain.ErrConflict when another worker already claimed the
	// record or its status changed since selection.
	Claim(ctx context.Context, id string) error

	// RecordOutcome patches the fields relevant to the outcome on the record.
	RecordOutcome(ctx context.Context, id string, outcome Outcome) error

	// ReleaseStale reverts up to limit in_progress records claimed before the
	// cutoff back to pending and returns how many were released.
	ReleaseStale(ctx context.Context, claimedBefore time.Time, limit int) (int, error)
}
