package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/mailroomd/mailroom/internal/domain"
	"github.com/mailroomd/mailroom/internal/store"
	"gorm.io/gorm"
)

var _ store.Store = (*GormStore)(nil)

// GormStore implements the record store port against an owned notifications
// table. Conditional transitions use plain UPDATE ... WHERE status checks and
// report lost races through RowsAffected.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

func (s *GormStore) SelectPending(ctx context.Context, limit int) ([]domain.Notification, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: limit must be positive", domain.ErrValidation)
	}

	var models []NotificationModel
	err := s.db.WithContext(ctx).
		Where("status = ? AND recipient IS NOT NULL", domain.StatusPending).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", s.now().UTC()).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}

	return notifications, nil
}

func (s *GormStore) Claim(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", domain.ErrValidation)
	}

	claimedAt := s.now().UTC()
	result := s.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(map[string]any{
			"status":     domain.StatusInProgress,
			"claimed_at": claimedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrConflict, id)
	}

	return nil
}

func (s *GormStore) RecordOutcome(ctx context.Context, id string, outcome store.Outcome) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", domain.ErrValidation)
	}
	if err := outcome.Validate(); err != nil {
		return err
	}

	result := s.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ?", id).
		Updates(outcomeColumns(outcome))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}

	return nil
}

func (s *GormStore) ReleaseStale(ctx context.Context, claimedBefore time.Time, limit int) (int, error) {
	if limit < 1 {
		return 0, fmt.Errorf("%w: limit must be positive", domain.ErrValidation)
	}

	stale := s.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Select("id").
		Where("status = ? AND claimed_at < ?", domain.StatusInProgress, claimedBefore.UTC()).
		Order("claimed_at ASC").
		Limit(limit)

	result := s.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id IN (?)", stale).
		Updates(map[string]any{
			"status":     domain.StatusPending,
			"claimed_at": nil,
		})
	if result.Error != nil {
		return 0, result.Error
	}

	return int(result.RowsAffected), nil
}

func outcomeColumns(outcome store.Outcome) map[string]any {
	switch outcome.Result {
	case store.ResultSent:
		return map[string]any{
			"status":     domain.StatusSent,
			"sent_at":    outcome.SentAt.UTC(),
			"last_error": nil,
		}
	case store.ResultFailed:
		return map[string]any{
			"status":        domain.StatusFailed,
			"last_error":    outcome.Error,
			"attempt_count": outcome.AttemptCount,
		}
	case store.ResultSkipped:
		return map[string]any{
			"status": domain.StatusSkipped,
		}
	case store.ResultRetry:
		return map[string]any{
			"status":          domain.StatusPending,
			"last_error":      outcome.Error,
			"attempt_count":   outcome.AttemptCount,
			"next_attempt_at": outcome.NextAttemptAt.UTC(),
			"claimed_at":      nil,
		}
	}
	return nil
}
