package postgres

import (
	"time"

	"github.com/mailroomd/mailroom/internal/domain"
)

// NotificationModel is the persistence model for the notifications table.
type NotificationModel struct {
	ID            string        `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Recipient     *string       `gorm:"type:varchar(255)"`
	Title         string        `gorm:"type:text;not null"`
	Message       string        `gorm:"type:text;not null"`
	Status        domain.Status `gorm:"type:varchar(20);not null;default:'pending'"`
	LastError     *string       `gorm:"type:text"`
	SentAt        *time.Time    `gorm:"type:timestamptz"`
	AttemptCount  int           `gorm:"not null;default:0"`
	NextAttemptAt *time.Time    `gorm:"type:timestamptz"`
	ClaimedAt     *time.Time    `gorm:"type:timestamptz"`
	CreatedAt     time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	recipient := ""
	if m.Recipient != nil {
		recipient = *m.Recipient
	}

	return &domain.Notification{
		ID:            m.ID,
		Recipient:     recipient,
		Title:         m.Title,
		Message:       m.Message,
		Status:        m.Status,
		LastError:     m.LastError,
		SentAt:        m.SentAt,
		AttemptCount:  m.AttemptCount,
		NextAttemptAt: m.NextAttemptAt,
		ClaimedAt:     m.ClaimedAt,
		CreatedAt:     m.CreatedAt,
	}
}
