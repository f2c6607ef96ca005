package postgres

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_notifications",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&NotificationModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_notifications_pending ON notifications (created_at) WHERE status = 'pending' AND recipient IS NOT NULL`,
					`CREATE INDEX IF NOT EXISTS idx_notifications_claimed ON notifications (claimed_at) WHERE status = 'in_progress'`,
					`CREATE INDEX IF NOT EXISTS idx_notifications_next_attempt ON notifications (next_attempt_at) WHERE next_attempt_at IS NOT NULL`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&NotificationModel{})
			},
		},
	})

	return m.Migrate()
}
