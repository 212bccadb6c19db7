package database

import (
	"errors"
	"time"

	"github.com/pulselabs/pulse/backend/internal/presence"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// A restart leaves every presence row from the previous process claiming a
// connection that no longer exists; each boot resets them before accepting
// connections.
const migrationResetStalePresence = "boot_reset_stale_presence"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name      string
	everyBoot bool
	apply     func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationResetStalePresence, everyBoot: true, apply: resetStalePresence},
	}

	for _, migration := range migrations {
		if !migration.everyBoot {
			var record migrationRecord
			err := db.Where("name = ?", migration.name).Take(&record).Error
			if err == nil {
				continue
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		if !migration.everyBoot {
			appliedAt := time.Now().UTC().Unix()
			if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
				return err
			}
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

func resetStalePresence(db *gorm.DB) error {
	lastSeen := time.Now().UTC().Unix()
	return db.Model(&presence.Presence{}).
		Where("online = ?", true).
		Updates(map[string]interface{}{
			"connection_id": "",
			"online":        false,
			"last_seen_s":   lastSeen,
		}).Error
}
