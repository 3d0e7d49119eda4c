package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationDropOrphanVotes = "2026-10-01_drop_orphan_votes"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func defaultMigrations() []migrationDefinition {
	return []migrationDefinition{
		{name: migrationDropOrphanVotes, apply: dropOrphanVotes},
	}
}

func applyMigrations(db *gorm.DB, migrations []migrationDefinition, clock func() time.Time, logger *zap.Logger) error {
	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		applyErr := db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: clock().UTC().Unix()}).Error
		})
		if applyErr != nil {
			return applyErr
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Votes carry no foreign key, so rows left behind by deleted reports are swept here.
func dropOrphanVotes(db *gorm.DB) error {
	if !db.Migrator().HasTable("report_votes") {
		return nil
	}
	return db.Exec("DELETE FROM report_votes WHERE report_id NOT IN (SELECT id FROM reports)").Error
}
