package database

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/accessmap/internal/reports"
	"github.com/MarcoPoloResearchLab/accessmap/internal/users"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func TestOpenSQLiteCreatesSchemaAndRecordsMigrations(testContext *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	database, err := OpenSQLite(filepath.Join(testContext.TempDir(), "accessmap.db"), zap.New(core))
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}

	for _, model := range []interface{}{&reports.Report{}, &reports.Vote{}, &users.Identity{}, &migrationRecord{}} {
		if !database.Migrator().HasTable(model) {
			testContext.Fatalf("expected table for %T", model)
		}
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationDropOrphanVotes).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
	if logs.FilterMessage("database migration applied").Len() != 1 {
		testContext.Fatalf("expected migration to be logged once")
	}
}

func TestOpenSQLiteRequiresPath(testContext *testing.T) {
	if _, err := OpenSQLite("", zap.NewNop()); err == nil {
		testContext.Fatalf("expected error for empty path")
	}
}

func TestVotePrimaryKeySurfacesDuplicatedKey(testContext *testing.T) {
	database, err := OpenSQLite(filepath.Join(testContext.TempDir(), "votes.db"), zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	vote := reports.Vote{ReportID: "report-1", UserID: "user-1", CreatedAtSeconds: 1}
	if err := database.Create(&vote).Error; err != nil {
		testContext.Fatalf("failed to insert vote: %v", err)
	}
	duplicate := vote
	if err := database.Create(&duplicate).Error; !errors.Is(err, gorm.ErrDuplicatedKey) {
		testContext.Fatalf("expected duplicated key error, got %v", err)
	}
}

func TestApplyMigrationsDropsOrphanVotesOnce(testContext *testing.T) {
	database, err := OpenSQLite(filepath.Join(testContext.TempDir(), "orphans.db"), zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	if err := database.Where("name = ?", migrationDropOrphanVotes).Delete(&migrationRecord{}).Error; err != nil {
		testContext.Fatalf("failed to reset migration record: %v", err)
	}

	report := reports.Report{ID: "report-1", UserID: "author", Latitude: -23.5, Longitude: -46.6, Description: "Rampa de acesso", CreatedAtSeconds: 1}
	if err := database.Create(&report).Error; err != nil {
		testContext.Fatalf("failed to insert report: %v", err)
	}
	votes := []reports.Vote{
		{ReportID: "report-1", UserID: "user-1", CreatedAtSeconds: 2},
		{ReportID: "deleted-report", UserID: "user-1", CreatedAtSeconds: 2},
		{ReportID: "deleted-report", UserID: "user-2", CreatedAtSeconds: 2},
	}
	if err := database.Create(&votes).Error; err != nil {
		testContext.Fatalf("failed to insert votes: %v", err)
	}

	appliedAt := time.Unix(1_790_000_000, 0)
	clock := func() time.Time { return appliedAt }
	if err := applyMigrations(database, defaultMigrations(), clock, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var remaining []reports.Vote
	if err := database.Find(&remaining).Error; err != nil {
		testContext.Fatalf("failed to load votes: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ReportID != "report-1" {
		testContext.Fatalf("expected only the vote on the live report to remain, got %+v", remaining)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationDropOrphanVotes).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record: %v", err)
	}
	if record.AppliedAtSeconds != appliedAt.Unix() {
		testContext.Fatalf("unexpected migration timestamp %d", record.AppliedAtSeconds)
	}

	// a recorded migration is skipped on later runs.
	orphan := reports.Vote{ReportID: "deleted-again", UserID: "user-3", CreatedAtSeconds: 3}
	if err := database.Create(&orphan).Error; err != nil {
		testContext.Fatalf("failed to insert vote: %v", err)
	}
	if err := applyMigrations(database, defaultMigrations(), clock, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to reapply migrations: %v", err)
	}
	var count int64
	if err := database.Model(&reports.Vote{}).Count(&count).Error; err != nil {
		testContext.Fatalf("failed to count votes: %v", err)
	}
	if count != 2 {
		testContext.Fatalf("expected recorded migration to be skipped, got %d votes", count)
	}
}

func TestApplyMigrationsRollsBackFailedMigration(testContext *testing.T) {
	database, err := OpenSQLite(filepath.Join(testContext.TempDir(), "failing.db"), zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	failure := errors.New("boom")
	migrations := []migrationDefinition{
		{name: "2026-10-02_failing", apply: func(*gorm.DB) error { return failure }},
	}
	if err := applyMigrations(database, migrations, time.Now, zap.NewNop()); !errors.Is(err, failure) {
		testContext.Fatalf("expected migration failure, got %v", err)
	}
	var count int64
	if err := database.Model(&migrationRecord{}).Where("name = ?", "2026-10-02_failing").Count(&count).Error; err != nil {
		testContext.Fatalf("failed to count records: %v", err)
	}
	if count != 0 {
		testContext.Fatalf("expected failed migration to stay unrecorded")
	}
}
