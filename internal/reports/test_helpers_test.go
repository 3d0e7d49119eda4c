package reports

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type sequenceProvider struct {
	mu   sync.Mutex
	next int
}

func (p *sequenceProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("report-%03d", p.next), nil
}

// steppingClock advances one second on every call.
func steppingClock(startSeconds int64) func() time.Time {
	var mu sync.Mutex
	current := startSeconds
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current++
		return time.Unix(current, 0)
	}
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "reports.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	require.NoError(t, db.AutoMigrate(&Report{}, &Vote{}))
	return db
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := openTestDatabase(t)
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      steppingClock(1700000000),
		IDProvider: &sequenceProvider{},
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)
	return service, db
}

func floatPtr(value float64) *float64 {
	return &value
}

func mustCreateReport(t *testing.T, service *Service, authorID string, latitude, longitude float64) ReportView {
	t.Helper()
	view, err := service.CreateReport(t.Context(), NewReport{
		AuthorID:    authorID,
		Latitude:    floatPtr(latitude),
		Longitude:   floatPtr(longitude),
		Description: "Rampa de acesso",
	})
	require.NoError(t, err)
	return view
}

func requireKind(t *testing.T, err error, kind ErrorKind) *ServiceError {
	t.Helper()
	require.Error(t, err)
	var serviceErr *ServiceError
	require.ErrorAs(t, err, &serviceErr)
	require.Equal(t, kind, serviceErr.Kind(), "unexpected error %v", err)
	require.ErrorIs(t, err, kind.Sentinel())
	return serviceErr
}
