package reports

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/accessmap/internal/ids"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceConfig describes the dependencies of the report and vote service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

// Service creates and lists reports and manages votes on them.
// It holds no state across calls; every operation reads and writes through the database.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(KindStoreUnavailable, opServiceNew, reasonMissingDB, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(KindStoreUnavailable, opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// CreateReport validates and persists a new report authored by input.AuthorID.
func (s *Service) CreateReport(ctx context.Context, input NewReport) (ReportView, error) {
	if err := s.ensureDatabase(opCreateReport); err != nil {
		return ReportView{}, err
	}
	input.AuthorID = normalize(input.AuthorID)
	if input.AuthorID == "" {
		return ReportView{}, newServiceError(KindUnauthenticated, opCreateReport, "missing_author", nil)
	}
	input.Description = normalize(input.Description)
	if fields := validateNewReport(input); len(fields) > 0 {
		return ReportView{}, newValidationError(opCreateReport, fields)
	}
	if s.idProvider == nil {
		s.logError(opCreateReport, "missing_id_provider", errMissingIDProvider)
		return ReportView{}, newServiceError(KindStoreUnavailable, opCreateReport, "missing_id_provider", errMissingIDProvider)
	}

	reportID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateReport, "id_generation_failed", err)
		return ReportView{}, newServiceError(KindStoreUnavailable, opCreateReport, "id_generation_failed", err)
	}

	report := Report{
		ID:               reportID,
		UserID:           input.AuthorID,
		Latitude:         *input.Latitude,
		Longitude:        *input.Longitude,
		Description:      input.Description,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&report).Error; err != nil {
		s.logError(opCreateReport, "insert_failed", err,
			zap.String("user_id", report.UserID),
			zap.String("report_id", report.ID))
		return ReportView{}, newServiceError(KindStoreUnavailable, opCreateReport, "insert_failed", err)
	}

	s.loggerOrDefault().Info("report created",
		zap.String("report_id", report.ID),
		zap.String("user_id", report.UserID))
	return viewFromReport(report, 0, false), nil
}

// GetReport returns one report with its vote count. When viewerID is set the result
// records whether that user currently votes for the report.
func (s *Service) GetReport(ctx context.Context, reportID, viewerID string) (ReportView, error) {
	if err := s.ensureDatabase(opGetReport); err != nil {
		return ReportView{}, err
	}
	reportKey, err := reportIdentifier(opGetReport, reportID)
	if err != nil {
		return ReportView{}, err
	}

	db := s.db.WithContext(ctx)
	report, err := s.loadReport(db, opGetReport, reportKey)
	if err != nil {
		return ReportView{}, err
	}
	count, err := s.countVotes(db, opGetReport, reportKey)
	if err != nil {
		return ReportView{}, err
	}

	voted := false
	if viewer := normalize(viewerID); viewer != "" {
		voted, err = s.hasVote(db, opGetReport, reportKey, viewer)
		if err != nil {
			return ReportView{}, err
		}
	}
	return viewFromReport(report, count, voted), nil
}

type reportRow struct {
	ID               string  `gorm:"column:id"`
	UserID           string  `gorm:"column:user_id"`
	Latitude         float64 `gorm:"column:latitude"`
	Longitude        float64 `gorm:"column:longitude"`
	Description      string  `gorm:"column:description"`
	CreatedAtSeconds int64   `gorm:"column:created_at_s"`
	VoteCount        int64   `gorm:"column:vote_count"`
}

// ListReports returns reports most recent first, each annotated with its vote count.
// Counts come from a single aggregate query; no locking is added beyond the store's
// own isolation.
func (s *Service) ListReports(ctx context.Context, options ListOptions) ([]ReportView, error) {
	if err := s.ensureDatabase(opListReports); err != nil {
		return nil, err
	}
	if err := validateListOptions(options); err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).
		Model(&Report{}).
		Select("reports.id, reports.user_id, reports.latitude, reports.longitude, reports.description, reports.created_at_s, COUNT(report_votes.user_id) AS vote_count").
		Joins("LEFT JOIN report_votes ON report_votes.report_id = reports.id").
		Group("reports.id").
		Order("reports.created_at_s DESC").
		Order("reports.id DESC")
	if box := options.Bounds; box != nil {
		query = query.Where("reports.latitude BETWEEN ? AND ? AND reports.longitude BETWEEN ? AND ?",
			box.MinLatitude, box.MaxLatitude, box.MinLongitude, box.MaxLongitude)
	}
	if options.Limit > 0 {
		query = query.Limit(options.Limit).Offset(options.Offset)
	}

	var rows []reportRow
	if err := query.Scan(&rows).Error; err != nil {
		s.logError(opListReports, "query_failed", err)
		return nil, newServiceError(KindStoreUnavailable, opListReports, "query_failed", err)
	}

	voted := map[string]bool{}
	if viewer := normalize(options.ViewerID); viewer != "" && len(rows) > 0 {
		reportIDs := make([]string, 0, len(rows))
		for _, row := range rows {
			reportIDs = append(reportIDs, row.ID)
		}
		var err error
		voted, err = s.viewerVotes(s.db.WithContext(ctx), viewer, reportIDs)
		if err != nil {
			return nil, err
		}
	}

	views := make([]ReportView, 0, len(rows))
	for _, row := range rows {
		report := Report{
			ID:               row.ID,
			UserID:           row.UserID,
			Latitude:         row.Latitude,
			Longitude:        row.Longitude,
			Description:      row.Description,
			CreatedAtSeconds: row.CreatedAtSeconds,
		}
		views = append(views, viewFromReport(report, row.VoteCount, voted[row.ID]))
	}
	return views, nil
}

func validateListOptions(options ListOptions) error {
	fields := make([]FieldError, 0, 3)
	if options.Limit < 0 || options.Limit > maxListLimit {
		fields = append(fields, FieldError{Field: "limit", Rule: "range"})
	}
	if options.Offset < 0 {
		fields = append(fields, FieldError{Field: "offset", Rule: "min"})
	}
	if options.Bounds != nil {
		if err := options.Bounds.validate(); err != nil {
			fields = append(fields, FieldError{Field: "bbox", Rule: "range"})
		}
	}
	if len(fields) > 0 {
		return newValidationError(opListReports, fields)
	}
	return nil
}

func (s *Service) viewerVotes(db *gorm.DB, viewerID string, reportIDs []string) (map[string]bool, error) {
	voted := make(map[string]bool, len(reportIDs))
	for start := 0; start < len(reportIDs); start += viewerLookupChunk {
		end := min(start+viewerLookupChunk, len(reportIDs))
		var matched []string
		if err := db.Model(&Vote{}).
			Where("user_id = ? AND report_id IN ?", viewerID, reportIDs[start:end]).
			Pluck("report_id", &matched).Error; err != nil {
			s.logError(opListReports, "viewer_votes_failed", err, zap.String("user_id", viewerID))
			return nil, newServiceError(KindStoreUnavailable, opListReports, "viewer_votes_failed", err)
		}
		for _, reportID := range matched {
			voted[reportID] = true
		}
	}
	return voted, nil
}

func (s *Service) loadReport(db *gorm.DB, operation, reportID string) (Report, error) {
	var report Report
	err := db.Where("id = ?", reportID).Take(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Report{}, newServiceError(KindReportNotFound, operation, "report_not_found", nil)
	}
	if err != nil {
		s.logError(operation, "report_select_failed", err, zap.String("report_id", reportID))
		return Report{}, newServiceError(KindStoreUnavailable, operation, "report_select_failed", err)
	}
	return report, nil
}

func (s *Service) countVotes(db *gorm.DB, operation, reportID string) (int64, error) {
	var count int64
	if err := db.Model(&Vote{}).Where("report_id = ?", reportID).Count(&count).Error; err != nil {
		s.logError(operation, "vote_count_failed", err, zap.String("report_id", reportID))
		return 0, newServiceError(KindStoreUnavailable, operation, "vote_count_failed", err)
	}
	return count, nil
}

func reportIdentifier(operation, raw string) (string, error) {
	reportID := normalize(raw)
	if reportID == "" || len(reportID) > maxIdentifierLength {
		return "", newValidationError(operation, []FieldError{{Field: "report_id", Rule: "identifier"}})
	}
	return reportID, nil
}

func (s *Service) ensureDatabase(operation string) error {
	if s == nil || s.db == nil {
		s.logError(operation, reasonMissingDB, errMissingDatabase)
		return newServiceError(KindStoreUnavailable, operation, reasonMissingDB, errMissingDatabase)
	}
	return nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("reports service error", attrs...)
}
