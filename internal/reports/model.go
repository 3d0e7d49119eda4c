package reports

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	maxIdentifierLength = 190
	maxListLimit        = 500
	viewerLookupChunk   = 500
)

// Report models a persisted accessibility observation tied to a map position.
type Report struct {
	ID               string  `gorm:"column:id;primaryKey;size:190;not null"`
	UserID           string  `gorm:"column:user_id;size:190;not null;index"`
	Latitude         float64 `gorm:"column:latitude;not null"`
	Longitude        float64 `gorm:"column:longitude;not null"`
	Description      string  `gorm:"column:description;type:text;not null"`
	CreatedAtSeconds int64   `gorm:"column:created_at_s;not null;index:idx_reports_created"`
}

// TableName provides the explicit table binding for GORM.
func (Report) TableName() string {
	return "reports"
}

// Vote models a single user's endorsement of a report.
// The composite primary key is the uniqueness constraint on (report, user); it is the
// only guard that holds when two casts for the same pair race each other.
type Vote struct {
	ReportID         string `gorm:"column:report_id;primaryKey;size:190;not null"`
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null;index"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Vote) TableName() string {
	return "report_votes"
}

// Position is a latitude/longitude pair in degrees.
type Position struct {
	Latitude  float64
	Longitude float64
}

// ReportView is a report annotated with its current vote information.
type ReportView struct {
	ID            string
	AuthorID      string
	Position      Position
	Description   string
	CreatedAt     time.Time
	VoteCount     int64
	VotedByViewer bool
}

// NewReport carries the input of CreateReport.
type NewReport struct {
	AuthorID    string   `field:"author_id" validate:"max=190"`
	Latitude    *float64 `field:"position.lat" validate:"required,latitude"`
	Longitude   *float64 `field:"position.lng" validate:"required,longitude"`
	Description string   `field:"description" validate:"required,max=2000"`
}

// VoteResult reports the state of a (user, report) pair after a vote operation.
type VoteResult struct {
	ReportID  string
	VoteCount int64
	Voted     bool
}

// BoundingBox restricts listings to reports inside a latitude/longitude rectangle.
type BoundingBox struct {
	MinLatitude  float64
	MinLongitude float64
	MaxLatitude  float64
	MaxLongitude float64
}

// ParseBoundingBox parses "min_lat,min_lng,max_lat,max_lng".
func ParseBoundingBox(raw string) (*BoundingBox, error) {
	segments := strings.Split(raw, ",")
	if len(segments) != 4 {
		return nil, fmt.Errorf("bounding box requires 4 comma separated values, got %d", len(segments))
	}
	values := make([]float64, 0, len(segments))
	for _, segment := range segments {
		value, err := strconv.ParseFloat(strings.TrimSpace(segment), 64)
		if err != nil {
			return nil, fmt.Errorf("bounding box value %q: %w", segment, err)
		}
		values = append(values, value)
	}
	box := &BoundingBox{
		MinLatitude:  values[0],
		MinLongitude: values[1],
		MaxLatitude:  values[2],
		MaxLongitude: values[3],
	}
	if err := box.validate(); err != nil {
		return nil, err
	}
	return box, nil
}

func (b BoundingBox) validate() error {
	if !inRange(b.MinLatitude, 90) || !inRange(b.MaxLatitude, 90) {
		return fmt.Errorf("bounding box latitude out of range")
	}
	if !inRange(b.MinLongitude, 180) || !inRange(b.MaxLongitude, 180) {
		return fmt.Errorf("bounding box longitude out of range")
	}
	if b.MinLatitude > b.MaxLatitude || b.MinLongitude > b.MaxLongitude {
		return fmt.Errorf("bounding box minimum exceeds maximum")
	}
	return nil
}

// ListOptions narrows ListReports. The zero value lists every report.
type ListOptions struct {
	// Limit caps the number of reports returned; 0 means no limit.
	Limit int
	// Offset skips reports and only applies together with Limit.
	Offset   int
	Bounds   *BoundingBox
	ViewerID string
}

func viewFromReport(report Report, voteCount int64, votedByViewer bool) ReportView {
	return ReportView{
		ID:       report.ID,
		AuthorID: report.UserID,
		Position: Position{
			Latitude:  report.Latitude,
			Longitude: report.Longitude,
		},
		Description:   report.Description,
		CreatedAt:     time.Unix(report.CreatedAtSeconds, 0).UTC(),
		VoteCount:     voteCount,
		VotedByViewer: votedByViewer,
	}
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
