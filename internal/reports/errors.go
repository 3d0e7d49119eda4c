package reports

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable, machine-checkable marker of a service failure.
type ErrorKind string

const (
	KindValidationFailed ErrorKind = "validation_failed"
	KindUnauthenticated  ErrorKind = "unauthenticated"
	KindReportNotFound   ErrorKind = "report_not_found"
	KindAlreadyVoted     ErrorKind = "already_voted"
	KindVoteNotFound     ErrorKind = "vote_not_found"
	KindStoreUnavailable ErrorKind = "store_unavailable"
)

var (
	// ErrValidationFailed indicates that report input violated one or more field rules.
	ErrValidationFailed = errors.New("reports: validation failed")
	// ErrUnauthenticated indicates that no user identity accompanied the operation.
	ErrUnauthenticated = errors.New("reports: unauthenticated")
	// ErrReportNotFound indicates that a report identifier did not resolve.
	ErrReportNotFound = errors.New("reports: report not found")
	// ErrAlreadyVoted indicates that the user already holds a vote on the report.
	ErrAlreadyVoted = errors.New("reports: already voted")
	// ErrVoteNotFound indicates that the user holds no vote on the report.
	ErrVoteNotFound = errors.New("reports: vote not found")
	// ErrStoreUnavailable indicates a persistence failure.
	ErrStoreUnavailable = errors.New("reports: store unavailable")
)

var kindSentinels = map[ErrorKind]error{
	KindValidationFailed: ErrValidationFailed,
	KindUnauthenticated:  ErrUnauthenticated,
	KindReportNotFound:   ErrReportNotFound,
	KindAlreadyVoted:     ErrAlreadyVoted,
	KindVoteNotFound:     ErrVoteNotFound,
	KindStoreUnavailable: ErrStoreUnavailable,
}

// Sentinel returns the sentinel error matching the kind, or nil for unknown kinds.
func (k ErrorKind) Sentinel() error {
	return kindSentinels[k]
}

// ParseErrorKind maps a wire value back to a known ErrorKind.
func ParseErrorKind(value string) (ErrorKind, bool) {
	kind := ErrorKind(value)
	if _, ok := kindSentinels[kind]; !ok {
		return "", false
	}
	return kind, true
}

// KindOf reports the ErrorKind carried by err, or "" when err is not a service failure.
func KindOf(err error) ErrorKind {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.kind
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return ""
}

// FieldError names one input field that failed validation and the rule it broke.
type FieldError struct {
	Field string
	Rule  string
}

// ServiceError is returned by every Service operation.
type ServiceError struct {
	kind   ErrorKind
	code   string
	fields []FieldError
	err    error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

// Unwrap exposes both the kind sentinel and the underlying cause to errors.Is and errors.As.
func (e *ServiceError) Unwrap() []error {
	unwrapped := make([]error, 0, 2)
	if sentinel := e.kind.Sentinel(); sentinel != nil {
		unwrapped = append(unwrapped, sentinel)
	}
	if e.err != nil {
		unwrapped = append(unwrapped, e.err)
	}
	return unwrapped
}

func (e *ServiceError) Code() string {
	return e.code
}

func (e *ServiceError) Kind() ErrorKind {
	return e.kind
}

// Fields lists the failing fields of a validation failure.
func (e *ServiceError) Fields() []FieldError {
	return append([]FieldError(nil), e.fields...)
}

const (
	opServiceNew    = "reports.service.new"
	opCreateReport  = "reports.create_report"
	opGetReport     = "reports.get_report"
	opListReports   = "reports.list_reports"
	opCastVote      = "reports.cast_vote"
	opRetractVote   = "reports.retract_vote"
	opToggleVote    = "reports.toggle_vote"
	opVoteCount     = "reports.vote_count"
	reasonMissingDB = "missing_database"
)

func newServiceError(kind ErrorKind, operation, reason string, cause error) *ServiceError {
	return &ServiceError{
		kind: kind,
		code: fmt.Sprintf("%s.%s", operation, reason),
		err:  cause,
	}
}

func newValidationError(operation string, fields []FieldError) *ServiceError {
	serviceErr := newServiceError(KindValidationFailed, operation, "validation_failed", nil)
	serviceErr.fields = fields
	return serviceErr
}
