package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/MarcoPoloResearchLab/accessmap/internal/reports"
)

const maxErrorBody = 64 << 10

// FieldError names one rejected input field.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// APIError is a structured failure response. errors.Is matches it against the
// reports sentinels through its kind.
type APIError struct {
	Status int
	Kind   reports.ErrorKind
	Code   string
	Fields []FieldError
}

func (e *APIError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("accessmap api: status %d", e.Status)
	}
	return fmt.Sprintf("accessmap api: status %d: %s (%s)", e.Status, e.Kind, e.Code)
}

func (e *APIError) Unwrap() error {
	return e.Kind.Sentinel()
}

func decodeAPIError(response *http.Response) error {
	apiErr := &APIError{Status: response.StatusCode}
	var payload struct {
		Error  string       `json:"error"`
		Code   string       `json:"code"`
		Fields []FieldError `json:"fields"`
	}
	if err := json.NewDecoder(io.LimitReader(response.Body, maxErrorBody)).Decode(&payload); err != nil {
		return apiErr
	}
	if kind, ok := reports.ParseErrorKind(payload.Error); ok {
		apiErr.Kind = kind
	}
	apiErr.Code = payload.Code
	apiErr.Fields = payload.Fields
	return apiErr
}
