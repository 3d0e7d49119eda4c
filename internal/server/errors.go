package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/accessmap/internal/reports"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var kindStatuses = map[reports.ErrorKind]int{
	reports.KindValidationFailed: http.StatusBadRequest,
	reports.KindUnauthenticated:  http.StatusUnauthorized,
	reports.KindReportNotFound:   http.StatusNotFound,
	reports.KindVoteNotFound:     http.StatusNotFound,
	reports.KindAlreadyVoted:     http.StatusConflict,
	reports.KindStoreUnavailable: http.StatusInternalServerError,
}

type fieldErrorPayload struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

type errorPayload struct {
	Error  string              `json:"error"`
	Code   string              `json:"code"`
	Fields []fieldErrorPayload `json:"fields,omitempty"`
}

func statusForKind(kind reports.ErrorKind) int {
	if status, ok := kindStatuses[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, status int, kind reports.ErrorKind, code string) {
	c.AbortWithStatusJSON(status, errorPayload{Error: string(kind), Code: code})
}

// respondServiceError translates a reports service failure into its status and JSON body.
func (h *httpHandler) respondServiceError(c *gin.Context, operation string, err error) {
	serviceErr, ok := asServiceError(err)
	if !ok {
		h.logger.Error("unexpected service failure", zap.String("operation", operation), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, reports.KindStoreUnavailable, "server."+operation+".internal")
		return
	}
	payload := errorPayload{
		Error: string(serviceErr.Kind()),
		Code:  serviceErr.Code(),
	}
	for _, field := range serviceErr.Fields() {
		payload.Fields = append(payload.Fields, fieldErrorPayload{Field: field.Field, Rule: field.Rule})
	}
	c.AbortWithStatusJSON(statusForKind(serviceErr.Kind()), payload)
}

func asServiceError(err error) (*reports.ServiceError, bool) {
	var serviceErr *reports.ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr, true
	}
	return nil, false
}
