package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/accessmap/internal/reports"
	"github.com/gin-gonic/gin"
)

type positionPayload struct {
	Latitude  *float64 `json:"lat"`
	Longitude *float64 `json:"lng"`
}

type createReportPayload struct {
	Position    positionPayload `json:"position"`
	Description string          `json:"description"`
}

type reportPositionPayload struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

type reportPayload struct {
	ID            string                `json:"id"`
	AuthorID      string                `json:"author_id"`
	Position      reportPositionPayload `json:"position"`
	Description   string                `json:"description"`
	CreatedAt     time.Time             `json:"created_at"`
	VoteCount     int64                 `json:"vote_count"`
	VotedByViewer bool                  `json:"voted_by_viewer"`
}

type reportListPayload struct {
	Reports []reportPayload `json:"reports"`
}

type voteResultPayload struct {
	ReportID  string `json:"report_id"`
	VoteCount int64  `json:"vote_count"`
	Voted     bool   `json:"voted"`
}

func (h *httpHandler) handleCreateReport(c *gin.Context) {
	var request createReportPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		abortWithError(c, http.StatusBadRequest, reports.KindValidationFailed, "server.create_report.invalid_json")
		return
	}

	view, err := h.reports.CreateReport(c.Request.Context(), reports.NewReport{
		AuthorID:    c.GetString(userIDContextKey),
		Latitude:    request.Position.Latitude,
		Longitude:   request.Position.Longitude,
		Description: request.Description,
	})
	if err != nil {
		h.respondServiceError(c, "create_report", err)
		return
	}
	c.JSON(http.StatusCreated, newReportPayload(view))
}

func (h *httpHandler) handleGetReport(c *gin.Context) {
	view, err := h.reports.GetReport(c.Request.Context(), c.Param("id"), c.GetString(userIDContextKey))
	if err != nil {
		h.respondServiceError(c, "get_report", err)
		return
	}
	c.JSON(http.StatusOK, newReportPayload(view))
}

func (h *httpHandler) handleListReports(c *gin.Context) {
	options, fields := parseListOptions(c)
	if len(fields) > 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorPayload{
			Error:  string(reports.KindValidationFailed),
			Code:   "server.list_reports.invalid_query",
			Fields: fields,
		})
		return
	}
	options.ViewerID = c.GetString(userIDContextKey)

	views, err := h.reports.ListReports(c.Request.Context(), options)
	if err != nil {
		h.respondServiceError(c, "list_reports", err)
		return
	}
	response := reportListPayload{Reports: make([]reportPayload, 0, len(views))}
	for _, view := range views {
		response.Reports = append(response.Reports, newReportPayload(view))
	}
	c.JSON(http.StatusOK, response)
}

func parseListOptions(c *gin.Context) (reports.ListOptions, []fieldErrorPayload) {
	var options reports.ListOptions
	var fields []fieldErrorPayload
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			fields = append(fields, fieldErrorPayload{Field: "limit", Rule: "integer"})
		}
		options.Limit = limit
	}
	if raw := strings.TrimSpace(c.Query("offset")); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			fields = append(fields, fieldErrorPayload{Field: "offset", Rule: "integer"})
		}
		options.Offset = offset
	}
	if raw := strings.TrimSpace(c.Query("bbox")); raw != "" {
		bounds, err := reports.ParseBoundingBox(raw)
		if err != nil {
			fields = append(fields, fieldErrorPayload{Field: "bbox", Rule: "format"})
		}
		options.Bounds = bounds
	}
	return options, fields
}

func (h *httpHandler) handleCastVote(c *gin.Context) {
	result, err := h.reports.CastVote(c.Request.Context(), c.Param("id"), c.GetString(userIDContextKey))
	if err != nil {
		h.respondServiceError(c, "cast_vote", err)
		return
	}
	c.JSON(http.StatusCreated, newVoteResultPayload(result))
}

func (h *httpHandler) handleRetractVote(c *gin.Context) {
	result, err := h.reports.RetractVote(c.Request.Context(), c.Param("id"), c.GetString(userIDContextKey))
	if err != nil {
		h.respondServiceError(c, "retract_vote", err)
		return
	}
	c.JSON(http.StatusOK, newVoteResultPayload(result))
}

func (h *httpHandler) handleToggleVote(c *gin.Context) {
	result, err := h.reports.ToggleVote(c.Request.Context(), c.Param("id"), c.GetString(userIDContextKey))
	if err != nil {
		h.respondServiceError(c, "toggle_vote", err)
		return
	}
	c.JSON(http.StatusOK, newVoteResultPayload(result))
}

func newReportPayload(view reports.ReportView) reportPayload {
	return reportPayload{
		ID:       view.ID,
		AuthorID: view.AuthorID,
		Position: reportPositionPayload{
			Latitude:  view.Position.Latitude,
			Longitude: view.Position.Longitude,
		},
		Description:   view.Description,
		CreatedAt:     view.CreatedAt,
		VoteCount:     view.VoteCount,
		VotedByViewer: view.VotedByViewer,
	}
}

func newVoteResultPayload(result reports.VoteResult) voteResultPayload {
	return voteResultPayload{
		ReportID:  result.ReportID,
		VoteCount: result.VoteCount,
		Voted:     result.Voted,
	}
}
