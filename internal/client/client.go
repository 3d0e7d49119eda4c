// Package client consumes the accessmap HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultTimeout = 10 * time.Second

var errMissingBaseURL = errors.New("client: base url is required")

// Config describes a Client.
type Config struct {
	BaseURL     string
	Credentials *Credentials
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// Client issues report and vote requests against the API.
type Client struct {
	baseURL     *url.URL
	credentials *Credentials
	httpClient  *http.Client
	logger      *zap.Logger
}

// Position is a latitude/longitude pair in degrees.
type Position struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// Report mirrors the report representation returned by the API.
type Report struct {
	ID            string    `json:"id"`
	AuthorID      string    `json:"author_id"`
	Position      Position  `json:"position"`
	Description   string    `json:"description"`
	CreatedAt     time.Time `json:"created_at"`
	VoteCount     int64     `json:"vote_count"`
	VotedByViewer bool      `json:"voted_by_viewer"`
}

// VoteResult mirrors the outcome of a vote request.
type VoteResult struct {
	ReportID  string `json:"report_id"`
	VoteCount int64  `json:"vote_count"`
	Voted     bool   `json:"voted"`
}

// ListOptions narrows ListReports. BoundingBox uses "min_lat,min_lng,max_lat,max_lng".
type ListOptions struct {
	Limit       int
	Offset      int
	BoundingBox string
}

func New(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errMissingBaseURL
	}
	baseURL, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: invalid base url: %w", err)
	}
	credentials := cfg.Credentials
	if credentials == nil {
		credentials = NewCredentials("")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:     baseURL,
		credentials: credentials,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

// CreateReport submits a new report at position.
func (c *Client) CreateReport(ctx context.Context, position Position, description string) (Report, error) {
	body := map[string]any{
		"position":    position,
		"description": description,
	}
	var report Report
	err := c.do(ctx, http.MethodPost, "/reports", nil, body, &report)
	return report, err
}

// GetReport fetches one report.
func (c *Client) GetReport(ctx context.Context, reportID string) (Report, error) {
	var report Report
	err := c.do(ctx, http.MethodGet, "/reports/"+url.PathEscape(reportID), nil, nil, &report)
	return report, err
}

// ListReports fetches reports most recent first.
func (c *Client) ListReports(ctx context.Context, options ListOptions) ([]Report, error) {
	query := url.Values{}
	if options.Limit > 0 {
		query.Set("limit", strconv.Itoa(options.Limit))
		if options.Offset > 0 {
			query.Set("offset", strconv.Itoa(options.Offset))
		}
	}
	if options.BoundingBox != "" {
		query.Set("bbox", options.BoundingBox)
	}
	var response struct {
		Reports []Report `json:"reports"`
	}
	if err := c.do(ctx, http.MethodGet, "/reports", query, nil, &response); err != nil {
		return nil, err
	}
	return response.Reports, nil
}

func (c *Client) CastVote(ctx context.Context, reportID string) (VoteResult, error) {
	return c.vote(ctx, http.MethodPost, votePath(reportID))
}

func (c *Client) RetractVote(ctx context.Context, reportID string) (VoteResult, error) {
	return c.vote(ctx, http.MethodDelete, votePath(reportID))
}

// ToggleVote uses the server-side atomic toggle.
func (c *Client) ToggleVote(ctx context.Context, reportID string) (VoteResult, error) {
	return c.vote(ctx, http.MethodPost, votePath(reportID)+"/toggle")
}

func (c *Client) vote(ctx context.Context, method, path string) (VoteResult, error) {
	var result VoteResult
	err := c.do(ctx, method, path, nil, nil, &result)
	return result, err
}

func votePath(reportID string) string {
	return "/reports/" + url.PathEscape(reportID) + "/vote"
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	endpoint := c.baseURL.JoinPath(path)
	endpoint.RawQuery = query.Encode()

	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token := c.credentials.Token(); token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(response)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(response.Body).Decode(out)
}
