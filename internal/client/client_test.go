package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/accessmap/internal/auth"
	"github.com/MarcoPoloResearchLab/accessmap/internal/database"
	"github.com/MarcoPoloResearchLab/accessmap/internal/ids"
	"github.com/MarcoPoloResearchLab/accessmap/internal/reports"
	"github.com/MarcoPoloResearchLab/accessmap/internal/server"
	"github.com/MarcoPoloResearchLab/accessmap/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type unusedVerifier struct{}

func (unusedVerifier) Verify(context.Context, string) (auth.GoogleClaims, error) {
	return auth.GoogleClaims{}, nil
}

type apiFixture struct {
	server *httptest.Server
	tokens *auth.TokenIssuer
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "client.db"), zap.NewNop())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	idProvider := ids.NewUUIDProvider()
	reportsService, err := reports.NewService(reports.ServiceConfig{Database: db, IDProvider: idProvider})
	require.NoError(t, err)
	usersService, err := users.NewService(users.ServiceConfig{Database: db, IDProvider: idProvider})
	require.NoError(t, err)
	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("client-test-secret"),
		Issuer:        "accessmap-api",
		Audience:      "accessmap-web",
		TokenTTL:      time.Hour,
	})
	require.NoError(t, err)

	handler, err := server.NewHTTPHandler(server.Dependencies{
		GoogleVerifier: unusedVerifier{},
		TokenManager:   tokens,
		UsersService:   usersService,
		ReportsService: reportsService,
	})
	require.NoError(t, err)

	httpServer := httptest.NewServer(handler)
	t.Cleanup(httpServer.Close)
	return &apiFixture{server: httpServer, tokens: tokens}
}

func (f *apiFixture) clientFor(t *testing.T, userID string, logger *zap.Logger) *Client {
	t.Helper()
	token := ""
	if userID != "" {
		var err error
		token, _, err = f.tokens.IssueToken(context.Background(), auth.Principal{UserID: userID, Role: auth.RoleUser})
		require.NoError(t, err)
	}
	client, err := New(Config{
		BaseURL:     f.server.URL + "/",
		Credentials: NewCredentials(token),
		HTTPClient:  f.server.Client(),
		Logger:      logger,
	})
	require.NoError(t, err)
	return client
}

func TestClientReportAndVoteRoundTrip(t *testing.T) {
	fixture := newAPIFixture(t)
	author := fixture.clientFor(t, "author", nil)
	voter := fixture.clientFor(t, "voter", nil)
	ctx := context.Background()

	report, err := author.CreateReport(ctx, Position{Latitude: 45.0, Longitude: -23.5}, "Rampa de acesso")
	require.NoError(t, err)
	assert.Equal(t, int64(0), report.VoteCount)
	assert.Equal(t, "author", report.AuthorID)

	cast, err := voter.CastVote(ctx, report.ID)
	require.NoError(t, err)
	assert.Equal(t, VoteResult{ReportID: report.ID, VoteCount: 1, Voted: true}, cast)

	_, err = voter.CastVote(ctx, report.ID)
	require.ErrorIs(t, err, reports.ErrAlreadyVoted)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "reports.cast_vote.already_voted", apiErr.Code)

	retract, err := voter.RetractVote(ctx, report.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), retract.VoteCount)

	_, err = voter.RetractVote(ctx, report.ID)
	require.ErrorIs(t, err, reports.ErrVoteNotFound)

	toggled, err := voter.ToggleVote(ctx, report.ID)
	require.NoError(t, err)
	assert.True(t, toggled.Voted)

	listed, err := voter.ListReports(ctx, ListOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.True(t, listed[0].VotedByViewer)
	assert.Equal(t, int64(1), listed[0].VoteCount)

	fetched, err := author.GetReport(ctx, report.ID)
	require.NoError(t, err)
	assert.False(t, fetched.VotedByViewer)
}

func TestClientSurfacesValidationFields(t *testing.T) {
	fixture := newAPIFixture(t)
	author := fixture.clientFor(t, "author", nil)

	_, err := author.CreateReport(context.Background(), Position{Latitude: 95, Longitude: 0}, "Rampa de acesso")
	require.ErrorIs(t, err, reports.ErrValidationFailed)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Len(t, apiErr.Fields, 1)
	assert.Equal(t, "position.lat", apiErr.Fields[0].Field)
}

func TestClientRequiresCredentialsForWrites(t *testing.T) {
	fixture := newAPIFixture(t)
	anonymous := fixture.clientFor(t, "", nil)

	_, err := anonymous.CreateReport(context.Background(), Position{Latitude: 1, Longitude: 1}, "Rampa de acesso")
	require.ErrorIs(t, err, reports.ErrUnauthenticated)
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Config{BaseURL: "  "})
	require.ErrorIs(t, err, errMissingBaseURL)
}

func TestAPIErrorWithoutKindMatchesNoSentinel(t *testing.T) {
	err := &APIError{Status: http.StatusBadGateway}
	assert.NotErrorIs(t, err, reports.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "502")
}

func TestCredentialsNotifySubscribers(t *testing.T) {
	credentials := NewCredentials("first")
	var seen []string
	unsubscribe := credentials.Subscribe(func(token string) {
		seen = append(seen, token)
	})

	credentials.Set("second")
	credentials.Set("second")
	unsubscribe()
	credentials.Set("third")

	assert.Equal(t, []string{"second"}, seen)
	assert.Equal(t, "third", credentials.Token())
}
