package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/accessmap/internal/auth"
	"github.com/MarcoPoloResearchLab/accessmap/internal/database"
	"github.com/MarcoPoloResearchLab/accessmap/internal/ids"
	"github.com/MarcoPoloResearchLab/accessmap/internal/reports"
	"github.com/MarcoPoloResearchLab/accessmap/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testAdminEmail = "admin@example.com"

type stubGoogleVerifier struct {
	claims auth.GoogleClaims
	err    error
}

func (s stubGoogleVerifier) Verify(context.Context, string) (auth.GoogleClaims, error) {
	return s.claims, s.err
}

type testServer struct {
	handler http.Handler
	tokens  *auth.TokenIssuer
	logs    *observer.ObservedLogs
}

func newTestServer(t *testing.T, verifier GoogleVerifier) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "server.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	idProvider := ids.NewUUIDProvider()
	reportsService, err := reports.NewService(reports.ServiceConfig{Database: db, IDProvider: idProvider})
	if err != nil {
		t.Fatalf("failed to create reports service: %v", err)
	}
	usersService, err := users.NewService(users.ServiceConfig{
		Database:    db,
		IDProvider:  idProvider,
		AdminEmails: []string{testAdminEmail},
	})
	if err != nil {
		t.Fatalf("failed to create users service: %v", err)
	}
	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "accessmap-api",
		Audience:      "accessmap-web",
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to create token issuer: %v", err)
	}

	if verifier == nil {
		verifier = stubGoogleVerifier{}
	}
	core, logs := observer.New(zapcore.DebugLevel)
	handler, err := NewHTTPHandler(Dependencies{
		GoogleVerifier: verifier,
		TokenManager:   tokens,
		UsersService:   usersService,
		ReportsService: reportsService,
		Logger:         zap.New(core),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return &testServer{handler: handler, tokens: tokens, logs: logs}
}

func (s *testServer) tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := s.tokens.IssueToken(context.Background(), auth.Principal{UserID: userID, Role: auth.RoleUser})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else if raw, ok := body.(string); ok {
		reader = bytes.NewReader([]byte(raw))
	} else {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func (s *testServer) createReport(t *testing.T, token string, lat, lng float64, description string) reportPayload {
	t.Helper()
	recorder := s.do(t, http.MethodPost, "/reports", token, map[string]any{
		"position":    map[string]float64{"lat": lat, "lng": lng},
		"description": description,
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected report creation to succeed, got %d: %s", recorder.Code, recorder.Body.String())
	}
	return decodeBody[reportPayload](t, recorder)
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var value T
	if err := json.Unmarshal(recorder.Body.Bytes(), &value); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return value
}

func expectError(t *testing.T, recorder *httptest.ResponseRecorder, status int, kind reports.ErrorKind) errorPayload {
	t.Helper()
	if recorder.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, recorder.Code, recorder.Body.String())
	}
	payload := decodeBody[errorPayload](t, recorder)
	if payload.Error != string(kind) {
		t.Fatalf("expected error kind %q, got %q", kind, payload.Error)
	}
	if payload.Code == "" {
		t.Fatalf("expected error code to be set")
	}
	return payload
}
