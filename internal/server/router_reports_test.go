package server

import (
	"net/http"
	"testing"

	"github.com/MarcoPoloResearchLab/accessmap/internal/reports"
)

func TestCreateReportReturnsCreatedReport(t *testing.T) {
	server := newTestServer(t, nil)
	token := server.tokenFor(t, "user-maria")

	created := server.createReport(t, token, -23.5505, -46.6333, "  Rampa de acesso  ")

	if created.ID == "" || created.AuthorID != "user-maria" {
		t.Fatalf("unexpected identity fields: %+v", created)
	}
	if created.Description != "Rampa de acesso" {
		t.Fatalf("expected trimmed description, got %q", created.Description)
	}
	if created.VoteCount != 0 || created.VotedByViewer {
		t.Fatalf("expected fresh report without votes, got %+v", created)
	}
	if created.CreatedAt.IsZero() {
		t.Fatalf("expected creation timestamp")
	}
}

func TestCreateReportRequiresAuthentication(t *testing.T) {
	server := newTestServer(t, nil)

	recorder := server.do(t, http.MethodPost, "/reports", "", map[string]any{
		"position":    map[string]float64{"lat": 1, "lng": 1},
		"description": "Rampa de acesso",
	})
	expectError(t, recorder, http.StatusUnauthorized, reports.KindUnauthenticated)
}

func TestCreateReportReportsFieldErrors(t *testing.T) {
	server := newTestServer(t, nil)
	token := server.tokenFor(t, "user-maria")

	recorder := server.do(t, http.MethodPost, "/reports", token, map[string]any{
		"position":    map[string]float64{"lat": 91},
		"description": "   ",
	})
	payload := expectError(t, recorder, http.StatusBadRequest, reports.KindValidationFailed)

	got := map[string]string{}
	for _, field := range payload.Fields {
		got[field.Field] = field.Rule
	}
	for _, field := range []string{"position.lat", "position.lng", "description"} {
		if _, ok := got[field]; !ok {
			t.Fatalf("expected field error for %s, got %+v", field, payload.Fields)
		}
	}

	list := decodeBody[reportListPayload](t, server.do(t, http.MethodGet, "/reports", "", nil))
	if len(list.Reports) != 0 {
		t.Fatalf("expected rejected report to stay unsaved, got %d", len(list.Reports))
	}
}

func TestCreateReportRejectsMalformedJSON(t *testing.T) {
	server := newTestServer(t, nil)

	recorder := server.do(t, http.MethodPost, "/reports", server.tokenFor(t, "user-maria"), "{not json")
	expectError(t, recorder, http.StatusBadRequest, reports.KindValidationFailed)
}

func TestListReportsReturnsMostRecentFirstWithCounts(t *testing.T) {
	server := newTestServer(t, nil)
	author := server.tokenFor(t, "author")
	viewer := server.tokenFor(t, "viewer")

	older := server.createReport(t, author, -23.55, -46.63, "Calçada irregular")
	newer := server.createReport(t, author, -22.90, -43.17, "Rampa de acesso")
	if recorder := server.do(t, http.MethodPost, "/reports/"+older.ID+"/vote", viewer, nil); recorder.Code != http.StatusCreated {
		t.Fatalf("expected vote to succeed, got %d", recorder.Code)
	}

	anonymous := decodeBody[reportListPayload](t, server.do(t, http.MethodGet, "/reports", "", nil))
	if len(anonymous.Reports) != 2 {
		t.Fatalf("expected two reports, got %d", len(anonymous.Reports))
	}
	if anonymous.Reports[0].ID != newer.ID || anonymous.Reports[1].ID != older.ID {
		t.Fatalf("expected most recent first, got %s then %s", anonymous.Reports[0].ID, anonymous.Reports[1].ID)
	}
	if anonymous.Reports[1].VoteCount != 1 || anonymous.Reports[1].VotedByViewer {
		t.Fatalf("unexpected anonymous view of voted report: %+v", anonymous.Reports[1])
	}

	personal := decodeBody[reportListPayload](t, server.do(t, http.MethodGet, "/reports", viewer, nil))
	if !personal.Reports[1].VotedByViewer || personal.Reports[0].VotedByViewer {
		t.Fatalf("unexpected viewer flags: %+v", personal.Reports)
	}

	// an invalid token on a public route is treated as anonymous.
	fallback := server.do(t, http.MethodGet, "/reports", "garbage", nil)
	if fallback.Code != http.StatusOK {
		t.Fatalf("expected anonymous listing, got %d", fallback.Code)
	}
}

func TestListReportsAppliesQueryOptions(t *testing.T) {
	server := newTestServer(t, nil)
	author := server.tokenFor(t, "author")

	saoPaulo := server.createReport(t, author, -23.55, -46.63, "Calçada irregular")
	server.createReport(t, author, 48.85, 2.35, "Elevador quebrado")

	bounded := decodeBody[reportListPayload](t, server.do(t, http.MethodGet, "/reports?bbox=-24,-47,-23,-46", "", nil))
	if len(bounded.Reports) != 1 || bounded.Reports[0].ID != saoPaulo.ID {
		t.Fatalf("expected only the report inside the box, got %+v", bounded.Reports)
	}

	paged := decodeBody[reportListPayload](t, server.do(t, http.MethodGet, "/reports?limit=1&offset=1", "", nil))
	if len(paged.Reports) != 1 || paged.Reports[0].ID != saoPaulo.ID {
		t.Fatalf("expected the second most recent report, got %+v", paged.Reports)
	}
}

func TestListReportsRejectsInvalidQuery(t *testing.T) {
	server := newTestServer(t, nil)

	testCases := []struct {
		name  string
		query string
		field string
	}{
		{name: "non-numeric-limit", query: "limit=ten", field: "limit"},
		{name: "limit-over-cap", query: "limit=501", field: "limit"},
		{name: "negative-offset", query: "limit=5&offset=-1", field: "offset"},
		{name: "malformed-bbox", query: "bbox=1,2,3", field: "bbox"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			payload := expectError(t, server.do(t, http.MethodGet, "/reports?"+testCase.query, "", nil), http.StatusBadRequest, reports.KindValidationFailed)
			if len(payload.Fields) == 0 || payload.Fields[0].Field != testCase.field {
				t.Fatalf("expected field error for %s, got %+v", testCase.field, payload.Fields)
			}
		})
	}
}

func TestGetReportReturnsNotFoundForUnknownID(t *testing.T) {
	server := newTestServer(t, nil)

	expectError(t, server.do(t, http.MethodGet, "/reports/missing", "", nil), http.StatusNotFound, reports.KindReportNotFound)
}

func TestHealthz(t *testing.T) {
	server := newTestServer(t, nil)

	recorder := server.do(t, http.MethodGet, "/healthz", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if server.logs.FilterMessage("http request").Len() != 1 {
		t.Fatalf("expected request to be logged once")
	}
}
