package careteam

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func TestListTeams_Handler(t *testing.T) {
	h := NewHandler(NewService(newMockTeamRepo()))
	e := echo.New()

	rec := httptest.NewRecorder()
	if err := h.ListTeams(e.NewContext(httptest.NewRequest(http.MethodGet, "/teams", nil), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected [], got %s", rec.Body.String())
	}

	err := h.ListTeams(e.NewContext(httptest.NewRequest(http.MethodGet, "/teams?facility_id=x", nil), httptest.NewRecorder()))
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestGetTeam_NotFound(t *testing.T) {
	h := NewHandler(NewService(newMockTeamRepo()))
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	err := h.GetTeam(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestCreateTeam_Handler(t *testing.T) {
	h := NewHandler(NewService(newMockTeamRepo()))
	req := httptest.NewRequest(http.MethodPost, "/teams", strings.NewReader(`{"name":"Cardiologia"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.CreateTeam(echo.New().NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
}
