package admission

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func TestListAdmissions_FilterByTeam(t *testing.T) {
	repo := newMockAdmissionRepo()
	h := NewHandler(NewService(repo))
	team := uuid.New()
	for i := 0; i < 3; i++ {
		a := validAdmission()
		if i < 2 {
			a.TeamID = team
		}
		_ = h.svc.CreateAdmission(context.Background(), a)
	}

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/admissions?team_id="+team.String(), nil), rec)
	if err := h.ListAdmissions(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data  []Admission `json:"data"`
		Total int         `json:"total"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 2 || len(body.Data) != 2 {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestListAdmissions_InvalidFilter(t *testing.T) {
	h := NewHandler(NewService(newMockAdmissionRepo()))
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/admissions?facility_id=nope", nil), httptest.NewRecorder())
	err := h.ListAdmissions(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestGetAdmission_NotFound(t *testing.T) {
	h := NewHandler(NewService(newMockAdmissionRepo()))
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	err := h.GetAdmission(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}
