package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/ward/internal/platform/auth"
	"github.com/ehr/ward/internal/platform/db"
)

func requestAs(method, target string, body []byte, user string, roles ...string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	ctx := auth.WithUser(req.Context(), user, roles)
	ctx = context.WithValue(ctx, db.TenantIDKey, "acme")
	return req.WithContext(ctx)
}

func newHandlerContext(req *http.Request, params ...string) (echo.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	if len(params) > 0 {
		var names, values []string
		for i := 0; i+1 < len(params); i += 2 {
			names = append(names, params[i])
			values = append(values, params[i+1])
		}
		c.SetParamNames(names...)
		c.SetParamValues(values...)
	}
	return c, rec
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	return he.Code
}

func decodeSession(t *testing.T, rec *httptest.ResponseRecorder) Session {
	t.Helper()
	var s Session
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatalf("decode session: %v (%s)", err, rec.Body.String())
	}
	return s
}

func TestHandler_CreateSession(t *testing.T) {
	f := newPipelineFixture(t)
	h := NewHandler(f.pipeline)
	c, rec := newHandlerContext(requestAs(http.MethodPost, "/intake/sessions", nil, "nurse-1", auth.RoleNurse))
	if err := h.CreateSession(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	s := decodeSession(t, rec)
	if s.Step != StepUpload || s.OwnerID != "nurse-1" || s.TenantID != "acme" {
		t.Errorf("unexpected session %+v", s)
	}
	if !strings.Contains(rec.Body.String(), `"step":"upload"`) {
		t.Errorf("step not rendered by name: %s", rec.Body.String())
	}
}

func TestHandler_UnknownSession(t *testing.T) {
	h := NewHandler(newPipelineFixture(t).pipeline)
	c, _ := newHandlerContext(requestAs(http.MethodGet, "/", nil, "nurse-1", auth.RoleNurse), "id", "missing")
	if code := httpCode(t, h.GetSession(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_OtherUsersSessionIsHidden(t *testing.T) {
	f := newPipelineFixture(t)
	h := NewHandler(f.pipeline)
	s := mustSession(t)(f.pipeline.Create(context.Background(), "acme", "nurse-1"))

	c, _ := newHandlerContext(requestAs(http.MethodGet, "/", nil, "nurse-2", auth.RoleNurse), "id", s.ID)
	if code := httpCode(t, h.GetSession(c)); code != http.StatusNotFound {
		t.Errorf("expected 404 for another user, got %d", code)
	}

	c, rec := newHandlerContext(requestAs(http.MethodGet, "/", nil, "admin-1", auth.RoleAdmin), "id", s.ID)
	if err := h.GetSession(c); err != nil || rec.Code != http.StatusOK {
		t.Errorf("admin should see the session: %v %d", err, rec.Code)
	}
}

func multipartUpload(t *testing.T, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	hdr.Set("Content-Type", contentType)
	part, err := w.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(data)
	_ = w.Close()

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	ctx := auth.WithUser(req.Context(), "nurse-1", []string{auth.RoleNurse})
	ctx = context.WithValue(ctx, db.TenantIDKey, "acme")
	return req.WithContext(ctx)
}

func TestHandler_UploadDocument(t *testing.T) {
	f := newPipelineFixture(t)
	h := NewHandler(f.pipeline)
	s := mustSession(t)(f.pipeline.Create(context.Background(), "acme", "nurse-1"))

	c, rec := newHandlerContext(multipartUpload(t, "board.png", "image/png", pngDoc().Data), "id", s.ID)
	if err := h.UploadDocument(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := decodeSession(t, rec)
	if got.Step != StepReview || len(got.Candidates.Items) != 3 {
		t.Errorf("unexpected session after upload %+v", got)
	}
}

func TestHandler_UploadUnsupportedType(t *testing.T) {
	f := newPipelineFixture(t)
	h := NewHandler(f.pipeline)
	s := mustSession(t)(f.pipeline.Create(context.Background(), "acme", "nurse-1"))

	c, _ := newHandlerContext(multipartUpload(t, "notes.docx", "application/msword", []byte("doc")), "id", s.ID)
	if code := httpCode(t, h.UploadDocument(c)); code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", code)
	}
}

func TestHandler_ExtractionFailureReturnsSession(t *testing.T) {
	f := newPipelineFixture(t)
	f.extractor.err = errBackend
	h := NewHandler(f.pipeline)
	s := mustSession(t)(f.pipeline.Create(context.Background(), "acme", "nurse-1"))

	body, _ := json.Marshal(textRequest{Text: "Ana Costa, leito 4"})
	c, rec := newHandlerContext(requestAs(http.MethodPost, "/", body, "nurse-1", auth.RoleNurse), "id", s.ID)
	if err := h.SubmitText(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var resp struct {
		Message string  `json:"message"`
		Session Session `json:"session"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Session.Step != StepUpload || resp.Message == "" {
		t.Errorf("unexpected failure body %s", rec.Body.String())
	}
}

func TestHandler_IllegalTransitionIsConflict(t *testing.T) {
	f := newPipelineFixture(t)
	h := NewHandler(f.pipeline)
	s := mustSession(t)(f.pipeline.Create(context.Background(), "acme", "nurse-1"))

	c, _ := newHandlerContext(requestAs(http.MethodPost, "/", nil, "nurse-1", auth.RoleNurse), "id", s.ID)
	if code := httpCode(t, h.Commit(c)); code != http.StatusConflict {
		t.Errorf("expected 409, got %d", code)
	}
}

func TestHandler_CandidateNotFound(t *testing.T) {
	f := newPipelineFixture(t)
	h := NewHandler(f.pipeline)
	s := f.toReview(t)

	c, _ := newHandlerContext(requestAs(http.MethodPost, "/", nil, "nurse-1", auth.RoleNurse), "id", s.ID, "cid", "c42")
	if code := httpCode(t, h.ToggleCandidate(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_CommitEditValidation(t *testing.T) {
	f := newPipelineFixture(t)
	h := NewHandler(f.pipeline)
	s := f.toReview(t)
	_ = mustSession(t)(f.pipeline.StartEdit(context.Background(), s.ID, "c1"))

	c, _ := newHandlerContext(requestAs(http.MethodPut, "/", []byte(`{"name":"  "}`), "nurse-1", auth.RoleNurse), "id", s.ID, "cid", "c1")
	if code := httpCode(t, h.CommitEdit(c)); code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", code)
	}

	c, rec := newHandlerContext(requestAs(http.MethodPut, "/", []byte(`{"name":"Ana Maria Costa","bed_label":"7"}`), "nurse-1", auth.RoleNurse), "id", s.ID, "cid", "c1")
	if err := h.CommitEdit(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := decodeSession(t, rec)
	if got.Candidates.Items[0].Name != "Ana Maria Costa" || got.Candidates.Items[0].BedLabel != "7" {
		t.Errorf("edit not applied: %+v", got.Candidates.Items[0])
	}
}

func TestHandler_DuplicateLookup(t *testing.T) {
	f := newPipelineFixture(t)
	h := NewHandler(f.pipeline)
	s := f.toReview(t)
	_ = mustSession(t)(f.pipeline.ConfirmReview(context.Background(), s.ID))

	c, rec := newHandlerContext(requestAs(http.MethodGet, "/?name=ANA+COSTA", nil, "nurse-1", auth.RoleNurse), "id", s.ID)
	if err := h.GetDuplicates(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp duplicateLookup
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.IsDuplicate || len(resp.Matches) != 1 {
		t.Errorf("unexpected lookup %s", rec.Body.String())
	}

	c, rec = newHandlerContext(requestAs(http.MethodGet, "/?name=Carla+Dias", nil, "nurse-1", auth.RoleNurse), "id", s.ID)
	_ = h.GetDuplicates(c)
	if !strings.Contains(rec.Body.String(), `"matches":[]`) {
		t.Errorf("expected empty matches list, got %s", rec.Body.String())
	}
}

func TestHandler_AssignmentFlow(t *testing.T) {
	f := newPipelineFixture(t)
	h := NewHandler(f.pipeline)
	ctx := context.Background()
	s := f.toReview(t)
	s = mustSession(t)(f.pipeline.ConfirmReview(ctx, s.ID))
	s = mustSession(t)(f.pipeline.AcknowledgeDuplicates(ctx, s.ID))

	c, _ := newHandlerContext(requestAs(http.MethodPut, "/", []byte(`{}`), "nurse-1", auth.RoleNurse), "id", s.ID)
	if code := httpCode(t, h.SetAssignment(c)); code != http.StatusBadRequest {
		t.Errorf("empty assignment: expected 400, got %d", code)
	}

	body := []byte(`{"facility_id":"` + f.facility.ID.String() + `"}`)
	c, _ = newHandlerContext(requestAs(http.MethodPut, "/", body, "nurse-1", auth.RoleNurse), "id", s.ID)
	if err := h.SetAssignment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c, _ = newHandlerContext(requestAs(http.MethodPost, "/", nil, "nurse-1", auth.RoleNurse), "id", s.ID)
	if code := httpCode(t, h.ConfirmAssignment(c)); code != http.StatusUnprocessableEntity {
		t.Errorf("missing team: expected 422, got %d", code)
	}

	c, rec := newHandlerContext(requestAs(http.MethodGet, "/", nil, "nurse-1", auth.RoleNurse), "id", s.ID)
	if err := h.AssignmentOptions(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var opts AssignmentOptions
	_ = json.Unmarshal(rec.Body.Bytes(), &opts)
	if len(opts.Facilities) != 1 || len(opts.Teams) != 1 || opts.ConfigurationRequired {
		t.Errorf("unexpected options %s", rec.Body.String())
	}
}

func TestHandler_CommitAndAbandon(t *testing.T) {
	f := newPipelineFixture(t)
	h := NewHandler(f.pipeline)
	s := f.toConfirmation(t)

	c, rec := newHandlerContext(requestAs(http.MethodPost, "/", nil, "nurse-1", auth.RoleNurse), "id", s.ID)
	if err := h.Commit(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := decodeSession(t, rec)
	if got.Summary == nil || got.Summary.SuccessCount != 2 || got.Summary.Toast.Kind != ToastSuccess {
		t.Errorf("unexpected summary %s", rec.Body.String())
	}

	c, rec = newHandlerContext(requestAs(http.MethodDelete, "/", nil, "nurse-1", auth.RoleNurse), "id", s.ID)
	if err := h.AbandonSession(c); err != nil || rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d (%v)", rec.Code, err)
	}
}

func TestHandler_RoutesRequireRole(t *testing.T) {
	e := echo.New()
	h := NewHandler(newPipelineFixture(t).pipeline)
	h.RegisterRoutes(e.Group("/api/v1"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/intake/sessions", nil)
	req = req.WithContext(auth.WithUser(req.Context(), "guest", []string{"viewer"}))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}
