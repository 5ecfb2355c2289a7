package intake

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/ward/internal/domain/identity"
	"github.com/ehr/ward/internal/platform/auth"
	"github.com/ehr/ward/internal/platform/db"
	"github.com/ehr/ward/internal/platform/extraction"
)

type Handler struct {
	pipeline *Pipeline
}

func NewHandler(p *Pipeline) *Handler {
	return &Handler{pipeline: p}
}

// RegisterRoutes mounts the intake API. extractLimit wraps only the two
// routes that call the recognition service.
func (h *Handler) RegisterRoutes(api *echo.Group, extractLimit ...echo.MiddlewareFunc) {
	g := api.Group("/intake/sessions", auth.RequireRole(auth.RolePhysician, auth.RoleNurse))
	g.POST("", h.CreateSession)
	g.GET("/:id", h.GetSession)
	g.DELETE("/:id", h.AbandonSession)

	g.POST("/:id/document", h.UploadDocument, extractLimit...)
	g.POST("/:id/text", h.SubmitText, extractLimit...)
	g.GET("/:id/document", h.DownloadDocument)

	g.POST("/:id/candidates/select-all", h.SelectAll)
	g.POST("/:id/candidates/deselect-all", h.DeselectAll)
	g.POST("/:id/candidates/:cid/toggle", h.ToggleCandidate)
	g.POST("/:id/candidates/:cid/edit", h.StartEdit)
	g.PUT("/:id/candidates/:cid", h.CommitEdit)
	g.DELETE("/:id/candidates/:cid/edit", h.CancelEdit)
	g.DELETE("/:id/candidates/:cid", h.RemoveCandidate)

	g.POST("/:id/review/confirm", h.ConfirmReview)
	g.GET("/:id/duplicates", h.GetDuplicates)
	g.POST("/:id/duplicates/acknowledge", h.AcknowledgeDuplicates)

	g.GET("/:id/assignment/options", h.AssignmentOptions)
	g.PUT("/:id/assignment", h.SetAssignment)
	g.POST("/:id/assignment/confirm", h.ConfirmAssignment)

	g.POST("/:id/back", h.Back)
	g.POST("/:id/commit", h.Commit)
}

// -- Session --

func (h *Handler) CreateSession(c echo.Context) error {
	ctx := c.Request().Context()
	s, err := h.pipeline.Create(ctx, db.TenantFromContext(ctx), auth.UserIDFromContext(ctx))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, s)
}

func (h *Handler) GetSession(c echo.Context) error {
	s, err := h.authorize(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) AbandonSession(c echo.Context) error {
	s, err := h.authorize(c)
	if err != nil {
		return err
	}
	if err := h.pipeline.Abandon(c.Request().Context(), s.ID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// authorize loads the session named in the path and hides sessions that
// belong to another user or tenant. Admins see every session of their
// tenant.
func (h *Handler) authorize(c echo.Context) (*Session, error) {
	ctx := c.Request().Context()
	s, err := h.pipeline.Get(ctx, c.Param("id"))
	if err != nil {
		return nil, httpError(err)
	}
	if tenant := db.TenantFromContext(ctx); tenant != "" && s.TenantID != "" && tenant != s.TenantID {
		return nil, httpError(ErrSessionNotFound)
	}
	user := auth.UserIDFromContext(ctx)
	if s.OwnerID != "" && s.OwnerID != user && !auth.HasRole(auth.RolesFromContext(ctx)) {
		return nil, httpError(ErrSessionNotFound)
	}
	return s, nil
}

// -- Upload --

func (h *Handler) UploadDocument(c echo.Context) error {
	s, err := h.authorize(c)
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field \"file\" is required")
	}
	limit := h.pipeline.MaxUploadBytes()
	if fh.Size > limit {
		return httpError(fmt.Errorf("%w: %d bytes, limit %d", extraction.ErrTooLarge, fh.Size, limit))
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	updated, err := h.pipeline.SubmitDocument(c.Request().Context(), s.ID, extraction.Document{
		Filename: fh.Filename,
		MimeType: fh.Header.Get("Content-Type"),
		Data:     data,
	})
	return h.extractionResponse(c, updated, err)
}

type textRequest struct {
	Text string `json:"text"`
}

func (h *Handler) SubmitText(c echo.Context) error {
	s, err := h.authorize(c)
	if err != nil {
		return err
	}
	var req textRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.pipeline.SubmitText(c.Request().Context(), s.ID, req.Text)
	return h.extractionResponse(c, updated, err)
}

type extractionFailure struct {
	Message string   `json:"message"`
	Session *Session `json:"session"`
}

func (h *Handler) extractionResponse(c echo.Context, s *Session, err error) error {
	if errors.Is(err, ErrExtractionFailed) && s != nil {
		return c.JSON(http.StatusUnprocessableEntity, extractionFailure{Message: err.Error(), Session: s})
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) DownloadDocument(c echo.Context) error {
	s, err := h.authorize(c)
	if err != nil {
		return err
	}
	rc, ref, err := h.pipeline.OpenDocument(c.Request().Context(), s.ID)
	if err != nil {
		return httpError(err)
	}
	defer rc.Close()
	c.Response().Header().Set(echo.HeaderContentDisposition, "attachment; filename="+strconv.Quote(ref.Filename))
	return c.Stream(http.StatusOK, ref.ContentType, rc)
}

// -- Curation --

// act runs op on an authorized session and writes the updated session.
func (h *Handler) act(c echo.Context, op func(id, cid string) (*Session, error)) error {
	s, err := h.authorize(c)
	if err != nil {
		return err
	}
	updated, err := op(s.ID, c.Param("cid"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) ToggleCandidate(c echo.Context) error {
	return h.act(c, func(id, cid string) (*Session, error) {
		return h.pipeline.ToggleSelection(c.Request().Context(), id, cid)
	})
}

func (h *Handler) StartEdit(c echo.Context) error {
	return h.act(c, func(id, cid string) (*Session, error) {
		return h.pipeline.StartEdit(c.Request().Context(), id, cid)
	})
}

func (h *Handler) CommitEdit(c echo.Context) error {
	var patch CandidatePatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return h.act(c, func(id, cid string) (*Session, error) {
		return h.pipeline.CommitEdit(c.Request().Context(), id, cid, patch)
	})
}

func (h *Handler) CancelEdit(c echo.Context) error {
	return h.act(c, func(id, cid string) (*Session, error) {
		return h.pipeline.CancelEdit(c.Request().Context(), id, cid)
	})
}

func (h *Handler) RemoveCandidate(c echo.Context) error {
	return h.act(c, func(id, cid string) (*Session, error) {
		return h.pipeline.RemoveCandidate(c.Request().Context(), id, cid)
	})
}

func (h *Handler) SelectAll(c echo.Context) error {
	return h.act(c, func(id, _ string) (*Session, error) {
		return h.pipeline.SelectAll(c.Request().Context(), id)
	})
}

func (h *Handler) DeselectAll(c echo.Context) error {
	return h.act(c, func(id, _ string) (*Session, error) {
		return h.pipeline.DeselectAll(c.Request().Context(), id)
	})
}

// -- Duplicates --

func (h *Handler) ConfirmReview(c echo.Context) error {
	return h.act(c, func(id, _ string) (*Session, error) {
		return h.pipeline.ConfirmReview(c.Request().Context(), id)
	})
}

type duplicateLookup struct {
	Name        string                  `json:"name"`
	IsDuplicate bool                    `json:"is_duplicate"`
	Matches     []identity.PatientMatch `json:"matches"`
}

func (h *Handler) GetDuplicates(c echo.Context) error {
	s, err := h.authorize(c)
	if err != nil {
		return err
	}
	name := c.QueryParam("name")
	if name == "" {
		return c.JSON(http.StatusOK, s.Duplicates)
	}
	dup, matches, err := h.pipeline.DuplicatesFor(c.Request().Context(), s.ID, name)
	if err != nil {
		return httpError(err)
	}
	if matches == nil {
		matches = []identity.PatientMatch{}
	}
	return c.JSON(http.StatusOK, duplicateLookup{Name: name, IsDuplicate: dup, Matches: matches})
}

func (h *Handler) AcknowledgeDuplicates(c echo.Context) error {
	return h.act(c, func(id, _ string) (*Session, error) {
		return h.pipeline.AcknowledgeDuplicates(c.Request().Context(), id)
	})
}

// -- Assignment --

func (h *Handler) AssignmentOptions(c echo.Context) error {
	s, err := h.authorize(c)
	if err != nil {
		return err
	}
	opts, err := h.pipeline.AssignmentOptions(c.Request().Context(), s.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, opts)
}

type assignmentRequest struct {
	FacilityID *uuid.UUID `json:"facility_id"`
	TeamID     *uuid.UUID `json:"team_id"`
}

func (h *Handler) SetAssignment(c echo.Context) error {
	var req assignmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.FacilityID == nil && req.TeamID == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "facility_id or team_id is required")
	}
	return h.act(c, func(id, _ string) (*Session, error) {
		return h.pipeline.SetAssignment(c.Request().Context(), id, req.FacilityID, req.TeamID)
	})
}

func (h *Handler) ConfirmAssignment(c echo.Context) error {
	return h.act(c, func(id, _ string) (*Session, error) {
		return h.pipeline.ConfirmAssignment(c.Request().Context(), id)
	})
}

// -- Navigation and commit --

func (h *Handler) Back(c echo.Context) error {
	return h.act(c, func(id, _ string) (*Session, error) {
		return h.pipeline.Back(c.Request().Context(), id)
	})
}

func (h *Handler) Commit(c echo.Context) error {
	actor := auth.UserIDFromContext(c.Request().Context())
	return h.act(c, func(id, _ string) (*Session, error) {
		return h.pipeline.Commit(c.Request().Context(), id, actor)
	})
}

// httpError maps pipeline errors to HTTP responses.
func httpError(err error) error {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he
	case errors.Is(err, ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "intake session not found")
	case errors.Is(err, ErrCandidateNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrIllegalTransition), errors.Is(err, ErrNotCuratable):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNoDocument):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, extraction.ErrUnsupportedType),
		errors.Is(err, extraction.ErrTooLarge),
		errors.Is(err, extraction.ErrEmptyDocument),
		errors.Is(err, ErrNoSelection),
		errors.Is(err, ErrFacilityRequired),
		errors.Is(err, ErrTeamRequired),
		errors.Is(err, ErrUnknownFacility),
		errors.Is(err, ErrUnknownTeam),
		errors.Is(err, ErrNameRequired),
		errors.Is(err, ErrNotEditing):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
