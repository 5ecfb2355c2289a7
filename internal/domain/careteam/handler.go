package careteam

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/ward/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleNurse))
	read.GET("/teams", h.ListTeams)
	read.GET("/teams/:id", h.GetTeam)

	write := api.Group("", auth.RequireRole(auth.RoleAdmin))
	write.POST("/teams", h.CreateTeam)
}

func (h *Handler) ListTeams(c echo.Context) error {
	var facilityID *uuid.UUID
	if v := c.QueryParam("facility_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid facility_id")
		}
		facilityID = &id
	}
	items, err := h.svc.ListTeams(c.Request().Context(), facilityID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Team{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetTeam(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.GetTeam(c.Request().Context(), id)
	if errors.Is(err, ErrTeamNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "care team not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) CreateTeam(c echo.Context) error {
	var t Team
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateTeam(c.Request().Context(), &t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, t)
}
