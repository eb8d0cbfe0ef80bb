package hdschedule

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/renalcare/hdschedule/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the resource on g, normally /api/hd-schedule.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	readGroup := g.Group("", auth.RequireRole("admin", "physician", "nurse", "registrar"))
	readGroup.GET("/day", h.ListByDate)
	readGroup.GET("/slots", h.ListSlots)
	readGroup.GET("/:id", h.GetAppointment)

	writeGroup := g.Group("", auth.RequireRole("admin", "physician", "nurse"))
	writeGroup.POST("/book", h.Book)
	writeGroup.DELETE("/:id", h.Cancel)
}

func (h *Handler) ListByDate(c echo.Context) error {
	items, err := h.svc.ListByDate(c.Request().Context(), c.QueryParam("date"))
	if err != nil {
		if IsValidation(err) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListSlots(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Slots())
}

func (h *Handler) Book(c echo.Context) error {
	var req BookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	appt, err := h.svc.Book(c.Request().Context(), &req)
	switch {
	case err == nil:
		return c.JSON(http.StatusCreated, appt)
	case errors.Is(err, ErrSlotTaken):
		return echo.NewHTTPError(http.StatusConflict,
			fmt.Sprintf("slot %s on %s is already booked", req.SlotID, strings.TrimSpace(req.Date)))
	case IsValidation(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) GetAppointment(c echo.Context) error {
	// An id that does not parse cannot name a stored appointment.
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	}
	appt, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) Cancel(c echo.Context) error {
	// An id that does not parse cannot name a stored appointment.
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	}
	if err := h.svc.Cancel(c.Request().Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
