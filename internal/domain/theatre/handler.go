package theatre

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/theatreops/theatre/pkg/pagination"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the read endpoints on api and the generate endpoint
// behind the given middleware (rate limit, body limit).
func (h *Handler) RegisterRoutes(api *echo.Group, generateMW ...echo.MiddlewareFunc) {
	api.GET("/theatre-sessions", h.ListSessions)
	api.GET("/theatre-sessions/export", h.ExportSessions)
	api.GET("/theatre-sessions/:id", h.GetSession)

	api.POST("/theatre-schedules/generate", h.Generate, generateMW...)
}

func (h *Handler) ListSessions(c echo.Context) error {
	year, month, err := monthFromQuery(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	sessions, total, err := h.svc.ListSessions(c.Request().Context(), year, month, pg.Limit, pg.Offset)
	if err != nil {
		return toHTTPError(err)
	}
	resp := pagination.NewResponse(sessions, total, pg.Limit, pg.Offset)
	resp.Links = pg.Links(c.Request().URL, total)
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetSession(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	s, err := h.svc.GetSession(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) ExportSessions(c echo.Context) error {
	year, month, err := monthFromQuery(c)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := h.svc.ExportMonth(c.Request().Context(), &buf, year, month); err != nil {
		return toHTTPError(err)
	}
	name := fmt.Sprintf("theatre-schedule-%04d-%02d.xlsx", year, int(month))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Blob(http.StatusOK, xlsxContentType, buf.Bytes())
}

// Generate runs a month synchronously. A persistence failure still returns
// the summary so callers can see which sessions failed.
//
// The run is detached from the request: once the month has been cleared a
// client disconnect must not abort the writes.
func (h *Handler) Generate(c echo.Context) error {
	var req GenerateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sum, err := h.svc.Generate(context.WithoutCancel(c.Request().Context()), req)
	if err != nil {
		if errors.Is(err, ErrPersistence) && sum != nil {
			return c.JSON(http.StatusInternalServerError, map[string]interface{}{
				"message": err.Error(),
				"summary": sum,
			})
		}
		return toHTTPError(err)
	}
	status := http.StatusCreated
	if req.DryRun {
		status = http.StatusOK
	}
	return c.JSON(status, sum)
}

func monthFromQuery(c echo.Context) (int, time.Month, error) {
	year, err := strconv.Atoi(c.QueryParam("year"))
	if err != nil {
		return 0, 0, echo.NewHTTPError(http.StatusBadRequest, "invalid year")
	}
	month, err := strconv.Atoi(c.QueryParam("month"))
	if err != nil {
		return 0, 0, echo.NewHTTPError(http.StatusBadRequest, "invalid month")
	}
	if err := ValidateMonth(year, time.Month(month)); err != nil {
		return 0, 0, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return year, time.Month(month), nil
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidYear), errors.Is(err, ErrInvalidMonth):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "theatre session not found")
	case errors.Is(err, ErrRunInProgress):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
