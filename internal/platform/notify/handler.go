package notify

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/pkg/pagination"
)

// Handler exposes endpoint management. Registration hands out signing
// secrets, so everything here is admin-only.
type Handler struct {
	notifier *Notifier
}

func NewHandler(notifier *Notifier) *Handler {
	return &Handler{notifier: notifier}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/notify/endpoints", auth.RequireRole("admin"))
	g.POST("", h.Register)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/ping", h.Ping)
	g.POST("/:id/pause", h.Pause)
	g.POST("/:id/resume", h.Resume)
	g.GET("/:id/deliveries", h.Deliveries)
	g.POST("/deliveries/:id/redeliver", h.Redeliver)
}

type registerRequest struct {
	URL    string   `json:"url"`
	Secret string   `json:"secret"`
	Events []string `json:"events"`
}

func (h *Handler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	ep, err := h.notifier.Register(c.Request().Context(), req.URL, req.Secret, req.Events)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, ep)
}

func (h *Handler) List(c echo.Context) error {
	eps, err := h.notifier.store.ListEndpoints(c.Request().Context())
	if err != nil {
		return err
	}
	// Secrets are returned once at registration, never on reads.
	out := make([]*Endpoint, len(eps))
	for i, ep := range eps {
		clone := *ep
		clone.Secret = ""
		out[i] = &clone
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Get(c echo.Context) error {
	ep, err := h.notifier.store.GetEndpoint(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	clone := *ep
	clone.Secret = ""
	return c.JSON(http.StatusOK, &clone)
}

func (h *Handler) Delete(c echo.Context) error {
	if err := h.notifier.store.DeleteEndpoint(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Ping(c echo.Context) error {
	d, err := h.notifier.Ping(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Pause(c echo.Context) error {
	if err := h.notifier.SetActive(c.Request().Context(), c.Param("id"), false); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"active": false})
}

func (h *Handler) Resume(c echo.Context) error {
	if err := h.notifier.SetActive(c.Request().Context(), c.Param("id"), true); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"active": true})
}

func (h *Handler) Deliveries(c echo.Context) error {
	p := pagination.FromContext(c)
	logs, total, err := h.notifier.Deliveries(c.Request().Context(), c.Param("id"), p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(logs, total, p.Limit, p.Offset))
}

func (h *Handler) Redeliver(c echo.Context) error {
	d, err := h.notifier.Redeliver(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}
