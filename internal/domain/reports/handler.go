package reports

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/financial/reports", auth.RequireRole("admin", "finance"))
	g.GET("", h.Financial)
	g.GET("/outstanding", h.Outstanding)
	g.GET("/payment-methods", h.PaymentMethods)
}

func (h *Handler) Financial(c echo.Context) error {
	from, to, err := dateRange(c)
	if err != nil {
		return err
	}
	report, err := h.svc.Financial(c.Request().Context(), from, to, c.QueryParam("group_by"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) Outstanding(c echo.Context) error {
	buckets, err := h.svc.Outstanding(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, buckets)
}

func (h *Handler) PaymentMethods(c echo.Context) error {
	from, to, err := dateRange(c)
	if err != nil {
		return err
	}
	breakdown, err := h.svc.PaymentMethods(c.Request().Context(), from, to)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, breakdown)
}

func dateRange(c echo.Context) (from, to time.Time, err error) {
	if v := c.QueryParam("from"); v != "" {
		from, err = time.Parse("2006-01-02", v)
		if err != nil {
			return from, to, apperr.Validation("invalid from date, want YYYY-MM-DD")
		}
	}
	if v := c.QueryParam("to"); v != "" {
		to, err = time.Parse("2006-01-02", v)
		if err != nil {
			return from, to, apperr.Validation("invalid to date, want YYYY-MM-DD")
		}
		// Make the range inclusive of the end date.
		to = to.AddDate(0, 0, 1)
	}
	return from, to, nil
}
