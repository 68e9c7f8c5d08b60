package billing

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/money"
	"github.com/hms/hms/pkg/pagination"
)

type Handler struct {
	svc      *Service
	validate *validator.Validate
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, validate: validator.New()}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "billing", "finance"))
	readGroup.GET("/invoices", h.ListInvoices)
	readGroup.GET("/invoices/unpaid", h.UnpaidInvoices)
	readGroup.GET("/invoices/:id", h.GetInvoice)

	writeGroup := api.Group("", auth.RequireRole("admin", "billing"))
	writeGroup.POST("/invoices", h.CreateInvoice)
	writeGroup.PATCH("/invoices/:id", h.UpdateInvoice)
	writeGroup.POST("/invoices/:id/issue", h.IssueInvoice)
	writeGroup.POST("/invoices/:id/cancel", h.CancelInvoice)
}

type lineItemRequest struct {
	Description string          `json:"description" validate:"required"`
	Quantity    int             `json:"quantity" validate:"gt=0"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type createInvoiceRequest struct {
	PatientID uuid.UUID         `json:"patient_id" validate:"required"`
	Currency  string            `json:"currency" validate:"required"`
	LineItems []lineItemRequest `json:"line_items" validate:"required,min=1,dive"`
	Tax       decimal.Decimal   `json:"tax"`
	Discount  decimal.Decimal   `json:"discount"`
	DueDate   *time.Time        `json:"due_date"`
	Notes     *string           `json:"notes"`
	Status    string            `json:"status" validate:"omitempty,oneof=draft issued"`
}

type updateInvoiceRequest struct {
	LineItems []lineItemRequest `json:"line_items" validate:"required,min=1,dive"`
	Tax       decimal.Decimal   `json:"tax"`
	Discount  decimal.Decimal   `json:"discount"`
	DueDate   *time.Time        `json:"due_date"`
	Notes     *string           `json:"notes"`
}

// toLineItems converts display amounts to storage units. Callers must
// have resolved the currency via money.Lookup already.
func toLineItems(code string, in []lineItemRequest) []LineItem {
	items := make([]LineItem, len(in))
	for i, li := range in {
		units, _ := money.ToStorage(li.UnitPrice, code)
		items[i] = LineItem{
			Description:    li.Description,
			Quantity:       li.Quantity,
			UnitPriceUnits: units,
		}
	}
	return items
}

func (h *Handler) CreateInvoice(c echo.Context) error {
	var req createInvoiceRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	if err := h.validate.Struct(&req); err != nil {
		return apperr.Validation("%v", err)
	}
	cur, err := money.Lookup(req.Currency)
	if err != nil {
		return err
	}
	tax, _ := money.ToStorage(req.Tax, cur.Code)
	discount, _ := money.ToStorage(req.Discount, cur.Code)
	inv := &Invoice{
		PatientID:     req.PatientID,
		CurrencyCode:  cur.Code,
		Status:        req.Status,
		LineItems:     toLineItems(cur.Code, req.LineItems),
		TaxUnits:      tax,
		DiscountUnits: discount,
		DueDate:       req.DueDate,
		Notes:         req.Notes,
	}
	if err := h.svc.CreateInvoice(c.Request().Context(), inv); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, inv)
}

func (h *Handler) GetInvoice(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	inv, err := h.svc.GetInvoice(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) ListInvoices(c echo.Context) error {
	pg := pagination.FromContext(c)
	var f InvoiceFilter
	if v := c.QueryParam("patient_id"); v != "" {
		pid, err := uuid.Parse(v)
		if err != nil {
			return apperr.Validation("invalid patient_id")
		}
		f.PatientID = pid
	}
	f.Status = c.QueryParam("status")
	f.PaymentStatus = c.QueryParam("payment_status")
	f.Currency = c.QueryParam("currency")
	if v := c.QueryParam("overdue"); v == "true" {
		f.Overdue = true
	}
	// Amount bounds arrive in display units; they only make sense for a
	// single currency, which also tells us the conversion factor.
	minRaw, maxRaw := c.QueryParam("min_amount"), c.QueryParam("max_amount")
	if minRaw != "" || maxRaw != "" {
		if f.Currency == "" {
			return apperr.Validation("currency is required when filtering by amount")
		}
		cur, err := money.Lookup(f.Currency)
		if err != nil {
			return err
		}
		f.Currency = cur.Code
		if minRaw != "" {
			units, err := parseAmountParam(minRaw, cur.Code, "min_amount")
			if err != nil {
				return err
			}
			f.MinTotalUnits = &units
		}
		if maxRaw != "" {
			units, err := parseAmountParam(maxRaw, cur.Code, "max_amount")
			if err != nil {
				return err
			}
			f.MaxTotalUnits = &units
		}
	}
	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return apperr.Validation("invalid from date, expected YYYY-MM-DD")
		}
		f.From = &t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return apperr.Validation("invalid to date, expected YYYY-MM-DD")
		}
		f.To = &t
	}
	items, total, err := h.svc.ListInvoices(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func parseAmountParam(raw, code, name string) (int64, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, apperr.Validation("invalid %s: %q", name, raw)
	}
	units, err := money.ToStorage(d, code)
	if err != nil {
		return 0, err
	}
	return units, nil
}

func (h *Handler) UnpaidInvoices(c echo.Context) error {
	pid, err := uuid.Parse(c.QueryParam("patient_id"))
	if err != nil {
		return apperr.Validation("invalid patient_id")
	}
	items, err := h.svc.UnpaidInvoices(c.Request().Context(), pid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) UpdateInvoice(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	var req updateInvoiceRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	if err := h.validate.Struct(&req); err != nil {
		return apperr.Validation("%v", err)
	}
	current, err := h.svc.GetInvoice(c.Request().Context(), id)
	if err != nil {
		return err
	}
	code := current.CurrencyCode
	tax, _ := money.ToStorage(req.Tax, code)
	discount, _ := money.ToStorage(req.Discount, code)
	edit := &Invoice{
		LineItems:     toLineItems(code, req.LineItems),
		TaxUnits:      tax,
		DiscountUnits: discount,
		DueDate:       req.DueDate,
		Notes:         req.Notes,
	}
	inv, err := h.svc.UpdateInvoice(c.Request().Context(), id, edit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) IssueInvoice(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	inv, err := h.svc.IssueInvoice(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) CancelInvoice(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	inv, err := h.svc.CancelInvoice(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inv)
}
