package payment

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
	readGroup.GET("/payments", h.List)
	readGroup.GET("/payments/stats", h.Stats)
	readGroup.GET("/payments/:id", h.Get)
	readGroup.GET("/payments/transaction/:txn_id", h.GetByTransactionID)

	writeGroup := api.Group("", auth.RequireRole("admin", "billing"))
	writeGroup.POST("/invoices/:id/payments", h.RecordManual)
	writeGroup.POST("/invoices/:id/payments/intent", h.CreateIntent)
	writeGroup.POST("/payments/:id/retry", h.Retry)
	writeGroup.POST("/payments/:id/cancel", h.Cancel)
	writeGroup.POST("/payments/:id/refund", h.Refund)
}

type manualPaymentRequest struct {
	Method       string           `json:"method" validate:"required,oneof=cash bank_transfer check"`
	Amount       decimal.Decimal  `json:"amount"`
	CashReceived *decimal.Decimal `json:"cash_received"`
	Reference    *string          `json:"reference"`
	Notes        *string          `json:"notes"`
}

func (h *Handler) RecordManual(c echo.Context) error {
	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid invoice id")
	}
	var req manualPaymentRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	if err := h.validate.Struct(&req); err != nil {
		return apperr.Validation("%v", err)
	}

	inv, err := h.svc.ledger.GetInvoice(c.Request().Context(), invoiceID)
	if err != nil {
		return err
	}
	amount, err := money.ToStorage(req.Amount, inv.CurrencyCode)
	if err != nil {
		return err
	}
	in := ManualPaymentInput{
		InvoiceID:   invoiceID,
		Method:      req.Method,
		AmountUnits: amount,
		Reference:   req.Reference,
		Notes:       req.Notes,
	}
	if req.CashReceived != nil {
		received, err := money.ToStorage(*req.CashReceived, inv.CurrencyCode)
		if err != nil {
			return err
		}
		in.CashReceivedUnits = &received
	}
	if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
		in.ReceivedBy = &uid
	}

	p, err := h.svc.RecordManualPayment(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

type intentRequest struct {
	Method string          `json:"method" validate:"required,oneof=card mobile_money"`
	Amount decimal.Decimal `json:"amount"`
	Phone  string          `json:"phone"`
}

func (h *Handler) CreateIntent(c echo.Context) error {
	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid invoice id")
	}
	var req intentRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	if err := h.validate.Struct(&req); err != nil {
		return apperr.Validation("%v", err)
	}

	inv, err := h.svc.ledger.GetInvoice(c.Request().Context(), invoiceID)
	if err != nil {
		return err
	}
	amount, err := money.ToStorage(req.Amount, inv.CurrencyCode)
	if err != nil {
		return err
	}

	p, err := h.svc.CreatePaymentIntent(c.Request().Context(), IntentInput{
		InvoiceID:   invoiceID,
		Method:      req.Method,
		AmountUnits: amount,
		Phone:       req.Phone,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	p, err := h.svc.GetPayment(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) GetByTransactionID(c echo.Context) error {
	p, err := h.svc.GetByTransactionID(c.Request().Context(), c.Param("txn_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	var f Filter
	if v := c.QueryParam("invoice_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return apperr.Validation("invalid invoice_id")
		}
		f.InvoiceID = id
	}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return apperr.Validation("invalid patient_id")
		}
		f.PatientID = id
	}
	f.Status = c.QueryParam("status")
	f.Method = c.QueryParam("method")
	f.Provider = c.QueryParam("provider")

	items, total, err := h.svc.ListPayments(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type retryRequest struct {
	Phone string `json:"phone"`
}

func (h *Handler) Retry(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	var req retryRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	p, err := h.svc.RetryPayment(c.Request().Context(), id, req.Phone)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	p, err := h.svc.CancelPayment(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

type refundRequest struct {
	Amount *decimal.Decimal `json:"amount"`
	Reason string           `json:"reason" validate:"required"`
}

func (h *Handler) Refund(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	var req refundRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	if err := h.validate.Struct(&req); err != nil {
		return apperr.Validation("%v", err)
	}

	var amount int64
	if req.Amount != nil {
		p, err := h.svc.GetPayment(c.Request().Context(), id)
		if err != nil {
			return err
		}
		amount, err = money.ToStorage(*req.Amount, p.CurrencyCode)
		if err != nil {
			return err
		}
	}

	p, err := h.svc.RefundPayment(c.Request().Context(), id, amount, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Stats(c echo.Context) error {
	var from, to *time.Time
	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return apperr.Validation("invalid from date, expected YYYY-MM-DD")
		}
		from = &t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return apperr.Validation("invalid to date, expected YYYY-MM-DD")
		}
		to = &t
	}
	stats, err := h.svc.Stats(c.Request().Context(), from, to)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}
