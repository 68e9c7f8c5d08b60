package claims

import (
	"net/http"

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
	reads := api.Group("", auth.RequireRole("admin", "billing", "finance"))
	reads.GET("/claims", h.ListClaims)
	reads.GET("/claims/stats", h.ClaimStats)
	reads.GET("/claims/:invoice_id", h.GetClaim)

	writes := api.Group("", auth.RequireRole("admin", "billing"))
	writes.POST("/claims/from-billing/:invoice_id", h.CreateClaim)
	writes.POST("/claims/:invoice_id/submit", h.SubmitClaim)
	writes.PATCH("/claims/:invoice_id/status", h.UpdateClaimStatus)
}

type createClaimRequest struct {
	Insurer      string          `json:"insurer" validate:"required"`
	PolicyNumber string          `json:"policy_number" validate:"required"`
	Amount       decimal.Decimal `json:"amount"`
}

func (h *Handler) CreateClaim(c echo.Context) error {
	invoiceID, err := uuid.Parse(c.Param("invoice_id"))
	if err != nil {
		return apperr.Validation("invalid invoice id")
	}
	var req createClaimRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if err := h.validate.Struct(&req); err != nil {
		return apperr.Wrap(err, apperr.KindValidation, "invalid claim")
	}

	in := CreateInput{
		InvoiceID:    invoiceID,
		Insurer:      req.Insurer,
		PolicyNumber: req.PolicyNumber,
	}
	if !req.Amount.IsZero() {
		inv, err := h.svc.invoices.GetInvoice(c.Request().Context(), invoiceID)
		if err != nil {
			return err
		}
		units, err := money.ToStorage(req.Amount, inv.CurrencyCode)
		if err != nil {
			return err
		}
		in.ClaimedUnits = units
	}

	claim, err := h.svc.CreateFromInvoice(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, claim)
}

func (h *Handler) SubmitClaim(c echo.Context) error {
	invoiceID, err := uuid.Parse(c.Param("invoice_id"))
	if err != nil {
		return apperr.Validation("invalid invoice id")
	}
	claim, err := h.svc.Submit(c.Request().Context(), invoiceID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, claim)
}

// claimStatusRequest accepts both the internal vocabulary and insurer
// wording ("Under Review", "Approved", "Denied"), so responses can be
// forwarded as received. The service rejects anything unknown.
type claimStatusRequest struct {
	Status         string           `json:"status" validate:"required"`
	ApprovedAmount *decimal.Decimal `json:"approved_amount"`
	DenialReason   *string          `json:"denial_reason"`
}

func (h *Handler) UpdateClaimStatus(c echo.Context) error {
	invoiceID, err := uuid.Parse(c.Param("invoice_id"))
	if err != nil {
		return apperr.Validation("invalid invoice id")
	}
	var req claimStatusRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if err := h.validate.Struct(&req); err != nil {
		return apperr.Wrap(err, apperr.KindValidation, "invalid status update")
	}

	in := StatusInput{Status: NormalizeStatus(req.Status), DenialReason: req.DenialReason}
	if req.ApprovedAmount != nil {
		inv, err := h.svc.invoices.GetInvoice(c.Request().Context(), invoiceID)
		if err != nil {
			return err
		}
		units, err := money.ToStorage(*req.ApprovedAmount, inv.CurrencyCode)
		if err != nil {
			return err
		}
		in.ApprovedUnits = &units
	}

	claim, err := h.svc.UpdateStatus(c.Request().Context(), invoiceID, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, claim)
}

func (h *Handler) GetClaim(c echo.Context) error {
	invoiceID, err := uuid.Parse(c.Param("invoice_id"))
	if err != nil {
		return apperr.Validation("invalid invoice id")
	}
	claim, err := h.svc.Get(c.Request().Context(), invoiceID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, claim)
}

func (h *Handler) ListClaims(c echo.Context) error {
	p := pagination.FromContext(c)
	claims, total, err := h.svc.List(c.Request().Context(), c.QueryParam("status"), p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(claims, total, p.Limit, p.Offset))
}

func (h *Handler) ClaimStats(c echo.Context) error {
	stats, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}
