package claims

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
)

func newTestHandler() (*Handler, *testEnv, *echo.Echo) {
	env := newTestEnv()
	h := NewHandler(env.svc)
	e := echo.New()
	e.HTTPErrorHandler = apperr.EchoErrorHandler
	return h, env, e
}

func TestHandler_CreateClaim(t *testing.T) {
	h, env, e := newTestHandler()
	inv := env.store.addInvoice(10000, 0)
	body := `{
		"insurer": "Jubilee Insurance",
		"policy_number": "POL-7781",
		"amount": "75.00"
	}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("invoice_id")
	c.SetParamValues(inv.ID.String())

	if err := h.CreateClaim(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	var claim Claim
	if err := json.Unmarshal(rec.Body.Bytes(), &claim); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if claim.ClaimNumber != "CLM-0001" {
		t.Errorf("claim number = %q, want CLM-0001", claim.ClaimNumber)
	}
	if claim.ClaimedUnits != 7500 {
		t.Errorf("claimed = %d cents, want 7500", claim.ClaimedUnits)
	}
}

func TestHandler_CreateClaim_MissingInsurer(t *testing.T) {
	h, env, e := newTestHandler()
	inv := env.store.addInvoice(10000, 0)
	body := `{"policy_number": "POL-1"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("invoice_id")
	c.SetParamValues(inv.ID.String())

	if err := h.CreateClaim(c); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestHandler_UpdateClaimStatus(t *testing.T) {
	h, env, e := newTestHandler()
	inv := env.store.addInvoice(10000, 0)
	mustCreate(t, env, inv.ID, 10000)
	mustSubmit(t, env, inv.ID)
	if _, err := env.svc.UpdateStatus(context.Background(), inv.ID, StatusInput{Status: billing.ClaimStatusProcessing}); err != nil {
		t.Fatal(err)
	}

	body := `{"status": "approved", "approved_amount": "80.00"}`
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("invoice_id")
	c.SetParamValues(inv.ID.String())

	if err := h.UpdateClaimStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var claim Claim
	if err := json.Unmarshal(rec.Body.Bytes(), &claim); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if claim.Status != billing.ClaimStatusApproved {
		t.Errorf("status = %q, want approved", claim.Status)
	}
	if claim.ApprovedUnits == nil || *claim.ApprovedUnits != 8000 {
		t.Errorf("approved = %v cents, want 8000", claim.ApprovedUnits)
	}
}

func TestHandler_UpdateClaimStatus_InsurerVocabulary(t *testing.T) {
	h, env, e := newTestHandler()
	inv := env.store.addInvoice(10000, 0)
	mustCreate(t, env, inv.ID, 10000)
	mustSubmit(t, env, inv.ID)

	do := func(body string) (*httptest.ResponseRecorder, error) {
		req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("invoice_id")
		c.SetParamValues(inv.ID.String())
		return rec, h.UpdateClaimStatus(c)
	}

	// The insurer's own wording drives the same lifecycle.
	rec, err := do(`{"status": "Under Review"}`)
	if err != nil {
		t.Fatalf("Under Review: %v", err)
	}
	var claim Claim
	if err := json.Unmarshal(rec.Body.Bytes(), &claim); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if claim.Status != billing.ClaimStatusProcessing {
		t.Errorf("status = %q, want processing", claim.Status)
	}
	if claim.InsurerStatus != "Under Review" {
		t.Errorf("insurer status = %q, want Under Review", claim.InsurerStatus)
	}

	rec, err = do(`{"status": "Denied", "denial_reason": "not covered"}`)
	if err != nil {
		t.Fatalf("Denied: %v", err)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &claim); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if claim.Status != billing.ClaimStatusRejected {
		t.Errorf("status = %q, want rejected", claim.Status)
	}
	if claim.InsurerStatus != "Denied" {
		t.Errorf("insurer status = %q, want Denied", claim.InsurerStatus)
	}
}

func TestHandler_GetClaim_NotFound(t *testing.T) {
	h, env, e := newTestHandler()
	inv := env.store.addInvoice(10000, 0) // no claim opened

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("invoice_id")
	c.SetParamValues(inv.ID.String())

	if err := h.GetClaim(c); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestHandler_RoleDenied(t *testing.T) {
	h, env, e := newTestHandler()
	inv := env.store.addInvoice(10000, 0)
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := context.WithValue(c.Request().Context(), auth.UserRolesKey, []string{"finance"})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	h.RegisterRoutes(e.Group("/api/v1"))

	body := `{"insurer": "Jubilee", "policy_number": "POL-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/claims/from-billing/"+inv.ID.String(), strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for finance role on claim creation, got %d", rec.Code)
	}
}
