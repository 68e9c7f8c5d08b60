package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hms/hms/internal/platform/apperr"
)

func newTestMpesa(t *testing.T, handler http.HandlerFunc) (*MpesaClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewMpesaClient(MpesaConfig{
		BaseURL:        srv.URL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		Shortcode:      "174379",
		Passkey:        "passkey",
		CallbackURL:    "https://hms.example.com/api/v1/payments/webhook/mpesa",
	})
	return client, srv
}

func TestMpesaRequestPayment_Success(t *testing.T) {
	var gotPush stkPushRequest
	client, _ := newTestMpesa(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			user, pass, ok := r.BasicAuth()
			if !ok || user != "key" || pass != "secret" {
				t.Errorf("unexpected basic auth: %s/%s", user, pass)
			}
			json.NewEncoder(w).Encode(mpesaTokenResponse{AccessToken: "tok", ExpiresIn: "3599"})
		case "/mpesa/stkpush/v1/processrequest":
			if got := r.Header.Get("Authorization"); got != "Bearer tok" {
				t.Errorf("unexpected auth header %q", got)
			}
			json.NewDecoder(r.Body).Decode(&gotPush)
			json.NewEncoder(w).Encode(stkPushResponse{
				CheckoutRequestID: "ws_CO_123",
				ResponseCode:      "0",
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	// 150.00 KES in storage units
	intent, err := client.RequestPayment(context.Background(), "254712345678", 15000, "KES", "INV-2026-000001", "invoice payment")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if intent.ProviderRef != "ws_CO_123" {
		t.Errorf("expected checkout id ws_CO_123, got %s", intent.ProviderRef)
	}
	if intent.Status != IntentPending {
		t.Errorf("expected pending intent, got %s", intent.Status)
	}
	if gotPush.Amount != 150 {
		t.Errorf("expected whole-unit amount 150, got %d", gotPush.Amount)
	}
	if gotPush.PhoneNumber != "254712345678" {
		t.Errorf("unexpected phone %s", gotPush.PhoneNumber)
	}
}

func TestMpesaRequestPayment_Rejected(t *testing.T) {
	client, _ := newTestMpesa(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/v1/generate" {
			json.NewEncoder(w).Encode(mpesaTokenResponse{AccessToken: "tok"})
			return
		}
		json.NewEncoder(w).Encode(stkPushResponse{
			ResponseCode:        "1",
			ResponseDescription: "insufficient funds",
		})
	})

	_, err := client.RequestPayment(context.Background(), "254712345678", 15000, "KES", "ref", "desc")
	if err == nil {
		t.Fatal("expected error for rejected push")
	}
	if !apperr.IsKind(err, apperr.KindProvider) {
		t.Errorf("expected ProviderError, got %v", apperr.KindOf(err))
	}
}

func TestMpesaRequestPayment_ServerError(t *testing.T) {
	client, _ := newTestMpesa(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/v1/generate" {
			json.NewEncoder(w).Encode(mpesaTokenResponse{AccessToken: "tok"})
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(stkPushResponse{ErrorMessage: "down for maintenance"})
	})

	_, err := client.RequestPayment(context.Background(), "254712345678", 15000, "KES", "ref", "desc")
	if err == nil {
		t.Fatal("expected error for provider outage")
	}
	if !apperr.IsKind(err, apperr.KindProviderUnavailable) {
		t.Errorf("expected ProviderUnavailable, got %v", apperr.KindOf(err))
	}
}

func TestMpesaAccessToken_Cached(t *testing.T) {
	var tokenCalls int
	client, _ := newTestMpesa(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/v1/generate" {
			tokenCalls++
			json.NewEncoder(w).Encode(mpesaTokenResponse{AccessToken: "tok"})
			return
		}
		json.NewEncoder(w).Encode(stkPushResponse{CheckoutRequestID: "ws_CO_1", ResponseCode: "0"})
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := client.RequestPayment(ctx, "254712345678", 100, "KES", "ref", "desc"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if tokenCalls != 1 {
		t.Errorf("expected 1 token fetch, got %d", tokenCalls)
	}
}

func TestMpesaAccessToken_RefreshedAfterExpiry(t *testing.T) {
	var tokenCalls int
	client, _ := newTestMpesa(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/v1/generate" {
			tokenCalls++
			json.NewEncoder(w).Encode(mpesaTokenResponse{AccessToken: "tok"})
			return
		}
		json.NewEncoder(w).Encode(stkPushResponse{CheckoutRequestID: "ws_CO_1", ResponseCode: "0"})
	})

	now := time.Now()
	client.now = func() time.Time { return now }

	ctx := context.Background()
	if _, err := client.RequestPayment(ctx, "254712345678", 100, "KES", "ref", "desc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := client.RequestPayment(ctx, "254712345678", 100, "KES", "ref", "desc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if tokenCalls != 2 {
		t.Errorf("expected token refresh after expiry, got %d fetches", tokenCalls)
	}
}
