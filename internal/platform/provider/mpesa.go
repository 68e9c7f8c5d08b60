package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/money"
)

// MpesaConfig carries the Daraja API credentials for STK push.
type MpesaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Shortcode      string
	Passkey        string
	CallbackURL    string
}

// MpesaClient implements MobileMoneyProvider against the Safaricom
// Daraja API. OAuth tokens are cached until shortly before expiry.
type MpesaClient struct {
	cfg    MpesaConfig
	client *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time

	now func() time.Time
}

func NewMpesaClient(cfg MpesaConfig) *MpesaClient {
	return &MpesaClient{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		now:    time.Now,
	}
}

type mpesaTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

func (m *MpesaClient) accessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" && m.now().Before(m.tokenExpiry) {
		return m.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		m.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", apperr.Wrap(err, apperr.KindProviderUnavailable, "build mpesa token request")
	}
	req.SetBasicAuth(m.cfg.ConsumerKey, m.cfg.ConsumerSecret)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", apperr.Wrap(err, apperr.KindProviderUnavailable, "fetch mpesa access token")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperr.New(providerKindForStatus(resp.StatusCode), "mpesa token endpoint returned %d", resp.StatusCode)
	}

	var tok mpesaTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", apperr.Wrap(err, apperr.KindProvider, "decode mpesa token response")
	}
	if tok.AccessToken == "" {
		return "", apperr.New(apperr.KindProvider, "mpesa token response missing access_token")
	}

	m.token = tok.AccessToken
	// Daraja tokens last one hour; refresh two minutes early.
	m.tokenExpiry = m.now().Add(58 * time.Minute)
	return m.token, nil
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	ErrorMessage        string `json:"errorMessage"`
}

// RequestPayment initiates an STK push to the customer's phone. The
// returned ProviderRef is the CheckoutRequestID that the result callback
// will carry.
func (m *MpesaClient) RequestPayment(ctx context.Context, phone string, amountUnits int64, currency, reference, description string) (*Intent, error) {
	token, err := m.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	// Daraja amounts are whole display units, not storage units.
	display, err := money.ToDisplay(amountUnits, currency)
	if err != nil {
		return nil, err
	}

	ts := m.now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(m.cfg.Shortcode + m.cfg.Passkey + ts))

	body, err := json.Marshal(stkPushRequest{
		BusinessShortCode: m.cfg.Shortcode,
		Password:          password,
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            display.Round(0).IntPart(),
		PartyA:            phone,
		PartyB:            m.cfg.Shortcode,
		PhoneNumber:       phone,
		CallBackURL:       m.cfg.CallbackURL,
		AccountReference:  reference,
		TransactionDesc:   description,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal stk push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.cfg.BaseURL+"/mpesa/stkpush/v1/processrequest", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindProviderUnavailable, "build stk push request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindProviderUnavailable, "send stk push")
	}
	defer resp.Body.Close()

	var out stkPushResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperr.Wrap(err, apperr.KindProvider, "decode stk push response")
	}

	if resp.StatusCode != http.StatusOK {
		msg := out.ErrorMessage
		if msg == "" {
			msg = out.ResponseDescription
		}
		return nil, apperr.New(providerKindForStatus(resp.StatusCode), "stk push rejected: %s", msg)
	}
	if out.ResponseCode != "0" {
		return nil, apperr.New(apperr.KindProvider, "stk push rejected: %s", out.ResponseDescription)
	}
	if out.CheckoutRequestID == "" {
		return nil, apperr.New(apperr.KindProvider, "stk push response missing CheckoutRequestID")
	}

	return &Intent{
		ProviderRef: out.CheckoutRequestID,
		Status:      IntentPending,
	}, nil
}

func providerKindForStatus(status int) apperr.Kind {
	if status >= 500 {
		return apperr.KindProviderUnavailable
	}
	return apperr.KindProvider
}
