// Package notify delivers signed billing events (payment completions,
// refunds, expiry warnings) to registered HTTP endpoints. Payloads are
// HMAC-SHA256 signed so receivers can authenticate deliveries.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hms/hms/internal/platform/apperr"
)

// Event types published by the billing pipeline.
const (
	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"
	EventPaymentRefunded  = "payment.refunded"
	EventPaymentExpiring  = "payment.expiring"
	EventInvoicePaid      = "invoice.paid"
	EventClaimApproved    = "claim.approved"
)

// Endpoint is a registered delivery destination.
type Endpoint struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret,omitempty"`
	Events    []string  `json:"events"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is one billing occurrence fanned out to subscribed endpoints.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	ResourceID string          `json:"resource_id"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Delivery records one attempt against one endpoint.
type Delivery struct {
	ID           string        `json:"id"`
	EndpointID   string        `json:"endpoint_id"`
	EventID      string        `json:"event_id"`
	EventType    string        `json:"event_type"`
	Payload      []byte        `json:"payload"`
	Signature    string        `json:"signature"`
	StatusCode   int           `json:"status_code"`
	ResponseBody string        `json:"response_body,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
	Attempt      int           `json:"attempt"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Store persists endpoints and their delivery log.
type Store interface {
	CreateEndpoint(ctx context.Context, ep *Endpoint) error
	GetEndpoint(ctx context.Context, id string) (*Endpoint, error)
	ListEndpoints(ctx context.Context) ([]*Endpoint, error)
	UpdateEndpoint(ctx context.Context, ep *Endpoint) error
	DeleteEndpoint(ctx context.Context, id string) error
	RecordDelivery(ctx context.Context, d *Delivery) error
	GetDelivery(ctx context.Context, id string) (*Delivery, error)
	ListDeliveries(ctx context.Context, endpointID string, limit, offset int) ([]*Delivery, int, error)
}

// MemStore is a mutex-guarded in-memory Store. Endpoint registrations
// are operational configuration, not financial records, so losing them
// on restart is acceptable.
type MemStore struct {
	mu         sync.RWMutex
	endpoints  map[string]*Endpoint
	deliveries map[string]*Delivery
	order      []string
}

func NewMemStore() *MemStore {
	return &MemStore{
		endpoints:  make(map[string]*Endpoint),
		deliveries: make(map[string]*Delivery),
	}
}

func (s *MemStore) CreateEndpoint(_ context.Context, ep *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints[ep.ID] = ep
	return nil
}

func (s *MemStore) GetEndpoint(_ context.Context, id string) (*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.endpoints[id]
	if !ok {
		return nil, apperr.NotFound("endpoint %s not found", id)
	}
	return ep, nil
}

func (s *MemStore) ListEndpoints(_ context.Context) ([]*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Endpoint, 0, len(s.endpoints))
	for _, ep := range s.endpoints {
		out = append(out, ep)
	}
	return out, nil
}

func (s *MemStore) UpdateEndpoint(_ context.Context, ep *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[ep.ID]; !ok {
		return apperr.NotFound("endpoint %s not found", ep.ID)
	}
	s.endpoints[ep.ID] = ep
	return nil
}

func (s *MemStore) DeleteEndpoint(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[id]; !ok {
		return apperr.NotFound("endpoint %s not found", id)
	}
	delete(s.endpoints, id)
	return nil
}

func (s *MemStore) RecordDelivery(_ context.Context, d *Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deliveries[d.ID]; !ok {
		s.order = append(s.order, d.ID)
	}
	s.deliveries[d.ID] = d
	return nil
}

func (s *MemStore) GetDelivery(_ context.Context, id string) (*Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deliveries[id]
	if !ok {
		return nil, apperr.NotFound("delivery %s not found", id)
	}
	return d, nil
}

func (s *MemStore) ListDeliveries(_ context.Context, endpointID string, limit, offset int) ([]*Delivery, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var filtered []*Delivery
	for _, id := range s.order {
		d := s.deliveries[id]
		if d != nil && d.EndpointID == endpointID {
			filtered = append(filtered, d)
		}
	}
	total := len(filtered)
	if offset >= total {
		return []*Delivery{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return filtered[offset:end], total, nil
}

// Sign computes the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches Sign(payload, secret).
func Verify(payload []byte, secret, signature string) bool {
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

type Option func(*Notifier)

func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) { n.client = c }
}

// Notifier fans events out to subscribed endpoints.
type Notifier struct {
	store  Store
	client *http.Client
	now    func() time.Time
}

func NewNotifier(store Store, opts ...Option) *Notifier {
	n := &Notifier{
		store:  store,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func validateURL(raw string) error {
	if raw == "" {
		return apperr.Validation("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return apperr.Validation("invalid url: %v", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return apperr.Validation("url scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

// Register persists a new endpoint. A missing secret gets a random one.
func (n *Notifier) Register(ctx context.Context, rawURL, secret string, events []string) (*Endpoint, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, apperr.Validation("at least one event subscription is required")
	}
	if secret == "" {
		var err error
		if secret, err = generateSecret(); err != nil {
			return nil, fmt.Errorf("generate endpoint secret: %w", err)
		}
	}
	ep := &Endpoint{
		ID:        uuid.New().String(),
		URL:       rawURL,
		Secret:    secret,
		Events:    events,
		Active:    true,
		CreatedAt: n.now(),
	}
	if err := n.store.CreateEndpoint(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

func (n *Notifier) SetActive(ctx context.Context, id string, active bool) error {
	ep, err := n.store.GetEndpoint(ctx, id)
	if err != nil {
		return err
	}
	ep.Active = active
	return n.store.UpdateEndpoint(ctx, ep)
}

// matches supports exact types plus "payment.*" and "*.completed"
// wildcard subscriptions.
func matches(pattern, eventType string) bool {
	if pattern == eventType || pattern == "*" {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(eventType, pattern[1:])
	}
	if strings.HasSuffix(pattern, ".*") {
		return strings.HasPrefix(eventType, pattern[:len(pattern)-1])
	}
	return false
}

func subscribed(ep *Endpoint, eventType string) bool {
	for _, pat := range ep.Events {
		if matches(pat, eventType) {
			return true
		}
	}
	return false
}

// Publish fans an event out to every active, subscribed endpoint.
// Failures are logged and visible in the delivery log; they never
// propagate back into the billing flow that raised the event.
func (n *Notifier) Publish(ctx context.Context, eventType, resourceID string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("encode event payload")
		return
	}
	event := Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		ResourceID: resourceID,
		Payload:    raw,
		Timestamp:  n.now(),
	}

	endpoints, err := n.store.ListEndpoints(ctx)
	if err != nil {
		log.Error().Err(err).Msg("list notify endpoints")
		return
	}
	for _, ep := range endpoints {
		if !ep.Active || !subscribed(ep, eventType) {
			continue
		}
		d := n.deliver(ctx, ep, event)
		if !d.Success {
			log.Warn().
				Str("endpoint_id", ep.ID).
				Str("event", eventType).
				Str("error", d.Error).
				Msg("event delivery failed")
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, ep *Endpoint, event Event) *Delivery {
	payload, _ := json.Marshal(event)
	now := n.now()
	d := &Delivery{
		ID:         uuid.New().String(),
		EndpointID: ep.ID,
		EventID:    event.ID,
		EventType:  event.Type,
		Payload:    payload,
		Signature:  Sign(payload, ep.Secret),
		Attempt:    1,
		CreatedAt:  now,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		d.Error = err.Error()
		n.store.RecordDelivery(ctx, d)
		return d
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Notify-Signature", "sha256="+d.Signature)
	req.Header.Set("X-Notify-Endpoint", ep.ID)
	req.Header.Set("X-Notify-Timestamp", now.UTC().Format(time.RFC3339))

	start := time.Now()
	resp, err := n.client.Do(req)
	d.Duration = time.Since(start)
	if err != nil {
		d.Error = err.Error()
		n.store.RecordDelivery(ctx, d)
		return d
	}
	defer resp.Body.Close()

	d.StatusCode = resp.StatusCode
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	d.ResponseBody = string(body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		d.Success = true
	} else {
		d.Error = fmt.Sprintf("non-2xx response: %d", resp.StatusCode)
	}
	n.store.RecordDelivery(ctx, d)
	return d
}

// Redeliver repeats a logged delivery against its endpoint, keeping the
// attempt count.
func (n *Notifier) Redeliver(ctx context.Context, deliveryID string) (*Delivery, error) {
	original, err := n.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	ep, err := n.store.GetEndpoint(ctx, original.EndpointID)
	if err != nil {
		return nil, err
	}
	var event Event
	if err := json.Unmarshal(original.Payload, &event); err != nil {
		return nil, fmt.Errorf("decode original payload: %w", err)
	}
	d := n.deliver(ctx, ep, event)
	d.Attempt = original.Attempt + 1
	if err := n.store.RecordDelivery(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Ping sends a synthetic event so an operator can verify connectivity.
func (n *Notifier) Ping(ctx context.Context, endpointID string) (*Delivery, error) {
	ep, err := n.store.GetEndpoint(ctx, endpointID)
	if err != nil {
		return nil, err
	}
	return n.deliver(ctx, ep, Event{
		ID:         uuid.New().String(),
		Type:       "notify.ping",
		ResourceID: ep.ID,
		Payload:    json.RawMessage(`{"ping":true}`),
		Timestamp:  n.now(),
	}), nil
}

func (n *Notifier) Deliveries(ctx context.Context, endpointID string, limit, offset int) ([]*Delivery, int, error) {
	return n.store.ListDeliveries(ctx, endpointID, limit, offset)
}
