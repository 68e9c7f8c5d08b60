package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// testJWK builds a JWKSKey from an RSA private key's public half.
func testJWK(priv *rsa.PrivateKey, kid string) JWKSKey {
	pub := &priv.PublicKey
	return JWKSKey{
		Kty: "RSA",
		Kid: kid,
		Use: "sig",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

func testRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	return priv
}

// newJWKSServer serves a fixed key set and counts fetches.
func newJWKSServer(t *testing.T, keys func() []JWKSKey, fetches *int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fetches != nil {
			*fetches++
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(JWKSResponse{Keys: keys()})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newDiscoveryServer serves an openid-configuration document built from doc.
func newDiscoveryServer(t *testing.T, doc map[string]interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOIDCProvider_Discovery(t *testing.T) {
	jwks := newJWKSServer(t, func() []JWKSKey { return nil }, nil)
	idp := newDiscoveryServer(t, map[string]interface{}{
		"issuer":         "https://idp.hospital.example",
		"token_endpoint": "https://idp.hospital.example/token",
		"jwks_uri":       jwks.URL,
	})

	provider, err := NewOIDCProvider(idp.URL)
	if err != nil {
		t.Fatalf("NewOIDCProvider: %v", err)
	}
	if provider.Issuer != "https://idp.hospital.example" {
		t.Errorf("Issuer = %s", provider.Issuer)
	}
	if provider.TokenEndpoint != "https://idp.hospital.example/token" {
		t.Errorf("TokenEndpoint = %s", provider.TokenEndpoint)
	}
	if provider.JWKSURI != jwks.URL {
		t.Errorf("JWKSURI = %s, want %s", provider.JWKSURI, jwks.URL)
	}
}

func TestOIDCProvider_DiscoveryFailures(t *testing.T) {
	notFound := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer notFound.Close()

	if _, err := NewOIDCProvider(notFound.URL); err == nil {
		t.Error("expected error when discovery document is missing")
	}
	if _, err := NewOIDCProvider("http://127.0.0.1:1"); err == nil {
		t.Error("expected error for unreachable issuer")
	}
}

func TestOIDCProvider_MissingJWKSURI(t *testing.T) {
	idp := newDiscoveryServer(t, map[string]interface{}{
		"issuer":         "https://idp.hospital.example",
		"token_endpoint": "https://idp.hospital.example/token",
	})

	if _, err := NewOIDCProvider(idp.URL); err == nil {
		t.Fatal("expected error for discovery document without jwks_uri")
	}
}

func TestOIDCProvider_JWKSKeyFunc(t *testing.T) {
	priv := testRSAKey(t)
	jwks := newJWKSServer(t, func() []JWKSKey { return []JWKSKey{testJWK(priv, "hms-key-1")} }, nil)
	idp := newDiscoveryServer(t, map[string]interface{}{
		"issuer":         "https://idp.hospital.example",
		"token_endpoint": "https://idp.hospital.example/token",
		"jwks_uri":       jwks.URL,
	})

	provider, err := NewOIDCProvider(idp.URL)
	if err != nil {
		t.Fatalf("NewOIDCProvider: %v", err)
	}
	if provider.JWKSKeyFunc() == nil {
		t.Fatal("JWKSKeyFunc returned nil")
	}
}

func TestJWKSCache_FetchAndCacheHit(t *testing.T) {
	priv := testRSAKey(t)
	fetches := 0
	srv := newJWKSServer(t, func() []JWKSKey { return []JWKSKey{testJWK(priv, "billing-idp-key")} }, &fetches)

	cache := NewJWKSCache(srv.URL, 10*time.Minute)

	key, err := cache.GetKey("billing-idp-key")
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if key.N.Cmp(priv.PublicKey.N) != 0 || key.E != priv.PublicKey.E {
		t.Error("fetched key does not match the served public key")
	}

	// A second lookup within the TTL must not hit the server again.
	if _, err := cache.GetKey("billing-idp-key"); err != nil {
		t.Fatalf("GetKey on cache hit: %v", err)
	}
	if fetches != 1 {
		t.Errorf("expected 1 JWKS fetch, got %d", fetches)
	}
}

func TestJWKSCache_ExpiryRefetches(t *testing.T) {
	priv := testRSAKey(t)
	fetches := 0
	srv := newJWKSServer(t, func() []JWKSKey { return []JWKSKey{testJWK(priv, "short-ttl-key")} }, &fetches)

	cache := NewJWKSCache(srv.URL, time.Millisecond)

	if _, err := cache.GetKey("short-ttl-key"); err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	first := fetches

	time.Sleep(5 * time.Millisecond)

	if _, err := cache.GetKey("short-ttl-key"); err != nil {
		t.Fatalf("GetKey after expiry: %v", err)
	}
	if fetches <= first {
		t.Error("expected a fresh fetch after the cache TTL elapsed")
	}
}

func TestJWKSCache_KeyRotation(t *testing.T) {
	old := testRSAKey(t)
	rotated := testRSAKey(t)

	fetches := 0
	srv := newJWKSServer(t, func() []JWKSKey {
		if fetches <= 1 {
			return []JWKSKey{testJWK(old, "key-old")}
		}
		// Later fetches expose both keys, as an IdP does mid-rotation.
		return []JWKSKey{testJWK(old, "key-old"), testJWK(rotated, "key-new")}
	}, &fetches)

	cache := NewJWKSCache(srv.URL, time.Millisecond)

	if _, err := cache.GetKey("key-old"); err != nil {
		t.Fatalf("GetKey(key-old): %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	key, err := cache.GetKey("key-new")
	if err != nil {
		t.Fatalf("GetKey(key-new) after rotation: %v", err)
	}
	if key.N.Cmp(rotated.PublicKey.N) != 0 {
		t.Error("rotated key modulus does not match")
	}
	if fetches < 2 {
		t.Errorf("expected at least 2 JWKS fetches across rotation, got %d", fetches)
	}
}

func TestJWKSCache_KeyNotFound(t *testing.T) {
	priv := testRSAKey(t)
	srv := newJWKSServer(t, func() []JWKSKey { return []JWKSKey{testJWK(priv, "known-key")} }, nil)

	cache := NewJWKSCache(srv.URL, 10*time.Minute)
	if _, err := cache.GetKey("unknown-key"); err == nil {
		t.Fatal("expected error for kid absent from the key set")
	}
}

func TestJWKSCache_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cache := NewJWKSCache(srv.URL, 10*time.Minute)
	if _, err := cache.GetKey("any-key"); err == nil {
		t.Fatal("expected error when the JWKS endpoint fails")
	}
}

func TestParseRSAPublicKey(t *testing.T) {
	priv := testRSAKey(t)

	pub, err := parseRSAPublicKey(testJWK(priv, "parse-test"))
	if err != nil {
		t.Fatalf("parseRSAPublicKey: %v", err)
	}
	if pub.N.Cmp(priv.PublicKey.N) != 0 {
		t.Error("parsed modulus does not match original")
	}
	if pub.E != priv.PublicKey.E {
		t.Error("parsed exponent does not match original")
	}
}

func TestParseRSAPublicKey_BadEncoding(t *testing.T) {
	validN := base64.RawURLEncoding.EncodeToString(big.NewInt(12345).Bytes())

	cases := []struct {
		name string
		jwk  JWKSKey
	}{
		{"invalid modulus", JWKSKey{Kty: "RSA", Kid: "bad", N: "!!!not-base64!!!", E: "AQAB"}},
		{"invalid exponent", JWKSKey{Kty: "RSA", Kid: "bad", N: validN, E: "!!!not-base64!!!"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseRSAPublicKey(tc.jwk); err == nil {
				t.Errorf("expected error for %s", tc.name)
			}
		})
	}
}

func TestJwksKeyFunc_NoKidHeader(t *testing.T) {
	srv := newJWKSServer(t, func() []JWKSKey { return nil }, nil)

	keyFunc := jwksKeyFunc(srv.URL)
	_, err := keyFunc(&jwt.Token{Header: map[string]interface{}{}})
	if err == nil {
		t.Fatal("expected error for token without kid")
	}
	if !strings.Contains(err.Error(), "kid") {
		t.Errorf("unexpected error message: %v", err)
	}
}
