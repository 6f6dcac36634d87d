package credentials

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/IndexPilot/server/internal/storage"
	"github.com/golang-jwt/jwt/v5"
)

func testKeyData(t *testing.T) (string, *rsa.PrivateKey) {
	t.Helper()

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keyBytes, err := x509.MarshalPKCS8PrivateKey(rsaKey)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes})

	keyJSON, err := json.Marshal(map[string]string{
		"client_email": "svc@project.iam.gserviceaccount.com",
		"private_key":  string(keyPEM),
	})
	if err != nil {
		t.Fatalf("marshal key json: %v", err)
	}
	return string(keyJSON), rsaKey
}

func TestTokenExchange(t *testing.T) {
	keyData, rsaKey := testKeyData(t)

	exchanges := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanges++
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if grant := r.FormValue("grant_type"); grant != jwtBearerGrant {
			t.Errorf("unexpected grant type %q", grant)
		}

		// The assertion must verify against the service-account key
		assertion := r.FormValue("assertion")
		parsed, err := jwt.Parse(assertion, func(tok *jwt.Token) (interface{}, error) {
			if tok.Method != jwt.SigningMethodRS256 {
				return nil, fmt.Errorf("unexpected signing method %v", tok.Method)
			}
			return &rsaKey.PublicKey, nil
		})
		if err != nil || !parsed.Valid {
			t.Errorf("invalid assertion: %v", err)
		}
		claims := parsed.Claims.(jwt.MapClaims)
		if claims["iss"] != "svc@project.iam.gserviceaccount.com" {
			t.Errorf("unexpected iss claim: %v", claims["iss"])
		}
		if claims["scope"] != tokenScope {
			t.Errorf("unexpected scope claim: %v", claims["scope"])
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"ya29.test-token","expires_in":3600}`)
	}))
	defer server.Close()

	ts := NewTokenSource(server.Client(), server.URL)
	credential := storage.Credential{ID: "c1", KeyData: keyData}

	token, err := ts.Token(context.Background(), credential)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if token != "ya29.test-token" {
		t.Errorf("unexpected token %q", token)
	}

	// Second call is served from cache
	if _, err := ts.Token(context.Background(), credential); err != nil {
		t.Fatalf("cached token: %v", err)
	}
	if exchanges != 1 {
		t.Errorf("expected 1 exchange, got %d", exchanges)
	}

	// Flush forces a fresh exchange
	ts.Flush()
	if _, err := ts.Token(context.Background(), credential); err != nil {
		t.Fatalf("token after flush: %v", err)
	}
	if exchanges != 2 {
		t.Errorf("expected 2 exchanges after flush, got %d", exchanges)
	}
}

func TestTokenExchangeErrors(t *testing.T) {
	keyData, _ := testKeyData(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	ts := NewTokenSource(server.Client(), server.URL)

	tests := []struct {
		name    string
		keyData string
	}{
		{"rejected exchange", keyData},
		{"malformed key json", "{not json"},
		{"missing fields", "{}"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ts.Token(context.Background(), storage.Credential{ID: tc.name, KeyData: tc.keyData})
			if err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSignAssertionExpiry(t *testing.T) {
	keyData, rsaKey := testKeyData(t)

	var key serviceAccountKey
	if err := json.Unmarshal([]byte(keyData), &key); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assertion, err := signAssertion(key, DefaultTokenURL, now)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	parsed, err := jwt.Parse(assertion, func(tok *jwt.Token) (interface{}, error) {
		return &rsaKey.PublicKey, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	claims := parsed.Claims.(jwt.MapClaims)
	if exp := int64(claims["exp"].(float64)); exp != now.Add(time.Hour).Unix() {
		t.Errorf("expected one hour expiry, got %d", exp)
	}
}
