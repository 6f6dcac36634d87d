package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/IndexPilot/server/internal/cacheutil"
	"github.com/IndexPilot/server/internal/storage"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultTokenURL is Google's OAuth2 token exchange endpoint.
	DefaultTokenURL = "https://oauth2.googleapis.com/token"

	// Scopes cover the Indexing API and Search Console inspection.
	tokenScope = "https://www.googleapis.com/auth/indexing https://www.googleapis.com/auth/webmasters"

	jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	// Tokens are refreshed a minute before expiry to absorb clock skew.
	expirySlack = time.Minute
)

// serviceAccountKey is the subset of the service-account JSON we need.
type serviceAccountKey struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

type cachedToken struct {
	accessToken string
	expiresAt   time.Time
}

// TokenSource mints OAuth2 bearer tokens from service-account keys via the
// signed-JWT grant, caching them per credential until shortly before expiry.
type TokenSource struct {
	httpClient *http.Client
	tokenURL   string // Overrides the key's token_uri when set (tests)

	mu    sync.RWMutex
	cache map[string]cacheutil.CachedValue[cachedToken]
}

// NewTokenSource creates a token source using the given HTTP client.
func NewTokenSource(httpClient *http.Client, tokenURL string) *TokenSource {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TokenSource{
		httpClient: httpClient,
		tokenURL:   tokenURL,
		cache:      make(map[string]cacheutil.CachedValue[cachedToken]),
	}
}

// Token returns a valid bearer token for the credential, exchanging a fresh
// assertion when the cached token is missing or near expiry.
func (ts *TokenSource) Token(ctx context.Context, credential storage.Credential) (string, error) {
	token, err := cacheutil.ReadThrough(
		&ts.mu,
		func(now time.Time) (cachedToken, bool) {
			entry, ok := ts.cache[credential.ID]
			if ok && now.Before(entry.Value.expiresAt.Add(-expirySlack)) {
				return entry.Value, true
			}
			return cachedToken{}, false
		},
		func(now time.Time) (cachedToken, error) {
			minted, err := ts.exchange(ctx, credential)
			if err != nil {
				return cachedToken{}, err
			}
			ts.cache[credential.ID] = cacheutil.CachedValue[cachedToken]{Value: minted, FetchedAt: now}
			return minted, nil
		},
	)
	if err != nil {
		return "", err
	}
	return token.accessToken, nil
}

// Flush drops all cached tokens, forcing fresh exchanges.
func (ts *TokenSource) Flush() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.cache = make(map[string]cacheutil.CachedValue[cachedToken])
}

// exchange signs a service-account assertion and trades it for a token.
func (ts *TokenSource) exchange(ctx context.Context, credential storage.Credential) (cachedToken, error) {
	var key serviceAccountKey
	if err := json.Unmarshal([]byte(credential.KeyData), &key); err != nil {
		return cachedToken{}, fmt.Errorf("credentials: parse key for %s: %w", credential.ID, err)
	}
	if key.ClientEmail == "" || key.PrivateKey == "" {
		return cachedToken{}, fmt.Errorf("credentials: key for %s missing client_email or private_key", credential.ID)
	}

	endpoint := ts.tokenURL
	if endpoint == "" {
		endpoint = key.TokenURI
	}
	if endpoint == "" {
		endpoint = DefaultTokenURL
	}

	assertion, err := signAssertion(key, endpoint, time.Now())
	if err != nil {
		return cachedToken{}, fmt.Errorf("credentials: sign assertion for %s: %w", credential.ID, err)
	}

	form := url.Values{}
	form.Set("grant_type", jwtBearerGrant)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return cachedToken{}, fmt.Errorf("credentials: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return cachedToken{}, fmt.Errorf("credentials: token exchange: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return cachedToken{}, fmt.Errorf("credentials: read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return cachedToken{}, fmt.Errorf("credentials: token exchange returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return cachedToken{}, fmt.Errorf("credentials: decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return cachedToken{}, fmt.Errorf("credentials: token response missing access_token")
	}
	if payload.ExpiresIn <= 0 {
		payload.ExpiresIn = 3600
	}

	return cachedToken{
		accessToken: payload.AccessToken,
		expiresAt:   time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second),
	}, nil
}

// signAssertion builds the RS256 JWT the token endpoint expects.
func signAssertion(key serviceAccountKey, audience string, now time.Time) (string, error) {
	rsaKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(key.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}

	claims := jwt.MapClaims{
		"iss":   key.ClientEmail,
		"scope": tokenScope,
		"aud":   audience,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(rsaKey)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}
