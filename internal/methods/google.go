package methods

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/IndexPilot/server/internal/circuitbreaker"
	"github.com/IndexPilot/server/internal/credentials"
	"github.com/IndexPilot/server/internal/queue"
	"github.com/IndexPilot/server/internal/storage"
)

// DefaultIndexingAPIURL is the Google Indexing API publish endpoint.
const DefaultIndexingAPIURL = "https://indexing.googleapis.com/v3/urlNotifications:publish"

// GoogleAPIAdapter submits URLs through the Indexing API using the credential
// pool. Each call burns one unit of a credential's daily quota; a rejected
// credential is retired immediately so the next attempt picks a healthy one.
type GoogleAPIAdapter struct {
	pool       *credentials.Pool
	breakers   *circuitbreaker.Manager
	httpClient *http.Client
	baseURL    string
}

func NewGoogleAPIAdapter(pool *credentials.Pool, breakers *circuitbreaker.Manager, httpClient *http.Client) *GoogleAPIAdapter {
	return &GoogleAPIAdapter{
		pool:       pool,
		breakers:   breakers,
		httpClient: httpClient,
		baseURL:    DefaultIndexingAPIURL,
	}
}

// SetBaseURL overrides the API endpoint. Used by tests.
func (a *GoogleAPIAdapter) SetBaseURL(baseURL string) { a.baseURL = baseURL }

func (a *GoogleAPIAdapter) Method() string { return queue.MethodGoogleAPI }

func (a *GoogleAPIAdapter) Submit(ctx context.Context, target Target) (Outcome, error) {
	credential, err := a.pool.Acquire(ctx)
	if err != nil {
		if err == storage.ErrNoCredentials {
			return Outcome{}, fmt.Errorf("methods: google_api: %w", err)
		}
		return Outcome{}, fmt.Errorf("methods: google_api acquire: %w", err)
	}

	token, err := a.pool.AccessToken(ctx, credential)
	if err != nil {
		return Outcome{}, fmt.Errorf("methods: google_api token: %w", err)
	}

	result, err := a.breakers.Execute(circuitbreaker.ServiceGoogleAPI, func() (interface{}, error) {
		payload, err := json.Marshal(map[string]string{
			"url":  target.URL,
			"type": "URL_UPDATED",
		})
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}

		if chargeErr := a.pool.Charge(ctx, credential.ID); chargeErr != nil {
			return nil, chargeErr
		}
		a.pool.HandleAPIStatus(ctx, credential.ID, resp.StatusCode)

		return Outcome{
			Success:    resp.StatusCode == http.StatusOK,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}, nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("methods: google_api submit: %w", err)
	}
	return result.(Outcome), nil
}
