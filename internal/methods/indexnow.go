package methods

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/IndexPilot/server/internal/circuitbreaker"
	"github.com/IndexPilot/server/internal/queue"
)

// DefaultIndexNowEndpoints are tried in order; the generic api.indexnow.org
// relay fans out to all participating engines, the engine-specific endpoints
// are the fallback when the relay misbehaves.
var DefaultIndexNowEndpoints = []string{
	"https://api.indexnow.org/indexnow",
	"https://www.bing.com/indexnow",
	"https://yandex.com/indexnow",
}

// IndexNowAdapter submits URLs through the IndexNow protocol. Projects may
// carry their own key; the configured default applies otherwise.
type IndexNowAdapter struct {
	defaultKey         string
	defaultKeyLocation string
	breakers           *circuitbreaker.Manager
	httpClient         *http.Client
	endpoints          []string
}

func NewIndexNowAdapter(defaultKey, defaultKeyLocation string, breakers *circuitbreaker.Manager, httpClient *http.Client) *IndexNowAdapter {
	return &IndexNowAdapter{
		defaultKey:         defaultKey,
		defaultKeyLocation: defaultKeyLocation,
		breakers:           breakers,
		httpClient:         httpClient,
		endpoints:          DefaultIndexNowEndpoints,
	}
}

// SetEndpoints overrides the endpoint list. Used by tests.
func (a *IndexNowAdapter) SetEndpoints(endpoints []string) { a.endpoints = endpoints }

func (a *IndexNowAdapter) Method() string { return queue.MethodIndexNow }

func (a *IndexNowAdapter) Submit(ctx context.Context, target Target) (Outcome, error) {
	parsed, err := url.Parse(target.URL)
	if err != nil || parsed.Host == "" {
		return Outcome{}, fmt.Errorf("methods: indexnow: parse url %q: %w", target.URL, err)
	}

	key := target.IndexNowKey
	if key == "" {
		key = a.defaultKey
	}
	keyLocation := target.IndexNowKeyLocation
	if keyLocation == "" {
		keyLocation = a.defaultKeyLocation
	}
	if key == "" {
		return Outcome{}, fmt.Errorf("methods: indexnow: no key configured for %s", parsed.Host)
	}

	payload := map[string]interface{}{
		"host":    parsed.Hostname(),
		"key":     key,
		"urlList": []string{target.URL},
	}
	if keyLocation != "" {
		payload["keyLocation"] = keyLocation
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Outcome{}, fmt.Errorf("methods: indexnow: marshal: %w", err)
	}

	result, err := a.breakers.Execute(circuitbreaker.ServicePingEndpoints, func() (interface{}, error) {
		var last Outcome
		var lastErr error
		for _, endpoint := range a.endpoints {
			outcome, err := a.post(ctx, endpoint, body)
			if err != nil {
				lastErr = err
				continue
			}
			if outcome.Success {
				return outcome, nil
			}
			last = outcome
		}
		if last.StatusCode != 0 {
			return last, nil
		}
		return nil, lastErr
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("methods: indexnow submit: %w", err)
	}
	return result.(Outcome), nil
}

func (a *IndexNowAdapter) post(ctx context.Context, endpoint string, body []byte) (Outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Outcome{}, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return Outcome{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Outcome{}, err
	}

	return Outcome{
		Success:    resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted,
		StatusCode: resp.StatusCode,
		Body:       string(respBody),
	}, nil
}
