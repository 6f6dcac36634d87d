package methods

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/IndexPilot/server/internal/circuitbreaker"
	"github.com/IndexPilot/server/internal/queue"
)

// Default endpoints for the ping-style channels.
const (
	DefaultWebSubHubURL   = "https://pubsubhubbub.appspot.com/"
	DefaultPingomaticURL  = "http://rpc.pingomatic.com/"
	DefaultArchiveSaveURL = "https://web.archive.org/save/"
)

// DefaultBacklinkEndpoints receive a simple GET with url and key parameters.
var DefaultBacklinkEndpoints = []string{
	"https://www.bing.com/indexnow",
	"https://yandex.com/indexnow",
}

// WebSubAdapter publishes the URL to a WebSub hub, nudging feed-aware
// crawlers to fetch it.
type WebSubAdapter struct {
	breakers   *circuitbreaker.Manager
	httpClient *http.Client
	hubURL     string
}

func NewWebSubAdapter(breakers *circuitbreaker.Manager, httpClient *http.Client) *WebSubAdapter {
	return &WebSubAdapter{breakers: breakers, httpClient: httpClient, hubURL: DefaultWebSubHubURL}
}

// SetHubURL overrides the hub endpoint. Used by tests.
func (a *WebSubAdapter) SetHubURL(hubURL string) { a.hubURL = hubURL }

func (a *WebSubAdapter) Method() string { return queue.MethodWebSub }

func (a *WebSubAdapter) Submit(ctx context.Context, target Target) (Outcome, error) {
	result, err := a.breakers.Execute(circuitbreaker.ServicePingEndpoints, func() (interface{}, error) {
		form := url.Values{}
		form.Set("hub.mode", "publish")
		form.Set("hub.url", target.URL)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.hubURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		return Outcome{
			Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}, nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("methods: websub submit: %w", err)
	}
	return result.(Outcome), nil
}

// PingomaticAdapter announces the URL through the weblogUpdates XML-RPC ping,
// which Ping-o-matic relays to a bundle of ping services.
type PingomaticAdapter struct {
	breakers   *circuitbreaker.Manager
	httpClient *http.Client
	endpoint   string
}

func NewPingomaticAdapter(breakers *circuitbreaker.Manager, httpClient *http.Client) *PingomaticAdapter {
	return &PingomaticAdapter{breakers: breakers, httpClient: httpClient, endpoint: DefaultPingomaticURL}
}

// SetEndpoint overrides the XML-RPC endpoint. Used by tests.
func (a *PingomaticAdapter) SetEndpoint(endpoint string) { a.endpoint = endpoint }

func (a *PingomaticAdapter) Method() string { return queue.MethodPingomatic }

type xmlRPCRequest struct {
	XMLName    xml.Name `xml:"methodCall"`
	MethodName string   `xml:"methodName"`
	Params     []string `xml:"params>param>value>string"`
}

func (a *PingomaticAdapter) Submit(ctx context.Context, target Target) (Outcome, error) {
	result, err := a.breakers.Execute(circuitbreaker.ServicePingEndpoints, func() (interface{}, error) {
		payload, err := xml.Marshal(xmlRPCRequest{
			MethodName: "weblogUpdates.ping",
			Params:     []string{target.URL, target.URL},
		})
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint,
			strings.NewReader(xml.Header+string(payload)))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "text/xml")

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}

		// The XML-RPC fault flag rides inside a 200 response
		success := resp.StatusCode == http.StatusOK &&
			!strings.Contains(string(body), "<name>flerror</name><value><boolean>1</boolean>")
		return Outcome{
			Success:    success,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}, nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("methods: pingomatic submit: %w", err)
	}
	return result.(Outcome), nil
}

// ArchiveAdapter requests a Wayback Machine snapshot, which puts the URL in
// front of a well-known crawler.
type ArchiveAdapter struct {
	breakers   *circuitbreaker.Manager
	httpClient *http.Client
	saveURL    string
}

func NewArchiveAdapter(breakers *circuitbreaker.Manager, httpClient *http.Client) *ArchiveAdapter {
	return &ArchiveAdapter{breakers: breakers, httpClient: httpClient, saveURL: DefaultArchiveSaveURL}
}

// SetSaveURL overrides the save endpoint prefix. Used by tests.
func (a *ArchiveAdapter) SetSaveURL(saveURL string) { a.saveURL = saveURL }

func (a *ArchiveAdapter) Method() string { return queue.MethodArchiveOrg }

func (a *ArchiveAdapter) Submit(ctx context.Context, target Target) (Outcome, error) {
	result, err := a.breakers.Execute(circuitbreaker.ServicePingEndpoints, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.saveURL+target.URL, nil)
		if err != nil {
			return nil, err
		}

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		// The snapshot page body is large and uninteresting
		if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20)); err != nil {
			return nil, err
		}
		return Outcome{
			Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
			StatusCode: resp.StatusCode,
		}, nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("methods: archive_org submit: %w", err)
	}
	return result.(Outcome), nil
}

// BacklinkAdapter fires the engines' simple GET ping form. One accepted ping
// counts as success; the engines index independently anyway.
type BacklinkAdapter struct {
	breakers   *circuitbreaker.Manager
	httpClient *http.Client
	endpoints  []string
	key        string
}

func NewBacklinkAdapter(breakers *circuitbreaker.Manager, httpClient *http.Client) *BacklinkAdapter {
	return &BacklinkAdapter{breakers: breakers, httpClient: httpClient, endpoints: DefaultBacklinkEndpoints}
}

// SetEndpoints overrides the ping endpoints. Used by tests.
func (a *BacklinkAdapter) SetEndpoints(endpoints []string) { a.endpoints = endpoints }

func (a *BacklinkAdapter) Method() string { return queue.MethodBacklinkPing }

func (a *BacklinkAdapter) Submit(ctx context.Context, target Target) (Outcome, error) {
	result, err := a.breakers.Execute(circuitbreaker.ServicePingEndpoints, func() (interface{}, error) {
		var last Outcome
		var lastErr error
		for _, endpoint := range a.endpoints {
			query := url.Values{}
			query.Set("url", target.URL)
			if target.IndexNowKey != "" {
				query.Set("key", target.IndexNowKey)
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
			if err != nil {
				return nil, err
			}

			resp, err := a.httpClient.Do(req)
			if err != nil {
				lastErr = err
				continue
			}
			body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			resp.Body.Close()
			if err != nil {
				lastErr = err
				continue
			}

			outcome := Outcome{
				Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
				StatusCode: resp.StatusCode,
				Body:       string(body),
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
		return Outcome{}, fmt.Errorf("methods: backlink_pings submit: %w", err)
	}
	return result.(Outcome), nil
}
