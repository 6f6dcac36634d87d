package methods

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/IndexPilot/server/internal/circuitbreaker"
	"github.com/IndexPilot/server/internal/credentials"
	"github.com/IndexPilot/server/internal/queue"
	"github.com/IndexPilot/server/internal/storage"
	"github.com/rs/zerolog"
)

func passThroughBreakers() *circuitbreaker.Manager {
	return circuitbreaker.NewManager(circuitbreaker.Config{Enabled: false})
}

func TestRegistryCoversAllMethods(t *testing.T) {
	registry := NewRegistry(Config{IndexNowKey: "k"}, nil, passThroughBreakers(), http.DefaultClient)
	for _, method := range queue.Methods {
		adapter, ok := registry[method]
		if !ok {
			t.Errorf("no adapter for %s", method)
			continue
		}
		if adapter.Method() != method {
			t.Errorf("adapter for %s reports %s", method, adapter.Method())
		}
	}
}

func TestIndexNowAdapter(t *testing.T) {
	var got struct {
		Host        string   `json:"host"`
		Key         string   `json:"key"`
		KeyLocation string   `json:"keyLocation"`
		URLList     []string `json:"urlList"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	adapter := NewIndexNowAdapter("default-key", "https://example.com/key.txt", passThroughBreakers(), http.DefaultClient)
	adapter.SetEndpoints([]string{server.URL})

	outcome, err := adapter.Submit(context.Background(), Target{URL: "https://example.com/page"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !outcome.Success || outcome.StatusCode != http.StatusAccepted {
		t.Errorf("unexpected outcome %+v", outcome)
	}
	if got.Host != "example.com" || got.Key != "default-key" {
		t.Errorf("unexpected payload %+v", got)
	}
	if len(got.URLList) != 1 || got.URLList[0] != "https://example.com/page" {
		t.Errorf("unexpected urlList %v", got.URLList)
	}
}

func TestIndexNowProjectKeyOverride(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		gotKey, _ = payload["key"].(string)
	}))
	defer server.Close()

	adapter := NewIndexNowAdapter("default-key", "", passThroughBreakers(), http.DefaultClient)
	adapter.SetEndpoints([]string{server.URL})

	_, err := adapter.Submit(context.Background(), Target{
		URL:         "https://example.com/page",
		IndexNowKey: "project-key",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if gotKey != "project-key" {
		t.Errorf("expected project key to win, got %q", gotKey)
	}
}

func TestIndexNowFallsBackAcrossEndpoints(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()

	adapter := NewIndexNowAdapter("k", "", passThroughBreakers(), http.DefaultClient)
	adapter.SetEndpoints([]string{down.URL, up.URL})

	outcome, err := adapter.Submit(context.Background(), Target{URL: "https://example.com/page"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !outcome.Success {
		t.Errorf("expected fallback endpoint to succeed, got %+v", outcome)
	}
}

func TestIndexNowRequiresKey(t *testing.T) {
	adapter := NewIndexNowAdapter("", "", passThroughBreakers(), http.DefaultClient)
	if _, err := adapter.Submit(context.Background(), Target{URL: "https://example.com/page"}); err == nil {
		t.Fatal("expected error without a key")
	}
}

func TestWebSubAdapter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.FormValue("hub.mode") != "publish" {
			t.Errorf("unexpected hub.mode %q", r.FormValue("hub.mode"))
		}
		if r.FormValue("hub.url") != "https://example.com/page" {
			t.Errorf("unexpected hub.url %q", r.FormValue("hub.url"))
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	adapter := NewWebSubAdapter(passThroughBreakers(), http.DefaultClient)
	adapter.SetHubURL(server.URL)

	outcome, err := adapter.Submit(context.Background(), Target{URL: "https://example.com/page"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !outcome.Success {
		t.Errorf("unexpected outcome %+v", outcome)
	}
}

func TestPingomaticAdapter(t *testing.T) {
	tests := []struct {
		name     string
		response string
		success  bool
	}{
		{
			"clean ping",
			`<?xml version="1.0"?><methodResponse><params><param><value><struct>` +
				`<member><name>flerror</name><value><boolean>0</boolean></value></member>` +
				`</struct></value></param></params></methodResponse>`,
			true,
		},
		{
			"fault flag",
			`<?xml version="1.0"?><methodResponse><params><param><value><struct>` +
				`<member><name>flerror</name><value><boolean>1</boolean></value></member>` +
				`</struct></value></param></params></methodResponse>`,
			false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				raw, err := io.ReadAll(r.Body)
				if err != nil {
					t.Fatalf("read body: %v", err)
				}
				if !strings.Contains(string(raw), "weblogUpdates.ping") {
					t.Errorf("missing method name in request: %s", raw)
				}
				w.Header().Set("Content-Type", "text/xml")
				fmt.Fprint(w, tc.response)
			}))
			defer server.Close()

			adapter := NewPingomaticAdapter(passThroughBreakers(), http.DefaultClient)
			adapter.SetEndpoint(server.URL)

			outcome, err := adapter.Submit(context.Background(), Target{URL: "https://example.com/page"})
			if err != nil {
				t.Fatalf("submit: %v", err)
			}
			if outcome.Success != tc.success {
				t.Errorf("expected success=%v, got %+v", tc.success, outcome)
			}
		})
	}
}

func TestArchiveAdapter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/save/") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	adapter := NewArchiveAdapter(passThroughBreakers(), http.DefaultClient)
	adapter.SetSaveURL(server.URL + "/save/")

	outcome, err := adapter.Submit(context.Background(), Target{URL: "https://example.com/page"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !outcome.Success {
		t.Errorf("unexpected outcome %+v", outcome)
	}
}

func TestBacklinkAdapterFirstSuccessWins(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("url") != "https://example.com/page" {
			t.Errorf("missing url parameter: %s", r.URL.RawQuery)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	adapter := NewBacklinkAdapter(passThroughBreakers(), http.DefaultClient)
	adapter.SetEndpoints([]string{server.URL, server.URL})

	outcome, err := adapter.Submit(context.Background(), Target{URL: "https://example.com/page"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !outcome.Success {
		t.Errorf("unexpected outcome %+v", outcome)
	}
	if calls != 1 {
		t.Errorf("expected to stop after the first accepted ping, got %d calls", calls)
	}
}

func testPoolWithCredential(t *testing.T, tokenURL string) (*credentials.Pool, *storage.MemoryStore) {
	t.Helper()

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keyBytes, err := x509.MarshalPKCS8PrivateKey(rsaKey)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	keyJSON, err := json.Marshal(map[string]string{
		"client_email": "svc@project.iam.gserviceaccount.com",
		"private_key":  string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes})),
	})
	if err != nil {
		t.Fatalf("marshal key json: %v", err)
	}

	store := storage.NewMemoryStore(0)
	t.Cleanup(func() { store.Stop() })
	err = store.CreateCredential(context.Background(), storage.Credential{
		ID: "c1", Name: "c1", KeyData: string(keyJSON), DailyQuota: 200, IsActive: true,
	})
	if err != nil {
		t.Fatalf("create credential: %v", err)
	}

	tokens := credentials.NewTokenSource(http.DefaultClient, tokenURL)
	return credentials.NewPool(store, tokens, nil, zerolog.Nop()), store
}

func TestGoogleAPIAdapter(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token":"test-token","expires_in":3600}`)
	}))
	defer tokenServer.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-token" {
			t.Errorf("unexpected authorization %q", auth)
		}
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if payload["type"] != "URL_UPDATED" {
			t.Errorf("unexpected notification type %q", payload["type"])
		}
		fmt.Fprint(w, `{"urlNotificationMetadata":{}}`)
	}))
	defer api.Close()

	pool, store := testPoolWithCredential(t, tokenServer.URL)
	adapter := NewGoogleAPIAdapter(pool, passThroughBreakers(), http.DefaultClient)
	adapter.SetBaseURL(api.URL)

	outcome, err := adapter.Submit(context.Background(), Target{URL: "https://example.com/page"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !outcome.Success {
		t.Errorf("unexpected outcome %+v", outcome)
	}

	credential, _ := store.GetCredential(context.Background(), "c1")
	if credential.UsedToday != 1 {
		t.Errorf("expected one charged call, got %d", credential.UsedToday)
	}
}

func TestGoogleAPIAdapterDisablesOnQuota(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token":"test-token","expires_in":3600}`)
	}))
	defer tokenServer.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer api.Close()

	pool, store := testPoolWithCredential(t, tokenServer.URL)
	adapter := NewGoogleAPIAdapter(pool, passThroughBreakers(), http.DefaultClient)
	adapter.SetBaseURL(api.URL)

	outcome, err := adapter.Submit(context.Background(), Target{URL: "https://example.com/page"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if outcome.Success {
		t.Error("429 must not count as success")
	}

	credential, _ := store.GetCredential(context.Background(), "c1")
	if credential.IsActive {
		t.Error("expected 429 to disable the credential")
	}
}

func TestGoogleAPIAdapterExhaustedPool(t *testing.T) {
	store := storage.NewMemoryStore(0)
	t.Cleanup(func() { store.Stop() })
	pool := credentials.NewPool(store, nil, nil, zerolog.Nop())

	adapter := NewGoogleAPIAdapter(pool, passThroughBreakers(), http.DefaultClient)
	if _, err := adapter.Submit(context.Background(), Target{URL: "https://example.com/page"}); err == nil {
		t.Fatal("expected error with an empty pool")
	}
}
