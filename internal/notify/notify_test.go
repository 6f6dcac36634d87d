package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/IndexPilot/server/internal/circuitbreaker"
	"github.com/IndexPilot/server/internal/storage"
	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	store := storage.NewMemoryStore(0)
	t.Cleanup(func() { store.Stop() })
	return store
}

func seedIndexedURL(t *testing.T, store *storage.MemoryStore, webhookURL, notifyEmail string) storage.URL {
	t.Helper()
	ctx := context.Background()

	if err := store.CreateUser(ctx, storage.User{ID: "u1", Email: "u1@example.com"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	project := storage.Project{
		ID: "p1", UserID: "u1", Name: "site",
		WebhookURL: webhookURL, NotifyEmail: notifyEmail,
	}
	if err := store.CreateProject(ctx, project); err != nil {
		t.Fatalf("create project: %v", err)
	}
	if err := store.CreateURLs(ctx, []storage.URL{{ID: "url1", ProjectID: "p1", Address: "https://example.com/page"}}); err != nil {
		t.Fatalf("create urls: %v", err)
	}
	if _, err := store.MarkAlreadyIndexed(ctx, "url1", time.Now(), "The Page", "a snippet", "inspection"); err != nil {
		t.Fatalf("mark indexed: %v", err)
	}
	url, err := store.GetURL(ctx, "url1")
	if err != nil {
		t.Fatalf("get url: %v", err)
	}
	return url
}

func passThroughBreakers() *circuitbreaker.Manager {
	return circuitbreaker.NewManager(circuitbreaker.Config{Enabled: false})
}

func TestNotifyIndexedQueuesWebhook(t *testing.T) {
	store := newTestStore(t)
	url := seedIndexedURL(t, store, "https://hooks.example.com/x", "")

	service := NewService(store, map[string]string{"X-Signature": "s"}, 5, zerolog.Nop())
	if err := service.NotifyIndexed(context.Background(), url); err != nil {
		t.Fatalf("notify: %v", err)
	}

	pending, err := store.ListNotifications(context.Background(), storage.NotificationStatusPending, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one queued notification, got %d", len(pending))
	}

	n := pending[0]
	if n.URL != "https://hooks.example.com/x" || n.EventType != EventURLIndexed {
		t.Errorf("unexpected notification %+v", n)
	}
	if n.Headers["Content-Type"] != "application/json" || n.Headers["X-Signature"] != "s" {
		t.Errorf("unexpected headers %v", n.Headers)
	}

	var payload indexedPayload
	if err := json.Unmarshal(n.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Event != EventURLIndexed || payload.URL != "https://example.com/page" {
		t.Errorf("unexpected payload %+v", payload)
	}
	if payload.Title != "The Page" || payload.ProjectName != "site" {
		t.Errorf("expected evidence in payload, got %+v", payload)
	}
}

func TestNotifyIndexedSkipsWithoutWebhook(t *testing.T) {
	store := newTestStore(t)
	url := seedIndexedURL(t, store, "", "")

	service := NewService(store, nil, 5, zerolog.Nop())
	if err := service.NotifyIndexed(context.Background(), url); err != nil {
		t.Fatalf("notify: %v", err)
	}

	pending, _ := store.ListNotifications(context.Background(), storage.NotificationStatusPending, 10)
	if len(pending) != 0 {
		t.Errorf("expected nothing queued, got %d", len(pending))
	}
}

func TestDelivererPostsWebhook(t *testing.T) {
	called := false
	var gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		gotHeader = r.Header.Get("X-Signature")
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if payload["event"] != EventURLIndexed {
			t.Errorf("unexpected event %v", payload["event"])
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := newTestStore(t)
	url := seedIndexedURL(t, store, server.URL, "")
	service := NewService(store, map[string]string{"X-Signature": "sig"}, 5, zerolog.Nop())
	if err := service.NotifyIndexed(context.Background(), url); err != nil {
		t.Fatalf("notify: %v", err)
	}

	deliverer := NewDeliverer(store, passThroughBreakers(), http.DefaultClient, nil, zerolog.Nop(), DelivererOptions{})
	deliverer.DeliverBatch(context.Background())

	if !called {
		t.Fatal("webhook endpoint was never called")
	}
	if gotHeader != "sig" {
		t.Errorf("expected signature header, got %q", gotHeader)
	}

	pending, _ := store.ListNotifications(context.Background(), storage.NotificationStatusPending, 10)
	if len(pending) != 0 {
		t.Errorf("expected queue drained, got %d", len(pending))
	}
}

func TestDelivererRetriesFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	store := newTestStore(t)
	url := seedIndexedURL(t, store, server.URL, "")
	service := NewService(store, nil, 5, zerolog.Nop())
	if err := service.NotifyIndexed(context.Background(), url); err != nil {
		t.Fatalf("notify: %v", err)
	}

	deliverer := NewDeliverer(store, passThroughBreakers(), http.DefaultClient, nil, zerolog.Nop(), DelivererOptions{})
	deliverer.DeliverBatch(context.Background())

	failed, err := store.ListNotifications(context.Background(), storage.NotificationStatusFailed, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("expected one failed notification, got %d", len(failed))
	}
	n := failed[0]
	if n.Attempts != 1 {
		t.Errorf("expected one attempt recorded, got %d", n.Attempts)
	}
	if !n.NextAttemptAt.After(time.Now()) {
		t.Errorf("expected backoff into the future, got %v", n.NextAttemptAt)
	}
	if !strings.Contains(n.LastError, "502") {
		t.Errorf("expected status in last error, got %q", n.LastError)
	}
}

func TestDelivererBackoffGrows(t *testing.T) {
	d := NewDeliverer(newTestStore(t), passThroughBreakers(), nil, nil, zerolog.Nop(), DelivererOptions{
		InitialInterval: time.Minute,
		MaxInterval:     time.Hour,
		Multiplier:      2,
	})

	if got := d.backoff(1); got != time.Minute {
		t.Errorf("attempt 1: got %v", got)
	}
	if got := d.backoff(3); got != 4*time.Minute {
		t.Errorf("attempt 3: got %v", got)
	}
	if got := d.backoff(20); got != time.Hour {
		t.Errorf("attempt 20 must cap at an hour, got %v", got)
	}
}

func TestDigestSendsPerProject(t *testing.T) {
	store := newTestStore(t)
	seedIndexedURL(t, store, "", "owner@example.com")

	var sentTo []string
	var sentBody string
	digest := NewDigest(store, SMTPConfig{Host: "mail.example.com", Port: 587, From: "noreply@indexpilot.io"}, zerolog.Nop())
	digest.sendMail = func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		sentTo = to
		sentBody = string(msg)
		return nil
	}

	sent, err := digest.Run(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sent != 1 {
		t.Fatalf("expected one digest, got %d", sent)
	}
	if len(sentTo) != 1 || sentTo[0] != "owner@example.com" {
		t.Errorf("unexpected recipient %v", sentTo)
	}
	if !strings.Contains(sentBody, "https://example.com/page") {
		t.Errorf("expected indexed URL in digest body")
	}
	if !strings.Contains(sentBody, "Subject: site: 1 URL(s) indexed") {
		t.Errorf("unexpected subject in %q", sentBody)
	}
}

func TestDigestSkipsQuietProjects(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateUser(ctx, storage.User{ID: "u1", Email: "u1@example.com"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := store.CreateProject(ctx, storage.Project{ID: "p1", UserID: "u1", Name: "quiet", NotifyEmail: "owner@example.com"}); err != nil {
		t.Fatalf("create project: %v", err)
	}

	digest := NewDigest(store, SMTPConfig{Host: "mail.example.com", Port: 587, From: "noreply@indexpilot.io"}, zerolog.Nop())
	digest.sendMail = func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		return errors.New("must not be called")
	}

	sent, err := digest.Run(ctx, time.Now())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sent != 0 {
		t.Errorf("expected no digest for a quiet project, got %d", sent)
	}
}

func TestDigestWithoutSMTPIsNoop(t *testing.T) {
	store := newTestStore(t)
	seedIndexedURL(t, store, "", "owner@example.com")

	digest := NewDigest(store, SMTPConfig{}, zerolog.Nop())
	sent, err := digest.Run(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sent != 0 {
		t.Errorf("expected noop without smtp config, got %d", sent)
	}
}
