// Package notify delivers indexation events to project owners: a durable
// webhook per indexed URL and a daily email digest. Webhooks go through the
// persistent notification queue so a crashed process never loses a delivery.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IndexPilot/server/internal/storage"
	"github.com/rs/zerolog"
)

// EventURLIndexed is fired once when a URL is confirmed in the index.
const EventURLIndexed = "url.indexed"

// Service enqueues outbound notifications.
type Service struct {
	store       storage.Store
	headers     map[string]string
	maxAttempts int
	logger      zerolog.Logger
}

// NewService creates a notification service. Extra headers ride along with
// every webhook delivery.
func NewService(store storage.Store, headers map[string]string, maxAttempts int, logger zerolog.Logger) *Service {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Service{
		store:       store,
		headers:     headers,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

type indexedPayload struct {
	Event       string     `json:"event"`
	URL         string     `json:"url"`
	IndexedAt   *time.Time `json:"indexed_at,omitempty"`
	ProjectID   string     `json:"project_id"`
	ProjectName string     `json:"project_name"`
	Title       string     `json:"title,omitempty"`
	Snippet     string     `json:"snippet,omitempty"`
}

// NotifyIndexed queues one url.indexed webhook for the URL's project. Projects
// without a webhook URL are skipped silently.
func (s *Service) NotifyIndexed(ctx context.Context, url storage.URL) error {
	project, err := s.store.GetProject(ctx, url.ProjectID)
	if err != nil {
		return fmt.Errorf("notify: load project %s: %w", url.ProjectID, err)
	}
	if project.WebhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(indexedPayload{
		Event:       EventURLIndexed,
		URL:         url.Address,
		IndexedAt:   url.IndexedAt,
		ProjectID:   project.ID,
		ProjectName: project.Name,
		Title:       url.IndexedTitle,
		Snippet:     url.IndexedSnippet,
	})
	if err != nil {
		return fmt.Errorf("notify: marshal payload: %w", err)
	}

	headers := map[string]string{"Content-Type": "application/json"}
	for k, v := range s.headers {
		headers[k] = v
	}

	id, err := s.store.EnqueueNotification(ctx, storage.PendingNotification{
		URL:         project.WebhookURL,
		Payload:     payload,
		Headers:     headers,
		EventType:   EventURLIndexed,
		ProjectID:   project.ID,
		MaxAttempts: s.maxAttempts,
	})
	if err != nil {
		return fmt.Errorf("notify: enqueue: %w", err)
	}

	s.logger.Info().
		Str("notification_id", id).
		Str("url", url.Address).
		Str("project_id", project.ID).
		Msg("notify.queued")
	return nil
}
