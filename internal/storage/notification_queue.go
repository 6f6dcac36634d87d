package storage

import (
	"encoding/json"
	"time"
)

// NotificationStatus represents the current state of a notification in the queue.
type NotificationStatus string

const (
	NotificationStatusPending    NotificationStatus = "pending"    // Waiting for delivery
	NotificationStatusProcessing NotificationStatus = "processing" // Currently being delivered
	NotificationStatusFailed     NotificationStatus = "failed"     // Failed after all retries (DLQ)
	NotificationStatusSuccess    NotificationStatus = "success"    // Successfully delivered
)

// PendingNotification represents a webhook notification waiting for delivery
// or retry. It is persisted so that deliveries survive server restarts.
type PendingNotification struct {
	ID            string             `json:"id"`            // Unique notification identifier (notif_...)
	URL           string             `json:"url"`           // Destination webhook URL
	Payload       json.RawMessage    `json:"payload"`       // JSON payload to send
	Headers       map[string]string  `json:"headers"`       // HTTP headers
	EventType     string             `json:"eventType"`     // e.g. "url.indexed"
	ProjectID     string             `json:"projectId"`     // Project the event belongs to
	Status        NotificationStatus `json:"status"`        // Current status
	Attempts      int                `json:"attempts"`      // Number of delivery attempts
	MaxAttempts   int                `json:"maxAttempts"`   // Maximum retry attempts
	LastError     string             `json:"lastError"`     // Error from last attempt
	LastAttemptAt time.Time          `json:"lastAttemptAt"` // When last attempt was made
	NextAttemptAt time.Time          `json:"nextAttemptAt"` // When next attempt should be made
	CreatedAt     time.Time          `json:"createdAt"`     // When the notification was created
	CompletedAt   *time.Time         `json:"completedAt"`   // When delivered or permanently failed
}

// IsReadyForDelivery returns true if the notification should be processed now.
func (n PendingNotification) IsReadyForDelivery() bool {
	if n.Status != NotificationStatusPending {
		return false
	}
	return time.Now().After(n.NextAttemptAt) || n.NextAttemptAt.IsZero()
}

// IsFinallyFailed returns true if the notification has exhausted all retries.
func (n PendingNotification) IsFinallyFailed() bool {
	return n.Attempts >= n.MaxAttempts && n.Status == NotificationStatusFailed
}
