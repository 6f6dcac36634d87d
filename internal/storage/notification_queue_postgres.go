package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func generateNotificationID() string {
	return "notif_" + uuid.NewString()
}

// EnqueueNotification adds a notification to the delivery queue.
func (s *PostgresStore) EnqueueNotification(ctx context.Context, notification PendingNotification) (string, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	if notification.ID == "" {
		notification.ID = generateNotificationID()
	}
	if notification.Status == "" {
		notification.Status = NotificationStatusPending
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}
	if notification.NextAttemptAt.IsZero() {
		notification.NextAttemptAt = time.Now().UTC()
	}
	if notification.MaxAttempts == 0 {
		notification.MaxAttempts = 5
	}

	headersJSON, err := json.Marshal(notification.Headers)
	if err != nil {
		return "", fmt.Errorf("marshal headers: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, url, payload, headers, event_type, project_id, status, attempts, max_attempts, last_error, last_attempt_at, next_attempt_at, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, s.notificationsTable)

	_, err = s.db.ExecContext(ctx, query,
		notification.ID,
		notification.URL,
		notification.Payload,
		headersJSON,
		notification.EventType,
		nullString(notification.ProjectID),
		notification.Status,
		notification.Attempts,
		notification.MaxAttempts,
		notification.LastError,
		nullTime(notification.LastAttemptAt),
		notification.NextAttemptAt,
		notification.CreatedAt,
		nullTimePtr(notification.CompletedAt),
	)
	if err != nil {
		return "", fmt.Errorf("insert notification: %w", err)
	}

	return notification.ID, nil
}

// DequeueNotifications retrieves notifications ready for delivery.
func (s *PostgresStore) DequeueNotifications(ctx context.Context, limit int) ([]PendingNotification, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, url, payload, headers, event_type, project_id, status, attempts, max_attempts, last_error, last_attempt_at, next_attempt_at, created_at, completed_at
		FROM %s
		WHERE status = $1 AND next_attempt_at <= $2
		ORDER BY next_attempt_at ASC
		LIMIT $3
	`, s.notificationsTable)

	rows, err := s.db.QueryContext(ctx, query, NotificationStatusPending, time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []PendingNotification
	for rows.Next() {
		notification, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, notification)
	}

	return notifications, rows.Err()
}

// MarkNotificationProcessing updates status to prevent duplicate processing.
func (s *PostgresStore) MarkNotificationProcessing(ctx context.Context, id string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, last_attempt_at = $2, attempts = attempts + 1
		WHERE id = $3
	`, s.notificationsTable)

	result, err := s.db.ExecContext(ctx, query, NotificationStatusProcessing, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// MarkNotificationSuccess marks a notification as delivered and removes it
// from the queue.
func (s *PostgresStore) MarkNotificationSuccess(ctx context.Context, id string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.notificationsTable)

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// MarkNotificationFailed records a failed attempt and schedules a retry, or
// moves the notification to the DLQ when retries are exhausted.
func (s *PostgresStore) MarkNotificationFailed(ctx context.Context, id string, errorMsg string, nextAttemptAt time.Time) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var attempts, maxAttempts int
	checkQuery := fmt.Sprintf("SELECT attempts, max_attempts FROM %s WHERE id = $1", s.notificationsTable)
	err := s.db.QueryRowContext(ctx, checkQuery, id).Scan(&attempts, &maxAttempts)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("query notification: %w", err)
	}

	var query string
	var args []interface{}

	if attempts >= maxAttempts {
		query = fmt.Sprintf(`
			UPDATE %s
			SET status = $1, last_error = $2, last_attempt_at = $3, completed_at = $4
			WHERE id = $5
		`, s.notificationsTable)
		now := time.Now().UTC()
		args = []interface{}{NotificationStatusFailed, errorMsg, now, now, id}
	} else {
		query = fmt.Sprintf(`
			UPDATE %s
			SET status = $1, last_error = $2, last_attempt_at = $3, next_attempt_at = $4
			WHERE id = $5
		`, s.notificationsTable)
		args = []interface{}{NotificationStatusPending, errorMsg, time.Now().UTC(), nextAttemptAt, id}
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// ListNotifications lists queue entries with an optional status filter.
func (s *PostgresStore) ListNotifications(ctx context.Context, status NotificationStatus, limit int) ([]PendingNotification, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var query string
	var args []interface{}

	if status == "" {
		query = fmt.Sprintf(`
			SELECT id, url, payload, headers, event_type, project_id, status, attempts, max_attempts, last_error, last_attempt_at, next_attempt_at, created_at, completed_at
			FROM %s
			ORDER BY created_at DESC
			LIMIT $1
		`, s.notificationsTable)
		args = []interface{}{limit}
	} else {
		query = fmt.Sprintf(`
			SELECT id, url, payload, headers, event_type, project_id, status, attempts, max_attempts, last_error, last_attempt_at, next_attempt_at, created_at, completed_at
			FROM %s
			WHERE status = $1
			ORDER BY created_at DESC
			LIMIT $2
		`, s.notificationsTable)
		args = []interface{}{status, limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []PendingNotification
	for rows.Next() {
		notification, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, notification)
	}

	return notifications, rows.Err()
}

// RetryNotification resets a notification to pending for manual retry.
func (s *PostgresStore) RetryNotification(ctx context.Context, id string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, next_attempt_at = $2, last_error = $3
		WHERE id = $4
	`, s.notificationsTable)

	result, err := s.db.ExecContext(ctx, query, NotificationStatusPending, time.Now().UTC(), "", id)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(sc scanner) (PendingNotification, error) {
	var notification PendingNotification
	var headersJSON []byte
	var projectID sql.NullString
	var lastAttemptAt sql.NullTime
	var completedAt sql.NullTime

	err := sc.Scan(
		&notification.ID,
		&notification.URL,
		&notification.Payload,
		&headersJSON,
		&notification.EventType,
		&projectID,
		&notification.Status,
		&notification.Attempts,
		&notification.MaxAttempts,
		&notification.LastError,
		&lastAttemptAt,
		&notification.NextAttemptAt,
		&notification.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return PendingNotification{}, err
	}

	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &notification.Headers); err != nil {
			return PendingNotification{}, fmt.Errorf("unmarshal headers: %w", err)
		}
	}

	notification.ProjectID = projectID.String
	if lastAttemptAt.Valid {
		notification.LastAttemptAt = lastAttemptAt.Time
	}
	if completedAt.Valid {
		notification.CompletedAt = &completedAt.Time
	}

	return notification, nil
}

// nullTime converts a time.Time to sql.NullTime, handling zero values.
func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: t, Valid: true}
}

// nullTimePtr converts a *time.Time to sql.NullTime.
func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
