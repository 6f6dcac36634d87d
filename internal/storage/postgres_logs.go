package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendIndexingLog records one submission attempt. Append-only.
func (s *PostgresStore) AppendIndexingLog(ctx context.Context, entry IndexingLog) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, url_id, method, status, response_code, response_body, credential_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, s.logsTable)

	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.URLID, entry.Method, entry.Status,
		entry.ResponseCode, TruncateBody(entry.ResponseBody),
		nullString(entry.CredentialID), entry.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert indexing log: %w", err)
	}

	return nil
}

// ListIndexingLogs returns the most recent attempts for a URL.
func (s *PostgresStore) ListIndexingLogs(ctx context.Context, urlID string, limit int) ([]IndexingLog, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, url_id, method, status, response_code, response_body, credential_id, created_at
		FROM %s
		WHERE url_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, s.logsTable)

	rows, err := s.db.QueryContext(ctx, query, urlID, limit)
	if err != nil {
		return nil, fmt.Errorf("query indexing logs: %w", err)
	}
	defer rows.Close()

	return collectLogs(rows)
}

// PruneIndexingLogs deletes log rows older than the cutoff and returns them
// so the caller can move them to cold storage.
func (s *PostgresStore) PruneIndexingLogs(ctx context.Context, olderThan time.Time, limit int) ([]IndexingLog, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE id IN (
			SELECT id FROM %s WHERE created_at < $1 ORDER BY created_at ASC LIMIT $2
		)
		RETURNING id, url_id, method, status, response_code, response_body, credential_id, created_at
	`, s.logsTable, s.logsTable)

	rows, err := s.db.QueryContext(ctx, query, olderThan.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("prune indexing logs: %w", err)
	}
	defer rows.Close()

	return collectLogs(rows)
}

func collectLogs(rows *sql.Rows) ([]IndexingLog, error) {
	var logs []IndexingLog
	for rows.Next() {
		var entry IndexingLog
		var responseCode sql.NullInt64
		var responseBody, credentialID sql.NullString
		err := rows.Scan(
			&entry.ID, &entry.URLID, &entry.Method, &entry.Status,
			&responseCode, &responseBody, &credentialID, &entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan indexing log: %w", err)
		}
		entry.ResponseCode = int(responseCode.Int64)
		entry.ResponseBody = responseBody.String
		entry.CredentialID = credentialID.String
		logs = append(logs, entry)
	}

	return logs, rows.Err()
}
