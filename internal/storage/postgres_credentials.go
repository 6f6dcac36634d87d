package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateCredential inserts a new service-account credential into the pool.
func (s *PostgresStore) CreateCredential(ctx context.Context, credential Credential) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	if credential.CreatedAt.IsZero() {
		credential.CreatedAt = time.Now().UTC()
	}
	if credential.DailyQuota == 0 {
		credential.DailyQuota = DefaultDailyQuota
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, name, email, key_data, daily_quota, used_today, is_active, admin_disabled, last_reset_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, s.credentialsTable)

	_, err := s.db.ExecContext(ctx, query,
		credential.ID, credential.Name, credential.Email, credential.KeyData,
		credential.DailyQuota, credential.UsedToday, credential.IsActive,
		credential.AdminDisabled, nullTimePtr(credential.LastResetAt), credential.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}

	return nil
}

// GetCredential retrieves a credential by ID, including its key material.
func (s *PostgresStore) GetCredential(ctx context.Context, id string) (Credential, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, name, email, key_data, daily_quota, used_today, is_active, admin_disabled, last_reset_at, created_at
		FROM %s
		WHERE id = $1
	`, s.credentialsTable)

	credential, err := scanCredential(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return Credential{}, ErrNotFound
	}
	if err != nil {
		return Credential{}, fmt.Errorf("scan credential: %w", err)
	}

	return credential, nil
}

// ListCredentials returns all pool credentials.
func (s *PostgresStore) ListCredentials(ctx context.Context) ([]Credential, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, name, email, key_data, daily_quota, used_today, is_active, admin_disabled, last_reset_at, created_at
		FROM %s
		ORDER BY created_at ASC
	`, s.credentialsTable)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}
	defer rows.Close()

	var credentials []Credential
	for rows.Next() {
		credential, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		credentials = append(credentials, credential)
	}

	return credentials, rows.Err()
}

// NextAvailableCredential returns the least-used active credential that still
// has daily quota, spreading load evenly across the pool.
func (s *PostgresStore) NextAvailableCredential(ctx context.Context) (Credential, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, name, email, key_data, daily_quota, used_today, is_active, admin_disabled, last_reset_at, created_at
		FROM %s
		WHERE is_active = TRUE AND admin_disabled = FALSE AND used_today < daily_quota
		ORDER BY used_today ASC, created_at ASC
		LIMIT 1
	`, s.credentialsTable)

	credential, err := scanCredential(s.db.QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return Credential{}, ErrNoCredentials
	}
	if err != nil {
		return Credential{}, fmt.Errorf("scan credential: %w", err)
	}

	return credential, nil
}

// TotalRemainingQuota sums the remaining daily quota across active credentials.
func (s *PostgresStore) TotalRemainingQuota(ctx context.Context) (int, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT COALESCE(SUM(daily_quota - used_today), 0)
		FROM %s
		WHERE is_active = TRUE AND admin_disabled = FALSE AND used_today < daily_quota
	`, s.credentialsTable)

	var remaining int
	if err := s.db.QueryRowContext(ctx, query).Scan(&remaining); err != nil {
		return 0, fmt.Errorf("query remaining quota: %w", err)
	}

	return remaining, nil
}

// IncrementCredentialUsage charges n calls against a credential.
func (s *PostgresStore) IncrementCredentialUsage(ctx context.Context, id string, n int) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`UPDATE %s SET used_today = used_today + $2 WHERE id = $1`, s.credentialsTable)
	result, err := s.db.ExecContext(ctx, query, id, n)
	if err != nil {
		return fmt.Errorf("increment credential usage: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// DisableCredential deactivates a credential. Admin disables persist across
// the nightly reset; quota disables are cleared by ResetCredentials.
func (s *PostgresStore) DisableCredential(ctx context.Context, id string, admin bool) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`UPDATE %s SET is_active = FALSE, admin_disabled = admin_disabled OR $2 WHERE id = $1`, s.credentialsTable)
	result, err := s.db.ExecContext(ctx, query, id, admin)
	if err != nil {
		return fmt.Errorf("disable credential: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ResetCredentials zeroes usage counters at the daily boundary and re-enables
// credentials that were disabled for quota reasons only.
func (s *PostgresStore) ResetCredentials(ctx context.Context, now time.Time) (int, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE %s SET used_today = 0, last_reset_at = $1, is_active = (admin_disabled = FALSE)
	`, s.credentialsTable)

	result, err := s.db.ExecContext(ctx, query, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("reset credentials: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}

	return int(rows), nil
}

// DeleteCredential removes a credential from the pool.
func (s *PostgresStore) DeleteCredential(ctx context.Context, id string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.credentialsTable)
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

func scanCredential(sc scanner) (Credential, error) {
	var credential Credential
	var email sql.NullString
	var lastResetAt sql.NullTime

	err := sc.Scan(
		&credential.ID, &credential.Name, &email, &credential.KeyData,
		&credential.DailyQuota, &credential.UsedToday, &credential.IsActive,
		&credential.AdminDisabled, &lastResetAt, &credential.CreatedAt)
	if err != nil {
		return Credential{}, err
	}

	credential.Email = email.String
	if lastResetAt.Valid {
		credential.LastResetAt = &lastResetAt.Time
	}

	return credential, nil
}
