package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const urlColumns = `id, project_id, address, status,
	google_api_attempts, google_api_last_status,
	indexnow_attempts, indexnow_last_status,
	sitemap_ping_attempts, sitemap_ping_last_status,
	social_signal_attempts, social_signal_last_status,
	backlink_ping_attempts, backlink_ping_last_status,
	is_indexed, indexed_at, indexed_title, indexed_snippet,
	last_checked_at, check_count, check_method,
	credit_debited, credit_refunded, pre_indexed, verified_not_indexed,
	submitted_at, created_at, updated_at`

// attemptColumns maps a submission method to its attempt counter column pair.
// Ping-style methods share the social_signal counter.
func attemptColumns(method string) (attempts, lastStatus string, ok bool) {
	switch method {
	case "google_api":
		return "google_api_attempts", "google_api_last_status", true
	case "indexnow":
		return "indexnow_attempts", "indexnow_last_status", true
	case "sitemap_ping":
		return "sitemap_ping_attempts", "sitemap_ping_last_status", true
	case "pingomatic", "websub", "archive_org":
		return "social_signal_attempts", "social_signal_last_status", true
	case "backlink_pings":
		return "backlink_ping_attempts", "backlink_ping_last_status", true
	default:
		return "", "", false
	}
}

// promotableFrom returns the statuses a promotion may overwrite. Promotions
// are forward-only: a URL never moves backwards in its lifecycle.
func promotableFrom(to URLStatus) []URLStatus {
	switch to {
	case URLStatusSubmitted:
		return []URLStatus{URLStatusPending}
	case URLStatusIndexing:
		return []URLStatus{URLStatusPending, URLStatusSubmitted}
	case URLStatusVerifying:
		return []URLStatus{URLStatusPending, URLStatusSubmitted, URLStatusIndexing}
	default:
		return nil
	}
}

// CreateURLs inserts a batch of URLs and bumps the owning project counters.
// Uses a multi-row INSERT to keep the batch to a single round-trip.
func (s *PostgresStore) CreateURLs(ctx context.Context, urls []URL) error {
	if len(urls) == 0 {
		return nil
	}

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	perProject := make(map[string]int)

	valuePlaceholders := make([]string, 0, len(urls))
	args := make([]interface{}, 0, len(urls)*6)
	for i := range urls {
		u := &urls[i]
		if u.ID == "" {
			u.ID = uuid.NewString()
		}
		if u.Status == "" {
			u.Status = URLStatusPending
		}
		if u.CreatedAt.IsZero() {
			u.CreatedAt = now
		}
		if u.UpdatedAt.IsZero() {
			u.UpdatedAt = now
		}
		perProject[u.ProjectID]++

		offset := i * 6
		valuePlaceholders = append(valuePlaceholders, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)",
			offset+1, offset+2, offset+3, offset+4, offset+5, offset+6))
		args = append(args, u.ID, u.ProjectID, u.Address, u.Status, u.CreatedAt.UTC(), u.UpdatedAt.UTC())
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create urls tx: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, project_id, address, status, created_at, updated_at)
		VALUES `, s.urlsTable) + strings.Join(valuePlaceholders, ", ")

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("batch insert urls: %w", err)
	}

	countQuery := fmt.Sprintf(`
		UPDATE %s SET total_urls = total_urls + $2, updated_at = $3 WHERE id = $1
	`, s.projectsTable)
	for projectID, count := range perProject {
		if _, err := tx.ExecContext(ctx, countQuery, projectID, count, now); err != nil {
			return fmt.Errorf("bump project url count: %w", err)
		}
	}

	return tx.Commit()
}

// GetURL retrieves a URL by ID.
func (s *PostgresStore) GetURL(ctx context.Context, id string) (URL, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, urlColumns, s.urlsTable)
	u, err := scanURL(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return URL{}, ErrNotFound
	}
	if err != nil {
		return URL{}, fmt.Errorf("scan url: %w", err)
	}

	return u, nil
}

// ListURLsByProject returns URLs belonging to a project, newest first.
func (s *PostgresStore) ListURLsByProject(ctx context.Context, projectID string, limit int) ([]URL, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, urlColumns, s.urlsTable)

	return s.queryURLs(ctx, query, projectID, limit)
}

// MarkURLSubmitted moves a pending URL to submitted and stamps submitted_at.
func (s *PostgresStore) MarkURLSubmitted(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE %s SET status = $2, submitted_at = $3, updated_at = $3
		WHERE id = $1 AND status = $4
	`, s.urlsTable)

	result, err := s.db.ExecContext(ctx, query, id, URLStatusSubmitted, at.UTC(), URLStatusPending)
	if err != nil {
		return fmt.Errorf("mark url submitted: %w", err)
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

// MarkAlreadyIndexed applies the pre-check short-circuit in one transaction:
// the URL is promoted straight to indexed, the project counter is bumped, and
// the debited credit is returned. Returns whether a refund was applied.
func (s *PostgresStore) MarkAlreadyIndexed(ctx context.Context, id string, at time.Time, title, snippet, checkMethod string) (bool, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin pre-indexed tx: %w", err)
	}
	defer tx.Rollback()

	var projectID, userID string
	var debited, refunded bool
	lookupQuery := fmt.Sprintf(`
		SELECT u.project_id, p.user_id, u.credit_debited, u.credit_refunded
		FROM %s u JOIN %s p ON p.id = u.project_id
		WHERE u.id = $1
		FOR UPDATE OF u
	`, s.urlsTable, s.projectsTable)
	err = tx.QueryRowContext(ctx, lookupQuery, id).Scan(&projectID, &userID, &debited, &refunded)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("lock url row: %w", err)
	}

	at = at.UTC()
	urlQuery := fmt.Sprintf(`
		UPDATE %s SET
			status = $2, pre_indexed = TRUE, is_indexed = TRUE,
			indexed_at = $3, indexed_title = $4, indexed_snippet = $5,
			last_checked_at = $3, check_count = check_count + 1, check_method = $6,
			updated_at = $3
		WHERE id = $1
	`, s.urlsTable)
	if _, err := tx.ExecContext(ctx, urlQuery, id, URLStatusIndexed, at, title, snippet, checkMethod); err != nil {
		return false, fmt.Errorf("mark url indexed: %w", err)
	}

	projQuery := fmt.Sprintf(`
		UPDATE %s SET indexed_count = indexed_count + 1, updated_at = $2 WHERE id = $1
	`, s.projectsTable)
	if _, err := tx.ExecContext(ctx, projQuery, projectID, at); err != nil {
		return false, fmt.Errorf("bump project indexed count: %w", err)
	}

	refundApplied := false
	if debited && !refunded {
		if err := s.refundURLTx(ctx, tx, userID, id, "Pre-check: already indexed", false); err != nil {
			return false, err
		}
		refundApplied = true
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return refundApplied, nil
}

// RecordAttemptResult persists one queue-worker execution atomically: the log
// row, the per-method counter bump, and an optional forward-only promotion.
func (s *PostgresStore) RecordAttemptResult(ctx context.Context, result AttemptResult) error {
	attemptsCol, statusCol, ok := attemptColumns(result.Method)
	if !ok {
		return fmt.Errorf("unknown method: %s", result.Method)
	}

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin attempt tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	logQuery := fmt.Sprintf(`
		INSERT INTO %s (id, url_id, method, status, response_code, response_body, credential_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, s.logsTable)
	_, err = tx.ExecContext(ctx, logQuery,
		uuid.NewString(), result.URLID, result.Method, result.Status,
		result.ResponseCode, TruncateBody(result.ResponseBody),
		nullString(result.CredentialID), now)
	if err != nil {
		return fmt.Errorf("insert indexing log: %w", err)
	}

	counterQuery := fmt.Sprintf(`
		UPDATE %s SET %s = %s + 1, %s = $2, updated_at = $3 WHERE id = $1
	`, s.urlsTable, attemptsCol, attemptsCol, statusCol)
	counterResult, err := tx.ExecContext(ctx, counterQuery, result.URLID, string(result.Status), now)
	if err != nil {
		return fmt.Errorf("bump attempt counter: %w", err)
	}
	rows, err := counterResult.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	if result.PromoteTo != "" {
		if err := s.promoteURLTx(ctx, tx, result.URLID, result.PromoteTo, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RecordCheckResult persists one verification probe outcome: the check
// bookkeeping, the optional promotion, and the verdict transitions.
func (s *PostgresStore) RecordCheckResult(ctx context.Context, result CheckResult) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin check tx: %w", err)
	}
	defer tx.Rollback()

	at := result.CheckedAt
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()

	var projectID string
	var status URLStatus
	lockQuery := fmt.Sprintf(`SELECT project_id, status FROM %s WHERE id = $1 FOR UPDATE`, s.urlsTable)
	err = tx.QueryRowContext(ctx, lockQuery, result.URLID).Scan(&projectID, &status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock url row: %w", err)
	}

	checkQuery := fmt.Sprintf(`
		UPDATE %s SET last_checked_at = $2, check_count = check_count + 1, check_method = $3, updated_at = $2
		WHERE id = $1
	`, s.urlsTable)
	if _, err := tx.ExecContext(ctx, checkQuery, result.URLID, at, result.CheckMethod); err != nil {
		return fmt.Errorf("record check: %w", err)
	}

	if result.PromoteTo != "" {
		if err := s.promoteURLTx(ctx, tx, result.URLID, result.PromoteTo, at); err != nil {
			return err
		}
	}

	switch result.Verdict {
	case "yes":
		indexedQuery := fmt.Sprintf(`
			UPDATE %s SET status = $2, is_indexed = TRUE, indexed_at = $3,
				indexed_title = $4, indexed_snippet = $5, updated_at = $3
			WHERE id = $1
		`, s.urlsTable)
		if _, err := tx.ExecContext(ctx, indexedQuery, result.URLID, URLStatusIndexed, at, result.Title, result.Snippet); err != nil {
			return fmt.Errorf("mark url indexed: %w", err)
		}
		projQuery := fmt.Sprintf(`
			UPDATE %s SET indexed_count = indexed_count + 1, updated_at = $2 WHERE id = $1
		`, s.projectsTable)
		if _, err := tx.ExecContext(ctx, projQuery, projectID, at); err != nil {
			return fmt.Errorf("bump project indexed count: %w", err)
		}
	case "no":
		// verified_not_indexed is monotonic: once set it is never cleared
		notIndexedQuery := fmt.Sprintf(`
			UPDATE %s SET status = $2, verified_not_indexed = TRUE, updated_at = $3
			WHERE id = $1 AND status NOT IN ($4, $5)
		`, s.urlsTable)
		if _, err := tx.ExecContext(ctx, notIndexedQuery, result.URLID, URLStatusNotIndexed, at,
			URLStatusIndexed, URLStatusRecredited); err != nil {
			return fmt.Errorf("mark url not indexed: %w", err)
		}
	}

	return tx.Commit()
}

// promoteURLTx applies a forward-only status promotion inside an open transaction.
func (s *PostgresStore) promoteURLTx(ctx context.Context, tx *sql.Tx, id string, to URLStatus, at time.Time) error {
	from := promotableFrom(to)
	if len(from) == 0 {
		return fmt.Errorf("invalid promotion target: %s", to)
	}

	fromStrings := make([]string, len(from))
	for i, st := range from {
		fromStrings[i] = string(st)
	}

	query := fmt.Sprintf(`
		UPDATE %s SET status = $2, updated_at = $3
		WHERE id = $1 AND status = ANY($4)
	`, s.urlsTable)
	if _, err := tx.ExecContext(ctx, query, id, to, at, pq.Array(fromStrings)); err != nil {
		return fmt.Errorf("promote url: %w", err)
	}
	return nil
}

// ListPendingURLs returns debited URLs awaiting dispatch, oldest first.
// Undebited pending rows are rejected batches and never dispatch.
func (s *PostgresStore) ListPendingURLs(ctx context.Context, limit int) ([]URL, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE status = $1 AND credit_debited = TRUE
		ORDER BY created_at ASC
		LIMIT $2
	`, urlColumns, s.urlsTable)

	return s.queryURLs(ctx, query, URLStatusPending, limit)
}

// ListIndexedSince returns a project's URLs confirmed indexed at or after since.
func (s *PostgresStore) ListIndexedSince(ctx context.Context, projectID string, since time.Time) ([]URL, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE project_id = $1 AND is_indexed = TRUE AND indexed_at >= $2
		ORDER BY indexed_at ASC
	`, urlColumns, s.urlsTable)

	return s.queryURLs(ctx, query, projectID, since.UTC())
}

// SelectVerificationCandidates returns non-indexed URLs whose submission age
// falls inside the window and whose last check is older than the minimum gap.
func (s *PostgresStore) SelectVerificationCandidates(ctx context.Context, now time.Time, window VerificationWindow) ([]URL, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	now = now.UTC()
	statuses := make([]string, len(window.Statuses))
	for i, st := range window.Statuses {
		statuses[i] = string(st)
	}

	conditions := []string{
		"status = ANY($1)",
		"is_indexed = FALSE",
		"submitted_at IS NOT NULL",
		"submitted_at >= $2", // Not older than MaxAge
	}
	args := []interface{}{pq.Array(statuses), now.Add(-window.MaxAge)}

	if window.MinAge > 0 {
		args = append(args, now.Add(-window.MinAge))
		conditions = append(conditions, fmt.Sprintf("submitted_at <= $%d", len(args)))
	}
	if window.MinGap > 0 {
		args = append(args, now.Add(-window.MinGap))
		conditions = append(conditions, fmt.Sprintf("(last_checked_at IS NULL OR last_checked_at <= $%d)", len(args)))
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE %s
		ORDER BY submitted_at ASC
	`, urlColumns, s.urlsTable, strings.Join(conditions, " AND "))

	if window.Limit > 0 {
		args = append(args, window.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	return s.queryURLs(ctx, query, args...)
}

// SelectRefundCandidates returns debited, unrefunded, non-indexed URLs whose
// submission predates the cutoff and that still sit in a sweepable status.
func (s *PostgresStore) SelectRefundCandidates(ctx context.Context, cutoff time.Time) ([]URL, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	statuses := []string{
		string(URLStatusSubmitted),
		string(URLStatusIndexing),
		string(URLStatusVerifying),
		string(URLStatusNotIndexed),
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE credit_debited = TRUE
			AND credit_refunded = FALSE
			AND is_indexed = FALSE
			AND submitted_at IS NOT NULL
			AND submitted_at <= $1
			AND status = ANY($2)
		ORDER BY submitted_at ASC
	`, urlColumns, s.urlsTable)

	return s.queryURLs(ctx, query, cutoff.UTC(), pq.Array(statuses))
}

func (s *PostgresStore) queryURLs(ctx context.Context, query string, args ...interface{}) ([]URL, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query urls: %w", err)
	}
	defer rows.Close()

	var urls []URL
	for rows.Next() {
		u, err := scanURL(rows)
		if err != nil {
			return nil, fmt.Errorf("scan url: %w", err)
		}
		urls = append(urls, u)
	}

	return urls, rows.Err()
}

func scanURL(sc scanner) (URL, error) {
	var u URL
	var googleStatus, indexnowStatus, sitemapStatus, socialStatus, backlinkStatus sql.NullString
	var indexedTitle, indexedSnippet, checkMethod sql.NullString
	var indexedAt, lastCheckedAt, submittedAt sql.NullTime

	err := sc.Scan(
		&u.ID, &u.ProjectID, &u.Address, &u.Status,
		&u.GoogleAPIAttempts, &googleStatus,
		&u.IndexNowAttempts, &indexnowStatus,
		&u.SitemapPingAttempts, &sitemapStatus,
		&u.SocialSignalAttempts, &socialStatus,
		&u.BacklinkPingAttempts, &backlinkStatus,
		&u.IsIndexed, &indexedAt, &indexedTitle, &indexedSnippet,
		&lastCheckedAt, &u.CheckCount, &checkMethod,
		&u.CreditDebited, &u.CreditRefunded, &u.PreIndexed, &u.VerifiedNotIndexed,
		&submittedAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return URL{}, err
	}

	u.GoogleAPILastStatus = googleStatus.String
	u.IndexNowLastStatus = indexnowStatus.String
	u.SitemapPingLastStatus = sitemapStatus.String
	u.SocialSignalLastStatus = socialStatus.String
	u.BacklinkPingLastStatus = backlinkStatus.String
	u.IndexedTitle = indexedTitle.String
	u.IndexedSnippet = indexedSnippet.String
	u.CheckMethod = checkMethod.String

	if indexedAt.Valid {
		u.IndexedAt = &indexedAt.Time
	}
	if lastCheckedAt.Valid {
		u.LastCheckedAt = &lastCheckedAt.Time
	}
	if submittedAt.Valid {
		u.SubmittedAt = &submittedAt.Time
	}

	return u, nil
}
