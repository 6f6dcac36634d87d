package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresBackend keeps the queue in three small tables. Pop uses
// FOR UPDATE SKIP LOCKED so multiple workers can poll the same table without
// handing out duplicate jobs.
type PostgresBackend struct {
	db     *sql.DB
	ownsDB bool

	jobsTable  string
	ratesTable string
	locksTable string
}

// NewPostgresBackend opens a connection and prepares the queue tables.
func NewPostgresBackend(connectionString, tablePrefix string) (*Backend, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return newPostgresBackend(db, true, tablePrefix)
}

// NewPostgresBackendWithDB reuses an existing connection pool.
func NewPostgresBackendWithDB(db *sql.DB, tablePrefix string) (*Backend, error) {
	return newPostgresBackend(db, false, tablePrefix)
}

func newPostgresBackend(db *sql.DB, ownsDB bool, tablePrefix string) (*Backend, error) {
	b := &PostgresBackend{
		db:         db,
		ownsDB:     ownsDB,
		jobsTable:  tablePrefix + "queue_jobs",
		ratesTable: tablePrefix + "queue_rate_windows",
		locksTable: tablePrefix + "queue_url_locks",
	}
	if err := b.createTables(); err != nil {
		if ownsDB {
			_ = db.Close()
		}
		return nil, err
	}
	return &Backend{Jobs: b, Limiter: b, Locker: b}, nil
}

func (b *PostgresBackend) createTables() error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			payload JSONB NOT NULL,
			ready_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS %s (
			method TEXT PRIMARY KEY,
			window_start TIMESTAMP NOT NULL,
			count INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS %s (
			url_id TEXT PRIMARY KEY,
			expires_at TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_%s_ready ON %s(ready_at);
	`,
		b.jobsTable, b.ratesTable, b.locksTable,
		b.jobsTable, b.jobsTable,
	)

	_, err := b.db.Exec(schema)
	return err
}

// Push schedules a job.
func (b *PostgresBackend) Push(ctx context.Context, job Job, readyAt time.Time) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, payload, ready_at, created_at)
		VALUES ($1, $2, $3, $4)
	`, b.jobsTable)

	_, err = b.db.ExecContext(ctx, query, uuid.NewString(), payload, readyAt.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Pop atomically removes and returns up to limit eligible jobs.
func (b *PostgresBackend) Pop(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE id IN (
			SELECT id FROM %s
			WHERE ready_at <= $1
			ORDER BY ready_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING payload
	`, b.jobsTable, b.jobsTable)

	rows, err := b.db.QueryContext(ctx, query, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("pop jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		var job Job
		if err := json.Unmarshal(payload, &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Depth returns the number of queued jobs, eligible or not.
func (b *PostgresBackend) Depth(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, b.jobsTable)
	var n int
	if err := b.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return n, nil
}

// Allow consumes one slot in the method window. The upsert resets the counter
// when the previous window has elapsed.
func (b *PostgresBackend) Allow(ctx context.Context, method string) (bool, error) {
	limit, limited := RateLimit(method)
	if !limited {
		return true, nil
	}

	now := time.Now().UTC()
	query := fmt.Sprintf(`
		INSERT INTO %s (method, window_start, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (method) DO UPDATE SET
			count = CASE WHEN %s.window_start <= $3 THEN 1 ELSE %s.count + 1 END,
			window_start = CASE WHEN %s.window_start <= $3 THEN $2 ELSE %s.window_start END
		RETURNING count
	`, b.ratesTable, b.ratesTable, b.ratesTable, b.ratesTable, b.ratesTable)

	var count int
	err := b.db.QueryRowContext(ctx, query, method, now, now.Add(-RateWindow)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("bump rate window: %w", err)
	}
	return count <= limit, nil
}

// TryLock acquires a short exclusive URL lock. An expired lock row is taken
// over in place.
func (b *PostgresBackend) TryLock(ctx context.Context, urlID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	query := fmt.Sprintf(`
		INSERT INTO %s (url_id, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (url_id) DO UPDATE SET expires_at = EXCLUDED.expires_at
		WHERE %s.expires_at <= $3
	`, b.locksTable, b.locksTable)

	result, err := b.db.ExecContext(ctx, query, urlID, now.Add(ttl), now)
	if err != nil {
		return false, fmt.Errorf("acquire url lock: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return rows > 0, nil
}

// Unlock releases a URL lock early.
func (b *PostgresBackend) Unlock(ctx context.Context, urlID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE url_id = $1`, b.locksTable)
	if _, err := b.db.ExecContext(ctx, query, urlID); err != nil {
		return fmt.Errorf("release url lock: %w", err)
	}
	return nil
}

// Close closes the connection if this backend owns it.
func (b *PostgresBackend) Close() error {
	if b.ownsDB {
		return b.db.Close()
	}
	return nil
}
