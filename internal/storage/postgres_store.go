package storage

import (
	"fmt"

	"database/sql"

	"github.com/IndexPilot/server/internal/config"
	_ "github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db           *sql.DB
	ownsDB       bool // Track if we created the DB connection (for Close())
	initialGrant int  // Credits granted to a new user on creation

	// Table names, prefixed when StoreConfig.TablePrefix is set
	usersTable         string
	projectsTable      string
	urlsTable          string
	transactionsTable  string
	logsTable          string
	credentialsTable   string
	notificationsTable string
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(connectionString string, poolConfig config.PostgresPoolConfig, tablePrefix string, initialGrant int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		// Close() errors during initialization cleanup are not actionable and
		// would only obscure the original connection failure.
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	// Apply connection pool settings from config
	config.ApplyPostgresPoolSettings(db, poolConfig)

	store := newPostgresStore(db, true, tablePrefix, initialGrant)
	if err := store.createPostgresTables(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// NewPostgresStoreWithDB creates a PostgreSQL-backed store using an existing
// connection pool. This allows sharing a single pool across stores.
func NewPostgresStoreWithDB(db *sql.DB, tablePrefix string, initialGrant int) (*PostgresStore, error) {
	store := newPostgresStore(db, false, tablePrefix, initialGrant)
	if err := store.createPostgresTables(); err != nil {
		return nil, err
	}
	return store, nil
}

func newPostgresStore(db *sql.DB, ownsDB bool, tablePrefix string, initialGrant int) *PostgresStore {
	return &PostgresStore{
		db:                 db,
		ownsDB:             ownsDB,
		initialGrant:       initialGrant,
		usersTable:         tablePrefix + "users",
		projectsTable:      tablePrefix + "projects",
		urlsTable:          tablePrefix + "urls",
		transactionsTable:  tablePrefix + "credit_transactions",
		logsTable:          tablePrefix + "indexing_logs",
		credentialsTable:   tablePrefix + "credentials",
		notificationsTable: tablePrefix + "notification_queue",
	}
}

// createPostgresTables creates the necessary tables if they don't exist.
func (s *PostgresStore) createPostgresTables() error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			credit_balance INTEGER NOT NULL DEFAULT 0,
			is_admin BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			main_domain TEXT,
			status TEXT NOT NULL DEFAULT 'active',
			credential_id TEXT,
			webhook_url TEXT,
			notify_email TEXT,
			indexnow_key TEXT,
			total_urls INTEGER NOT NULL DEFAULT 0,
			indexed_count INTEGER NOT NULL DEFAULT 0,
			failed_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			address TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			google_api_attempts INTEGER NOT NULL DEFAULT 0,
			google_api_last_status TEXT,
			indexnow_attempts INTEGER NOT NULL DEFAULT 0,
			indexnow_last_status TEXT,
			sitemap_ping_attempts INTEGER NOT NULL DEFAULT 0,
			sitemap_ping_last_status TEXT,
			social_signal_attempts INTEGER NOT NULL DEFAULT 0,
			social_signal_last_status TEXT,
			backlink_ping_attempts INTEGER NOT NULL DEFAULT 0,
			backlink_ping_last_status TEXT,
			is_indexed BOOLEAN NOT NULL DEFAULT FALSE,
			indexed_at TIMESTAMP,
			indexed_title TEXT,
			indexed_snippet TEXT,
			last_checked_at TIMESTAMP,
			check_count INTEGER NOT NULL DEFAULT 0,
			check_method TEXT,
			credit_debited BOOLEAN NOT NULL DEFAULT FALSE,
			credit_refunded BOOLEAN NOT NULL DEFAULT FALSE,
			pre_indexed BOOLEAN NOT NULL DEFAULT FALSE,
			verified_not_indexed BOOLEAN NOT NULL DEFAULT FALSE,
			submitted_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			amount INTEGER NOT NULL,
			kind TEXT NOT NULL,
			description TEXT,
			url_id TEXT,
			created_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			url_id TEXT NOT NULL,
			method TEXT NOT NULL,
			status TEXT NOT NULL,
			response_code INTEGER,
			response_body TEXT,
			credential_id TEXT,
			created_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT,
			key_data TEXT NOT NULL,
			daily_quota INTEGER NOT NULL DEFAULT 200,
			used_today INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			admin_disabled BOOLEAN NOT NULL DEFAULT FALSE,
			last_reset_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			payload JSONB NOT NULL,
			headers JSONB,
			event_type TEXT NOT NULL,
			project_id TEXT,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL DEFAULT 5,
			last_error TEXT,
			last_attempt_at TIMESTAMP,
			next_attempt_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_%s_user ON %s(user_id);
		CREATE INDEX IF NOT EXISTS idx_%s_project ON %s(project_id);
		CREATE INDEX IF NOT EXISTS idx_%s_status ON %s(status);
		CREATE INDEX IF NOT EXISTS idx_%s_sweep ON %s(status, submitted_at) WHERE is_indexed = FALSE;
		CREATE INDEX IF NOT EXISTS idx_%s_refund ON %s(credit_debited, credit_refunded, submitted_at) WHERE credit_debited = TRUE AND credit_refunded = FALSE;
		CREATE INDEX IF NOT EXISTS idx_%s_user_created ON %s(user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_%s_url_created ON %s(url_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_%s_created ON %s(created_at);
		CREATE INDEX IF NOT EXISTS idx_%s_pending ON %s(status, next_attempt_at) WHERE status = 'pending';
	`,
		// Table names
		s.usersTable,
		s.projectsTable,
		s.urlsTable,
		s.transactionsTable,
		s.logsTable,
		s.credentialsTable,
		s.notificationsTable,
		// Index table references
		s.projectsTable, s.projectsTable,
		s.urlsTable, s.urlsTable,
		s.urlsTable, s.urlsTable,
		s.urlsTable, s.urlsTable,
		s.urlsTable, s.urlsTable,
		s.transactionsTable, s.transactionsTable,
		s.logsTable, s.logsTable,
		s.logsTable, s.logsTable,
		s.notificationsTable, s.notificationsTable,
	)

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
