package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/IndexPilot/server/internal/config"
)

// ErrNotFound is returned when a requested entity is missing from the store.
var ErrNotFound = errors.New("storage: not found")

// ErrInsufficientCredits is returned when a debit would take a balance negative.
var ErrInsufficientCredits = errors.New("storage: insufficient credits")

// ErrNotDebited is returned when a refund targets a URL that was never debited.
var ErrNotDebited = errors.New("storage: url not debited")

// ErrAlreadyRefunded is returned when a refund targets a URL refunded before.
var ErrAlreadyRefunded = errors.New("storage: url already refunded")

// ErrURLIndexed is returned when a refund targets a URL that reached the index.
var ErrURLIndexed = errors.New("storage: url is indexed")

// ErrNoCredentials is returned when the pool has no credential with remaining quota.
var ErrNoCredentials = errors.New("storage: no credential available")

// Store captures the persistence requirements for the indexation pipeline.
//
// Multi-step mutations (debit, refund, attempt results, check results) are
// atomic: the PostgreSQL implementation wraps them in one transaction, the
// memory implementation in one critical section. The relational store is the
// only source of truth for URL and credit state; the method queue is a
// workload hint layered on top.
type Store interface {
	// User operations
	CreateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id string) (User, error)

	// Credit ledger operations.
	// DebitForURLs is all-or-nothing: it decrements the balance by len(urlIDs),
	// appends one debit transaction per URL, and marks each URL credit_debited.
	// RefundURL only acts when credit_debited && !credit_refunded && !is_indexed;
	// markRecredited additionally moves the URL to the recredited status.
	GetBalance(ctx context.Context, userID string) (int, error)
	DebitForURLs(ctx context.Context, userID string, urlIDs []string, description string) error
	RefundURL(ctx context.Context, userID, urlID, description string, markRecredited bool) error
	GrantCredits(ctx context.Context, userID string, amount int, kind TransactionKind, description string) (int, error)
	// RecordPurchase grants purchased credits exactly once per reference; a
	// replayed reference returns duplicate=true and changes nothing.
	RecordPurchase(ctx context.Context, userID string, amount int, reference, description string) (balance int, duplicate bool, err error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]CreditTransaction, error)

	// Project operations
	CreateProject(ctx context.Context, project Project) error
	GetProject(ctx context.Context, id string) (Project, error)
	ListProjectsByUser(ctx context.Context, userID string) ([]Project, error)
	UpdateProjectStatus(ctx context.Context, id string, status ProjectStatus) error
	// SetProjectIndexNowKey stores a per-project IndexNow key override.
	SetProjectIndexNowKey(ctx context.Context, id, key string) error
	// ListNotifiableProjects returns projects with a digest recipient configured.
	ListNotifiableProjects(ctx context.Context) ([]Project, error)

	// URL operations
	CreateURLs(ctx context.Context, urls []URL) error
	GetURL(ctx context.Context, id string) (URL, error)
	ListURLsByProject(ctx context.Context, projectID string, limit int) ([]URL, error)
	// MarkURLSubmitted moves a pending URL to submitted and stamps submitted_at.
	MarkURLSubmitted(ctx context.Context, id string, at time.Time) error
	// MarkAlreadyIndexed applies the pre-check short-circuit: pre_indexed,
	// is_indexed, indexed_at, status=indexed, check bookkeeping, and the
	// refund of the debited credit, all in one transaction. Returns whether
	// a refund was applied.
	MarkAlreadyIndexed(ctx context.Context, id string, at time.Time, title, snippet, checkMethod string) (bool, error)
	// RecordAttemptResult persists one queue-worker execution: the log row,
	// the per-method counter bump, and an optional status promotion.
	RecordAttemptResult(ctx context.Context, result AttemptResult) error
	// RecordCheckResult persists one verification probe outcome including the
	// indexed / not_indexed transitions and project counter updates.
	RecordCheckResult(ctx context.Context, result CheckResult) error
	// ListPendingURLs returns debited URLs still awaiting dispatch.
	ListPendingURLs(ctx context.Context, limit int) ([]URL, error)
	// ListIndexedSince returns a project's URLs confirmed indexed at or after since.
	ListIndexedSince(ctx context.Context, projectID string, since time.Time) ([]URL, error)
	SelectVerificationCandidates(ctx context.Context, now time.Time, window VerificationWindow) ([]URL, error)
	// SelectRefundCandidates returns URLs where credit_debited && !credit_refunded
	// && !is_indexed && submitted_at <= cutoff && status in the sweepable set.
	SelectRefundCandidates(ctx context.Context, cutoff time.Time) ([]URL, error)

	// Indexing log operations (append-only)
	AppendIndexingLog(ctx context.Context, entry IndexingLog) error
	ListIndexingLogs(ctx context.Context, urlID string, limit int) ([]IndexingLog, error)
	// PruneIndexingLogs removes and returns log rows older than the cutoff so
	// the caller can archive them elsewhere.
	PruneIndexingLogs(ctx context.Context, olderThan time.Time, limit int) ([]IndexingLog, error)

	// Credential pool operations
	CreateCredential(ctx context.Context, credential Credential) error
	GetCredential(ctx context.Context, id string) (Credential, error)
	ListCredentials(ctx context.Context) ([]Credential, error)
	// NextAvailableCredential returns the active credential with the lowest
	// used_today that still has quota, or ErrNoCredentials.
	NextAvailableCredential(ctx context.Context) (Credential, error)
	TotalRemainingQuota(ctx context.Context) (int, error)
	IncrementCredentialUsage(ctx context.Context, id string, n int) error
	// DisableCredential deactivates a credential; admin disables survive the
	// nightly quota reset, quota disables do not.
	DisableCredential(ctx context.Context, id string, admin bool) error
	// ResetCredentials zeroes usage counters, stamps last_reset_at, and
	// re-enables quota-disabled credentials. Returns the number reset.
	ResetCredentials(ctx context.Context, now time.Time) (int, error)
	DeleteCredential(ctx context.Context, id string) error

	// Notification queue operations for persistent webhook delivery
	EnqueueNotification(ctx context.Context, notification PendingNotification) (string, error)
	DequeueNotifications(ctx context.Context, limit int) ([]PendingNotification, error)
	MarkNotificationProcessing(ctx context.Context, id string) error
	MarkNotificationSuccess(ctx context.Context, id string) error
	MarkNotificationFailed(ctx context.Context, id string, errorMsg string, nextAttemptAt time.Time) error
	ListNotifications(ctx context.Context, status NotificationStatus, limit int) ([]PendingNotification, error)
	RetryNotification(ctx context.Context, id string) error

	Close() error
}

// StoreConfig holds storage backend configuration.
type StoreConfig struct {
	Backend      string // "postgres" or "memory"
	PostgresURL  string
	TablePrefix  string                    // Optional prefix for all tables
	PostgresPool config.PostgresPoolConfig // PostgreSQL connection pool settings
	InitialGrant int                       // Credits granted to a new user
}

// NewStore creates a Store instance based on the provided configuration.
func NewStore(cfg StoreConfig) (Store, error) {
	return NewStoreWithDB(cfg, nil)
}

// NewStoreWithDB creates a Store instance with an optional shared database pool.
// If sharedDB is provided (non-nil) for the postgres backend, it will be used
// instead of creating a new connection. Pass nil to create a new connection pool.
func NewStoreWithDB(cfg StoreConfig, sharedDB *sql.DB) (Store, error) {
	switch cfg.Backend {
	case "memory", "":
		// Memory backend loses all state on restart; development and tests only.
		return NewMemoryStore(cfg.InitialGrant), nil
	case "postgres":
		if cfg.PostgresURL == "" && sharedDB == nil {
			return nil, fmt.Errorf("postgres backend requires postgres_url")
		}
		var store *PostgresStore
		var err error
		if sharedDB != nil {
			store, err = NewPostgresStoreWithDB(sharedDB, cfg.TablePrefix, cfg.InitialGrant)
		} else {
			store, err = NewPostgresStore(cfg.PostgresURL, cfg.PostgresPool, cfg.TablePrefix, cfg.InitialGrant)
		}
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
