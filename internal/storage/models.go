package storage

import (
	"time"
)

// URLStatus represents the position of a URL in its lifecycle state machine.
type URLStatus string

const (
	URLStatusPending    URLStatus = "pending"     // Created but not yet dispatched
	URLStatusSubmitted  URLStatus = "submitted"   // Method jobs enqueued
	URLStatusIndexing   URLStatus = "indexing"    // At least one method executed
	URLStatusVerifying  URLStatus = "verifying"   // Authoritative submission confirmed, polling for indexation
	URLStatusIndexed    URLStatus = "indexed"     // Confirmed in the search index (terminal)
	URLStatusNotIndexed URLStatus = "not_indexed" // Authoritative probe observed absence
	URLStatusRecredited URLStatus = "recredited"  // Credit refunded after the policy window (terminal)
)

// ProjectStatus represents the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectStatusActive    ProjectStatus = "active"
	ProjectStatusCompleted ProjectStatus = "completed"
	ProjectStatusPaused    ProjectStatus = "paused"
)

// TransactionKind classifies a credit ledger entry.
type TransactionKind string

const (
	TransactionPurchase TransactionKind = "purchase"
	TransactionDebit    TransactionKind = "debit"
	TransactionRefund   TransactionKind = "refund"
	TransactionBonus    TransactionKind = "bonus"
)

// AttemptStatus is the outcome of a single method submission attempt.
type AttemptStatus string

const (
	AttemptSuccess AttemptStatus = "success"
	AttemptError   AttemptStatus = "error"
)

// User owns projects and a credit balance. Credits decrease only via debit
// and increase only via purchase, refund, or bonus transactions.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	CreditBalance int       `json:"creditBalance"`
	IsAdmin       bool      `json:"isAdmin"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Project groups URLs under one owner and optionally scopes them to a
// dedicated Search Console credential.
type Project struct {
	ID           string        `json:"id"`
	UserID       string        `json:"userId"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	MainDomain   string        `json:"mainDomain,omitempty"`
	Status       ProjectStatus `json:"status"`
	CredentialID string        `json:"credentialId,omitempty"` // Overrides the global pool for probes when set
	WebhookURL   string        `json:"webhookUrl,omitempty"`   // Indexed-notification destination
	NotifyEmail  string        `json:"notifyEmail,omitempty"`  // Daily digest recipient
	IndexNowKey  string        `json:"indexNowKey,omitempty"`  // Per-project IndexNow key override
	TotalURLs    int           `json:"totalUrls"`
	IndexedCount int           `json:"indexedCount"`
	FailedCount  int           `json:"failedCount"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// URL carries both the submission target and its whole state machine.
type URL struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Address   string    `json:"address"`
	Status    URLStatus `json:"status"`

	// Per-method attempt counters. Ping-style methods (pingomatic, websub,
	// archive) share the social_signal counter.
	GoogleAPIAttempts      int    `json:"googleApiAttempts"`
	GoogleAPILastStatus    string `json:"googleApiLastStatus,omitempty"`
	IndexNowAttempts       int    `json:"indexNowAttempts"`
	IndexNowLastStatus     string `json:"indexNowLastStatus,omitempty"`
	SitemapPingAttempts    int    `json:"sitemapPingAttempts"`
	SitemapPingLastStatus  string `json:"sitemapPingLastStatus,omitempty"`
	SocialSignalAttempts   int    `json:"socialSignalAttempts"`
	SocialSignalLastStatus string `json:"socialSignalLastStatus,omitempty"`
	BacklinkPingAttempts   int    `json:"backlinkPingAttempts"`
	BacklinkPingLastStatus string `json:"backlinkPingLastStatus,omitempty"`

	IsIndexed      bool       `json:"isIndexed"`
	IndexedAt      *time.Time `json:"indexedAt,omitempty"`
	IndexedTitle   string     `json:"indexedTitle,omitempty"`
	IndexedSnippet string     `json:"indexedSnippet,omitempty"`

	LastCheckedAt *time.Time `json:"lastCheckedAt,omitempty"`
	CheckCount    int        `json:"checkCount"`
	CheckMethod   string     `json:"checkMethod,omitempty"` // Last probe that produced a verdict

	CreditDebited  bool `json:"creditDebited"`
	CreditRefunded bool `json:"creditRefunded"`

	PreIndexed         bool `json:"preIndexed"`         // Already indexed at submission time
	VerifiedNotIndexed bool `json:"verifiedNotIndexed"` // Monotonic: once true, never cleared

	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// IsTerminal reports whether the URL has reached a state the sweeps no longer touch.
func (u URL) IsTerminal() bool {
	return u.Status == URLStatusIndexed || u.Status == URLStatusRecredited
}

// CreditTransaction is one append-only ledger entry. Amount is signed:
// debits are negative, purchases/refunds/bonuses positive.
type CreditTransaction struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	Amount      int             `json:"amount"`
	Kind        TransactionKind `json:"kind"`
	Description string          `json:"description,omitempty"`
	URLID       string          `json:"urlId,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// IndexingLog records one submission attempt against one method. Append-only.
type IndexingLog struct {
	ID           string        `json:"id"`
	URLID        string        `json:"urlId"`
	Method       string        `json:"method"`
	Status       AttemptStatus `json:"status"`
	ResponseCode int           `json:"responseCode,omitempty"`
	ResponseBody string        `json:"responseBody,omitempty"` // Truncated to maxLogBody
	CredentialID string        `json:"credentialId,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// maxLogBody bounds stored response bodies.
const maxLogBody = 2048

// TruncateBody clips a response body to the stored maximum.
func TruncateBody(body string) string {
	if len(body) <= maxLogBody {
		return body
	}
	return body[:maxLogBody]
}

// DefaultDailyQuota is the per-credential call budget applied when a
// credential is created without one.
const DefaultDailyQuota = 200

// Credential is one service-account key in the rotating pool with a daily
// call quota. used_today is advisory; correctness only needs it to reflect
// recent usage within a small margin.
type Credential struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	KeyData       string     `json:"-"` // Inlined service-account JSON, never serialized outward
	DailyQuota    int        `json:"dailyQuota"`
	UsedToday     int        `json:"usedToday"`
	IsActive      bool       `json:"isActive"`
	AdminDisabled bool       `json:"adminDisabled"` // Explicit disable; survives the nightly quota reset
	LastResetAt   *time.Time `json:"lastResetAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// HasQuota reports whether the credential can serve another call today.
func (c Credential) HasQuota() bool {
	return c.IsActive && !c.AdminDisabled && c.UsedToday < c.DailyQuota
}

// AttemptResult captures everything the queue worker persists after one
// method execution: the log row, the counter bump, and an optional status
// promotion. Applied in a single transaction.
type AttemptResult struct {
	URLID        string
	Method       string
	Status       AttemptStatus
	ResponseCode int
	ResponseBody string
	CredentialID string
	PromoteTo    URLStatus // Empty means no status change
}

// CheckResult captures one verification probe outcome for persistence.
type CheckResult struct {
	URLID       string
	Verdict     string // yes, no, unknown
	CheckMethod string
	Title       string
	Snippet     string
	PromoteTo   URLStatus // Status promotion applied before the verdict is evaluated
	CheckedAt   time.Time
}

// VerificationWindow selects URLs for one tiered sweep.
type VerificationWindow struct {
	MinAge   time.Duration // Submitted at least this long ago (0 = no lower bound)
	MaxAge   time.Duration // Submitted at most this long ago
	MinGap   time.Duration // Minimum time since last check (0 = no gap requirement)
	Limit    int           // 0 = unlimited
	Statuses []URLStatus
}
