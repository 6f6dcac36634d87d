package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store with in-memory maps. All state is lost on
// restart; intended for development and tests. Every mutation runs under the
// write lock, which gives the same atomicity the PostgreSQL transactions do.
type MemoryStore struct {
	mu sync.RWMutex

	initialGrant int

	users         map[string]*User
	projects      map[string]*Project
	urls          map[string]*URL
	transactions  []CreditTransaction
	logs          []IndexingLog
	credentials   map[string]*Credential
	notifications map[string]*PendingNotification

	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(initialGrant int) *MemoryStore {
	s := &MemoryStore{
		initialGrant:  initialGrant,
		users:         make(map[string]*User),
		projects:      make(map[string]*Project),
		urls:          make(map[string]*URL),
		credentials:   make(map[string]*Credential),
		notifications: make(map[string]*PendingNotification),
		stopCleanup:   make(chan struct{}),
		cleanupDone:   make(chan struct{}),
	}

	go s.cleanupLoop()

	return s
}

// cleanupLoop periodically drops dead-lettered notifications that completed
// long ago so the map does not grow without bound.
func (s *MemoryStore) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.pruneCompletedNotifications(time.Now().Add(-24 * time.Hour))
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) pruneCompletedNotifications(olderThan time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, n := range s.notifications {
		if n.CompletedAt != nil && n.CompletedAt.Before(olderThan) {
			delete(s.notifications, id)
		}
	}
}

// Stop terminates the background cleanup goroutine.
func (s *MemoryStore) Stop() {
	close(s.stopCleanup)
	<-s.cleanupDone
}

// Close stops the store.
func (s *MemoryStore) Close() error {
	s.Stop()
	return nil
}

// CreateUser inserts a new user, applying the initial credit grant.
func (s *MemoryStore) CreateUser(ctx context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.ID]; exists {
		return fmt.Errorf("user already exists: %s", user.ID)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if user.CreditBalance == 0 && s.initialGrant > 0 {
		user.CreditBalance = s.initialGrant
		s.appendTransaction(CreditTransaction{
			UserID:      user.ID,
			Amount:      s.initialGrant,
			Kind:        TransactionBonus,
			Description: "Welcome bonus",
		})
	}

	s.users[user.ID] = &user
	return nil
}

// GetUser retrieves a user by ID.
func (s *MemoryStore) GetUser(ctx context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return *user, nil
}

// GetBalance returns the current credit balance of a user.
func (s *MemoryStore) GetBalance(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return 0, ErrNotFound
	}
	return user.CreditBalance, nil
}

// DebitForURLs atomically charges one credit per URL.
func (s *MemoryStore) DebitForURLs(ctx context.Context, userID string, urlIDs []string, description string) error {
	if len(urlIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	if user.CreditBalance < len(urlIDs) {
		return ErrInsufficientCredits
	}
	for _, urlID := range urlIDs {
		if _, ok := s.urls[urlID]; !ok {
			return ErrNotFound
		}
	}

	now := time.Now().UTC()
	user.CreditBalance -= len(urlIDs)
	for _, urlID := range urlIDs {
		u := s.urls[urlID]
		u.CreditDebited = true
		u.UpdatedAt = now
		s.appendTransaction(CreditTransaction{
			UserID:      userID,
			Amount:      -1,
			Kind:        TransactionDebit,
			Description: description,
			URLID:       urlID,
		})
	}

	return nil
}

// RefundURL atomically returns one credit for an eligible URL.
func (s *MemoryStore) RefundURL(ctx context.Context, userID, urlID, description string, markRecredited bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.refundURLLocked(userID, urlID, description, markRecredited)
}

func (s *MemoryStore) refundURLLocked(userID, urlID, description string, markRecredited bool) error {
	u, ok := s.urls[urlID]
	if !ok {
		return ErrNotFound
	}
	user, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}

	if !u.CreditDebited {
		return ErrNotDebited
	}
	if u.CreditRefunded {
		return ErrAlreadyRefunded
	}
	if u.IsIndexed && markRecredited {
		return ErrURLIndexed
	}

	now := time.Now().UTC()
	u.CreditRefunded = true
	u.UpdatedAt = now
	if markRecredited {
		u.Status = URLStatusRecredited
		if project, ok := s.projects[u.ProjectID]; ok {
			project.FailedCount++
			project.UpdatedAt = now
		}
	}

	user.CreditBalance++
	s.appendTransaction(CreditTransaction{
		UserID:      userID,
		Amount:      1,
		Kind:        TransactionRefund,
		Description: description,
		URLID:       urlID,
	})

	return nil
}

// GrantCredits adds credits to a user. Returns the new balance.
func (s *MemoryStore) GrantCredits(ctx context.Context, userID string, amount int, kind TransactionKind, description string) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("grant amount must be positive, got %d", amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return 0, ErrNotFound
	}

	user.CreditBalance += amount
	s.appendTransaction(CreditTransaction{
		UserID:      userID,
		Amount:      amount,
		Kind:        kind,
		Description: description,
	})

	return user.CreditBalance, nil
}

// RecordPurchase grants purchased credits exactly once per reference.
func (s *MemoryStore) RecordPurchase(ctx context.Context, userID string, amount int, reference, description string) (int, bool, error) {
	if amount <= 0 {
		return 0, false, fmt.Errorf("purchase amount must be positive, got %d", amount)
	}
	if reference == "" {
		return 0, false, fmt.Errorf("purchase reference required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return 0, false, ErrNotFound
	}

	txID := "purchase_" + reference
	for _, tx := range s.transactions {
		if tx.ID == txID {
			return user.CreditBalance, true, nil
		}
	}

	user.CreditBalance += amount
	s.appendTransaction(CreditTransaction{
		ID:          txID,
		UserID:      userID,
		Amount:      amount,
		Kind:        TransactionPurchase,
		Description: description,
	})

	return user.CreditBalance, false, nil
}

// ListTransactions returns the most recent ledger entries for a user.
func (s *MemoryStore) ListTransactions(ctx context.Context, userID string, limit int) ([]CreditTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var txs []CreditTransaction
	for i := len(s.transactions) - 1; i >= 0 && len(txs) < limit; i-- {
		if s.transactions[i].UserID == userID {
			txs = append(txs, s.transactions[i])
		}
	}
	return txs, nil
}

// appendTransaction records a ledger entry. Caller must hold the write lock.
func (s *MemoryStore) appendTransaction(entry CreditTransaction) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.transactions = append(s.transactions, entry)
}

// CreateProject inserts a new project.
func (s *MemoryStore) CreateProject(ctx context.Context, project Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.projects[project.ID]; exists {
		return fmt.Errorf("project already exists: %s", project.ID)
	}

	now := time.Now().UTC()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = now
	}
	if project.UpdatedAt.IsZero() {
		project.UpdatedAt = now
	}
	if project.Status == "" {
		project.Status = ProjectStatusActive
	}

	s.projects[project.ID] = &project
	return nil
}

// GetProject retrieves a project by ID.
func (s *MemoryStore) GetProject(ctx context.Context, id string) (Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	project, ok := s.projects[id]
	if !ok {
		return Project{}, ErrNotFound
	}
	return *project, nil
}

// ListProjectsByUser returns all projects owned by a user, newest first.
func (s *MemoryStore) ListProjectsByUser(ctx context.Context, userID string) ([]Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var projects []Project
	for _, project := range s.projects {
		if project.UserID == userID {
			projects = append(projects, *project)
		}
	}
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].CreatedAt.After(projects[j].CreatedAt)
	})
	return projects, nil
}

// ListNotifiableProjects returns active projects with a digest recipient.
func (s *MemoryStore) ListNotifiableProjects(ctx context.Context) ([]Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var projects []Project
	for _, project := range s.projects {
		if project.NotifyEmail != "" && project.Status == ProjectStatusActive {
			projects = append(projects, *project)
		}
	}
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].CreatedAt.Before(projects[j].CreatedAt)
	})
	return projects, nil
}

// UpdateProjectStatus changes a project lifecycle state.
func (s *MemoryStore) UpdateProjectStatus(ctx context.Context, id string, status ProjectStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	project, ok := s.projects[id]
	if !ok {
		return ErrNotFound
	}
	project.Status = status
	project.UpdatedAt = time.Now().UTC()
	return nil
}

// SetProjectIndexNowKey stores a per-project IndexNow key override.
func (s *MemoryStore) SetProjectIndexNowKey(ctx context.Context, id, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	project, ok := s.projects[id]
	if !ok {
		return ErrNotFound
	}
	project.IndexNowKey = key
	project.UpdatedAt = time.Now().UTC()
	return nil
}

// CreateURLs inserts a batch of URLs and bumps the owning project counters.
func (s *MemoryStore) CreateURLs(ctx context.Context, urls []URL) error {
	if len(urls) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for i := range urls {
		u := urls[i]
		if u.ID == "" {
			u.ID = uuid.NewString()
			urls[i].ID = u.ID
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
		s.urls[u.ID] = &u
		if project, ok := s.projects[u.ProjectID]; ok {
			project.TotalURLs++
			project.UpdatedAt = now
		}
	}

	return nil
}

// GetURL retrieves a URL by ID.
func (s *MemoryStore) GetURL(ctx context.Context, id string) (URL, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.urls[id]
	if !ok {
		return URL{}, ErrNotFound
	}
	return *u, nil
}

// ListURLsByProject returns URLs belonging to a project, newest first.
func (s *MemoryStore) ListURLsByProject(ctx context.Context, projectID string, limit int) ([]URL, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var urls []URL
	for _, u := range s.urls {
		if u.ProjectID == projectID {
			urls = append(urls, *u)
		}
	}
	sort.Slice(urls, func(i, j int) bool {
		return urls[i].CreatedAt.After(urls[j].CreatedAt)
	})
	if limit > 0 && len(urls) > limit {
		urls = urls[:limit]
	}
	return urls, nil
}

// MarkURLSubmitted moves a pending URL to submitted and stamps submitted_at.
func (s *MemoryStore) MarkURLSubmitted(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.urls[id]
	if !ok || u.Status != URLStatusPending {
		return ErrNotFound
	}

	at = at.UTC()
	u.Status = URLStatusSubmitted
	u.SubmittedAt = &at
	u.UpdatedAt = at
	return nil
}

// MarkAlreadyIndexed applies the pre-check short-circuit atomically.
func (s *MemoryStore) MarkAlreadyIndexed(ctx context.Context, id string, at time.Time, title, snippet, checkMethod string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.urls[id]
	if !ok {
		return false, ErrNotFound
	}
	project, ok := s.projects[u.ProjectID]
	if !ok {
		return false, ErrNotFound
	}

	at = at.UTC()
	u.Status = URLStatusIndexed
	u.PreIndexed = true
	u.IsIndexed = true
	u.IndexedAt = &at
	u.IndexedTitle = title
	u.IndexedSnippet = snippet
	u.LastCheckedAt = &at
	u.CheckCount++
	u.CheckMethod = checkMethod
	u.UpdatedAt = at

	project.IndexedCount++
	project.UpdatedAt = at

	if u.CreditDebited && !u.CreditRefunded {
		if err := s.refundURLLocked(project.UserID, id, "Pre-check: already indexed", false); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// RecordAttemptResult persists one queue-worker execution atomically.
func (s *MemoryStore) RecordAttemptResult(ctx context.Context, result AttemptResult) error {
	if _, _, ok := attemptColumns(result.Method); !ok {
		return fmt.Errorf("unknown method: %s", result.Method)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.urls[result.URLID]
	if !ok {
		return ErrNotFound
	}

	now := time.Now().UTC()
	s.logs = append(s.logs, IndexingLog{
		ID:           uuid.NewString(),
		URLID:        result.URLID,
		Method:       result.Method,
		Status:       result.Status,
		ResponseCode: result.ResponseCode,
		ResponseBody: TruncateBody(result.ResponseBody),
		CredentialID: result.CredentialID,
		CreatedAt:    now,
	})

	bumpAttempt(u, result.Method, string(result.Status))
	if result.PromoteTo != "" {
		promoteURL(u, result.PromoteTo)
	}
	u.UpdatedAt = now

	return nil
}

// RecordCheckResult persists one verification probe outcome atomically.
func (s *MemoryStore) RecordCheckResult(ctx context.Context, result CheckResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.urls[result.URLID]
	if !ok {
		return ErrNotFound
	}

	at := result.CheckedAt
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()

	u.LastCheckedAt = &at
	u.CheckCount++
	u.CheckMethod = result.CheckMethod
	u.UpdatedAt = at

	if result.PromoteTo != "" {
		promoteURL(u, result.PromoteTo)
	}

	switch result.Verdict {
	case "yes":
		u.Status = URLStatusIndexed
		u.IsIndexed = true
		u.IndexedAt = &at
		u.IndexedTitle = result.Title
		u.IndexedSnippet = result.Snippet
		if project, ok := s.projects[u.ProjectID]; ok {
			project.IndexedCount++
			project.UpdatedAt = at
		}
	case "no":
		if !u.IsTerminal() {
			u.Status = URLStatusNotIndexed
			u.VerifiedNotIndexed = true
		}
	}

	return nil
}

// ListPendingURLs returns debited URLs awaiting dispatch, oldest first.
func (s *MemoryStore) ListPendingURLs(ctx context.Context, limit int) ([]URL, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var urls []URL
	for _, u := range s.urls {
		if u.Status == URLStatusPending && u.CreditDebited {
			urls = append(urls, *u)
		}
	}
	sort.Slice(urls, func(i, j int) bool {
		return urls[i].CreatedAt.Before(urls[j].CreatedAt)
	})
	if limit > 0 && len(urls) > limit {
		urls = urls[:limit]
	}
	return urls, nil
}

// ListIndexedSince returns a project's URLs confirmed indexed at or after since.
func (s *MemoryStore) ListIndexedSince(ctx context.Context, projectID string, since time.Time) ([]URL, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var urls []URL
	for _, u := range s.urls {
		if u.ProjectID == projectID && u.IsIndexed && u.IndexedAt != nil && !u.IndexedAt.Before(since) {
			urls = append(urls, *u)
		}
	}
	sort.Slice(urls, func(i, j int) bool {
		return urls[i].IndexedAt.Before(*urls[j].IndexedAt)
	})
	return urls, nil
}

// SelectVerificationCandidates returns URLs inside one sweep window.
func (s *MemoryStore) SelectVerificationCandidates(ctx context.Context, now time.Time, window VerificationWindow) ([]URL, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now = now.UTC()
	inStatus := make(map[URLStatus]bool, len(window.Statuses))
	for _, st := range window.Statuses {
		inStatus[st] = true
	}

	var urls []URL
	for _, u := range s.urls {
		if !inStatus[u.Status] || u.IsIndexed || u.SubmittedAt == nil {
			continue
		}
		age := now.Sub(*u.SubmittedAt)
		if age > window.MaxAge {
			continue
		}
		if window.MinAge > 0 && age < window.MinAge {
			continue
		}
		if window.MinGap > 0 && u.LastCheckedAt != nil && now.Sub(*u.LastCheckedAt) < window.MinGap {
			continue
		}
		urls = append(urls, *u)
	}
	sort.Slice(urls, func(i, j int) bool {
		return urls[i].SubmittedAt.Before(*urls[j].SubmittedAt)
	})
	if window.Limit > 0 && len(urls) > window.Limit {
		urls = urls[:window.Limit]
	}
	return urls, nil
}

// SelectRefundCandidates returns URLs eligible for the auto-refund sweep.
func (s *MemoryStore) SelectRefundCandidates(ctx context.Context, cutoff time.Time) ([]URL, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sweepable := map[URLStatus]bool{
		URLStatusSubmitted:  true,
		URLStatusIndexing:   true,
		URLStatusVerifying:  true,
		URLStatusNotIndexed: true,
	}

	var urls []URL
	for _, u := range s.urls {
		if !u.CreditDebited || u.CreditRefunded || u.IsIndexed {
			continue
		}
		if u.SubmittedAt == nil || u.SubmittedAt.After(cutoff) {
			continue
		}
		if !sweepable[u.Status] {
			continue
		}
		urls = append(urls, *u)
	}
	sort.Slice(urls, func(i, j int) bool {
		return urls[i].SubmittedAt.Before(*urls[j].SubmittedAt)
	})
	return urls, nil
}

// AppendIndexingLog records one submission attempt.
func (s *MemoryStore) AppendIndexingLog(ctx context.Context, entry IndexingLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.ResponseBody = TruncateBody(entry.ResponseBody)
	s.logs = append(s.logs, entry)
	return nil
}

// ListIndexingLogs returns the most recent attempts for a URL.
func (s *MemoryStore) ListIndexingLogs(ctx context.Context, urlID string, limit int) ([]IndexingLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var logs []IndexingLog
	for i := len(s.logs) - 1; i >= 0 && (limit <= 0 || len(logs) < limit); i-- {
		if s.logs[i].URLID == urlID {
			logs = append(logs, s.logs[i])
		}
	}
	return logs, nil
}

// PruneIndexingLogs removes and returns log rows older than the cutoff.
func (s *MemoryStore) PruneIndexingLogs(ctx context.Context, olderThan time.Time, limit int) ([]IndexingLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned []IndexingLog
	kept := s.logs[:0]
	for _, entry := range s.logs {
		if entry.CreatedAt.Before(olderThan) && (limit <= 0 || len(pruned) < limit) {
			pruned = append(pruned, entry)
			continue
		}
		kept = append(kept, entry)
	}
	s.logs = kept
	return pruned, nil
}

// CreateCredential inserts a new credential into the pool.
func (s *MemoryStore) CreateCredential(ctx context.Context, credential Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.credentials[credential.ID]; exists {
		return fmt.Errorf("credential already exists: %s", credential.ID)
	}
	if credential.CreatedAt.IsZero() {
		credential.CreatedAt = time.Now().UTC()
	}
	if credential.DailyQuota == 0 {
		credential.DailyQuota = DefaultDailyQuota
	}

	s.credentials[credential.ID] = &credential
	return nil
}

// GetCredential retrieves a credential by ID.
func (s *MemoryStore) GetCredential(ctx context.Context, id string) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	credential, ok := s.credentials[id]
	if !ok {
		return Credential{}, ErrNotFound
	}
	return *credential, nil
}

// ListCredentials returns all pool credentials, oldest first.
func (s *MemoryStore) ListCredentials(ctx context.Context) ([]Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var credentials []Credential
	for _, credential := range s.credentials {
		credentials = append(credentials, *credential)
	}
	sort.Slice(credentials, func(i, j int) bool {
		return credentials[i].CreatedAt.Before(credentials[j].CreatedAt)
	})
	return credentials, nil
}

// NextAvailableCredential returns the least-used credential with quota left.
func (s *MemoryStore) NextAvailableCredential(ctx context.Context) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *Credential
	for _, credential := range s.credentials {
		if !credential.HasQuota() {
			continue
		}
		if best == nil || credential.UsedToday < best.UsedToday ||
			(credential.UsedToday == best.UsedToday && credential.CreatedAt.Before(best.CreatedAt)) {
			best = credential
		}
	}
	if best == nil {
		return Credential{}, ErrNoCredentials
	}
	return *best, nil
}

// TotalRemainingQuota sums the remaining daily quota across active credentials.
func (s *MemoryStore) TotalRemainingQuota(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	remaining := 0
	for _, credential := range s.credentials {
		if credential.HasQuota() {
			remaining += credential.DailyQuota - credential.UsedToday
		}
	}
	return remaining, nil
}

// IncrementCredentialUsage charges n calls against a credential.
func (s *MemoryStore) IncrementCredentialUsage(ctx context.Context, id string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	credential, ok := s.credentials[id]
	if !ok {
		return ErrNotFound
	}
	credential.UsedToday += n
	return nil
}

// DisableCredential deactivates a credential.
func (s *MemoryStore) DisableCredential(ctx context.Context, id string, admin bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	credential, ok := s.credentials[id]
	if !ok {
		return ErrNotFound
	}
	credential.IsActive = false
	if admin {
		credential.AdminDisabled = true
	}
	return nil
}

// ResetCredentials zeroes usage counters at the daily boundary.
func (s *MemoryStore) ResetCredentials(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now = now.UTC()
	count := 0
	for _, credential := range s.credentials {
		credential.UsedToday = 0
		resetAt := now
		credential.LastResetAt = &resetAt
		credential.IsActive = !credential.AdminDisabled
		count++
	}
	return count, nil
}

// DeleteCredential removes a credential from the pool.
func (s *MemoryStore) DeleteCredential(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.credentials[id]; !ok {
		return ErrNotFound
	}
	delete(s.credentials, id)
	return nil
}

// EnqueueNotification adds a notification to the delivery queue.
func (s *MemoryStore) EnqueueNotification(ctx context.Context, notification PendingNotification) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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

	s.notifications[notification.ID] = &notification
	return notification.ID, nil
}

// DequeueNotifications retrieves notifications ready for delivery.
func (s *MemoryStore) DequeueNotifications(ctx context.Context, limit int) ([]PendingNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	var notifications []PendingNotification
	for _, n := range s.notifications {
		if n.Status == NotificationStatusPending && !n.NextAttemptAt.After(now) {
			notifications = append(notifications, *n)
		}
	}
	sort.Slice(notifications, func(i, j int) bool {
		return notifications[i].NextAttemptAt.Before(notifications[j].NextAttemptAt)
	})
	if limit > 0 && len(notifications) > limit {
		notifications = notifications[:limit]
	}
	return notifications, nil
}

// MarkNotificationProcessing updates status to prevent duplicate processing.
func (s *MemoryStore) MarkNotificationProcessing(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return ErrNotFound
	}
	n.Status = NotificationStatusProcessing
	n.LastAttemptAt = time.Now().UTC()
	n.Attempts++
	return nil
}

// MarkNotificationSuccess removes a delivered notification from the queue.
func (s *MemoryStore) MarkNotificationSuccess(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.notifications[id]; !ok {
		return ErrNotFound
	}
	delete(s.notifications, id)
	return nil
}

// MarkNotificationFailed records a failed attempt and schedules a retry or
// moves the notification to the DLQ.
func (s *MemoryStore) MarkNotificationFailed(ctx context.Context, id string, errorMsg string, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return ErrNotFound
	}

	now := time.Now().UTC()
	n.LastError = errorMsg
	n.LastAttemptAt = now
	if n.Attempts >= n.MaxAttempts {
		n.Status = NotificationStatusFailed
		n.CompletedAt = &now
	} else {
		n.Status = NotificationStatusPending
		n.NextAttemptAt = nextAttemptAt
	}
	return nil
}

// ListNotifications lists queue entries with an optional status filter.
func (s *MemoryStore) ListNotifications(ctx context.Context, status NotificationStatus, limit int) ([]PendingNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var notifications []PendingNotification
	for _, n := range s.notifications {
		if status == "" || n.Status == status {
			notifications = append(notifications, *n)
		}
	}
	sort.Slice(notifications, func(i, j int) bool {
		return notifications[i].CreatedAt.After(notifications[j].CreatedAt)
	})
	if limit > 0 && len(notifications) > limit {
		notifications = notifications[:limit]
	}
	return notifications, nil
}

// RetryNotification resets a notification to pending for manual retry.
func (s *MemoryStore) RetryNotification(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return ErrNotFound
	}
	n.Status = NotificationStatusPending
	n.NextAttemptAt = time.Now().UTC()
	n.LastError = ""
	n.CompletedAt = nil
	return nil
}

// bumpAttempt increments the counter pair for a method. Caller holds the lock.
func bumpAttempt(u *URL, method, status string) {
	switch method {
	case "google_api":
		u.GoogleAPIAttempts++
		u.GoogleAPILastStatus = status
	case "indexnow":
		u.IndexNowAttempts++
		u.IndexNowLastStatus = status
	case "sitemap_ping":
		u.SitemapPingAttempts++
		u.SitemapPingLastStatus = status
	case "pingomatic", "websub", "archive_org":
		u.SocialSignalAttempts++
		u.SocialSignalLastStatus = status
	case "backlink_pings":
		u.BacklinkPingAttempts++
		u.BacklinkPingLastStatus = status
	}
}

// promoteURL applies a forward-only status promotion. Caller holds the lock.
func promoteURL(u *URL, to URLStatus) {
	for _, from := range promotableFrom(to) {
		if u.Status == from {
			u.Status = to
			return
		}
	}
}
