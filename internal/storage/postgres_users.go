package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateUser inserts a new user. When the store is configured with an initial
// credit grant and the user carries no balance, the grant is applied with a
// matching bonus transaction in the same database transaction.
func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	grant := 0
	if user.CreditBalance == 0 && s.initialGrant > 0 {
		grant = s.initialGrant
		user.CreditBalance = grant
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create user tx: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, email, credit_balance, is_admin, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, s.usersTable)

	_, err = tx.ExecContext(ctx, query,
		user.ID, user.Email, user.CreditBalance, user.IsAdmin, user.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	if grant > 0 {
		if err := s.insertTransaction(ctx, tx, CreditTransaction{
			UserID:      user.ID,
			Amount:      grant,
			Kind:        TransactionBonus,
			Description: "Welcome bonus",
		}); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetUser retrieves a user by ID.
func (s *PostgresStore) GetUser(ctx context.Context, id string) (User, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, email, credit_balance, is_admin, created_at
		FROM %s
		WHERE id = $1
	`, s.usersTable)

	var user User
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.Email, &user.CreditBalance, &user.IsAdmin, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("query user: %w", err)
	}

	return user, nil
}

// GetBalance returns the current credit balance of a user.
func (s *PostgresStore) GetBalance(ctx context.Context, userID string) (int, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT credit_balance FROM %s WHERE id = $1`, s.usersTable)

	var balance int
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}

	return balance, nil
}

// DebitForURLs atomically charges one credit per URL. The balance row is
// locked for the duration so concurrent debits cannot both pass the check.
func (s *PostgresStore) DebitForURLs(ctx context.Context, userID string, urlIDs []string, description string) error {
	if len(urlIDs) == 0 {
		return nil
	}

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin debit tx: %w", err)
	}
	defer tx.Rollback()

	var balance int
	lockQuery := fmt.Sprintf(`SELECT credit_balance FROM %s WHERE id = $1 FOR UPDATE`, s.usersTable)
	err = tx.QueryRowContext(ctx, lockQuery, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock user row: %w", err)
	}

	if balance < len(urlIDs) {
		return ErrInsufficientCredits
	}

	updateQuery := fmt.Sprintf(`UPDATE %s SET credit_balance = credit_balance - $1 WHERE id = $2`, s.usersTable)
	if _, err := tx.ExecContext(ctx, updateQuery, len(urlIDs), userID); err != nil {
		return fmt.Errorf("decrement balance: %w", err)
	}

	markQuery := fmt.Sprintf(`UPDATE %s SET credit_debited = TRUE, updated_at = $2 WHERE id = $1`, s.urlsTable)
	now := time.Now().UTC()
	for _, urlID := range urlIDs {
		if _, err := tx.ExecContext(ctx, markQuery, urlID, now); err != nil {
			return fmt.Errorf("mark url debited: %w", err)
		}
		if err := s.insertTransaction(ctx, tx, CreditTransaction{
			UserID:      userID,
			Amount:      -1,
			Kind:        TransactionDebit,
			Description: description,
			URLID:       urlID,
		}); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RefundURL atomically returns one credit for a debited, unrefunded,
// non-indexed URL. markRecredited also moves the URL to the recredited status
// and counts it against the project failed counter.
func (s *PostgresStore) RefundURL(ctx context.Context, userID, urlID, description string, markRecredited bool) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin refund tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.refundURLTx(ctx, tx, userID, urlID, description, markRecredited); err != nil {
		return err
	}

	return tx.Commit()
}

// refundURLTx applies the refund inside an existing transaction so the
// pre-check path can combine it with the indexed promotion.
func (s *PostgresStore) refundURLTx(ctx context.Context, tx *sql.Tx, userID, urlID, description string, markRecredited bool) error {
	var debited, refunded, indexed bool
	var projectID string
	checkQuery := fmt.Sprintf(`
		SELECT credit_debited, credit_refunded, is_indexed, project_id
		FROM %s
		WHERE id = $1
		FOR UPDATE
	`, s.urlsTable)
	err := tx.QueryRowContext(ctx, checkQuery, urlID).Scan(&debited, &refunded, &indexed, &projectID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock url row: %w", err)
	}

	if !debited {
		return ErrNotDebited
	}
	if refunded {
		return ErrAlreadyRefunded
	}
	if indexed && markRecredited {
		return ErrURLIndexed
	}

	now := time.Now().UTC()
	if markRecredited {
		urlQuery := fmt.Sprintf(`
			UPDATE %s SET credit_refunded = TRUE, status = $2, updated_at = $3 WHERE id = $1
		`, s.urlsTable)
		if _, err := tx.ExecContext(ctx, urlQuery, urlID, URLStatusRecredited, now); err != nil {
			return fmt.Errorf("mark url recredited: %w", err)
		}
		projQuery := fmt.Sprintf(`
			UPDATE %s SET failed_count = failed_count + 1, updated_at = $2 WHERE id = $1
		`, s.projectsTable)
		if _, err := tx.ExecContext(ctx, projQuery, projectID, now); err != nil {
			return fmt.Errorf("bump project failed count: %w", err)
		}
	} else {
		urlQuery := fmt.Sprintf(`
			UPDATE %s SET credit_refunded = TRUE, updated_at = $2 WHERE id = $1
		`, s.urlsTable)
		if _, err := tx.ExecContext(ctx, urlQuery, urlID, now); err != nil {
			return fmt.Errorf("mark url refunded: %w", err)
		}
	}

	balanceQuery := fmt.Sprintf(`UPDATE %s SET credit_balance = credit_balance + 1 WHERE id = $1`, s.usersTable)
	result, err := tx.ExecContext(ctx, balanceQuery, userID)
	if err != nil {
		return fmt.Errorf("increment balance: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return s.insertTransaction(ctx, tx, CreditTransaction{
		UserID:      userID,
		Amount:      1,
		Kind:        TransactionRefund,
		Description: description,
		URLID:       urlID,
	})
}

// GrantCredits adds credits to a user and records the ledger entry.
// Returns the new balance.
func (s *PostgresStore) GrantCredits(ctx context.Context, userID string, amount int, kind TransactionKind, description string) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("grant amount must be positive, got %d", amount)
	}

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin grant tx: %w", err)
	}
	defer tx.Rollback()

	var balance int
	query := fmt.Sprintf(`
		UPDATE %s SET credit_balance = credit_balance + $1 WHERE id = $2
		RETURNING credit_balance
	`, s.usersTable)
	err = tx.QueryRowContext(ctx, query, amount, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment balance: %w", err)
	}

	if err := s.insertTransaction(ctx, tx, CreditTransaction{
		UserID:      userID,
		Amount:      amount,
		Kind:        kind,
		Description: description,
	}); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}

// RecordPurchase grants purchased credits keyed by an external reference
// (the checkout session ID). The ledger row's primary key carries the
// reference, so a replayed webhook conflicts instead of double-granting.
func (s *PostgresStore) RecordPurchase(ctx context.Context, userID string, amount int, reference, description string) (int, bool, error) {
	if amount <= 0 {
		return 0, false, fmt.Errorf("purchase amount must be positive, got %d", amount)
	}
	if reference == "" {
		return 0, false, fmt.Errorf("purchase reference required")
	}

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin purchase tx: %w", err)
	}
	defer tx.Rollback()

	insertQuery := fmt.Sprintf(`
		INSERT INTO %s (id, user_id, amount, kind, description, url_id, created_at)
		VALUES ($1, $2, $3, $4, $5, NULL, $6)
		ON CONFLICT (id) DO NOTHING
	`, s.transactionsTable)

	result, err := tx.ExecContext(ctx, insertQuery,
		"purchase_"+reference, userID, amount, TransactionPurchase,
		description, time.Now().UTC())
	if err != nil {
		return 0, false, fmt.Errorf("insert purchase transaction: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		balance, err := s.GetBalance(ctx, userID)
		if err != nil {
			return 0, true, err
		}
		return balance, true, nil
	}

	var balance int
	updateQuery := fmt.Sprintf(`
		UPDATE %s SET credit_balance = credit_balance + $1 WHERE id = $2
		RETURNING credit_balance
	`, s.usersTable)
	err = tx.QueryRowContext(ctx, updateQuery, amount, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, false, ErrNotFound
	}
	if err != nil {
		return 0, false, fmt.Errorf("increment balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, err
	}
	return balance, false, nil
}

// ListTransactions returns the most recent ledger entries for a user.
func (s *PostgresStore) ListTransactions(ctx context.Context, userID string, limit int) ([]CreditTransaction, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, user_id, amount, kind, description, url_id, created_at
		FROM %s
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, s.transactionsTable)

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var txs []CreditTransaction
	for rows.Next() {
		var t CreditTransaction
		var description, urlID sql.NullString
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Kind, &description, &urlID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Description = description.String
		t.URLID = urlID.String
		txs = append(txs, t)
	}

	return txs, rows.Err()
}

// insertTransaction appends one ledger entry inside an open transaction.
func (s *PostgresStore) insertTransaction(ctx context.Context, tx *sql.Tx, entry CreditTransaction) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, user_id, amount, kind, description, url_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.transactionsTable)

	_, err := tx.ExecContext(ctx, query,
		entry.ID, entry.UserID, entry.Amount, entry.Kind,
		entry.Description, nullString(entry.URLID), entry.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// nullString converts an empty string to SQL NULL.
func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
