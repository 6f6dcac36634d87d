package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateProject inserts a new project.
func (s *PostgresStore) CreateProject(ctx context.Context, project Project) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

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

	query := fmt.Sprintf(`
		INSERT INTO %s (id, user_id, name, description, main_domain, status, credential_id, webhook_url, notify_email, indexnow_key, total_urls, indexed_count, failed_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, s.projectsTable)

	_, err := s.db.ExecContext(ctx, query,
		project.ID, project.UserID, project.Name, project.Description, project.MainDomain,
		project.Status, nullString(project.CredentialID), project.WebhookURL, project.NotifyEmail,
		project.IndexNowKey, project.TotalURLs, project.IndexedCount, project.FailedCount,
		project.CreatedAt.UTC(), project.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}

	return nil
}

// GetProject retrieves a project by ID.
func (s *PostgresStore) GetProject(ctx context.Context, id string) (Project, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, user_id, name, description, main_domain, status, credential_id, webhook_url, notify_email, indexnow_key, total_urls, indexed_count, failed_count, created_at, updated_at
		FROM %s
		WHERE id = $1
	`, s.projectsTable)

	project, err := scanProject(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, fmt.Errorf("scan project: %w", err)
	}

	return project, nil
}

// ListProjectsByUser returns all projects owned by a user, newest first.
func (s *PostgresStore) ListProjectsByUser(ctx context.Context, userID string) ([]Project, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, user_id, name, description, main_domain, status, credential_id, webhook_url, notify_email, indexnow_key, total_urls, indexed_count, failed_count, created_at, updated_at
		FROM %s
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, s.projectsTable)

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, project)
	}

	return projects, rows.Err()
}

// ListNotifiableProjects returns active projects with a digest recipient.
func (s *PostgresStore) ListNotifiableProjects(ctx context.Context) ([]Project, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, user_id, name, description, main_domain, status, credential_id, webhook_url, notify_email, indexnow_key, total_urls, indexed_count, failed_count, created_at, updated_at
		FROM %s
		WHERE notify_email <> '' AND status = $1
		ORDER BY created_at ASC
	`, s.projectsTable)

	rows, err := s.db.QueryContext(ctx, query, ProjectStatusActive)
	if err != nil {
		return nil, fmt.Errorf("query notifiable projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, project)
	}

	return projects, rows.Err()
}

// UpdateProjectStatus changes a project lifecycle state.
func (s *PostgresStore) UpdateProjectStatus(ctx context.Context, id string, status ProjectStatus) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`UPDATE %s SET status = $2, updated_at = $3 WHERE id = $1`, s.projectsTable)
	result, err := s.db.ExecContext(ctx, query, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update project status: %w", err)
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

// SetProjectIndexNowKey stores a per-project IndexNow key override.
func (s *PostgresStore) SetProjectIndexNowKey(ctx context.Context, id, key string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`UPDATE %s SET indexnow_key = $2, updated_at = $3 WHERE id = $1`, s.projectsTable)
	result, err := s.db.ExecContext(ctx, query, id, key, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update project indexnow key: %w", err)
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

func scanProject(sc scanner) (Project, error) {
	var project Project
	var description, mainDomain, credentialID, webhookURL, notifyEmail, indexNowKey sql.NullString

	err := sc.Scan(
		&project.ID, &project.UserID, &project.Name, &description, &mainDomain,
		&project.Status, &credentialID, &webhookURL, &notifyEmail, &indexNowKey,
		&project.TotalURLs, &project.IndexedCount, &project.FailedCount,
		&project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		return Project{}, err
	}

	project.Description = description.String
	project.MainDomain = mainDomain.String
	project.CredentialID = credentialID.String
	project.WebhookURL = webhookURL.String
	project.NotifyEmail = notifyEmail.String
	project.IndexNowKey = indexNowKey.String

	return project, nil
}
