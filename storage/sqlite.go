// Package storage provides SQLite dashboard storage.
//
// Information Hiding:
// - SQLite connection management hidden behind interface
// - Schema and migration details encapsulated
// - Thread-safe via sql.DB's built-in connection pooling

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/richinex/atelier/model"
)

// SqliteStore implements Store using SQLite.
// Thread-safe: sql.DB handles connection pooling and concurrent access.
type SqliteStore struct {
	db *sql.DB
}

// OpenSqlite opens or creates a SQLite database at the given path.
// Creates parent directories if they don't exist.
func OpenSqlite(path string) (*SqliteStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	store := &SqliteStore{db: db}
	if err := store.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSqliteInMemory creates an in-memory database (useful for testing).
func NewSqliteInMemory() (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite: %w", err)
	}

	store := &SqliteStore{db: db}
	if err := store.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func (s *SqliteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			kind TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_messages_project
		ON messages(project_id, created_at);

		CREATE TABLE IF NOT EXISTS review_items (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			title TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_reviews_project
		ON review_items(project_id, created_at);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// CreateMessage appends a message to a project's conversation.
func (s *SqliteStore) CreateMessage(ctx context.Context, projectID string, role model.Role, content string, kind model.MessageKind) (model.Message, error) {
	msg := model.Message{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Role:      role,
		Content:   content,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (id, project_id, role, content, kind, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		msg.ID, msg.ProjectID, string(msg.Role), msg.Content, string(msg.Kind), msg.CreatedAt.UnixNano())
	if err != nil {
		return model.Message{}, fmt.Errorf("failed to insert message: %w", err)
	}

	return msg, nil
}

// UpdateMessageContent replaces the content of an existing message.
func (s *SqliteStore) UpdateMessageContent(ctx context.Context, id, content string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE messages SET content = ? WHERE id = ?",
		content, id)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("message %q: %w", id, ErrNotFound)
	}
	return nil
}

// ListMessages returns a project's messages ordered by creation time ascending.
func (s *SqliteStore) ListMessages(ctx context.Context, projectID string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, project_id, role, content, kind, created_at FROM messages WHERE project_id = ? ORDER BY created_at ASC, rowid ASC",
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []model.Message{} // Start with empty slice, not nil
	for rows.Next() {
		var msg model.Message
		var role, kind string
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.ProjectID, &role, &msg.Content, &kind, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = model.Role(role)
		msg.Kind = model.MessageKind(kind)
		msg.CreatedAt = time.Unix(0, createdAt).UTC()
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

// CreateProject creates a new project.
func (s *SqliteStore) CreateProject(ctx context.Context, name string) (model.Project, error) {
	project := model.Project{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO projects (id, name, created_at) VALUES (?, ?, ?)",
		project.ID, project.Name, project.CreatedAt.UnixNano())
	if err != nil {
		return model.Project{}, fmt.Errorf("failed to insert project: %w", err)
	}

	return project, nil
}

// ListProjects lists all projects, newest first.
func (s *SqliteStore) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, created_at FROM projects ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	projects := []model.Project{} // Start with empty slice, not nil
	for rows.Next() {
		var p model.Project
		var createdAt int64
		if err := rows.Scan(&p.ID, &p.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		p.CreatedAt = time.Unix(0, createdAt).UTC()
		projects = append(projects, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}

	return projects, nil
}

// DeleteProject removes a project and its messages and review items.
func (s *SqliteStore) DeleteProject(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// defer tx.Rollback() is safe even after Commit() - it becomes a no-op
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE project_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete project messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM review_items WHERE project_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete project reviews: %w", err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("project %q: %w", id, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CreateReview creates a review item in the open state.
func (s *SqliteStore) CreateReview(ctx context.Context, projectID, title string) (model.ReviewItem, error) {
	now := time.Now().UTC()
	item := model.ReviewItem{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Title:     title,
		Status:    model.ReviewOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO review_items (id, project_id, title, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		item.ID, item.ProjectID, item.Title, string(item.Status), item.CreatedAt.UnixNano(), item.UpdatedAt.UnixNano())
	if err != nil {
		return model.ReviewItem{}, fmt.Errorf("failed to insert review item: %w", err)
	}

	return item, nil
}

// ListReviews returns a project's review items ordered by creation time ascending.
func (s *SqliteStore) ListReviews(ctx context.Context, projectID string) ([]model.ReviewItem, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, project_id, title, status, created_at, updated_at FROM review_items WHERE project_id = ? ORDER BY created_at ASC",
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query review items: %w", err)
	}
	defer rows.Close()

	items := []model.ReviewItem{} // Start with empty slice, not nil
	for rows.Next() {
		var item model.ReviewItem
		var status string
		var createdAt, updatedAt int64
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.Title, &status, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review item: %w", err)
		}

		parsed, err := model.ParseReviewStatus(status)
		if err != nil {
			// Invalid status in database indicates data corruption or schema
			// mismatch. Return error rather than silently defaulting.
			return nil, fmt.Errorf("invalid review status %q in database: %w", status, err)
		}
		item.Status = parsed
		item.CreatedAt = time.Unix(0, createdAt).UTC()
		item.UpdatedAt = time.Unix(0, updatedAt).UTC()
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating review items: %w", err)
	}

	return items, nil
}

// UpdateReviewStatus transitions a review item to a new status.
func (s *SqliteStore) UpdateReviewStatus(ctx context.Context, id string, status model.ReviewStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE review_items SET status = ?, updated_at = ? WHERE id = ?",
		string(status), time.Now().UTC().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to update review item: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("review item %q: %w", id, ErrNotFound)
	}
	return nil
}

// Verify SqliteStore implements Store
var _ Store = (*SqliteStore)(nil)
