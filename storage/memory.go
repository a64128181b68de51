// Package storage provides in-memory dashboard storage.
//
// Information Hiding:
// - Map storage structure hidden from users
// - Thread-safe access via RWMutex hidden behind interface
// - Suitable for testing and ephemeral sessions

package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/richinex/atelier/model"
)

// InMemoryStore implements Store using in-memory maps.
// Data is lost when process terminates.
type InMemoryStore struct {
	mu       sync.RWMutex
	projects map[string]model.Project
	messages map[string][]model.Message // keyed by project id, insertion order
	reviews  map[string][]model.ReviewItem
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		projects: make(map[string]model.Project),
		messages: make(map[string][]model.Message),
		reviews:  make(map[string][]model.ReviewItem),
	}
}

// Close is a no-op for in-memory storage.
func (s *InMemoryStore) Close() error {
	return nil
}

// CreateMessage appends a message to a project's conversation.
func (s *InMemoryStore) CreateMessage(ctx context.Context, projectID string, role model.Role, content string, kind model.MessageKind) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := model.Message{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Role:      role,
		Content:   content,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
	s.messages[projectID] = append(s.messages[projectID], msg)
	return msg, nil
}

// UpdateMessageContent replaces the content of an existing message.
func (s *InMemoryStore) UpdateMessageContent(ctx context.Context, id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for projectID, msgs := range s.messages {
		for i := range msgs {
			if msgs[i].ID == id {
				s.messages[projectID][i].Content = content
				return nil
			}
		}
	}
	return fmt.Errorf("message %q: %w", id, ErrNotFound)
}

// ListMessages returns a project's messages ordered by creation time ascending.
func (s *InMemoryStore) ListMessages(ctx context.Context, projectID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Return a copy to avoid external mutations
	msgs := s.messages[projectID]
	copied := make([]model.Message, len(msgs))
	copy(copied, msgs)
	return copied, nil
}

// CreateProject creates a new project.
func (s *InMemoryStore) CreateProject(ctx context.Context, name string) (model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	project := model.Project{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	s.projects[project.ID] = project
	return project, nil
}

// ListProjects lists all projects, newest first.
func (s *InMemoryStore) ListProjects(ctx context.Context) ([]model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	projects := make([]model.Project, 0, len(s.projects))
	for _, p := range s.projects {
		projects = append(projects, p)
	}
	// Newest first, matching the SQLite implementation.
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].CreatedAt.After(projects[j].CreatedAt)
	})
	return projects, nil
}

// DeleteProject removes a project and its messages and review items.
func (s *InMemoryStore) DeleteProject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[id]; !ok {
		return fmt.Errorf("project %q: %w", id, ErrNotFound)
	}
	delete(s.projects, id)
	delete(s.messages, id)
	delete(s.reviews, id)
	return nil
}

// CreateReview creates a review item in the open state.
func (s *InMemoryStore) CreateReview(ctx context.Context, projectID, title string) (model.ReviewItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	item := model.ReviewItem{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Title:     title,
		Status:    model.ReviewOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.reviews[projectID] = append(s.reviews[projectID], item)
	return item, nil
}

// ListReviews returns a project's review items ordered by creation time ascending.
func (s *InMemoryStore) ListReviews(ctx context.Context, projectID string) ([]model.ReviewItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := s.reviews[projectID]
	copied := make([]model.ReviewItem, len(items))
	copy(copied, items)
	return copied, nil
}

// UpdateReviewStatus transitions a review item to a new status.
func (s *InMemoryStore) UpdateReviewStatus(ctx context.Context, id string, status model.ReviewStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for projectID, items := range s.reviews {
		for i := range items {
			if items[i].ID == id {
				s.reviews[projectID][i].Status = status
				s.reviews[projectID][i].UpdatedAt = time.Now().UTC()
				return nil
			}
		}
	}
	return fmt.Errorf("review item %q: %w", id, ErrNotFound)
}

// Verify InMemoryStore implements Store
var _ Store = (*InMemoryStore)(nil)
