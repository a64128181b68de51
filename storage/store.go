// Package storage provides dashboard persistence abstraction.
//
// Information Hiding:
// - Storage backend implementation details hidden behind interfaces
// - Allows swapping between memory and SQLite without API changes
// - Each implementation encapsulates its own data structures

package storage

import (
	"context"
	"errors"

	"github.com/richinex/atelier/model"
)

// ErrNotFound is returned when a record addressed by id does not exist.
var ErrNotFound = errors.New("record not found")

// MessageStore defines the narrow contract the chat relay consumes.
// Conversation messages are created once and mutated at most twice
// (placeholder creation, then content updates); never deleted here.
type MessageStore interface {
	// CreateMessage appends a message to a project's conversation and
	// returns the stored record with its assigned id and timestamp.
	CreateMessage(ctx context.Context, projectID string, role model.Role, content string, kind model.MessageKind) (model.Message, error)

	// UpdateMessageContent replaces the content of an existing message.
	// Returns ErrNotFound if no message has the given id.
	UpdateMessageContent(ctx context.Context, id, content string) error

	// ListMessages returns a project's messages ordered by creation time
	// ascending. Returns empty slice (not nil) for unknown projects.
	ListMessages(ctx context.Context, projectID string) ([]model.Message, error)
}

// ProjectStore manages the operator's projects.
type ProjectStore interface {
	CreateProject(ctx context.Context, name string) (model.Project, error)
	ListProjects(ctx context.Context) ([]model.Project, error)

	// DeleteProject removes a project and its messages and review items.
	DeleteProject(ctx context.Context, id string) error
}

// ReviewStore manages review items tracked per project.
type ReviewStore interface {
	CreateReview(ctx context.Context, projectID, title string) (model.ReviewItem, error)
	ListReviews(ctx context.Context, projectID string) ([]model.ReviewItem, error)

	// UpdateReviewStatus transitions a review item to a new status.
	// Returns ErrNotFound if no item has the given id.
	UpdateReviewStatus(ctx context.Context, id string, status model.ReviewStatus) error
}

// Store is the full dashboard persistence surface.
type Store interface {
	MessageStore
	ProjectStore
	ReviewStore

	Close() error
}
