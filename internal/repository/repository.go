// Package repository declares the storage contracts the services depend on.
// Implementations live in sub-packages (sqlite, postgres).
package repository

import (
	"context"

	"github.com/sakif/propability/internal/model"
)

// CuttingRepository is the structured record store for cuttings.
//
// Every read and write is scoped by owner: a row belonging to another owner
// behaves exactly like a missing row (apperror.ErrNotFound).
type CuttingRepository interface {
	// Create inserts c and fills in ID, CreatedAt and UpdatedAt.
	Create(ctx context.Context, c *model.Cutting) error
	GetByID(ctx context.Context, ownerID, id string) (*model.Cutting, error)
	// ListByOwner returns the owner's cuttings ordered by created_at descending.
	ListByOwner(ctx context.Context, ownerID string) ([]model.Cutting, error)
	// UpdateNickname changes the nickname and returns the stored record.
	UpdateNickname(ctx context.Context, ownerID, id, nickname string) (*model.Cutting, error)
	Delete(ctx context.Context, ownerID, id string) error
}

// UserRepository stores accounts for the identity provider.
type UserRepository interface {
	// Create inserts a new account. Returns apperror.ErrConflict when the
	// email is already registered.
	Create(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	// UpsertProvider creates or refreshes an account keyed on
	// (Provider, ProviderSubject) and fills in user.ID.
	UpsertProvider(ctx context.Context, user *model.User) error
}
