package repository

import (
	"context"

	"recovery/internal/domain"
)

// UserRepository defines the read operations the dispatch core needs on riders.
type UserRepository interface {
	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// FavoriteDriverIDs returns the drivers the user marked as favorite.
	FavoriteDriverIDs(ctx context.Context, userID string) ([]string, error)
}
