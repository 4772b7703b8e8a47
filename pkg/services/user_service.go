package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jarvislabs/jarvisd/ent"
	"github.com/jarvislabs/jarvisd/ent/user"
)

// UserService manages user identities.
type UserService struct {
	client *ent.Client
}

// NewUserService creates a new UserService.
func NewUserService(client *ent.Client) *UserService {
	return &UserService{client: client}
}

// GetUser retrieves a user by ID.
func (s *UserService) GetUser(ctx context.Context, userID string) (*ent.User, error) {
	u, err := s.client.User.Get(ctx, userID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetOrCreateByEmail resolves the principal for an authenticated request,
// creating the user row on first sight. Races on first creation are resolved
// by re-querying on constraint error.
func (s *UserService) GetOrCreateByEmail(ctx context.Context, email string) (*ent.User, error) {
	if email == "" {
		return nil, NewValidationError("email", "required")
	}

	u, err := s.client.User.Query().Where(user.EmailEQ(email)).Only(ctx)
	if err == nil {
		return u, nil
	}
	if !ent.IsNotFound(err) {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	u, err = s.client.User.Create().
		SetID(uuid.New().String()).
		SetEmail(email).
		Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			return s.client.User.Query().Where(user.EmailEQ(email)).Only(ctx)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

// IsAdmin reports whether the user holds the admin role.
func IsAdmin(u *ent.User) bool {
	return u != nil && u.Role == user.RoleAdmin
}
