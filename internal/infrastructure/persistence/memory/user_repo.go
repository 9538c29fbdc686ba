package memory

import (
	"context"
	"sync"

	"github.com/fundhub/fundhub-engine/internal/domain/shared"
	"github.com/fundhub/fundhub-engine/internal/domain/user"
)

// UserRepository implements user.Repository.
type UserRepository struct {
	mu       sync.RWMutex
	profiles map[string]user.Profile
}

// NewUserRepository creates an empty store.
func NewUserRepository() *UserRepository {
	return &UserRepository{profiles: make(map[string]user.Profile)}
}

// Compile-time check.
var _ user.Repository = (*UserRepository)(nil)

// Get implements user.Repository.
func (r *UserRepository) Get(_ context.Context, userID string) (*user.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[userID]
	if !ok {
		return nil, shared.ErrUserNotFound
	}
	return &p, nil
}

// Save implements user.Repository.
func (r *UserRepository) Save(_ context.Context, p *user.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.profiles[p.UserID] = *p
	return nil
}
