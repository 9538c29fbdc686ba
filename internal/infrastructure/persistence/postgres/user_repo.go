package postgres

import (
	"context"
	"time"

	"github.com/fundhub/fundhub-engine/internal/domain/shared"
	"github.com/fundhub/fundhub-engine/internal/domain/user"
	"github.com/fundhub/fundhub-engine/pkg/retry"
	"github.com/shopspring/decimal"
)

// UserRepository implements user.Repository for PostgreSQL.
type UserRepository struct {
	conn    *Connection
	retrier *retry.Retrier
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(conn *Connection) *UserRepository {
	return &UserRepository{
		conn:    conn,
		retrier: retry.DatabaseRetrier(IsTransient),
	}
}

// Compile-time check.
var _ user.Repository = (*UserRepository)(nil)

// Get returns the profile or shared.ErrUserNotFound.
func (r *UserRepository) Get(ctx context.Context, userID string) (*user.Profile, error) {
	query := `
		SELECT user_id, current_streak, best_streak, last_active_at, balance::text, updated_at
		FROM user_profiles
		WHERE user_id = $1
	`

	p, err := retry.DoWithData(ctx, r.retrier, func(ctx context.Context) (*user.Profile, error) {
		var (
			p          user.Profile
			lastActive *time.Time
			balance    string
		)
		err := r.conn.QueryRow(ctx, query, userID).Scan(
			&p.UserID, &p.CurrentStreak, &p.BestStreak, &lastActive, &balance, &p.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		if lastActive != nil {
			p.LastActiveDate = *lastActive
		}
		if p.Balance, err = decimal.NewFromString(balance); err != nil {
			return nil, err
		}
		return &p, nil
	})
	if IsNoRows(err) {
		return nil, shared.ErrUserNotFound
	}
	if err != nil {
		return nil, storageErr("GetUserProfile", err)
	}
	return p, nil
}

// Save upserts the profile.
func (r *UserRepository) Save(ctx context.Context, p *user.Profile) error {
	query := `
		INSERT INTO user_profiles (user_id, current_streak, best_streak, last_active_at, balance, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6)
		ON CONFLICT (user_id) DO UPDATE
		SET current_streak = EXCLUDED.current_streak,
			best_streak = EXCLUDED.best_streak,
			last_active_at = EXCLUDED.last_active_at,
			balance = EXCLUDED.balance,
			updated_at = EXCLUDED.updated_at
	`

	var lastActive *time.Time
	if !p.LastActiveDate.IsZero() {
		lastActive = &p.LastActiveDate
	}
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		_, err := r.conn.Exec(ctx, query,
			p.UserID, p.CurrentStreak, p.BestStreak, lastActive, p.Balance.String(), updatedAt,
		)
		return err
	})
	return storageErr("SaveUserProfile", err)
}
