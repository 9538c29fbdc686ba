// Package user holds the per-user signals that feed achievements: the daily
// activity streak and the wallet balance.
package user

import (
	"context"
	"time"

	"github.com/fundhub/fundhub-engine/pkg/timeutil"
	"github.com/shopspring/decimal"
)

// Profile is the engine's view of a user.
type Profile struct {
	UserID         string
	Balance        decimal.Decimal
	CurrentStreak  int
	BestStreak     int
	LastActiveDate time.Time
	UpdatedAt      time.Time
}

// NewProfile creates an empty profile.
func NewProfile(userID string) *Profile {
	return &Profile{UserID: userID, Balance: decimal.Zero}
}

// StreakChange describes what RecordActivity did to the streak.
type StreakChange int

const (
	StreakUnchanged StreakChange = iota
	StreakStarted
	StreakExtended
	StreakReset
)

// RecordActivity registers activity at the given moment and updates the
// consecutive-day streak. Days are calendar days in loc.
func (p *Profile) RecordActivity(at time.Time, loc *time.Location) StreakChange {
	day := timeutil.StartOfDay(at, loc)
	p.UpdatedAt = at

	switch {
	case p.LastActiveDate.IsZero():
		p.CurrentStreak = 1
		p.LastActiveDate = day
		p.bumpBest()
		return StreakStarted
	case timeutil.IsSameDay(p.LastActiveDate, at, loc):
		return StreakUnchanged
	case timeutil.IsConsecutiveDay(p.LastActiveDate, at, loc):
		p.CurrentStreak++
		p.LastActiveDate = day
		p.bumpBest()
		return StreakExtended
	case at.Before(p.LastActiveDate):
		// late delivery of an older signal
		return StreakUnchanged
	default:
		p.CurrentStreak = 1
		p.LastActiveDate = day
		return StreakReset
	}
}

func (p *Profile) bumpBest() {
	if p.CurrentStreak > p.BestStreak {
		p.BestStreak = p.CurrentStreak
	}
}

// SetBalance replaces the balance and reports whether it changed.
func (p *Profile) SetBalance(balance decimal.Decimal, at time.Time) bool {
	if p.Balance.Equal(balance) {
		return false
	}
	p.Balance = balance
	p.UpdatedAt = at
	return true
}

// Repository stores profiles.
type Repository interface {
	// Get returns the profile or ErrUserNotFound.
	Get(ctx context.Context, userID string) (*Profile, error)

	// Save upserts the profile.
	Save(ctx context.Context, p *Profile) error
}
