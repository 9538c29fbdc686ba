package achievement

import (
	"context"
	"time"

	"github.com/fundhub/fundhub-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// CatalogueRepository reads achievement definitions.
type CatalogueRepository interface {
	// ListAchievements returns every achievement with its criteria.
	ListAchievements(ctx context.Context) ([]*Achievement, error)

	// ListCriteriaByType returns every criterion of the given type.
	ListCriteriaByType(ctx context.Context, t CriterionType) ([]*Criterion, error)

	// GetAchievement returns one achievement with its criteria.
	// Returns ErrAchievementNotFound if it does not exist.
	GetAchievement(ctx context.Context, id string) (*Achievement, error)
}

// Repository is the achievement store gateway used by the progress tracker.
type Repository interface {
	CatalogueRepository

	// ─────────────────────────────────────────────────────────────────────────
	// User achievements
	// ─────────────────────────────────────────────────────────────────────────

	// GetUserAchievement returns the record for (user, achievement).
	// Returns ErrUserAchievementNotFound if it does not exist.
	GetUserAchievement(ctx context.Context, userID, achievementID string) (*UserAchievement, error)

	// GetUserAchievementByID returns the record by its ID.
	GetUserAchievementByID(ctx context.Context, id string) (*UserAchievement, error)

	// EnsureUserAchievement returns the record for (user, achievement),
	// creating a locked one if it is missing. Existing rows are never reset.
	EnsureUserAchievement(ctx context.Context, userID, achievementID string) (*UserAchievement, error)

	// UnlockUserAchievement flips status false -> true and reports whether
	// this call changed it.
	UnlockUserAchievement(ctx context.Context, id string, at time.Time) (bool, error)

	// ListUserAchievements returns every record of the user.
	ListUserAchievements(ctx context.Context, userID string) ([]*UserAchievement, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Criterion progress
	// ─────────────────────────────────────────────────────────────────────────

	// EnsureCriterionProgress returns the progress row for the pair, creating
	// one at zero if it is missing. Existing rows are never reset.
	EnsureCriterionProgress(ctx context.Context, userAchievementID, criterionID string) (*CriterionProgress, error)

	// SaveCriterionProgress persists value and completion of a row. A row
	// already completed in storage is left untouched.
	SaveCriterionProgress(ctx context.Context, p *CriterionProgress) error

	// ListCriterionProgress returns every progress row of a user achievement.
	ListCriterionProgress(ctx context.Context, userAchievementID string) ([]*CriterionProgress, error)
}

func errAchievementNotFound(id string) error {
	return shared.WrapError(domainName, "Find", shared.ErrNotFound, "achievement "+id+" not found", shared.ErrAchievementNotFound)
}
