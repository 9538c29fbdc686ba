package command

import (
	"context"
	"fmt"

	"github.com/fundhub/fundhub-engine/internal/domain/achievement"
	"github.com/fundhub/fundhub-engine/internal/domain/shared"
	"github.com/fundhub/fundhub-engine/pkg/logger"
	"github.com/fundhub/fundhub-engine/pkg/metrics"
	"github.com/fundhub/fundhub-engine/pkg/timeutil"
	"github.com/shopspring/decimal"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT PROGRESS TRACKER
// Folds domain signals into per-criterion progress and unlocks achievements
// whose criteria are all complete. Unlike the coordinator, errors propagate
// to the caller.
// ══════════════════════════════════════════════════════════════════════════════

// UnlockNotifier is told about every unlocked achievement.
type UnlockNotifier interface {
	AchievementUnlocked(ctx context.Context, ua *achievement.UserAchievement) error
}

// UnlockNotifierFunc adapts a function to UnlockNotifier.
type UnlockNotifierFunc func(ctx context.Context, ua *achievement.UserAchievement) error

// AchievementUnlocked implements UnlockNotifier.
func (f UnlockNotifierFunc) AchievementUnlocked(ctx context.Context, ua *achievement.UserAchievement) error {
	return f(ctx, ua)
}

// UpdateOptions carries optional parameters of UpdateProgress.
type UpdateOptions struct {
	UpdateType achievement.UpdateType
}

// UpdateOption configures UpdateProgress.
type UpdateOption func(*UpdateOptions)

// WithUpdateType selects the fold policy. The default is increment.
func WithUpdateType(u achievement.UpdateType) UpdateOption {
	return func(o *UpdateOptions) {
		o.UpdateType = u
	}
}

// ProgressUpdate describes one criterion row touched by UpdateProgress.
type ProgressUpdate struct {
	UserAchievementID string
	AchievementID     string
	CriterionID       string
	Previous          decimal.Decimal
	Current           decimal.Decimal
	Completed         bool
	Unlocked          bool
}

// ProgressTracker is the achievement progress tracker.
type ProgressTracker struct {
	catalogue achievement.Catalogue
	repo      achievement.Repository
	notifier  UnlockNotifier
	clock     timeutil.Clock
	log       *logger.Logger
	metrics   *metrics.Metrics
}

// NewProgressTracker creates a new ProgressTracker.
func NewProgressTracker(
	catalogue achievement.Catalogue,
	repo achievement.Repository,
	notifier UnlockNotifier,
	clock timeutil.Clock,
	log *logger.Logger,
	m *metrics.Metrics,
) *ProgressTracker {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ProgressTracker{
		catalogue: catalogue,
		repo:      repo,
		notifier:  notifier,
		clock:     clock,
		log:       log.With(logger.Component("progress_tracker")),
		metrics:   m,
	}
}

// InitializeUserAchievements makes sure the user has a record for every
// achievement and a progress row for every criterion. Existing rows are kept
// as they are, so it is safe to call on every login.
func (t *ProgressTracker) InitializeUserAchievements(ctx context.Context, userID string) error {
	if err := shared.RequireID("achievement", "InitializeUserAchievements", "user id", userID); err != nil {
		return err
	}

	achievements, err := t.catalogue.Achievements(ctx)
	if err != nil {
		return fmt.Errorf("initialize achievements: load catalogue: %w", err)
	}

	for _, a := range achievements {
		ua, err := t.repo.EnsureUserAchievement(ctx, userID, a.ID)
		if err != nil {
			return fmt.Errorf("initialize achievements: ensure %s: %w", a.ID, err)
		}
		for _, c := range a.Criteria {
			if _, err := t.repo.EnsureCriterionProgress(ctx, ua.ID, c.ID); err != nil {
				return fmt.Errorf("initialize achievements: ensure criterion %s: %w", c.ID, err)
			}
		}
	}

	t.log.Debug("user achievements initialized",
		logger.UserID(userID), logger.Int("achievements", len(achievements)))
	return nil
}

// UpdateProgress folds value into every criterion of the given type for the
// user. Achievements the user has no record for, or has already unlocked,
// are skipped.
func (t *ProgressTracker) UpdateProgress(
	ctx context.Context,
	userID string,
	criterionType achievement.CriterionType,
	value decimal.Decimal,
	opts ...UpdateOption,
) ([]ProgressUpdate, error) {
	options := UpdateOptions{UpdateType: achievement.UpdateIncrement}
	for _, opt := range opts {
		opt(&options)
	}

	if _, err := achievement.ParseUpdateType(string(options.UpdateType)); err != nil {
		return nil, err
	}
	if !criterionType.IsValid() {
		return nil, shared.UnknownValue("achievement", "UpdateProgress", "criterion type", string(criterionType))
	}
	if err := shared.RequireID("achievement", "UpdateProgress", "user id", userID); err != nil {
		return nil, err
	}

	criteria, err := t.catalogue.CriteriaByType(ctx, criterionType)
	if err != nil {
		return nil, fmt.Errorf("update progress: load criteria: %w", err)
	}

	var updates []ProgressUpdate
	for _, c := range criteria {
		update, ok, err := t.advance(ctx, userID, c, options.UpdateType, value)
		if err != nil {
			return updates, err
		}
		if ok {
			updates = append(updates, update)
		}
	}

	t.metrics.ProgressUpdated(criterionType.String(), len(updates))
	return updates, nil
}

func (t *ProgressTracker) advance(
	ctx context.Context,
	userID string,
	c *achievement.Criterion,
	updateType achievement.UpdateType,
	value decimal.Decimal,
) (ProgressUpdate, bool, error) {
	ua, err := t.repo.GetUserAchievement(ctx, userID, c.AchievementID)
	if err != nil {
		if shared.IsNotFound(err) {
			return ProgressUpdate{}, false, nil
		}
		return ProgressUpdate{}, false, fmt.Errorf("update progress: load user achievement: %w", err)
	}
	if ua.Status {
		return ProgressUpdate{}, false, nil
	}

	p, err := t.repo.EnsureCriterionProgress(ctx, ua.ID, c.ID)
	if err != nil {
		return ProgressUpdate{}, false, fmt.Errorf("update progress: ensure criterion progress: %w", err)
	}

	previous := p.CurrentValue
	changed, justCompleted, err := p.Advance(c, updateType, value, t.clock.Now())
	if err != nil {
		return ProgressUpdate{}, false, err
	}
	if !changed {
		return ProgressUpdate{}, false, nil
	}
	if err := t.repo.SaveCriterionProgress(ctx, p); err != nil {
		return ProgressUpdate{}, false, fmt.Errorf("update progress: save: %w", err)
	}

	update := ProgressUpdate{
		UserAchievementID: ua.ID,
		AchievementID:     ua.AchievementID,
		CriterionID:       c.ID,
		Previous:          previous,
		Current:           p.CurrentValue,
		Completed:         p.Completed,
	}

	if justCompleted {
		t.log.Debug("criterion completed",
			logger.UserID(userID), logger.AchievementID(ua.AchievementID), logger.String("criterion_id", c.ID))
		unlocked, err := t.CheckAchievementCompletion(ctx, ua.ID)
		if err != nil {
			return update, true, err
		}
		update.Unlocked = unlocked
	}
	return update, true, nil
}

// CheckAchievementCompletion unlocks the user achievement if it has at least
// one progress row and every row is completed. It reports whether this call
// unlocked it.
func (t *ProgressTracker) CheckAchievementCompletion(ctx context.Context, userAchievementID string) (bool, error) {
	ua, err := t.repo.GetUserAchievementByID(ctx, userAchievementID)
	if err != nil {
		if shared.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("check completion: load user achievement: %w", err)
	}
	if ua.Status {
		return false, nil
	}

	progress, err := t.repo.ListCriterionProgress(ctx, userAchievementID)
	if err != nil {
		return false, fmt.Errorf("check completion: list progress: %w", err)
	}
	if !achievement.AllCompleted(progress) {
		return false, nil
	}

	now := t.clock.Now()
	changed, err := t.repo.UnlockUserAchievement(ctx, userAchievementID, now)
	if err != nil {
		return false, fmt.Errorf("check completion: unlock: %w", err)
	}
	if !changed {
		return false, nil
	}
	ua.Unlock(now)

	t.metrics.AchievementUnlocked(ua.AchievementID)
	t.log.Info("achievement unlocked",
		logger.UserID(ua.UserID),
		logger.AchievementID(ua.AchievementID),
		logger.UserAchievementID(ua.ID))

	// Notification is best effort; the unlock is already persisted.
	if t.notifier != nil {
		if err := t.notifier.AchievementUnlocked(ctx, ua); err != nil {
			t.log.Warn("unlock notification failed",
				logger.UserAchievementID(ua.ID), logger.Err(err))
		}
	}
	return true, nil
}
