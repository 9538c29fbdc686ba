package command

import (
	"context"
	"testing"

	"github.com/fundhub/fundhub-engine/internal/domain/achievement"
	"github.com/fundhub/fundhub-engine/internal/domain/shared"
	"github.com/fundhub/fundhub-engine/internal/infrastructure/persistence/memory"
	"github.com/fundhub/fundhub-engine/pkg/metrics"
	"github.com/fundhub/fundhub-engine/pkg/timeutil"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trackerFixture struct {
	repo     *memory.AchievementRepository
	tracker  *ProgressTracker
	unlocked []*achievement.UserAchievement
	metrics  *metrics.Metrics
}

func newTrackerFixture(achievements ...*achievement.Achievement) *trackerFixture {
	f := &trackerFixture{
		repo:    memory.NewAchievementRepository(achievements...),
		metrics: metrics.New(),
	}
	notifier := UnlockNotifierFunc(func(_ context.Context, ua *achievement.UserAchievement) error {
		f.unlocked = append(f.unlocked, ua)
		return nil
	})
	f.tracker = NewProgressTracker(
		achievement.NewStaticCatalogue(achievements...),
		f.repo,
		notifier,
		timeutil.NewFixedClock(testNow),
		nil,
		f.metrics,
	)
	return f
}

func single(id string, t achievement.CriterionType, value string) *achievement.Achievement {
	return &achievement.Achievement{
		ID:   id,
		Name: id,
		Criteria: []*achievement.Criterion{
			{ID: id + "-c1", Type: t, Value: dec(value)},
		},
	}
}

func (f *trackerFixture) progress(t *testing.T, userID, achievementID string) (*achievement.UserAchievement, []*achievement.CriterionProgress) {
	t.Helper()
	ctx := context.Background()
	ua, err := f.repo.GetUserAchievement(ctx, userID, achievementID)
	require.NoError(t, err)
	rows, err := f.repo.ListCriterionProgress(ctx, ua.ID)
	require.NoError(t, err)
	return ua, rows
}

func TestProgressTracker_InitializeIsIdempotent(t *testing.T) {
	f := newTrackerFixture(
		single("first-event", achievement.EventCountCreated, "1"),
		&achievement.Achievement{ID: "collector", Criteria: []*achievement.Criterion{
			{ID: "collector-bank", Type: achievement.EventBankCompleted, Value: dec("1000")},
			{ID: "collector-people", Type: achievement.EventPeopleCompleted, Value: dec("10")},
		}},
	)
	ctx := context.Background()

	require.NoError(t, f.tracker.InitializeUserAchievements(ctx, userA))
	_, err := f.tracker.UpdateProgress(ctx, userA, achievement.EventBankCompleted, dec("400"), WithUpdateType(achievement.UpdateMax))
	require.NoError(t, err)

	require.NoError(t, f.tracker.InitializeUserAchievements(ctx, userA))

	list, err := f.repo.ListUserAchievements(ctx, userA)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, rows := f.progress(t, userA, "collector")
	require.Len(t, rows, 2)
	for _, r := range rows {
		if r.CriterionID == "collector-bank" {
			assert.True(t, r.CurrentValue.Equal(dec("400")), "re-initialization must not reset progress")
		} else {
			assert.True(t, r.CurrentValue.IsZero())
		}
		assert.False(t, r.Completed)
	}
}

func TestProgressTracker_UpdatePolicies(t *testing.T) {
	tests := []struct {
		name   string
		update achievement.UpdateType
		values []string
		want   string
	}{
		{"increment", achievement.UpdateIncrement, []string{"2", "3"}, "5"},
		{"set", achievement.UpdateSet, []string{"2", "7"}, "7"},
		{"max keeps larger", achievement.UpdateMax, []string{"2", "1"}, "2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTrackerFixture(single("big", achievement.EventIncomeAll, "100"))
			ctx := context.Background()
			require.NoError(t, f.tracker.InitializeUserAchievements(ctx, userA))

			for _, v := range tt.values {
				_, err := f.tracker.UpdateProgress(ctx, userA, achievement.EventIncomeAll, dec(v), WithUpdateType(tt.update))
				require.NoError(t, err)
			}

			_, rows := f.progress(t, userA, "big")
			require.Len(t, rows, 1)
			assert.True(t, rows[0].CurrentValue.Equal(dec(tt.want)), "got %s", rows[0].CurrentValue)
		})
	}
}

func TestProgressTracker_UnlocksOnThreshold(t *testing.T) {
	f := newTrackerFixture(single("two-events", achievement.EventCountCreated, "2"))
	ctx := context.Background()
	require.NoError(t, f.tracker.InitializeUserAchievements(ctx, userA))

	updates, err := f.tracker.UpdateProgress(ctx, userA, achievement.EventCountCreated, dec("1"))
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.False(t, updates[0].Completed)
	assert.False(t, updates[0].Unlocked)

	ua, _ := f.progress(t, userA, "two-events")
	assert.False(t, ua.Status)

	updates, err = f.tracker.UpdateProgress(ctx, userA, achievement.EventCountCreated, dec("1"))
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.True(t, updates[0].Completed)
	assert.True(t, updates[0].Unlocked)
	assert.True(t, updates[0].Previous.Equal(dec("1")))
	assert.True(t, updates[0].Current.Equal(dec("2")))

	ua, rows := f.progress(t, userA, "two-events")
	assert.True(t, ua.Status)
	require.NotNil(t, ua.UnlockedAt)
	assert.Equal(t, testNow, *ua.UnlockedAt)
	require.NotNil(t, rows[0].CompletedAt)
	require.Len(t, f.unlocked, 1)
	assert.Equal(t, "two-events", f.unlocked[0].AchievementID)

	series, err := testutil.GatherAndCount(f.metrics.Registry(), "fundhub_achievements_unlocked_total")
	require.NoError(t, err)
	assert.Equal(t, 1, series)
}

func TestProgressTracker_CompletedRowsAreFrozen(t *testing.T) {
	f := newTrackerFixture(single("income", achievement.EventIncomeOnetime, "100"))
	ctx := context.Background()
	require.NoError(t, f.tracker.InitializeUserAchievements(ctx, userA))

	_, err := f.tracker.UpdateProgress(ctx, userA, achievement.EventIncomeOnetime, dec("150"), WithUpdateType(achievement.UpdateMax))
	require.NoError(t, err)

	updates, err := f.tracker.UpdateProgress(ctx, userA, achievement.EventIncomeOnetime, dec("500"), WithUpdateType(achievement.UpdateMax))
	require.NoError(t, err)
	assert.Empty(t, updates)

	_, rows := f.progress(t, userA, "income")
	assert.True(t, rows[0].CurrentValue.Equal(dec("150")))
	assert.Len(t, f.unlocked, 1)
}

func TestProgressTracker_MultiCriterionNeedsAll(t *testing.T) {
	f := newTrackerFixture(&achievement.Achievement{ID: "organizer", Criteria: []*achievement.Criterion{
		{ID: "org-bank", Type: achievement.EventBankCompleted, Value: dec("1000")},
		{ID: "org-people", Type: achievement.EventPeopleCompleted, Value: dec("10")},
	}})
	ctx := context.Background()
	require.NoError(t, f.tracker.InitializeUserAchievements(ctx, userA))

	_, err := f.tracker.UpdateProgress(ctx, userA, achievement.EventBankCompleted, dec("1200"), WithUpdateType(achievement.UpdateMax))
	require.NoError(t, err)
	ua, _ := f.progress(t, userA, "organizer")
	assert.False(t, ua.Status)

	_, err = f.tracker.UpdateProgress(ctx, userA, achievement.EventPeopleCompleted, dec("10"), WithUpdateType(achievement.UpdateMax))
	require.NoError(t, err)
	ua, _ = f.progress(t, userA, "organizer")
	assert.True(t, ua.Status)
}

func TestProgressTracker_SkipsUninitializedUser(t *testing.T) {
	f := newTrackerFixture(single("first", achievement.EventCountAll, "1"))
	ctx := context.Background()

	updates, err := f.tracker.UpdateProgress(ctx, userB, achievement.EventCountAll, dec("1"))
	require.NoError(t, err)
	assert.Empty(t, updates)

	_, err = f.repo.GetUserAchievement(ctx, userB, "first")
	assert.True(t, shared.IsNotFound(err))
}

func TestProgressTracker_ZeroTargetUnlocksOnFirstUpdate(t *testing.T) {
	f := newTrackerFixture(single("welcome", achievement.UserBank, "0"))
	ctx := context.Background()
	require.NoError(t, f.tracker.InitializeUserAchievements(ctx, userA))

	updates, err := f.tracker.UpdateProgress(ctx, userA, achievement.UserBank, dec("0"), WithUpdateType(achievement.UpdateSet))
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.True(t, updates[0].Unlocked)
}

func TestProgressTracker_VacuousAchievementNeverUnlocks(t *testing.T) {
	f := newTrackerFixture(&achievement.Achievement{ID: "empty"})
	ctx := context.Background()
	require.NoError(t, f.tracker.InitializeUserAchievements(ctx, userA))

	ua, rows := f.progress(t, userA, "empty")
	assert.Empty(t, rows)

	unlocked, err := f.tracker.CheckAchievementCompletion(ctx, ua.ID)
	require.NoError(t, err)
	assert.False(t, unlocked)
	assert.Empty(t, f.unlocked)
}

func TestProgressTracker_UnlockIsSingleShot(t *testing.T) {
	f := newTrackerFixture(single("one", achievement.EventCountAll, "1"))
	ctx := context.Background()
	require.NoError(t, f.tracker.InitializeUserAchievements(ctx, userA))

	_, err := f.tracker.UpdateProgress(ctx, userA, achievement.EventCountAll, dec("1"))
	require.NoError(t, err)

	ua, _ := f.progress(t, userA, "one")
	unlocked, err := f.tracker.CheckAchievementCompletion(ctx, ua.ID)
	require.NoError(t, err)
	assert.False(t, unlocked)
	assert.Len(t, f.unlocked, 1)
}

func TestProgressTracker_NotifierFailureIsNotFatal(t *testing.T) {
	repo := memory.NewAchievementRepository(single("one", achievement.EventCountAll, "1"))
	tracker := NewProgressTracker(
		achievement.NewRepositoryCatalogue(repo),
		repo,
		UnlockNotifierFunc(func(context.Context, *achievement.UserAchievement) error { return errBoom }),
		timeutil.NewFixedClock(testNow),
		nil, nil,
	)
	ctx := context.Background()
	require.NoError(t, tracker.InitializeUserAchievements(ctx, userA))

	updates, err := tracker.UpdateProgress(ctx, userA, achievement.EventCountAll, dec("1"))
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.True(t, updates[0].Unlocked)
}

func TestProgressTracker_RejectsInput(t *testing.T) {
	f := newTrackerFixture()
	ctx := context.Background()

	_, err := f.tracker.UpdateProgress(ctx, userA, achievement.CriterionType("EVENT_LIKES"), dec("1"))
	assert.True(t, shared.IsConfiguration(err))

	_, err = f.tracker.UpdateProgress(ctx, userA, achievement.EventCountAll, dec("1"), WithUpdateType("avg"))
	assert.True(t, shared.IsConfiguration(err))

	_, err = f.tracker.UpdateProgress(ctx, "", achievement.EventCountAll, dec("1"))
	assert.ErrorIs(t, err, shared.ErrInvalidID)
}
