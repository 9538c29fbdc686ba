package query

import (
	"context"
	"testing"
	"time"

	"github.com/fundhub/fundhub-engine/internal/domain/achievement"
	"github.com/fundhub/fundhub-engine/internal/domain/shared"
	"github.com/fundhub/fundhub-engine/internal/infrastructure/persistence/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userID = "3a1c5e7f-0b2d-4f6a-8c9e-1d3b5f7a9c00"

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func fixtures() []*achievement.Achievement {
	return []*achievement.Achievement{
		{ID: "first-event", Name: "First event", Criteria: []*achievement.Criterion{
			{ID: "fe-1", Type: achievement.EventCountCreated, Value: dec("1")},
		}},
		{ID: "organizer", Name: "Organizer", Criteria: []*achievement.Criterion{
			{ID: "org-bank", Type: achievement.EventBankCompleted, Value: dec("1000")},
			{ID: "org-people", Type: achievement.EventPeopleCompleted, Value: dec("10")},
		}},
	}
}

func TestGetUserAchievements(t *testing.T) {
	ctx := context.Background()
	catalogue := fixtures()
	repo := memory.NewAchievementRepository(catalogue...)
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	for _, a := range catalogue {
		ua, err := repo.EnsureUserAchievement(ctx, userID, a.ID)
		require.NoError(t, err)
		for _, c := range a.Criteria {
			_, err := repo.EnsureCriterionProgress(ctx, ua.ID, c.ID)
			require.NoError(t, err)
		}
	}

	// organizer: bank at 250/1000, people untouched
	org, err := repo.GetUserAchievement(ctx, userID, "organizer")
	require.NoError(t, err)
	rows, err := repo.ListCriterionProgress(ctx, org.ID)
	require.NoError(t, err)
	for _, r := range rows {
		if r.CriterionID == "org-bank" {
			r.CurrentValue = dec("250")
			require.NoError(t, repo.SaveCriterionProgress(ctx, r))
		}
	}

	// first-event: unlocked
	fe, err := repo.GetUserAchievement(ctx, userID, "first-event")
	require.NoError(t, err)
	rows, err = repo.ListCriterionProgress(ctx, fe.ID)
	require.NoError(t, err)
	rows[0].CurrentValue = dec("1")
	rows[0].Completed = true
	rows[0].CompletedAt = &now
	require.NoError(t, repo.SaveCriterionProgress(ctx, rows[0]))
	_, err = repo.UnlockUserAchievement(ctx, fe.ID, now)
	require.NoError(t, err)

	h := NewGetUserAchievementsHandler(achievement.NewStaticCatalogue(catalogue...), repo)
	views, err := h.Handle(ctx, GetUserAchievementsQuery{UserID: userID})
	require.NoError(t, err)
	require.Len(t, views, 2)

	// unlocked first
	assert.Equal(t, "first-event", views[0].AchievementID)
	assert.True(t, views[0].Unlocked)
	require.NotNil(t, views[0].UnlockedAt)
	assert.True(t, views[0].Percent.Equal(dec("100")))

	organizer := views[1]
	assert.Equal(t, "Organizer", organizer.Name)
	assert.False(t, organizer.Unlocked)
	require.Len(t, organizer.Criteria, 2)
	assert.Equal(t, "org-bank", organizer.Criteria[0].CriterionID)
	assert.True(t, organizer.Criteria[0].CurrentValue.Equal(dec("250")))
	assert.True(t, organizer.Criteria[0].Target.Equal(dec("1000")))
	assert.True(t, organizer.Criteria[0].Percent.Equal(dec("25")))
	assert.True(t, organizer.Criteria[1].Percent.IsZero())
	assert.True(t, organizer.Percent.Equal(dec("12.5")))

	unlocked, err := h.Handle(ctx, GetUserAchievementsQuery{UserID: userID, UnlockedOnly: true})
	require.NoError(t, err)
	require.Len(t, unlocked, 1)
	assert.Equal(t, "first-event", unlocked[0].AchievementID)
}

func TestGetUserAchievements_Empty(t *testing.T) {
	repo := memory.NewAchievementRepository(fixtures()...)
	h := NewGetUserAchievementsHandler(achievement.NewRepositoryCatalogue(repo), repo)

	views, err := h.Handle(context.Background(), GetUserAchievementsQuery{UserID: userID})
	require.NoError(t, err)
	assert.Empty(t, views)

	_, err = h.Handle(context.Background(), GetUserAchievementsQuery{})
	assert.ErrorIs(t, err, shared.ErrInvalidID)
}
