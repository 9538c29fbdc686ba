// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"sort"
	"time"

	"github.com/fundhub/fundhub-engine/internal/domain/achievement"
	"github.com/fundhub/fundhub-engine/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET USER ACHIEVEMENTS QUERY
// Returns every achievement record of a user joined with its catalogue entry
// and the per-criterion progress toward it.
// ══════════════════════════════════════════════════════════════════════════════

// GetUserAchievementsQuery contains the query parameters.
type GetUserAchievementsQuery struct {
	// UserID is the user whose achievements are listed.
	UserID string

	// UnlockedOnly drops achievements that are still locked.
	UnlockedOnly bool
}

// Validate validates the query.
func (q GetUserAchievementsQuery) Validate() error {
	return shared.RequireID("query", "GetUserAchievements", "user id", q.UserID)
}

// UserAchievementView is one achievement as the user sees it.
type UserAchievementView struct {
	// ─────────────────────────────────────────────────────────────────────────
	// Catalogue
	// ─────────────────────────────────────────────────────────────────────────

	AchievementID string `json:"achievement_id"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Icon          string `json:"icon,omitempty"`

	// ─────────────────────────────────────────────────────────────────────────
	// User state
	// ─────────────────────────────────────────────────────────────────────────

	UserAchievementID string     `json:"user_achievement_id"`
	Unlocked          bool       `json:"unlocked"`
	UnlockedAt        *time.Time `json:"unlocked_at,omitempty"`

	// Criteria follows the catalogue order of the achievement's criteria.
	Criteria []CriterionProgressView `json:"criteria"`

	// Percent is the mean completion over all criteria.
	Percent decimal.Decimal `json:"percent"`
}

// CriterionProgressView is the progress toward one criterion.
type CriterionProgressView struct {
	CriterionID  string                    `json:"criterion_id"`
	Type         achievement.CriterionType `json:"type"`
	CurrentValue decimal.Decimal           `json:"current_value"`
	Target       decimal.Decimal           `json:"target"`
	Completed    bool                      `json:"completed"`
	CompletedAt  *time.Time                `json:"completed_at,omitempty"`
	Percent      decimal.Decimal           `json:"percent"`
}

// GetUserAchievementsHandler handles GetUserAchievementsQuery.
type GetUserAchievementsHandler struct {
	catalogue achievement.Catalogue
	repo      achievement.Repository
}

// NewGetUserAchievementsHandler creates a new handler.
func NewGetUserAchievementsHandler(catalogue achievement.Catalogue, repo achievement.Repository) *GetUserAchievementsHandler {
	return &GetUserAchievementsHandler{
		catalogue: catalogue,
		repo:      repo,
	}
}

// Handle executes the query. Records whose achievement left the catalogue
// are skipped.
func (h *GetUserAchievementsHandler) Handle(ctx context.Context, q GetUserAchievementsQuery) ([]UserAchievementView, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	records, err := h.repo.ListUserAchievements(ctx, q.UserID)
	if err != nil {
		return nil, shared.WrapError("query", "GetUserAchievements", shared.ErrStorage, "list user achievements", err)
	}

	views := make([]UserAchievementView, 0, len(records))
	for _, ua := range records {
		if q.UnlockedOnly && !ua.Status {
			continue
		}

		a, err := h.catalogue.Achievement(ctx, ua.AchievementID)
		if err != nil {
			if shared.IsNotFound(err) {
				continue
			}
			return nil, err
		}

		progress, err := h.repo.ListCriterionProgress(ctx, ua.ID)
		if err != nil {
			return nil, shared.WrapError("query", "GetUserAchievements", shared.ErrStorage, "list criterion progress", err)
		}

		views = append(views, buildView(a, ua, progress))
	}

	sort.SliceStable(views, func(i, j int) bool {
		if views[i].Unlocked != views[j].Unlocked {
			return views[i].Unlocked
		}
		return views[i].AchievementID < views[j].AchievementID
	})
	return views, nil
}

func buildView(a *achievement.Achievement, ua *achievement.UserAchievement, progress []*achievement.CriterionProgress) UserAchievementView {
	byCriterion := make(map[string]*achievement.CriterionProgress, len(progress))
	for _, p := range progress {
		byCriterion[p.CriterionID] = p
	}

	view := UserAchievementView{
		AchievementID:     a.ID,
		Name:              a.Name,
		Description:       a.Description,
		Icon:              a.Icon,
		UserAchievementID: ua.ID,
		Unlocked:          ua.Status,
		UnlockedAt:        ua.UnlockedAt,
		Criteria:          make([]CriterionProgressView, 0, len(a.Criteria)),
		Percent:           decimal.Zero,
	}

	sum := decimal.Zero
	for _, c := range a.Criteria {
		// A missing row means the criterion was never touched.
		p, ok := byCriterion[c.ID]
		if !ok {
			p = &achievement.CriterionProgress{CriterionID: c.ID, CurrentValue: decimal.Zero}
		}
		pct := p.Percent(c.Value)
		view.Criteria = append(view.Criteria, CriterionProgressView{
			CriterionID:  c.ID,
			Type:         c.Type,
			CurrentValue: p.CurrentValue,
			Target:       c.Value,
			Completed:    p.Completed,
			CompletedAt:  p.CompletedAt,
			Percent:      pct,
		})
		sum = sum.Add(pct)
	}

	switch {
	case ua.Status:
		view.Percent = decimal.NewFromInt(100)
	case len(view.Criteria) > 0:
		view.Percent = sum.Div(decimal.NewFromInt(int64(len(view.Criteria)))).Round(2)
	}
	return view
}
