package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fundhub/fundhub-engine/internal/domain/achievement"
	"github.com/fundhub/fundhub-engine/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// AchievementRepository implements achievement.Repository.
type AchievementRepository struct {
	mu sync.RWMutex

	achievements map[string]*achievement.Achievement

	// user achievements by ID, plus (user, achievement) and user indexes
	userAchievements map[string]*achievement.UserAchievement
	byUserAndAch     map[[2]string]string
	userIndex        map[string][]string

	// progress rows by ID, plus (user achievement, criterion) and parent indexes
	progress     map[string]*achievement.CriterionProgress
	byUAAndCrit  map[[2]string]string
	progressByUA map[string][]string
}

// NewAchievementRepository creates a store seeded with the given catalogue.
func NewAchievementRepository(catalogue ...*achievement.Achievement) *AchievementRepository {
	r := &AchievementRepository{
		achievements:     make(map[string]*achievement.Achievement),
		userAchievements: make(map[string]*achievement.UserAchievement),
		byUserAndAch:     make(map[[2]string]string),
		progress:         make(map[string]*achievement.CriterionProgress),
		byUAAndCrit:      make(map[[2]string]string),
		progressByUA:     make(map[string][]string),
		userIndex:        make(map[string][]string),
	}
	for _, a := range catalogue {
		for _, c := range a.Criteria {
			c.AchievementID = a.ID
		}
		r.achievements[a.ID] = a
	}
	return r
}

// Compile-time check.
var _ achievement.Repository = (*AchievementRepository)(nil)

// ListAchievements implements achievement.CatalogueRepository.
func (r *AchievementRepository) ListAchievements(_ context.Context) ([]*achievement.Achievement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*achievement.Achievement, 0, len(r.achievements))
	for _, a := range r.achievements {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListCriteriaByType implements achievement.CatalogueRepository.
func (r *AchievementRepository) ListCriteriaByType(ctx context.Context, t achievement.CriterionType) ([]*achievement.Criterion, error) {
	all, _ := r.ListAchievements(ctx)
	var out []*achievement.Criterion
	for _, a := range all {
		for _, c := range a.Criteria {
			if c.Type == t {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

// GetAchievement implements achievement.CatalogueRepository.
func (r *AchievementRepository) GetAchievement(_ context.Context, id string) (*achievement.Achievement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.achievements[id]
	if !ok {
		return nil, shared.ErrAchievementNotFound
	}
	return a, nil
}

// GetUserAchievement implements achievement.Repository.
func (r *AchievementRepository) GetUserAchievement(_ context.Context, userID, achievementID string) (*achievement.UserAchievement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byUserAndAch[[2]string{userID, achievementID}]
	if !ok {
		return nil, shared.ErrUserAchievementNotFound
	}
	cp := *r.userAchievements[id]
	return &cp, nil
}

// GetUserAchievementByID implements achievement.Repository.
func (r *AchievementRepository) GetUserAchievementByID(_ context.Context, id string) (*achievement.UserAchievement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ua, ok := r.userAchievements[id]
	if !ok {
		return nil, shared.ErrUserAchievementNotFound
	}
	cp := *ua
	return &cp, nil
}

// EnsureUserAchievement implements achievement.Repository.
func (r *AchievementRepository) EnsureUserAchievement(_ context.Context, userID, achievementID string) (*achievement.UserAchievement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := [2]string{userID, achievementID}
	if id, ok := r.byUserAndAch[key]; ok {
		cp := *r.userAchievements[id]
		return &cp, nil
	}
	if _, ok := r.achievements[achievementID]; !ok {
		return nil, shared.ErrAchievementNotFound
	}

	ua := &achievement.UserAchievement{
		ID:            shared.NewID(),
		UserID:        userID,
		AchievementID: achievementID,
		CreatedAt:     time.Now().UTC(),
	}
	r.userAchievements[ua.ID] = ua
	r.byUserAndAch[key] = ua.ID
	r.userIndex[userID] = append(r.userIndex[userID], ua.ID)

	cp := *ua
	return &cp, nil
}

// UnlockUserAchievement implements achievement.Repository.
func (r *AchievementRepository) UnlockUserAchievement(_ context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ua, ok := r.userAchievements[id]
	if !ok {
		return false, shared.ErrUserAchievementNotFound
	}
	return ua.Unlock(at), nil
}

// ListUserAchievements implements achievement.Repository.
func (r *AchievementRepository) ListUserAchievements(_ context.Context, userID string) ([]*achievement.UserAchievement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*achievement.UserAchievement, 0, len(r.userIndex[userID]))
	for _, id := range r.userIndex[userID] {
		cp := *r.userAchievements[id]
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AchievementID < out[j].AchievementID })
	return out, nil
}

// EnsureCriterionProgress implements achievement.Repository.
func (r *AchievementRepository) EnsureCriterionProgress(_ context.Context, userAchievementID, criterionID string) (*achievement.CriterionProgress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := [2]string{userAchievementID, criterionID}
	if id, ok := r.byUAAndCrit[key]; ok {
		cp := *r.progress[id]
		return &cp, nil
	}
	if _, ok := r.userAchievements[userAchievementID]; !ok {
		return nil, shared.ErrUserAchievementNotFound
	}

	p := &achievement.CriterionProgress{
		ID:                shared.NewID(),
		UserAchievementID: userAchievementID,
		CriterionID:       criterionID,
		CurrentValue:      decimal.Zero,
		UpdatedAt:         time.Now().UTC(),
	}
	r.progress[p.ID] = p
	r.byUAAndCrit[key] = p.ID
	r.progressByUA[userAchievementID] = append(r.progressByUA[userAchievementID], p.ID)

	cp := *p
	return &cp, nil
}

// SaveCriterionProgress implements achievement.Repository.
func (r *AchievementRepository) SaveCriterionProgress(_ context.Context, p *achievement.CriterionProgress) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.progress[p.ID]
	if !ok {
		return shared.NotFound("achievement", "SaveCriterionProgress", "criterion progress not found")
	}
	if stored.Completed {
		return nil
	}
	stored.CurrentValue = p.CurrentValue
	stored.Completed = p.Completed
	stored.CompletedAt = p.CompletedAt
	stored.UpdatedAt = p.UpdatedAt
	return nil
}

// ListCriterionProgress implements achievement.Repository.
func (r *AchievementRepository) ListCriterionProgress(_ context.Context, userAchievementID string) ([]*achievement.CriterionProgress, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.progressByUA[userAchievementID]
	out := make([]*achievement.CriterionProgress, 0, len(ids))
	for _, id := range ids {
		cp := *r.progress[id]
		out = append(out, &cp)
	}
	return out, nil
}
