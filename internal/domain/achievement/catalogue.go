package achievement

import (
	"context"
	"sort"
)

// Catalogue is the read-only achievement definition source. The tracker
// receives it as a dependency so the catalogue can come from storage, a cache
// or fixtures.
type Catalogue interface {
	// Achievements returns every achievement with its criteria.
	Achievements(ctx context.Context) ([]*Achievement, error)

	// CriteriaByType returns every criterion of the given type.
	CriteriaByType(ctx context.Context, t CriterionType) ([]*Criterion, error)

	// Achievement returns one achievement with its criteria.
	Achievement(ctx context.Context, id string) (*Achievement, error)
}

// StaticCatalogue serves a fixed list of achievements from memory.
type StaticCatalogue struct {
	achievements []*Achievement
	byID         map[string]*Achievement
	byType       map[CriterionType][]*Criterion
}

// NewStaticCatalogue indexes the given achievements. Criterion achievement
// IDs are filled in from their parent.
func NewStaticCatalogue(achievements ...*Achievement) *StaticCatalogue {
	c := &StaticCatalogue{
		byID:   make(map[string]*Achievement, len(achievements)),
		byType: make(map[CriterionType][]*Criterion),
	}
	for _, a := range achievements {
		c.achievements = append(c.achievements, a)
		c.byID[a.ID] = a
		for _, cr := range a.Criteria {
			cr.AchievementID = a.ID
			c.byType[cr.Type] = append(c.byType[cr.Type], cr)
		}
	}
	sort.SliceStable(c.achievements, func(i, j int) bool {
		return c.achievements[i].ID < c.achievements[j].ID
	})
	return c
}

// Achievements implements Catalogue.
func (c *StaticCatalogue) Achievements(_ context.Context) ([]*Achievement, error) {
	return c.achievements, nil
}

// CriteriaByType implements Catalogue.
func (c *StaticCatalogue) CriteriaByType(_ context.Context, t CriterionType) ([]*Criterion, error) {
	return c.byType[t], nil
}

// Achievement implements Catalogue.
func (c *StaticCatalogue) Achievement(_ context.Context, id string) (*Achievement, error) {
	a, ok := c.byID[id]
	if !ok {
		return nil, errAchievementNotFound(id)
	}
	return a, nil
}

// RepositoryCatalogue reads the catalogue from the achievement store on every
// call.
type RepositoryCatalogue struct {
	repo CatalogueRepository
}

// NewRepositoryCatalogue creates a catalogue backed by storage.
func NewRepositoryCatalogue(repo CatalogueRepository) *RepositoryCatalogue {
	return &RepositoryCatalogue{repo: repo}
}

// Achievements implements Catalogue.
func (c *RepositoryCatalogue) Achievements(ctx context.Context) ([]*Achievement, error) {
	return c.repo.ListAchievements(ctx)
}

// CriteriaByType implements Catalogue.
func (c *RepositoryCatalogue) CriteriaByType(ctx context.Context, t CriterionType) ([]*Criterion, error) {
	return c.repo.ListCriteriaByType(ctx, t)
}

// Achievement implements Catalogue.
func (c *RepositoryCatalogue) Achievement(ctx context.Context, id string) (*Achievement, error) {
	return c.repo.GetAchievement(ctx, id)
}
