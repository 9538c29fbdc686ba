package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/fundhub/fundhub-engine/internal/domain/achievement"
	"github.com/shopspring/decimal"
)

// catalogueFile is the JSON shape of an achievement catalogue:
//
//	{"achievements": [{"id": "first-steps", "name": "First steps",
//	  "criteria": [{"type": "EVENT_COUNT_ALL", "value": "1"}]}]}
//
// Criterion ids default to "<achievement id>-<n>".
type catalogueFile struct {
	Achievements []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		Icon        string `json:"icon"`
		Criteria    []struct {
			ID    string          `json:"id"`
			Type  string          `json:"type"`
			Value decimal.Decimal `json:"value"`
		} `json:"criteria"`
	} `json:"achievements"`
}

func loadCatalogueFile(path string) ([]*achievement.Achievement, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalogue: %w", err)
	}
	return parseCatalogue(data)
}

func parseCatalogue(data []byte) ([]*achievement.Achievement, error) {
	var file catalogueFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode catalogue: %w", err)
	}

	seen := make(map[string]bool)
	out := make([]*achievement.Achievement, 0, len(file.Achievements))
	for i, a := range file.Achievements {
		if a.ID == "" || a.Name == "" {
			return nil, fmt.Errorf("catalogue entry %d: id and name are required", i)
		}
		if len(a.Criteria) == 0 {
			return nil, fmt.Errorf("achievement %s: at least one criterion is required", a.ID)
		}

		entry := &achievement.Achievement{
			ID:          a.ID,
			Name:        a.Name,
			Description: a.Description,
			Icon:        a.Icon,
		}
		for n, c := range a.Criteria {
			t, err := achievement.ParseCriterionType(c.Type)
			if err != nil {
				return nil, fmt.Errorf("achievement %s: %w", a.ID, err)
			}
			if !c.Value.IsPositive() {
				return nil, fmt.Errorf("achievement %s: criterion %d needs a positive value", a.ID, n+1)
			}
			id := c.ID
			if id == "" {
				id = a.ID + "-" + strconv.Itoa(n+1)
			}
			if seen[id] {
				return nil, fmt.Errorf("achievement %s: duplicate criterion id %s", a.ID, id)
			}
			seen[id] = true

			entry.Criteria = append(entry.Criteria, &achievement.Criterion{
				ID:            id,
				AchievementID: a.ID,
				Type:          t,
				Value:         c.Value,
			})
		}
		if seen["achievement:"+a.ID] {
			return nil, fmt.Errorf("duplicate achievement id %s", a.ID)
		}
		seen["achievement:"+a.ID] = true
		out = append(out, entry)
	}
	return out, nil
}
