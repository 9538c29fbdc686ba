// Package achievement contains the achievement catalogue model and the per-user
// progress records tracked against it.
package achievement

import (
	"strings"
	"time"

	"github.com/fundhub/fundhub-engine/internal/domain/shared"
	"github.com/shopspring/decimal"
)

const domainName = "achievement"

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// CriterionType names the signal a criterion measures.
type CriterionType string

const (
	EventCountAll        CriterionType = "EVENT_COUNT_ALL"
	EventCountCreated    CriterionType = "EVENT_COUNT_CREATED"
	EventCountCompleted  CriterionType = "EVENT_COUNT_COMPLETED"
	EventBankCompleted   CriterionType = "EVENT_BANK_COMPLETED"
	EventPeopleCompleted CriterionType = "EVENT_PEOPLE_COMPLETED"
	EventTimeCompleted   CriterionType = "EVENT_TIME_COMPLETED"
	EventIncomeOnetime   CriterionType = "EVENT_INCOME_ONETIME"
	EventIncomeAll       CriterionType = "EVENT_INCOME_ALL"
	UserActivity         CriterionType = "USER_ACTIVITY"
	UserBank             CriterionType = "USER_BANK"
)

// AllCriterionTypes lists every criterion type.
var AllCriterionTypes = []CriterionType{
	EventCountAll, EventCountCreated, EventCountCompleted,
	EventBankCompleted, EventPeopleCompleted, EventTimeCompleted,
	EventIncomeOnetime, EventIncomeAll,
	UserActivity, UserBank,
}

// IsValid reports whether t is a known criterion type.
func (t CriterionType) IsValid() bool {
	switch t {
	case EventCountAll, EventCountCreated, EventCountCompleted,
		EventBankCompleted, EventPeopleCompleted, EventTimeCompleted,
		EventIncomeOnetime, EventIncomeAll,
		UserActivity, UserBank:
		return true
	default:
		return false
	}
}

// String returns the stored representation.
func (t CriterionType) String() string {
	return string(t)
}

// ParseCriterionType parses a stored criterion type.
func ParseCriterionType(s string) (CriterionType, error) {
	t := CriterionType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", shared.UnknownValue(domainName, "ParseCriterionType", "criterion type", s)
	}
	return t, nil
}

// UpdateType is the policy for folding a new value into current progress.
type UpdateType string

const (
	// UpdateIncrement adds the value to the current progress.
	UpdateIncrement UpdateType = "increment"
	// UpdateSet replaces the current progress.
	UpdateSet UpdateType = "set"
	// UpdateMax keeps the larger of the two.
	UpdateMax UpdateType = "max"
)

// ParseUpdateType parses an update policy. Empty input means increment.
func ParseUpdateType(s string) (UpdateType, error) {
	switch UpdateType(strings.ToLower(strings.TrimSpace(s))) {
	case "", UpdateIncrement:
		return UpdateIncrement, nil
	case UpdateSet:
		return UpdateSet, nil
	case UpdateMax:
		return UpdateMax, nil
	default:
		return "", shared.UnknownValue(domainName, "ParseUpdateType", "update type", s)
	}
}

// Apply folds value into current according to the policy.
func (u UpdateType) Apply(current, value decimal.Decimal) (decimal.Decimal, error) {
	switch u {
	case UpdateIncrement, "":
		return current.Add(value), nil
	case UpdateSet:
		return value, nil
	case UpdateMax:
		return decimal.Max(current, value), nil
	default:
		return current, shared.UnknownValue(domainName, "Apply", "update type", string(u))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOGUE ENTITIES
// ══════════════════════════════════════════════════════════════════════════════

// Achievement is a catalogue entry unlocked once all its criteria are met.
type Achievement struct {
	ID          string
	Name        string
	Description string
	Icon        string
	Criteria    []*Criterion
}

// Criterion is one measurable target of an achievement. Zero and negative
// targets are legal and are met by the first update.
type Criterion struct {
	ID            string
	AchievementID string
	Type          CriterionType
	Value         decimal.Decimal
}

// IsMet reports whether value reaches the target.
func (c *Criterion) IsMet(value decimal.Decimal) bool {
	return value.GreaterThanOrEqual(c.Value)
}

// ══════════════════════════════════════════════════════════════════════════════
// USER PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// UserAchievement is one user's record for one achievement. Status moves from
// false to true once and never back.
type UserAchievement struct {
	ID            string
	UserID        string
	AchievementID string
	Status        bool
	UnlockedAt    *time.Time
	CreatedAt     time.Time
}

// Unlock marks the achievement unlocked. It reports whether the status changed.
func (ua *UserAchievement) Unlock(now time.Time) bool {
	if ua.Status {
		return false
	}
	ua.Status = true
	ua.UnlockedAt = &now
	return true
}

// CriterionProgress tracks one user's progress toward one criterion. Completed
// is monotonic and CompletedAt is set exactly once.
type CriterionProgress struct {
	ID                string
	UserAchievementID string
	CriterionID       string
	CurrentValue      decimal.Decimal
	Completed         bool
	CompletedAt       *time.Time
	UpdatedAt         time.Time
}

// Advance folds value into the progress. Completed rows are never touched.
// It reports whether the row changed and whether this call completed it.
func (p *CriterionProgress) Advance(c *Criterion, u UpdateType, value decimal.Decimal, now time.Time) (changed, justCompleted bool, err error) {
	if p.Completed {
		return false, false, nil
	}

	next, err := u.Apply(p.CurrentValue, value)
	if err != nil {
		return false, false, err
	}

	if !next.Equal(p.CurrentValue) {
		p.CurrentValue = next
		changed = true
	}
	if c.IsMet(p.CurrentValue) {
		p.Completed = true
		p.CompletedAt = &now
		changed = true
		justCompleted = true
	}
	if changed {
		p.UpdatedAt = now
	}
	return changed, justCompleted, nil
}

// Percent returns progress toward target in [0, 100].
func (p *CriterionProgress) Percent(target decimal.Decimal) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	if p.Completed || !target.IsPositive() {
		return hundred
	}
	pct := p.CurrentValue.Div(target).Mul(hundred)
	if pct.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(pct, hundred).Round(2)
}

// AllCompleted reports whether the list is non-empty and every row completed.
// An achievement without criterion rows never unlocks.
func AllCompleted(progress []*CriterionProgress) bool {
	if len(progress) == 0 {
		return false
	}
	for _, p := range progress {
		if !p.Completed {
			return false
		}
	}
	return true
}
