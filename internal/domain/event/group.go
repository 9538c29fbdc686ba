package event

import (
	"strings"
	"time"

	"github.com/fundhub/fundhub-engine/internal/domain/shared"
)

// GroupType decides how the goals of a group combine.
type GroupType string

const (
	// GroupAll requires every goal condition to be completed.
	GroupAll GroupType = "AND"
	// GroupAny requires at least one goal condition to be completed.
	GroupAny GroupType = "OR"
)

// IsValid reports whether t is a known group type.
func (t GroupType) IsValid() bool {
	return t == GroupAll || t == GroupAny
}

// ParseGroupType parses a stored group type. Empty input means AND.
func ParseGroupType(s string) (GroupType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "AND", "ALL":
		return GroupAll, nil
	case "OR", "ANY":
		return GroupAny, nil
	default:
		return "", shared.UnknownValue(domainName, "ParseGroupType", "group type", s)
	}
}

// EndConditionGroup is a set of conditions that together can end an event.
// IsCompleted and IsFailed are monotonic and mutually exclusive.
type EndConditionGroup struct {
	ID          string
	EventID     string
	Type        GroupType
	IsCompleted bool
	IsFailed    bool
	Conditions  []*Condition
}

// IsResolved reports whether the group reached a final state.
func (g *EndConditionGroup) IsResolved() bool {
	return g.IsCompleted || g.IsFailed
}

// HasParameter reports whether the group has an unresolved condition on p.
func (g *EndConditionGroup) HasParameter(p Parameter) bool {
	for _, c := range g.Conditions {
		if c.Parameter == p && !c.IsCompleted {
			return true
		}
	}
	return false
}

// HasTimeCondition reports whether any condition of the group is time-based.
func (g *EndConditionGroup) HasTimeCondition() bool {
	for _, c := range g.Conditions {
		if c.Parameter == ParameterTime {
			return true
		}
	}
	return false
}

// EvaluateGroup reports whether every condition in the list is completed.
// An empty list is never complete.
func EvaluateGroup(conditions []*Condition) bool {
	if len(conditions) == 0 {
		return false
	}
	for _, c := range conditions {
		if !c.IsCompleted {
			return false
		}
	}
	return true
}

// Resolution describes the flags Resolve flipped. The caller persists them.
type Resolution struct {
	// GatesCompleted lists deadline conditions flipped to completed.
	GatesCompleted []string
	Completed      bool
	Failed         bool
}

// Changed reports whether the resolution flipped anything.
func (r Resolution) Changed() bool {
	return r.Completed || r.Failed || len(r.GatesCompleted) > 0
}

// Resolve recomputes the group's flags from its conditions at now. Goals are
// the non-deadline conditions and deadlines are gates: the group completes
// when its goals are met while no gate has expired, and fails once a gate
// expires first. A resolved group is left untouched.
func (g *EndConditionGroup) Resolve(now time.Time) (Resolution, error) {
	var res Resolution
	if g.IsResolved() {
		return res, nil
	}

	var goals, gates []*Condition
	for _, c := range g.Conditions {
		if c.IsDeadline() {
			gates = append(gates, c)
		} else {
			goals = append(goals, c)
		}
	}

	gateExpired := false
	for _, c := range gates {
		if c.IsCompleted {
			continue
		}
		expired, err := c.Expired(now)
		if err != nil {
			return Resolution{}, err
		}
		if expired {
			gateExpired = true
			break
		}
	}

	if g.goalsMet(goals) && !gateExpired {
		for _, c := range gates {
			if c.MarkCompleted() {
				res.GatesCompleted = append(res.GatesCompleted, c.ID)
			}
		}
		g.IsCompleted = true
		res.Completed = true
		return res, nil
	}

	if gateExpired {
		g.IsFailed = true
		res.Failed = true
	}
	return res, nil
}

func (g *EndConditionGroup) goalsMet(goals []*Condition) bool {
	if len(goals) == 0 {
		return false
	}
	switch g.Type {
	case GroupAny:
		for _, c := range goals {
			if c.IsCompleted {
				return true
			}
		}
		return false
	default:
		return EvaluateGroup(goals)
	}
}
