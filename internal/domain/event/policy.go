package event

import (
	"strings"

	"github.com/fundhub/fundhub-engine/internal/domain/shared"
)

// CompletionPolicy decides how group outcomes combine into the event outcome.
type CompletionPolicy string

const (
	// PolicyAny completes the event when any group completes and fails it
	// when every group failed.
	PolicyAny CompletionPolicy = "ANY"
	// PolicyAll completes the event when every group completes and fails it
	// as soon as one group failed.
	PolicyAll CompletionPolicy = "ALL"
)

// ParseCompletionPolicy parses a stored policy. Empty input means ANY.
func ParseCompletionPolicy(s string) (CompletionPolicy, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "ANY":
		return PolicyAny, nil
	case "ALL":
		return PolicyAll, nil
	default:
		return "", shared.UnknownValue(domainName, "ParseCompletionPolicy", "completion policy", s)
	}
}

// Outcome is the event-level decision derived from group flags.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeCompleted
	OutcomeFailed
)

// String returns a readable outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Decide derives the outcome from the groups. An event without groups stays
// pending.
func (p CompletionPolicy) Decide(groups []*EndConditionGroup) Outcome {
	if len(groups) == 0 {
		return OutcomePending
	}

	completed, failed := 0, 0
	for _, g := range groups {
		switch {
		case g.IsCompleted:
			completed++
		case g.IsFailed:
			failed++
		}
	}

	switch p {
	case PolicyAll:
		if failed > 0 {
			return OutcomeFailed
		}
		if completed == len(groups) {
			return OutcomeCompleted
		}
	default:
		if completed > 0 {
			return OutcomeCompleted
		}
		if failed == len(groups) {
			return OutcomeFailed
		}
	}
	return OutcomePending
}
