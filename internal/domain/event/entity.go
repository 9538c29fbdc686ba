// Package event contains the monetary event model: events, their end-condition
// groups and the conditions evaluated against live facts.
package event

import (
	"strings"
	"time"

	"github.com/fundhub/fundhub-engine/internal/domain/shared"
	"github.com/fundhub/fundhub-engine/pkg/timeutil"
	"github.com/shopspring/decimal"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// Status is the lifecycle state of an event.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status can never change again.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransitionTo encodes PENDING -> IN_PROGRESS -> COMPLETED|FAILED, with
// CANCELLED reachable from any non-terminal state.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusInProgress || next == StatusCancelled
	case StatusInProgress:
		return next == StatusCompleted || next == StatusFailed || next == StatusCancelled
	default:
		return false
	}
}

// ParseStatus parses a stored status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", shared.UnknownValue(domainName, "ParseStatus", "status", s)
	}
	return st, nil
}

// Type is the kind of monetary event.
type Type string

const (
	TypeDonation    Type = "DONATION"
	TypeFundraising Type = "FUNDRAISING"
	TypeJackpot     Type = "JACKPOT"
)

// IsValid reports whether t is a known event type.
func (t Type) IsValid() bool {
	switch t {
	case TypeDonation, TypeFundraising, TypeJackpot:
		return true
	default:
		return false
	}
}

// ParseType parses a stored event type.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", shared.UnknownValue(domainName, "ParseType", "event type", s)
	}
	return t, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTITIES
// ══════════════════════════════════════════════════════════════════════════════

// Event is a time-boxed monetary event owned by a user.
type Event struct {
	ID      string
	OwnerID string
	Title   string
	Type    Type
	Status  Status

	// BankAmount is a cached sum of participations. Checks always read the
	// live total from the repository.
	BankAmount decimal.Decimal

	Policy CompletionPolicy
	Groups []*EndConditionGroup

	StartedAt  *time.Time
	FinishedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Participation is one user's contribution to an event.
type Participation struct {
	ID        string
	EventID   string
	UserID    string
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// NewEvent validates and assembles a new PENDING event. Every group must hold
// at least one condition.
func NewEvent(ownerID, title string, typ Type, policy CompletionPolicy, groups []*EndConditionGroup, now time.Time) (*Event, error) {
	if err := shared.RequireID(domainName, "NewEvent", "owner id", ownerID); err != nil {
		return nil, err
	}
	if !typ.IsValid() {
		return nil, shared.UnknownValue(domainName, "NewEvent", "event type", string(typ))
	}
	if policy == "" {
		policy = PolicyAny
	}
	if len(groups) == 0 {
		return nil, shared.ErrNoConditionGroups
	}

	e := &Event{
		ID:         shared.NewID(),
		OwnerID:    ownerID,
		Title:      strings.TrimSpace(title),
		Type:       typ,
		Status:     StatusPending,
		BankAmount: decimal.Zero,
		Policy:     policy,
		Groups:     groups,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	for _, g := range groups {
		if len(g.Conditions) == 0 {
			return nil, shared.ErrEmptyConditionList
		}
		if g.ID == "" {
			g.ID = shared.NewID()
		}
		if g.Type == "" {
			g.Type = GroupAll
		}
		g.EventID = e.ID
		for _, c := range g.Conditions {
			if c.ID == "" {
				c.ID = shared.NewID()
			}
			c.GroupID = g.ID
		}
	}
	return e, nil
}

// Start moves a pending event to IN_PROGRESS.
func (e *Event) Start(now time.Time) error {
	if err := e.transition(StatusInProgress, now); err != nil {
		return err
	}
	e.StartedAt = &now
	return nil
}

// Cancel moves a non-terminal event to CANCELLED.
func (e *Event) Cancel(now time.Time) error {
	if err := e.transition(StatusCancelled, now); err != nil {
		return err
	}
	e.FinishedAt = &now
	return nil
}

func (e *Event) transition(next Status, now time.Time) error {
	if !e.Status.CanTransitionTo(next) {
		return shared.WrapError(domainName, "Transition", shared.ErrStateTransition,
			string(e.Status)+" -> "+string(next), shared.ErrInvalidTransition)
	}
	e.Status = next
	e.UpdatedAt = now
	return nil
}

// IsActive reports whether conditions of the event are still evaluated.
func (e *Event) IsActive() bool {
	return e.Status == StatusInProgress
}

// HasTimeCondition reports whether any group carries a time condition.
func (e *Event) HasTimeCondition() bool {
	for _, g := range e.Groups {
		if g.HasTimeCondition() {
			return true
		}
	}
	return false
}

// DurationHours returns whole hours between start and end, zero if the event
// never started.
func (e *Event) DurationHours(end time.Time) int64 {
	start := e.CreatedAt
	if e.StartedAt != nil {
		start = *e.StartedAt
	}
	return timeutil.WholeHours(start, end)
}
