package event

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// TimeConditionRef points at an unresolved time condition of an active event.
type TimeConditionRef struct {
	EventID   string
	GroupID   string
	Condition *Condition
}

// Repository is the condition store gateway used by the coordinator and the
// event commands.
type Repository interface {
	// ─────────────────────────────────────────────────────────────────────────
	// Events
	// ─────────────────────────────────────────────────────────────────────────

	// GetEvent returns the event with its groups and conditions.
	// Returns ErrEventNotFound if the event does not exist.
	GetEvent(ctx context.Context, id string) (*Event, error)

	// CreateEvent stores the event, its groups and conditions atomically.
	CreateEvent(ctx context.Context, e *Event) error

	// UpdateStatus moves the event from expected to next and reports whether
	// this call changed the row. Concurrent callers race on the guard; only
	// one of them observes true.
	UpdateStatus(ctx context.Context, id string, expected, next Status, at time.Time) (bool, error)

	// ListActiveEventIDs returns the IDs of IN_PROGRESS events.
	ListActiveEventIDs(ctx context.Context) ([]string, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Groups & Conditions
	// ─────────────────────────────────────────────────────────────────────────

	// ListGroups returns every group of the event with its conditions.
	ListGroups(ctx context.Context, eventID string) ([]*EndConditionGroup, error)

	// ListUnresolvedGroups returns the unresolved groups that hold at least
	// one uncompleted condition on the parameter.
	ListUnresolvedGroups(ctx context.Context, eventID string, param Parameter) ([]*EndConditionGroup, error)

	// ListUnresolvedTimeConditions returns uncompleted time conditions of
	// unresolved groups belonging to IN_PROGRESS events.
	ListUnresolvedTimeConditions(ctx context.Context) ([]TimeConditionRef, error)

	// MarkConditionCompleted flips the condition flag; true if it changed.
	MarkConditionCompleted(ctx context.Context, conditionID string) (bool, error)

	// MarkGroupCompleted flips the group's completed flag unless it is already
	// resolved; true if it changed.
	MarkGroupCompleted(ctx context.Context, groupID string) (bool, error)

	// MarkGroupFailed flips the group's failed flag unless it is already
	// resolved; true if it changed.
	MarkGroupFailed(ctx context.Context, groupID string) (bool, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Live facts
	// ─────────────────────────────────────────────────────────────────────────

	// BankTotal returns the live sum of participation amounts.
	BankTotal(ctx context.Context, eventID string) (decimal.Decimal, error)

	// ParticipantCount returns the live number of participations.
	ParticipantCount(ctx context.Context, eventID string) (int64, error)

	// AddParticipation stores a participation and refreshes the cached bank.
	AddParticipation(ctx context.Context, p *Participation) error
}
