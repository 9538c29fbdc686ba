package command

import (
	"context"
	"fmt"

	"github.com/fundhub/fundhub-engine/internal/domain/event"
	"github.com/fundhub/fundhub-engine/internal/domain/shared"
	"github.com/fundhub/fundhub-engine/pkg/logger"
	"github.com/fundhub/fundhub-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVENT LIFECYCLE COMMANDS
// Create, start and cancel monetary events. Completion and failure are never
// set here; the coordinator owns those transitions.
// ══════════════════════════════════════════════════════════════════════════════

// ConditionInput is one raw condition as submitted by the owner.
type ConditionInput struct {
	Parameter string
	Operator  string
	Value     string
}

// GroupInput is one raw condition group.
type GroupInput struct {
	// Type is AND (default) or OR.
	Type       string
	Conditions []ConditionInput
}

// CreateEventCommand contains the data to create an event.
type CreateEventCommand struct {
	OwnerID string
	Title   string
	Type    string

	// Policy is ANY (default) or ALL.
	Policy string
	Groups []GroupInput

	// Start moves the event to IN_PROGRESS right away.
	Start bool
}

// EventLifecycleHandler handles create, start and cancel.
type EventLifecycleHandler struct {
	events    event.Repository
	publisher shared.EventPublisher
	clock     timeutil.Clock
	log       *logger.Logger
}

// NewEventLifecycleHandler creates a new EventLifecycleHandler.
func NewEventLifecycleHandler(events event.Repository, publisher shared.EventPublisher, clock timeutil.Clock, log *logger.Logger) *EventLifecycleHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &EventLifecycleHandler{
		events:    events,
		publisher: publisher,
		clock:     clock,
		log:       log.With(logger.Component("event_lifecycle")),
	}
}

// Create validates the command, normalizes every condition once and stores
// the event with its groups atomically.
func (h *EventLifecycleHandler) Create(ctx context.Context, cmd CreateEventCommand) (*event.Event, error) {
	typ, err := event.ParseType(cmd.Type)
	if err != nil {
		return nil, err
	}
	policy, err := event.ParseCompletionPolicy(cmd.Policy)
	if err != nil {
		return nil, err
	}

	groups := make([]*event.EndConditionGroup, 0, len(cmd.Groups))
	for i, gi := range cmd.Groups {
		gt, err := event.ParseGroupType(gi.Type)
		if err != nil {
			return nil, err
		}
		g := &event.EndConditionGroup{Type: gt}
		for j, ci := range gi.Conditions {
			c, err := event.NewCondition(ci.Parameter, ci.Operator, ci.Value)
			if err != nil {
				return nil, fmt.Errorf("create event: group %d condition %d: %w", i, j, err)
			}
			g.Conditions = append(g.Conditions, c)
		}
		groups = append(groups, g)
	}

	now := h.clock.Now()
	e, err := event.NewEvent(cmd.OwnerID, cmd.Title, typ, policy, groups, now)
	if err != nil {
		return nil, err
	}
	if cmd.Start {
		if err := e.Start(now); err != nil {
			return nil, err
		}
	}

	if err := h.events.CreateEvent(ctx, e); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}

	h.log.Info("event created",
		logger.EventID(e.ID), logger.UserID(e.OwnerID), logger.String("status", string(e.Status)))
	h.publish(ctx, shared.NewEventCreatedEvent(e.ID, e.OwnerID, string(e.Type), now))
	return e, nil
}

// Start moves a PENDING event to IN_PROGRESS.
func (h *EventLifecycleHandler) Start(ctx context.Context, eventID string) error {
	changed, err := h.events.UpdateStatus(ctx, eventID, event.StatusPending, event.StatusInProgress, h.clock.Now())
	if err != nil {
		return fmt.Errorf("start event: %w", err)
	}
	if !changed {
		return shared.ErrInvalidTransition
	}
	h.log.Info("event started", logger.EventID(eventID))
	return nil
}

// Cancel moves a PENDING or IN_PROGRESS event to CANCELLED.
func (h *EventLifecycleHandler) Cancel(ctx context.Context, eventID string) error {
	e, err := h.events.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if !e.Status.CanTransitionTo(event.StatusCancelled) {
		return shared.ErrInvalidTransition
	}

	now := h.clock.Now()
	changed, err := h.events.UpdateStatus(ctx, eventID, e.Status, event.StatusCancelled, now)
	if err != nil {
		return fmt.Errorf("cancel event: %w", err)
	}
	if !changed {
		// lost the race against a concurrent transition
		return shared.ErrInvalidTransition
	}

	h.log.Info("event cancelled", logger.EventID(eventID))
	h.publish(ctx, shared.NewEventCancelledEvent(eventID, e.OwnerID, now))
	return nil
}

func (h *EventLifecycleHandler) publish(ctx context.Context, evt shared.Event) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(ctx, evt); err != nil {
		h.log.Warn("failed to publish event",
			logger.String("event_type", string(evt.EventType())), logger.Err(err))
	}
}
