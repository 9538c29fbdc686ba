package shared

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each one is a signal that something happened in the
// engine; the criterion manager and the condition trigger subscribe to them.
const (
	// Event lifecycle
	EventCreated      EventType = "event.created"
	EventParticipated EventType = "event.participated"
	EventCompleted    EventType = "event.completed"
	EventFailed       EventType = "event.failed"
	EventCancelled    EventType = "event.cancelled"

	// User signals
	EventUserActivityUpdated EventType = "user.activity_updated"
	EventUserBalanceChanged  EventType = "user.balance_changed"

	// Achievements
	EventAchievementUnlocked EventType = "achievement.unlocked"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event stamped at the given time.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	if at.IsZero() {
		at = time.Now()
	}
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at.UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// Correlation returns the correlation ID, if any.
func (e BaseEvent) Correlation() string {
	return e.CorrelationID
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Lifecycle
// ═══════════════════════════════════════════════════════════════════════════

// EventCreatedEvent is emitted when a user creates a monetary event.
type EventCreatedEvent struct {
	BaseEvent
	EventID   string `json:"event_id"`
	OwnerID   string `json:"owner_id"`
	EventKind string `json:"event_kind"`
}

// Payload implements Event interface.
func (e EventCreatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"event_id":   e.EventID,
		"owner_id":   e.OwnerID,
		"event_kind": e.EventKind,
	}
}

// NewEventCreatedEvent creates a new EventCreatedEvent.
func NewEventCreatedEvent(eventID, ownerID, kind string, at time.Time) EventCreatedEvent {
	return EventCreatedEvent{
		BaseEvent: NewBaseEvent(EventCreated, eventID, at),
		EventID:   eventID,
		OwnerID:   ownerID,
		EventKind: kind,
	}
}

// ParticipatedEvent is emitted when a user contributes to an event.
type ParticipatedEvent struct {
	BaseEvent
	EventID string          `json:"event_id"`
	UserID  string          `json:"user_id"`
	Amount  decimal.Decimal `json:"amount"`
}

// Payload implements Event interface.
func (e ParticipatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"event_id": e.EventID,
		"user_id":  e.UserID,
		"amount":   e.Amount.String(),
	}
}

// NewParticipatedEvent creates a new ParticipatedEvent.
func NewParticipatedEvent(eventID, userID string, amount decimal.Decimal, at time.Time) ParticipatedEvent {
	return ParticipatedEvent{
		BaseEvent: NewBaseEvent(EventParticipated, eventID, at),
		EventID:   eventID,
		UserID:    userID,
		Amount:    amount,
	}
}

// EventCompletedEvent is emitted exactly once, by the writer that moved the
// event from IN_PROGRESS to COMPLETED. It carries the final facts.
type EventCompletedEvent struct {
	BaseEvent
	EventID          string          `json:"event_id"`
	OwnerID          string          `json:"owner_id"`
	Bank             decimal.Decimal `json:"bank"`
	People           int64           `json:"people"`
	DurationHours    int64           `json:"duration_hours"`
	Income           decimal.Decimal `json:"income"`
	HadTimeCondition bool            `json:"had_time_condition"`
}

// Payload implements Event interface.
func (e EventCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"event_id":           e.EventID,
		"owner_id":           e.OwnerID,
		"bank":               e.Bank.String(),
		"people":             e.People,
		"duration_hours":     e.DurationHours,
		"income":             e.Income.String(),
		"had_time_condition": e.HadTimeCondition,
	}
}

// EventFailedEvent is emitted by the writer that moved the event to FAILED.
type EventFailedEvent struct {
	BaseEvent
	EventID string `json:"event_id"`
	OwnerID string `json:"owner_id"`
}

// Payload implements Event interface.
func (e EventFailedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"event_id": e.EventID,
		"owner_id": e.OwnerID,
	}
}

// NewEventFailedEvent creates a new EventFailedEvent.
func NewEventFailedEvent(eventID, ownerID string, at time.Time) EventFailedEvent {
	return EventFailedEvent{
		BaseEvent: NewBaseEvent(EventFailed, eventID, at),
		EventID:   eventID,
		OwnerID:   ownerID,
	}
}

// EventCancelledEvent is emitted when an owner cancels a running event.
type EventCancelledEvent struct {
	BaseEvent
	EventID string `json:"event_id"`
	OwnerID string `json:"owner_id"`
}

// Payload implements Event interface.
func (e EventCancelledEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"event_id": e.EventID,
		"owner_id": e.OwnerID,
	}
}

// NewEventCancelledEvent creates a new EventCancelledEvent.
func NewEventCancelledEvent(eventID, ownerID string, at time.Time) EventCancelledEvent {
	return EventCancelledEvent{
		BaseEvent: NewBaseEvent(EventCancelled, eventID, at),
		EventID:   eventID,
		OwnerID:   ownerID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// User Signals
// ═══════════════════════════════════════════════════════════════════════════

// ActivityUpdatedEvent is emitted when a user's daily activity streak changes.
type ActivityUpdatedEvent struct {
	BaseEvent
	UserID string `json:"user_id"`
	Streak int    `json:"streak"`
}

// Payload implements Event interface.
func (e ActivityUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id": e.UserID,
		"streak":  e.Streak,
	}
}

// NewActivityUpdatedEvent creates a new ActivityUpdatedEvent.
func NewActivityUpdatedEvent(userID string, streak int, at time.Time) ActivityUpdatedEvent {
	return ActivityUpdatedEvent{
		BaseEvent: NewBaseEvent(EventUserActivityUpdated, userID, at),
		UserID:    userID,
		Streak:    streak,
	}
}

// BalanceChangedEvent is emitted when a user's wallet balance changes.
type BalanceChangedEvent struct {
	BaseEvent
	UserID  string          `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

// Payload implements Event interface.
func (e BalanceChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id": e.UserID,
		"balance": e.Balance.String(),
	}
}

// NewBalanceChangedEvent creates a new BalanceChangedEvent.
func NewBalanceChangedEvent(userID string, balance decimal.Decimal, at time.Time) BalanceChangedEvent {
	return BalanceChangedEvent{
		BaseEvent: NewBaseEvent(EventUserBalanceChanged, userID, at),
		UserID:    userID,
		Balance:   balance,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Achievements
// ═══════════════════════════════════════════════════════════════════════════

// AchievementUnlockedEvent is emitted once per user achievement when it unlocks.
type AchievementUnlockedEvent struct {
	BaseEvent
	UserAchievementID string    `json:"user_achievement_id"`
	UserID            string    `json:"user_id"`
	AchievementID     string    `json:"achievement_id"`
	UnlockedAt        time.Time `json:"unlocked_at"`
}

// Payload implements Event interface.
func (e AchievementUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_achievement_id": e.UserAchievementID,
		"user_id":             e.UserID,
		"achievement_id":      e.AchievementID,
		"unlocked_at":         e.UnlockedAt.Format(time.RFC3339),
	}
}

// NewAchievementUnlockedEvent creates a new AchievementUnlockedEvent.
func NewAchievementUnlockedEvent(userAchievementID, userID, achievementID string, at time.Time) AchievementUnlockedEvent {
	return AchievementUnlockedEvent{
		BaseEvent:         NewBaseEvent(EventAchievementUnlocked, userID, at),
		UserAchievementID: userAchievementID,
		UserID:            userID,
		AchievementID:     achievementID,
		UnlockedAt:        at.UTC(),
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Payload accessors
// ═══════════════════════════════════════════════════════════════════════════

// Events that crossed a process boundary arrive as generic payload maps with
// JSON-decoded values. These accessors read typed values from either shape.

// PayloadString returns a string field from an event payload.
func PayloadString(e Event, key string) string {
	switch v := e.Payload()[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// PayloadDecimal returns a numeric field from an event payload.
func PayloadDecimal(e Event, key string) (decimal.Decimal, error) {
	switch v := e.Payload()[key].(type) {
	case string:
		return decimal.NewFromString(v)
	case decimal.Decimal:
		return v, nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case json.Number:
		return decimal.NewFromString(v.String())
	case nil:
		return decimal.Zero, fmt.Errorf("payload field %q is missing", key)
	default:
		return decimal.Zero, fmt.Errorf("payload field %q has unsupported type %T", key, v)
	}
}

// PayloadInt64 returns an integer field from an event payload.
func PayloadInt64(e Event, key string) (int64, error) {
	switch v := e.Payload()[key].(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	case json.Number:
		return v.Int64()
	case nil:
		return 0, fmt.Errorf("payload field %q is missing", key)
	default:
		return 0, fmt.Errorf("payload field %q has unsupported type %T", key, v)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage. Source identifies the
// publishing process.
type EventEnvelope struct {
	Source        string          `json:"source,omitempty"`
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(ctx context.Context, event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(ctx context.Context, event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
