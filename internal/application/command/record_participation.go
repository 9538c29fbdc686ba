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
// RECORD PARTICIPATION COMMAND
// The primary action of the engine: a user deposits into an event. The
// condition check it triggers runs behind the event bus and can never fail
// the deposit.
// ══════════════════════════════════════════════════════════════════════════════

// RecordParticipationCommand contains the data of one deposit.
type RecordParticipationCommand struct {
	EventID string
	UserID  string
	Amount  string
}

// Validate validates the command.
func (c RecordParticipationCommand) Validate() error {
	if err := shared.RequireID("event", "RecordParticipation", "event id", c.EventID); err != nil {
		return err
	}
	return shared.RequireID("event", "RecordParticipation", "user id", c.UserID)
}

// RecordParticipationHandler handles RecordParticipationCommand.
type RecordParticipationHandler struct {
	events    event.Repository
	publisher shared.EventPublisher
	clock     timeutil.Clock
	log       *logger.Logger
}

// NewRecordParticipationHandler creates a new RecordParticipationHandler.
func NewRecordParticipationHandler(events event.Repository, publisher shared.EventPublisher, clock timeutil.Clock, log *logger.Logger) *RecordParticipationHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RecordParticipationHandler{
		events:    events,
		publisher: publisher,
		clock:     clock,
		log:       log.With(logger.Component("record_participation")),
	}
}

// Handle stores the participation and publishes event.participated.
func (h *RecordParticipationHandler) Handle(ctx context.Context, cmd RecordParticipationCommand) (*event.Participation, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	amount, err := shared.ParseAmount("event", "RecordParticipation", cmd.Amount)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, shared.ErrInvalidAmount
	}

	e, err := h.events.GetEvent(ctx, cmd.EventID)
	if err != nil {
		return nil, err
	}
	if !e.IsActive() {
		return nil, shared.ErrEventNotActive
	}

	now := h.clock.Now()
	p := &event.Participation{
		ID:        shared.NewID(),
		EventID:   cmd.EventID,
		UserID:    cmd.UserID,
		Amount:    amount,
		CreatedAt: now,
	}
	if err := h.events.AddParticipation(ctx, p); err != nil {
		return nil, fmt.Errorf("record participation: %w", err)
	}

	h.log.Info("participation recorded",
		logger.EventID(p.EventID), logger.UserID(p.UserID), logger.Stringer("amount", p.Amount))

	if h.publisher != nil {
		evt := shared.NewParticipatedEvent(p.EventID, p.UserID, p.Amount, now)
		if err := h.publisher.Publish(ctx, evt); err != nil {
			h.log.Warn("failed to publish participation", logger.EventID(p.EventID), logger.Err(err))
		}
	}
	return p, nil
}
