package eventhandler

import (
	"context"
	"fmt"

	"github.com/fundhub/fundhub-engine/internal/application/command"
	"github.com/fundhub/fundhub-engine/internal/domain/shared"
	"github.com/fundhub/fundhub-engine/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// CONDITION TRIGGER
// Runs the completion checks right after the signals that can move them.
// Check failures are logged and swallowed: the deposit or event creation
// that caused the signal has already succeeded and must stay that way.
// ═══════════════════════════════════════════════════════════════════════════

// ConditionCheckRunner is the part of the coordinator the trigger drives.
type ConditionCheckRunner interface {
	CheckBankConditions(ctx context.Context, eventID string) command.CheckResult
	CheckPeopleConditions(ctx context.Context, eventID string) command.CheckResult
	CheckTimeConditions(ctx context.Context) command.SweepResult
}

// ConditionTriggerConfig configures the trigger.
type ConditionTriggerConfig struct {
	// SweepOnCreate runs the time sweep whenever an event is created.
	SweepOnCreate bool
}

// DefaultConditionTriggerConfig returns the default configuration.
func DefaultConditionTriggerConfig() ConditionTriggerConfig {
	return ConditionTriggerConfig{SweepOnCreate: true}
}

// ConditionTrigger handles event.participated and event.created.
type ConditionTrigger struct {
	checker ConditionCheckRunner
	log     *logger.Logger
	config  ConditionTriggerConfig
}

// NewConditionTrigger creates a new ConditionTrigger.
func NewConditionTrigger(checker ConditionCheckRunner, log *logger.Logger, config ConditionTriggerConfig) *ConditionTrigger {
	if log == nil {
		log = logger.Nop()
	}
	return &ConditionTrigger{
		checker: checker,
		log:     log.With(logger.Component("condition_trigger")),
		config:  config,
	}
}

// Subscribe registers the trigger on the bus.
func (t *ConditionTrigger) Subscribe(bus shared.EventSubscriber) error {
	if err := bus.Subscribe(shared.EventParticipated, t.Handle); err != nil {
		return fmt.Errorf("subscribe %s: %w", shared.EventParticipated, err)
	}
	if err := bus.Subscribe(shared.EventCreated, t.Handle); err != nil {
		return fmt.Errorf("subscribe %s: %w", shared.EventCreated, err)
	}
	return nil
}

// Handle runs the checks for one signal. It never returns an error.
func (t *ConditionTrigger) Handle(ctx context.Context, evt shared.Event) error {
	switch evt.EventType() {
	case shared.EventParticipated:
		eventID := shared.PayloadString(evt, "event_id")
		t.report(t.checker.CheckBankConditions(ctx, eventID))
		t.report(t.checker.CheckPeopleConditions(ctx, eventID))

	case shared.EventCreated:
		if !t.config.SweepOnCreate {
			return nil
		}
		sweep := t.checker.CheckTimeConditions(ctx)
		if sweep.Err != nil {
			t.log.Warn("time sweep finished with errors", logger.Err(sweep.Err))
		}
	}
	return nil
}

func (t *ConditionTrigger) report(res command.CheckResult) {
	if res.Err != nil {
		t.log.Warn("condition check finished with errors",
			logger.EventID(res.EventID),
			logger.String("parameter", res.Parameter.String()),
			logger.Err(res.Err))
		return
	}
	if res.Transitioned {
		t.log.Info("condition check finished event",
			logger.EventID(res.EventID), logger.String("outcome", res.Outcome.String()))
	}
}
