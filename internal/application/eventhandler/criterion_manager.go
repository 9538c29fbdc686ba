// Package eventhandler contains the domain event handlers.
package eventhandler

import (
	"context"
	"errors"
	"fmt"

	"github.com/fundhub/fundhub-engine/internal/application/command"
	"github.com/fundhub/fundhub-engine/internal/domain/achievement"
	"github.com/fundhub/fundhub-engine/internal/domain/shared"
	"github.com/fundhub/fundhub-engine/pkg/logger"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════
// CRITERION MANAGER
// Translates domain signals into achievement progress updates. The mapping
// from signal to criterion types is a fixed table; every signal the engine
// emits is listed, including the ones that feed nothing.
// ═══════════════════════════════════════════════════════════════════════════

// ProgressUpdater is the part of the progress tracker the manager drives.
type ProgressUpdater interface {
	InitializeUserAchievements(ctx context.Context, userID string) error
	UpdateProgress(
		ctx context.Context,
		userID string,
		criterionType achievement.CriterionType,
		value decimal.Decimal,
		opts ...command.UpdateOption,
	) ([]command.ProgressUpdate, error)
}

// CriterionManagerConfig configures the manager.
type CriterionManagerConfig struct {
	// AutoInitialize ensures the subject user has achievement records
	// before the first update. Without it, signals for users that were
	// never initialized are dropped by the tracker.
	AutoInitialize bool
}

// DefaultCriterionManagerConfig returns the default configuration.
func DefaultCriterionManagerConfig() CriterionManagerConfig {
	return CriterionManagerConfig{AutoInitialize: true}
}

// CriterionUpdate is one row of the fan-out table.
type CriterionUpdate struct {
	UserID     string
	Type       achievement.CriterionType
	Value      decimal.Decimal
	UpdateType achievement.UpdateType
}

// CriterionManager handles every domain signal that can move achievement
// progress.
type CriterionManager struct {
	tracker ProgressUpdater
	log     *logger.Logger
	config  CriterionManagerConfig
}

// NewCriterionManager creates a new CriterionManager.
func NewCriterionManager(tracker ProgressUpdater, log *logger.Logger, config CriterionManagerConfig) *CriterionManager {
	if log == nil {
		log = logger.Nop()
	}
	return &CriterionManager{
		tracker: tracker,
		log:     log.With(logger.Component("criterion_manager")),
		config:  config,
	}
}

// Subscribe registers the manager for every signal it understands.
func (m *CriterionManager) Subscribe(bus shared.EventSubscriber) error {
	for _, t := range []shared.EventType{
		shared.EventCreated,
		shared.EventParticipated,
		shared.EventCompleted,
		shared.EventUserActivityUpdated,
		shared.EventUserBalanceChanged,
	} {
		if err := bus.Subscribe(t, m.Handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
	}
	return nil
}

// Handle applies the fan-out of one signal. Every row is attempted; the
// errors of failed rows are joined.
func (m *CriterionManager) Handle(ctx context.Context, evt shared.Event) error {
	updates, err := Fanout(evt)
	if err != nil {
		m.log.Warn("malformed signal",
			logger.String("event_type", string(evt.EventType())), logger.Err(err))
		return err
	}
	if len(updates) == 0 {
		return nil
	}

	if m.config.AutoInitialize {
		if err := m.tracker.InitializeUserAchievements(ctx, updates[0].UserID); err != nil {
			return fmt.Errorf("initialize achievements: %w", err)
		}
	}

	var errs []error
	for _, u := range updates {
		res, err := m.tracker.UpdateProgress(ctx, u.UserID, u.Type, u.Value, command.WithUpdateType(u.UpdateType))
		if err != nil {
			m.log.Error("progress update failed",
				logger.UserID(u.UserID), logger.CriterionType(u.Type.String()), logger.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", u.Type, err))
			continue
		}
		for _, r := range res {
			if r.Unlocked {
				m.log.Info("signal unlocked achievement",
					logger.String("event_type", string(evt.EventType())),
					logger.UserID(u.UserID),
					logger.AchievementID(r.AchievementID))
			}
		}
	}
	return errors.Join(errs...)
}

// Fanout maps a signal to the progress updates it causes. Payload fields are
// read through the generic accessors so events decoded from the Redis bus
// are handled the same way as local ones.
func Fanout(evt shared.Event) ([]CriterionUpdate, error) {
	one := decimal.NewFromInt(1)

	switch evt.EventType() {
	case shared.EventCreated:
		owner := shared.PayloadString(evt, "owner_id")
		return []CriterionUpdate{
			{owner, achievement.EventCountCreated, one, achievement.UpdateIncrement},
			{owner, achievement.EventCountAll, one, achievement.UpdateIncrement},
		}, nil

	case shared.EventParticipated:
		return []CriterionUpdate{
			{shared.PayloadString(evt, "user_id"), achievement.EventCountAll, one, achievement.UpdateIncrement},
		}, nil

	case shared.EventCompleted:
		owner := shared.PayloadString(evt, "owner_id")
		bank, err := shared.PayloadDecimal(evt, "bank")
		if err != nil {
			return nil, err
		}
		people, err := shared.PayloadInt64(evt, "people")
		if err != nil {
			return nil, err
		}
		hours, err := shared.PayloadInt64(evt, "duration_hours")
		if err != nil {
			return nil, err
		}
		income, err := shared.PayloadDecimal(evt, "income")
		if err != nil {
			return nil, err
		}
		return []CriterionUpdate{
			{owner, achievement.EventBankCompleted, bank, achievement.UpdateMax},
			{owner, achievement.EventPeopleCompleted, decimal.NewFromInt(people), achievement.UpdateMax},
			{owner, achievement.EventTimeCompleted, decimal.NewFromInt(hours), achievement.UpdateIncrement},
			{owner, achievement.EventIncomeOnetime, income, achievement.UpdateMax},
			{owner, achievement.EventIncomeAll, income, achievement.UpdateIncrement},
			{owner, achievement.EventCountCompleted, one, achievement.UpdateIncrement},
			{owner, achievement.EventCountAll, one, achievement.UpdateIncrement},
		}, nil

	case shared.EventUserActivityUpdated:
		streak, err := shared.PayloadInt64(evt, "streak")
		if err != nil {
			return nil, err
		}
		return []CriterionUpdate{
			{shared.PayloadString(evt, "user_id"), achievement.UserActivity, decimal.NewFromInt(streak), achievement.UpdateMax},
		}, nil

	case shared.EventUserBalanceChanged:
		balance, err := shared.PayloadDecimal(evt, "balance")
		if err != nil {
			return nil, err
		}
		return []CriterionUpdate{
			{shared.PayloadString(evt, "user_id"), achievement.UserBank, balance, achievement.UpdateSet},
		}, nil

	case shared.EventFailed, shared.EventCancelled, shared.EventAchievementUnlocked:
		return nil, nil

	default:
		return nil, shared.UnknownValue("eventhandler", "Fanout", "event type", string(evt.EventType()))
	}
}
