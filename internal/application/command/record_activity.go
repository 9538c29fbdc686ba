// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"time"

	"github.com/fundhub/fundhub-engine/internal/domain/shared"
	"github.com/fundhub/fundhub-engine/internal/domain/user"
	"github.com/fundhub/fundhub-engine/pkg/logger"
	"github.com/fundhub/fundhub-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD ACTIVITY COMMAND
// Records that a user was active and keeps the consecutive-day streak that
// feeds USER_ACTIVITY achievements.
// ══════════════════════════════════════════════════════════════════════════════

// RecordActivityCommand contains the data to record an activity.
type RecordActivityCommand struct {
	// UserID is the ID of the active user.
	UserID string

	// Timestamp is when the activity occurred (defaults to now if zero).
	Timestamp time.Time

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c RecordActivityCommand) Validate() error {
	return shared.RequireID("user", "RecordActivity", "user id", c.UserID)
}

// RecordActivityResult contains the result of recording an activity.
type RecordActivityResult struct {
	CurrentStreak int
	BestStreak    int
	Change        user.StreakChange
}

// RecordActivityHandler handles RecordActivityCommand.
type RecordActivityHandler struct {
	users     user.Repository
	publisher shared.EventPublisher
	clock     timeutil.Clock
	loc       *time.Location
	log       *logger.Logger
}

// NewRecordActivityHandler creates a new RecordActivityHandler. Streak days
// are calendar days in loc (UTC when nil).
func NewRecordActivityHandler(
	users user.Repository,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	loc *time.Location,
	log *logger.Logger,
) *RecordActivityHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RecordActivityHandler{
		users:     users,
		publisher: publisher,
		clock:     clock,
		loc:       loc,
		log:       log.With(logger.Component("record_activity")),
	}
}

// Handle executes the record activity command.
func (h *RecordActivityHandler) Handle(ctx context.Context, cmd RecordActivityCommand) (*RecordActivityResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	at := cmd.Timestamp
	if at.IsZero() {
		at = h.clock.Now()
	}

	profile, err := h.loadProfile(ctx, cmd.UserID)
	if err != nil {
		return nil, err
	}

	change := profile.RecordActivity(at, h.loc)
	result := &RecordActivityResult{
		CurrentStreak: profile.CurrentStreak,
		BestStreak:    profile.BestStreak,
		Change:        change,
	}
	if change == user.StreakUnchanged {
		return result, nil
	}

	if err := h.users.Save(ctx, profile); err != nil {
		return nil, fmt.Errorf("record activity: save profile: %w", err)
	}

	h.log.Debug("activity recorded",
		logger.UserID(cmd.UserID), logger.Int("streak", profile.CurrentStreak))

	if h.publisher != nil {
		evt := shared.NewActivityUpdatedEvent(cmd.UserID, profile.CurrentStreak, at)
		evt.BaseEvent = evt.BaseEvent.WithCorrelationID(cmd.CorrelationID)
		if err := h.publisher.Publish(ctx, evt); err != nil {
			h.log.Warn("failed to publish activity update", logger.UserID(cmd.UserID), logger.Err(err))
		}
	}
	return result, nil
}

func (h *RecordActivityHandler) loadProfile(ctx context.Context, userID string) (*user.Profile, error) {
	profile, err := h.users.Get(ctx, userID)
	if err == nil {
		return profile, nil
	}
	if shared.IsNotFound(err) {
		return user.NewProfile(userID), nil
	}
	return nil, fmt.Errorf("load profile: %w", err)
}
