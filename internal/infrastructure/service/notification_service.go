// Package service holds adapters that connect the application layer to
// infrastructure it does not own.
package service

import (
	"context"
	"time"

	"github.com/fundhub/fundhub-engine/internal/application/command"
	"github.com/fundhub/fundhub-engine/internal/domain/achievement"
	"github.com/fundhub/fundhub-engine/internal/domain/shared"
	"github.com/fundhub/fundhub-engine/pkg/logger"
)

// UnlockPublisher announces unlocked achievements as achievement.unlocked
// signals on the event bus.
type UnlockPublisher struct {
	publisher shared.EventPublisher
	logger    *logger.Logger
}

// NewUnlockPublisher creates a new UnlockPublisher.
func NewUnlockPublisher(publisher shared.EventPublisher, log *logger.Logger) *UnlockPublisher {
	if log == nil {
		log = logger.Nop()
	}
	return &UnlockPublisher{
		publisher: publisher,
		logger:    log.With(logger.Component("unlock_publisher")),
	}
}

var _ command.UnlockNotifier = (*UnlockPublisher)(nil)

// AchievementUnlocked publishes the unlock.
func (p *UnlockPublisher) AchievementUnlocked(ctx context.Context, ua *achievement.UserAchievement) error {
	at := time.Now().UTC()
	if ua.UnlockedAt != nil {
		at = *ua.UnlockedAt
	}

	p.logger.Info("achievement unlocked",
		logger.UserID(ua.UserID),
		logger.AchievementID(ua.AchievementID),
		logger.UserAchievementID(ua.ID))

	return p.publisher.Publish(ctx,
		shared.NewAchievementUnlockedEvent(ua.ID, ua.UserID, ua.AchievementID, at))
}
