package command

import (
	"context"
	"fmt"

	"github.com/fundhub/fundhub-engine/internal/domain/shared"
	"github.com/fundhub/fundhub-engine/internal/domain/user"
	"github.com/fundhub/fundhub-engine/pkg/logger"
	"github.com/fundhub/fundhub-engine/pkg/timeutil"
	"github.com/shopspring/decimal"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHANGE BALANCE COMMAND
// Stores the wallet balance reported for a user. The balance itself is owned
// by the wallet; the engine only tracks it for USER_BANK achievements.
// ══════════════════════════════════════════════════════════════════════════════

// ChangeBalanceCommand contains the new balance of a user.
type ChangeBalanceCommand struct {
	UserID  string
	Balance string
}

// Validate validates the command.
func (c ChangeBalanceCommand) Validate() error {
	return shared.RequireID("user", "ChangeBalance", "user id", c.UserID)
}

// ChangeBalanceHandler handles ChangeBalanceCommand.
type ChangeBalanceHandler struct {
	users     user.Repository
	publisher shared.EventPublisher
	clock     timeutil.Clock
	log       *logger.Logger
}

// NewChangeBalanceHandler creates a new ChangeBalanceHandler.
func NewChangeBalanceHandler(users user.Repository, publisher shared.EventPublisher, clock timeutil.Clock, log *logger.Logger) *ChangeBalanceHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ChangeBalanceHandler{
		users:     users,
		publisher: publisher,
		clock:     clock,
		log:       log.With(logger.Component("change_balance")),
	}
}

// Handle stores the balance and publishes user.balance_changed when it
// differs from the stored one. Negative balances are rejected.
func (h *ChangeBalanceHandler) Handle(ctx context.Context, cmd ChangeBalanceCommand) (decimal.Decimal, error) {
	if err := cmd.Validate(); err != nil {
		return decimal.Zero, err
	}
	balance, err := shared.ParseAmount("user", "ChangeBalance", cmd.Balance)
	if err != nil {
		return decimal.Zero, err
	}
	if balance.IsNegative() {
		return decimal.Zero, shared.WrapError("user", "ChangeBalance", shared.ErrValidation,
			"balance must not be negative", shared.ErrNegativeValue)
	}

	profile, err := h.users.Get(ctx, cmd.UserID)
	if err != nil {
		if !shared.IsNotFound(err) {
			return decimal.Zero, fmt.Errorf("change balance: load profile: %w", err)
		}
		profile = user.NewProfile(cmd.UserID)
	}

	now := h.clock.Now()
	if !profile.SetBalance(balance, now) {
		return profile.Balance, nil
	}
	if err := h.users.Save(ctx, profile); err != nil {
		return decimal.Zero, fmt.Errorf("change balance: save profile: %w", err)
	}

	if h.publisher != nil {
		if err := h.publisher.Publish(ctx, shared.NewBalanceChangedEvent(cmd.UserID, balance, now)); err != nil {
			h.log.Warn("failed to publish balance change", logger.UserID(cmd.UserID), logger.Err(err))
		}
	}
	return balance, nil
}
