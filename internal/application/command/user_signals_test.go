package command

import (
	"context"
	"testing"
	"time"

	"github.com/fundhub/fundhub-engine/internal/domain/shared"
	"github.com/fundhub/fundhub-engine/internal/domain/user"
	"github.com/fundhub/fundhub-engine/internal/infrastructure/persistence/memory"
	"github.com/fundhub/fundhub-engine/pkg/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordActivity_Streak(t *testing.T) {
	users := memory.NewUserRepository()
	pub := &recordingPublisher{}
	clock := timeutil.NewFixedClock(testNow)
	h := NewRecordActivityHandler(users, pub, clock, time.UTC, nil)
	ctx := context.Background()

	res, err := h.Handle(ctx, RecordActivityCommand{UserID: userA})
	require.NoError(t, err)
	assert.Equal(t, user.StreakStarted, res.Change)
	assert.Equal(t, 1, res.CurrentStreak)

	// same day again
	clock.Advance(3 * time.Hour)
	res, err = h.Handle(ctx, RecordActivityCommand{UserID: userA})
	require.NoError(t, err)
	assert.Equal(t, user.StreakUnchanged, res.Change)

	clock.Advance(24 * time.Hour)
	res, err = h.Handle(ctx, RecordActivityCommand{UserID: userA})
	require.NoError(t, err)
	assert.Equal(t, user.StreakExtended, res.Change)
	assert.Equal(t, 2, res.CurrentStreak)

	clock.Advance(72 * time.Hour)
	res, err = h.Handle(ctx, RecordActivityCommand{UserID: userA})
	require.NoError(t, err)
	assert.Equal(t, user.StreakReset, res.Change)
	assert.Equal(t, 1, res.CurrentStreak)
	assert.Equal(t, 2, res.BestStreak)

	updates := pub.ofType(shared.EventUserActivityUpdated)
	require.Len(t, updates, 3)
	streak, err := shared.PayloadInt64(updates[1], "streak")
	require.NoError(t, err)
	assert.Equal(t, int64(2), streak)

	stored, err := users.Get(ctx, userA)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentStreak)
	assert.Equal(t, 2, stored.BestStreak)
}

func TestRecordActivity_ExplicitTimestampAndValidation(t *testing.T) {
	users := memory.NewUserRepository()
	h := NewRecordActivityHandler(users, nil, timeutil.NewFixedClock(testNow), nil, nil)
	ctx := context.Background()

	_, err := h.Handle(ctx, RecordActivityCommand{})
	assert.ErrorIs(t, err, shared.ErrInvalidID)

	at := testNow.Add(-48 * time.Hour)
	_, err = h.Handle(ctx, RecordActivityCommand{UserID: userB, Timestamp: at})
	require.NoError(t, err)

	stored, err := users.Get(ctx, userB)
	require.NoError(t, err)
	assert.Equal(t, timeutil.StartOfDay(at, time.UTC), stored.LastActiveDate)
}

func TestChangeBalance(t *testing.T) {
	users := memory.NewUserRepository()
	pub := &recordingPublisher{}
	h := NewChangeBalanceHandler(users, pub, timeutil.NewFixedClock(testNow), nil)
	ctx := context.Background()

	balance, err := h.Handle(ctx, ChangeBalanceCommand{UserID: userA, Balance: "120.50"})
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("120.5")))

	// unchanged balance publishes nothing
	_, err = h.Handle(ctx, ChangeBalanceCommand{UserID: userA, Balance: "120.5"})
	require.NoError(t, err)

	changes := pub.ofType(shared.EventUserBalanceChanged)
	require.Len(t, changes, 1)
	v, err := shared.PayloadDecimal(changes[0], "balance")
	require.NoError(t, err)
	assert.True(t, v.Equal(dec("120.5")))

	_, err = h.Handle(ctx, ChangeBalanceCommand{UserID: userA, Balance: "-1"})
	assert.ErrorIs(t, err, shared.ErrNegativeValue)

	_, err = h.Handle(ctx, ChangeBalanceCommand{UserID: userA, Balance: "lots"})
	assert.ErrorIs(t, err, shared.ErrInvalidFormat)
}
