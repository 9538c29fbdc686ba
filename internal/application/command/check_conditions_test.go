package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fundhub/fundhub-engine/internal/domain/event"
	"github.com/fundhub/fundhub-engine/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionChecker_BankThresholdCompletesEvent(t *testing.T) {
	f := newEventFixture()
	ctx := context.Background()
	e := f.create(t, "", group("AND", cond("bank", ">=", "1000")))

	f.pay(t, e.ID, userA, "500")
	res := f.checker.CheckBankConditions(ctx, e.ID)
	require.NoError(t, res.Err)
	assert.Equal(t, 0, res.ConditionsCompleted)
	assert.Equal(t, event.OutcomePending, res.Outcome)
	assert.Equal(t, event.StatusInProgress, f.status(t, e.ID))

	f.pay(t, e.ID, userB, "500")
	res = f.checker.CheckBankConditions(ctx, e.ID)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.ConditionsCompleted)
	assert.Equal(t, 1, res.GroupsCompleted)
	assert.True(t, res.Transitioned)
	assert.Equal(t, event.StatusCompleted, f.status(t, e.ID))

	completed := f.publisher.ofType(shared.EventCompleted)
	require.Len(t, completed, 1)
	evt := completed[0].(shared.EventCompletedEvent)
	assert.True(t, evt.Bank.Equal(dec("1000")))
	assert.Equal(t, int64(2), evt.People)
	assert.True(t, evt.Income.Equal(dec("1000")))
	assert.Equal(t, ownerID, evt.OwnerID)
	assert.False(t, evt.HadTimeCondition)
}

func TestConditionChecker_IsIdempotent(t *testing.T) {
	f := newEventFixture()
	ctx := context.Background()
	e := f.create(t, "", group("AND", cond("bank", ">=", "100"), cond("people", ">=", "5")))

	f.pay(t, e.ID, userA, "150")
	first := f.checker.CheckBankConditions(ctx, e.ID)
	require.NoError(t, first.Err)
	assert.Equal(t, 1, first.ConditionsCompleted)

	second := f.checker.CheckBankConditions(ctx, e.ID)
	require.NoError(t, second.Err)
	assert.Equal(t, 0, second.ConditionsCompleted)
	assert.Equal(t, 0, second.GroupsCompleted)
	assert.False(t, second.Transitioned)
	assert.Equal(t, event.StatusInProgress, f.status(t, e.ID))
}

func TestConditionChecker_ConditionsNeverRevert(t *testing.T) {
	f := newEventFixture()
	ctx := context.Background()
	// LESS_EQUALS on people stays satisfied only while few have joined.
	e := f.create(t, "", group("AND", cond("people", "<=", "1"), cond("bank", ">=", "1000")))

	f.pay(t, e.ID, userA, "10")
	require.NoError(t, f.checker.CheckPeopleConditions(ctx, e.ID).Err)

	f.pay(t, e.ID, userB, "10")
	require.NoError(t, f.checker.CheckPeopleConditions(ctx, e.ID).Err)

	groups, err := f.repo.ListGroups(ctx, e.ID)
	require.NoError(t, err)
	for _, c := range groups[0].Conditions {
		if c.Parameter == event.ParameterPeople {
			assert.True(t, c.IsCompleted)
		}
	}
}

func TestConditionChecker_OrGroupNeedsOneCondition(t *testing.T) {
	f := newEventFixture()
	ctx := context.Background()
	e := f.create(t, "", group("OR", cond("bank", ">=", "1000"), cond("people", ">=", "2")))

	f.pay(t, e.ID, userA, "1")
	f.pay(t, e.ID, userB, "1")
	res := f.checker.CheckPeopleConditions(ctx, e.ID)
	require.NoError(t, res.Err)
	assert.True(t, res.Transitioned)
	assert.Equal(t, event.StatusCompleted, f.status(t, e.ID))
}

func TestConditionChecker_PolicyAllWaitsForEveryGroup(t *testing.T) {
	f := newEventFixture()
	ctx := context.Background()
	e := f.create(t, "ALL",
		group("AND", cond("bank", ">=", "100")),
		group("AND", cond("people", ">=", "2")),
	)

	f.pay(t, e.ID, userA, "100")
	res := f.checker.CheckBankConditions(ctx, e.ID)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.GroupsCompleted)
	assert.False(t, res.Transitioned)

	f.pay(t, e.ID, userB, "1")
	res = f.checker.CheckPeopleConditions(ctx, e.ID)
	require.NoError(t, res.Err)
	assert.True(t, res.Transitioned)
	assert.Equal(t, event.StatusCompleted, f.status(t, e.ID))
}

func TestConditionChecker_SkipsInactiveEvent(t *testing.T) {
	f := newEventFixture()
	ctx := context.Background()
	e, err := f.lifecycle.Create(ctx, CreateEventCommand{
		OwnerID: ownerID,
		Type:    "DONATION",
		Groups:  []GroupInput{group("", cond("bank", ">=", "0"))},
	})
	require.NoError(t, err)

	res := f.checker.CheckBankConditions(ctx, e.ID)
	require.NoError(t, res.Err)
	assert.True(t, res.Skipped)
	assert.Equal(t, event.StatusPending, f.status(t, e.ID))
}

func TestConditionChecker_UnknownEvent(t *testing.T) {
	f := newEventFixture()
	res := f.checker.CheckBankConditions(context.Background(), "missing")
	require.Error(t, res.Err)
	assert.True(t, shared.IsNotFound(res.Err))
	assert.False(t, res.OK())
}

func TestConditionChecker_TimeLowerBound(t *testing.T) {
	f := newEventFixture()
	ctx := context.Background()
	at := testNow.Add(2 * time.Hour).Format(time.RFC3339)
	e := f.create(t, "", group("AND", cond("time", ">=", at)))

	sweep := f.checker.CheckTimeConditions(ctx)
	require.NoError(t, sweep.Err)
	assert.Equal(t, 0, sweep.ConditionsCompleted)
	assert.Equal(t, event.StatusInProgress, f.status(t, e.ID))

	f.clock.Advance(2 * time.Hour)
	sweep = f.checker.CheckTimeConditions(ctx)
	require.NoError(t, sweep.Err)
	assert.Equal(t, 1, sweep.ConditionsCompleted)
	assert.Equal(t, 1, sweep.EventsTransitioned)
	assert.Equal(t, event.StatusCompleted, f.status(t, e.ID))

	completed := f.publisher.ofType(shared.EventCompleted)
	require.Len(t, completed, 1)
	evt := completed[0].(shared.EventCompletedEvent)
	assert.True(t, evt.HadTimeCondition)
	assert.Equal(t, int64(2), evt.DurationHours)
}

func TestConditionChecker_DeadlineMetInTime(t *testing.T) {
	f := newEventFixture()
	ctx := context.Background()
	deadline := testNow.Add(24 * time.Hour).Format(time.RFC3339)
	e := f.create(t, "", group("AND", cond("bank", ">=", "100"), cond("time", "<", deadline)))

	f.pay(t, e.ID, userA, "100")
	res := f.checker.CheckBankConditions(ctx, e.ID)
	require.NoError(t, res.Err)
	// bank goal plus the deadline gate
	assert.Equal(t, 2, res.ConditionsCompleted)
	assert.True(t, res.Transitioned)
	assert.Equal(t, event.StatusCompleted, f.status(t, e.ID))
}

func TestConditionChecker_DeadlineExpiredFailsEvent(t *testing.T) {
	f := newEventFixture()
	ctx := context.Background()
	deadline := testNow.Add(time.Hour).Format(time.RFC3339)
	e := f.create(t, "", group("AND", cond("bank", ">=", "100"), cond("time", "<=", deadline)))

	f.clock.Advance(90 * time.Minute)
	sweep := f.checker.CheckTimeConditions(ctx)
	require.NoError(t, sweep.Err)
	require.Len(t, sweep.Results, 1)
	assert.Equal(t, 1, sweep.Results[0].GroupsFailed)
	assert.Equal(t, event.OutcomeFailed, sweep.Results[0].Outcome)
	assert.Equal(t, event.StatusFailed, f.status(t, e.ID))
	assert.Len(t, f.publisher.ofType(shared.EventFailed), 1)

	// a late deposit cannot revive it
	_, err := f.deposit.Handle(ctx, RecordParticipationCommand{EventID: e.ID, UserID: userA, Amount: "100"})
	assert.ErrorIs(t, err, shared.ErrEventNotActive)
}

func TestConditionChecker_PolicyAnyIgnoresFailedGroup(t *testing.T) {
	f := newEventFixture()
	ctx := context.Background()
	deadline := testNow.Add(time.Hour).Format(time.RFC3339)
	e := f.create(t, "ANY",
		group("AND", cond("bank", ">=", "1000"), cond("time", "<", deadline)),
		group("AND", cond("people", ">=", "2")),
	)

	f.clock.Advance(2 * time.Hour)
	require.NoError(t, f.checker.CheckTimeConditions(ctx).Err)
	assert.Equal(t, event.StatusInProgress, f.status(t, e.ID))

	f.pay(t, e.ID, userA, "1")
	f.pay(t, e.ID, userB, "1")
	res := f.checker.CheckPeopleConditions(ctx, e.ID)
	require.NoError(t, res.Err)
	assert.Equal(t, event.StatusCompleted, f.status(t, e.ID))
}

func TestConditionChecker_ConcurrentChecksPublishOnce(t *testing.T) {
	f := newEventFixture()
	ctx := context.Background()
	e := f.create(t, "", group("AND", cond("bank", ">=", "10")))
	f.pay(t, e.ID, userA, "10")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.checker.CheckBankConditions(ctx, e.ID)
		}()
	}
	wg.Wait()

	assert.Equal(t, event.StatusCompleted, f.status(t, e.ID))
	assert.Len(t, f.publisher.ofType(shared.EventCompleted), 1)
}

func TestConditionChecker_PublishFailureIsReported(t *testing.T) {
	f := newEventFixture()
	ctx := context.Background()
	e := f.create(t, "", group("AND", cond("bank", ">=", "10")))
	f.pay(t, e.ID, userA, "10")

	f.publisher.err = errBoom
	res := f.checker.CheckBankConditions(ctx, e.ID)
	assert.ErrorIs(t, res.Err, errBoom)
	// the transition itself is kept
	assert.True(t, res.Transitioned)
	assert.Equal(t, event.StatusCompleted, f.status(t, e.ID))
}

func TestConditionChecker_CheckAllActive(t *testing.T) {
	f := newEventFixture()
	ctx := context.Background()
	done := f.create(t, "", group("AND", cond("bank", ">=", "50")))
	open := f.create(t, "", group("AND", cond("people", ">=", "3")))
	f.pay(t, done.ID, userA, "50")
	f.pay(t, open.ID, userA, "1")

	sweep := f.checker.CheckAllActive(ctx)
	require.NoError(t, sweep.Err)
	assert.Equal(t, 1, sweep.EventsTransitioned)
	assert.Equal(t, event.StatusCompleted, f.status(t, done.ID))
	assert.Equal(t, event.StatusInProgress, f.status(t, open.ID))
}
