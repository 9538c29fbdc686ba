package command

import (
	"context"
	"testing"
	"time"

	"github.com/fundhub/fundhub-engine/internal/domain/event"
	"github.com/fundhub/fundhub-engine/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLifecycle_Create(t *testing.T) {
	f := newEventFixture()
	ctx := context.Background()

	e, err := f.lifecycle.Create(ctx, CreateEventCommand{
		OwnerID: ownerID,
		Title:   "  Winter drive ",
		Type:    "donation",
		Groups: []GroupInput{
			group("", cond("bank", ">=", "1 000.50"), cond("time", "<", "2026-06-01T00:00:00+02:00")),
		},
	})
	require.NoError(t, err)

	stored, err := f.repo.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Winter drive", stored.Title)
	assert.Equal(t, event.TypeDonation, stored.Type)
	assert.Equal(t, event.StatusPending, stored.Status)
	assert.Equal(t, event.PolicyAny, stored.Policy)
	require.Len(t, stored.Groups, 1)
	assert.Equal(t, event.GroupAll, stored.Groups[0].Type)

	conds := stored.Groups[0].Conditions
	require.Len(t, conds, 2)
	assert.Equal(t, "100050", conds[0].Value)
	assert.Equal(t, "2026-05-31T22:00:00Z", conds[1].Value)
	for _, c := range conds {
		assert.Equal(t, stored.Groups[0].ID, c.GroupID)
		assert.False(t, c.IsCompleted)
	}

	created := f.publisher.ofType(shared.EventCreated)
	require.Len(t, created, 1)
	assert.Equal(t, e.ID, created[0].AggregateID())
}

func TestEventLifecycle_CreateValidation(t *testing.T) {
	f := newEventFixture()
	ctx := context.Background()

	tests := []struct {
		name string
		cmd  CreateEventCommand
		want error
	}{
		{
			name: "no groups",
			cmd:  CreateEventCommand{OwnerID: ownerID, Type: "JACKPOT"},
			want: shared.ErrNoConditionGroups,
		},
		{
			name: "empty group",
			cmd:  CreateEventCommand{OwnerID: ownerID, Type: "JACKPOT", Groups: []GroupInput{{}}},
			want: shared.ErrEmptyConditionList,
		},
		{
			name: "unknown parameter",
			cmd: CreateEventCommand{OwnerID: ownerID, Type: "JACKPOT",
				Groups: []GroupInput{group("", cond("likes", ">=", "1"))}},
			want: shared.ErrValidation,
		},
		{
			name: "unknown operator",
			cmd: CreateEventCommand{OwnerID: ownerID, Type: "JACKPOT",
				Groups: []GroupInput{group("", cond("bank", "<>", "1"))}},
			want: shared.ErrValidation,
		},
		{
			name: "bad time",
			cmd: CreateEventCommand{OwnerID: ownerID, Type: "JACKPOT",
				Groups: []GroupInput{group("", cond("time", ">=", "tomorrow"))}},
			want: shared.ErrValidation,
		},
		{
			name: "unknown type",
			cmd: CreateEventCommand{OwnerID: ownerID, Type: "RAFFLE",
				Groups: []GroupInput{group("", cond("bank", ">=", "1"))}},
			want: shared.ErrValidation,
		},
		{
			name: "missing owner",
			cmd: CreateEventCommand{OwnerID: " ", Type: "JACKPOT",
				Groups: []GroupInput{group("", cond("bank", ">=", "1"))}},
			want: shared.ErrInvalidID,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.lifecycle.Create(ctx, tt.cmd)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, f.publisher.ofType(shared.EventCreated))
}

func TestEventLifecycle_StartAndCancel(t *testing.T) {
	f := newEventFixture()
	ctx := context.Background()

	e, err := f.lifecycle.Create(ctx, CreateEventCommand{
		OwnerID: ownerID, Type: "JACKPOT",
		Groups: []GroupInput{group("", cond("people", ">=", "10"))},
	})
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	require.NoError(t, f.lifecycle.Start(ctx, e.ID))
	stored, err := f.repo.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, event.StatusInProgress, stored.Status)
	require.NotNil(t, stored.StartedAt)
	assert.Equal(t, testNow.Add(time.Hour), *stored.StartedAt)

	assert.ErrorIs(t, f.lifecycle.Start(ctx, e.ID), shared.ErrInvalidTransition)

	require.NoError(t, f.lifecycle.Cancel(ctx, e.ID))
	assert.Equal(t, event.StatusCancelled, f.status(t, e.ID))
	assert.Len(t, f.publisher.ofType(shared.EventCancelled), 1)

	assert.ErrorIs(t, f.lifecycle.Cancel(ctx, e.ID), shared.ErrInvalidTransition)
	assert.Len(t, f.publisher.ofType(shared.EventCancelled), 1)
}

func TestEventLifecycle_CancelUnknown(t *testing.T) {
	f := newEventFixture()
	err := f.lifecycle.Cancel(context.Background(), "missing")
	assert.True(t, shared.IsNotFound(err))
}

func TestRecordParticipation(t *testing.T) {
	f := newEventFixture()
	ctx := context.Background()
	e := f.create(t, "", group("AND", cond("bank", ">=", "1000")))

	p, err := f.deposit.Handle(ctx, RecordParticipationCommand{EventID: e.ID, UserID: userA, Amount: "250.25"})
	require.NoError(t, err)
	assert.True(t, p.Amount.Equal(dec("250.25")))
	assert.Equal(t, testNow, p.CreatedAt)

	bank, err := f.repo.BankTotal(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, bank.Equal(dec("250.25")))

	published := f.publisher.ofType(shared.EventParticipated)
	require.Len(t, published, 1)
	assert.Equal(t, "250.25", shared.PayloadString(published[0], "amount"))
	assert.Equal(t, userA, shared.PayloadString(published[0], "user_id"))
}

func TestRecordParticipation_Rejects(t *testing.T) {
	f := newEventFixture()
	ctx := context.Background()
	e := f.create(t, "", group("AND", cond("bank", ">=", "1000")))

	_, err := f.deposit.Handle(ctx, RecordParticipationCommand{EventID: e.ID, UserID: userA, Amount: "0"})
	assert.ErrorIs(t, err, shared.ErrInvalidAmount)

	_, err = f.deposit.Handle(ctx, RecordParticipationCommand{EventID: e.ID, UserID: userA, Amount: "-5"})
	assert.ErrorIs(t, err, shared.ErrInvalidAmount)

	_, err = f.deposit.Handle(ctx, RecordParticipationCommand{EventID: e.ID, UserID: userA, Amount: "ten"})
	assert.ErrorIs(t, err, shared.ErrInvalidFormat)

	_, err = f.deposit.Handle(ctx, RecordParticipationCommand{EventID: e.ID, UserID: "", Amount: "1"})
	assert.ErrorIs(t, err, shared.ErrInvalidID)

	_, err = f.deposit.Handle(ctx, RecordParticipationCommand{EventID: shared.NewID(), UserID: userA, Amount: "1"})
	assert.True(t, shared.IsNotFound(err))

	assert.Empty(t, f.publisher.ofType(shared.EventParticipated))
}

func TestRecordParticipation_PublishFailureDoesNotFailDeposit(t *testing.T) {
	f := newEventFixture()
	ctx := context.Background()
	e := f.create(t, "", group("AND", cond("bank", ">=", "1000")))
	f.publisher.err = errBoom

	_, err := f.deposit.Handle(ctx, RecordParticipationCommand{EventID: e.ID, UserID: userA, Amount: "1"})
	require.NoError(t, err)

	n, err := f.repo.ParticipantCount(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
