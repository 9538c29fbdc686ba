package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fundhub/fundhub-engine/internal/domain/event"
	"github.com/fundhub/fundhub-engine/internal/domain/shared"
	"github.com/fundhub/fundhub-engine/internal/infrastructure/persistence/memory"
	"github.com/fundhub/fundhub-engine/pkg/timeutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	testNow = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

	ownerID = "6f1f4a3e-8a7c-4c1e-9d0b-3b7f2b1d5a01"
	userA   = "0b8d7b1e-2f0a-4a5e-8f3e-1f7c9d2a6b11"
	userB   = "9c2e1d4f-7b3a-4e6d-a1f0-5d8c3b2a7e22"
)

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) ofType(t shared.EventType) []shared.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []shared.Event
	for _, e := range p.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

var errBoom = errors.New("boom")

type eventFixture struct {
	repo      *memory.EventRepository
	publisher *recordingPublisher
	clock     *timeutil.FixedClock
	checker   *ConditionChecker
	lifecycle *EventLifecycleHandler
	deposit   *RecordParticipationHandler
}

func newEventFixture() *eventFixture {
	f := &eventFixture{
		repo:      memory.NewEventRepository(),
		publisher: &recordingPublisher{},
		clock:     timeutil.NewFixedClock(testNow),
	}
	f.checker = NewConditionChecker(f.repo, f.publisher, f.clock, nil, nil, DefaultConditionCheckerConfig())
	f.lifecycle = NewEventLifecycleHandler(f.repo, f.publisher, f.clock, nil)
	f.deposit = NewRecordParticipationHandler(f.repo, f.publisher, f.clock, nil)
	return f
}

// create stores a started event with the given groups.
func (f *eventFixture) create(t *testing.T, policy string, groups ...GroupInput) *event.Event {
	t.Helper()
	e, err := f.lifecycle.Create(context.Background(), CreateEventCommand{
		OwnerID: ownerID,
		Title:   "test event",
		Type:    "FUNDRAISING",
		Policy:  policy,
		Groups:  groups,
		Start:   true,
	})
	require.NoError(t, err)
	return e
}

func (f *eventFixture) pay(t *testing.T, eventID, userID, amount string) {
	t.Helper()
	_, err := f.deposit.Handle(context.Background(), RecordParticipationCommand{
		EventID: eventID, UserID: userID, Amount: amount,
	})
	require.NoError(t, err)
}

func (f *eventFixture) status(t *testing.T, eventID string) event.Status {
	t.Helper()
	e, err := f.repo.GetEvent(context.Background(), eventID)
	require.NoError(t, err)
	return e.Status
}

func group(typ string, conds ...ConditionInput) GroupInput {
	return GroupInput{Type: typ, Conditions: conds}
}

func cond(param, op, value string) ConditionInput {
	return ConditionInput{Parameter: param, Operator: op, Value: value}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
