package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fundhub/fundhub-engine/internal/domain/event"
	"github.com/fundhub/fundhub-engine/internal/domain/shared"
	"github.com/fundhub/fundhub-engine/pkg/logger"
	"github.com/fundhub/fundhub-engine/pkg/metrics"
	"github.com/fundhub/fundhub-engine/pkg/timeutil"
	"golang.org/x/sync/errgroup"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVENT COMPLETION COORDINATOR
// Turns live facts (bank total, participant count, wall clock) into condition
// and group flags, then decides whether the event is COMPLETED or FAILED.
// Every check is idempotent: running it twice with unchanged facts changes
// nothing the second time.
// ══════════════════════════════════════════════════════════════════════════════

// CheckResult reports what one check did. Err is set when any step failed;
// flags flipped before the failure stay flipped.
type CheckResult struct {
	EventID   string
	Parameter event.Parameter

	ConditionsCompleted int
	GroupsCompleted     int
	GroupsFailed        int

	Outcome      event.Outcome
	Transitioned bool

	// Skipped is set when the event was not IN_PROGRESS.
	Skipped bool

	Err error
}

// OK reports whether the check finished without error.
func (r CheckResult) OK() bool {
	return r.Err == nil
}

func (r *CheckResult) fail(err error) {
	if err != nil {
		r.Err = errors.Join(r.Err, err)
	}
}

func (r *CheckResult) absorb(o CheckResult) {
	r.ConditionsCompleted += o.ConditionsCompleted
	r.GroupsCompleted += o.GroupsCompleted
	r.GroupsFailed += o.GroupsFailed
	r.Outcome = o.Outcome
	r.Transitioned = r.Transitioned || o.Transitioned
	r.Skipped = o.Skipped
	r.fail(o.Err)
}

// SweepResult aggregates the per-event results of a system-wide check.
type SweepResult struct {
	Results             []CheckResult
	ConditionsCompleted int
	EventsTransitioned  int
	Err                 error
}

func (s *SweepResult) add(r CheckResult) {
	s.Results = append(s.Results, r)
	s.ConditionsCompleted += r.ConditionsCompleted
	if r.Transitioned {
		s.EventsTransitioned++
	}
	if r.Err != nil {
		s.Err = errors.Join(s.Err, fmt.Errorf("event %s: %w", r.EventID, r.Err))
	}
}

// ConditionCheckerConfig tunes the checker.
type ConditionCheckerConfig struct {
	// SweepConcurrency bounds how many events CheckAllActive checks at once.
	SweepConcurrency int
}

// DefaultConditionCheckerConfig returns default configuration.
func DefaultConditionCheckerConfig() ConditionCheckerConfig {
	return ConditionCheckerConfig{SweepConcurrency: 4}
}

// ConditionChecker is the event completion coordinator.
type ConditionChecker struct {
	events    event.Repository
	publisher shared.EventPublisher
	clock     timeutil.Clock
	log       *logger.Logger
	metrics   *metrics.Metrics
	config    ConditionCheckerConfig
}

// NewConditionChecker creates a new ConditionChecker.
func NewConditionChecker(
	events event.Repository,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	log *logger.Logger,
	m *metrics.Metrics,
	config ConditionCheckerConfig,
) *ConditionChecker {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	if config.SweepConcurrency <= 0 {
		config = DefaultConditionCheckerConfig()
	}
	return &ConditionChecker{
		events:    events,
		publisher: publisher,
		clock:     clock,
		log:       log.With(logger.Component("condition_checker")),
		metrics:   m,
		config:    config,
	}
}

// CheckBankConditions evaluates the event's bank conditions against the live
// participation total.
func (c *ConditionChecker) CheckBankConditions(ctx context.Context, eventID string) CheckResult {
	return c.checkNumeric(ctx, eventID, event.ParameterBank)
}

// CheckPeopleConditions evaluates the event's people conditions against the
// live participant count.
func (c *ConditionChecker) CheckPeopleConditions(ctx context.Context, eventID string) CheckResult {
	return c.checkNumeric(ctx, eventID, event.ParameterPeople)
}

func (c *ConditionChecker) checkNumeric(ctx context.Context, eventID string, param event.Parameter) CheckResult {
	res := CheckResult{EventID: eventID, Parameter: param}
	defer func() { c.metrics.ConditionCheck(param.String(), res.Err) }()

	e, err := c.events.GetEvent(ctx, eventID)
	if err != nil {
		res.fail(err)
		return res
	}
	if !e.IsActive() {
		res.Skipped = true
		return res
	}

	facts := event.Facts{Now: c.clock.Now()}
	switch param {
	case event.ParameterBank:
		facts.Bank, err = c.events.BankTotal(ctx, eventID)
	case event.ParameterPeople:
		facts.People, err = c.events.ParticipantCount(ctx, eventID)
	}
	if err != nil {
		res.fail(err)
		return res
	}

	groups, err := c.events.ListUnresolvedGroups(ctx, eventID, param)
	if err != nil {
		res.fail(err)
		return res
	}

	for _, g := range groups {
		for _, cond := range g.Conditions {
			if cond.Parameter != param || cond.IsCompleted {
				continue
			}
			ok, err := cond.Evaluate(facts)
			if err != nil {
				c.log.Warn("condition evaluation failed",
					logger.EventID(eventID), logger.ConditionID(cond.ID), logger.Err(err))
				res.fail(err)
				continue
			}
			if !ok {
				continue
			}
			if err := c.completeCondition(ctx, cond, &res); err != nil {
				res.fail(err)
			}
		}
		c.resolveGroup(ctx, g, facts.Now, &res)
	}

	res.absorb(c.CheckAndUpdateEventStatus(ctx, eventID))
	return res
}

// CheckTimeConditions sweeps every unresolved time condition of IN_PROGRESS
// events, flips the ones whose threshold passed, then resolves the touched
// groups and re-checks the touched events.
func (c *ConditionChecker) CheckTimeConditions(ctx context.Context) SweepResult {
	var sweep SweepResult
	now := c.clock.Now()

	refs, err := c.events.ListUnresolvedTimeConditions(ctx)
	if err != nil {
		sweep.Err = err
		c.metrics.ConditionCheck(event.ParameterTime.String(), err)
		return sweep
	}

	touched := make(map[string]*CheckResult)
	var order []string
	for _, ref := range refs {
		res, ok := touched[ref.EventID]
		if !ok {
			res = &CheckResult{EventID: ref.EventID, Parameter: event.ParameterTime}
			touched[ref.EventID] = res
			order = append(order, ref.EventID)
		}

		// Deadlines are gates; they are settled when their group resolves.
		if ref.Condition.IsDeadline() {
			continue
		}
		ok, err := ref.Condition.Evaluate(event.Facts{Now: now})
		if err != nil {
			c.log.Warn("time condition evaluation failed",
				logger.EventID(ref.EventID), logger.ConditionID(ref.Condition.ID), logger.Err(err))
			res.fail(err)
			continue
		}
		if ok {
			res.fail(c.completeCondition(ctx, ref.Condition, res))
		}
	}

	for _, eventID := range order {
		if err := ctx.Err(); err != nil {
			sweep.Err = errors.Join(sweep.Err, err)
			break
		}
		res := touched[eventID]
		groups, err := c.events.ListGroups(ctx, eventID)
		if err != nil {
			res.fail(err)
		} else {
			for _, g := range groups {
				c.resolveGroup(ctx, g, now, res)
			}
			res.absorb(c.CheckAndUpdateEventStatus(ctx, eventID))
		}
		c.metrics.ConditionCheck(event.ParameterTime.String(), res.Err)
		sweep.add(*res)
	}
	return sweep
}

// CheckAndUpdateEventStatus derives the event outcome from its groups and
// performs the guarded status write. Only the caller whose write changed the
// row publishes the completion or failure signal.
func (c *ConditionChecker) CheckAndUpdateEventStatus(ctx context.Context, eventID string) CheckResult {
	res := CheckResult{EventID: eventID}

	e, err := c.events.GetEvent(ctx, eventID)
	if err != nil {
		res.fail(err)
		return res
	}
	if !e.IsActive() {
		res.Skipped = true
		return res
	}

	res.Outcome = e.Policy.Decide(e.Groups)
	now := c.clock.Now()

	switch res.Outcome {
	case event.OutcomeCompleted:
		changed, err := c.events.UpdateStatus(ctx, eventID, event.StatusInProgress, event.StatusCompleted, now)
		if err != nil {
			res.fail(err)
			return res
		}
		if !changed {
			return res
		}
		res.Transitioned = true
		c.metrics.EventTransitioned(string(event.StatusCompleted))
		c.log.Info("event completed", logger.EventID(eventID), logger.UserID(e.OwnerID))
		res.fail(c.publishCompleted(ctx, e, now))

	case event.OutcomeFailed:
		changed, err := c.events.UpdateStatus(ctx, eventID, event.StatusInProgress, event.StatusFailed, now)
		if err != nil {
			res.fail(err)
			return res
		}
		if !changed {
			return res
		}
		res.Transitioned = true
		c.metrics.EventTransitioned(string(event.StatusFailed))
		c.log.Info("event failed", logger.EventID(eventID), logger.UserID(e.OwnerID))
		res.fail(c.publish(ctx, shared.NewEventFailedEvent(eventID, e.OwnerID, now)))
	}
	return res
}

// CheckAllActive runs the bank and people checks for every IN_PROGRESS event,
// then the time sweep.
func (c *ConditionChecker) CheckAllActive(ctx context.Context) SweepResult {
	var sweep SweepResult

	ids, err := c.events.ListActiveEventIDs(ctx)
	if err != nil {
		sweep.Err = err
		return sweep
	}

	results := make([]CheckResult, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.SweepConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			res := c.CheckBankConditions(gctx, id)
			res.absorb(c.CheckPeopleConditions(gctx, id))
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		sweep.add(r)
	}

	timeSweep := c.CheckTimeConditions(ctx)
	for _, r := range timeSweep.Results {
		sweep.add(r)
	}
	if timeSweep.Err != nil && len(timeSweep.Results) == 0 {
		sweep.Err = errors.Join(sweep.Err, timeSweep.Err)
	}

	c.log.Debug("active events swept",
		logger.Int("events", len(ids)),
		logger.Int("transitioned", sweep.EventsTransitioned),
		logger.Err(sweep.Err))
	return sweep
}

func (c *ConditionChecker) completeCondition(ctx context.Context, cond *event.Condition, res *CheckResult) error {
	changed, err := c.events.MarkConditionCompleted(ctx, cond.ID)
	if err != nil {
		return err
	}
	cond.IsCompleted = true
	if changed {
		res.ConditionsCompleted++
	}
	return nil
}

func (c *ConditionChecker) resolveGroup(ctx context.Context, g *event.EndConditionGroup, now time.Time, res *CheckResult) {
	resolution, err := g.Resolve(now)
	if err != nil {
		c.log.Warn("group resolution failed",
			logger.EventID(res.EventID), logger.GroupID(g.ID), logger.Err(err))
		res.fail(err)
		return
	}

	for _, id := range resolution.GatesCompleted {
		changed, err := c.events.MarkConditionCompleted(ctx, id)
		if err != nil {
			res.fail(err)
			return
		}
		if changed {
			res.ConditionsCompleted++
		}
	}

	switch {
	case resolution.Completed:
		changed, err := c.events.MarkGroupCompleted(ctx, g.ID)
		if err != nil {
			res.fail(err)
			return
		}
		if changed {
			res.GroupsCompleted++
			c.log.Debug("group completed", logger.EventID(res.EventID), logger.GroupID(g.ID))
		}
	case resolution.Failed:
		changed, err := c.events.MarkGroupFailed(ctx, g.ID)
		if err != nil {
			res.fail(err)
			return
		}
		if changed {
			res.GroupsFailed++
			c.log.Debug("group failed", logger.EventID(res.EventID), logger.GroupID(g.ID))
		}
	}
}

func (c *ConditionChecker) publishCompleted(ctx context.Context, e *event.Event, now time.Time) error {
	bank, err := c.events.BankTotal(ctx, e.ID)
	if err != nil {
		return err
	}
	people, err := c.events.ParticipantCount(ctx, e.ID)
	if err != nil {
		return err
	}

	return c.publish(ctx, shared.EventCompletedEvent{
		BaseEvent:        shared.NewBaseEvent(shared.EventCompleted, e.ID, now),
		EventID:          e.ID,
		OwnerID:          e.OwnerID,
		Bank:             bank,
		People:           people,
		DurationHours:    e.DurationHours(now),
		Income:           bank,
		HadTimeCondition: e.HasTimeCondition(),
	})
}

func (c *ConditionChecker) publish(ctx context.Context, evt shared.Event) error {
	if c.publisher == nil {
		return nil
	}
	if err := c.publisher.Publish(ctx, evt); err != nil {
		c.log.Error("failed to publish event",
			logger.String("event_type", string(evt.EventType())),
			logger.EventID(evt.AggregateID()),
			logger.Err(err))
		return fmt.Errorf("publish %s: %w", evt.EventType(), err)
	}
	return nil
}
