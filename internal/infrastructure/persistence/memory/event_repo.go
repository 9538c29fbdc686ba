// Package memory provides in-process repository implementations that back the
// application-layer test suites.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fundhub/fundhub-engine/internal/domain/event"
	"github.com/fundhub/fundhub-engine/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// EventRepository implements event.Repository. All methods hand out copies so
// callers never share state with the store.
type EventRepository struct {
	mu             sync.RWMutex
	events         map[string]*event.Event
	participations map[string][]*event.Participation
}

// NewEventRepository creates an empty store.
func NewEventRepository() *EventRepository {
	return &EventRepository{
		events:         make(map[string]*event.Event),
		participations: make(map[string][]*event.Participation),
	}
}

// Compile-time check.
var _ event.Repository = (*EventRepository)(nil)

// GetEvent implements event.Repository.
func (r *EventRepository) GetEvent(_ context.Context, id string) (*event.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.events[id]
	if !ok {
		return nil, shared.ErrEventNotFound
	}
	return cloneEvent(e), nil
}

// CreateEvent implements event.Repository.
func (r *EventRepository) CreateEvent(_ context.Context, e *event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.events[e.ID]; ok {
		return shared.NewDomainError("event", "CreateEvent", shared.ErrAlreadyExists, "event already exists")
	}
	r.events[e.ID] = cloneEvent(e)
	return nil
}

// UpdateStatus implements event.Repository.
func (r *EventRepository) UpdateStatus(_ context.Context, id string, expected, next event.Status, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.events[id]
	if !ok {
		return false, shared.ErrEventNotFound
	}
	if e.Status != expected {
		return false, nil
	}
	e.Status = next
	e.UpdatedAt = at
	switch next {
	case event.StatusInProgress:
		e.StartedAt = &at
	case event.StatusCompleted, event.StatusFailed, event.StatusCancelled:
		e.FinishedAt = &at
	}
	return true, nil
}

// ListActiveEventIDs implements event.Repository.
func (r *EventRepository) ListActiveEventIDs(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, e := range r.events {
		if e.Status == event.StatusInProgress {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ListGroups implements event.Repository.
func (r *EventRepository) ListGroups(_ context.Context, eventID string) ([]*event.EndConditionGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.events[eventID]
	if !ok {
		return nil, shared.ErrEventNotFound
	}
	out := make([]*event.EndConditionGroup, 0, len(e.Groups))
	for _, g := range e.Groups {
		out = append(out, cloneGroup(g))
	}
	return out, nil
}

// ListUnresolvedGroups implements event.Repository.
func (r *EventRepository) ListUnresolvedGroups(_ context.Context, eventID string, param event.Parameter) ([]*event.EndConditionGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.events[eventID]
	if !ok {
		return nil, shared.ErrEventNotFound
	}
	var out []*event.EndConditionGroup
	for _, g := range e.Groups {
		if !g.IsResolved() && g.HasParameter(param) {
			out = append(out, cloneGroup(g))
		}
	}
	return out, nil
}

// ListUnresolvedTimeConditions implements event.Repository.
func (r *EventRepository) ListUnresolvedTimeConditions(_ context.Context) ([]event.TimeConditionRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var refs []event.TimeConditionRef
	for _, e := range r.events {
		if e.Status != event.StatusInProgress {
			continue
		}
		for _, g := range e.Groups {
			if g.IsResolved() {
				continue
			}
			for _, c := range g.Conditions {
				if c.Parameter == event.ParameterTime && !c.IsCompleted {
					cc := *c
					refs = append(refs, event.TimeConditionRef{EventID: e.ID, GroupID: g.ID, Condition: &cc})
				}
			}
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].EventID != refs[j].EventID {
			return refs[i].EventID < refs[j].EventID
		}
		return refs[i].Condition.ID < refs[j].Condition.ID
	})
	return refs, nil
}

// MarkConditionCompleted implements event.Repository.
func (r *EventRepository) MarkConditionCompleted(_ context.Context, conditionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.events {
		for _, g := range e.Groups {
			for _, c := range g.Conditions {
				if c.ID == conditionID {
					return c.MarkCompleted(), nil
				}
			}
		}
	}
	return false, shared.NotFound("event", "MarkConditionCompleted", "condition not found")
}

// MarkGroupCompleted implements event.Repository.
func (r *EventRepository) MarkGroupCompleted(_ context.Context, groupID string) (bool, error) {
	return r.markGroup(groupID, func(g *event.EndConditionGroup) { g.IsCompleted = true })
}

// MarkGroupFailed implements event.Repository.
func (r *EventRepository) MarkGroupFailed(_ context.Context, groupID string) (bool, error) {
	return r.markGroup(groupID, func(g *event.EndConditionGroup) { g.IsFailed = true })
}

func (r *EventRepository) markGroup(groupID string, flip func(*event.EndConditionGroup)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.events {
		for _, g := range e.Groups {
			if g.ID != groupID {
				continue
			}
			if g.IsResolved() {
				return false, nil
			}
			flip(g)
			return true, nil
		}
	}
	return false, shared.NotFound("event", "MarkGroup", "group not found")
}

// BankTotal implements event.Repository.
func (r *EventRepository) BankTotal(_ context.Context, eventID string) (decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.events[eventID]; !ok {
		return decimal.Zero, shared.ErrEventNotFound
	}
	total := decimal.Zero
	for _, p := range r.participations[eventID] {
		total = total.Add(p.Amount)
	}
	return total, nil
}

// ParticipantCount implements event.Repository.
func (r *EventRepository) ParticipantCount(_ context.Context, eventID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.events[eventID]; !ok {
		return 0, shared.ErrEventNotFound
	}
	return int64(len(r.participations[eventID])), nil
}

// AddParticipation implements event.Repository.
func (r *EventRepository) AddParticipation(_ context.Context, p *event.Participation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.events[p.EventID]
	if !ok {
		return shared.ErrEventNotFound
	}
	cp := *p
	r.participations[p.EventID] = append(r.participations[p.EventID], &cp)
	e.BankAmount = e.BankAmount.Add(p.Amount)
	return nil
}

func cloneEvent(e *event.Event) *event.Event {
	cp := *e
	cp.Groups = make([]*event.EndConditionGroup, 0, len(e.Groups))
	for _, g := range e.Groups {
		cp.Groups = append(cp.Groups, cloneGroup(g))
	}
	return &cp
}

func cloneGroup(g *event.EndConditionGroup) *event.EndConditionGroup {
	cp := *g
	cp.Conditions = make([]*event.Condition, 0, len(g.Conditions))
	for _, c := range g.Conditions {
		cc := *c
		cp.Conditions = append(cp.Conditions, &cc)
	}
	return &cp
}
