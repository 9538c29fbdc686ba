package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/fundhub/fundhub-engine/internal/domain/event"
	"github.com/fundhub/fundhub-engine/internal/domain/shared"
	"github.com/fundhub/fundhub-engine/pkg/retry"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVENT REPOSITORY IMPLEMENTATION
// Amounts travel as NUMERIC cast to text so no value ever passes through a
// float. Flags are flipped with guarded UPDATEs; RowsAffected tells the
// caller whether it was the writer that changed the row.
// ══════════════════════════════════════════════════════════════════════════════

// EventRepository implements event.Repository for PostgreSQL.
type EventRepository struct {
	conn    *Connection
	retrier *retry.Retrier
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(conn *Connection) *EventRepository {
	return &EventRepository{
		conn:    conn,
		retrier: retry.DatabaseRetrier(IsTransient),
	}
}

// Compile-time check.
var _ event.Repository = (*EventRepository)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// Events
// ─────────────────────────────────────────────────────────────────────────────

// GetEvent returns the event with its groups and conditions.
func (r *EventRepository) GetEvent(ctx context.Context, id string) (*event.Event, error) {
	query := `
		SELECT id, owner_id, title, type, status, bank_amount::text, completion_policy,
			   started_at, finished_at, created_at, updated_at
		FROM events
		WHERE id = $1
	`

	var (
		e                         event.Event
		typ, status, policy, bank string
	)
	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		return r.conn.QueryRow(ctx, query, id).Scan(
			&e.ID, &e.OwnerID, &e.Title, &typ, &status, &bank, &policy,
			&e.StartedAt, &e.FinishedAt, &e.CreatedAt, &e.UpdatedAt,
		)
	})
	if IsNoRows(err) {
		return nil, shared.ErrEventNotFound
	}
	if err != nil {
		return nil, storageErr("GetEvent", err)
	}

	if e.Type, err = event.ParseType(typ); err != nil {
		return nil, err
	}
	if e.Status, err = event.ParseStatus(status); err != nil {
		return nil, err
	}
	if e.Policy, err = event.ParseCompletionPolicy(policy); err != nil {
		return nil, err
	}
	if e.BankAmount, err = decimal.NewFromString(bank); err != nil {
		return nil, storageErr("GetEvent", err)
	}

	if e.Groups, err = r.ListGroups(ctx, e.ID); err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateEvent stores the event, its groups and conditions in one transaction.
func (r *EventRepository) CreateEvent(ctx context.Context, e *event.Event) error {
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO events (
				id, owner_id, title, type, status, bank_amount, completion_policy,
				started_at, finished_at, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11)
		`,
			e.ID,
			e.OwnerID,
			e.Title,
			string(e.Type),
			string(e.Status),
			e.BankAmount.String(),
			string(e.Policy),
			e.StartedAt,
			e.FinishedAt,
			e.CreatedAt,
			e.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}

		batch := &pgx.Batch{}
		queued := 0
		for gi, g := range e.Groups {
			batch.Queue(`
				INSERT INTO end_condition_groups (id, event_id, group_type, is_completed, is_failed, position)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, g.ID, e.ID, string(g.Type), g.IsCompleted, g.IsFailed, gi)
			queued++

			for ci, c := range g.Conditions {
				batch.Queue(`
					INSERT INTO end_conditions (id, group_id, parameter_name, operator, value, is_completed, position)
					VALUES ($1, $2, $3, $4, $5, $6, $7)
				`, c.ID, g.ID, string(c.Parameter), string(c.Operator), c.Value, c.IsCompleted, ci)
				queued++
			}
		}

		br := tx.SendBatch(ctx, batch)
		defer br.Close()

		for i := 0; i < queued; i++ {
			if _, err := br.Exec(); err != nil {
				return fmt.Errorf("failed to insert conditions: %w", err)
			}
		}
		return nil
	})
	if IsUniqueViolation(err) {
		return shared.NewDomainError("event", "CreateEvent", shared.ErrAlreadyExists, "event already exists")
	}
	return storageErr("CreateEvent", err)
}

// UpdateStatus moves the event from expected to next. The WHERE clause is the
// guard: of several concurrent callers exactly one sees a changed row.
func (r *EventRepository) UpdateStatus(ctx context.Context, id string, expected, next event.Status, at time.Time) (bool, error) {
	query := `
		UPDATE events
		SET status = $3,
			updated_at = $4,
			started_at = CASE WHEN $3 = 'IN_PROGRESS' THEN $4 ELSE started_at END,
			finished_at = CASE WHEN $3 IN ('COMPLETED', 'FAILED', 'CANCELLED') THEN $4 ELSE finished_at END
		WHERE id = $1 AND status = $2
	`

	var changed bool
	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		tag, err := r.conn.Exec(ctx, query, id, string(expected), string(next), at)
		if err != nil {
			return err
		}
		changed = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, storageErr("UpdateStatus", err)
	}
	if changed {
		return true, nil
	}

	// Distinguish a lost race from a missing event.
	var exists bool
	if err := r.conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM events WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, storageErr("UpdateStatus", err)
	}
	if !exists {
		return false, shared.ErrEventNotFound
	}
	return false, nil
}

// ListActiveEventIDs returns the IDs of IN_PROGRESS events.
func (r *EventRepository) ListActiveEventIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		rows, err := r.conn.Query(ctx, `SELECT id FROM events WHERE status = 'IN_PROGRESS' ORDER BY id`)
		if err != nil {
			return err
		}
		ids, err = pgx.CollectRows(rows, pgx.RowTo[string])
		return err
	})
	if err != nil {
		return nil, storageErr("ListActiveEventIDs", err)
	}
	return ids, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Groups & Conditions
// ─────────────────────────────────────────────────────────────────────────────

const groupColumns = `
	g.id, g.event_id, g.group_type, g.is_completed, g.is_failed,
	c.id, c.parameter_name, c.operator, c.value, c.is_completed
`

// ListGroups returns every group of the event with its conditions.
func (r *EventRepository) ListGroups(ctx context.Context, eventID string) ([]*event.EndConditionGroup, error) {
	query := `
		SELECT ` + groupColumns + `
		FROM end_condition_groups g
		JOIN end_conditions c ON c.group_id = g.id
		WHERE g.event_id = $1
		ORDER BY g.position, c.position
	`
	groups, err := r.queryGroups(ctx, query, eventID)
	if err != nil {
		return nil, storageErr("ListGroups", err)
	}
	return groups, nil
}

// ListUnresolvedGroups returns the unresolved groups holding a condition on
// param, with all of their conditions.
func (r *EventRepository) ListUnresolvedGroups(ctx context.Context, eventID string, param event.Parameter) ([]*event.EndConditionGroup, error) {
	query := `
		SELECT ` + groupColumns + `
		FROM end_condition_groups g
		JOIN end_conditions c ON c.group_id = g.id
		WHERE g.event_id = $1
		  AND g.is_completed = FALSE AND g.is_failed = FALSE
		  AND EXISTS (
			SELECT 1 FROM end_conditions p
			WHERE p.group_id = g.id AND p.parameter_name = $2
		  )
		ORDER BY g.position, c.position
	`
	groups, err := r.queryGroups(ctx, query, eventID, string(param))
	if err != nil {
		return nil, storageErr("ListUnresolvedGroups", err)
	}
	return groups, nil
}

func (r *EventRepository) queryGroups(ctx context.Context, query string, args ...interface{}) ([]*event.EndConditionGroup, error) {
	var groups []*event.EndConditionGroup
	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		rows, err := r.conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		groups = groups[:0]
		var current *event.EndConditionGroup
		for rows.Next() {
			var (
				g         event.EndConditionGroup
				c         event.Condition
				groupType string
				param, op string
			)
			if err := rows.Scan(
				&g.ID, &g.EventID, &groupType, &g.IsCompleted, &g.IsFailed,
				&c.ID, &param, &op, &c.Value, &c.IsCompleted,
			); err != nil {
				return err
			}

			if current == nil || current.ID != g.ID {
				if g.Type, err = event.ParseGroupType(groupType); err != nil {
					return err
				}
				current = &g
				groups = append(groups, current)
			}

			if c.Parameter, err = event.ParseParameter(param); err != nil {
				return err
			}
			if c.Operator, err = event.ParseOperator(op); err != nil {
				return err
			}
			c.GroupID = current.ID
			cc := c
			current.Conditions = append(current.Conditions, &cc)
		}
		return rows.Err()
	})
	return groups, err
}

// ListUnresolvedTimeConditions returns uncompleted time conditions of
// unresolved groups belonging to IN_PROGRESS events.
func (r *EventRepository) ListUnresolvedTimeConditions(ctx context.Context) ([]event.TimeConditionRef, error) {
	query := `
		SELECT e.id, g.id, c.id, c.operator, c.value
		FROM end_conditions c
		JOIN end_condition_groups g ON g.id = c.group_id
		JOIN events e ON e.id = g.event_id
		WHERE e.status = 'IN_PROGRESS'
		  AND g.is_completed = FALSE AND g.is_failed = FALSE
		  AND c.parameter_name = 'time' AND c.is_completed = FALSE
		ORDER BY e.id, c.id
	`

	var refs []event.TimeConditionRef
	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		rows, err := r.conn.Query(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()

		refs = refs[:0]
		for rows.Next() {
			var (
				ref event.TimeConditionRef
				c   = &event.Condition{Parameter: event.ParameterTime}
				op  string
			)
			if err := rows.Scan(&ref.EventID, &ref.GroupID, &c.ID, &op, &c.Value); err != nil {
				return err
			}
			if c.Operator, err = event.ParseOperator(op); err != nil {
				return err
			}
			c.GroupID = ref.GroupID
			ref.Condition = c
			refs = append(refs, ref)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, storageErr("ListUnresolvedTimeConditions", err)
	}
	return refs, nil
}

// MarkConditionCompleted flips is_completed false→true.
func (r *EventRepository) MarkConditionCompleted(ctx context.Context, conditionID string) (bool, error) {
	return r.guardedFlip(ctx, "MarkConditionCompleted",
		`UPDATE end_conditions SET is_completed = TRUE WHERE id = $1 AND is_completed = FALSE`,
		`SELECT EXISTS (SELECT 1 FROM end_conditions WHERE id = $1)`,
		conditionID, "condition not found")
}

// MarkGroupCompleted flips is_completed unless the group is resolved.
func (r *EventRepository) MarkGroupCompleted(ctx context.Context, groupID string) (bool, error) {
	return r.guardedFlip(ctx, "MarkGroupCompleted",
		`UPDATE end_condition_groups SET is_completed = TRUE WHERE id = $1 AND is_completed = FALSE AND is_failed = FALSE`,
		`SELECT EXISTS (SELECT 1 FROM end_condition_groups WHERE id = $1)`,
		groupID, "group not found")
}

// MarkGroupFailed flips is_failed unless the group is resolved.
func (r *EventRepository) MarkGroupFailed(ctx context.Context, groupID string) (bool, error) {
	return r.guardedFlip(ctx, "MarkGroupFailed",
		`UPDATE end_condition_groups SET is_failed = TRUE WHERE id = $1 AND is_completed = FALSE AND is_failed = FALSE`,
		`SELECT EXISTS (SELECT 1 FROM end_condition_groups WHERE id = $1)`,
		groupID, "group not found")
}

func (r *EventRepository) guardedFlip(ctx context.Context, op, update, exists, id, notFound string) (bool, error) {
	var changed bool
	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		tag, err := r.conn.Exec(ctx, update, id)
		if err != nil {
			return err
		}
		changed = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, storageErr(op, err)
	}
	if changed {
		return true, nil
	}

	var found bool
	if err := r.conn.QueryRow(ctx, exists, id).Scan(&found); err != nil {
		return false, storageErr(op, err)
	}
	if !found {
		return false, shared.NotFound("event", op, notFound)
	}
	return false, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Live facts
// ─────────────────────────────────────────────────────────────────────────────

// BankTotal returns the live sum of participation amounts.
func (r *EventRepository) BankTotal(ctx context.Context, eventID string) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(p.amount), 0)::text
		FROM events e
		LEFT JOIN event_participations p ON p.event_id = e.id
		WHERE e.id = $1
		GROUP BY e.id
	`

	var total string
	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		return r.conn.QueryRow(ctx, query, eventID).Scan(&total)
	})
	if IsNoRows(err) {
		return decimal.Zero, shared.ErrEventNotFound
	}
	if err != nil {
		return decimal.Zero, storageErr("BankTotal", err)
	}

	d, err := decimal.NewFromString(total)
	if err != nil {
		return decimal.Zero, storageErr("BankTotal", err)
	}
	return d, nil
}

// ParticipantCount returns the live number of participations.
func (r *EventRepository) ParticipantCount(ctx context.Context, eventID string) (int64, error) {
	query := `
		SELECT COUNT(p.id)
		FROM events e
		LEFT JOIN event_participations p ON p.event_id = e.id
		WHERE e.id = $1
		GROUP BY e.id
	`

	var n int64
	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		return r.conn.QueryRow(ctx, query, eventID).Scan(&n)
	})
	if IsNoRows(err) {
		return 0, shared.ErrEventNotFound
	}
	if err != nil {
		return 0, storageErr("ParticipantCount", err)
	}
	return n, nil
}

// AddParticipation stores a participation and refreshes the cached bank in
// the same transaction.
func (r *EventRepository) AddParticipation(ctx context.Context, p *event.Participation) error {
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE events
			SET bank_amount = bank_amount + $2::numeric, updated_at = $3
			WHERE id = $1
		`, p.EventID, p.Amount.String(), p.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to update bank: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrEventNotFound
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO event_participations (id, event_id, user_id, amount, created_at)
			VALUES ($1, $2, $3, $4::numeric, $5)
		`, p.ID, p.EventID, p.UserID, p.Amount.String(), p.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert participation: %w", err)
		}
		return nil
	})
	if shared.IsNotFound(err) {
		return err
	}
	return storageErr("AddParticipation", err)
}
