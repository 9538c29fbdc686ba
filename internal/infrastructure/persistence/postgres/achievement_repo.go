package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/fundhub/fundhub-engine/internal/domain/achievement"
	"github.com/fundhub/fundhub-engine/internal/domain/shared"
	"github.com/fundhub/fundhub-engine/pkg/retry"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// AchievementRepository implements achievement.Repository for PostgreSQL.
type AchievementRepository struct {
	conn    *Connection
	retrier *retry.Retrier
}

// NewAchievementRepository creates a new AchievementRepository.
func NewAchievementRepository(conn *Connection) *AchievementRepository {
	return &AchievementRepository{
		conn:    conn,
		retrier: retry.DatabaseRetrier(IsTransient),
	}
}

// Compile-time check.
var _ achievement.Repository = (*AchievementRepository)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// Catalogue
// ─────────────────────────────────────────────────────────────────────────────

const catalogueQuery = `
	SELECT a.id, a.name, a.description, a.icon,
		   c.id, c.criterion_type, c.value::text
	FROM achievements a
	LEFT JOIN achievement_criteria c ON c.achievement_id = a.id
`

// ListAchievements returns every achievement with its criteria.
func (r *AchievementRepository) ListAchievements(ctx context.Context) ([]*achievement.Achievement, error) {
	list, err := r.queryCatalogue(ctx, catalogueQuery+` ORDER BY a.position, a.id, c.position, c.id`)
	if err != nil {
		return nil, storageErr("ListAchievements", err)
	}
	return list, nil
}

// ListCriteriaByType returns every criterion of the given type.
func (r *AchievementRepository) ListCriteriaByType(ctx context.Context, t achievement.CriterionType) ([]*achievement.Criterion, error) {
	query := `
		SELECT id, achievement_id, criterion_type, value::text
		FROM achievement_criteria
		WHERE criterion_type = $1
		ORDER BY achievement_id, position, id
	`

	var out []*achievement.Criterion
	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		rows, err := r.conn.Query(ctx, query, string(t))
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var (
				c          achievement.Criterion
				typ, value string
			)
			if err := rows.Scan(&c.ID, &c.AchievementID, &typ, &value); err != nil {
				return err
			}
			if c.Type, err = achievement.ParseCriterionType(typ); err != nil {
				return err
			}
			if c.Value, err = decimal.NewFromString(value); err != nil {
				return err
			}
			out = append(out, &c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, storageErr("ListCriteriaByType", err)
	}
	return out, nil
}

// GetAchievement returns one achievement with its criteria.
func (r *AchievementRepository) GetAchievement(ctx context.Context, id string) (*achievement.Achievement, error) {
	list, err := r.queryCatalogue(ctx, catalogueQuery+` WHERE a.id = $1 ORDER BY c.position, c.id`, id)
	if err != nil {
		return nil, storageErr("GetAchievement", err)
	}
	if len(list) == 0 {
		return nil, shared.ErrAchievementNotFound
	}
	return list[0], nil
}

func (r *AchievementRepository) queryCatalogue(ctx context.Context, query string, args ...interface{}) ([]*achievement.Achievement, error) {
	var list []*achievement.Achievement
	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		rows, err := r.conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		list = list[:0]
		var current *achievement.Achievement
		for rows.Next() {
			var (
				a                  achievement.Achievement
				critID, typ, value *string
			)
			if err := rows.Scan(&a.ID, &a.Name, &a.Description, &a.Icon, &critID, &typ, &value); err != nil {
				return err
			}
			if current == nil || current.ID != a.ID {
				current = &a
				list = append(list, current)
			}
			// achievement without criteria
			if critID == nil {
				continue
			}

			c := &achievement.Criterion{ID: *critID, AchievementID: current.ID}
			if c.Type, err = achievement.ParseCriterionType(*typ); err != nil {
				return err
			}
			if c.Value, err = decimal.NewFromString(*value); err != nil {
				return err
			}
			current.Criteria = append(current.Criteria, c)
		}
		return rows.Err()
	})
	return list, err
}

// UpsertAchievements installs catalogue entries, replacing the criteria of
// entries that already exist. Progress rows of removed criteria go with them.
func (r *AchievementRepository) UpsertAchievements(ctx context.Context, achievements ...*achievement.Achievement) error {
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		for ai, a := range achievements {
			_, err := tx.Exec(ctx, `
				INSERT INTO achievements (id, name, description, icon, position)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (id) DO UPDATE
				SET name = EXCLUDED.name,
					description = EXCLUDED.description,
					icon = EXCLUDED.icon,
					position = EXCLUDED.position
			`, a.ID, a.Name, a.Description, a.Icon, ai)
			if err != nil {
				return fmt.Errorf("failed to upsert achievement %s: %w", a.ID, err)
			}

			ids := make([]string, 0, len(a.Criteria))
			for ci, c := range a.Criteria {
				if !c.Type.IsValid() {
					return shared.UnknownValue("achievement", "UpsertAchievements", "criterion type", string(c.Type))
				}
				_, err := tx.Exec(ctx, `
					INSERT INTO achievement_criteria (id, achievement_id, criterion_type, value, position)
					VALUES ($1, $2, $3, $4::numeric, $5)
					ON CONFLICT (id) DO UPDATE
					SET achievement_id = EXCLUDED.achievement_id,
						criterion_type = EXCLUDED.criterion_type,
						value = EXCLUDED.value,
						position = EXCLUDED.position
				`, c.ID, a.ID, string(c.Type), c.Value.String(), ci)
				if err != nil {
					return fmt.Errorf("failed to upsert criterion %s: %w", c.ID, err)
				}
				ids = append(ids, c.ID)
			}

			if _, err := tx.Exec(ctx, `
				DELETE FROM achievement_criteria
				WHERE achievement_id = $1 AND NOT (id = ANY($2))
			`, a.ID, ids); err != nil {
				return fmt.Errorf("failed to prune criteria of %s: %w", a.ID, err)
			}
		}
		return nil
	})
	if shared.IsConfiguration(err) {
		return err
	}
	return storageErr("UpsertAchievements", err)
}

// ─────────────────────────────────────────────────────────────────────────────
// User achievements
// ─────────────────────────────────────────────────────────────────────────────

const userAchievementColumns = `id, user_id, achievement_id, status, unlocked_at, created_at`

func scanUserAchievement(row pgx.Row) (*achievement.UserAchievement, error) {
	var ua achievement.UserAchievement
	if err := row.Scan(&ua.ID, &ua.UserID, &ua.AchievementID, &ua.Status, &ua.UnlockedAt, &ua.CreatedAt); err != nil {
		return nil, err
	}
	return &ua, nil
}

// GetUserAchievement returns the record for (user, achievement).
func (r *AchievementRepository) GetUserAchievement(ctx context.Context, userID, achievementID string) (*achievement.UserAchievement, error) {
	query := `SELECT ` + userAchievementColumns + ` FROM user_achievements WHERE user_id = $1 AND achievement_id = $2`
	return r.getUserAchievement(ctx, "GetUserAchievement", query, userID, achievementID)
}

// GetUserAchievementByID returns the record by its ID.
func (r *AchievementRepository) GetUserAchievementByID(ctx context.Context, id string) (*achievement.UserAchievement, error) {
	query := `SELECT ` + userAchievementColumns + ` FROM user_achievements WHERE id = $1`
	return r.getUserAchievement(ctx, "GetUserAchievementByID", query, id)
}

func (r *AchievementRepository) getUserAchievement(ctx context.Context, op, query string, args ...interface{}) (*achievement.UserAchievement, error) {
	ua, err := retry.DoWithData(ctx, r.retrier, func(ctx context.Context) (*achievement.UserAchievement, error) {
		return scanUserAchievement(r.conn.QueryRow(ctx, query, args...))
	})
	if IsNoRows(err) {
		return nil, shared.ErrUserAchievementNotFound
	}
	if err != nil {
		return nil, storageErr(op, err)
	}
	return ua, nil
}

// EnsureUserAchievement inserts a locked record unless one exists, then
// returns the stored row. Concurrent callers converge on the same row.
func (r *AchievementRepository) EnsureUserAchievement(ctx context.Context, userID, achievementID string) (*achievement.UserAchievement, error) {
	insert := `
		INSERT INTO user_achievements (id, user_id, achievement_id, status, created_at)
		VALUES ($1, $2, $3, FALSE, $4)
		ON CONFLICT (user_id, achievement_id) DO NOTHING
	`
	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		_, err := r.conn.Exec(ctx, insert, shared.NewID(), userID, achievementID, time.Now().UTC())
		return err
	})
	if IsForeignKeyViolation(err) {
		return nil, shared.ErrAchievementNotFound
	}
	if err != nil {
		return nil, storageErr("EnsureUserAchievement", err)
	}
	return r.GetUserAchievement(ctx, userID, achievementID)
}

// UnlockUserAchievement flips status false→true.
func (r *AchievementRepository) UnlockUserAchievement(ctx context.Context, id string, at time.Time) (bool, error) {
	var changed bool
	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		tag, err := r.conn.Exec(ctx, `
			UPDATE user_achievements
			SET status = TRUE, unlocked_at = $2
			WHERE id = $1 AND status = FALSE
		`, id, at)
		if err != nil {
			return err
		}
		changed = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, storageErr("UnlockUserAchievement", err)
	}
	if changed {
		return true, nil
	}
	if _, err := r.GetUserAchievementByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// ListUserAchievements returns every record of the user.
func (r *AchievementRepository) ListUserAchievements(ctx context.Context, userID string) ([]*achievement.UserAchievement, error) {
	query := `SELECT ` + userAchievementColumns + ` FROM user_achievements WHERE user_id = $1 ORDER BY achievement_id`

	var out []*achievement.UserAchievement
	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		rows, err := r.conn.Query(ctx, query, userID)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*achievement.UserAchievement, error) {
			return scanUserAchievement(row)
		})
		return err
	})
	if err != nil {
		return nil, storageErr("ListUserAchievements", err)
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Criterion progress
// ─────────────────────────────────────────────────────────────────────────────

const progressColumns = `id, user_achievement_id, criterion_id, current_value::text, completed, completed_at, updated_at`

func scanProgress(row pgx.Row) (*achievement.CriterionProgress, error) {
	var (
		p     achievement.CriterionProgress
		value string
	)
	if err := row.Scan(&p.ID, &p.UserAchievementID, &p.CriterionID, &value, &p.Completed, &p.CompletedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	v, err := decimal.NewFromString(value)
	if err != nil {
		return nil, err
	}
	p.CurrentValue = v
	return &p, nil
}

// EnsureCriterionProgress inserts a zero row unless one exists, then returns
// the stored row.
func (r *AchievementRepository) EnsureCriterionProgress(ctx context.Context, userAchievementID, criterionID string) (*achievement.CriterionProgress, error) {
	insert := `
		INSERT INTO user_criterion_progress (id, user_achievement_id, criterion_id, current_value, completed, updated_at)
		VALUES ($1, $2, $3, 0, FALSE, $4)
		ON CONFLICT (user_achievement_id, criterion_id) DO NOTHING
	`
	query := `SELECT ` + progressColumns + ` FROM user_criterion_progress WHERE user_achievement_id = $1 AND criterion_id = $2`

	p, err := retry.DoWithData(ctx, r.retrier, func(ctx context.Context) (*achievement.CriterionProgress, error) {
		if _, err := r.conn.Exec(ctx, insert, shared.NewID(), userAchievementID, criterionID, time.Now().UTC()); err != nil {
			return nil, err
		}
		return scanProgress(r.conn.QueryRow(ctx, query, userAchievementID, criterionID))
	})
	if IsForeignKeyViolation(err) {
		return nil, shared.ErrUserAchievementNotFound
	}
	if err != nil {
		return nil, storageErr("EnsureCriterionProgress", err)
	}
	return p, nil
}

// SaveCriterionProgress persists value and completion. The completed = FALSE
// guard keeps completed rows frozen.
func (r *AchievementRepository) SaveCriterionProgress(ctx context.Context, p *achievement.CriterionProgress) error {
	var affected int64
	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		tag, err := r.conn.Exec(ctx, `
			UPDATE user_criterion_progress
			SET current_value = $2::numeric, completed = $3, completed_at = $4, updated_at = $5
			WHERE id = $1 AND completed = FALSE
		`, p.ID, p.CurrentValue.String(), p.Completed, p.CompletedAt, p.UpdatedAt)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return storageErr("SaveCriterionProgress", err)
	}
	if affected == 1 {
		return nil
	}

	var exists bool
	if err := r.conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM user_criterion_progress WHERE id = $1)`, p.ID).Scan(&exists); err != nil {
		return storageErr("SaveCriterionProgress", err)
	}
	if !exists {
		return shared.NotFound("achievement", "SaveCriterionProgress", "criterion progress not found")
	}
	return nil
}

// ListCriterionProgress returns every progress row of a user achievement.
func (r *AchievementRepository) ListCriterionProgress(ctx context.Context, userAchievementID string) ([]*achievement.CriterionProgress, error) {
	query := `
		SELECT p.id, p.user_achievement_id, p.criterion_id, p.current_value::text, p.completed, p.completed_at, p.updated_at
		FROM user_criterion_progress p
		JOIN achievement_criteria c ON c.id = p.criterion_id
		WHERE p.user_achievement_id = $1
		ORDER BY c.position, c.id
	`

	var out []*achievement.CriterionProgress
	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		rows, err := r.conn.Query(ctx, query, userAchievementID)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*achievement.CriterionProgress, error) {
			return scanProgress(row)
		})
		return err
	})
	if err != nil {
		return nil, storageErr("ListCriterionProgress", err)
	}
	return out, nil
}
