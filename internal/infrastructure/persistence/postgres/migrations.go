package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE EVENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create events, condition groups, conditions and participations
-- Version: 001

CREATE TABLE IF NOT EXISTS events (
    id UUID PRIMARY KEY,
    owner_id UUID NOT NULL,
    title VARCHAR(200) NOT NULL DEFAULT '',
    type VARCHAR(20) NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
    -- cached sum of participations; checks read the live total
    bank_amount NUMERIC(20, 2) NOT NULL DEFAULT 0,
    completion_policy VARCHAR(10) NOT NULL DEFAULT 'ANY',
    started_at TIMESTAMP WITH TIME ZONE,
    finished_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_event_type CHECK (type IN ('DONATION', 'FUNDRAISING', 'JACKPOT')),
    CONSTRAINT valid_event_status CHECK (status IN ('PENDING', 'IN_PROGRESS', 'COMPLETED', 'FAILED', 'CANCELLED')),
    CONSTRAINT valid_completion_policy CHECK (completion_policy IN ('ANY', 'ALL'))
);

CREATE INDEX IF NOT EXISTS idx_events_owner ON events(owner_id);
CREATE INDEX IF NOT EXISTS idx_events_in_progress ON events(id) WHERE status = 'IN_PROGRESS';

CREATE TABLE IF NOT EXISTS end_condition_groups (
    id UUID PRIMARY KEY,
    event_id UUID NOT NULL REFERENCES events(id) ON DELETE CASCADE,
    group_type VARCHAR(5) NOT NULL DEFAULT 'AND',
    is_completed BOOLEAN NOT NULL DEFAULT FALSE,
    is_failed BOOLEAN NOT NULL DEFAULT FALSE,
    position INTEGER NOT NULL DEFAULT 0,

    CONSTRAINT valid_group_type CHECK (group_type IN ('AND', 'OR')),
    CONSTRAINT group_resolved_once CHECK (NOT (is_completed AND is_failed))
);

CREATE INDEX IF NOT EXISTS idx_groups_event ON end_condition_groups(event_id, position);
CREATE INDEX IF NOT EXISTS idx_groups_unresolved ON end_condition_groups(event_id)
    WHERE is_completed = FALSE AND is_failed = FALSE;

CREATE TABLE IF NOT EXISTS end_conditions (
    id UUID PRIMARY KEY,
    group_id UUID NOT NULL REFERENCES end_condition_groups(id) ON DELETE CASCADE,
    parameter_name VARCHAR(10) NOT NULL,
    operator VARCHAR(20) NOT NULL,
    value TEXT NOT NULL,
    is_completed BOOLEAN NOT NULL DEFAULT FALSE,
    position INTEGER NOT NULL DEFAULT 0,

    CONSTRAINT valid_parameter CHECK (parameter_name IN ('bank', 'people', 'time')),
    CONSTRAINT valid_operator CHECK (operator IN ('GREATER_EQUALS', 'LESS_EQUALS', 'EQUALS', 'GREATER', 'LESS'))
);

CREATE INDEX IF NOT EXISTS idx_conditions_group ON end_conditions(group_id, position);
CREATE INDEX IF NOT EXISTS idx_conditions_open_time ON end_conditions(group_id)
    WHERE parameter_name = 'time' AND is_completed = FALSE;

CREATE TABLE IF NOT EXISTS event_participations (
    id UUID PRIMARY KEY,
    event_id UUID NOT NULL REFERENCES events(id) ON DELETE CASCADE,
    user_id UUID NOT NULL,
    amount NUMERIC(20, 2) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT positive_amount CHECK (amount > 0)
);

CREATE INDEX IF NOT EXISTS idx_participations_event ON event_participations(event_id);
CREATE INDEX IF NOT EXISTS idx_participations_user ON event_participations(user_id);
`

const migration001Down = `
DROP TABLE IF EXISTS event_participations;
DROP TABLE IF EXISTS end_conditions;
DROP TABLE IF EXISTS end_condition_groups;
DROP TABLE IF EXISTS events;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create achievement catalogue and user progress
-- Version: 002

CREATE TABLE IF NOT EXISTS achievements (
    id VARCHAR(64) PRIMARY KEY,
    name VARCHAR(100) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    icon VARCHAR(100) NOT NULL DEFAULT '',
    position INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS achievement_criteria (
    id VARCHAR(64) PRIMARY KEY,
    achievement_id VARCHAR(64) NOT NULL REFERENCES achievements(id) ON DELETE CASCADE,
    criterion_type VARCHAR(40) NOT NULL,
    value NUMERIC(20, 2) NOT NULL,
    position INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_criteria_type ON achievement_criteria(criterion_type);
CREATE INDEX IF NOT EXISTS idx_criteria_achievement ON achievement_criteria(achievement_id, position);

CREATE TABLE IF NOT EXISTS user_achievements (
    id UUID PRIMARY KEY,
    user_id UUID NOT NULL,
    achievement_id VARCHAR(64) NOT NULL REFERENCES achievements(id) ON DELETE CASCADE,
    status BOOLEAN NOT NULL DEFAULT FALSE,
    unlocked_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT unique_user_achievement UNIQUE (user_id, achievement_id)
);

CREATE INDEX IF NOT EXISTS idx_user_achievements_user ON user_achievements(user_id);

CREATE TABLE IF NOT EXISTS user_criterion_progress (
    id UUID PRIMARY KEY,
    user_achievement_id UUID NOT NULL REFERENCES user_achievements(id) ON DELETE CASCADE,
    criterion_id VARCHAR(64) NOT NULL REFERENCES achievement_criteria(id) ON DELETE CASCADE,
    current_value NUMERIC(20, 2) NOT NULL DEFAULT 0,
    completed BOOLEAN NOT NULL DEFAULT FALSE,
    completed_at TIMESTAMP WITH TIME ZONE,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT unique_criterion_progress UNIQUE (user_achievement_id, criterion_id)
);
`

const migration002Down = `
DROP TABLE IF EXISTS user_criterion_progress;
DROP TABLE IF EXISTS user_achievements;
DROP TABLE IF EXISTS achievement_criteria;
DROP TABLE IF EXISTS achievements;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE USER PROFILES
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create user profiles (activity streak and wallet balance)
-- Version: 003

CREATE TABLE IF NOT EXISTS user_profiles (
    user_id UUID PRIMARY KEY,
    current_streak INTEGER NOT NULL DEFAULT 0,
    best_streak INTEGER NOT NULL DEFAULT 0,
    last_active_at TIMESTAMP WITH TIME ZONE,
    balance NUMERIC(20, 2) NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_streak CHECK (current_streak >= 0 AND best_streak >= current_streak),
    CONSTRAINT non_negative_balance CHECK (balance >= 0)
);
`

const migration003Down = `
DROP TABLE IF EXISTS user_profiles;
`
