package postgres

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_academic_states",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_state_changes",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE ACADEMIC STATES
// ══════════════════════════════════════════════════════════════════════════════

// The state column holds the JSON form of AcademicState. Field clocks and the
// profile sequence are not part of that form and live in their own columns.
const migration001Up = `
CREATE TABLE IF NOT EXISTS academic_states (
    learner_id VARCHAR(128) PRIMARY KEY,
    version BIGINT NOT NULL CHECK (version > 0),
    sequence BIGINT NOT NULL DEFAULT 0,
    delta_sequence BIGINT NOT NULL DEFAULT 0,
    state JSONB NOT NULL,
    clocks JSONB NOT NULL DEFAULT '{}'::jsonb,
    checksum VARCHAR(80) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_academic_states_updated_at ON academic_states(updated_at DESC);
`

const migration001Down = `
DROP TABLE IF EXISTS academic_states;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE STATE CHANGES
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS state_changes (
    id UUID PRIMARY KEY,
    learner_id VARCHAR(128) NOT NULL REFERENCES academic_states(learner_id) ON DELETE CASCADE,
    version BIGINT NOT NULL,
    sequence BIGINT NOT NULL DEFAULT 0,
    kind VARCHAR(20) NOT NULL,
    source VARCHAR(100) NOT NULL DEFAULT '',
    fields TEXT[] NOT NULL DEFAULT '{}',
    checksum VARCHAR(80) NOT NULL,
    applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    UNIQUE (learner_id, version)
);

CREATE INDEX IF NOT EXISTS idx_state_changes_learner ON state_changes(learner_id, version DESC);
`

const migration002Down = `
DROP TABLE IF EXISTS state_changes;
`
