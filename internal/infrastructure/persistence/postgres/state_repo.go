package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/academic-state-hub/internal/domain/academic"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// StateRepository implements academic.Repository for PostgreSQL.
type StateRepository struct {
	conn *Connection
}

// NewStateRepository creates a new StateRepository.
func NewStateRepository(conn *Connection) *StateRepository {
	return &StateRepository{conn: conn}
}

// Compile-time check.
var _ academic.Repository = (*StateRepository)(nil)

// Create inserts the first version of a learner's state and its change record.
func (r *StateRepository) Create(ctx context.Context, state academic.AcademicState, rec academic.ChangeRecord) error {
	row, err := encodeState(state, rec.Checksum, rec.AppliedAt)
	if err != nil {
		return err
	}

	err = r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO academic_states (
				learner_id, version, sequence, delta_sequence, state, clocks, checksum, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		`,
			row.LearnerID,
			row.Version,
			row.Sequence,
			row.DeltaSequence,
			row.State,
			row.Clocks,
			row.Checksum,
			row.UpdatedAt,
		)
		if err != nil {
			return err
		}
		return insertChange(ctx, tx, rec)
	})
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("postgres: create %s: %w", state.LearnerID(), academic.ErrProfileExists)
		}
		return fmt.Errorf("failed to create state: %w", err)
	}

	return nil
}

// Load returns the latest persisted state with its field clocks.
func (r *StateRepository) Load(ctx context.Context, learnerID string) (academic.AcademicState, error) {
	var row stateRow
	err := r.conn.QueryRow(ctx, `
		SELECT learner_id, version, sequence, delta_sequence, state, clocks, checksum, updated_at
		FROM academic_states
		WHERE learner_id = $1
	`, learnerID).Scan(
		&row.LearnerID,
		&row.Version,
		&row.Sequence,
		&row.DeltaSequence,
		&row.State,
		&row.Clocks,
		&row.Checksum,
		&row.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return academic.AcademicState{}, fmt.Errorf("postgres: load %s: %w", learnerID, academic.ErrProfileNotFound)
		}
		return academic.AcademicState{}, fmt.Errorf("failed to load state: %w", err)
	}

	return row.decode()
}

// Save replaces the state when the stored version equals expectedVersion and
// appends rec in the same transaction.
func (r *StateRepository) Save(ctx context.Context, next academic.AcademicState, expectedVersion uint64, rec academic.ChangeRecord) error {
	row, err := encodeState(next, rec.Checksum, rec.AppliedAt)
	if err != nil {
		return err
	}

	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE academic_states SET
				version = $1,
				sequence = $2,
				delta_sequence = $3,
				state = $4,
				clocks = $5,
				checksum = $6,
				updated_at = $7
			WHERE learner_id = $8 AND version = $9
		`,
			row.Version,
			row.Sequence,
			row.DeltaSequence,
			row.State,
			row.Clocks,
			row.Checksum,
			row.UpdatedAt,
			row.LearnerID,
			int64(expectedVersion),
		)
		if err != nil {
			return fmt.Errorf("failed to save state: %w", err)
		}

		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx,
				"SELECT EXISTS(SELECT 1 FROM academic_states WHERE learner_id = $1)", row.LearnerID,
			).Scan(&exists); err != nil {
				return fmt.Errorf("failed to check state: %w", err)
			}
			if !exists {
				return fmt.Errorf("postgres: save %s: %w", row.LearnerID, academic.ErrProfileNotFound)
			}
			return fmt.Errorf("postgres: save %s at version %d: %w", row.LearnerID, expectedVersion, academic.ErrVersionMismatch)
		}

		return insertChange(ctx, tx, rec)
	})
}

// History returns change records newest first. limit <= 0 returns all.
func (r *StateRepository) History(ctx context.Context, learnerID string, limit int) ([]academic.ChangeRecord, error) {
	query := `
		SELECT id, learner_id, version, sequence, kind, source, fields, checksum, applied_at
		FROM state_changes
		WHERE learner_id = $1
		ORDER BY version DESC
	`
	args := []interface{}{learnerID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []academic.ChangeRecord
	for rows.Next() {
		var (
			rec               academic.ChangeRecord
			version, sequence int64
			kind              string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.LearnerID,
			&version,
			&sequence,
			&kind,
			&rec.Source,
			&rec.Fields,
			&rec.Checksum,
			&rec.AppliedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		rec.Version = uint64(version)
		rec.Sequence = uint64(sequence)
		rec.Kind = academic.ChangeKind(kind)
		records = append(records, rec)
	}

	return records, rows.Err()
}

// List returns the ids of all learners, sorted.
func (r *StateRepository) List(ctx context.Context) ([]string, error) {
	rows, err := r.conn.Query(ctx, "SELECT learner_id FROM academic_states ORDER BY learner_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list learners: %w", err)
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan learners: %w", err)
	}
	return ids, nil
}

func insertChange(ctx context.Context, q Querier, rec academic.ChangeRecord) error {
	fields := rec.Fields
	if fields == nil {
		fields = []string{}
	}

	_, err := q.Exec(ctx, `
		INSERT INTO state_changes (
			id, learner_id, version, sequence, kind, source, fields, checksum, applied_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		rec.ID,
		rec.LearnerID,
		int64(rec.Version),
		int64(rec.Sequence),
		string(rec.Kind),
		rec.Source,
		fields,
		rec.Checksum,
		rec.AppliedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record change: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Row mapping
// ─────────────────────────────────────────────────────────────────────────────

// stateRow is one row of academic_states.
type stateRow struct {
	LearnerID     string
	Version       int64
	Sequence      int64
	DeltaSequence int64
	State         []byte
	Clocks        []byte
	Checksum      string
	UpdatedAt     time.Time
}

func encodeState(state academic.AcademicState, sum string, at time.Time) (stateRow, error) {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return stateRow{}, fmt.Errorf("failed to marshal state: %w", err)
	}

	clocks := state.Profile.Clocks
	if clocks == nil {
		clocks = academic.FieldClocks{}
	}
	clocksJSON, err := json.Marshal(clocks)
	if err != nil {
		return stateRow{}, fmt.Errorf("failed to marshal clocks: %w", err)
	}

	if at.IsZero() {
		at = time.Now().UTC()
	}

	return stateRow{
		LearnerID:     state.LearnerID(),
		Version:       int64(state.Version),
		Sequence:      int64(state.Profile.Sequence),
		DeltaSequence: int64(state.DeltaSequence),
		State:         stateJSON,
		Clocks:        clocksJSON,
		Checksum:      sum,
		UpdatedAt:     at,
	}, nil
}

func (r stateRow) decode() (academic.AcademicState, error) {
	var state academic.AcademicState
	if err := json.Unmarshal(r.State, &state); err != nil {
		return academic.AcademicState{}, fmt.Errorf("failed to unmarshal state of %s: %w", r.LearnerID, err)
	}

	clocks := academic.FieldClocks{}
	if len(r.Clocks) > 0 {
		if err := json.Unmarshal(r.Clocks, &clocks); err != nil {
			return academic.AcademicState{}, fmt.Errorf("failed to unmarshal clocks of %s: %w", r.LearnerID, err)
		}
	}

	// Columns win over the document: they are what Save compares against.
	state.Version = uint64(r.Version)
	state.DeltaSequence = uint64(r.DeltaSequence)
	state.Profile.Clocks = clocks
	state.Profile.Sequence = uint64(r.Sequence)

	return state, nil
}
