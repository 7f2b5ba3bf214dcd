package results

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS workout_session (
	id                 TEXT PRIMARY KEY,
	exercise_type      TEXT NOT NULL,
	host_id            TEXT NOT NULL,
	started_at         TIMESTAMPTZ NOT NULL,
	ended_at           TIMESTAMPTZ NOT NULL,
	time_spent_seconds BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS workout_participant (
	session_id TEXT NOT NULL REFERENCES workout_session (id) ON DELETE CASCADE,
	user_id    TEXT NOT NULL,
	name       TEXT NOT NULL,
	rep_count  INTEGER NOT NULL,
	PRIMARY KEY (session_id, user_id)
);
CREATE INDEX IF NOT EXISTS workout_participant_user_idx ON workout_participant (user_id);
`

// PsqlRepo persists results in PostgreSQL.
type PsqlRepo struct {
	db *pgxpool.Pool
}

func NewPsqlRepo(db *pgxpool.Pool) *PsqlRepo {
	return &PsqlRepo{db: db}
}

// EnsureSchema creates the result tables when missing.
func (r *PsqlRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Save upserts the session row and replaces its participant rows in one transaction,
// so retrying a failed save is safe. A row owned by another host is left alone.
func (r *PsqlRepo) Save(ctx context.Context, res *Result) (err error) {
	if err := res.Validate(); err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
				err = fmt.Errorf("failed to rollback transaction: %w: %w", rollbackErr, err)
			}
		} else {
			err = tx.Commit(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `
		INSERT INTO workout_session (id, exercise_type, host_id, started_at, ended_at, time_spent_seconds)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			exercise_type = EXCLUDED.exercise_type,
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at,
			time_spent_seconds = EXCLUDED.time_spent_seconds
		WHERE workout_session.host_id = EXCLUDED.host_id
	`,
		res.SessionID,
		res.ExerciseType,
		res.HostID,
		res.StartedAt,
		res.EndedAt,
		res.TimeSpent,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		err = fmt.Errorf("session %s: %w", res.SessionID, ErrConflict)
		return err
	}

	if _, err = tx.Exec(ctx, `DELETE FROM workout_participant WHERE session_id = $1`, res.SessionID); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, p := range res.Participants {
		batch.Queue(`
			INSERT INTO workout_participant (session_id, user_id, name, rep_count)
			VALUES ($1, $2, $3, $4)
		`, res.SessionID, p.UserID, p.Name, p.Count)
	}
	err = tx.SendBatch(ctx, batch).Close()
	return err
}

func (r *PsqlRepo) Get(ctx context.Context, sessionID string) (*Result, error) {
	res := &Result{SessionID: sessionID}
	err := r.db.
		QueryRow(ctx, `
			SELECT exercise_type, host_id, started_at, ended_at, time_spent_seconds
			FROM workout_session
			WHERE id = $1
		`, sessionID).
		Scan(&res.ExerciseType, &res.HostID, &res.StartedAt, &res.EndedAt, &res.TimeSpent)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	participants, err := r.participants(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	res.Participants = participants
	return res, nil
}

func (r *PsqlRepo) participants(ctx context.Context, sessionID string) ([]ParticipantResult, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id, name, rep_count
		FROM workout_participant
		WHERE session_id = $1
		ORDER BY rep_count DESC, user_id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ParticipantResult
	for rows.Next() {
		var p ParticipantResult
		if err := rows.Scan(&p.UserID, &p.Name, &p.Count); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PsqlRepo) ListByUser(ctx context.Context, userID string) ([]*Result, error) {
	rows, err := r.db.Query(ctx, `
		SELECT s.id, s.exercise_type, s.host_id, s.started_at, s.ended_at, s.time_spent_seconds
		FROM workout_session s
		WHERE s.host_id = $1
		   OR EXISTS (SELECT 1 FROM workout_participant p WHERE p.session_id = s.id AND p.user_id = $1)
		ORDER BY s.started_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}

	var out []*Result
	for rows.Next() {
		res := &Result{}
		if err := rows.Scan(&res.SessionID, &res.ExerciseType, &res.HostID, &res.StartedAt, &res.EndedAt, &res.TimeSpent); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, res)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, res := range out {
		if res.Participants, err = r.participants(ctx, res.SessionID); err != nil {
			return nil, err
		}
	}
	return out, nil
}
