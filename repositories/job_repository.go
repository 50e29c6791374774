package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dosada05/skill-tournaments/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

type postgresJobRepository struct {
	db SQLExecutor
}

const jobColumns = `id, type, tournament_id, run_at, status, attempts, max_attempts, last_error, locked_at, created_at, updated_at`

func scanJob(row rowScanner) (*models.Job, error) {
	j := &models.Job{}
	if err := row.Scan(
		&j.ID, &j.Type, &j.TournamentID, &j.RunAt, &j.Status, &j.Attempts, &j.MaxAttempts,
		&j.LastError, &j.LockedAt, &j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return j, nil
}

func (r *postgresJobRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]models.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (r *postgresJobRepository) Enqueue(ctx context.Context, job *models.Job) (uuid.UUID, error) {
	query := `
		INSERT INTO jobs (id, type, tournament_id, run_at, status, attempts, max_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'PENDING', 0, $5, $6, $6)
		ON CONFLICT (tournament_id, type) WHERE status = 'PENDING'
		DO UPDATE SET run_at = LEAST(jobs.run_at, EXCLUDED.run_at), updated_at = EXCLUDED.updated_at
		RETURNING id`

	var id uuid.UUID
	err := r.db.QueryRowContext(ctx, query,
		job.ID, job.Type, job.TournamentID, job.RunAt, job.MaxAttempts, job.CreatedAt,
	).Scan(&id)
	if err != nil {
		if code, _, ok := pqCode(err); ok && code == "23503" {
			return uuid.Nil, ErrTournamentNotFound
		}
		return uuid.Nil, fmt.Errorf("failed to enqueue %s job: %w", job.Type, err)
	}
	return id, nil
}

func (r *postgresJobRepository) Cancel(ctx context.Context, tournamentID uuid.UUID, types []models.JobType, at time.Time) (int, error) {
	strs := make([]string, len(types))
	for i, t := range types {
		strs[i] = string(t)
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'CANCELLED', updated_at = $3 WHERE tournament_id = $1 AND type = ANY($2) AND status = 'PENDING'`,
		tournamentID, pq.Array(strs), at,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel jobs: %w", err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// ClaimDue locks a batch of due jobs; concurrent workers skip rows already claimed.
func (r *postgresJobRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.Job, error) {
	query := `
		WITH due AS (
			SELECT id FROM jobs
			WHERE status = 'PENDING' AND run_at <= $1
			ORDER BY run_at ASC, id ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobs
		SET status = 'RUNNING', attempts = jobs.attempts + 1, locked_at = $1, updated_at = $1
		FROM due
		WHERE jobs.id = due.id
		RETURNING jobs.id, jobs.type, jobs.tournament_id, jobs.run_at, jobs.status, jobs.attempts, jobs.max_attempts,
			jobs.last_error, jobs.locked_at, jobs.created_at, jobs.updated_at`

	return r.list(ctx, query, now, limit)
}

func (r *postgresJobRepository) Complete(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'DONE', locked_at = NULL, updated_at = $2 WHERE id = $1 AND status = 'RUNNING'`, id, at)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return checkAffectedRows(result, ErrJobNotFound)
}

func (r *postgresJobRepository) Retry(ctx context.Context, id uuid.UUID, runAt time.Time, lastErr string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'PENDING', run_at = $2, last_error = $3, locked_at = NULL, updated_at = now()
		 WHERE id = $1 AND status = 'RUNNING'`,
		id, runAt, lastErr,
	)
	if err != nil {
		if code, _, ok := pqCode(err); ok && code == "23505" {
			// A newer PENDING job of the same type already covers this work.
			return r.supersede(ctx, id, lastErr)
		}
		return fmt.Errorf("failed to reschedule job: %w", err)
	}
	return checkAffectedRows(result, ErrJobNotFound)
}

func (r *postgresJobRepository) supersede(ctx context.Context, id uuid.UUID, lastErr string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'DONE', last_error = $2, locked_at = NULL, updated_at = now() WHERE id = $1`,
		id, "superseded: "+lastErr,
	)
	if err != nil {
		return fmt.Errorf("failed to supersede job: %w", err)
	}
	return nil
}

func (r *postgresJobRepository) DeadLetter(ctx context.Context, id uuid.UUID, lastErr string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'DEAD', last_error = $2, locked_at = NULL, updated_at = $3 WHERE id = $1 AND status = 'RUNNING'`,
		id, lastErr, at,
	)
	if err != nil {
		return fmt.Errorf("failed to dead-letter job: %w", err)
	}
	return checkAffectedRows(result, ErrJobNotFound)
}

func (r *postgresJobRepository) Requeue(ctx context.Context, id uuid.UUID, runAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'PENDING', attempts = 0, run_at = $2, locked_at = NULL, updated_at = $2
		 WHERE id = $1 AND status = 'DEAD'`,
		id, runAt,
	)
	if err != nil {
		if code, _, ok := pqCode(err); ok && code == "23505" {
			return ErrJobActive
		}
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	return checkAffectedRows(result, ErrJobNotFound)
}

// ReclaimStale returns RUNNING jobs whose lease expired to PENDING.
// Jobs whose type already has a PENDING sibling are closed instead.
func (r *postgresJobRepository) ReclaimStale(ctx context.Context, lockedBefore time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'PENDING', locked_at = NULL, updated_at = now()
		WHERE status = 'RUNNING' AND locked_at < $1
		  AND NOT EXISTS (
			SELECT 1 FROM jobs p
			WHERE p.tournament_id = jobs.tournament_id AND p.type = jobs.type AND p.status = 'PENDING')`,
		lockedBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale jobs: %w", err)
	}
	reclaimed, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	if _, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'DONE', last_error = 'superseded: lease expired', locked_at = NULL, updated_at = now()
		WHERE status = 'RUNNING' AND locked_at < $1`,
		lockedBefore,
	); err != nil {
		return int(reclaimed), fmt.Errorf("failed to close superseded stale jobs: %w", err)
	}
	return int(reclaimed), nil
}

func (r *postgresJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

func (r *postgresJobRepository) ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = $1 ORDER BY updated_at DESC, id LIMIT $2`, status, limit)
}

func (r *postgresJobRepository) ListByTournament(ctx context.Context, tournamentID uuid.UUID) ([]models.Job, error) {
	return r.list(ctx, `SELECT `+jobColumns+` FROM jobs WHERE tournament_id = $1 ORDER BY created_at, id`, tournamentID)
}
