package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Dosada05/skill-tournaments/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

type postgresTournamentRepository struct {
	db SQLExecutor
}

const tournamentColumns = `
	id, game_id, name, mode, entry_fee, prize_pool, currency, min_players, max_players,
	prize_distribution, scheduled_start, scheduled_end, match_duration_seconds, rounds_count,
	score_aggregation, platform_fee_percent, platform_fee_amount, status, current_players,
	actual_start, actual_end, cancel_reason, created_at, updated_at`

var tournamentSortColumns = map[string]string{
	"scheduled_start": "scheduled_start",
	"created_at":      "created_at",
	"entry_fee":       "entry_fee",
	"prize_pool":      "prize_pool",
}

func scanTournament(row rowScanner) (*models.Tournament, error) {
	t := &models.Tournament{}
	err := row.Scan(
		&t.ID, &t.GameID, &t.Name, &t.Mode, &t.EntryFee, &t.PrizePool, &t.Currency, &t.MinPlayers, &t.MaxPlayers,
		&t.PrizeDistribution, &t.ScheduledStart, &t.ScheduledEnd, &t.MatchDurationSeconds, &t.RoundsCount,
		&t.ScoreAggregation, &t.PlatformFeePercent, &t.PlatformFeeAmount, &t.Status, &t.CurrentPlayers,
		&t.ActualStart, &t.ActualEnd, &t.CancelReason, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *postgresTournamentRepository) Create(ctx context.Context, t *models.Tournament) error {
	query := `
		INSERT INTO tournaments (
			id, game_id, name, mode, entry_fee, prize_pool, currency, min_players, max_players,
			prize_distribution, scheduled_start, scheduled_end, match_duration_seconds, rounds_count,
			score_aggregation, platform_fee_percent, status, current_players, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $19)`

	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.GameID, t.Name, t.Mode, t.EntryFee, t.PrizePool, t.Currency, t.MinPlayers, t.MaxPlayers,
		t.PrizeDistribution, t.ScheduledStart, t.ScheduledEnd, t.MatchDurationSeconds, t.RoundsCount,
		t.ScoreAggregation, t.PlatformFeePercent, t.Status, t.CurrentPlayers, t.CreatedAt,
	)
	if err != nil {
		if code, constraint, ok := pqCode(err); ok && code == "23514" {
			return fmt.Errorf("tournament violates constraint %s: %w", constraint, err)
		}
		return fmt.Errorf("failed to create tournament: %w", err)
	}
	return nil
}

func (r *postgresTournamentRepository) findOne(ctx context.Context, query string, args ...interface{}) (*models.Tournament, error) {
	t, err := scanTournament(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTournamentNotFound
		}
		return nil, fmt.Errorf("failed to get tournament: %w", err)
	}
	return t, nil
}

func (r *postgresTournamentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Tournament, error) {
	return r.findOne(ctx, `SELECT `+tournamentColumns+` FROM tournaments WHERE id = $1`, id)
}

func (r *postgresTournamentRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Tournament, error) {
	return r.findOne(ctx, `SELECT `+tournamentColumns+` FROM tournaments WHERE id = $1 FOR UPDATE`, id)
}

func (r *postgresTournamentRepository) GetForShare(ctx context.Context, id uuid.UUID) (*models.Tournament, error) {
	return r.findOne(ctx, `SELECT `+tournamentColumns+` FROM tournaments WHERE id = $1 FOR SHARE`, id)
}

func (r *postgresTournamentRepository) List(ctx context.Context, filter ListTournamentsFilter) ([]models.Tournament, error) {
	var qb strings.Builder
	qb.WriteString(`SELECT ` + tournamentColumns + ` FROM tournaments WHERE 1=1`)

	args := []interface{}{}
	argID := 1
	add := func(clause string, value interface{}) {
		qb.WriteString(fmt.Sprintf(clause, argID))
		args = append(args, value)
		argID++
	}

	if filter.Status != nil {
		add(" AND status = $%d", *filter.Status)
	}
	if len(filter.Statuses) > 0 {
		add(" AND status = ANY($%d)", pq.Array(tournamentStatusStrings(filter.Statuses)))
	}
	if filter.Mode != nil {
		add(" AND mode = $%d", *filter.Mode)
	}
	if filter.GameID != nil {
		add(" AND game_id = $%d", *filter.GameID)
	}
	if filter.Currency != nil {
		add(" AND currency = $%d", *filter.Currency)
	}
	if filter.MinEntryFee != nil {
		add(" AND entry_fee >= $%d", *filter.MinEntryFee)
	}
	if filter.MaxEntryFee != nil {
		add(" AND entry_fee <= $%d", *filter.MaxEntryFee)
	}

	column, ok := tournamentSortColumns[filter.SortBy]
	if !ok {
		column = "scheduled_start"
	}
	direction := "ASC"
	if filter.SortDesc {
		direction = "DESC"
	}
	qb.WriteString(fmt.Sprintf(" ORDER BY %s %s, id ASC", column, direction))

	if filter.Limit > 0 {
		add(" LIMIT $%d", filter.Limit)
	}
	if filter.Offset > 0 {
		add(" OFFSET $%d", filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tournaments: %w", err)
	}
	defer rows.Close()

	tournaments := make([]models.Tournament, 0)
	for rows.Next() {
		t, err := scanTournament(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tournament row: %w", err)
		}
		tournaments = append(tournaments, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tournament rows: %w", err)
	}
	return tournaments, nil
}

func (r *postgresTournamentRepository) IncrementPlayers(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE tournaments
		SET current_players = current_players + 1, updated_at = now()
		WHERE id = $1 AND status = 'OPEN' AND current_players < max_players`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		if code, constraint, ok := pqCode(err); ok && code == "23514" && constraint == "chk_tournament_capacity" {
			return false, ErrCapacityViolation
		}
		return false, fmt.Errorf("failed to increment players: %w", err)
	}
	return affected(result)
}

func (r *postgresTournamentRepository) DecrementPlayers(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE tournaments
		SET current_players = current_players - 1, updated_at = now()
		WHERE id = $1 AND status = 'OPEN' AND current_players > 0`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to decrement players: %w", err)
	}
	return affected(result)
}

func (r *postgresTournamentRepository) ReleaseSlots(ctx context.Context, id uuid.UUID, n int) error {
	if n <= 0 {
		return nil
	}
	query := `
		UPDATE tournaments
		SET current_players = current_players - $2, updated_at = now()
		WHERE id = $1 AND current_players >= $2`

	result, err := r.db.ExecContext(ctx, query, id, n)
	if err != nil {
		return fmt.Errorf("failed to release %d slots: %w", n, err)
	}
	return checkAffectedRows(result, ErrCapacityViolation)
}

func (r *postgresTournamentRepository) TransitionStatus(ctx context.Context, id uuid.UUID, change StatusChange) (bool, error) {
	query := `
		UPDATE tournaments
		SET status = $3,
			actual_start = CASE WHEN $3 = 'IN_PROGRESS' THEN $4 ELSE actual_start END,
			actual_end = CASE WHEN $3 IN ('COMPLETED', 'CANCELLED') THEN $4 ELSE actual_end END,
			cancel_reason = COALESCE($5, cancel_reason),
			platform_fee_amount = COALESCE($6, platform_fee_amount),
			updated_at = $4
		WHERE id = $1 AND status = ANY($2)`

	result, err := r.db.ExecContext(ctx, query,
		id, pq.Array(tournamentStatusStrings(change.From)), string(change.To), change.At, change.Reason, change.PlatformFeeAmount,
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition tournament to %s: %w", change.To, err)
	}
	return affected(result)
}

func (r *postgresTournamentRepository) ListOverdue(ctx context.Context, now time.Time) ([]models.OverdueTournament, error) {
	query := `
		SELECT t.id, 'START_TOURNAMENT'
		FROM tournaments t
		WHERE t.status IN ('SCHEDULED', 'OPEN') AND t.scheduled_start <= $1
		  AND NOT EXISTS (
			SELECT 1 FROM jobs j
			WHERE j.tournament_id = t.id AND j.type = 'START_TOURNAMENT' AND j.status IN ('PENDING', 'RUNNING', 'DEAD'))
		UNION ALL
		SELECT t.id, 'END_TOURNAMENT'
		FROM tournaments t
		WHERE t.status = 'IN_PROGRESS'
		  AND COALESCE(t.scheduled_end, t.actual_start + make_interval(secs => t.match_duration_seconds)) <= $1
		  AND NOT EXISTS (
			SELECT 1 FROM jobs j
			WHERE j.tournament_id = t.id AND j.type = 'END_TOURNAMENT' AND j.status IN ('PENDING', 'RUNNING', 'DEAD'))`

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue tournaments: %w", err)
	}
	defer rows.Close()

	var overdue []models.OverdueTournament
	for rows.Next() {
		var o models.OverdueTournament
		if err := rows.Scan(&o.TournamentID, &o.JobType); err != nil {
			return nil, fmt.Errorf("failed to scan overdue tournament: %w", err)
		}
		overdue = append(overdue, o)
	}
	return overdue, rows.Err()
}

func tournamentStatusStrings(statuses []models.TournamentStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
