package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dosada05/skill-tournaments/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type postgresEntryRepository struct {
	db SQLExecutor
}

const entryColumns = `
	id, tournament_id, user_id, entry_amount, entry_currency, entry_tx_hash, status, status_reason,
	score, rounds_played, score_metadata, submitted_at, final_rank, prize_won, prize_tx_hash,
	joined_at, started_at, completed_at`

func scanEntry(row rowScanner) (*models.Entry, error) {
	e := &models.Entry{}
	var metadata []byte
	err := row.Scan(
		&e.ID, &e.TournamentID, &e.UserID, &e.EntryAmount, &e.EntryCurrency, &e.EntryTxHash, &e.Status, &e.StatusReason,
		&e.Score, &e.RoundsPlayed, &metadata, &e.SubmittedAt, &e.FinalRank, &e.PrizeWon, &e.PrizeTxHash,
		&e.JoinedAt, &e.StartedAt, &e.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		e.ScoreMetadata = metadata
	}
	return e, nil
}

func (r *postgresEntryRepository) Create(ctx context.Context, e *models.Entry) error {
	query := `
		INSERT INTO entries (id, tournament_id, user_id, entry_amount, entry_currency, entry_tx_hash, status, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.TournamentID, e.UserID, e.EntryAmount, e.EntryCurrency, e.EntryTxHash, e.Status, e.JoinedAt,
	)
	if err != nil {
		if code, constraint, ok := pqCode(err); ok {
			switch code {
			case "23505": // unique_violation
				if constraint == "entries_tournament_id_user_id_key" {
					return ErrEntryConflict
				}
			case "23503": // foreign_key_violation
				return ErrTournamentNotFound
			}
		}
		return fmt.Errorf("failed to create entry: %w", err)
	}
	return nil
}

func (r *postgresEntryRepository) findOne(ctx context.Context, query string, args ...interface{}) (*models.Entry, error) {
	e, err := scanEntry(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to find entry: %w", err)
	}
	return e, nil
}

func (r *postgresEntryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Entry, error) {
	return r.findOne(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = $1`, id)
}

func (r *postgresEntryRepository) GetByTournamentAndUser(ctx context.Context, tournamentID uuid.UUID, userID int) (*models.Entry, error) {
	return r.findOne(ctx, `SELECT `+entryColumns+` FROM entries WHERE tournament_id = $1 AND user_id = $2`, tournamentID, userID)
}

func (r *postgresEntryRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.Entry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	entries := make([]models.Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry row: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entry rows: %w", err)
	}
	return entries, nil
}

func (r *postgresEntryRepository) ListByTournament(ctx context.Context, tournamentID uuid.UUID, statuses []models.EntryStatus) ([]models.Entry, error) {
	if len(statuses) == 0 {
		return r.list(ctx, `SELECT `+entryColumns+` FROM entries WHERE tournament_id = $1 ORDER BY joined_at ASC, id ASC`, tournamentID)
	}
	return r.list(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE tournament_id = $1 AND status = ANY($2) ORDER BY joined_at ASC, id ASC`,
		tournamentID, pq.Array(entryStatusStrings(statuses)),
	)
}

func (r *postgresEntryRepository) ListByUser(ctx context.Context, userID int) ([]models.Entry, error) {
	return r.list(ctx, `SELECT `+entryColumns+` FROM entries WHERE user_id = $1 ORDER BY joined_at DESC, id ASC`, userID)
}

func (r *postgresEntryRepository) UpdateStatus(ctx context.Context, id uuid.UUID, change EntryChange) (bool, error) {
	query := `
		UPDATE entries
		SET status = $3,
			status_reason = COALESCE($4, status_reason),
			entry_tx_hash = COALESCE(entry_tx_hash, $5),
			started_at = CASE WHEN $3 = 'PLAYING' THEN $6 ELSE started_at END,
			completed_at = CASE WHEN $3 = 'COMPLETED' THEN COALESCE(completed_at, $6) ELSE completed_at END
		WHERE id = $1 AND status = ANY($2)`

	result, err := r.db.ExecContext(ctx, query,
		id, pq.Array(entryStatusStrings(change.From)), string(change.To), change.Reason, change.TxHash, change.At,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update entry status: %w", err)
	}
	return affected(result)
}

func (r *postgresEntryRepository) DeletePending(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM entries WHERE id = $1 AND status = 'PENDING' AND entry_tx_hash IS NULL`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete pending entry: %w", err)
	}
	return affected(result)
}

func (r *postgresEntryRepository) TransitionAll(ctx context.Context, tournamentID uuid.UUID, change EntryChange) ([]models.Entry, error) {
	query := `
		UPDATE entries
		SET status = $3,
			status_reason = COALESCE($4, status_reason),
			started_at = CASE WHEN $3 = 'PLAYING' THEN $5 ELSE started_at END,
			completed_at = CASE WHEN $3 = 'COMPLETED' THEN COALESCE(completed_at, $5) ELSE completed_at END
		WHERE tournament_id = $1 AND status = ANY($2)
		RETURNING ` + entryColumns

	entries, err := r.list(ctx, query,
		tournamentID, pq.Array(entryStatusStrings(change.From)), string(change.To), change.Reason, change.At,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to transition entries to %s: %w", change.To, err)
	}
	sortEntries(entries)
	return entries, nil
}

func (r *postgresEntryRepository) RecordScore(ctx context.Context, id uuid.UUID, u ScoreUpdate) (bool, error) {
	query := `
		UPDATE entries e
		SET score = $3,
			rounds_played = rounds_played + 1,
			submitted_at = $4,
			score_metadata = COALESCE($5, score_metadata),
			status = CASE WHEN $6 THEN 'COMPLETED' ELSE status END,
			completed_at = CASE WHEN $6 OR e.rounds_played + 1 >= t.rounds_count THEN $7 ELSE completed_at END
		FROM tournaments t
		WHERE e.id = $1
		  AND e.tournament_id = t.id
		  AND t.status = 'IN_PROGRESS'
		  AND e.status = 'PLAYING'
		  AND e.rounds_played = $2
		  AND e.rounds_played < t.rounds_count`

	var metadata interface{}
	if len(u.Metadata) > 0 {
		metadata = string(u.Metadata)
	}
	result, err := r.db.ExecContext(ctx, query, id, u.ExpectedRounds, u.Score, u.SubmittedAt, metadata, u.Complete, u.At)
	if err != nil {
		return false, fmt.Errorf("failed to record score: %w", err)
	}
	return affected(result)
}

func (r *postgresEntryRepository) SetResult(ctx context.Context, id uuid.UUID, rank *int, prize decimal.Decimal) (bool, error) {
	query := `
		UPDATE entries
		SET final_rank = $2, prize_won = $3
		WHERE id = $1 AND prize_won IS NULL`

	result, err := r.db.ExecContext(ctx, query, id, rank, prize)
	if err != nil {
		return false, fmt.Errorf("failed to set entry result: %w", err)
	}
	return affected(result)
}

func (r *postgresEntryRepository) SetPrizeTxHash(ctx context.Context, id uuid.UUID, txHash string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE entries SET prize_tx_hash = $2 WHERE id = $1 AND prize_tx_hash IS NULL`, id, txHash)
	if err != nil {
		return fmt.Errorf("failed to set prize tx hash: %w", err)
	}
	_, err = affected(result)
	return err
}

func entryStatusStrings(statuses []models.EntryStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
