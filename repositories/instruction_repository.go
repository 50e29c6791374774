package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/Dosada05/skill-tournaments/models"
	"github.com/google/uuid"
)

type postgresInstructionRepository struct {
	db SQLExecutor
}

const instructionColumns = `
	id, tournament_id, entry_id, user_id, kind, amount, currency, rank, reason, status, external_ref, created_at, sent_at`

func (r *postgresInstructionRepository) Insert(ctx context.Context, in *models.PaymentInstruction) (bool, error) {
	query := `
		INSERT INTO payment_instructions (id, tournament_id, entry_id, user_id, kind, amount, currency, rank, reason, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tournament_id, entry_id) DO NOTHING`

	result, err := r.db.ExecContext(ctx, query,
		in.ID, in.TournamentID, in.EntryID, in.UserID, in.Kind, in.Amount, in.Currency, in.Rank, in.Reason, in.Status, in.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert payment instruction %s: %w", in.Key(), err)
	}
	return affected(result)
}

func (r *postgresInstructionRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.PaymentInstruction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment instructions: %w", err)
	}
	defer rows.Close()

	instructions := make([]models.PaymentInstruction, 0)
	for rows.Next() {
		var in models.PaymentInstruction
		if err := rows.Scan(
			&in.ID, &in.TournamentID, &in.EntryID, &in.UserID, &in.Kind, &in.Amount, &in.Currency,
			&in.Rank, &in.Reason, &in.Status, &in.ExternalRef, &in.CreatedAt, &in.SentAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan payment instruction: %w", err)
		}
		instructions = append(instructions, in)
	}
	return instructions, rows.Err()
}

func (r *postgresInstructionRepository) ListByTournament(ctx context.Context, tournamentID uuid.UUID) ([]models.PaymentInstruction, error) {
	return r.list(ctx,
		`SELECT `+instructionColumns+` FROM payment_instructions WHERE tournament_id = $1 ORDER BY kind, rank NULLS LAST, entry_id`,
		tournamentID,
	)
}

func (r *postgresInstructionRepository) ListPending(ctx context.Context, tournamentID uuid.UUID) ([]models.PaymentInstruction, error) {
	return r.list(ctx,
		`SELECT `+instructionColumns+` FROM payment_instructions WHERE tournament_id = $1 AND status = 'PENDING' ORDER BY kind, rank NULLS LAST, entry_id`,
		tournamentID,
	)
}

func (r *postgresInstructionRepository) MarkSent(ctx context.Context, id uuid.UUID, externalRef string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE payment_instructions SET status = 'SENT', external_ref = $2, sent_at = $3 WHERE id = $1 AND status = 'PENDING'`,
		id, externalRef, at,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment instruction sent: %w", err)
	}
	return affected(result)
}

type postgresStatsRepository struct {
	db SQLExecutor
}

func (r *postgresStatsRepository) Increment(ctx context.Context, d StatsDelta) error {
	query := `
		INSERT INTO player_stats (user_id, currency, total_matches, total_wins, total_earnings, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, currency) DO UPDATE
		SET total_matches = player_stats.total_matches + EXCLUDED.total_matches,
			total_wins = player_stats.total_wins + EXCLUDED.total_wins,
			total_earnings = player_stats.total_earnings + EXCLUDED.total_earnings,
			updated_at = EXCLUDED.updated_at`

	if _, err := r.db.ExecContext(ctx, query, d.UserID, d.Currency, d.Matches, d.Wins, d.Earnings, d.At); err != nil {
		return fmt.Errorf("failed to increment player stats for user %d: %w", d.UserID, err)
	}
	return nil
}

func (r *postgresStatsRepository) ListByUser(ctx context.Context, userID int) ([]models.PlayerStats, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, currency, total_matches, total_wins, total_earnings, updated_at FROM player_stats WHERE user_id = $1 ORDER BY currency`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list player stats: %w", err)
	}
	defer rows.Close()

	stats := make([]models.PlayerStats, 0)
	for rows.Next() {
		var s models.PlayerStats
		if err := rows.Scan(&s.UserID, &s.Currency, &s.TotalMatches, &s.TotalWins, &s.TotalEarnings, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan player stats: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
