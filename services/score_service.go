package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/Dosada05/skill-tournaments/metrics"
	"github.com/Dosada05/skill-tournaments/models"
	"github.com/Dosada05/skill-tournaments/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type SubmitScoreInput struct {
	Score     int64           `json:"score"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Signature string          `json:"signature,omitempty"`
}

type ScoreService interface {
	SubmitScore(ctx context.Context, tournamentID uuid.UUID, userID int, in SubmitScoreInput) (*models.Entry, error)
	GetLeaderboard(ctx context.Context, tournamentID uuid.UUID) ([]models.LeaderboardRow, error)
}

type scoreService struct {
	core      Core
	scheduler *Scheduler
	attestor  *Attestor
}

func NewScoreService(core Core, scheduler *Scheduler, attestor *Attestor) ScoreService {
	return &scoreService{core: core.withDefaults(), scheduler: scheduler, attestor: attestor}
}

func scoreOutcome(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, ErrInvalidScore), errors.Is(err, ErrInvalidSignature), errors.Is(err, ErrValidationFailed):
		return "invalid"
	case errors.Is(err, ErrConcurrentSubmission):
		return "conflict"
	case errors.Is(err, ErrTournamentNotInProgress), errors.Is(err, ErrEntryNotPlaying), errors.Is(err, ErrNoRoundsRemaining):
		return "rejected"
	}
	return "error"
}

// aggregate folds one round into the entry's running score and returns the new score and its submission time.
func aggregate(policy models.ScoreAggregation, e *models.Entry, score int64, now time.Time) (int64, time.Time, error) {
	if e.Score == nil || e.SubmittedAt == nil {
		return score, now, nil
	}
	if policy == models.AggregationSum {
		if *e.Score > math.MaxInt64-score {
			return 0, now, ErrInvalidScore
		}
		return *e.Score + score, now, nil
	}
	if score > *e.Score {
		return score, now, nil
	}
	return *e.Score, *e.SubmittedAt, nil
}

func (s *scoreService) SubmitScore(ctx context.Context, tournamentID uuid.UUID, userID int, in SubmitScoreInput) (entry *models.Entry, err error) {
	defer func() {
		metrics.ScoreSubmissions.WithLabelValues(scoreOutcome(err)).Inc()
	}()

	if in.Score < 0 {
		return nil, ErrInvalidScore
	}
	if len(in.Metadata) > 0 && !json.Valid(in.Metadata) {
		return nil, &ValidationError{Fields: map[string]string{"metadata": "must be valid JSON"}}
	}
	if err := s.attestor.Verify(tournamentID, userID, in.Score, in.Signature); err != nil {
		return nil, err
	}

	t, err := s.core.Store.Tournaments().GetByID(ctx, tournamentID)
	if err != nil {
		return nil, mapTournamentRepoError(err)
	}
	if t.Status != models.StatusInProgress {
		return nil, ErrTournamentNotInProgress
	}
	e, err := s.core.Store.Entries().GetByTournamentAndUser(ctx, tournamentID, userID)
	if err != nil {
		return nil, mapEntryRepoError(err)
	}
	if e.RoundsPlayed >= t.RoundsCount {
		return nil, ErrNoRoundsRemaining
	}
	if e.Status != models.EntryPlaying {
		return nil, ErrEntryNotPlaying
	}

	now := s.core.Now()
	score, submittedAt, err := aggregate(t.ScoreAggregation, e, in.Score, now)
	if err != nil {
		return nil, err
	}
	lastRound := e.RoundsPlayed+1 == t.RoundsCount
	syncFinal := lastRound && t.Mode == models.ModeSync

	err = s.core.Store.InTx(ctx, func(tx repositories.Store) error {
		// A shared lock keeps End from snapshotting the board between the status check and the write.
		// Final SYNC rounds lock exclusively so the last one always sees every other entry finished.
		lock := tx.Tournaments().GetForShare
		if syncFinal {
			lock = tx.Tournaments().GetForUpdate
		}
		locked, err := lock(ctx, tournamentID)
		if err != nil {
			return mapTournamentRepoError(err)
		}
		if locked.Status != models.StatusInProgress {
			return ErrTournamentNotInProgress
		}
		ok, err := tx.Entries().RecordScore(ctx, e.ID, repositories.ScoreUpdate{
			ExpectedRounds: e.RoundsPlayed,
			Score:          score,
			SubmittedAt:    submittedAt,
			Metadata:       in.Metadata,
			Complete:       lastRound && t.Mode == models.ModeAsync,
			At:             now,
		})
		if err != nil {
			return fmt.Errorf("failed to record score: %w", err)
		}
		if !ok {
			return s.classifyRejectedScore(ctx, tx, tournamentID, e.ID)
		}
		if syncFinal {
			return s.completeIfAllFinished(ctx, tx, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	entry, err = s.core.Store.Entries().GetByID(ctx, e.ID)
	if err != nil {
		return nil, mapEntryRepoError(err)
	}
	s.core.Logger.Debug("score accepted",
		zap.String("tournament_id", tournamentID.String()),
		zap.Int("user_id", userID),
		zap.Int64("score", in.Score),
		zap.Int("round", entry.RoundsPlayed),
	)
	s.core.changed(ctx, tournamentID, EventScoreSubmitted, map[string]interface{}{
		"entry_id": entry.ID, "user_id": userID, "score": entry.Score, "rounds_played": entry.RoundsPlayed,
	})
	return entry, nil
}

// classifyRejectedScore explains why the conditional score write matched no row.
func (s *scoreService) classifyRejectedScore(ctx context.Context, tx repositories.Store, tournamentID, entryID uuid.UUID) error {
	t, err := tx.Tournaments().GetByID(ctx, tournamentID)
	if err != nil {
		return mapTournamentRepoError(err)
	}
	if t.Status != models.StatusInProgress {
		return ErrTournamentNotInProgress
	}
	e, err := tx.Entries().GetByID(ctx, entryID)
	if err != nil {
		return mapEntryRepoError(err)
	}
	if e.RoundsPlayed >= t.RoundsCount {
		return ErrNoRoundsRemaining
	}
	if e.Status != models.EntryPlaying {
		return ErrEntryNotPlaying
	}
	return ErrConcurrentSubmission
}

// completeIfAllFinished pulls the end job of a SYNC tournament forward once every player used all rounds.
func (s *scoreService) completeIfAllFinished(ctx context.Context, tx repositories.Store, t *models.Tournament) error {
	playing, err := tx.Entries().ListByTournament(ctx, t.ID, []models.EntryStatus{models.EntryPlaying})
	if err != nil {
		return err
	}
	if slices.ContainsFunc(playing, func(e models.Entry) bool { return e.RoundsPlayed < t.RoundsCount }) {
		return nil
	}
	_, err = s.scheduler.Enqueue(ctx, tx, models.JobEndTournament, t.ID, s.core.Now())
	return err
}

func (s *scoreService) GetLeaderboard(ctx context.Context, tournamentID uuid.UUID) ([]models.LeaderboardRow, error) {
	if _, err := s.core.Store.Tournaments().GetByID(ctx, tournamentID); err != nil {
		return nil, mapTournamentRepoError(err)
	}
	return s.core.Cache.Leaderboard(ctx, tournamentID, func(ctx context.Context) ([]models.LeaderboardRow, error) {
		entries, err := s.core.Store.Entries().ListByTournament(ctx, tournamentID, rankedStatuses)
		if err != nil {
			return nil, err
		}
		board := slices.Collect(RankEntries(entries))
		if board == nil {
			board = []models.LeaderboardRow{}
		}
		return board, nil
	})
}
