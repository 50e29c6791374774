package services

import (
	"context"
	"strings"
	"time"

	"github.com/Dosada05/skill-tournaments/models"
	"github.com/Dosada05/skill-tournaments/repositories"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	MinPlayersLimit = 2
	MaxPlayersLimit = 10000
)

var maxPlatformFee = decimal.NewFromInt(50)

type CreateTournamentInput struct {
	GameID               string                   `json:"game_id"`
	Name                 string                   `json:"name"`
	Mode                 models.TournamentMode    `json:"mode"`
	EntryFee             decimal.Decimal          `json:"entry_fee"`
	PrizePool            decimal.Decimal          `json:"prize_pool"`
	Currency             models.Currency          `json:"currency"`
	MinPlayers           int                      `json:"min_players"`
	MaxPlayers           int                      `json:"max_players"`
	PrizeDistribution    models.PrizeDistribution `json:"prize_distribution"`
	ScheduledStart       time.Time                `json:"scheduled_start"`
	ScheduledEnd         *time.Time               `json:"scheduled_end,omitempty"`
	MatchDurationSeconds *int                     `json:"match_duration_seconds,omitempty"`
	RoundsCount          int                      `json:"rounds_count"`
	ScoreAggregation     models.ScoreAggregation  `json:"score_aggregation"`
	PlatformFeePercent   decimal.Decimal          `json:"platform_fee_percent"`
	// OpenImmediately creates the tournament in OPEN instead of SCHEDULED.
	OpenImmediately bool `json:"open_immediately"`
}

// TournamentService is the catalog side of tournaments: creation and reads.
type TournamentService interface {
	Create(ctx context.Context, in CreateTournamentInput) (*models.Tournament, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Tournament, error)
	List(ctx context.Context, filter repositories.ListTournamentsFilter) ([]models.Tournament, error)
	ListActiveByGame(ctx context.Context, gameID string) ([]models.Tournament, error)
	PlayerStats(ctx context.Context, userID int) ([]models.PlayerStats, error)
}

type tournamentService struct {
	core      Core
	scheduler *Scheduler
}

func NewTournamentService(core Core, scheduler *Scheduler) TournamentService {
	return &tournamentService{core: core.withDefaults(), scheduler: scheduler}
}

func validateTournament(in *CreateTournamentInput, now time.Time) error {
	fields := map[string]string{}

	if strings.TrimSpace(in.Name) == "" {
		fields["name"] = "is required"
	}
	if strings.TrimSpace(in.GameID) == "" {
		fields["game_id"] = "is required"
	}
	if !in.Mode.IsValid() {
		fields["mode"] = "must be SYNC or ASYNC"
	}
	if !in.Currency.IsValid() {
		fields["currency"] = "is not supported"
	}
	if in.EntryFee.IsNegative() {
		fields["entry_fee"] = "must not be negative"
	}
	if in.PrizePool.IsNegative() {
		fields["prize_pool"] = "must not be negative"
	}
	if in.MinPlayers < MinPlayersLimit || in.MinPlayers > in.MaxPlayers || in.MaxPlayers > MaxPlayersLimit {
		fields["min_players"] = "must satisfy 2 <= min_players <= max_players <= 10000"
	}
	if in.RoundsCount < 1 {
		fields["rounds_count"] = "must be at least 1"
	}
	if !in.ScoreAggregation.IsValid() {
		fields["score_aggregation"] = "must be BEST or SUM"
	}
	if in.PlatformFeePercent.IsNegative() || in.PlatformFeePercent.GreaterThan(maxPlatformFee) {
		fields["platform_fee_percent"] = "must be between 0 and 50"
	}

	for rank, pct := range in.PrizeDistribution {
		if rank < 1 || rank > in.MaxPlayers {
			fields["prize_distribution"] = "ranks must be between 1 and max_players"
			break
		}
		if pct.IsNegative() {
			fields["prize_distribution"] = "percentages must not be negative"
			break
		}
	}
	if in.PrizeDistribution.Total().GreaterThan(hundred) {
		fields["prize_distribution"] = "percentages must sum to at most 100"
	}

	if !in.ScheduledStart.After(now) {
		fields["scheduled_start"] = "must be in the future"
	}
	if in.ScheduledEnd != nil && !in.ScheduledEnd.After(in.ScheduledStart) {
		fields["scheduled_end"] = "must be after scheduled_start"
	}
	if in.MatchDurationSeconds != nil && *in.MatchDurationSeconds <= 0 {
		fields["match_duration_seconds"] = "must be positive"
	}
	// Дедлайн завершения обязателен для обоих режимов.
	if in.ScheduledEnd == nil && in.MatchDurationSeconds == nil {
		fields["scheduled_end"] = "scheduled_end or match_duration_seconds is required"
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Create stores the tournament and queues its deadline jobs in the same transaction.
func (s *tournamentService) Create(ctx context.Context, in CreateTournamentInput) (*models.Tournament, error) {
	if in.RoundsCount == 0 {
		in.RoundsCount = 1
	}
	if in.ScoreAggregation == "" {
		in.ScoreAggregation = models.AggregationBest
	}
	now := s.core.Now()
	if err := validateTournament(&in, now); err != nil {
		return nil, err
	}

	status := models.StatusScheduled
	if in.OpenImmediately {
		status = models.StatusOpen
	}
	t := &models.Tournament{
		ID:                   uuid.New(),
		GameID:               strings.TrimSpace(in.GameID),
		Name:                 strings.TrimSpace(in.Name),
		Mode:                 in.Mode,
		EntryFee:             in.EntryFee,
		PrizePool:            in.PrizePool,
		Currency:             in.Currency,
		MinPlayers:           in.MinPlayers,
		MaxPlayers:           in.MaxPlayers,
		PrizeDistribution:    in.PrizeDistribution,
		ScheduledStart:       in.ScheduledStart,
		ScheduledEnd:         in.ScheduledEnd,
		MatchDurationSeconds: in.MatchDurationSeconds,
		RoundsCount:          in.RoundsCount,
		ScoreAggregation:     in.ScoreAggregation,
		PlatformFeePercent:   in.PlatformFeePercent,
		Status:               status,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if t.PrizeDistribution == nil {
		t.PrizeDistribution = models.PrizeDistribution{}
	}

	err := s.core.Store.InTx(ctx, func(tx repositories.Store) error {
		if err := tx.Tournaments().Create(ctx, t); err != nil {
			return err
		}
		return s.scheduler.ScheduleLifecycle(ctx, tx, t)
	})
	if err != nil {
		return nil, err
	}

	s.core.Logger.Info("tournament created",
		zap.String("tournament_id", t.ID.String()),
		zap.String("game_id", t.GameID),
		zap.String("status", string(t.Status)),
		zap.Time("scheduled_start", t.ScheduledStart),
	)
	return t, nil
}

func (s *tournamentService) Get(ctx context.Context, id uuid.UUID) (*models.Tournament, error) {
	t, err := s.core.Cache.Tournament(ctx, id, func(ctx context.Context) (*models.Tournament, error) {
		return s.core.Store.Tournaments().GetByID(ctx, id)
	})
	if err != nil {
		return nil, mapTournamentRepoError(err)
	}
	return t, nil
}

func (s *tournamentService) List(ctx context.Context, filter repositories.ListTournamentsFilter) ([]models.Tournament, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	switch filter.SortBy {
	case "", "scheduled_start", "created_at", "entry_fee", "prize_pool":
	default:
		return nil, &ValidationError{Fields: map[string]string{"sort_by": "must be scheduled_start, created_at, entry_fee or prize_pool"}}
	}
	if filter.Status != nil && !filter.Status.IsValid() {
		return nil, &ValidationError{Fields: map[string]string{"status": "is not a tournament status"}}
	}
	return s.core.Store.Tournaments().List(ctx, filter)
}

// ListActiveByGame returns the game's SCHEDULED and OPEN tournaments, soonest first.
func (s *tournamentService) ListActiveByGame(ctx context.Context, gameID string) ([]models.Tournament, error) {
	if strings.TrimSpace(gameID) == "" {
		return nil, &ValidationError{Fields: map[string]string{"game_id": "is required"}}
	}
	gameID = strings.TrimSpace(gameID)
	return s.core.Store.Tournaments().List(ctx, repositories.ListTournamentsFilter{
		Statuses: []models.TournamentStatus{models.StatusScheduled, models.StatusOpen},
		GameID:   &gameID,
		SortBy:   "scheduled_start",
		Limit:    100,
	})
}

func (s *tournamentService) PlayerStats(ctx context.Context, userID int) ([]models.PlayerStats, error) {
	return s.core.Store.Stats().ListByUser(ctx, userID)
}
