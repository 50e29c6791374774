package services

import (
	"context"
	"errors"
	"time"

	"github.com/Dosada05/skill-tournaments/models"
	"github.com/Dosada05/skill-tournaments/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Типы событий, рассылаемых подписчикам турнира.
const (
	EventStatusChanged  = "tournament.status_changed"
	EventEntryJoined    = "entry.joined"
	EventEntryLeft      = "entry.left"
	EventEntryConfirmed = "entry.confirmed"
	EventScoreSubmitted = "score.submitted"
	EventSettled        = "tournament.settled"
)

// EventPublisher delivers best-effort notifications after a change is committed.
type EventPublisher interface {
	Publish(tournamentID uuid.UUID, eventType string, payload interface{})
}

// ViewCache is a read-through cache for tournament and leaderboard views.
type ViewCache interface {
	Tournament(ctx context.Context, id uuid.UUID, load func(ctx context.Context) (*models.Tournament, error)) (*models.Tournament, error)
	Leaderboard(ctx context.Context, id uuid.UUID, load func(ctx context.Context) ([]models.LeaderboardRow, error)) ([]models.LeaderboardRow, error)
	Invalidate(ctx context.Context, id uuid.UUID)
}

// Core bundles the collaborators every tournament service needs.
type Core struct {
	Store  repositories.Store
	Cache  ViewCache
	Events EventPublisher
	Logger *zap.Logger
	Now    func() time.Time
}

func (c Core) withDefaults() Core {
	if c.Cache == nil {
		c.Cache = nopCache{}
	}
	if c.Events == nil {
		c.Events = nopPublisher{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// changed invalidates cached views and notifies subscribers. Call only after commit.
func (c Core) changed(ctx context.Context, id uuid.UUID, eventType string, payload interface{}) {
	c.Cache.Invalidate(context.WithoutCancel(ctx), id)
	c.Events.Publish(id, eventType, payload)
}

type nopPublisher struct{}

func (nopPublisher) Publish(uuid.UUID, string, interface{}) {}

type nopCache struct{}

func (nopCache) Tournament(ctx context.Context, id uuid.UUID, load func(ctx context.Context) (*models.Tournament, error)) (*models.Tournament, error) {
	return load(ctx)
}

func (nopCache) Leaderboard(ctx context.Context, id uuid.UUID, load func(ctx context.Context) ([]models.LeaderboardRow, error)) ([]models.LeaderboardRow, error) {
	return load(ctx)
}

func (nopCache) Invalidate(context.Context, uuid.UUID) {}

var allowedTransitions = map[models.TournamentStatus][]models.TournamentStatus{
	models.StatusScheduled:  {models.StatusOpen, models.StatusCancelled},
	models.StatusOpen:       {models.StatusInProgress, models.StatusCancelled},
	models.StatusInProgress: {models.StatusCompleted, models.StatusCancelled},
	models.StatusCompleted:  {},
	models.StatusCancelled:  {},
}

func isValidStatusTransition(current, next models.TournamentStatus) bool {
	for _, allowed := range allowedTransitions[current] {
		if next == allowed {
			return true
		}
	}
	return false
}

func mapTournamentRepoError(err error) error {
	if errors.Is(err, repositories.ErrTournamentNotFound) {
		return ErrTournamentNotFound
	}
	return err
}

func mapEntryRepoError(err error) error {
	switch {
	case errors.Is(err, repositories.ErrEntryNotFound):
		return ErrEntryNotFound
	case errors.Is(err, repositories.ErrEntryConflict):
		return ErrAlreadyEntered
	case errors.Is(err, repositories.ErrTournamentNotFound):
		return ErrTournamentNotFound
	}
	return err
}

func ptr[T any](v T) *T {
	return &v
}
