package services

import (
	"iter"
	"slices"
	"strings"

	"github.com/Dosada05/skill-tournaments/models"
)

// rankedStatuses are the entry statuses that appear on a leaderboard.
var rankedStatuses = []models.EntryStatus{models.EntryConfirmed, models.EntryPlaying, models.EntryCompleted}

// compareStanding orders by score desc, then earlier submission, then entry id.
func compareStanding(a, b *models.Entry) int {
	switch {
	case *a.Score > *b.Score:
		return -1
	case *a.Score < *b.Score:
		return 1
	}
	if c := a.SubmittedAt.Compare(*b.SubmittedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID.String(), b.ID.String())
}

// RankEntries returns the leaderboard of entries. Only scored entries in a ranked status are included.
// The result is a pure function of entries and can be iterated any number of times.
func RankEntries(entries []models.Entry) iter.Seq[models.LeaderboardRow] {
	return func(yield func(models.LeaderboardRow) bool) {
		ranked := make([]*models.Entry, 0, len(entries))
		for i := range entries {
			e := &entries[i]
			if e.Score == nil || e.SubmittedAt == nil || !slices.Contains(rankedStatuses, e.Status) {
				continue
			}
			ranked = append(ranked, e)
		}
		slices.SortStableFunc(ranked, compareStanding)

		for i, e := range ranked {
			row := models.LeaderboardRow{
				Rank:        i + 1,
				EntryID:     e.ID,
				UserID:      e.UserID,
				Score:       *e.Score,
				SubmittedAt: *e.SubmittedAt,
			}
			if !yield(row) {
				return
			}
		}
	}
}
