package services

import (
	"reflect"
	"slices"
	"testing"
	"time"

	"github.com/Dosada05/skill-tournaments/models"
	"github.com/google/uuid"
)

func scoredEntry(id string, user int, status models.EntryStatus, score int64, at time.Time) models.Entry {
	return models.Entry{
		ID:          uuid.MustParse(id),
		UserID:      user,
		Status:      status,
		Score:       &score,
		SubmittedAt: &at,
	}
}

func TestRankEntriesOrdering(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []models.Entry{
		scoredEntry("00000000-0000-0000-0000-00000000000c", 1, models.EntryPlaying, 70, t0),
		scoredEntry("00000000-0000-0000-0000-00000000000b", 2, models.EntryPlaying, 90, t0.Add(2*time.Second)),
		scoredEntry("00000000-0000-0000-0000-00000000000a", 3, models.EntryCompleted, 90, t0.Add(2*time.Second)),
		scoredEntry("00000000-0000-0000-0000-00000000000d", 4, models.EntryConfirmed, 90, t0.Add(time.Second)),
		scoredEntry("00000000-0000-0000-0000-00000000000e", 5, models.EntryRefunded, 500, t0),
		{ID: uuid.MustParse("00000000-0000-0000-0000-00000000000f"), UserID: 6, Status: models.EntryPlaying},
	}

	board := slices.Collect(RankEntries(entries))
	// Equal scores: earlier submission first, then the smaller entry id.
	wantUsers := []int{4, 3, 2, 1}
	if len(board) != len(wantUsers) {
		t.Fatalf("expected %d rows, got %d: %+v", len(wantUsers), len(board), board)
	}
	for i, row := range board {
		if row.UserID != wantUsers[i] || row.Rank != i+1 {
			t.Fatalf("row %d: expected user %d rank %d, got %+v", i, wantUsers[i], i+1, row)
		}
	}
}

func TestRankEntriesIsRestartable(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []models.Entry{
		scoredEntry("00000000-0000-0000-0000-000000000001", 1, models.EntryPlaying, 10, t0),
		scoredEntry("00000000-0000-0000-0000-000000000002", 2, models.EntryPlaying, 20, t0),
		scoredEntry("00000000-0000-0000-0000-000000000003", 3, models.EntryPlaying, 30, t0),
	}
	seq := RankEntries(entries)

	first := slices.Collect(seq)
	second := slices.Collect(seq)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("iterating twice must give the same board:\n%+v\n%+v", first, second)
	}

	var top []models.LeaderboardRow
	for row := range seq {
		top = append(top, row)
		if len(top) == 2 {
			break
		}
	}
	if len(top) != 2 || top[0].UserID != 3 || top[1].UserID != 2 {
		t.Fatalf("unexpected prefix: %+v", top)
	}
	if entries[0].UserID != 1 {
		t.Fatalf("ranking must not reorder the input slice")
	}
}

func TestRankEntriesEmpty(t *testing.T) {
	if got := slices.Collect(RankEntries(nil)); len(got) != 0 {
		t.Fatalf("expected empty board, got %+v", got)
	}
}
