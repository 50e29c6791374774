package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TournamentStatus представляет статусы турнира, соответствующие CHECK-ограничению в БД.
type TournamentStatus string

const (
	StatusScheduled  TournamentStatus = "SCHEDULED"
	StatusOpen       TournamentStatus = "OPEN"
	StatusInProgress TournamentStatus = "IN_PROGRESS"
	StatusCompleted  TournamentStatus = "COMPLETED"
	StatusCancelled  TournamentStatus = "CANCELLED"
)

func (s TournamentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s TournamentStatus) IsValid() bool {
	switch s {
	case StatusScheduled, StatusOpen, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

type TournamentMode string

const (
	ModeSync  TournamentMode = "SYNC"
	ModeAsync TournamentMode = "ASYNC"
)

func (m TournamentMode) IsValid() bool {
	return m == ModeSync || m == ModeAsync
}

// ScoreAggregation defines how per-round scores are folded into Entry.Score.
type ScoreAggregation string

const (
	AggregationBest ScoreAggregation = "BEST"
	AggregationSum  ScoreAggregation = "SUM"
)

func (a ScoreAggregation) IsValid() bool {
	return a == AggregationBest || a == AggregationSum
}

type Currency string

const (
	CurrencyETH         Currency = "ETH"
	CurrencyBTC         Currency = "BTC"
	CurrencyBNB         Currency = "BNB"
	CurrencySOL         Currency = "SOL"
	CurrencyXRP         Currency = "XRP"
	CurrencyUSDTEth     Currency = "USDT_ETH"
	CurrencyUSDTTron    Currency = "USDT_TRON"
	CurrencyUSDTBsc     Currency = "USDT_BSC"
	CurrencyUSDCEth     Currency = "USDC_ETH"
	CurrencyUSDCPolygon Currency = "USDC_POLYGON"
	CurrencyUSDCArb     Currency = "USDC_ARB"
	CurrencyUSDCBase    Currency = "USDC_BASE"
)

func (c Currency) IsValid() bool {
	switch c {
	case CurrencyETH, CurrencyBTC, CurrencyBNB, CurrencySOL, CurrencyXRP,
		CurrencyUSDTEth, CurrencyUSDTTron, CurrencyUSDTBsc,
		CurrencyUSDCEth, CurrencyUSDCPolygon, CurrencyUSDCArb, CurrencyUSDCBase:
		return true
	}
	return false
}

// PrizeDistribution maps a final rank (1-based) to the percentage of the prize pool it receives.
type PrizeDistribution map[int]decimal.Decimal

// Ranks returns the configured ranks in ascending order.
func (d PrizeDistribution) Ranks() []int {
	ranks := make([]int, 0, len(d))
	for rank := range d {
		ranks = append(ranks, rank)
	}
	sort.Ints(ranks)
	return ranks
}

func (d PrizeDistribution) Total() decimal.Decimal {
	total := decimal.Zero
	for _, pct := range d {
		total = total.Add(pct)
	}
	return total
}

// Value сериализует распределение в JSONB.
func (d PrizeDistribution) Value() (driver.Value, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d)
}

func (d *PrizeDistribution) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	case nil:
		*d = PrizeDistribution{}
		return nil
	default:
		return fmt.Errorf("unsupported prize distribution type %T", src)
	}
	out := PrizeDistribution{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("failed to decode prize distribution: %w", err)
	}
	*d = out
	return nil
}

var errNoDeadline = errors.New("tournament has no end deadline")

// Tournament представляет турнир с денежным призовым фондом.
type Tournament struct {
	ID                   uuid.UUID         `json:"id"`
	GameID               string            `json:"game_id"`
	Name                 string            `json:"name"`
	Mode                 TournamentMode    `json:"mode"`
	EntryFee             decimal.Decimal   `json:"entry_fee"`
	PrizePool            decimal.Decimal   `json:"prize_pool"`
	Currency             Currency          `json:"currency"`
	MinPlayers           int               `json:"min_players"`
	MaxPlayers           int               `json:"max_players"`
	PrizeDistribution    PrizeDistribution `json:"prize_distribution"`
	ScheduledStart       time.Time         `json:"scheduled_start"`
	ScheduledEnd         *time.Time        `json:"scheduled_end,omitempty"`
	MatchDurationSeconds *int              `json:"match_duration_seconds,omitempty"`
	RoundsCount          int               `json:"rounds_count"`
	ScoreAggregation     ScoreAggregation  `json:"score_aggregation"`
	PlatformFeePercent   decimal.Decimal   `json:"platform_fee_percent"`
	PlatformFeeAmount    *decimal.Decimal  `json:"platform_fee_amount,omitempty"`
	Status               TournamentStatus  `json:"status"`
	CurrentPlayers       int               `json:"current_players"`
	ActualStart          *time.Time        `json:"actual_start,omitempty"`
	ActualEnd            *time.Time        `json:"actual_end,omitempty"`
	CancelReason         *string           `json:"cancel_reason,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// EndDeadline returns when the tournament should complete: the fixed scheduledEnd if set,
// otherwise actualStart + matchDuration once the tournament has started.
func (t *Tournament) EndDeadline() (time.Time, error) {
	if t.ScheduledEnd != nil {
		return *t.ScheduledEnd, nil
	}
	if t.ActualStart != nil && t.MatchDurationSeconds != nil {
		return t.ActualStart.Add(time.Duration(*t.MatchDurationSeconds) * time.Second), nil
	}
	return time.Time{}, errNoDeadline
}

func (t *Tournament) IsFree() bool {
	return t.EntryFee.IsZero()
}

// Clone returns a copy that shares no mutable state with t.
func (t *Tournament) Clone() *Tournament {
	c := *t
	if t.PrizeDistribution != nil {
		c.PrizeDistribution = make(PrizeDistribution, len(t.PrizeDistribution))
		for k, v := range t.PrizeDistribution {
			c.PrizeDistribution[k] = v
		}
	}
	return &c
}
