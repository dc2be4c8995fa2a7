// Package analytics computes engagement reports straight from the tail and
// bet tables. Every report reflects the data at request time.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/MikeSquared-Agency/Tailgate/internal/apperr"
	"github.com/MikeSquared-Agency/Tailgate/internal/store"
)

type TimeRange string

const (
	Range24h TimeRange = "24h"
	Range7d  TimeRange = "7d"
	Range30d TimeRange = "30d"
	RangeAll TimeRange = "all"
)

// MilestoneTails is the tail count whose arrival time the report tracks.
const MilestoneTails = 10

// ParseTimeRange accepts the query-string form. Empty means all time.
func ParseTimeRange(s string) (TimeRange, error) {
	switch TimeRange(s) {
	case "":
		return RangeAll, nil
	case Range24h, Range7d, Range30d, RangeAll:
		return TimeRange(s), nil
	}
	return "", apperr.Newf(apperr.KindValidation, "Unknown time range %q", s)
}

// Since returns the lower clicked-at bound for the range, or nil for all time.
func (r TimeRange) Since(now time.Time) *time.Time {
	var d time.Duration
	switch r {
	case Range24h:
		d = 24 * time.Hour
	case Range7d:
		d = 7 * 24 * time.Hour
	case Range30d:
		d = 30 * 24 * time.Hour
	default:
		return nil
	}
	t := now.Add(-d)
	return &t
}

type Windowed struct {
	Last24h int64 `json:"last_24h"`
	Last7d  int64 `json:"last_7d"`
	Last30d int64 `json:"last_30d"`
	AllTime int64 `json:"all_time"`
}

type SportsbookCount struct {
	Sportsbook string `json:"sportsbook"`
	Count      int64  `json:"count"`
}

type LeagueCount struct {
	League string `json:"league"`
	Count  int64  `json:"count"`
}

type BetPerformance struct {
	BetID            uuid.UUID `json:"bet_id"`
	Title            string    `json:"title"`
	InWindowTails    int64     `json:"in_window_tails"`
	OutOfWindowTails int64     `json:"out_of_window_tails"`
	ConversionRate   float64   `json:"conversion_rate"`
}

type Report struct {
	ChallengeID            *uuid.UUID        `json:"challenge_id,omitempty"`
	TimeRange              TimeRange         `json:"time_range"`
	GeneratedAt            time.Time         `json:"generated_at"`
	TotalTails             Windowed          `json:"total_tails"`
	UniqueTailers          Windowed          `json:"unique_tailers"`
	AverageTailsPerBet     float64           `json:"average_tails_per_bet"`
	TailWindowConversion   float64           `json:"tail_window_conversion_rate"`
	TopSportsbooks         []SportsbookCount `json:"top_sportsbooks"`
	TopLeagues             []LeagueCount     `json:"top_leagues"`
	MedianMinutesTo10Tails float64           `json:"median_minutes_to_10_tails"`
	BetPerformance         []BetPerformance  `json:"bet_performance"`
}

var ErrChallengeNotFound = apperr.NotFound("Challenge not found")

type Aggregator struct {
	store  store.Store
	topN   int
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

func NewAggregator(s store.Store, topN int, logger *slog.Logger) *Aggregator {
	if topN <= 0 {
		topN = 5
	}
	return &Aggregator{
		store:  s,
		topN:   topN,
		logger: logger,
		tracer: otel.Tracer("tailgate/analytics"),
		now:    time.Now,
	}
}

// Report aggregates tail activity, optionally for one challenge. Windowed
// counts always cover all four ranges; every other figure is limited to tr.
func (a *Aggregator) Report(ctx context.Context, challengeID *uuid.UUID, tr TimeRange) (*Report, error) {
	ctx, span := a.tracer.Start(ctx, "Aggregator.Report")
	defer span.End()

	if challengeID != nil {
		c, err := a.store.GetChallenge(ctx, *challengeID)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if c == nil {
			return nil, ErrChallengeNotFound
		}
	}

	now := a.now().UTC()
	rep := &Report{ChallengeID: challengeID, TimeRange: tr, GeneratedAt: now}

	windows := []struct {
		r     TimeRange
		total *int64
		uniq  *int64
	}{
		{Range24h, &rep.TotalTails.Last24h, &rep.UniqueTailers.Last24h},
		{Range7d, &rep.TotalTails.Last7d, &rep.UniqueTailers.Last7d},
		{Range30d, &rep.TotalTails.Last30d, &rep.UniqueTailers.Last30d},
		{RangeAll, &rep.TotalTails.AllTime, &rep.UniqueTailers.AllTime},
	}
	for _, w := range windows {
		sum, err := a.store.CountTails(ctx, store.AnalyticsFilter{ChallengeID: challengeID, Since: w.r.Since(now)})
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("count tails %s: %w", w.r, err)
		}
		*w.total = sum.Total
		*w.uniq = sum.UniqueTailers
	}

	filter := store.AnalyticsFilter{ChallengeID: challengeID, Since: tr.Since(now)}

	inRange, err := a.store.CountTails(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count tails in range: %w", err)
	}
	rep.TailWindowConversion = ratio(inRange.Valid, inRange.Total)

	if rep.AverageTailsPerBet, err = a.store.AverageTailsPerBet(ctx, filter); err != nil {
		return nil, fmt.Errorf("average tails per bet: %w", err)
	}

	books, err := a.store.TopSportsbooks(ctx, filter, a.topN)
	if err != nil {
		return nil, fmt.Errorf("top sportsbooks: %w", err)
	}
	rep.TopSportsbooks = make([]SportsbookCount, 0, len(books))
	for _, kc := range books {
		rep.TopSportsbooks = append(rep.TopSportsbooks, SportsbookCount{Sportsbook: kc.Key, Count: kc.Count})
	}

	leagues, err := a.store.TopLeagues(ctx, filter, a.topN)
	if err != nil {
		return nil, fmt.Errorf("top leagues: %w", err)
	}
	rep.TopLeagues = make([]LeagueCount, 0, len(leagues))
	for _, kc := range leagues {
		rep.TopLeagues = append(rep.TopLeagues, LeagueCount{League: kc.Key, Count: kc.Count})
	}

	minutes, err := a.store.MinutesToNthTail(ctx, filter, MilestoneTails)
	if err != nil {
		return nil, fmt.Errorf("minutes to milestone: %w", err)
	}
	rep.MedianMinutesTo10Tails = median(minutes)

	perf, err := a.store.BetPerformance(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("bet performance: %w", err)
	}
	rep.BetPerformance = make([]BetPerformance, 0, len(perf))
	for _, p := range perf {
		rep.BetPerformance = append(rep.BetPerformance, BetPerformance{
			BetID:            p.BetID,
			Title:            p.Title,
			InWindowTails:    p.InWindowTails,
			OutOfWindowTails: p.OutOfWindowTails,
			ConversionRate:   ratio(p.InWindowTails, p.InWindowTails+p.OutOfWindowTails),
		})
	}

	return rep, nil
}

// Snapshot computes the report for all time and appends its headline figures
// to the analytics cache table.
func (a *Aggregator) Snapshot(ctx context.Context, challengeID *uuid.UUID) ([]*store.AnalyticsCacheEntry, error) {
	ctx, span := a.tracer.Start(ctx, "Aggregator.Snapshot")
	defer span.End()

	rep, err := a.Report(ctx, challengeID, RangeAll)
	if err != nil {
		return nil, err
	}

	entry := func(metric string, r TimeRange, v float64) *store.AnalyticsCacheEntry {
		return &store.AnalyticsCacheEntry{
			ChallengeID:  challengeID,
			Metric:       metric,
			TimeRange:    string(r),
			Value:        v,
			CalculatedAt: rep.GeneratedAt,
		}
	}
	entries := []*store.AnalyticsCacheEntry{
		entry("total_tails", Range24h, float64(rep.TotalTails.Last24h)),
		entry("total_tails", Range7d, float64(rep.TotalTails.Last7d)),
		entry("total_tails", Range30d, float64(rep.TotalTails.Last30d)),
		entry("total_tails", RangeAll, float64(rep.TotalTails.AllTime)),
		entry("unique_tailers", Range24h, float64(rep.UniqueTailers.Last24h)),
		entry("unique_tailers", Range7d, float64(rep.UniqueTailers.Last7d)),
		entry("unique_tailers", Range30d, float64(rep.UniqueTailers.Last30d)),
		entry("unique_tailers", RangeAll, float64(rep.UniqueTailers.AllTime)),
		entry("average_tails_per_bet", RangeAll, rep.AverageTailsPerBet),
		entry("tail_window_conversion_rate", RangeAll, rep.TailWindowConversion),
		entry("median_minutes_to_10_tails", RangeAll, rep.MedianMinutesTo10Tails),
	}
	if err := a.store.SaveAnalyticsSnapshot(ctx, entries); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("save snapshot: %w", err)
	}

	a.logger.Info("analytics snapshot saved", "challenge_id", challengeID, "metrics", len(entries))
	return entries, nil
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
