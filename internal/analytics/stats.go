package analytics

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/stemsi/mocktest-backend/internal/model"
)

// ScoreBand buckets attempt scores for filtering and summaries.
type ScoreBand string

const (
	BandHigh   ScoreBand = "high"
	BandMedium ScoreBand = "medium"
	BandLow    ScoreBand = "low"
)

const (
	HighScoreThreshold   = 80.0
	MediumScoreThreshold = 60.0
	recentWindow         = 7 * 24 * time.Hour
)

// Band classifies a 0..100 score.
func Band(score float64) ScoreBand {
	switch {
	case score >= HighScoreThreshold:
		return BandHigh
	case score >= MediumScoreThreshold:
		return BandMedium
	default:
		return BandLow
	}
}

// BandRange returns the half-open score interval [min, max) of a band.
// max is negative for the open-ended high band.
func BandRange(b ScoreBand) (min, max float64, ok bool) {
	switch b {
	case BandHigh:
		return HighScoreThreshold, -1, true
	case BandMedium:
		return MediumScoreThreshold, HighScoreThreshold, true
	case BandLow:
		return 0, MediumScoreThreshold, true
	}
	return 0, 0, false
}

// AttemptStats aggregates a set of submitted attempts.
type AttemptStats struct {
	Count               int             `json:"count"`
	AverageScore        decimal.Decimal `json:"average_score"`
	HighScoreCount      int             `json:"high_score_count"`
	RecentCount         int             `json:"recent_count"`
	AverageMinutesTaken decimal.Decimal `json:"average_minutes_taken"`
}

// Summarize computes stats over attempts. Averages are rounded to one decimal;
// "recent" means submitted within seven days of now.
func Summarize(attempts []model.Attempt, now time.Time) AttemptStats {
	stats := AttemptStats{
		AverageScore:        decimal.Zero,
		AverageMinutesTaken: decimal.Zero,
	}

	scoreSum := decimal.Zero
	minutesSum := decimal.Zero
	timed := 0
	for i := range attempts {
		a := &attempts[i]
		if a.SubmittedAt == nil {
			continue
		}
		stats.Count++
		scoreSum = scoreSum.Add(decimal.NewFromFloat(a.Score))
		if a.Score >= HighScoreThreshold {
			stats.HighScoreCount++
		}
		if now.Sub(*a.SubmittedAt) <= recentWindow {
			stats.RecentCount++
		}
		if d := a.TimeTaken(); d > 0 {
			minutesSum = minutesSum.Add(decimal.NewFromFloat(d.Minutes()))
			timed++
		}
	}

	if stats.Count > 0 {
		stats.AverageScore = scoreSum.Div(decimal.NewFromInt(int64(stats.Count))).Round(1)
	}
	if timed > 0 {
		stats.AverageMinutesTaken = minutesSum.Div(decimal.NewFromInt(int64(timed))).Round(1)
	}
	return stats
}
