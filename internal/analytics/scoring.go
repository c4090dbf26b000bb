package analytics

import (
	"math"
	"sort"

	"github.com/civicpulse/backend/internal/models"
)

// MetricOverall is the metric type of the combined compliance+speed score.
const MetricOverall = "overall"

// Score weights are fixed policy: compliance counts roughly 2.3x as much
// as resolution speed.
const (
	complianceWeight = 70.0
	speedWeight      = 0.3
)

// PerformanceScore combines SLA compliance rate ([0,1]) and average
// resolution hours into a single score, rounded to 2 decimal places.
func PerformanceScore(complianceRate, avgResolutionHours float64) float64 {
	score := complianceRate*complianceWeight + math.Min(100, 100-avgResolutionHours)*speedWeight
	return round(score, 2)
}

// PercentileRank is the share of scores at or below the given score,
// rounded to 1 decimal place. The comparison is inclusive so tied scores
// share the same percentile. An empty population yields 50.0.
func PercentileRank(score float64, allScores []float64) float64 {
	if len(allScores) == 0 {
		return 50.0
	}
	rank := 0
	for _, s := range allScores {
		if s <= score {
			rank++
		}
	}
	return round(float64(rank)/float64(len(allScores))*100, 1)
}

// RankedEntry is one leaderboard row.
type RankedEntry struct {
	EntityID   int64   `json:"entity_id"`
	Name       string  `json:"name"`
	Score      float64 `json:"score"`
	Rank       int     `json:"rank"`
	Percentile float64 `json:"percentile"`
	Grade      string  `json:"grade"`
}

// RankScores orders entries descending by score; ties break by ascending
// entity id so the order is total and reproducible. entityID selects the
// ranked identity (tenant or area) from each entry.
func RankScores(entries []models.ScoreEntry, entityID func(models.ScoreEntry) int64, names map[int64]string) []RankedEntry {
	sorted := append([]models.ScoreEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Score == sorted[j].Score {
			return entityID(sorted[i]) < entityID(sorted[j])
		}
		return sorted[i].Score > sorted[j].Score
	})

	allScores := make([]float64, len(sorted))
	for i, e := range sorted {
		allScores[i] = e.Score
	}

	out := make([]RankedEntry, len(sorted))
	for i, e := range sorted {
		id := entityID(e)
		out[i] = RankedEntry{
			EntityID:   id,
			Name:       names[id],
			Score:      e.Score,
			Rank:       i + 1,
			Percentile: PercentileRank(e.Score, allScores),
			Grade:      e.LetterGrade(),
		}
	}
	return out
}

func round(v float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(v*factor) / factor
}
