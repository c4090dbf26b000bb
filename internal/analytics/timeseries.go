package analytics

import (
	"fmt"
	"time"

	"github.com/civicpulse/backend/internal/errs"
)

type Interval string

const (
	IntervalDaily   Interval = "daily"
	IntervalWeekly  Interval = "weekly"
	IntervalMonthly Interval = "monthly"
)

type Aggregation string

const (
	AggCount   Aggregation = "count"
	AggSum     Aggregation = "sum"
	AggAverage Aggregation = "average"
)

type TimePoint struct {
	Timestamp time.Time
	Value     float64
}

type Bucket struct {
	Start time.Time `json:"start"`
	Value float64   `json:"value"`
	Count int       `json:"count"`
}

// BuildTimeSeries buckets raw points into fixed intervals over [from, to].
// The result is contiguous and gap-free: buckets with no data are present
// with a zero value, ordered by interval start. Weekly buckets start on
// Monday, all boundaries in UTC.
func BuildTimeSeries(points []TimePoint, interval Interval, agg Aggregation, from, to time.Time) ([]Bucket, error) {
	switch interval {
	case IntervalDaily, IntervalWeekly, IntervalMonthly:
	default:
		return nil, errs.Validation("interval", fmt.Sprintf("%q outside enumeration", interval))
	}
	switch agg {
	case AggCount, AggSum, AggAverage:
	default:
		return nil, errs.Validation("aggregation", fmt.Sprintf("%q outside enumeration", agg))
	}
	if to.Before(from) {
		return nil, errs.Validation("range", "end before start")
	}

	type acc struct {
		sum   float64
		count int
	}
	byStart := map[time.Time]*acc{}
	for _, p := range points {
		if p.Timestamp.Before(from) || p.Timestamp.After(to) {
			continue
		}
		start := bucketStart(p.Timestamp, interval)
		a, ok := byStart[start]
		if !ok {
			a = &acc{}
			byStart[start] = a
		}
		a.sum += p.Value
		a.count++
	}

	var out []Bucket
	for start := bucketStart(from, interval); !start.After(to); start = nextBucket(start, interval) {
		b := Bucket{Start: start}
		if a, ok := byStart[start]; ok {
			b.Count = a.count
			switch agg {
			case AggCount:
				b.Value = float64(a.count)
			case AggSum:
				b.Value = a.sum
			case AggAverage:
				b.Value = a.sum / float64(a.count)
			}
		}
		out = append(out, b)
	}
	return out, nil
}

func bucketStart(t time.Time, interval Interval) time.Time {
	t = t.UTC()
	switch interval {
	case IntervalWeekly:
		// Weekday is Sunday-based; shift so weeks start Monday.
		offset := (int(t.Weekday()) + 6) % 7
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -offset)
	case IntervalMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}

func nextBucket(start time.Time, interval Interval) time.Time {
	switch interval {
	case IntervalWeekly:
		return start.AddDate(0, 0, 7)
	case IntervalMonthly:
		return start.AddDate(0, 1, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}

// SmoothTrend applies a trailing moving average of the given window. Early
// points use a partial window over what is available, so output length
// always equals input length.
func SmoothTrend(values []float64, window int) []float64 {
	if window <= 1 || len(values) == 0 {
		return append([]float64(nil), values...)
	}
	smoothed := make([]float64, len(values))
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		n := i + 1
		if n > window {
			n = window
		}
		smoothed[i] = sum / float64(n)
	}
	return smoothed
}
