package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicpulse/backend/internal/errs"
)

func day(d int) time.Time {
	return time.Date(2026, 3, d, 10, 30, 0, 0, time.UTC)
}

func TestBuildTimeSeriesFillsGaps(t *testing.T) {
	points := []TimePoint{
		{Timestamp: day(1), Value: 1},
		{Timestamp: day(1), Value: 1},
		{Timestamp: day(3), Value: 1},
	}
	buckets, err := BuildTimeSeries(points, IntervalDaily, AggCount, day(1), day(3))
	require.NoError(t, err)
	require.Len(t, buckets, 3)

	assert.Equal(t, 2.0, buckets[0].Value)
	assert.Equal(t, 0.0, buckets[1].Value)
	assert.Equal(t, 0, buckets[1].Count)
	assert.Equal(t, 1.0, buckets[2].Value)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), buckets[1].Start)
}

func TestBuildTimeSeriesWeeklyStartsMonday(t *testing.T) {
	// 2026-03-04 is a Wednesday; its week starts Monday 2026-03-02.
	points := []TimePoint{{Timestamp: day(4), Value: 1}}
	buckets, err := BuildTimeSeries(points, IntervalWeekly, AggCount, day(2), day(4))
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), buckets[0].Start)
	assert.Equal(t, 1.0, buckets[0].Value)
}

func TestBuildTimeSeriesMonthlyAverage(t *testing.T) {
	points := []TimePoint{
		{Timestamp: day(1), Value: 10},
		{Timestamp: day(15), Value: 30},
		{Timestamp: time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC), Value: 5},
	}
	buckets, err := BuildTimeSeries(points, IntervalMonthly, AggAverage, day(1), time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, 20.0, buckets[0].Value)
	assert.Equal(t, 5.0, buckets[1].Value)
}

func TestBuildTimeSeriesRejectsUnknownInterval(t *testing.T) {
	_, err := BuildTimeSeries(nil, Interval("hourly"), AggCount, day(1), day(2))
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err), "interval errors must be typed validation errors, got %v", err)
}

func TestBuildTimeSeriesRejectsUnknownAggregation(t *testing.T) {
	_, err := BuildTimeSeries(nil, IntervalDaily, Aggregation("median"), day(1), day(2))
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err), "aggregation errors must be typed validation errors, got %v", err)
}

func TestBuildTimeSeriesRejectsInvertedRange(t *testing.T) {
	_, err := BuildTimeSeries(nil, IntervalDaily, AggCount, day(3), day(1))
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
}

func TestBuildTimeSeriesIgnoresOutOfRangePoints(t *testing.T) {
	points := []TimePoint{
		{Timestamp: day(1), Value: 1},
		{Timestamp: day(20), Value: 1},
	}
	buckets, err := BuildTimeSeries(points, IntervalDaily, AggCount, day(1), day(2))
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, 1.0, buckets[0].Value)
	assert.Equal(t, 0.0, buckets[1].Value)
}

func TestSmoothTrendPartialWindows(t *testing.T) {
	assert.Equal(t, []float64{1, 1.5, 2}, SmoothTrend([]float64{1, 2, 3}, 7))
}

func TestSmoothTrendFullWindow(t *testing.T) {
	assert.Equal(t, []float64{0, 1.5, 3, 6}, SmoothTrend([]float64{0, 3, 6, 9}, 3))
}

func TestSmoothTrendDegenerateWindow(t *testing.T) {
	in := []float64{4, 5, 6}
	assert.Equal(t, in, SmoothTrend(in, 1))
	assert.Empty(t, SmoothTrend(nil, 3))
}
