package analytics

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitals-service/internal/models"
	"vitals-service/internal/ranges"
)

var now = time.Date(2026, 10, 17, 12, 30, 30, 0, time.UTC)

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	a, err := NewAnalyzer(0.1, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return a
}

func resolve(t *testing.T, key string) ranges.Spec {
	t.Helper()
	p, err := ranges.Default()
	require.NoError(t, err)
	s, err := p.Resolve(key)
	require.NoError(t, err)
	return s
}

func ptr[T any](v T) *T { return &v }

func vital(ts time.Time, hr, rr float64) models.Sample {
	return models.Sample{
		Timestamp: ts,
		Values:    map[models.Field]float64{models.FieldHR: hr, models.FieldRR: rr},
	}
}

func TestNewAnalyzerRejectsTrimFraction(t *testing.T) {
	for _, f := range []float64{0, -0.1, 1, 1.5} {
		_, err := NewAnalyzer(f)
		assert.ErrorIs(t, err, ErrTrimFraction, "fraction %v", f)
	}
}

func TestStrategySelection(t *testing.T) {
	a := newTestAnalyzer(t)
	assert.Equal(t, "trimmed", a.StrategyFor(resolve(t, "last_week")).Name())
	assert.Equal(t, "fast_mean", a.StrategyFor(resolve(t, "last_month")).Name())
	assert.Equal(t, "fast_mean", a.StrategyFor(resolve(t, "last_year")).Name())
}

func TestAggregateEmptyInput(t *testing.T) {
	a := newTestAnalyzer(t)

	assert.Empty(t, a.Aggregate(nil, resolve(t, "last_hour"), Vitals))

	day := a.Aggregate(nil, resolve(t, "last_day"), Vitals)
	require.Len(t, day, 24)
	for _, st := range day {
		assert.Empty(t, st.Means)
		assert.Zero(t, st.SampleCount)
		assert.Nil(t, st.Mode)
	}
	assert.Len(t, a.Aggregate(nil, resolve(t, "day_by_minute"), HRV), 1440)
	assert.Len(t, a.Aggregate(nil, resolve(t, "last_year"), SV), 12)
}

func TestAggregateBucketsAndTrims(t *testing.T) {
	a := newTestAnalyzer(t)
	spec := resolve(t, "last_hour")
	base := time.Date(2026, 10, 17, 12, 10, 0, 0, time.UTC)

	var samples []models.Sample
	// Ten samples in one minute bucket: hr 1..10, rr 11..20.
	for i := 0; i < 10; i++ {
		samples = append(samples, vital(base.Add(time.Duration(i)*5*time.Second), float64(i+1), float64(i+11)))
	}
	// Two samples in the next bucket, below the trim threshold.
	samples = append(samples,
		vital(base.Add(70*time.Second), 60, 12),
		vital(base.Add(80*time.Second), 100, 14),
	)
	// Outside the window.
	samples = append(samples, vital(now.Add(-2*time.Hour), 500, 500))

	rand.New(rand.NewSource(7)).Shuffle(len(samples), func(i, j int) {
		samples[i], samples[j] = samples[j], samples[i]
	})

	out := a.Aggregate(samples, spec, Vitals)
	require.Len(t, out, 2)

	assert.Equal(t, base, out[0].Start)
	assert.Equal(t, 10, out[0].SampleCount)
	assert.InDelta(t, 5.5, out[0].Means[models.FieldHR], 1e-9)
	assert.InDelta(t, 15.5, out[0].Means[models.FieldRR], 1e-9)

	assert.Equal(t, base.Add(time.Minute), out[1].Start)
	assert.Equal(t, 2, out[1].SampleCount)
	assert.InDelta(t, 80, out[1].Means[models.FieldHR], 1e-9)
	assert.InDelta(t, 13, out[1].Means[models.FieldRR], 1e-9)
}

func TestAggregateJointFieldRequirement(t *testing.T) {
	a := newTestAnalyzer(t)
	ts := now.Add(-10 * time.Minute).Truncate(time.Minute)

	samples := []models.Sample{
		vital(ts, 60, 12),
		{Timestamp: ts.Add(time.Second), Values: map[models.Field]float64{models.FieldHR: 200}},
		{Timestamp: ts.Add(2 * time.Second), Values: map[models.Field]float64{models.FieldRR: 99}},
	}
	out := a.Aggregate(samples, resolve(t, "last_hour"), Vitals)
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].SampleCount)
	assert.Equal(t, 60.0, out[0].Means[models.FieldHR])
	assert.Equal(t, 12.0, out[0].Means[models.FieldRR])
}

func TestAggregateSignalIsFirstSample(t *testing.T) {
	a := newTestAnalyzer(t)
	ts := now.Add(-10 * time.Minute).Truncate(time.Minute)

	late := vital(ts.Add(30*time.Second), 60, 12)
	late.SignalStrength = ptr(2500.0)
	early := vital(ts.Add(time.Second), 61, 13)
	early.SignalStrength = ptr(800.0)

	for _, name := range []string{"last_hour", "last_month"} {
		out := a.Aggregate([]models.Sample{late, early}, resolve(t, name), Vitals)
		require.Len(t, out, 1, name)
		require.NotNil(t, out[0].SignalStrength, name)
		assert.Equal(t, 800.0, *out[0].SignalStrength, name)
	}
}

func TestAggregateBedStatusMode(t *testing.T) {
	a := newTestAnalyzer(t)
	ts := now.Add(-10 * time.Minute).Truncate(time.Minute)

	var samples []models.Sample
	for i, status := range []models.BedStatus{1, 1, 2, 0, 1} {
		s := vital(ts.Add(time.Duration(i)*time.Second), 60, 12)
		s.BedStatus = ptr(status)
		samples = append(samples, s)
	}
	// Status-only sample still counts towards the mode.
	samples = append(samples, models.Sample{Timestamp: ts.Add(10 * time.Second), BedStatus: ptr(models.BedMovement)})

	out := a.Aggregate(samples, resolve(t, "last_hour"), Vitals)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].Mode)
	assert.Equal(t, models.BedIn, *out[0].Mode)
	assert.Equal(t, 5, out[0].SampleCount)
}

func TestAggregateRawRangeSkipsStatusOnlyBuckets(t *testing.T) {
	a := newTestAnalyzer(t)
	ts := now.Add(-10 * time.Minute).Truncate(time.Minute)
	samples := []models.Sample{{Timestamp: ts, BedStatus: ptr(models.BedOut)}}

	assert.Empty(t, a.Aggregate(samples, resolve(t, "last_hour"), Vitals))

	grid := a.Aggregate(samples, resolve(t, "day_by_minute"), Vitals)
	require.Len(t, grid, 1440)
	var withMode int
	for _, st := range grid {
		if st.Mode != nil {
			withMode++
			assert.Equal(t, ts, st.Start)
			assert.Zero(t, st.SampleCount)
			assert.Empty(t, st.Means)
		}
	}
	assert.Equal(t, 1, withMode)
}

func TestAggregateFixedGridLeftJoin(t *testing.T) {
	a := newTestAnalyzer(t)
	spec := resolve(t, "last_day")

	samples := []models.Sample{
		{Timestamp: now.Add(-30 * time.Minute), Values: map[models.Field]float64{models.FieldHRV: 40}},
		{Timestamp: now.Add(-25 * time.Minute), Values: map[models.Field]float64{models.FieldHRV: 50}},
		{Timestamp: now.Add(-5 * time.Hour), Values: map[models.Field]float64{models.FieldHRV: 70}},
		// Inside the look-back but before the first grid bucket.
		{Timestamp: now.Add(-24*time.Hour + time.Minute), Values: map[models.Field]float64{models.FieldHRV: 999}},
	}

	out := a.Aggregate(samples, spec, HRV)
	require.Len(t, out, 24)

	filled := map[time.Time]float64{}
	for i, st := range out {
		if i > 0 {
			assert.True(t, st.Start.After(out[i-1].Start))
		}
		if v, ok := st.Means[models.FieldHRV]; ok {
			filled[st.Start] = v
		}
	}
	assert.Equal(t, map[time.Time]float64{
		time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC): 45,
		time.Date(2026, 10, 17, 7, 0, 0, 0, time.UTC):  70,
	}, filled)
}

func TestAggregateYearGridUsesCalendarMonths(t *testing.T) {
	a := newTestAnalyzer(t)
	samples := []models.Sample{
		{Timestamp: time.Date(2026, 2, 28, 23, 59, 0, 0, time.UTC), Values: map[models.Field]float64{models.FieldSV: 10}},
		{Timestamp: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), Values: map[models.Field]float64{models.FieldSV: 20}},
		{Timestamp: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), Values: map[models.Field]float64{models.FieldSV: 90}},
	}
	out := a.Aggregate(samples, resolve(t, "last_year"), SV)
	require.Len(t, out, 12)
	assert.Equal(t, time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC), out[0].Start)

	byMonth := map[time.Month]float64{}
	for _, st := range out {
		if v, ok := st.Means[models.FieldSV]; ok {
			byMonth[st.Start.Month()] = v
		}
	}
	assert.Equal(t, map[time.Month]float64{time.February: 15, time.March: 90}, byMonth)
}

func TestAggregateStrategiesShareShape(t *testing.T) {
	a := newTestAnalyzer(t)
	week := resolve(t, "last_week")
	month := resolve(t, "last_month")
	// Same bucket width for both so the fixtures land in identical buckets.
	month.BucketWidth = week.BucketWidth

	var samples []models.Sample
	start := now.Add(-3 * time.Hour)
	for i := 0; i < 200; i++ {
		samples = append(samples, vital(start.Add(time.Duration(i)*37*time.Second), float64(50+i%20), 14))
	}

	trimmed := a.Aggregate(samples, week, Vitals)
	fast := a.Aggregate(samples, month, Vitals)
	require.Equal(t, len(trimmed), len(fast))
	for i := range trimmed {
		assert.Equal(t, trimmed[i].Start, fast[i].Start)
		assert.Equal(t, trimmed[i].SampleCount, fast[i].SampleCount)
		assert.ElementsMatch(t, keys(trimmed[i].Means), keys(fast[i].Means))
	}
}

func TestAggregateStartsStrictlyIncrease(t *testing.T) {
	a := newTestAnalyzer(t)
	r := rand.New(rand.NewSource(42))
	for _, key := range []string{"last_minute", "last_hour", "last_week", "last_month"} {
		spec := resolve(t, key)
		var samples []models.Sample
		for i := 0; i < 500; i++ {
			off := time.Duration(r.Int63n(int64(spec.Lookback)))
			samples = append(samples, vital(now.Add(-off), r.Float64()*100, r.Float64()*30))
		}
		out := a.Aggregate(samples, spec, Vitals)
		total := 0
		for i, st := range out {
			total += st.SampleCount
			if i > 0 {
				assert.True(t, st.Start.After(out[i-1].Start), key)
			}
		}
		assert.Equal(t, 500, total, key)
	}
}

func TestAggregateDoesNotMutateInput(t *testing.T) {
	a := newTestAnalyzer(t)
	ts := now.Add(-time.Minute)
	samples := []models.Sample{vital(ts, 3, 1), vital(ts.Add(-time.Second), 1, 1), vital(ts.Add(-2*time.Second), 2, 1)}
	before := append([]models.Sample(nil), samples...)
	a.Aggregate(samples, resolve(t, "last_hour"), Vitals)
	assert.Equal(t, before, samples)
}

func keys(m map[models.Field]float64) []models.Field {
	out := make([]models.Field, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestSelectorRequired(t *testing.T) {
	assert.Nil(t, Vitals.Required())
	assert.Equal(t, []models.Field{models.FieldHRV}, HRV.Required())
	assert.Equal(t, []models.Field{models.FieldHR, models.FieldRR}, Vitals.MeanFields())
}

func TestAggregateSignalEarliestInUnsortedInput(t *testing.T) {
	a := newTestAnalyzer(t)
	ts := now.Add(-3 * time.Hour).Truncate(2 * time.Hour)

	var samples []models.Sample
	for i := 10; i >= 1; i-- {
		s := vital(ts.Add(time.Duration(i)*time.Minute), 60, 12)
		s.SignalStrength = ptr(float64(i * 100))
		samples = append(samples, s)
	}
	tie := vital(ts.Add(time.Minute), 60, 12)
	tie.SignalStrength = ptr(9999.0)
	samples = append(samples, tie)
	rand.New(rand.NewSource(7)).Shuffle(len(samples)-1, func(i, j int) {
		samples[i], samples[j] = samples[j], samples[i]
	})

	out := a.Aggregate(samples, resolve(t, "last_month"), Vitals)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].SignalStrength)
	assert.Equal(t, 100.0, *out[0].SignalStrength)
	assert.Equal(t, 11, out[0].SampleCount)
}
