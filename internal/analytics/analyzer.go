package analytics

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"vitals-service/internal/models"
	"vitals-service/internal/ranges"
)

// DefaultFastPathLookback is the window size from which buckets are averaged
// without trimming.
const DefaultFastPathLookback = 30 * 24 * time.Hour

var ErrTrimFraction = errors.New("trim fraction must be in (0, 1)")

// Analyzer turns raw samples into per-bucket statistics. It holds no
// per-request state and is safe for concurrent use.
type Analyzer struct {
	trimmed  trimmedStrategy
	fastPath time.Duration
	now      func() time.Time
}

type Option func(*Analyzer)

// WithClock replaces time.Now as the reference for look-back windows.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// WithFastPathLookback sets the look-back from which the fast mean strategy
// is used.
func WithFastPathLookback(d time.Duration) Option {
	return func(a *Analyzer) {
		if d > 0 {
			a.fastPath = d
		}
	}
}

func NewAnalyzer(trimFraction float64, opts ...Option) (*Analyzer, error) {
	if !(trimFraction > 0 && trimFraction < 1) {
		return nil, fmt.Errorf("%w: got %v", ErrTrimFraction, trimFraction)
	}
	a := &Analyzer{
		trimmed:  trimmedStrategy{fraction: trimFraction},
		fastPath: DefaultFastPathLookback,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Now is the analyzer's reference clock.
func (a *Analyzer) Now() time.Time {
	return a.now()
}

// StrategyFor picks the reduction strategy for a range from its look-back.
func (a *Analyzer) StrategyFor(spec ranges.Spec) Strategy {
	if spec.Lookback >= a.fastPath {
		return fastMeanStrategy{}
	}
	return a.trimmed
}

type bucket struct {
	start    time.Time
	values   map[models.Field][]float64
	count    int
	signal   *float64
	firstAt  time.Time
	sawFirst bool
	statuses map[models.BedStatus]int
}

// Aggregate buckets samples for spec and reduces each bucket according to
// sel. Output is ordered by bucket start. Raw ranges only emit buckets that
// hold at least one accepted sample; fixed ranges emit the full grid with
// empty statistics where there is no data. samples is not modified.
func (a *Analyzer) Aggregate(samples []models.Sample, spec ranges.Spec, sel Selector) []models.BucketStat {
	return a.AggregateAt(a.now(), samples, spec, sel)
}

// AggregateAt is Aggregate with an explicit reference time.
func (a *Analyzer) AggregateAt(now time.Time, samples []models.Sample, spec ranges.Spec, sel Selector) []models.BucketStat {
	cutoff := spec.Cutoff(now)

	wantMode := sel.has(KindMode)
	wantFirst := sel.has(KindFirst)
	meanFields := sel.MeanFields()

	buckets := make(map[int64]*bucket)
	get := func(start time.Time) *bucket {
		key := start.Unix()
		b, ok := buckets[key]
		if !ok {
			b = &bucket{start: start, values: make(map[models.Field][]float64, len(meanFields))}
			buckets[key] = b
		}
		return b
	}

	for _, s := range samples {
		if s.Timestamp.Before(cutoff) {
			continue
		}
		start := spec.BucketStart(s.Timestamp)
		if wantMode && s.BedStatus != nil {
			b := get(start)
			if b.statuses == nil {
				b.statuses = make(map[models.BedStatus]int, 3)
			}
			b.statuses[*s.BedStatus]++
		}
		if !sel.accepts(s) {
			continue
		}
		b := get(start)
		b.count++
		for _, f := range meanFields {
			v, _ := s.Value(f)
			b.values[f] = append(b.values[f], v)
		}
		// Earliest accepted sample wins; ties keep input order.
		if wantFirst && (!b.sawFirst || s.Timestamp.Before(b.firstAt)) {
			b.signal = s.SignalStrength
			b.firstAt = s.Timestamp
			b.sawFirst = true
		}
	}

	strategy := a.StrategyFor(spec)
	reduce := func(start time.Time, b *bucket) models.BucketStat {
		st := models.BucketStat{Start: start, Means: make(map[models.Field]float64, len(meanFields))}
		if b == nil {
			return st
		}
		st.SampleCount = b.count
		st.SignalStrength = b.signal
		for _, f := range meanFields {
			if vs := b.values[f]; len(vs) > 0 {
				st.Means[f] = strategy.Reduce(vs)
			}
		}
		if mode, ok := Mode(b.statuses); ok {
			st.Mode = &mode
		}
		return st
	}

	if grid := spec.Grid(now); grid != nil {
		out := make([]models.BucketStat, len(grid))
		for i, start := range grid {
			out[i] = reduce(start, buckets[start.Unix()])
		}
		return out
	}

	out := make([]models.BucketStat, 0, len(buckets))
	for _, b := range buckets {
		if b.count == 0 {
			continue
		}
		out = append(out, reduce(b.start, b))
	}
	slices.SortFunc(out, func(x, y models.BucketStat) int {
		return x.Start.Compare(y.Start)
	})
	return out
}
