// Package service answers aggregation and live-reading requests. It owns the
// response cache policy: a hit never touches the store and a failed fetch
// never writes to the cache.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"vitals-service/internal/analytics"
	"vitals-service/internal/format"
	"vitals-service/internal/models"
	"vitals-service/internal/ranges"
)

var (
	// ErrUpstream wraps every failure of the reading store.
	ErrUpstream      = errors.New("reading store unavailable")
	ErrUnknownMetric = errors.New("unknown metric")
)

// SampleStore is the read side of the readings database.
type SampleStore interface {
	Ping(ctx context.Context) error
	FetchSince(ctx context.Context, cutoff time.Time, required []models.Field) ([]models.Sample, error)
	Latest(ctx context.Context, limit int) ([]models.Sample, error)
}

// ResponseCache holds encoded responses. Both cache.TTLCache[[]byte] and
// cache.RedisClient satisfy it.
type ResponseCache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
	Clear()
}

// Result is an encoded aggregation response.
type Result struct {
	Body   []byte
	Cached bool
}

type metric struct {
	selectors []analytics.Selector
	render    func(stats [][]models.BucketStat) any
}

func series(name string, sel analytics.Selector, field models.Field) metric {
	return metric{
		selectors: []analytics.Selector{sel},
		render: func(stats [][]models.BucketStat) any {
			return format.Series(name, field, stats[0])
		},
	}
}

var metrics = map[string]metric{
	"vitals": {
		selectors: []analytics.Selector{analytics.Vitals},
		render: func(stats [][]models.BucketStat) any {
			return format.Vitals(stats[0])
		},
	},
	"hrv": series("hrv", analytics.HRV, models.FieldHRV),
	"sv":  series("sv", analytics.SV, models.FieldSV),
	"str": series("str", analytics.STR, models.FieldSTR),
	"rs":  series("rs", analytics.RS, models.FieldRS),
	"hrv_sv": {
		selectors: []analytics.Selector{analytics.HRV, analytics.SV},
		render: func(stats [][]models.BucketStat) any {
			return format.MergeHRVSV(
				format.Series("hrv", models.FieldHRV, stats[0]),
				format.Series("sv", models.FieldSV, stats[1]),
			)
		},
	},
}

// Metrics lists the metric names GetAggregation accepts.
func Metrics() []string {
	out := make([]string, 0, len(metrics))
	for name := range metrics {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

type liveMetric struct {
	fields      []format.LiveField
	reliableKey string
}

var liveMetrics = map[string]liveMetric{
	"vitals": {
		fields: []format.LiveField{
			{Field: models.FieldHR, Name: "heartRate"},
			{Field: models.FieldRR, Name: "respirationRate"},
		},
		reliableKey: "hrReliable",
	},
	"hrv": {fields: []format.LiveField{{Field: models.FieldHRV, Name: "hrv"}}, reliableKey: "hrvReliable"},
	"sv":  {fields: []format.LiveField{{Field: models.FieldSV, Name: "sv"}}, reliableKey: "svReliable"},
}

type Service struct {
	store    SampleStore
	cache    ResponseCache
	policy   *ranges.Policy
	analyzer *analytics.Analyzer
	ttl      func(rangeKey string) time.Duration
	logger   *slog.Logger
}

type Option func(*Service)

// WithTTL sets how long responses for each range stay cached. The default
// caches every range for one minute.
func WithTTL(ttl func(rangeKey string) time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func New(store SampleStore, cache ResponseCache, policy *ranges.Policy, analyzer *analytics.Analyzer, opts ...Option) *Service {
	s := &Service{
		store:    store,
		cache:    cache,
		policy:   policy,
		analyzer: analyzer,
		ttl:      func(string) time.Duration { return time.Minute },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy exposes the range table, e.g. to list valid keys.
func (s *Service) Policy() *ranges.Policy {
	return s.policy
}

func cacheKey(metric, rangeKey string) string {
	return metric + ":" + rangeKey
}

// GetAggregation returns the encoded aggregation of metric over rangeKey,
// served from the cache while fresh.
func (s *Service) GetAggregation(ctx context.Context, metricName, rangeKey string) (Result, error) {
	m, ok := metrics[metricName]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownMetric, metricName)
	}
	spec, err := s.policy.Resolve(rangeKey)
	if err != nil {
		return Result{}, err
	}

	key := cacheKey(metricName, spec.Key)
	if body, ok := s.cache.Get(key); ok {
		cacheLookups.WithLabelValues(metricName, "hit").Inc()
		return Result{Body: body, Cached: true}, nil
	}
	cacheLookups.WithLabelValues(metricName, "miss").Inc()

	start := time.Now()
	now := s.analyzer.Now()
	cutoff := spec.Cutoff(now)

	fetched := make([][]models.Sample, len(m.selectors))
	g, gctx := errgroup.WithContext(ctx)
	for i, sel := range m.selectors {
		i, sel := i, sel
		g.Go(func() error {
			samples, err := s.store.FetchSince(gctx, cutoff, sel.Required())
			if err != nil {
				return err
			}
			fetched[i] = samples
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		upstreamFailures.Inc()
		s.logger.Error("failed to fetch samples", "metric", metricName, "range", spec.Key, "error", err)
		return Result{}, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	stats := make([][]models.BucketStat, len(m.selectors))
	for i, sel := range m.selectors {
		stats[i] = s.analyzer.AggregateAt(now, fetched[i], spec, sel)
		samplesProcessed.Add(float64(len(fetched[i])))
	}

	body, err := json.Marshal(m.render(stats))
	if err != nil {
		return Result{}, fmt.Errorf("encode %s: %w", metricName, err)
	}

	strategy := s.analyzer.StrategyFor(spec).Name()
	aggregationDuration.WithLabelValues(metricName, strategy).Observe(time.Since(start).Seconds())
	s.logger.Debug("aggregated",
		"metric", metricName,
		"range", spec.Key,
		"strategy", strategy,
		"samples", len(fetched[0]),
		"buckets", len(stats[0]),
	)

	s.cache.Set(key, body, s.ttl(spec.Key))
	return Result{Body: body}, nil
}

// Live returns the newest limit readings for metric, oldest first.
func (s *Service) Live(ctx context.Context, metricName string, limit int) ([]models.LiveRecord, error) {
	m, ok := liveMetrics[metricName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, metricName)
	}
	samples, err := s.store.Latest(ctx, limit)
	if err != nil {
		upstreamFailures.Inc()
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	return format.Live(samples, m.fields, m.reliableKey), nil
}

// Ping checks the reading store.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	return nil
}

// ClearCache drops every cached response.
func (s *Service) ClearCache() {
	s.cache.Clear()
	s.logger.Info("response cache cleared")
}
