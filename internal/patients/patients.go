// Package patients summarises each patient's current vitals and last night
// from the readings of their sensor.
package patients

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"vitals-service/internal/analytics"
	"vitals-service/internal/format"
	"vitals-service/internal/models"
)

var ErrNotFound = errors.New("patient not found")

const (
	currentHRWindow = 20 * time.Second
	currentRRWindow = 60 * time.Second

	// Last night runs from 22:00 to 06:00 UTC.
	nightStartHour = 22
	nightEndHour   = 6

	// Readings arrive every few seconds; each one stands for a tenth of a
	// minute of bed status.
	minutesPerReading = "0.1"

	// overviewConcurrency bounds parallel sensor queries in Overview.
	overviewConcurrency = 8

	StatusNoSensor = "No sensor"
	StatusUnknown  = "Unknown"
)

type Store interface {
	Patients(ctx context.Context) ([]models.Patient, error)
	Patient(ctx context.Context, id int64) (*models.Patient, error)
	// SensorReadings returns readings with from <= ts < to, newest first.
	SensorReadings(ctx context.Context, sensorID string, from, to time.Time) ([]models.Sample, error)
}

type Service struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Overview summarises every patient. Ids are positions in the list,
// starting at 1.
func (s *Service) Overview(ctx context.Context) ([]models.PatientOverview, error) {
	list, err := s.store.Patients(ctx)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}

	now := s.now().UTC()
	out := make([]models.PatientOverview, len(list))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(overviewConcurrency)
	for i, p := range list {
		i, p := i, p
		g.Go(func() error {
			current, night, err := s.summarize(gctx, p.SensorID, now)
			if err != nil {
				return fmt.Errorf("patient %d: %w", p.ID, err)
			}
			out[i] = models.PatientOverview{
				ID:               i + 1,
				Name:             fullName(p),
				HeartRate:        current.HeartRate,
				RespirationRate:  current.RespirationRate,
				BedStatus:        current.BedStatus,
				LastNightAverage: night,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) Detail(ctx context.Context, id int64) (*models.PatientDetail, error) {
	p, err := s.store.Patient(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get patient %d: %w", id, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	current, night, err := s.summarize(ctx, p.SensorID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("patient %d: %w", id, err)
	}
	return &models.PatientDetail{
		PatientID:     p.ID,
		Name:          fullName(*p),
		SensorID:      p.SensorID,
		CurrentVitals: current,
		LastNightData: night,
	}, nil
}

func fullName(p models.Patient) string {
	return p.FirstName + " " + p.LastName
}

func (s *Service) summarize(ctx context.Context, sensorID *string, now time.Time) (models.CurrentVitals, models.NightSummary, error) {
	if sensorID == nil {
		return models.CurrentVitals{BedStatus: StatusNoSensor}, models.NightSummary{}, nil
	}

	// The upper bound is exclusive; include readings stamped exactly now.
	recent, err := s.store.SensorReadings(ctx, *sensorID, now.Add(-currentRRWindow), now.Add(time.Nanosecond))
	if err != nil {
		return models.CurrentVitals{}, models.NightSummary{}, err
	}
	from, to := LastNight(now)
	night, err := s.store.SensorReadings(ctx, *sensorID, from, to)
	if err != nil {
		return models.CurrentVitals{}, models.NightSummary{}, err
	}

	s.logger.Debug("patient readings", "sensor", *sensorID, "recent", len(recent), "night", len(night))
	return CurrentVitals(recent, now), SummarizeNight(night), nil
}

// LastNight returns the most recent 22:00-06:00 UTC window that has ended
// by now.
func LastNight(now time.Time) (from, to time.Time) {
	now = now.UTC()
	to = time.Date(now.Year(), now.Month(), now.Day(), nightEndHour, 0, 0, 0, time.UTC)
	if now.Before(to) {
		to = to.AddDate(0, 0, -1)
	}
	from = time.Date(to.Year(), to.Month(), to.Day()-1, nightStartHour, 0, 0, 0, time.UTC)
	return from, to
}

// CurrentVitals derives the live snapshot from readings newest first. Heart
// rate averages the last 20s, respiration the last 60s, both skipping
// out-of-bed and non-positive readings. When the latest reading is out of
// bed both are 0.
func CurrentVitals(readings []models.Sample, now time.Time) models.CurrentVitals {
	if len(readings) == 0 {
		return models.CurrentVitals{BedStatus: StatusUnknown}
	}
	latest := readings[0].BedStatus
	cv := models.CurrentVitals{BedStatus: statusText(latest)}
	if latest != nil && *latest == models.BedOut {
		return cv
	}

	cv.HeartRate = format.Round2(analytics.Mean(recentValues(readings, now, models.FieldHR, currentHRWindow)))
	cv.RespirationRate = format.Round2(analytics.Mean(recentValues(readings, now, models.FieldRR, currentRRWindow)))
	return cv
}

func recentValues(readings []models.Sample, now time.Time, f models.Field, window time.Duration) []float64 {
	var out []float64
	for _, r := range readings {
		if now.Sub(r.Timestamp) > window {
			continue
		}
		if r.BedStatus != nil && *r.BedStatus == models.BedOut {
			continue
		}
		if v, ok := r.Value(f); ok && v > 0 {
			out = append(out, v)
		}
	}
	return out
}

// SummarizeNight reports the medians of positive in-bed heart and
// respiration rates and the estimated minutes out of bed and moving.
func SummarizeNight(readings []models.Sample) models.NightSummary {
	var hr, rr []float64
	var out, moving int64
	for _, r := range readings {
		if r.BedStatus == nil {
			continue
		}
		switch *r.BedStatus {
		case models.BedOut:
			out++
			continue
		case models.BedMovement:
			moving++
		}
		if *r.BedStatus < models.BedIn {
			continue
		}
		if v, ok := r.Value(models.FieldHR); ok && v > 0 {
			hr = append(hr, v)
		}
		if v, ok := r.Value(models.FieldRR); ok && v > 0 {
			rr = append(rr, v)
		}
	}
	return models.NightSummary{
		HeartRate:       format.Round2(analytics.Median(hr)),
		RespirationRate: format.Round2(analytics.Median(rr)),
		OutOfBedMinutes: readingMinutes(out),
		MovementMinutes: readingMinutes(moving),
	}
}

func readingMinutes(n int64) int {
	return int(decimal.NewFromInt(n).Mul(decimal.RequireFromString(minutesPerReading)).Round(0).IntPart())
}

func statusText(status *models.BedStatus) string {
	if status == nil {
		return StatusUnknown
	}
	switch *status {
	case models.BedOut:
		return "Out of bed"
	case models.BedIn:
		return "In bed"
	case models.BedMovement:
		return "Movement"
	default:
		return StatusUnknown
	}
}
