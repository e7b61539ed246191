package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitals-service/internal/models"
)

func setupTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

func TestSQLStoreFetchSince(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Insert(ctx, "sensor-1",
		models.Sample{
			Timestamp:      now.Add(-10 * time.Minute),
			Values:         map[models.Field]float64{models.FieldHR: 61.5, models.FieldRR: 14},
			SignalStrength: ptr(1500.0),
			BedStatus:      ptr(models.BedIn),
		},
		models.Sample{
			Timestamp: now.Add(-5 * time.Minute),
			Values:    map[models.Field]float64{models.FieldHRV: 40},
		},
		models.Sample{
			Timestamp: now.Add(-2 * time.Hour),
			Values:    map[models.Field]float64{models.FieldHR: 99, models.FieldRR: 20},
		},
	))

	all, err := s.FetchSince(ctx, now.Add(-time.Hour), nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	vitals, err := s.FetchSince(ctx, now.Add(-time.Hour), []models.Field{models.FieldHR, models.FieldRR})
	require.NoError(t, err)
	require.Len(t, vitals, 1)
	got := vitals[0]
	assert.True(t, got.Timestamp.Equal(now.Add(-10*time.Minute)))
	assert.Equal(t, map[models.Field]float64{models.FieldHR: 61.5, models.FieldRR: 14}, got.Values)
	require.NotNil(t, got.SignalStrength)
	assert.Equal(t, 1500.0, *got.SignalStrength)
	require.NotNil(t, got.BedStatus)
	assert.Equal(t, models.BedIn, *got.BedStatus)

	hrv, err := s.FetchSince(ctx, now.Add(-time.Hour), []models.Field{models.FieldHRV})
	require.NoError(t, err)
	require.Len(t, hrv, 1)
	assert.Nil(t, hrv[0].SignalStrength)
	assert.Nil(t, hrv[0].BedStatus)

	_, err = s.FetchSince(ctx, now, []models.Field{"hr; DROP TABLE readings_vital"})
	assert.Error(t, err)
}

func TestSQLStoreLatest(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Insert(ctx, "", models.Sample{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Values:    map[models.Field]float64{models.FieldHR: float64(60 + i)},
		}))
	}

	got, err := s.Latest(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 64.0, got[0].Values[models.FieldHR])
	assert.Equal(t, 62.0, got[2].Values[models.FieldHR])
}

func TestSQLStorePatients(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Exec(ctx, "INSERT INTO patients (id, first_name, last_name) VALUES (?, ?, ?)", 1, "Ada", "Byron"))
	require.NoError(t, s.Exec(ctx, "INSERT INTO patients (id, first_name, last_name) VALUES (?, ?, ?)", 2, "Alan", "Kay"))
	require.NoError(t, s.Exec(ctx, "INSERT INTO sensors (id, patient_id) VALUES (?, ?)", "s-1", 1))

	patients, err := s.Patients(ctx)
	require.NoError(t, err)
	require.Len(t, patients, 2)
	assert.Equal(t, "Ada", patients[0].FirstName)
	require.NotNil(t, patients[0].SensorID)
	assert.Equal(t, "s-1", *patients[0].SensorID)
	assert.Nil(t, patients[1].SensorID)

	p, err := s.Patient(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Kay", p.LastName)

	p, err = s.Patient(ctx, 99)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestSQLStoreSensorReadings(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 17, 2, 0, 0, 0, time.UTC)

	require.NoError(t, s.Insert(ctx, "s-1",
		models.Sample{Timestamp: base, Values: map[models.Field]float64{models.FieldHR: 55}},
		models.Sample{Timestamp: base.Add(time.Hour), Values: map[models.Field]float64{models.FieldHR: 56}},
	))
	require.NoError(t, s.Insert(ctx, "s-2",
		models.Sample{Timestamp: base, Values: map[models.Field]float64{models.FieldHR: 90}},
	))

	got, err := s.SensorReadings(ctx, "s-1", base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 55.0, got[0].Values[models.FieldHR])
}

func TestSQLStoreDiagnostics(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))

	now, err := s.ServerTime(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, now)

	cols, err := s.Columns(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "sensor_id", "ts", "hr", "rr", "hrv", "sv", "str", "rs", "fft", "bed_status"}, cols)

	tables, err := s.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"patients", "readings_vital", "sensors"}, tables)
}

func TestMemoryStore(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	m := NewMemoryStore(
		models.Sample{Timestamp: now, Values: map[models.Field]float64{models.FieldSV: 1}},
		models.Sample{Timestamp: now.Add(-time.Hour), Values: map[models.Field]float64{models.FieldHRV: 2}},
	)
	ctx := context.Background()

	got, err := m.FetchSince(ctx, now.Add(-2*time.Hour), []models.Field{models.FieldHRV})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, m.Fetches())

	latest, err := m.Latest(ctx, 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.True(t, latest[0].Timestamp.Equal(now))

	m.FailWith(assert.AnError)
	_, err = m.FetchSince(ctx, now, nil)
	assert.ErrorIs(t, err, assert.AnError)
	assert.ErrorIs(t, m.Ping(ctx), assert.AnError)
}
