package models

import (
	"encoding/json"
	"time"
)

// Field names a numeric column of the readings table.
type Field string

const (
	FieldHR  Field = "hr"
	FieldRR  Field = "rr"
	FieldHRV Field = "hrv"
	FieldSV  Field = "sv"
	FieldSTR Field = "str"
	FieldRS  Field = "rs"
)

// AllFields lists every numeric field a Sample can carry, in column order.
var AllFields = []Field{FieldHR, FieldRR, FieldHRV, FieldSV, FieldSTR, FieldRS}

type BedStatus int

const (
	BedOut      BedStatus = 0
	BedIn       BedStatus = 1
	BedMovement BedStatus = 2
)

// Sample is one raw sensor reading. A field missing from Values is null.
type Sample struct {
	Timestamp      time.Time
	Values         map[Field]float64
	SignalStrength *float64
	BedStatus      *BedStatus
}

func (s Sample) Value(f Field) (float64, bool) {
	v, ok := s.Values[f]
	return v, ok
}

// BucketStat is the per-bucket result of one aggregation. Means holds the
// (trimmed) mean of each requested field; a missing key means no data.
type BucketStat struct {
	Start          time.Time
	Means          map[Field]float64
	SampleCount    int
	Mode           *BedStatus
	SignalStrength *float64
}

type VitalsRecord struct {
	Timestamp       string   `json:"timestamp"`
	HeartRate       *float64 `json:"heartRate"`
	RespirationRate *float64 `json:"respirationRate"`
	SignalStrength  int      `json:"signalStrength"`
	SignalQuality   string   `json:"signalQuality"`
	BedStatus       *int     `json:"bedStatus"`
	BedStatusText   *string  `json:"bedStatusText"`
	HRReliable      bool     `json:"hrReliable"`
	SampleCount     int      `json:"sampleCount"`
}

// SeriesRecord is one point of a single-metric series. It encodes as
// {"timestamp": ..., "<Name>": value}.
type SeriesRecord struct {
	Time  time.Time
	Name  string
	Value *float64
}

func (r SeriesRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"timestamp": FormatTimestamp(r.Time),
		r.Name:      r.Value,
	})
}

// FormatTimestamp renders t the way every response does: UTC, millisecond
// precision, trailing Z.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

type HRVSVRecord struct {
	Timestamp string   `json:"timestamp"`
	HRV       *float64 `json:"hrv"`
	SV        *float64 `json:"sv"`
}

// LiveRecord is one raw reading as served by the live endpoints. Values are
// keyed by their JSON names and null values are kept.
type LiveRecord struct {
	Time           time.Time
	Values         []NamedValue
	SignalStrength int
	SignalQuality  string
	BedStatus      *int
	BedStatusText  *string
	// ReliableKey names the reliability flag, e.g. "hrReliable".
	ReliableKey string
	Reliable    bool
}

type NamedValue struct {
	Name  string
	Value *float64
}

func (r LiveRecord) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"timestamp":      FormatTimestamp(r.Time),
		"signalStrength": r.SignalStrength,
		"signalQuality":  r.SignalQuality,
		"bedStatus":      r.BedStatus,
		"bedStatusText":  r.BedStatusText,
		r.ReliableKey:    r.Reliable,
	}
	for _, v := range r.Values {
		m[v.Name] = v.Value
	}
	return json.Marshal(m)
}

type Column struct {
	Name string `json:"column_name" db:"column_name"`
}

type Patient struct {
	ID        int64   `db:"patient_id"`
	FirstName string  `db:"first_name"`
	LastName  string  `db:"last_name"`
	SensorID  *string `db:"sensor_id"`
}

type NightSummary struct {
	HeartRate       float64 `json:"heartRate"`
	RespirationRate float64 `json:"respirationRate"`
	OutOfBedMinutes int     `json:"outOfBedMinutes"`
	MovementMinutes int     `json:"movementMinutes"`
}

type CurrentVitals struct {
	HeartRate       float64 `json:"heartRate"`
	RespirationRate float64 `json:"respirationRate"`
	BedStatus       string  `json:"bedStatus"`
}

type PatientOverview struct {
	ID               int          `json:"id"`
	Name             string       `json:"name"`
	HeartRate        float64      `json:"heartRate"`
	RespirationRate  float64      `json:"respirationRate"`
	BedStatus        string       `json:"bedStatus"`
	LastNightAverage NightSummary `json:"lastNightAverage"`
}

type PatientDetail struct {
	PatientID     int64         `json:"patientId"`
	Name          string        `json:"name"`
	SensorID      *string       `json:"sensorId"`
	CurrentVitals CurrentVitals `json:"currentVitals"`
	LastNightData NightSummary  `json:"lastNightData"`
}
